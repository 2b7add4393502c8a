package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/track17/backend/internal/domain/credential"
	"github.com/GriffinCanCode/track17/backend/internal/domain/tracking"
	"github.com/GriffinCanCode/track17/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/track17/backend/internal/infrastructure/logging"
	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu      sync.Mutex
	cfg     *config.Config
	carrier tracking.Carrier
	closed  bool
}

func (f *fakeBackend) TrackBatch(_ context.Context, numbers []string, carrier tracking.Carrier) []tracking.BatchResult {
	f.mu.Lock()
	f.carrier = carrier
	f.mu.Unlock()

	out := make([]tracking.BatchResult, len(numbers))
	for i, n := range numbers {
		out[i].TrackingNumber = n
		if strings.HasPrefix(n, "BAD") {
			out[i].Err = &tracking.Error{Kind: tracking.ErrUpstreamRequestFailed, Number: n, Err: errors.New("status 403")}
			continue
		}
		out[i].Shipment = &tracking.Shipment{
			TrackingNumber: n,
			Carrier:        tracking.CarrierUPS,
			CarrierName:    "ups",
			Code:           200,
			Status:         tracking.StateDelivered,
			LatestEvent: &tracking.Event{
				Time:        "2026-01-02T10:00:00-05:00",
				Description: "Delivered",
				Location:    "Austin, TX, US",
				Status:      tracking.StateDelivered,
			},
		}
	}
	return out
}

func (f *fakeBackend) Credential(context.Context) (*credential.Credential, error) {
	return &credential.Credential{
		Signature: "fp1.08d6e348",
		DeviceID:  "G-0123456789ABCDEF",
		BundleMD5: "1.0.156",
		IssuedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		TTL:       time.Hour,
	}, nil
}

func (f *fakeBackend) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func run(t *testing.T, args ...string) (*fakeBackend, string, error) {
	t.Helper()
	backend := &fakeBackend{}
	cmd := newRootCommand(func(cfg *config.Config, _ *logging.Logger) (Backend, error) {
		backend.cfg = cfg
		return backend, nil
	})

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return backend, out.String(), err
}

func TestTrackTable(t *testing.T) {
	backend, out, err := run(t, "track", "--carrier", "ups", "1Z999AA10123456784")
	require.NoError(t, err)

	assert.Equal(t, tracking.CarrierUPS, backend.carrier)
	assert.True(t, backend.closed)
	assert.Contains(t, out, "NUMBER")
	assert.Contains(t, out, "1Z999AA10123456784")
	assert.Contains(t, out, "DELIVERED")
	assert.Contains(t, out, "Delivered (Austin, TX, US)")
}

func TestTrackJSON(t *testing.T) {
	_, out, err := run(t, "track", "--json", "A1", "BAD2")
	require.EqualError(t, err, "1 of 2 lookups failed")

	var items []map[string]interface{}
	require.NoError(t, sonic.Unmarshal([]byte(out), &items))
	require.Len(t, items, 2)
	assert.Equal(t, "A1", items[0]["tracking_number"])
	assert.NotNil(t, items[0]["data"])
	assert.Equal(t, "BAD2", items[1]["tracking_number"])
	assert.Contains(t, items[1]["error"], "status 403")
}

func TestTrackFlagsOverrideConfig(t *testing.T) {
	backend, _, err := run(t, "track", "--proxy", "127.0.0.1:8080", "--concurrency", "4", "--timeout", "5s", "--bundle", "/tmp/bundle", "A1")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", backend.cfg.Tracker.Proxy)
	assert.Equal(t, 4, backend.cfg.Tracker.Concurrency)
	assert.Equal(t, 5*time.Second, backend.cfg.Tracker.Timeout)
	assert.Equal(t, "/tmp/bundle", backend.cfg.Sandbox.BundlePath)
	assert.Equal(t, 0, backend.cfg.Sandbox.Prewarm)
	assert.Equal(t, tracking.CarrierAuto, backend.carrier)
}

func TestTrackRejectsInput(t *testing.T) {
	_, _, err := run(t, "track")
	assert.Error(t, err)

	backend, _, err := run(t, "track", "--carrier", "pigeon", "A1")
	assert.ErrorIs(t, err, tracking.ErrCarrierUnrecognized)
	assert.Nil(t, backend.cfg)

	_, _, err = run(t, "track", "--log-level", "loud", "A1")
	assert.ErrorContains(t, err, "--log-level")
}

func TestSign(t *testing.T) {
	backend, out, err := run(t, "sign")
	require.NoError(t, err)

	assert.True(t, backend.closed)
	assert.Contains(t, out, "sign:        fp1.08d6e348")
	assert.Contains(t, out, "yq_bid:      G-0123456789ABCDEF")
	assert.Contains(t, out, "expires_at:  2026-01-01T01:00:00Z")
}
