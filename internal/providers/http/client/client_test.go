package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GriffinCanCode/track17/backend/internal/infrastructure/resilience"
	"github.com/go-resty/resty/v2"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	opts := DefaultOptions("test")
	opts.MinWait = time.Millisecond
	opts.MaxWait = 5 * time.Millisecond
	opts.Timeout = 5 * time.Second
	return opts
}

func get(c *Client, url string) (*resty.Response, error) {
	return c.Do(context.Background(), func(r *resty.Request) (*resty.Response, error) {
		return r.Get(url)
	})
}

func TestClientRetriesTransientFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	resp, err := get(NewClient(testOptions()), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.String())
	assert.Equal(t, int32(3), hits.Load())
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(testOptions())
	for i := 0; i < 12; i++ {
		_, err := get(c, srv.URL)
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusNotFound, se.Code)
		assert.True(t, IsPermanent(err))
	}

	assert.Equal(t, int32(12), hits.Load())
	assert.Equal(t, resilience.StateClosed, c.BreakerState())
	assert.Equal(t, uint32(12), c.BreakerCounts().Requests)
	assert.Zero(t, c.BreakerCounts().TotalFailures)
}

func TestClientBreakerOpensOnServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	opts := testOptions()
	opts.MaxRetries = 0
	c := NewClient(opts)

	for i := 0; i < 10; i++ {
		_, _ = get(c, srv.URL)
	}
	assert.Equal(t, resilience.StateOpen, c.BreakerState())

	_, err := get(c, srv.URL)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)

	status := c.Status()
	assert.Equal(t, "open", status["breaker"])
}

func TestClientStatusStartsClosed(t *testing.T) {
	assert.Equal(t, map[string]interface{}{
		"breaker":              "closed",
		"requests":             uint32(0),
		"failures":             uint32(0),
		"consecutive_failures": uint32(0),
	}, NewClient(testOptions()).Status())
}

func TestClientThroughProxy(t *testing.T) {
	var seen atomic.Value
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.URL.String())
		_, _ = w.Write([]byte("via proxy"))
	}))
	defer proxy.Close()

	opts := testOptions()
	opts.Proxy, _ = url.Parse(proxy.URL)

	resp, err := get(NewClient(opts), "http://t.17track.invalid/track/restapi")
	require.NoError(t, err)
	assert.Equal(t, "via proxy", resp.String())
	assert.Equal(t, "http://t.17track.invalid/track/restapi", seen.Load())
}

func TestClientDecodesGzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_, _ = gz.Write([]byte(`{"meta":{"code":200}}`))
		_ = gz.Close()
	}))
	defer srv.Close()

	var out struct {
		Meta struct {
			Code int `json:"code"`
		} `json:"meta"`
	}
	_, err := NewClient(testOptions()).Do(context.Background(), func(r *resty.Request) (*resty.Response, error) {
		return r.SetResult(&out).Get(srv.URL)
	})
	require.NoError(t, err)
	assert.Equal(t, 200, out.Meta.Code)
}

func TestRequestHonoursCancelledContext(t *testing.T) {
	opts := testOptions()
	opts.RateLimit = 0.001
	c := NewClient(opts)

	_, err := c.Request(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req, err := c.Request(ctx)
	assert.Error(t, err)
	assert.Nil(t, req)
}

func TestIsTransient(t *testing.T) {
	ctx := context.Background()

	assert.True(t, IsTransient(ctx, nil, errors.New("connection reset by peer")))
	assert.True(t, IsTransient(ctx, &http.Response{StatusCode: 500}, nil))
	assert.True(t, IsTransient(ctx, &http.Response{StatusCode: 429}, nil))
	assert.False(t, IsTransient(ctx, &http.Response{StatusCode: 400}, nil))
	assert.False(t, IsTransient(ctx, &http.Response{StatusCode: 200}, nil))
	assert.False(t, IsTransient(ctx, nil, context.Canceled))
	assert.False(t, IsTransient(ctx, nil, nil))
}
