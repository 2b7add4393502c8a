package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/track17/backend/internal/domain/credential"
	"github.com/GriffinCanCode/track17/backend/internal/domain/tracking"
	"github.com/GriffinCanCode/track17/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/track17/backend/internal/providers/browser/sandbox"
	"github.com/GriffinCanCode/track17/backend/internal/providers/http/client"
	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTracker struct {
	mu      sync.Mutex
	carrier tracking.Carrier
	errs    map[string]error
}

func (f *fakeTracker) Track(_ context.Context, number string, carrier tracking.Carrier) (*tracking.Shipment, error) {
	f.mu.Lock()
	f.carrier = carrier
	err := f.errs[number]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	status := tracking.StateDelivered
	if strings.HasPrefix(number, "NF") {
		status = tracking.StateNotFound
	}
	return &tracking.Shipment{
		TrackingNumber: number,
		Carrier:        carrier,
		CarrierName:    carrier.String(),
		Code:           200,
		Status:         status,
	}, nil
}

func (f *fakeTracker) TrackBatch(ctx context.Context, numbers []string, carrier tracking.Carrier) []tracking.BatchResult {
	results := make([]tracking.BatchResult, len(numbers))
	for i, n := range numbers {
		s, err := f.Track(ctx, n, carrier)
		results[i] = tracking.BatchResult{TrackingNumber: n, Shipment: s, Err: err}
	}
	return results
}

func (f *fakeTracker) lastCarrier() tracking.Carrier {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.carrier
}

type fakeCredentials struct {
	cred *credential.Credential
}

func (f *fakeCredentials) Peek() *credential.Credential { return f.cred }
func (f *fakeCredentials) Generations() uint64          { return 3 }

type fakeStatus map[string]interface{}

func (f fakeStatus) Status() map[string]interface{} { return f }

func setupRouter(h *Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/", h.Root)
	router.GET("/health", h.Health)
	router.GET("/api/metrics", h.Metrics)
	router.POST("/api/track", h.Track)
	router.POST("/api/track/batch", h.TrackBatch)
	return router
}

func do(router *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var out map[string]interface{}
	_ = sonic.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func TestHealth(t *testing.T) {
	creds := &fakeCredentials{cred: &credential.Credential{
		Signature:  "sig",
		BundleMD5:  "1.0.156",
		IssuedAt:   time.Now(),
		TTL:        time.Hour,
		Generation: 3,
	}}
	router := setupRouter(NewHandlers(&fakeTracker{}, creds, nil))

	w, body := do(router, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])
	cred := body["credential"].(map[string]interface{})
	assert.Equal(t, true, cred["ready"])
	assert.Equal(t, "1.0.156", cred["configs_md5"])
	assert.EqualValues(t, 3, cred["generation"])

	router = setupRouter(NewHandlers(&fakeTracker{}, &fakeCredentials{}, nil))
	_, body = do(router, "GET", "/health", "")
	cred = body["credential"].(map[string]interface{})
	assert.Equal(t, false, cred["ready"])

	assert.NotContains(t, body, "components")

	w, body = do(router, "GET", "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, Version, body["version"])
}

func TestHealthReportsComponents(t *testing.T) {
	status := fakeStatus{
		"sandbox_pool": map[string]interface{}{"size": 2, "available": 1, "closed": false},
		"upstream":     map[string]interface{}{"track17": map[string]interface{}{"breaker": "open"}},
	}
	router := setupRouter(NewHandlers(&fakeTracker{}, nil, nil).WithStatus(status))

	w, body := do(router, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "degraded", body["status"])
	components := body["components"].(map[string]interface{})
	pool := components["sandbox_pool"].(map[string]interface{})
	assert.EqualValues(t, 1, pool["available"])
	upstream := components["upstream"].(map[string]interface{})
	assert.Equal(t, "open", upstream["track17"].(map[string]interface{})["breaker"])
}

func TestMetricsSnapshot(t *testing.T) {
	m := monitoring.NewMetrics()
	defer m.Close()
	m.RequestFinished("POST", "/api/track", "200", 10*time.Millisecond)

	router := setupRouter(NewHandlers(&fakeTracker{}, nil, m))
	w, body := do(router, "GET", "/api/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	data := body["data"].(map[string]interface{})
	assert.EqualValues(t, 1, data["total_requests"])
}

func TestTrack(t *testing.T) {
	tracker := &fakeTracker{}
	router := setupRouter(NewHandlers(tracker, nil, nil))

	w, body := do(router, "POST", "/api/track", `{"tracking_number":"123456789012","carrier":"fedex"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "123456789012", data["tracking_number"])
	assert.EqualValues(t, tracking.CarrierFedEx, data["carrier_code"])
	assert.Equal(t, tracking.CarrierFedEx, tracker.lastCarrier())

	w, _ = do(router, "POST", "/api/track", `{"tracking_number":"1Z999AA10123456784","carrier_code":100001}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, tracking.CarrierUPS, tracker.lastCarrier())

	w, _ = do(router, "POST", "/api/track", `{"tracking_number":"1Z999AA10123456784"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, tracking.CarrierAuto, tracker.lastCarrier())
}

func TestTrackBadRequests(t *testing.T) {
	router := setupRouter(NewHandlers(&fakeTracker{}, nil, nil))

	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `{`},
		{name: "missing number", body: `{"carrier":"ups"}`},
		{name: "unknown carrier", body: `{"tracking_number":"123","carrier":"pigeon"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := do(router, "POST", "/api/track", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, false, body["success"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestTrackNotFound(t *testing.T) {
	router := setupRouter(NewHandlers(&fakeTracker{}, nil, nil))

	w, body := do(router, "POST", "/api/track", `{"tracking_number":"NF123"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, false, body["success"])
	assert.NotNil(t, body["data"])
}

func TestTrackErrorStatus(t *testing.T) {
	tracker := &fakeTracker{errs: map[string]error{
		"BAD":     &tracking.Error{Kind: tracking.ErrInvalidNumber, Number: "BAD"},
		"UP":      &tracking.Error{Kind: tracking.ErrUpstreamRequestFailed, Number: "UP", Err: errors.New("boom")},
		"SANDBOX": fmt.Errorf("UP: credential: %w", &sandbox.Error{Kind: sandbox.ErrAssetFetch, Op: "fetch"}),
		"CLOSED":  fmt.Errorf("CLOSED: credential: %w", credential.ErrClosed),
		"SLOW":    context.DeadlineExceeded,
		"WEIRD":   errors.New("weird"),
	}}
	router := setupRouter(NewHandlers(tracker, nil, nil))

	want := map[string]int{
		"BAD":     http.StatusBadRequest,
		"UP":      http.StatusBadGateway,
		"SANDBOX": http.StatusBadGateway,
		"CLOSED":  http.StatusServiceUnavailable,
		"SLOW":    http.StatusGatewayTimeout,
		"WEIRD":   http.StatusInternalServerError,
	}
	for number, status := range want {
		t.Run(number, func(t *testing.T) {
			w, body := do(router, "POST", "/api/track", `{"tracking_number":"`+number+`"}`)
			assert.Equal(t, status, w.Code)
			assert.Equal(t, false, body["success"])
		})
	}
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusBadGateway, StatusOf(&client.StatusError{Code: 403, URL: "https://t.17track.net"}))
	assert.Equal(t, http.StatusBadRequest, StatusOf(&tracking.Error{Kind: tracking.ErrCarrierUnrecognized}))
	assert.Equal(t, http.StatusBadRequest, StatusOf(&tracking.Error{Kind: tracking.ErrProxyConfigInvalid}))
	assert.Equal(t, http.StatusServiceUnavailable, StatusOf(sandbox.ErrPoolClosed))
}

func TestTrackBatch(t *testing.T) {
	tracker := &fakeTracker{errs: map[string]error{
		"UP": &tracking.Error{Kind: tracking.ErrUpstreamRequestFailed, Number: "UP", Err: errors.New("bad json")},
	}}
	router := setupRouter(NewHandlers(tracker, nil, nil))

	w, body := do(router, "POST", "/api/track/batch", `{"tracking_numbers":["A1","UP","NF2"],"carrier":"usps"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, tracking.CarrierUSPS, tracker.lastCarrier())

	items := body["data"].([]interface{})
	require.Len(t, items, 3)

	first := items[0].(map[string]interface{})
	assert.Equal(t, "A1", first["tracking_number"])
	assert.EqualValues(t, http.StatusOK, first["status"])
	assert.NotNil(t, first["data"])
	assert.Nil(t, first["error"])

	second := items[1].(map[string]interface{})
	assert.Equal(t, "UP", second["tracking_number"])
	assert.EqualValues(t, http.StatusBadGateway, second["status"])
	assert.Contains(t, second["error"], "bad json")
	assert.Nil(t, second["data"])

	third := items[2].(map[string]interface{})
	assert.EqualValues(t, http.StatusNotFound, third["status"])
}

func TestTrackBatchLimits(t *testing.T) {
	router := setupRouter(NewHandlers(&fakeTracker{}, nil, nil))

	w, _ := do(router, "POST", "/api/track/batch", `{"tracking_numbers":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	numbers := make([]string, MaxBatchSize+1)
	for i := range numbers {
		numbers[i] = fmt.Sprintf(`"N%d"`, i)
	}
	w, body := do(router, "POST", "/api/track/batch", `{"tracking_numbers":[`+strings.Join(numbers, ",")+`]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.EqualValues(t, MaxBatchSize, body["max"])

	w, _ = do(router, "POST", "/api/track/batch", `{"tracking_numbers":["A1"],"carrier":"pigeon"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
