package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/GriffinCanCode/track17/backend/internal/domain/credential"
	"github.com/GriffinCanCode/track17/backend/internal/domain/tracking"
	"github.com/GriffinCanCode/track17/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/track17/backend/internal/providers/browser/sandbox"
	"github.com/GriffinCanCode/track17/backend/internal/providers/http/client"
	"github.com/gin-gonic/gin"
)

// Version is reported by the health endpoints
const Version = "0.3.0"

// MaxBatchSize bounds the numbers accepted by one batch request
const MaxBatchSize = 100

// Tracker looks up shipments
type Tracker interface {
	Track(ctx context.Context, number string, carrier tracking.Carrier) (*tracking.Shipment, error)
	TrackBatch(ctx context.Context, numbers []string, carrier tracking.Carrier) []tracking.BatchResult
}

// CredentialInfo exposes the credential cache state for health checks
type CredentialInfo interface {
	Peek() *credential.Credential
	Generations() uint64
}

// StatusReporter describes internal components for health checks
type StatusReporter interface {
	Status() map[string]interface{}
}

// TrackRequest is the body of POST /api/track
type TrackRequest struct {
	TrackingNumber string  `json:"tracking_number" binding:"required"`
	CarrierCode    *uint32 `json:"carrier_code,omitempty"`
	Carrier        string  `json:"carrier,omitempty"`
}

// BatchRequest is the body of POST /api/track/batch
type BatchRequest struct {
	TrackingNumbers []string `json:"tracking_numbers" binding:"required"`
	CarrierCode     *uint32  `json:"carrier_code,omitempty"`
	Carrier         string   `json:"carrier,omitempty"`
}

// BatchItem is one entry of a batch response
type BatchItem struct {
	TrackingNumber string             `json:"tracking_number"`
	Data           *tracking.Shipment `json:"data,omitempty"`
	Error          string             `json:"error,omitempty"`
	Status         int                `json:"status"`
}

// Handlers contains all HTTP handlers
type Handlers struct {
	tracker     Tracker
	credentials CredentialInfo
	metrics     *monitoring.Metrics
	status      StatusReporter
	started     time.Time
}

// NewHandlers creates a new handler set. credentials and metrics may be nil.
func NewHandlers(tracker Tracker, credentials CredentialInfo, metrics *monitoring.Metrics) *Handlers {
	return &Handlers{
		tracker:     tracker,
		credentials: credentials,
		metrics:     metrics,
		started:     time.Now(),
	}
}

// WithStatus adds component status to the health response
func (h *Handlers) WithStatus(r StatusReporter) *Handlers {
	h.status = r
	return h
}

// Root handles health check
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "17track tracking service",
		"version": Version,
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	cred := gin.H{"ready": false}
	if h.credentials != nil {
		cred["generations"] = h.credentials.Generations()
		if cur := h.credentials.Peek(); cur != nil {
			cred["ready"] = true
			cred["generation"] = cur.Generation
			cred["configs_md5"] = cur.BundleMD5
			cred["expires_at"] = cur.ExpiresAt()
		}
	}

	resp := gin.H{
		"status":     "healthy",
		"version":    Version,
		"uptime":     time.Since(h.started).Round(time.Second).String(),
		"credential": cred,
	}
	if h.status != nil {
		components := h.status.Status()
		resp["components"] = components
		if breakerOpen(components) {
			resp["status"] = "degraded"
		}
	}
	c.JSON(http.StatusOK, resp)
}

// breakerOpen reports whether any upstream breaker is open
func breakerOpen(components map[string]interface{}) bool {
	upstream, _ := components["upstream"].(map[string]interface{})
	for _, v := range upstream {
		if b, ok := v.(map[string]interface{}); ok && b["breaker"] == "open" {
			return true
		}
	}
	return false
}

// Metrics returns a JSON snapshot of the service metrics
func (h *Handlers) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    h.metrics.Snapshot(),
	})
}

// Track looks up one tracking number
func (h *Handlers) Track(c *gin.Context) {
	var req TrackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	carrier, err := carrierOf(req.CarrierCode, req.Carrier)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	shipment, err := h.tracker.Track(c.Request.Context(), req.TrackingNumber, carrier)
	if err != nil {
		c.JSON(StatusOf(err), gin.H{"success": false, "error": err.Error()})
		return
	}
	if shipment.Status == tracking.StateNotFound {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "tracking number not found",
			"data":    shipment,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": shipment})
}

// TrackBatch looks up several tracking numbers. One number failing does not
// fail the request; each item carries its own status.
func (h *Handlers) TrackBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	if len(req.TrackingNumbers) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "tracking_numbers is empty"})
		return
	}
	if len(req.TrackingNumbers) > MaxBatchSize {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "too many tracking numbers",
			"max":     MaxBatchSize,
		})
		return
	}

	carrier, err := carrierOf(req.CarrierCode, req.Carrier)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	results := h.tracker.TrackBatch(c.Request.Context(), req.TrackingNumbers, carrier)
	items := make([]BatchItem, len(results))
	for i, r := range results {
		item := BatchItem{TrackingNumber: r.TrackingNumber, Data: r.Shipment, Status: http.StatusOK}
		switch {
		case r.Err != nil:
			item.Error = r.Err.Error()
			item.Status = StatusOf(r.Err)
		case r.Shipment.Status == tracking.StateNotFound:
			item.Status = http.StatusNotFound
		}
		items[i] = item
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": items})
}

// StatusOf maps a tracking failure to an HTTP status
func StatusOf(err error) int {
	var se *client.StatusError
	switch {
	case errors.Is(err, tracking.ErrInvalidNumber),
		errors.Is(err, tracking.ErrCarrierUnrecognized),
		errors.Is(err, tracking.ErrProxyConfigInvalid):
		return http.StatusBadRequest
	case errors.Is(err, credential.ErrClosed), errors.Is(err, sandbox.ErrPoolClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, tracking.ErrUpstreamRequestFailed),
		errors.As(err, &se),
		sandbox.KindOf(err) != nil:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func carrierOf(code *uint32, name string) (tracking.Carrier, error) {
	if code != nil {
		return tracking.Carrier(*code), nil
	}
	return tracking.ParseCarrier(name)
}
