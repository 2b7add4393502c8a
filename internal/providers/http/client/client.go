package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/GriffinCanCode/track17/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/track17/backend/internal/infrastructure/resilience"
	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultUserAgent mimics a desktop Chrome build; the upstream rejects obvious bots.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Options configures a Client
type Options struct {
	Name       string
	Timeout    time.Duration
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
	RateLimit  float64 // requests per second, 0 is unlimited
	Proxy      *url.URL
	UserAgent  string
	Logger     *zap.Logger
	Metrics    *monitoring.Metrics
}

// DefaultOptions returns options for upstream calls
func DefaultOptions(name string) Options {
	return Options{
		Name:       name,
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		MinWait:    500 * time.Millisecond,
		MaxWait:    5 * time.Second,
		UserAgent:  DefaultUserAgent,
	}
}

// Client wraps resty with rate limiting, circuit breaker and transient-only retries
type Client struct {
	Resty   *resty.Client
	Limiter *rate.Limiter
	Breaker *resilience.Breaker

	name    string
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// NewClient creates an HTTP client. The transport comes from retryablehttp's
// pooled client, optionally proxied, and wrapped with gzhttp so gzip and zstd
// bodies are decoded before resty sees them.
func NewClient(opts Options) *Client {
	if opts.Name == "" {
		opts.Name = "upstream"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}

	retryClient := retryablehttp.NewClient()
	retryClient.Logger = nil

	transport, ok := retryClient.HTTPClient.Transport.(*http.Transport)
	if !ok {
		transport = http.DefaultTransport.(*http.Transport).Clone()
	}
	if opts.Proxy != nil {
		transport.Proxy = http.ProxyURL(opts.Proxy)
	}

	restyClient := resty.New()
	restyClient.
		SetTransport(gzhttp.Transport(transport,
			gzhttp.TransportEnableGzip(true),
			gzhttp.TransportEnableZstd(true),
			gzhttp.TransportAlwaysDecompress(true),
		)).
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.MaxRetries).
		SetRetryWaitTime(opts.MinWait).
		SetRetryMaxWaitTime(opts.MaxWait).
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal).
		SetHeader("User-Agent", opts.UserAgent).
		SetHeader("Accept-Language", "en-US,en;q=0.9").
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return IsTransient(contextOf(resp), rawResponse(resp), err)
		})

	name := opts.Name
	breaker := resilience.New(name, resilience.Settings{
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 10 ||
				(counts.Requests >= 20 && float64(counts.TotalFailures)/float64(counts.Requests) > 0.7)
		},
		IsFailure: func(err error) bool {
			return err != nil && !IsPermanent(err) && !errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to resilience.State) {
			opts.Logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst(opts.RateLimit))
	}

	return &Client{
		Resty:   restyClient,
		Limiter: limiter,
		Breaker: breaker,
		name:    name,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
}

// Request creates a request after the breaker and rate limiter admit it
func (c *Client) Request(ctx context.Context) (*resty.Request, error) {
	if err := c.Breaker.Allow(); err != nil {
		return nil, err
	}

	if err := c.Limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}
	return c.Resty.R().SetContext(ctx), nil
}

// Do builds a request, sends it through send under the circuit breaker and
// turns non-2xx responses into *StatusError. Transient failures are retried
// by resty before Do returns.
func (c *Client) Do(ctx context.Context, send func(*resty.Request) (*resty.Response, error)) (*resty.Response, error) {
	req, err := c.Request(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := resilience.Do(c.Breaker, func() (*resty.Response, error) {
		resp, err := send(req)
		if err != nil {
			return resp, err
		}
		if resp.IsError() {
			return resp, &StatusError{
				Code: resp.StatusCode(),
				URL:  resp.Request.URL,
				Body: truncate(resp.String(), 256),
			}
		}
		return resp, nil
	})

	status := "error"
	if resp != nil && resp.RawResponse != nil {
		status = strconv.Itoa(resp.StatusCode())
	}
	c.metrics.RecordUpstream(c.name, status, time.Since(start))

	if err != nil {
		c.logger.Debug("upstream call failed",
			zap.String("client", c.name),
			zap.String("status", status),
			zap.Error(err))
	}
	return resp, err
}

// BreakerState returns the current circuit breaker state
func (c *Client) BreakerState() resilience.State {
	return c.Breaker.State()
}

// BreakerCounts returns circuit breaker statistics
func (c *Client) BreakerCounts() resilience.Counts {
	return c.Breaker.Counts()
}

// Status reports the breaker for health checks
func (c *Client) Status() map[string]interface{} {
	counts := c.BreakerCounts()
	return map[string]interface{}{
		"breaker":              c.BreakerState().String(),
		"requests":             counts.Requests,
		"failures":             counts.TotalFailures,
		"consecutive_failures": counts.ConsecutiveFailures,
	}
}

func burst(rps float64) int {
	if rps < 1 {
		return 1
	}
	return int(rps)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func rawResponse(resp *resty.Response) *http.Response {
	if resp == nil {
		return nil
	}
	return resp.RawResponse
}

func contextOf(resp *resty.Response) context.Context {
	if resp == nil || resp.Request == nil {
		return context.Background()
	}
	return resp.Request.Context()
}
