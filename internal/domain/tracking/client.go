package tracking

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/GriffinCanCode/track17/backend/internal/domain/credential"
	"github.com/GriffinCanCode/track17/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/track17/backend/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/track17/backend/internal/providers/browser/sandbox"
	"github.com/GriffinCanCode/track17/backend/internal/providers/http/client"
	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Defaults for the tracking API
const (
	DefaultAPIURL         = "https://t.17track.net/track/restapi"
	DefaultOrigin         = "https://t.17track.net"
	DefaultReferer        = "https://t.17track.net/en"
	DefaultConcurrency    = 16
	DefaultPollInterval   = 2 * time.Second
	DefaultMaxPolls       = 50
	DefaultTimezoneOffset = -480
	defaultConfigsMD5     = "1.0.156"
)

// Credentials hands out the signature requests are made with
type Credentials interface {
	GetOrRefresh(ctx context.Context) (*credential.Credential, error)
	Invalidate(ctx context.Context, reason string)
}

// Options configures a Client
type Options struct {
	Credentials  Credentials
	HTTP         *client.Client // built from Proxy and Timeout when nil
	Proxy        *ProxyConfig
	Timeout      time.Duration
	APIURL       string
	Concurrency  int
	PollInterval time.Duration
	MaxPolls     int
	Strict       bool // fail auto-detection instead of falling back to CarrierAuto
	Fingerprint  *sandbox.Fixtures
	Now          func() time.Time
	Logger       *zap.Logger
	Metrics      *monitoring.Metrics
}

// Client tracks shipments against the upstream API. It is safe for
// concurrent use; calls share only the credential source.
type Client struct {
	creds        Credentials
	http         *client.Client
	apiURL       string
	concurrency  int
	pollInterval time.Duration
	maxPolls     int
	strict       bool
	canvasHash   uint32
	tzOffset     int
	now          func() time.Time
	logger       *zap.Logger
	metrics      *monitoring.Metrics
}

// NewClient creates a tracking client
func NewClient(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.APIURL == "" {
		opts.APIURL = DefaultAPIURL
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxPolls < 0 {
		opts.MaxPolls = 0
	} else if opts.MaxPolls == 0 {
		opts.MaxPolls = DefaultMaxPolls
	}
	if opts.HTTP == nil {
		httpOpts := client.DefaultOptions("track17")
		if opts.Timeout > 0 {
			httpOpts.Timeout = opts.Timeout
		}
		if opts.Proxy != nil {
			httpOpts.Proxy = opts.Proxy.URL()
		}
		httpOpts.Logger = opts.Logger
		httpOpts.Metrics = opts.Metrics
		opts.HTTP = client.NewClient(httpOpts)
	}

	c := &Client{
		creds:        opts.Credentials,
		http:         opts.HTTP,
		apiURL:       opts.APIURL,
		concurrency:  opts.Concurrency,
		pollInterval: opts.PollInterval,
		maxPolls:     opts.MaxPolls,
		strict:       opts.Strict,
		canvasHash:   DefaultCanvasHash,
		tzOffset:     DefaultTZOffset,
		now:          opts.Now,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
	}
	if opts.Fingerprint != nil {
		c.canvasHash = CanvasHash(*opts.Fingerprint)
		c.tzOffset = opts.Fingerprint.TimezoneOffset
	}
	return c
}

// Track returns the shipment record for one tracking number
func (c *Client) Track(ctx context.Context, number string, carrier Carrier) (*Shipment, error) {
	start := time.Now()
	s, err := c.track(ctx, number, carrier)
	c.metrics.ObserveTrack("single", time.Since(start))
	return s, err
}

// TrackBatch tracks every number concurrently, at most the configured
// concurrency at a time. Results are in input order and one number failing
// does not affect the others.
func (c *Client) TrackBatch(ctx context.Context, numbers []string, carrier Carrier) []BatchResult {
	start := time.Now()
	results := make([]BatchResult, len(numbers))

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, number := range numbers {
		g.Go(func() error {
			s, err := c.track(ctx, number, carrier)
			results[i] = BatchResult{TrackingNumber: number, Shipment: s, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	c.metrics.ObserveBatch(len(numbers))
	c.metrics.ObserveTrack("batch", time.Since(start))
	return results
}

func (c *Client) track(ctx context.Context, number string, carrier Carrier) (*Shipment, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		c.metrics.RecordTrack(carrier.String(), "invalid")
		return nil, &Error{Kind: ErrInvalidNumber, Err: errors.New("empty tracking number")}
	}

	resolved, err := ResolveCarrier(number, carrier, c.strict)
	if err != nil {
		c.metrics.RecordTrack(carrier.String(), "unrecognized")
		return nil, err
	}

	s, err := c.poll(ctx, number, resolved)
	if err != nil {
		c.metrics.RecordTrack(resolved.String(), "error")
		c.logger.Warn("tracking failed",
			zap.String("number", number),
			zap.Stringer("carrier", resolved),
			tracing.Field(ctx),
			zap.Error(err))
		return nil, err
	}
	c.metrics.RecordTrack(s.CarrierName, strings.ToLower(string(s.Status)))
	return s, nil
}

// poll sends the request until the upstream has events for the number, the
// poll budget runs out or it answers definitively
func (c *Client) poll(ctx context.Context, number string, carrier Carrier) (*Shipment, error) {
	var (
		guid      string
		refreshed bool
		polls     int
	)
	item := wireItem{Num: number, Fc: uint32(carrier)}
	tried := map[Carrier]bool{carrier: true}

	for {
		cred, err := c.creds.GetOrRefresh(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: credential: %w", number, err)
		}

		resp, err := c.send(ctx, cred, item, guid)
		if err != nil {
			return nil, upstreamError(number, err)
		}

		switch resp.Meta.Code {
		case codeInvalidSign, codeInvalidSession, codeRejectedRequest:
			if refreshed {
				return nil, upstreamError(number, fmt.Errorf("credential rejected after refresh (code %d)", resp.Meta.Code))
			}
			c.logger.Info("credential rejected, refreshing",
				zap.Int("code", resp.Meta.Code),
				tracing.Field(ctx))
			c.creds.Invalidate(ctx, strconv.Itoa(resp.Meta.Code))
			refreshed = true
			guid = ""
			continue
		}
		if resp.GUID != "" {
			guid = resp.GUID
		}

		ws := findShipment(resp.Shipments, number)
		if ws == nil && resp.Meta.Code != codeOK {
			return nil, upstreamError(number, fmt.Errorf("upstream code %d: %s", resp.Meta.Code, resp.Meta.Message))
		}

		if ws != nil && ws.Code == codeNotFound {
			if suggested, ok := suggestCarrier(ws.Extra); ok && !tried[suggested] {
				c.logger.Debug("auto-detection failed, retrying with suggested carrier",
					zap.String("number", number),
					zap.Stringer("carrier", suggested))
				tried[suggested] = true
				item.Fc = uint32(suggested)
				continue
			}
		}

		if ws != nil && !ws.pending() {
			return newShipment(number, Carrier(item.Fc), ws), nil
		}

		if polls >= c.maxPolls {
			c.logger.Warn("tracking still pending after poll budget",
				zap.String("number", number),
				zap.Int("polls", polls))
			return newShipment(number, Carrier(item.Fc), &wireShipment{Code: codePending, Number: number}), nil
		}
		polls++
		c.metrics.IncPendingPolls()

		timer := time.NewTimer(c.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, upstreamError(number, ctx.Err())
		case <-timer.C:
		}
	}
}

// send posts one signed request and decodes the response
func (c *Client) send(ctx context.Context, cred *credential.Credential, item wireItem, guid string) (*wireResponse, error) {
	body, err := sonic.Marshal(wireRequest{
		Data:           []wireItem{item},
		GUID:           guid,
		TimeZoneOffset: DefaultTimezoneOffset,
		Sign:           cred.Signature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	md5 := cred.BundleMD5
	if md5 == "" {
		md5 = defaultConfigsMD5
	}
	eventID := LastEventID(string(body), EventIDParams{
		DeviceID:   cred.DeviceID,
		ConfigsMD5: md5,
		TZOffset:   c.tzOffset,
		CanvasHash: c.canvasHash,
		Time:       c.now(),
	})
	cookie := fmt.Sprintf("country=US; _yq_bid=%s; v5_Culture=en; Last-Event-ID=%s", cred.DeviceID, eventID)

	resp, err := c.http.Do(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json, text/plain, */*").
			SetHeader("Referer", DefaultReferer).
			SetHeader("Origin", DefaultOrigin).
			SetHeader("last-event-id", eventID).
			SetHeader("Cookie", cookie).
			SetBody(body).
			Post(c.apiURL)
	})
	if err != nil {
		return nil, err
	}

	var out wireResponse
	if err := sonic.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

func findShipment(shipments []wireShipment, number string) *wireShipment {
	for i := range shipments {
		if strings.EqualFold(shipments[i].Number, number) {
			return &shipments[i]
		}
	}
	if len(shipments) == 1 {
		return &shipments[0]
	}
	return nil
}
