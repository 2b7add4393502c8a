package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/track17/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/track17/backend/internal/providers/browser/sandbox"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrClosed is returned once the cache has been shut down
var ErrClosed = errors.New("credential cache is closed")

const flightKey = "credential"

// BundleSource supplies the signing bundle and can drop its cached copy
type BundleSource interface {
	sandbox.BundleSource
	Invalidate()
}

// Options configures a Cache
type Options struct {
	Signer   sandbox.Signer
	Bundles  BundleSource
	Store    Store // optional, consulted before generating
	TTL      time.Duration
	DeviceID string
	Now      func() time.Time
	Logger   *zap.Logger
	Metrics  *monitoring.Metrics
}

// Cache hands out the current credential and regenerates it when it
// expires. Concurrent misses share a single generation.
type Cache struct {
	signer   sandbox.Signer
	bundles  BundleSource
	store    Store
	ttl      time.Duration
	deviceID string
	now      func() time.Time
	logger   *zap.Logger
	metrics  *monitoring.Metrics

	current     atomic.Pointer[Credential]
	generations atomic.Uint64
	group       singleflight.Group

	// Generation runs on this context so a caller giving up does not
	// abort it for everyone else.
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu      sync.Mutex
	closed  bool
	flights sync.WaitGroup
}

// NewCache creates a credential cache
func NewCache(opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.DeviceID == "" {
		opts.DeviceID = NewDeviceID()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		signer:   opts.Signer,
		bundles:  opts.Bundles,
		store:    opts.Store,
		ttl:      opts.TTL,
		deviceID: opts.DeviceID,
		now:      opts.Now,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// DeviceID returns the _yq_bid this cache issues credentials under
func (c *Cache) DeviceID() string {
	return c.deviceID
}

// Peek returns the cached credential without generating, or nil
func (c *Cache) Peek() *Credential {
	cred := c.current.Load()
	if !cred.ValidAt(c.now()) {
		return nil
	}
	return cred
}

// Generations returns how many credentials this cache has generated
func (c *Cache) Generations() uint64 {
	return c.generations.Load()
}

// GetOrRefresh returns a valid credential, generating one if needed. ctx
// bounds only this caller's wait.
func (c *Cache) GetOrRefresh(ctx context.Context) (*Credential, error) {
	if c.ctx.Err() != nil {
		return nil, ErrClosed
	}
	if cred := c.current.Load(); cred.ValidAt(c.now()) {
		c.metrics.RecordCredentialLookup("hit")
		return cred, nil
	}
	c.metrics.RecordCredentialLookup("miss")

	ch := c.group.DoChan(flightKey, func() (interface{}, error) {
		if !c.enter() {
			return nil, ErrClosed
		}
		defer c.flights.Done()
		return c.refresh()
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Credential), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Refresh discards the current credential and waits for a new one
func (c *Cache) Refresh(ctx context.Context) (*Credential, error) {
	c.current.Store(nil)
	return c.GetOrRefresh(ctx)
}

// enter registers a generation unless the cache is closing
func (c *Cache) enter() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.flights.Add(1)
	return true
}

func (c *Cache) refresh() (*Credential, error) {
	ctx := c.ctx

	// A flight that finished just before this one started may already
	// have published a credential.
	if cred := c.current.Load(); cred.ValidAt(c.now()) {
		return cred, nil
	}

	if c.store != nil {
		cred, err := c.store.Load(ctx)
		if err != nil {
			c.logger.Warn("credential store load failed", zap.Error(err))
		} else if cred.ValidAt(c.now()) {
			c.current.Store(cred)
			c.metrics.RecordCredentialLookup("store")
			c.logger.Debug("credential adopted from store", zap.Time("expires_at", cred.ExpiresAt()))
			return cred, nil
		}
	}

	start := time.Now()
	cred, err := c.generate(ctx)
	if err != nil {
		c.metrics.RecordCredentialRefresh("failure", time.Since(start), time.Time{})
		c.logger.Error("credential generation failed", zap.Error(err))
		if ctx.Err() != nil {
			return nil, ErrClosed
		}
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ErrClosed
	}

	c.current.Store(cred)
	c.metrics.RecordCredentialRefresh("success", time.Since(start), cred.IssuedAt)
	c.logger.Info("credential refreshed",
		zap.Uint64("generation", cred.Generation),
		zap.String("configs_md5", cred.BundleMD5),
		zap.Duration("duration", time.Since(start)),
	)

	if c.store != nil {
		if err := c.store.Save(ctx, cred); err != nil {
			c.logger.Warn("credential store save failed", zap.Error(err))
		}
	}
	return cred, nil
}

func (c *Cache) generate(ctx context.Context) (*Credential, error) {
	bundle, err := c.bundles.Bundle(ctx)
	if err != nil {
		return nil, fmt.Errorf("generate credential: %w", err)
	}
	sig, err := c.signer.SignWith(ctx, sandbox.SignContext{}, sandbox.StaticSource{B: bundle})
	if err != nil {
		return nil, fmt.Errorf("generate credential: %w", err)
	}
	return &Credential{
		Signature:    sig,
		DeviceID:     c.deviceID,
		BundleMD5:    bundle.Version,
		BundleDigest: bundle.Digest,
		IssuedAt:     c.now(),
		TTL:          c.ttl,
		Generation:   c.generations.Add(1),
	}, nil
}

// Invalidate drops the credential, the cached bundle and the stored copy.
// reason is the upstream code that rejected the credential.
func (c *Cache) Invalidate(ctx context.Context, reason string) {
	c.current.Store(nil)
	c.bundles.Invalidate()
	if c.store != nil {
		if err := c.store.Delete(ctx); err != nil {
			c.logger.Warn("credential store delete failed", zap.Error(err))
		}
	}
	c.metrics.RecordInvalidation(reason)
	c.logger.Info("credential invalidated", zap.String("reason", reason))
}

// Close cancels any generation in progress, waits for it to return and
// rejects later lookups
func (c *Cache) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.cancel()
		c.flights.Wait()
	})
	return nil
}
