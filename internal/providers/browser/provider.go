package browser

import (
	"context"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"github.com/GriffinCanCode/track17/backend/internal/providers/browser/sandbox"
	"github.com/GriffinCanCode/track17/backend/internal/providers/http/client"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"
)

const (
	// DefaultPageURL is the tracking page the signing bundle is discovered from
	DefaultPageURL = "https://t.17track.net/en"

	// DefaultConfigsMD5 is used when the page does not expose configs.md5
	DefaultConfigsMD5 = "1.0.156"

	// DefaultTTL is how long a fetched bundle is reused
	DefaultTTL = time.Hour
)

// Options configures a Provider
type Options struct {
	PageURL   string
	LocalPath string // file or directory replacing the CDN, if set
	TTL       time.Duration
	Now       func() time.Time
	Logger    *zap.Logger
}

// Provider discovers and downloads the signing bundle. The last bundle is
// reused until it is older than the TTL or invalidated.
type Provider struct {
	httpClient *client.Client
	opts       Options
	logger     *zap.Logger

	mu        sync.Mutex
	cached    *sandbox.Bundle
	fetchedAt time.Time
}

// New creates a bundle provider
func New(httpClient *client.Client, opts Options) *Provider {
	if opts.PageURL == "" {
		opts.PageURL = DefaultPageURL
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Provider{
		httpClient: httpClient,
		opts:       opts,
		logger:     opts.Logger,
	}
}

// Bundle implements sandbox.BundleSource. A fresh cached bundle is returned
// as is; otherwise it is fetched again. Failures are never cached.
func (p *Provider) Bundle(ctx context.Context) (*sandbox.Bundle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil && p.opts.Now().Before(p.fetchedAt.Add(p.opts.TTL)) {
		return p.cached, nil
	}
	return p.refreshLocked(ctx)
}

// Refresh fetches the bundle regardless of the cached copy
func (p *Provider) Refresh(ctx context.Context) (*sandbox.Bundle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshLocked(ctx)
}

// Invalidate drops the cached bundle
func (p *Provider) Invalidate() {
	p.mu.Lock()
	p.cached = nil
	p.fetchedAt = time.Time{}
	p.mu.Unlock()
}

// Fresh reports whether a cached bundle is still within its TTL
func (p *Provider) Fresh() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cached != nil && p.opts.Now().Before(p.fetchedAt.Add(p.opts.TTL))
}

func (p *Provider) refreshLocked(ctx context.Context) (*sandbox.Bundle, error) {
	start := time.Now()

	var (
		bundle *sandbox.Bundle
		err    error
	)
	if p.opts.LocalPath != "" {
		bundle, err = loadLocal(p.opts.LocalPath)
	} else {
		bundle, err = p.fetch(ctx)
	}
	if err != nil {
		p.logger.Warn("signing bundle unavailable", zap.Error(err))
		return nil, &sandbox.Error{Kind: sandbox.ErrAssetFetch, Op: "bundle", Err: err}
	}

	bundle.Digest = digest(bundle)
	p.cached = bundle
	p.fetchedAt = p.opts.Now()

	p.logger.Info("signing bundle loaded",
		zap.String("version", bundle.Version),
		zap.String("digest", bundle.Digest),
		zap.Int("scripts", len(bundle.Scripts)),
		zap.Int("assets", len(bundle.Assets)),
		zap.Duration("duration", time.Since(start)),
	)
	return bundle, nil
}

// digest is a BLAKE3 hash over scripts and assets in a stable order
func digest(b *sandbox.Bundle) string {
	h := blake3.New()
	for _, s := range b.Scripts {
		_, _ = h.Write([]byte(s.Name))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(s.Source))
		_, _ = h.Write([]byte{0})
	}
	names := make([]string, 0, len(b.Assets))
	for name := range b.Assets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		_, _ = h.Write([]byte(name))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write(b.Assets[name])
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}
