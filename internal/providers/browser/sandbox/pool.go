package sandbox

import (
	"context"
	"errors"
	"sync"

	"github.com/GriffinCanCode/track17/backend/internal/infrastructure/monitoring"
	"go.uber.org/zap"
)

var ErrPoolClosed = errors.New("sandbox pool is closed")

// Pool keeps sessions pre-installed so signing skips environment setup.
// Sessions are handed out once and never returned; each Acquire schedules a
// replacement.
type Pool struct {
	config  Config
	source  BundleSource
	logger  *zap.Logger
	metrics *monitoring.Metrics

	sessions chan *Session
	size     int
	mu       sync.RWMutex
	closed   bool
	wg       sync.WaitGroup
}

// NewPool creates a pool holding up to size installed sessions. A size of
// zero disables pre-warming.
func NewPool(config Config, size int, source BundleSource, logger *zap.Logger, metrics *monitoring.Metrics) *Pool {
	if size < 0 {
		size = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	pool := &Pool{
		config:   config.withDefaults(),
		source:   source,
		logger:   logger,
		metrics:  metrics,
		sessions: make(chan *Session, size),
		size:     size,
	}
	for i := 0; i < size; i++ {
		pool.refill()
	}
	return pool
}

func (p *Pool) newSession(sc SignContext) (*Session, error) {
	s := NewSession(p.config, sc, p.logger, p.metrics)
	if err := s.Install(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (p *Pool) refill() {
	if p.size == 0 {
		return
	}
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return
	}
	p.wg.Add(1)
	p.mu.RUnlock()

	go func() {
		defer p.wg.Done()

		s, err := p.newSession(SignContext{})
		if err != nil {
			p.logger.Warn("pre-warm failed", zap.Error(err))
			return
		}

		p.mu.RLock()
		defer p.mu.RUnlock()
		if p.closed {
			s.Close()
			return
		}
		select {
		case p.sessions <- s:
		default:
			s.Close()
		}
	}()
}

// Acquire returns an installed session. A pre-warmed one is used when the
// context is empty and one is ready; otherwise a session is built inline.
func (p *Pool) Acquire(ctx context.Context, sc SignContext) (*Session, error) {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return nil, ErrPoolClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if sc == (SignContext{}) {
		select {
		case s, ok := <-p.sessions:
			if ok {
				p.refill()
				return s, nil
			}
			return nil, ErrPoolClosed
		default:
		}
	}
	return p.newSession(sc)
}

// Sign runs one session against the pool's bundle source
func (p *Pool) Sign(ctx context.Context, sc SignContext) (string, error) {
	return p.SignWith(ctx, sc, p.source)
}

// SignWith runs one session against src
func (p *Pool) SignWith(ctx context.Context, sc SignContext, src BundleSource) (string, error) {
	s, err := p.Acquire(ctx, sc)
	if err != nil {
		return "", err
	}
	return s.Sign(ctx, src)
}

// Close stops pre-warming and releases idle sessions
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.wg.Wait()
	close(p.sessions)
	for s := range p.sessions {
		s.Close()
	}
	return nil
}

// Stats returns pool statistics
func (p *Pool) Stats() map[string]interface{} {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return map[string]interface{}{
		"size":      p.size,
		"available": len(p.sessions),
		"closed":    p.closed,
	}
}
