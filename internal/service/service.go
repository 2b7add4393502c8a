package service

import (
	"context"
	"fmt"
	"time"

	"github.com/GriffinCanCode/track17/backend/internal/domain/credential"
	"github.com/GriffinCanCode/track17/backend/internal/domain/tracking"
	"github.com/GriffinCanCode/track17/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/track17/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/track17/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/track17/backend/internal/providers/browser"
	"github.com/GriffinCanCode/track17/backend/internal/providers/browser/sandbox"
	"github.com/GriffinCanCode/track17/backend/internal/providers/http/client"
	"github.com/redis/go-redis/v9"
	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"
)

const pingTimeout = 3 * time.Second

// Service owns the tracking stack
type Service struct {
	Tracker     *tracking.Client
	Credentials *credential.Cache
	Pool        *sandbox.Pool
	Bundles     *browser.Provider

	api    *client.Client
	cdn    *client.Client
	redis  *redis.Client
	cache  wazero.CompilationCache
	logger *zap.Logger
}

// New builds the tracking stack described by cfg. Nothing is fetched until
// the first lookup, apart from pre-warming the sandbox pool.
func New(cfg *config.Config, logger *logging.Logger, metrics *monitoring.Metrics) (*Service, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	log := logger.Component("service")

	proxy, err := tracking.ParseProxy(cfg.Tracker.Proxy)
	if err != nil {
		return nil, err
	}

	cdnOpts := client.DefaultOptions("cdn")
	cdnOpts.Timeout = cfg.Tracker.Timeout
	cdnOpts.Logger = logger.Component("cdn")
	cdnOpts.Metrics = metrics
	if proxy != nil {
		cdnOpts.Proxy = proxy.URL()
		log.Info("Using proxy", zap.Stringer("proxy", proxy))
	}
	apiOpts := client.DefaultOptions("track17")
	apiOpts.Timeout = cfg.Tracker.Timeout
	apiOpts.Proxy = cdnOpts.Proxy
	apiOpts.Logger = logger.Component("tracking")
	apiOpts.Metrics = metrics

	cdn := client.NewClient(cdnOpts)
	bundles := browser.New(cdn, browser.Options{
		LocalPath: cfg.Sandbox.BundlePath,
		Logger:    logger.Component("browser"),
	})

	cache := wazero.NewCompilationCache()
	sandboxCfg := sandbox.DefaultConfig()
	sandboxCfg.EntryModule = cfg.Sandbox.EntryModule
	sandboxCfg.Timeout = cfg.Sandbox.Timeout
	sandboxCfg.EnableConsole = cfg.Logging.Development
	sandboxCfg.CompilationCache = cache
	pool := sandbox.NewPool(sandboxCfg, cfg.Sandbox.Prewarm, bundles, logger.Component("sandbox"), metrics)

	svc := &Service{
		Pool:    pool,
		Bundles: bundles,
		api:     client.NewClient(apiOpts),
		cdn:     cdn,
		cache:   cache,
		logger:  log,
	}

	var store credential.Store = credential.NewMemoryStore()
	if cfg.Redis.Addr != "" {
		svc.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rs := credential.NewRedisStore(svc.redis, cfg.Redis.Prefix, nil)

		ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		err := rs.Ping(ctx)
		cancel()
		if err != nil {
			svc.Close()
			return nil, fmt.Errorf("credential store %s: %w", cfg.Redis.Addr, err)
		}
		store = rs
		log.Info("Credential store connected", zap.String("addr", cfg.Redis.Addr))
	}

	svc.Credentials = credential.NewCache(credential.Options{
		Signer:  pool,
		Bundles: bundles,
		Store:   store,
		TTL:     cfg.Credential.TTL,
		Logger:  logger.Component("credential"),
		Metrics: metrics,
	})

	fixtures := sandboxCfg.Fixtures
	svc.Tracker = tracking.NewClient(tracking.Options{
		Credentials:  svc.Credentials,
		HTTP:         svc.api,
		Concurrency:  cfg.Tracker.Concurrency,
		PollInterval: cfg.Tracker.PollInterval,
		MaxPolls:     cfg.Tracker.MaxPolls,
		Strict:       cfg.Tracker.Strict,
		Fingerprint:  &fixtures,
		Logger:       logger.Component("tracking"),
		Metrics:      metrics,
	})

	log.Info("Tracking service initialized",
		zap.String("entry_module", sandboxCfg.EntryModule),
		zap.Int("prewarm", cfg.Sandbox.Prewarm),
		zap.Bool("local_bundle", cfg.Sandbox.BundlePath != ""),
		zap.String("device_id", svc.Credentials.DeviceID()),
	)
	return svc, nil
}

// Status reports the sandbox pool and upstream breakers for health checks
func (s *Service) Status() map[string]interface{} {
	return map[string]interface{}{
		"sandbox_pool": s.Pool.Stats(),
		"upstream": map[string]interface{}{
			"track17": s.api.Status(),
			"cdn":     s.cdn.Status(),
		},
	}
}

// Close releases the credential cache, sandbox sessions and store
// connection. The compilation cache is closed only after the credential
// cache has drained its generation.
func (s *Service) Close() error {
	if s.Credentials != nil {
		s.Credentials.Close()
	}
	if err := s.Pool.Close(); err != nil {
		s.logger.Warn("Failed to close sandbox pool", zap.Error(err))
	}
	if err := s.cache.Close(context.Background()); err != nil {
		s.logger.Warn("Failed to close compilation cache", zap.Error(err))
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			return fmt.Errorf("failed to close redis client: %w", err)
		}
	}
	return nil
}
