package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/track17/backend/internal/api/middleware"
	httpapi "github.com/GriffinCanCode/track17/backend/internal/http"
	"github.com/GriffinCanCode/track17/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/track17/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/track17/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/track17/backend/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/track17/backend/internal/service"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router  *gin.Engine
	http    *http.Server
	service *service.Service
	tracer  *tracing.Tracer
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config) (*Server, error) {
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	logger.Info("Initializing tracking server",
		zap.String("port", cfg.Server.Port),
		zap.Int("concurrency", cfg.Tracker.Concurrency),
		zap.Bool("redis", cfg.Redis.Addr != ""),
	)

	// Initialize metrics first (needed by other components)
	metrics := monitoring.NewMetrics()
	logger.Info("Performance monitoring initialized")

	svc, err := service.New(cfg, logger, metrics)
	if err != nil {
		metrics.Close()
		return nil, fmt.Errorf("failed to initialize tracking service: %w", err)
	}

	tracer := tracing.New("track17", logger.Logger)
	logger.Info("Distributed tracing initialized")

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := NewRouter(cfg, httpapi.NewHandlers(svc.Tracker, svc.Credentials, metrics).WithStatus(svc), metrics, tracer, logger)

	logger.Info("Server initialized successfully")

	return &Server{
		router:  router,
		service: svc,
		tracer:  tracer,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}, nil
}

// NewRouter builds the Gin engine with middleware and routes
func NewRouter(cfg *config.Config, handlers *httpapi.Handlers, metrics *monitoring.Metrics, tracer *tracing.Tracer, logger *logging.Logger) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	if tracer != nil {
		router.Use(tracing.HTTPMiddleware(tracer))
	}
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)

	api := router.Group("/api")
	api.POST("/track", handlers.Track)
	api.POST("/track/batch", handlers.TrackBatch)
	api.GET("/metrics", handlers.Metrics)

	if metrics != nil {
		router.GET("/metrics", monitoring.Handler(metrics))
	}
	return router
}

// Handler returns the server's HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run starts the HTTP server and blocks until it stops. A clean Shutdown
// returns nil.
func (s *Server) Run() error {
	addr := net.JoinHostPort(s.config.Server.Host, s.config.Server.Port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting HTTP server", zap.String("addr", addr))

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones and releases
// the tracking stack
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	var errs []error
	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			s.logger.Error("Failed to stop HTTP server", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if err := s.service.Close(); err != nil {
		s.logger.Error("Failed to close tracking service", zap.Error(err))
		errs = append(errs, err)
	}
	s.tracer.Close()
	s.metrics.Close()

	// Sync logger before exit
	_ = s.logger.Sync()

	return errors.Join(errs...)
}
