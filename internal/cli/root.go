package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GriffinCanCode/track17/backend/internal/domain/credential"
	"github.com/GriffinCanCode/track17/backend/internal/domain/tracking"
	"github.com/GriffinCanCode/track17/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/track17/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/track17/backend/internal/service"
	"github.com/spf13/cobra"
)

// Backend is what the commands need from the tracking stack
type Backend interface {
	TrackBatch(ctx context.Context, numbers []string, carrier tracking.Carrier) []tracking.BatchResult
	Credential(ctx context.Context) (*credential.Credential, error)
	Close() error
}

// BuildFunc creates a Backend from the resolved configuration
type BuildFunc func(cfg *config.Config, logger *logging.Logger) (Backend, error)

type serviceBackend struct {
	*service.Service
}

func (b serviceBackend) TrackBatch(ctx context.Context, numbers []string, carrier tracking.Carrier) []tracking.BatchResult {
	return b.Tracker.TrackBatch(ctx, numbers, carrier)
}

func (b serviceBackend) Credential(ctx context.Context) (*credential.Credential, error) {
	return b.Credentials.GetOrRefresh(ctx)
}

func buildService(cfg *config.Config, logger *logging.Logger) (Backend, error) {
	svc, err := service.New(cfg, logger, nil)
	if err != nil {
		return nil, err
	}
	return serviceBackend{svc}, nil
}

type options struct {
	proxy       string
	bundle      string
	concurrency int
	timeout     time.Duration
	logLevel    string
}

// NewRootCommand returns the track17 command tree
func NewRootCommand() *cobra.Command {
	return newRootCommand(buildService)
}

func newRootCommand(build BuildFunc) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "track17",
		Short:         "track17 looks up parcels through the 17track web API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.proxy, "proxy", "", "proxy as URL, host:port or host:port:user:pass (env TRACK_PROXY)")
	flags.StringVar(&opts.bundle, "bundle", "", "read the signing bundle from this file or directory (env SIGN_BUNDLE_PATH)")
	flags.IntVar(&opts.concurrency, "concurrency", 0, "maximum lookups in flight (env TRACK_CONCURRENCY)")
	flags.DurationVar(&opts.timeout, "timeout", 0, "per request timeout (env TRACK_TIMEOUT)")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "debug, info, warn or error")

	root.AddCommand(newTrackCommand(build, opts))
	root.AddCommand(newSignCommand(build, opts))
	return root
}

// Execute runs the command tree and exits non-zero on failure
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// open resolves configuration from the environment and flags and builds
// the backend
func open(cmd *cobra.Command, build BuildFunc, opts *options) (Backend, *logging.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("proxy") {
		cfg.Tracker.Proxy = opts.proxy
	}
	if flags.Changed("bundle") {
		cfg.Sandbox.BundlePath = opts.bundle
	}
	if flags.Changed("concurrency") {
		cfg.Tracker.Concurrency = opts.concurrency
	}
	if flags.Changed("timeout") {
		cfg.Tracker.Timeout = opts.timeout
	}
	cfg.Sandbox.Prewarm = 0

	logger, err := logging.New(logging.CLIConfig(opts.logLevel))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid --log-level: %w", err)
	}

	backend, err := build(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return backend, logger, nil
}

func stdout(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}
