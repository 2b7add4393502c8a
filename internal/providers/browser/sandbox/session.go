package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/GriffinCanCode/track17/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/track17/backend/internal/shared/id"
	"github.com/dop251/goja"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// MaxSignatureLen bounds the signature read back from wasm memory
const MaxSignatureLen = 100000

// ErrInvalidTransition is returned when a step is called out of order on a
// session that has not yet finished.
var ErrInvalidTransition = errors.New("invalid session transition")

// Session runs the signing bundle once in an isolated runtime:
//
//	Fresh -> EnvironmentInstalled -> AssetsLoaded -> ModuleExecuted -> SignatureExtracted
//
// Any step may fail, which ends the session in StateFailed. Sessions are
// single-use and owned by one goroutine.
type Session struct {
	id      id.SessionID
	config  Config
	sc      SignContext
	logger  *zap.Logger
	metrics *monitoring.Metrics

	rt     *Runtime
	env    *Environment
	loader *Loader
	bridge *Bridge

	mu      sync.Mutex
	state   State
	failure error
	closed  bool

	bundle  *Bundle
	entry   string
	exports goja.Value
	sig     string
}

// NewSession creates a Fresh session
func NewSession(config Config, sc SignContext, logger *zap.Logger, metrics *monitoring.Metrics) *Session {
	config = config.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	sid := id.NewSessionID()
	logger = logger.With(zap.String("session_id", sid.String()))

	rt := NewRuntime(config, logger)
	return &Session{
		id:      sid,
		config:  config,
		sc:      sc,
		logger:  logger,
		metrics: metrics,
		rt:      rt,
		env:     NewEnvironment(rt, sc),
		loader:  NewLoader(rt, logger),
		bridge:  NewBridge(rt, config.CompilationCache, logger),
	}
}

// ID returns the session identifier
func (s *Session) ID() id.SessionID {
	return s.id
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the failure that ended the session, if any
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// Runtime exposes the session's JS runtime
func (s *Session) Runtime() *Runtime {
	return s.rt
}

// Loader exposes the captured module table
func (s *Session) Loader() *Loader {
	return s.loader
}

// Instance returns the captured WASM instance, or nil
func (s *Session) Instance() *Instance {
	return s.bridge.Current()
}

func (s *Session) begin(from State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state.Terminal() {
		return newError(ErrSessionUsed, s.state.String(), s.failure)
	}
	if s.state != from {
		return fmt.Errorf("%w: %s, want %s", ErrInvalidTransition, s.state, from)
	}
	return nil
}

func (s *Session) advance(to State) {
	s.mu.Lock()
	s.state = to
	s.mu.Unlock()
	s.logger.Debug("session advanced", zap.Stringer("state", to))
	if to.Terminal() {
		s.metrics.RecordSandboxSession(to.String())
	}
}

// fail moves the session to StateFailed. A cause that already carries a
// failure kind is wrapped so both kinds match with errors.Is.
func (s *Session) fail(kind error, op string, cause error) error {
	var err *Error
	if !errors.As(cause, &err) || err.Kind != kind {
		err = newError(kind, op, cause)
	}

	s.mu.Lock()
	s.state = StateFailed
	s.failure = err
	s.mu.Unlock()

	s.logger.Warn("session failed", zap.String("op", op), zap.Error(err))
	s.metrics.RecordSandboxSession(StateFailed.String())
	return err
}

// Install defines the browser environment, the chunk observers and the
// WebAssembly bridge.
func (s *Session) Install() error {
	if err := s.begin(StateFresh); err != nil {
		return err
	}
	timer := monitoring.NewTimer(s.metrics, "install")
	defer timer.Stop()

	if err := s.env.Install(); err != nil {
		return s.fail(ErrScriptExecution, "install", err)
	}
	if err := s.bridge.Install(); err != nil {
		return s.fail(ErrScriptExecution, "install", err)
	}
	if err := s.loader.Install(s.config.ChunkGlobals...); err != nil {
		return s.fail(ErrScriptExecution, "install", err)
	}
	s.advance(StateEnvironmentInstalled)
	return nil
}

// Load obtains the bundle and serves its page and assets to the environment
func (s *Session) Load(ctx context.Context, src BundleSource) error {
	if err := s.begin(StateEnvironmentInstalled); err != nil {
		return err
	}
	timer := monitoring.NewTimer(s.metrics, "load")
	defer timer.Stop()

	bundle, err := src.Bundle(ctx)
	if err != nil {
		return s.fail(ErrAssetFetch, "load", err)
	}
	if bundle == nil || len(bundle.Scripts) == 0 {
		return s.fail(ErrAssetFetch, "load", errors.New("bundle has no scripts"))
	}
	dom, err := ParseDOM(bundle.PageHTML)
	if err != nil {
		return s.fail(ErrAssetFetch, "load", fmt.Errorf("parse page: %w", err))
	}

	s.env.SetPage(dom)
	s.env.SetAssets(bundle.Assets)
	s.bundle = bundle
	s.logger.Debug("bundle loaded",
		zap.Int("scripts", len(bundle.Scripts)),
		zap.Int("assets", len(bundle.Assets)),
		zap.String("digest", bundle.Digest),
	)
	s.advance(StateAssetsLoaded)
	return nil
}

// Execute evaluates the bundle and the signing entry module
func (s *Session) Execute(ctx context.Context) error {
	if err := s.begin(StateAssetsLoaded); err != nil {
		return err
	}
	timer := monitoring.NewTimer(s.metrics, "execute")
	defer timer.Stop()
	s.bridge.Bind(ctx)

	for _, script := range s.bundle.Scripts {
		if _, err := s.rt.Run(ctx, script.Name, script.Source); err != nil {
			return s.fail(ErrScriptExecution, "execute", err)
		}
	}

	entry := s.config.EntryModule
	exports, err := s.loader.ExecuteModule(ctx, entry)
	if errors.Is(err, ErrModuleNotFound) && !s.loader.Has(entry) {
		s.logger.Debug("entry module missing, searching exports",
			zap.String("entry", entry),
			zap.String("export", s.config.ExportName),
		)
		entry, exports, err = s.loader.FindExport(ctx, s.config.ExportName)
	}
	if err != nil {
		return s.fail(ErrScriptExecution, "execute", err)
	}

	// Bundles expose an async initialiser that instantiates the wasm core.
	if obj, ok := exports.(*goja.Object); ok {
		if init, ok := goja.AssertFunction(obj.Get("default")); ok {
			ret, err := s.rt.Call(ctx, init, obj)
			if err == nil {
				_, err = s.rt.Await(ctx, ret)
			}
			if err != nil {
				return s.fail(ErrScriptExecution, "execute", err)
			}
		}
	}

	s.entry = entry
	s.exports = exports
	s.advance(StateModuleExecuted)
	return nil
}

// Extract reads the signature, directly from wasm memory when an instance
// was captured and through the JS export otherwise.
func (s *Session) Extract(ctx context.Context) (string, error) {
	if err := s.begin(StateModuleExecuted); err != nil {
		return "", err
	}
	timer := monitoring.NewTimer(s.metrics, "extract")
	defer timer.Stop()
	s.bridge.Bind(ctx)

	var (
		sig string
		err error
	)
	if inst := s.bridge.Current(); inst != nil && s.rawCapable(inst) {
		sig, err = s.extractRaw(ctx, inst)
	} else {
		sig, err = s.extractJS(ctx)
	}
	if err != nil {
		if errors.Is(err, ErrMalformedSignature) {
			return "", s.fail(ErrMalformedSignature, "extract", err)
		}
		return "", s.fail(ErrScriptExecution, "extract", err)
	}
	if err := validateSignature(sig); err != nil {
		return "", s.fail(ErrMalformedSignature, "extract", err)
	}

	s.sig = sig
	s.advance(StateSignatureExtracted)
	return sig, nil
}

func (s *Session) rawCapable(inst *Instance) bool {
	return inst.Memory != nil &&
		inst.HasExport(s.config.ExportName) &&
		inst.HasExport("__wbindgen_add_to_stack_pointer")
}

// extractRaw calls the bindgen ABI directly: reserve 16 bytes of shadow
// stack, let the export write (ptr, len) there, copy the string out and
// free it.
func (s *Session) extractRaw(ctx context.Context, inst *Instance) (string, error) {
	stop := s.rt.guard(ctx)
	defer stop()

	res, err := inst.Call(ctx, "__wbindgen_add_to_stack_pointer", api.EncodeI32(-16))
	if err != nil {
		return "", err
	}
	retptr := uint32(api.DecodeI32(res[0]))
	defer func() {
		if _, err := inst.Call(ctx, "__wbindgen_add_to_stack_pointer", api.EncodeI32(16)); err != nil {
			s.logger.Debug("stack pointer restore failed", zap.Error(err))
		}
	}()

	if _, err := inst.Call(ctx, s.config.ExportName, uint64(retptr), 0, 0); err != nil {
		return "", err
	}

	ptr, ok := inst.Memory.ReadUint32Le(retptr)
	if !ok {
		return "", newError(ErrMalformedSignature, "extract", errors.New("return pointer out of range"))
	}
	n, ok := inst.Memory.ReadUint32Le(retptr + 4)
	if !ok {
		return "", newError(ErrMalformedSignature, "extract", errors.New("return length out of range"))
	}
	if n == 0 || n > MaxSignatureLen {
		return "", newError(ErrMalformedSignature, "extract", fmt.Errorf("signature length %d", n))
	}
	raw, ok := inst.Memory.Read(ptr, n)
	if !ok {
		return "", newError(ErrMalformedSignature, "extract", fmt.Errorf("signature [%d, %d) out of range", ptr, ptr+n))
	}
	out := string(raw)

	if inst.HasExport("__wbindgen_export_2") {
		if _, err := inst.Call(ctx, "__wbindgen_export_2", uint64(ptr), uint64(n), 1); err != nil {
			s.logger.Debug("signature free failed", zap.Error(err))
		}
	}
	if !utf8.ValidString(out) {
		return "", newError(ErrMalformedSignature, "extract", errors.New("signature is not utf-8"))
	}
	return out, nil
}

func (s *Session) extractJS(ctx context.Context) (string, error) {
	obj, ok := s.exports.(*goja.Object)
	if !ok {
		return "", fmt.Errorf("module %s has no exports object", s.entry)
	}
	fn, ok := goja.AssertFunction(obj.Get(s.config.ExportName))
	if !ok {
		return "", fmt.Errorf("module %s does not export %s", s.entry, s.config.ExportName)
	}
	ret, err := s.rt.Call(ctx, fn, obj)
	if err != nil {
		return "", err
	}
	ret, err = s.rt.Await(ctx, ret)
	if err != nil {
		return "", err
	}
	str, ok := ret.Export().(string)
	if !ok {
		return "", newError(ErrMalformedSignature, "extract", fmt.Errorf("%s returned %s", s.config.ExportName, describe(ret)))
	}
	return str, nil
}

func validateSignature(sig string) error {
	switch {
	case strings.TrimSpace(sig) == "":
		return errors.New("empty signature")
	case len(sig) > MaxSignatureLen:
		return fmt.Errorf("signature length %d", len(sig))
	case strings.ContainsAny(sig, "\x00\r\n"):
		return errors.New("signature contains control characters")
	}
	return nil
}

// Sign drives the session from Fresh to SignatureExtracted under the
// configured timeout. The session is closed afterwards on every path.
func (s *Session) Sign(ctx context.Context, src BundleSource) (string, error) {
	defer s.Close()

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	start := time.Now()
	if s.State() == StateFresh {
		if err := s.Install(); err != nil {
			return "", err
		}
	}
	if err := s.Load(ctx, src); err != nil {
		return "", err
	}
	if err := s.Execute(ctx); err != nil {
		return "", err
	}
	sig, err := s.Extract(ctx)
	if err != nil {
		return "", err
	}
	s.logger.Info("signature extracted",
		zap.String("entry", s.entry),
		zap.Int("length", len(sig)),
		zap.Duration("duration", time.Since(start)),
	)
	return sig, nil
}

// Console returns console output captured so far
func (s *Session) Console() []LogEntry {
	return s.rt.Console()
}

// Close releases the runtime and every wasm runtime. It is safe to call
// more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.rt.Close()
	return s.bridge.Close(context.Background())
}
