package sandbox

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// errPromisePending is returned when a promise cannot settle because
// nothing is left in the timer queue.
var errPromisePending = errors.New("promise never settled")

// Runtime wraps a goja VM with interrupts, virtual timers and console capture.
// A Runtime is owned by one goroutine; only the interrupt watcher touches it
// from elsewhere.
type Runtime struct {
	vm     *goja.Runtime
	config Config
	logger *zap.Logger
	rng    *rand.Rand
	timers *timerQueue
	base   time.Time

	console   []LogEntry
	consoleMu sync.Mutex
}

// NewRuntime creates a runtime with deterministic time and randomness
func NewRuntime(config Config, logger *zap.Logger) *Runtime {
	config = config.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	seed := uint64(config.Seed)
	if seed == 0 {
		var b [8]byte
		_, _ = crand.Read(b[:])
		seed = binary.LittleEndian.Uint64(b[:])
	}

	vm := goja.New()
	r := &Runtime{
		vm:     vm,
		config: config,
		logger: logger,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		base:   config.Clock(),
	}
	r.timers = newTimerQueue(config.TimerBudget)

	vm.SetMaxCallStackSize(config.MaxCallStack)
	vm.SetRandSource(r.rng.Float64)
	vm.SetTimeSource(r.Now)

	return r
}

// VM exposes the underlying goja runtime
func (r *Runtime) VM() *goja.Runtime {
	return r.vm
}

// Now is the script-visible wall clock: the configured clock plus virtual
// time consumed by timers.
func (r *Runtime) Now() time.Time {
	return r.config.Clock().Add(r.timers.Elapsed())
}

// PerformanceNow returns milliseconds since the runtime was created
func (r *Runtime) PerformanceNow() float64 {
	return float64(r.Now().Sub(r.base).Microseconds()) / 1000
}

// guard interrupts the VM when ctx ends. The returned stop must be called
// before the VM is used again.
func (r *Runtime) guard(ctx context.Context) func() {
	done := make(chan struct{})
	exited := make(chan struct{})

	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
			r.vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	return func() {
		close(done)
		<-exited
		r.vm.ClearInterrupt()
	}
}

// Run evaluates a script under ctx and drains resulting timers
func (r *Runtime) Run(ctx context.Context, name, src string) (goja.Value, error) {
	stop := r.guard(ctx)
	defer stop()

	val, err := r.vm.RunScript(name, src)
	if err != nil {
		return nil, r.scriptError(ctx, name, err)
	}
	if err := r.drain(ctx); err != nil {
		return nil, err
	}
	return val, nil
}

// Call invokes fn under ctx and drains resulting timers
func (r *Runtime) Call(ctx context.Context, fn goja.Callable, this goja.Value, args ...goja.Value) (goja.Value, error) {
	stop := r.guard(ctx)
	defer stop()

	if this == nil {
		this = goja.Undefined()
	}
	val, err := fn(this, args...)
	if err != nil {
		return nil, r.scriptError(ctx, "call", err)
	}
	if err := r.drain(ctx); err != nil {
		return nil, err
	}
	return val, nil
}

// Await resolves v if it is a promise, running timers until it settles
func (r *Runtime) Await(ctx context.Context, v goja.Value) (goja.Value, error) {
	if v == nil {
		return goja.Undefined(), nil
	}
	p, ok := v.Export().(*goja.Promise)
	if !ok {
		return v, nil
	}

	stop := r.guard(ctx)
	defer stop()

	for {
		switch p.State() {
		case goja.PromiseStateFulfilled:
			return p.Result(), nil
		case goja.PromiseStateRejected:
			return nil, fmt.Errorf("promise rejected: %s", describe(p.Result()))
		}

		ran, err := r.timers.RunNext()
		if err != nil {
			return nil, r.scriptError(ctx, "timer", err)
		}
		if !ran {
			return nil, errPromisePending
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

func (r *Runtime) drain(ctx context.Context) error {
	if err := r.timers.Drain(ctx); err != nil {
		return r.scriptError(ctx, "timer", err)
	}
	return nil
}

func (r *Runtime) scriptError(ctx context.Context, name string, err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if cause, ok := interrupted.Value().(error); ok {
			return fmt.Errorf("%s: interrupted: %w", name, cause)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: interrupted: %w", name, ctxErr)
		}
	}
	return fmt.Errorf("%s: %w", name, err)
}

// Console returns a copy of captured console output
func (r *Runtime) Console() []LogEntry {
	r.consoleMu.Lock()
	defer r.consoleMu.Unlock()
	return append([]LogEntry(nil), r.console...)
}

func (r *Runtime) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, describe(arg))
		}
		msg := strings.Join(parts, " ")

		r.consoleMu.Lock()
		r.console = append(r.console, LogEntry{
			Level:   level,
			Message: msg,
			Time:    time.Now(),
		})
		r.consoleMu.Unlock()

		if r.config.EnableConsole {
			r.logger.Debug("console", zap.String("level", level), zap.String("message", msg))
		}
		return goja.Undefined()
	}
}

// Close releases the VM
func (r *Runtime) Close() {
	r.timers.Clear()
	r.vm.ClearInterrupt()
}

func describe(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	if obj, ok := v.(*goja.Object); ok {
		if stack := obj.Get("stack"); stack != nil && !goja.IsUndefined(stack) {
			return stack.String()
		}
	}
	return v.String()
}
