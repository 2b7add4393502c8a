package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// Chunk describes one registration observed on a chunk array
type Chunk struct {
	Global  string
	IDs     []string
	Modules []string
}

// Loader captures bundler module factories as chunks register and executes
// them on demand with a restricted require.
type Loader struct {
	rt        *Runtime
	logger    *zap.Logger
	factories map[string]goja.Callable
	records   map[string]*goja.Object
	observers []func(Chunk)
	require   *goja.Object
}

// NewLoader creates a loader bound to rt
func NewLoader(rt *Runtime, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Loader{
		rt:        rt,
		logger:    logger,
		factories: make(map[string]goja.Callable),
		records:   make(map[string]*goja.Object),
	}
	l.require = l.newRequire()
	return l
}

// OnChunk registers fn to be called after every captured chunk
func (l *Loader) OnChunk(fn func(Chunk)) {
	l.observers = append(l.observers, fn)
}

// Install places an observable chunk array at each global. Chunks already
// sitting in an existing array are captured immediately.
func (l *Loader) Install(globals ...string) error {
	vm := l.rt.vm
	for _, name := range globals {
		arr, _ := vm.Get(name).(*goja.Object)
		if arr == nil || arr.ClassName() != "Array" {
			arr = vm.NewArray()
		}
		if err := l.observe(name, arr); err != nil {
			return err
		}
		if err := vm.GlobalObject().Set(name, arr); err != nil {
			return err
		}
		for i := int64(0); i < arr.Get("length").ToInteger(); i++ {
			l.capture(name, arr.Get(strconv.FormatInt(i, 10)))
		}
	}
	return nil
}

func (l *Loader) observe(name string, arr *goja.Object) error {
	vm := l.rt.vm
	nativePush, ok := goja.AssertFunction(vm.Get("Array").ToObject(vm).Get("prototype").ToObject(vm).Get("push"))
	if !ok {
		return errors.New("Array.prototype.push is not callable")
	}

	push := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		for _, chunk := range call.Arguments {
			l.capture(name, chunk)
		}
		n, err := nativePush(arr, call.Arguments...)
		if err != nil {
			panic(err)
		}
		return n
	})
	// The bundler runtime reassigns push to chain its own callback. The
	// setter swallows that so capture stays in place.
	replace := vm.ToValue(func(goja.FunctionCall) goja.Value {
		l.logger.Debug("ignored chunk push replacement", zap.String("global", name))
		return goja.Undefined()
	})
	return arr.DefineAccessorProperty("push", vm.ToValue(func(goja.FunctionCall) goja.Value { return push }), replace, goja.FLAG_TRUE, goja.FLAG_FALSE)
}

func (l *Loader) capture(global string, chunk goja.Value) {
	obj, ok := chunk.(*goja.Object)
	if !ok {
		return
	}
	c := Chunk{Global: global}

	if ids, ok := obj.Get("0").(*goja.Object); ok {
		for _, k := range ids.Keys() {
			c.IDs = append(c.IDs, ids.Get(k).String())
		}
	}

	table, ok := obj.Get("1").(*goja.Object)
	if !ok {
		return
	}
	for _, id := range table.Keys() {
		fn, ok := goja.AssertFunction(table.Get(id))
		if !ok {
			continue
		}
		l.factories[id] = fn
		c.Modules = append(c.Modules, id)
	}
	l.logger.Debug("captured chunk",
		zap.String("global", global),
		zap.Strings("chunks", c.IDs),
		zap.Int("modules", len(c.Modules)),
	)
	for _, fn := range l.observers {
		fn(c)
	}
}

// Has reports whether a factory for id was captured
func (l *Loader) Has(id string) bool {
	_, ok := l.factories[id]
	return ok
}

// IDs returns captured module ids in ascending order
func (l *Loader) IDs() []string {
	ids := make([]string, 0, len(l.factories))
	for id := range l.factories {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

// sortIDs orders numeric ids numerically, before any non-numeric ones
func sortIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.ParseInt(ids[i], 10, 64)
		b, errB := strconv.ParseInt(ids[j], 10, 64)
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		}
		return ids[i] < ids[j]
	})
}

// ExecuteModule returns the exports of module id, evaluating its factory on
// the first call only.
func (l *Loader) ExecuteModule(ctx context.Context, id string) (goja.Value, error) {
	stop := l.rt.guard(ctx)
	defer stop()

	exports, err := l.execute(id)
	if err != nil {
		return nil, err
	}
	if err := l.rt.drain(ctx); err != nil {
		return nil, newError(ErrScriptExecution, "execute_module", err)
	}
	return exports, nil
}

func (l *Loader) execute(id string) (goja.Value, error) {
	if record, ok := l.records[id]; ok {
		return record.Get("exports"), nil
	}
	factory, ok := l.factories[id]
	if !ok {
		return nil, &Error{
			Kind:  ErrModuleNotFound,
			Op:    "execute_module",
			Err:   fmt.Errorf("module %q", id),
			Known: l.IDs(),
		}
	}

	vm := l.rt.vm
	exports := vm.NewObject()
	record := vm.NewObject()
	_ = record.Set("id", id)
	_ = record.Set("loaded", false)
	_ = record.Set("exports", exports)

	// Registered before evaluation so circular requires see partial exports.
	l.records[id] = record
	if _, err := factory(exports, record, exports, l.require); err != nil {
		delete(l.records, id)
		var se *Error
		if errors.As(err, &se) {
			return nil, se
		}
		return nil, newError(ErrScriptExecution, "execute_module", l.rt.scriptError(context.Background(), "module "+id, err))
	}
	_ = record.Set("loaded", true)
	return record.Get("exports"), nil
}

// FindExport returns the exports of the first module, by ascending id, that
// exposes name. Modules that fail to evaluate are skipped.
func (l *Loader) FindExport(ctx context.Context, name string) (string, goja.Value, error) {
	for _, id := range l.IDs() {
		if err := ctx.Err(); err != nil {
			return "", nil, newError(ErrScriptExecution, "find_export", err)
		}
		exports, err := l.ExecuteModule(ctx, id)
		if err != nil {
			l.logger.Debug("module skipped", zap.String("module", id), zap.Error(err))
			continue
		}
		if obj, ok := exports.(*goja.Object); ok {
			if v := obj.Get(name); v != nil && !goja.IsUndefined(v) {
				return id, exports, nil
			}
		}
	}
	return "", nil, &Error{
		Kind:  ErrModuleNotFound,
		Op:    "find_export",
		Err:   fmt.Errorf("no module exports %q", name),
		Known: l.IDs(),
	}
}

func (l *Loader) newRequire() *goja.Object {
	vm := l.rt.vm

	req := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		exports, err := l.execute(call.Argument(0).String())
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return exports
	}).(*goja.Object)

	_ = req.Set("r", func(call goja.FunctionCall) goja.Value {
		exports := call.Argument(0).ToObject(vm)
		_ = exports.DefineDataPropertySymbol(goja.SymToStringTag, vm.ToValue("Module"), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE)
		_ = exports.DefineDataProperty("__esModule", vm.ToValue(true), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE)
		return goja.Undefined()
	})
	_ = req.Set("d", func(call goja.FunctionCall) goja.Value {
		exports := call.Argument(0).ToObject(vm)
		definition := call.Argument(1).ToObject(vm)
		for _, key := range definition.Keys() {
			if hasOwn(exports, key) {
				continue
			}
			if err := exports.DefineAccessorProperty(key, definition.Get(key), nil, goja.FLAG_FALSE, goja.FLAG_TRUE); err != nil {
				panic(err)
			}
		}
		return goja.Undefined()
	})
	_ = req.Set("n", func(call goja.FunctionCall) goja.Value {
		module := call.Argument(0)
		getter := vm.ToValue(func(goja.FunctionCall) goja.Value {
			if obj, ok := module.(*goja.Object); ok && obj.Get("__esModule") != nil && obj.Get("__esModule").ToBoolean() {
				return obj.Get("default")
			}
			return module
		}).(*goja.Object)
		if err := getter.DefineAccessorProperty("a", getter, nil, goja.FLAG_FALSE, goja.FLAG_TRUE); err != nil {
			panic(err)
		}
		return getter
	})
	return req
}

func hasOwn(obj *goja.Object, key string) bool {
	for _, k := range obj.GetOwnPropertyNames() {
		if k == key {
			return true
		}
	}
	return false
}
