package sandbox

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/dop251/goja"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

//go:embed js/webassembly.js
var webassemblyJS string

// Instance is the WASM instance captured from the most recent instantiation
type Instance struct {
	Module api.Module
	Memory api.Memory
}

// HasExport reports whether the instance exports a function named name
func (i *Instance) HasExport(name string) bool {
	return i.Module.ExportedFunction(name) != nil
}

// Call invokes an exported function with raw wasm values
func (i *Instance) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	fn := i.Module.ExportedFunction(name)
	if fn == nil {
		return nil, fmt.Errorf("wasm export %q not found", name)
	}
	return fn.Call(ctx, params...)
}

type wasmModule struct {
	bytes    []byte
	compiled wazero.CompiledModule
}

type memoryView struct {
	mem  api.Memory
	size uint32
	buf  goja.ArrayBuffer
	live bool
}

// Bridge implements the WebAssembly global on top of wazero. Every
// instantiation gets its own wazero runtime so host modules never collide;
// all of them are released by Close.
type Bridge struct {
	rt       *Runtime
	caps     *Capabilities
	logger   *zap.Logger
	ctx      context.Context
	cache    wazero.CompilationCache
	ownCache bool
	compiler wazero.Runtime
	runtimes []wazero.Runtime
	views    []*memoryView
	current  *Instance
	observer func(*Instance)
}

// NewBridge creates a bridge for rt. A nil cache gets a private one.
func NewBridge(rt *Runtime, cache wazero.CompilationCache, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bridge{
		rt:     rt,
		caps:   rt.config.Capabilities,
		logger: logger,
		ctx:    context.Background(),
		cache:  cache,
	}
	if b.cache == nil {
		b.cache = wazero.NewCompilationCache()
		b.ownCache = true
	}
	return b
}

// Bind sets the context wasm calls run under until the next Bind
func (b *Bridge) Bind(ctx context.Context) {
	b.ctx = ctx
}

// OnInstance registers fn to observe each new instance
func (b *Bridge) OnInstance(fn func(*Instance)) {
	b.observer = fn
}

// Current returns the latest captured instance, or nil
func (b *Bridge) Current() *Instance {
	return b.current
}

// Install defines the WebAssembly global
func (b *Bridge) Install() error {
	vm := b.rt.vm
	host := vm.NewObject()
	_ = host.Set("compile", b.jsCompile)
	_ = host.Set("validate", b.jsValidate)
	_ = host.Set("imports", b.jsImports)
	_ = host.Set("exports", b.jsExports)
	_ = host.Set("instantiate", b.jsInstantiate)

	if err := vm.Set("__wasm", host); err != nil {
		return err
	}
	_, err := vm.RunScript("webassembly.js", webassemblyJS)
	return err
}

func (b *Bridge) compilerRuntime() wazero.Runtime {
	if b.compiler == nil {
		b.compiler = b.newRuntime()
	}
	return b.compiler
}

func (b *Bridge) newRuntime() wazero.Runtime {
	config := wazero.NewRuntimeConfig().
		WithCompilationCache(b.cache).
		WithCloseOnContextDone(true)
	return wazero.NewRuntimeWithConfig(b.ctx, config)
}

func (b *Bridge) sourceBytes(v goja.Value) []byte {
	if ab, ok := v.Export().(goja.ArrayBuffer); ok {
		return append([]byte(nil), ab.Bytes()...)
	}
	var raw []byte
	if err := b.rt.vm.ExportTo(v, &raw); err != nil {
		panic(b.rt.vm.NewTypeError("WebAssembly: argument must be a buffer source"))
	}
	return append([]byte(nil), raw...)
}

func (b *Bridge) jsCompile(call goja.FunctionCall) goja.Value {
	src := b.sourceBytes(call.Argument(0))
	compiled, err := b.compilerRuntime().CompileModule(b.ctx, src)
	if err != nil {
		panic(b.rt.vm.NewGoError(err))
	}
	return b.rt.vm.ToValue(&wasmModule{bytes: src, compiled: compiled})
}

func (b *Bridge) jsValidate(call goja.FunctionCall) goja.Value {
	compiled, err := b.compilerRuntime().CompileModule(b.ctx, b.sourceBytes(call.Argument(0)))
	if err != nil {
		return b.rt.vm.ToValue(false)
	}
	_ = compiled.Close(b.ctx)
	return b.rt.vm.ToValue(true)
}

func (b *Bridge) handle(v goja.Value) *wasmModule {
	m, ok := v.Export().(*wasmModule)
	if !ok {
		panic(b.rt.vm.NewTypeError("WebAssembly: argument must be a WebAssembly.Module"))
	}
	return m
}

func (b *Bridge) jsImports(call goja.FunctionCall) goja.Value {
	compiled := b.handle(call.Argument(0)).compiled
	var out []interface{}
	for _, def := range compiled.ImportedFunctions() {
		mod, name, _ := def.Import()
		out = append(out, map[string]interface{}{"module": mod, "name": name, "kind": "function"})
	}
	for _, def := range compiled.ImportedMemories() {
		mod, name, _ := def.Import()
		out = append(out, map[string]interface{}{"module": mod, "name": name, "kind": "memory"})
	}
	return b.rt.vm.NewArray(out...)
}

func (b *Bridge) jsExports(call goja.FunctionCall) goja.Value {
	compiled := b.handle(call.Argument(0)).compiled
	var out []interface{}
	for _, name := range sortedKeys(compiled.ExportedFunctions()) {
		out = append(out, map[string]interface{}{"name": name, "kind": "function"})
	}
	for _, name := range sortedKeys(compiled.ExportedMemories()) {
		out = append(out, map[string]interface{}{"name": name, "kind": "memory"})
	}
	return b.rt.vm.NewArray(out...)
}

func (b *Bridge) jsInstantiate(call goja.FunctionCall) goja.Value {
	m := b.handle(call.Argument(0))
	var imports *goja.Object
	if obj, ok := call.Argument(1).(*goja.Object); ok {
		imports = obj
	}
	exports, err := b.instantiate(m, imports)
	if err != nil {
		b.rethrow(err)
	}
	return exports
}

// instantiate links m against the JS import object in a fresh runtime and
// captures the resulting instance.
func (b *Bridge) instantiate(m *wasmModule, imports *goja.Object) (*goja.Object, error) {
	ctx := b.ctx
	if len(m.compiled.ImportedMemories()) > 0 {
		return nil, errors.New("imported memory is not supported")
	}

	r := b.newRuntime()
	b.runtimes = append(b.runtimes, r)

	compiled, err := r.CompileModule(ctx, m.bytes)
	if err != nil {
		return nil, err
	}

	byModule := make(map[string][]api.FunctionDefinition)
	for _, def := range compiled.ImportedFunctions() {
		mod, _, _ := def.Import()
		byModule[mod] = append(byModule[mod], def)
	}
	for _, modName := range sortedKeys(byModule) {
		builder := r.NewHostModuleBuilder(modName)
		for _, def := range byModule[modName] {
			_, name, _ := def.Import()
			builder.NewFunctionBuilder().
				WithGoModuleFunction(b.importFunc(modName, name, def, imports), def.ParamTypes(), def.ResultTypes()).
				Export(name)
		}
		if _, err := builder.Instantiate(ctx); err != nil {
			return nil, fmt.Errorf("link %s: %w", modName, err)
		}
	}

	mod, err := r.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return nil, err
	}

	exports := b.rt.vm.NewObject()
	inst := &Instance{Module: mod}
	for _, name := range sortedKeys(compiled.ExportedFunctions()) {
		def := compiled.ExportedFunctions()[name]
		_ = exports.Set(name, b.exportFunc(mod.ExportedFunction(name), def))
	}
	for _, name := range sortedKeys(compiled.ExportedMemories()) {
		mem := mod.ExportedMemory(name)
		if inst.Memory == nil {
			inst.Memory = mem
		}
		_ = exports.Set(name, b.memoryObject(mem))
	}

	b.current = inst
	b.logger.Debug("wasm instance captured",
		zap.Int("functions", len(compiled.ExportedFunctions())),
		zap.Bool("memory", inst.Memory != nil),
	)
	if b.observer != nil {
		b.observer(inst)
	}
	return exports, nil
}

// importFunc resolves one import. Instanceof imports answer 1 from the
// capability table; everything else calls into the JS import object, and
// a missing import returns zero.
func (b *Bridge) importFunc(modName, name string, def api.FunctionDefinition, imports *goja.Object) api.GoModuleFunction {
	params, results := def.ParamTypes(), def.ResultTypes()

	if category, ok := ParseInstanceofImport(name); ok {
		if !b.caps.Has(category) {
			b.logger.Debug("instanceof import for unlisted category", zap.String("category", category))
		}
		return api.GoModuleFunc(func(_ context.Context, _ api.Module, stack []uint64) {
			if len(results) > 0 {
				stack[0] = api.EncodeI32(1)
			}
		})
	}

	var fn goja.Callable
	if imports != nil {
		if ns, ok := imports.Get(modName).(*goja.Object); ok {
			fn, _ = goja.AssertFunction(ns.Get(name))
		}
	}
	if fn == nil {
		b.logger.Debug("wasm import missing", zap.String("module", modName), zap.String("name", name))
		return api.GoModuleFunc(func(_ context.Context, _ api.Module, stack []uint64) {
			for i := range results {
				stack[i] = 0
			}
		})
	}

	return api.GoModuleFunc(func(_ context.Context, _ api.Module, stack []uint64) {
		b.refreshViews()
		args := make([]goja.Value, len(params))
		for i, t := range params {
			args[i] = b.fromWasm(t, stack[i])
		}
		ret, err := fn(goja.Undefined(), args...)
		if err != nil {
			panic(err)
		}
		if len(results) > 0 {
			stack[0] = b.toWasm(results[0], ret)
		}
	})
}

func (b *Bridge) exportFunc(fn api.Function, def api.FunctionDefinition) func(goja.FunctionCall) goja.Value {
	params, results := def.ParamTypes(), def.ResultTypes()
	return func(call goja.FunctionCall) goja.Value {
		stack := make([]uint64, max(len(params), len(results)))
		for i, t := range params {
			stack[i] = b.toWasm(t, call.Argument(i))
		}
		err := fn.CallWithStack(b.ctx, stack)
		b.refreshViews()
		if err != nil {
			b.rethrow(err)
		}
		if len(results) == 0 {
			return goja.Undefined()
		}
		return b.fromWasm(results[0], stack[0])
	}
}

// rethrow raises err in JS, preserving exceptions thrown by JS imports
func (b *Bridge) rethrow(err error) {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		panic(ex)
	}
	panic(b.rt.vm.NewGoError(err))
}

func (b *Bridge) fromWasm(t api.ValueType, v uint64) goja.Value {
	vm := b.rt.vm
	switch t {
	case api.ValueTypeI32:
		return vm.ToValue(api.DecodeI32(v))
	case api.ValueTypeI64:
		return vm.ToValue(big.NewInt(int64(v)))
	case api.ValueTypeF32:
		return vm.ToValue(float64(api.DecodeF32(v)))
	case api.ValueTypeF64:
		return vm.ToValue(api.DecodeF64(v))
	default:
		return goja.Undefined()
	}
}

func (b *Bridge) toWasm(t api.ValueType, v goja.Value) uint64 {
	switch t {
	case api.ValueTypeI32:
		return api.EncodeI32(int32(v.ToInteger()))
	case api.ValueTypeI64:
		if n, ok := v.Export().(*big.Int); ok {
			return uint64(n.Int64())
		}
		return uint64(v.ToInteger())
	case api.ValueTypeF32:
		return api.EncodeF32(float32(v.ToFloat()))
	case api.ValueTypeF64:
		return api.EncodeF64(v.ToFloat())
	default:
		return 0
	}
}

// memoryObject exposes linear memory as WebAssembly.Memory. buffer aliases
// wasm memory; when memory grows the old buffer is detached so cached views
// notice and re-read it.
func (b *Bridge) memoryObject(mem api.Memory) *goja.Object {
	vm := b.rt.vm
	view := &memoryView{mem: mem}
	b.views = append(b.views, view)

	obj := vm.NewObject()
	getter := vm.ToValue(func(goja.FunctionCall) goja.Value {
		return vm.ToValue(view.buffer(vm))
	})
	_ = obj.DefineAccessorProperty("buffer", getter, nil, goja.FLAG_TRUE, goja.FLAG_TRUE)
	_ = obj.Set("grow", func(call goja.FunctionCall) goja.Value {
		prev, ok := mem.Grow(uint32(call.Argument(0).ToInteger()))
		if !ok {
			panic(vm.NewGoError(errors.New("WebAssembly.Memory.grow(): Maximum memory size exceeded")))
		}
		view.invalidate()
		return vm.ToValue(prev)
	})
	return obj
}

func (v *memoryView) buffer(vm *goja.Runtime) goja.ArrayBuffer {
	size := v.mem.Size()
	if !v.live || size != v.size {
		v.invalidate()
		data, _ := v.mem.Read(0, size)
		v.buf = vm.NewArrayBuffer(data)
		v.size = size
		v.live = true
	}
	return v.buf
}

func (v *memoryView) invalidate() {
	if v.live {
		v.buf.Detach()
		v.live = false
	}
}

func (b *Bridge) refreshViews() {
	for _, v := range b.views {
		if v.live && v.mem.Size() != v.size {
			v.invalidate()
		}
	}
}

// Close releases every wazero runtime the bridge created
func (b *Bridge) Close(ctx context.Context) error {
	var errs []error
	for _, r := range b.runtimes {
		errs = append(errs, r.Close(ctx))
	}
	b.runtimes = nil
	if b.compiler != nil {
		errs = append(errs, b.compiler.Close(ctx))
		b.compiler = nil
	}
	if b.ownCache {
		errs = append(errs, b.cache.Close(ctx))
		b.ownCache = false
	}
	b.current = nil
	return errors.Join(errs...)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
