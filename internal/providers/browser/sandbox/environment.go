package sandbox

import (
	_ "embed"
	"encoding/base64"
	"net/url"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/dop251/goja"
)

//go:embed js/environment.js
var environmentJS string

// Environment installs the browser globals into a Runtime and answers the
// host calls they make. The DOM snapshot and served assets can be swapped in
// after install, once the bundle has been loaded.
type Environment struct {
	rt     *Runtime
	caps   *Capabilities
	fx     Fixtures
	sc     SignContext
	dom    *DOM
	page   int64
	assets map[string][]byte
}

// NewEnvironment prepares an environment for rt with an empty page
func NewEnvironment(rt *Runtime, sc SignContext) *Environment {
	dom, _ := ParseDOM("")
	return &Environment{
		rt:   rt,
		caps: rt.config.Capabilities,
		fx:   rt.config.Fixtures,
		sc:   sc,
		dom:  dom,
	}
}

// Href is the page URL scripts see as location.href
func (e *Environment) Href() string {
	href := strings.TrimRight(e.fx.Origin, "/") + e.fx.PagePath
	if e.sc.TrackingNumber != "" {
		href += "#nums=" + e.sc.TrackingNumber
	}
	return href
}

// SetPage replaces the DOM snapshot served to document queries. Elements
// wrapped from the previous snapshot are dropped.
func (e *Environment) SetPage(dom *DOM) {
	if dom != nil {
		e.dom = dom
		e.page++
	}
}

// SetAssets replaces the resources served to fetch()
func (e *Environment) SetAssets(assets map[string][]byte) {
	e.assets = assets
}

// Install defines window, document and the rest of the browser surface
func (e *Environment) Install() error {
	vm := e.rt.vm

	console := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug", "trace"} {
		if err := console.Set(level, e.rt.makeConsoleFunc(level)); err != nil {
			return err
		}
	}
	if err := vm.Set("console", console); err != nil {
		return err
	}
	if err := vm.Set("__host", e.hostObject()); err != nil {
		return err
	}

	if _, err := vm.RunScript("environment.js", environmentJS); err != nil {
		return err
	}
	return nil
}

func (e *Environment) hostObject() *goja.Object {
	vm := e.rt.vm
	host := vm.NewObject()

	caps := make([]interface{}, 0, len(e.caps.order))
	for _, cp := range e.caps.All() {
		caps = append(caps, vm.NewArray(cp.Name, cp.Parent))
	}

	set := func(name string, v interface{}) {
		_ = host.Set(name, v)
	}

	set("capabilities", vm.NewArray(caps...))
	set("fixtures", e.fixtureObject())
	set("location", e.locationRecord(e.Href(), ""))
	set("timeOrigin", float64(e.rt.base.UnixMicro())/1000)

	set("perfNow", func() float64 { return e.rt.PerformanceNow() })
	set("atob", e.atob)
	set("btoa", e.btoa)
	set("encode", func(s string) goja.ArrayBuffer { return vm.NewArrayBuffer([]byte(s)) })
	set("decode", e.decode)
	set("fillRandom", e.fillRandom)
	set("setTimer", e.setTimer)
	set("clearTimer", func(id int64) { e.rt.timers.Remove(id) })
	set("domQuery", e.domQuery)
	set("domByID", e.domByID)
	set("domTitle", func() string { return e.dom.Title() })
	set("pageVersion", func() int64 { return e.page })
	set("asset", e.asset)
	set("parseURL", func(raw, base string) goja.Value {
		if rec := e.locationRecord(raw, base); rec != nil {
			return rec
		}
		return goja.Null()
	})

	return host
}

func (e *Environment) fixtureObject() *goja.Object {
	o := e.rt.vm.NewObject()
	fx := e.fx
	for k, v := range map[string]interface{}{
		"userAgent":           fx.UserAgent,
		"platform":            fx.Platform,
		"language":            fx.Language,
		"vendor":              fx.Vendor,
		"gpuVendor":           fx.GPUVendor,
		"gpuRenderer":         fx.GPURenderer,
		"screenWidth":         fx.ScreenWidth,
		"screenHeight":        fx.ScreenHeight,
		"colorDepth":          fx.ColorDepth,
		"hardwareConcurrency": fx.HardwareConcurrency,
		"deviceMemory":        fx.DeviceMemory,
		"timezoneOffset":      fx.TimezoneOffset,
		"canvasDataURL":       fx.CanvasDataURL,
	} {
		_ = o.Set(k, v)
	}
	return o
}

// locationRecord resolves raw against base and returns the URL parts, or nil
// when raw does not parse to an absolute URL.
func (e *Environment) locationRecord(raw, base string) *goja.Object {
	u, err := url.Parse(raw)
	if err != nil {
		return nil
	}
	if base != "" {
		b, err := url.Parse(base)
		if err != nil || !b.IsAbs() {
			return nil
		}
		u = b.ResolveReference(u)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil
	}

	pathname := u.EscapedPath()
	if pathname == "" {
		pathname = "/"
	}
	search := ""
	if u.RawQuery != "" {
		search = "?" + u.RawQuery
	}
	hash := ""
	if u.Fragment != "" {
		hash = "#" + u.EscapedFragment()
	}
	origin := u.Scheme + "://" + u.Host

	o := e.rt.vm.NewObject()
	for k, v := range map[string]string{
		"href":     origin + pathname + search + hash,
		"protocol": u.Scheme + ":",
		"host":     u.Host,
		"hostname": u.Hostname(),
		"port":     u.Port(),
		"pathname": pathname,
		"search":   search,
		"hash":     hash,
		"origin":   origin,
	} {
		_ = o.Set(k, v)
	}
	return o
}

func (e *Environment) invalidCharacter(msg string) {
	vm := e.rt.vm
	ex, err := vm.New(vm.Get("Error"), vm.ToValue(msg))
	if err != nil {
		panic(vm.NewTypeError(msg))
	}
	_ = ex.Set("name", "InvalidCharacterError")
	panic(ex)
}

func (e *Environment) btoa(s string) string {
	buf := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xff {
			e.invalidCharacter("Failed to execute 'btoa' on 'Window': The string to be encoded contains characters outside of the Latin1 range.")
		}
		buf = append(buf, byte(r))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

func (e *Environment) atob(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\f', '\r':
			return -1
		}
		return r
	}, s)
	s = strings.TrimRight(s, "=")
	raw, err := base64.RawStdEncoding.DecodeString(s)
	if err != nil {
		e.invalidCharacter("Failed to execute 'atob' on 'Window': The string to be decoded is not correctly encoded.")
	}
	runes := make([]rune, len(raw))
	for i, b := range raw {
		runes[i] = rune(b)
	}
	return string(runes)
}

// bytesOf views an ArrayBuffer, typed array or DataView as bytes. Typed
// arrays share memory with the script.
func (e *Environment) bytesOf(v goja.Value) ([]byte, bool) {
	if ab, ok := v.Export().(goja.ArrayBuffer); ok {
		return ab.Bytes(), true
	}
	var b []byte
	if err := e.rt.vm.ExportTo(v, &b); err != nil {
		return nil, false
	}
	return b, true
}

func (e *Environment) decode(input goja.Value, fatal, ignoreBOM bool) string {
	b, ok := e.bytesOf(input)
	if !ok {
		panic(e.rt.vm.NewTypeError("Failed to execute 'decode' on 'TextDecoder': The provided value is not of type '(ArrayBuffer or ArrayBufferView)'"))
	}
	if !ignoreBOM && len(b) >= 3 && b[0] == 0xef && b[1] == 0xbb && b[2] == 0xbf {
		b = b[3:]
	}
	if utf8.Valid(b) {
		return string(b)
	}
	if fatal {
		panic(e.rt.vm.NewTypeError("The encoded data was not valid for encoding utf-8"))
	}
	return strings.ToValidUTF8(string(b), "�")
}

func (e *Environment) fillRandom(arr goja.Value) {
	b, ok := e.bytesOf(arr)
	if !ok {
		panic(e.rt.vm.NewTypeError("Failed to execute 'getRandomValues' on 'Crypto': parameter 1 is not of type 'ArrayBufferView'"))
	}
	if len(b) > 65536 {
		panic(e.rt.vm.NewTypeError("Failed to execute 'getRandomValues' on 'Crypto': The ArrayBufferView's byte length exceeds the number of bytes of entropy available via this API (65536)."))
	}
	for i := range b {
		b[i] = byte(e.rt.rng.Uint32())
	}
}

func (e *Environment) setTimer(call goja.FunctionCall) goja.Value {
	var args []goja.Value
	if len(call.Arguments) > 3 {
		args = append(args, call.Arguments[3:]...)
	}
	id := e.rt.timers.Add(call.Argument(0), call.Argument(1).ToFloat(), call.Argument(2).ToBoolean(), args)
	return e.rt.vm.ToValue(id)
}

func (e *Environment) domQuery(selector string, all bool) goja.Value {
	vm := e.rt.vm
	found := e.dom.Query(selector)
	if all {
		items := make([]interface{}, 0, len(found))
		for _, el := range found {
			items = append(items, el.record())
		}
		return vm.NewArray(items...)
	}
	if len(found) == 0 {
		return goja.Null()
	}
	return vm.ToValue(found[0].record())
}

func (e *Environment) domByID(id string) goja.Value {
	if el := e.dom.ByID(id); el != nil {
		return e.rt.vm.ToValue(el.record())
	}
	return goja.Null()
}

// asset serves a bundle resource by URL, path or file name
func (e *Environment) asset(raw string) goja.Value {
	if body, ok := e.lookupAsset(raw); ok {
		return e.rt.vm.ToValue(e.rt.vm.NewArrayBuffer(append([]byte(nil), body...)))
	}
	return goja.Null()
}

func (e *Environment) lookupAsset(raw string) ([]byte, bool) {
	if body, ok := e.assets[raw]; ok {
		return body, true
	}
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	}
	if body, ok := e.assets[p]; ok {
		return body, true
	}
	body, ok := e.assets[path.Base(p)]
	return body, ok
}
