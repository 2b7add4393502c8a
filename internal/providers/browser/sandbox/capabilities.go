package sandbox

import (
	"sort"
	"strings"
)

// Capability is one object category the emulator provides. Parent names the
// category whose prototype it extends; empty means Object.
type Capability struct {
	Name   string
	Parent string
}

var browserCapabilities = []Capability{
	{Name: "EventTarget"},
	{Name: "Node", Parent: "EventTarget"},
	{Name: "Element", Parent: "Node"},
	{Name: "HTMLElement", Parent: "Element"},
	{Name: "HTMLCanvasElement", Parent: "HTMLElement"},
	{Name: "HTMLDivElement", Parent: "HTMLElement"},
	{Name: "HTMLScriptElement", Parent: "HTMLElement"},
	{Name: "HTMLImageElement", Parent: "HTMLElement"},
	{Name: "HTMLIFrameElement", Parent: "HTMLElement"},
	{Name: "HTMLBodyElement", Parent: "HTMLElement"},
	{Name: "HTMLHeadElement", Parent: "HTMLElement"},
	{Name: "HTMLHtmlElement", Parent: "HTMLElement"},
	{Name: "Document", Parent: "Node"},
	{Name: "HTMLDocument", Parent: "Document"},
	{Name: "Window", Parent: "EventTarget"},
	{Name: "CanvasRenderingContext2D"},
	{Name: "WebGLRenderingContext"},
	{Name: "WebGL2RenderingContext"},
	{Name: "Navigator"},
	{Name: "Screen", Parent: "EventTarget"},
	{Name: "Storage"},
	{Name: "Location"},
	{Name: "History"},
	{Name: "Performance", Parent: "EventTarget"},
	{Name: "Crypto"},
}

// Capabilities is the table of object categories shared by the JS
// environment, which builds constructors from it, and the WASM bridge, which
// answers instanceof checks from it without calling into JS.
type Capabilities struct {
	order  []Capability
	byName map[string]Capability
}

// DefaultCapabilities returns the browser categories signing scripts check
func DefaultCapabilities() *Capabilities {
	return NewCapabilities(browserCapabilities...)
}

// NewCapabilities builds a table. Parents must precede their children.
func NewCapabilities(caps ...Capability) *Capabilities {
	c := &Capabilities{byName: make(map[string]Capability, len(caps))}
	for _, cp := range caps {
		if _, dup := c.byName[cp.Name]; dup {
			continue
		}
		c.order = append(c.order, cp)
		c.byName[cp.Name] = cp
	}
	return c
}

// Has reports whether name is in the table
func (c *Capabilities) Has(name string) bool {
	_, ok := c.byName[name]
	return ok
}

// All returns the table in declaration order
func (c *Capabilities) All() []Capability {
	return append([]Capability(nil), c.order...)
}

// Names returns the sorted category names
func (c *Capabilities) Names() []string {
	names := make([]string, 0, len(c.order))
	for _, cp := range c.order {
		names = append(names, cp.Name)
	}
	sort.Strings(names)
	return names
}

// Chain returns name followed by its ancestors
func (c *Capabilities) Chain(name string) []string {
	var chain []string
	for name != "" {
		cp, ok := c.byName[name]
		if !ok {
			break
		}
		chain = append(chain, name)
		name = cp.Parent
	}
	return chain
}

// InstanceOf reports whether category sub is, or extends, category base
func (c *Capabilities) InstanceOf(sub, base string) bool {
	for _, n := range c.Chain(sub) {
		if n == base {
			return true
		}
	}
	return false
}

const instanceofPrefix = "__wbg_instanceof_"

// ParseInstanceofImport extracts the category from a bindgen instanceof import such as
// "__wbg_instanceof_Window_b5cf7783caa68180".
func ParseInstanceofImport(importName string) (string, bool) {
	rest, ok := strings.CutPrefix(importName, instanceofPrefix)
	if !ok || rest == "" {
		return "", false
	}
	if i := strings.LastIndexByte(rest, '_'); i > 0 && isHashSuffix(rest[i+1:]) {
		rest = rest[:i]
	}
	return rest, true
}

func isHashSuffix(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			return false
		}
	}
	return true
}
