package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseInstanceofImport(t *testing.T) {
	tests := []struct {
		name   string
		want   string
		wantOK bool
	}{
		{name: "__wbg_instanceof_Window_b5cf7783caa68180", want: "Window", wantOK: true},
		{name: "__wbg_instanceof_CanvasRenderingContext2d_df519bc1a6b2d8dc", want: "CanvasRenderingContext2d", wantOK: true},
		{name: "__wbg_instanceof_HtmlCanvasElement_46bdbf323b0b18d1", want: "HtmlCanvasElement", wantOK: true},
		{name: "__wbg_instanceof_Window", want: "Window", wantOK: true},
		{name: "__wbg_instanceof_WebGl2RenderingContext_Custom", want: "WebGl2RenderingContext_Custom", wantOK: true},
		{name: "__wbg_instanceof_", wantOK: false},
		{name: "__wbg_random_5f2f0a87ea6d1f2b", wantOK: false},
		{name: "__wbindgen_throw", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseInstanceofImport(tt.name)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCapabilitiesChain(t *testing.T) {
	caps := DefaultCapabilities()

	assert.Equal(t, []string{"HTMLCanvasElement", "HTMLElement", "Element", "Node", "EventTarget"}, caps.Chain("HTMLCanvasElement"))
	assert.True(t, caps.InstanceOf("HTMLDocument", "Node"))
	assert.True(t, caps.InstanceOf("Window", "Window"))
	assert.False(t, caps.InstanceOf("Window", "Node"))
	assert.False(t, caps.InstanceOf("Unknown", "EventTarget"))
	assert.Nil(t, caps.Chain("Unknown"))
}

func TestCapabilitiesTable(t *testing.T) {
	caps := NewCapabilities(
		Capability{Name: "EventTarget"},
		Capability{Name: "Window", Parent: "EventTarget"},
		Capability{Name: "Window", Parent: "Other"},
	)

	assert.True(t, caps.Has("Window"))
	assert.False(t, caps.Has("Document"))
	assert.Len(t, caps.All(), 2)
	assert.Equal(t, "EventTarget", caps.All()[1].Parent)
	assert.Equal(t, []string{"EventTarget", "Window"}, caps.Names())

	// Every parent in the default table precedes its children.
	seen := map[string]bool{}
	for _, cp := range DefaultCapabilities().All() {
		if cp.Parent != "" {
			assert.True(t, seen[cp.Parent], cp.Name)
		}
		seen[cp.Name] = true
	}
}
