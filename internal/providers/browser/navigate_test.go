package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cdnBase = "https://static.17track.net/t/2026-01/_next/static/chunks/"

func TestParsePage(t *testing.T) {
	tests := []struct {
		name    string
		html    string
		md5     string
		base    string
		runtime string
	}{
		{
			name:    "id before src",
			html:    `<script>window.YQ.configs.md5 = '1.0.156'</script><script id="_R_" src="` + cdnBase + `webpack-49544beacf8ff63a.js" async=""></script>`,
			md5:     "1.0.156",
			base:    cdnBase,
			runtime: cdnBase + "webpack-49544beacf8ff63a.js",
		},
		{
			name:    "src before id",
			html:    `<script>configs.md5 = '2.0.0'</script><script src="` + cdnBase + `webpack-49544beacf8ff63a.js" id="_R_"></script>`,
			md5:     "2.0.0",
			base:    cdnBase,
			runtime: cdnBase + "webpack-49544beacf8ff63a.js",
		},
		{
			name:    "file name fallback",
			html:    `<script src="` + cdnBase + `119-22a90af49d5bd9ee.js"></script><script src="` + cdnBase + `webpack-abc123def456.js" async></script>`,
			md5:     DefaultConfigsMD5,
			base:    cdnBase,
			runtime: cdnBase + "webpack-abc123def456.js",
		},
		{
			name:    "pattern fallback",
			html:    `<link rel="preload" href="` + cdnBase + `webpack-abc123.js">`,
			md5:     DefaultConfigsMD5,
			base:    cdnBase,
			runtime: cdnBase + "webpack-abc123.js",
		},
		{
			name:    "relative runtime",
			html:    `<script id="_R_" src="/_next/static/chunks/webpack-7c1b6b2a.js"></script>`,
			md5:     DefaultConfigsMD5,
			base:    "https://t.17track.net/_next/static/chunks/",
			runtime: "https://t.17track.net/_next/static/chunks/webpack-7c1b6b2a.js",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := ParsePage(tt.html, DefaultPageURL)
			require.NoError(t, err)
			assert.Equal(t, tt.md5, info.ConfigsMD5)
			assert.Equal(t, tt.base, info.BaseURL)
			assert.Equal(t, tt.runtime, info.RuntimeURL)
		})
	}
}

func TestParsePageWithoutRuntime(t *testing.T) {
	_, err := ParsePage(`<html><script src="/app.js"></script></html>`, DefaultPageURL)
	assert.ErrorContains(t, err, "webpack runtime not found")
}

func TestSignChunkURL(t *testing.T) {
	runtime := `r.u=e=>"static/chunks/"+(({211:"bb1bf137",839:"ff19fa74"})[e]||e)+"."+(({32:"8516d9b556cf70fb",51:"b290a4f7e71aa4ad",166:"2cb66e73ed45f29c",211:"6b2d4eab87f959da",839:"aac6e850586820c7"})[e])+".js"`

	got, err := SignChunkURL(runtime, cdnBase)
	require.NoError(t, err)
	assert.Equal(t, cdnBase+"ff19fa74.aac6e850586820c7.js", got)

	got, err = SignChunkURL(`something ff19fa74.aac6e850586820c7.js something`, cdnBase)
	require.NoError(t, err)
	assert.Equal(t, cdnBase+"ff19fa74.aac6e850586820c7.js", got)

	_, err = SignChunkURL(`r.u=e=>"static/chunks/"+e+".js"`, cdnBase)
	assert.Error(t, err)
}

func TestWasmRefs(t *testing.T) {
	src := `fetch("/_next/static/wasm/signer_bg.wasm"); new URL('a.wasm', import.meta.url); fetch("/_next/static/wasm/signer_bg.wasm")`
	assert.Equal(t, []string{"/_next/static/wasm/signer_bg.wasm", "a.wasm"}, WasmRefs(src))
	assert.Empty(t, WasmRefs(`no assets here`))
}

func TestAssetURL(t *testing.T) {
	got, err := assetURL(cdnBase, "/_next/static/wasm/signer_bg.wasm")
	require.NoError(t, err)
	assert.Equal(t, "https://static.17track.net/t/2026-01/_next/static/wasm/signer_bg.wasm", got)

	got, err = assetURL(cdnBase, "a.wasm")
	require.NoError(t, err)
	assert.Equal(t, cdnBase+"a.wasm", got)
}
