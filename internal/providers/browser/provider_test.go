package browser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/track17/backend/internal/providers/browser/sandbox"
	"github.com/GriffinCanCode/track17/backend/internal/providers/http/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	runtimePath = "/t/2026-01/_next/static/chunks/webpack-49544beacf8ff63a.js"
	chunkPath   = "/t/2026-01/_next/static/chunks/ff19fa74.aac6e850586820c7.js"
	wasmPath    = "/t/2026-01/_next/static/wasm/signer_bg.wasm"

	testRuntime = `!function(){var r={};r.u=e=>"static/chunks/"+(({211:"bb1bf137",839:"ff19fa74"})[e]||e)+"."+(({32:"8516d9b556cf70fb",211:"6b2d4eab87f959da",839:"aac6e850586820c7"})[e])+".js"}();`
)

const testPage = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <script>window.YQ = {configs: {}}; window.YQ.configs.md5 = '1.0.200';</script>
  <title>17TRACK - All-in-one Package Tracking</title>
  <script src="` + runtimePath + `" id="_R_" async=""></script>
</head>
<body>
  <div id="tn-app" class="app tracking">
    <div class="result-item">Loading</div>
  </div>
</body>
</html>`

type cdn struct {
	*httptest.Server
	mu    sync.Mutex
	hits  map[string]int
	files map[string][]byte
}

func newCDN(t *testing.T, chunk string) *cdn {
	t.Helper()
	wasm, err := os.ReadFile(filepath.Join("sandbox", "testdata", "signer_bg.wasm"))
	require.NoError(t, err)
	source, err := os.ReadFile(filepath.Join("sandbox", "testdata", chunk))
	require.NoError(t, err)

	c := &cdn{
		hits: make(map[string]int),
		files: map[string][]byte{
			"/en":       []byte(testPage),
			runtimePath: []byte(testRuntime),
			chunkPath:   source,
			wasmPath:    wasm,
		},
	}
	c.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		c.hits[r.URL.Path]++
		data, ok := c.files[r.URL.Path]
		c.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	}))
	t.Cleanup(c.Close)
	return c
}

func (c *cdn) Hits(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits[path]
}

func (c *cdn) Remove(path string) {
	c.mu.Lock()
	delete(c.files, path)
	c.mu.Unlock()
}

func (c *cdn) Set(path, body string) {
	c.mu.Lock()
	c.files[path] = []byte(body)
	c.mu.Unlock()
}

func testClient() *client.Client {
	opts := client.DefaultOptions("cdn")
	opts.MaxRetries = 0
	opts.Timeout = 5 * time.Second
	return client.NewClient(opts)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestProviderFetchesBundle(t *testing.T) {
	c := newCDN(t, "chunk-wasm.js")
	p := New(testClient(), Options{PageURL: c.URL + "/en", Logger: zap.NewNop()})

	bundle, err := p.Bundle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "1.0.200", bundle.Version)
	require.Len(t, bundle.Scripts, 1)
	assert.Equal(t, c.URL+chunkPath, bundle.Scripts[0].Name)
	assert.Contains(t, bundle.Scripts[0].Source, "instantiateStreaming")
	assert.Contains(t, bundle.PageHTML, "tn-app")
	assert.Len(t, bundle.Assets["/_next/static/wasm/signer_bg.wasm"], 267)
	assert.Len(t, bundle.Digest, 32)
	assert.Equal(t, 1, c.Hits(wasmPath))
}

func TestProviderReusesFreshBundle(t *testing.T) {
	c := newCDN(t, "chunk-js.js")
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	p := New(testClient(), Options{PageURL: c.URL + "/en", TTL: time.Hour, Now: clock.Now})
	ctx := context.Background()

	first, err := p.Bundle(ctx)
	require.NoError(t, err)
	assert.True(t, p.Fresh())

	clock.Advance(time.Hour - time.Nanosecond)
	second, err := p.Bundle(ctx)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, c.Hits("/en"))

	clock.Advance(time.Nanosecond)
	assert.False(t, p.Fresh())
	third, err := p.Bundle(ctx)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Equal(t, first.Digest, third.Digest)
	assert.Equal(t, 2, c.Hits("/en"))

	p.Invalidate()
	_, err = p.Bundle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Hits(chunkPath))
}

func TestProviderFailures(t *testing.T) {
	tests := []struct {
		name   string
		remove string
		page   string
	}{
		{name: "page missing", remove: "/en"},
		{name: "runtime missing", remove: runtimePath},
		{name: "chunk missing", remove: chunkPath},
		{name: "wasm missing", remove: wasmPath},
		{name: "no runtime on page", page: "<html><body>maintenance</body></html>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCDN(t, "chunk-wasm.js")
			if tt.remove != "" {
				c.Remove(tt.remove)
			}
			if tt.page != "" {
				c.Set("/en", tt.page)
			}
			p := New(testClient(), Options{PageURL: c.URL + "/en"})

			_, err := p.Bundle(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, sandbox.ErrAssetFetch)
			assert.False(t, p.Fresh())
		})
	}
}

func TestProviderLocalPath(t *testing.T) {
	p := New(nil, Options{LocalPath: filepath.Join("testdata", "local")})

	bundle, err := p.Bundle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", bundle.Version)
	require.Len(t, bundle.Scripts, 1)
	assert.Equal(t, "839-signer.js", bundle.Scripts[0].Name)
	assert.Contains(t, bundle.Assets, "signer_bg.wasm")
	assert.Contains(t, bundle.PageHTML, "tn-app")

	single := New(nil, Options{LocalPath: filepath.Join("testdata", "local", "839-signer.js")})
	bundle, err = single.Bundle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultConfigsMD5, bundle.Version)
	assert.Empty(t, bundle.PageHTML)

	missing := New(nil, Options{LocalPath: filepath.Join("testdata", "nope")})
	_, err = missing.Bundle(context.Background())
	assert.ErrorIs(t, err, sandbox.ErrAssetFetch)
}

func TestProviderFeedsSandbox(t *testing.T) {
	tests := []struct {
		chunk string
		want  string
	}{
		{chunk: "chunk-js.js", want: "fp1.08d6e348"},
		{chunk: "chunk-wasm.js", want: "wasm:17track:fp-0001"},
	}

	for _, tt := range tests {
		t.Run(tt.chunk, func(t *testing.T) {
			c := newCDN(t, tt.chunk)
			p := New(testClient(), Options{PageURL: c.URL + "/en"})

			cfg := sandbox.DefaultConfig()
			cfg.Clock = func() time.Time { return time.Unix(1700000000, 0) }
			cfg.Seed = 7
			cfg.EnableConsole = false

			s := sandbox.NewSession(cfg, sandbox.SignContext{TrackingNumber: "123456789012"}, zap.NewNop(), nil)
			sig, err := s.Sign(context.Background(), p)
			require.NoError(t, err)
			assert.Equal(t, tt.want, sig)
		})
	}
}

func TestDigestIsStable(t *testing.T) {
	a := &sandbox.Bundle{
		Scripts: []sandbox.Script{{Name: "a.js", Source: "1"}},
		Assets:  map[string][]byte{"x.wasm": {1}, "y.wasm": {2}},
	}
	b := &sandbox.Bundle{
		Scripts: []sandbox.Script{{Name: "a.js", Source: "1"}},
		Assets:  map[string][]byte{"y.wasm": {2}, "x.wasm": {1}},
	}
	assert.Equal(t, digest(a), digest(b))

	b.Scripts[0].Source = "2"
	assert.NotEqual(t, digest(a), digest(b))
}

var _ sandbox.BundleSource = (*Provider)(nil)
