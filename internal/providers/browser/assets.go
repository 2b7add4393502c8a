package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/GriffinCanCode/track17/backend/internal/providers/browser/sandbox"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// fetch walks page -> webpack runtime -> signer chunk -> wasm assets
func (p *Provider) fetch(ctx context.Context) (*sandbox.Bundle, error) {
	page, err := p.fetchPage(ctx, p.opts.PageURL)
	if err != nil {
		return nil, err
	}
	info, err := ParsePage(page.Body, page.URL)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("tracking page parsed",
		zap.String("configs_md5", info.ConfigsMD5),
		zap.String("base", info.BaseURL),
		zap.String("runtime", info.RuntimeURL),
	)

	runtime, err := p.fetchAsset(ctx, info.RuntimeURL, page.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch webpack runtime: %w", err)
	}
	chunkURL, err := SignChunkURL(string(runtime), info.BaseURL)
	if err != nil {
		return nil, err
	}
	chunk, err := p.fetchAsset(ctx, chunkURL, page.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch sign chunk: %w", err)
	}

	bundle := &sandbox.Bundle{
		Scripts:  []sandbox.Script{{Name: chunkURL, Source: string(chunk)}},
		PageHTML: page.Body,
		Assets:   make(map[string][]byte),
		Version:  info.ConfigsMD5,
	}
	for _, ref := range WasmRefs(string(chunk)) {
		u, err := assetURL(info.BaseURL, ref)
		if err != nil {
			return nil, fmt.Errorf("wasm url %q: %w", ref, err)
		}
		data, err := p.fetchAsset(ctx, u, page.URL)
		if err != nil {
			return nil, fmt.Errorf("fetch wasm: %w", err)
		}
		bundle.Assets[ref] = data
	}
	return bundle, nil
}

// fetchAsset retrieves one CDN resource
func (p *Provider) fetchAsset(ctx context.Context, assetURL, referer string) ([]byte, error) {
	resp, err := p.httpClient.Do(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetHeader("Accept", "*/*").
			SetHeader("Referer", referer).
			Get(assetURL)
	})
	if err != nil {
		return nil, err
	}
	p.logger.Debug("asset fetched",
		zap.String("url", assetURL),
		zap.Int("bytes", len(resp.Body())),
	)
	return resp.Body(), nil
}

// loadLocal reads a bundle from disk. A file is the signer chunk itself; a
// directory supplies page.html, its .js files in name order and its .wasm
// files as assets.
func loadLocal(root string) (*sandbox.Bundle, error) {
	fi, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	bundle := &sandbox.Bundle{
		Assets:  make(map[string][]byte),
		Version: DefaultConfigsMD5,
	}

	if !fi.IsDir() {
		src, err := os.ReadFile(root)
		if err != nil {
			return nil, err
		}
		bundle.Scripts = []sandbox.Script{{Name: filepath.Base(root), Source: string(src)}}
		return bundle, nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		data, err := os.ReadFile(filepath.Join(root, name))
		if err != nil {
			return nil, err
		}
		switch {
		case name == "page.html":
			bundle.PageHTML = string(data)
			if m := configsMD5Pattern.FindStringSubmatch(bundle.PageHTML); m != nil {
				bundle.Version = m[1]
			}
		case strings.HasSuffix(name, ".js"):
			bundle.Scripts = append(bundle.Scripts, sandbox.Script{Name: name, Source: string(data)})
		case strings.HasSuffix(name, ".wasm"):
			bundle.Assets[name] = data
		}
	}
	if len(bundle.Scripts) == 0 {
		return nil, fmt.Errorf("no scripts in %s", root)
	}
	return bundle, nil
}
