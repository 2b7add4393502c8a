package browser

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"github.com/go-resty/resty/v2"
)

// PageData holds fetched page information
type PageData struct {
	URL         string
	Body        string
	Status      int
	ContentType string
}

// PageInfo is what the tracking page reveals about the signing bundle
type PageInfo struct {
	ConfigsMD5 string
	BaseURL    string // CDN directory holding the chunks
	RuntimeURL string // webpack runtime script
}

var (
	configsMD5Pattern = regexp.MustCompile(`configs\.md5\s*=\s*'([^']+)'`)
	baseURLPattern    = regexp.MustCompile(`(https://static\.17track\.net/t/[^/]+/_next/static/chunks/)`)
	runtimePattern    = regexp.MustCompile(`(https://static\.17track\.net/[^"]*webpack-[a-f0-9]+\.js)`)
)

// fetchPage retrieves the raw tracking page
func (p *Provider) fetchPage(ctx context.Context, pageURL string) (*PageData, error) {
	resp, err := p.httpClient.Do(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8").
			SetHeader("Upgrade-Insecure-Requests", "1").
			Get(pageURL)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch tracking page: %w", err)
	}
	return &PageData{
		URL:         pageURL,
		Body:        resp.String(),
		Status:      resp.StatusCode(),
		ContentType: resp.Header().Get("Content-Type"),
	}, nil
}

// ParsePage extracts configs.md5, the CDN base and the webpack runtime URL.
// Relative script URLs are resolved against pageURL.
func ParsePage(html, pageURL string) (*PageInfo, error) {
	info := &PageInfo{ConfigsMD5: DefaultConfigsMD5}
	if m := configsMD5Pattern.FindStringSubmatch(html); m != nil {
		info.ConfigsMD5 = m[1]
	}

	runtime := findRuntimeURL(html)
	if runtime == "" {
		return nil, fmt.Errorf("webpack runtime not found in %s", pageURL)
	}
	resolved, err := resolve(pageURL, runtime)
	if err != nil {
		return nil, fmt.Errorf("webpack runtime url %q: %w", runtime, err)
	}
	info.RuntimeURL = resolved

	if m := baseURLPattern.FindStringSubmatch(html); m != nil {
		info.BaseURL = m[1]
	} else {
		u, _ := url.Parse(resolved)
		u.Path = path.Dir(u.Path) + "/"
		u.RawQuery = ""
		info.BaseURL = u.String()
	}
	return info, nil
}

// findRuntimeURL locates the webpack runtime: the App Router marks it with
// id="_R_"; older pages are searched by file name.
func findRuntimeURL(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err == nil {
		if src, ok := doc.Find("script#_R_").Attr("src"); ok && src != "" {
			return src
		}
	}

	if root, err := htmlquery.Parse(strings.NewReader(html)); err == nil {
		for _, n := range htmlquery.Find(root, `//script[contains(@src, "/webpack-")]`) {
			if src := htmlquery.SelectAttr(n, "src"); src != "" {
				return src
			}
		}
	}

	if m := runtimePattern.FindStringSubmatch(html); m != nil {
		return m[1]
	}
	return ""
}

func resolve(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}
