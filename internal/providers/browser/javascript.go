package browser

import (
	"fmt"
	"regexp"
	"strings"
)

// SignChunkID is the webpack chunk that carries the signer
const SignChunkID = "839"

var (
	chunkNamePattern = regexp.MustCompile(SignChunkID + `:"([a-f0-9]{8})"`)
	chunkHashPattern = regexp.MustCompile(SignChunkID + `:"([a-f0-9]{16})"`)
	chunkFilePattern = regexp.MustCompile(`(ff19fa74\.[a-f0-9]+\.js)`)
	wasmRefPattern   = regexp.MustCompile("[\"'`]([^\"'`\\s]+\\.wasm)[\"'`]")
)

// SignChunkURL derives the signer chunk URL from the webpack runtime. The
// runtime's chunk-file function maps ids to a name and a content hash:
//
//	r.u=e=>"static/chunks/"+({839:"ff19fa74"}[e]||e)+"."+({839:"aac6e850586820c7"}[e])+".js"
func SignChunkURL(runtime, baseURL string) (string, error) {
	name := chunkNamePattern.FindStringSubmatch(runtime)
	hash := chunkHashPattern.FindStringSubmatch(runtime)
	if name != nil && hash != nil {
		return baseURL + name[1] + "." + hash[1] + ".js", nil
	}
	if m := chunkFilePattern.FindStringSubmatch(runtime); m != nil {
		return baseURL + m[1], nil
	}
	return "", fmt.Errorf("chunk %s not found in webpack runtime", SignChunkID)
}

// WasmRefs lists the .wasm paths a chunk refers to, in order of appearance
func WasmRefs(source string) []string {
	var refs []string
	seen := make(map[string]bool)
	for _, m := range wasmRefPattern.FindAllStringSubmatch(source, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			refs = append(refs, m[1])
		}
	}
	return refs
}

// assetURL resolves a path found in a chunk. Root-relative /_next/ paths
// live under the same deployment prefix as the chunks.
func assetURL(baseURL, ref string) (string, error) {
	if strings.HasPrefix(ref, "/_next/") {
		if i := strings.Index(baseURL, "/_next/"); i >= 0 {
			return baseURL[:i] + ref, nil
		}
	}
	return resolve(baseURL, ref)
}
