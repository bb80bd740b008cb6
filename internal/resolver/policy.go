package resolver

import (
	"net/url"
	"path"
	"strings"
)

// ExtensionPolicy is the allow-list predicate for downloadable file
// extensions, shared by resolution and download validation.
type ExtensionPolicy struct {
	allowed map[string]struct{}
	order   []string
}

func NewExtensionPolicy(extensions []string) *ExtensionPolicy {
	p := &ExtensionPolicy{allowed: make(map[string]struct{})}
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext == "" {
			continue
		}
		if _, seen := p.allowed[ext]; !seen {
			p.allowed[ext] = struct{}{}
			p.order = append(p.order, ext)
		}
	}
	return p
}

// Allows reports whether the URL path (query string ignored) ends in an
// allowed extension.
func (p *ExtensionPolicy) Allows(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return p.AllowsExt(path.Ext(parsed.Path))
}

func (p *ExtensionPolicy) AllowsExt(ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "" {
		return false
	}
	_, ok := p.allowed[ext]
	return ok
}

func (p *ExtensionPolicy) Extensions() []string {
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}
