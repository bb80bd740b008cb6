package resolver

import (
	"net/url"
	"strings"
)

// SelectorStep is one candidate extraction rule: select the first element
// matching Query and read Attr from it.
type SelectorStep struct {
	Query string
	Attr  string
}

// Interstitial describes a consent gate: if Selector matches the fetched
// page, the named cookie is injected and the page is fetched once more.
type Interstitial struct {
	Selector    string
	CookieName  string
	CookieValue string
}

// Strategy is a named, immutable extraction rule set for one or more hosts.
// Adding a host is data, not code: the engine interprets all strategies the
// same way.
type Strategy struct {
	Name         string
	Hosts        []string
	Steps        []SelectorStep
	Interstitial *Interstitial
	MetaFallback bool // fall back to the og:image metadata tag
}

// genericStrategy handles allow-listed hosts without a bespoke entry. It only
// probes the page metadata image tag, honoring the extension policy.
var genericStrategy = Strategy{
	Name:         "generic",
	MetaFallback: true,
}

var builtinStrategies = []Strategy{
	{
		Name:  "pixhost",
		Hosts: []string{"pixhost.to"},
		Steps: []SelectorStep{
			{Query: "#image", Attr: "src"},
			{Query: "img#show_image", Attr: "src"},
		},
		MetaFallback: true,
	},
	{
		Name:  "imagebam",
		Hosts: []string{"imagebam.com"},
		Steps: []SelectorStep{
			{Query: "#imageContainer img", Attr: "src"},
			{Query: ".main-image", Attr: "src"},
			{Query: "img#mainImage", Attr: "src"},
		},
		Interstitial: &Interstitial{
			Selector:    "#continue a[data-shown='inter']",
			CookieName:  "nsfw_inter",
			CookieValue: "1",
		},
		MetaFallback: true,
	},
	{
		Name:         "imagevenue",
		Hosts:        []string{"imagevenue.com"},
		Steps:        []SelectorStep{{Query: "img#img", Attr: "src"}},
		MetaFallback: true,
	},
	{
		Name:         "imgbox",
		Hosts:        []string{"imgbox.com"},
		Steps:        []SelectorStep{{Query: ".img-content img", Attr: "src"}},
		MetaFallback: true,
	},
	{
		Name:         "pimpandhost",
		Hosts:        []string{"pimpandhost.com"},
		MetaFallback: true,
	},
	{
		Name:         "postimage",
		Hosts:        []string{"postimg.cc"},
		Steps:        []SelectorStep{{Query: "img#main-image", Attr: "src"}},
		MetaFallback: true,
	},
	{
		Name:         "turboimagehost",
		Hosts:        []string{"turboimagehost.com"},
		Steps:        []SelectorStep{{Query: "img.pic", Attr: "src"}},
		MetaFallback: true,
	},
	{
		Name:         "fastpic",
		Hosts:        []string{"fastpic.org", "fastpic.ru"},
		Steps:        []SelectorStep{{Query: "img", Attr: "src"}},
		MetaFallback: true,
	},
	{
		Name:         "imagetwist",
		Hosts:        []string{"imagetwist.com"},
		Steps:        []SelectorStep{{Query: "img#image", Attr: "src"}},
		MetaFallback: true,
	},
	{
		Name:         "imgview",
		Hosts:        []string{"imgview.net"},
		Steps:        []SelectorStep{{Query: "img.pic", Attr: "src"}},
		MetaFallback: true,
	},
	{
		Name:         "radikal",
		Hosts:        []string{"radikal.ru"},
		Steps:        []SelectorStep{{Query: "img#mainImage", Attr: "src"}},
		MetaFallback: true,
	},
	{
		Name:         "imageupper",
		Hosts:        []string{"imageupper.com"},
		Steps:        []SelectorStep{{Query: "img#img", Attr: "src"}},
		MetaFallback: true,
	},
}

// Registry maps hostnames to resolution strategies. It is built once at
// startup and consulted read-only afterwards.
type Registry struct {
	strategies []Strategy
	validHosts []string
}

// NewRegistry builds a registry from the builtin strategy table plus an
// allow-list of extra hosts served by the generic strategy.
func NewRegistry(validHosts []string) *Registry {
	hosts := make([]string, 0, len(validHosts))
	for _, h := range validHosts {
		h = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h), "www."))
		if h != "" {
			hosts = append(hosts, h)
		}
	}
	return &Registry{strategies: builtinStrategies, validHosts: hosts}
}

// Lookup returns the strategy for a hostname. Bespoke strategies win over the
// generic allow-list; no match at all means the host is unsupported and the
// caller must fail without a network attempt.
func (r *Registry) Lookup(hostname string) (*Strategy, bool) {
	hostname = normalizeHost(hostname)
	for i := range r.strategies {
		for _, key := range r.strategies[i].Hosts {
			if hostMatches(hostname, key) {
				return &r.strategies[i], true
			}
		}
	}
	for _, key := range r.validHosts {
		if hostMatches(hostname, key) {
			return &genericStrategy, true
		}
	}
	return nil, false
}

// IsSupported reports whether a raw URL's host has any strategy. Used by
// upstream filtering so unsupported links never enter the scheduler.
func (r *Registry) IsSupported(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Hostname() == "" {
		return false
	}
	_, ok := r.Lookup(parsed.Hostname())
	return ok
}

func normalizeHost(hostname string) string {
	return strings.TrimPrefix(strings.ToLower(hostname), "www.")
}

// hostMatches does suffix matching on registered keys, so "img.pixhost.to"
// matches the key "pixhost.to" but "notpixhost.to" does not.
func hostMatches(hostname, key string) bool {
	return hostname == key || strings.HasSuffix(hostname, "."+key)
}
