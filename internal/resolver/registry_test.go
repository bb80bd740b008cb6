package resolver

import "testing"

func TestRegistryLookupSuffixMatching(t *testing.T) {
	registry := NewRegistry(nil)
	cases := []struct {
		hostname string
		strategy string
	}{
		{"pixhost.to", "pixhost"},
		{"www.pixhost.to", "pixhost"},
		{"img77.pixhost.to", "pixhost"},
		{"imagebam.com", "imagebam"},
		{"WWW.IMAGEBAM.COM", "imagebam"},
		{"fastpic.ru", "fastpic"},
		{"fastpic.org", "fastpic"},
	}
	for _, c := range cases {
		strategy, ok := registry.Lookup(c.hostname)
		if !ok {
			t.Errorf("Lookup(%q): expected a strategy", c.hostname)
			continue
		}
		if strategy.Name != c.strategy {
			t.Errorf("Lookup(%q) = %s, want %s", c.hostname, strategy.Name, c.strategy)
		}
	}
}

func TestRegistryRejectsLookalikeHosts(t *testing.T) {
	registry := NewRegistry(nil)
	for _, hostname := range []string{"notpixhost.to", "pixhost.to.evil.com", "example.com"} {
		if _, ok := registry.Lookup(hostname); ok {
			t.Errorf("Lookup(%q): expected no strategy", hostname)
		}
	}
}

func TestRegistryGenericFallback(t *testing.T) {
	registry := NewRegistry([]string{"www.myhost.net"})
	strategy, ok := registry.Lookup("cdn.myhost.net")
	if !ok {
		t.Fatal("expected generic strategy for allow-listed host")
	}
	if strategy.Name != "generic" {
		t.Errorf("expected generic strategy, got %s", strategy.Name)
	}
	if len(strategy.Steps) != 0 || !strategy.MetaFallback {
		t.Error("generic strategy should only probe page metadata")
	}
}

func TestRegistryBespokeWinsOverGeneric(t *testing.T) {
	registry := NewRegistry([]string{"pixhost.to"})
	strategy, _ := registry.Lookup("pixhost.to")
	if strategy.Name != "pixhost" {
		t.Errorf("bespoke strategy should win, got %s", strategy.Name)
	}
}

func TestIsSupported(t *testing.T) {
	registry := NewRegistry([]string{"allowed.example"})
	cases := []struct {
		url  string
		want bool
	}{
		{"https://www.pixhost.to/show/1/abc.html", true},
		{"https://imagevenue.com/view/xyz", true},
		{"https://sub.allowed.example/v/1", true},
		{"https://unrelated.org/v/1", false},
		{"not a url", false},
		{"", false},
	}
	for _, c := range cases {
		if got := registry.IsSupported(c.url); got != c.want {
			t.Errorf("IsSupported(%q) = %v, want %v", c.url, got, c.want)
		}
	}
}
