package resolver

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"

	"golang.org/x/net/publicsuffix"
)

// CookieStore wraps a shared cookie jar used by all resolution fetches, so a
// consent cookie set while resolving one link is visible to every other
// worker hitting the same host.
type CookieStore struct {
	jar *cookiejar.Jar
	mu  sync.Mutex
}

func NewCookieStore() (*CookieStore, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("error creating cookie jar: %w", err)
	}
	return &CookieStore{jar: jar}, nil
}

func (s *CookieStore) Jar() http.CookieJar {
	return s.jar
}

// InjectOnce sets a cookie for the URL's domain unless one with the same name
// is already present. Two workers may race to inject the same cookie for the
// same host; the check-and-set runs under the store lock so the injection
// stays idempotent. Returns true if the cookie was newly set.
func (s *CookieStore) InjectOnce(target *url.URL, name, value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.jar.Cookies(target) {
		if c.Name == name {
			return false
		}
	}
	s.jar.SetCookies(target, []*http.Cookie{{
		Name:  name,
		Value: value,
		Path:  "/",
	}})
	return true
}
