package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/pixreaper/internal/utils"
)

type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Result is the outcome of resolving one viewer link. Resolved is non-empty
// iff Status is StatusSuccess.
type Result struct {
	Link     string
	Resolved string
	Status   Status
	Duration time.Duration
	Err      string
}

const (
	// Viewer pages are small; anything bigger is not a page worth parsing.
	maxDocumentBytes   = 512 * 1024
	defaultFetchWindow = 8 * time.Second
)

var errUnsupportedHost = errors.New("no resolver for host")

// Engine resolves a viewer page URL to a direct image URL by fetching the
// page and applying the host strategy's extraction steps.
type Engine struct {
	client   utils.HTTPDoer
	cookies  *CookieStore
	registry *Registry
	policy   *ExtensionPolicy
	timeout  time.Duration
}

func NewEngine(client utils.HTTPDoer, cookies *CookieStore, registry *Registry, policy *ExtensionPolicy, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = defaultFetchWindow
	}
	return &Engine{
		client:   client,
		cookies:  cookies,
		registry: registry,
		policy:   policy,
		timeout:  timeout,
	}
}

// Resolve turns a viewer URL into a direct asset URL. All failure modes
// (unsupported host, network error, timeout, bad status, extraction miss,
// disallowed extension) collapse to StatusFailed; the distinction is logged
// for debuggability but not surfaced to the caller.
func (e *Engine) Resolve(ctx context.Context, link string) Result {
	start := time.Now()
	fail := func(err error) Result {
		log.Debug().Str("op", "resolver/engine").Str("link", link).Err(err).Msg("Resolution failed")
		status := StatusFailed
		if ctx.Err() == context.Canceled {
			status = StatusCancelled
		}
		return Result{Link: link, Status: status, Duration: time.Since(start), Err: err.Error()}
	}

	base, err := url.Parse(link)
	if err != nil || base.Hostname() == "" {
		return fail(fmt.Errorf("invalid viewer URL %q", link))
	}
	strategy, ok := e.registry.Lookup(base.Hostname())
	if !ok {
		return fail(fmt.Errorf("%w: %s", errUnsupportedHost, base.Hostname()))
	}

	doc, err := e.fetchWithWindow(ctx, link)
	if err != nil {
		return fail(err)
	}

	if direct, ok := e.applySteps(doc, strategy, base); ok {
		return e.success(link, direct, start)
	}

	// A matching interstitial means the real image is gated behind a consent
	// cookie: inject it (idempotently) and re-fetch the same URL exactly once.
	if inter := strategy.Interstitial; inter != nil && doc.Find(inter.Selector).Length() > 0 {
		if e.cookies != nil {
			injected := e.cookies.InjectOnce(base, inter.CookieName, inter.CookieValue)
			log.Debug().Str("op", "resolver/engine").Str("link", link).
				Bool("injected", injected).Msgf("Interstitial detected, retrying with %s cookie", inter.CookieName)
		}
		retryDoc, err := e.fetchWithWindow(ctx, link)
		if err != nil {
			return fail(fmt.Errorf("interstitial refetch: %w", err))
		}
		doc = retryDoc
		if direct, ok := e.applySteps(doc, strategy, base); ok {
			return e.success(link, direct, start)
		}
	}

	if strategy.MetaFallback {
		if content, exists := doc.Find(`meta[property="og:image"]`).First().Attr("content"); exists {
			if direct, ok := e.validateCandidate(content, base); ok {
				return e.success(link, direct, start)
			}
		}
	}

	return fail(fmt.Errorf("no matching asset on page (strategy %s)", strategy.Name))
}

func (e *Engine) success(link, direct string, start time.Time) Result {
	log.Debug().Str("op", "resolver/engine").Str("link", link).Str("resolved", direct).Msg("Resolved viewer link")
	return Result{Link: link, Resolved: direct, Status: StatusSuccess, Duration: time.Since(start)}
}

func (e *Engine) applySteps(doc *goquery.Document, strategy *Strategy, base *url.URL) (string, bool) {
	for _, step := range strategy.Steps {
		val, exists := doc.Find(step.Query).First().Attr(step.Attr)
		if !exists || val == "" {
			continue
		}
		if direct, ok := e.validateCandidate(val, base); ok {
			return direct, true
		}
	}
	return "", false
}

// validateCandidate resolves a candidate relative to the viewer URL and
// checks it against the extension allow-list.
func (e *Engine) validateCandidate(candidate string, base *url.URL) (string, bool) {
	abs, err := base.Parse(candidate)
	if err != nil {
		return "", false
	}
	direct := abs.String()
	if !e.policy.Allows(direct) {
		return "", false
	}
	return direct, true
}

// fetchWithWindow applies the per-request timeout to one document fetch, so
// an interstitial refetch gets a full window rather than the remainder of the
// first fetch's.
func (e *Engine) fetchWithWindow(ctx context.Context, link string) (*goquery.Document, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.fetchDocument(fetchCtx, link)
}

func (e *Engine) fetchDocument(ctx context.Context, link string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating GET request: %w", err)
	}
	// Several hosts reject hotlink-style requests without a plausible referer.
	req.Header.Set("Referer", link)
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, fmt.Errorf("error parsing page markup: %w", err)
	}
	return doc, nil
}
