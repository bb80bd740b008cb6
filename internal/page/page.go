package page

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/pixreaper/internal/utils"
)

// Surface is the page-browsing collaborator boundary: the core only ever
// needs the current page URL and its outbound viewer links.
type Surface interface {
	CurrentPageURL() string
	ExtractOutboundLinks(ctx context.Context) ([]string, error)
}

const maxPageBytes = 2 * 1024 * 1024

// HTTPSurface is a headless implementation of Surface: it fetches the page
// over HTTP and queries the parsed markup for anchors wrapping images, the
// same query the embedded-browser variant runs in page context.
type HTTPSurface struct {
	client  utils.HTTPDoer
	pageURL string
	title   string
}

func NewHTTPSurface(client utils.HTTPDoer, pageURL string) *HTTPSurface {
	return &HTTPSurface{client: client, pageURL: pageURL}
}

func (p *HTTPSurface) CurrentPageURL() string {
	return p.pageURL
}

// Title returns the page title seen during the last ExtractOutboundLinks
// call, or "" if the page has not been fetched yet.
func (p *HTTPSurface) Title() string {
	return p.title
}

// ExtractOutboundLinks fetches the page and returns the href of every anchor
// that wraps an image, deduplicated in document order.
func (p *HTTPSurface) ExtractOutboundLinks(ctx context.Context) ([]string, error) {
	base, err := url.Parse(p.pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page URL: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating GET request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("error parsing page markup: %w", err)
	}
	p.title = strings.TrimSpace(doc.Find("title").First().Text())

	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href] img").Each(func(_ int, img *goquery.Selection) {
		anchor := img.ParentsFiltered("a[href]").First()
		href, exists := anchor.Attr("href")
		if !exists || href == "" {
			return
		}
		abs, err := base.Parse(href)
		if err != nil {
			return
		}
		link := abs.String()
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	log.Debug().Str("op", "page").Str("url", p.pageURL).Msgf("Found %d candidate viewer links", len(links))
	return links, nil
}
