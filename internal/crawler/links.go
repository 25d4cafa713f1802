package crawler

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
)

// LinkExtractor discovers in-scope links on fetched HTML pages.
type LinkExtractor struct {
	scope  *ScopeFilter
	logger arbor.ILogger
}

// NewLinkExtractor creates a link extractor bound to a scope filter.
func NewLinkExtractor(scope *ScopeFilter, logger arbor.ILogger) *LinkExtractor {
	return &LinkExtractor{
		scope:  scope,
		logger: logger,
	}
}

// ExtractLinks walks every anchor on the page, resolves hrefs against the
// page's final URL, strips fragments, and keeps the in-scope remainder.
// The result is deduplicated; order carries no meaning.
func (le *LinkExtractor) ExtractLinks(pageURL, html string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML for link extraction: %w", err)
	}

	baseURL, err := url.Parse(pageURL)
	if err != nil {
		le.logger.Warn().Err(err).Str("page_url", pageURL).Msg("Failed to parse page URL for link resolution")
		baseURL = nil
	}

	linkSet := make(map[string]struct{})
	var links []string

	doc.Find("a[href]").Each(func(i int, s *goquery.Selection) {
		href, exists := s.Attr("href")
		if !exists {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "mailto:") {
			return
		}

		resolved := resolveLink(baseURL, href)
		if resolved == "" {
			return
		}
		if _, ok := linkSet[resolved]; ok {
			return
		}
		if !le.scope.Allowed(resolved) {
			return
		}
		linkSet[resolved] = struct{}{}
		links = append(links, resolved)
	})

	le.logger.Debug().
		Str("page_url", pageURL).
		Int("links_found", len(links)).
		Msg("Links extracted from HTML content")

	return links, nil
}

// resolveLink makes href absolute against the page URL and drops the
// fragment. Unparseable hrefs resolve to "".
func resolveLink(baseURL *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if baseURL != nil {
		ref = baseURL.ResolveReference(ref)
	}
	if !ref.IsAbs() {
		return ""
	}
	ref.Fragment = ""
	return ref.String()
}
