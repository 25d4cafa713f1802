package crawler

import (
	"context"
	"encoding/xml"
	"net/url"
	"sort"
	"strings"
)

// maxSitemapNesting caps recursion through nested sitemap indexes.
const maxSitemapNesting = 5

type sitemapEntry struct {
	Loc string `xml:"loc"`
}

type sitemapURLSet struct {
	URLs []sitemapEntry `xml:"url"`
}

type sitemapIndex struct {
	Sitemaps []sitemapEntry `xml:"sitemap"`
}

// expandSitemaps resolves sitemap seeds into the page URLs they reference.
// Each seed is fetched and parsed as a sitemap document; seeds that do not
// parse as one are probed at the conventional /sitemap.xml location on the
// same host. Sitemap indexes are followed recursively.
func (c *Crawler) expandSitemaps(ctx context.Context, seeds []string) []string {
	collected := make(map[string]bool)
	for _, seed := range seeds {
		c.logger.Info().Str("url", seed).Msg("Fetching sitemap")
		if c.collectSitemap(ctx, seed, 0, collected) {
			continue
		}
		if probe := conventionalSitemapURL(seed); probe != "" && probe != seed {
			c.collectSitemap(ctx, probe, 0, collected)
		}
	}

	urls := make([]string, 0, len(collected))
	for u := range collected {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls
}

// collectSitemap fetches one sitemap document and gathers its page URLs,
// descending into nested indexes. Returns true if the document parsed as a
// sitemap and contained at least one entry.
func (c *Crawler) collectSitemap(ctx context.Context, sitemapURL string, nesting int, collected map[string]bool) bool {
	if nesting > maxSitemapNesting {
		c.logger.Warn().Str("url", sitemapURL).Msg("Sitemap nesting too deep, skipping")
		return false
	}

	body, err := c.fetcher.FetchRaw(ctx, sitemapURL)
	if err != nil {
		c.logger.Warn().Err(err).Str("url", sitemapURL).Msg("Failed to fetch sitemap")
		return false
	}

	// A sitemap index has <sitemap> children, a plain sitemap has <url>
	// children. Probe for the index form first.
	var index sitemapIndex
	if err := xml.Unmarshal(body, &index); err == nil && len(index.Sitemaps) > 0 {
		for _, entry := range index.Sitemaps {
			loc := strings.TrimSpace(entry.Loc)
			if loc == "" {
				continue
			}
			c.collectSitemap(ctx, loc, nesting+1, collected)
		}
		return true
	}

	var set sitemapURLSet
	if err := xml.Unmarshal(body, &set); err != nil {
		c.logger.Warn().Err(err).Str("url", sitemapURL).Msg("Failed to parse sitemap")
		return false
	}

	found := false
	for _, entry := range set.URLs {
		loc := strings.TrimSpace(entry.Loc)
		if loc == "" {
			continue
		}
		collected[loc] = true
		found = true
	}
	return found
}

// conventionalSitemapURL builds the /sitemap.xml URL on the seed's host.
func conventionalSitemapURL(seed string) string {
	parsed, err := url.Parse(seed)
	if err != nil || parsed.Host == "" {
		return ""
	}
	probe := &url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/sitemap.xml"}
	return probe.String()
}
