package crawler

import (
	"context"
	"net/http"
	"time"

	"github.com/ternarybob/indago/internal/models"
)

// requestWithCache resolves a URL from the store when possible and falls
// through to the network otherwise. Every call counts toward total; the
// resolution path decides which counter goes with it.
func (c *Crawler) requestWithCache(ctx context.Context, url string) (*FetchResult, error) {
	c.stats.Inc(models.StatTotal)

	if c.isCachedURL(url) {
		c.stats.Inc(models.StatCached)
		c.pushProgress()
		rec, err := c.store.GetRecord(url)
		if err != nil {
			return nil, err
		}
		return cachedResult(url, rec), nil
	}

	if target, ok := c.redirectTarget(url); ok {
		c.stats.Inc(models.StatCachedRedirects)
		rec, err := c.store.GetRecord(target)
		if err != nil {
			return nil, err
		}
		return cachedResult(target, rec), nil
	}

	c.logger.Info().Str("url", url).Msg("Fetching")
	c.stats.Inc(models.StatFetched)

	res, err := c.fetcher.Fetch(ctx, url, c.isSeen)
	if err != nil {
		return nil, err
	}
	c.pushProgress()

	if url != res.FinalURL {
		c.saveRedirect(url, res.FinalURL)
	}
	return res, nil
}

// isCachedURL reports whether the store can answer for this URL: a content
// record exists and, when a TTL is set, it had not expired when the crawl
// started. A negative TTL disables expiry.
func (c *Crawler) isCachedURL(url string) bool {
	rec, err := c.store.GetRecord(url)
	if err != nil {
		return false
	}
	if rec.Type() != models.RecordTypeContent {
		return false
	}
	if c.settings.CacheTTL() > -1 {
		expired := (c.startEpoch-rec.Crawled())/3600 >= c.settings.CacheTTL()
		return !expired
	}
	return true
}

// redirectTarget returns the stored redirect destination for a URL, if any.
func (c *Crawler) redirectTarget(url string) (string, bool) {
	rec, err := c.store.GetRecord(url)
	if err != nil || rec.Type() != models.RecordTypeRedirect {
		return "", false
	}
	return rec.RedirectedURL(), true
}

// cachedResult shapes a stored record like a live fetch so the rest of the
// pipeline cannot tell the difference. Last-Modified is echoed from the
// record, which also keeps output() from rewriting an unchanged page.
func cachedResult(finalURL string, rec models.Record) *FetchResult {
	headers := http.Header{}
	if lm := rec.LastModified(); lm != "" {
		headers.Set("Last-Modified", lm)
	}

	res := &FetchResult{
		ContentType: rec.ContentType(),
		FinalURL:    finalURL,
		Headers:     headers,
	}
	if res.IsHTML() {
		res.Body = rec.Content()
	} else {
		res.Data = []byte(rec.Content())
	}
	return res
}

// saveRedirect records that url resolved to redirectedURL.
func (c *Crawler) saveRedirect(url, redirectedURL string) {
	if err := c.store.PutRecord(url, models.NewRedirectRecord(redirectedURL)); err != nil {
		c.logger.Error().Err(err).Str("url", url).Msg("Error saving redirect")
	}
}

// output persists a fetch outcome. A URL is written on first sight and
// rewritten when the server's Last-Modified moved; both paths count as
// new_or_updated. Unchanged cached pages are left alone.
func (c *Crawler) output(res *FetchResult) {
	serverLastModified := res.Headers.Get("Last-Modified")

	if !c.isCachedURL(res.FinalURL) {
		c.stats.Inc(models.StatNewOrUpdated)
		c.writeContent(res, serverLastModified)
		return
	}

	cached, err := c.store.GetRecord(res.FinalURL)
	if err != nil {
		c.logger.Error().Err(err).Str("url", res.FinalURL).Msg("Error saving record")
		return
	}
	if serverLastModified != "" && cached.LastModified() != serverLastModified {
		c.stats.Inc(models.StatNewOrUpdated)
		c.writeContent(res, serverLastModified)
	}
}

func (c *Crawler) writeContent(res *FetchResult, serverLastModified string) {
	crawled := float64(time.Now().UnixNano()) / 1e9
	var err error
	if res.IsHTML() {
		err = c.store.PutHTML(res.FinalURL, res.Body, crawled, serverLastModified)
	} else {
		err = c.store.PutBlob(res.FinalURL, res.Data, res.ContentType, crawled, serverLastModified)
	}
	if err != nil {
		c.logger.Error().Err(err).Str("url", res.FinalURL).Msg("Error saving record")
	}
}

// logErrorURL counts the failure under its tag and writes an error record
// over whatever the URL held before.
func (c *Crawler) logErrorURL(url string, code interface{}, message string) {
	c.stats.Inc(errorTag(code))
	if err := c.store.PutRecord(url, models.NewErrorRecord(code, message)); err != nil {
		c.logger.Error().Err(err).Str("url", url).Msg("Error saving error record")
	}
	c.logger.Error().Str("url", url).Str("error_code", errorTag(code)).Msg(message)
}

// pushProgress notifies the progress sink, when one is attached.
func (c *Crawler) pushProgress() {
	if c.progress != nil {
		c.progress(c.Report())
	}
}
