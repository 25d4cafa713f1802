package crawler

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/indago/internal/models"
	"github.com/ternarybob/indago/internal/storage"
)

// Crawler walks one site breadth-first from its seed URLs, persisting every
// outcome into the document store. Construction wires the scope filter and
// link extractor from the settings; Run drives the worker pool to
// completion.
type Crawler struct {
	settings *models.CrawlSettings
	store    *storage.DocumentStore
	fetcher  *Fetcher
	scope    *ScopeFilter
	links    *LinkExtractor
	stats    *models.Stats
	queue    *taskQueue
	logger   arbor.ILogger

	seenMu sync.Mutex
	seen   map[string]struct{}

	startTime  time.Time
	startEpoch float64
	endMu      sync.Mutex
	endTime    *time.Time

	progress func(models.Report)
}

// New builds a crawler over an open store. Settings must have passed
// Validate and ApplyDefaults.
func New(settings *models.CrawlSettings, store *storage.DocumentStore, fetcher *Fetcher, logger arbor.ILogger) *Crawler {
	scope := NewScopeFilter(settings, logger)
	now := time.Now()

	return &Crawler{
		settings:   settings,
		store:      store,
		fetcher:    fetcher,
		scope:      scope,
		links:      NewLinkExtractor(scope, logger),
		stats:      models.NewStats(),
		queue:      newTaskQueue(),
		seen:       make(map[string]struct{}),
		startTime:  now,
		startEpoch: float64(now.UnixNano()) / 1e9,
		logger:     logger,
	}
}

// OnProgress attaches a sink that receives a report after each fetch or
// cache hit.
func (c *Crawler) OnProgress(fn func(models.Report)) {
	c.progress = fn
}

// Run seeds the queue, starts the worker pool, and blocks until the queue
// drains or the context is cancelled.
func (c *Crawler) Run(ctx context.Context) error {
	seeds := []string(c.settings.StartingURLs)
	if c.settings.IsSitemap {
		seeds = c.expandSitemaps(ctx, seeds)
	}

	for _, u := range seeds {
		c.queue.put(QMsg{SourceURL: u, URL: u})
	}

	var wg sync.WaitGroup
	for i := 0; i < c.settings.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.worker(ctx)
		}()
	}

	drained := make(chan struct{})
	go func() {
		c.queue.join()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		c.logger.Warn().Str("name", c.settings.Name).Msg("Crawl cancelled")
	}

	c.queue.close()
	wg.Wait()
	c.markCompleted()

	c.logger.Info().
		Str("name", c.settings.Name).
		Int64("total", c.stats.Get(models.StatTotal)).
		Int64("fetched", c.stats.Get(models.StatFetched)).
		Int64("cached", c.stats.Get(models.StatCached)).
		Msg("Crawl completed")

	return ctx.Err()
}

// crawlPage fetches one URL (through the cache) and, for HTML, extracts
// its in-scope links.
func (c *Crawler) crawlPage(ctx context.Context, url string) (*FetchResult, []string, error) {
	res, err := c.requestWithCache(ctx, url)
	if err != nil {
		return nil, nil, err
	}

	var links []string
	if res.IsHTML() {
		links, err = c.links.ExtractLinks(res.FinalURL, res.Body)
		if err != nil {
			return nil, nil, err
		}
	}
	return res, links, nil
}

func (c *Crawler) markCompleted() {
	c.endMu.Lock()
	defer c.endMu.Unlock()
	now := time.Now()
	c.endTime = &now
}

// Report summarises the crawl so far; after Run returns it is final.
func (c *Crawler) Report() models.Report {
	c.endMu.Lock()
	end := c.endTime
	c.endMu.Unlock()
	return models.NewReport(c.settings.Name, c.stats, c.startTime, end)
}

// Stats exposes the live counters.
func (c *Crawler) Stats() *models.Stats {
	return c.stats
}
