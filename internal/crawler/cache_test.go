package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ternarybob/indago/internal/models"
)

func epochNow() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

func TestIsCachedNoExpiry(t *testing.T) {
	settings := newTestSettings("https://www.example.com/")
	c := newTestCrawler(t, settings) // default TTL is negative: never expires

	url := "https://www.example.com/foo"
	if err := c.store.PutHTML(url, "<html>old</html>", epochNow()-86400, ""); err != nil {
		t.Fatalf("PutHTML failed: %v", err)
	}

	if !c.isCachedURL(url) {
		t.Error("content record not treated as cached with expiry off")
	}
	if c.isCachedURL("https://www.example.com/absent") {
		t.Error("missing record treated as cached")
	}

	// Only content records satisfy the cache.
	errURL := "https://www.example.com/err"
	if err := c.store.PutRecord(errURL, models.NewErrorRecord(404, "gone")); err != nil {
		t.Fatalf("PutRecord failed: %v", err)
	}
	if c.isCachedURL(errURL) {
		t.Error("error record treated as cached")
	}
}

func TestIsCachedTTL(t *testing.T) {
	now := epochNow()
	ttl := 0.5
	settings := newTestSettings("https://www.example.com/")
	settings.CacheTTLHours = &ttl
	c := newTestCrawler(t, settings)

	stale := "https://www.example.com/stale"
	if err := c.store.PutHTML(stale, "<html>stale</html>", now-3600, ""); err != nil {
		t.Fatalf("PutHTML failed: %v", err)
	}
	if c.isCachedURL(stale) {
		t.Error("record older than the TTL treated as cached")
	}

	fresh := "https://www.example.com/fresh"
	if err := c.store.PutHTML(fresh, "<html>fresh</html>", now-100, ""); err != nil {
		t.Fatalf("PutHTML failed: %v", err)
	}
	if !c.isCachedURL(fresh) {
		t.Error("record inside the TTL not treated as cached")
	}
}

func TestCacheHitSkipsNetwork(t *testing.T) {
	site := newCountingSite(t, map[string]string{
		"/": "<html><body>live</body></html>",
	})

	settings := newTestSettings(site.server.URL + "/")
	c := newTestCrawler(t, settings)

	url := site.server.URL + "/"
	if err := c.store.PutHTML(url, "<html><body>stored</body></html>", epochNow(), ""); err != nil {
		t.Fatalf("PutHTML failed: %v", err)
	}

	res, err := c.requestWithCache(context.Background(), url)
	if err != nil {
		t.Fatalf("requestWithCache failed: %v", err)
	}

	if res.Body != "<html><body>stored</body></html>" {
		t.Errorf("body = %q, want stored copy", res.Body)
	}
	if !res.IsHTML() {
		t.Errorf("content type = %q, want text/html", res.ContentType)
	}
	if got := site.totalHits(); got != 0 {
		t.Errorf("server hit %d times, want 0", got)
	}
	if c.stats.Get(models.StatCached) != 1 {
		t.Errorf("cached = %d, want 1", c.stats.Get(models.StatCached))
	}
	if c.stats.Get(models.StatFetched) != 0 {
		t.Errorf("fetched = %d, want 0", c.stats.Get(models.StatFetched))
	}
}

func TestRedirectRecordFollowed(t *testing.T) {
	site := newCountingSite(t, nil)

	settings := newTestSettings(site.server.URL + "/")
	c := newTestCrawler(t, settings)

	from := site.server.URL + "/old"
	target := site.server.URL + "/new"
	if err := c.store.PutRecord(from, models.NewRedirectRecord(target)); err != nil {
		t.Fatalf("PutRecord failed: %v", err)
	}
	if err := c.store.PutHTML(target, "<html>target</html>", epochNow(), ""); err != nil {
		t.Fatalf("PutHTML failed: %v", err)
	}

	res, err := c.requestWithCache(context.Background(), from)
	if err != nil {
		t.Fatalf("requestWithCache failed: %v", err)
	}

	if res.FinalURL != target {
		t.Errorf("final URL = %q, want redirect target", res.FinalURL)
	}
	if res.Body != "<html>target</html>" {
		t.Errorf("body = %q", res.Body)
	}
	if got := site.totalHits(); got != 0 {
		t.Errorf("server hit %d times, want 0", got)
	}
	if c.stats.Get(models.StatCachedRedirects) != 1 {
		t.Errorf("cached_redirects = %d, want 1", c.stats.Get(models.StatCachedRedirects))
	}
}

func TestFetchSavesRedirectRecord(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html>landed</html>")
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	settings := newTestSettings(server.URL + "/old")
	c := newTestCrawler(t, settings)

	res, err := c.requestWithCache(context.Background(), server.URL+"/old")
	if err != nil {
		t.Fatalf("requestWithCache failed: %v", err)
	}
	if res.FinalURL != server.URL+"/new" {
		t.Fatalf("final URL = %q", res.FinalURL)
	}

	rec, err := c.store.GetRecord(server.URL + "/old")
	if err != nil {
		t.Fatalf("redirect record missing: %v", err)
	}
	if rec.Type() != models.RecordTypeRedirect {
		t.Errorf("record type = %q, want redirect", rec.Type())
	}
	if rec.RedirectedURL() != server.URL+"/new" {
		t.Errorf("redirected_url = %q", rec.RedirectedURL())
	}
}

func TestOutputCountsNewOrUpdated(t *testing.T) {
	lastModified := "Mon, 02 Jan 2006 15:04:05 GMT"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("Last-Modified", lastModified)
		fmt.Fprint(w, "<html>v1</html>")
	}))
	t.Cleanup(server.Close)

	settings := newTestSettings(server.URL + "/")
	c := newTestCrawler(t, settings)
	url := server.URL + "/"

	// First sight: fetched and counted.
	res, err := c.requestWithCache(context.Background(), url)
	if err != nil {
		t.Fatalf("requestWithCache failed: %v", err)
	}
	c.output(res)
	if got := c.stats.Get(models.StatNewOrUpdated); got != 1 {
		t.Fatalf("new_or_updated = %d, want 1", got)
	}

	rec, err := c.store.GetRecord(url)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if rec.LastModified() != lastModified {
		t.Errorf("stored last modified = %q", rec.LastModified())
	}

	// Unchanged page served from cache: no rewrite, no count.
	res, err = c.requestWithCache(context.Background(), url)
	if err != nil {
		t.Fatalf("requestWithCache failed: %v", err)
	}
	c.output(res)
	if got := c.stats.Get(models.StatNewOrUpdated); got != 1 {
		t.Errorf("new_or_updated after unchanged revisit = %d, want 1", got)
	}
}

func TestOutputRewritesWhenLastModifiedMoves(t *testing.T) {
	ttl := 0.5
	lastModified := "Tue, 03 Jan 2006 10:00:00 GMT"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("Last-Modified", lastModified)
		fmt.Fprint(w, "<html>v2</html>")
	}))
	t.Cleanup(server.Close)

	settings := newTestSettings(server.URL + "/")
	settings.CacheTTLHours = &ttl
	c := newTestCrawler(t, settings)
	url := server.URL + "/"

	// An expired copy with an older Last-Modified.
	if err := c.store.PutHTML(url, "<html>v1</html>", epochNow()-7200, "Mon, 02 Jan 2006 15:04:05 GMT"); err != nil {
		t.Fatalf("PutHTML failed: %v", err)
	}

	res, err := c.requestWithCache(context.Background(), url)
	if err != nil {
		t.Fatalf("requestWithCache failed: %v", err)
	}
	c.output(res)

	if got := c.stats.Get(models.StatFetched); got != 1 {
		t.Errorf("fetched = %d, want 1 (expired record must not satisfy the cache)", got)
	}
	if got := c.stats.Get(models.StatNewOrUpdated); got != 1 {
		t.Errorf("new_or_updated = %d, want 1", got)
	}

	rec, err := c.store.GetRecord(url)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if rec.Content() != "<html>v2</html>" {
		t.Errorf("stored content = %q, want the fresh body", rec.Content())
	}
	if rec.LastModified() != lastModified {
		t.Errorf("stored last modified = %q, want %q", rec.LastModified(), lastModified)
	}
}
