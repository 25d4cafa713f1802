package server

import (
	"net/http"

	"github.com/ternarybob/indago/internal/handlers"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route (job progress + log streaming)
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// Job control
	mux.HandleFunc("/crawl", s.handleCrawlCollection) // GET (active jobs), POST (submit)
	mux.HandleFunc("/crawl/", s.handleCrawlRoutes)    // GET/DELETE /{id}, GET /stats

	// Stored content records
	mux.HandleFunc("/browse/", s.app.BrowseHandler.BrowseCrawlHandler) // GET /{name}

	// System
	mux.HandleFunc("/health", handlers.HealthHandler)

	return mux
}

// handleCrawlCollection routes /crawl requests (list active and submit)
func (s *Server) handleCrawlCollection(w http.ResponseWriter, r *http.Request) {
	RouteResourceCollection(w, r,
		s.app.CrawlHandler.ListCrawlsHandler,
		s.app.CrawlHandler.SubmitCrawlHandler)
}

// handleCrawlRoutes routes /crawl/{id} requests and the stats subpath.
// Job IDs are UUIDs, so "stats" can never collide with an ID.
func (s *Server) handleCrawlRoutes(w http.ResponseWriter, r *http.Request) {
	if RouteByPathSuffix(w, r, "/crawl/", []PathSuffixRouter{
		{Suffix: "stats", Handler: s.app.CrawlHandler.GetStatsHandler},
	}) {
		return
	}

	RouteResourceItem(w, r,
		s.app.CrawlHandler.GetCrawlHandler,
		nil,
		s.app.CrawlHandler.RevokeCrawlHandler)
}
