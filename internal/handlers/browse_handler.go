package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/indago/internal/models"
	"github.com/ternarybob/indago/internal/storage"
)

const (
	// defaultBrowseRows is the page size when the request does not name one.
	defaultBrowseRows = 20

	// maxBrowseRows is the exclusive upper bound on the requested page size.
	maxBrowseRows = 50
)

// BrowseHandler pages through the content records of a stored crawl.
type BrowseHandler struct {
	dataDir string
	stores  *storage.StoreManager
	logger  arbor.ILogger
}

// NewBrowseHandler creates a browse handler over the configured data
// directory.
func NewBrowseHandler(dataDir string, stores *storage.StoreManager, logger arbor.ILogger) *BrowseHandler {
	return &BrowseHandler{
		dataDir: dataDir,
		stores:  stores,
		logger:  logger,
	}
}

// BrowseCrawlHandler returns one page of content records from a crawl store.
// Raw bodies are stripped unless fullcontent is set; parse bookkeeping
// fields are always stripped. Redirect and error records never appear.
// GET /browse/{name}?page=0&rows=20&fullcontent=false
func (h *BrowseHandler) BrowseCrawlHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	// Extract crawl name from path: /browse/{name}
	pathParts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(pathParts) < 2 || pathParts[1] == "" {
		WriteError(w, http.StatusBadRequest, "Crawl name is required")
		return
	}
	name := pathParts[1]

	page, rows, fullContent, err := browseParams(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !storage.StoreExists(h.dataDir, name) {
		WriteError(w, http.StatusNotFound, fmt.Sprintf("No stored crawl named %q", name))
		return
	}

	store, err := h.stores.Acquire(h.dataDir, name)
	if err != nil {
		h.logger.Error().Err(err).Str("name", name).Msg("Failed to open document store")
		WriteError(w, http.StatusInternalServerError, "Failed to open crawl store")
		return
	}
	defer h.stores.Release(h.dataDir, name)

	records, err := store.FilterRecordsByField(models.FieldType, models.RecordTypeContent)
	if err != nil {
		h.logger.Error().Err(err).Str("name", name).Msg("Failed to read crawl store")
		WriteError(w, http.StatusInternalServerError, "Failed to read crawl store")
		return
	}

	start := page * rows
	end := start + rows
	if start > len(records) {
		start = len(records)
	}
	if end > len(records) {
		end = len(records)
	}

	totalPages := len(records) / rows
	if len(records)%rows != 0 {
		totalPages++
	}

	items := make([]models.Record, 0, end-start)
	for _, kr := range records[start:end] {
		rec := kr.Record.Clone()
		if !fullContent {
			delete(rec, models.FieldContent)
		}
		delete(rec, models.FieldParsedHash)
		delete(rec, models.FieldCrawled)
		delete(rec, models.FieldType)
		items = append(items, rec)
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"name":        name,
		"page":        page,
		"total_pages": totalPages,
		"num_records": len(records),
		"items":       items,
	})
}

// browseParams parses and validates the paging query parameters.
func browseParams(r *http.Request) (page, rows int, fullContent bool, err error) {
	q := r.URL.Query()

	page = 0
	if v := q.Get("page"); v != "" {
		page, err = strconv.Atoi(v)
		if err != nil || page < 0 {
			return 0, 0, false, fmt.Errorf("page must be a non-negative integer")
		}
	}

	rows = defaultBrowseRows
	if v := q.Get("rows"); v != "" {
		rows, err = strconv.Atoi(v)
		if err != nil || rows < 1 || rows >= maxBrowseRows {
			return 0, 0, false, fmt.Errorf("rows must be between 1 and %d", maxBrowseRows-1)
		}
	}

	if v := q.Get("fullcontent"); v != "" {
		fullContent, err = strconv.ParseBool(v)
		if err != nil {
			return 0, 0, false, fmt.Errorf("fullcontent must be a boolean")
		}
	}

	return page, rows, fullContent, nil
}
