package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/indago/internal/models"
	"github.com/ternarybob/indago/internal/storage"
)

// newBrowseFixture creates a store named "docs" holding five content pages,
// one binary document, one redirect and one error record.
func newBrowseFixture(t *testing.T) *BrowseHandler {
	t.Helper()
	logger := arbor.NewLogger()
	dataDir := t.TempDir()

	store, err := storage.OpenDocumentStore(dataDir, "docs", logger)
	if err != nil {
		t.Fatalf("Failed to open document store: %v", err)
	}

	for _, page := range []string{"a", "b", "c", "d", "e"} {
		rec := models.NewHTMLRecord(fmt.Sprintf("<html><body><h1>%s</h1></body></html>", page), 1700000000, "")
		rec["title"] = "Page " + page
		if err := store.PutRecord("https://docs.test/"+page, rec); err != nil {
			t.Fatalf("Failed to store record: %v", err)
		}
	}
	if err := store.PutBlob("https://docs.test/manual.pdf", []byte("%PDF-1.4"), "application/pdf", 1700000000, ""); err != nil {
		t.Fatalf("Failed to store blob: %v", err)
	}
	if err := store.PutRecord("https://docs.test/moved", models.NewRedirectRecord("https://docs.test/a")); err != nil {
		t.Fatalf("Failed to store redirect: %v", err)
	}
	if err := store.PutRecord("https://docs.test/broken", models.NewErrorRecord(404, "not found")); err != nil {
		t.Fatalf("Failed to store error record: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("Failed to close document store: %v", err)
	}

	stores := storage.NewStoreManager(logger)
	t.Cleanup(func() { stores.Close() })

	return NewBrowseHandler(dataDir, stores, logger)
}

func browse(t *testing.T, h *BrowseHandler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	h.BrowseCrawlHandler(rec, req)
	return rec
}

type browseResponse struct {
	Name       string          `json:"name"`
	Page       int             `json:"page"`
	TotalPages int             `json:"total_pages"`
	NumRecords int             `json:"num_records"`
	Items      []models.Record `json:"items"`
}

func decodeBrowse(t *testing.T, rec *httptest.ResponseRecorder) browseResponse {
	t.Helper()
	var resp browseResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode browse response: %v", err)
	}
	return resp
}

func TestBrowseCrawlHandlerPagination(t *testing.T) {
	h := newBrowseFixture(t)

	rec := browse(t, h, "/browse/docs?rows=2")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	resp := decodeBrowse(t, rec)
	// Five HTML pages plus the PDF are content records; the redirect and the
	// error record are not.
	if resp.NumRecords != 6 {
		t.Errorf("Expected 6 content records, got %d", resp.NumRecords)
	}
	if resp.TotalPages != 3 {
		t.Errorf("Expected 3 total pages, got %d", resp.TotalPages)
	}
	if resp.Name != "docs" {
		t.Errorf("Expected name docs, got %q", resp.Name)
	}
	if len(resp.Items) != 2 {
		t.Fatalf("Expected 2 items on the first page, got %d", len(resp.Items))
	}

	// Keys iterate in lexical order, so the first page holds /a and /b.
	if got := resp.Items[0]["title"]; got != "Page a" {
		t.Errorf("Expected first item title %q, got %v", "Page a", got)
	}

	last := browse(t, h, "/browse/docs?rows=2&page=2")
	lastResp := decodeBrowse(t, last)
	if len(lastResp.Items) != 2 {
		t.Errorf("Expected 2 items on the last page, got %d", len(lastResp.Items))
	}

	past := browse(t, h, "/browse/docs?rows=2&page=9")
	pastResp := decodeBrowse(t, past)
	if len(pastResp.Items) != 0 {
		t.Errorf("Expected no items past the last page, got %d", len(pastResp.Items))
	}
}

func TestBrowseCrawlHandlerStripsFields(t *testing.T) {
	h := newBrowseFixture(t)

	rec := browse(t, h, "/browse/docs?rows=1")
	resp := decodeBrowse(t, rec)
	if len(resp.Items) != 1 {
		t.Fatalf("Expected 1 item, got %d", len(resp.Items))
	}

	item := resp.Items[0]
	for _, field := range []string{models.FieldContent, models.FieldParsedHash, models.FieldCrawled, models.FieldType} {
		if _, ok := item[field]; ok {
			t.Errorf("Expected field %q to be stripped", field)
		}
	}
	if item["title"] == nil {
		t.Error("Expected extracted fields to survive stripping")
	}

	full := browse(t, h, "/browse/docs?rows=1&fullcontent=true")
	fullResp := decodeBrowse(t, full)
	if len(fullResp.Items) != 1 {
		t.Fatalf("Expected 1 item, got %d", len(fullResp.Items))
	}
	if _, ok := fullResp.Items[0][models.FieldContent]; !ok {
		t.Error("Expected _content to be present with fullcontent=true")
	}
	if _, ok := fullResp.Items[0][models.FieldParsedHash]; ok {
		t.Error("Expected parsed_hash to be stripped even with fullcontent=true")
	}
}

func TestBrowseCrawlHandlerValidation(t *testing.T) {
	h := newBrowseFixture(t)

	tests := []struct {
		name   string
		target string
		want   int
	}{
		{"unknown crawl", "/browse/missing", http.StatusNotFound},
		{"missing name", "/browse/", http.StatusBadRequest},
		{"rows too large", "/browse/docs?rows=50", http.StatusBadRequest},
		{"rows zero", "/browse/docs?rows=0", http.StatusBadRequest},
		{"negative page", "/browse/docs?page=-1", http.StatusBadRequest},
		{"bad fullcontent", "/browse/docs?fullcontent=maybe", http.StatusBadRequest},
		{"rows at limit", "/browse/docs?rows=49", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := browse(t, h, tt.target)
			if rec.Code != tt.want {
				t.Errorf("Expected status %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestBrowseCrawlHandlerSharesOpenStore(t *testing.T) {
	h := newBrowseFixture(t)

	// Hold the store open through the manager, as a running crawl would,
	// then browse through the same manager.
	store, err := h.stores.Acquire(h.dataDir, "docs")
	if err != nil {
		t.Fatalf("Failed to acquire store: %v", err)
	}
	defer h.stores.Release(h.dataDir, "docs")

	if _, err := store.GetRecord("https://docs.test/a"); err != nil {
		t.Fatalf("Failed to read through held handle: %v", err)
	}

	rec := browse(t, h, "/browse/docs?rows=2")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200 while store is held, got %d: %s", rec.Code, rec.Body.String())
	}
}
