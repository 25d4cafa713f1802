package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
)

func newFetcherTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html><body>hello</body></html>")
	})
	mux.HandleFunc("/doc.pdf", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.4 fake"))
	})
	mux.HandleFunc("/data.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"a":1}`)
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/page", http.StatusFound)
	})
	mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	})
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, `<urlset><url><loc>x</loc></url></urlset>`)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestFetchHTML(t *testing.T) {
	server := newFetcherTestServer(t)
	f := NewFetcher(0, nil, arbor.NewLogger())

	res, err := f.Fetch(context.Background(), server.URL+"/page", nil)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if !res.IsHTML() {
		t.Errorf("content type = %q, want text/html", res.ContentType)
	}
	if res.Body != "<html><body>hello</body></html>" {
		t.Errorf("body = %q", res.Body)
	}
	if res.Data != nil {
		t.Error("HTML fetch populated Data")
	}
	if res.FinalURL != server.URL+"/page" {
		t.Errorf("final URL = %q, want %q", res.FinalURL, server.URL+"/page")
	}
}

func TestFetchBinary(t *testing.T) {
	server := newFetcherTestServer(t)
	f := NewFetcher(0, nil, arbor.NewLogger())

	res, err := f.Fetch(context.Background(), server.URL+"/doc.pdf", nil)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if res.ContentType != "application/pdf" {
		t.Errorf("content type = %q, want application/pdf", res.ContentType)
	}
	if string(res.Data) != "%PDF-1.4 fake" {
		t.Errorf("data = %q", res.Data)
	}
	if res.Body != "" {
		t.Error("binary fetch populated Body")
	}
}

func TestFetchInvalidContentType(t *testing.T) {
	server := newFetcherTestServer(t)
	f := NewFetcher(0, nil, arbor.NewLogger())

	_, err := f.Fetch(context.Background(), server.URL+"/data.json", nil)
	if !errors.Is(err, ErrInvalidContentType) {
		t.Fatalf("err = %v, want ErrInvalidContentType", err)
	}
}

func TestFetchStatusErrors(t *testing.T) {
	server := newFetcherTestServer(t)
	f := NewFetcher(0, nil, arbor.NewLogger())

	for path, status := range map[string]int{"/missing": 404, "/broken": 500} {
		_, err := f.Fetch(context.Background(), server.URL+path, nil)
		var statusErr *StatusError
		if !errors.As(err, &statusErr) {
			t.Fatalf("err for %s = %v, want StatusError", path, err)
		}
		if statusErr.Status != status {
			t.Errorf("status for %s = %d, want %d", path, statusErr.Status, status)
		}
	}
}

func TestFetchFollowsRedirects(t *testing.T) {
	server := newFetcherTestServer(t)
	f := NewFetcher(0, nil, arbor.NewLogger())

	res, err := f.Fetch(context.Background(), server.URL+"/old", func(string) bool { return false })
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if res.FinalURL != server.URL+"/page" {
		t.Errorf("final URL = %q, want redirect target", res.FinalURL)
	}
}

func TestFetchRedirectToSeenURL(t *testing.T) {
	server := newFetcherTestServer(t)
	f := NewFetcher(0, nil, arbor.NewLogger())

	target := server.URL + "/page"
	_, err := f.Fetch(context.Background(), server.URL+"/old", func(u string) bool { return u == target })
	if !errors.Is(err, ErrAlreadyFetched) {
		t.Fatalf("err = %v, want ErrAlreadyFetched", err)
	}
}

func TestFetchTooManyRedirects(t *testing.T) {
	server := newFetcherTestServer(t)
	f := NewFetcher(0, nil, arbor.NewLogger())

	_, err := f.Fetch(context.Background(), server.URL+"/loop", nil)
	if !errors.Is(err, ErrTooManyRedirects) {
		t.Fatalf("err = %v, want ErrTooManyRedirects", err)
	}
}

func TestFetchSendsHeaders(t *testing.T) {
	var gotAgent, gotCookie string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.Header.Get("User-Agent")
		gotCookie = r.Header.Get("Cookie")
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html></html>")
	}))
	t.Cleanup(server.Close)

	headers := map[string]string{
		"User-Agent": "SiteCrawler/1.0",
		"Cookie":     "session=abc",
	}
	f := NewFetcher(0, headers, arbor.NewLogger())
	if _, err := f.Fetch(context.Background(), server.URL, nil); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if gotAgent != "SiteCrawler/1.0" {
		t.Errorf("User-Agent = %q", gotAgent)
	}
	if gotCookie != "session=abc" {
		t.Errorf("Cookie = %q", gotCookie)
	}
}

func TestFetchTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	t.Cleanup(server.Close)

	f := NewFetcher(50*time.Millisecond, nil, arbor.NewLogger())
	_, err := f.Fetch(context.Background(), server.URL, nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !IsTimeout(err) {
		t.Errorf("IsTimeout(%v) = false", err)
	}
}

func TestFetchConnectionError(t *testing.T) {
	// Nothing listens on port 1.
	f := NewFetcher(2*time.Second, nil, arbor.NewLogger())
	_, err := f.Fetch(context.Background(), "http://127.0.0.1:1/", nil)
	if err == nil {
		t.Fatal("expected connection error")
	}
	if IsTimeout(err) {
		t.Errorf("connection refused classified as timeout: %v", err)
	}
	if !IsConnectionError(err) {
		t.Errorf("IsConnectionError(%v) = false", err)
	}
}

func TestFetchRawIgnoresContentType(t *testing.T) {
	server := newFetcherTestServer(t)
	f := NewFetcher(0, nil, arbor.NewLogger())

	body, err := f.FetchRaw(context.Background(), server.URL+"/sitemap.xml")
	if err != nil {
		t.Fatalf("FetchRaw failed: %v", err)
	}
	if string(body) != `<urlset><url><loc>x</loc></url></urlset>` {
		t.Errorf("body = %q", body)
	}
}
