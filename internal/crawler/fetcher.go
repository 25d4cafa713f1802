package crawler

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/ternarybob/arbor"
)

// Fetch failure modes the scheduler dispatches on. Invalid content type and
// already-fetched are silent outcomes, not errors to record.
var (
	ErrInvalidContentType = errors.New("invalid content type")
	ErrAlreadyFetched     = errors.New("already fetched")
	ErrTooManyRedirects   = errors.New("too many redirects")
	ErrInvalidEncoding    = errors.New("invalid encoding")
)

// StatusError reports an HTTP response with status 400 or above.
type StatusError struct {
	Status int
	URL    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d at url: %s", e.Status, e.URL)
}

const (
	// DefaultTimeout is the total request budget when none is configured.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRedirects is the redirect chain cap.
	DefaultMaxRedirects = 30
)

// Content types fetched as text and parsed for links.
var htmlContentTypes = map[string]struct{}{
	"text/html":             {},
	"text/xhtml":            {},
	"application/xhtml+xml": {},
	"application/xhtml":     {},
	"application/html":      {},
}

// Content types fetched as opaque bytes and stored as blobs.
var binaryContentTypes = map[string]struct{}{
	"application/pdf":      {},
	"application/epub+zip": {},
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   {},
}

// FetchResult is the outcome of one successful GET. Body holds HTML text;
// Data holds binary bytes; exactly one is set.
type FetchResult struct {
	ContentType string
	FinalURL    string
	Body        string
	Data        []byte
	Headers     http.Header
}

// IsHTML reports whether the result carries an HTML body.
func (r *FetchResult) IsHTML() bool {
	return r.ContentType == "text/html"
}

// Fetcher issues single GET requests over a shared client. TLS verification
// is off: the crawler must accept misconfigured public sites.
type Fetcher struct {
	client  *http.Client
	headers map[string]string
	logger  arbor.ILogger
}

// NewFetcher builds a fetcher with the given total timeout and request
// headers. Zero timeout falls back to DefaultTimeout.
func NewFetcher(timeout time.Duration, headers map[string]string, logger arbor.ILogger) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= DefaultMaxRedirects {
				return ErrTooManyRedirects
			}
			return nil
		},
	}

	return &Fetcher{
		client:  client,
		headers: headers,
		logger:  logger,
	}
}

// Fetch GETs the URL and routes the response by content type. isSeen lets
// the caller short-circuit redirects that land on an already-claimed URL.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, isSeen func(string) bool) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, v := range f.headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, &StatusError{Status: resp.StatusCode, URL: rawURL}
	}

	finalURL := resp.Request.URL.String()
	if finalURL != rawURL && isSeen != nil && isSeen(finalURL) {
		return nil, ErrAlreadyFetched
	}

	contentType := mediaType(resp.Header.Get("Content-Type"))

	if _, ok := htmlContentTypes[contentType]; ok {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
		}
		return &FetchResult{
			ContentType: "text/html",
			FinalURL:    finalURL,
			Body:        string(body),
			Headers:     resp.Header,
		}, nil
	}

	if _, ok := binaryContentTypes[contentType]; ok {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
		}
		return &FetchResult{
			ContentType: contentType,
			FinalURL:    finalURL,
			Data:        data,
			Headers:     resp.Header,
		}, nil
	}

	return nil, fmt.Errorf("%w: %s at url: %s", ErrInvalidContentType, contentType, rawURL)
}

// FetchRaw GETs a URL and returns the body regardless of content type.
// Used for sitemap XML, which the content-type routing would reject.
func (f *Fetcher) FetchRaw(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, v := range f.headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, &StatusError{Status: resp.StatusCode, URL: rawURL}
	}
	return io.ReadAll(resp.Body)
}

// mediaType strips parameters like charset from a Content-Type header.
func mediaType(header string) string {
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return header
	}
	return mt
}

// IsTimeout reports whether the fetch failed on its time budget.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// IsConnectionError reports transport-level failures: DNS, refused
// connections, resets. Timeouts and redirect-cap errors classify first.
func IsConnectionError(err error) bool {
	var ue *url.Error
	return errors.As(err, &ue)
}
