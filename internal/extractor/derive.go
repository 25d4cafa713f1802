package extractor

import (
	"net/url"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// CreateID returns the deterministic document id for a URL: its UUIDv3 in
// the RFC 4122 URL namespace. Re-crawling the same URL always yields the
// same id, so downstream indexes update in place.
func CreateID(rawURL string) string {
	return uuid.NewMD5(uuid.NameSpaceURL, []byte(rawURL)).String()
}

// GetPath renders the URL path as a breadcrumb: "/test/path/" becomes
// "test / path". URLs without a path yield the hostname.
func GetPath(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	trimmed := strings.Trim(parsed.Path, "/")
	if trimmed == "" {
		return parsed.Host
	}
	return strings.ReplaceAll(trimmed, "/", " / ")
}

// GetTypeFromURL derives a display type from the first path segment,
// title-cased with dashes and underscores as word breaks. Root URLs yield
// "Web Page".
func GetTypeFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "Web Page"
	}
	segment := strings.Trim(parsed.Path, "/")
	if idx := strings.Index(segment, "/"); idx >= 0 {
		segment = segment[:idx]
	}
	if segment == "" {
		return "Web Page"
	}
	segment = strings.NewReplacer("-", " ", "_", " ").Replace(segment)
	// cases.Caser carries transformer state, so build one per call rather
	// than sharing across goroutines.
	return cases.Title(language.English).String(segment)
}
