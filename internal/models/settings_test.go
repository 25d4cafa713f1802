package models

import (
	"encoding/json"
	"testing"

	"gopkg.in/yaml.v3"
)

// TestStringListUnmarshalJSON verifies scalar and list forms both decode
func TestStringListUnmarshalJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "single string",
			input:    `{"starting_urls": "https://example.com"}`,
			expected: []string{"https://example.com"},
		},
		{
			name:     "list of strings",
			input:    `{"starting_urls": ["https://a.com", "https://b.com"]}`,
			expected: []string{"https://a.com", "https://b.com"},
		},
		{
			name:     "empty list",
			input:    `{"starting_urls": []}`,
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s CrawlSettings
			if err := json.Unmarshal([]byte(tt.input), &s); err != nil {
				t.Fatalf("unmarshal failed: %v", err)
			}
			if len(s.StartingURLs) != len(tt.expected) {
				t.Fatalf("got %d urls, want %d", len(s.StartingURLs), len(tt.expected))
			}
			for i := range tt.expected {
				if s.StartingURLs[i] != tt.expected[i] {
					t.Errorf("urls[%d] = %q, want %q", i, s.StartingURLs[i], tt.expected[i])
				}
			}
		})
	}
}

// TestStringListUnmarshalYAML verifies definition files accept both forms
func TestStringListUnmarshalYAML(t *testing.T) {
	var scalar CrawlSettings
	if err := yaml.Unmarshal([]byte("name: docs\nstarting_urls: https://example.com\n"), &scalar); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(scalar.StartingURLs) != 1 || scalar.StartingURLs[0] != "https://example.com" {
		t.Errorf("scalar form = %v, want single https://example.com", scalar.StartingURLs)
	}

	var list CrawlSettings
	input := "name: docs\nstarting_urls:\n  - https://a.com\n  - https://b.com\n"
	if err := yaml.Unmarshal([]byte(input), &list); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(list.StartingURLs) != 2 {
		t.Fatalf("list form = %v, want two entries", list.StartingURLs)
	}
}

// TestApplyDefaults verifies unset fields pick up documented defaults
func TestApplyDefaults(t *testing.T) {
	s := CrawlSettings{
		Name:         "docs",
		StartingURLs: StringList{"https://example.com"},
	}
	s.ApplyDefaults()

	if s.MaxDepth != DefaultMaxDepth {
		t.Errorf("max_depth = %d, want %d", s.MaxDepth, DefaultMaxDepth)
	}
	if s.Concurrency != DefaultConcurrency {
		t.Errorf("concurrency = %d, want %d", s.Concurrency, DefaultConcurrency)
	}
	if s.MaxRetries != DefaultMaxRetries {
		t.Errorf("max_retries = %d, want %d", s.MaxRetries, DefaultMaxRetries)
	}
	if s.CacheTTL() != DefaultCacheTTLHours {
		t.Errorf("cache ttl = %v, want %v", s.CacheTTL(), DefaultCacheTTLHours)
	}
	if !s.HostnameAllowed() {
		t.Error("hostname allow should default to true")
	}
	if s.UserAgent != DefaultUserAgent {
		t.Errorf("user_agent = %q, want %q", s.UserAgent, DefaultUserAgent)
	}
	if s.DataDir != DefaultDataDir {
		t.Errorf("data_dir = %q, want %q", s.DataDir, DefaultDataDir)
	}
	if got := s.Headers["User-Agent"]; got != DefaultUserAgent {
		t.Errorf("User-Agent header = %q, want %q", got, DefaultUserAgent)
	}
}

// TestApplyDefaultsPreservesExplicit verifies caller values are not overwritten
func TestApplyDefaultsPreservesExplicit(t *testing.T) {
	ttl := 12.0
	allow := false
	s := CrawlSettings{
		Name:                     "docs",
		StartingURLs:             StringList{"https://example.com"},
		MaxDepth:                 3,
		Concurrency:              2,
		CacheTTLHours:            &ttl,
		AllowStartingURLHostname: &allow,
		UserAgent:                "custom/2.0",
		Headers:                  map[string]string{"User-Agent": "preset/1.0"},
	}
	s.ApplyDefaults()

	if s.MaxDepth != 3 {
		t.Errorf("max_depth = %d, want 3", s.MaxDepth)
	}
	if s.Concurrency != 2 {
		t.Errorf("concurrency = %d, want 2", s.Concurrency)
	}
	if s.CacheTTL() != 12.0 {
		t.Errorf("cache ttl = %v, want 12", s.CacheTTL())
	}
	if s.HostnameAllowed() {
		t.Error("explicit hostname=false was overwritten")
	}
	if got := s.Headers["User-Agent"]; got != "preset/1.0" {
		t.Errorf("User-Agent header = %q, want preset/1.0", got)
	}
}

// TestApplyDefaultsSitemap verifies sitemap crawls fetch seeds only
func TestApplyDefaultsSitemap(t *testing.T) {
	s := CrawlSettings{
		Name:         "docs",
		StartingURLs: StringList{"https://example.com/sitemap.xml"},
		IsSitemap:    true,
		MaxDepth:     50,
	}
	s.ApplyDefaults()

	if s.MaxDepth != 1 {
		t.Errorf("sitemap max_depth = %d, want 1", s.MaxDepth)
	}
}

// TestCrawlSettingsValidate verifies structural validation
func TestCrawlSettingsValidate(t *testing.T) {
	tests := []struct {
		name        string
		settings    CrawlSettings
		shouldError bool
	}{
		{
			name: "valid",
			settings: CrawlSettings{
				Name:         "docs-v1.2",
				StartingURLs: StringList{"https://example.com"},
			},
			shouldError: false,
		},
		{
			name: "name with path separator",
			settings: CrawlSettings{
				Name:         "docs/v1",
				StartingURLs: StringList{"https://example.com"},
			},
			shouldError: true,
		},
		{
			name: "name with spaces",
			settings: CrawlSettings{
				Name:         "my docs",
				StartingURLs: StringList{"https://example.com"},
			},
			shouldError: true,
		},
		{
			name: "missing name",
			settings: CrawlSettings{
				StartingURLs: StringList{"https://example.com"},
			},
			shouldError: true,
		},
		{
			name: "no seeds",
			settings: CrawlSettings{
				Name: "docs",
			},
			shouldError: true,
		},
		{
			name: "relative seed",
			settings: CrawlSettings{
				Name:         "docs",
				StartingURLs: StringList{"/index.html"},
			},
			shouldError: true,
		},
		{
			name: "bad scope regex",
			settings: CrawlSettings{
				Name:         "docs",
				StartingURLs: StringList{"https://example.com"},
				AllowedRegex: []string{"([a-z"},
			},
			shouldError: true,
		},
		{
			name: "bad extraction rule",
			settings: CrawlSettings{
				Name:         "docs",
				StartingURLs: StringList{"https://example.com"},
				ExtractionRules: &ExtractionRules{Rules: []ExtractionRule{
					{CSS: "h1"},
				}},
			},
			shouldError: true,
		},
		{
			name: "negative max_pages means unlimited",
			settings: CrawlSettings{
				Name:         "docs",
				StartingURLs: StringList{"https://example.com"},
				MaxPages:     -1,
			},
			shouldError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.settings.Validate()
			if tt.shouldError && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.shouldError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
