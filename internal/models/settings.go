package models

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Crawl setting defaults. Applied by ApplyDefaults for fields the caller
// leaves unset.
const (
	DefaultMaxDepth      = 300
	DefaultConcurrency   = 10
	DefaultMaxRetries    = 2
	DefaultCacheTTLHours = -1 // negative disables expiry
	DefaultUserAgent     = "SiteCrawler/1.0"
	DefaultDataDir       = "data"
)

// StringList accepts either a single string or a list of strings when
// decoding from JSON or YAML.
type StringList []string

// UnmarshalJSON implements json.Unmarshaler.
func (s *StringList) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var single string
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		*s = StringList{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*s = list
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *StringList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var single string
		if err := value.Decode(&single); err != nil {
			return err
		}
		*s = StringList{single}
		return nil
	}
	var list []string
	if err := value.Decode(&list); err != nil {
		return err
	}
	*s = list
	return nil
}

// CrawlSettings carries everything a crawl needs: identity, seeds, scoping
// rules, limits, fetch options and the extraction rule set. Submitted as the
// POST /crawl body or loaded from a crawl definition file.
type CrawlSettings struct {
	Name         string     `json:"name" yaml:"name" validate:"required,crawlname"`
	StartingURLs StringList `json:"starting_urls" yaml:"starting_urls" validate:"required,min=1"`

	AllowedDomains   []string `json:"allowed_domains,omitempty" yaml:"allowed_domains,omitempty"`
	AllowedRegex     []string `json:"allowed_regex,omitempty" yaml:"allowed_regex,omitempty"`
	DeniedRegex      []string `json:"denied_regex,omitempty" yaml:"denied_regex,omitempty"`
	DeniedExtensions []string `json:"denied_extensions,omitempty" yaml:"denied_extensions,omitempty"`

	IsSitemap bool `json:"is_sitemap,omitempty" yaml:"is_sitemap,omitempty"`
	MaxDepth  int  `json:"max_depth,omitempty" yaml:"max_depth,omitempty" validate:"omitempty,min=1"`
	// MaxPages of zero or below means unlimited.
	MaxPages    int  `json:"max_pages,omitempty" yaml:"max_pages,omitempty"`
	Concurrency int  `json:"concurrency,omitempty" yaml:"concurrency,omitempty" validate:"omitempty,min=1"`
	MaxRetries  int  `json:"max_retries,omitempty" yaml:"max_retries,omitempty" validate:"omitempty,min=0"`
	RetryErrors bool `json:"retry_errors,omitempty" yaml:"retry_errors,omitempty"`

	// CacheTTLHours controls cache expiry: nil or negative means cached
	// records never expire, zero and above is the TTL in hours.
	CacheTTLHours *float64 `json:"cache_ttl_hours,omitempty" yaml:"cache_ttl_hours,omitempty"`

	// AllowStartingURLHostname defaults to true; nil means unset.
	AllowStartingURLHostname *bool `json:"allow_starting_url_hostname,omitempty" yaml:"allow_starting_url_hostname,omitempty"`
	AllowStartingURLTLD      bool  `json:"allow_starting_url_tld,omitempty" yaml:"allow_starting_url_tld,omitempty"`

	Headers   map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	UserAgent string            `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`

	ExtractionRules *ExtractionRules `json:"extraction_rules,omitempty" yaml:"extraction_rules,omitempty"`

	DataDir         string `json:"data_dir,omitempty" yaml:"data_dir,omitempty"`
	AIParsing       bool   `json:"ai_parsing,omitempty" yaml:"ai_parsing,omitempty"`
	MarkdownContent bool   `json:"markdown_content,omitempty" yaml:"markdown_content,omitempty"`

	// Schedule is a cron expression; definitions carrying one are submitted
	// automatically by the scheduler.
	Schedule string `json:"schedule,omitempty" yaml:"schedule,omitempty"`
}

// crawlNamePattern keeps names safe for use in store and lock file paths.
var crawlNamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

var settingsValidator = newSettingsValidator()

func newSettingsValidator() *validator.Validate {
	v := validator.New()
	// Registration only fails for empty tag names.
	_ = v.RegisterValidation("crawlname", func(fl validator.FieldLevel) bool {
		return crawlNamePattern.MatchString(fl.Field().String())
	})
	return v
}

// Validate checks structural validity of the settings: name shape, seed
// URLs, numeric ranges and the extraction rule set.
func (s *CrawlSettings) Validate() error {
	if err := settingsValidator.Struct(s); err != nil {
		return err
	}
	for _, seed := range s.StartingURLs {
		u, err := url.Parse(seed)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return fmt.Errorf("starting url %q is not an absolute URL", seed)
		}
	}
	for _, pattern := range append(append([]string{}, s.AllowedRegex...), s.DeniedRegex...) {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("invalid scope regex %q: %w", pattern, err)
		}
	}
	if s.ExtractionRules != nil {
		if err := s.ExtractionRules.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ApplyDefaults fills unset fields with their documented defaults.
func (s *CrawlSettings) ApplyDefaults() {
	if s.MaxDepth == 0 {
		s.MaxDepth = DefaultMaxDepth
	}
	if s.Concurrency == 0 {
		s.Concurrency = DefaultConcurrency
	}
	if s.MaxRetries == 0 {
		s.MaxRetries = DefaultMaxRetries
	}
	if s.CacheTTLHours == nil {
		ttl := float64(DefaultCacheTTLHours)
		s.CacheTTLHours = &ttl
	}
	if s.AllowStartingURLHostname == nil {
		allow := true
		s.AllowStartingURLHostname = &allow
	}
	if s.UserAgent == "" {
		s.UserAgent = DefaultUserAgent
	}
	if s.DataDir == "" {
		s.DataDir = DefaultDataDir
	}
	if s.Headers == nil {
		s.Headers = map[string]string{}
	}
	if _, ok := s.Headers["User-Agent"]; !ok {
		s.Headers["User-Agent"] = s.UserAgent
	}
	// Sitemap seeds are expanded to leaf pages up front, so only the seeds
	// themselves are fetched.
	if s.IsSitemap {
		s.MaxDepth = 1
	}
}

// CacheTTL returns the effective TTL in hours, negative when expiry is off.
func (s *CrawlSettings) CacheTTL() float64 {
	if s.CacheTTLHours == nil {
		return DefaultCacheTTLHours
	}
	return *s.CacheTTLHours
}

// HostnameAllowed reports whether seed hostnames join the domain allow-set.
func (s *CrawlSettings) HostnameAllowed() bool {
	if s.AllowStartingURLHostname == nil {
		return true
	}
	return *s.AllowStartingURLHostname
}
