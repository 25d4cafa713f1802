package crawler

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/indago/internal/models"
	"golang.org/x/net/publicsuffix"
)

// globalDeniedPatterns is unioned into every crawl's deny list. Media,
// style and script URLs are never worth a fetch.
var globalDeniedPatterns = []string{
	`\.jpg`, `\.jpeg`, `\.png`, `\.mp4`, `\.webp`, `\.gif`, `\.css`, `\.js`, `\.pdf`,
}

// ScopeFilter decides whether a discovered link may be followed.
type ScopeFilter struct {
	allowedDomains map[string]struct{}
	allowedRegex   []*regexp.Regexp
	deniedRegex    []*regexp.Regexp
	deniedExts     []string
	logger         arbor.ILogger
}

// NewScopeFilter builds the filter from crawl settings. The domain allow-set
// is the user's allowed_domains plus, per seed URL, its hostname and/or its
// registered domain depending on the two seed flags.
func NewScopeFilter(settings *models.CrawlSettings, logger arbor.ILogger) *ScopeFilter {
	f := &ScopeFilter{
		allowedDomains: make(map[string]struct{}),
		deniedExts:     settings.DeniedExtensions,
		logger:         logger,
	}

	for _, d := range settings.AllowedDomains {
		f.allowedDomains[d] = struct{}{}
	}
	for _, seed := range settings.StartingURLs {
		hostname, registered := parseTLD(seed)
		if settings.HostnameAllowed() && hostname != "" {
			f.allowedDomains[hostname] = struct{}{}
		}
		if settings.AllowStartingURLTLD && registered != "" {
			f.allowedDomains[registered] = struct{}{}
		}
	}

	f.allowedRegex = compileCaseInsensitive(settings.AllowedRegex, logger)
	denied := append(append([]string{}, settings.DeniedRegex...), globalDeniedPatterns...)
	f.deniedRegex = compileCaseInsensitive(denied, logger)

	return f
}

// compileCaseInsensitive compiles patterns for match-anywhere,
// case-insensitive search. Bad patterns are logged and skipped.
func compileCaseInsensitive(patterns []string, logger arbor.ILogger) []*regexp.Regexp {
	regexes := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			logger.Warn().Err(err).Str("pattern", pattern).Msg("Failed to compile scope pattern")
			continue
		}
		regexes = append(regexes, re)
	}
	return regexes
}

// parseTLD returns the hostname and the registered domain (eTLD+1) of a URL.
// Hosts the public suffix list cannot split fall back to the bare hostname.
func parseTLD(rawURL string) (string, string) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", ""
	}
	hostname := u.Hostname()
	registered, err := publicsuffix.EffectiveTLDPlusOne(hostname)
	if err != nil {
		registered = hostname
	}
	return hostname, registered
}

// Allowed reports whether the link is in scope:
// domain membership, no "@", allow-regex wins immediately, then deny-regex
// and denied extensions, otherwise accept.
func (f *ScopeFilter) Allowed(link string) bool {
	hostname, registered := parseTLD(link)
	if _, ok := f.allowedDomains[hostname]; !ok {
		if _, ok := f.allowedDomains[registered]; !ok {
			return false
		}
	}
	if strings.Contains(link, "@") {
		return false
	}

	for _, re := range f.allowedRegex {
		if re.MatchString(link) {
			return true
		}
	}

	for _, re := range f.deniedRegex {
		if re.MatchString(link) {
			return false
		}
	}
	for _, ext := range f.deniedExts {
		if strings.HasSuffix(link, ext) {
			return false
		}
	}

	return true
}
