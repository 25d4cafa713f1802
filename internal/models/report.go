package models

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Stat counter keys. HTTP statuses and error codes are added as their own
// keys at runtime.
const (
	StatTotal           = "total"
	StatCached          = "cached"
	StatCachedRedirects = "cached_redirects"
	StatFetched         = "fetched"
	StatNewOrUpdated    = "new_or_updated"
)

// reportTimeLayout matches timestamps like
// "2025-01-02 15:04:05.123456+1000 (AEST)".
const reportTimeLayout = "2006-01-02 15:04:05.000000-0700 (MST)"

// Stats is a set of monotonic counters shared by crawl workers.
type Stats struct {
	mu       sync.Mutex
	counters map[string]int64
}

// NewStats returns an empty counter set.
func NewStats() *Stats {
	return &Stats{counters: make(map[string]int64)}
}

// Inc increments a counter, creating it at zero first if needed.
func (s *Stats) Inc(key string) {
	s.mu.Lock()
	s.counters[key]++
	s.mu.Unlock()
}

// Get returns the current value of a counter.
func (s *Stats) Get(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[key]
}

// Snapshot copies the counters for reporting.
func (s *Stats) Snapshot() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.counters))
	for k, v := range s.counters {
		out[k] = v
	}
	return out
}

// Report is the progress summary returned for a crawl.
type Report struct {
	Name      string           `json:"name"`
	Stats     map[string]int64 `json:"stats"`
	StartTime string           `json:"start_time"`
	EndTime   string           `json:"end_time"`
	Duration  string           `json:"duration"`
}

// NewReport builds a report for a crawl that started at start and, if end is
// non-nil, finished at *end. Unfinished crawls report "still running".
func NewReport(name string, stats *Stats, start time.Time, end *time.Time) Report {
	r := Report{
		Name:      name,
		Stats:     stats.Snapshot(),
		StartTime: start.Local().Format(reportTimeLayout),
		EndTime:   "still running",
		Duration:  FormatDuration(-1),
	}
	if end != nil {
		r.EndTime = end.Local().Format(reportTimeLayout)
		r.Duration = FormatDuration(end.Sub(start).Seconds())
	}
	return r
}

// FormatDuration renders a duration in seconds as human-readable text, e.g.
// "2 hours, 10 minutes and 1 second". Durations under one second render as
// "less than a second".
func FormatDuration(seconds float64) string {
	if seconds < 1 {
		return "less than a second"
	}

	secs := int64(seconds)
	m, s := secs/60, secs%60
	h, m := m/60, m%60
	d, h := h/24, h%24
	y, d := d/365, d%365

	units := []struct {
		value int64
		word  string
	}{
		{y, "year"},
		{d, "day"},
		{h, "hour"},
		{m, "minute"},
		{s, "second"},
	}

	var parts []string
	for _, u := range units {
		switch {
		case u.value == 1:
			parts = append(parts, fmt.Sprintf("%d %s", u.value, u.word))
		case u.value > 1:
			parts = append(parts, fmt.Sprintf("%d %ss", u.value, u.word))
		}
	}

	switch len(parts) {
	case 1:
		return parts[0]
	case 2:
		return parts[0] + " and " + parts[1]
	default:
		return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
	}
}
