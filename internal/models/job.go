package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the state of a crawl job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// CrawlJob tracks one submitted crawl from acceptance to completion. The
// settings are snapshot at creation time so a job can be inspected or
// re-run later regardless of definition changes.
type CrawlJob struct {
	ID     string    `json:"id" badgerhold:"key"`
	Name   string    `json:"name" badgerhold:"index"`
	Status JobStatus `json:"status" badgerhold:"index"`

	Settings CrawlSettings `json:"settings"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Error string           `json:"error,omitempty"`
	Stats map[string]int64 `json:"stats,omitempty"`
}

// NewCrawlJob creates a pending job for the given settings.
func NewCrawlJob(settings CrawlSettings) *CrawlJob {
	return &CrawlJob{
		ID:        uuid.New().String(),
		Name:      settings.Name,
		Status:    JobStatusPending,
		Settings:  settings,
		CreatedAt: time.Now(),
	}
}

// MarkStarted transitions the job to running.
func (j *CrawlJob) MarkStarted() {
	j.Status = JobStatusRunning
	now := time.Now()
	j.StartedAt = &now
}

// MarkCompleted transitions the job to completed with its final counters.
func (j *CrawlJob) MarkCompleted(stats map[string]int64) {
	j.Status = JobStatusCompleted
	j.Stats = stats
	now := time.Now()
	j.CompletedAt = &now
}

// MarkFailed transitions the job to failed with an error message.
func (j *CrawlJob) MarkFailed(errMsg string, stats map[string]int64) {
	j.Status = JobStatusFailed
	j.Error = errMsg
	j.Stats = stats
	now := time.Now()
	j.CompletedAt = &now
}

// MarkCancelled transitions the job to cancelled.
func (j *CrawlJob) MarkCancelled() {
	j.Status = JobStatusCancelled
	now := time.Now()
	j.CompletedAt = &now
}

// IsTerminal reports whether the job has finished in any way.
func (j *CrawlJob) IsTerminal() bool {
	return j.Status == JobStatusCompleted ||
		j.Status == JobStatusFailed ||
		j.Status == JobStatusCancelled
}

// Report summarizes the job in the shape the job API returns as "info".
// Jobs that have not finished report "still running" as their end time.
func (j *CrawlJob) Report() Report {
	stats := j.Stats
	if stats == nil {
		stats = map[string]int64{}
	}

	start := j.CreatedAt
	if j.StartedAt != nil {
		start = *j.StartedAt
	}

	r := Report{
		Name:      j.Name,
		Stats:     stats,
		StartTime: start.Local().Format(reportTimeLayout),
		EndTime:   "still running",
		Duration:  FormatDuration(-1),
	}
	if j.CompletedAt != nil {
		r.EndTime = j.CompletedAt.Local().Format(reportTimeLayout)
		r.Duration = FormatDuration(j.CompletedAt.Sub(start).Seconds())
	}
	return r
}

// Duration returns elapsed run time, zero before the job starts.
func (j *CrawlJob) Duration() time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	if j.CompletedAt != nil {
		return j.CompletedAt.Sub(*j.StartedAt)
	}
	return time.Since(*j.StartedAt)
}
