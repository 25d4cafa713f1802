package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/indago/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// JobStore persists crawl jobs across restarts.
type JobStore struct {
	store  *badgerhold.Store
	logger arbor.ILogger
}

// OpenJobStore opens the job database under dataDir. When reset is true any
// existing database is removed first.
func OpenJobStore(dataDir string, reset bool, logger arbor.ILogger) (*JobStore, error) {
	path := filepath.Join(dataDir, "jobs")

	if reset {
		if _, err := os.Stat(path); err == nil {
			logger.Debug().Str("path", path).Msg("Deleting existing job database (reset_on_startup=true)")
			if err := os.RemoveAll(path); err != nil {
				logger.Warn().Err(err).Str("path", path).Msg("Failed to delete job database directory")
			}
		}
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create job database directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = path
	options.ValueDir = path
	options.Logger = nil // Disable default badger logger to use arbor

	store, err := badgerhold.Open(options)
	if err != nil {
		logger.Fatal().Err(err).Str("path", path).Msg("JobStore: Failed to open database")
		return nil, fmt.Errorf("failed to open job database: %w", err)
	}

	logger.Debug().Str("path", path).Msg("Job database initialized")

	return &JobStore{
		store:  store,
		logger: logger,
	}, nil
}

// Close closes the job database.
func (s *JobStore) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// SaveJob inserts or updates a job.
func (s *JobStore) SaveJob(job *models.CrawlJob) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if err := s.store.Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

// GetJob loads a job by ID.
func (s *JobStore) GetJob(id string) (*models.CrawlJob, error) {
	var job models.CrawlJob
	if err := s.store.Get(id, &job); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: job %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// ListJobs returns jobs newest first, optionally filtered by status.
// A limit of zero or below returns everything.
func (s *JobStore) ListJobs(status models.JobStatus, limit int) ([]*models.CrawlJob, error) {
	var query *badgerhold.Query
	if status != "" {
		query = badgerhold.Where("Status").Eq(status)
	} else {
		query = badgerhold.Where("ID").Ne("")
	}
	query = query.SortBy("CreatedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var jobs []models.CrawlJob
	if err := s.store.Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	result := make([]*models.CrawlJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

// ActiveJobs returns pending and running jobs, newest first.
func (s *JobStore) ActiveJobs() ([]*models.CrawlJob, error) {
	var jobs []models.CrawlJob
	query := badgerhold.Where("Status").In(models.JobStatusPending, models.JobStatusRunning).
		SortBy("CreatedAt").Reverse()
	if err := s.store.Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list active jobs: %w", err)
	}

	result := make([]*models.CrawlJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

// CountByStatus returns the number of jobs in the given status.
func (s *JobStore) CountByStatus(status models.JobStatus) (int, error) {
	count, err := s.store.Count(&models.CrawlJob{}, badgerhold.Where("Status").Eq(status))
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return int(count), nil
}

// DeleteJob removes a job record. Missing jobs are not an error.
func (s *JobStore) DeleteJob(id string) error {
	if err := s.store.Delete(id, &models.CrawlJob{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

// MarkInterrupted moves any job left running by a previous process into the
// failed state. Called once at startup before new jobs are accepted.
func (s *JobStore) MarkInterrupted() (int, error) {
	var jobs []models.CrawlJob
	query := badgerhold.Where("Status").In(models.JobStatusPending, models.JobStatusRunning)
	if err := s.store.Find(&jobs, query); err != nil {
		return 0, fmt.Errorf("failed to find interrupted jobs: %w", err)
	}

	for i := range jobs {
		jobs[i].MarkFailed("interrupted by restart", jobs[i].Stats)
		if err := s.store.Upsert(jobs[i].ID, &jobs[i]); err != nil {
			return 0, fmt.Errorf("failed to mark job interrupted: %w", err)
		}
	}
	return len(jobs), nil
}
