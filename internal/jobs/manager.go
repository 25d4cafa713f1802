package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/indago/internal/common"
	"github.com/ternarybob/indago/internal/crawler"
	"github.com/ternarybob/indago/internal/extractor"
	"github.com/ternarybob/indago/internal/models"
	"github.com/ternarybob/indago/internal/storage"
)

// ErrInvalidSettings wraps settings validation failures so handlers can map
// them to a client error.
var ErrInvalidSettings = errors.New("invalid crawl settings")

// Notifier receives job lifecycle and progress events. The WebSocket hub
// implements it; a nil Notifier disables notifications.
type Notifier interface {
	JobStatus(job *models.CrawlJob)
	JobProgress(jobID string, report models.Report)
}

// Manager owns the crawl job lifecycle. It validates submissions, enforces
// the per-name lock, runs the crawl and the chained extraction pass in a
// background goroutine, and persists every status transition in the job
// store.
type Manager struct {
	config   *common.Config
	jobStore *storage.JobStore
	stores   *storage.StoreManager
	notifier Notifier
	logger   arbor.ILogger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager creates a job manager. The notifier may be nil.
func NewManager(config *common.Config, jobStore *storage.JobStore, stores *storage.StoreManager, notifier Notifier, logger arbor.ILogger) *Manager {
	return &Manager{
		config:   config,
		jobStore: jobStore,
		stores:   stores,
		notifier: notifier,
		logger:   logger,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Submit validates the settings, claims the per-name lock, persists a
// pending job, and starts the crawl in the background. The lock is held
// until the job finishes, so a second submission for the same name fails
// with ErrLockHeld while the first is in flight.
func (m *Manager) Submit(settings models.CrawlSettings) (*models.CrawlJob, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	m.applyConfigDefaults(&settings)
	settings.ApplyDefaults()

	lock, err := AcquireLock(settings.Name)
	if err != nil {
		return nil, err
	}

	job := models.NewCrawlJob(settings)
	if err := m.jobStore.SaveJob(job); err != nil {
		if rerr := lock.Release(); rerr != nil {
			m.logger.Warn().Err(rerr).Str("name", settings.Name).Msg("Failed to release crawl lock")
		}
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.cancels[job.ID] = cancel
	m.mu.Unlock()

	m.logger.Info().
		Str("job_id", job.ID).
		Str("name", settings.Name).
		Msg("Crawl job accepted")

	m.wg.Add(1)
	go m.run(ctx, job, lock)

	return job, nil
}

// Cancel stops a job. Active jobs are cancelled through their context and
// transition asynchronously; a non-terminal job with no live goroutine is
// closed out directly. Cancelling a terminal job is a no-op.
func (m *Manager) Cancel(id string) (*models.CrawlJob, error) {
	job, err := m.jobStore.GetJob(id)
	if err != nil {
		return nil, err
	}
	if job.IsTerminal() {
		return job, nil
	}

	m.mu.Lock()
	cancel, ok := m.cancels[id]
	m.mu.Unlock()

	if ok {
		cancel()
		m.logger.Info().Str("job_id", id).Str("name", job.Name).Msg("Crawl job cancellation requested")
		return job, nil
	}

	m.transition(job, job.MarkCancelled)
	return job, nil
}

// Get returns a job by ID.
func (m *Manager) Get(id string) (*models.CrawlJob, error) {
	return m.jobStore.GetJob(id)
}

// List returns jobs newest first, optionally filtered by status. A limit of
// zero or below returns everything.
func (m *Manager) List(status models.JobStatus, limit int) ([]*models.CrawlJob, error) {
	return m.jobStore.ListJobs(status, limit)
}

// Active returns pending and running jobs, newest first.
func (m *Manager) Active() ([]*models.CrawlJob, error) {
	return m.jobStore.ActiveJobs()
}

// CountByStatus returns the number of jobs in the given status.
func (m *Manager) CountByStatus(status models.JobStatus) (int, error) {
	return m.jobStore.CountByStatus(status)
}

// Shutdown cancels every live job and waits for their goroutines, bounded
// by the context.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	for id, cancel := range m.cancels {
		m.logger.Info().Str("job_id", id).Msg("Cancelling job for shutdown")
		cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run executes the crawl and the chained extraction pass, holding the name
// lock for the whole job.
func (m *Manager) run(ctx context.Context, job *models.CrawlJob, lock *Lock) {
	defer m.wg.Done()
	defer m.clearCancel(job.ID)
	defer func() {
		if err := lock.Release(); err != nil {
			m.logger.Warn().Err(err).Str("name", job.Name).Msg("Failed to release crawl lock")
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().
				Str("job_id", job.ID).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("PANIC RECOVERED in crawl job")
			m.transition(job, func() {
				job.MarkFailed(fmt.Sprintf("panic: %v", r), job.Stats)
			})
		}
	}()

	m.transition(job, job.MarkStarted)

	store, err := m.stores.Acquire(job.Settings.DataDir, job.Settings.Name)
	if err != nil {
		m.finishInterrupted(job, fmt.Errorf("failed to open document store: %w", err), nil)
		return
	}
	defer m.stores.Release(job.Settings.DataDir, job.Settings.Name)

	fetcher := crawler.NewFetcher(m.config.Crawler.RequestTimeout, job.Settings.Headers, m.logger)
	crawl := crawler.New(&job.Settings, store, fetcher, m.logger)
	crawl.OnProgress(func(report models.Report) {
		m.notifyProgress(job.ID, report)
	})

	runErr := crawl.Run(ctx)
	stats := crawl.Stats().Snapshot()
	if runErr != nil {
		m.finishInterrupted(job, runErr, stats)
		return
	}

	ext := extractor.New(store, &job.Settings, m.config.Extraction, m.logger)
	if err := ext.Run(ctx); err != nil {
		m.finishInterrupted(job, fmt.Errorf("extraction pass failed: %w", err), stats)
		return
	}

	m.transition(job, func() { job.MarkCompleted(stats) })
	m.notifyProgress(job.ID, crawl.Report())

	m.logger.Info().
		Str("job_id", job.ID).
		Str("name", job.Name).
		Int64("total", stats[models.StatTotal]).
		Int64("new_or_updated", stats[models.StatNewOrUpdated]).
		Msg("Crawl job completed")
}

// finishInterrupted records a job that stopped before completion, keeping
// cancellation distinct from failure.
func (m *Manager) finishInterrupted(job *models.CrawlJob, cause error, stats map[string]int64) {
	if errors.Is(cause, context.Canceled) {
		m.transition(job, func() {
			job.MarkCancelled()
			job.Stats = stats
		})
		m.logger.Info().Str("job_id", job.ID).Str("name", job.Name).Msg("Crawl job cancelled")
		return
	}

	m.transition(job, func() { job.MarkFailed(cause.Error(), stats) })
	m.logger.Error().Err(cause).Str("job_id", job.ID).Str("name", job.Name).Msg("Crawl job failed")
}

// transition applies a status mutation, persists it and notifies listeners.
func (m *Manager) transition(job *models.CrawlJob, mutate func()) {
	mutate()
	if err := m.jobStore.SaveJob(job); err != nil {
		m.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to persist job status")
	}
	m.notifyStatus(job)
}

// applyConfigDefaults fills unset submission fields from the server-wide
// defaults before the built-in fallbacks apply.
func (m *Manager) applyConfigDefaults(s *models.CrawlSettings) {
	if s.DataDir == "" {
		s.DataDir = m.config.Storage.DataDir
	}
	if s.UserAgent == "" {
		s.UserAgent = m.config.Crawler.UserAgent
	}
	if s.Concurrency == 0 {
		s.Concurrency = m.config.Crawler.Concurrency
	}
	if s.MaxDepth == 0 {
		s.MaxDepth = m.config.Crawler.MaxDepth
	}
	if s.MaxRetries == 0 {
		s.MaxRetries = m.config.Crawler.MaxRetries
	}
}

func (m *Manager) clearCancel(id string) {
	m.mu.Lock()
	if cancel, ok := m.cancels[id]; ok {
		cancel()
		delete(m.cancels, id)
	}
	m.mu.Unlock()
}

func (m *Manager) notifyStatus(job *models.CrawlJob) {
	if m.notifier != nil {
		m.notifier.JobStatus(job)
	}
}

func (m *Manager) notifyProgress(jobID string, report models.Report) {
	if m.notifier != nil {
		m.notifier.JobProgress(jobID, report)
	}
}
