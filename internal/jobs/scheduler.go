package jobs

import (
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/indago/internal/models"
)

// Scheduler submits crawl definitions on their cron schedule. A tick that
// finds the crawl name still locked from a previous run is skipped.
type Scheduler struct {
	manager *Manager
	cron    *cron.Cron
	logger  arbor.ILogger

	mu         sync.Mutex
	registered map[string]cron.EntryID
	running    bool
}

// NewScheduler creates a scheduler over the job manager.
func NewScheduler(manager *Manager, logger arbor.ILogger) *Scheduler {
	return &Scheduler{
		manager:    manager,
		cron:       cron.New(),
		logger:     logger,
		registered: make(map[string]cron.EntryID),
	}
}

// Register adds one definition to the cron runner. The definition must
// carry a schedule expression.
func (s *Scheduler) Register(settings models.CrawlSettings) error {
	if settings.Schedule == "" {
		return fmt.Errorf("definition %s has no schedule", settings.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.registered[settings.Name]; exists {
		return fmt.Errorf("definition %s already registered", settings.Name)
	}

	def := settings
	cronID, err := s.cron.AddFunc(def.Schedule, func() {
		s.execute(def)
	})
	if err != nil {
		return fmt.Errorf("failed to add definition %s to cron: %w", def.Name, err)
	}
	s.registered[def.Name] = cronID

	s.logger.Info().
		Str("name", def.Name).
		Str("schedule", def.Schedule).
		Msg("Scheduled crawl registered")
	return nil
}

// RegisterAll registers every definition carrying a schedule and returns
// how many were registered. Definitions without a schedule are left for
// manual submission over HTTP.
func (s *Scheduler) RegisterAll(defs []models.CrawlSettings) int {
	count := 0
	for _, def := range defs {
		if def.Schedule == "" {
			continue
		}
		if err := s.Register(def); err != nil {
			s.logger.Warn().Err(err).Str("name", def.Name).Msg("Failed to register scheduled crawl")
			continue
		}
		count++
	}
	return count
}

// Start begins firing schedules.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
	s.logger.Info().Int("count", len(s.registered)).Msg("Scheduler started")
}

// Stop halts the cron runner and waits for an in-flight tick to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Scheduler stopped")
}

// execute submits one scheduled crawl. Submission itself is quick; the
// crawl runs in the manager's background goroutine.
func (s *Scheduler) execute(settings models.CrawlSettings) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("name", settings.Name).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("PANIC RECOVERED in scheduled crawl")
		}
	}()

	if Held(settings.Name) {
		s.logger.Info().Str("name", settings.Name).Msg("Skipping scheduled crawl, previous run still in flight")
		return
	}

	job, err := s.manager.Submit(settings)
	if err != nil {
		s.logger.Error().Err(err).Str("name", settings.Name).Msg("Scheduled crawl submission failed")
		return
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("name", settings.Name).
		Msg("Scheduled crawl submitted")
}
