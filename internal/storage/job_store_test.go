package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/indago/internal/models"
)

func newTestJobStore(t *testing.T) *JobStore {
	t.Helper()
	store, err := OpenJobStore(t.TempDir(), false, arbor.NewLogger())
	if err != nil {
		t.Fatalf("Failed to open job store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestJob(name string, createdAt time.Time) *models.CrawlJob {
	job := models.NewCrawlJob(models.CrawlSettings{
		Name:         name,
		StartingURLs: models.StringList{"https://example.com"},
	})
	job.CreatedAt = createdAt
	return job
}

func TestJobLifecyclePersistence(t *testing.T) {
	store := newTestJobStore(t)

	// 1. Save a pending job
	job := newTestJob("docs", time.Now())
	if err := store.SaveJob(job); err != nil {
		t.Fatalf("Failed to save job: %v", err)
	}

	// 2. Load it back
	loaded, err := store.GetJob(job.ID)
	if err != nil {
		t.Fatalf("Failed to get job: %v", err)
	}
	if loaded.Status != models.JobStatusPending {
		t.Errorf("status = %q, want pending", loaded.Status)
	}
	if loaded.Settings.Name != "docs" {
		t.Errorf("settings name = %q", loaded.Settings.Name)
	}

	// 3. Transition to running and persist
	loaded.MarkStarted()
	if err := store.SaveJob(loaded); err != nil {
		t.Fatalf("Failed to save running job: %v", err)
	}

	running, err := store.ListJobs(models.JobStatusRunning, 0)
	if err != nil {
		t.Fatalf("Failed to list running jobs: %v", err)
	}
	if len(running) != 1 {
		t.Fatalf("running jobs = %d, want 1", len(running))
	}

	// 4. Complete and verify counters stick
	loaded.MarkCompleted(map[string]int64{"total": 42})
	if err := store.SaveJob(loaded); err != nil {
		t.Fatalf("Failed to save completed job: %v", err)
	}

	final, err := store.GetJob(job.ID)
	if err != nil {
		t.Fatalf("Failed to get job: %v", err)
	}
	if final.Status != models.JobStatusCompleted {
		t.Errorf("status = %q, want completed", final.Status)
	}
	if final.Stats["total"] != 42 {
		t.Errorf("stats total = %d, want 42", final.Stats["total"])
	}
	if final.CompletedAt == nil {
		t.Error("completed_at not persisted")
	}
}

func TestGetJobNotFound(t *testing.T) {
	store := newTestJobStore(t)

	if _, err := store.GetJob("no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListJobsNewestFirst(t *testing.T) {
	store := newTestJobStore(t)

	base := time.Now().Add(-time.Hour)
	for i, name := range []string{"first", "second", "third"} {
		job := newTestJob(name, base.Add(time.Duration(i)*time.Minute))
		if err := store.SaveJob(job); err != nil {
			t.Fatalf("Failed to save job %s: %v", name, err)
		}
	}

	jobs, err := store.ListJobs("", 0)
	if err != nil {
		t.Fatalf("Failed to list jobs: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("jobs = %d, want 3", len(jobs))
	}
	if jobs[0].Name != "third" || jobs[2].Name != "first" {
		t.Errorf("order = %s, %s, %s; want newest first", jobs[0].Name, jobs[1].Name, jobs[2].Name)
	}

	limited, err := store.ListJobs("", 2)
	if err != nil {
		t.Fatalf("Failed to list jobs: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limited jobs = %d, want 2", len(limited))
	}
}

func TestActiveJobs(t *testing.T) {
	store := newTestJobStore(t)

	pending := newTestJob("pending", time.Now())
	if err := store.SaveJob(pending); err != nil {
		t.Fatalf("Failed to save job: %v", err)
	}

	running := newTestJob("running", time.Now())
	running.MarkStarted()
	if err := store.SaveJob(running); err != nil {
		t.Fatalf("Failed to save job: %v", err)
	}

	done := newTestJob("done", time.Now())
	done.MarkStarted()
	done.MarkCompleted(nil)
	if err := store.SaveJob(done); err != nil {
		t.Fatalf("Failed to save job: %v", err)
	}

	active, err := store.ActiveJobs()
	if err != nil {
		t.Fatalf("Failed to list active jobs: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("active jobs = %d, want 2", len(active))
	}
	for _, j := range active {
		if j.IsTerminal() {
			t.Errorf("terminal job %s listed as active", j.Name)
		}
	}

	count, err := store.CountByStatus(models.JobStatusCompleted)
	if err != nil {
		t.Fatalf("Failed to count jobs: %v", err)
	}
	if count != 1 {
		t.Errorf("completed count = %d, want 1", count)
	}
}

func TestMarkInterrupted(t *testing.T) {
	store := newTestJobStore(t)

	running := newTestJob("running", time.Now())
	running.MarkStarted()
	if err := store.SaveJob(running); err != nil {
		t.Fatalf("Failed to save job: %v", err)
	}

	done := newTestJob("done", time.Now())
	done.MarkStarted()
	done.MarkCompleted(nil)
	if err := store.SaveJob(done); err != nil {
		t.Fatalf("Failed to save job: %v", err)
	}

	n, err := store.MarkInterrupted()
	if err != nil {
		t.Fatalf("MarkInterrupted failed: %v", err)
	}
	if n != 1 {
		t.Errorf("interrupted = %d, want 1", n)
	}

	reloaded, err := store.GetJob(running.ID)
	if err != nil {
		t.Fatalf("Failed to get job: %v", err)
	}
	if reloaded.Status != models.JobStatusFailed {
		t.Errorf("status = %q, want failed", reloaded.Status)
	}
	if reloaded.Error == "" {
		t.Error("interrupted job has no error message")
	}

	untouched, err := store.GetJob(done.ID)
	if err != nil {
		t.Fatalf("Failed to get job: %v", err)
	}
	if untouched.Status != models.JobStatusCompleted {
		t.Errorf("completed job flipped to %q", untouched.Status)
	}
}

func TestDeleteJob(t *testing.T) {
	store := newTestJobStore(t)

	job := newTestJob("docs", time.Now())
	if err := store.SaveJob(job); err != nil {
		t.Fatalf("Failed to save job: %v", err)
	}

	if err := store.DeleteJob(job.ID); err != nil {
		t.Fatalf("Failed to delete job: %v", err)
	}
	if _, err := store.GetJob(job.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("job still readable after delete, err = %v", err)
	}

	// Deleting a missing job is not an error.
	if err := store.DeleteJob("no-such-id"); err != nil {
		t.Errorf("delete missing job err = %v", err)
	}
}
