package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/usenabla-com/nabla-runners/internal/foundation"
)

// CancelReason is the error text stamped on jobs killed by Cancel.
const CancelReason = "Job cancelled"

// entry pairs a job record with the cancel function of the task
// executing it, if one is running.
type entry struct {
	job    *BuildJob
	cancel context.CancelFunc
}

// Store is the thread-safe registry of build jobs. The lock is held
// only for map mutation, never across subprocess or network calls.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewStore creates an empty job store.
func NewStore() *Store {
	return &Store{entries: make(map[string]*entry)}
}

// Submit registers a new job in the Queued state and returns its id.
// Existing ids are never overwritten.
func (s *Store) Submit(job *BuildJob) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[job.ID]; exists {
		return "", foundation.NewError(foundation.ErrorCodeValidation,
			fmt.Sprintf("job %s already exists", job.ID)).
			WithComponent("jobstore").Build()
	}
	s.entries[job.ID] = &entry{job: job.clone()}
	return job.ID, nil
}

// Start transitions the job to Running, stamps StartedAt and stores
// the cancel function of the task performing the build pipeline.
func (s *Store) Start(id string, cancel context.CancelFunc) error {
	return s.update(id, func(e *entry) error {
		if e.job.Status.Terminal() {
			return errFinished(id, e.job.Status)
		}
		e.job.start()
		e.cancel = cancel
		return nil
	})
}

// Complete moves the job to Completed with its output and artifact.
func (s *Store) Complete(id, output, artifactPath string) error {
	return s.update(id, func(e *entry) error {
		if e.job.Status.Terminal() {
			return errFinished(id, e.job.Status)
		}
		e.job.complete(output, artifactPath)
		e.cancel = nil
		return nil
	})
}

// Fail moves the job to Failed with a human-readable error.
func (s *Store) Fail(id, errText string) error {
	return s.update(id, func(e *entry) error {
		if e.job.Status.Terminal() {
			return errFinished(id, e.job.Status)
		}
		e.job.fail(errText)
		e.cancel = nil
		return nil
	})
}

// SetBuildSystem records the detected build system on the job.
func (s *Store) SetBuildSystem(id, system string) error {
	return s.update(id, func(e *entry) error {
		e.job.BuildSystem = system
		return nil
	})
}

// Get returns a snapshot of the job, never a live reference.
func (s *Store) Get(id string) (*BuildJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, errNotFound(id)
	}
	return e.job.clone(), nil
}

// List returns snapshots of all known jobs.
func (s *Store) List() []*BuildJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*BuildJob, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.job.clone())
	}
	return out
}

// Cancel aborts the job's running task, if any, and forces the status
// to Failed with the cancellation reason. Jobs already in a terminal
// state are left untouched; cancelling them returns an error instead
// of silently rewriting history.
func (s *Store) Cancel(id string) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return errNotFound(id)
	}
	if e.job.Status.Terminal() {
		status := e.job.Status
		s.mu.Unlock()
		return errFinished(id, status)
	}
	cancel := e.cancel
	e.cancel = nil
	e.job.fail(CancelReason)
	s.mu.Unlock()

	// The context cancellation propagates into any child build
	// processes; invoked outside the lock.
	if cancel != nil {
		cancel()
	}
	return nil
}

// CleanupOlderThan removes jobs whose CompletedAt precedes now-maxAge,
// aborting any stale task handle. Unfinished jobs are never swept.
// Returns the ids of the removed jobs so callers can release resources
// still keyed on them, such as workspace directories.
func (s *Store) CleanupOlderThan(maxAge time.Duration) []string {
	cutoff := time.Now().UTC().Add(-maxAge)

	s.mu.Lock()
	var stale []*entry
	var swept []string
	for id, e := range s.entries {
		if e.job.CompletedAt != nil && e.job.CompletedAt.Before(cutoff) {
			stale = append(stale, e)
			swept = append(swept, id)
			delete(s.entries, id)
		}
	}
	s.mu.Unlock()

	for _, e := range stale {
		if e.cancel != nil {
			e.cancel()
		}
	}
	return swept
}

// Len returns the number of tracked jobs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// update applies an atomic mutation to the entry for id.
func (s *Store) update(id string, fn func(*entry) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return errNotFound(id)
	}
	return fn(e)
}

func errNotFound(id string) error {
	return foundation.NewError(foundation.ErrorCodeNotFound,
		fmt.Sprintf("job not found: %s", id)).
		WithComponent("jobstore").Build()
}

func errFinished(id string, status Status) error {
	return foundation.NewError(foundation.ErrorCodeValidation,
		fmt.Sprintf("job %s already %s", id, status)).
		WithComponent("jobstore").Build()
}
