// Package registry enforces the one-active-generation-job-per-game rule and
// holds each job's cancellation handle.
package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/boardforge/api/internal/model"
)

// ErrJobActive is returned when a generation job already exists for a game.
// Requests hitting this are rejected, never queued.
var ErrJobActive = errors.New("a generation job is already active for this game")

type entry struct {
	job    model.PendingJob
	cancel context.CancelFunc
}

// Registry tracks in-flight jobs keyed by game id with an atomic
// check-and-insert, which makes the exclusivity check race-free.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]*entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{jobs: make(map[string]*entry)}
}

// Register inserts a pending job, failing with ErrJobActive if one exists.
func (r *Registry) Register(gameID, channel, packID string, cancel context.CancelFunc) (model.PendingJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[gameID]; exists {
		return model.PendingJob{}, ErrJobActive
	}
	job := model.PendingJob{
		GameID:    gameID,
		Channel:   channel,
		PackID:    packID,
		StartedAt: time.Now(),
	}
	r.jobs[gameID] = &entry{job: job, cancel: cancel}
	return job, nil
}

// Unregister removes the pending job for a game, if any.
func (r *Registry) Unregister(gameID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.jobs, gameID)
}

// Get returns the pending job for a game.
func (r *Registry) Get(gameID string) (model.PendingJob, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.jobs[gameID]; ok {
		return e.job, true
	}
	return model.PendingJob{}, false
}

// Cancel fires the job's cancellation handle and reports whether a job was
// active. Idempotent: the entry stays registered until the pipeline
// observes the cancellation and unregisters itself.
func (r *Registry) Cancel(gameID string) bool {
	r.mu.Lock()
	e, ok := r.jobs[gameID]
	r.mu.Unlock()

	if !ok {
		return false
	}
	e.cancel()
	return true
}
