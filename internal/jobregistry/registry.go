// Package jobregistry tracks background-task job lifecycle in-memory for
// one user's Hub, mirroring this state machine:
//
//	(absent) --running--> RUNNING --ok|error|skipped--> TERMINAL
//	                         |                              ^
//	                         +--job.output (replace summary)+
package jobregistry

import (
	"sync"

	"github.com/streamspace/streamspace/api/internal/models"
)

// Registry is the in-memory mirror of Store job rows for one user's Hub.
// The Store is authoritative; Registry exists so running jobs can
// accumulate summary text across many job.output frames without a write
// per chunk.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]*models.Job // keyed by jobId
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{jobs: make(map[string]*models.Job)}
}

// OnRunning creates or idempotently re-applies a running transition.
// Multiple running updates for the same jobId are idempotent.
func (r *Registry) OnRunning(job models.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.jobs[job.ID]; ok && existing.Status.IsTerminal() {
		return
	}
	j := job
	j.Status = models.JobRunning
	r.jobs[job.ID] = &j
}

// OnOutput replaces a running job's cumulative summary. Returns false
// (dropped) if the job is unknown or already terminal, in which case the
// caller logs and drops the update rather than applying it.
func (r *Registry) OnOutput(jobID, text string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[jobID]
	if !ok || j.Status.IsTerminal() {
		return false
	}
	j.Summary = text
	return true
}

// OnTerminal applies a terminal transition (ok/error/skipped). Returns
// false (dropped) if the job is already terminal — terminal states are
// write-once.
func (r *Registry) OnTerminal(job models.Job) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.jobs[job.ID]; ok && existing.Status.IsTerminal() {
		return false
	}
	j := job
	r.jobs[job.ID] = &j
	return true
}

// Get returns a copy of the in-memory job state, if any.
func (r *Registry) Get(jobID string) (models.Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok {
		return models.Job{}, false
	}
	return *j, true
}

// Reconcile merges a Store-fetched job with the in-memory copy, preferring
// the longer of the two summaries. Used when the hub is
// asked for job state and wants to return the freshest view without
// forcing a Store write on every read.
func Reconcile(fromStore, inMemory models.Job) models.Job {
	out := fromStore
	if len(inMemory.Summary) > len(out.Summary) {
		out.Summary = inMemory.Summary
	}
	return out
}
