// Package streamstager owns in-flight streaming reply state keyed by
// runId, collapsing partial chunks into a final message.
//
// The plugin is observed to sometimes deliver the terminal agent.text
// before agent.stream.end; this package tolerates that ordering rather
// than assuming stream.end always arrives first.
package streamstager

import (
	"sync"
	"time"
)

// Timeout is how long the stager waits after the last chunk before
// emitting a synthetic terminal.
const Timeout = 60 * time.Second

// State is one in-flight streaming reply.
type State struct {
	RunID      string
	SessionKey string
	ThreadID   string
	StartedAt  time.Time
	Buffer     string
	LastChunkAt time.Time
	Closed     bool
}

// DuplicateRunError is returned by OnStreamStart when a state already
// exists for the given runId with a different (sessionKey, threadId).
type DuplicateRunError struct{ RunID string }

func (e *DuplicateRunError) Error() string { return "duplicate stream start for runId " + e.RunID }

// Stager owns the ephemeral StreamState table for one user's Hub.
type Stager struct {
	mu     sync.Mutex
	states map[string]*State // keyed by runId
}

// New creates an empty Stager.
func New() *Stager {
	return &Stager{states: make(map[string]*State)}
}

// OnStreamStart creates state for runId. A duplicate start with an
// identical (sessionKey, threadId) is treated as idempotent and ignored
// silently; any other duplicate is logged by the caller and ignored.
func (s *Stager) OnStreamStart(runID, sessionKey, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.states[runID]; ok {
		if existing.SessionKey == sessionKey && existing.ThreadID == threadID {
			return nil
		}
		return &DuplicateRunError{RunID: runID}
	}

	now := time.Now()
	s.states[runID] = &State{
		RunID:       runID,
		SessionKey:  sessionKey,
		ThreadID:    threadID,
		StartedAt:   now,
		LastChunkAt: now,
	}
	return nil
}

// OnStreamChunk overwrites the buffer with the cumulative text-to-date.
// Implementers must not concatenate: the plugin sends snapshots, not
// deltas. A chunk for an unknown or already-closed runId is
// ignored.
func (s *Stager) OnStreamChunk(runID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[runID]
	if !ok || st.Closed {
		return
	}
	st.Buffer = text
	st.LastChunkAt = time.Now()
}

// OnStreamEnd clears state for runId. A call for an already-cleared runId
// (e.g. because OnAgentText beat it to the terminal transition) is a
// silent no-op.
func (s *Stager) OnStreamEnd(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, runID)
}

// OnAgentText clears whatever stream state matches the arriving terminal
// message — by runId if given, otherwise by (sessionKey, threadId) — even
// if agent.stream.end has not yet arrived. Returns true if a matching
// state was found and cleared.
func (s *Stager) OnAgentText(runID, sessionKey, threadID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if runID != "" {
		if _, ok := s.states[runID]; ok {
			delete(s.states, runID)
			return true
		}
		return false
	}

	for id, st := range s.states {
		if st.SessionKey == sessionKey && st.ThreadID == threadID {
			delete(s.states, id)
			return true
		}
	}
	return false
}

// TimedOut returns the runIds of streams whose last chunk is older than
// Timeout with no terminal/end received, along with a snapshot of their
// state for building the synthetic terminal text. Clears each returned
// state so a subsequent late stream.end/agent.text is a no-op.
func (s *Stager) TimedOut(now time.Time) []State {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []State
	for id, st := range s.states {
		if now.Sub(st.LastChunkAt) >= Timeout {
			out = append(out, *st)
			delete(s.states, id)
		}
	}
	return out
}

// Get returns a copy of the current state for runId, if any. Used for
// replaying in-flight streams to a newly-attached client.
func (s *Stager) Get(runID string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[runID]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// All returns a snapshot of every in-flight stream, for replay to a newly
// attached client.
func (s *Stager) All() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]State, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, *st)
	}
	return out
}

// ClearForDisconnect clears all in-flight streams (used when the plugin
// disconnects mid-stream) and returns their snapshots so the caller can
// emit synthetic terminal text for each.
func (s *Stager) ClearForDisconnect() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]State, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, *st)
	}
	s.states = make(map[string]*State)
	return out
}
