package streamstager

import (
	"testing"
	"time"
)

func TestOnStreamStartIsIdempotentForIdenticalRestart(t *testing.T) {
	s := New()
	if err := s.OnStreamStart("run-1", "sess-1", ""); err != nil {
		t.Fatalf("first OnStreamStart returned error: %v", err)
	}
	if err := s.OnStreamStart("run-1", "sess-1", ""); err != nil {
		t.Fatalf("idempotent restart returned error: %v", err)
	}
}

func TestOnStreamStartRejectsConflictingDuplicate(t *testing.T) {
	s := New()
	if err := s.OnStreamStart("run-1", "sess-1", ""); err != nil {
		t.Fatalf("first OnStreamStart returned error: %v", err)
	}
	err := s.OnStreamStart("run-1", "sess-2", "")
	if err == nil {
		t.Fatal("expected DuplicateRunError, got nil")
	}
	if _, ok := err.(*DuplicateRunError); !ok {
		t.Errorf("error = %T, want *DuplicateRunError", err)
	}
}

func TestOnStreamChunkOverwritesRatherThanConcatenates(t *testing.T) {
	s := New()
	_ = s.OnStreamStart("run-1", "sess-1", "")

	s.OnStreamChunk("run-1", "hello")
	s.OnStreamChunk("run-1", "hello world")

	st, ok := s.Get("run-1")
	if !ok {
		t.Fatal("Get returned false for known runId")
	}
	if st.Buffer != "hello world" {
		t.Errorf("Buffer = %q, want %q (cumulative snapshot, not concatenated)", st.Buffer, "hello world")
	}
}

func TestOnStreamChunkIgnoresUnknownRunID(t *testing.T) {
	s := New()
	s.OnStreamChunk("nonexistent", "text")
	if _, ok := s.Get("nonexistent"); ok {
		t.Fatal("a chunk for an unknown runId should not create state")
	}
}

func TestOnStreamEndClearsState(t *testing.T) {
	s := New()
	_ = s.OnStreamStart("run-1", "sess-1", "")
	s.OnStreamEnd("run-1")
	if _, ok := s.Get("run-1"); ok {
		t.Fatal("state should be cleared after OnStreamEnd")
	}
	// A second end for the same runId is a silent no-op, not an error.
	s.OnStreamEnd("run-1")
}

func TestOnAgentTextBeforeStreamEndClearsStateByRunID(t *testing.T) {
	s := New()
	_ = s.OnStreamStart("run-1", "sess-1", "")

	found := s.OnAgentText("run-1", "", "")
	if !found {
		t.Fatal("OnAgentText should find and clear the matching state by runId")
	}

	// The late stream.end that follows must be a no-op, not an error.
	s.OnStreamEnd("run-1")
	if _, ok := s.Get("run-1"); ok {
		t.Fatal("state should remain cleared")
	}
}

func TestOnAgentTextFallsBackToSessionAndThreadWhenRunIDEmpty(t *testing.T) {
	s := New()
	_ = s.OnStreamStart("run-1", "sess-1", "thread-1")

	found := s.OnAgentText("", "sess-1", "thread-1")
	if !found {
		t.Fatal("expected OnAgentText to match by (sessionKey, threadId)")
	}
	if _, ok := s.Get("run-1"); ok {
		t.Fatal("matched state should have been cleared")
	}
}

func TestTimedOutReturnsAndClearsStaleStreams(t *testing.T) {
	s := New()
	_ = s.OnStreamStart("run-1", "sess-1", "")
	s.states["run-1"].LastChunkAt = time.Now().Add(-2 * Timeout)

	timedOut := s.TimedOut(time.Now())
	if len(timedOut) != 1 || timedOut[0].RunID != "run-1" {
		t.Fatalf("TimedOut() = %+v, want one entry for run-1", timedOut)
	}
	if _, ok := s.Get("run-1"); ok {
		t.Fatal("timed-out state should be cleared")
	}
}

func TestTimedOutIgnoresFreshStreams(t *testing.T) {
	s := New()
	_ = s.OnStreamStart("run-1", "sess-1", "")

	if timedOut := s.TimedOut(time.Now()); len(timedOut) != 0 {
		t.Errorf("TimedOut() = %+v, want none for a fresh stream", timedOut)
	}
}

func TestClearForDisconnectReturnsAndClearsEverything(t *testing.T) {
	s := New()
	_ = s.OnStreamStart("run-1", "sess-1", "")
	_ = s.OnStreamStart("run-2", "sess-2", "")

	cleared := s.ClearForDisconnect()
	if len(cleared) != 2 {
		t.Fatalf("ClearForDisconnect() returned %d states, want 2", len(cleared))
	}
	if all := s.All(); len(all) != 0 {
		t.Errorf("All() after ClearForDisconnect = %+v, want empty", all)
	}
}
