package frame

import (
	"encoding/json"
	"testing"
)

func TestPeekExtractsTypeAndSessionKey(t *testing.T) {
	raw := []byte(`{"type":"agent.text","sessionKey":"sess-1","text":"hi","messageId":"m1"}`)

	env, err := Peek(raw)
	if err != nil {
		t.Fatalf("Peek returned error: %v", err)
	}
	if env.Type != TypeAgentText {
		t.Errorf("Type = %q, want %q", env.Type, TypeAgentText)
	}
	if env.SessionKey != "sess-1" {
		t.Errorf("SessionKey = %q, want %q", env.SessionKey, "sess-1")
	}
}

func TestPeekRejectsInvalidJSON(t *testing.T) {
	if _, err := Peek([]byte("not json")); err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}

func TestAgentStreamChunkRoundTrip(t *testing.T) {
	chunk := AgentStreamChunk{
		Type:       TypeAgentStreamChunk,
		RunID:      "run-1",
		SessionKey: "sess-1",
		Text:       "hello wor",
	}

	raw, err := Marshal(chunk)
	if err != nil {
		t.Fatalf("Marshal returned error: %v", err)
	}

	env, err := Peek(raw)
	if err != nil {
		t.Fatalf("Peek returned error: %v", err)
	}
	if env.Type != TypeAgentStreamChunk {
		t.Errorf("Type = %q, want %q", env.Type, TypeAgentStreamChunk)
	}

	var decoded AgentStreamChunk
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("json.Unmarshal returned error: %v", err)
	}
	if decoded != chunk {
		t.Errorf("decoded = %+v, want %+v", decoded, chunk)
	}
}

func TestNewErrorSetsType(t *testing.T) {
	e := NewError("boom", "BAD_FRAME")
	if e.Type != TypeError {
		t.Errorf("Type = %q, want %q", e.Type, TypeError)
	}
	if e.Message != "boom" || e.Code != "BAD_FRAME" {
		t.Errorf("unexpected error frame: %+v", e)
	}
}

