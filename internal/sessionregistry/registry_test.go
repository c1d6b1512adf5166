package sessionregistry

import (
	"testing"

	"github.com/streamspace/streamspace/api/internal/models"
)

func TestViewCreatesOnFirstAccess(t *testing.T) {
	r := New()
	v1 := r.View("sess-1")
	v2 := r.View("sess-1")
	if v1 != v2 {
		t.Fatal("View returned a different instance for the same sessionKey")
	}
}

func TestRecordPersistedAppendsToStorageView(t *testing.T) {
	r := New()
	msg := models.Message{ID: "m1", SessionKey: "sess-1", Text: "hi"}

	r.RecordPersisted("sess-1", "sess-1", msg)

	recent := r.View("sess-1").Recent()
	if len(recent) != 1 || recent[0].ID != "m1" {
		t.Fatalf("Recent() = %+v, want one message with id m1", recent)
	}
}

func TestRecordPersistedIncrementsBaseReplyCountForThreadMessages(t *testing.T) {
	r := New()
	baseKey := "sess-1"
	threadKey := models.ThreadKey(baseKey, "root-msg")
	reply := models.Message{ID: "m2", SessionKey: baseKey, ThreadID: "root-msg", Text: "reply"}

	r.RecordPersisted(baseKey, threadKey, reply)

	if got := r.View(baseKey).ReplyCount("root-msg"); got != 1 {
		t.Errorf("base view ReplyCount(root-msg) = %d, want 1", got)
	}
	if got := r.View(threadKey).ReplyCount("root-msg"); got != 0 {
		t.Errorf("thread view should not track its own reply count, got %d", got)
	}
}

func TestRecentWindowEvictsOldestPastWindowSize(t *testing.T) {
	r := New()
	for i := 0; i < windowSize+10; i++ {
		r.RecordPersisted("sess-1", "sess-1", models.Message{ID: "m", SessionKey: "sess-1"})
	}
	if got := len(r.View("sess-1").Recent()); got != windowSize {
		t.Errorf("Recent() length = %d, want %d", got, windowSize)
	}
}

func TestRecentReturnsACopy(t *testing.T) {
	r := New()
	r.RecordPersisted("sess-1", "sess-1", models.Message{ID: "m1", SessionKey: "sess-1"})

	recent := r.View("sess-1").Recent()
	recent[0].ID = "mutated"

	if got := r.View("sess-1").Recent()[0].ID; got != "m1" {
		t.Errorf("mutating the returned slice affected internal state: got id %q", got)
	}
}
