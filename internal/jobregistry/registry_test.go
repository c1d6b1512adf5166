package jobregistry

import (
	"testing"

	"github.com/streamspace/streamspace/api/internal/models"
)

func TestOnRunningCreatesJobInRunningState(t *testing.T) {
	r := New()
	r.OnRunning(models.Job{ID: "j1", Status: models.JobOk})

	j, ok := r.Get("j1")
	if !ok {
		t.Fatal("Get returned false for a job just created")
	}
	if j.Status != models.JobRunning {
		t.Errorf("Status = %q, want %q (OnRunning always forces RUNNING)", j.Status, models.JobRunning)
	}
}

func TestOnRunningIsNoOpOnceTerminal(t *testing.T) {
	r := New()
	r.OnTerminal(models.Job{ID: "j1", Status: models.JobOk, Summary: "done"})

	r.OnRunning(models.Job{ID: "j1", Status: models.JobRunning})

	j, _ := r.Get("j1")
	if j.Status != models.JobOk {
		t.Errorf("terminal job was reopened: Status = %q", j.Status)
	}
}

func TestOnOutputAppliesToRunningJob(t *testing.T) {
	r := New()
	r.OnRunning(models.Job{ID: "j1"})

	if ok := r.OnOutput("j1", "partial output"); !ok {
		t.Fatal("OnOutput returned false for a running job")
	}

	j, _ := r.Get("j1")
	if j.Summary != "partial output" {
		t.Errorf("Summary = %q, want %q", j.Summary, "partial output")
	}
}

func TestOnOutputDroppedForUnknownJob(t *testing.T) {
	r := New()
	if ok := r.OnOutput("nonexistent", "text"); ok {
		t.Fatal("OnOutput should return false for an unknown jobId")
	}
}

func TestOnOutputDroppedOnceTerminal(t *testing.T) {
	r := New()
	r.OnTerminal(models.Job{ID: "j1", Status: models.JobOk, Summary: "final"})

	if ok := r.OnOutput("j1", "late chunk"); ok {
		t.Fatal("OnOutput should be dropped for a terminal job")
	}

	j, _ := r.Get("j1")
	if j.Summary != "final" {
		t.Errorf("Summary was mutated after terminal: got %q", j.Summary)
	}
}

func TestOnTerminalIsWriteOnce(t *testing.T) {
	r := New()
	if ok := r.OnTerminal(models.Job{ID: "j1", Status: models.JobOk, Summary: "first"}); !ok {
		t.Fatal("first OnTerminal call should succeed")
	}
	if ok := r.OnTerminal(models.Job{ID: "j1", Status: models.JobError, Summary: "second"}); ok {
		t.Fatal("second OnTerminal call should be rejected: terminal status is write-once")
	}

	j, _ := r.Get("j1")
	if j.Status != models.JobOk || j.Summary != "first" {
		t.Errorf("terminal job was overwritten: %+v", j)
	}
}

func TestReconcilePrefersLongerSummary(t *testing.T) {
	fromStore := models.Job{ID: "j1", Status: models.JobRunning, Summary: "short"}
	inMemory := models.Job{ID: "j1", Status: models.JobRunning, Summary: "a much longer in-memory summary"}

	merged := Reconcile(fromStore, inMemory)
	if merged.Summary != inMemory.Summary {
		t.Errorf("Summary = %q, want the longer in-memory summary", merged.Summary)
	}

	// When the store's copy is already longer (e.g. after a terminal write), keep it.
	fromStore.Summary = "a much longer persisted summary, longer than memory"
	inMemory.Summary = "short"
	merged = Reconcile(fromStore, inMemory)
	if merged.Summary != fromStore.Summary {
		t.Errorf("Summary = %q, want the longer store summary", merged.Summary)
	}
}
