package jobs_test

import (
	"errors"
	"testing"
	"time"

	"harmonix/internal/jobs"
	"harmonix/internal/services"
)

func newRecord(id, owner string) *jobs.Record {
	return &jobs.Record{
		JobID:     id,
		Owner:     owner,
		Status:    jobs.StatusQueued,
		SourceRef: "https://youtu.be/dQw4w9WgXcQ",
		CreatedAt: time.Now().UTC(),
	}
}

func TestCreateAndGetReturnsCopies(t *testing.T) {
	reg := jobs.NewRegistry()
	record := newRecord("job-1", "alice")
	if err := reg.Create(record); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, ok := reg.Get("job-1")
	if !ok {
		t.Fatal("expected record")
	}
	got.Status = jobs.StatusFailed

	again, _ := reg.Get("job-1")
	if again.Status != jobs.StatusQueued {
		t.Fatal("registry leaked internal state")
	}
}

func TestCreateRejectsDuplicates(t *testing.T) {
	reg := jobs.NewRegistry()
	if err := reg.Create(newRecord("job-1", "alice")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := reg.Create(newRecord("job-1", "bob"))
	if !errors.Is(err, services.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestMutateEnforcesStateGraph(t *testing.T) {
	reg := jobs.NewRegistry()
	if err := reg.Create(newRecord("job-1", "alice")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := reg.Mutate("job-1", func(r *jobs.Record) error {
		r.Status = jobs.StatusDownloading
		return nil
	}); err != nil {
		t.Fatalf("legal transition rejected: %v", err)
	}

	err := reg.Mutate("job-1", func(r *jobs.Record) error {
		r.Status = jobs.StatusCompleted
		return nil
	})
	if !errors.Is(err, services.ErrInvalidState) {
		t.Fatalf("expected illegal transition error, got %v", err)
	}

	got, _ := reg.Get("job-1")
	if got.Status != jobs.StatusDownloading {
		t.Fatalf("status should be unchanged after rejected mutation, got %s", got.Status)
	}
}

func TestRejectedMutationLeavesWholeRecordUntouched(t *testing.T) {
	reg := jobs.NewRegistry()
	record := newRecord("job-1", "alice")
	record.Status = jobs.StatusCancelling
	record.Stage = "Cancelling"
	record.Progress = 40
	if err := reg.Create(record); err != nil {
		t.Fatalf("Create: %v", err)
	}

	err := reg.Mutate("job-1", func(r *jobs.Record) error {
		r.SetCompleted(map[string]string{"vocals": "/tmp/vocals.mp3"})
		return nil
	})
	if !errors.Is(err, services.ErrInvalidState) {
		t.Fatalf("expected illegal transition error, got %v", err)
	}

	got, _ := reg.Get("job-1")
	if got.Status != jobs.StatusCancelling || got.Stage != "Cancelling" {
		t.Fatalf("rejected mutation leaked into the record: status=%s stage=%s", got.Status, got.Stage)
	}
	if got.Progress != 40 || got.CompletedAt != nil || got.Stems != nil {
		t.Fatalf("rejected mutation leaked fields: progress=%d completedAt=%v stems=%v",
			got.Progress, got.CompletedAt, got.Stems)
	}
}

func TestTerminalStatesNeverTransition(t *testing.T) {
	for _, terminal := range []jobs.Status{jobs.StatusCompleted, jobs.StatusFailed, jobs.StatusCancelled} {
		if !terminal.IsTerminal() {
			t.Fatalf("%s should be terminal", terminal)
		}
		for _, next := range jobs.AllStatuses() {
			if terminal.CanTransition(next) {
				t.Fatalf("%s must not transition to %s", terminal, next)
			}
		}
	}
}

func TestListFiltersByOwner(t *testing.T) {
	reg := jobs.NewRegistry()
	a := newRecord("job-a", "alice")
	a.CreatedAt = time.Now().UTC().Add(-time.Hour)
	b := newRecord("job-b", "alice")
	c := newRecord("job-c", "bob")
	for _, rec := range []*jobs.Record{a, b, c} {
		if err := reg.Create(rec); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	got := reg.List("alice")
	if len(got) != 2 {
		t.Fatalf("expected 2 records for alice, got %d", len(got))
	}
	if got[0].JobID != "job-b" {
		t.Fatalf("expected newest first, got %s", got[0].JobID)
	}
	if len(reg.ListAll()) != 3 {
		t.Fatal("ListAll should include every owner")
	}
}

func TestMergeNeverClobbersNonTerminal(t *testing.T) {
	reg := jobs.NewRegistry()
	live := newRecord("job-1", "alice")
	live.Status = jobs.StatusProcessing
	if err := reg.Create(live); err != nil {
		t.Fatalf("Create: %v", err)
	}

	snapshot := newRecord("job-1", "alice")
	snapshot.Status = jobs.StatusCompleted
	if reg.Merge(snapshot) {
		t.Fatal("merge must not overwrite an in-flight record")
	}

	got, _ := reg.Get("job-1")
	if got.Status != jobs.StatusProcessing {
		t.Fatalf("unexpected status %s", got.Status)
	}

	// Terminal records are replaced so repeated scans converge.
	done := newRecord("job-2", "alice")
	done.Status = jobs.StatusCompleted
	if !reg.Merge(done) {
		t.Fatal("expected merge of new snapshot")
	}
	if !reg.Merge(done) {
		t.Fatal("expected idempotent re-merge")
	}
	if len(reg.List("alice")) != 2 {
		t.Fatal("re-merge must not duplicate records")
	}
}

func TestProgressMonotonicExceptTerminal(t *testing.T) {
	record := newRecord("job-1", "alice")
	record.SetProgress("Downloading", 15)
	record.SetProgress("Analyzing", 10)
	if record.Progress != 15 {
		t.Fatalf("progress went backwards: %d", record.Progress)
	}
	record.SetFailed("engine exploded")
	if record.Progress != 100 || record.Error == "" || record.CompletedAt == nil {
		t.Fatalf("unexpected terminal record %+v", record)
	}
}

func TestCancelRegistry(t *testing.T) {
	cancels := jobs.NewCancelRegistry()
	if cancels.RequestCancel("missing") {
		t.Fatal("cancel of unregistered job should report false")
	}
	cancels.Register("job-1")
	if cancels.IsCancelled("job-1") {
		t.Fatal("fresh flag should be unset")
	}
	if !cancels.RequestCancel("job-1") {
		t.Fatal("expected cancel request to land")
	}
	if !cancels.IsCancelled("job-1") {
		t.Fatal("expected flag set")
	}
	cancels.Release("job-1")
	if cancels.IsCancelled("job-1") {
		t.Fatal("released flag should read false")
	}
}
