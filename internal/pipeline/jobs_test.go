package pipeline

import (
	"testing"
	"time"

	"github.com/dgallion1/docgraph/internal/doctree"
)

func TestContentHashHex_Consistency(t *testing.T) {
	data := []byte("hello world")
	h1 := ContentHashHex(data)
	h2 := ContentHashHex(data)
	if h1 != h2 {
		t.Errorf("expected identical hashes, got %q and %q", h1, h2)
	}
	// SHA-256 of "hello world" is well-known.
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if h1 != want {
		t.Errorf("expected hash %q, got %q", want, h1)
	}
}

func TestContentHashHex_EmptyInput(t *testing.T) {
	h := ContentHashHex([]byte{})
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if h != want {
		t.Errorf("expected hash %q, got %q", want, h)
	}
}

func TestNewJob(t *testing.T) {
	job := NewJob("guide.md", "guide", "is_rule", []byte("# A"))
	if job.ID == "" || job.Status != StatusQueued {
		t.Fatalf("unexpected new job %+v", job.Snapshot())
	}
	if string(job.FileData()) != "# A" {
		t.Errorf("file data not kept")
	}
	if other := NewJob("guide.md", "guide", "", nil); other.ID == job.ID {
		t.Error("job ids should be unique")
	}
}

func TestJob_StateTransitions(t *testing.T) {
	job := NewJob("guide.md", "guide", "", nil)

	transitions := []JobStatus{StatusParsing, StatusSummarizing, StatusPersisting, StatusIndexing, StatusCompleted}
	for _, status := range transitions {
		before := job.UpdatedAt
		time.Sleep(time.Millisecond)
		job.SetStatus(status, string(status))

		if job.Status != status {
			t.Errorf("expected status %q, got %q", status, job.Status)
		}
		if !job.UpdatedAt.After(before) {
			t.Errorf("expected UpdatedAt to advance after SetStatus(%q)", status)
		}
	}
	if !StatusCompleted.Terminal() || !StatusFailed.Terminal() || StatusIndexing.Terminal() {
		t.Error("unexpected Terminal() results")
	}
}

func TestJob_AddError(t *testing.T) {
	job := &Job{ID: "err-test", UpdatedAt: time.Now()}
	job.AddError("summarize failed")
	job.AddError("index failed")

	snap := job.Snapshot()
	if len(snap.Progress.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(snap.Progress.Errors))
	}
	if snap.Progress.Errors[0] != "summarize failed" {
		t.Errorf("expected first error %q, got %q", "summarize failed", snap.Progress.Errors[0])
	}
}

func TestJob_Finish(t *testing.T) {
	job := NewJob("guide.md", "guide", "", []byte("data"))
	job.Finish(Report{
		Document:    doctree.Document{ID: "doc-1", Name: "guide", DocumentType: "reference"},
		ContentHash: "abc",
		Sections:    4,
		Edges:       4,
		Chunks:      3,
	})
	snap := job.Snapshot()
	if snap.Status != StatusCompleted || snap.DocumentID != "doc-1" || snap.DocumentType != "reference" {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	if snap.Progress.Sections != 4 || snap.Progress.Chunks != 3 || snap.ContentHash != "abc" {
		t.Errorf("unexpected progress %+v", snap.Progress)
	}
	if job.FileData() != nil {
		t.Error("file data should be released after completion")
	}
}

func TestJob_SnapshotErrorsNotNil(t *testing.T) {
	job := &Job{ID: "snap-test", UpdatedAt: time.Now()}
	snap := job.Snapshot()
	if snap.Progress.Errors == nil {
		t.Error("expected non-nil errors slice in snapshot")
	}
}

func TestJobStore_PutGet(t *testing.T) {
	store := NewJobStore(time.Hour)
	job := &Job{ID: "store-1", UpdatedAt: time.Now()}
	store.Put(job)

	got := store.Get("store-1")
	if got == nil || got.ID != "store-1" {
		t.Fatalf("expected to get job back, got %v", got)
	}
	if store.Get("nonexistent") != nil {
		t.Error("expected nil for missing job")
	}
}

func TestJobStore_TTLCleanup(t *testing.T) {
	store := NewJobStore(50 * time.Millisecond)

	expired := &Job{ID: "old", Status: StatusCompleted, UpdatedAt: time.Now()}
	running := &Job{ID: "running", Status: StatusSummarizing, UpdatedAt: time.Now()}
	store.Put(expired)
	store.Put(running)

	time.Sleep(100 * time.Millisecond)

	fresh := &Job{ID: "new", Status: StatusFailed, UpdatedAt: time.Now()}
	store.Put(fresh)

	store.Cleanup()

	if store.Get("old") != nil {
		t.Error("expected expired job to be cleaned up")
	}
	if store.Get("running") == nil {
		t.Error("in-flight jobs must not be evicted")
	}
	if store.Get("new") == nil {
		t.Error("expected fresh job to survive cleanup")
	}
	if store.Len() != 2 {
		t.Errorf("expected 2 jobs, got %d", store.Len())
	}
}
