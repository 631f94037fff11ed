package eventlog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEventStore_Persistence(t *testing.T) {
	tmpDir := t.TempDir()

	store1 := NewEventStore()
	projectID := "P1"

	records := []TransitionRecord{
		{TaskID: "T-1", ProjectID: projectID, Timestamp: "2024-03-01T10:00:00Z", FromStatus: StateInProgress, ToStatus: StateCompleted, Actor: "a@x.com"},
		{TaskID: "T-1", ProjectID: projectID, Timestamp: "2024-03-02T10:00:00Z", FromStatus: StateCompleted, ToStatus: StateRework, Actor: "r@x.com"},
	}

	if added := store1.Append(projectID, records); added != 2 {
		t.Fatalf("expected 2 records added, got %d", added)
	}
	if err := store1.Save(tmpDir, projectID); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	cachePath := filepath.Join(tmpDir, "transitions-P1.jsonl")
	if _, err := os.Stat(cachePath); os.IsNotExist(err) {
		t.Errorf("Cache file does not exist: %s", cachePath)
	}

	store2 := NewEventStore()
	if err := store2.Load(tmpDir, projectID); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	loaded := store2.RecordsForTask(projectID, "T-1")
	if len(loaded) != 2 {
		t.Fatalf("expected 2 records, got %d", len(loaded))
	}
	if loaded[0].Seq != 1 || loaded[1].Seq != 2 {
		t.Errorf("expected insertion sequence to survive the round trip, got %d and %d", loaded[0].Seq, loaded[1].Seq)
	}
	if loaded[1].ToStatus != StateRework {
		t.Errorf("expected ToStatus rework, got %s", loaded[1].ToStatus)
	}

	// Re-appending the same feed must not duplicate anything.
	if added := store2.Append(projectID, records); added != 0 {
		t.Errorf("expected 0 records after re-append (deduplication), got %d", added)
	}

	// New records continue the sequence after the loaded ones.
	store2.Append(projectID, []TransitionRecord{
		{TaskID: "T-2", ProjectID: projectID, Timestamp: "2024-03-03T10:00:00Z", FromStatus: StateInProgress, ToStatus: StateCompleted, Actor: "a@x.com"},
	})
	if got := store2.RecordsForTask(projectID, "T-2"); len(got) != 1 || got[0].Seq != 3 {
		t.Errorf("expected T-2 with seq 3, got %+v", got)
	}
}

func TestReadJSONL_SkipsInvalidLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reviews.jsonl")
	content := `{"reviewId":"R1","taskId":"T-1","score":4}
not json
{"reviewId":"R2","taskId":"T-1","score":2}
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	reviews, err := ReadJSONL[ReviewRecord](path)
	if err != nil {
		t.Fatalf("ReadJSONL failed: %v", err)
	}
	if len(reviews) != 2 {
		t.Fatalf("expected 2 reviews, got %d", len(reviews))
	}
	if reviews[1].ReviewID != "R2" || reviews[1].Score != 2 {
		t.Errorf("unexpected second review: %+v", reviews[1])
	}
}

func TestLogProvider_LoadFromFeeds(t *testing.T) {
	feedDir := t.TempDir()
	cacheDir := t.TempDir()

	transitions := []TransitionRecord{
		{TaskID: "T-1", ProjectID: "P1", Timestamp: "2024-03-01T10:00:00Z", FromStatus: StateInProgress, ToStatus: StateCompleted, Actor: "a@x.com"},
		{TaskID: "T-2", ProjectID: "P2", Timestamp: "2024-03-01T11:00:00Z", FromStatus: StateInProgress, ToStatus: StateCompleted, Actor: "b@x.com"},
	}
	if err := WriteJSONL(filepath.Join(feedDir, TransitionsFeed), transitions); err != nil {
		t.Fatal(err)
	}
	if err := WriteJSONL(filepath.Join(feedDir, WorkersFeed), []WorkerRecord{{ID: "1", Email: "a@x.com"}}); err != nil {
		t.Fatal(err)
	}

	p := NewLogProvider(NewEventStore(), feedDir, cacheDir)
	feeds, err := p.Load(t.Context(), Scope{Projects: []string{"P1"}})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(feeds.Transitions) != 1 || feeds.Transitions[0].TaskID != "T-1" {
		t.Errorf("expected only the P1 transition, got %+v", feeds.Transitions)
	}
	if len(feeds.Workers) != 1 {
		t.Errorf("expected 1 worker, got %d", len(feeds.Workers))
	}
	if feeds.Reviews != nil {
		t.Errorf("expected missing review feed to load as empty, got %d", len(feeds.Reviews))
	}

	// A second provider hydrates from the cache alone.
	if err := os.Remove(filepath.Join(feedDir, TransitionsFeed)); err != nil {
		t.Fatal(err)
	}
	p2 := NewLogProvider(NewEventStore(), feedDir, cacheDir)
	feeds, err = p2.Load(t.Context(), Scope{})
	if err != nil {
		t.Fatalf("Load from cache failed: %v", err)
	}
	if len(feeds.Transitions) != 2 {
		t.Errorf("expected 2 cached transitions, got %d", len(feeds.Transitions))
	}
	if h := p2.TaskHistory("P2", "T-2"); len(h) != 1 {
		t.Errorf("expected history of T-2, got %d records", len(h))
	}
}
