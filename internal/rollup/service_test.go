package rollup

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"trainer-perf/internal/config"
	"trainer-perf/internal/eventlog"
)

type stubSource struct {
	feeds   *eventlog.Feeds
	err     error
	entered chan struct{}
	release chan struct{}
}

func (s *stubSource) Load(ctx context.Context, _ eventlog.Scope) (*eventlog.Feeds, error) {
	if s.entered != nil {
		s.entered <- struct{}{}
		<-s.release
	}
	return s.feeds, s.err
}

type stubPublisher struct {
	mu   sync.Mutex
	err  error
	gens []*Generation
}

func (p *stubPublisher) Publish(_ context.Context, g *Generation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.gens = append(p.gens, g)
	return nil
}

// swapCheck asserts that the new generation is already visible when the
// invalidation arrives.
type swapCheck struct {
	t       *testing.T
	svc     *Service
	calls   int
	visible string
}

func (c *swapCheck) Invalidate(scopeKey string) {
	c.calls++
	v, err := c.svc.SnapshotByKey(scopeKey)
	if err != nil {
		c.t.Errorf("invalidated before the swap: %v", err)
		return
	}
	c.visible = v.Generation.ID
}

func sampleFeeds() *eventlog.Feeds {
	return &eventlog.Feeds{
		Transitions: []eventlog.TransitionRecord{
			{TaskID: "T-1", ProjectID: "P1", Timestamp: "2024-03-01T10:00:00Z", FromStatus: "in_progress", ToStatus: "completed", Actor: "a@x.com"},
			{TaskID: "T-2", ProjectID: "P1", Timestamp: "2024-03-02T10:00:00Z", FromStatus: "in_progress", ToStatus: "completed", Actor: "b@x.com"},
		},
		Reviews: []eventlog.ReviewRecord{
			{ReviewID: "R1", TaskID: "T-1", ProjectID: "P1", Reviewer: "rev@x.com", Score: 4, Outcome: "approved", Kind: "manual", SubmittedAt: "2024-03-03T10:00:00Z"},
		},
		Workers: []eventlog.WorkerRecord{
			{ID: "L1", Email: "lead@x.com"},
			{ID: "A", Email: "a@x.com", TeamLeadID: "L1"},
			{ID: "B", Email: "b@x.com", TeamLeadID: "L1"},
			{ID: "R", Email: "rev@x.com"},
		},
	}
}

var scope = eventlog.Scope{Projects: []string{"P1"}, Start: rangeStart, End: rangeEnd}

func fixedClock() func() time.Time {
	now := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return now }
}

func TestService_RecomputePublishes(t *testing.T) {
	pub := &stubPublisher{}
	svc := NewService(&stubSource{feeds: sampleFeeds()}, config.DefaultRewards(), WithPublisher(pub), WithClock(fixedClock()))
	check := &swapCheck{t: t, svc: svc}
	svc.invalidator = check

	g, err := svc.Recompute(context.Background(), scope)
	if err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}
	if len(pub.gens) != 1 || pub.gens[0] != g {
		t.Errorf("expected the generation to be persisted before publication")
	}
	if check.calls != 1 || check.visible != g.ID {
		t.Errorf("expected one invalidation after the swap, got %d (visible %s)", check.calls, check.visible)
	}
	if g.Quality.Count(eventlog.MissingReward) != 1 {
		t.Errorf("expected a missing reward warning for P1, got %d", g.Quality.Count(eventlog.MissingReward))
	}

	view, err := svc.Snapshot(scope)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if view.Stale || view.Generation.ID != g.ID {
		t.Errorf("unexpected view: %+v", view)
	}
	project := view.Generation.Filter(Query{Level: LevelProject, Granularity: "total"})
	if len(project) != 1 || project[0].Counters.NewTasks != 2 || project[0].Counters.ManualReviews != 1 {
		t.Errorf("unexpected project records: %+v", project)
	}

	trail, err := svc.Explain(scope, "T-1")
	if err != nil {
		t.Fatalf("Explain failed: %v", err)
	}
	if len(trail.Reviews) != 1 || trail.Reviews[0].CreditedTo != "a@x.com" {
		t.Errorf("unexpected trail: %+v", trail)
	}
}

func TestService_FailureKeepsPreviousGeneration(t *testing.T) {
	src := &stubSource{feeds: sampleFeeds()}
	pub := &stubPublisher{}
	svc := NewService(src, config.DefaultRewards(), WithPublisher(pub), WithClock(fixedClock()))

	good, err := svc.Recompute(context.Background(), scope)
	if err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}

	pub.err = errors.New("disk full")
	if _, err := svc.Recompute(context.Background(), scope); err == nil {
		t.Fatalf("expected the publish failure to surface")
	}

	view, err := svc.Snapshot(scope)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if view.Generation.ID != good.ID {
		t.Errorf("previous generation must stay published")
	}
	if !view.Stale || view.StaleSince == nil || !view.StaleSince.Equal(good.ComputedAt) {
		t.Errorf("expected a stale view since %v, got %+v", good.ComputedAt, view)
	}
	if view.LastError == "" {
		t.Errorf("expected the failure to be reported")
	}

	// A later success clears the staleness.
	pub.err = nil
	if _, err := svc.Recompute(context.Background(), scope); err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}
	if view, _ := svc.Snapshot(scope); view.Stale {
		t.Errorf("expected a fresh view after a successful recomputation")
	}
}

type failureLog struct {
	stubPublisher
	keys []string
	msgs []string
}

func (f *failureLog) RecordFailure(_ context.Context, scopeKey string, _ time.Time, msg string) error {
	f.keys = append(f.keys, scopeKey)
	f.msgs = append(f.msgs, msg)
	return nil
}

func TestService_FailureIsRecordedAndRestored(t *testing.T) {
	pub := &failureLog{}
	svc := NewService(&stubSource{err: errors.New("feed unreadable")}, config.DefaultRewards(), WithPublisher(pub), WithClock(fixedClock()))

	if _, err := svc.Recompute(context.Background(), scope); err == nil {
		t.Fatalf("expected the load failure to surface")
	}
	if len(pub.keys) != 1 || pub.keys[0] != ScopeKey(scope) {
		t.Fatalf("expected the failure to be recorded for %s, got %v", ScopeKey(scope), pub.keys)
	}

	// After a restart the stored generation and failure are reinstalled.
	good := &Generation{ID: "g-stored", ScopeKey: ScopeKey(scope), ComputedAt: time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)}
	failedAt := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	restarted := NewService(&stubSource{}, config.DefaultRewards())
	restarted.Restore(good)
	restarted.RestoreFailure(good.ScopeKey, failedAt, pub.msgs[0])

	view, err := restarted.Snapshot(scope)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if !view.Stale || !view.StaleSince.Equal(good.ComputedAt) || !view.FailedAt.Equal(failedAt) || view.LastError != pub.msgs[0] {
		t.Errorf("expected a stale restored view, got %+v", view)
	}
}

func TestService_RecordsDoNotDependOnClock(t *testing.T) {
	feeds := sampleFeeds()
	feeds.Deliveries = []eventlog.DeliveryRecord{{TaskID: "T-2", BatchID: "B1", State: eventlog.Queued}}
	openEnded := eventlog.Scope{Projects: []string{"P1"}, Start: rangeStart}

	var outputs [][]byte
	for _, now := range []time.Time{
		time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC),
		time.Date(2024, 4, 9, 12, 0, 0, 0, time.UTC),
	} {
		svc := NewService(&stubSource{feeds: feeds}, config.DefaultRewards(), WithClock(func() time.Time { return now }))
		g, err := svc.Recompute(context.Background(), openEnded)
		if err != nil {
			t.Fatalf("Recompute failed: %v", err)
		}
		data, err := json.Marshal(g.Records)
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		outputs = append(outputs, data)
	}

	if string(outputs[0]) != string(outputs[1]) {
		t.Errorf("records changed with the clock:\n%s\n%s", outputs[0], outputs[1])
	}
}

func TestService_NoInput(t *testing.T) {
	svc := NewService(&stubSource{feeds: &eventlog.Feeds{}}, config.DefaultRewards())

	_, err := svc.Recompute(context.Background(), scope)
	if !errors.Is(err, ErrNoInput) {
		t.Errorf("expected ErrNoInput, got %v", err)
	}
	if _, err := svc.Snapshot(scope); !errors.Is(err, ErrUnknownScope) {
		t.Errorf("expected ErrUnknownScope, got %v", err)
	}
}

func TestService_ConcurrentRecomputeRejected(t *testing.T) {
	src := &stubSource{feeds: sampleFeeds(), entered: make(chan struct{}), release: make(chan struct{})}
	svc := NewService(src, config.DefaultRewards())

	done := make(chan error, 1)
	go func() {
		_, err := svc.Recompute(context.Background(), scope)
		done <- err
	}()
	<-src.entered

	if _, err := svc.Recompute(context.Background(), scope); !errors.Is(err, ErrRecomputeInProgress) {
		t.Errorf("expected ErrRecomputeInProgress, got %v", err)
	}

	close(src.release)
	if err := <-done; err != nil {
		t.Errorf("first recomputation failed: %v", err)
	}

	// The guard is released afterwards.
	src.entered = nil
	if _, err := svc.Recompute(context.Background(), scope); err != nil {
		t.Errorf("expected a new recomputation to be accepted, got %v", err)
	}
}

func TestScopeKey_Canonical(t *testing.T) {
	a := eventlog.Scope{Projects: []string{"P2", "P1"}, ExcludedBatches: []string{"d2", "d1"}, Start: rangeStart}
	b := eventlog.Scope{Projects: []string{"P1", "P2"}, ExcludedBatches: []string{"d1", "d2"}, Start: rangeStart}
	if ScopeKey(a) != ScopeKey(b) {
		t.Errorf("scope key must not depend on list order: %s vs %s", ScopeKey(a), ScopeKey(b))
	}
	if ScopeKey(a) == ScopeKey(eventlog.Scope{}) {
		t.Errorf("different scopes must have different keys")
	}
}
