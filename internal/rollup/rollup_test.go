package rollup

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"trainer-perf/internal/attribution"
	"trainer-perf/internal/config"
	"trainer-perf/internal/eventlog"
	"trainer-perf/internal/roster"
	"trainer-perf/internal/stats"
)

var (
	rangeStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	rangeEnd   = time.Date(2024, 3, 31, 23, 59, 59, 0, time.UTC)
	day        = time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
)

func teams() roster.TeamIndex {
	return roster.NewDirectory([]eventlog.WorkerRecord{
		{ID: "L1", Email: "lead@x.com"},
		{ID: "A", Email: "a@x.com", TeamLeadID: "L1"},
		{ID: "B", Email: "b@x.com", TeamLeadID: "L1"},
		{ID: "C", Email: "c@x.com"},
	}).Teams()
}

func buildOpts() BuildOptions {
	return BuildOptions{
		Rewards:       config.DefaultRewards(),
		Teams:         teams(),
		Granularities: []stats.Granularity{stats.Total, stats.Daily},
		Start:         rangeStart,
		End:           rangeEnd,
		Workers:       2,
	}
}

func find(t *testing.T, records []Record, level Level, entity, project string, g stats.Granularity) Record {
	t.Helper()
	for _, r := range records {
		if r.Level == level && r.EntityID == entity && r.ProjectID == project && r.Period.Granularity == g {
			return r
		}
	}
	t.Fatalf("no %s record for %s in %s (%s)", level, entity, project, g)
	return Record{}
}

func reviewFact(worker string, score float64) attribution.Fact {
	return attribution.Fact{Kind: attribution.FactReview, Worker: worker, ProjectID: "P1", TaskID: "T-" + worker, At: day, ReviewKind: eventlog.Manual, Score: score, Ordinal: 1}
}

func TestBuild_WeightedTeamRating(t *testing.T) {
	result := &attribution.Result{Facts: []attribution.Fact{
		reviewFact("a@x.com", 5),
		reviewFact("b@x.com", 2),
		reviewFact("b@x.com", 2),
		reviewFact("b@x.com", 2),
		reviewFact("b@x.com", 2),
	}}

	records, err := Build(context.Background(), result, buildOpts())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	team := find(t, records, LevelTeam, "L1", "P1", stats.Total)
	// Mean of member means would be 3.5.
	if got := team.Metrics.AvgRatingManual; got == nil || *got != 2.6 {
		t.Errorf("team manual rating = %v, want 2.6", got)
	}
	if team.Counters.ManualReviews != 5 {
		t.Errorf("team manual reviews = %d, want 5", team.Counters.ManualReviews)
	}
}

func TestBuild_DistinctTasksAreNotSummed(t *testing.T) {
	result := &attribution.Result{Facts: []attribution.Fact{
		{Kind: attribution.FactCompletion, Worker: "a@x.com", ProjectID: "P1", TaskID: "T-1", At: day, Ordinal: 1},
		{Kind: attribution.FactCompletion, Worker: "b@x.com", ProjectID: "P1", TaskID: "T-1", At: day.Add(time.Hour), Ordinal: 2},
		{Kind: attribution.FactCompletion, Worker: "c@x.com", ProjectID: "P1", TaskID: "T-2", At: day, Ordinal: 1},
	}}

	records, err := Build(context.Background(), result, buildOpts())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	a := find(t, records, LevelWorker, "a@x.com", "P1", stats.Total)
	b := find(t, records, LevelWorker, "b@x.com", "P1", stats.Total)
	team := find(t, records, LevelTeam, "L1", "P1", stats.Total)
	project := find(t, records, LevelProject, "P1", "P1", stats.Total)

	if a.Counters.UniqueTasks+b.Counters.UniqueTasks != 2 {
		t.Fatalf("expected both members to count T-1 once each")
	}
	if team.Counters.UniqueTasks != 1 {
		t.Errorf("team unique tasks = %d, want 1", team.Counters.UniqueTasks)
	}
	if team.Counters.NewTasks != 1 || team.Counters.ReworkEvents != 1 {
		t.Errorf("team new/rework = %d/%d, want 1/1", team.Counters.NewTasks, team.Counters.ReworkEvents)
	}
	if project.Counters.UniqueTasks != 2 {
		t.Errorf("project unique tasks = %d, want 2", project.Counters.UniqueTasks)
	}
	if got := team.Metrics.AvgRework; got == nil || *got != 1 {
		t.Errorf("team avg rework = %v, want 1", got)
	}

	c := find(t, records, LevelWorker, "c@x.com", "P1", stats.Total)
	if c.TeamID != roster.Unassigned {
		t.Errorf("worker without lead must be unassigned, got %q", c.TeamID)
	}
	find(t, records, LevelTeam, roster.Unassigned, "P1", stats.Total)

	if err := Reconcile(records); err != nil {
		t.Errorf("Reconcile failed: %v", err)
	}
}

func TestBuild_Idempotent(t *testing.T) {
	var facts []attribution.Fact
	for i, w := range []string{"a@x.com", "b@x.com", "c@x.com", "a@x.com", "b@x.com"} {
		facts = append(facts,
			attribution.Fact{Kind: attribution.FactCompletion, Worker: w, ProjectID: "P1", TaskID: "T-" + string(rune('1'+i)), At: day.AddDate(0, 0, i), Ordinal: 1},
			attribution.Fact{Kind: attribution.FactLoggedHours, Worker: w, ProjectID: "P1", At: day.AddDate(0, 0, i), Hours: 0.1 * float64(i+1)},
		)
	}
	result := &attribution.Result{Facts: facts}

	render := func() string {
		records, err := Build(context.Background(), result, buildOpts())
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		data, err := json.Marshal(records)
		if err != nil {
			t.Fatal(err)
		}
		return string(data)
	}

	first := render()
	for i := 0; i < 5; i++ {
		if got := render(); got != first {
			t.Fatalf("run %d differs from the first run", i+2)
		}
	}
}

func TestReconcile_DetectsMismatch(t *testing.T) {
	period := stats.Period{Granularity: stats.Total, Start: rangeStart, End: rangeEnd}
	records := []Record{
		{EntityID: "P1", Level: LevelProject, ProjectID: "P1", Period: period, Counters: stats.Counters{UniqueTasks: 1, NewTasks: 3}},
		{EntityID: "L1", Level: LevelTeam, ProjectID: "P1", TeamID: "L1", Period: period, Counters: stats.Counters{UniqueTasks: 1, NewTasks: 2}},
	}

	err := Reconcile(records)
	if err == nil || !strings.Contains(err.Error(), "new_tasks") {
		t.Errorf("expected a new_tasks mismatch, got %v", err)
	}
}

func TestBuild_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := &attribution.Result{Facts: []attribution.Fact{reviewFact("a@x.com", 3)}}
	if _, err := Build(ctx, result, buildOpts()); err == nil {
		t.Errorf("expected a cancelled build to fail")
	}
}
