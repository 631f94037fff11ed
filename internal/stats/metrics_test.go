package stats

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"trainer-perf/internal/attribution"
	"trainer-perf/internal/config"
	"trainer-perf/internal/eventlog"
)

func completion(task, project string, ordinal int) attribution.Fact {
	return attribution.Fact{Kind: attribution.FactCompletion, Worker: "a@x.com", ProjectID: project, TaskID: task, Ordinal: ordinal}
}

func TestDerive_AvgRework(t *testing.T) {
	tests := []struct {
		name          string
		c             Counters
		wantAvg       float64
		wantReworkPct float64
	}{
		{"one rework per task", Counters{UniqueTasks: 4, NewTasks: 4, ReworkEvents: 4}, 1.0, 50},
		{"no rework", Counters{UniqueTasks: 4, NewTasks: 4}, 0.0, 0},
		{"rework only", Counters{UniqueTasks: 2, ReworkEvents: 3}, 0.5, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Derive(tt.c)
			if m.AvgRework == nil || *m.AvgRework != tt.wantAvg {
				t.Errorf("AvgRework = %v, want %v", deref(m.AvgRework), tt.wantAvg)
			}
			if m.ReworkPercent == nil || *m.ReworkPercent != tt.wantReworkPct {
				t.Errorf("ReworkPercent = %v, want %v", deref(m.ReworkPercent), tt.wantReworkPct)
			}
		})
	}
}

func TestDerive_UndefinedMetricsAreNull(t *testing.T) {
	m := Derive(Counters{})
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{"avg_rework", "rework_percent", "merged_expected_aht", "efficiency", "avg_rating_manual", "avg_rating_automated"} {
		if !strings.Contains(string(data), `"`+field+`":null`) {
			t.Errorf("expected %s to serialize as null, got %s", field, data)
		}
	}
}

func TestAccumulator_ReworkCap(t *testing.T) {
	rewards := config.NewRewards(config.Reward{NewHours: 1, ReworkHours: 0.5, MaxRewardedRework: 1}, nil)

	facts := []attribution.Fact{completion("T-1", "P1", 1)}
	for i := 2; i <= 6; i++ {
		facts = append(facts, completion("T-1", "P1", i))
	}

	c, m := Summarize(facts, rewards)
	if c.ReworkEvents != 5 {
		t.Errorf("ReworkEvents = %d, want 5", c.ReworkEvents)
	}
	if c.RewardedRework != 1 {
		t.Errorf("RewardedRework = %d, want 1", c.RewardedRework)
	}
	if c.AccountedHours != 1.5 {
		t.Errorf("AccountedHours = %v, want 1.5", c.AccountedHours)
	}
	if c.UniqueTasks != 1 || c.TasksWithRework != 1 {
		t.Errorf("expected 1 unique task with rework, got %d/%d", c.UniqueTasks, c.TasksWithRework)
	}
	if m.MergedExpectedAHT == nil || *m.MergedExpectedAHT != 1.5 {
		t.Errorf("MergedExpectedAHT = %v, want 1.5", deref(m.MergedExpectedAHT))
	}
}

func TestAccumulator_PerProjectRewards(t *testing.T) {
	rewards := config.NewRewards(config.DefaultReward, map[string]config.Reward{
		"P2": {NewHours: 2, ReworkHours: 1, MaxRewardedRework: 2},
	})
	facts := []attribution.Fact{
		completion("T-1", "P1", 1),
		completion("T-2", "P2", 1),
		completion("T-2", "P2", 2),
		completion("T-2", "P2", 3),
		completion("T-2", "P2", 4),
		{Kind: attribution.FactLoggedHours, Worker: "a@x.com", ProjectID: "P1", Hours: 4},
		{Kind: attribution.FactLoggedHours, Worker: "a@x.com", ProjectID: "P2", Hours: 1},
	}

	c, m := Summarize(facts, rewards)
	// P1: 1 new * 1.0. P2: 1 new * 2 + min(3, 2) * 1.
	if c.AccountedHours != 5 {
		t.Errorf("AccountedHours = %v, want 5", c.AccountedHours)
	}
	if c.LoggedHours != 5 {
		t.Errorf("LoggedHours = %v, want 5", c.LoggedHours)
	}
	if m.Efficiency == nil || *m.Efficiency != 100 {
		t.Errorf("Efficiency = %v, want 100", deref(m.Efficiency))
	}
}

func TestAccumulator_RatingsNeverBlend(t *testing.T) {
	facts := []attribution.Fact{
		{Kind: attribution.FactReview, ReviewKind: eventlog.Manual, Score: 4},
		{Kind: attribution.FactReview, ReviewKind: eventlog.Manual, Score: 2},
		{Kind: attribution.FactReview, ReviewKind: eventlog.Automated, Score: 5},
	}

	c, m := Summarize(facts, config.DefaultRewards())
	if c.ManualReviews != 2 || c.AutomatedReviews != 1 {
		t.Errorf("expected 2 manual and 1 automated review, got %d/%d", c.ManualReviews, c.AutomatedReviews)
	}
	if m.AvgRatingManual == nil || *m.AvgRatingManual != 3 {
		t.Errorf("AvgRatingManual = %v, want 3", deref(m.AvgRatingManual))
	}
	if m.AvgRatingAutomated == nil || *m.AvgRatingAutomated != 5 {
		t.Errorf("AvgRatingAutomated = %v, want 5", deref(m.AvgRatingAutomated))
	}
}

func TestPeriodOf(t *testing.T) {
	// Wednesday
	ts := time.Date(2024, 3, 6, 15, 30, 0, 0, time.UTC)
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		g         Granularity
		wantStart time.Time
		wantLabel string
	}{
		{Daily, time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC), "2024-03-06"},
		{Weekly, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), "2024-W10"},
		{Monthly, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), "Mar 2024"},
		{Total, start, "2024-03-01..2024-03-31"},
	}
	for _, tt := range tests {
		p := PeriodOf(ts, tt.g, start, end)
		if !p.Start.Equal(tt.wantStart) {
			t.Errorf("%s: start = %v, want %v", tt.g, p.Start, tt.wantStart)
		}
		if p.Label() != tt.wantLabel {
			t.Errorf("%s: label = %q, want %q", tt.g, p.Label(), tt.wantLabel)
		}
		if tt.g != Total && (ts.Before(p.Start) || ts.After(p.End)) {
			t.Errorf("%s: %v not inside [%v, %v]", tt.g, ts, p.Start, p.End)
		}
	}
}

func TestParseGranularity(t *testing.T) {
	for in, want := range map[string]Granularity{"": Total, "day": Daily, "weekly": Weekly, "month": Monthly} {
		got, err := ParseGranularity(in)
		if err != nil || got != want {
			t.Errorf("ParseGranularity(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseGranularity("hourly"); err == nil {
		t.Errorf("expected an error for an unknown granularity")
	}
}

func deref(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
