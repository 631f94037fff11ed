package engine

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"trainer-perf/internal/config"
	"trainer-perf/internal/eventlog"

	"gopkg.in/yaml.v3"
)

type GeneratorConfig struct {
	Scenario     string // "mild", "chaos" or "drift"
	Distribution string // "uniform" or "weibull"
	Count        int    // tasks
	Projects     int
	Teams        int
	TeamSize     int
	Reviewers    int
	Now          time.Time
	Seed         int64
}

// Generate produces a consistent set of feeds: a worker directory with team
// leads, task lifecycles with rework cycles and hand-offs, manual and automated
// reviews, deliveries and time-tracking entries. The chaos scenario injects the
// data-quality defects the engine is expected to warn about.
func Generate(cfg GeneratorConfig) *eventlog.Feeds {
	if cfg.Now.IsZero() {
		cfg.Now = time.Now().UTC()
	}
	cfg.Projects = max(cfg.Projects, 1)
	cfg.Teams = max(cfg.Teams, 1)
	cfg.TeamSize = max(cfg.TeamSize, 1)
	cfg.Reviewers = max(cfg.Reviewers, 1)
	rng := rand.New(rand.NewSource(cfg.Seed))

	feeds := &eventlog.Feeds{}
	var trainers, reviewers []string
	for t := 0; t < cfg.Teams; t++ {
		leadID := fmt.Sprintf("L%d", t+1)
		feeds.Workers = append(feeds.Workers, eventlog.WorkerRecord{
			ID: leadID, Email: fmt.Sprintf("lead%d@example.com", t+1), Role: "lead", Status: "active",
		})
		for m := 0; m < cfg.TeamSize; m++ {
			email := fmt.Sprintf("trainer%d.%d@example.com", t+1, m+1)
			feeds.Workers = append(feeds.Workers, eventlog.WorkerRecord{
				ID: fmt.Sprintf("W%d-%d", t+1, m+1), Email: email, Role: "trainer", Status: "active", TeamLeadID: leadID,
			})
			trainers = append(trainers, email)
		}
	}
	for r := 0; r < cfg.Reviewers; r++ {
		email := fmt.Sprintf("reviewer%d@example.com", r+1)
		feeds.Workers = append(feeds.Workers, eventlog.WorkerRecord{
			ID: fmt.Sprintf("R%d", r+1), Email: email, Role: "reviewer", Status: "active",
		})
		reviewers = append(reviewers, email)
	}

	type hourKey struct{ worker, date, project string }
	hours := make(map[hourKey]float64)
	start := cfg.Now.AddDate(0, 0, -cfg.Count/2-14)

	for i := 0; i < cfg.Count; i++ {
		taskID := fmt.Sprintf("T-%05d", i+1)
		project := fmt.Sprintf("P%d", i%cfg.Projects+1)
		batch := fmt.Sprintf("B%d", i/50+1)
		author := trainers[rng.Intn(len(trainers))]
		ratio := float64(i) / float64(cfg.Count)

		t := start.Add(time.Duration(i*12) * time.Hour)
		emit := func(from, to, actor string, at time.Time) {
			ts := at.Format(time.RFC3339)
			if cfg.Scenario == "chaos" && rng.Float64() < 0.01 {
				ts = "not-a-date"
			}
			feeds.Transitions = append(feeds.Transitions, eventlog.TransitionRecord{
				TaskID: taskID, ProjectID: project, BatchID: batch, Timestamp: ts,
				FromStatus: from, ToStatus: to, Actor: actor,
			})
		}

		emit("", eventlog.StatePending, author, t)
		emit(eventlog.StatePending, eventlog.StateInProgress, author, t.Add(time.Hour))

		worker := author
		var last time.Time
		for cycle := 0; ; cycle++ {
			t = t.Add(time.Duration(workDays(cfg, rng, ratio)*24) * time.Hour)
			if t.After(cfg.Now) {
				break
			}
			emit(eventlog.StateInProgress, eventlog.StateCompleted, worker, t)
			hours[hourKey{worker, t.Format("2006-01-02"), project}] += 0.5 + rng.Float64()*1.5
			last = t

			feeds.Reviews = append(feeds.Reviews, eventlog.ReviewRecord{
				ReviewID: fmt.Sprintf("%s-A%d", taskID, cycle+1), TaskID: taskID, ProjectID: project,
				Reviewer: "autograder", Score: math.Round((2+rng.Float64()*3)*10) / 10,
				Outcome: eventlog.Approved, Kind: eventlog.Automated,
				SubmittedAt: t.Add(10 * time.Minute).Format(time.RFC3339),
			})

			reviewer := reviewers[rng.Intn(len(reviewers))]
			reviewedAt := t.Add(time.Duration(2+rng.Intn(20)) * time.Hour)
			rework := cycle < 3 && rng.Float64() < reworkRate(cfg.Scenario, ratio)
			outcome, score := eventlog.Approved, 3+rng.Float64()*2
			if rework {
				outcome, score = eventlog.SentToRework, 1+rng.Float64()*2
			}
			feeds.Reviews = append(feeds.Reviews, eventlog.ReviewRecord{
				ReviewID: fmt.Sprintf("%s-M%d", taskID, cycle+1), TaskID: taskID, ProjectID: project,
				Reviewer: reviewer, Score: math.Round(score*10) / 10,
				Outcome: outcome, Kind: eventlog.Manual,
				SubmittedAt: reviewedAt.Format(time.RFC3339),
			})
			t = reviewedAt

			if !rework {
				emit(eventlog.StateCompleted, eventlog.StateReviewed, reviewer, t)
				break
			}
			emit(eventlog.StateCompleted, eventlog.StateRework, reviewer, t)
			// Rework is sometimes picked up by a teammate.
			if rng.Float64() < 0.3 {
				worker = trainers[rng.Intn(len(trainers))]
			}
			emit(eventlog.StateRework, eventlog.StateInProgress, worker, t.Add(30*time.Minute))
		}

		state := eventlog.StateInProgress
		if !last.IsZero() {
			state = eventlog.StateCompleted
			if t.After(last) && t.Before(cfg.Now) {
				state = eventlog.StateReviewed
			}
		}
		if state == eventlog.StateReviewed {
			if delivered := t.Add(48 * time.Hour); delivered.Before(cfg.Now) && rng.Float64() < 0.7 {
				feeds.Deliveries = append(feeds.Deliveries, eventlog.DeliveryRecord{
					TaskID: taskID, BatchID: batch, State: eventlog.Delivered, DeliveryDate: delivered.Format("2006-01-02"),
				})
				state = eventlog.StateDelivered
			} else {
				feeds.Deliveries = append(feeds.Deliveries, eventlog.DeliveryRecord{
					TaskID: taskID, BatchID: batch, State: eventlog.Queued,
				})
			}
		}
		feeds.Tasks = append(feeds.Tasks, eventlog.Task{ID: taskID, ProjectID: project, State: state, Owner: worker})
	}

	if cfg.Scenario == "chaos" {
		feeds.Reviews = append(feeds.Reviews, eventlog.ReviewRecord{
			ReviewID: "ORPHAN-1", TaskID: "T-MISSING", ProjectID: "P1", Reviewer: reviewers[0],
			Score: 4, Outcome: eventlog.Approved, Kind: eventlog.Manual, SubmittedAt: cfg.Now.Format(time.RFC3339),
		})
		feeds.Transitions = append(feeds.Transitions,
			eventlog.TransitionRecord{TaskID: "T-GHOST", ProjectID: "P1", Timestamp: start.Format(time.RFC3339), FromStatus: eventlog.StateInProgress, ToStatus: eventlog.StateCompleted, Actor: "ghost@example.com"},
		)
	}

	keys := make([]hourKey, 0, len(hours))
	for k := range hours {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.worker != b.worker {
			return a.worker < b.worker
		}
		if a.date != b.date {
			return a.date < b.date
		}
		return a.project < b.project
	})
	for _, k := range keys {
		project := k.project
		// Some time-tracking entries arrive without a project.
		if rng.Float64() < 0.2 {
			project = ""
		}
		feeds.LoggedHours = append(feeds.LoggedHours, eventlog.LoggedHours{
			Worker: k.worker, Date: k.date, Hours: math.Round(hours[k]*100) / 100, ProjectID: project,
		})
	}
	return feeds
}

func reworkRate(scenario string, ratio float64) float64 {
	switch scenario {
	case "chaos":
		return 0.45
	case "drift":
		return 0.1 + 0.4*ratio
	}
	return 0.15
}

// workDays samples how long one completion cycle takes, in days.
func workDays(cfg GeneratorConfig, rng *rand.Rand, ratio float64) float64 {
	if cfg.Distribution == "weibull" {
		k, lambda := 2.5, 1.2
		if cfg.Scenario == "drift" {
			k = 2.5 - 1.7*ratio
		}
		u := rng.Float64()
		if u == 0 {
			u = 0.0001
		}
		// X = lambda * (-ln(1-u))^(1/k)
		return lambda * math.Pow(-math.Log(1.0-u), 1.0/k)
	}
	return 0.25 + rng.Float64()*1.5
}

// Save writes every feed into outDir, plus a rewards file that configures all
// projects but the last one.
func Save(outDir string, feeds *eventlog.Feeds, projects int) error {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return err
	}

	write := []struct {
		name string
		fn   func(string) error
	}{
		{eventlog.TransitionsFeed, func(p string) error { return eventlog.WriteJSONL(p, feeds.Transitions) }},
		{eventlog.ReviewsFeed, func(p string) error { return eventlog.WriteJSONL(p, feeds.Reviews) }},
		{eventlog.DeliveriesFeed, func(p string) error { return eventlog.WriteJSONL(p, feeds.Deliveries) }},
		{eventlog.TasksFeed, func(p string) error { return eventlog.WriteJSONL(p, feeds.Tasks) }},
		{eventlog.WorkersFeed, func(p string) error { return eventlog.WriteJSONL(p, feeds.Workers) }},
		{eventlog.LoggedHoursFeed, func(p string) error { return eventlog.WriteJSONL(p, feeds.LoggedHours) }},
	}
	for _, w := range write {
		if err := w.fn(filepath.Join(outDir, w.name)); err != nil {
			return fmt.Errorf("write %s: %w", w.name, err)
		}
	}

	rf := config.RewardFile{
		Version:  config.RewardFileVersion,
		Projects: make(map[string]config.Reward),
	}
	def := config.DefaultReward
	rf.Default = &def
	for p := 1; p < projects; p++ {
		rf.Projects[fmt.Sprintf("P%d", p)] = config.Reward{NewHours: 1.0 + 0.25*float64(p-1), ReworkHours: 0.5, MaxRewardedRework: 1}
	}
	data, err := yaml.Marshal(rf)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(outDir, "rewards.yaml"), data, 0644)
}
