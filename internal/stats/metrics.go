package stats

import (
	"sort"

	"trainer-perf/internal/attribution"
	"trainer-perf/internal/config"
	"trainer-perf/internal/eventlog"
)

// Counters are the raw, additive-by-recomputation facts of an entity.
// UniqueTasks and TasksWithRework are distinct counts and must be recomputed
// from facts at every level, never summed.
type Counters struct {
	UniqueTasks       int     `json:"unique_tasks"`
	NewTasks          int     `json:"new_tasks"`
	ReworkEvents      int     `json:"rework_events"`
	TasksWithRework   int     `json:"tasks_with_rework"`
	RewardedRework    int     `json:"rewarded_rework"`
	ManualReviews     int     `json:"manual_reviews"`
	ManualScoreSum    float64 `json:"manual_score_sum"`
	AutomatedReviews  int     `json:"automated_reviews"`
	AutomatedScoreSum float64 `json:"automated_score_sum"`
	ApprovedOwn       int     `json:"approved_own"`
	ApprovedRework    int     `json:"approved_rework"`
	Delivered         int     `json:"delivered"`
	QueuedForDelivery int     `json:"queued_for_delivery"`
	ReviewsPerformed  int     `json:"reviews_performed"`
	AccountedHours    float64 `json:"accounted_hours"`
	LoggedHours       float64 `json:"logged_hours"`
}

// Metrics are derived from Counters. A nil value means the metric is
// undefined for the entity (zero denominator).
type Metrics struct {
	AvgRework          *float64 `json:"avg_rework"`
	ReworkPercent      *float64 `json:"rework_percent"`
	MergedExpectedAHT  *float64 `json:"merged_expected_aht"`
	Efficiency         *float64 `json:"efficiency"`
	AvgRatingManual    *float64 `json:"avg_rating_manual"`
	AvgRatingAutomated *float64 `json:"avg_rating_automated"`
}

// Derive computes every ratio from raw counters.
func Derive(c Counters) Metrics {
	submissions := float64(c.NewTasks + c.ReworkEvents)
	unique := float64(c.UniqueTasks)

	return Metrics{
		AvgRework:          shift(ratio(submissions, unique), -1),
		ReworkPercent:      scale(ratio(float64(c.ReworkEvents), submissions), 100),
		MergedExpectedAHT:  ratio(c.AccountedHours, unique),
		Efficiency:         scale(ratio(c.AccountedHours, c.LoggedHours), 100),
		AvgRatingManual:    ratio(c.ManualScoreSum, float64(c.ManualReviews)),
		AvgRatingAutomated: ratio(c.AutomatedScoreSum, float64(c.AutomatedReviews)),
	}
}

// Accumulator folds attribution facts into Counters. One accumulator serves
// one entity and one period; it is not safe for concurrent use.
type Accumulator struct {
	rewards *config.Rewards

	tasks         map[string]string // task -> project
	reworkPerTask map[string]int
	newPerProject map[string]int
	c             Counters
}

// NewAccumulator creates an accumulator pricing work with the given rewards.
func NewAccumulator(rewards *config.Rewards) *Accumulator {
	return &Accumulator{
		rewards:       rewards,
		tasks:         make(map[string]string),
		reworkPerTask: make(map[string]int),
		newPerProject: make(map[string]int),
	}
}

// Add folds one fact.
func (a *Accumulator) Add(f attribution.Fact) {
	switch f.Kind {
	case attribution.FactCompletion:
		a.tasks[f.TaskID] = f.ProjectID
		if f.Ordinal > 1 {
			a.c.ReworkEvents++
			a.reworkPerTask[f.TaskID]++
		} else {
			a.c.NewTasks++
			a.newPerProject[f.ProjectID]++
		}
	case attribution.FactReview:
		if f.ReviewKind == eventlog.Automated {
			a.c.AutomatedReviews++
			a.c.AutomatedScoreSum += f.Score
		} else {
			a.c.ManualReviews++
			a.c.ManualScoreSum += f.Score
		}
	case attribution.FactReviewPerformed:
		a.c.ReviewsPerformed++
	case attribution.FactApprovedOwn:
		a.c.ApprovedOwn++
	case attribution.FactApprovedRework:
		a.c.ApprovedRework++
	case attribution.FactDelivered:
		a.c.Delivered++
	case attribution.FactQueued:
		a.c.QueuedForDelivery++
	case attribution.FactLoggedHours:
		a.c.LoggedHours += f.Hours
	}
}

// AddAll folds facts in order.
func (a *Accumulator) AddAll(facts []attribution.Fact) *Accumulator {
	for _, f := range facts {
		a.Add(f)
	}
	return a
}

// Counters finalizes distinct counts and accounted hours.
//
// Rework is credited per task, capped at the project's MaxRewardedRework, so
// resubmitting the same task does not inflate accounted hours. Hours are
// summed per project in sorted order so results are reproducible bit for bit.
func (a *Accumulator) Counters() Counters {
	c := a.c
	c.UniqueTasks = len(a.tasks)
	c.TasksWithRework = len(a.reworkPerTask)

	rewardedPerProject := make(map[string]int)
	for task, n := range a.reworkPerTask {
		project := a.tasks[task]
		reward, _ := a.rewards.For(project)
		rewarded := min(n, reward.MaxRewardedRework)
		rewardedPerProject[project] += rewarded
		c.RewardedRework += rewarded
	}

	seen := make(map[string]bool)
	var projects []string
	for _, counts := range []map[string]int{a.newPerProject, rewardedPerProject} {
		for p := range counts {
			if !seen[p] {
				seen[p] = true
				projects = append(projects, p)
			}
		}
	}
	sort.Strings(projects)

	for _, p := range projects {
		reward, _ := a.rewards.For(p)
		c.AccountedHours += float64(a.newPerProject[p])*reward.NewHours + float64(rewardedPerProject[p])*reward.ReworkHours
	}
	return c
}

// Summarize is the one-shot form: fold facts and derive metrics.
func Summarize(facts []attribution.Fact, rewards *config.Rewards) (Counters, Metrics) {
	c := NewAccumulator(rewards).AddAll(facts).Counters()
	return c, Derive(c)
}
