// Package attribution maps normalized completion timelines, reviews and
// milestones onto the workers whose work they reflect.
package attribution

import (
	"time"

	"trainer-perf/internal/eventlog"
)

// FactKind identifies what a credited fact counts towards.
type FactKind string

const (
	// FactCompletion is one completion event (new or rework) by a worker.
	FactCompletion FactKind = "completion"
	// FactReview is a review received on a worker's completion.
	FactReview FactKind = "review"
	// FactReviewPerformed is a manual review submitted by a reviewer.
	FactReviewPerformed FactKind = "review_performed"
	FactApprovedOwn     FactKind = "approved_own"
	FactApprovedRework  FactKind = "approved_rework"
	FactDelivered       FactKind = "delivered"
	FactQueued          FactKind = "queued_for_delivery"
	FactLoggedHours     FactKind = "logged_hours"
)

// Fact is the atomic unit every metric is derived from. Worker-, team- and
// project-level figures are all folds over the same fact set.
type Fact struct {
	Kind       FactKind            `json:"kind"`
	Worker     string              `json:"worker"`
	ProjectID  string              `json:"projectId"`
	TaskID     string              `json:"taskId,omitempty"`
	At         time.Time           `json:"at"`
	Ordinal    int                 `json:"ordinal,omitempty"`
	ReviewKind eventlog.ReviewKind `json:"reviewKind,omitempty"`
	Score      float64             `json:"score,omitempty"`
	Hours      float64             `json:"hours,omitempty"`
}

// Attribution is the derived view of one completion event.
type Attribution struct {
	TaskID  string                   `json:"taskId"`
	Event   eventlog.CompletionEvent `json:"event"`
	IsFirst bool                     `json:"isFirst"`
	IsLast  bool                     `json:"isLast"`
}

// ReviewCredit records which completion a review judged.
type ReviewCredit struct {
	ReviewID   string                 `json:"reviewId"`
	TaskID     string                 `json:"taskId"`
	ProjectID  string                 `json:"projectId"`
	Reviewer   string                 `json:"reviewer"`
	Kind       eventlog.ReviewKind    `json:"kind"`
	Outcome    eventlog.ReviewOutcome `json:"outcome"`
	Score      float64                `json:"score"`
	At         time.Time              `json:"at"`
	CreditedTo string                 `json:"creditedTo"`
	Ordinal    int                    `json:"ordinal"`
	// Superseded marks a manual review replaced by a later manual review of
	// the same completion. It does not count towards ratings.
	Superseded bool `json:"superseded,omitempty"`
}

// MilestoneCredit credits a terminal milestone to the last completer before it.
type MilestoneCredit struct {
	Kind        FactKind  `json:"kind"`
	TaskID      string    `json:"taskId"`
	ProjectID   string    `json:"projectId"`
	At          time.Time `json:"at"`
	FirstAuthor string    `json:"firstAuthor"`
	CreditedTo  string    `json:"creditedTo"`
	Ordinal     int       `json:"ordinal"`
}

// Result is the immutable output of Resolve.
type Result struct {
	Attributions []Attribution       `json:"attributions"`
	Reviews      []ReviewCredit      `json:"reviews"`
	Milestones   []MilestoneCredit   `json:"milestones"`
	Facts        []Fact              `json:"facts"`
	Timelines    []eventlog.Timeline `json:"-"`
}

// FactsByWorker groups facts per worker email. Slices keep the global fact order.
func (r *Result) FactsByWorker() map[string][]Fact {
	out := make(map[string][]Fact)
	for _, f := range r.Facts {
		out[f.Worker] = append(out[f.Worker], f)
	}
	return out
}

// TaskTrail is the audit view of a single task.
type TaskTrail struct {
	TaskID       string            `json:"taskId"`
	Attributions []Attribution     `json:"attributions"`
	Reviews      []ReviewCredit    `json:"reviews"`
	Milestones   []MilestoneCredit `json:"milestones"`
}

// Trail extracts everything the resolver decided about one task.
func (r *Result) Trail(taskID string) TaskTrail {
	t := TaskTrail{TaskID: taskID}
	for _, a := range r.Attributions {
		if a.TaskID == taskID {
			t.Attributions = append(t.Attributions, a)
		}
	}
	for _, rc := range r.Reviews {
		if rc.TaskID == taskID {
			t.Reviews = append(t.Reviews, rc)
		}
	}
	for _, m := range r.Milestones {
		if m.TaskID == taskID {
			t.Milestones = append(t.Milestones, m)
		}
	}
	return t
}
