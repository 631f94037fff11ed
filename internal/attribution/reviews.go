package attribution

import (
	"fmt"
	"sort"
	"time"

	"trainer-perf/internal/eventlog"
)

type parsedReview struct {
	rec      eventlog.ReviewRecord
	at       time.Time
	reviewer string
	kind     eventlog.ReviewKind
	outcome  eventlog.ReviewOutcome
}

// NormalizeReviewKind maps raw kinds onto manual/automated. Anything that is
// not clearly automated is a manual review.
func NormalizeReviewKind(raw eventlog.ReviewKind) eventlog.ReviewKind {
	switch eventlog.NormalizeState(string(raw)) {
	case "automated", "auto", "llm", "autograder":
		return eventlog.Automated
	default:
		return eventlog.Manual
	}
}

// NormalizeOutcome maps raw verdicts onto approved/sent-to-rework.
func NormalizeOutcome(raw eventlog.ReviewOutcome) eventlog.ReviewOutcome {
	switch eventlog.NormalizeState(string(raw)) {
	case "sent_to_rework", "rework", "rejected", "returned":
		return eventlog.SentToRework
	default:
		return eventlog.Approved
	}
}

// parseReviews groups reviews per task in submission order. Reviews of every
// date are kept: approvals look at the full history.
func (r *resolver) parseReviews() {
	for _, rec := range r.in.Reviews {
		at, err := eventlog.ParseTime(rec.SubmittedAt)
		if err != nil {
			r.q.Warn(eventlog.MalformedTimestamp, rec.ReviewID, err.Error())
			continue
		}
		r.reviews[rec.TaskID] = append(r.reviews[rec.TaskID], parsedReview{
			rec:      rec,
			at:       at,
			reviewer: eventlog.NormalizeEmail(rec.Reviewer),
			kind:     NormalizeReviewKind(rec.Kind),
			outcome:  NormalizeOutcome(rec.Outcome),
		})
	}
	for _, list := range r.reviews {
		sort.SliceStable(list, func(i, j int) bool {
			if !list[i].at.Equal(list[j].at) {
				return list[i].at.Before(list[j].at)
			}
			return list[i].rec.ReviewID < list[j].rec.ReviewID
		})
	}
}

// resolveReviews joins each in-scope review to the nearest preceding
// completion of its task, then lets only the latest manual review of each
// completion count.
func (r *resolver) resolveReviews() {
	type judged struct {
		task    string
		ordinal int
	}

	for _, taskID := range sortedKeys(r.reviews) {
		tl := r.byTask[taskID]
		latestManual := make(map[judged]int)

		for _, pr := range r.reviews[taskID] {
			projectID := pr.rec.ProjectID
			if projectID == "" && tl != nil {
				projectID = tl.ProjectID
			}
			if !r.in.Scope.HasProject(projectID) || !r.in.Scope.Contains(pr.at) {
				continue
			}
			if tl == nil {
				r.q.Warn(eventlog.OrphanReview, pr.rec.ReviewID, "review of task "+taskID+" has no completion history")
				continue
			}

			ev, ok := LastCompleterAt(*tl, pr.at)
			if !ok {
				r.q.Warn(eventlog.OrphanReview, pr.rec.ReviewID, "review of task "+taskID+" precedes every completion")
				continue
			}
			if !r.known(ev.Actor) {
				r.q.Warn(eventlog.UnknownActor, ev.Actor, "review "+pr.rec.ReviewID+" judges work of unknown worker")
				continue
			}

			credit := ReviewCredit{
				ReviewID:   pr.rec.ReviewID,
				TaskID:     taskID,
				ProjectID:  projectID,
				Reviewer:   pr.reviewer,
				Kind:       pr.kind,
				Outcome:    pr.outcome,
				Score:      pr.rec.Score,
				At:         pr.at,
				CreditedTo: ev.Actor,
				Ordinal:    ev.Ordinal,
			}

			if pr.kind == eventlog.Manual {
				key := judged{task: taskID, ordinal: ev.Ordinal}
				if prev, seen := latestManual[key]; seen {
					superseded := &r.result.Reviews[prev]
					superseded.Superseded = true
					r.q.Warn(eventlog.SupersededReview, superseded.ReviewID,
						fmt.Sprintf("manual review of task %s completion #%d replaced by %s", taskID, ev.Ordinal, credit.ReviewID))
				}
				latestManual[key] = len(r.result.Reviews)
			}
			r.result.Reviews = append(r.result.Reviews, credit)
		}
	}

	for _, rc := range r.result.Reviews {
		if !rc.Superseded {
			r.result.Facts = append(r.result.Facts, Fact{
				Kind:       FactReview,
				Worker:     rc.CreditedTo,
				ProjectID:  rc.ProjectID,
				TaskID:     rc.TaskID,
				At:         rc.At,
				Ordinal:    rc.Ordinal,
				ReviewKind: rc.Kind,
				Score:      rc.Score,
			})
		}
		if rc.Kind != eventlog.Manual || rc.Reviewer == "" {
			continue
		}
		if !r.known(rc.Reviewer) {
			r.q.Warn(eventlog.UnknownActor, rc.Reviewer, "review "+rc.ReviewID+" submitted by unknown reviewer")
			continue
		}
		r.result.Facts = append(r.result.Facts, Fact{
			Kind:       FactReviewPerformed,
			Worker:     rc.Reviewer,
			ProjectID:  rc.ProjectID,
			TaskID:     rc.TaskID,
			At:         rc.At,
			ReviewKind: rc.Kind,
		})
	}
}

// approvalTime returns when a task was approved: the latest manual review that
// did not send it back to rework or, when no manual review approved it, the
// latest such automated review.
func (r *resolver) approvalTime(taskID string) (time.Time, bool) {
	list := r.reviews[taskID]
	var automated time.Time
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].outcome == eventlog.SentToRework {
			continue
		}
		if list[i].kind == eventlog.Manual {
			return list[i].at, true
		}
		if automated.IsZero() {
			automated = list[i].at
		}
	}
	return automated, !automated.IsZero()
}

func isTerminalCompleted(state string) bool {
	switch eventlog.NormalizeState(state) {
	case eventlog.StateCompleted, eventlog.StateReviewed, eventlog.StateDelivered, "approved", "done":
		return true
	}
	return false
}
