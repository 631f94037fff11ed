package attribution

import (
	"sort"
	"time"

	"trainer-perf/internal/eventlog"
)

// resolveApprovals credits every task approved inside the scope to the actor
// of its latest completion, split by whether that worker also authored the
// first completion.
func (r *resolver) resolveApprovals() {
	for _, tl := range r.in.Timelines {
		if !r.in.Scope.HasProject(tl.ProjectID) {
			continue
		}
		approvedAt, ok := r.approvalTime(tl.TaskID)
		if !ok || !r.in.Scope.Contains(approvedAt) {
			continue
		}

		last := tl.Completions[len(tl.Completions)-1]
		// Without a snapshot the task counts as approved when no completion
		// happened after the approving review.
		if snap, ok := r.tasks[tl.TaskID]; ok {
			if !isTerminalCompleted(snap.State) {
				continue
			}
		} else if last.Timestamp.After(approvedAt) {
			continue
		}

		kind := FactApprovedOwn
		first := FirstAuthor(tl)
		if first != last.Actor {
			kind = FactApprovedRework
		}
		r.credit(kind, tl, last, first, approvedAt)
	}
}

// resolveDeliveries credits delivered tasks at their first delivery date and,
// separately, tasks that are queued for delivery but not delivered yet.
func (r *resolver) resolveDeliveries() {
	delivered := make(map[string]time.Time)
	queued := make(map[string]bool)

	for _, d := range r.in.Deliveries {
		switch eventlog.DeliveryState(eventlog.NormalizeState(string(d.State))) {
		case eventlog.Delivered:
			at, err := eventlog.ParseTime(d.DeliveryDate)
			if err != nil {
				r.q.Warn(eventlog.MalformedTimestamp, d.TaskID, "delivery of batch "+d.BatchID+": "+err.Error())
				continue
			}
			if prev, ok := delivered[d.TaskID]; !ok || at.Before(prev) {
				delivered[d.TaskID] = at
			}
		case eventlog.Queued:
			queued[d.TaskID] = true
		}
	}

	for _, taskID := range sortedKeys(delivered) {
		tl, ok := r.byTask[taskID]
		if !ok || !r.in.Scope.HasProject(tl.ProjectID) {
			continue
		}
		at := delivered[taskID]
		if !r.in.Scope.Contains(at) {
			continue
		}
		last, ok := LastCompleterAt(*tl, at)
		if !ok {
			r.q.Warn(eventlog.OrphanMilestone, taskID, "delivery precedes every completion")
			continue
		}
		r.credit(FactDelivered, *tl, last, FirstAuthor(*tl), at)
	}

	for _, taskID := range sortedKeys(queued) {
		if _, done := delivered[taskID]; done {
			continue
		}
		tl, ok := r.byTask[taskID]
		if !ok || !r.in.Scope.HasProject(tl.ProjectID) {
			continue
		}
		last := tl.Completions[len(tl.Completions)-1]
		r.credit(FactQueued, *tl, last, FirstAuthor(*tl), r.queuedAt(last))
	}
}

// queuedAt stamps a queued-for-delivery credit from the input alone: the end of
// a bounded scope, otherwise the latest completion, never before the scope start.
func (r *resolver) queuedAt(last eventlog.CompletionEvent) time.Time {
	at := last.Timestamp
	if !r.in.Scope.End.IsZero() {
		at = r.in.Scope.End
	}
	if at.Before(r.in.Scope.Start) {
		at = r.in.Scope.Start
	}
	return at
}

func (r *resolver) credit(kind FactKind, tl eventlog.Timeline, last eventlog.CompletionEvent, first string, at time.Time) {
	if !r.known(last.Actor) {
		r.q.Warn(eventlog.UnknownActor, last.Actor, string(kind)+" of task "+tl.TaskID+" by unknown worker skipped")
		return
	}
	r.result.Milestones = append(r.result.Milestones, MilestoneCredit{
		Kind:        kind,
		TaskID:      tl.TaskID,
		ProjectID:   tl.ProjectID,
		At:          at,
		FirstAuthor: first,
		CreditedTo:  last.Actor,
		Ordinal:     last.Ordinal,
	})
	r.result.Facts = append(r.result.Facts, Fact{
		Kind:      kind,
		Worker:    last.Actor,
		ProjectID: tl.ProjectID,
		TaskID:    tl.TaskID,
		At:        at,
		Ordinal:   last.Ordinal,
	})
}

// resolveLoggedHours turns the time-tracking feed into facts. Entries without
// a project are booked to the worker's primary project for the scope: the one
// with the most completions, ties broken by project id.
func (r *resolver) resolveLoggedHours() {
	completions := make(map[string]map[string]int)
	for _, f := range r.result.Facts {
		if f.Kind != FactCompletion {
			continue
		}
		if completions[f.Worker] == nil {
			completions[f.Worker] = make(map[string]int)
		}
		completions[f.Worker][f.ProjectID]++
	}

	for _, lh := range r.in.LoggedHours {
		worker := eventlog.NormalizeEmail(lh.Worker)
		at, err := eventlog.ParseTime(lh.Date)
		if err != nil {
			r.q.Warn(eventlog.MalformedTimestamp, worker, "logged hours: "+err.Error())
			continue
		}
		if !r.in.Scope.Contains(at) {
			continue
		}
		if !r.known(worker) {
			r.q.Warn(eventlog.UnknownActor, worker, "logged hours of unknown worker skipped")
			continue
		}

		projectID := lh.ProjectID
		if projectID == "" {
			projectID = primaryProject(completions[worker])
		}
		if projectID == "" && len(r.in.Scope.Projects) == 1 {
			projectID = r.in.Scope.Projects[0]
		}
		if projectID == "" {
			r.q.Warn(eventlog.UnknownProject, worker, "logged hours on "+lh.Date+" cannot be booked to a project")
			continue
		}
		if !r.in.Scope.HasProject(projectID) {
			continue
		}

		r.result.Facts = append(r.result.Facts, Fact{
			Kind:      FactLoggedHours,
			Worker:    worker,
			ProjectID: projectID,
			At:        at,
			Hours:     lh.Hours,
		})
	}
}

func primaryProject(counts map[string]int) string {
	projects := make([]string, 0, len(counts))
	for p := range counts {
		projects = append(projects, p)
	}
	sort.Strings(projects)

	best, bestCount := "", 0
	for _, p := range projects {
		if counts[p] > bestCount {
			best, bestCount = p, counts[p]
		}
	}
	return best
}
