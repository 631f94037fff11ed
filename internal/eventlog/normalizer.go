package eventlog

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Scope bounds one recomputation: a project set, a date range and the batches
// that must be ignored (drafts, test batches).
type Scope struct {
	Projects        []string  `json:"projects,omitempty"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	ExcludedBatches []string  `json:"excludedBatches,omitempty"`
}

// HasProject reports whether the project belongs to the scope. An empty
// project list means every project.
func (s Scope) HasProject(projectID string) bool {
	if len(s.Projects) == 0 {
		return true
	}
	for _, p := range s.Projects {
		if p == projectID {
			return true
		}
	}
	return false
}

// Contains reports whether t falls inside [Start, End]. Zero bounds are open.
func (s Scope) Contains(t time.Time) bool {
	if !s.Start.IsZero() && t.Before(s.Start) {
		return false
	}
	if !s.End.IsZero() && t.After(s.End) {
		return false
	}
	return true
}

// ParseScope builds a scope from user-supplied bounds. Empty bounds stay
// open. A date-only end bound covers that whole day.
func ParseScope(projects []string, start, end string, excluded []string) (Scope, error) {
	scope := Scope{Projects: projects, ExcludedBatches: excluded}
	if start != "" {
		t, err := ParseTime(start)
		if err != nil {
			return Scope{}, fmt.Errorf("invalid start: %w", err)
		}
		scope.Start = t
	}
	if end != "" {
		t, err := ParseTime(end)
		if err != nil {
			return Scope{}, fmt.Errorf("invalid end: %w", err)
		}
		if len(strings.TrimSpace(end)) == len(time.DateOnly) {
			t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
		scope.End = t
	}
	if !scope.Start.IsZero() && !scope.End.IsZero() && scope.End.Before(scope.Start) {
		return Scope{}, fmt.Errorf("end %s is before start %s", end, start)
	}
	return scope, nil
}

func (s Scope) excludes(batchID string) bool {
	if batchID == "" {
		return false
	}
	for _, b := range s.ExcludedBatches {
		if b == batchID {
			return true
		}
	}
	return false
}

type parsedTransition struct {
	rec TransitionRecord
	ts  time.Time
	idx int
}

// Normalize turns an unordered transition stream into one ordered completion
// timeline per task.
//
// Ordinals are counted over the full history of a task; the scope's date range
// only decides InScope. Transitions out of the approval pseudo-state never
// count as completions. Records with unusable timestamps are skipped and
// reported on q.
func Normalize(records []TransitionRecord, scope Scope, q *Quality) []Timeline {
	byTask := make(map[string][]parsedTransition)
	dropped := 0

	for i, rec := range records {
		if !scope.HasProject(rec.ProjectID) || scope.excludes(rec.BatchID) {
			continue
		}
		ts, err := ParseTime(rec.Timestamp)
		if err != nil {
			q.Warn(MalformedTimestamp, rec.TaskID, err.Error())
			dropped++
			continue
		}
		byTask[rec.TaskID] = append(byTask[rec.TaskID], parsedTransition{rec: rec, ts: ts, idx: i})
	}

	timelines := make([]Timeline, 0, len(byTask))
	for taskID, transitions := range byTask {
		sort.SliceStable(transitions, func(i, j int) bool {
			return transitionLess(transitions[i], transitions[j])
		})

		tl := Timeline{TaskID: taskID, ProjectID: transitions[0].rec.ProjectID}
		ordinal := 0
		for _, t := range transitions {
			if !isCompletion(t.rec) {
				continue
			}
			ordinal++
			tl.Completions = append(tl.Completions, CompletionEvent{
				TaskID:     taskID,
				ProjectID:  t.rec.ProjectID,
				Actor:      NormalizeEmail(t.rec.Actor),
				Timestamp:  t.ts,
				PriorState: NormalizeState(t.rec.FromStatus),
				NewState:   StateCompleted,
				Ordinal:    ordinal,
				Seq:        t.rec.Seq,
				InScope:    scope.Contains(t.ts),
			})
		}

		if len(tl.Completions) == 0 {
			continue
		}
		timelines = append(timelines, tl)
	}

	sort.Slice(timelines, func(i, j int) bool {
		return timelines[i].TaskID < timelines[j].TaskID
	})

	log.Debug().Int("records", len(records)).Int("dropped", dropped).Int("tasks", len(timelines)).Msg("Normalized transition stream")
	return timelines
}

// transitionLess orders by timestamp, then by insertion sequence. Records that
// never went through the store (Seq == 0) fall back to input position.
func transitionLess(a, b parsedTransition) bool {
	if !a.ts.Equal(b.ts) {
		return a.ts.Before(b.ts)
	}
	if a.rec.Seq != b.rec.Seq {
		return a.rec.Seq < b.rec.Seq
	}
	return a.idx < b.idx
}

func isCompletion(rec TransitionRecord) bool {
	return NormalizeState(rec.ToStatus) == StateCompleted && NormalizeState(rec.FromStatus) != StateApproval
}
