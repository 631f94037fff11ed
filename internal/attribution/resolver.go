package attribution

import (
	"sort"
	"time"

	"trainer-perf/internal/eventlog"
	"trainer-perf/internal/roster"

	"github.com/rs/zerolog/log"
)

// Input is everything the resolver needs for one recomputation.
type Input struct {
	Timelines   []eventlog.Timeline
	Reviews     []eventlog.ReviewRecord
	Deliveries  []eventlog.DeliveryRecord
	Tasks       []eventlog.Task
	LoggedHours []eventlog.LoggedHours
	Scope       eventlog.Scope
	Directory   *roster.Directory
}

type resolver struct {
	in      Input
	q       *eventlog.Quality
	byTask  map[string]*eventlog.Timeline
	tasks   map[string]eventlog.Task
	reviews map[string][]parsedReview
	result  *Result
}

// Resolve attributes completions, reviews, milestones and logged hours to
// workers. Records that cannot be attributed are skipped and reported on q;
// they are never credited to a task's current owner.
func Resolve(in Input, q *eventlog.Quality) *Result {
	r := &resolver{
		in:      in,
		q:       q,
		byTask:  make(map[string]*eventlog.Timeline, len(in.Timelines)),
		tasks:   make(map[string]eventlog.Task, len(in.Tasks)),
		reviews: make(map[string][]parsedReview),
		result:  &Result{Timelines: in.Timelines},
	}
	for i := range in.Timelines {
		r.byTask[in.Timelines[i].TaskID] = &in.Timelines[i]
	}
	for _, t := range in.Tasks {
		r.tasks[t.ID] = t
	}

	r.resolveCompletions()
	r.parseReviews()
	r.resolveReviews()
	r.resolveApprovals()
	r.resolveDeliveries()
	r.resolveLoggedHours()

	sortFacts(r.result.Facts)
	sort.SliceStable(r.result.Milestones, func(i, j int) bool {
		a, b := r.result.Milestones[i], r.result.Milestones[j]
		if a.TaskID != b.TaskID {
			return a.TaskID < b.TaskID
		}
		return a.Kind < b.Kind
	})

	log.Debug().
		Int("attributions", len(r.result.Attributions)).
		Int("reviews", len(r.result.Reviews)).
		Int("milestones", len(r.result.Milestones)).
		Int("facts", len(r.result.Facts)).
		Msg("Attribution resolved")
	return r.result
}

func (r *resolver) known(email string) bool {
	return r.in.Directory.Known(email)
}

// resolveCompletions tags first/last completions and credits in-scope ones.
func (r *resolver) resolveCompletions() {
	for _, tl := range r.in.Timelines {
		last := len(tl.Completions) - 1
		for i, ev := range tl.Completions {
			r.result.Attributions = append(r.result.Attributions, Attribution{
				TaskID:  tl.TaskID,
				Event:   ev,
				IsFirst: ev.Ordinal == 1,
				IsLast:  i == last,
			})
			if !ev.InScope {
				continue
			}
			if !r.known(ev.Actor) {
				r.q.Warn(eventlog.UnknownActor, ev.Actor, "completion of task "+tl.TaskID+" by unknown worker skipped")
				continue
			}
			r.result.Facts = append(r.result.Facts, Fact{
				Kind:      FactCompletion,
				Worker:    ev.Actor,
				ProjectID: ev.ProjectID,
				TaskID:    ev.TaskID,
				At:        ev.Timestamp,
				Ordinal:   ev.Ordinal,
			})
		}
	}
}

// FirstAuthor returns the actor of the ordinal-1 completion of a timeline.
func FirstAuthor(tl eventlog.Timeline) string {
	for _, ev := range tl.Completions {
		if ev.Ordinal == 1 {
			return ev.Actor
		}
	}
	return ""
}

// LastCompleterAt returns the latest completion at or before t. Completions are
// ordered by timestamp then insertion sequence, so equal timestamps resolve to
// the later-inserted event.
func LastCompleterAt(tl eventlog.Timeline, t time.Time) (eventlog.CompletionEvent, bool) {
	i := sort.Search(len(tl.Completions), func(i int) bool {
		return tl.Completions[i].Timestamp.After(t)
	})
	if i == 0 {
		return eventlog.CompletionEvent{}, false
	}
	return tl.Completions[i-1], true
}

func sortFacts(facts []Fact) {
	sort.SliceStable(facts, func(i, j int) bool {
		a, b := facts[i], facts[j]
		if a.Worker != b.Worker {
			return a.Worker < b.Worker
		}
		if a.ProjectID != b.ProjectID {
			return a.ProjectID < b.ProjectID
		}
		if !a.At.Equal(b.At) {
			return a.At.Before(b.At)
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.TaskID != b.TaskID {
			return a.TaskID < b.TaskID
		}
		return a.Ordinal < b.Ordinal
	})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
