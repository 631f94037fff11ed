package rollup

import (
	"fmt"
	"time"

	"trainer-perf/internal/stats"
)

// Reconcile checks cross-level consistency of a record set before it is
// published. For every project and period, additive counters of the parent
// must equal the sum over its children, and distinct task counts must lie
// between the largest child and the children's sum.
func Reconcile(records []Record) error {
	type slot struct {
		parent   *Record
		children []Record
	}

	slotKey := func(r Record, parentID string) string {
		return r.ProjectID + "|" + parentID + "|" + string(r.Period.Granularity) + "|" + r.Period.Start.Format(time.RFC3339Nano)
	}

	slots := make(map[string]*slot)
	get := func(k string) *slot {
		s, ok := slots[k]
		if !ok {
			s = &slot{}
			slots[k] = s
		}
		return s
	}

	for i := range records {
		r := records[i]
		switch r.Level {
		case LevelProject:
			get(slotKey(r, "")).parent = &records[i]
		case LevelTeam:
			get(slotKey(r, "")).children = append(get(slotKey(r, "")).children, r)
			get(slotKey(r, r.EntityID)).parent = &records[i]
		case LevelWorker:
			get(slotKey(r, r.TeamID)).children = append(get(slotKey(r, r.TeamID)).children, r)
		}
	}

	for k, s := range slots {
		if s.parent == nil {
			if len(s.children) > 0 {
				return fmt.Errorf("rollup %s: %d child records without a parent", k, len(s.children))
			}
			continue
		}
		if err := checkChildren(*s.parent, s.children); err != nil {
			return fmt.Errorf("rollup %s: %w", k, err)
		}
	}
	return nil
}

func checkChildren(parent Record, children []Record) error {
	var sum stats.Counters
	maxUnique := 0
	for _, c := range children {
		sum.UniqueTasks += c.Counters.UniqueTasks
		sum.NewTasks += c.Counters.NewTasks
		sum.ReworkEvents += c.Counters.ReworkEvents
		sum.ManualReviews += c.Counters.ManualReviews
		sum.AutomatedReviews += c.Counters.AutomatedReviews
		sum.ApprovedOwn += c.Counters.ApprovedOwn
		sum.ApprovedRework += c.Counters.ApprovedRework
		sum.Delivered += c.Counters.Delivered
		sum.QueuedForDelivery += c.Counters.QueuedForDelivery
		sum.ReviewsPerformed += c.Counters.ReviewsPerformed
		maxUnique = max(maxUnique, c.Counters.UniqueTasks)
	}

	p := parent.Counters
	additive := []struct {
		name        string
		parent, sum int
	}{
		{"new_tasks", p.NewTasks, sum.NewTasks},
		{"rework_events", p.ReworkEvents, sum.ReworkEvents},
		{"manual_reviews", p.ManualReviews, sum.ManualReviews},
		{"automated_reviews", p.AutomatedReviews, sum.AutomatedReviews},
		{"approved_own", p.ApprovedOwn, sum.ApprovedOwn},
		{"approved_rework", p.ApprovedRework, sum.ApprovedRework},
		{"delivered", p.Delivered, sum.Delivered},
		{"queued_for_delivery", p.QueuedForDelivery, sum.QueuedForDelivery},
		{"reviews_performed", p.ReviewsPerformed, sum.ReviewsPerformed},
	}
	for _, a := range additive {
		if a.parent != a.sum {
			return fmt.Errorf("%s of %s %s is %d, children sum to %d", a.name, parent.Level, parent.EntityID, a.parent, a.sum)
		}
	}

	if p.UniqueTasks > sum.UniqueTasks || p.UniqueTasks < maxUnique {
		return fmt.Errorf("unique_tasks of %s %s is %d, outside [%d, %d]", parent.Level, parent.EntityID, p.UniqueTasks, maxUnique, sum.UniqueTasks)
	}
	return nil
}
