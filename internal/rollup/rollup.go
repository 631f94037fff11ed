// Package rollup aggregates attribution facts into worker, team and project
// records and publishes them as immutable generations.
package rollup

import (
	"context"
	"fmt"
	"sort"
	"time"

	"trainer-perf/internal/attribution"
	"trainer-perf/internal/config"
	"trainer-perf/internal/roster"
	"trainer-perf/internal/stats"

	"golang.org/x/sync/errgroup"
)

// Level is the hierarchy level of a record.
type Level string

const (
	LevelWorker  Level = "worker"
	LevelTeam    Level = "team"
	LevelProject Level = "project"
)

var levelOrder = map[Level]int{LevelProject: 0, LevelTeam: 1, LevelWorker: 2}

var granularityOrder = map[stats.Granularity]int{stats.Total: 0, stats.Monthly: 1, stats.Weekly: 2, stats.Daily: 3}

// Record is one rollup row: an entity at a level, inside one project and period.
type Record struct {
	EntityID  string         `json:"entity_id"`
	Level     Level          `json:"level"`
	ProjectID string         `json:"project_id"`
	TeamID    string         `json:"team_id,omitempty"`
	Period    stats.Period   `json:"period"`
	Counters  stats.Counters `json:"counters"`
	Metrics   stats.Metrics  `json:"metrics"`
}

// BuildOptions parameterize Build.
type BuildOptions struct {
	Rewards       *config.Rewards
	Teams         roster.TeamIndex
	Granularities []stats.Granularity
	// Start and End bound the Total period.
	Start, End time.Time
	// Workers limits the fan-out. Zero or less means unlimited.
	Workers int
}

// Build derives every rollup record from the attribution facts.
//
// Worker records are computed in parallel; team and project records are only
// computed once every worker job has finished. Team and project figures are
// re-folded from the union of their members' facts, so distinct counts and
// weighted averages are exact instead of sums of member ratios.
func Build(ctx context.Context, result *attribution.Result, opts BuildOptions) ([]Record, error) {
	if len(opts.Granularities) == 0 {
		opts.Granularities = stats.Granularities
	}

	byWorker := result.FactsByWorker()
	workers := make([]string, 0, len(byWorker))
	for w := range byWorker {
		workers = append(workers, w)
	}
	sort.Strings(workers)

	workerRecords := make([][]Record, len(workers))
	g, gctx := errgroup.WithContext(ctx)
	if opts.Workers > 0 {
		g.SetLimit(opts.Workers)
	}
	for i, w := range workers {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			team := opts.Teams.TeamOf(w)
			workerRecords[i] = fold(w, LevelWorker, team, byWorker[w], opts)
			return nil
		})
	}
	// Barrier: hierarchy levels wait for every worker.
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("worker rollup: %w", err)
	}

	byTeam := make(map[string][]attribution.Fact)
	for _, f := range result.Facts {
		team := opts.Teams.TeamOf(f.Worker)
		byTeam[team] = append(byTeam[team], f)
	}
	teams := make([]string, 0, len(byTeam))
	for t := range byTeam {
		teams = append(teams, t)
	}
	sort.Strings(teams)

	teamRecords := make([][]Record, len(teams))
	var projectRecords []Record
	g, gctx = errgroup.WithContext(ctx)
	if opts.Workers > 0 {
		g.SetLimit(opts.Workers)
	}
	for i, t := range teams {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			teamRecords[i] = fold(t, LevelTeam, t, byTeam[t], opts)
			return nil
		})
	}
	g.Go(func() error {
		if err := gctx.Err(); err != nil {
			return err
		}
		projectRecords = foldProjects(result.Facts, opts)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("hierarchy rollup: %w", err)
	}

	var records []Record
	records = append(records, projectRecords...)
	for _, rs := range teamRecords {
		records = append(records, rs...)
	}
	for _, rs := range workerRecords {
		records = append(records, rs...)
	}
	SortRecords(records)
	return records, nil
}

type bucket struct {
	project string
	period  stats.Period
}

func (b bucket) key() string {
	return b.project + "|" + string(b.period.Granularity) + "|" + b.period.Start.Format(time.RFC3339Nano)
}

// fold buckets facts by (project, period) and accumulates each bucket.
// Facts must arrive in a deterministic order.
func fold(entityID string, level Level, teamID string, facts []attribution.Fact, opts BuildOptions) []Record {
	accs := make(map[string]*stats.Accumulator)
	buckets := make(map[string]bucket)

	for _, f := range facts {
		for _, gran := range opts.Granularities {
			b := bucket{project: f.ProjectID, period: stats.PeriodOf(f.At, gran, opts.Start, opts.End)}
			k := b.key()
			acc, ok := accs[k]
			if !ok {
				acc = stats.NewAccumulator(opts.Rewards)
				accs[k] = acc
				buckets[k] = b
			}
			acc.Add(f)
		}
	}

	records := make([]Record, 0, len(accs))
	for k, acc := range accs {
		b := buckets[k]
		c := acc.Counters()
		records = append(records, Record{
			EntityID:  entityID,
			Level:     level,
			ProjectID: b.project,
			TeamID:    teamID,
			Period:    b.period,
			Counters:  c,
			Metrics:   stats.Derive(c),
		})
	}
	return records
}

// foldProjects computes project records straight from the project's facts.
func foldProjects(facts []attribution.Fact, opts BuildOptions) []Record {
	byProject := make(map[string][]attribution.Fact)
	for _, f := range facts {
		byProject[f.ProjectID] = append(byProject[f.ProjectID], f)
	}
	var records []Record
	for project, pf := range byProject {
		records = append(records, fold(project, LevelProject, "", pf, opts)...)
	}
	return records
}

// SortRecords orders records by level, project, entity and period.
func SortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Level != b.Level {
			return levelOrder[a.Level] < levelOrder[b.Level]
		}
		if a.ProjectID != b.ProjectID {
			return a.ProjectID < b.ProjectID
		}
		if a.EntityID != b.EntityID {
			return a.EntityID < b.EntityID
		}
		if a.Period.Granularity != b.Period.Granularity {
			return granularityOrder[a.Period.Granularity] < granularityOrder[b.Period.Granularity]
		}
		return a.Period.Start.Before(b.Period.Start)
	})
}
