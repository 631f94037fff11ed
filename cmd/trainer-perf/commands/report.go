package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"trainer-perf/internal/eventlog"
	"trainer-perf/internal/rollup"
	"trainer-perf/internal/stats"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

type scopeFlags struct {
	projects []string
	start    string
	end      string
	exclude  []string

	level       string
	entity      string
	granularity string
	asJSON      bool
}

func (f *scopeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&f.projects, "project", "p", nil, "project ids (repeatable, default all)")
	cmd.Flags().StringVar(&f.start, "start", "", "inclusive range start (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.end, "end", "", "inclusive range end (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().StringSliceVar(&f.exclude, "exclude-batch", nil, "batch ids to ignore, added to DRAFT_BATCHES")
	cmd.Flags().StringVar(&f.level, "level", "", "only print worker, team or project records")
	cmd.Flags().StringVar(&f.entity, "entity", "", "only print records of this entity")
	cmd.Flags().StringVar(&f.granularity, "granularity", "total", "total, daily, weekly or monthly")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "output JSON")
}

func (f *scopeFlags) scope() (eventlog.Scope, error) {
	excluded := append(append([]string(nil), cfg.DraftBatches...), f.exclude...)
	return eventlog.ParseScope(f.projects, f.start, f.end, excluded)
}

func (f *scopeFlags) query() (rollup.Query, error) {
	level, err := rollup.ParseLevel(f.level)
	if err != nil {
		return rollup.Query{}, err
	}
	gran, err := stats.ParseGranularity(f.granularity)
	if err != nil {
		return rollup.Query{}, err
	}
	return rollup.Query{Level: level, EntityID: f.entity, Granularity: gran}, nil
}

var reportFlags scopeFlags

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the last published rollups of a scope without recomputing",
	RunE: func(cmd *cobra.Command, args []string) error {
		scope, err := reportFlags.scope()
		if err != nil {
			return err
		}
		q, err := reportFlags.query()
		if err != nil {
			return err
		}

		a, err := newApp(true)
		if err != nil {
			return err
		}
		defer a.Close()

		g, err := a.store.Load(cmd.Context(), rollup.ScopeKey(scope))
		if err != nil {
			return fmt.Errorf("%w (run recompute first)", err)
		}
		return printGeneration(os.Stdout, g, q, reportFlags.asJSON)
	},
}

func init() {
	reportFlags.register(reportCmd)
}

func printGeneration(w io.Writer, g *rollup.Generation, q rollup.Query, asJSON bool) error {
	records := g.Filter(q)
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			GenerationID string          `json:"generation_id"`
			ScopeKey     string          `json:"scope_key"`
			Records      []rollup.Record `json:"records"`
		}{g.ID, g.ScopeKey, records})
	}

	fmt.Fprintf(w, "Generation %s computed %s (%d warnings)\n", g.ID, g.ComputedAt.Format("2006-01-02 15:04:05"), g.Quality.Total())

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Level", "Entity", "Project", "Team", "Period", "Tasks", "New", "Rework", "Avg Rework", "Rework %", "AHT", "Efficiency %", "Manual", "Automated"})
	for _, r := range records {
		c, m := r.Counters, r.Metrics
		tw.AppendRow(table.Row{
			r.Level, r.EntityID, r.ProjectID, r.TeamID, r.Period.Label(),
			c.UniqueTasks, c.NewTasks, c.ReworkEvents,
			num(m.AvgRework), num(m.ReworkPercent), num(m.MergedExpectedAHT), num(m.Efficiency),
			num(m.AvgRatingManual), num(m.AvgRatingAutomated),
		})
	}
	tw.SetStyle(table.StyleLight)
	tw.Render()

	if g.Quality != nil && len(g.Quality.Counts) > 0 {
		qt := table.NewWriter()
		qt.SetOutputMirror(w)
		qt.AppendHeader(table.Row{"Warning", "Count"})
		for _, kind := range sortedKinds(g.Quality.Counts) {
			qt.AppendRow(table.Row{kind, g.Quality.Counts[kind]})
		}
		qt.SetStyle(table.StyleLight)
		qt.Render()
	}
	return nil
}

func num(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}
