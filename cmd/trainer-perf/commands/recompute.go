package commands

import (
	"os"
	"sort"

	"trainer-perf/internal/eventlog"

	"github.com/spf13/cobra"
)

var (
	recomputeFlags scopeFlags
	noStore        bool
)

var recomputeCmd = &cobra.Command{
	Use:   "recompute",
	Short: "Recompute and publish rollups for a scope, then print them",
	RunE: func(cmd *cobra.Command, args []string) error {
		scope, err := recomputeFlags.scope()
		if err != nil {
			return err
		}
		q, err := recomputeFlags.query()
		if err != nil {
			return err
		}

		a, err := newApp(!noStore)
		if err != nil {
			return err
		}
		defer a.Close()

		g, err := a.svc.Recompute(cmd.Context(), scope)
		if err != nil {
			return err
		}
		return printGeneration(os.Stdout, g, q, recomputeFlags.asJSON)
	},
}

func init() {
	recomputeFlags.register(recomputeCmd)
	recomputeCmd.Flags().BoolVar(&noStore, "no-store", false, "do not persist the generation")
}

func sortedKinds(counts map[eventlog.WarningKind]int) []eventlog.WarningKind {
	kinds := make([]eventlog.WarningKind, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
