package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"trainer-perf/cmd/mockgen/engine"
)

func main() {
	scenario := flag.String("scenario", "mild", "Scenario to generate: mild, chaos, drift")
	distribution := flag.String("distribution", "uniform", "Cycle length distribution: uniform, weibull")
	outDir := flag.String("out", "./feeds", "Output directory for the feed files")
	count := flag.Int("count", 200, "Number of tasks to generate")
	projects := flag.Int("projects", 3, "Number of projects")
	teams := flag.Int("teams", 3, "Number of teams")
	teamSize := flag.Int("team-size", 4, "Trainers per team")
	reviewers := flag.Int("reviewers", 3, "Number of reviewers")
	seed := flag.Int64("seed", 1, "Random seed")
	flag.Parse()

	cfg := engine.GeneratorConfig{
		Scenario:     *scenario,
		Distribution: *distribution,
		Count:        *count,
		Projects:     *projects,
		Teams:        *teams,
		TeamSize:     *teamSize,
		Reviewers:    *reviewers,
		Now:          time.Now().UTC(),
		Seed:         *seed,
	}

	fmt.Printf("Generating scenario '%s' (Distribution: %s, Count: %d) to %s...\n", cfg.Scenario, cfg.Distribution, cfg.Count, *outDir)

	feeds := engine.Generate(cfg)
	if err := engine.Save(*outDir, feeds, cfg.Projects); err != nil {
		fmt.Printf("Failed to save mock data: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Done: %d transitions, %d reviews, %d deliveries, %d workers.\n",
		len(feeds.Transitions), len(feeds.Reviews), len(feeds.Deliveries), len(feeds.Workers))
}
