package commands

import (
	"context"
	"fmt"

	"trainer-perf/internal/config"
	"trainer-perf/internal/eventlog"
	"trainer-perf/internal/logging"
	"trainer-perf/internal/mcp"
	"trainer-perf/internal/rollup"
	"trainer-perf/internal/store"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Version, Commit, and BuildDate are set at build time via ldflags.
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"

	verbose bool
	cfg     *config.AppConfig
)

var rootCmd = &cobra.Command{
	Use:   "trainer-perf",
	Short: "Task lifecycle attribution and performance rollups",
	Long: `Attributes task completions, reviews and milestones to the workers who earned them
and publishes worker, team and project performance rollups. Without a subcommand it
serves the rollups as MCP tools over stdio.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logging.Init(logging.Options{Verbose: verbose}); err != nil {
			return err
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		log.Info().
			Str("version", Version).
			Str("commit", Commit).
			Str("buildDate", BuildDate).
			Msg("trainer-perf starting")
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(true)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.restore(cmd.Context()); err != nil {
			log.Warn().Err(err).Msg("Failed to restore published rollups")
		}
		return mcp.NewServer(a.svc, a.provider, a.cache, cfg.DraftBatches, Version).Run(cmd.Context())
	},
}

// app is the wired engine shared by every subcommand.
type app struct {
	provider *eventlog.LogProvider
	store    *store.Store
	cache    *mcp.ResponseCache
	svc      *rollup.Service
}

func newApp(persist bool) (*app, error) {
	rewards, err := config.LoadRewards(cfg.RewardsFile)
	if err != nil {
		return nil, err
	}

	a := &app{
		provider: eventlog.NewLogProvider(eventlog.NewEventStore(), cfg.FeedDir, cfg.CacheDir),
		cache:    mcp.NewResponseCache(),
	}
	opts := []rollup.Option{
		rollup.WithWorkers(cfg.Workers),
		rollup.WithInvalidator(a.cache),
	}
	if persist {
		if a.store, err = store.Open(cfg.DBPath); err != nil {
			return nil, err
		}
		opts = append(opts, rollup.WithPublisher(a.store))
	}
	a.svc = rollup.NewService(a.provider, rewards, opts...)
	return a, nil
}

// restore installs the last persisted generation and failure of every scope.
func (a *app) restore(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	gens, err := a.store.Latest(ctx)
	if err != nil {
		return err
	}
	for _, g := range gens {
		a.svc.Restore(g)
	}

	failures, err := a.store.Failures(ctx)
	if err != nil {
		return err
	}
	for _, f := range failures {
		a.svc.RestoreFailure(f.ScopeKey, f.At, f.Error)
	}
	log.Info().Int("scopes", len(gens)).Int("failed", len(failures)).Msg("Restored published rollups")
	return nil
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close rollup store")
		}
	}
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.AddCommand(serveCmd, recomputeCmd, reportCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve rollups as MCP tools over stdio",
	RunE:  func(cmd *cobra.Command, args []string) error { return rootCmd.RunE(cmd, args) },
}
