package eventlog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// Feed file names inside the data directory. Connectors drop their exports
// here; the transition feed is folded into the per-project cache on each load.
const (
	TransitionsFeed = "transitions.jsonl"
	ReviewsFeed     = "reviews.jsonl"
	DeliveriesFeed  = "deliveries.jsonl"
	TasksFeed       = "tasks.jsonl"
	WorkersFeed     = "workers.jsonl"
	LoggedHoursFeed = "logged_hours.jsonl"
)

// Feeds is every input stream the engine consumes, as read for one run.
type Feeds struct {
	Transitions []TransitionRecord `json:"transitions"`
	Reviews     []ReviewRecord     `json:"reviews"`
	Deliveries  []DeliveryRecord   `json:"deliveries"`
	Tasks       []Task             `json:"tasks"`
	Workers     []WorkerRecord     `json:"workers"`
	LoggedHours []LoggedHours      `json:"loggedHours"`
}

// LogProvider orchestrates feed ingestion and retrieval.
type LogProvider struct {
	store    *EventStore
	feedDir  string
	cacheDir string
}

func NewLogProvider(store *EventStore, feedDir, cacheDir string) *LogProvider {
	return &LogProvider{
		store:    store,
		feedDir:  feedDir,
		cacheDir: cacheDir,
	}
}

// Hydrate loads the cached transition log and appends whatever the transition
// feed holds that the cache has not seen yet.
func (p *LogProvider) Hydrate() error {
	if p.cacheDir != "" {
		matches, _ := filepath.Glob(filepath.Join(p.cacheDir, "transitions-*.jsonl"))
		for _, m := range matches {
			projectID := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), "transitions-"), ".jsonl")
			if err := p.store.Load(p.cacheDir, projectID); err != nil {
				log.Warn().Err(err).Str("project", projectID).Msg("Hydrate: failed to load cache")
			}
		}
	}

	records, err := ReadJSONL[TransitionRecord](filepath.Join(p.feedDir, TransitionsFeed))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("hydration failed: %w", err)
	}

	byProject := make(map[string][]TransitionRecord)
	for _, r := range records {
		byProject[r.ProjectID] = append(byProject[r.ProjectID], r)
	}

	total := 0
	for projectID, batch := range byProject {
		added := p.store.Append(projectID, batch)
		total += added
		log.Debug().Str("project", projectID).Int("new", added).Int("stored", p.store.Count(projectID)).Msg("Transition feed folded into log")
		if added > 0 && p.cacheDir != "" {
			if err := p.store.Save(p.cacheDir, projectID); err != nil {
				log.Warn().Err(err).Str("project", projectID).Msg("Hydrate: failed to save cache")
			}
		}
	}

	log.Info().Int("feed", len(records)).Int("new", total).Msg("Hydration complete")
	return nil
}

// Load hydrates and returns the feeds for a scope. Only the transition stream
// is pre-filtered by project here; the other streams are scoped downstream.
func (p *LogProvider) Load(ctx context.Context, scope Scope) (*Feeds, error) {
	if err := p.Hydrate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	feeds := &Feeds{Transitions: p.store.Records(scope.Projects)}

	var err error
	if feeds.Reviews, err = readOptional[ReviewRecord](p.feedDir, ReviewsFeed); err != nil {
		return nil, err
	}
	if feeds.Deliveries, err = readOptional[DeliveryRecord](p.feedDir, DeliveriesFeed); err != nil {
		return nil, err
	}
	if feeds.Tasks, err = readOptional[Task](p.feedDir, TasksFeed); err != nil {
		return nil, err
	}
	if feeds.Workers, err = readOptional[WorkerRecord](p.feedDir, WorkersFeed); err != nil {
		return nil, err
	}
	if feeds.LoggedHours, err = readOptional[LoggedHours](p.feedDir, LoggedHoursFeed); err != nil {
		return nil, err
	}

	log.Debug().
		Int("transitions", len(feeds.Transitions)).
		Int("reviews", len(feeds.Reviews)).
		Int("deliveries", len(feeds.Deliveries)).
		Int("workers", len(feeds.Workers)).
		Msg("Feeds loaded")
	return feeds, nil
}

// TaskHistory returns the raw transition history of a task, for audits.
func (p *LogProvider) TaskHistory(projectID, taskID string) []TransitionRecord {
	return p.store.RecordsForTask(projectID, taskID)
}

func readOptional[T any](dir, name string) ([]T, error) {
	values, err := ReadJSONL[T](filepath.Join(dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return values, nil
}
