package rollup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"trainer-perf/internal/attribution"
	"trainer-perf/internal/config"
	"trainer-perf/internal/eventlog"
	"trainer-perf/internal/roster"
	"trainer-perf/internal/stats"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	// ErrRecomputeInProgress is returned when a recomputation of the same
	// scope is already running.
	ErrRecomputeInProgress = errors.New("recomputation already in progress for scope")
	// ErrNoInput aborts a recomputation that received no transitions at all.
	ErrNoInput = errors.New("no transition input")
	// ErrUnknownScope is returned by reads for scopes never published.
	ErrUnknownScope = errors.New("no rollup published for scope")
)

// Source supplies the input feeds of one recomputation.
type Source interface {
	Load(ctx context.Context, scope eventlog.Scope) (*eventlog.Feeds, error)
}

// Publisher durably stores a generation. Publish must be all-or-nothing.
type Publisher interface {
	Publish(ctx context.Context, g *Generation) error
}

// FailureRecorder is implemented by publishers that keep failure state across
// restarts, so a restored generation is still reported as stale.
type FailureRecorder interface {
	RecordFailure(ctx context.Context, scopeKey string, at time.Time, msg string) error
}

// Invalidator is notified after a generation replaced the previous one.
type Invalidator interface {
	Invalidate(scopeKey string)
}

// Generation is one complete, immutable computation result for a scope.
type Generation struct {
	ID            string            `json:"id"`
	ScopeKey      string            `json:"scope_key"`
	Scope         eventlog.Scope    `json:"scope"`
	ComputedAt    time.Time         `json:"computed_at"`
	RewardVersion int               `json:"reward_version"`
	Records       []Record          `json:"records"`
	Quality       *eventlog.Quality `json:"quality"`

	// Result keeps the attribution detail for audits. It is not persisted.
	Result *attribution.Result `json:"-"`
}

// View is what readers see for a scope: the last good generation plus its
// staleness when a later recomputation failed.
type View struct {
	Generation *Generation `json:"generation"`
	Stale      bool        `json:"stale"`
	StaleSince *time.Time  `json:"stale_since,omitempty"`
	FailedAt   *time.Time  `json:"failed_at,omitempty"`
	LastError  string      `json:"last_error,omitempty"`
}

type failure struct {
	at  time.Time
	err string
}

// Service runs recomputations and serves published generations.
type Service struct {
	source      Source
	rewards     *config.Rewards
	publisher   Publisher
	invalidator Invalidator
	workers     int
	granularity []stats.Granularity
	now         func() time.Time

	mu      sync.Mutex
	running map[string]bool

	published sync.Map // scope key -> *Generation
	failures  sync.Map // scope key -> failure
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher persists every generation before it becomes visible.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithInvalidator registers the downstream cache to clear after a swap.
func WithInvalidator(inv Invalidator) Option {
	return func(s *Service) { s.invalidator = inv }
}

// WithWorkers limits per-worker parallelism.
func WithWorkers(n int) Option {
	return func(s *Service) { s.workers = n }
}

// WithGranularities restricts the published period granularities.
func WithGranularities(g ...stats.Granularity) Option {
	return func(s *Service) { s.granularity = g }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a service reading from source and pricing with rewards.
func NewService(source Source, rewards *config.Rewards, opts ...Option) *Service {
	s := &Service{
		source:      source,
		rewards:     rewards,
		granularity: stats.Granularities,
		now:         time.Now,
		running:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScopeKey is the canonical identity of a scope.
func ScopeKey(scope eventlog.Scope) string {
	projects := append([]string(nil), scope.Projects...)
	sort.Strings(projects)
	batches := append([]string(nil), scope.ExcludedBatches...)
	sort.Strings(batches)

	format := func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("projects=%s;start=%s;end=%s;exclude=%s",
		strings.Join(projects, ","), format(scope.Start), format(scope.End), strings.Join(batches, ","))
}

func (s *Service) acquire(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[key] {
		return false
	}
	s.running[key] = true
	return true
}

func (s *Service) release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, key)
}

// Recompute runs the full pipeline for a scope and publishes the result.
// On any failure the previously published generation stays in place and the
// failure is recorded so readers see the figures as stale.
func (s *Service) Recompute(ctx context.Context, scope eventlog.Scope) (*Generation, error) {
	key := ScopeKey(scope)
	if !s.acquire(key) {
		return nil, fmt.Errorf("%w: %s", ErrRecomputeInProgress, key)
	}
	defer s.release(key)

	started := s.now()
	log.Info().Str("scope", key).Msg("Recomputation started")

	g, err := s.compute(ctx, key, scope)
	if err != nil {
		return nil, s.fail(ctx, key, err)
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, g); err != nil {
			return nil, s.fail(ctx, key, fmt.Errorf("publish: %w", err))
		}
	}

	// Swap, then invalidate. Never the other way round.
	s.published.Store(key, g)
	s.failures.Delete(key)
	if s.invalidator != nil {
		s.invalidator.Invalidate(key)
	}

	log.Info().
		Str("scope", key).
		Str("generation", g.ID).
		Int("records", len(g.Records)).
		Int("warnings", g.Quality.Total()).
		Dur("elapsed", s.now().Sub(started)).
		Msg("Recomputation published")
	return g, nil
}

func (s *Service) compute(ctx context.Context, key string, scope eventlog.Scope) (*Generation, error) {
	feeds, err := s.source.Load(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("load feeds: %w", err)
	}
	if feeds == nil || len(feeds.Transitions) == 0 {
		return nil, ErrNoInput
	}

	q := eventlog.NewQuality()
	dir := roster.NewDirectory(feeds.Workers)
	if dir.Empty() {
		log.Warn().Str("scope", key).Msg("Worker directory is empty, every actor is credited")
	} else {
		log.Debug().Str("scope", key).Int("workers", dir.Len()).Msg("Worker directory loaded")
	}
	timelines := eventlog.Normalize(feeds.Transitions, scope, q)

	result := attribution.Resolve(attribution.Input{
		Timelines:   timelines,
		Reviews:     feeds.Reviews,
		Deliveries:  feeds.Deliveries,
		Tasks:       feeds.Tasks,
		LoggedHours: feeds.LoggedHours,
		Scope:       scope,
		Directory:   dir,
	}, q)

	s.checkRewards(result, q)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	records, err := Build(ctx, result, BuildOptions{
		Rewards:       s.rewards,
		Teams:         dir.Teams(),
		Granularities: s.granularity,
		Start:         scope.Start,
		End:           scope.End,
		Workers:       s.workers,
	})
	if err != nil {
		return nil, err
	}
	if err := Reconcile(records); err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}

	return &Generation{
		ID:            uuid.NewString(),
		ScopeKey:      key,
		Scope:         scope,
		ComputedAt:    s.now().UTC(),
		RewardVersion: s.rewards.Version(),
		Records:       records,
		Quality:       q,
		Result:        result,
	}, nil
}

// checkRewards reports projects priced with the global default.
func (s *Service) checkRewards(result *attribution.Result, q *eventlog.Quality) {
	seen := make(map[string]bool)
	for _, f := range result.Facts {
		if seen[f.ProjectID] {
			continue
		}
		seen[f.ProjectID] = true
		if _, ok := s.rewards.For(f.ProjectID); !ok {
			q.Warn(eventlog.MissingReward, f.ProjectID, "no reward configuration for project, using global default")
		}
	}
}

func (s *Service) fail(ctx context.Context, key string, err error) error {
	at := s.now().UTC()
	s.failures.Store(key, failure{at: at, err: err.Error()})
	log.Error().Err(err).Str("scope", key).Msg("Recomputation failed, previous rollup retained")

	if fr, ok := s.publisher.(FailureRecorder); ok {
		if rerr := fr.RecordFailure(context.WithoutCancel(ctx), key, at, err.Error()); rerr != nil {
			log.Warn().Err(rerr).Str("scope", key).Msg("Failed to persist recomputation failure")
		}
	}
	return fmt.Errorf("recompute %s: %w", key, err)
}

// Restore installs a generation loaded from durable storage, e.g. at start-up.
// It does not touch failure state.
func (s *Service) Restore(g *Generation) {
	if g == nil {
		return
	}
	s.published.Store(g.ScopeKey, g)
}

// RestoreFailure reinstalls a persisted recomputation failure of a scope.
func (s *Service) RestoreFailure(key string, at time.Time, msg string) {
	s.failures.Store(key, failure{at: at.UTC(), err: msg})
}

// Snapshot returns the published generation of a scope with its staleness.
func (s *Service) Snapshot(scope eventlog.Scope) (View, error) {
	return s.SnapshotByKey(ScopeKey(scope))
}

// SnapshotByKey is Snapshot addressed by scope key.
func (s *Service) SnapshotByKey(key string) (View, error) {
	var v View
	if g, ok := s.published.Load(key); ok {
		v.Generation = g.(*Generation)
	}
	if f, ok := s.failures.Load(key); ok {
		fl := f.(failure)
		v.FailedAt = &fl.at
		v.LastError = fl.err
		if v.Generation != nil {
			v.Stale = true
			since := v.Generation.ComputedAt
			v.StaleSince = &since
		}
	}
	if v.Generation == nil {
		if v.LastError != "" {
			return v, fmt.Errorf("%w: %s (last attempt failed: %s)", ErrUnknownScope, key, v.LastError)
		}
		return v, fmt.Errorf("%w: %s", ErrUnknownScope, key)
	}
	return v, nil
}

// ScopeKeys lists the scopes with a published generation, sorted.
func (s *Service) ScopeKeys() []string {
	var keys []string
	s.published.Range(func(k, _ any) bool {
		keys = append(keys, k.(string))
		return true
	})
	sort.Strings(keys)
	return keys
}

// Explain returns the attribution trail of one task inside a published scope.
// Generations restored from storage carry no attribution detail until the
// scope is recomputed.
func (s *Service) Explain(scope eventlog.Scope, taskID string) (attribution.TaskTrail, error) {
	v, err := s.Snapshot(scope)
	if err != nil {
		return attribution.TaskTrail{}, err
	}
	if v.Generation.Result == nil {
		return attribution.TaskTrail{}, fmt.Errorf("generation %s has no attribution detail, recompute the scope first", v.Generation.ID)
	}
	return v.Generation.Result.Trail(taskID), nil
}

// Query selects records from a generation. Empty fields match everything.
type Query struct {
	Level       Level
	EntityID    string
	ProjectID   string
	TeamID      string
	Granularity stats.Granularity
}

// Filter returns the records of g matching q, in publication order.
func (g *Generation) Filter(q Query) []Record {
	var out []Record
	for _, r := range g.Records {
		if q.Level != "" && r.Level != q.Level {
			continue
		}
		if q.EntityID != "" && r.EntityID != q.EntityID {
			continue
		}
		if q.ProjectID != "" && r.ProjectID != q.ProjectID {
			continue
		}
		if q.TeamID != "" && r.TeamID != q.TeamID {
			continue
		}
		if q.Granularity != "" && r.Period.Granularity != q.Granularity {
			continue
		}
		out = append(out, r)
	}
	return out
}

// ParseLevel accepts the level names used on the wire.
func ParseLevel(s string) (Level, error) {
	switch Level(s) {
	case "":
		return "", nil
	case LevelWorker, LevelTeam, LevelProject:
		return Level(s), nil
	}
	return "", fmt.Errorf("unknown level %q", s)
}
