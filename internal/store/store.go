// Package store persists published rollup generations in SQLite so a restart
// serves the last good figures before the first recomputation finishes.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"trainer-perf/internal/eventlog"
	"trainer-perf/internal/rollup"
	"trainer-perf/internal/stats"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a scope has no published generation.
var ErrNotFound = errors.New("generation not found")

// Store is a SQLite-backed rollup.Publisher.
type Store struct {
	db *sql.DB
}

// Open opens (and migrates) the database at path. The parent directory is
// created when missing.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY on publish.
	db.SetMaxOpenConns(1)

	version, err := migrate(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	log.Debug().Str("path", path).Int("schema", version).Msg("Rollup store opened")
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Publish writes the generation and points its scope at it in one
// transaction. Older generations of the scope are removed.
func (s *Store) Publish(ctx context.Context, g *rollup.Generation) error {
	scopeJSON, err := json.Marshal(g.Scope)
	if err != nil {
		return fmt.Errorf("encode scope: %w", err)
	}
	qualityJSON, err := json.Marshal(g.Quality)
	if err != nil {
		return fmt.Errorf("encode quality: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO generations(id, scope_key, scope_json, computed_at, reward_version, quality_json) VALUES (?, ?, ?, ?, ?, ?)`,
		g.ID, g.ScopeKey, string(scopeJSON), formatTime(g.ComputedAt), g.RewardVersion, string(qualityJSON),
	); err != nil {
		return fmt.Errorf("insert generation: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO rollup_records(generation_id, seq, level, entity_id, project_id, team_id, granularity, period_start, period_end, counters_json, metrics_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, r := range g.Records {
		counters, err := json.Marshal(r.Counters)
		if err != nil {
			return fmt.Errorf("encode counters: %w", err)
		}
		metrics, err := json.Marshal(r.Metrics)
		if err != nil {
			return fmt.Errorf("encode metrics: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			g.ID, i, string(r.Level), r.EntityID, r.ProjectID, r.TeamID, string(r.Period.Granularity),
			formatTime(r.Period.Start), formatTime(r.Period.End), string(counters), string(metrics),
		); err != nil {
			return fmt.Errorf("insert record %d: %w", i, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO published(scope_key, generation_id, published_at) VALUES (?, ?, ?)
		 ON CONFLICT(scope_key) DO UPDATE SET generation_id=excluded.generation_id, published_at=excluded.published_at`,
		g.ScopeKey, g.ID, formatTime(time.Now()),
	); err != nil {
		return fmt.Errorf("publish pointer: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM generations WHERE scope_key=? AND id<>?`, g.ScopeKey, g.ID,
	); err != nil {
		return fmt.Errorf("prune generations: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM failures WHERE scope_key=?`, g.ScopeKey); err != nil {
		return fmt.Errorf("clear failure: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit generation: %w", err)
	}
	log.Info().Str("scope", g.ScopeKey).Str("generation", g.ID).Int("records", len(g.Records)).Msg("Generation persisted")
	return nil
}

// Failure is the last failed recomputation of a scope that has not been
// followed by a successful one.
type Failure struct {
	ScopeKey string
	At       time.Time
	Error    string
}

// RecordFailure remembers that the latest recomputation of a scope failed.
// The next successful Publish of the scope clears it.
func (s *Store) RecordFailure(ctx context.Context, scopeKey string, at time.Time, msg string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO failures(scope_key, failed_at, last_error) VALUES (?, ?, ?)
		 ON CONFLICT(scope_key) DO UPDATE SET failed_at=excluded.failed_at, last_error=excluded.last_error`,
		scopeKey, formatTime(at), msg,
	)
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

// Failures returns every outstanding failure, ordered by scope key.
func (s *Store) Failures(ctx context.Context) ([]Failure, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT scope_key, failed_at, last_error FROM failures ORDER BY scope_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		var (
			f  Failure
			at string
		)
		if err := rows.Scan(&f.ScopeKey, &at, &f.Error); err != nil {
			return nil, err
		}
		if f.At, err = parseTime(at); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Load returns the published generation of a scope.
func (s *Store) Load(ctx context.Context, scopeKey string) (*rollup.Generation, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT generation_id FROM published WHERE scope_key=?`, scopeKey).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, scopeKey)
	}
	if err != nil {
		return nil, err
	}
	return s.generation(ctx, id)
}

// Latest returns every published generation, ordered by scope key.
func (s *Store) Latest(ctx context.Context) ([]*rollup.Generation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT generation_id FROM published ORDER BY scope_key`)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*rollup.Generation, 0, len(ids))
	for _, id := range ids {
		g, err := s.generation(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

func (s *Store) generation(ctx context.Context, id string) (*rollup.Generation, error) {
	var (
		g                  rollup.Generation
		scopeJSON, quality string
		computedAt         string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, scope_key, scope_json, computed_at, reward_version, quality_json FROM generations WHERE id=?`, id,
	).Scan(&g.ID, &g.ScopeKey, &scopeJSON, &computedAt, &g.RewardVersion, &quality)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if g.ComputedAt, err = parseTime(computedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(scopeJSON), &g.Scope); err != nil {
		return nil, fmt.Errorf("decode scope: %w", err)
	}
	g.Quality = eventlog.NewQuality()
	if err := json.Unmarshal([]byte(quality), g.Quality); err != nil {
		return nil, fmt.Errorf("decode quality: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT level, entity_id, project_id, team_id, granularity, period_start, period_end, counters_json, metrics_json
		 FROM rollup_records WHERE generation_id=? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r                  rollup.Record
			level, granularity string
			start, end         string
			counters, metrics  string
		)
		if err := rows.Scan(&level, &r.EntityID, &r.ProjectID, &r.TeamID, &granularity, &start, &end, &counters, &metrics); err != nil {
			return nil, err
		}
		r.Level = rollup.Level(level)
		r.Period.Granularity = stats.Granularity(granularity)
		if r.Period.Start, err = parseTime(start); err != nil {
			return nil, err
		}
		if r.Period.End, err = parseTime(end); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(counters), &r.Counters); err != nil {
			return nil, fmt.Errorf("decode counters: %w", err)
		}
		if err := json.Unmarshal([]byte(metrics), &r.Metrics); err != nil {
			return nil, fmt.Errorf("decode metrics: %w", err)
		}
		g.Records = append(g.Records, r)
	}
	return &g, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored time %q: %w", s, err)
	}
	return t, nil
}
