package mcp

import (
	"context"
	"fmt"
	"time"

	"trainer-perf/internal/attribution"
	"trainer-perf/internal/eventlog"
	"trainer-perf/internal/rollup"
	"trainer-perf/internal/stats"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"
)

const scopeHelp = "Scope fields: projects (empty = all), start and end (RFC3339 or YYYY-MM-DD, inclusive), exclude_batches."

type RecomputeInput struct {
	Projects       []string `json:"projects,omitempty" jsonschema:"project ids to include, empty means every project"`
	Start          string   `json:"start,omitempty" jsonschema:"inclusive start of the reporting range"`
	End            string   `json:"end,omitempty" jsonschema:"inclusive end of the reporting range"`
	ExcludeBatches []string `json:"exclude_batches,omitempty" jsonschema:"batch ids to ignore in addition to the configured draft batches"`
}

type RecomputeOutput struct {
	GenerationID  string                       `json:"generation_id"`
	ScopeKey      string                       `json:"scope_key"`
	ComputedAt    time.Time                    `json:"computed_at"`
	RewardVersion int                          `json:"reward_version"`
	Records       int                          `json:"records"`
	Warnings      map[eventlog.WarningKind]int `json:"warnings"`
}

type GetRollupsInput struct {
	Projects       []string `json:"projects,omitempty" jsonschema:"project ids of the scope, empty means every project"`
	Start          string   `json:"start,omitempty" jsonschema:"inclusive start of the scope"`
	End            string   `json:"end,omitempty" jsonschema:"inclusive end of the scope"`
	ExcludeBatches []string `json:"exclude_batches,omitempty" jsonschema:"excluded batch ids of the scope"`
	Level          string   `json:"level,omitempty" jsonschema:"worker, team or project"`
	EntityID       string   `json:"entity_id,omitempty" jsonschema:"worker email, team lead id or project id"`
	ProjectID      string   `json:"project_id,omitempty" jsonschema:"only records of this project"`
	TeamID         string   `json:"team_id,omitempty" jsonschema:"only records of this team"`
	Granularity    string   `json:"granularity,omitempty" jsonschema:"total, daily, weekly or monthly"`
}

type RollupsOutput struct {
	ScopeKey     string          `json:"scope_key"`
	GenerationID string          `json:"generation_id"`
	ComputedAt   time.Time       `json:"computed_at"`
	Stale        bool            `json:"stale"`
	StaleSince   *time.Time      `json:"stale_since,omitempty"`
	LastError    string          `json:"last_error,omitempty"`
	Records      []rollup.Record `json:"records"`
}

type ScopeInput struct {
	Projects       []string `json:"projects,omitempty" jsonschema:"project ids of the scope, empty means every project"`
	Start          string   `json:"start,omitempty" jsonschema:"inclusive start of the scope"`
	End            string   `json:"end,omitempty" jsonschema:"inclusive end of the scope"`
	ExcludeBatches []string `json:"exclude_batches,omitempty" jsonschema:"excluded batch ids of the scope"`
}

type QualityOutput struct {
	ScopeKey     string                       `json:"scope_key"`
	GenerationID string                       `json:"generation_id"`
	Stale        bool                         `json:"stale"`
	Counts       map[eventlog.WarningKind]int `json:"counts"`
	Warnings     []eventlog.Warning           `json:"warnings"`
}

type ExplainInput struct {
	Projects       []string `json:"projects,omitempty" jsonschema:"project ids of the scope, empty means every project"`
	Start          string   `json:"start,omitempty" jsonschema:"inclusive start of the scope"`
	End            string   `json:"end,omitempty" jsonschema:"inclusive end of the scope"`
	ExcludeBatches []string `json:"exclude_batches,omitempty" jsonschema:"excluded batch ids of the scope"`
	TaskID         string   `json:"task_id" jsonschema:"the task to explain"`
}

type ExplainOutput struct {
	Trail   attribution.TaskTrail       `json:"trail"`
	History []eventlog.TransitionRecord `json:"history"`
}

// scope resolves request bounds and merges the configured draft batches.
func (s *Server) scope(projects []string, start, end string, exclude []string) (eventlog.Scope, error) {
	excluded := append(append([]string(nil), s.draftBatches...), exclude...)
	scope, err := eventlog.ParseScope(projects, start, end, dedupe(excluded))
	if err != nil {
		return eventlog.Scope{}, fmt.Errorf("%w. %s", err, scopeHelp)
	}
	return scope, nil
}

func (s *Server) handleRecompute(ctx context.Context, _ *sdk.CallToolRequest, in RecomputeInput) (*sdk.CallToolResult, RecomputeOutput, error) {
	scope, err := s.scope(in.Projects, in.Start, in.End, in.ExcludeBatches)
	if err != nil {
		return nil, RecomputeOutput{}, err
	}

	g, err := s.svc.Recompute(ctx, scope)
	if err != nil {
		return nil, RecomputeOutput{}, err
	}

	return nil, RecomputeOutput{
		GenerationID:  g.ID,
		ScopeKey:      g.ScopeKey,
		ComputedAt:    g.ComputedAt,
		RewardVersion: g.RewardVersion,
		Records:       len(g.Records),
		Warnings:      g.Quality.Counts,
	}, nil
}

func (s *Server) handleGetRollups(_ context.Context, _ *sdk.CallToolRequest, in GetRollupsInput) (*sdk.CallToolResult, RollupsOutput, error) {
	scope, err := s.scope(in.Projects, in.Start, in.End, in.ExcludeBatches)
	if err != nil {
		return nil, RollupsOutput{}, err
	}
	level, err := rollup.ParseLevel(in.Level)
	if err != nil {
		return nil, RollupsOutput{}, err
	}
	var gran stats.Granularity
	if in.Granularity != "" {
		if gran, err = stats.ParseGranularity(in.Granularity); err != nil {
			return nil, RollupsOutput{}, err
		}
	}

	view, err := s.svc.Snapshot(scope)
	if err != nil {
		return nil, RollupsOutput{}, err
	}
	g := view.Generation
	q := rollup.Query{
		Level:       level,
		EntityID:    in.EntityID,
		ProjectID:   in.ProjectID,
		TeamID:      in.TeamID,
		Granularity: gran,
	}

	// Staleness is read fresh; only the filtered record set is cached.
	queryKey := fmt.Sprintf("%s|%+v", g.ID, q)
	var records []rollup.Record
	if cached, ok := s.cache.Get(g.ScopeKey, queryKey); ok {
		records = cached.([]rollup.Record)
	} else {
		records = g.Filter(q)
		s.cache.Put(g.ScopeKey, queryKey, records)
	}

	log.Debug().Str("scope", g.ScopeKey).Int("records", len(records)).Bool("stale", view.Stale).Msg("get_rollups served")
	return nil, RollupsOutput{
		ScopeKey:     g.ScopeKey,
		GenerationID: g.ID,
		ComputedAt:   g.ComputedAt,
		Stale:        view.Stale,
		StaleSince:   view.StaleSince,
		LastError:    view.LastError,
		Records:      records,
	}, nil
}

func (s *Server) handleGetDataQuality(_ context.Context, _ *sdk.CallToolRequest, in ScopeInput) (*sdk.CallToolResult, QualityOutput, error) {
	scope, err := s.scope(in.Projects, in.Start, in.End, in.ExcludeBatches)
	if err != nil {
		return nil, QualityOutput{}, err
	}
	view, err := s.svc.Snapshot(scope)
	if err != nil {
		return nil, QualityOutput{}, err
	}

	out := QualityOutput{
		ScopeKey:     view.Generation.ScopeKey,
		GenerationID: view.Generation.ID,
		Stale:        view.Stale,
		Counts:       map[eventlog.WarningKind]int{},
	}
	if q := view.Generation.Quality; q != nil && q.Counts != nil {
		out.Counts = q.Counts
		out.Warnings = q.Warnings
	}
	return nil, out, nil
}

func (s *Server) handleExplainTask(_ context.Context, _ *sdk.CallToolRequest, in ExplainInput) (*sdk.CallToolResult, ExplainOutput, error) {
	if in.TaskID == "" {
		return nil, ExplainOutput{}, fmt.Errorf("task_id is required")
	}
	scope, err := s.scope(in.Projects, in.Start, in.End, in.ExcludeBatches)
	if err != nil {
		return nil, ExplainOutput{}, err
	}

	trail, err := s.svc.Explain(scope, in.TaskID)
	if err != nil {
		return nil, ExplainOutput{}, err
	}
	if len(trail.Attributions) == 0 && len(trail.Reviews) == 0 && len(trail.Milestones) == 0 {
		return nil, ExplainOutput{}, fmt.Errorf("task %s has no completions in this scope", in.TaskID)
	}

	out := ExplainOutput{Trail: trail}
	if s.history != nil && len(trail.Attributions) > 0 {
		out.History = s.history.TaskHistory(trail.Attributions[0].Event.ProjectID, in.TaskID)
	}
	return nil, out, nil
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	var out []string
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
