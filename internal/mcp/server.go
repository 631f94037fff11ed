// Package mcp exposes the rollup engine as Model Context Protocol tools.
package mcp

import (
	"context"

	"trainer-perf/internal/eventlog"
	"trainer-perf/internal/rollup"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"
)

// History returns the raw transition history of a task.
type History interface {
	TaskHistory(projectID, taskID string) []eventlog.TransitionRecord
}

// Server wires the aggregation service to MCP tool handlers.
type Server struct {
	svc          *rollup.Service
	history      History
	cache        *ResponseCache
	draftBatches []string
	version      string
}

// NewServer creates the tool server. cache must be the invalidator the
// service was built with, so reads never outlive a published generation.
func NewServer(svc *rollup.Service, history History, cache *ResponseCache, draftBatches []string, version string) *Server {
	if cache == nil {
		cache = NewResponseCache()
	}
	return &Server{
		svc:          svc,
		history:      history,
		cache:        cache,
		draftBatches: draftBatches,
		version:      version,
	}
}

// Build registers every tool on a new SDK server.
func (s *Server) Build() *sdk.Server {
	server := sdk.NewServer(&sdk.Implementation{Name: "trainer-perf", Version: s.version}, nil)

	sdk.AddTool(server, &sdk.Tool{
		Name:        "recompute_rollups",
		Description: "Recompute worker, team and project rollups for a scope (projects, date range, excluded batches) and publish them atomically.",
	}, s.handleRecompute)
	sdk.AddTool(server, &sdk.Tool{
		Name:        "get_rollups",
		Description: "Read the published rollup records of a scope, optionally filtered by level, entity, project, team and granularity. Reports staleness when the last recomputation failed.",
	}, s.handleGetRollups)
	sdk.AddTool(server, &sdk.Tool{
		Name:        "get_data_quality",
		Description: "List the data-quality warnings (orphan reviews, unknown actors, malformed timestamps, superseded reviews, missing reward configuration) of the published generation of a scope.",
	}, s.handleGetDataQuality)
	sdk.AddTool(server, &sdk.Tool{
		Name:        "explain_task",
		Description: "Explain how one task was credited: completion ordinals, which completion each review judged, and who received the approval and delivery milestones.",
	}, s.handleExplainTask)

	return server
}

// Run serves the tools over stdio until the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	log.Info().Msg("MCP server starting stdio transport")
	return s.Build().Run(ctx, &sdk.StdioTransport{})
}
