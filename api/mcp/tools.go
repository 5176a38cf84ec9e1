package mcp

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/papercomputeco/openmem/pkg/memory"
	"github.com/papercomputeco/openmem/pkg/search"
)

var (
	searchToolName    = "memory_search"
	searchDescription = "Search project memory for observations from prior sessions. Supports hybrid full-text plus semantic search with concept and file filters."

	getToolName    = "memory_get"
	getDescription = "Fetch one observation by id with its full narrative, facts and revision lineage."

	timelineToolName    = "memory_timeline"
	timelineDescription = "Fetch the observations surrounding a timestamp, for anchor-based timeline navigation."
)

// SearchInput represents the input arguments for the memory_search tool.
type SearchInput struct {
	Query    string   `json:"query" jsonschema:"the search query text"`
	Strategy string   `json:"strategy,omitempty" jsonschema:"filter-only, semantic or hybrid (default: hybrid)"`
	Concepts []string `json:"concepts,omitempty" jsonschema:"concept tags to filter by"`
	Files    []string `json:"files,omitempty" jsonschema:"file paths to filter by"`
	Type     string   `json:"type,omitempty" jsonschema:"observation type to filter by"`
	Limit    int      `json:"limit,omitempty" jsonschema:"number of results to return (default: 10)"`
}

// SearchResultItem is one hit returned to the agent.
type SearchResultItem struct {
	ID        string   `json:"id"`
	Rank      int      `json:"rank"`
	Type      string   `json:"type"`
	Title     string   `json:"title"`
	Snippet   string   `json:"snippet"`
	MatchedBy []string `json:"matched_by"`
}

// SearchOutput represents the output of the memory_search tool.
type SearchOutput struct {
	Query   string             `json:"query"`
	Results []SearchResultItem `json:"results"`
	Count   int                `json:"count"`
}

func (s *Server) handleSearch(ctx context.Context, req *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 10
	}

	s.config.Logger.Debug("MCP memory_search request",
		zap.String("query", input.Query),
		zap.Int("limit", limit),
	)

	results, err := s.config.Orchestrator.Search(ctx, search.Request{
		Strategy: search.Strategy(input.Strategy),
		SearchQuery: memory.SearchQuery{
			Query:       input.Query,
			ProjectPath: s.config.ProjectPath,
			Type:        input.Type,
			Concepts:    input.Concepts,
			Files:       input.Files,
			Limit:       limit,
		},
	})
	if err != nil {
		return &mcp.CallToolResult{IsError: true}, SearchOutput{}, err
	}

	out := SearchOutput{Query: input.Query, Count: len(results)}
	for _, r := range results {
		out.Results = append(out.Results, SearchResultItem{
			ID:        r.Observation.ID,
			Rank:      r.Rank,
			Type:      string(r.Observation.Type),
			Title:     r.Observation.Title,
			Snippet:   r.Snippet,
			MatchedBy: r.Explain.MatchedBy,
		})
	}

	return nil, out, nil
}

// GetInput represents the input arguments for the memory_get tool.
type GetInput struct {
	ID string `json:"id" jsonschema:"the observation id to fetch"`
}

// GetOutput represents the output of the memory_get tool.
type GetOutput struct {
	Observation *memory.Observation   `json:"observation"`
	Lineage     []*memory.Observation `json:"lineage,omitempty"`
}

func (s *Server) handleGet(_ context.Context, req *mcp.CallToolRequest, input GetInput) (*mcp.CallToolResult, GetOutput, error) {
	obs, err := s.config.Store.GetObservationIncludingArchived(input.ID)
	if err != nil {
		return &mcp.CallToolResult{IsError: true}, GetOutput{}, err
	}

	out := GetOutput{Observation: obs}
	if chain, err := s.config.Store.GetLineage(input.ID); err == nil && len(chain) > 1 {
		out.Lineage = chain
	}

	return nil, out, nil
}

// TimelineInput represents the input arguments for the memory_timeline tool.
type TimelineInput struct {
	Timestamp string `json:"timestamp" jsonschema:"RFC3339 anchor timestamp"`
	Before    int    `json:"before,omitempty" jsonschema:"observations before the anchor (default: 5)"`
	After     int    `json:"after,omitempty" jsonschema:"observations after the anchor (default: 5)"`
}

// TimelineOutput represents the output of the memory_timeline tool.
type TimelineOutput struct {
	Observations []*memory.Observation `json:"observations"`
	Count        int                   `json:"count"`
}

func (s *Server) handleTimeline(_ context.Context, req *mcp.CallToolRequest, input TimelineInput) (*mcp.CallToolResult, TimelineOutput, error) {
	ts, err := time.Parse(time.RFC3339, input.Timestamp)
	if err != nil {
		return &mcp.CallToolResult{IsError: true}, TimelineOutput{}, err
	}

	before := input.Before
	if before <= 0 {
		before = 5
	}
	after := input.After
	if after <= 0 {
		after = 5
	}

	window, err := s.config.Store.GetAroundTimestamp(ts, before, after, s.config.ProjectPath)
	if err != nil {
		return &mcp.CallToolResult{IsError: true}, TimelineOutput{}, err
	}

	return nil, TimelineOutput{Observations: window, Count: len(window)}, nil
}
