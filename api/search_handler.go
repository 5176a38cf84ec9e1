package api

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/openmem/pkg/memory"
	"github.com/papercomputeco/openmem/pkg/search"
)

// handleSearch handles GET /search requests.
// Query parameters:
//   - query (required): the search query text
//   - strategy (optional, default hybrid): filter-only, semantic or hybrid
//   - concept, file, concepts, files, type, importance_min/max,
//     created_after/before, limit, offset: filters per the search contract
func (s *Server) handleSearch(c *fiber.Ctx) error {
	query := c.Query("query")
	if query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error: "query parameter is required",
		})
	}

	req := search.Request{
		Strategy: search.Strategy(c.Query("strategy")),
		Concept:  c.Query("concept"),
		File:     c.Query("file"),
		SearchQuery: memory.SearchQuery{
			Query:         query,
			ProjectPath:   s.projectPath(c),
			SessionID:     c.Query("session_id"),
			Type:          c.Query("type"),
			ImportanceMin: c.QueryInt("importance_min", 0),
			ImportanceMax: c.QueryInt("importance_max", 0),
			Concepts:      splitComma(c.Query("concepts")),
			Files:         splitComma(c.Query("files")),
			Limit:         c.QueryInt("limit", 20),
			Offset:        c.QueryInt("offset", 0),
		},
	}

	if after := c.Query("created_after"); after != "" {
		t, err := time.Parse(time.RFC3339, after)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "created_after must be RFC3339"})
		}
		req.CreatedAfter = &t
	}
	if before := c.Query("created_before"); before != "" {
		t, err := time.Parse(time.RFC3339, before)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "created_before must be RFC3339"})
		}
		req.CreatedBefore = &t
	}

	results, err := s.orchestrator.Search(c.Context(), req)
	if err != nil {
		return s.fail(c, err)
	}

	return c.JSON(fiber.Map{
		"query":   query,
		"results": results,
		"count":   len(results),
	})
}
