package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/openmem/pkg/memory"
	"github.com/papercomputeco/openmem/pkg/storage"
)

// statusFor maps domain error kinds onto HTTP status codes. Retryable
// provider errors never reach this surface; they are consumed by the
// pipeline.
func statusFor(err error) int {
	switch {
	case errors.Is(err, memory.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, memory.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, memory.ErrConflict):
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

func (s *Server) fail(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status == fiber.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(status).JSON(ErrorResponse{Error: err.Error()})
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

func (s *Server) handleListObservations(c *fiber.Ctx) error {
	opts := memory.ListOptions{
		Limit:     c.QueryInt("limit", 50),
		Offset:    c.QueryInt("offset", 0),
		Type:      c.Query("type"),
		SessionID: c.Query("session_id"),
		State:     c.Query("state"),
	}

	observations, err := s.store.ListByProject(s.projectPath(c), opts)
	if err != nil {
		return s.fail(c, err)
	}

	return c.JSON(fiber.Map{
		"observations": observations,
		"count":        len(observations),
	})
}

func (s *Server) handleGetObservation(c *fiber.Ctx) error {
	id := c.Params("id")

	var obs *memory.Observation
	var err error
	if c.QueryBool("include_archived", false) {
		obs, err = s.store.GetObservationIncludingArchived(id)
	} else {
		obs, err = s.store.GetObservation(id)
	}
	if err != nil {
		return s.fail(c, err)
	}

	return c.JSON(obs)
}

// createObservationRequest is the POST /observations body.
type createObservationRequest struct {
	SessionID     string   `json:"session_id"`
	Type          string   `json:"type"`
	Title         string   `json:"title"`
	Subtitle      string   `json:"subtitle"`
	Narrative     string   `json:"narrative"`
	Facts         []string `json:"facts"`
	Concepts      []string `json:"concepts"`
	FilesRead     []string `json:"files_read"`
	FilesModified []string `json:"files_modified"`
	Importance    int      `json:"importance"`
}

func (s *Server) handleCreateObservation(c *fiber.Ctx) error {
	var req createObservationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sess, err := s.store.GetOrCreateSession("", s.projectPath(c))
		if err != nil {
			return s.fail(c, err)
		}
		sessionID = sess.ID
	}

	obs, err := s.store.CreateObservation(&memory.Observation{
		SessionID:     sessionID,
		Type:          memory.ObservationType(req.Type),
		Title:         req.Title,
		Subtitle:      req.Subtitle,
		Narrative:     req.Narrative,
		Facts:         req.Facts,
		Concepts:      req.Concepts,
		FilesRead:     req.FilesRead,
		FilesModified: req.FilesModified,
		Importance:    req.Importance,
	})
	if err != nil {
		return s.fail(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(obs)
}

// updateObservationRequest is the PATCH /observations/:id body. Pointer
// fields distinguish "absent" from "set to zero".
type updateObservationRequest struct {
	Type          *string   `json:"type"`
	Title         *string   `json:"title"`
	Subtitle      *string   `json:"subtitle"`
	Narrative     *string   `json:"narrative"`
	Facts         *[]string `json:"facts"`
	Concepts      *[]string `json:"concepts"`
	FilesRead     *[]string `json:"files_read"`
	FilesModified *[]string `json:"files_modified"`
	Importance    *int      `json:"importance"`
}

func (s *Server) handleUpdateObservation(c *fiber.Ctx) error {
	var req updateObservationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	patch := storage.ObservationPatch{
		Title:         req.Title,
		Subtitle:      req.Subtitle,
		Narrative:     req.Narrative,
		Facts:         req.Facts,
		Concepts:      req.Concepts,
		FilesRead:     req.FilesRead,
		FilesModified: req.FilesModified,
		Importance:    req.Importance,
	}
	if req.Type != nil {
		t := memory.ObservationType(*req.Type)
		patch.Type = &t
	}

	obs, err := s.store.UpdateObservation(c.Params("id"), patch)
	if err != nil {
		return s.fail(c, err)
	}

	return c.JSON(obs)
}

func (s *Server) handleDeleteObservation(c *fiber.Ctx) error {
	if err := s.store.DeleteObservation(c.Params("id")); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"deleted": true})
}

func (s *Server) handleGetLineage(c *fiber.Ctx) error {
	chain, err := s.store.GetLineage(c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{
		"lineage": chain,
		"count":   len(chain),
	})
}

func (s *Server) handleDiff(c *fiber.Ctx) error {
	from, err := s.store.GetObservationIncludingArchived(c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	to, err := s.store.GetObservationIncludingArchived(c.Params("other"))
	if err != nil {
		return s.fail(c, err)
	}

	return c.JSON(memory.Diff(from, to))
}

func (s *Server) handleTimeline(c *fiber.Ctx) error {
	tsStr := c.Query("ts")
	if tsStr == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "ts parameter is required"})
	}
	ts, err := time.Parse(time.RFC3339, tsStr)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "ts must be RFC3339"})
	}

	window, err := s.store.GetAroundTimestamp(ts,
		c.QueryInt("before", 5), c.QueryInt("after", 5), s.projectPath(c))
	if err != nil {
		return s.fail(c, err)
	}

	return c.JSON(fiber.Map{
		"observations": window,
		"count":        len(window),
	})
}

func (s *Server) handleListSessions(c *fiber.Ctx) error {
	sessions, err := s.store.ListSessions(s.projectPath(c), c.QueryInt("limit", 50))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (s *Server) handleGetSession(c *fiber.Ctx) error {
	id := c.Params("id")

	sess, err := s.store.GetSession(id)
	if err != nil {
		return s.fail(c, err)
	}

	observations, err := s.store.ListByProject(sess.ProjectPath, memory.ListOptions{
		SessionID: id,
		Limit:     c.QueryInt("limit", 200),
	})
	if err != nil {
		return s.fail(c, err)
	}

	resp := fiber.Map{
		"session":      sess,
		"observations": observations,
	}

	if summary, err := s.store.GetSummaryForSession(id); err == nil {
		resp["summary"] = summary
	}

	return c.JSON(resp)
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	stats, err := s.store.ProjectStats(s.projectPath(c))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(stats)
}

func (s *Server) handleMetrics(c *fiber.Ctx) error {
	return c.JSON(s.registry.Snapshot())
}

func (s *Server) handleExport(c *fiber.Ctx) error {
	var types []string
	if t := c.Query("types"); t != "" {
		types = splitComma(t)
	}

	dump, err := s.store.Export(s.projectPath(c), types, c.QueryInt("limit", 0))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(dump)
}

func (s *Server) handleImport(c *fiber.Ctx) error {
	var dump storage.Dump
	if err := c.BodyParser(&dump); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid dump body"})
	}

	mode := c.Query("mode", storage.ImportMerge)
	n, err := s.store.Import(&dump, mode)
	if err != nil {
		return s.fail(c, err)
	}

	return c.JSON(fiber.Map{"imported": n})
}

func (s *Server) handleQueueStatus(c *fiber.Ctx) error {
	status, err := s.store.QueueStatus()
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(status)
}

func (s *Server) handleQueueProcess(c *fiber.Ctx) error {
	s.runtime.ProcessNow(c.Context())
	status, err := s.store.QueueStatus()
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{
		"processed": true,
		"queue":     status,
	})
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if part := s[start:i]; part != "" {
				out = append(out, part)
			}
			start = i + 1
		}
	}
	return out
}
