package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/openmem/pkg/memory"
)

// CreateSummary writes an AI-generated session summary and links it from
// the session row.
func (s *Store) CreateSummary(sum *memory.SessionSummary) (*memory.SessionSummary, error) {
	if sum.SessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", memory.ErrValidation)
	}

	sum.ID = uuid.NewString()
	if sum.CreatedAt.IsZero() {
		sum.CreatedAt = time.Now()
	}
	if sum.TokenCount == 0 {
		sum.TokenCount = memory.EstimateTokens(sum.Summary)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO session_summaries (
			id, session_id, summary, key_decisions, files_modified, concepts,
			request, investigated, learned, completed, next_steps,
			token_count, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.ID, sum.SessionID, sum.Summary,
		marshalList(sum.KeyDecisions), marshalList(sum.FilesModified), marshalList(sum.Concepts),
		sum.Request, sum.Investigated, sum.Learned, sum.Completed, sum.NextSteps,
		sum.TokenCount, formatTime(sum.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting summary: %w", err)
	}

	if _, err := tx.Exec(
		`UPDATE sessions SET summary_id = ? WHERE id = ?`, sum.ID, sum.SessionID,
	); err != nil {
		return nil, fmt.Errorf("linking summary to session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	return sum, nil
}

// GetSummary returns a summary by id.
func (s *Store) GetSummary(id string) (*memory.SessionSummary, error) {
	row := s.db.QueryRow(summaryQuery+` WHERE id = ?`, id)
	sum, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: summary %s", memory.ErrNotFound, id)
	}
	return sum, err
}

// GetSummaryForSession returns the latest summary written for a session.
func (s *Store) GetSummaryForSession(sessionID string) (*memory.SessionSummary, error) {
	row := s.db.QueryRow(summaryQuery+` WHERE session_id = ? ORDER BY created_at DESC LIMIT 1`, sessionID)
	sum, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no summary for session %s", memory.ErrNotFound, sessionID)
	}
	return sum, err
}

// LatestSummary returns the most recent summary for a project.
func (s *Store) LatestSummary(projectPath string) (*memory.SessionSummary, error) {
	row := s.db.QueryRow(`
		SELECT ss.id, ss.session_id, ss.summary, ss.key_decisions, ss.files_modified,
			ss.concepts, ss.request, ss.investigated, ss.learned, ss.completed,
			ss.next_steps, ss.token_count, ss.created_at
		FROM session_summaries ss
		JOIN sessions s ON s.id = ss.session_id
		WHERE s.project_path = ?
		ORDER BY ss.created_at DESC LIMIT 1`, projectPath)

	sum, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no summaries for %s", memory.ErrNotFound, projectPath)
	}
	return sum, err
}

const summaryQuery = `
	SELECT id, session_id, summary, key_decisions, files_modified, concepts,
		request, investigated, learned, completed, next_steps, token_count, created_at
	FROM session_summaries`

func scanSummary(row scannable) (*memory.SessionSummary, error) {
	var sum memory.SessionSummary
	var keyDecisions, filesModified, concepts string
	var request, investigated, learned, completed, nextSteps sql.NullString
	var createdAt string

	err := row.Scan(&sum.ID, &sum.SessionID, &sum.Summary,
		&keyDecisions, &filesModified, &concepts,
		&request, &investigated, &learned, &completed, &nextSteps,
		&sum.TokenCount, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning summary: %w", err)
	}

	sum.KeyDecisions = unmarshalList(keyDecisions)
	sum.FilesModified = unmarshalList(filesModified)
	sum.Concepts = unmarshalList(concepts)
	sum.Request = request.String
	sum.Investigated = investigated.String
	sum.Learned = learned.String
	sum.Completed = completed.String
	sum.NextSteps = nextSteps.String
	sum.CreatedAt = parseTime(createdAt)

	return &sum, nil
}
