package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/openmem/pkg/memory"
)

// GetOrCreateSession fetches the session by id, creating it as active on
// first capture.
func (s *Store) GetOrCreateSession(id, projectPath string) (*memory.Session, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if projectPath == "" {
		return nil, fmt.Errorf("%w: project path is required", memory.ErrValidation)
	}

	_, err := s.db.Exec(`
		INSERT INTO sessions (id, project_path, started_at, status)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		id, projectPath, formatTime(time.Now()), string(memory.SessionActive),
	)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	return s.GetSession(id)
}

// GetSession returns a session by id.
func (s *Store) GetSession(id string) (*memory.Session, error) {
	row := s.db.QueryRow(`
		SELECT id, project_path, started_at, ended_at, status, observation_count, summary_id
		FROM sessions WHERE id = ?`, id)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: session %s", memory.ErrNotFound, id)
	}
	return sess, err
}

// ListSessions returns the project's sessions, newest first.
func (s *Store) ListSessions(projectPath string, limit int) ([]*memory.Session, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(`
		SELECT id, project_path, started_at, ended_at, status, observation_count, summary_id
		FROM sessions WHERE project_path = ?
		ORDER BY started_at DESC LIMIT ?`, projectPath, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []*memory.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// LatestSession returns the most recently started session for a project,
// or ErrNotFound when none exists.
func (s *Store) LatestSession(projectPath string) (*memory.Session, error) {
	row := s.db.QueryRow(`
		SELECT id, project_path, started_at, ended_at, status, observation_count, summary_id
		FROM sessions WHERE project_path = ?
		ORDER BY started_at DESC LIMIT 1`, projectPath)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no sessions for %s", memory.ErrNotFound, projectPath)
	}
	return sess, err
}

// MarkSessionIdle records the host's idle signal.
func (s *Store) MarkSessionIdle(id string) error {
	return s.setSessionStatus(id, memory.SessionIdle, false)
}

// CompleteSession marks the session completed and stamps its end time.
func (s *Store) CompleteSession(id string) error {
	return s.setSessionStatus(id, memory.SessionCompleted, true)
}

func (s *Store) setSessionStatus(id string, status memory.SessionStatus, ended bool) error {
	query := `UPDATE sessions SET status = ? WHERE id = ?`
	args := []any{string(status), id}
	if ended {
		query = `UPDATE sessions SET status = ?, ended_at = ? WHERE id = ?`
		args = []any{string(status), formatTime(time.Now()), id}
	}

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("updating session status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: session %s", memory.ErrNotFound, id)
	}
	return nil
}

func scanSession(row scannable) (*memory.Session, error) {
	var sess memory.Session
	var startedAt string
	var endedAt, summaryID sql.NullString
	var status string

	err := row.Scan(&sess.ID, &sess.ProjectPath, &startedAt, &endedAt, &status,
		&sess.ObservationCount, &summaryID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning session: %w", err)
	}

	sess.StartedAt = parseTime(startedAt)
	sess.Status = memory.SessionStatus(status)
	sess.SummaryID = summaryID.String
	if endedAt.Valid {
		t := parseTime(endedAt.String)
		sess.EndedAt = &t
	}

	return &sess, nil
}
