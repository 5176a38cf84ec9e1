package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/openmem/pkg/memory"
)

// Enqueue persists a pending capture. Duplicate enqueues with the same
// (sessionId, callId) are idempotent: the second call is a no-op and
// returns false.
func (s *Store) Enqueue(sessionID, toolName, toolOutput, callID string) (bool, error) {
	if sessionID == "" || callID == "" {
		return false, fmt.Errorf("%w: session id and call id are required", memory.ErrValidation)
	}

	res, err := s.db.Exec(`
		INSERT INTO pending_messages (id, session_id, tool_name, tool_output, call_id, created_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, call_id) DO NOTHING`,
		uuid.NewString(), sessionID, toolName, toolOutput, callID,
		formatTime(time.Now()), string(memory.PendingPending),
	)
	if err != nil {
		return false, fmt.Errorf("enqueueing capture: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking enqueue result: %w", err)
	}
	return n > 0, nil
}

// Claim atomically marks up to batchSize oldest pending rows as processing
// and returns them, invisible to other claimants.
func (s *Store) Claim(batchSize int) ([]*memory.PendingMessage, error) {
	if batchSize <= 0 {
		batchSize = 10
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`
		SELECT id, session_id, tool_name, tool_output, call_id, created_at, status, retry_count, error
		FROM pending_messages
		WHERE status = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?`, string(memory.PendingPending), batchSize)
	if err != nil {
		return nil, fmt.Errorf("selecting pending rows: %w", err)
	}

	var batch []*memory.PendingMessage
	for rows.Next() {
		m, err := scanPending(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		batch = append(batch, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pending rows: %w", err)
	}

	now := formatTime(time.Now())
	for _, m := range batch {
		if _, err := tx.Exec(
			`UPDATE pending_messages SET status = ?, claimed_at = ? WHERE id = ?`,
			string(memory.PendingProcessing), now, m.ID,
		); err != nil {
			return nil, fmt.Errorf("claiming pending row %s: %w", m.ID, err)
		}
		m.Status = memory.PendingProcessing
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	return batch, nil
}

// CompletePending deletes a processed row.
func (s *Store) CompletePending(id string) error {
	res, err := s.db.Exec(`DELETE FROM pending_messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("completing pending row: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: pending message %s", memory.ErrNotFound, id)
	}
	return nil
}

// FailPending increments the retry count, returning the row to pending
// while retries remain, else marking it failed.
func (s *Store) FailPending(id string, failure string, maxRetries int) error {
	var retryCount int
	err := s.db.QueryRow(
		`SELECT retry_count FROM pending_messages WHERE id = ?`, id,
	).Scan(&retryCount)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: pending message %s", memory.ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("reading retry count: %w", err)
	}

	retryCount++
	status := memory.PendingPending
	if retryCount >= maxRetries {
		status = memory.PendingFailed
	}

	if _, err := s.db.Exec(
		`UPDATE pending_messages SET status = ?, retry_count = ?, error = ?, claimed_at = NULL WHERE id = ?`,
		string(status), retryCount, failure, id,
	); err != nil {
		return fmt.Errorf("failing pending row: %w", err)
	}
	return nil
}

// RecoverStale reverts processing rows older than the threshold back to
// pending. Called on startup so a crash mid-batch never strands captures.
func (s *Store) RecoverStale(threshold time.Duration) (int, error) {
	cutoff := formatTime(time.Now().Add(-threshold))

	res, err := s.db.Exec(`
		UPDATE pending_messages SET status = ?, claimed_at = NULL
		WHERE status = ? AND (claimed_at IS NULL OR claimed_at < ?)`,
		string(memory.PendingPending), string(memory.PendingProcessing), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("recovering stale rows: %w", err)
	}

	n, _ := res.RowsAffected()
	return int(n), nil
}

// QueueStatus reports pending-queue row counts by status.
func (s *Store) QueueStatus() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM pending_messages GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("querying queue status: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scanning queue status: %w", err)
		}
		out[status] = count
	}
	return out, rows.Err()
}

func scanPending(row scannable) (*memory.PendingMessage, error) {
	var m memory.PendingMessage
	var createdAt, status string
	var errText sql.NullString

	err := row.Scan(&m.ID, &m.SessionID, &m.ToolName, &m.ToolOutput, &m.CallID,
		&createdAt, &status, &m.RetryCount, &errText)
	if err != nil {
		return nil, fmt.Errorf("scanning pending message: %w", err)
	}

	m.CreatedAt = parseTime(createdAt)
	m.Status = memory.PendingStatus(status)
	m.Error = errText.String

	return &m, nil
}
