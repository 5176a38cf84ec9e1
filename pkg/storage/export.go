package storage

import (
	"fmt"

	"github.com/papercomputeco/openmem/pkg/memory"
)

// Dump is the JSON export format: the active observations of one project
// with their lineage pointers intact.
type Dump struct {
	Version      int                   `json:"version"`
	ProjectPath  string                `json:"project_path"`
	Sessions     []*memory.Session     `json:"sessions"`
	Observations []*memory.Observation `json:"observations"`
}

// Import modes.
const (
	ImportMerge     = "merge"
	ImportOverwrite = "overwrite"
)

// Export dumps a project's active observations, optionally filtered by
// type, newest first.
func (s *Store) Export(projectPath string, types []string, limit int) (*Dump, error) {
	if limit <= 0 {
		limit = 10000
	}

	sessions, err := s.ListSessions(projectPath, limit)
	if err != nil {
		return nil, err
	}

	var observations []*memory.Observation
	if len(types) == 0 {
		observations, err = s.ListByProject(projectPath, memory.ListOptions{Limit: limit})
		if err != nil {
			return nil, err
		}
	} else {
		for _, t := range types {
			byType, err := s.ListByProject(projectPath, memory.ListOptions{Limit: limit, Type: t})
			if err != nil {
				return nil, err
			}
			observations = append(observations, byType...)
		}
	}

	return &Dump{
		Version:      CurrentSchemaVersion,
		ProjectPath:  projectPath,
		Sessions:     sessions,
		Observations: observations,
	}, nil
}

// Import loads a dump. In overwrite mode the project's existing rows are
// removed first; in merge mode rows whose ids already exist are skipped.
// Imported rows keep their original ids, timestamps, token costs and
// lineage pointers, so Export then Import(overwrite) round-trips exactly.
func (s *Store) Import(dump *Dump, mode string) (int, error) {
	if dump == nil {
		return 0, fmt.Errorf("%w: nil dump", memory.ErrValidation)
	}
	if mode != ImportMerge && mode != ImportOverwrite {
		return 0, fmt.Errorf("%w: unknown import mode %q", memory.ErrValidation, mode)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if mode == ImportOverwrite {
		if _, err := tx.Exec(`
			DELETE FROM observations WHERE session_id IN
				(SELECT id FROM sessions WHERE project_path = ?)`,
			dump.ProjectPath,
		); err != nil {
			return 0, fmt.Errorf("clearing observations: %w", err)
		}
		if _, err := tx.Exec(
			`DELETE FROM sessions WHERE project_path = ?`, dump.ProjectPath,
		); err != nil {
			return 0, fmt.Errorf("clearing sessions: %w", err)
		}
	}

	for _, sess := range dump.Sessions {
		var endedAt any
		if sess.EndedAt != nil {
			endedAt = formatTime(*sess.EndedAt)
		}
		if _, err := tx.Exec(`
			INSERT INTO sessions (id, project_path, started_at, ended_at, status, observation_count, summary_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
			sess.ID, sess.ProjectPath, formatTime(sess.StartedAt), endedAt,
			string(sess.Status), sess.ObservationCount, nullable(sess.SummaryID),
		); err != nil {
			return 0, fmt.Errorf("importing session %s: %w", sess.ID, err)
		}
	}

	imported := 0
	for _, o := range dump.Observations {
		var exists int
		err := tx.QueryRow(`SELECT COUNT(*) FROM observations WHERE id = ?`, o.ID).Scan(&exists)
		if err != nil {
			return 0, fmt.Errorf("checking observation %s: %w", o.ID, err)
		}
		if exists > 0 {
			continue
		}

		if err := insertObservation(tx, o); err != nil {
			return 0, err
		}
		imported++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing import: %w", err)
	}

	return imported, nil
}

// Stats summarizes a project's memory for the dashboard.
type Stats struct {
	ProjectPath       string         `json:"project_path"`
	SessionCount      int            `json:"session_count"`
	ObservationCount  int            `json:"observation_count"`
	ByType            map[string]int `json:"by_type"`
	ByState           map[string]int `json:"by_state"`
	TotalTokens       int            `json:"total_tokens"`
	DiscoveryTokens   int            `json:"discovery_tokens"`
	VectorIndexedRows int            `json:"vector_indexed_rows"`
}

// ProjectStats computes dashboard statistics for a project.
func (s *Store) ProjectStats(projectPath string) (*Stats, error) {
	stats := &Stats{
		ProjectPath: projectPath,
		ByType:      map[string]int{},
		ByState:     map[string]int{},
	}

	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM sessions WHERE project_path = ?`, projectPath,
	).Scan(&stats.SessionCount); err != nil {
		return nil, fmt.Errorf("counting sessions: %w", err)
	}

	rows, err := s.db.Query(`
		SELECT o.type,
			CASE
				WHEN o.deleted_at IS NOT NULL THEN 'deleted'
				WHEN o.superseded_by IS NOT NULL THEN 'superseded'
				ELSE 'current'
			END AS state,
			COUNT(*), SUM(o.token_count), SUM(o.discovery_tokens)
		FROM observations o
		JOIN sessions s ON s.id = o.session_id
		WHERE s.project_path = ?
		GROUP BY o.type, state`, projectPath)
	if err != nil {
		return nil, fmt.Errorf("querying observation stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var typ, state string
		var count, tokens, discovery int
		if err := rows.Scan(&typ, &state, &count, &tokens, &discovery); err != nil {
			return nil, fmt.Errorf("scanning stats row: %w", err)
		}
		stats.ByState[state] += count
		if state == memory.StateCurrent {
			stats.ByType[typ] += count
			stats.ObservationCount += count
			stats.TotalTokens += tokens
			stats.DiscoveryTokens += discovery
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stats rows: %w", err)
	}

	if s.vectorEnabled {
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM vec_observations`).Scan(&stats.VectorIndexedRows); err != nil {
			return nil, fmt.Errorf("counting vector rows: %w", err)
		}
	}

	return stats, nil
}
