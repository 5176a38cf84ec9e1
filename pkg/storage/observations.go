package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/papercomputeco/openmem/pkg/memory"
)

const obsColumns = `id, session_id, scope, type, title, subtitle, narrative,
	facts, concepts, files_read, files_modified, raw_tool_output, tool_name,
	created_at, token_count, discovery_tokens, importance,
	revision_of, superseded_by, superseded_at, deleted_at, embedding`

// activeCond filters to rows visible to default retrieval.
const activeCond = "superseded_by IS NULL AND deleted_at IS NULL"

// CreateObservation assigns an id and creation time, writes the row (the
// FTS entry follows via trigger) and returns the full record. Token costs
// are computed here, once.
func (s *Store) CreateObservation(o *memory.Observation) (*memory.Observation, error) {
	if o.SessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", memory.ErrValidation)
	}
	if o.Title == "" {
		return nil, fmt.Errorf("%w: title is required", memory.ErrValidation)
	}
	if !memory.ValidType(o.Type) {
		return nil, fmt.Errorf("%w: unknown observation type %q", memory.ErrValidation, o.Type)
	}
	if o.Importance == 0 {
		o.Importance = memory.ImportanceDefault
	}
	if o.Importance < memory.ImportanceMin || o.Importance > memory.ImportanceMax {
		return nil, fmt.Errorf("%w: importance %d out of range", memory.ErrValidation, o.Importance)
	}

	o.ID = uuid.NewString()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	if o.Scope == "" {
		o.Scope = memory.ScopeProject
	}
	if o.TokenCount == 0 {
		o.TokenCount = memory.EstimateTokens(o.Narrative)
	}
	if o.DiscoveryTokens == 0 {
		o.DiscoveryTokens = memory.EstimateTokens(o.RawToolOutput)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertObservation(tx, o); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(
		`UPDATE sessions SET observation_count = observation_count + 1 WHERE id = ?`,
		o.SessionID,
	); err != nil {
		return nil, fmt.Errorf("bumping session observation count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	return o, nil
}

func insertObservation(tx *sql.Tx, o *memory.Observation) error {
	var supersededAt, deletedAt any
	if o.SupersededAt != nil {
		supersededAt = formatTime(*o.SupersededAt)
	}
	if o.DeletedAt != nil {
		deletedAt = formatTime(*o.DeletedAt)
	}

	_, err := tx.Exec(`
		INSERT INTO observations (
			id, session_id, scope, type, title, subtitle, narrative,
			facts, concepts, files_read, files_modified,
			raw_tool_output, tool_name, created_at,
			token_count, discovery_tokens, importance,
			revision_of, superseded_by, superseded_at, deleted_at, embedding
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.SessionID, string(o.Scope), string(o.Type), o.Title, o.Subtitle, o.Narrative,
		marshalList(o.Facts), marshalList(o.Concepts), marshalList(o.FilesRead), marshalList(o.FilesModified),
		o.RawToolOutput, o.ToolName, formatTime(o.CreatedAt),
		o.TokenCount, o.DiscoveryTokens, o.Importance,
		nullable(o.RevisionOf), nullable(o.SupersededBy), supersededAt, deletedAt,
		serializeEmbedding(o.Embedding),
	)
	if err != nil {
		return fmt.Errorf("inserting observation: %w", err)
	}
	return nil
}

// GetObservation returns an active observation by id.
func (s *Store) GetObservation(id string) (*memory.Observation, error) {
	return s.getObservation(id, true)
}

// GetObservationIncludingArchived returns a row by id regardless of lineage
// state, for audit access.
func (s *Store) GetObservationIncludingArchived(id string) (*memory.Observation, error) {
	return s.getObservation(id, false)
}

func (s *Store) getObservation(id string, activeOnly bool) (*memory.Observation, error) {
	query := fmt.Sprintf(`SELECT %s FROM observations WHERE id = ?`, obsColumns)
	if activeOnly {
		query += " AND " + activeCond
	}

	row := s.db.QueryRow(query, id)
	o, err := scanObservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: observation %s", memory.ErrNotFound, id)
	}
	return o, err
}

// ObservationPatch selects the fields an update revises.
type ObservationPatch struct {
	Type          *memory.ObservationType
	Title         *string
	Subtitle      *string
	Narrative     *string
	Facts         *[]string
	Concepts      *[]string
	FilesRead     *[]string
	FilesModified *[]string
	Importance    *int
}

// UpdateObservation never mutates: it creates a successor row carrying the
// patched fields, links it through RevisionOf, and marks the predecessor
// superseded, atomically. The predecessor's vector entry is removed since
// it is no longer active.
func (s *Store) UpdateObservation(id string, patch ObservationPatch) (*memory.Observation, error) {
	old, err := s.GetObservation(id)
	if err != nil {
		return nil, err
	}

	next := *old
	next.ID = uuid.NewString()
	next.CreatedAt = time.Now()
	next.RevisionOf = old.ID
	next.SupersededBy = ""
	next.SupersededAt = nil
	next.DeletedAt = nil
	next.Embedding = nil

	if patch.Type != nil {
		if !memory.ValidType(*patch.Type) {
			return nil, fmt.Errorf("%w: unknown observation type %q", memory.ErrValidation, *patch.Type)
		}
		next.Type = *patch.Type
	}
	if patch.Title != nil {
		next.Title = *patch.Title
	}
	if patch.Subtitle != nil {
		next.Subtitle = *patch.Subtitle
	}
	if patch.Narrative != nil {
		next.Narrative = *patch.Narrative
		next.TokenCount = memory.EstimateTokens(next.Narrative)
	}
	if patch.Facts != nil {
		next.Facts = *patch.Facts
	}
	if patch.Concepts != nil {
		next.Concepts = *patch.Concepts
	}
	if patch.FilesRead != nil {
		next.FilesRead = *patch.FilesRead
	}
	if patch.FilesModified != nil {
		next.FilesModified = *patch.FilesModified
	}
	if patch.Importance != nil {
		if *patch.Importance < memory.ImportanceMin || *patch.Importance > memory.ImportanceMax {
			return nil, fmt.Errorf("%w: importance %d out of range", memory.ErrValidation, *patch.Importance)
		}
		next.Importance = *patch.Importance
	}

	now := time.Now()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertObservation(tx, &next); err != nil {
		return nil, err
	}

	res, err := tx.Exec(
		`UPDATE observations SET superseded_by = ?, superseded_at = ? WHERE id = ? AND `+activeCond,
		next.ID, formatTime(now), old.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("superseding observation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: observation %s is not active", memory.ErrNotFound, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	s.vecDelete(old.ID)

	return &next, nil
}

// DeleteObservation tombstones the active row and removes its vector entry.
func (s *Store) DeleteObservation(id string) error {
	res, err := s.db.Exec(
		`UPDATE observations SET deleted_at = ? WHERE id = ? AND `+activeCond,
		formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("tombstoning observation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: observation %s", memory.ErrNotFound, id)
	}

	s.vecDelete(id)
	return nil
}

// ListByProject returns project-scoped observations, newest first.
// Pagination is stable over (created_at DESC, id DESC).
func (s *Store) ListByProject(projectPath string, opts memory.ListOptions) ([]*memory.Observation, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}

	query := fmt.Sprintf(`
		SELECT %s FROM observations o
		JOIN sessions s ON s.id = o.session_id
		WHERE s.project_path = ?`, prefixColumns("o", obsColumns))
	args := []any{projectPath}

	switch opts.State {
	case "", memory.StateCurrent:
		query += " AND o.superseded_by IS NULL AND o.deleted_at IS NULL"
	case memory.StateSuperseded:
		query += " AND o.superseded_by IS NOT NULL AND o.deleted_at IS NULL"
	case memory.StateDeleted:
		query += " AND o.deleted_at IS NOT NULL"
	case memory.StateAll:
	default:
		return nil, fmt.Errorf("%w: unknown state %q", memory.ErrValidation, opts.State)
	}

	if opts.Type != "" {
		query += " AND o.type = ?"
		args = append(args, opts.Type)
	}
	if opts.SessionID != "" {
		query += " AND o.session_id = ?"
		args = append(args, opts.SessionID)
	}

	query += " ORDER BY o.created_at DESC, o.id DESC LIMIT ? OFFSET ?"
	args = append(args, opts.Limit, opts.Offset)

	return s.queryObservations(query, args...)
}

// GetAroundTimestamp returns the cross-session window of active rows
// strictly before then strictly after ts, concatenated in chronological
// order.
func (s *Store) GetAroundTimestamp(ts time.Time, before, after int, projectPath string) ([]*memory.Observation, error) {
	anchor := formatTime(ts)

	beforeRows, err := s.queryObservations(fmt.Sprintf(`
		SELECT %s FROM observations o
		JOIN sessions s ON s.id = o.session_id
		WHERE s.project_path = ? AND o.created_at < ? AND o.%s
		ORDER BY o.created_at DESC, o.id DESC LIMIT ?`,
		prefixColumns("o", obsColumns), activeCond),
		projectPath, anchor, before,
	)
	if err != nil {
		return nil, err
	}

	afterRows, err := s.queryObservations(fmt.Sprintf(`
		SELECT %s FROM observations o
		JOIN sessions s ON s.id = o.session_id
		WHERE s.project_path = ? AND o.created_at > ? AND o.%s
		ORDER BY o.created_at ASC, o.id ASC LIMIT ?`,
		prefixColumns("o", obsColumns), activeCond),
		projectPath, anchor, after,
	)
	if err != nil {
		return nil, err
	}

	// beforeRows came back newest-first; flip to chronological order.
	out := make([]*memory.Observation, 0, len(beforeRows)+len(afterRows))
	for i := len(beforeRows) - 1; i >= 0; i-- {
		out = append(out, beforeRows[i])
	}
	out = append(out, afterRows...)
	return out, nil
}

// GetLineage returns the full revision chain containing id, oldest first.
// A visited set makes traversal cycle-safe.
func (s *Store) GetLineage(id string) ([]*memory.Observation, error) {
	start, err := s.GetObservationIncludingArchived(id)
	if err != nil {
		return nil, err
	}

	visited := map[string]bool{start.ID: true}

	// Walk backwards to the oldest ancestor.
	var back []*memory.Observation
	for cur := start; cur.RevisionOf != ""; {
		if visited[cur.RevisionOf] {
			break
		}
		prev, err := s.GetObservationIncludingArchived(cur.RevisionOf)
		if err != nil {
			break
		}
		visited[prev.ID] = true
		back = append(back, prev)
		cur = prev
	}

	// Reverse the ancestors so the chain reads oldest first.
	chain := make([]*memory.Observation, 0, len(back)+1)
	for i := len(back) - 1; i >= 0; i-- {
		chain = append(chain, back[i])
	}
	chain = append(chain, start)

	// Walk forward through successors.
	for cur := start; cur.SupersededBy != ""; {
		if visited[cur.SupersededBy] {
			break
		}
		next, err := s.GetObservationIncludingArchived(cur.SupersededBy)
		if err != nil {
			break
		}
		visited[next.ID] = true
		chain = append(chain, next)
		cur = next
	}

	return chain, nil
}

// ScoredObservation pairs an observation with its FTS rank (lower is
// better).
type ScoredObservation struct {
	Observation *memory.Observation
	Rank        float64
}

// SearchObservations runs a full-text match over active rows, applies the
// query's filter conjunction, and ranks by the FTS score ascending.
// Project isolation uses a session join.
func (s *Store) SearchObservations(q memory.SearchQuery) ([]ScoredObservation, error) {
	if q.Limit <= 0 {
		q.Limit = 20
	}

	match := sanitizeFTS(q.Query)
	if match == "" {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT %s, fts.rank FROM observations_fts fts
		JOIN observations o ON o.rowid = fts.rowid
		JOIN sessions s ON s.id = o.session_id
		WHERE observations_fts MATCH ?`,
		prefixColumns("o", obsColumns))
	args := []any{match}

	if q.ProjectPath != "" {
		query += " AND s.project_path = ?"
		args = append(args, q.ProjectPath)
	}

	query += " ORDER BY fts.rank LIMIT ? OFFSET ?"
	args = append(args, q.Limit+q.Offset+64, 0)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		// FTS syntax errors degrade to no results rather than failing
		// the caller.
		s.logger.Warn("full-text search failed", zap.String("query", q.Query), zap.Error(err))
		return nil, nil
	}
	defer rows.Close()

	var out []ScoredObservation
	for rows.Next() {
		o, rank, err := scanScoredObservation(rows)
		if err != nil {
			return nil, err
		}
		if !q.Matches(o) {
			continue
		}
		out = append(out, ScoredObservation{Observation: o, Rank: rank})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search results: %w", err)
	}

	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return nil, nil
		}
		out = out[q.Offset:]
	}
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// SearchByConcept matches only the tokenized concepts column.
func (s *Store) SearchByConcept(concept string, limit int, projectPath string) ([]*memory.Observation, error) {
	return s.searchColumn(`concepts : `+quoteFTS(concept), limit, projectPath)
}

// SearchByFile matches only the tokenized file columns.
func (s *Store) SearchByFile(file string, limit int, projectPath string) ([]*memory.Observation, error) {
	match := fmt.Sprintf("files_read : %s OR files_modified : %s", quoteFTS(file), quoteFTS(file))
	return s.searchColumn(match, limit, projectPath)
}

func (s *Store) searchColumn(match string, limit int, projectPath string) ([]*memory.Observation, error) {
	if limit <= 0 {
		limit = 20
	}

	query := fmt.Sprintf(`
		SELECT %s FROM observations_fts fts
		JOIN observations o ON o.rowid = fts.rowid
		JOIN sessions s ON s.id = o.session_id
		WHERE observations_fts MATCH ?`,
		prefixColumns("o", obsColumns))
	args := []any{match}

	if projectPath != "" {
		query += " AND s.project_path = ?"
		args = append(args, projectPath)
	}

	query += " ORDER BY fts.rank LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		s.logger.Warn("column search failed", zap.String("match", match), zap.Error(err))
		return nil, nil
	}
	defer rows.Close()

	return collectObservations(rows)
}

func (s *Store) queryObservations(query string, args ...any) ([]*memory.Observation, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying observations: %w", err)
	}
	defer rows.Close()

	return collectObservations(rows)
}

func collectObservations(rows *sql.Rows) ([]*memory.Observation, error) {
	var out []*memory.Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating observations: %w", err)
	}
	return out, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanObservation(row scannable) (*memory.Observation, error) {
	var o memory.Observation
	var scope, typ string
	var subtitle, rawOutput, toolName, revisionOf, supersededBy sql.NullString
	var createdAt string
	var supersededAt, deletedAt sql.NullString
	var facts, concepts, filesRead, filesModified string
	var embedding []byte

	err := row.Scan(
		&o.ID, &o.SessionID, &scope, &typ, &o.Title, &subtitle, &o.Narrative,
		&facts, &concepts, &filesRead, &filesModified, &rawOutput, &toolName,
		&createdAt, &o.TokenCount, &o.DiscoveryTokens, &o.Importance,
		&revisionOf, &supersededBy, &supersededAt, &deletedAt, &embedding,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning observation: %w", err)
	}

	o.Scope = memory.Scope(scope)
	o.Type = memory.ObservationType(typ)
	o.Subtitle = subtitle.String
	o.RawToolOutput = rawOutput.String
	o.ToolName = toolName.String
	o.RevisionOf = revisionOf.String
	o.SupersededBy = supersededBy.String
	o.CreatedAt = parseTime(createdAt)
	o.Facts = unmarshalList(facts)
	o.Concepts = unmarshalList(concepts)
	o.FilesRead = unmarshalList(filesRead)
	o.FilesModified = unmarshalList(filesModified)
	o.Embedding = deserializeEmbedding(embedding)

	if supersededAt.Valid {
		t := parseTime(supersededAt.String)
		o.SupersededAt = &t
	}
	if deletedAt.Valid {
		t := parseTime(deletedAt.String)
		o.DeletedAt = &t
	}

	return &o, nil
}

func scanScoredObservation(rows *sql.Rows) (*memory.Observation, float64, error) {
	var o memory.Observation
	var scope, typ string
	var subtitle, rawOutput, toolName, revisionOf, supersededBy sql.NullString
	var createdAt string
	var supersededAt, deletedAt sql.NullString
	var facts, concepts, filesRead, filesModified string
	var embedding []byte
	var rank float64

	err := rows.Scan(
		&o.ID, &o.SessionID, &scope, &typ, &o.Title, &subtitle, &o.Narrative,
		&facts, &concepts, &filesRead, &filesModified, &rawOutput, &toolName,
		&createdAt, &o.TokenCount, &o.DiscoveryTokens, &o.Importance,
		&revisionOf, &supersededBy, &supersededAt, &deletedAt, &embedding,
		&rank,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("scanning scored observation: %w", err)
	}

	o.Scope = memory.Scope(scope)
	o.Type = memory.ObservationType(typ)
	o.Subtitle = subtitle.String
	o.RawToolOutput = rawOutput.String
	o.ToolName = toolName.String
	o.RevisionOf = revisionOf.String
	o.SupersededBy = supersededBy.String
	o.CreatedAt = parseTime(createdAt)
	o.Facts = unmarshalList(facts)
	o.Concepts = unmarshalList(concepts)
	o.FilesRead = unmarshalList(filesRead)
	o.FilesModified = unmarshalList(filesModified)
	o.Embedding = deserializeEmbedding(embedding)

	if supersededAt.Valid {
		t := parseTime(supersededAt.String)
		o.SupersededAt = &t
	}
	if deletedAt.Valid {
		t := parseTime(deletedAt.String)
		o.DeletedAt = &t
	}

	return &o, rank, nil
}

func marshalList(list []string) string {
	if len(list) == 0 {
		return "[]"
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func unmarshalList(data string) []string {
	if data == "" || data == "[]" {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(data), &list); err != nil {
		return nil
	}
	return list
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// prefixColumns qualifies a comma-separated column list with a table alias.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// sanitizeFTS wraps each word in quotes so FTS5 doesn't choke on special chars.
// "fix auth bug" → `"fix" "auth" "bug"`
func sanitizeFTS(query string) string {
	words := strings.Fields(query)
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.Trim(w, `"`)
		if w == "" {
			continue
		}
		quoted = append(quoted, `"`+strings.ReplaceAll(w, `"`, "")+`"`)
	}
	return strings.Join(quoted, " ")
}

// quoteFTS turns one term into a quoted FTS5 phrase, splitting path
// separators into adjacent tokens so "src/auth.ts" matches its indexed form.
func quoteFTS(term string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '/', '.', '\\', '-', '_', '"':
			return ' '
		}
		return r
	}, term)

	return `"` + strings.Join(strings.Fields(cleaned), " ") + `"`
}
