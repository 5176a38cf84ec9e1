package storage

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/papercomputeco/openmem/pkg/memory"
)

// VecResult is one KNN hit.
type VecResult struct {
	ObservationID string
	Distance      float64
}

// SetEmbedding stores an observation's vector: as a row blob for the
// brute-force path and in the vec0 index when available.
func (s *Store) SetEmbedding(id string, vector []float32) error {
	res, err := s.db.Exec(
		`UPDATE observations SET embedding = ? WHERE id = ?`,
		serializeEmbedding(vector), id,
	)
	if err != nil {
		return fmt.Errorf("storing embedding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: observation %s", memory.ErrNotFound, id)
	}

	return s.VecUpsert(id, vector)
}

// VecUpsert writes a vector into the KNN index, replacing any existing
// entry. A disabled index is a silent no-op so callers degrade gracefully.
func (s *Store) VecUpsert(id string, vector []float32) error {
	if !s.vectorEnabled {
		return nil
	}

	blob := serializeEmbedding(vector)

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var rowID int64
	err = tx.QueryRow(`SELECT rowid FROM vec_observations WHERE obs_id = ?`, id).Scan(&rowID)

	switch err {
	case nil:
		// vec0 does not support UPDATE: delete then re-insert.
		if _, err := tx.Exec(`DELETE FROM vec_embeddings WHERE rowid = ?`, rowID); err != nil {
			return fmt.Errorf("deleting old embedding for %s: %w", id, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO vec_embeddings(rowid, embedding) VALUES (?, ?)`, rowID, blob,
		); err != nil {
			return fmt.Errorf("re-inserting embedding for %s: %w", id, err)
		}
	case sql.ErrNoRows:
		res, err := tx.Exec(`INSERT INTO vec_observations(obs_id) VALUES (?)`, id)
		if err != nil {
			return fmt.Errorf("inserting vec mapping for %s: %w", id, err)
		}
		rowID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("getting rowid for %s: %w", id, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO vec_embeddings(rowid, embedding) VALUES (?, ?)`, rowID, blob,
		); err != nil {
			return fmt.Errorf("inserting embedding for %s: %w", id, err)
		}
	default:
		return fmt.Errorf("checking vec mapping for %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// VecSearch runs a KNN query against the vector index. Failures return
// empty rather than an error so hybrid search degrades gracefully.
func (s *Store) VecSearch(query []float32, k int) []VecResult {
	return s.vecSearch(query, k, nil)
}

// VecSearchSubset restricts a KNN query to candidate observation ids.
func (s *Store) VecSearchSubset(query []float32, candidateIDs []string, k int) []VecResult {
	if len(candidateIDs) == 0 {
		return nil
	}
	subset := make(map[string]bool, len(candidateIDs))
	for _, id := range candidateIDs {
		subset[id] = true
	}
	return s.vecSearch(query, k, subset)
}

func (s *Store) vecSearch(query []float32, k int, subset map[string]bool) []VecResult {
	if !s.vectorEnabled || k <= 0 {
		return nil
	}

	// Over-fetch when filtering to a subset: the nearest k overall may
	// not include the nearest k within the candidates.
	fetchK := k
	if subset != nil {
		fetchK = k + len(subset)
	}

	rows, err := s.db.Query(`
		SELECT vo.obs_id, ve.distance
		FROM vec_embeddings ve
		JOIN vec_observations vo ON vo.rowid = ve.rowid
		WHERE ve.embedding MATCH ?
			AND ve.k = ?
		ORDER BY ve.distance`,
		serializeEmbedding(query), fetchK,
	)
	if err != nil {
		s.logger.Warn("vector search failed", zap.Error(err))
		return nil
	}
	defer rows.Close()

	var out []VecResult
	for rows.Next() {
		var r VecResult
		if err := rows.Scan(&r.ObservationID, &r.Distance); err != nil {
			s.logger.Warn("scanning vector result failed", zap.Error(err))
			return out
		}
		if subset != nil && !subset[r.ObservationID] {
			continue
		}
		out = append(out, r)
		if len(out) >= k {
			break
		}
	}
	return out
}

// vecDelete removes an observation's entry from the KNN index.
func (s *Store) vecDelete(id string) {
	if !s.vectorEnabled {
		return
	}

	var rowID int64
	err := s.db.QueryRow(`SELECT rowid FROM vec_observations WHERE obs_id = ?`, id).Scan(&rowID)
	if err != nil {
		return
	}

	if _, err := s.db.Exec(`DELETE FROM vec_embeddings WHERE rowid = ?`, rowID); err != nil {
		s.logger.Warn("deleting vector embedding failed", zap.String("id", id), zap.Error(err))
	}
	if _, err := s.db.Exec(`DELETE FROM vec_observations WHERE rowid = ?`, rowID); err != nil {
		s.logger.Warn("deleting vector mapping failed", zap.String("id", id), zap.Error(err))
	}
}

// findSimilarWindow bounds the brute-force similarity scan.
const findSimilarWindow = 200

// FindSimilar runs brute-force cosine similarity over the most recent
// active rows of a type. Used for dedupe and conflict evaluation, and as
// the KNN fallback when the vector index is unavailable.
func (s *Store) FindSimilar(embedding []float32, obsType memory.ObservationType, threshold float64, limit int) ([]*memory.Observation, error) {
	if limit <= 0 {
		limit = 5
	}

	query := fmt.Sprintf(`
		SELECT %s FROM observations
		WHERE %s AND embedding IS NOT NULL`, obsColumns, activeCond)
	args := []any{}

	if obsType != "" {
		query += " AND type = ?"
		args = append(args, string(obsType))
	}

	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, findSimilarWindow)

	candidates, err := s.queryObservations(query, args...)
	if err != nil {
		return nil, err
	}

	type scored struct {
		obs *memory.Observation
		sim float64
	}
	var hits []scored
	for _, c := range candidates {
		sim := cosineSimilarity(embedding, c.Embedding)
		if sim >= threshold {
			hits = append(hits, scored{obs: c, sim: sim})
		}
	}

	// Insertion sort by similarity descending: the window is small.
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].sim > hits[j-1].sim; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}

	out := make([]*memory.Observation, 0, limit)
	for _, h := range hits {
		out = append(out, h.obs)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// cosineSimilarity returns the cosine of the angle between two vectors,
// or 0 when either is empty or their lengths differ.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// serializeEmbedding converts a float32 slice to a little-endian byte slice
// suitable for sqlite-vec BLOB format. Nil vectors serialize to nil.
func serializeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// deserializeEmbedding converts a little-endian byte slice back to a
// float32 slice.
func deserializeEmbedding(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
