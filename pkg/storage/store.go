// Package storage provides the embedded SQLite store for the openmem
// system: row tables, an FTS5 full-text index over observations, and a
// sqlite-vec KNN vector index, all in one database file.
//
// The Store owns every row lifetime; repositories are method sets on the
// Store handle (observations, sessions, summaries, pending, graph, vec).
package storage

import (
	"database/sql"
	"fmt"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// timeLayout is a fixed-width UTC timestamp format so that stored times
// order lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store is the handle to one openmem database.
type Store struct {
	db     *sql.DB
	logger *zap.Logger

	// vectorEnabled reports whether the vec0 KNN index is available.
	// When false the brute-force similarity path is the only vector
	// capability.
	vectorEnabled bool
	dimensions    uint
}

// Config holds configuration for opening a store.
type Config struct {
	// Path is the database file path, or ":memory:" for tests.
	Path string

	// Dimensions is the embedding vector width. Zero disables the KNN
	// index; the brute-force path still works off stored blobs.
	Dimensions uint
}

// Open opens (creating if needed) the database at c.Path and migrates the
// schema. The sqlite-vec extension is loaded into every connection; if the
// vec0 virtual table cannot be created the store degrades to
// VectorEnabled() == false rather than failing.
func Open(c Config, logger *zap.Logger) (*Store, error) {
	if c.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// enable connection to have sqlite-vec extension
	sqlite_vec.Auto()

	dsn := c.Path + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// The vec0 virtual table and FTS triggers assume statements land on
	// the connection that created them; a single connection also keeps
	// write serialization simple.
	db.SetMaxOpenConns(1)

	s := &Store{
		db:         db,
		logger:     logger,
		dimensions: c.Dimensions,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	s.initVector()

	return s, nil
}

// VectorEnabled reports whether native KNN queries are available.
func (s *Store) VectorEnabled() bool {
	return s.vectorEnabled
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// initVector creates the vec0 virtual table when the extension and a
// configured dimension are available.
func (s *Store) initVector() {
	if s.dimensions == 0 {
		s.logger.Debug("vector index disabled: no embedding dimensions configured")
		return
	}

	var vecVersion string
	if err := s.db.QueryRow("SELECT vec_version()").Scan(&vecVersion); err != nil {
		s.logger.Warn("sqlite-vec not available, vector search disabled", zap.Error(err))
		return
	}

	createVec := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS vec_embeddings USING vec0(embedding float[%d])`,
		s.dimensions,
	)
	if _, err := s.db.Exec(createVec); err != nil {
		s.logger.Warn("creating vec0 table failed, vector search disabled", zap.Error(err))
		return
	}

	s.vectorEnabled = true
	s.logger.Info("vector index initialized",
		zap.Uint("dimensions", s.dimensions),
		zap.String("vec_version", vecVersion),
	)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Older rows may carry plain RFC3339.
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}
