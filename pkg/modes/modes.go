// Package modes loads named mode bundles: the observation types, concept
// vocabulary, entity types and relationship types a project distills
// captures with. Modes are JSON files supporting single inheritance via an
// "extends" field; cyclic chains resolve to the built-in default mode.
package modes

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// DefaultModeID is the built-in mode used when resolution fails.
const DefaultModeID = "code"

// Mode is a named bundle of vocabulary the compressor and entity extractor
// work against.
type Mode struct {
	ID                string   `json:"id"`
	Extends           string   `json:"extends,omitempty"`
	ObservationTypes  []string `json:"observation_types,omitempty"`
	Concepts          []string `json:"concepts,omitempty"`
	EntityTypes       []string `json:"entity_types,omitempty"`
	RelationshipTypes []string `json:"relationship_types,omitempty"`
}

// DefaultMode returns the built-in "code" mode.
func DefaultMode() *Mode {
	return &Mode{
		ID:               DefaultModeID,
		ObservationTypes: []string{"decision", "bugfix", "feature", "refactor", "discovery", "change"},
		Concepts: []string{
			"authentication", "authorization", "caching", "concurrency",
			"configuration", "database", "error-handling", "logging",
			"networking", "performance", "security", "serialization",
			"storage", "testing", "validation",
		},
		EntityTypes: []string{"file", "function", "type", "package", "service", "tool", "concept"},
		RelationshipTypes: []string{
			"uses", "defines", "modifies", "depends-on", "implements", "relates-to",
		},
	}
}

// Loader resolves modes from a directory of <id>.json files.
type Loader struct {
	dir    string
	logger *zap.Logger
}

// NewLoader creates a mode loader rooted at dir. An empty dir means only the
// built-in mode resolves.
func NewLoader(dir string, logger *zap.Logger) *Loader {
	return &Loader{dir: dir, logger: logger}
}

// Load resolves a mode by id, walking its extends chain oldest-ancestor
// first and overlaying each descendant's non-empty fields. A missing file,
// parse error or extends cycle resolves to the default mode without error.
func (l *Loader) Load(id string) *Mode {
	if id == "" || id == DefaultModeID {
		return DefaultMode()
	}

	chain, ok := l.resolveChain(id)
	if !ok {
		return DefaultMode()
	}

	// Overlay from the root ancestor down to the requested mode.
	merged := DefaultMode()
	merged.ID = id
	for i := len(chain) - 1; i >= 0; i-- {
		overlay(merged, chain[i])
	}
	return merged
}

// resolveChain walks id's extends links, returning the chain requested-mode
// first. A visited set detects cycles.
func (l *Loader) resolveChain(id string) ([]*Mode, bool) {
	var chain []*Mode
	visited := map[string]bool{}

	for cur := id; cur != "" && cur != DefaultModeID; {
		if visited[cur] {
			l.logger.Warn("cyclic mode inheritance, falling back to default mode",
				zap.String("mode", id),
				zap.String("cycle_at", cur),
			)
			return nil, false
		}
		visited[cur] = true

		m, err := l.read(cur)
		if err != nil {
			l.logger.Warn("mode not loadable, falling back to default mode",
				zap.String("mode", cur),
				zap.Error(err),
			)
			return nil, false
		}
		chain = append(chain, m)
		cur = m.Extends
	}

	return chain, true
}

func (l *Loader) read(id string) (*Mode, error) {
	if l.dir == "" {
		return nil, fmt.Errorf("no mode directory configured")
	}

	data, err := os.ReadFile(filepath.Join(l.dir, id+".json"))
	if err != nil {
		return nil, fmt.Errorf("reading mode %s: %w", id, err)
	}

	m := &Mode{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parsing mode %s: %w", id, err)
	}
	if m.ID == "" {
		m.ID = id
	}
	return m, nil
}

// overlay copies src's non-empty fields onto dst.
func overlay(dst, src *Mode) {
	if len(src.ObservationTypes) > 0 {
		dst.ObservationTypes = src.ObservationTypes
	}
	if len(src.Concepts) > 0 {
		dst.Concepts = src.Concepts
	}
	if len(src.EntityTypes) > 0 {
		dst.EntityTypes = src.EntityTypes
	}
	if len(src.RelationshipTypes) > 0 {
		dst.RelationshipTypes = src.RelationshipTypes
	}
}
