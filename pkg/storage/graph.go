package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/papercomputeco/openmem/pkg/memory"
)

// UpsertEntity creates or returns the entity addressed by (type, name).
// Dedupe is case-insensitive on the name; a non-empty description fills in
// a previously empty one.
func (s *Store) UpsertEntity(entityType, name, description string) (*memory.Entity, error) {
	if entityType == "" || name == "" {
		return nil, fmt.Errorf("%w: entity type and name are required", memory.ErrValidation)
	}

	norm := memory.NormalizeName(name)

	_, err := s.db.Exec(`
		INSERT INTO entities (type, name, name_norm, description)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(type, name_norm) DO UPDATE SET
			description = CASE
				WHEN entities.description IS NULL OR entities.description = ''
				THEN excluded.description
				ELSE entities.description
			END`,
		entityType, name, norm, description,
	)
	if err != nil {
		return nil, fmt.Errorf("upserting entity: %w", err)
	}

	return s.getEntity(entityType, norm)
}

func (s *Store) getEntity(entityType, norm string) (*memory.Entity, error) {
	row := s.db.QueryRow(
		`SELECT id, type, name, description FROM entities WHERE type = ? AND name_norm = ?`,
		entityType, norm,
	)

	var e memory.Entity
	var description sql.NullString
	if err := row.Scan(&e.ID, &e.Type, &e.Name, &description); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: entity %s/%s", memory.ErrNotFound, entityType, norm)
		}
		return nil, fmt.Errorf("scanning entity: %w", err)
	}
	e.Description = description.String

	return &e, nil
}

// AddRelationship records a directed edge between two entities with the
// introducing observation as provenance. Duplicate edges are no-ops.
func (s *Store) AddRelationship(fromID, toID int64, relType, observationID string) error {
	if relType == "" || observationID == "" {
		return fmt.Errorf("%w: relationship type and observation id are required", memory.ErrValidation)
	}

	_, err := s.db.Exec(`
		INSERT INTO relationships (from_entity, to_entity, type, observation_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(from_entity, to_entity, type, observation_id) DO NOTHING`,
		fromID, toID, relType, observationID,
	)
	if err != nil {
		return fmt.Errorf("adding relationship: %w", err)
	}
	return nil
}

// Neighbour is one entity reached by graph traversal, with the observation
// ids that link it.
type Neighbour struct {
	Entity         *memory.Entity `json:"entity"`
	Depth          int            `json:"depth"`
	ObservationIDs []string       `json:"observation_ids"`
}

// maxNeighbourDepth caps graph traversal.
const maxNeighbourDepth = 2

// Neighbours returns entities within depth hops of the named entity
// (any entity type, case-insensitive), breadth-first, together with the
// observation ids on the connecting edges.
func (s *Store) Neighbours(entityName string, depth int) ([]Neighbour, error) {
	if depth <= 0 {
		depth = 1
	}
	if depth > maxNeighbourDepth {
		depth = maxNeighbourDepth
	}

	norm := memory.NormalizeName(entityName)

	rows, err := s.db.Query(`SELECT id FROM entities WHERE name_norm = ?`, norm)
	if err != nil {
		return nil, fmt.Errorf("resolving entity name: %w", err)
	}

	var frontier []int64
	visited := map[int64]bool{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning entity id: %w", err)
		}
		frontier = append(frontier, id)
		visited[id] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entity ids: %w", err)
	}
	if len(frontier) == 0 {
		return nil, nil
	}

	var out []Neighbour

	for d := 1; d <= depth && len(frontier) > 0; d++ {
		var next []int64
		for _, id := range frontier {
			edges, err := s.edgesOf(id)
			if err != nil {
				return nil, err
			}
			for otherID, obsIDs := range edges {
				if visited[otherID] {
					continue
				}
				visited[otherID] = true

				entity, err := s.entityByID(otherID)
				if err != nil {
					continue
				}
				out = append(out, Neighbour{
					Entity:         entity,
					Depth:          d,
					ObservationIDs: memory.DedupeStrings(obsIDs),
				})
				next = append(next, otherID)
			}
		}
		frontier = next
	}

	return out, nil
}

// edgesOf maps each entity adjacent to id (either direction) to the
// observation ids introducing those edges.
func (s *Store) edgesOf(id int64) (map[int64][]string, error) {
	rows, err := s.db.Query(`
		SELECT from_entity, to_entity, observation_id FROM relationships
		WHERE from_entity = ? OR to_entity = ?`, id, id)
	if err != nil {
		return nil, fmt.Errorf("querying relationships: %w", err)
	}
	defer rows.Close()

	out := map[int64][]string{}
	for rows.Next() {
		var from, to int64
		var obsID string
		if err := rows.Scan(&from, &to, &obsID); err != nil {
			return nil, fmt.Errorf("scanning relationship: %w", err)
		}
		other := from
		if from == id {
			other = to
		}
		out[other] = append(out[other], obsID)
	}
	return out, rows.Err()
}

func (s *Store) entityByID(id int64) (*memory.Entity, error) {
	row := s.db.QueryRow(`SELECT id, type, name, description FROM entities WHERE id = ?`, id)

	var e memory.Entity
	var description sql.NullString
	if err := row.Scan(&e.ID, &e.Type, &e.Name, &description); err != nil {
		return nil, fmt.Errorf("loading entity %d: %w", id, err)
	}
	e.Description = description.String
	return &e, nil
}
