package eventstream

import (
	"time"

	"github.com/papercomputeco/openmem/pkg/memory"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeObservationCreated is emitted after a new observation row
	// is durable.
	EventTypeObservationCreated = "openmem.observation.created"

	// EventTypeObservationRevised is emitted after an update creates a
	// successor row.
	EventTypeObservationRevised = "openmem.observation.revised"

	// EventTypeObservationTombstoned is emitted after a delete.
	EventTypeObservationTombstoned = "openmem.observation.tombstoned"

	// EventTypeObservationDropped is emitted when conflict evaluation
	// discards a capture without persisting it.
	EventTypeObservationDropped = "openmem.observation.dropped"
)

// ObservationEvent is a transport-neutral observation lifecycle event.
type ObservationEvent struct {
	SchemaVersion int       `json:"schema_version"`
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EmittedAt     time.Time `json:"emitted_at"`

	ProjectPath string `json:"project_path,omitempty"`
	SessionID   string `json:"session_id,omitempty"`

	// Observation is the affected record. Nil for dropped captures.
	Observation *memory.Observation `json:"observation,omitempty"`

	// PredecessorID names the superseded row on revised events.
	PredecessorID string `json:"predecessor_id,omitempty"`
}
