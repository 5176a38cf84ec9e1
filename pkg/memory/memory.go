// Package memory defines the core domain model for the openmem system.
//
// An [Observation] is one atomic, distilled memory record derived from a raw
// capture. Observations are immutable: revising one creates a successor row
// linked through RevisionOf/SupersededBy, and deleting one sets a tombstone.
// Sessions group observations per project, and session summaries hold the
// AI-generated wrap-up written when a session ends.
package memory

import "time"

// Scope identifies which database an observation belongs to.
type Scope string

const (
	ScopeProject Scope = "project"
	ScopeUser    Scope = "user"
)

// ObservationType classifies what kind of event an observation records.
type ObservationType string

const (
	TypeDecision  ObservationType = "decision"
	TypeBugfix    ObservationType = "bugfix"
	TypeFeature   ObservationType = "feature"
	TypeRefactor  ObservationType = "refactor"
	TypeDiscovery ObservationType = "discovery"
	TypeChange    ObservationType = "change"
)

// ObservationTypes lists every valid observation type.
var ObservationTypes = []ObservationType{
	TypeDecision, TypeBugfix, TypeFeature, TypeRefactor, TypeDiscovery, TypeChange,
}

// ValidType reports whether t is a known observation type.
func ValidType(t ObservationType) bool {
	for _, v := range ObservationTypes {
		if v == t {
			return true
		}
	}
	return false
}

const (
	// ImportanceMin and ImportanceMax bound the importance scale.
	ImportanceMin = 1
	ImportanceMax = 5

	// ImportanceDefault is assigned when the compressor does not score.
	ImportanceDefault = 3
)

// Observation is an immutable record of one distilled event.
type Observation struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Scope     Scope  `json:"scope"`

	Type          ObservationType `json:"type"`
	Title         string          `json:"title"`
	Subtitle      string          `json:"subtitle,omitempty"`
	Narrative     string          `json:"narrative"`
	Facts         []string        `json:"facts,omitempty"`
	Concepts      []string        `json:"concepts,omitempty"`
	FilesRead     []string        `json:"files_read,omitempty"`
	FilesModified []string        `json:"files_modified,omitempty"`

	RawToolOutput string    `json:"raw_tool_output,omitempty"`
	ToolName      string    `json:"tool_name,omitempty"`
	CreatedAt     time.Time `json:"created_at"`

	// TokenCount is the distilled size; DiscoveryTokens is what the raw
	// capture would have cost. Both are computed once at creation.
	TokenCount      int `json:"token_count"`
	DiscoveryTokens int `json:"discovery_tokens"`

	Importance int `json:"importance"`

	RevisionOf   string     `json:"revision_of,omitempty"`
	SupersededBy string     `json:"superseded_by,omitempty"`
	SupersededAt *time.Time `json:"superseded_at,omitempty"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`

	// Embedding is the per-row vector when the brute-force similarity
	// path is in use. Empty when vectors live in the vec0 index.
	Embedding []float32 `json:"-"`
}

// Active reports whether the observation is visible to default retrieval.
func (o *Observation) Active() bool {
	return o.SupersededBy == "" && o.DeletedAt == nil
}

// State returns the lineage state label: current, superseded or deleted.
func (o *Observation) State() string {
	switch {
	case o.DeletedAt != nil:
		return StateDeleted
	case o.SupersededBy != "":
		return StateSuperseded
	default:
		return StateCurrent
	}
}

// Lineage state labels used by list/search state filters.
const (
	StateCurrent    = "current"
	StateSuperseded = "superseded"
	StateDeleted    = "deleted"
	StateAll        = "all"
)

// SessionStatus tracks the lifecycle of a capture session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionIdle      SessionStatus = "idle"
	SessionCompleted SessionStatus = "completed"
)

// Session groups the observations captured during one agent session.
type Session struct {
	ID               string        `json:"id"`
	ProjectPath      string        `json:"project_path"`
	StartedAt        time.Time     `json:"started_at"`
	EndedAt          *time.Time    `json:"ended_at,omitempty"`
	Status           SessionStatus `json:"status"`
	ObservationCount int           `json:"observation_count"`
	SummaryID        string        `json:"summary_id,omitempty"`
}

// SessionSummary is the AI-generated wrap-up of a completed session.
type SessionSummary struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	Summary       string    `json:"summary"`
	KeyDecisions  []string  `json:"key_decisions,omitempty"`
	FilesModified []string  `json:"files_modified,omitempty"`
	Concepts      []string  `json:"concepts,omitempty"`
	Request       string    `json:"request,omitempty"`
	Investigated  string    `json:"investigated,omitempty"`
	Learned       string    `json:"learned,omitempty"`
	Completed     string    `json:"completed,omitempty"`
	NextSteps     string    `json:"next_steps,omitempty"`
	TokenCount    int       `json:"token_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// PendingStatus tracks a pending message through the processing queue.
type PendingStatus string

const (
	PendingPending    PendingStatus = "pending"
	PendingProcessing PendingStatus = "processing"
	PendingCompleted  PendingStatus = "completed"
	PendingFailed     PendingStatus = "failed"
)

// PendingMessage is a raw capture awaiting compression.
type PendingMessage struct {
	ID         string        `json:"id"`
	SessionID  string        `json:"session_id"`
	ToolName   string        `json:"tool_name"`
	ToolOutput string        `json:"tool_output"`
	CallID     string        `json:"call_id"`
	CreatedAt  time.Time     `json:"created_at"`
	Status     PendingStatus `json:"status"`
	RetryCount int           `json:"retry_count"`
	Error      string        `json:"error,omitempty"`
}

// Entity is a knowledge-graph node addressed by (type, name).
type Entity struct {
	ID          int64  `json:"id"`
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Relationship is a directed knowledge-graph edge carrying the observation
// that introduced it as provenance.
type Relationship struct {
	ID            int64  `json:"id"`
	FromEntity    int64  `json:"from_entity"`
	ToEntity      int64  `json:"to_entity"`
	Type          string `json:"type"`
	ObservationID string `json:"observation_id"`
}

// EstimateTokens approximates the token cost of a string as ceil(len/4).
func EstimateTokens(s string) int {
	if len(s) == 0 {
		return 0
	}
	return (len(s) + 3) / 4
}
