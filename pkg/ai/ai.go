// Package ai defines the capability interfaces the memory pipeline consumes:
// compression of raw captures into observation drafts, text embedding, result
// reranking, session summarization and conflict evaluation.
//
// Concrete providers live in subpackages (anthropic, openai, ollama) as thin
// HTTP clients implementing [ChatClient] and [Embedder]; the prompt and
// parsing logic shared by every provider lives here.
package ai

import (
	"context"

	"github.com/papercomputeco/openmem/pkg/memory"
	"github.com/papercomputeco/openmem/pkg/modes"
)

// Capture is a raw pre-compression event from the agent host, already
// redacted.
type Capture struct {
	ToolName   string
	ToolOutput string
}

// ObservationDraft is a distilled observation body excluding identity fields.
type ObservationDraft struct {
	Type          memory.ObservationType `json:"type"`
	Title         string                 `json:"title"`
	Subtitle      string                 `json:"subtitle,omitempty"`
	Narrative     string                 `json:"narrative"`
	Facts         []string               `json:"facts,omitempty"`
	Concepts      []string               `json:"concepts,omitempty"`
	FilesRead     []string               `json:"files_read,omitempty"`
	FilesModified []string               `json:"files_modified,omitempty"`
	Importance    int                    `json:"importance,omitempty"`
}

// SummaryDraft is an AI-generated session summary body.
type SummaryDraft struct {
	Summary       string   `json:"summary"`
	KeyDecisions  []string `json:"key_decisions,omitempty"`
	FilesModified []string `json:"files_modified,omitempty"`
	Concepts      []string `json:"concepts,omitempty"`
	Request       string   `json:"request,omitempty"`
	Investigated  string   `json:"investigated,omitempty"`
	Learned       string   `json:"learned,omitempty"`
	Completed     string   `json:"completed,omitempty"`
	NextSteps     string   `json:"next_steps,omitempty"`
}

// ConflictDecision is the conflict evaluator's verdict for a new candidate
// against an existing near-neighbour.
type ConflictDecision struct {
	// Action is one of "create-new", "supersede" or "drop".
	Action string `json:"action"`

	// TargetID names the observation to supersede when Action is
	// "supersede".
	TargetID string `json:"target_id,omitempty"`
}

const (
	ActionCreateNew = "create-new"
	ActionSupersede = "supersede"
	ActionDrop      = "drop"
)

// Compressor turns a raw capture into a typed observation draft.
type Compressor interface {
	// Compress distills a capture against the given mode's vocabulary.
	Compress(ctx context.Context, capture Capture, mode *modes.Mode) (*ObservationDraft, error)
}

// Embedder provides text embedding capabilities.
type Embedder interface {
	// Embed converts text into a vector embedding.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Close releases any resources held by the embedder.
	Close() error
}

// Reranker reorders search candidates by relevance to a query.
type Reranker interface {
	// Rerank returns a permutation of candidate indexes, most relevant
	// first. It may return fewer indexes than candidates; missing ones
	// keep their original relative order at the tail.
	Rerank(ctx context.Context, query string, candidates []string) ([]int, error)
}

// Summarizer generates a session summary from its active observations.
type Summarizer interface {
	Summarize(ctx context.Context, observations []*memory.Observation) (*SummaryDraft, error)
}

// ConflictJudge decides whether a candidate duplicates, supersedes or
// coexists with its near-neighbours.
type ConflictJudge interface {
	Evaluate(ctx context.Context, draft *ObservationDraft, neighbours []*memory.Observation) (*ConflictDecision, error)
}

// ChatClient is the minimal provider surface the shared prompt logic is
// built on: one system-plus-user exchange returning the model's text.
type ChatClient interface {
	Chat(ctx context.Context, system, user string) (string, error)

	// Name returns the canonical provider name (e.g. "anthropic").
	Name() string
}
