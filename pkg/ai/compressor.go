package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/papercomputeco/openmem/pkg/memory"
	"github.com/papercomputeco/openmem/pkg/modes"
)

// LLMCompressor distills captures through a provider's chat endpoint. It
// also implements [Summarizer] and [ConflictJudge], which reuse the same
// client with different prompts.
type LLMCompressor struct {
	client ChatClient
}

// NewLLMCompressor wraps a provider chat client.
func NewLLMCompressor(client ChatClient) *LLMCompressor {
	return &LLMCompressor{client: client}
}

// Name returns the underlying provider name.
func (c *LLMCompressor) Name() string {
	return c.client.Name()
}

// Compress distills a capture into an observation draft. The draft is
// normalized: unknown types fall back to "discovery" and importance is
// clamped to the valid range.
func (c *LLMCompressor) Compress(ctx context.Context, capture Capture, mode *modes.Mode) (*ObservationDraft, error) {
	reply, err := c.client.Chat(ctx, compressSystemPrompt, compressUserPrompt(capture, mode))
	if err != nil {
		return nil, err
	}

	draft, err := parseDraft(reply)
	if err != nil {
		// A malformed reply is transient: the next attempt or the next
		// provider in the chain may well produce valid JSON.
		return nil, fmt.Errorf("%w: %v", ErrRetryable, err)
	}

	normalizeDraft(draft, mode)
	return draft, nil
}

// Summarize generates a session summary draft from observations.
func (c *LLMCompressor) Summarize(ctx context.Context, observations []*memory.Observation) (*SummaryDraft, error) {
	var b strings.Builder
	for _, o := range observations {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", o.Type, o.Title, o.Narrative)
		for _, f := range o.FilesModified {
			fmt.Fprintf(&b, "  modified: %s\n", f)
		}
	}

	reply, err := c.client.Chat(ctx, summarizeSystemPrompt, b.String())
	if err != nil {
		return nil, err
	}

	draft, err := parseSummary(reply)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRetryable, err)
	}
	return draft, nil
}

// Evaluate asks the model whether the draft duplicates, supersedes or
// coexists with its near-neighbours. Unparseable verdicts default to
// create-new so a flaky model never loses a capture.
func (c *LLMCompressor) Evaluate(ctx context.Context, draft *ObservationDraft, neighbours []*memory.Observation) (*ConflictDecision, error) {
	var b strings.Builder
	b.WriteString("New candidate:\n")
	candidate, _ := json.Marshal(draft)
	b.Write(candidate)
	b.WriteString("\n\nExisting near-neighbours:\n")
	for _, n := range neighbours {
		fmt.Fprintf(&b, "- id=%s [%s] %s: %s\n", n.ID, n.Type, n.Title, n.Narrative)
	}

	reply, err := c.client.Chat(ctx, conflictSystemPrompt, b.String())
	if err != nil {
		return nil, err
	}

	raw, err := extractJSON(reply)
	if err != nil {
		return &ConflictDecision{Action: ActionCreateNew}, nil
	}

	decision := &ConflictDecision{}
	if err := json.Unmarshal([]byte(raw), decision); err != nil {
		return &ConflictDecision{Action: ActionCreateNew}, nil
	}

	switch decision.Action {
	case ActionSupersede:
		if decision.TargetID == "" {
			decision.Action = ActionCreateNew
		}
	case ActionDrop, ActionCreateNew:
	default:
		decision.Action = ActionCreateNew
	}

	return decision, nil
}

// normalizeDraft enforces draft invariants regardless of model behavior.
func normalizeDraft(draft *ObservationDraft, mode *modes.Mode) {
	valid := false
	for _, t := range mode.ObservationTypes {
		if string(draft.Type) == t {
			valid = true
			break
		}
	}
	if !valid {
		draft.Type = memory.TypeDiscovery
	}

	if draft.Importance < memory.ImportanceMin || draft.Importance > memory.ImportanceMax {
		draft.Importance = memory.ImportanceDefault
	}

	if draft.Title == "" {
		draft.Title = "untitled observation"
	}

	draft.Concepts = memory.DedupeStrings(draft.Concepts)
	draft.FilesRead = memory.DedupeStrings(draft.FilesRead)
	draft.FilesModified = memory.DedupeStrings(draft.FilesModified)
}
