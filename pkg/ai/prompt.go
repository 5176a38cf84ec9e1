package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/papercomputeco/openmem/pkg/modes"
)

const compressSystemPrompt = `You distill raw tool output from an AI coding
session into one structured observation. Respond with a single JSON object
and nothing else, using these fields:
  type        one of the allowed observation types
  title       short headline of what happened
  subtitle    optional one-line elaboration
  narrative   2-5 sentence account of what was done or learned
  facts       array of short standalone factual strings
  concepts    array of concept tags drawn from the allowed vocabulary
  files_read  array of file paths that were read
  files_modified array of file paths that were changed
  importance  integer 1-5, 3 when unsure`

// compressUserPrompt renders the capture and mode vocabulary for the model.
func compressUserPrompt(capture Capture, mode *modes.Mode) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Allowed observation types: %s\n", strings.Join(mode.ObservationTypes, ", "))
	fmt.Fprintf(&b, "Concept vocabulary: %s\n\n", strings.Join(mode.Concepts, ", "))
	fmt.Fprintf(&b, "Tool: %s\n", capture.ToolName)
	fmt.Fprintf(&b, "Output:\n%s\n", capture.ToolOutput)
	return b.String()
}

const summarizeSystemPrompt = `You summarize one AI coding session from its
observation records. Respond with a single JSON object and nothing else,
using these fields:
  summary        3-6 sentence overview of the session
  key_decisions  array of decisions that will matter later
  files_modified array of file paths changed during the session
  concepts       array of concept tags
  request        what the user originally asked for
  investigated   what was explored
  learned        what was discovered
  completed      what was finished
  next_steps     what remains`

const conflictSystemPrompt = `You judge whether a new observation duplicates
existing memory. Respond with a single JSON object and nothing else:
  action     "create-new" when it is genuinely new information,
             "supersede" when it updates or replaces one existing record,
             "drop" when it adds nothing
  target_id  the id of the superseded record when action is "supersede"`

const rerankSystemPrompt = `You rank memory search results by relevance to a
query. Respond with a single JSON array of zero-based candidate indexes,
most relevant first, and nothing else.`

// extractJSON pulls the first JSON value out of a model reply, tolerating
// surrounding prose and markdown code fences.
func extractJSON(reply string) (string, error) {
	s := strings.TrimSpace(reply)

	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", fmt.Errorf("no JSON value in model reply")
	}

	open := s[start]
	closing := byte('}')
	if open == '[' {
		closing = ']'
	}

	depth := 0
	inString := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case inString:
			if c == '\\' {
				i++
			} else if c == '"' {
				inString = false
			}
		case c == '"':
			inString = true
		case c == open:
			depth++
		case c == closing:
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}

	return "", fmt.Errorf("unterminated JSON value in model reply")
}

func parseDraft(reply string) (*ObservationDraft, error) {
	raw, err := extractJSON(reply)
	if err != nil {
		return nil, err
	}

	draft := &ObservationDraft{}
	if err := json.Unmarshal([]byte(raw), draft); err != nil {
		return nil, fmt.Errorf("parsing observation draft: %w", err)
	}
	return draft, nil
}

func parseSummary(reply string) (*SummaryDraft, error) {
	raw, err := extractJSON(reply)
	if err != nil {
		return nil, err
	}

	draft := &SummaryDraft{}
	if err := json.Unmarshal([]byte(raw), draft); err != nil {
		return nil, fmt.Errorf("parsing summary draft: %w", err)
	}
	return draft, nil
}
