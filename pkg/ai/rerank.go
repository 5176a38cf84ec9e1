package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// LLMReranker orders search candidates through a provider's chat endpoint.
type LLMReranker struct {
	client ChatClient
}

// NewLLMReranker wraps a provider chat client.
func NewLLMReranker(client ChatClient) *LLMReranker {
	return &LLMReranker{client: client}
}

// Rerank returns candidate indexes most-relevant first. Out-of-range and
// duplicate indexes in the model reply are dropped.
func (r *LLMReranker) Rerank(ctx context.Context, query string, candidates []string) ([]int, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n\nCandidates:\n", query)
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. %s\n", i, c)
	}

	reply, err := r.client.Chat(ctx, rerankSystemPrompt, b.String())
	if err != nil {
		return nil, err
	}

	raw, err := extractJSON(reply)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRetryable, err)
	}

	var order []int
	if err := json.Unmarshal([]byte(raw), &order); err != nil {
		return nil, fmt.Errorf("%w: parsing rerank order: %v", ErrRetryable, err)
	}

	seen := make(map[int]bool, len(order))
	out := make([]int, 0, len(order))
	for _, idx := range order {
		if idx < 0 || idx >= len(candidates) || seen[idx] {
			continue
		}
		seen[idx] = true
		out = append(out, idx)
	}

	return out, nil
}
