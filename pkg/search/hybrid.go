package search

import (
	"context"

	"go.uber.org/zap"

	"github.com/papercomputeco/openmem/pkg/memory"
)

// rrfK is the Reciprocal Rank Fusion constant: score = Σ 1/(k + rank).
const rrfK = 60

// graphRadius bounds knowledge-graph traversal for the graph signal.
const graphRadius = 2

// candidate accumulates one observation's per-signal ranks during fusion.
type candidate struct {
	obs     *memory.Observation
	signals []SignalScore

	vectorDistance float64
	hasVector      bool
}

// hybrid executes FTS and vector KNN independently with the same filter
// set, fuses them (plus an optional graph signal) via RRF, then optionally
// reranks the head of the fused list.
func (o *Orchestrator) hybrid(ctx context.Context, req Request) ([]Result, error) {
	candidates := map[string]*candidate{}

	track := func(obs *memory.Observation, sig SignalScore) *candidate {
		c, ok := candidates[obs.ID]
		if !ok {
			c = &candidate{obs: obs}
			candidates[obs.ID] = c
		}
		c.signals = append(c.signals, sig)
		return c
	}

	// Full-text signal.
	scored, err := o.store.SearchObservations(req.SearchQuery)
	if err != nil {
		return nil, err
	}
	for i, s := range scored {
		track(s.Observation, SignalScore{Signal: SignalFTS, Rank: i + 1, Score: s.Rank})
	}

	// Vector signal.
	if o.embedder != nil {
		if queryVec, err := o.embedder.Embed(ctx, req.Query); err != nil {
			o.logger.Warn("embedding query failed, continuing without vector signal", zap.Error(err))
		} else {
			pos := 0
			for _, hit := range o.knn(queryVec, req) {
				obs := o.hydrate(hit.ObservationID, req.ProjectPath)
				if obs == nil || !req.SearchQuery.Matches(obs) {
					continue
				}
				pos++
				c := track(obs, SignalScore{Signal: SignalVector, Rank: pos, Score: 1 - hit.Distance})
				c.vectorDistance = hit.Distance
				c.hasVector = true
			}
		}
	}

	// Graph signal: neighbours of any concept term contribute.
	pos := 0
	for _, term := range gatherTerms(req.Concept, req.Concepts) {
		neighbours, err := o.store.Neighbours(term, graphRadius)
		if err != nil {
			continue
		}
		for _, n := range neighbours {
			for _, obsID := range n.ObservationIDs {
				obs := o.hydrate(obsID, req.ProjectPath)
				if obs == nil || !req.SearchQuery.Matches(obs) {
					continue
				}
				if _, tracked := candidates[obs.ID]; tracked && hasSignal(candidates[obs.ID], SignalGraph) {
					continue
				}
				pos++
				track(obs, SignalScore{Signal: SignalGraph, Rank: pos, Score: 1.0 / float64(n.Depth+1)})
			}
		}
	}

	// Fuse.
	fused := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		rrf := 0.0
		matchedBy := make([]string, 0, len(c.signals))
		for _, sig := range c.signals {
			rrf += 1.0 / float64(rrfK+sig.Rank)
			matchedBy = append(matchedBy, sig.Signal)
		}

		r := Result{
			Observation: c.obs,
			Snippet:     c.obs.Title,
			Explain: Explain{
				MatchedBy: memory.DedupeStrings(matchedBy),
				Signals:   c.signals,
				RRFScore:  rrf,
			},
		}
		if c.hasVector {
			r.VectorDistance = c.vectorDistance
			r.VectorSimilarity = 1 - c.vectorDistance
		}
		fused = append(fused, r)
	}

	tieBreak(fused, func(r Result) float64 { return r.Explain.RRFScore })

	if len(fused) > req.Limit {
		fused = fused[:req.Limit]
	}

	o.rerank(ctx, req.Query, fused)

	rank(fused)
	return fused, nil
}

// rerank reorders the head of the fused list through the LLM reranker.
// Failures leave the RRF order untouched.
func (o *Orchestrator) rerank(ctx context.Context, query string, results []Result) {
	if o.reranker == nil || len(results) < 2 {
		return
	}

	n := len(results)
	if n > o.rerankMax {
		n = o.rerankMax
	}

	head := results[:n]
	snippets := make([]string, n)
	for i, r := range head {
		narrative := r.Observation.Narrative
		if len(narrative) > 120 {
			narrative = narrative[:120]
		}
		snippets[i] = r.Observation.Title + ": " + narrative
	}

	order, err := o.reranker.Rerank(ctx, query, snippets)
	if err != nil {
		o.logger.Warn("reranking failed, keeping RRF order", zap.Error(err))
		return
	}

	reordered := make([]Result, 0, n)
	used := make(map[int]bool, n)
	for _, idx := range order {
		if idx < 0 || idx >= n || used[idx] {
			continue
		}
		used[idx] = true
		r := head[idx]
		r.Explain.Reranked = true
		reordered = append(reordered, r)
	}
	// Indexes the model omitted keep their original relative order.
	for i := 0; i < n; i++ {
		if !used[i] {
			reordered = append(reordered, head[i])
		}
	}

	copy(results[:n], reordered)
}

func hasSignal(c *candidate, name string) bool {
	for _, sig := range c.signals {
		if sig.Signal == name {
			return true
		}
	}
	return false
}
