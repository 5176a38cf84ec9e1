// Package search dispatches retrieval strategies over the memory store:
// filter-only (FTS and column filters), semantic (vector KNN) and hybrid
// (both, fused by Reciprocal Rank Fusion with an optional knowledge-graph
// signal and optional LLM reranking).
package search

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/openmem/pkg/ai"
	"github.com/papercomputeco/openmem/pkg/memory"
	"github.com/papercomputeco/openmem/pkg/metrics"
	"github.com/papercomputeco/openmem/pkg/storage"
)

// Strategy selects how a search executes.
type Strategy string

const (
	StrategyFilterOnly Strategy = "filter-only"
	StrategySemantic   Strategy = "semantic"
	StrategyHybrid     Strategy = "hybrid"
)

// Signal names carried in result explanations.
const (
	SignalFTS           = "fts"
	SignalVector        = "vector"
	SignalGraph         = "graph"
	SignalConceptFilter = "concept-filter"
	SignalFileFilter    = "file-filter"
	SignalRerank        = "rerank"
)

// Request is one search invocation. ProjectPath is mandatory: observations
// outside that project never appear in the result set.
type Request struct {
	memory.SearchQuery

	Strategy Strategy `json:"strategy,omitempty"`

	// Concept and File are the primary single-term filter-only params;
	// they gather together with the plural Concepts/Files lists.
	Concept string `json:"concept,omitempty"`
	File    string `json:"file,omitempty"`
}

// SignalScore is one ranker's contribution to a result.
type SignalScore struct {
	Signal string  `json:"signal"`
	Rank   int     `json:"rank"`
	Score  float64 `json:"score"`
}

// Explain enumerates which signals matched a result.
type Explain struct {
	MatchedBy []string      `json:"matched_by"`
	Signals   []SignalScore `json:"signals,omitempty"`
	RRFScore  float64       `json:"rrf_score,omitempty"`
	Reranked  bool          `json:"reranked,omitempty"`
}

// Result is one search hit.
type Result struct {
	Observation *memory.Observation `json:"observation"`
	Rank        int                 `json:"rank"`
	Snippet     string              `json:"snippet"`

	// VectorDistance and VectorSimilarity annotate semantic results.
	VectorDistance   float64 `json:"vector_distance,omitempty"`
	VectorSimilarity float64 `json:"vector_similarity,omitempty"`

	Explain Explain `json:"explain"`
}

// Orchestrator owns strategy dispatch, fusion and reranking.
type Orchestrator struct {
	store    *storage.Store
	embedder ai.Embedder
	reranker ai.Reranker
	registry *metrics.Registry
	logger   *zap.Logger

	// rerankMax bounds how many fused candidates go to the reranker.
	rerankMax int
}

// Option wires optional collaborators into the orchestrator.
type Option func(*Orchestrator)

// WithEmbedder enables the semantic branch.
func WithEmbedder(e ai.Embedder) Option {
	return func(o *Orchestrator) { o.embedder = e }
}

// WithReranker enables LLM reranking of hybrid results.
func WithReranker(r ai.Reranker, maxCandidates int) Option {
	return func(o *Orchestrator) {
		o.reranker = r
		if maxCandidates > 0 {
			o.rerankMax = maxCandidates
		}
	}
}

// WithMetrics sets the metrics registry.
func WithMetrics(m *metrics.Registry) Option {
	return func(o *Orchestrator) { o.registry = m }
}

// NewOrchestrator creates a search orchestrator over a store.
func NewOrchestrator(store *storage.Store, logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		logger:    logger,
		registry:  metrics.NewRegistry(),
		rerankMax: 20,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Search dispatches a request to its strategy. The default is hybrid.
func (o *Orchestrator) Search(ctx context.Context, req Request) ([]Result, error) {
	if req.ProjectPath == "" {
		return nil, fmt.Errorf("%w: project path is required", memory.ErrValidation)
	}
	if req.Limit <= 0 {
		req.Limit = 20
	}

	o.registry.Inc(metrics.SearchesRun)
	start := time.Now()
	defer func() {
		o.registry.Observe(metrics.TimerSearch, time.Since(start))
	}()

	switch req.Strategy {
	case StrategyFilterOnly:
		return o.filterOnly(req)
	case StrategySemantic:
		return o.semantic(ctx, req)
	case StrategyHybrid, "":
		return o.hybrid(ctx, req)
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", memory.ErrValidation, req.Strategy)
	}
}

// filterOnly gathers by concept terms, else file terms, else general FTS,
// then re-applies the remaining filters as a conjunction.
func (o *Orchestrator) filterOnly(req Request) ([]Result, error) {
	conceptTerms := gatherTerms(req.Concept, req.Concepts)
	fileTerms := gatherTerms(req.File, req.Files)

	var gathered []*memory.Observation
	var matchedBy string
	var err error

	switch {
	case len(conceptTerms) > 0:
		matchedBy = SignalConceptFilter
		gathered, err = o.gatherByColumn(conceptTerms, req, o.store.SearchByConcept)

	case len(fileTerms) > 0:
		matchedBy = SignalFileFilter
		gathered, err = o.gatherByColumn(fileTerms, req, o.store.SearchByFile)

	default:
		matchedBy = SignalFTS
		scored, ftsErr := o.store.SearchObservations(req.SearchQuery)
		err = ftsErr
		for _, s := range scored {
			gathered = append(gathered, s.Observation)
		}
	}
	if err != nil {
		return nil, err
	}

	// The gather terms already matched; the conjunction covers only the
	// remaining filters.
	residual := req.SearchQuery
	if matchedBy == SignalConceptFilter {
		residual.Concepts = nil
	}
	if matchedBy == SignalFileFilter {
		residual.Files = nil
	}

	var results []Result
	for _, obs := range gathered {
		if !residual.Matches(obs) {
			continue
		}
		results = append(results, Result{
			Observation: obs,
			Snippet:     obs.Title,
			Explain:     Explain{MatchedBy: []string{matchedBy}},
		})
		if len(results) >= req.Limit {
			break
		}
	}

	rank(results)
	return results, nil
}

// gatherByColumn unions per-term column matches, deduped by id preserving
// first-seen order.
func (o *Orchestrator) gatherByColumn(terms []string, req Request, lookup func(string, int, string) ([]*memory.Observation, error)) ([]*memory.Observation, error) {
	seen := map[string]bool{}
	var out []*memory.Observation

	for _, term := range terms {
		matches, err := lookup(term, req.Limit*2, req.ProjectPath)
		if err != nil {
			return nil, err
		}
		for _, obs := range matches {
			if seen[obs.ID] {
				continue
			}
			seen[obs.ID] = true
			out = append(out, obs)
		}
	}

	return out, nil
}

// semantic embeds the query and runs vector KNN. Without embedding
// capability it degrades to filter-only.
func (o *Orchestrator) semantic(ctx context.Context, req Request) ([]Result, error) {
	if o.embedder == nil {
		return o.filterOnly(req)
	}

	queryVec, err := o.embedder.Embed(ctx, req.Query)
	if err != nil {
		o.logger.Warn("embedding query failed, degrading to filter-only", zap.Error(err))
		return o.filterOnly(req)
	}

	hits := o.knn(queryVec, req)
	if hits == nil {
		return o.filterOnly(req)
	}

	var results []Result
	for _, hit := range hits {
		obs := o.hydrate(hit.ObservationID, req.ProjectPath)
		if obs == nil || !req.SearchQuery.Matches(obs) {
			continue
		}
		results = append(results, Result{
			Observation:      obs,
			Snippet:          obs.Title,
			VectorDistance:   hit.Distance,
			VectorSimilarity: 1 - hit.Distance,
			Explain: Explain{
				MatchedBy: []string{SignalVector},
				Signals: []SignalScore{
					{Signal: SignalVector, Rank: len(results) + 1, Score: 1 - hit.Distance},
				},
			},
		})
		if len(results) >= req.Limit {
			break
		}
	}

	rank(results)
	return results, nil
}

// knn queries the native index, falling back to brute-force similarity at
// a lower limit when the index is unavailable.
func (o *Orchestrator) knn(queryVec []float32, req Request) []storage.VecResult {
	if o.store.VectorEnabled() {
		return o.store.VecSearch(queryVec, req.Limit*2)
	}

	similar, err := o.store.FindSimilar(queryVec, memory.ObservationType(req.Type), 0, req.Limit)
	if err != nil {
		o.logger.Warn("brute-force similarity failed", zap.Error(err))
		return nil
	}

	out := make([]storage.VecResult, 0, len(similar))
	for _, obs := range similar {
		out = append(out, storage.VecResult{ObservationID: obs.ID})
	}
	return out
}

// hydrate loads an active observation and enforces project isolation
// through its session.
func (o *Orchestrator) hydrate(id, projectPath string) *memory.Observation {
	obs, err := o.store.GetObservation(id)
	if err != nil {
		return nil
	}

	sess, err := o.store.GetSession(obs.SessionID)
	if err != nil || sess.ProjectPath != projectPath {
		return nil
	}

	return obs
}

// rank assigns 1-based positions after tie-breaking.
func rank(results []Result) {
	for i := range results {
		results[i].Rank = i + 1
	}
}

// tieBreak orders equal-score results by importance DESC, createdAt DESC,
// then id lexicographic.
func tieBreak(results []Result, score func(Result) float64) {
	sort.SliceStable(results, func(i, j int) bool {
		si, sj := score(results[i]), score(results[j])
		if si != sj {
			return si > sj
		}
		oi, oj := results[i].Observation, results[j].Observation
		if oi.Importance != oj.Importance {
			return oi.Importance > oj.Importance
		}
		if !oi.CreatedAt.Equal(oj.CreatedAt) {
			return oi.CreatedAt.After(oj.CreatedAt)
		}
		return oi.ID < oj.ID
	})
}

func gatherTerms(single string, plural []string) []string {
	var terms []string
	if single != "" {
		terms = append(terms, single)
	}
	terms = append(terms, plural...)
	return memory.DedupeStrings(terms)
}
