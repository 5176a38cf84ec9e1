// Package queue drives the capture-to-observation pipeline: claiming
// batches of pending captures, compressing them into observation drafts,
// resolving conflicts against near-neighbours, persisting, embedding,
// extracting entities and emitting lifecycle events.
//
// One processor runs per database. Batches run one at a time so lineage
// writes stay atomic; the two trigger sources (interval timer and explicit
// signal) are coalesced through a run-again bit while a batch is in flight.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/papercomputeco/openmem/pkg/ai"
	"github.com/papercomputeco/openmem/pkg/eventstream"
	"github.com/papercomputeco/openmem/pkg/memory"
	"github.com/papercomputeco/openmem/pkg/metrics"
	"github.com/papercomputeco/openmem/pkg/modes"
	"github.com/papercomputeco/openmem/pkg/storage"
)

// Config holds processor configuration.
type Config struct {
	// BatchSize bounds one claim. Defaults to 10.
	BatchSize int

	// Interval is the timer trigger period. Defaults to 30s.
	Interval time.Duration

	// MaxRetries bounds per-item retry accounting. Defaults to 3.
	MaxRetries int

	// CallTimeout bounds each AI call. Defaults to 60s.
	CallTimeout time.Duration

	// ConflictResolution enables the conflict evaluator when an embedder
	// is available.
	ConflictResolution bool

	// EntityExtraction enables knowledge-graph extraction.
	EntityExtraction bool

	// SimilarityThreshold is the cosine band for conflict neighbours.
	// Defaults to 0.85.
	SimilarityThreshold float64
}

// Processor is the cooperative single-batch pipeline driver.
type Processor struct {
	config     Config
	store      *storage.Store
	compressor ai.Compressor
	embedder   ai.Embedder
	judge      ai.ConflictJudge
	summarizer ai.Summarizer
	mode       *modes.Mode
	publisher  eventstream.Publisher
	metrics    *metrics.Registry
	logger     *zap.Logger

	signal chan struct{}

	mu         sync.Mutex
	running    bool
	runAgain   bool
	summarizeQ []string
	stopOnce   sync.Once
	stopped    chan struct{}
}

// Option wires optional collaborators into the processor.
type Option func(*Processor)

// WithEmbedder enables vector storage and conflict neighbour lookup.
func WithEmbedder(e ai.Embedder) Option {
	return func(p *Processor) { p.embedder = e }
}

// WithConflictJudge enables conflict evaluation.
func WithConflictJudge(j ai.ConflictJudge) Option {
	return func(p *Processor) { p.judge = j }
}

// WithSummarizer enables session summary generation.
func WithSummarizer(s ai.Summarizer) Option {
	return func(p *Processor) { p.summarizer = s }
}

// WithPublisher sets the lifecycle event publisher.
func WithPublisher(pub eventstream.Publisher) Option {
	return func(p *Processor) { p.publisher = pub }
}

// WithMetrics sets the metrics registry.
func WithMetrics(m *metrics.Registry) Option {
	return func(p *Processor) { p.metrics = m }
}

// NewProcessor creates a processor. The compressor is required and must be
// infallible for retryable failures (wrap it in an ai.ChainedCompressor
// ending in the basic extractor).
func NewProcessor(cfg Config, store *storage.Store, compressor ai.Compressor, mode *modes.Mode, logger *zap.Logger, opts ...Option) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 60 * time.Second
	}
	if cfg.SimilarityThreshold == 0 {
		cfg.SimilarityThreshold = 0.85
	}

	p := &Processor{
		config:     cfg,
		store:      store,
		compressor: compressor,
		mode:       mode,
		metrics:    metrics.NewRegistry(),
		logger:     logger,
		signal:     make(chan struct{}, 1),
		stopped:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Signal requests a drain now (e.g. on session idle). Signals arriving
// while a batch runs set the run-again bit instead of stacking.
func (p *Processor) Signal() {
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

// EnqueueSummarize queues a summarize work item for a session.
func (p *Processor) EnqueueSummarize(sessionID string) {
	p.mu.Lock()
	p.summarizeQ = append(p.summarizeQ, sessionID)
	p.mu.Unlock()
	p.Signal()
}

// Run drains the queue until ctx is cancelled, triggered by the interval
// timer and explicit signals. The current item finishes before Run returns.
func (p *Processor) Run(ctx context.Context) {
	defer close(p.stopped)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-p.signal:
		}

		p.drain(ctx)
	}
}

// Stop waits for the processor loop to exit after its context cancels.
func (p *Processor) Stop() {
	p.stopOnce.Do(func() {
		<-p.stopped
	})
}

// drain processes batches until the queue is empty, honoring the
// run-again bit for triggers that arrived mid-batch.
func (p *Processor) drain(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.runAgain = true
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.running = false
		again := p.runAgain
		p.runAgain = false
		p.mu.Unlock()
		if again && ctx.Err() == nil {
			p.Signal()
		}
	}()

	for ctx.Err() == nil {
		n := p.processBatch(ctx)
		p.runSummaries(ctx)
		if n == 0 {
			return
		}
	}
}

// ProcessNow runs one drain synchronously. Used by the API trigger and by
// tests.
func (p *Processor) ProcessNow(ctx context.Context) {
	p.drain(ctx)
}

// Metrics exposes the processor's registry.
func (p *Processor) Metrics() *metrics.Registry {
	return p.metrics
}

// processBatch claims and processes one batch, returning the number of
// items handled.
func (p *Processor) processBatch(ctx context.Context) int {
	batch, err := p.store.Claim(p.config.BatchSize)
	if err != nil {
		p.logger.Error("claiming batch failed", zap.Error(err))
		return 0
	}
	if len(batch) == 0 {
		return 0
	}

	start := time.Now()
	for _, item := range batch {
		if ctx.Err() != nil {
			// Shutdown mid-batch: unclaimed work reverts via stale
			// recovery on next startup.
			break
		}
		p.processItem(ctx, item)
	}
	p.metrics.Observe(metrics.TimerBatch, time.Since(start))

	return len(batch)
}

func (p *Processor) processItem(ctx context.Context, item *memory.PendingMessage) {
	_, err := p.buildObservation(ctx, item)
	if err != nil {
		p.logger.Warn("processing capture failed",
			zap.String("pending_id", item.ID),
			zap.Error(err),
		)
		p.metrics.Inc(metrics.PendingFailed)
		if failErr := p.store.FailPending(item.ID, err.Error(), p.config.MaxRetries); failErr != nil {
			p.logger.Error("failing pending item", zap.Error(failErr))
		}
		return
	}

	if err := p.store.CompletePending(item.ID); err != nil {
		p.logger.Error("completing pending item", zap.Error(err))
	}
}

// buildObservation runs one capture through compress, conflict evaluation,
// persistence, embedding and entity extraction. A nil observation with nil
// error means the capture was dropped by conflict resolution.
func (p *Processor) buildObservation(ctx context.Context, item *memory.PendingMessage) (*memory.Observation, error) {
	capture := ai.Capture{ToolName: item.ToolName, ToolOutput: item.ToolOutput}

	callCtx, cancel := context.WithTimeout(ctx, p.config.CallTimeout)
	defer cancel()

	var draft *ai.ObservationDraft
	err := p.metrics.Time(metrics.TimerCompress, func() error {
		var err error
		draft, err = p.compressor.Compress(callCtx, capture, p.mode)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("compressing capture: %w", err)
	}

	// Conflict resolution needs an embedding for the neighbour lookup.
	var embedding []float32
	if p.embedder != nil {
		embedCtx, cancelEmbed := context.WithTimeout(ctx, p.config.CallTimeout)
		err = p.metrics.Time(metrics.TimerEmbed, func() error {
			var embedErr error
			embedding, embedErr = p.embedder.Embed(embedCtx, draft.Title+"\n"+draft.Narrative)
			return embedErr
		})
		cancelEmbed()
		if err != nil {
			// Embedding failures degrade: the observation persists
			// without a vector.
			p.logger.Warn("embedding capture failed", zap.Error(err))
			embedding = nil
		} else {
			p.metrics.Inc(metrics.EmbeddingsComputed)
		}
	}

	decision := &ai.ConflictDecision{Action: ai.ActionCreateNew}
	if p.config.ConflictResolution && p.judge != nil && len(embedding) > 0 {
		decision = p.evaluateConflict(ctx, draft, embedding)
	}

	switch decision.Action {
	case ai.ActionDrop:
		p.metrics.Inc(metrics.ObservationsDropped)
		p.publish(ctx, &eventstream.ObservationEvent{
			SchemaVersion: eventstream.SchemaVersionV1,
			EventType:     eventstream.EventTypeObservationDropped,
			EmittedAt:     time.Now(),
			SessionID:     item.SessionID,
		})
		return nil, nil

	case ai.ActionSupersede:
		obs, err := p.superseded(ctx, item, draft, decision.TargetID, embedding)
		if err == nil {
			return obs, nil
		}
		// A vanished target degrades to create-new rather than losing
		// the capture.
		p.logger.Warn("supersede target not updatable, creating new",
			zap.String("target", decision.TargetID),
			zap.Error(err),
		)
	}

	return p.created(ctx, item, draft, embedding)
}

func (p *Processor) evaluateConflict(ctx context.Context, draft *ai.ObservationDraft, embedding []float32) *ai.ConflictDecision {
	neighbours, err := p.store.FindSimilar(embedding, draft.Type, p.config.SimilarityThreshold, 5)
	if err != nil || len(neighbours) == 0 {
		return &ai.ConflictDecision{Action: ai.ActionCreateNew}
	}

	callCtx, cancel := context.WithTimeout(ctx, p.config.CallTimeout)
	defer cancel()

	decision, err := p.judge.Evaluate(callCtx, draft, neighbours)
	if err != nil {
		p.logger.Warn("conflict evaluation failed, creating new", zap.Error(err))
		return &ai.ConflictDecision{Action: ai.ActionCreateNew}
	}
	return decision
}

func (p *Processor) created(ctx context.Context, item *memory.PendingMessage, draft *ai.ObservationDraft, embedding []float32) (*memory.Observation, error) {
	obs, err := p.store.CreateObservation(&memory.Observation{
		SessionID:     item.SessionID,
		Type:          draft.Type,
		Title:         draft.Title,
		Subtitle:      draft.Subtitle,
		Narrative:     draft.Narrative,
		Facts:         draft.Facts,
		Concepts:      draft.Concepts,
		FilesRead:     draft.FilesRead,
		FilesModified: draft.FilesModified,
		RawToolOutput: item.ToolOutput,
		ToolName:      item.ToolName,
		Importance:    draft.Importance,
	})
	if err != nil {
		return nil, fmt.Errorf("persisting observation: %w", err)
	}

	if err := p.finishItem(ctx, obs, embedding); err != nil {
		return nil, err
	}

	p.metrics.Inc(metrics.ObservationsCreated)
	p.publish(ctx, &eventstream.ObservationEvent{
		SchemaVersion: eventstream.SchemaVersionV1,
		EventType:     eventstream.EventTypeObservationCreated,
		EmittedAt:     time.Now(),
		SessionID:     item.SessionID,
		Observation:   obs,
	})

	return obs, nil
}

func (p *Processor) superseded(ctx context.Context, item *memory.PendingMessage, draft *ai.ObservationDraft, targetID string, embedding []float32) (*memory.Observation, error) {
	patch := storage.ObservationPatch{
		Type:          &draft.Type,
		Title:         &draft.Title,
		Subtitle:      &draft.Subtitle,
		Narrative:     &draft.Narrative,
		Facts:         &draft.Facts,
		Concepts:      &draft.Concepts,
		FilesRead:     &draft.FilesRead,
		FilesModified: &draft.FilesModified,
	}
	if draft.Importance >= memory.ImportanceMin && draft.Importance <= memory.ImportanceMax {
		patch.Importance = &draft.Importance
	}

	obs, err := p.store.UpdateObservation(targetID, patch)
	if err != nil {
		return nil, err
	}

	if err := p.finishItem(ctx, obs, embedding); err != nil {
		return nil, err
	}

	p.metrics.Inc(metrics.ObservationsRevised)
	p.publish(ctx, &eventstream.ObservationEvent{
		SchemaVersion: eventstream.SchemaVersionV1,
		EventType:     eventstream.EventTypeObservationRevised,
		EmittedAt:     time.Now(),
		SessionID:     item.SessionID,
		Observation:   obs,
		PredecessorID: targetID,
	})

	return obs, nil
}

// finishItem runs the vector store write and entity extraction for a saved
// observation. The two are independent and run concurrently, but both
// complete before the item commits.
func (p *Processor) finishItem(ctx context.Context, obs *memory.Observation, embedding []float32) error {
	g, gctx := errgroup.WithContext(ctx)

	if len(embedding) > 0 {
		g.Go(func() error {
			if err := p.store.SetEmbedding(obs.ID, embedding); err != nil {
				p.logger.Warn("storing embedding failed", zap.String("id", obs.ID), zap.Error(err))
			}
			return nil
		})
	}

	if p.config.EntityExtraction {
		g.Go(func() error {
			p.extractEntities(gctx, obs)
			return nil
		})
	}

	return g.Wait()
}

func (p *Processor) publish(ctx context.Context, event *eventstream.ObservationEvent) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.PublishObservation(ctx, event); err != nil {
		p.logger.Warn("publishing event failed", zap.Error(err))
	}
}

// runSummaries drains queued summarize work items.
func (p *Processor) runSummaries(ctx context.Context) {
	p.mu.Lock()
	pending := p.summarizeQ
	p.summarizeQ = nil
	p.mu.Unlock()

	for _, sessionID := range pending {
		if err := p.summarizeSession(ctx, sessionID); err != nil {
			p.logger.Warn("summarizing session failed",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
		}
	}
}

func (p *Processor) summarizeSession(ctx context.Context, sessionID string) error {
	if p.summarizer == nil {
		return nil
	}

	sess, err := p.store.GetSession(sessionID)
	if err != nil {
		return err
	}

	observations, err := p.store.ListByProject(sess.ProjectPath, memory.ListOptions{
		SessionID: sessionID,
		Limit:     500,
	})
	if err != nil {
		return err
	}
	if len(observations) == 0 {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, p.config.CallTimeout)
	defer cancel()

	draft, err := p.summarizer.Summarize(callCtx, observations)
	if err != nil {
		return fmt.Errorf("generating summary: %w", err)
	}

	_, err = p.store.CreateSummary(&memory.SessionSummary{
		SessionID:     sessionID,
		Summary:       draft.Summary,
		KeyDecisions:  draft.KeyDecisions,
		FilesModified: draft.FilesModified,
		Concepts:      draft.Concepts,
		Request:       draft.Request,
		Investigated:  draft.Investigated,
		Learned:       draft.Learned,
		Completed:     draft.Completed,
		NextSteps:     draft.NextSteps,
	})
	if err != nil {
		return err
	}

	p.metrics.Inc(metrics.SummariesGenerated)
	return nil
}
