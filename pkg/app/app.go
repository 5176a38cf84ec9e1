// Package app is the composition root: it resolves the project's
// .open-mem directory, loads configuration, opens the store and wires the
// redactor, AI provider chain, queue processor, search orchestrator,
// context assembler and capture runtime together.
package app

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/openmem/pkg/ai"
	"github.com/papercomputeco/openmem/pkg/ai/anthropic"
	"github.com/papercomputeco/openmem/pkg/ai/ollama"
	"github.com/papercomputeco/openmem/pkg/ai/openai"
	"github.com/papercomputeco/openmem/pkg/assemble"
	"github.com/papercomputeco/openmem/pkg/config"
	"github.com/papercomputeco/openmem/pkg/dotdir"
	"github.com/papercomputeco/openmem/pkg/eventstream"
	"github.com/papercomputeco/openmem/pkg/hooks"
	"github.com/papercomputeco/openmem/pkg/logger"
	"github.com/papercomputeco/openmem/pkg/metrics"
	"github.com/papercomputeco/openmem/pkg/modes"
	"github.com/papercomputeco/openmem/pkg/queue"
	"github.com/papercomputeco/openmem/pkg/redact"
	"github.com/papercomputeco/openmem/pkg/search"
	"github.com/papercomputeco/openmem/pkg/storage"
)

// App holds one project's wired openmem components.
type App struct {
	ProjectPath string
	Dir         string
	Config      *config.Config
	Logger      *zap.Logger
	Store       *storage.Store
	Bus         *eventstream.Bus
	Metrics     *metrics.Registry
	Mode        *modes.Mode
	Processor   *queue.Processor
	Runtime     *hooks.Runtime
	Search      *search.Orchestrator
	Assembler   *assemble.Assembler

	ddm *dotdir.Manager
}

// New wires an App for the project rooted at projectRoot (the current
// directory when empty). Worktrees resolve to their main repository root.
// Database directory creation failures are fatal; a missing AI provider
// degrades to the basic extractor with a startup warning.
func New(projectRoot string, debug bool) (*App, error) {
	log := logger.NewLogger(debug)
	ddm := dotdir.NewManager()

	dir, err := ddm.ProjectDir(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving openmem directory: %w", err)
	}

	projectPath := projectRoot
	if projectPath == "" {
		projectPath, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("getting working directory: %w", err)
		}
	}
	projectPath = dotdir.CanonicalProjectRoot(projectPath)

	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(storage.Config{
		Path:       ddm.DatabasePath(dir),
		Dimensions: embeddingDimensions(cfg),
	}, log)
	if err != nil {
		return nil, err
	}

	if n, err := store.RecoverStale(time.Duration(cfg.Processing.StaleSeconds) * time.Second); err != nil {
		log.Warn("recovering stale queue rows failed", zap.Error(err))
	} else if n > 0 {
		log.Info("recovered stale queue rows", zap.Int("count", n))
	}

	registry := metrics.NewRegistry()
	bus := eventstream.NewBus(log)
	mode := modes.NewLoader(ddm.ModesDir(dir), log).Load(cfg.Mode)

	compressor, primary := buildCompressor(cfg, log)
	embedder := buildEmbedder(cfg, log)

	callTimeout := time.Duration(cfg.AI.TimeoutSeconds) * time.Second

	opts := []queue.Option{
		queue.WithPublisher(bus),
		queue.WithMetrics(registry),
	}
	if embedder != nil {
		opts = append(opts, queue.WithEmbedder(embedder))
	}
	if primary != nil {
		opts = append(opts, queue.WithConflictJudge(primary), queue.WithSummarizer(primary))
	}

	processor := queue.NewProcessor(queue.Config{
		BatchSize:          cfg.Processing.BatchSize,
		Interval:           time.Duration(cfg.Processing.IntervalSeconds) * time.Second,
		MaxRetries:         cfg.Processing.MaxRetries,
		CallTimeout:        callTimeout,
		ConflictResolution: cfg.Processing.ConflictResolution,
		EntityExtraction:   cfg.Processing.EntityExtraction,
	}, store, compressor, mode, log, opts...)

	searchOpts := []search.Option{search.WithMetrics(registry)}
	if embedder != nil {
		searchOpts = append(searchOpts, search.WithEmbedder(embedder))
	}
	if cfg.Rerank.Enabled && primary != nil {
		searchOpts = append(searchOpts, search.WithReranker(primary.Reranker(), cfg.Rerank.MaxCandidates))
	}
	orchestrator := search.NewOrchestrator(store, log, searchOpts...)

	assembler := assemble.New(assemble.Config{
		MaxIndexEntries:      cfg.Context.MaxIndexEntries,
		FullObservationCount: cfg.Context.FullObservationCount,
		MaxContextTokens:     cfg.Context.MaxContextTokens,
		Types:                cfg.Context.Types,
	}, store, log)

	runtime := hooks.NewRuntime(hooks.Config{
		ProjectPath: projectPath,
		Redactor: redact.New(redact.Config{
			Patterns:  cfg.Redaction.Patterns,
			MinLength: cfg.Redaction.MinLength,
		}, log),
		Store:     store,
		Processor: processor,
		Assembler: assembler,
		Metrics:   registry,
	}, log)

	return &App{
		ProjectPath: projectPath,
		Dir:         dir,
		Config:      cfg,
		Logger:      log,
		Store:       store,
		Bus:         bus,
		Metrics:     registry,
		Mode:        mode,
		Processor:   processor,
		Runtime:     runtime,
		Search:      orchestrator,
		Assembler:   assembler,
		ddm:         ddm,
	}, nil
}

// Close releases the app's resources.
func (a *App) Close() {
	a.Bus.Close()
	if err := a.Store.Close(); err != nil {
		a.Logger.Warn("closing store failed", zap.Error(err))
	}
}

// LockPath returns the database directory lock file path.
func (a *App) LockPath() string {
	return a.ddm.LockPath(a.Dir)
}

// TriggerPath returns the daemon trigger file path.
func (a *App) TriggerPath() string {
	return a.ddm.TriggerPath(a.Dir)
}

// AcquireLock takes the exclusive database-directory lock for this
// process, breaking stale locks from dead holders.
func (a *App) AcquireLock() (*storage.DirLock, error) {
	return storage.AcquireLock(a.LockPath())
}

// DaemonAlive reports whether an external worker currently holds the
// database lock.
func (a *App) DaemonAlive() bool {
	return storage.LockHeld(a.LockPath())
}

// TouchTrigger signals an external worker to process the queue now.
func (a *App) TouchTrigger() error {
	return os.WriteFile(a.TriggerPath(), []byte(time.Now().UTC().Format(time.RFC3339Nano)+"\n"), 0o644)
}

// primaryProvider bundles the chat-capable roles the primary provider
// serves: conflict judging, summarization and reranking.
type primaryProvider struct {
	*ai.LLMCompressor
	client ai.ChatClient
}

func (p *primaryProvider) Reranker() ai.Reranker {
	return ai.NewLLMReranker(p.client)
}

// buildCompressor assembles the provider chain: primary, fallbacks, then
// the infallible basic extractor. Providers with missing credentials warn
// and drop out so compression degrades instead of failing.
func buildCompressor(cfg *config.Config, log *zap.Logger) (ai.Compressor, *primaryProvider) {
	var links []ai.Compressor
	var primary *primaryProvider

	names := append([]string{cfg.AI.Provider}, cfg.AI.Fallbacks...)
	for _, name := range names {
		client := buildChatClient(name, cfg, log)
		if client == nil {
			continue
		}
		compressor := ai.NewLLMCompressor(client)
		if primary == nil {
			primary = &primaryProvider{LLMCompressor: compressor, client: client}
		}
		links = append(links, compressor)
	}

	links = append(links, ai.NewBasicExtractor())
	return ai.NewChainedCompressor(log, links...), primary
}

func buildChatClient(name string, cfg *config.Config, log *zap.Logger) ai.ChatClient {
	timeout := time.Duration(cfg.AI.TimeoutSeconds) * time.Second

	switch name {
	case "anthropic":
		client, err := anthropic.NewClient(anthropic.Config{Model: cfg.AI.Model, Timeout: timeout})
		if err != nil {
			log.Warn("anthropic provider unavailable, degrading", zap.Error(err))
			return nil
		}
		return client

	case "openai":
		client, err := openai.NewClient(openai.Config{Model: cfg.AI.Model, Timeout: timeout})
		if err != nil {
			log.Warn("openai provider unavailable, degrading", zap.Error(err))
			return nil
		}
		return client

	case "ollama":
		client, err := ollama.NewClient(ollama.Config{
			BaseURL: cfg.Embedding.Target,
			Model:   cfg.AI.Model,
			Timeout: timeout,
		})
		if err != nil {
			log.Warn("ollama provider unavailable, degrading", zap.Error(err))
			return nil
		}
		return client

	case "":
		return nil

	default:
		log.Warn("unknown AI provider", zap.String("provider", name))
		return nil
	}
}

func buildEmbedder(cfg *config.Config, log *zap.Logger) ai.Embedder {
	switch cfg.Embedding.Provider {
	case "ollama":
		client, err := ollama.NewClient(ollama.Config{
			BaseURL:        cfg.Embedding.Target,
			EmbeddingModel: cfg.Embedding.Model,
		})
		if err != nil {
			log.Warn("ollama embedder unavailable, embeddings disabled", zap.Error(err))
			return nil
		}
		return client

	case "openai":
		client, err := openai.NewClient(openai.Config{EmbeddingModel: cfg.Embedding.Model})
		if err != nil {
			log.Warn("openai embedder unavailable, embeddings disabled", zap.Error(err))
			return nil
		}
		return client

	default:
		return nil
	}
}

// embeddingDimensions resolves the vector width for the configured
// provider, hard-coded per provider default when unset.
func embeddingDimensions(cfg *config.Config) uint {
	if cfg.Embedding.Provider == "" {
		return 0
	}
	if cfg.Embedding.Dimensions > 0 {
		return cfg.Embedding.Dimensions
	}

	switch cfg.Embedding.Provider {
	case "openai":
		return openai.DefaultEmbeddingDimensions
	case "ollama":
		return ollama.DefaultEmbeddingDimensions
	default:
		return 0
	}
}
