package config

import "github.com/spf13/viper"

// NewDefaultConfig returns a fully-populated config with sane defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Mode:    "code",
		Processing: ProcessingConfig{
			BatchSize:          10,
			IntervalSeconds:    30,
			MaxRetries:         3,
			StaleSeconds:       300,
			ConflictResolution: true,
			EntityExtraction:   true,
		},
		AI: AIConfig{
			Provider:       "anthropic",
			Model:          "claude-haiku-4-5",
			TimeoutSeconds: 60,
		},
		Embedding: EmbeddingConfig{
			Provider:   "ollama",
			Target:     "http://localhost:11434",
			Model:      "nomic-embed-text",
			Dimensions: 768,
		},
		Rerank: RerankConfig{
			Enabled:       false,
			MaxCandidates: 20,
		},
		Context: ContextConfig{
			MaxIndexEntries:      50,
			FullObservationCount: 3,
			MaxContextTokens:     2000,
		},
		Redaction: RedactionConfig{
			MinLength: 24,
		},
		API: APIConfig{
			Listen: "127.0.0.1:8642",
		},
	}
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps NewDefaultConfig as the single
// source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)
	v.SetDefault("mode", d.Mode)

	v.SetDefault("processing.batch_size", d.Processing.BatchSize)
	v.SetDefault("processing.interval_seconds", d.Processing.IntervalSeconds)
	v.SetDefault("processing.max_retries", d.Processing.MaxRetries)
	v.SetDefault("processing.stale_seconds", d.Processing.StaleSeconds)
	v.SetDefault("processing.conflict_resolution", d.Processing.ConflictResolution)
	v.SetDefault("processing.entity_extraction", d.Processing.EntityExtraction)

	v.SetDefault("ai.provider", d.AI.Provider)
	v.SetDefault("ai.model", d.AI.Model)
	v.SetDefault("ai.timeout_seconds", d.AI.TimeoutSeconds)

	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.target", d.Embedding.Target)
	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("embedding.dimensions", d.Embedding.Dimensions)

	v.SetDefault("rerank.enabled", d.Rerank.Enabled)
	v.SetDefault("rerank.max_candidates", d.Rerank.MaxCandidates)

	v.SetDefault("context.max_index_entries", d.Context.MaxIndexEntries)
	v.SetDefault("context.full_observation_count", d.Context.FullObservationCount)
	v.SetDefault("context.max_context_tokens", d.Context.MaxContextTokens)

	v.SetDefault("redaction.min_length", d.Redaction.MinLength)

	v.SetDefault("api.listen", d.API.Listen)
}
