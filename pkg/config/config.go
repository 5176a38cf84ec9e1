// Package config loads openmem configuration: built-in defaults overlaid
// with the optional <dotdir>/config.json user overrides and OPENMEM_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	// v0 is the alpha version of the config
	v0 = 0

	// CurrentV is the currently supported version, points to v0
	CurrentV = v0
)

// Config is the full runtime configuration.
type Config struct {
	Version int `json:"version" mapstructure:"version"`

	// Mode selects the vocabulary bundle captures are distilled with.
	Mode string `json:"mode" mapstructure:"mode"`

	Processing ProcessingConfig `json:"processing" mapstructure:"processing"`
	AI         AIConfig         `json:"ai" mapstructure:"ai"`
	Embedding  EmbeddingConfig  `json:"embedding" mapstructure:"embedding"`
	Rerank     RerankConfig     `json:"rerank" mapstructure:"rerank"`
	Context    ContextConfig    `json:"context" mapstructure:"context"`
	Redaction  RedactionConfig  `json:"redaction" mapstructure:"redaction"`
	API        APIConfig        `json:"api" mapstructure:"api"`
}

// ProcessingConfig drives the queue processor.
type ProcessingConfig struct {
	BatchSize          int  `json:"batch_size" mapstructure:"batch_size"`
	IntervalSeconds    int  `json:"interval_seconds" mapstructure:"interval_seconds"`
	MaxRetries         int  `json:"max_retries" mapstructure:"max_retries"`
	StaleSeconds       int  `json:"stale_seconds" mapstructure:"stale_seconds"`
	ConflictResolution bool `json:"conflict_resolution" mapstructure:"conflict_resolution"`
	EntityExtraction   bool `json:"entity_extraction" mapstructure:"entity_extraction"`
}

// AIConfig configures the compression provider chain.
type AIConfig struct {
	// Provider is the primary compression provider: "anthropic", "openai",
	// "ollama" or "" for the basic extractor only.
	Provider string `json:"provider" mapstructure:"provider"`

	// Fallbacks are tried in order on retryable primary failures.
	Fallbacks []string `json:"fallbacks" mapstructure:"fallbacks"`

	Model          string `json:"model" mapstructure:"model"`
	TimeoutSeconds int    `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// EmbeddingConfig configures the optional embedding provider.
type EmbeddingConfig struct {
	// Provider is "ollama", "openai" or "" to disable embeddings.
	Provider   string `json:"provider" mapstructure:"provider"`
	Target     string `json:"target" mapstructure:"target"`
	Model      string `json:"model" mapstructure:"model"`
	Dimensions uint   `json:"dimensions" mapstructure:"dimensions"`
}

// RerankConfig configures optional LLM reranking of hybrid results.
type RerankConfig struct {
	Enabled       bool `json:"enabled" mapstructure:"enabled"`
	MaxCandidates int  `json:"max_candidates" mapstructure:"max_candidates"`
}

// ContextConfig bounds the progressive-disclosure index.
type ContextConfig struct {
	MaxIndexEntries      int      `json:"max_index_entries" mapstructure:"max_index_entries"`
	FullObservationCount int      `json:"full_observation_count" mapstructure:"full_observation_count"`
	MaxContextTokens     int      `json:"max_context_tokens" mapstructure:"max_context_tokens"`
	Types                []string `json:"types" mapstructure:"types"`
}

// RedactionConfig configures the capture redactor.
type RedactionConfig struct {
	Patterns  []string `json:"patterns" mapstructure:"patterns"`
	MinLength int      `json:"min_length" mapstructure:"min_length"`
}

// APIConfig configures the query API server.
type APIConfig struct {
	Listen string `json:"listen" mapstructure:"listen"`
}

// Load reads configuration for the given .open-mem directory.
//
// Precedence (highest to lowest):
//  1. Environment variables (OPENMEM_API_LISTEN, OPENMEM_AI_PROVIDER, ...)
//  2. config.json file values
//  3. Defaults from NewDefaultConfig()
func Load(dir string) (*Config, error) {
	v := viper.New()

	setViperDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("json")
	if dir != "" {
		v.AddConfigPath(dir)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found errors are fine, defaults will apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix("OPENMEM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return cfg, nil
}
