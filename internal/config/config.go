// Package config loads pipeline settings: code defaults, overlaid by an
// optional YAML file, overlaid by environment variables. Environment wins,
// so deployments can override a checked-in file without editing it.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Settings is the full configuration of the query service.
type Settings struct {
	// Model selection
	RouterModel      string `yaml:"router_model" env:"EDUDOC_ROUTER_MODEL"`
	SynthesizerModel string `yaml:"synthesizer_model" env:"EDUDOC_SYNTHESIZER_MODEL"`
	ReasonerModel    string `yaml:"reasoner_model" env:"EDUDOC_REASONER_MODEL"`
	EmbedderModel    string `yaml:"embedder_model" env:"EDUDOC_EMBEDDER_MODEL"`

	// Retrieval
	DatabaseURL     string `yaml:"database_url" env:"EDUDOC_DATABASE_URL"`
	PassagesTable   string `yaml:"passages_table" env:"EDUDOC_PASSAGES_TABLE"`
	TopK            int    `yaml:"top_k" env:"EDUDOC_TOP_K"`
	AggregationTopK int    `yaml:"aggregation_top_k" env:"EDUDOC_AGGREGATION_TOP_K"`

	// Tool loop
	MaxToolSteps int    `yaml:"max_tool_steps" env:"EDUDOC_MAX_TOOL_STEPS"`
	ExportDir    string `yaml:"export_dir" env:"EDUDOC_EXPORT_DIR"`

	// Call handling
	CallTimeout  time.Duration `yaml:"call_timeout" env:"EDUDOC_CALL_TIMEOUT"`
	RetryBackoff time.Duration `yaml:"retry_backoff" env:"EDUDOC_RETRY_BACKOFF"`

	// Route cache
	RouteCachePath string        `yaml:"route_cache_path" env:"EDUDOC_ROUTE_CACHE_PATH"`
	RouteCacheTTL  time.Duration `yaml:"route_cache_ttl" env:"EDUDOC_ROUTE_CACHE_TTL"`

	// Server
	ListenAddr string `yaml:"listen_addr" env:"EDUDOC_LISTEN_ADDR"`
	LogLevel   string `yaml:"log_level" env:"EDUDOC_LOG_LEVEL"`
}

// Default returns the built-in settings.
func Default() *Settings {
	return &Settings{
		RouterModel:      "googleai/gemini-2.0-flash",
		SynthesizerModel: "googleai/gemini-2.0-flash",
		ReasonerModel:    "googleai/gemini-2.0-flash",
		EmbedderModel:    "text-embedding-004",
		PassagesTable:    "passages",
		TopK:             4,
		AggregationTopK:  12,
		MaxToolSteps:     10,
		ExportDir:        "data/exports",
		CallTimeout:      30 * time.Second,
		RetryBackoff:     2 * time.Second,
		RouteCachePath:   "data/route_cache.json",
		RouteCacheTTL:    24 * time.Hour,
		ListenAddr:       ":8080",
		LogLevel:         "info",
	}
}

// Load builds settings from the defaults, the YAML file at path (optional,
// may be empty or absent), and finally the environment.
func Load(path string) (*Settings, error) {
	s := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := env.Parse(s); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate rejects settings the pipeline cannot run with.
func (s *Settings) Validate() error {
	if s.TopK <= 0 {
		return fmt.Errorf("top_k must be positive, got %d", s.TopK)
	}
	if s.AggregationTopK < s.TopK {
		return fmt.Errorf("aggregation_top_k (%d) must be at least top_k (%d)", s.AggregationTopK, s.TopK)
	}
	if s.MaxToolSteps <= 0 {
		return fmt.Errorf("max_tool_steps must be positive, got %d", s.MaxToolSteps)
	}
	if s.CallTimeout <= 0 {
		return fmt.Errorf("call_timeout must be positive, got %s", s.CallTimeout)
	}
	return nil
}
