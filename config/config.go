package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// ProviderConfig holds the connection settings for one inference backend.
type ProviderConfig struct {
	Endpoint string `toml:"endpoint"`
	Model    string `toml:"model,omitempty"`
	APIKey   string `toml:"api_key,omitempty"`
	Timeout  int    `toml:"timeout_seconds,omitempty"`
}

// CallTimeout resolves the per-call timeout with a sane default.
func (p ProviderConfig) CallTimeout() time.Duration {
	if p.Timeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(p.Timeout) * time.Second
}

// ProvidersConfig selects the primary and fallback classifier by name.
// Providers are an open set, new ones only need an entry here and a
// registered adapter.
type ProvidersConfig struct {
	Primary  string                    `toml:"primary"`
	Fallback string                    `toml:"fallback,omitempty"`
	Backends map[string]ProviderConfig `toml:"backends"`
}

// PipelineConfig tunes the analysis sweep and the opposing-article matcher.
// Scoring weights are tunable, not a bit-exact contract.
type PipelineConfig struct {
	Workers            int      `toml:"workers"`
	SweepInterval      int      `toml:"sweep_interval_seconds"`
	SweepBatch         int      `toml:"sweep_batch"`
	Languages          []string `toml:"languages,omitempty"`
	MaxQueries         int      `toml:"max_queries"`
	CandidatesPerQuery int      `toml:"candidates_per_query"`
	MinRelevance       float64  `toml:"min_relevance"`
	MaxLinks           int      `toml:"max_links"`
	LexicalWeight      float64  `toml:"lexical_weight"`
	BiasWeight         float64  `toml:"bias_weight"`
}

type ServerConfig struct {
	Hostname string `toml:"hostname"`
	Port     int    `toml:"port"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

// Config represents the top-level configuration
type Config struct {
	Database  DatabaseConfig  `toml:"database"`
	Server    ServerConfig    `toml:"server"`
	Providers ProvidersConfig `toml:"providers"`
	Pipeline  PipelineConfig  `toml:"pipeline"`
}

// Default returns the baseline configuration applied before the config file
// and flags are read.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "counterpoint.db"},
		Server:   ServerConfig{Hostname: "localhost", Port: 3000},
		Providers: ProvidersConfig{
			Primary:  "ollama",
			Fallback: "claude",
			Backends: map[string]ProviderConfig{
				"ollama": {Endpoint: "http://localhost:11434", Model: "llama3.1"},
				"claude": {Endpoint: "https://api.anthropic.com", Model: "claude-3-5-haiku-latest"},
			},
		},
		Pipeline: PipelineConfig{
			Workers:            4,
			SweepInterval:      60,
			SweepBatch:         50,
			MaxQueries:         3,
			CandidatesPerQuery: 10,
			MinRelevance:       0.3,
			MaxLinks:           5,
			LexicalWeight:      0.6,
			BiasWeight:         0.4,
		},
	}
}

// LoadConfig reads the TOML configuration file on top of the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}
