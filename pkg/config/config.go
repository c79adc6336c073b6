// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config defines the sahayak configuration tree and its loader.
//
// Every section implements SetDefaults and Validate. Config cascades both
// calls, so a zero Config plus SetDefaults is a runnable local setup
// (OpenRouter completion, Gemini embeddings, in-memory chromem index).
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config is the root configuration document.
type Config struct {
	LLM           LLMConfig           `yaml:"llm"`
	Embedder      EmbedderConfig      `yaml:"embedder"`
	Vector        VectorConfig        `yaml:"vector"`
	Retrieval     RetrievalConfig     `yaml:"retrieval"`
	Classifier    ClassifierConfig    `yaml:"classifier"`
	Orchestrator  OrchestratorConfig  `yaml:"orchestrator"`
	Tools         ToolsConfig         `yaml:"tools"`
	Session       SessionConfig       `yaml:"session"`
	Ingest        IngestConfig        `yaml:"ingest"`
	Server        ServerConfig        `yaml:"server"`
	Observability ObservabilityConfig `yaml:"observability"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// Default returns a Config with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills unset fields in every section.
func (c *Config) SetDefaults() {
	c.LLM.SetDefaults()
	c.Embedder.SetDefaults()
	c.Vector.SetDefaults()
	c.Retrieval.SetDefaults()
	c.Classifier.SetDefaults()
	c.Orchestrator.SetDefaults()
	c.Tools.SetDefaults()
	c.Session.SetDefaults()
	c.Ingest.SetDefaults()
	c.Server.SetDefaults()
	c.Observability.SetDefaults()
	c.Logging.SetDefaults()
}

// Validate checks every section and joins the failures.
func (c *Config) Validate() error {
	sections := []struct {
		name string
		v    interface{ Validate() error }
	}{
		{"llm", &c.LLM},
		{"embedder", &c.Embedder},
		{"vector", &c.Vector},
		{"retrieval", &c.Retrieval},
		{"classifier", &c.Classifier},
		{"orchestrator", &c.Orchestrator},
		{"tools", &c.Tools},
		{"session", &c.Session},
		{"ingest", &c.Ingest},
		{"server", &c.Server},
		{"observability", &c.Observability},
		{"logging", &c.Logging},
	}

	var errs []error
	for _, s := range sections {
		if err := s.v.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

// RetrievalConfig controls the knowledge retriever.
type RetrievalConfig struct {
	TopK     int           `yaml:"top_k"`
	Timeout  time.Duration `yaml:"timeout"`
	MinScore float32       `yaml:"min_score"`
}

func (c *RetrievalConfig) SetDefaults() {
	if c.TopK == 0 {
		c.TopK = 5
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
}

func (c *RetrievalConfig) Validate() error {
	if c.TopK < 1 {
		return fmt.Errorf("top_k must be positive, got %d", c.TopK)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative")
	}
	return nil
}

// Classifier policies.
const (
	PolicyMultiSelect = "multi_select"
	PolicySingleBest  = "single_best"
)

// ClassifierConfig selects and tunes the tool classification policy.
type ClassifierConfig struct {
	Policy         string   `yaml:"policy"`
	FallbackTool   string   `yaml:"fallback_tool"`
	DefaultTools   []string `yaml:"default_tools"`
	VisualKeywords []string `yaml:"visual_keywords"`
}

func (c *ClassifierConfig) SetDefaults() {
	if c.Policy == "" {
		c.Policy = PolicyMultiSelect
	}
	if c.FallbackTool == "" {
		c.FallbackTool = "text_generator"
	}
	if len(c.DefaultTools) == 0 {
		c.DefaultTools = []string{"text_generator"}
	}
	if len(c.VisualKeywords) == 0 {
		c.VisualKeywords = []string{"chart", "plot", "graph", "visual"}
	}
}

func (c *ClassifierConfig) Validate() error {
	switch c.Policy {
	case PolicyMultiSelect, PolicySingleBest:
	default:
		return fmt.Errorf("invalid policy %q (valid: %s, %s)", c.Policy, PolicyMultiSelect, PolicySingleBest)
	}
	if c.FallbackTool == "" {
		return fmt.Errorf("fallback_tool is required")
	}
	return nil
}

// OrchestratorConfig bounds the reasoning loop.
type OrchestratorConfig struct {
	MaxRounds      int           `yaml:"max_rounds"`
	TurnTimeout    time.Duration `yaml:"turn_timeout"`
	MaxConcurrency int           `yaml:"max_concurrency"`
	SystemPrompt   string        `yaml:"system_prompt"`
	Domain         string        `yaml:"domain"`
}

func (c *OrchestratorConfig) SetDefaults() {
	if c.MaxRounds == 0 {
		c.MaxRounds = 5
	}
	if c.TurnTimeout == 0 {
		c.TurnTimeout = 2 * time.Minute
	}
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = 4
	}
	if c.Domain == "" {
		c.Domain = "MSME and GST in India"
	}
}

func (c *OrchestratorConfig) Validate() error {
	if c.MaxRounds < 1 {
		return fmt.Errorf("max_rounds must be at least 1")
	}
	if c.TurnTimeout <= 0 {
		return fmt.Errorf("turn_timeout must be positive")
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("max_concurrency must be at least 1")
	}
	return nil
}

// IngestConfig controls document splitting and indexing.
type IngestConfig struct {
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
	Separator    string `yaml:"separator"`
	Concurrency  int    `yaml:"concurrency"`
	BatchSize    int    `yaml:"batch_size"`
	TokenModel   string `yaml:"token_model"`
}

func (c *IngestConfig) SetDefaults() {
	if c.ChunkSize == 0 {
		c.ChunkSize = 1000
	}
	if c.ChunkOverlap == 0 {
		c.ChunkOverlap = 200
	}
	if c.Separator == "" {
		c.Separator = "\n"
	}
	if c.Concurrency == 0 {
		c.Concurrency = 4
	}
	if c.BatchSize == 0 {
		c.BatchSize = 64
	}
	if c.TokenModel == "" {
		c.TokenModel = "gpt-4o"
	}
}

func (c *IngestConfig) Validate() error {
	if c.ChunkSize < 1 {
		return fmt.Errorf("chunk_size must be positive")
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk_overlap must be in [0, chunk_size)")
	}
	if c.Concurrency < 1 || c.BatchSize < 1 {
		return fmt.Errorf("concurrency and batch_size must be positive")
	}
	return nil
}

// LoggingConfig mirrors the CLI logging flags.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
}

func (c *LoggingConfig) Validate() error {
	switch c.Format {
	case "simple", "verbose", "json":
		return nil
	default:
		return fmt.Errorf("invalid format %q (valid: simple, verbose, json)", c.Format)
	}
}
