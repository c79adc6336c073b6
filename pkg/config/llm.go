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

package config

import (
	"fmt"
	"os"
	"time"
)

// LLM provider identifiers.
const (
	LLMOpenAI     = "openai"
	LLMOpenRouter = "openrouter"
	LLMGemini     = "gemini"
)

// LLMConfig configures the completion service.
type LLMConfig struct {
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	Host        string        `yaml:"host"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

func (c *LLMConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = LLMOpenRouter
	}

	switch c.Provider {
	case LLMOpenRouter:
		if c.Host == "" {
			c.Host = "https://openrouter.ai/api/v1"
		}
		if c.Model == "" {
			c.Model = "openai/gpt-4o-mini"
		}
		if c.APIKey == "" {
			c.APIKey = os.Getenv("OPENROUTER_API_KEY")
		}
	case LLMOpenAI:
		if c.Host == "" {
			c.Host = "https://api.openai.com/v1"
		}
		if c.Model == "" {
			c.Model = "gpt-4o-mini"
		}
		if c.APIKey == "" {
			c.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	case LLMGemini:
		if c.Model == "" {
			c.Model = "gemini-2.0-flash"
		}
		if c.APIKey == "" {
			c.APIKey = os.Getenv("GOOGLE_API_KEY")
		}
	}

	if c.Temperature == 0 {
		c.Temperature = 0.2
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 2048
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = time.Second
	}
}

func (c *LLMConfig) Validate() error {
	switch c.Provider {
	case LLMOpenAI, LLMOpenRouter, LLMGemini:
	default:
		return fmt.Errorf("invalid provider %q (valid: openai, openrouter, gemini)", c.Provider)
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must be non-negative")
	}
	return nil
}

// Embedder provider identifiers.
const (
	EmbedderOpenAI = "openai"
	EmbedderGemini = "gemini"
)

// EmbedderConfig configures query and document embeddings.
type EmbedderConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	Host      string `yaml:"host"`
	Dimension int    `yaml:"dimension"`
}

func (c *EmbedderConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = EmbedderGemini
	}

	switch c.Provider {
	case EmbedderGemini:
		if c.Model == "" {
			c.Model = "text-embedding-004"
		}
		if c.Dimension == 0 {
			c.Dimension = 768
		}
		if c.APIKey == "" {
			c.APIKey = os.Getenv("GOOGLE_API_KEY")
		}
	case EmbedderOpenAI:
		if c.Model == "" {
			c.Model = "text-embedding-3-small"
		}
		if c.Dimension == 0 {
			c.Dimension = 1536
		}
		if c.Host == "" {
			c.Host = "https://api.openai.com/v1"
		}
		if c.APIKey == "" {
			c.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
}

func (c *EmbedderConfig) Validate() error {
	switch c.Provider {
	case EmbedderOpenAI, EmbedderGemini:
	default:
		return fmt.Errorf("invalid provider %q (valid: openai, gemini)", c.Provider)
	}
	if c.Dimension < 1 {
		return fmt.Errorf("dimension must be positive")
	}
	return nil
}
