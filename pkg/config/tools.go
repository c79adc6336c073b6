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
	"net/url"
	"os"
	"time"
)

// Web search providers.
const (
	SearchTavily = "tavily"
	SearchBrave  = "brave"
)

// Well-known site data sources.
const (
	SiteGSTRates    = "gst_rates"
	SiteLoanSchemes = "loan_schemes"
)

// ToolsConfig configures the external tool adapters.
type ToolsConfig struct {
	WebSearch WebSearchConfig       `yaml:"web_search"`
	News      NewsConfig            `yaml:"news"`
	Sites     map[string]SiteConfig `yaml:"sites"`
	Crawl     CrawlConfig           `yaml:"crawl"`
	MCP       []MCPServerConfig     `yaml:"mcp"`
	Disabled  []string              `yaml:"disabled"`
	// Timeout bounds a single adapter invocation.
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

type WebSearchConfig struct {
	Provider   string `yaml:"provider"`
	APIKey     string `yaml:"api_key"`
	Depth      string `yaml:"depth"`
	MaxResults int    `yaml:"max_results"`
	MaxTokens  int    `yaml:"max_tokens"`
	Endpoint   string `yaml:"endpoint"`
}

type NewsConfig struct {
	MaxArticles int    `yaml:"max_articles"`
	Language    string `yaml:"language"`
	Country     string `yaml:"country"`
	BaseURL     string `yaml:"base_url"`
}

// SiteConfig names a page whose content is exposed as site data.
type SiteConfig struct {
	URL         string `yaml:"url"`
	Description string `yaml:"description"`
}

type CrawlConfig struct {
	MaxDepth       int   `yaml:"max_depth"`
	MaxPages       int   `yaml:"max_pages"`
	PreventOutside *bool `yaml:"prevent_outside"`
	MaxChars       int   `yaml:"max_chars"`

	// AllowPrivateHosts lets the crawler reach loopback, private and
	// link-local addresses. Off by default since the model picks the URL.
	AllowPrivateHosts bool `yaml:"allow_private_hosts"`
}

// MCPServerConfig launches an MCP server over stdio and exposes its tools.
type MCPServerConfig struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
	Tools   []string          `yaml:"tools"`
}

func (c *ToolsConfig) SetDefaults() {
	ws := &c.WebSearch
	if ws.Provider == "" {
		ws.Provider = SearchTavily
	}
	if ws.APIKey == "" {
		switch ws.Provider {
		case SearchTavily:
			ws.APIKey = os.Getenv("TAVILY_API_KEY")
		case SearchBrave:
			ws.APIKey = os.Getenv("BRAVE_API_KEY")
		}
	}
	if ws.Depth == "" {
		ws.Depth = "basic"
	}
	if ws.MaxResults == 0 {
		ws.MaxResults = 5
	}
	if ws.MaxTokens == 0 {
		ws.MaxTokens = 2500
	}

	if c.News.MaxArticles == 0 {
		c.News.MaxArticles = 10
	}
	if c.News.Language == "" {
		c.News.Language = "en-US"
	}
	if c.News.Country == "" {
		c.News.Country = "US"
	}
	if c.News.BaseURL == "" {
		c.News.BaseURL = "https://news.google.com"
	}

	if c.Sites == nil {
		c.Sites = make(map[string]SiteConfig)
	}
	if _, ok := c.Sites[SiteGSTRates]; !ok {
		c.Sites[SiteGSTRates] = SiteConfig{
			URL:         "https://cleartax.in/s/gst-rates",
			Description: "Current GST rate tables by goods and services category.",
		}
	}
	if _, ok := c.Sites[SiteLoanSchemes]; !ok {
		c.Sites[SiteLoanSchemes] = SiteConfig{
			URL:         "https://www.india.gov.in/pradhan-mantri-mudra-yojna",
			Description: "Government MSME loan scheme details (PM Mudra Yojana).",
		}
	}

	if c.Crawl.MaxDepth == 0 {
		c.Crawl.MaxDepth = 2
	}
	if c.Crawl.MaxPages == 0 {
		c.Crawl.MaxPages = 20
	}
	if c.Crawl.PreventOutside == nil {
		prevent := true
		c.Crawl.PreventOutside = &prevent
	}
	if c.Crawl.MaxChars == 0 {
		c.Crawl.MaxChars = 32000
	}

	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (compatible; sahayak/1.0)"
	}
}

func (c *ToolsConfig) Validate() error {
	switch c.WebSearch.Provider {
	case SearchTavily, SearchBrave:
	default:
		return fmt.Errorf("web_search.provider %q is invalid (valid: tavily, brave)", c.WebSearch.Provider)
	}
	for name, site := range c.Sites {
		u, err := url.Parse(site.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("sites.%s.url %q is not an absolute URL", name, site.URL)
		}
	}
	if c.Crawl.MaxDepth < 0 {
		return fmt.Errorf("crawl.max_depth must be non-negative")
	}
	seen := make(map[string]bool)
	for i, s := range c.MCP {
		if s.Name == "" || s.Command == "" {
			return fmt.Errorf("mcp[%d]: name and command are required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("mcp[%d]: duplicate name %q", i, s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

// IsDisabled reports whether a tool has been switched off.
func (c *ToolsConfig) IsDisabled(name string) bool {
	for _, d := range c.Disabled {
		if d == name {
			return true
		}
	}
	return false
}
