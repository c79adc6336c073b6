package tools

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/kadirpekel/sahayak/pkg/config"
	"github.com/kadirpekel/sahayak/pkg/httpclient"
	"github.com/kadirpekel/sahayak/pkg/llms"
	"github.com/kadirpekel/sahayak/pkg/utils"
)

// Deps are the services the built-in tools are wired to. A tool whose
// dependency is nil is left out of the registry.
type Deps struct {
	Retriever   Retriever
	LLM         llms.Provider
	Synthesizer Synthesizer
	HTTP        *httpclient.Client
	Tokens      *utils.TokenCounter
}

// BuildRegistry creates the process-wide registry. Built-in tools are
// registered in a fixed order, followed by extra configured sites and then
// the tools of every MCP server. Disabled tools are skipped and an MCP
// server that fails to start is logged and ignored.
func BuildRegistry(ctx context.Context, cfg config.ToolsConfig, deps Deps) (*Registry, error) {
	reg := NewRegistry()
	if deps.HTTP == nil {
		deps.HTTP = httpclient.New(httpclient.WithMaxDelay(5 * time.Second))
	}

	add := func(t Tool) error {
		name := t.Descriptor().Name
		if cfg.IsDisabled(name) {
			slog.Debug("Tool disabled", "tool", name)
			return nil
		}
		return reg.Register(withTimeout(t, cfg.Timeout))
	}

	var builtins []Tool
	if deps.Retriever != nil {
		builtins = append(builtins, NewKnowledgeTool(deps.Retriever))
	} else {
		slog.Warn("No retriever configured; search_knowledge_base unavailable")
	}
	builtins = append(builtins,
		NewWebSearchTool(cfg.WebSearch, deps.HTTP, deps.Tokens),
		NewNewsTool(cfg.News, deps.HTTP, cfg.UserAgent),
	)
	if site, ok := cfg.Sites[config.SiteGSTRates]; ok {
		builtins = append(builtins, NewGSTRatesTool(site, cfg.Crawl.MaxChars, deps.HTTP, cfg.UserAgent))
	}
	if site, ok := cfg.Sites[config.SiteLoanSchemes]; ok {
		builtins = append(builtins, NewReadableSiteTool(config.SiteLoanSchemes, site, cfg.Crawl.MaxChars, deps.HTTP, cfg.UserAgent))
	}
	for _, name := range extraSites(cfg.Sites) {
		builtins = append(builtins, NewReadableSiteTool(name, cfg.Sites[name], cfg.Crawl.MaxChars, deps.HTTP, cfg.UserAgent))
	}
	builtins = append(builtins, NewCrawlTool(cfg.Crawl, deps.HTTP, cfg.UserAgent))
	if deps.LLM != nil {
		builtins = append(builtins, NewChartTool(deps.LLM))
	}
	if deps.Synthesizer != nil {
		builtins = append(builtins, NewTextGeneratorTool(deps.Synthesizer))
	}

	for _, t := range builtins {
		if err := add(t); err != nil {
			return nil, err
		}
	}

	for _, server := range cfg.MCP {
		srv, err := ConnectMCP(ctx, server)
		if err != nil {
			slog.Warn("MCP server unavailable", "name", server.Name, "error", err)
			continue
		}
		reg.OnClose(srv.Close)
		for _, t := range srv.Tools {
			if err := add(t); err != nil {
				slog.Warn("Skipping MCP tool", "server", server.Name, "error", err)
			}
		}
	}

	slog.Info("Tool registry ready", "tools", reg.Names())
	return reg, nil
}

func extraSites(sites map[string]config.SiteConfig) []string {
	var names []string
	for name := range sites {
		if name != config.SiteGSTRates && name != config.SiteLoanSchemes {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// timeoutTool bounds every invocation of the wrapped tool.
type timeoutTool struct {
	Tool
	timeout time.Duration
}

func withTimeout(t Tool, d time.Duration) Tool {
	if d <= 0 {
		return t
	}
	return &timeoutTool{Tool: t, timeout: d}
}

func (t *timeoutTool) Invoke(ctx context.Context, inv Invocation) Result {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Tool.Invoke(ctx, inv)
}
