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

package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/kadirpekel/sahayak/pkg/config"
	"github.com/kadirpekel/sahayak/pkg/httpclient"
	"github.com/kadirpekel/sahayak/pkg/utils"
)

const (
	defaultTavilyEndpoint = "https://api.tavily.com/search"
	defaultBraveEndpoint  = "https://api.search.brave.com/res/v1/web/search"
)

type WebSearchArgs struct {
	Query      string `json:"query" jsonschema:"required,description=Search query"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"description=Maximum number of results,minimum=1,maximum=20"`
}

// SearchHit is one web search result.
type SearchHit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// SearchResponse is the Data of a web_search result.
type SearchResponse struct {
	Provider string      `json:"provider"`
	Answer   string      `json:"answer,omitempty"`
	Hits     []SearchHit `json:"results"`
}

type webSearch struct {
	cfg    config.WebSearchConfig
	fetch  *fetcher
	tokens *utils.TokenCounter
}

// NewWebSearchTool searches the live web through Tavily or Brave. The
// rendered payload is cut to cfg.MaxTokens tokens.
func NewWebSearchTool(cfg config.WebSearchConfig, client *httpclient.Client, tokens *utils.TokenCounter) Tool {
	ws := &webSearch{cfg: cfg, fetch: newFetcher(client, ""), tokens: tokens}
	return NewFunc("web_search",
		"Search the live web for current information: recent notifications, deadlines, news coverage and anything the local knowledge base may not have.",
		ws.search)
}

func (w *webSearch) search(ctx context.Context, args WebSearchArgs) (Output, error) {
	query := strings.TrimSpace(args.Query)
	if query == "" {
		return Output{}, &kindError{kind: KindInvalidArguments, err: fmt.Errorf("query is required")}
	}
	if strings.TrimSpace(w.cfg.APIKey) == "" {
		return Output{}, &kindError{kind: KindInvalidArguments, err: fmt.Errorf("%s API key is not configured", w.cfg.Provider)}
	}

	limit := w.cfg.MaxResults
	if args.MaxResults > 0 && args.MaxResults < limit {
		limit = args.MaxResults
	}

	var (
		resp *SearchResponse
		err  error
	)
	switch w.cfg.Provider {
	case config.SearchBrave:
		resp, err = w.brave(ctx, query, limit)
	default:
		resp, err = w.tavily(ctx, query, limit)
	}
	if err != nil {
		return Output{}, err
	}

	if len(resp.Hits) > limit {
		resp.Hits = resp.Hits[:limit]
	}
	if len(resp.Hits) == 0 && resp.Answer == "" {
		return Output{}, errEmpty("no web results for %q", query)
	}

	return Output{
		Payload: w.tokens.Truncate(formatHits(resp), w.cfg.MaxTokens),
		Data:    resp,
	}, nil
}

func (w *webSearch) tavily(ctx context.Context, query string, limit int) (*SearchResponse, error) {
	endpoint := w.cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultTavilyEndpoint
	}

	body, err := json.Marshal(map[string]any{
		"query":          query,
		"search_depth":   w.cfg.Depth,
		"max_results":    limit,
		"include_answer": true,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.cfg.APIKey)

	data, _, err := w.fetch.do(req)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Answer  string      `json:"answer"`
		Results []SearchHit `json:"results"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, errMalformed(fmt.Errorf("tavily response: %w", err))
	}

	return &SearchResponse{Provider: config.SearchTavily, Answer: strings.TrimSpace(parsed.Answer), Hits: parsed.Results}, nil
}

func (w *webSearch) brave(ctx context.Context, query string, limit int) (*SearchResponse, error) {
	endpoint := w.cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultBraveEndpoint
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("count", fmt.Sprint(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", w.cfg.APIKey)

	data, _, err := w.fetch.do(req)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, errMalformed(fmt.Errorf("brave response: %w", err))
	}

	out := &SearchResponse{Provider: config.SearchBrave}
	for _, r := range parsed.Web.Results {
		out.Hits = append(out.Hits, SearchHit{Title: r.Title, URL: r.URL, Content: htmlText(r.Description)})
	}
	return out, nil
}

func formatHits(resp *SearchResponse) string {
	var b strings.Builder
	if resp.Answer != "" {
		fmt.Fprintf(&b, "Summary: %s\n\n", resp.Answer)
	}
	for i, h := range resp.Hits {
		fmt.Fprintf(&b, "%d. %s\n   %s\n   %s\n", i+1, h.Title, h.URL, strings.TrimSpace(h.Content))
	}
	return strings.TrimSpace(b.String())
}
