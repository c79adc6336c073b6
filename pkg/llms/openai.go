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

package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kadirpekel/sahayak/pkg/config"
	"github.com/kadirpekel/sahayak/pkg/httpclient"
)

// OpenAIProvider speaks the chat completions API. OpenRouter exposes the same
// API under a different host.
type OpenAIProvider struct {
	name       string
	config     config.LLMConfig
	httpClient *httpclient.Client
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
	Tools       []openAITool    `json:"tools,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *openAIError `json:"error,omitempty"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    *string          `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

type openAITool struct {
	Type     string             `json:"type"`
	Function openAIToolFunction `json:"function"`
}

type openAIToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// NewOpenAIProvider creates a provider for any OpenAI-compatible host.
func NewOpenAIProvider(cfg config.LLMConfig, opts ...httpclient.Option) (*OpenAIProvider, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s API key is required", cfg.Provider)
	}

	base := []httpclient.Option{
		httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithBaseDelay(cfg.BaseDelay),
		httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
	}

	return &OpenAIProvider{
		name:       cfg.Provider,
		config:     cfg,
		httpClient: httpclient.New(append(base, opts...)...),
	}, nil
}

func (p *OpenAIProvider) ModelName() string { return p.config.Model }

func (p *OpenAIProvider) Close() error { return nil }

func (p *OpenAIProvider) Complete(ctx context.Context, messages []Message, tools []ToolDefinition) (*Response, error) {
	request := p.buildRequest(messages, tools)

	response, err := p.makeRequest(ctx, request)
	if err != nil {
		return nil, err
	}

	if len(response.Choices) == 0 {
		return nil, &ServiceError{Kind: KindUnknown, Provider: p.name, Message: "no response choices returned"}
	}

	choice := response.Choices[0]
	out := &Response{
		FinishReason: choice.FinishReason,
		Usage: Usage{
			PromptTokens:     response.Usage.PromptTokens,
			CompletionTokens: response.Usage.CompletionTokens,
			TotalTokens:      response.Usage.TotalTokens,
		},
	}
	if choice.Message.Content != nil {
		out.Text = *choice.Message.Content
	}

	toolCalls, err := parseToolCalls(choice.Message.ToolCalls)
	if err != nil {
		return nil, &ServiceError{Kind: KindUnknown, Provider: p.name, Message: "malformed tool call arguments", Err: err}
	}
	out.ToolCalls = toolCalls

	return out, nil
}

func (p *OpenAIProvider) buildRequest(messages []Message, tools []ToolDefinition) openAIRequest {
	out := make([]openAIMessage, 0, len(messages))
	for _, msg := range messages {
		m := openAIMessage{Role: string(msg.Role), ToolCallID: msg.ToolCallID}

		content := msg.Content
		m.Content = &content
		if msg.Role == RoleAssistant && len(msg.ToolCalls) > 0 && content == "" {
			m.Content = nil
		}

		for _, tc := range msg.ToolCalls {
			args, err := json.Marshal(tc.Args)
			if err != nil || tc.Args == nil {
				args = []byte("{}")
			}
			call := openAIToolCall{ID: tc.ID, Type: "function"}
			call.Function.Name = tc.Name
			call.Function.Arguments = string(args)
			m.ToolCalls = append(m.ToolCalls, call)
		}
		out = append(out, m)
	}

	req := openAIRequest{
		Model:       p.config.Model,
		Messages:    out,
		MaxTokens:   p.config.MaxTokens,
		Temperature: p.config.Temperature,
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, openAITool{
			Type: "function",
			Function: openAIToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return req
}

func parseToolCalls(calls []openAIToolCall) ([]ToolCall, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	result := make([]ToolCall, len(calls))
	for i, tc := range calls {
		args := map[string]any{}
		if raw := strings.TrimSpace(tc.Function.Arguments); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				return nil, fmt.Errorf("tool %s: %w", tc.Function.Name, err)
			}
		}
		result[i] = ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: args}
	}
	return result, nil
}

func (p *OpenAIProvider) makeRequest(ctx context.Context, request openAIRequest) (*openAIResponse, error) {
	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, &ServiceError{Kind: KindMalformedRequest, Provider: p.name, Message: "failed to marshal request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(p.config.Host, "/")+"/chat/completions", bytes.NewReader(requestBody))
	if err != nil {
		return nil, &ServiceError{Kind: KindMalformedRequest, Provider: p.name, Message: "failed to create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	if p.name == config.LLMOpenRouter {
		req.Header.Set("X-Title", "sahayak")
	}

	resp, err := p.httpClient.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		var re *httpclient.RetryableError
		if errors.As(err, &re) && resp != nil {
			return nil, p.statusError(resp, err)
		}
		if ctx.Err() != nil {
			return nil, &ServiceError{Kind: KindUnavailable, Provider: p.name, Message: "request cancelled", Err: ctx.Err()}
		}
		return nil, &ServiceError{Kind: KindUnavailable, Provider: p.name, Message: "request failed", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, p.statusError(resp, nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ServiceError{Kind: KindUnavailable, Provider: p.name, Message: "failed to read response", Err: err}
	}

	var parsed openAIResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &ServiceError{Kind: KindUnknown, Provider: p.name, Message: "failed to decode response", Err: err}
	}
	if parsed.Error != nil {
		return nil, &ServiceError{Kind: KindUnknown, Provider: p.name, Message: parsed.Error.Message}
	}
	return &parsed, nil
}

func (p *OpenAIProvider) statusError(resp *http.Response, cause error) *ServiceError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := strings.TrimSpace(string(body))

	var envelope struct {
		Error openAIError `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
		msg = envelope.Error.Message
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	return &ServiceError{
		Kind:       KindForStatus(resp.StatusCode),
		Provider:   p.name,
		StatusCode: resp.StatusCode,
		Message:    msg,
		RetryAfter: httpclient.ParseRetryAfter(resp.Header).RetryAfter,
		Err:        cause,
	}
}

var _ Provider = (*OpenAIProvider)(nil)
