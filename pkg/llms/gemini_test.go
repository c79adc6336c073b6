package llms

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/kadirpekel/sahayak/pkg/config"
)

func newTestGemini(fn func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)) *GeminiProvider {
	return &GeminiProvider{
		config: config.LLMConfig{
			Provider:    config.LLMGemini,
			Model:       "gemini-2.0-flash",
			Temperature: 0.2,
			MaxRetries:  2,
			BaseDelay:   time.Millisecond,
		},
		generate: fn,
	}
}

func TestToGenaiContents(t *testing.T) {
	msgs := []Message{
		{Role: RoleSystem, Content: "system prompt"},
		{Role: RoleUser, Content: "what is udyam?"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{
			{ID: "c1", Name: "search_knowledge_base", Args: map[string]any{"query": "udyam"}},
			{ID: "c2", Name: "web_search", Args: map[string]any{"query": "udyam"}},
		}},
		{Role: RoleTool, ToolCallID: "c1", Name: "search_knowledge_base", Content: "kb"},
		{Role: RoleTool, ToolCallID: "c2", Name: "web_search", Content: "web"},
	}

	contents, system := toGenaiContents(msgs)
	require.NotNil(t, system)
	assert.Equal(t, "system prompt", system.Parts[0].Text)

	require.Len(t, contents, 3)
	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "model", contents[1].Role)
	require.Len(t, contents[1].Parts, 2)
	assert.Equal(t, "c2", contents[1].Parts[1].FunctionCall.ID)

	require.Len(t, contents[2].Parts, 2)
	assert.Equal(t, "c1", contents[2].Parts[0].FunctionResponse.ID)
	assert.Equal(t, map[string]any{"result": "web"}, contents[2].Parts[1].FunctionResponse.Response)
}

func TestToGenaiSchema(t *testing.T) {
	s := toGenaiSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "search terms"},
			"kind":  map[string]any{"type": "string", "enum": []any{"bar", "line"}},
		},
		"required": []string{"query"},
	})
	assert.Equal(t, genai.TypeObject, s.Type)
	assert.Equal(t, genai.TypeString, s.Properties["query"].Type)
	assert.Equal(t, []string{"bar", "line"}, s.Properties["kind"].Enum)
	assert.Equal(t, []string{"query"}, s.Required)
	assert.Nil(t, toGenaiSchema(nil))
}

func TestGeminiProvider_Complete(t *testing.T) {
	p := newTestGemini(func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		assert.Equal(t, "gemini-2.0-flash", model)
		require.Len(t, cfg.Tools, 1)
		return &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{
				Content: &genai.Content{Role: "model", Parts: []*genai.Part{
					{Text: "checking"},
					{FunctionCall: &genai.FunctionCall{ID: "x", Name: "google_news", Args: map[string]any{"query": "msme"}}},
				}},
				FinishReason: genai.FinishReasonStop,
			}},
			UsageMetadata: &genai.GenerateContentResponseUsageMetadata{PromptTokenCount: 5, CandidatesTokenCount: 2, TotalTokenCount: 7},
		}, nil
	})

	resp, err := p.Complete(context.Background(), SystemUser("s", "u"), []ToolDefinition{{Name: "google_news"}})
	require.NoError(t, err)
	assert.Equal(t, "checking", resp.Text)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "google_news", resp.ToolCalls[0].Name)
	assert.Equal(t, 7, resp.Usage.TotalTokens)
}

func TestGeminiProvider_RetriesTransient(t *testing.T) {
	calls := 0
	p := newTestGemini(func(context.Context, string, []*genai.Content, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		calls++
		if calls < 3 {
			return nil, genai.APIError{Code: 503, Message: "overloaded"}
		}
		return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: "done"}}},
		}}}, nil
	})

	resp, err := p.Complete(context.Background(), SystemUser("", "u"), nil)
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Text)
	assert.Equal(t, 3, calls)
}

func TestGeminiProvider_PermanentError(t *testing.T) {
	calls := 0
	p := newTestGemini(func(context.Context, string, []*genai.Content, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		calls++
		return nil, genai.APIError{Code: 401, Message: "API key not valid"}
	})

	_, err := p.Complete(context.Background(), SystemUser("", "u"), nil)
	var se *ServiceError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, KindAuth, se.Kind)
	assert.Equal(t, 1, calls)
}

func TestGeminiProvider_EmptyCandidates(t *testing.T) {
	p := newTestGemini(func(context.Context, string, []*genai.Content, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		return &genai.GenerateContentResponse{}, nil
	})
	_, err := p.Complete(context.Background(), SystemUser("", "u"), nil)
	var se *ServiceError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, KindUnknown, se.Kind)
}
