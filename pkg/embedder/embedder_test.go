package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/kadirpekel/sahayak/pkg/config"
)

func TestOpenAIEmbedder_OrdersByIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		var req openAIEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"a", "b"}, req.Input)
		w.Write([]byte(`{"data":[{"embedding":[2,2],"index":1},{"embedding":[1,1],"index":0}]}`))
	}))
	defer server.Close()

	e, err := NewOpenAIEmbedder(config.EmbedderConfig{APIKey: "k", Host: server.URL, Model: "m", Dimension: 2})
	require.NoError(t, err)

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 1}, {2, 2}}, vecs)
	assert.Equal(t, 2, e.Dimension())
}

func TestOpenAIEmbedder_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"input too long"}}`))
	}))
	defer server.Close()

	e, err := NewOpenAIEmbedder(config.EmbedderConfig{APIKey: "k", Host: server.URL, Model: "m"})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input too long")
}

func TestGeminiEmbedder(t *testing.T) {
	calls := 0
	e := &GeminiEmbedder{
		model:     "text-embedding-004",
		dimension: 3,
		embed: func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
			calls++
			if calls == 1 {
				return nil, genai.APIError{Code: 500, Message: "internal"}
			}
			assert.Equal(t, int32(3), *cfg.OutputDimensionality)
			resp := &genai.EmbedContentResponse{}
			for i := range contents {
				resp.Embeddings = append(resp.Embeddings, &genai.ContentEmbedding{Values: []float32{float32(i), 0, 0}})
			}
			return resp, nil
		},
	}

	vecs, err := e.EmbedBatch(context.Background(), []string{"x", "y"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 0, 0}, {1, 0, 0}}, vecs)
	assert.Equal(t, 2, calls)
}

func TestGeminiEmbedder_PermanentError(t *testing.T) {
	calls := 0
	e := &GeminiEmbedder{
		model: "text-embedding-004",
		embed: func(context.Context, string, []*genai.Content, *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
			calls++
			return nil, genai.APIError{Code: 400, Message: "bad"}
		},
	}
	_, err := e.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestNew_Unsupported(t *testing.T) {
	_, err := New(context.Background(), config.EmbedderConfig{Provider: "cohere"})
	assert.Error(t, err)
}
