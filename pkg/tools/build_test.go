package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/sahayak/pkg/config"
	"github.com/kadirpekel/sahayak/pkg/testutils"
)

func TestBuildRegistry_Order(t *testing.T) {
	cfg := config.ToolsConfig{
		Sites: map[string]config.SiteConfig{
			"udyam": {URL: "https://udyamregistration.gov.in", Description: "Udyam registration portal."},
		},
		MCP: []config.MCPServerConfig{{Name: "broken", Command: "/nonexistent/sahayak-mcp-server"}},
	}
	cfg.SetDefaults()

	reg, err := BuildRegistry(context.Background(), cfg, Deps{
		Retriever:   &stubRetriever{},
		LLM:         testutils.NewMockLLM("ok"),
		Synthesizer: &stubSynth{},
	})
	require.NoError(t, err)
	defer reg.Close()

	assert.Equal(t, []string{
		"search_knowledge_base",
		"web_search",
		"google_news",
		"gst_rates",
		"loan_schemes",
		"udyam",
		"crawl_website",
		"chart_maker",
		"text_generator",
	}, reg.Names())

	udyam, ok := reg.Get("udyam")
	require.True(t, ok)
	assert.Equal(t, "Udyam registration portal.", udyam.Descriptor().Description)
}

func TestBuildRegistry_DisabledAndMissingDeps(t *testing.T) {
	cfg := config.ToolsConfig{Disabled: []string{"crawl_website", "google_news"}}
	cfg.SetDefaults()

	reg, err := BuildRegistry(context.Background(), cfg, Deps{})
	require.NoError(t, err)

	assert.Equal(t, []string{"web_search", "gst_rates", "loan_schemes"}, reg.Names())
}

type slowTool struct{}

func (slowTool) Descriptor() Descriptor {
	return Descriptor{Name: "slow", InputSchema: map[string]any{"type": "object"}}
}

func (slowTool) Invoke(ctx context.Context, inv Invocation) Result {
	select {
	case <-ctx.Done():
		return Failed(inv, asInvocationError("slow", inv.CallID, ctx.Err()), 0)
	case <-time.After(5 * time.Second):
		return Result{CallID: inv.CallID, ToolName: "slow", Status: StatusOK}
	}
}

func TestWithTimeout(t *testing.T) {
	tool := withTimeout(slowTool{}, 20*time.Millisecond)
	assert.Equal(t, "slow", tool.Descriptor().Name)

	res := tool.Invoke(context.Background(), Invocation{CallID: "c", ToolName: "slow"})
	assert.False(t, res.OK())
	assert.Contains(t, res.ErrorDetail, "(timeout)")

	assert.Equal(t, slowTool{}, withTimeout(slowTool{}, 0))
}

type fakeMCP struct {
	result *mcp.CallToolResult
	err    error
	got    mcp.CallToolRequest
}

func (f *fakeMCP) CallTool(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f.got = req
	return f.result, f.err
}

func TestWrapMCPTools(t *testing.T) {
	listed := []mcp.Tool{
		{Name: "lookup_hsn", Description: "Find the HSN code for a product.", InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{"product": map[string]any{"type": "string"}},
			Required:   []string{"product"},
		}},
		{Name: "file_return", InputSchema: mcp.ToolInputSchema{Type: "object"}},
	}

	all := wrapMCPTools(&fakeMCP{}, config.MCPServerConfig{Name: "gstn"}, listed)
	require.Len(t, all, 2)
	assert.Equal(t, "lookup_hsn", all[0].Descriptor().Name)
	assert.Equal(t, []any{"product"}, all[0].Descriptor().InputSchema["required"])
	assert.Equal(t, "Tool file_return provided by the gstn MCP server.", all[1].Descriptor().Description)
	assert.NotNil(t, all[1].Descriptor().InputSchema["properties"])

	filtered := wrapMCPTools(&fakeMCP{}, config.MCPServerConfig{Name: "gstn", Tools: []string{"file_return"}}, listed)
	require.Len(t, filtered, 1)
	assert.Equal(t, "file_return", filtered[0].Descriptor().Name)
}

func TestMCPTool_Invoke(t *testing.T) {
	listed := []mcp.Tool{{Name: "lookup_hsn", InputSchema: mcp.ToolInputSchema{Type: "object"}}}

	tests := []struct {
		name   string
		fake   *fakeMCP
		status Status
		want   string
	}{
		{
			name:   "text content",
			fake:   &fakeMCP{result: &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent("HSN 1905"), mcp.NewTextContent("Rate 5%")}}},
			status: StatusOK,
			want:   "HSN 1905\nRate 5%",
		},
		{
			name:   "tool error",
			fake:   &fakeMCP{result: &mcp.CallToolResult{IsError: true, Content: []mcp.Content{mcp.NewTextContent("unknown product")}}},
			status: StatusError,
			want:   "unknown product",
		},
		{
			name:   "transport error",
			fake:   &fakeMCP{err: errors.New("broken pipe")},
			status: StatusError,
			want:   "broken pipe",
		},
		{
			name:   "no text",
			fake:   &fakeMCP{result: &mcp.CallToolResult{}},
			status: StatusError,
			want:   "(empty)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool := wrapMCPTools(tt.fake, config.MCPServerConfig{Name: "gstn"}, listed)[0]
			res := tool.Invoke(context.Background(), Invocation{CallID: "c9", ToolName: "lookup_hsn", Arguments: map[string]any{"product": "bread"}})

			assert.Equal(t, tt.status, res.Status)
			assert.Equal(t, "c9", res.CallID)
			assert.Contains(t, res.Content(), tt.want)
			assert.Equal(t, "lookup_hsn", tt.fake.got.Params.Name)
			assert.Equal(t, map[string]any{"product": "bread"}, tt.fake.got.Params.Arguments)
		})
	}
}

func TestEnvSlice(t *testing.T) {
	assert.Nil(t, envSlice(nil))
	assert.Equal(t, []string{"A=1", "B=2"}, envSlice(map[string]string{"B": "2", "A": "1"}))
}
