package classifier

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/sahayak/pkg/config"
	"github.com/kadirpekel/sahayak/pkg/llms"
	"github.com/kadirpekel/sahayak/pkg/testutils"
	"github.com/kadirpekel/sahayak/pkg/tools"
)

func registry() []tools.Descriptor {
	return []tools.Descriptor{
		{Name: "search_knowledge_base", Description: "Local documents."},
		{Name: "web_search", Description: "Live web."},
		{Name: "google_news", Description: "News."},
		{Name: "chart_maker", Description: "Charts."},
		{Name: "text_generator", Description: "Plain text."},
	}
}

func TestNew(t *testing.T) {
	c, err := New(config.ClassifierConfig{}, testutils.NewMockLLM())
	require.NoError(t, err)
	assert.IsType(t, &MultiSelect{}, c)

	c, err = New(config.ClassifierConfig{Policy: config.PolicySingleBest}, testutils.NewMockLLM())
	require.NoError(t, err)
	assert.IsType(t, &SingleBest{}, c)

	_, err = New(config.ClassifierConfig{Policy: "random"}, testutils.NewMockLLM())
	assert.Error(t, err)
}

func TestMultiSelect_Classify(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		reply    string
		want     []string
		none     bool
		fallback bool
	}{
		{
			name:  "double quoted list",
			query: "Latest GST news?",
			reply: `["google_news", "web_search"]`,
			want:  []string{"web_search", "google_news"},
		},
		{
			name:  "single quoted list in prose and fence",
			query: "Show me a chart of GST rates",
			reply: "Sure!\n```python\n['chart_maker', 'text_generator', 'chart_maker']\n```",
			want:  []string{"chart_maker", "text_generator"},
		},
		{
			name:  "unknown names dropped",
			query: "q",
			reply: `["calculator", "web_search"]`,
			want:  []string{"web_search"},
		},
		{
			name:  "none sentinel",
			query: "Hello!",
			reply: `["none"]`,
			none:  true,
		},
		{
			name:     "malformed reply uses default tools",
			query:    "What is Udyam registration?",
			reply:    "I think you should search the web.",
			want:     []string{"text_generator"},
			fallback: true,
		},
		{
			name:     "malformed reply with visual keyword",
			query:    "Plot the GST slabs",
			reply:    "chart_maker and text_generator",
			want:     []string{"chart_maker", "text_generator"},
			fallback: true,
		},
		{
			name:  "bracketed prose before the list",
			query: "q",
			reply: "Based on [context], use ['web_search']",
			want:  []string{"web_search"},
		},
		{
			name:  "first list names only unknown tools",
			query: "q",
			reply: "['context'] so the answer is ['google_news']",
			want:  []string{"google_news"},
		},
		{
			name:     "keyword inside a longer word",
			query:    "Explain paragraph 4 of the notification",
			reply:    "not sure",
			want:     []string{"text_generator"},
			fallback: true,
		},
		{
			name:     "keyword prefix of a longer word",
			query:    "GST on photography services by a chartered accountant",
			reply:    "not sure",
			want:     []string{"text_generator"},
			fallback: true,
		},
		{
			name:     "plural visual keyword",
			query:    "Show graphs of GST collections",
			reply:    "not sure",
			want:     []string{"chart_maker", "text_generator"},
			fallback: true,
		},
		{
			name:     "only unknown names",
			query:    "q",
			reply:    `["calculator"]`,
			want:     []string{"text_generator"},
			fallback: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := testutils.NewMockLLM(tt.reply)
			c := NewMultiSelect(config.ClassifierConfig{}, llm)

			d, err := c.Classify(context.Background(), tt.query, registry(), nil)
			require.NoError(t, err)

			assert.Equal(t, tt.want, d.Tools)
			assert.Equal(t, tt.none, d.None)
			assert.Equal(t, tt.fallback, d.Fallback)
			assert.Equal(t, config.PolicyMultiSelect, d.Policy)
			assert.Equal(t, 1, llm.CallCount())
			assert.Empty(t, llm.Calls()[0].Tools)
		})
	}
}

func TestMultiSelect_MalformedIsDeterministic(t *testing.T) {
	c := NewMultiSelect(config.ClassifierConfig{}, testutils.NewMockLLM("¯\\_(ツ)_/¯"))

	first, err := c.Classify(context.Background(), "How do I file GSTR-3B?", registry(), nil)
	require.NoError(t, err)
	for range 5 {
		again, err := c.Classify(context.Background(), "How do I file GSTR-3B?", registry(), nil)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestMultiSelect_CompletionError(t *testing.T) {
	llm := &testutils.MockLLM{Errors: []error{&llms.ServiceError{Kind: llms.KindUnavailable, Provider: "mock", Message: "down"}}}
	c := NewMultiSelect(config.ClassifierConfig{DefaultTools: []string{"search_knowledge_base", "web_search"}}, llm)

	d, err := c.Classify(context.Background(), "Mudra loan limits", registry(), nil)

	var ce *ClassificationError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "completion", ce.Stage)
	assert.Equal(t, []string{"search_knowledge_base", "web_search"}, d.Tools)
	assert.True(t, d.Fallback)
}

func TestMultiSelect_HeuristicEdges(t *testing.T) {
	c := NewMultiSelect(config.ClassifierConfig{DefaultTools: []string{"missing"}}, nil)

	d := c.heuristic("anything", registry())
	assert.Equal(t, []string{"search_knowledge_base"}, d.Tools)

	d = c.heuristic("anything", nil)
	assert.True(t, d.None)
}

func TestPrompt(t *testing.T) {
	llm := testutils.NewMockLLM(`["web_search"]`)
	c := NewMultiSelect(config.ClassifierConfig{}, llm)

	_, err := c.Classify(context.Background(), "GST on gold?", registry(), Profile{"state": "Gujarat", "sector": "jewellery"})
	require.NoError(t, err)

	prompt := llm.LastPrompt()
	assert.Contains(t, prompt, "- web_search: Live web.\n- google_news: News.\n")
	assert.Contains(t, prompt, "Business Profile:\nsector: jewellery\nstate: Gujarat\n")
	assert.Contains(t, prompt, `User Query: "GST on gold?"`)
}

func TestSingleBest_Classify(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		want     []string
		none     bool
		fallback bool
	}{
		{name: "bare name", reply: "web_search", want: []string{"web_search"}},
		{name: "name in prose", reply: "The best tool is `google_news`.", want: []string{"google_news"}},
		{name: "several names pick registry order", reply: "text_generator or web_search", want: []string{"web_search"}},
		{name: "none", reply: " None ", none: true},
		{name: "case sensitive miss", reply: "WEB_SEARCH", want: []string{"text_generator"}, fallback: true},
		{name: "no match", reply: "calculator", want: []string{"text_generator"}, fallback: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewSingleBest(config.ClassifierConfig{Policy: config.PolicySingleBest}, testutils.NewMockLLM(tt.reply))

			d, err := c.Classify(context.Background(), "q", registry(), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Tools)
			assert.Equal(t, tt.none, d.None)
			assert.Equal(t, tt.fallback, d.Fallback)
			assert.Equal(t, config.PolicySingleBest, d.Policy)
		})
	}
}

func TestSingleBest_CompletionError(t *testing.T) {
	llm := &testutils.MockLLM{Errors: []error{errors.New("boom")}}
	c := NewSingleBest(config.ClassifierConfig{FallbackTool: "web_search"}, llm)

	d, err := c.Classify(context.Background(), "q", registry(), nil)
	assert.Error(t, err)
	assert.Equal(t, []string{"web_search"}, d.Tools)
	assert.True(t, d.Fallback)
}

func TestDecision(t *testing.T) {
	d := Decision{Tools: []string{"web_search", "chart_maker"}}
	assert.True(t, d.Allows("chart_maker"))
	assert.False(t, d.Allows("google_news"))
	assert.Equal(t, "web_search,chart_maker", d.String())

	none := Decision{None: true, Tools: []string{"web_search"}}
	assert.False(t, none.Allows("web_search"))
	assert.Equal(t, "none", none.String())
}
