package synthesizer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/sahayak/pkg/llms"
	"github.com/kadirpekel/sahayak/pkg/testutils"
)

func TestArrange(t *testing.T) {
	out := Arrange([]Section{
		{Label: SectionGST, Content: "18% on services"},
		{Label: "Weather", Content: "sunny"},
		{Label: SectionKnowledge, Content: "Udyam registration is free"},
		{Label: SectionGST, Content: "5% on trading"},
	})

	labels := make([]string, len(out))
	for i, s := range out {
		labels[i] = s.Label
	}
	assert.Equal(t, append(append([]string{}, Order...), "Weather"), labels)

	assert.Equal(t, "Udyam registration is free", out[0].Content)
	assert.Equal(t, noData, out[1].Content)
	assert.Equal(t, "18% on services\n\n5% on trading", out[4].Content)
	assert.Equal(t, "sunny", out[6].Content)
}

func TestArrange_EmptyInput(t *testing.T) {
	out := Arrange(nil)
	require.Len(t, out, len(Order))
	for _, s := range out {
		assert.Equal(t, noData, s.Content)
	}
}

func TestSectionForTool(t *testing.T) {
	tests := map[string]string{
		"search_knowledge_base": SectionKnowledge,
		"web_search":            SectionWeb,
		"crawl_website":         SectionWeb,
		"google_news":           SectionNews,
		"loan_schemes":          SectionLoans,
		"gst_rates":             SectionGST,
		"chart_maker":           SectionOther,
		"fs_read":               SectionOther,
	}
	for tool, want := range tests {
		assert.Equal(t, want, SectionForTool(tool), tool)
	}
}

func TestRender(t *testing.T) {
	s := New(testutils.NewMockLLM(), WithInstructions("Be brief."))

	prompt, err := s.Render("  What is the GST rate for bakeries?  ", []Section{
		{Label: SectionGST, Content: "Bakery items: 5%"},
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(prompt, "Be brief.\n"))
	assert.True(t, strings.HasSuffix(prompt, "## Final Answer\n"))
	assert.Contains(t, prompt, "## User's Question\nWhat is the GST rate for bakeries?\n")
	assert.Contains(t, prompt, "## GST Rate Data\nBakery items: 5%\n")
	assert.Contains(t, prompt, "## News\n(no data)\n")

	// Fixed order is preserved in the rendered text.
	last := -1
	for _, label := range Order {
		idx := strings.Index(prompt, "## "+label+"\n")
		require.Greater(t, idx, last, label)
		last = idx
	}
}

func TestSynthesize(t *testing.T) {
	llm := testutils.NewMockLLM("  Register on the Udyam portal.  ")
	s := New(llm)

	answer, err := s.Synthesize(context.Background(), "How do I register?", nil)
	require.NoError(t, err)
	assert.Equal(t, "Register on the Udyam portal.", answer)

	calls := llm.Calls()
	require.Len(t, calls, 1)
	assert.Empty(t, calls[0].Tools)
	require.Len(t, calls[0].Messages, 1)
	assert.Equal(t, llms.RoleUser, calls[0].Messages[0].Role)
	assert.Contains(t, calls[0].Messages[0].Content, DefaultInstructions)
}

func TestSynthesize_Errors(t *testing.T) {
	tests := []struct {
		name  string
		llm   *testutils.MockLLM
		stage string
	}{
		{
			name:  "completion failure",
			llm:   &testutils.MockLLM{Errors: []error{&llms.ServiceError{Kind: llms.KindUnavailable, Provider: "mock", Message: "down"}}},
			stage: "completion",
		},
		{
			name:  "empty answer",
			llm:   testutils.NewMockLLM("   "),
			stage: "completion",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.llm).Synthesize(context.Background(), "q", nil)
			require.Error(t, err)

			var se *SynthesisError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.stage, se.Stage)
			assert.Equal(t, 1, tt.llm.CallCount(), "no retry")
		})
	}
}
