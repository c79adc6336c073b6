package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/sahayak/pkg/classifier"
	"github.com/kadirpekel/sahayak/pkg/config"
	"github.com/kadirpekel/sahayak/pkg/llms"
	"github.com/kadirpekel/sahayak/pkg/retrieval"
	"github.com/kadirpekel/sahayak/pkg/session"
	"github.com/kadirpekel/sahayak/pkg/synthesizer"
	"github.com/kadirpekel/sahayak/pkg/testutils"
	"github.com/kadirpekel/sahayak/pkg/tools"
)

type queryArgs struct {
	Query string `json:"query"`
}

// counter tracks adapter invocations and the peak number in flight.
type counter struct {
	calls    atomic.Int32
	inflight atomic.Int32
	peak     atomic.Int32
}

func (c *counter) enter() func() {
	c.calls.Add(1)
	n := c.inflight.Add(1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	return func() { c.inflight.Add(-1) }
}

// delayedTool answers "<name>: <query>" after delay, honouring ctx.
func delayedTool(name string, delay time.Duration, c *counter) tools.Tool {
	return tools.NewFunc(name, "Test tool "+name, func(ctx context.Context, a queryArgs) (tools.Output, error) {
		if c != nil {
			defer c.enter()()
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return tools.Output{}, ctx.Err()
		}
		return tools.Output{Payload: name + ": " + a.Query}, nil
	})
}

func failingTool(name string) tools.Tool {
	return tools.NewFunc(name, "Always fails", func(ctx context.Context, a queryArgs) (tools.Output, error) {
		return tools.Output{}, errors.New("backend unavailable")
	})
}

type emptyRetriever struct {
	calls atomic.Int32
}

func (r *emptyRetriever) Retrieve(ctx context.Context, query string, topK int) retrieval.Result {
	r.calls.Add(1)
	return nil
}

type stubClassifier struct {
	decision classifier.Decision
	err      error
	calls    atomic.Int32
}

func (s *stubClassifier) Classify(ctx context.Context, query string, descriptors []tools.Descriptor, profile classifier.Profile) (classifier.Decision, error) {
	s.calls.Add(1)
	return s.decision, s.err
}

func allow(names ...string) *stubClassifier {
	return &stubClassifier{decision: classifier.Decision{Tools: names, Policy: "stub"}}
}

type synthCall struct {
	question string
	sections []synthesizer.Section
}

type stubSynth struct {
	mu     sync.Mutex
	answer string
	err    error
	calls  []synthCall
}

func (s *stubSynth) Synthesize(ctx context.Context, question string, sections []synthesizer.Section) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, synthCall{question: question, sections: sections})
	if s.err != nil {
		return "", s.err
	}
	return s.answer, nil
}

func (s *stubSynth) Calls() []synthCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]synthCall(nil), s.calls...)
}

func call(id, name, query string) llms.ToolCall {
	return llms.ToolCall{ID: id, Name: name, Args: map[string]any{"query": query}}
}

func toolReply(calls ...llms.ToolCall) *llms.Response {
	return &llms.Response{ToolCalls: calls, FinishReason: "tool_calls"}
}

func textReply(text string) *llms.Response {
	return &llms.Response{Text: text, FinishReason: "stop"}
}

func fixedClock() func() time.Time {
	at := time.Date(2025, 4, 1, 9, 30, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func sequentialIDs() func() string {
	var n atomic.Int32
	return func() string { return fmt.Sprintf("gen%d", n.Add(1)) }
}

func newRegistry(t *testing.T, ts ...tools.Tool) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	for _, tool := range ts {
		require.NoError(t, reg.Register(tool))
	}
	return reg
}

type harness struct {
	engine *Engine
	llm    *testutils.MockLLM
	synth  *stubSynth
	store  *session.MemoryStore
}

func newHarness(t *testing.T, cfg config.OrchestratorConfig, llm *testutils.MockLLM, reg *tools.Registry, cls classifier.Classifier) *harness {
	t.Helper()
	h := &harness{
		llm:   llm,
		synth: &stubSynth{answer: "synthesized answer"},
		store: session.NewMemoryStore(time.Hour),
	}
	e, err := New(cfg, Deps{
		LLM:         llm,
		Tools:       reg,
		Classifier:  cls,
		Synthesizer: h.synth,
		Store:       h.store,
	}, WithClock(fixedClock()), WithIDGenerator(sequentialIDs()))
	require.NoError(t, err)
	h.engine = e
	return h
}

func toolMessages(msgs []session.Message) []session.Message {
	var out []session.Message
	for _, m := range msgs {
		if m.Role == session.RoleTool {
			out = append(out, m)
		}
	}
	return out
}

// assertCallsMatched checks that every requested call has exactly one
// result, placed after it, and that no result is orphaned.
func assertCallsMatched(t *testing.T, msgs []session.Message) {
	t.Helper()
	issued := make(map[string]int)
	answered := make(map[string]int)
	for i, m := range msgs {
		for _, c := range m.ToolCalls {
			_, dup := issued[c.ID]
			assert.False(t, dup, "call id %s issued twice", c.ID)
			issued[c.ID] = i
		}
		if m.Role == session.RoleTool {
			at, ok := issued[m.ToolCallID]
			require.True(t, ok, "orphaned result %s", m.ToolCallID)
			assert.Less(t, at, i, "result %s precedes its call", m.ToolCallID)
			answered[m.ToolCallID]++
		}
	}
	for id := range issued {
		assert.Equal(t, 1, answered[id], "call %s", id)
	}
}

func TestNew_Validation(t *testing.T) {
	llm := testutils.NewMockLLM("ok")
	reg := tools.NewRegistry()
	full := Deps{LLM: llm, Tools: reg, Classifier: allow(), Synthesizer: &stubSynth{}, Store: session.NewMemoryStore(0)}

	tests := []struct {
		name string
		mut  func(*Deps, *config.OrchestratorConfig)
		want string
	}{
		{name: "llm", mut: func(d *Deps, _ *config.OrchestratorConfig) { d.LLM = nil }, want: "completion provider"},
		{name: "tools", mut: func(d *Deps, _ *config.OrchestratorConfig) { d.Tools = nil }, want: "tool registry"},
		{name: "classifier", mut: func(d *Deps, _ *config.OrchestratorConfig) { d.Classifier = nil }, want: "classifier"},
		{name: "synthesizer", mut: func(d *Deps, _ *config.OrchestratorConfig) { d.Synthesizer = nil }, want: "synthesizer"},
		{name: "store", mut: func(d *Deps, _ *config.OrchestratorConfig) { d.Store = nil }, want: "session store"},
		{name: "config", mut: func(_ *Deps, c *config.OrchestratorConfig) { c.MaxRounds = -1 }, want: "max_rounds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := full
			cfg := config.OrchestratorConfig{}
			tt.mut(&deps, &cfg)
			_, err := New(cfg, deps)
			assert.ErrorContains(t, err, tt.want)
		})
	}

	e, err := New(config.OrchestratorConfig{}, full)
	require.NoError(t, err)
	assert.Contains(t, e.systemPrompt, "MSME and GST in India")
}

func TestAsk_ZeroToolDecision(t *testing.T) {
	web := &counter{}
	retriever := &emptyRetriever{}
	reg := newRegistry(t, tools.NewKnowledgeTool(retriever), delayedTool("web_search", 0, web))
	llm := &testutils.MockLLM{Responses: []*llms.Response{textReply("I can only help with MSME and GST questions.")}}
	cls := &stubClassifier{decision: classifier.Decision{None: true, Policy: "stub"}}
	h := newHarness(t, config.OrchestratorConfig{}, llm, reg, cls)

	ans, err := h.engine.Ask(context.Background(), "", "Who won the cricket match yesterday?", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, llm.CallCount())
	assert.Empty(t, llm.Calls()[0].Tools)
	assert.Zero(t, web.calls.Load())
	assert.Zero(t, retriever.calls.Load())
	assert.Empty(t, h.synth.Calls())

	assert.Equal(t, "I can only help with MSME and GST questions.", ans.Content)
	assert.Zero(t, ans.Rounds)
	assert.False(t, ans.Truncated)
	assert.True(t, ans.Decision.None)
	require.Len(t, ans.Messages, 3)
	assert.Equal(t, session.RoleSystem, ans.Messages[0].Role)
	assert.Equal(t, session.RoleUser, ans.Messages[1].Role)
	assert.Equal(t, session.RoleAssistant, ans.Messages[2].Role)
}

// Scenario A: empty local store, the classifier picks web search, one tool
// round, answer carries web-sourced content.
func TestAsk_WebSearchScenario(t *testing.T) {
	web := tools.NewFunc("web_search", "Search the web", func(ctx context.Context, a queryArgs) (tools.Output, error) {
		return tools.Output{Payload: "Gold and gold jewellery attract 3% GST (cbic.gov.in)."}, nil
	})
	retriever := &emptyRetriever{}
	reg := newRegistry(t, tools.NewKnowledgeTool(retriever), web)

	routing := testutils.NewMockLLM(`["web_search"]`)
	cls := classifier.NewMultiSelect(config.ClassifierConfig{}, routing)

	llm := &testutils.MockLLM{Responses: []*llms.Response{
		toolReply(call("call_1", "web_search", "current GST rate gold India")),
		textReply("According to CBIC, gold attracts 3% GST."),
	}}
	h := newHarness(t, config.OrchestratorConfig{}, llm, reg, cls)

	ans, err := h.engine.Ask(context.Background(), "", "What is the GST rate for gold?", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"web_search"}, ans.Decision.Tools)
	assert.Equal(t, 1, ans.Rounds)
	assert.Contains(t, ans.Content, "3% GST")
	assert.Equal(t, 2, llm.CallCount())

	offered := llm.Calls()[0].Tools
	require.Len(t, offered, 1)
	assert.Equal(t, "web_search", offered[0].Name)

	second := llm.Calls()[1].Messages
	last := second[len(second)-1]
	assert.Equal(t, llms.RoleTool, last.Role)
	assert.Equal(t, "call_1", last.ToolCallID)
	assert.Contains(t, last.Content, "cbic.gov.in")
	assertCallsMatched(t, ans.Messages)
}

// Scenario B: chart and text are both selected, both run, results are
// folded in request order.
func TestAsk_ChartScenario(t *testing.T) {
	chart, text := &counter{}, &counter{}
	reg := newRegistry(t,
		delayedTool("web_search", 0, nil),
		delayedTool("chart_maker", 40*time.Millisecond, chart),
		delayedTool("text_generator", 0, text),
	)

	routing := testutils.NewMockLLM("Use these:\n```\n['chart_maker', 'text_generator']\n```")
	cls := classifier.NewMultiSelect(config.ClassifierConfig{}, routing)

	llm := &testutils.MockLLM{Responses: []*llms.Response{
		toolReply(call("c1", "chart_maker", "GST rates by slab"), call("c2", "text_generator", "GST rate slabs")),
		textReply("The chart and the summary of GST slabs are above."),
	}}
	h := newHarness(t, config.OrchestratorConfig{}, llm, reg, cls)

	ans, err := h.engine.Ask(context.Background(), "", "Show me a chart of GST rates", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"chart_maker", "text_generator"}, ans.Decision.Tools)
	assert.Equal(t, int32(1), chart.calls.Load())
	assert.Equal(t, int32(1), text.calls.Load())

	results := toolMessages(ans.Messages)
	require.Len(t, results, 2)
	assert.Equal(t, "c1", results[0].ToolCallID)
	assert.Equal(t, "chart_maker: GST rates by slab", results[0].Content)
	assert.Equal(t, "c2", results[1].ToolCallID)
	assert.Equal(t, "text_generator: GST rate slabs", results[1].Content)

	var offered []string
	for _, d := range llm.Calls()[0].Tools {
		offered = append(offered, d.Name)
	}
	assert.Equal(t, []string{"chart_maker", "text_generator"}, offered)
	assertCallsMatched(t, ans.Messages)
}

// Scenario C: an unparseable routing reply falls back to the default tool
// set and never reaches the caller as an error.
func TestAsk_MalformedClassifierReply(t *testing.T) {
	reg := newRegistry(t, delayedTool("web_search", 0, nil), delayedTool("text_generator", 0, nil))
	routing := testutils.NewMockLLM("I would probably search for it, maybe.")
	cls := classifier.NewMultiSelect(config.ClassifierConfig{}, routing)
	llm := &testutils.MockLLM{Responses: []*llms.Response{textReply("Udyam registration is free and online.")}}
	h := newHarness(t, config.OrchestratorConfig{}, llm, reg, cls)

	for range 2 {
		ans, err := h.engine.Ask(context.Background(), "", "How do I register for Udyam?", nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"text_generator"}, ans.Decision.Tools)
		assert.True(t, ans.Decision.Fallback)
		assert.Equal(t, "Udyam registration is free and online.", ans.Content)
	}
}

func TestAsk_ClassifierErrorIsAbsorbed(t *testing.T) {
	reg := newRegistry(t, delayedTool("text_generator", 0, nil))
	cls := &stubClassifier{
		decision: classifier.Decision{Tools: []string{"text_generator"}, Policy: "stub", Fallback: true},
		err:      &classifier.ClassificationError{Policy: "stub", Stage: "completion", Err: errors.New("429")},
	}
	llm := &testutils.MockLLM{Responses: []*llms.Response{textReply("answer")}}
	h := newHarness(t, config.OrchestratorConfig{}, llm, reg, cls)

	ans, err := h.engine.Ask(context.Background(), "", "GST on rice?", nil)
	require.NoError(t, err)
	assert.Equal(t, "answer", ans.Content)
	assert.True(t, ans.Decision.Fallback)
}

// Scenario D: the model keeps asking for tools; the loop stops at the
// round cap with a truncated best-effort answer.
func TestAsk_RoundBudget(t *testing.T) {
	web := &counter{}
	reg := newRegistry(t, delayedTool("web_search", 0, web))
	llm := &testutils.MockLLM{Responses: []*llms.Response{
		toolReply(call("call_x", "web_search", "gst composition scheme limits")),
	}}
	h := newHarness(t, config.OrchestratorConfig{MaxRounds: 5}, llm, reg, allow("web_search"))

	ans, err := h.engine.Ask(context.Background(), "", "Explain every GST composition scheme rule", nil)
	require.NoError(t, err)

	assert.True(t, ans.Truncated)
	assert.NotEmpty(t, ans.Warning)
	require.NotNil(t, ans.Budget)
	assert.Equal(t, CauseRounds, ans.Budget.Cause)
	assert.Equal(t, 5, ans.Rounds)
	assert.Equal(t, 6, llm.CallCount())
	assert.Equal(t, int32(5), web.calls.Load())
	assert.Equal(t, "synthesized answer", ans.Content)

	calls := h.synth.Calls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0].sections, 5)
	assert.Equal(t, synthesizer.SectionWeb, calls[0].sections[0].Label)

	results := toolMessages(ans.Messages)
	require.Len(t, results, 6)
	assert.Equal(t, "error", results[5].Status)
	assert.Contains(t, results[5].Content, "limit of 5 tool rounds")
	assertCallsMatched(t, ans.Messages)

	final := ans.Messages[len(ans.Messages)-1]
	assert.Equal(t, session.RoleAssistant, final.Role)
	assert.Equal(t, "synthesized answer", final.Content)
}

func TestAsk_BudgetFallsBackToExcerpts(t *testing.T) {
	reg := newRegistry(t, delayedTool("web_search", 0, nil))
	llm := &testutils.MockLLM{Responses: []*llms.Response{
		toolReply(call("a", "web_search", "udyam")),
	}}
	h := newHarness(t, config.OrchestratorConfig{MaxRounds: 1}, llm, reg, allow("web_search"))
	h.synth.err = errors.New("synthesis down")

	ans, err := h.engine.Ask(context.Background(), "", "Udyam benefits", nil)
	require.NoError(t, err)
	assert.True(t, ans.Truncated)
	assert.True(t, strings.HasPrefix(ans.Content, "I could not finish researching"))
	assert.Contains(t, ans.Content, "[web_search]\nweb_search: udyam")
}

func TestAsk_TurnTimeout(t *testing.T) {
	reg := newRegistry(t, delayedTool("crawl_website", time.Minute, nil))
	llm := &testutils.MockLLM{Responses: []*llms.Response{
		toolReply(call("slow", "crawl_website", "msme.gov.in")),
	}}
	h := newHarness(t, config.OrchestratorConfig{TurnTimeout: 50 * time.Millisecond}, llm, reg, allow("crawl_website"))

	start := time.Now()
	ans, err := h.engine.Ask(context.Background(), "", "Crawl the MSME ministry site", nil)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.True(t, ans.Truncated)
	require.NotNil(t, ans.Budget)
	assert.Equal(t, CauseTimeout, ans.Budget.Cause)
	assert.Equal(t, 1, ans.Rounds)

	results := toolMessages(ans.Messages)
	require.Len(t, results, 1)
	assert.Equal(t, "slow", results[0].ToolCallID)
	assert.Equal(t, "error", results[0].Status)
	assert.Len(t, h.synth.Calls(), 1)
	assertCallsMatched(t, ans.Messages)
}

func TestAsk_StaggeredResultsKeepRequestOrder(t *testing.T) {
	reg := newRegistry(t,
		delayedTool("a", 60*time.Millisecond, nil),
		delayedTool("b", 10*time.Millisecond, nil),
		delayedTool("c", 40*time.Millisecond, nil),
		delayedTool("d", 0, nil),
	)
	llm := &testutils.MockLLM{Responses: []*llms.Response{
		toolReply(call("1", "a", "q1"), call("2", "b", "q2"), call("3", "c", "q3"), call("4", "d", "q4")),
		textReply("done"),
	}}
	h := newHarness(t, config.OrchestratorConfig{MaxConcurrency: 4}, llm, reg, allow("a", "b", "c", "d"))

	ans, err := h.engine.Ask(context.Background(), "", "fan out", nil)
	require.NoError(t, err)

	results := toolMessages(ans.Messages)
	require.Len(t, results, 4)
	for i, want := range []string{"a: q1", "b: q2", "c: q3", "d: q4"} {
		assert.Equal(t, want, results[i].Content)
		assert.Equal(t, fmt.Sprint(i+1), results[i].ToolCallID)
	}
}

func TestAsk_ConcurrencyIsBounded(t *testing.T) {
	c := &counter{}
	reg := newRegistry(t, delayedTool("web_search", 20*time.Millisecond, c))
	var calls []llms.ToolCall
	for i := range 6 {
		calls = append(calls, call(fmt.Sprintf("w%d", i), "web_search", fmt.Sprintf("q%d", i)))
	}
	llm := &testutils.MockLLM{Responses: []*llms.Response{toolReply(calls...), textReply("done")}}
	h := newHarness(t, config.OrchestratorConfig{MaxConcurrency: 2}, llm, reg, allow("web_search"))

	_, err := h.engine.Ask(context.Background(), "", "many searches", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(6), c.calls.Load())
	assert.LessOrEqual(t, c.peak.Load(), int32(2))
}

func TestAsk_FailuresDoNotAbortSiblings(t *testing.T) {
	reg := newRegistry(t, failingTool("google_news"), delayedTool("web_search", 0, nil))
	llm := &testutils.MockLLM{Responses: []*llms.Response{
		toolReply(
			call("n", "google_news", "msme"),
			call("w", "web_search", "msme"),
			call("x", "chart_maker", "msme"),
			call("u", "no_such_tool", "msme"),
		),
		textReply("Here is what I found."),
	}}
	h := newHarness(t, config.OrchestratorConfig{}, llm, reg, allow("google_news", "web_search", "no_such_tool"))

	ans, err := h.engine.Ask(context.Background(), "", "MSME news", nil)
	require.NoError(t, err)
	assert.Equal(t, "Here is what I found.", ans.Content)

	results := toolMessages(ans.Messages)
	require.Len(t, results, 4)

	assert.Equal(t, "error", results[0].Status)
	assert.Contains(t, results[0].Content, "backend unavailable")
	assert.Equal(t, "ok", results[1].Status)
	assert.Equal(t, "error", results[2].Status)
	assert.Contains(t, results[2].Content, "not available for this question")
	assert.Equal(t, "error", results[3].Status)
	assert.Contains(t, results[3].Content, "no tool named")
	assertCallsMatched(t, ans.Messages)
}

func TestAsk_CallIDNormalisation(t *testing.T) {
	reg := newRegistry(t, delayedTool("web_search", 0, nil))
	llm := &testutils.MockLLM{Responses: []*llms.Response{
		toolReply(call("", "web_search", "one"), call("dup", "web_search", "two"), call("dup", "web_search", "three")),
		toolReply(call("dup", "web_search", "four")),
		textReply("done"),
	}}
	h := newHarness(t, config.OrchestratorConfig{}, llm, reg, allow("web_search"))

	ans, err := h.engine.Ask(context.Background(), "", "normalise ids", nil)
	require.NoError(t, err)

	results := toolMessages(ans.Messages)
	require.Len(t, results, 4)
	assert.Equal(t, "call_gen1", results[0].ToolCallID)
	assert.Equal(t, "dup", results[1].ToolCallID)
	assert.Equal(t, "call_gen2", results[2].ToolCallID)
	assert.Equal(t, "call_gen3", results[3].ToolCallID)
	assertCallsMatched(t, ans.Messages)

	// The reasoning model sees the ids it will be answered with.
	second := llm.Calls()[1].Messages
	var seen []string
	for _, m := range second {
		if m.Role == llms.RoleTool {
			seen = append(seen, m.ToolCallID)
		}
	}
	assert.Equal(t, []string{"call_gen1", "dup", "call_gen2"}, seen)
}

func TestAsk_EmptyRetrievalStillEnds(t *testing.T) {
	retriever := &emptyRetriever{}
	reg := newRegistry(t, tools.NewKnowledgeTool(retriever))
	llm := &testutils.MockLLM{Responses: []*llms.Response{
		toolReply(call("k", "search_knowledge_base", "PMEGP subsidy")),
		textReply("PMEGP offers a 15-35% subsidy."),
	}}
	h := newHarness(t, config.OrchestratorConfig{}, llm, reg, allow("search_knowledge_base"))

	ans, err := h.engine.Ask(context.Background(), "", "What is the PMEGP subsidy?", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), retriever.calls.Load())
	assert.Equal(t, "PMEGP offers a 15-35% subsidy.", ans.Content)

	results := toolMessages(ans.Messages)
	require.Len(t, results, 1)
	assert.Equal(t, "ok", results[0].Status)
	assert.Contains(t, results[0].Content, "No relevant information")
}

func TestAsk_EmptyFinalTextIsSynthesized(t *testing.T) {
	reg := newRegistry(t, delayedTool("web_search", 0, nil))
	llm := &testutils.MockLLM{Responses: []*llms.Response{
		toolReply(call("w", "web_search", "gst")),
		textReply("  "),
	}}
	h := newHarness(t, config.OrchestratorConfig{}, llm, reg, allow("web_search"))

	ans, err := h.engine.Ask(context.Background(), "", "gst", nil)
	require.NoError(t, err)
	assert.Equal(t, "synthesized answer", ans.Content)
	assert.False(t, ans.Truncated)
}

func TestAsk_Idempotent(t *testing.T) {
	run := func() []session.Message {
		reg := newRegistry(t,
			delayedTool("web_search", 15*time.Millisecond, nil),
			delayedTool("google_news", 0, nil),
		)
		llm := &testutils.MockLLM{Responses: []*llms.Response{
			toolReply(call("", "web_search", "gst on gold"), call("", "google_news", "gold gst")),
			textReply("Gold attracts 3% GST."),
		}}
		h := newHarness(t, config.OrchestratorConfig{}, llm, reg, allow("web_search", "google_news"))
		ans, err := h.engine.Ask(context.Background(), "", "What is the GST rate for gold?", nil)
		require.NoError(t, err)
		return ans.Messages
	}

	first := run()
	for range 3 {
		assert.Equal(t, first, run())
	}
}

func TestAsk_ReasoningFailure(t *testing.T) {
	reg := newRegistry(t, delayedTool("web_search", 0, nil))
	llm := &testutils.MockLLM{
		Responses: []*llms.Response{toolReply(call("w", "web_search", "gst"))},
		Errors:    []error{nil, &llms.ServiceError{Kind: llms.KindRateLimit, StatusCode: 429, Message: "slow down"}},
	}
	h := newHarness(t, config.OrchestratorConfig{}, llm, reg, allow("web_search"))
	st, err := h.engine.CreateSession(context.Background())
	require.NoError(t, err)

	_, err = h.engine.Ask(context.Background(), st.ID, "gst on tractors", nil)
	var se *synthesizer.SynthesisError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "reasoning", se.Stage)
	var svc *llms.ServiceError
	assert.ErrorAs(t, err, &svc)

	saved, err := h.store.Get(context.Background(), st.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, saved.TurnCount)
	msgs := saved.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, "gst on tractors", msgs[1].Content)
	assert.Equal(t, session.RoleTool, msgs[3].Role)
}

func TestAsk_MultiTurn(t *testing.T) {
	reg := newRegistry(t, delayedTool("web_search", 0, nil))
	llm := testutils.NewMockLLM("first answer", "second answer")
	h := newHarness(t, config.OrchestratorConfig{}, llm, reg, allow("web_search"))

	first, err := h.engine.Ask(context.Background(), "", "What is Udyam?", nil)
	require.NoError(t, err)
	second, err := h.engine.Ask(context.Background(), first.SessionID, "Is it free?", nil)
	require.NoError(t, err)

	assert.Equal(t, first.SessionID, second.SessionID)
	require.Len(t, second.Messages, 5)
	system := 0
	for _, m := range second.Messages {
		if m.Role == session.RoleSystem {
			system++
		}
	}
	assert.Equal(t, 1, system)
	assert.Len(t, llm.Calls()[1].Messages, 4)

	st, err := h.engine.Session(context.Background(), first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, st.TurnCount)
}

func TestAsk_SerialisesTurnsPerSession(t *testing.T) {
	reg := newRegistry(t, delayedTool("web_search", 5*time.Millisecond, nil))
	llm := &testutils.MockLLM{ResponseFunc: func(ctx context.Context, msgs []llms.Message, _ []llms.ToolDefinition) (*llms.Response, error) {
		if msgs[len(msgs)-1].Role == llms.RoleUser {
			return toolReply(call("", "web_search", "q")), nil
		}
		return textReply("ok"), nil
	}}
	h := newHarness(t, config.OrchestratorConfig{}, llm, reg, allow("web_search"))
	st, err := h.engine.CreateSession(context.Background())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.Ask(context.Background(), st.ID, fmt.Sprintf("question %d", i), nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	final, err := h.engine.Session(context.Background(), st.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, final.TurnCount)
	// system + 5 x (user, assistant call, tool, assistant answer)
	assert.Equal(t, 21, final.Len())
	assertCallsMatched(t, final.Messages())
	assert.Empty(t, h.engine.locks.locks)
}

func TestAsk_InputErrors(t *testing.T) {
	h := newHarness(t, config.OrchestratorConfig{}, testutils.NewMockLLM("x"), tools.NewRegistry(), allow())

	_, err := h.engine.Ask(context.Background(), "", "   ", nil)
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = h.engine.Ask(context.Background(), "missing", "hello", nil)
	assert.ErrorIs(t, err, session.ErrNotFound)

	st, err := h.engine.CreateSession(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.engine.EndSession(context.Background(), st.ID))
	_, err = h.engine.Ask(context.Background(), st.ID, "hello", nil)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestAsk_CallerCancellation(t *testing.T) {
	reg := newRegistry(t, delayedTool("web_search", time.Minute, nil))
	llm := &testutils.MockLLM{Responses: []*llms.Response{toolReply(call("w", "web_search", "q"))}}
	h := newHarness(t, config.OrchestratorConfig{}, llm, reg, allow("web_search"))
	st, err := h.engine.CreateSession(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	_, err = h.engine.Ask(ctx, st.ID, "q", nil)
	assert.ErrorIs(t, err, context.Canceled)

	saved, err := h.store.Get(context.Background(), st.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, saved.TurnCount)
	assertCallsMatched(t, saved.Messages())
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "short", excerpt("  short  ", 10))
	assert.Equal(t, "abcde...", excerpt("abcdefghij", 5))
	// Never splits a multi-byte rune.
	assert.Equal(t, "₹...", excerpt("₹₹₹", 4))
}
