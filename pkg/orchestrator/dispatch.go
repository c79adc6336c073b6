package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/kadirpekel/sahayak/pkg/classifier"
	"github.com/kadirpekel/sahayak/pkg/llms"
	"github.com/kadirpekel/sahayak/pkg/session"
	"github.com/kadirpekel/sahayak/pkg/synthesizer"
	"github.com/kadirpekel/sahayak/pkg/tools"
)

const excerptChars = 600

// dispatch runs invs concurrently, at most MaxConcurrency at a time, and
// returns results indexed like invs. It returns once every invocation has
// a result; invocations still running when ctx ends are reported as
// cancelled.
func (e *Engine) dispatch(ctx context.Context, decision classifier.Decision, invs []tools.Invocation) []tools.Result {
	results := make([]tools.Result, len(invs))
	if len(invs) == 0 {
		return results
	}

	sem := semaphore.NewWeighted(int64(min(len(invs), e.cfg.MaxConcurrency)))
	var g errgroup.Group
	for i, inv := range invs {
		if !decision.Allows(inv.ToolName) {
			results[i] = notOffered(inv)
			continue
		}
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i] = cancelled(inv, err)
				return nil
			}
			defer sem.Release(1)
			results[i] = e.invoke(ctx, inv)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// invoke calls the toolbox but stops waiting when ctx ends, so a tool that
// ignores cancellation cannot hold the turn open.
func (e *Engine) invoke(ctx context.Context, inv tools.Invocation) tools.Result {
	done := make(chan tools.Result, 1)
	go func() {
		done <- e.toolbox.Invoke(ctx, inv)
	}()

	var res tools.Result
	select {
	case res = <-done:
	case <-ctx.Done():
		res = cancelled(inv, ctx.Err())
	}
	res.CallID = inv.CallID
	res.ToolName = inv.ToolName
	return res
}

func cancelled(inv tools.Invocation, cause error) tools.Result {
	return tools.Failed(inv, &tools.ToolInvocationError{
		Tool:   inv.ToolName,
		CallID: inv.CallID,
		Kind:   tools.KindTimeout,
		Err:    fmt.Errorf("cancelled: %w", cause),
	}, 0)
}

func notOffered(inv tools.Invocation) tools.Result {
	return tools.Failed(inv, &tools.ToolInvocationError{
		Tool:   inv.ToolName,
		CallID: inv.CallID,
		Kind:   tools.KindNotFound,
		Err:    fmt.Errorf("tool %q is not available for this question", inv.ToolName),
	}, 0)
}

func assistantCalls(text string, invs []tools.Invocation, now time.Time) session.Message {
	calls := make([]session.ToolCall, len(invs))
	for i, inv := range invs {
		calls[i] = session.ToolCall{ID: inv.CallID, Name: inv.ToolName, Arguments: inv.Arguments}
	}
	return session.Message{
		Role:      session.RoleAssistant,
		Content:   text,
		ToolCalls: calls,
		CreatedAt: now,
	}
}

func toLLMMessages(msgs []session.Message) []llms.Message {
	out := make([]llms.Message, len(msgs))
	for i, m := range msgs {
		lm := llms.Message{
			Role:       llms.Role(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.ToolName,
		}
		for _, c := range m.ToolCalls {
			lm.ToolCalls = append(lm.ToolCalls, llms.ToolCall{ID: c.ID, Name: c.Name, Args: c.Arguments})
		}
		out[i] = lm
	}
	return out
}

// sectionsFrom groups successful results under their synthesis labels.
func sectionsFrom(results []tools.Result) []synthesizer.Section {
	var sections []synthesizer.Section
	for _, r := range results {
		if !r.OK() || strings.TrimSpace(r.Payload) == "" {
			continue
		}
		sections = append(sections, synthesizer.Section{
			Label:   synthesizer.SectionForTool(r.ToolName),
			Content: r.Payload,
		})
	}
	return sections
}

func excerpts(results []tools.Result) string {
	var b strings.Builder
	b.WriteString("I could not finish researching this question. Here is what I found so far:")
	n := 0
	for _, r := range results {
		if !r.OK() || strings.TrimSpace(r.Payload) == "" {
			continue
		}
		n++
		fmt.Fprintf(&b, "\n\n[%s]\n%s", r.ToolName, excerpt(r.Payload, excerptChars))
	}
	if n == 0 {
		return "I could not finish researching this question and no source returned usable data. Please try again or rephrase the question."
	}
	return b.String()
}

func excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
