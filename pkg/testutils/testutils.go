// Package testutils provides test doubles shared across sahayak packages.
package testutils

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kadirpekel/sahayak/pkg/llms"
)

// TestContext returns a context that expires after 5s.
func TestContext() context.Context {
	return TestContextWithTimeout(5 * time.Second)
}

// TestContextWithTimeout returns a context with a custom timeout.
func TestContextWithTimeout(timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	_ = cancel
	return ctx
}

// Call records one Complete invocation.
type Call struct {
	Messages []llms.Message
	Tools    []llms.ToolDefinition
}

// MockLLM replays scripted responses in order. When the script runs out
// the last entry repeats. A ResponseFunc, when set, takes precedence.
type MockLLM struct {
	mu           sync.Mutex
	Responses    []*llms.Response
	Errors       []error
	ResponseFunc func(ctx context.Context, messages []llms.Message, tools []llms.ToolDefinition) (*llms.Response, error)
	calls        []Call
}

// NewMockLLM scripts plain text replies.
func NewMockLLM(texts ...string) *MockLLM {
	m := &MockLLM{}
	for _, t := range texts {
		m.Responses = append(m.Responses, &llms.Response{Text: t, FinishReason: "stop"})
	}
	return m
}

func (m *MockLLM) Complete(ctx context.Context, messages []llms.Message, tools []llms.ToolDefinition) (*llms.Response, error) {
	m.mu.Lock()
	idx := len(m.calls)
	m.calls = append(m.calls, Call{
		Messages: append([]llms.Message(nil), messages...),
		Tools:    append([]llms.ToolDefinition(nil), tools...),
	})
	fn := m.ResponseFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, messages, tools)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if idx < len(m.Errors) && m.Errors[idx] != nil {
		return nil, m.Errors[idx]
	}
	if len(m.Responses) == 0 {
		return nil, fmt.Errorf("mock llm: no scripted response for call %d", idx+1)
	}
	resp := m.Responses[min(idx, len(m.Responses)-1)]
	cp := *resp
	return &cp, nil
}

func (m *MockLLM) ModelName() string { return "mock" }

func (m *MockLLM) Close() error { return nil }

// Calls returns a snapshot of recorded calls.
func (m *MockLLM) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallCount is the number of Complete invocations so far.
func (m *MockLLM) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// LastPrompt returns the content of the final message of the last call.
func (m *MockLLM) LastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return ""
	}
	msgs := m.calls[len(m.calls)-1].Messages
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1].Content
}
