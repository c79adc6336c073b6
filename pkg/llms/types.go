// Package llms talks to completion services. The engine only depends on the
// Provider interface; OpenAI-compatible endpoints (OpenAI, OpenRouter) and
// Gemini are built in.
package llms

import "context"

// Role is the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of the conversation sent to the service.
type Message struct {
	Role    Role
	Content string

	// ToolCalls is set on assistant messages that requested tools.
	ToolCalls []ToolCall

	// ToolCallID and Name identify the invocation a tool message answers.
	ToolCallID string
	Name       string
}

// ToolCall is a tool invocation requested by the service.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolDefinition advertises a callable tool. Parameters is a JSON schema.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is a completed generation: final text, tool calls, or both.
type Response struct {
	Text         string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        Usage
}

// Provider is a completion service.
type Provider interface {
	// Complete runs one non-streaming generation. An empty tools slice means
	// the service may only answer in text.
	Complete(ctx context.Context, messages []Message, tools []ToolDefinition) (*Response, error)

	ModelName() string

	Close() error
}

// SystemUser builds the two-message conversation used for single-shot
// prompts such as routing and chart specs.
func SystemUser(system, user string) []Message {
	msgs := make([]Message, 0, 2)
	if system != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: system})
	}
	return append(msgs, Message{Role: RoleUser, Content: user})
}
