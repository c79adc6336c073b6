// Package utils holds small helpers shared across sahayak packages.
package utils

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts tokens the way a given model's tokenizer would.
//
// When no BPE table can be loaded (offline, unknown model) it falls back to a
// four-characters-per-token estimate, so callers never need to handle an
// error.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
	model    string
}

// Message is the minimal shape needed for chat-format token accounting.
type Message struct {
	Role    string
	Content string
}

var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.Mutex
)

// perMessageOverhead covers <|start|>role ... <|end|> framing.
const perMessageOverhead = 3

// NewTokenCounter returns a counter for model. Encodings are cached per
// encoding name.
func NewTokenCounter(model string) *TokenCounter {
	name := EncodingForModel(model)

	cacheMu.Lock()
	defer cacheMu.Unlock()

	enc, ok := encodingCache[name]
	if !ok {
		var err error
		enc, err = tiktoken.GetEncoding(name)
		if err != nil {
			enc = nil
		}
		encodingCache[name] = enc
	}

	return &TokenCounter{encoding: enc, model: model}
}

// Count returns the token count of text.
func (tc *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	if tc == nil || tc.encoding == nil {
		return EstimateTokens(text)
	}
	return len(tc.encoding.Encode(text, nil, nil))
}

// Truncate cuts text down to at most maxTokens tokens. Without a real
// tokenizer the cut is made at maxTokens*4 bytes on a rune boundary.
func (tc *TokenCounter) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 || text == "" {
		return text
	}
	if tc == nil || tc.encoding == nil {
		limit := maxTokens * 4
		if len(text) <= limit {
			return text
		}
		for limit > 0 && !utf8.RuneStart(text[limit]) {
			limit--
		}
		return text[:limit]
	}

	tokens := tc.encoding.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return tc.encoding.Decode(tokens[:maxTokens])
}

// CountMessages counts a chat transcript including framing overhead and the
// assistant reply primer.
func (tc *TokenCounter) CountMessages(messages []Message) int {
	total := 0
	for _, msg := range messages {
		total += perMessageOverhead + tc.Count(msg.Role) + tc.Count(msg.Content)
	}
	return total + perMessageOverhead
}

// FitWithinLimit keeps the most recent messages whose combined size fits in
// maxTokens. Order is preserved.
func (tc *TokenCounter) FitWithinLimit(messages []Message, maxTokens int) []Message {
	if len(messages) == 0 || maxTokens <= 0 {
		return nil
	}

	used := perMessageOverhead
	start := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		n := perMessageOverhead + tc.Count(messages[i].Role) + tc.Count(messages[i].Content)
		if used+n > maxTokens {
			break
		}
		used += n
		start = i
	}
	return messages[start:]
}

// Model returns the model the counter was created for.
func (tc *TokenCounter) Model() string {
	return tc.model
}

// Exact reports whether a real tokenizer backs the counter.
func (tc *TokenCounter) Exact() bool {
	return tc != nil && tc.encoding != nil
}

// EstimateTokens is the fallback estimate of four characters per token,
// rounded up.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// EncodingForModel maps a model name to its tiktoken encoding. Non-OpenAI
// models are approximated with cl100k_base.
func EncodingForModel(model string) string {
	m := strings.ToLower(model)
	if i := strings.LastIndex(m, "/"); i >= 0 {
		m = m[i+1:]
	}

	switch {
	case strings.HasPrefix(m, "gpt-4o"), strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "gpt-4.1"):
		return "o200k_base"
	default:
		return "cl100k_base"
	}
}
