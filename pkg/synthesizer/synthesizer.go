// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package synthesizer turns a question and the grounding gathered for it
// into one final answer.
//
// Grounding is laid out in a fixed section order so the model always sees
// the same prompt shape. A section with nothing in it is still rendered,
// with "(no data)" as its body.
package synthesizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/kadirpekel/sahayak/pkg/llms"
)

// Section labels, in prompt order.
const (
	SectionKnowledge = "Knowledge Base Context"
	SectionWeb       = "Web Results"
	SectionNews      = "News"
	SectionLoans     = "Loan Scheme Data"
	SectionGST       = "GST Rate Data"
	SectionOther     = "Other Tool Output"
)

// Order is the fixed section order.
var Order = []string{
	SectionKnowledge,
	SectionWeb,
	SectionNews,
	SectionLoans,
	SectionGST,
	SectionOther,
}

const noData = "(no data)"

// DefaultInstructions is used when no persona is configured.
const DefaultInstructions = `You are an expert assistant for Indian micro, small and medium enterprises (MSMEs).
Give a clear, practical, step-by-step answer to the user's question based on the material below.
Do not mention that material was provided; just answer.
If the material does not cover the question, give your best answer from general knowledge.
After the answer, list the sources you used.`

// Section is one labelled block of grounding.
type Section struct {
	Label   string
	Content string
}

// SectionForTool maps a tool name to the section its output belongs in.
func SectionForTool(tool string) string {
	switch tool {
	case "search_knowledge_base":
		return SectionKnowledge
	case "web_search", "crawl_website":
		return SectionWeb
	case "google_news":
		return SectionNews
	case "loan_schemes":
		return SectionLoans
	case "gst_rates":
		return SectionGST
	default:
		return SectionOther
	}
}

var promptTemplate = template.Must(template.New("synthesis").
	Option("missingkey=error").
	Parse(`{{.Instructions}}
{{range .Sections}}
## {{.Label}}
{{.Content}}
---
{{end}}
## User's Question
{{.Question}}
---
## Final Answer
`))

// SynthesisError reports a failed final generation.
type SynthesisError struct {
	Stage string
	Err   error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed during %s: %v", e.Stage, e.Err)
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithInstructions replaces the persona preamble.
func WithInstructions(text string) Option {
	return func(s *Synthesizer) {
		if strings.TrimSpace(text) != "" {
			s.instructions = text
		}
	}
}

// Synthesizer renders the grounding prompt and asks the completion
// service for the final answer. It holds no per-call state.
type Synthesizer struct {
	llm          llms.Provider
	instructions string
}

func New(llm llms.Provider, opts ...Option) *Synthesizer {
	s := &Synthesizer{llm: llm, instructions: DefaultInstructions}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synthesize answers question from sections. A completion failure is
// returned as a *SynthesisError and is not retried here.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, sections []Section) (string, error) {
	prompt, err := s.Render(question, sections)
	if err != nil {
		return "", &SynthesisError{Stage: "render", Err: err}
	}

	resp, err := s.llm.Complete(ctx, llms.SystemUser("", prompt), nil)
	if err != nil {
		return "", &SynthesisError{Stage: "completion", Err: err}
	}

	answer := strings.TrimSpace(resp.Text)
	if answer == "" {
		return "", &SynthesisError{Stage: "completion", Err: errors.New("empty answer")}
	}

	slog.Debug("Answer synthesized", "sections", len(sections), "chars", len(answer))
	return answer, nil
}

// Render builds the prompt without calling the completion service.
func (s *Synthesizer) Render(question string, sections []Section) (string, error) {
	var b strings.Builder
	err := promptTemplate.Execute(&b, map[string]any{
		"Instructions": s.instructions,
		"Sections":     Arrange(sections),
		"Question":     strings.TrimSpace(question),
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}

// Arrange puts sections in the fixed order. Sections sharing a label are
// merged. Unknown labels follow the fixed ones in the order supplied and
// every fixed label is present, empty ones as "(no data)".
func Arrange(sections []Section) []Section {
	merged := make(map[string][]string)
	var extra []string
	known := make(map[string]bool, len(Order))
	for _, l := range Order {
		known[l] = true
	}

	for _, sec := range sections {
		label := strings.TrimSpace(sec.Label)
		if label == "" {
			label = SectionOther
		}
		if _, seen := merged[label]; !seen && !known[label] {
			extra = append(extra, label)
		}
		if c := strings.TrimSpace(sec.Content); c != "" {
			merged[label] = append(merged[label], c)
		} else if merged[label] == nil {
			merged[label] = []string{}
		}
	}

	out := make([]Section, 0, len(Order)+len(extra))
	for _, label := range append(append([]string{}, Order...), extra...) {
		body := strings.Join(merged[label], "\n\n")
		if body == "" {
			body = noData
		}
		out = append(out, Section{Label: label, Content: body})
	}
	return out
}
