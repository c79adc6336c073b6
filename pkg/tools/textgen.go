package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/kadirpekel/sahayak/pkg/synthesizer"
)

// Synthesizer produces a grounded answer.
type Synthesizer interface {
	Synthesize(ctx context.Context, question string, sections []synthesizer.Section) (string, error)
}

type TextArgs struct {
	Question string `json:"question" jsonschema:"required,description=The topic or question to write about"`
	Context  string `json:"context,omitempty" jsonschema:"description=Material to ground the text on"`
}

// NewTextGeneratorTool writes explanatory text through the answer
// synthesizer.
func NewTextGeneratorTool(s Synthesizer) Tool {
	return NewFunc("text_generator",
		"Write a clear explanation, summary or step-by-step guide on a topic, optionally grounded on supplied material. Use it for general explanations that need no live data.",
		func(ctx context.Context, args TextArgs) (Output, error) {
			question := strings.TrimSpace(args.Question)
			if question == "" {
				return Output{}, &kindError{kind: KindInvalidArguments, err: fmt.Errorf("question is required")}
			}

			var sections []synthesizer.Section
			if c := strings.TrimSpace(args.Context); c != "" {
				sections = append(sections, synthesizer.Section{Label: synthesizer.SectionOther, Content: c})
			}

			text, err := s.Synthesize(ctx, question, sections)
			if err != nil {
				return Output{}, err
			}
			return Output{Payload: text}, nil
		})
}
