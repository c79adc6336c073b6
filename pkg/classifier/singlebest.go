package classifier

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/kadirpekel/sahayak/pkg/config"
	"github.com/kadirpekel/sahayak/pkg/llms"
	"github.com/kadirpekel/sahayak/pkg/tools"
)

const singleBestFormat = `Respond with only the name of the single best tool and nothing else.
If no tool is needed, respond with: none`

var errNoMatch = errors.New("reply names no registered tool")

// SingleBest offers exactly one tool per query.
type SingleBest struct {
	llm llms.Provider
	cfg config.ClassifierConfig
}

func NewSingleBest(cfg config.ClassifierConfig, llm llms.Provider) *SingleBest {
	cfg.SetDefaults()
	return &SingleBest{llm: llm, cfg: cfg}
}

// Classify matches registry names inside the reply. When several names
// appear the one registered first wins; when none does the fallback tool
// is used.
func (s *SingleBest) Classify(ctx context.Context, query string, descriptors []tools.Descriptor, profile Profile) (Decision, error) {
	prompt := buildPrompt(routingInstructions, singleBestFormat, query, descriptors, profile)

	resp, err := s.llm.Complete(ctx, llms.SystemUser("", prompt), nil)
	if err != nil {
		d := s.fallback(descriptors)
		record(ctx, d)
		return d, &ClassificationError{Policy: config.PolicySingleBest, Stage: "completion", Err: err}
	}

	d := s.match(resp.Text, descriptors)
	record(ctx, d)
	slog.Debug("Tool selected", "policy", d.Policy, "tool", d.String(), "fallback", d.Fallback)
	return d, nil
}

func (s *SingleBest) match(reply string, descriptors []tools.Descriptor) Decision {
	trimmed := strings.Trim(strings.TrimSpace(reply), "`'\".")
	if strings.EqualFold(trimmed, "none") {
		return Decision{None: true, Policy: config.PolicySingleBest}
	}

	for _, d := range descriptors {
		if strings.Contains(reply, d.Name) {
			return Decision{Tools: []string{d.Name}, Policy: config.PolicySingleBest}
		}
	}

	slog.Warn("Tool classification reply unusable, using fallback tool",
		"error", &ClassificationError{Policy: config.PolicySingleBest, Stage: "parse", Reply: reply, Err: errNoMatch}, "fallback", s.cfg.FallbackTool)
	return s.fallback(descriptors)
}

func (s *SingleBest) fallback(descriptors []tools.Descriptor) Decision {
	d := Decision{Policy: config.PolicySingleBest, Fallback: true}
	registry := names(descriptors)
	if kept := keepRegistered([]string{s.cfg.FallbackTool}, registry); len(kept) > 0 {
		d.Tools = kept
		return d
	}
	if len(registry) == 0 {
		d.None = true
		return d
	}
	d.Tools = registry[:1]
	return d
}
