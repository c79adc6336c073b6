package classifier

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"

	"github.com/kadirpekel/sahayak/pkg/config"
	"github.com/kadirpekel/sahayak/pkg/llms"
	"github.com/kadirpekel/sahayak/pkg/observability"
	"github.com/kadirpekel/sahayak/pkg/tools"
)

const multiSelectFormat = `Respond with a list of the required tool names, for example: ["chart_maker", "text_generator"]
If only a text answer is needed, respond with: ["text_generator"]
If no tool is needed at all, respond with: ["none"]`

var (
	listLiteralRe = regexp.MustCompile(`\[[^\[\]]*\]`)
	quotedRe      = regexp.MustCompile(`["']([^"']*)["']`)
)

// MultiSelect lets the model pick any subset of the registry.
type MultiSelect struct {
	llm    llms.Provider
	cfg    config.ClassifierConfig
	visual []*regexp.Regexp
}

func NewMultiSelect(cfg config.ClassifierConfig, llm llms.Provider) *MultiSelect {
	cfg.SetDefaults()
	return &MultiSelect{llm: llm, cfg: cfg, visual: keywordPatterns(cfg.VisualKeywords)}
}

// keywordPatterns matches each keyword as a whole word, plural allowed, so
// "graph" does not fire on "paragraph" and "chart" not on "chartered".
func keywordPatterns(keywords []string) []*regexp.Regexp {
	var out []*regexp.Regexp
	for _, kw := range keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			out = append(out, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(kw)+`s?\b`))
		}
	}
	return out
}

// Classify never returns an empty decision. On a completion failure the
// heuristic decision is returned together with a *ClassificationError.
func (m *MultiSelect) Classify(ctx context.Context, query string, descriptors []tools.Descriptor, profile Profile) (Decision, error) {
	prompt := buildPrompt(routingInstructions, multiSelectFormat, query, descriptors, profile)

	resp, err := m.llm.Complete(ctx, llms.SystemUser("", prompt), nil)
	if err != nil {
		d := m.heuristic(query, descriptors)
		record(ctx, d)
		return d, &ClassificationError{Policy: config.PolicyMultiSelect, Stage: "completion", Err: err}
	}

	d, err := parseList(resp.Text, names(descriptors))
	if err != nil {
		slog.Warn("Tool classification reply unusable, using heuristic",
			"error", &ClassificationError{Policy: config.PolicyMultiSelect, Stage: "parse", Reply: resp.Text, Err: err})
		d = m.heuristic(query, descriptors)
	}
	d.Policy = config.PolicyMultiSelect

	record(ctx, d)
	slog.Debug("Tools selected", "policy", d.Policy, "tools", d.String(), "fallback", d.Fallback)
	return d, nil
}

// parseList reads the first list literal in reply that names a registered
// tool or the none sentinel. Unknown names are dropped and the result
// follows registry order.
func parseList(reply string, registry []string) (Decision, error) {
	literals := listLiteralRe.FindAllString(reply, -1)
	if len(literals) == 0 {
		return Decision{}, errors.New("no list literal in reply")
	}

	for _, literal := range literals {
		var picked []string
		for _, m := range quotedRe.FindAllStringSubmatch(literal, -1) {
			if name := strings.TrimSpace(m[1]); name != "" {
				picked = append(picked, name)
			}
		}
		if len(picked) == 1 && strings.EqualFold(picked[0], "none") {
			return Decision{None: true}, nil
		}
		if selected := keepRegistered(picked, registry); len(selected) > 0 {
			return Decision{Tools: selected}, nil
		}
	}
	return Decision{}, errors.New("no registered tool named in reply")
}

// heuristic routes visual queries to chart_maker and text_generator and
// everything else to the configured defaults. Names missing from the
// registry are dropped; if nothing is left the first registered tool is
// used, and with an empty registry the decision is None.
func (m *MultiSelect) heuristic(query string, descriptors []tools.Descriptor) Decision {
	registry := names(descriptors)
	d := Decision{Policy: config.PolicyMultiSelect, Fallback: true}

	candidates := m.cfg.DefaultTools
	for _, re := range m.visual {
		if re.MatchString(query) {
			candidates = []string{"chart_maker", "text_generator"}
			break
		}
	}

	d.Tools = keepRegistered(candidates, registry)
	if len(d.Tools) == 0 {
		if len(registry) == 0 {
			d.None = true
			return d
		}
		d.Tools = registry[:1]
	}
	return d
}

func keepRegistered(candidates, registry []string) []string {
	want := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		want[c] = true
	}
	var out []string
	for _, name := range registry {
		if want[name] {
			out = append(out, name)
		}
	}
	return out
}

func record(ctx context.Context, d Decision) {
	n := len(d.Tools)
	if d.None {
		n = 0
	}
	observability.GetGlobalMetrics().RecordClassification(ctx, d.Policy, n, d.Fallback)
}
