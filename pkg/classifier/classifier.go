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

// Package classifier decides which tools a query may use before the
// reasoning loop starts.
//
// Two policies are available. MultiSelect asks the completion service for a
// list of tool names and falls back to a keyword heuristic when the reply
// cannot be used. SingleBest asks for one name and falls back to a fixed
// tool. Neither policy caches decisions.
package classifier

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kadirpekel/sahayak/pkg/config"
	"github.com/kadirpekel/sahayak/pkg/llms"
	"github.com/kadirpekel/sahayak/pkg/tools"
)

// Profile is optional context about the asking business, such as sector
// or state. It is rendered into the routing prompt.
type Profile map[string]string

// Decision is the set of tools offered to the reasoning model. None means
// no tool is offered and the answer is produced by plain synthesis.
type Decision struct {
	Tools    []string `json:"tools,omitempty"`
	None     bool     `json:"none,omitempty"`
	Policy   string   `json:"policy"`
	Fallback bool     `json:"fallback,omitempty"`
}

// Allows reports whether name is part of the decision.
func (d Decision) Allows(name string) bool {
	if d.None {
		return false
	}
	for _, t := range d.Tools {
		if t == name {
			return true
		}
	}
	return false
}

func (d Decision) String() string {
	if d.None {
		return "none"
	}
	return strings.Join(d.Tools, ",")
}

// Classifier routes a query to tools.
type Classifier interface {
	Classify(ctx context.Context, query string, descriptors []tools.Descriptor, profile Profile) (Decision, error)
}

// New returns the classifier for cfg.Policy.
func New(cfg config.ClassifierConfig, llm llms.Provider) (Classifier, error) {
	cfg.SetDefaults()
	switch cfg.Policy {
	case config.PolicyMultiSelect:
		return NewMultiSelect(cfg, llm), nil
	case config.PolicySingleBest:
		return NewSingleBest(cfg, llm), nil
	default:
		return nil, fmt.Errorf("unknown classifier policy %q", cfg.Policy)
	}
}

// ClassificationError reports a routing failure. A completion failure is
// returned to the caller along with a usable fallback decision; a reply
// that cannot be parsed is only logged.
type ClassificationError struct {
	Policy string
	Stage  string
	Reply  string
	Err    error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classification (%s) failed at %s: %v", e.Policy, e.Stage, e.Err)
}

func (e *ClassificationError) Unwrap() error {
	return e.Err
}

const routingInstructions = `Given the user's query, decide which of the available tools are needed to give a complete answer.`

func buildPrompt(instructions, replyFormat, query string, descriptors []tools.Descriptor, profile Profile) string {
	var b strings.Builder
	b.WriteString(instructions)
	b.WriteString("\n")
	b.WriteString(replyFormat)
	b.WriteString("\n\nAvailable Tools:\n")
	for _, d := range descriptors {
		fmt.Fprintf(&b, "- %s: %s\n", d.Name, d.Description)
	}

	if len(profile) > 0 {
		keys := make([]string, 0, len(profile))
		for k := range profile {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteString("\nBusiness Profile:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %s\n", k, profile[k])
		}
	}

	fmt.Fprintf(&b, "\nUser Query: %q\n", query)
	return b.String()
}

func names(descriptors []tools.Descriptor) []string {
	out := make([]string, len(descriptors))
	for i, d := range descriptors {
		out[i] = d.Name
	}
	return out
}
