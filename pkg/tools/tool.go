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

// Package tools defines the capabilities the reasoning model can call and
// the adapters that back them.
//
// Every capability implements Tool. Invoke never returns a Go error:
// failures are folded into a Result with StatusError and a readable
// ErrorDetail so the orchestration loop can hand them back to the model.
//
// # Built-in tools
//
//	search_knowledge_base  local vector store
//	web_search             Tavily or Brave
//	google_news            Google News RSS
//	gst_rates              scraped GST rate tables
//	loan_schemes           readable text of the loan scheme page
//	crawl_website          bounded same-site crawl
//	chart_maker            chart specification extracted by the model
//	text_generator         plain answer synthesis
//
// Tools exported by configured MCP servers are appended after these.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/invopop/jsonschema"
)

// Status is the outcome of an invocation.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Descriptor is the immutable catalogue entry the model sees.
type Descriptor struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Invocation is one call requested by the reasoning model.
type Invocation struct {
	CallID    string
	ToolName  string
	Arguments map[string]any
}

// Result is the envelope every adapter returns.
type Result struct {
	CallID      string
	ToolName    string
	Status      Status
	Payload     string
	Data        any
	ErrorDetail string
	Duration    time.Duration
}

// OK reports whether the invocation succeeded.
func (r Result) OK() bool {
	return r.Status == StatusOK
}

// Content is what the reasoning model is shown for this result.
func (r Result) Content() string {
	if r.Status == StatusError {
		return "Error: " + r.ErrorDetail
	}
	return r.Payload
}

// Tool is a capability the orchestration loop can dispatch to.
// Implementations must be safe for concurrent use.
type Tool interface {
	Descriptor() Descriptor
	Invoke(ctx context.Context, inv Invocation) Result
}

// Output is what a typed tool function produces on success.
type Output struct {
	Payload string
	Data    any
}

// Func adapts a typed function into a Tool. Arguments are decoded into A
// through JSON and the input schema is reflected from A.
type Func[A any] struct {
	desc Descriptor
	fn   func(context.Context, A) (Output, error)
}

// NewFunc builds a Func tool. It panics if A cannot be reflected into an
// object schema, which only happens for programming errors.
func NewFunc[A any](name, description string, fn func(context.Context, A) (Output, error)) *Func[A] {
	return &Func[A]{
		desc: Descriptor{
			Name:        name,
			Description: description,
			InputSchema: SchemaFor[A](),
		},
		fn: fn,
	}
}

func (f *Func[A]) Descriptor() Descriptor {
	return f.desc
}

func (f *Func[A]) Invoke(ctx context.Context, inv Invocation) Result {
	start := time.Now()

	var args A
	if err := decodeArgs(inv.Arguments, &args); err != nil {
		return Failed(inv, &ToolInvocationError{Tool: f.desc.Name, CallID: inv.CallID, Kind: KindInvalidArguments, Err: err}, time.Since(start))
	}

	out, err := f.fn(ctx, args)
	if err != nil {
		return Failed(inv, asInvocationError(f.desc.Name, inv.CallID, err), time.Since(start))
	}

	return Result{
		CallID:   inv.CallID,
		ToolName: f.desc.Name,
		Status:   StatusOK,
		Payload:  out.Payload,
		Data:     out.Data,
		Duration: time.Since(start),
	}
}

// Failed builds an error Result for inv.
func Failed(inv Invocation, err error, d time.Duration) Result {
	return Result{
		CallID:      inv.CallID,
		ToolName:    inv.ToolName,
		Status:      StatusError,
		ErrorDetail: err.Error(),
		Duration:    d,
	}
}

// SchemaFor reflects A into an inline JSON object schema.
func SchemaFor[A any]() map[string]any {
	// Unnamed types never get a definition to expand from, and with
	// DoNotReference their root schema is already inline.
	named := reflect.TypeOf((*A)(nil)).Elem().Name() != ""
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             named,
		DoNotReference:             true,
	}

	data, err := json.Marshal(reflector.Reflect(new(A)))
	if err != nil {
		panic(fmt.Sprintf("tools: cannot reflect schema: %v", err))
	}

	var schema map[string]any
	if err := json.Unmarshal(data, &schema); err != nil {
		panic(fmt.Sprintf("tools: cannot decode schema: %v", err))
	}

	delete(schema, "$schema")
	delete(schema, "$id")
	if schema["properties"] == nil {
		schema["properties"] = map[string]any{}
	}
	return schema
}

func decodeArgs(m map[string]any, target any) error {
	if m == nil {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal args: %w", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to unmarshal args: %w", err)
	}
	return nil
}
