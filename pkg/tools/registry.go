package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/sahayak/pkg/llms"
	"github.com/kadirpekel/sahayak/pkg/observability"
	"github.com/kadirpekel/sahayak/pkg/registry"
)

// Registry is the ordered catalogue of tools. It is built once at startup
// and only read afterwards.
type Registry struct {
	*registry.BaseRegistry[Tool]
	closers []func() error
}

func NewRegistry() *Registry {
	return &Registry{
		BaseRegistry: registry.NewBaseRegistry[Tool](),
	}
}

// Register adds t under its descriptor name.
func (r *Registry) Register(t Tool) error {
	name := t.Descriptor().Name
	if err := r.BaseRegistry.Register(name, t); err != nil {
		action := "Register"
		if errors.Is(err, registry.ErrDuplicate) {
			return &RegistryError{Component: "ToolRegistry", Action: action, Message: fmt.Sprintf("tool %q already registered", name), Err: err}
		}
		return &RegistryError{Component: "ToolRegistry", Action: action, Message: "invalid tool name", Err: err}
	}
	return nil
}

// Descriptors returns every descriptor in registration order.
func (r *Registry) Descriptors() []Descriptor {
	list := r.List()
	out := make([]Descriptor, len(list))
	for i, t := range list {
		out[i] = t.Descriptor()
	}
	return out
}

// Len is the number of registered tools.
func (r *Registry) Len() int {
	return r.Count()
}

// Definitions returns the completion-service definitions for names, in
// registry order. Unknown names are skipped. A nil names slice selects
// every tool.
func (r *Registry) Definitions(names []string) []llms.ToolDefinition {
	var want map[string]bool
	if names != nil {
		want = make(map[string]bool, len(names))
		for _, n := range names {
			want[n] = true
		}
	}

	var defs []llms.ToolDefinition
	for _, d := range r.Descriptors() {
		if want != nil && !want[d.Name] {
			continue
		}
		defs = append(defs, llms.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.InputSchema,
		})
	}
	return defs
}

// Invoke dispatches inv to the named tool. Unknown tools and panics become
// error results.
func (r *Registry) Invoke(ctx context.Context, inv Invocation) (res Result) {
	start := time.Now()
	ctx, span := observability.GetTracer("sahayak.tools").Start(ctx, observability.SpanToolInvoke,
		trace.WithAttributes(
			attribute.String(observability.AttrToolName, inv.ToolName),
			attribute.String(observability.AttrToolCallID, inv.CallID),
		),
	)

	defer func() {
		if p := recover(); p != nil {
			slog.Error("Tool panicked", "tool", inv.ToolName, "call_id", inv.CallID, "panic", p, "stack", string(debug.Stack()))
			res = Failed(inv, &ToolInvocationError{Tool: inv.ToolName, CallID: inv.CallID, Kind: KindInternal, Err: fmt.Errorf("panic: %v", p)}, time.Since(start))
		}

		res.CallID = inv.CallID
		res.ToolName = inv.ToolName
		if res.Duration == 0 {
			res.Duration = time.Since(start)
		}

		span.SetAttributes(attribute.String(observability.AttrToolStatus, string(res.Status)))
		if res.Status == StatusError {
			span.SetStatus(codes.Error, res.ErrorDetail)
			slog.Warn("Tool invocation failed", "tool", inv.ToolName, "call_id", inv.CallID, "error", res.ErrorDetail)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
		observability.GetGlobalMetrics().RecordToolInvocation(ctx, inv.ToolName, string(res.Status), res.Duration)
	}()

	t, ok := r.Get(inv.ToolName)
	if !ok {
		return Failed(inv, &ToolInvocationError{
			Tool:   inv.ToolName,
			CallID: inv.CallID,
			Kind:   KindNotFound,
			Err:    fmt.Errorf("no tool named %q is registered", inv.ToolName),
		}, time.Since(start))
	}

	return t.Invoke(ctx, inv)
}

// OnClose registers a cleanup hook run by Close.
func (r *Registry) OnClose(fn func() error) {
	r.closers = append(r.closers, fn)
}

// Close releases resources held by tools, such as MCP server processes.
func (r *Registry) Close() error {
	var errs []error
	for _, fn := range r.closers {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}
