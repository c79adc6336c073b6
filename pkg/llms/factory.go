package llms

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/sahayak/pkg/config"
	"github.com/kadirpekel/sahayak/pkg/observability"
)

// New creates the configured provider wrapped with tracing and metrics.
func New(ctx context.Context, cfg config.LLMConfig) (Provider, error) {
	var (
		p   Provider
		err error
	)
	switch cfg.Provider {
	case config.LLMOpenAI, config.LLMOpenRouter:
		p, err = NewOpenAIProvider(cfg)
	case config.LLMGemini:
		p, err = NewGeminiProvider(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return Instrument(p, cfg.Provider), nil
}

// Instrument wraps p so every completion produces a span and metrics.
func Instrument(p Provider, providerName string) Provider {
	return &instrumented{Provider: p, provider: providerName}
}

type instrumented struct {
	Provider
	provider string
}

func (i *instrumented) Complete(ctx context.Context, messages []Message, tools []ToolDefinition) (*Response, error) {
	start := time.Now()
	ctx, span := observability.GetTracer("sahayak.llm").Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrLLMModel, i.ModelName()),
			attribute.String(observability.AttrLLMProvider, i.provider),
			attribute.Int("llm.tools_offered", len(tools)),
		),
	)
	defer span.End()

	resp, err := i.Provider.Complete(ctx, messages, tools)
	metrics := observability.GetGlobalMetrics()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.RecordLLMCall(ctx, i.ModelName(), time.Since(start), 0, 0, err)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int(observability.AttrLLMTokensInput, resp.Usage.PromptTokens),
		attribute.Int(observability.AttrLLMTokensOutput, resp.Usage.CompletionTokens),
		attribute.Int(observability.AttrLLMToolCalls, len(resp.ToolCalls)),
	)
	span.SetStatus(codes.Ok, "")
	metrics.RecordLLMCall(ctx, i.ModelName(), time.Since(start), resp.Usage.PromptTokens, resp.Usage.CompletionTokens, nil)
	return resp, nil
}
