// Package retrieval answers similarity queries against the local
// knowledge base.
//
// Retrieval is advisory: Retrieve never fails. A slow or broken backend
// degrades to an empty Result and a warning so the caller can carry on with
// less grounding.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/sahayak/pkg/config"
	"github.com/kadirpekel/sahayak/pkg/embedder"
	"github.com/kadirpekel/sahayak/pkg/observability"
	"github.com/kadirpekel/sahayak/pkg/vector"
)

// Passage is a ranked chunk of the knowledge base.
type Passage struct {
	ID       string
	Text     string
	Metadata map[string]any
	Score    float32
}

// Source returns the "source" metadata entry, or "unknown".
func (p Passage) Source() string {
	if s, ok := p.Metadata["source"]; ok {
		if str := fmt.Sprint(s); str != "" {
			return str
		}
	}
	return "unknown"
}

// Result is ordered by descending score. It may be empty.
type Result []Passage

// Format renders passages for a prompt, one block per passage.
func (r Result) Format() string {
	if len(r) == 0 {
		return ""
	}
	var b strings.Builder
	for i, p := range r {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] (source: %s, score: %.3f)\n%s", i+1, p.Source(), p.Score, strings.TrimSpace(p.Text))
	}
	return b.String()
}

// Retriever embeds a query and searches one vector collection.
type Retriever struct {
	embedder   embedder.Embedder
	store      vector.Provider
	collection string
	config     config.RetrievalConfig
}

// New creates a Retriever. Zero-valued config fields take their defaults.
func New(emb embedder.Embedder, store vector.Provider, collection string, cfg config.RetrievalConfig) *Retriever {
	cfg.SetDefaults()
	return &Retriever{
		embedder:   emb,
		store:      store,
		collection: collection,
		config:     cfg,
	}
}

// Retrieve returns at most topK passages for query. topK <= 0 means the
// configured default. Failures are logged and produce an empty Result.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) Result {
	res, err := r.RetrieveStrict(ctx, query, topK)
	if err != nil {
		slog.Warn("Knowledge retrieval degraded to empty result", "error", err)
		return Result{}
	}
	return res
}

// RetrieveStrict is Retrieve without degradation: backend failures are
// returned as *RetrievalError.
func (r *Retriever) RetrieveStrict(ctx context.Context, query string, topK int) (Result, error) {
	if topK <= 0 {
		topK = r.config.TopK
	}

	start := time.Now()
	ctx, span := observability.GetTracer("sahayak.retrieval").Start(ctx, observability.SpanRetrieval,
		trace.WithAttributes(attribute.Int(observability.AttrRetrievalTopK, topK)),
	)
	defer span.End()

	res, err := r.search(ctx, query, topK)
	observability.GetGlobalMetrics().RecordRetrieval(ctx, time.Since(start), len(res), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int(observability.AttrRetrievalHits, len(res)))
	return res, nil
}

func (r *Retriever) search(ctx context.Context, query string, topK int) (Result, error) {
	if strings.TrimSpace(query) == "" {
		return Result{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, &RetrievalError{Stage: StageEmbed, Query: query, Err: err}
	}

	hits, err := r.store.Search(ctx, r.collection, vec, topK)
	if err != nil {
		return nil, &RetrievalError{Stage: StageSearch, Query: query, Err: err}
	}

	res := make(Result, 0, len(hits))
	for _, h := range hits {
		if h.Score < r.config.MinScore {
			continue
		}
		res = append(res, Passage{
			ID:       h.ID,
			Text:     h.Content,
			Metadata: h.Metadata,
			Score:    h.Score,
		})
	}

	sort.SliceStable(res, func(i, j int) bool { return res[i].Score > res[j].Score })
	if len(res) > topK {
		res = res[:topK]
	}
	return res, nil
}
