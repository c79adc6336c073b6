package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/kadirpekel/sahayak/pkg/retrieval"
)

// Retriever is the knowledge base lookup used by search_knowledge_base.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) retrieval.Result
}

type KnowledgeArgs struct {
	Query string `json:"query" jsonschema:"required,description=What to look up in the local MSME and GST document collection"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"description=Maximum number of passages to return,minimum=1,maximum=20"`
}

const noLocalContext = "No relevant information found in the local knowledge base."

// NewKnowledgeTool exposes the local knowledge base. An empty retrieval is a
// successful result that says so.
func NewKnowledgeTool(r Retriever) Tool {
	return NewFunc("search_knowledge_base",
		"Search the local knowledge base of MSME, GST and government scheme documents. Use it first for policy, registration, compliance and scheme questions.",
		func(ctx context.Context, args KnowledgeArgs) (Output, error) {
			query := strings.TrimSpace(args.Query)
			if query == "" {
				return Output{}, &kindError{kind: KindInvalidArguments, err: fmt.Errorf("query is required")}
			}

			passages := r.Retrieve(ctx, query, args.TopK)
			if len(passages) == 0 {
				return Output{Payload: noLocalContext, Data: passages}, nil
			}
			return Output{Payload: passages.Format(), Data: passages}, nil
		})
}
