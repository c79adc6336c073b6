package retrieval

import (
	"context"
	"errors"
	"fmt"
)

// Retrieval stages.
const (
	StageEmbed  = "embed"
	StageSearch = "search"
)

// RetrievalError reports a failed knowledge-base lookup.
type RetrievalError struct {
	Stage string
	Query string
	Err   error
}

func (e *RetrievalError) Error() string {
	query := e.Query
	if len(query) > 50 {
		query = query[:50] + "..."
	}
	return fmt.Sprintf("retrieval %s failed (query: %q): %v", e.Stage, query, e.Err)
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the lookup ran out of time.
func (e *RetrievalError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}
