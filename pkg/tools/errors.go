package tools

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"

	"github.com/kadirpekel/sahayak/pkg/httpclient"
)

// ErrorKind classifies adapter failures.
type ErrorKind string

const (
	KindNetwork          ErrorKind = "network"
	KindTimeout          ErrorKind = "timeout"
	KindHTTPStatus       ErrorKind = "http_status"
	KindEmpty            ErrorKind = "empty"
	KindMalformed        ErrorKind = "malformed"
	KindNotFound         ErrorKind = "not_found"
	KindInvalidArguments ErrorKind = "invalid_arguments"
	KindInternal         ErrorKind = "internal"
)

// ToolInvocationError is an adapter-level failure. It never escapes the
// orchestration loop; its message becomes the ErrorDetail of a Result.
type ToolInvocationError struct {
	Tool       string
	CallID     string
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *ToolInvocationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s failed (%s %d): %v", e.Tool, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s failed (%s): %v", e.Tool, e.Kind, e.Err)
}

func (e *ToolInvocationError) Unwrap() error {
	return e.Err
}

// kindError lets adapter code tag an error with a kind before the tool
// name and call ID are known.
type kindError struct {
	kind   ErrorKind
	status int
	err    error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

func errEmpty(format string, args ...any) error {
	return &kindError{kind: KindEmpty, err: fmt.Errorf(format, args...)}
}

func errMalformed(err error) error {
	return &kindError{kind: KindMalformed, err: err}
}

// asInvocationError wraps err with tool context, inferring the kind when the
// adapter did not tag it.
func asInvocationError(tool, callID string, err error) *ToolInvocationError {
	var tie *ToolInvocationError
	if errors.As(err, &tie) {
		return tie
	}

	out := &ToolInvocationError{Tool: tool, CallID: callID, Kind: KindInternal, Err: err}

	var ke *kindError
	var re *httpclient.RetryableError
	var netErr net.Error
	var urlErr *url.Error
	switch {
	case errors.As(err, &ke):
		out.Kind, out.StatusCode = ke.kind, ke.status
	case errors.Is(err, context.DeadlineExceeded):
		out.Kind = KindTimeout
	case errors.As(err, &re):
		out.Kind, out.StatusCode = KindHTTPStatus, re.StatusCode
		if re.StatusCode == 0 {
			out.Kind = KindNetwork
		}
	case errors.As(err, &netErr) && netErr.Timeout():
		out.Kind = KindTimeout
	case errors.As(err, &urlErr), errors.As(err, &netErr):
		out.Kind = KindNetwork
	}
	return out
}

// RegistryError reports a failed registry operation.
type RegistryError struct {
	Component string
	Action    string
	Message   string
	Err       error
}

func (e *RegistryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Component, e.Action, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Component, e.Action, e.Message)
}

func (e *RegistryError) Unwrap() error {
	return e.Err
}
