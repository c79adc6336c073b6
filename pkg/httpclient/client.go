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

// Package httpclient wraps net/http with bounded, context-aware retries.
//
// Transient failures (429, 5xx, transport timeouts) are retried with
// exponential backoff plus jitter. The wait never outlives the request
// context and never exceeds the configured maximum delay.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"time"
)

// RetryStrategy tells the client how to react to a status code.
type RetryStrategy int

const (
	NoRetry RetryStrategy = iota
	// ConservativeRetry retries a couple of times with short, fixed waits.
	ConservativeRetry
	// SmartRetry honours rate limit headers and falls back to exponential backoff.
	SmartRetry
)

// RateLimitInfo is what a header parser could learn from a response.
type RateLimitInfo struct {
	RetryAfter        time.Duration
	ResetTime         int64
	RequestsRemaining int
	TokensRemaining   int
}

type RateLimitHeaderParser func(http.Header) RateLimitInfo

type RetryStrategyFunc func(statusCode int) RetryStrategy

// Client is a retrying HTTP client. It is safe for concurrent use.
type Client struct {
	client       *http.Client
	maxRetries   int
	baseDelay    time.Duration
	maxDelay     time.Duration
	headerParser RateLimitHeaderParser
	strategyFunc RetryStrategyFunc
	sleep        func(ctx context.Context, d time.Duration) error
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

func WithMaxRetries(max int) Option {
	return func(c *Client) {
		if max >= 0 {
			c.maxRetries = max
		}
	}
}

func WithBaseDelay(delay time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = delay
	}
}

// WithMaxDelay caps a single backoff wait.
func WithMaxDelay(delay time.Duration) Option {
	return func(c *Client) {
		c.maxDelay = delay
	}
}

func WithHeaderParser(parser RateLimitHeaderParser) Option {
	return func(c *Client) {
		c.headerParser = parser
	}
}

func WithRetryStrategy(strategyFunc RetryStrategyFunc) Option {
	return func(c *Client) {
		c.strategyFunc = strategyFunc
	}
}

// New returns a client with 60s timeout, 3 retries, 1s base delay and a
// 30s cap per wait.
func New(opts ...Option) *Client {
	client := &Client{
		client:       &http.Client{Timeout: 60 * time.Second},
		maxRetries:   3,
		baseDelay:    time.Second,
		maxDelay:     30 * time.Second,
		headerParser: ParseRetryAfter,
		strategyFunc: DefaultRetryStrategy,
		sleep:        sleepContext,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// DefaultRetryStrategy maps status codes to strategies.
func DefaultRetryStrategy(statusCode int) RetryStrategy {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusServiceUnavailable:
		return SmartRetry
	case http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusGatewayTimeout:
		return ConservativeRetry
	default:
		return NoRetry
	}
}

// Do sends req, retrying transient failures. Requests with a body must have
// GetBody set (http.NewRequest does this for common body types) to be retried.
//
// A non-retryable non-2xx response is returned as-is with a nil error so the
// caller can read the body. When retries are exhausted the last response is
// returned together with a *RetryableError.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	for attempt := 0; ; attempt++ {
		if attempt > 0 && req.Body != nil {
			if req.GetBody == nil {
				return nil, fmt.Errorf("cannot retry request with non-rewindable body")
			}
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("failed to recreate request body for retry: %w", err)
			}
			req.Body = body
		}

		resp, err := c.client.Do(req)

		strategy, info := c.classify(resp, err)
		if strategy == NoRetry {
			return resp, err
		}

		delay := c.calculateDelay(strategy, attempt, info)
		if attempt >= c.maxRetries || delay <= 0 {
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}
			if err == nil {
				err = fmt.Errorf("HTTP %d", status)
			}
			return resp, &RetryableError{
				StatusCode: status,
				Message:    fmt.Sprintf("giving up after %d attempts", attempt+1),
				RetryAfter: delay,
				Err:        err,
			}
		}

		if resp != nil {
			drain(resp)
		}
		logRetry(req, strategy, delay, attempt, resp, err)

		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (c *Client) classify(resp *http.Response, err error) (RetryStrategy, RateLimitInfo) {
	if err != nil {
		if isTransient(err) {
			return ConservativeRetry, RateLimitInfo{}
		}
		return NoRetry, RateLimitInfo{}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return NoRetry, RateLimitInfo{}
	}

	var info RateLimitInfo
	if c.headerParser != nil {
		info = c.headerParser(resp.Header)
	}
	return c.strategyFunc(resp.StatusCode), info
}

func (c *Client) calculateDelay(strategy RetryStrategy, attempt int, info RateLimitInfo) time.Duration {
	var delay time.Duration

	switch strategy {
	case SmartRetry:
		switch {
		case info.RetryAfter > 0:
			delay = info.RetryAfter
		case info.ResetTime > 0 && time.Until(time.Unix(info.ResetTime, 0)) > 0:
			delay = time.Until(time.Unix(info.ResetTime, 0))
		default:
			delay = c.backoff(attempt)
		}
	case ConservativeRetry:
		if attempt >= 2 {
			return 0
		}
		delay = c.backoff(attempt)
	default:
		return 0
	}

	if c.maxDelay > 0 && delay > c.maxDelay {
		delay = c.maxDelay
	}
	return delay
}

// backoff is base * 2^attempt plus up to 10% jitter.
func (c *Client) backoff(attempt int) time.Duration {
	exp := time.Duration(math.Pow(2, float64(attempt))) * c.baseDelay
	if exp <= 0 {
		return 0
	}
	jitter := time.Duration(rand.Int64N(int64(exp)/10 + 1))
	return exp + jitter
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func logRetry(req *http.Request, strategy RetryStrategy, delay time.Duration, attempt int, resp *http.Response, err error) {
	attrs := []any{"host", req.URL.Host, "delay", delay, "attempt", attempt + 1}
	if resp != nil {
		attrs = append(attrs, "status", resp.StatusCode)
	}
	if err != nil {
		attrs = append(attrs, "error", err)
	}

	if strategy == SmartRetry {
		slog.Warn("Rate limited, backing off", attrs...)
		return
	}
	slog.Debug("Transient HTTP failure, retrying", attrs...)
}
