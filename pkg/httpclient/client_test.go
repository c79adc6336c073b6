package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noSleep records requested waits without blocking.
func noSleep(waits *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return ctx.Err()
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		options  []Option
		validate func(t *testing.T, client *Client)
	}{
		{
			name: "default_configuration",
			validate: func(t *testing.T, client *Client) {
				assert.Equal(t, 3, client.maxRetries)
				assert.Equal(t, time.Second, client.baseDelay)
				assert.Equal(t, 30*time.Second, client.maxDelay)
				assert.Equal(t, 60*time.Second, client.client.Timeout)
				assert.NotNil(t, client.strategyFunc)
			},
		},
		{
			name:    "custom_max_retries",
			options: []Option{WithMaxRetries(7)},
			validate: func(t *testing.T, client *Client) {
				assert.Equal(t, 7, client.maxRetries)
			},
		},
		{
			name:    "negative_max_retries_ignored",
			options: []Option{WithMaxRetries(-1)},
			validate: func(t *testing.T, client *Client) {
				assert.Equal(t, 3, client.maxRetries)
			},
		},
		{
			name:    "custom_http_client",
			options: []Option{WithHTTPClient(&http.Client{Timeout: 30 * time.Second})},
			validate: func(t *testing.T, client *Client) {
				assert.Equal(t, 30*time.Second, client.client.Timeout)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.validate(t, New(tt.options...))
		})
	}
}

func TestDefaultRetryStrategy(t *testing.T) {
	tests := []struct {
		code int
		want RetryStrategy
	}{
		{http.StatusTooManyRequests, SmartRetry},
		{http.StatusServiceUnavailable, SmartRetry},
		{http.StatusInternalServerError, ConservativeRetry},
		{http.StatusBadGateway, ConservativeRetry},
		{http.StatusGatewayTimeout, ConservativeRetry},
		{http.StatusBadRequest, NoRetry},
		{http.StatusUnauthorized, NoRetry},
		{http.StatusNotFound, NoRetry},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DefaultRetryStrategy(tt.code), "status %d", tt.code)
	}
}

func TestDo_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, `{"q":"gst"}`, string(body))
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	var waits []time.Duration
	client := New(WithBaseDelay(10 * time.Millisecond))
	client.sleep = noSleep(&waits)

	req, err := http.NewRequest(http.MethodPost, server.URL, strings.NewReader(`{"q":"gst"}`))
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
	require.Len(t, waits, 2)
	assert.Less(t, waits[0], waits[1], "backoff grows exponentially")
}

func TestDo_GivesUpWithRetryableError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	var waits []time.Duration
	client := New(WithMaxRetries(2), WithBaseDelay(time.Millisecond))
	client.sleep = noSleep(&waits)

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	resp, err := client.Do(req)
	require.Error(t, err)
	if resp != nil {
		resp.Body.Close()
	}

	re, ok := AsRetryable(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusTooManyRequests, re.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
	assert.Len(t, waits, 2)
}

func TestDo_NonRetryableStatusIsReturned(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	resp, err := New().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDo_HonoursRetryAfterAndCap(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "120")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	var waits []time.Duration
	client := New(WithMaxDelay(5 * time.Second))
	client.sleep = noSleep(&waits)

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	require.Len(t, waits, 1)
	assert.Equal(t, 5*time.Second, waits[0])
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	client := New(WithBaseDelay(time.Hour), WithMaxDelay(time.Hour))
	client.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return sleepContext(ctx, d)
	}

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	_, err := client.Do(req)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestCalculateDelay_Conservative(t *testing.T) {
	client := New(WithBaseDelay(100 * time.Millisecond))

	first := client.calculateDelay(ConservativeRetry, 0, RateLimitInfo{})
	assert.GreaterOrEqual(t, first, 100*time.Millisecond)
	assert.LessOrEqual(t, first, 110*time.Millisecond)

	assert.Equal(t, time.Duration(0), client.calculateDelay(ConservativeRetry, 2, RateLimitInfo{}))
	assert.Equal(t, time.Duration(0), client.calculateDelay(NoRetry, 0, RateLimitInfo{}))
}

func TestParseOpenAIHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "7")
	h.Set("x-ratelimit-reset", "1700000000000")
	h.Set("x-ratelimit-remaining-requests", "12")

	info := ParseOpenAIHeaders(h)
	assert.Equal(t, 7*time.Second, info.RetryAfter)
	assert.Equal(t, int64(1700000000), info.ResetTime)
	assert.Equal(t, 12, info.RequestsRemaining)

	assert.Equal(t, RateLimitInfo{}, ParseRetryAfter(http.Header{}))
}
