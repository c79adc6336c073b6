package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/sahayak/pkg/auth"
	"github.com/kadirpekel/sahayak/pkg/config"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newMemoryLimiter(t *testing.T, limits ...Limit) (*Limiter, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	store.now = clk.now
	l, err := New(store, limits...)
	require.NoError(t, err)
	l.now = clk.now
	return l, clk
}

func TestParseWindow(t *testing.T) {
	for _, s := range []string{"minute", "hour", "day", "week"} {
		w, err := ParseWindow(s)
		require.NoError(t, err)
		assert.Equal(t, Window(s), w)
	}
	_, err := ParseWindow("fortnight")
	assert.Error(t, err)
	assert.Equal(t, 7*24*time.Hour, WindowWeek.Duration())
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, Limit{Window: WindowMinute, Max: 1})
	assert.Error(t, err)
	_, err = New(NewMemoryStore())
	assert.Error(t, err)
	_, err = New(NewMemoryStore(), Limit{Window: WindowMinute, Max: 0})
	assert.Error(t, err)
}

func TestLimiter_Allow(t *testing.T) {
	l, clk := newMemoryLimiter(t, Limit{Window: WindowMinute, Max: 2}, Limit{Window: WindowHour, Max: 3})
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		res, err := l.Allow(ctx, "user:a")
		require.NoError(t, err)
		require.True(t, res.Allowed)
		assert.Equal(t, int64(i), res.Usages[0].Current)
	}

	res, err := l.Allow(ctx, "user:a")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, "rate limit of 2 requests per minute exceeded", res.Reason)
	assert.Equal(t, time.Minute, res.RetryAfter)

	// Other callers have their own counters.
	res, err = l.Allow(ctx, "user:b")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	// Denied requests were not counted, so one hourly slot remains.
	clk.advance(61 * time.Second)
	res, err = l.Allow(ctx, "user:a")
	require.NoError(t, err)
	require.True(t, res.Allowed)
	assert.Equal(t, int64(3), res.Usages[1].Current)
	assert.Equal(t, int64(0), res.Tightest().Remaining)

	clk.advance(61 * time.Second)
	res, err = l.Allow(ctx, "user:a")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, "rate limit of 3 requests per hour exceeded", res.Reason)
	assert.Equal(t, 57*time.Minute+58*time.Second, res.RetryAfter)

	require.NoError(t, l.Reset(ctx, "user:a"))
	res, err = l.Allow(ctx, "user:a")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	_, err = l.Allow(ctx, "")
	assert.Error(t, err)
}

func TestMemoryStore_Sweep(t *testing.T) {
	clk := &clock{t: time.Now()}
	s := NewMemoryStore()
	s.now = clk.now
	ctx := context.Background()

	_, _, err := s.Increment(ctx, "old", time.Second, 1)
	require.NoError(t, err)
	clk.advance(2 * time.Second)
	for i := 1; i < sweepEvery; i++ {
		_, _, err := s.Increment(ctx, "fresh", time.Minute, 1)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, s.Len())

	n, _, err := s.Get(ctx, "fresh", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(sweepEvery-1), n)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s, err := NewRedisStore(context.Background(), client, "test:rl:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	n, _, err := s.Get(ctx, "ip:1.2.3.4:minute", time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, end, err := s.Increment(ctx, "ip:1.2.3.4:minute", time.Minute, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.WithinDuration(t, time.Now().Add(time.Minute), end, 2*time.Second)
	assert.Equal(t, time.Minute, mr.TTL("test:rl:ip:1.2.3.4:minute"))

	n, _, err = s.Increment(ctx, "ip:1.2.3.4:minute", time.Minute, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, _, err = s.Get(ctx, "ip:1.2.3.4:minute", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	mr.FastForward(time.Minute + time.Second)
	n, _, err = s.Get(ctx, "ip:1.2.3.4:minute", time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, _, err = s.Increment(ctx, "k", time.Minute, 1)
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "k"))
	assert.False(t, mr.Exists("test:rl:k"))
}

func TestNewFromConfig(t *testing.T) {
	l, err := NewFromConfig(context.Background(), config.RateLimitConfig{})
	require.NoError(t, err)
	assert.Nil(t, l)

	l, err = NewFromConfig(context.Background(), config.RateLimitConfig{Enabled: true})
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Len(t, l.limits, 2)

	mr := miniredis.RunT(t)
	l, err = NewFromConfig(context.Background(), config.RateLimitConfig{
		Enabled: true,
		Backend: config.RateLimitRedis,
		Redis:   config.RedisConfig{Addr: mr.Addr()},
		Limits:  []config.LimitConfig{{Window: "hour", Limit: 1}},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	res, err := l.Allow(context.Background(), "user:x")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.True(t, mr.Exists("sahayak:ratelimit:user:x:hour"))

	_, err = NewFromConfig(context.Background(), config.RateLimitConfig{
		Enabled: true,
		Limits:  []config.LimitConfig{{Window: "year", Limit: 1}},
	})
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	l, _ := newMemoryLimiter(t, Limit{Window: WindowMinute, Max: 1})
	h := Middleware(l, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(remoteAddr string, claims *auth.Claims) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/sessions/s/messages", nil)
		req.RemoteAddr = remoteAddr
		if claims != nil {
			req = req.WithContext(auth.ContextWithClaims(req.Context(), claims))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := send("10.0.0.1:5000", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = send("10.0.0.1:5001", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate limit of 1 requests per minute exceeded"}`, rec.Body.String())

	// Same address, different subject.
	rec = send("10.0.0.1:5002", &auth.Claims{Subject: "owner-1"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = send("10.0.0.9:5002", &auth.Claims{Subject: "owner-1"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestMiddleware_NilLimiter(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rec := httptest.NewRecorder()
	Middleware(nil, nil)(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
