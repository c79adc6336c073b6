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

// Package ratelimit enforces per-caller request quotas over fixed time
// windows.
//
// A Limiter holds one or more limits, for example 20 per minute and 500 per
// day. Allow admits a request only when every window still has room, and
// only admitted requests are counted. Counters live in a Store: in memory
// for a single instance, or in Redis when several instances share quotas.
//
//	rate_limit:
//	  enabled: true
//	  backend: redis
//	  limits:
//	    - window: minute
//	      limit: 20
//	    - window: day
//	      limit: 500
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kadirpekel/sahayak/pkg/config"
)

// Window is a fixed counting period.
type Window string

const (
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
	WindowDay    Window = "day"
	WindowWeek   Window = "week"
)

// ParseWindow validates a configured window name.
func ParseWindow(s string) (Window, error) {
	switch w := Window(s); w {
	case WindowMinute, WindowHour, WindowDay, WindowWeek:
		return w, nil
	default:
		return "", fmt.Errorf("unknown window %q", s)
	}
}

func (w Window) Duration() time.Duration {
	switch w {
	case WindowMinute:
		return time.Minute
	case WindowHour:
		return time.Hour
	case WindowDay:
		return 24 * time.Hour
	case WindowWeek:
		return 7 * 24 * time.Hour
	default:
		return time.Hour
	}
}

// Limit allows at most Max requests per Window.
type Limit struct {
	Window Window
	Max    int64
}

// Usage is the state of one window after a check.
type Usage struct {
	Window    Window    `json:"window"`
	Current   int64     `json:"current"`
	Limit     int64     `json:"limit"`
	Remaining int64     `json:"remaining"`
	ResetsAt  time.Time `json:"resets_at"`
}

// Result is the outcome of Allow.
type Result struct {
	Allowed bool
	Reason  string
	Usages  []Usage
	// RetryAfter is set on denial: the time until the earliest full window
	// resets.
	RetryAfter time.Duration
}

// Tightest returns the usage with the least remaining quota.
func (r *Result) Tightest() *Usage {
	var best *Usage
	for i := range r.Usages {
		if best == nil || r.Usages[i].Remaining < best.Remaining {
			best = &r.Usages[i]
		}
	}
	return best
}

// Limiter checks and records requests against its limits. Check and record
// happen under one lock, so a single Limiter never over-admits. Limiters in
// separate processes sharing a Redis store may briefly over-admit by the
// number of concurrent callers.
type Limiter struct {
	limits []Limit
	store  Store
	now    func() time.Time
	mu     sync.Mutex
}

func New(store Store, limits ...Limit) (*Limiter, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if len(limits) == 0 {
		return nil, fmt.Errorf("at least one limit is required")
	}
	for _, l := range limits {
		if l.Max <= 0 {
			return nil, fmt.Errorf("limit for %s window must be positive", l.Window)
		}
	}
	return &Limiter{limits: limits, store: store, now: time.Now}, nil
}

// NewFromConfig builds a Limiter and its store. It returns nil when rate
// limiting is disabled.
func NewFromConfig(ctx context.Context, cfg config.RateLimitConfig) (*Limiter, error) {
	cfg.SetDefaults()
	if !cfg.Enabled {
		return nil, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rate limit config: %w", err)
	}

	limits := make([]Limit, 0, len(cfg.Limits))
	for _, lc := range cfg.Limits {
		w, err := ParseWindow(lc.Window)
		if err != nil {
			return nil, err
		}
		limits = append(limits, Limit{Window: w, Max: lc.Limit})
	}

	var store Store
	switch cfg.Backend {
	case config.RateLimitRedis:
		rs, err := NewRedisStore(ctx, newRedisClient(cfg.Redis), cfg.Redis.Prefix)
		if err != nil {
			return nil, err
		}
		store = rs
	default:
		store = NewMemoryStore()
	}
	return New(store, limits...)
}

func counterKey(identifier string, w Window) string {
	return identifier + ":" + string(w)
}

// Allow admits one request for identifier when every window has room and
// counts it. Denied requests are not counted.
func (l *Limiter) Allow(ctx context.Context, identifier string) (*Result, error) {
	if identifier == "" {
		return nil, fmt.Errorf("identifier cannot be empty")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	res := &Result{Allowed: true, Usages: make([]Usage, 0, len(l.limits))}
	var earliest time.Time

	for _, lim := range l.limits {
		current, end, err := l.store.Get(ctx, counterKey(identifier, lim.Window), lim.Window.Duration())
		if err != nil {
			return nil, fmt.Errorf("failed to read %s counter: %w", lim.Window, err)
		}
		res.Usages = append(res.Usages, usage(lim, current, end))
		if current >= lim.Max {
			if res.Allowed {
				res.Reason = fmt.Sprintf("rate limit of %d requests per %s exceeded", lim.Max, lim.Window)
			}
			res.Allowed = false
			if earliest.IsZero() || end.Before(earliest) {
				earliest = end
			}
		}
	}

	if !res.Allowed {
		res.RetryAfter = max(earliest.Sub(now), 0)
		return res, nil
	}

	res.Usages = res.Usages[:0]
	for _, lim := range l.limits {
		current, end, err := l.store.Increment(ctx, counterKey(identifier, lim.Window), lim.Window.Duration(), 1)
		if err != nil {
			return nil, fmt.Errorf("failed to record %s counter: %w", lim.Window, err)
		}
		res.Usages = append(res.Usages, usage(lim, current, end))
	}
	return res, nil
}

func usage(lim Limit, current int64, end time.Time) Usage {
	return Usage{
		Window:    lim.Window,
		Current:   current,
		Limit:     lim.Max,
		Remaining: max(lim.Max-current, 0),
		ResetsAt:  end,
	}
}

// Reset clears every window for identifier.
func (l *Limiter) Reset(ctx context.Context, identifier string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, lim := range l.limits {
		if err := l.store.Delete(ctx, counterKey(identifier, lim.Window)); err != nil {
			return err
		}
	}
	return nil
}

func (l *Limiter) Close() error {
	return l.store.Close()
}
