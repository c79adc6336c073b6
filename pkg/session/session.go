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

// Package session holds per-conversation state and the stores that keep it
// alive between turns.
//
// A State is an append-only transcript. Callers add messages with Append
// and read them back with Messages; both copy, so a State handed out by a
// Store never aliases another caller's slice. Sessions end by Delete or by
// TTL expiry. Nothing is shared across sessions.
package session

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/sahayak/pkg/config"
)

// ErrNotFound is returned for unknown, deleted or expired sessions.
var ErrNotFound = errors.New("session not found")

// Role identifies the author of a transcript message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is an invocation request recorded on an assistant message.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Message is one transcript entry. Tool messages carry the call id they
// answer, the tool name and the invocation status.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
	Status     string     `json:"status,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (m Message) clone() Message {
	if m.ToolCalls != nil {
		calls := make([]ToolCall, len(m.ToolCalls))
		for i, c := range m.ToolCalls {
			calls[i] = ToolCall{ID: c.ID, Name: c.Name, Arguments: maps.Clone(c.Arguments)}
		}
		m.ToolCalls = calls
	}
	return m
}

// State is the transcript of one session. A State is not safe for
// concurrent mutation; the engine serialises turns per session.
type State struct {
	ID        string
	TurnCount int
	CreatedAt time.Time
	UpdatedAt time.Time

	messages []Message
	// stored is how many messages the backing store already holds.
	stored int
}

// NewState returns an empty transcript with a fresh id.
func NewState(now time.Time) *State {
	return &State{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds copies of msgs to the end of the transcript.
func (s *State) Append(msgs ...Message) {
	for _, m := range msgs {
		s.messages = append(s.messages, m.clone())
	}
}

// Messages returns a copy of the transcript.
func (s *State) Messages() []Message {
	out := make([]Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.clone()
	}
	return out
}

func (s *State) Len() int {
	return len(s.messages)
}

// Clone returns a deep copy, including the persisted watermark.
func (s *State) Clone() *State {
	c := *s
	c.messages = s.Messages()
	return &c
}

// pending returns messages not yet written to the store.
func (s *State) pending() []Message {
	if s.stored >= len(s.messages) {
		return nil
	}
	return s.messages[s.stored:]
}

// Store persists session state between turns.
type Store interface {
	// Create starts an empty session.
	Create(ctx context.Context) (*State, error)

	// Get loads a session, or returns ErrNotFound.
	Get(ctx context.Context, id string) (*State, error)

	// Save writes the turn count and any messages appended since the state
	// was loaded. Saving a deleted or expired session returns ErrNotFound.
	Save(ctx context.Context, st *State) error

	// Delete destroys a session. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error

	Close() error
}

// Option configures a Store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used for timestamps and expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New builds the store selected by cfg.
func New(ctx context.Context, cfg config.SessionConfig, opts ...Option) (Store, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}

	switch cfg.Backend {
	case config.SessionMemory:
		return NewMemoryStore(cfg.TTL, opts...), nil
	case config.SessionSQL:
		db, err := config.OpenDB(ctx, &cfg.Database)
		if err != nil {
			return nil, err
		}
		store, err := NewSQLStore(ctx, db, cfg.Database.Dialect(), cfg.TTL, opts...)
		if err != nil {
			db.Close()
			return nil, err
		}
		return store, nil
	case config.SessionRedis:
		return NewRedisStore(ctx, newRedisClient(cfg.Redis), cfg.Redis.Prefix, cfg.TTL, opts...)
	default:
		return nil, fmt.Errorf("unsupported session backend %q", cfg.Backend)
	}
}
