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

package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SQLStore persists sessions in two tables. Messages are only ever
// inserted, keyed by a per-session sequence number.
type SQLStore struct {
	db      *sql.DB
	dialect string
	ttl     time.Duration
	now     func() time.Time
}

var schemas = map[string][]string{
	"sqlite": {
		`CREATE TABLE IF NOT EXISTS sessions (
    id VARCHAR(64) PRIMARY KEY,
    turn_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS session_messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id VARCHAR(64) NOT NULL,
    sequence_num INTEGER NOT NULL,
    role VARCHAR(20) NOT NULL,
    message_json TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_sequence ON session_messages(session_id, sequence_num)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at)`,
	},
	"postgres": {
		`CREATE TABLE IF NOT EXISTS sessions (
    id VARCHAR(64) PRIMARY KEY,
    turn_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS session_messages (
    id SERIAL PRIMARY KEY,
    session_id VARCHAR(64) NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    sequence_num BIGINT NOT NULL,
    role VARCHAR(20) NOT NULL,
    message_json TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_sequence ON session_messages(session_id, sequence_num)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at)`,
	},
	"mysql": {
		`CREATE TABLE IF NOT EXISTS sessions (
    id VARCHAR(64) PRIMARY KEY,
    turn_count INT NOT NULL DEFAULT 0,
    created_at TIMESTAMP(6) NOT NULL,
    updated_at TIMESTAMP(6) NOT NULL,
    INDEX idx_sessions_updated_at (updated_at)
)`,
		`CREATE TABLE IF NOT EXISTS session_messages (
    id BIGINT PRIMARY KEY AUTO_INCREMENT,
    session_id VARCHAR(64) NOT NULL,
    sequence_num BIGINT NOT NULL,
    role VARCHAR(20) NOT NULL,
    message_json MEDIUMTEXT NOT NULL,
    created_at TIMESTAMP(6) NOT NULL,
    UNIQUE INDEX idx_messages_sequence (session_id, sequence_num),
    FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
)`,
	},
}

// NewSQLStore creates the schema if needed. dialect is sqlite, postgres or
// mysql.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect string, ttl time.Duration, opts ...Option) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	stmts, ok := schemas[dialect]
	if !ok {
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	o := buildOptions(opts)
	s := &SQLStore{db: db, dialect: dialect, ttl: ttl, now: o.now}

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	for _, stmt := range stmts {
		if _, err := db.ExecContext(initCtx, stmt); err != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return s, nil
}

// rebind rewrites ? placeholders as $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) timestamp() time.Time {
	return s.now().UTC()
}

func (s *SQLStore) expired(updatedAt, now time.Time) bool {
	return s.ttl > 0 && !now.Before(updatedAt.Add(s.ttl))
}

func (s *SQLStore) Create(ctx context.Context) (*State, error) {
	st := NewState(s.timestamp())
	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO sessions (id, turn_count, created_at, updated_at) VALUES (?, ?, ?, ?)`),
		st.ID, 0, st.CreatedAt, st.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return st, nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*State, error) {
	st := &State{ID: id}
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT turn_count, created_at, updated_at FROM sessions WHERE id = ?`), id,
	).Scan(&st.TurnCount, &st.CreatedAt, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}

	if s.expired(st.UpdatedAt, s.timestamp()) {
		if err := s.Delete(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT message_json FROM session_messages WHERE session_id = ? ORDER BY sequence_num ASC`), id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		var m Message
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		st.messages = append(st.messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	st.stored = len(st.messages)
	return st, nil
}

// Save inserts the messages appended since the state was loaded and bumps
// the session row, in one transaction.
func (s *SQLStore) Save(ctx context.Context, st *State) (err error) {
	now := s.timestamp()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var updatedAt time.Time
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT updated_at FROM sessions WHERE id = ?`), st.ID).Scan(&updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to query session: %w", err)
	}
	if s.expired(updatedAt, now) {
		return ErrNotFound
	}

	var last int
	err = tx.QueryRowContext(ctx,
		s.rebind(`SELECT COALESCE(MAX(sequence_num), 0) FROM session_messages WHERE session_id = ?`), st.ID,
	).Scan(&last)
	if err != nil {
		return fmt.Errorf("failed to get sequence number: %w", err)
	}
	if last != st.stored {
		return fmt.Errorf("session %s was modified concurrently (stored %d, have %d)", st.ID, last, st.stored)
	}

	insert := s.rebind(`INSERT INTO session_messages (session_id, sequence_num, role, message_json, created_at) VALUES (?, ?, ?, ?, ?)`)
	for i, m := range st.pending() {
		data, marshalErr := json.Marshal(m)
		if marshalErr != nil {
			return fmt.Errorf("failed to marshal message %d: %w", last+i+1, marshalErr)
		}
		if _, err = tx.ExecContext(ctx, insert, st.ID, last+i+1, string(m.Role), string(data), now); err != nil {
			return fmt.Errorf("failed to insert message %d: %w", last+i+1, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		s.rebind(`UPDATE sessions SET turn_count = ?, updated_at = ? WHERE id = ?`),
		st.TurnCount, now, st.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	st.stored = st.Len()
	st.UpdatedAt = now
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM session_messages WHERE session_id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM sessions WHERE id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Count returns the number of stored sessions, expired ones included.
func (s *SQLStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return n, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLStore)(nil)
