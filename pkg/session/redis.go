package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kadirpekel/sahayak/pkg/config"
)

// RedisStore keeps each session as one JSON document under prefix+id with
// the session TTL refreshed on every save.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

type redisRecord struct {
	ID        string    `json:"id"`
	TurnCount int       `json:"turn_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Messages  []Message `json:"messages"`
}

func newRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewRedisStore pings the server and returns a store over client.
func NewRedisStore(ctx context.Context, client redis.UniversalClient, prefix string, ttl time.Duration, opts ...Option) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	o := buildOptions(opts)
	return &RedisStore{client: client, prefix: prefix, ttl: ttl, now: o.now}, nil
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) encode(st *State) ([]byte, error) {
	data, err := json.Marshal(redisRecord{
		ID:        st.ID,
		TurnCount: st.TurnCount,
		CreatedAt: st.CreatedAt,
		UpdatedAt: st.UpdatedAt,
		Messages:  st.messages,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}
	return data, nil
}

func (s *RedisStore) Create(ctx context.Context) (*State, error) {
	st := NewState(s.now())
	data, err := s.encode(st)
	if err != nil {
		return nil, err
	}
	ok, err := s.client.SetNX(ctx, s.key(st.ID), data, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("session %s already exists", st.ID)
	}
	return st, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*State, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var rec redisRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &State{
		ID:        rec.ID,
		TurnCount: rec.TurnCount,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
		messages:  rec.Messages,
		stored:    len(rec.Messages),
	}, nil
}

// Save overwrites the document only if it still exists.
func (s *RedisStore) Save(ctx context.Context, st *State) error {
	snapshot := st.Clone()
	snapshot.UpdatedAt = s.now()
	data, err := s.encode(snapshot)
	if err != nil {
		return err
	}

	err = s.client.SetArgs(ctx, s.key(st.ID), data, redis.SetArgs{Mode: "XX", TTL: s.ttl}).Err()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	st.UpdatedAt = snapshot.UpdatedAt
	st.stored = st.Len()
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
