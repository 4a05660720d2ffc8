package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ggoodman/mcp-todo/todo"
	"github.com/redis/go-redis/v9"
)

// Config for the Redis-backed store.
type Config struct {
	// RedisAddr like "localhost:6379". Empty means DefaultAddr.
	RedisAddr string
	// DB selects the logical database.
	DB int
	// KeyPrefix for all keys. Empty means DefaultKeyPrefix.
	KeyPrefix string
}

// DefaultAddr is used when Config.RedisAddr is empty.
const DefaultAddr = "localhost:6379"

// DefaultKeyPrefix is used when Config.KeyPrefix is empty.
const DefaultKeyPrefix = "mcp:todos:"

// Store is a todo.Store backed by Redis.
type Store struct {
	client    redis.UniversalClient
	keyPrefix string
}

var _ todo.Store = (*Store)(nil)

// New connects to Redis and verifies the connection with a PING.
func New(ctx context.Context, cfg Config) (*Store, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = DefaultAddr
	}
	cl := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
	if err := cl.Ping(ctx).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewWithClient(cl, cfg.KeyPrefix), nil
}

// NewWithClient wraps an existing client. The store takes ownership of it
// and closes it on Close.
func NewWithClient(cl redis.UniversalClient, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &Store{client: cl, keyPrefix: keyPrefix}
}

// Close closes the Redis client.
func (s *Store) Close() error { return s.client.Close() }

func (s *Store) itemKey(id string) string     { return s.keyPrefix + "item:" + id }
func (s *Store) userKey(userID string) string { return s.keyPrefix + "user:" + userID }

func (s *Store) Put(ctx context.Context, t todo.Todo) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode todo: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.itemKey(t.ID), data, 0)
		// NX keeps the original creation score when a todo is updated.
		p.ZAddNX(ctx, s.userKey(t.UserID), redis.Z{Score: float64(t.CreatedAt.UnixNano()), Member: t.ID})
		return nil
	})
	return err
}

func (s *Store) Get(ctx context.Context, id string) (todo.Todo, error) {
	data, err := s.client.Get(ctx, s.itemKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return todo.Todo{}, todo.ErrNotFound
	}
	if err != nil {
		return todo.Todo{}, err
	}
	var t todo.Todo
	if err := json.Unmarshal(data, &t); err != nil {
		return todo.Todo{}, fmt.Errorf("decode todo %s: %w", id, err)
	}
	return t, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	t, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.itemKey(id))
		p.ZRem(ctx, s.userKey(t.UserID), id)
		return nil
	})
	return err
}

func (s *Store) List(ctx context.Context, userID string) ([]todo.Todo, error) {
	ids, err := s.client.ZRange(ctx, s.userKey(userID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]todo.Todo, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.itemKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		// An id without an item is left over from an interrupted delete.
		str, ok := v.(string)
		if !ok {
			continue
		}
		var t todo.Todo
		if err := json.Unmarshal([]byte(str), &t); err != nil {
			return nil, fmt.Errorf("decode todo %s: %w", ids[i], err)
		}
		out = append(out, t)
	}
	return out, nil
}
