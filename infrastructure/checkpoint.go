package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cv-copilot/application/graph"

	goredis "github.com/redis/go-redis/v9"
)

const defaultCheckpointPrefix = "cv-copilot:thread:"

// RedisCheckpointer stores graph thread state as JSON under one key per thread.
type RedisCheckpointer[S any] struct {
	rdb    *goredis.Client
	prefix string
	ttl    time.Duration
}

var _ graph.Checkpointer[struct{}] = (*RedisCheckpointer[struct{}])(nil)

// NewRedisClient connects and pings the server.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// NewRedisCheckpointer keeps checkpoints for ttl after their last write; zero keeps them forever.
func NewRedisCheckpointer[S any](rdb *goredis.Client, prefix string, ttl time.Duration) *RedisCheckpointer[S] {
	if prefix == "" {
		prefix = defaultCheckpointPrefix
	}
	return &RedisCheckpointer[S]{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (c *RedisCheckpointer[S]) Get(ctx context.Context, thread string) (S, bool, error) {
	var state S
	raw, err := c.rdb.Get(ctx, c.prefix+thread).Bytes()
	if errors.Is(err, goredis.Nil) {
		return state, false, nil
	}
	if err != nil {
		return state, false, fmt.Errorf("load checkpoint %s: %w", thread, err)
	}
	if err := json.Unmarshal(raw, &state); err != nil {
		return state, false, fmt.Errorf("decode checkpoint %s: %w", thread, err)
	}
	return state, true, nil
}

func (c *RedisCheckpointer[S]) Put(ctx context.Context, thread string, state S) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", thread, err)
	}
	if err := c.rdb.Set(ctx, c.prefix+thread, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", thread, err)
	}
	return nil
}
