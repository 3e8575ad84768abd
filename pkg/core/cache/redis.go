//
//  Copyright © Manetu Inc. All rights reserved.
//

package cache

import (
	"context"
	"time"

	"github.com/manetu/toolgate/pkg/core/types"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisOptions are the connection settings for a RedisStore.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
}

const scanBatch = 100

// RedisStore keeps decisions in redis as JSON values with a native TTL.
type RedisStore struct {
	client *redis.Client
}

// NewRedisClient opens a client.  Connections are established lazily; the store tolerates an unreachable
// server, so no ping is made here.
func NewRedisClient(opts RedisOptions) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		PoolSize:     opts.PoolSize,
	})
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get fetches key; redis.Nil is a miss.
func (r *RedisStore) Get(ctx context.Context, key string) (*types.Decision, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decode(data)
}

// Set writes decision with a ttl expiry.
func (r *RedisStore) Set(ctx context.Context, key string, decision *types.Decision, ttl time.Duration) error {
	value, err := encode(decision)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, value, ttl).Err()
}

// GetMany fetches keys in a single pipeline.
func (r *RedisStore) GetMany(ctx context.Context, keys []string) ([]*types.Decision, error) {
	cmds := make([]*redis.StringCmd, len(keys))
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			cmds[i] = pipe.Get(ctx, key)
		}
		return nil
	})
	// a miss anywhere in the pipeline surfaces as redis.Nil
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, errors.Wrap(err, "pipeline get")
	}

	out := make([]*types.Decision, len(keys))
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if out[i], err = decode(data); err != nil {
			return nil, errors.Wrapf(err, "decoding %s", keys[i])
		}
	}
	return out, nil
}

// SetMany writes entries in a single pipeline.
func (r *RedisStore) SetMany(ctx context.Context, entries []Entry) error {
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, e := range entries {
			value, err := encode(e.Decision)
			if err != nil {
				return err
			}
			pipe.Set(ctx, e.Key, value, e.TTL)
		}
		return nil
	})
	return errors.Wrap(err, "pipeline set")
}

// InvalidatePrincipal collects the principal's keys with SCAN, then deletes them in batches.
func (r *RedisStore) InvalidatePrincipal(ctx context.Context, principalID string) (int, error) {
	var (
		cursor uint64
		keys   []string
	)
	match := PrincipalPrefix(principalID) + "*"
	for {
		batch, next, err := r.client.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			return 0, errors.Wrap(err, "scan")
		}
		keys = append(keys, batch...)
		if next == 0 {
			break
		}
		cursor = next
	}

	removed := 0
	for len(keys) > 0 {
		n := min(len(keys), scanBatch)
		deleted, err := r.client.Del(ctx, keys[:n]...).Result()
		removed += int(deleted)
		if err != nil {
			return removed, errors.Wrap(err, "del")
		}
		keys = keys[n:]
	}
	return removed, nil
}

// Ping checks connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the client's connections.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
