// Copyright (C) 2026 HarborLine AI (engineering@harborline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounterStore backs window counters with Redis so multiple service
// instances share one view of each window.
//
// INCR and EXPIRE NX run in a single pipeline round trip: the increment is
// atomic, and the expiry attaches only when the key has no TTL yet (the
// first hit in a fresh window).
type RedisCounterStore struct {
	client *redis.Client
}

// NewRedisCounterStore wraps an existing Redis client.
func NewRedisCounterStore(client *redis.Client) *RedisCounterStore {
	return &RedisCounterStore{client: client}
}

// Incr implements CounterStore.
func (s *RedisCounterStore) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, window)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	return incr.Val(), nil
}

// TTL implements CounterStore.
func (s *RedisCounterStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis ttl %s: %w", key, err)
	}
	// Redis reports -1 (no expiry) and -2 (no key) as negative durations;
	// both mean "no live window" to the limiter.
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// Reset implements CounterStore.
func (s *RedisCounterStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Compile-time interface compliance check.
var _ CounterStore = (*RedisCounterStore)(nil)
