package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fupingyezi/mini-DeepResearch/internal/graph"
)

var _ graph.Checkpointer = (*RedisCheckpointer)(nil)

// RedisCheckpointer keeps one list per thread. Every Put refreshes the
// thread's TTL, so idle threads expire on their own.
type RedisCheckpointer struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisCheckpointer(client *redis.Client, prefix string, ttl time.Duration) *RedisCheckpointer {
	if prefix == "" {
		prefix = "deepresearch:"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCheckpointer{client: client, prefix: prefix + "checkpoints:", ttl: ttl}
}

func (r *RedisCheckpointer) key(threadID string) string { return r.prefix + threadID }

func (r *RedisCheckpointer) Put(ctx context.Context, cp graph.Checkpoint) error {
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	key := r.key(cp.ThreadID)
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, raw)
		p.Expire(ctx, key, r.ttl)
		return nil
	})
	return err
}

func (r *RedisCheckpointer) Latest(ctx context.Context, threadID string) (graph.Checkpoint, bool, error) {
	raw, err := r.client.LIndex(ctx, r.key(threadID), -1).Bytes()
	if errors.Is(err, redis.Nil) {
		return graph.Checkpoint{}, false, nil
	}
	if err != nil {
		return graph.Checkpoint{}, false, err
	}
	var cp graph.Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return graph.Checkpoint{}, false, fmt.Errorf("decode checkpoint: %w", err)
	}
	return cp, true, nil
}

func (r *RedisCheckpointer) List(ctx context.Context, threadID string) ([]graph.Checkpoint, error) {
	items, err := r.client.LRange(ctx, r.key(threadID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]graph.Checkpoint, 0, len(items))
	for _, it := range items {
		var cp graph.Checkpoint
		if err := json.Unmarshal([]byte(it), &cp); err != nil {
			return nil, fmt.Errorf("decode checkpoint: %w", err)
		}
		out = append(out, cp)
	}
	return out, nil
}

// Prune trims checkpoints created before cutoff from every thread. Lists are
// append-only, so the kept suffix starts at the first entry not older than
// cutoff.
func (r *RedisCheckpointer) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	if cutoff.IsZero() {
		return 0, errors.New("cutoff must be provided")
	}
	var removed int64
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		items, err := r.client.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return removed, err
		}
		keep := len(items)
		for i, it := range items {
			var cp graph.Checkpoint
			if err := json.Unmarshal([]byte(it), &cp); err == nil && !cp.CreatedAt.Before(cutoff) {
				keep = i
				break
			}
		}
		if keep == 0 {
			continue
		}
		if keep == len(items) {
			err = r.client.Del(ctx, key).Err()
		} else {
			err = r.client.LTrim(ctx, key, int64(keep), -1).Err()
		}
		if err != nil {
			return removed, err
		}
		removed += int64(keep)
	}
	return removed, iter.Err()
}
