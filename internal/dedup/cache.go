// Package dedup finds near-duplicate notes in the vault by comparing
// content embeddings with exact cosine similarity.
package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores embeddings keyed by content hash so unchanged notes are
// never re-embedded.
type Cache interface {
	All(ctx context.Context) (map[string][]float32, error)
	Put(ctx context.Context, hash string, vec []float32) error
	Remove(ctx context.Context, hashes []string) error
	Close() error
}

// RedisCache keeps the embedding cache in a single Redis hash.
type RedisCache struct {
	client *redis.Client
	key    string
}

// NewRedisCache connects to Redis and pings it before returning.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisCache{client: client, key: "vaultbot:embeddings"}, nil
}

func (c *RedisCache) All(ctx context.Context) (map[string][]float32, error) {
	raw, err := c.client.HGetAll(ctx, c.key).Result()
	if err != nil {
		return nil, fmt.Errorf("read embedding cache: %w", err)
	}
	out := make(map[string][]float32, len(raw))
	for hash, payload := range raw {
		var vec []float32
		if err := json.Unmarshal([]byte(payload), &vec); err != nil {
			// Corrupt entry: drop it and re-embed on the next scan.
			_ = c.client.HDel(ctx, c.key, hash).Err()
			continue
		}
		out[hash] = vec
	}
	return out, nil
}

func (c *RedisCache) Put(ctx context.Context, hash string, vec []float32) error {
	payload, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}
	if err := c.client.HSet(ctx, c.key, hash, payload).Err(); err != nil {
		return fmt.Errorf("store embedding: %w", err)
	}
	return nil
}

func (c *RedisCache) Remove(ctx context.Context, hashes []string) error {
	if len(hashes) == 0 {
		return nil
	}
	if err := c.client.HDel(ctx, c.key, hashes...).Err(); err != nil {
		return fmt.Errorf("prune embedding cache: %w", err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
