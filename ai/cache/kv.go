package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// KV is a shared key-value cache with TTLs. Backends never surface errors to
// callers beyond a miss: a broken cache degrades service speed, not service.
type KV interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key string, value string, ttl time.Duration)
	Delete(ctx context.Context, key string)
	ClearPrefix(ctx context.Context, prefix string)

	// Increment atomically adds one to a numeric counter, starting the ttl
	// window when the key is created. Returns the new count, 0 on backend
	// failure.
	Increment(ctx context.Context, key string, ttl time.Duration) int
}

// Key builds a namespaced cache key: "prefix:md5(part1|part2|...)".
// Hashing keeps arbitrary user text out of key space.
func Key(prefix string, parts ...string) string {
	sum := md5.Sum([]byte(strings.Join(parts, "|")))
	return prefix + ":" + hex.EncodeToString(sum[:])
}

// NewKV connects to Redis at redisURL. When the URL is empty or Redis is not
// reachable at startup, an in-process LRU serves instead.
func NewKV(ctx context.Context, redisURL string) KV {
	if redisURL == "" {
		slog.Info("no redis configured, using in-process cache")
		return newMemoryKV()
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		slog.Warn("invalid redis url, using in-process cache", "error", err)
		return newMemoryKV()
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		slog.Warn("redis unreachable, using in-process cache", "error", err)
		_ = client.Close()
		return newMemoryKV()
	}

	slog.Info("connected to redis cache")
	return &redisKV{client: client}
}

type redisKV struct {
	client *redis.Client
}

func (r *redisKV) Get(ctx context.Context, key string) (string, bool) {
	value, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("redis get failed", "key", key, "error", err)
		}
		return "", false
	}
	return value, true
}

func (r *redisKV) Set(ctx context.Context, key string, value string, ttl time.Duration) {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		slog.Warn("redis set failed", "key", key, "error", err)
	}
}

func (r *redisKV) Delete(ctx context.Context, key string) {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		slog.Warn("redis del failed", "key", key, "error", err)
	}
}

func (r *redisKV) Increment(ctx context.Context, key string, ttl time.Duration) int {
	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		slog.Warn("redis incr failed", "key", key, "error", err)
		return 0
	}
	if ttl > 0 {
		if err := r.client.ExpireNX(ctx, key, ttl).Err(); err != nil {
			slog.Warn("redis expire failed", "key", key, "error", err)
		}
	}
	return int(count)
}

func (r *redisKV) ClearPrefix(ctx context.Context, prefix string) {
	iter := r.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			slog.Warn("redis del failed", "key", iter.Val(), "error", err)
		}
	}
	if err := iter.Err(); err != nil {
		slog.Warn("redis scan failed", "prefix", prefix, "error", err)
	}
}

type memoryKV struct {
	// mu serializes Increment's read-modify-write; the LRU guards single
	// operations only.
	mu  sync.Mutex
	lru *LRUCache[string, string]
}

func newMemoryKV() *memoryKV {
	return &memoryKV{lru: NewLRUCache[string, string](10000, time.Hour)}
}

func (m *memoryKV) Get(_ context.Context, key string) (string, bool) {
	return m.lru.Get(key)
}

func (m *memoryKV) Set(_ context.Context, key string, value string, ttl time.Duration) {
	m.lru.Set(key, value, ttl)
}

func (m *memoryKV) Delete(_ context.Context, key string) {
	m.lru.Remove(key)
}

func (m *memoryKV) ClearPrefix(_ context.Context, prefix string) {
	m.lru.InvalidatePrefix(prefix)
}

// Increment refreshes the ttl window on every hit, which a single process can
// afford; the fixed-window semantics live in the redis backend.
func (m *memoryKV) Increment(_ context.Context, key string, ttl time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 1
	if raw, ok := m.lru.Get(key); ok {
		if prev, err := strconv.Atoi(raw); err == nil {
			count = prev + 1
		}
	}
	m.lru.Set(key, strconv.Itoa(count), ttl)
	return count
}
