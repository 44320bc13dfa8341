package embedding

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/DeafMist/semantic-news/backend/internal/logger"
)

// Cache stores encoded vectors by key.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisCache is a Cache backed by Redis.
type RedisCache struct {
	rdb *redis.Client
}

// NewRedisCache connects to the Redis server at rawURL. A bare host:port is
// accepted as well as a redis:// URL.
func NewRedisCache(ctx context.Context, rawURL string) (*RedisCache, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		opt = &redis.Options{Addr: rawURL}
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisCache{rdb: rdb}, nil
}

// Get returns the cached value for key.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Set stores value under key for ttl.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}

// Cached wraps an Embedder with a vector cache. Cache failures are logged
// and fall through to the wrapped embedder.
type Cached struct {
	inner Embedder
	cache Cache
	ttl   time.Duration
	log   *slog.Logger
}

// NewCached wraps inner with cache.
func NewCached(inner Embedder, cache Cache, ttl time.Duration, log *slog.Logger) *Cached {
	if log == nil {
		log = logger.Discard()
	}
	return &Cached{inner: inner, cache: cache, ttl: ttl, log: log}
}

// EmbedDocuments embeds texts at indexing time.
func (c *Cached) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return c.embed(ctx, "doc", texts, c.inner.EmbedDocuments)
}

// EmbedQueries embeds texts at query time.
func (c *Cached) EmbedQueries(ctx context.Context, texts []string) ([][]float32, error) {
	return c.embed(ctx, "query", texts, c.inner.EmbedQueries)
}

// Dimension returns the wrapped embedder's dimension.
func (c *Cached) Dimension() int {
	return c.inner.Dimension()
}

// Model returns the wrapped embedder's model.
func (c *Cached) Model() string {
	return c.inner.Model()
}

type embedFunc func(ctx context.Context, texts []string) ([][]float32, error)

func (c *Cached) embed(ctx context.Context, kind string, texts []string, fn embedFunc) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int

	for i, text := range texts {
		key := c.key(kind, text)
		raw, ok, err := c.cache.Get(ctx, key)
		if err != nil {
			c.log.Warn("embedding cache get", slog.Any("err", err))
		}
		if ok {
			if vec, derr := decodeVector(raw); derr == nil && len(vec) == c.inner.Dimension() {
				out[i] = vec
				continue
			}
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := fn(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missing) {
		return nil, fmt.Errorf("embed: got %d vectors for %d inputs", len(vecs), len(missing))
	}

	for j, vec := range vecs {
		out[missingIdx[j]] = vec
		if err := c.cache.Set(ctx, c.key(kind, missing[j]), encodeVector(vec), c.ttl); err != nil {
			c.log.Warn("embedding cache set", slog.Any("err", err))
		}
	}
	return out, nil
}

func (c *Cached) key(kind, text string) string {
	sum := sha1.Sum([]byte(text))
	return "emb:" + c.inner.Model() + ":" + kind + ":" + hex.EncodeToString(sum[:])
}

func encodeVector(vec []float32) []byte {
	b := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid vector blob length %d", len(b))
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec, nil
}
