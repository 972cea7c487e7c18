package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"

	"rpscrape/pkg/types"
)

// PageCache stores fetched document bodies by URL.
type PageCache interface {
	Get(ctx context.Context, rawURL string) ([]byte, bool, error)
	Set(ctx context.Context, rawURL string, body []byte) error
}

// RedisCache implements PageCache on a Redis string key per URL.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

// Get returns the cached body, reporting whether it was present.
func (c *RedisCache) Get(ctx context.Context, rawURL string) ([]byte, bool, error) {
	body, err := c.client.Get(ctx, c.prefix+rawURL).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return body, true, nil
}

// Set stores body with the configured TTL (zero means no expiry).
func (c *RedisCache) Set(ctx context.Context, rawURL string, body []byte) error {
	if err := c.client.Set(ctx, c.prefix+rawURL, body, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// CachedFetcher consults a PageCache before delegating. Cache errors are
// logged and treated as misses.
type CachedFetcher struct {
	next   Fetcher
	cache  PageCache
	logger *slog.Logger
}

// NewCachedFetcher builds a read-through cache in front of next.
func NewCachedFetcher(next Fetcher, cache PageCache, logger *slog.Logger) *CachedFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedFetcher{next: next, cache: cache, logger: logger}
}

// Fetch serves from cache when possible.
func (c *CachedFetcher) Fetch(ctx context.Context, rawURL string) (*types.Page, error) {
	body, ok, err := c.cache.Get(ctx, rawURL)
	if err != nil {
		c.logger.Warn("page cache read failed", "url", rawURL, "error", err)
	}
	if ok {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("parse url: %w", err)
		}
		return &types.Page{
			URL:        u,
			FinalURL:   u,
			Body:       body,
			StatusCode: 200,
			FetchedAt:  time.Now(),
			FromCache:  true,
		}, nil
	}

	page, err := c.next.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, rawURL, page.Body); err != nil {
		c.logger.Warn("page cache write failed", "url", rawURL, "error", err)
	}
	return page, nil
}
