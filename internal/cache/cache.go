// Package cache stores rendered dialplan documents between rule edits.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Documents caches rendered documents per scope. A scope is a tenant ID or
// the default-rules scope; Invalidate drops every document in it at once.
//
// Set stores under the version a prior Get observed, so a document rendered
// before an Invalidate is never filed under the version that followed it.
type Documents interface {
	Get(ctx context.Context, scope, key string) (Entry, error)
	Set(ctx context.Context, scope, version, key, document string) error
	Invalidate(ctx context.Context, scope string) error
}

// Entry is the result of a lookup. Version is the scope version the lookup
// saw, hit or miss.
type Entry struct {
	Document string
	Found    bool
	Version  string
}

// DefaultScope is the scope of documents rendered from the default rules.
const DefaultScope = "_default"

// Nop is a Documents that never caches.
type Nop struct{}

func (Nop) Get(context.Context, string, string) (Entry, error)        { return Entry{}, nil }
func (Nop) Set(context.Context, string, string, string, string) error { return nil }
func (Nop) Invalidate(context.Context, string) error                  { return nil }

// RedisClient is the subset of the go-redis client the cache uses.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
}

// Redis caches documents under a per-scope version number. Invalidation
// bumps the version, orphaning old entries until their TTL runs out.
type Redis struct {
	client RedisClient
	prefix string
	ttl    time.Duration
}

// NewRedis creates a Redis-backed document cache.
func NewRedis(client RedisClient, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "tenantpbx:doc:"
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

// Get returns a cached document along with the scope version it read.
func (c *Redis) Get(ctx context.Context, scope, key string) (Entry, error) {
	version, err := c.version(ctx, scope)
	if err != nil {
		return Entry{}, err
	}
	doc, err := c.client.Get(ctx, c.docKey(scope, version, key)).Result()
	if errors.Is(err, redis.Nil) {
		return Entry{Version: version}, nil
	}
	if err != nil {
		return Entry{}, fmt.Errorf("reading cached document: %w", err)
	}
	return Entry{Document: doc, Found: true, Version: version}, nil
}

// Set stores a document under version, normally the one returned by the
// Get that missed. If the scope has been invalidated since, the entry is
// already orphaned and only waits out its TTL.
func (c *Redis) Set(ctx context.Context, scope, version, key, document string) error {
	if version == "" {
		return nil
	}
	if err := c.client.Set(ctx, c.docKey(scope, version, key), document, c.ttl).Err(); err != nil {
		return fmt.Errorf("caching document: %w", err)
	}
	return nil
}

// Invalidate drops every cached document in scope.
func (c *Redis) Invalidate(ctx context.Context, scope string) error {
	if err := c.client.Incr(ctx, c.versionKey(scope)).Err(); err != nil {
		return fmt.Errorf("bumping document version: %w", err)
	}
	return nil
}

func (c *Redis) version(ctx context.Context, scope string) (string, error) {
	v, err := c.client.Get(ctx, c.versionKey(scope)).Result()
	if errors.Is(err, redis.Nil) {
		return "0", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading document version: %w", err)
	}
	return v, nil
}

func (c *Redis) versionKey(scope string) string {
	return c.prefix + "ver:" + scope
}

func (c *Redis) docKey(scope, version, key string) string {
	return c.prefix + scope + ":" + version + ":" + key
}
