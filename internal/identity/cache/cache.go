// Package cache provides a redis read-through cache for hash lookups, the
// hottest read path of the registry. Cache failures degrade to store reads
// and never fail a request.
package cache

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"custodia/internal/identity/models"
)

const keyPrefix = "custodia:identity:hash:"

// Cache stores identity snapshots keyed by content hash.
type Cache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// New wraps a redis client. TTL bounds retention of the cached records.
func New(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	return &Cache{rdb: rdb, ttl: ttl, logger: logger}
}

func key(hash []byte) string {
	return keyPrefix + hex.EncodeToString(hash)
}

// Get returns the cached record for the hash, or (nil, false) on miss or error.
func (c *Cache) Get(ctx context.Context, hash []byte) (*models.Identity, bool) {
	payload, err := c.rdb.Get(ctx, key(hash)).Bytes()
	if err != nil {
		if err != redis.Nil && c.logger != nil {
			c.logger.WarnContext(ctx, "identity cache read failed", "error", err)
		}
		return nil, false
	}
	var record models.Identity
	if err := json.Unmarshal(payload, &record); err != nil {
		if c.logger != nil {
			c.logger.WarnContext(ctx, "identity cache payload corrupt", "error", err)
		}
		return nil, false
	}
	return &record, true
}

// Set stores a snapshot of the record.
func (c *Cache) Set(ctx context.Context, record *models.Identity) {
	payload, err := json.Marshal(record)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key(record.IdentityHash), payload, c.ttl).Err(); err != nil && c.logger != nil {
		c.logger.WarnContext(ctx, "identity cache write failed", "error", err)
	}
}

// Invalidate drops the cached snapshot after a mutation.
func (c *Cache) Invalidate(ctx context.Context, hash []byte) {
	if err := c.rdb.Del(ctx, key(hash)).Err(); err != nil && c.logger != nil {
		c.logger.WarnContext(ctx, "identity cache invalidation failed", "error", err)
	}
}
