package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/drawdock/drawdock/internal/slogging"
)

// DiagramCacheTTL bounds staleness of the read cache. Writes go through the
// store under the version check, so the cache only ever serves reads.
const DiagramCacheTTL = 2 * time.Minute

// CacheService provides a Redis read cache for diagram records.
type CacheService struct {
	redis *redis.Client
}

// NewCacheService creates a cache service backed by the given Redis client.
func NewCacheService(client *redis.Client) *CacheService {
	return &CacheService{redis: client}
}

func diagramCacheKey(id string) string {
	return fmt.Sprintf("cache:diagram:%s", id)
}

// CacheDiagram caches a diagram record with write-through strategy.
func (cs *CacheService) CacheDiagram(ctx context.Context, record *DiagramRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal diagram for cache: %w", err)
	}

	if err := cs.redis.Set(ctx, diagramCacheKey(record.ID), data, DiagramCacheTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache diagram: %w", err)
	}

	slogging.Get().Debug("Cached diagram %s at version %d with TTL %v", record.ID, record.Version, DiagramCacheTTL)
	return nil
}

// GetCachedDiagram retrieves a cached diagram record. A cache miss returns
// (nil, nil).
func (cs *CacheService) GetCachedDiagram(ctx context.Context, id string) (*DiagramRecord, error) {
	data, err := cs.redis.Get(ctx, diagramCacheKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read diagram cache: %w", err)
	}

	var record DiagramRecord
	if err := json.Unmarshal(data, &record); err != nil {
		// Treat a corrupt entry as a miss and drop it
		slogging.Get().Warn("Dropping corrupt cache entry for diagram %s: %v", id, err)
		_ = cs.redis.Del(ctx, diagramCacheKey(id)).Err()
		return nil, nil
	}

	return &record, nil
}

// InvalidateDiagram removes a diagram from the cache.
func (cs *CacheService) InvalidateDiagram(ctx context.Context, id string) error {
	if err := cs.redis.Del(ctx, diagramCacheKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate diagram cache: %w", err)
	}
	return nil
}
