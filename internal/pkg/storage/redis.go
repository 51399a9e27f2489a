package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Vodeneev/valueradar/internal/pkg/config"
)

const snapshotKey = "values:snapshot"

// SnapshotCache keeps the latest value-table snapshot in Redis so consumers
// that cannot hold a websocket open can poll it. The TTL guarantees a dead
// analyzer leaves no stale snapshot behind.
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSnapshotCache(cfg *config.RedisConfig) (*SnapshotCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &SnapshotCache{client: client, ttl: cfg.SnapshotTTL}, nil
}

func (c *SnapshotCache) StoreSnapshot(ctx context.Context, payload []byte) error {
	if err := c.client.Set(ctx, snapshotKey, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	return nil
}

func (c *SnapshotCache) LoadSnapshot(ctx context.Context) ([]byte, error) {
	data, err := c.client.Get(ctx, snapshotKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return data, nil
}

func (c *SnapshotCache) Close() error {
	return c.client.Close()
}
