package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Vodeneev/valueradar/internal/analyzer"
	"github.com/Vodeneev/valueradar/internal/pkg/models"
	"github.com/Vodeneev/valueradar/internal/pkg/storage"
)

const refreshInterval = 5 * time.Second

// Broadcaster turns value-table changes into one marshalled snapshot per
// cycle and fans it out: websocket subscribers, the Redis snapshot cache and
// the positive-value history. Cache and history are optional.
type Broadcaster struct {
	analyzer *analyzer.Analyzer
	hub      *Hub
	cache    *storage.SnapshotCache
	history  *storage.ValueHistory
	logger   *slog.Logger
}

func NewBroadcaster(a *analyzer.Analyzer, hub *Hub, cache *storage.SnapshotCache, history *storage.ValueHistory, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		analyzer: a,
		hub:      hub,
		cache:    cache,
		history:  history,
		logger:   logger,
	}
}

// Run publishes on every analyzer update signal, with a periodic refresh so
// evictions that raise no signal still reach subscribers.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.analyzer.Updated():
			b.publish(ctx)
		case <-ticker.C:
			b.publish(ctx)
		}
	}
}

func (b *Broadcaster) publish(ctx context.Context) {
	snapshot := b.analyzer.Values().Snapshot()

	payload, err := json.Marshal(snapshot)
	if err != nil {
		b.logger.Error("Failed to marshal values snapshot", "error", err)
		return
	}

	b.hub.Broadcast(payload)

	if b.cache != nil {
		storeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := b.cache.StoreSnapshot(storeCtx, payload); err != nil {
			b.logger.Error("Failed to cache values snapshot", "error", err)
		}
		cancel()
	}

	if b.history != nil {
		values := make([]*models.Value, 0, len(snapshot))
		for _, v := range snapshot {
			values = append(values, v)
		}
		storeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := b.history.StoreValues(storeCtx, values); err != nil {
			b.logger.Error("Failed to persist positive values", "error", err)
		}
		cancel()
	}
}
