package engine

import (
	"context"
	"time"

	"github.com/stafflinehq/staffline/internal/record"
)

// Status is a point-in-time snapshot of the engine's sync health.
type Status struct {
	DeviceID         string         `json:"deviceId"`
	QueueDepth       int            `json:"queueDepth"`
	CollectionCounts map[string]int `json:"collectionCounts"`
	LastPullAt       time.Time      `json:"lastPullAt"`
	LastDrainAt      time.Time      `json:"lastDrainAt"`
	LastPushAt       time.Time      `json:"lastPushAt"`
}

// Status reports queue depth, cached record counts, and last reconciliation
// times.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	depth, err := e.queue.Depth(ctx)
	if err != nil {
		return Status{}, newEngineError("engine.status", "queue_depth_failed", err)
	}

	keys, err := e.cache.ListKeys(ctx)
	if err != nil {
		return Status{}, newEngineError("engine.status", "list_keys_failed", err)
	}
	counts := make(map[string]int, len(record.Collections()))
	for _, collection := range record.Collections() {
		counts[collection.String()] = 0
	}
	for _, key := range keys {
		for _, collection := range record.Collections() {
			if _, ok := record.SplitCacheKey(collection, key); ok {
				counts[collection.String()]++
				break
			}
		}
	}

	e.statusMu.Lock()
	lastPull, lastDrain, lastPush := e.lastPullAt, e.lastDrainAt, e.lastPushAt
	e.statusMu.Unlock()

	return Status{
		DeviceID:         e.device.DeviceID(ctx),
		QueueDepth:       depth,
		CollectionCounts: counts,
		LastPullAt:       lastPull,
		LastDrainAt:      lastDrain,
		LastPushAt:       lastPush,
	}, nil
}

func (e *Engine) markPushed() {
	e.statusMu.Lock()
	e.lastPushAt = e.clock().UTC()
	e.statusMu.Unlock()
}
