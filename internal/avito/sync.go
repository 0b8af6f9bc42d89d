package avito

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smmassistant/avito-ai-platform/pkg/logging"
)

const itemStatsTTL = 7 * 24 * time.Hour

type itemLister interface {
	GetItems(ctx context.Context) ([]Item, error)
	GetItemStats(ctx context.Context, itemID string) (*ItemStats, error)
}

// ItemSyncManager periodically snapshots listing statistics into Redis.
type ItemSyncManager struct {
	client   itemLister
	redis    *redis.Client
	logger   *logging.Logger
	interval time.Duration
}

// ItemSnapshot is the stored per-listing stats record.
type ItemSnapshot struct {
	ItemID   string    `json:"item_id"`
	Title    string    `json:"title"`
	Stats    ItemStats `json:"stats"`
	SyncedAt time.Time `json:"synced_at"`
}

func NewItemSyncManager(client itemLister, redisClient *redis.Client, interval time.Duration, logger *logging.Logger) *ItemSyncManager {
	if logger == nil {
		logger = logging.Default()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &ItemSyncManager{
		client:   client,
		redis:    redisClient,
		logger:   logger,
		interval: interval,
	}
}

// Run syncs once immediately, then on every tick until ctx is canceled.
func (m *ItemSyncManager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.syncAll(ctx)
	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("item sync stopped")
			return
		case <-ticker.C:
			m.syncAll(ctx)
		}
	}
}

func (m *ItemSyncManager) syncAll(ctx context.Context) {
	items, err := m.client.GetItems(ctx)
	if err != nil {
		m.logger.Error("item sync: list items failed", "error", err)
		return
	}

	synced := 0
	for _, item := range items {
		if ctx.Err() != nil {
			return
		}
		id := item.ID.String()
		stats, err := m.client.GetItemStats(ctx, id)
		if err != nil {
			m.logger.Warn("item sync: stats fetch failed", "item_id", id, "error", err)
			continue
		}
		if err := m.storeSnapshot(ctx, id, item.Title, *stats); err != nil {
			m.logger.Warn("item sync: snapshot store failed", "item_id", id, "error", err)
			continue
		}
		synced++
	}
	m.logger.Info("item sync completed", "items", len(items), "synced", synced)
}

func (m *ItemSyncManager) storeSnapshot(ctx context.Context, itemID, title string, stats ItemStats) error {
	snapshot := ItemSnapshot{
		ItemID:   itemID,
		Title:    title,
		Stats:    stats,
		SyncedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("avito: marshal item snapshot: %w", err)
	}
	return m.redis.Set(ctx, itemStatsKey(itemID), data, itemStatsTTL).Err()
}

// Snapshot returns the last stored stats for a listing, or nil when absent.
func (m *ItemSyncManager) Snapshot(ctx context.Context, itemID string) (*ItemSnapshot, error) {
	data, err := m.redis.Get(ctx, itemStatsKey(itemID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("avito: load item snapshot: %w", err)
	}
	var snapshot ItemSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("avito: decode item snapshot: %w", err)
	}
	return &snapshot, nil
}

func itemStatsKey(itemID string) string {
	return fmt.Sprintf("item_stats:%s", itemID)
}
