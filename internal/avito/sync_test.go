package avito

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/smmassistant/avito-ai-platform/pkg/logging"
)

type stubLister struct {
	items    []Item
	stats    map[string]*ItemStats
	listErr  error
	statsErr error
}

func (s *stubLister) GetItems(ctx context.Context) ([]Item, error) {
	return s.items, s.listErr
}

func (s *stubLister) GetItemStats(ctx context.Context, itemID string) (*ItemStats, error) {
	if s.statsErr != nil {
		return nil, s.statsErr
	}
	return s.stats[itemID], nil
}

func TestSyncAllStoresSnapshots(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	lister := &stubLister{
		items: []Item{
			{ID: json.Number("101"), Title: "CRM automation"},
			{ID: json.Number("102"), Title: "AI assistant"},
		},
		stats: map[string]*ItemStats{
			"101": {Views: 50, Contacts: 4},
			"102": {Views: 10, Contacts: 1},
		},
	}
	m := NewItemSyncManager(lister, client, time.Hour, logging.Default())
	m.syncAll(context.Background())

	snap, err := m.Snapshot(context.Background(), "101")
	if err != nil {
		t.Fatalf("Snapshot returned error: %v", err)
	}
	if snap == nil {
		t.Fatal("expected stored snapshot")
	}
	if snap.Stats.Views != 50 || snap.Title != "CRM automation" {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestSyncAllToleratesStatsFailures(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	lister := &stubLister{
		items:    []Item{{ID: json.Number("101")}},
		statsErr: errors.New("upstream down"),
	}
	m := NewItemSyncManager(lister, client, time.Hour, logging.Default())
	m.syncAll(context.Background())

	snap, err := m.Snapshot(context.Background(), "101")
	if err != nil {
		t.Fatalf("Snapshot returned error: %v", err)
	}
	if snap != nil {
		t.Errorf("expected no snapshot after stats failure, got %+v", snap)
	}
}

func TestSnapshotMissReturnsNil(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	m := NewItemSyncManager(&stubLister{}, client, time.Hour, logging.Default())

	snap, err := m.Snapshot(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Snapshot returned error: %v", err)
	}
	if snap != nil {
		t.Errorf("expected nil snapshot, got %+v", snap)
	}
}
