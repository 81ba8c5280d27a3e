package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/goccy/go-json"

	"circlefeed/internal/models"
)

// Cache persists the last first-page snapshot of each circle feed so a
// remounting feed can show the last known state while the refetch is in
// flight. It is a warm-start convenience, never the source of truth: every
// mount still refetches page zero.
type Cache struct {
	db *pebble.DB
}

// Snapshot is the cached view of one circle feed.
type Snapshot struct {
	Messages   []models.Message `json:"messages"`
	TotalCount int              `json:"totalCount"`
	SavedAt    time.Time        `json:"savedAt"`
}

// Open opens (or creates) the cache database at path.
func Open(path string) (*Cache, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open feed cache: %w", err)
	}
	slog.Info("[CACHE] Feed cache opened", "path", path)
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

func feedKey(circleID string) []byte {
	return []byte("feed:" + circleID)
}

// SaveFeed stores the latest snapshot for a circle, replacing any previous one.
func (c *Cache) SaveFeed(circleID string, snap Snapshot) error {
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now().UTC()
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal feed snapshot: %w", err)
	}
	if err := c.db.Set(feedKey(circleID), b, pebble.Sync); err != nil {
		return fmt.Errorf("write feed snapshot: %w", err)
	}
	return nil
}

// LoadFeed returns the stored snapshot for a circle; ok is false when none
// exists.
func (c *Cache) LoadFeed(circleID string) (Snapshot, bool, error) {
	val, closer, err := c.db.Get(feedKey(circleID))
	if errors.Is(err, pebble.ErrNotFound) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("read feed snapshot: %w", err)
	}
	defer closer.Close()

	var snap Snapshot
	if err := json.Unmarshal(val, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("decode feed snapshot: %w", err)
	}
	return snap, true, nil
}

// DeleteFeed drops a circle's snapshot, e.g. when the circle is blocked.
func (c *Cache) DeleteFeed(circleID string) error {
	return c.db.Delete(feedKey(circleID), pebble.Sync)
}
