package feedsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"circlefeed/internal/cache"
)

// Manager refcounts one live Syncer per circle: the first subscriber mounts
// the feed (first page fetch plus bridge connect), the last one leaving tears
// it down. However many UI clients watch a circle, there is never more than
// one simultaneously open broker connection for it.
type Manager struct {
	backend  Backend
	bridge   BridgeFactory
	snaps    *cache.Cache
	pageSize int

	mu     sync.Mutex
	active map[string]*managedFeed
}

type managedFeed struct {
	syncer *Syncer
	refs   int
}

// ManagerConfig carries the shared collaborators every syncer is built from.
type ManagerConfig struct {
	Backend  Backend
	Bridge   BridgeFactory
	Cache    *cache.Cache
	PageSize int
}

func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		backend:  cfg.Backend,
		bridge:   cfg.Bridge,
		snaps:    cfg.Cache,
		pageSize: cfg.PageSize,
		active:   make(map[string]*managedFeed),
	}
}

// Acquire returns the live syncer for a circle, starting one when none
// exists. userID identifies the mounting subscriber; it names the broker
// connection when this acquire is the one that opens it.
func (m *Manager) Acquire(ctx context.Context, circleID, userID string, listener Listener) (*Syncer, error) {
	m.mu.Lock()
	if mf, ok := m.active[circleID]; ok {
		mf.refs++
		refs := mf.refs
		m.mu.Unlock()
		slog.Debug("[SYNC] Feed reacquired", "circle", circleID, "refs", refs)
		return mf.syncer, nil
	}
	m.mu.Unlock()

	s := New(Config{
		CircleID: circleID,
		UserID:   userID,
		PageSize: m.pageSize,
		Backend:  m.backend,
		Bridge:   m.bridge,
		Listener: listener,
		Cache:    m.snaps,
	})
	if err := s.Start(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("acquire feed %s: %w", circleID, err)
	}

	m.mu.Lock()
	// lost a race with a concurrent acquire for the same circle
	if mf, ok := m.active[circleID]; ok {
		mf.refs++
		m.mu.Unlock()
		s.Close()
		return mf.syncer, nil
	}
	m.active[circleID] = &managedFeed{syncer: s, refs: 1}
	m.mu.Unlock()

	slog.Info("[SYNC] Feed mounted", "circle", circleID, "user", userID)
	return s, nil
}

// Release drops one reference; the syncer (and its broker connection) closes
// when the last reference goes.
func (m *Manager) Release(circleID string) {
	m.mu.Lock()
	mf, ok := m.active[circleID]
	if !ok {
		m.mu.Unlock()
		return
	}
	mf.refs--
	if mf.refs > 0 {
		m.mu.Unlock()
		return
	}
	delete(m.active, circleID)
	m.mu.Unlock()

	mf.syncer.Close()
	slog.Info("[SYNC] Feed unmounted", "circle", circleID)
}

// ActiveFeeds reports how many circles currently have a live syncer.
func (m *Manager) ActiveFeeds() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// CloseAll tears down every live feed, for process shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	feeds := m.active
	m.active = make(map[string]*managedFeed)
	m.mu.Unlock()

	for circleID, mf := range feeds {
		mf.syncer.Close()
		slog.Debug("[SYNC] Feed closed on shutdown", "circle", circleID)
	}
}
