package feedsync

import (
	"context"
	"sync"
	"testing"

	"github.com/go-playground/assert/v2"

	"circlefeed/internal/bridge"
	"circlefeed/internal/models"
)

// countingBridgeFactory tracks how many bridges are simultaneously open.
type countingBridgeFactory struct {
	mu         sync.Mutex
	open       int
	maxOpen    int
	cycles     int
	perCircle  map[string]int
	lastBridge *fakeBridge
}

func newCountingBridgeFactory() *countingBridgeFactory {
	return &countingBridgeFactory{perCircle: make(map[string]int)}
}

func (f *countingBridgeFactory) factory(circleID, userID string, h bridge.EventHandler) FeedBridge {
	cb := &countingBridge{fakeBridge: &fakeBridge{}, parent: f, circleID: circleID}
	f.mu.Lock()
	f.lastBridge = cb.fakeBridge
	f.mu.Unlock()
	return cb
}

type countingBridge struct {
	*fakeBridge
	parent   *countingBridgeFactory
	circleID string
}

func (c *countingBridge) Open(ctx context.Context) error {
	if err := c.fakeBridge.Open(ctx); err != nil {
		return err
	}
	c.parent.mu.Lock()
	c.parent.open++
	c.parent.cycles++
	c.parent.perCircle[c.circleID]++
	if c.parent.open > c.parent.maxOpen {
		c.parent.maxOpen = c.parent.open
	}
	c.parent.mu.Unlock()
	return nil
}

func (c *countingBridge) Close() {
	wasConnected := c.fakeBridge.State() == bridge.StateConnected
	c.fakeBridge.Close()
	if wasConnected {
		c.parent.mu.Lock()
		c.parent.open--
		c.parent.mu.Unlock()
	}
}

func newTestManager(backend *fakeBackend, f *countingBridgeFactory) *Manager {
	return NewManager(ManagerConfig{
		Backend: backend,
		Bridge:  f.factory,
	})
}

func TestManagerSharesOneSyncerPerCircle(t *testing.T) {
	backend := &fakeBackend{
		messages: serverMessages(5),
		circle:   models.Circle{ID: "c1", Status: models.CircleStatusActive},
	}
	f := newCountingBridgeFactory()
	m := newTestManager(backend, f)
	l := &recordingListener{}
	ctx := context.Background()

	s1, err := m.Acquire(ctx, "c1", "u1", l)
	assert.Equal(t, nil, err)
	s2, err := m.Acquire(ctx, "c1", "u2", l)
	assert.Equal(t, nil, err)
	assert.Equal(t, s1, s2)
	assert.Equal(t, 1, m.ActiveFeeds())
	assert.Equal(t, 1, f.maxOpen)

	m.Release("c1")
	assert.Equal(t, 1, m.ActiveFeeds())
	m.Release("c1")
	assert.Equal(t, 0, m.ActiveFeeds())
	assert.Equal(t, 0, f.open)
}

func TestMountUnmountCyclesNeverOverlapConnections(t *testing.T) {
	backend := &fakeBackend{
		messages: serverMessages(5),
		circle:   models.Circle{ID: "c1", Status: models.CircleStatusActive},
	}
	f := newCountingBridgeFactory()
	m := newTestManager(backend, f)
	l := &recordingListener{}
	ctx := context.Background()

	const n = 5
	for i := 0; i < n; i++ {
		_, err := m.Acquire(ctx, "c1", "u1", l)
		assert.Equal(t, nil, err)
		m.Release("c1")
	}

	assert.Equal(t, n, f.cycles)
	assert.Equal(t, 1, f.maxOpen)
	assert.Equal(t, 0, f.open)
}

func TestManagerCloseAll(t *testing.T) {
	backend := &fakeBackend{
		messages: serverMessages(5),
		circle:   models.Circle{ID: "c1", Status: models.CircleStatusActive},
	}
	f := newCountingBridgeFactory()
	m := newTestManager(backend, f)
	l := &recordingListener{}
	ctx := context.Background()

	_, err := m.Acquire(ctx, "c1", "u1", l)
	assert.Equal(t, nil, err)
	_, err = m.Acquire(ctx, "c2", "u1", l)
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, m.ActiveFeeds())

	m.CloseAll()
	assert.Equal(t, 0, m.ActiveFeeds())
	assert.Equal(t, 0, f.open)
}
