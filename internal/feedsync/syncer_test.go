package feedsync

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"circlefeed/internal/api"
	"circlefeed/internal/bridge"
	"circlefeed/internal/models"
)

// fakeBackend serves a fixed newest-first message list with skip/limit
// pagination.
type fakeBackend struct {
	mu        sync.Mutex
	messages  []models.Message
	circle    models.Circle
	listCalls int32
	listErr   error

	// when set, ListMessages blocks until the channel is closed
	block chan struct{}
}

func (f *fakeBackend) ListMessages(ctx context.Context, circleID, memberID string, skip, limit int) (api.ListResult, error) {
	atomic.AddInt32(&f.listCalls, 1)
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return api.ListResult{}, f.listErr
	}
	total := len(f.messages)
	if skip > total {
		skip = total
	}
	end := skip + limit
	if end > total {
		end = total
	}
	page := append([]models.Message(nil), f.messages[skip:end]...)
	return api.ListResult{Items: page, TotalCount: total}, nil
}

func (f *fakeBackend) CreateMessage(ctx context.Context, req api.CreateMessageRequest) (models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := models.Message{
		ID:        fmt.Sprintf("created-%d", len(f.messages)+1),
		Circle:    req.Circle,
		Poster:    models.UserRef{ID: req.Poster},
		Body:      req.Body,
		CreatedAt: time.Now().UTC(),
	}
	f.messages = append([]models.Message{m}, f.messages...)
	return m, nil
}

func (f *fakeBackend) CreateComment(ctx context.Context, req api.CreateCommentRequest) (models.Comment, error) {
	return models.Comment{
		ID:        "comment-1",
		Author:    models.UserRef{ID: req.User},
		Body:      req.Body,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (f *fakeBackend) GetCircle(ctx context.Context, circleID string) (models.Circle, error) {
	return f.circle, nil
}

// fakeBridge counts lifecycle transitions and records publishes.
type fakeBridge struct {
	mu        sync.Mutex
	opens     int
	closes    int
	state     bridge.State
	published []string
}

func (f *fakeBridge) Open(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	f.state = bridge.StateConnected
	return nil
}

func (f *fakeBridge) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == bridge.StateConnected {
		f.closes++
	}
	f.state = bridge.StateDisconnected
}

func (f *fakeBridge) State() bridge.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeBridge) PublishMessage(ctx context.Context, m models.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, "message:"+m.ID)
}

func (f *fakeBridge) PublishComment(ctx context.Context, messageID string, c models.Comment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, "comment:"+messageID+":"+c.ID)
}

// recordingListener captures fan-out notifications.
type recordingListener struct {
	mu       sync.Mutex
	replaced int
	added    []string
	comments []string
	scrolls  []int
	opened   []string
}

func (l *recordingListener) FeedReplaced(circleID string, msgs []models.Message, total int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.replaced++
}

func (l *recordingListener) MessageAdded(circleID string, m models.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.added = append(l.added, m.ID)
}

func (l *recordingListener) CommentAdded(circleID, messageID string, c models.Comment) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.comments = append(l.comments, messageID+":"+c.ID)
}

func (l *recordingListener) ScrollTo(circleID, messageID string, index int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.scrolls = append(l.scrolls, index)
}

func (l *recordingListener) OpenComments(circleID, messageID, commentID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.opened = append(l.opened, messageID+":"+commentID)
}

func serverMessages(n int) []models.Message {
	// newest first: m<n> .. m1
	out := make([]models.Message, 0, n)
	for i := n; i >= 1; i-- {
		out = append(out, models.Message{ID: fmt.Sprintf("m%d", i), Circle: "c1"})
	}
	return out
}

func newTestSyncer(backend *fakeBackend) (*Syncer, *fakeBridge, *recordingListener) {
	fb := &fakeBridge{}
	l := &recordingListener{}
	s := New(Config{
		CircleID: "c1",
		UserID:   "u1",
		Backend:  backend,
		Listener: l,
		Bridge: func(circleID, userID string, h bridge.EventHandler) FeedBridge {
			return fb
		},
	})
	return s, fb, l
}

func TestStartLoadsFirstPageAndOpensBridge(t *testing.T) {
	backend := &fakeBackend{
		messages: serverMessages(25),
		circle:   models.Circle{ID: "c1", Status: models.CircleStatusActive},
	}
	s, fb, _ := newTestSyncer(backend)

	assert.Equal(t, nil, s.Start(context.Background()))
	assert.Equal(t, 10, s.Store().Len())
	assert.Equal(t, 25, s.Store().Total())
	assert.Equal(t, "m25", s.Store().Snapshot()[0].ID)
	assert.Equal(t, 1, fb.opens)
}

func TestBlockedCircleGetsNoBridge(t *testing.T) {
	backend := &fakeBackend{
		messages: serverMessages(5),
		circle:   models.Circle{ID: "c1", Status: models.CircleStatusBlocked},
	}
	s, fb, _ := newTestSyncer(backend)

	assert.Equal(t, nil, s.Start(context.Background()))
	assert.Equal(t, 5, s.Store().Len())
	assert.Equal(t, 0, fb.opens)
}

func TestTwentyFiveMessageScenario(t *testing.T) {
	backend := &fakeBackend{
		messages: serverMessages(25),
		circle:   models.Circle{ID: "c1", Status: models.CircleStatusActive},
	}
	s, _, _ := newTestSyncer(backend)
	ctx := context.Background()

	assert.Equal(t, nil, s.Start(ctx))
	assert.Equal(t, nil, s.LoadMore(ctx))
	assert.Equal(t, 20, s.Store().Len())
	assert.Equal(t, 25, s.Store().Total())

	// realtime arrival of a message not among the loaded 20
	s.OnMessage(models.Message{ID: "m26", Circle: "c1"})
	assert.Equal(t, 21, s.Store().Len())
	assert.Equal(t, 0, s.Store().IndexOf("m26"))
	assert.Equal(t, 26, s.Store().Total())
}

func TestLoadMoreStopsWhenExhausted(t *testing.T) {
	backend := &fakeBackend{
		messages: serverMessages(10),
		circle:   models.Circle{ID: "c1", Status: models.CircleStatusActive},
	}
	s, _, _ := newTestSyncer(backend)
	ctx := context.Background()

	assert.Equal(t, nil, s.Start(ctx))
	assert.Equal(t, 10, s.Store().Len())
	calls := atomic.LoadInt32(&backend.listCalls)

	assert.Equal(t, nil, s.LoadMore(ctx))
	assert.Equal(t, calls, atomic.LoadInt32(&backend.listCalls))
}

func TestSingleInFlightFetch(t *testing.T) {
	backend := &fakeBackend{
		messages: serverMessages(25),
		circle:   models.Circle{ID: "c1", Status: models.CircleStatusActive},
		block:    make(chan struct{}),
	}
	s, _, _ := newTestSyncer(backend)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- s.Refresh(ctx) }()

	// wait until the first fetch is issued, then trigger another
	for atomic.LoadInt32(&backend.listCalls) == 0 {
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, nil, s.LoadMore(ctx))
	assert.Equal(t, int32(1), atomic.LoadInt32(&backend.listCalls))

	close(backend.block)
	assert.Equal(t, nil, <-done)
	assert.Equal(t, 10, s.Store().Len())
}

func TestOrphanCommentQueuedAndReplayed(t *testing.T) {
	backend := &fakeBackend{
		messages: serverMessages(25),
		circle:   models.Circle{ID: "c1", Status: models.CircleStatusActive},
	}
	s, _, l := newTestSyncer(backend)
	ctx := context.Background()

	assert.Equal(t, nil, s.Start(ctx))
	assert.Equal(t, 10, s.Store().Len())

	// m12 lives on page two; the comment cannot be applied yet
	s.OnComment("m12", models.Comment{ID: "k1", Body: "early"})
	assert.Equal(t, 10, s.Store().Len())
	assert.Equal(t, 1, s.PendingComments())
	assert.Equal(t, 0, len(l.comments))

	// loading the next page brings m12 in, the queued comment replays
	assert.Equal(t, nil, s.LoadMore(ctx))
	assert.Equal(t, 0, s.PendingComments())
	m, ok := s.Store().Get("m12")
	assert.Equal(t, true, ok)
	assert.Equal(t, 1, len(m.Comments))
	assert.Equal(t, 1, m.TotalComments)
	assert.Equal(t, []string{"m12:k1"}, l.comments)
}

func TestRealtimeCommentOnLoadedMessage(t *testing.T) {
	backend := &fakeBackend{
		messages: serverMessages(5),
		circle:   models.Circle{ID: "c1", Status: models.CircleStatusActive},
	}
	s, _, l := newTestSyncer(backend)
	assert.Equal(t, nil, s.Start(context.Background()))

	s.OnComment("m3", models.Comment{ID: "k1", Body: "live"})
	m, _ := s.Store().Get("m3")
	assert.Equal(t, 1, m.TotalComments)
	assert.Equal(t, []string{"m3:k1"}, l.comments)
}

func TestCreateMessagePublishesAndToleratesEcho(t *testing.T) {
	backend := &fakeBackend{
		messages: serverMessages(3),
		circle:   models.Circle{ID: "c1", Status: models.CircleStatusActive},
	}
	s, fb, _ := newTestSyncer(backend)
	ctx := context.Background()
	assert.Equal(t, nil, s.Start(ctx))

	m, err := s.CreateMessage(ctx, "u1", "hello all", []string{"u2"}, "")
	assert.Equal(t, nil, err)
	assert.Equal(t, 0, s.Store().IndexOf(m.ID))
	assert.Equal(t, []string{"message:" + m.ID}, fb.published)

	// the broker echoes our own publish back; the feed must not double-insert
	before := s.Store().Len()
	s.OnMessage(m)
	assert.Equal(t, before, s.Store().Len())
}

func TestCreateCommentAppliesLocallyAndPublishes(t *testing.T) {
	backend := &fakeBackend{
		messages: serverMessages(3),
		circle:   models.Circle{ID: "c1", Status: models.CircleStatusActive},
	}
	s, fb, _ := newTestSyncer(backend)
	ctx := context.Background()
	assert.Equal(t, nil, s.Start(ctx))

	c, err := s.CreateComment(ctx, "u1", "m2", "good point")
	assert.Equal(t, nil, err)

	m, _ := s.Store().Get("m2")
	assert.Equal(t, 1, m.TotalComments)
	assert.Equal(t, []string{"comment:m2:" + c.ID}, fb.published)
}
