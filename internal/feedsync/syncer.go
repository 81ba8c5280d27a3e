package feedsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"circlefeed/internal/api"
	"circlefeed/internal/bridge"
	"circlefeed/internal/cache"
	"circlefeed/internal/feed"
	"circlefeed/internal/metrics"
	"circlefeed/internal/models"
)

// Backend is the slice of the club REST API the syncer consumes.
type Backend interface {
	ListMessages(ctx context.Context, circleID, memberID string, skip, limit int) (api.ListResult, error)
	CreateMessage(ctx context.Context, req api.CreateMessageRequest) (models.Message, error)
	CreateComment(ctx context.Context, req api.CreateCommentRequest) (models.Comment, error)
	GetCircle(ctx context.Context, circleID string) (models.Circle, error)
}

// FeedBridge is the realtime side of a circle feed.
type FeedBridge interface {
	Open(ctx context.Context) error
	Close()
	State() bridge.State
	PublishMessage(ctx context.Context, m models.Message)
	PublishComment(ctx context.Context, messageID string, c models.Comment)
}

// BridgeFactory builds the realtime bridge for a circle, delivering events to
// handler. The production factory is Dialer.Bridge.
type BridgeFactory func(circleID, userID string, handler bridge.EventHandler) FeedBridge

// Listener receives feed change notifications for fan-out to UI clients.
type Listener interface {
	FeedReplaced(circleID string, msgs []models.Message, totalCount int)
	MessageAdded(circleID string, m models.Message)
	CommentAdded(circleID, messageID string, c models.Comment)
	ScrollTo(circleID, messageID string, index int)
	OpenComments(circleID, messageID, commentID string)
}

// Syncer keeps one circle's feed synchronized: paginated backward fetches
// from the backend, realtime events from the broker, and publication of
// locally created content. It is the in-process analog of one mounted feed
// screen.
type Syncer struct {
	circleID string
	userID   string
	pageSize int

	store    *feed.Store
	backend  Backend
	br       FeedBridge
	listener Listener
	snaps    *cache.Cache // optional

	mu       sync.Mutex
	inFlight bool
	circle   models.Circle
	// comments whose target message was not loaded yet, keyed by message id,
	// replayed after every successful page apply
	pendingComments map[string][]models.Comment
	pendingLink     *DeepLink
}

// Config assembles a Syncer. Cache may be nil.
type Config struct {
	CircleID string
	UserID   string
	PageSize int
	Backend  Backend
	Bridge   BridgeFactory
	Listener Listener
	Cache    *cache.Cache
}

func New(cfg Config) *Syncer {
	if cfg.PageSize <= 0 {
		cfg.PageSize = api.DefaultPageSize
	}
	s := &Syncer{
		circleID:        cfg.CircleID,
		userID:          cfg.UserID,
		pageSize:        cfg.PageSize,
		store:           feed.NewStore(cfg.CircleID),
		backend:         cfg.Backend,
		listener:        cfg.Listener,
		snaps:           cfg.Cache,
		pendingComments: make(map[string][]models.Comment),
	}
	s.br = cfg.Bridge(cfg.CircleID, cfg.UserID, s)
	return s
}

func (s *Syncer) Store() *feed.Store {
	return s.store
}

// Start warms the feed from the snapshot cache, fetches the first page, and
// opens the realtime bridge — but only for circles in the active state;
// blocked or suspended circles never get a live connection.
func (s *Syncer) Start(ctx context.Context) error {
	if s.snaps != nil {
		if snap, ok, err := s.snaps.LoadFeed(s.circleID); err != nil {
			slog.Warn("[SYNC] Ignoring unreadable feed snapshot", "circle", s.circleID, "error", err)
		} else if ok {
			s.store.ApplyPage(snap.Messages, snap.TotalCount, 0)
			s.listener.FeedReplaced(s.circleID, snap.Messages, snap.TotalCount)
			slog.Debug("[SYNC] Warm-started from snapshot", "circle", s.circleID, "messages", len(snap.Messages))
		}
	}

	circle, err := s.backend.GetCircle(ctx, s.circleID)
	if err != nil {
		return fmt.Errorf("sync start: %w", err)
	}
	s.mu.Lock()
	s.circle = circle
	s.mu.Unlock()

	if err := s.Refresh(ctx); err != nil {
		return err
	}

	if circle.Status == models.CircleStatusActive {
		if err := s.br.Open(ctx); err != nil {
			// best-effort channel: the feed stays usable from REST fetches
			slog.Error("[SYNC] Realtime bridge failed to open", "circle", s.circleID, "error", err)
		}
	} else {
		slog.Info("[SYNC] Circle not active, realtime bridge withheld", "circle", s.circleID, "status", circle.Status)
	}
	return nil
}

// Close tears the realtime connection down. The feed store itself needs no
// teardown.
func (s *Syncer) Close() {
	s.br.Close()
}

// Circle returns the circle metadata fetched at start.
func (s *Syncer) Circle() models.Circle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.circle
}

// Refresh re-fetches the first page, e.g. when the screen regains focus.
// Queued orphan comments and a pending deep link are retried afterwards.
func (s *Syncer) Refresh(ctx context.Context) error {
	return s.fetchPage(ctx, 0)
}

// LoadMore fetches the next page of history. It is a no-op while another
// fetch is in flight, and once every server-side message is loaded.
func (s *Syncer) LoadMore(ctx context.Context) error {
	if s.store.Total() > 0 && s.store.Len() >= s.store.Total() {
		slog.Debug("[SYNC] Feed exhausted, load-more skipped", "circle", s.circleID, "loaded", s.store.Len())
		return nil
	}
	return s.fetchPage(ctx, s.store.Len())
}

func (s *Syncer) fetchPage(ctx context.Context, skip int) error {
	if !s.beginFetch() {
		slog.Debug("[SYNC] Page fetch already in flight", "circle", s.circleID)
		return nil
	}
	defer s.endFetch()

	res, err := s.backend.ListMessages(ctx, s.circleID, s.userID, skip, s.pageSize)
	if err != nil {
		metrics.PageFetchErrors.Inc()
		return fmt.Errorf("fetch page skip=%d: %w", skip, err)
	}
	metrics.PagesFetched.Inc()

	s.store.ApplyPage(res.Items, res.TotalCount, skip)
	s.listener.FeedReplaced(s.circleID, s.store.Snapshot(), s.store.Total())

	if skip == 0 && s.snaps != nil {
		if err := s.snaps.SaveFeed(s.circleID, cache.Snapshot{
			Messages:   s.store.Snapshot(),
			TotalCount: s.store.Total(),
		}); err != nil {
			slog.Warn("[SYNC] Failed to persist feed snapshot", "circle", s.circleID, "error", err)
		}
	}

	s.replayPending()
	s.tryResolve()
	return nil
}

func (s *Syncer) beginFetch() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return false
	}
	s.inFlight = true
	return true
}

func (s *Syncer) endFetch() {
	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
}

// OnMessage applies a realtime message event. The prepend guard makes the
// broker echo of our own create harmless.
func (s *Syncer) OnMessage(m models.Message) {
	if !s.store.PrependIfAbsent(m) {
		return
	}
	s.listener.MessageAdded(s.circleID, m)
	s.tryResolve()
}

// OnComment applies a realtime comment event. A comment whose message is
// outside the loaded window is queued and replayed after the next page apply
// instead of being dropped.
func (s *Syncer) OnComment(messageID string, c models.Comment) {
	if s.store.AppendComment(messageID, c) {
		s.listener.CommentAdded(s.circleID, messageID, c)
		return
	}
	metrics.OrphanedComments.Inc()
	s.mu.Lock()
	s.pendingComments[messageID] = append(s.pendingComments[messageID], c)
	s.mu.Unlock()
	slog.Debug("[SYNC] Comment target not loaded, queued", "circle", s.circleID, "message", messageID)
}

func (s *Syncer) replayPending() {
	s.mu.Lock()
	pending := s.pendingComments
	s.pendingComments = make(map[string][]models.Comment)
	s.mu.Unlock()

	for messageID, comments := range pending {
		for _, c := range comments {
			if s.store.AppendComment(messageID, c) {
				metrics.ReplayedComments.Inc()
				s.listener.CommentAdded(s.circleID, messageID, c)
				continue
			}
			// still not loaded, keep it queued
			s.mu.Lock()
			s.pendingComments[messageID] = append(s.pendingComments[messageID], c)
			s.mu.Unlock()
		}
	}
}

// PendingComments reports how many orphaned comments are queued.
func (s *Syncer) PendingComments() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, cs := range s.pendingComments {
		n += len(cs)
	}
	return n
}

// CreateMessage posts a message, inserts the authoritative server response
// into the feed, and announces it over the bridge. Nothing is inserted before
// the server answers.
func (s *Syncer) CreateMessage(ctx context.Context, posterID, body string, invited []string, resourceRef string) (models.Message, error) {
	m, err := s.backend.CreateMessage(ctx, api.CreateMessageRequest{
		Circle:              s.circleID,
		Poster:              posterID,
		Body:                body,
		InvitedMembers:      invited,
		ReferenceResourceID: resourceRef,
	})
	if err != nil {
		return models.Message{}, err
	}
	metrics.MessagesCreated.Inc()

	if s.store.PrependIfAbsent(m) {
		s.listener.MessageAdded(s.circleID, m)
	}
	s.br.PublishMessage(ctx, m)
	return m, nil
}

// CreateComment posts a comment, applies it locally from the server response,
// and announces it over the bridge.
func (s *Syncer) CreateComment(ctx context.Context, userID, messageID, body string) (models.Comment, error) {
	c, err := s.backend.CreateComment(ctx, api.CreateCommentRequest{
		CircleMessage: messageID,
		User:          userID,
		Body:          body,
	})
	if err != nil {
		return models.Comment{}, err
	}
	metrics.CommentsCreated.Inc()

	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if s.store.AppendComment(messageID, c) {
		s.listener.CommentAdded(s.circleID, messageID, c)
	}
	s.br.PublishComment(ctx, messageID, c)
	return c, nil
}
