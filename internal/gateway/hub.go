package gateway

import (
	"context"
	"log/slog"
	"sync"

	"github.com/goccy/go-json"

	"circlefeed/internal/feedsync"
	"circlefeed/internal/metrics"
	"circlefeed/internal/models"
)

// feedManager is the slice of the sync manager the hub drives: mount on first
// subscriber, unmount on last.
type feedManager interface {
	Acquire(ctx context.Context, circleID, userID string, l feedsync.Listener) (*feedsync.Syncer, error)
	Release(circleID string)
}

// Hub tracks the WebSocket subscribers of each circle feed and fans feed
// changes out to them. It is the feedsync.Listener for every syncer the
// manager runs.
type Hub struct {
	// subscribers per circle id
	circles map[string]map[*Client]bool

	mu sync.RWMutex

	register   chan *Client
	unregister chan *Client

	manager feedManager
}

func NewHub(manager feedManager) *Hub {
	return &Hub{
		circles:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		manager:    manager,
	}
}

func (h *Hub) Run() {
	slog.Info("[HUB] Starting hub event loop")
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.unregisterClient(client)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	if h.circles[client.circleID] == nil {
		h.circles[client.circleID] = make(map[*Client]bool)
	}
	h.circles[client.circleID][client] = true
	count := len(h.circles[client.circleID])
	h.mu.Unlock()

	metrics.GatewayClients.Inc()
	slog.Info("[HUB] Client registered", "user", client.userID, "circle", client.circleID, "session", client.sessionID, "subscribers", count)
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	clients := h.circles[client.circleID]
	present := clients != nil && clients[client]
	if present {
		delete(clients, client)
		close(client.send)
		if len(clients) == 0 {
			delete(h.circles, client.circleID)
		}
	}
	released := client.released
	client.released = true
	h.mu.Unlock()

	if present {
		metrics.GatewayClients.Dec()
		slog.Info("[HUB] Client unregistered", "user", client.userID, "circle", client.circleID)
	}

	// last subscriber gone: unmount the feed, closing its broker connection.
	// Outside the lock — teardown waits on the bridge read loop, which may be
	// mid-broadcast.
	if !released {
		h.manager.Release(client.circleID)
	}
}

// broadcast encodes a gateway event and sends it to every subscriber of the
// circle. A client that cannot keep up is dropped.
func (h *Hub) broadcast(circleID, eventType string, data interface{}) {
	payload, err := json.Marshal(models.NewGatewayEvent(eventType, circleID, data))
	if err != nil {
		slog.Error("[HUB] Failed to encode gateway event", "type", eventType, "circle", circleID, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.circles[circleID]
	if !ok {
		return
	}
	for client := range clients {
		select {
		case client.send <- payload:
		default:
			slog.Warn("[HUB] Client buffer full, disconnecting", "user", client.userID, "circle", circleID)
			close(client.send)
			delete(clients, client)
			metrics.GatewayClients.Dec()
		}
	}
}

// Subscribers reports how many clients watch a circle.
func (h *Hub) Subscribers(circleID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.circles[circleID])
}

// feedsync.Listener implementation: feed changes become gateway events.

type pagePayload struct {
	Messages   []models.Message `json:"messages"`
	TotalCount int              `json:"totalCount"`
}

type commentPayload struct {
	MessageID string         `json:"messageId"`
	Comment   models.Comment `json:"comment"`
}

type scrollPayload struct {
	MessageID string `json:"messageId"`
	Index     int    `json:"index"`
}

type openCommentsPayload struct {
	MessageID string `json:"messageId"`
	CommentID string `json:"commentId,omitempty"`
}

func (h *Hub) FeedReplaced(circleID string, msgs []models.Message, totalCount int) {
	h.broadcast(circleID, "feed:page", pagePayload{Messages: msgs, TotalCount: totalCount})
}

func (h *Hub) MessageAdded(circleID string, m models.Message) {
	h.broadcast(circleID, "message:new", m)
}

func (h *Hub) CommentAdded(circleID, messageID string, c models.Comment) {
	h.broadcast(circleID, "comment:new", commentPayload{MessageID: messageID, Comment: c})
}

func (h *Hub) ScrollTo(circleID, messageID string, index int) {
	h.broadcast(circleID, "feed:scrollTo", scrollPayload{MessageID: messageID, Index: index})
}

func (h *Hub) OpenComments(circleID, messageID, commentID string) {
	h.broadcast(circleID, "feed:openComments", openCommentsPayload{MessageID: messageID, CommentID: commentID})
}
