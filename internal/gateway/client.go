package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"circlefeed/internal/feedsync"
)

const (
	// Time allowed to write a message
	writeWait = 10 * time.Second

	// Time allowed to read next pong message
	pongWait = 60 * time.Second

	// Send pings with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Max inbound command size
	maxMessageSize = 64 * 1024

	// Budget for a backend call triggered by a client command
	commandTimeout = 20 * time.Second
)

// Client is one WebSocket subscriber of a circle feed.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	circleID  string
	userID    string
	memberID  string
	sessionID string
	syncer    *feedsync.Syncer
	limiter   *rate.Limiter

	// guarded by hub.mu: feed reference handed back to the manager
	released bool
}

// command is the inbound client frame.
type command struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ReadPump consumes client commands until the connection drops, then hands
// the client back to the hub.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("[GATEWAY] Unexpected close", "user", c.userID, "circle", c.circleID, "error", err)
			}
			break
		}
		c.handleCommand(message)
	}
}

// WritePump pushes gateway events to the socket and keeps the connection
// alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				slog.Error("[GATEWAY] Write failed", "user", c.userID, "circle", c.circleID, "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type createMessageCommand struct {
	Body                string   `json:"message"`
	InvitedMembers      []string `json:"invitedMembers"`
	ReferenceResourceID string   `json:"referenceResourceId,omitempty"`
}

type createCommentCommand struct {
	MessageID string `json:"circleMessage"`
	Body      string `json:"message"`
}

type deepLinkCommand struct {
	MessageID string `json:"messageId"`
	CommentID string `json:"commentId,omitempty"`
}

func (c *Client) handleCommand(raw []byte) {
	if !c.limiter.Allow() {
		slog.Warn("[GATEWAY] Command rate limit hit", "user", c.userID, "circle", c.circleID)
		c.sendError("slow down")
		return
	}

	var cmd command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		slog.Error("[GATEWAY] Undecodable command", "user", c.userID, "circle", c.circleID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	switch cmd.Type {
	case "feed:loadMore":
		if err := c.syncer.LoadMore(ctx); err != nil {
			slog.Error("[GATEWAY] Load more failed", "user", c.userID, "circle", c.circleID, "error", err)
			c.sendError("could not load more messages")
		}

	case "feed:refresh":
		if err := c.syncer.Refresh(ctx); err != nil {
			slog.Error("[GATEWAY] Refresh failed", "user", c.userID, "circle", c.circleID, "error", err)
			c.sendError("could not refresh the feed")
		}

	case "message:create":
		var body createMessageCommand
		if err := json.Unmarshal(cmd.Data, &body); err != nil || body.Body == "" {
			c.sendError("invalid message")
			return
		}
		if _, err := c.syncer.CreateMessage(ctx, c.userID, body.Body, body.InvitedMembers, body.ReferenceResourceID); err != nil {
			slog.Error("[GATEWAY] Create message failed", "user", c.userID, "circle", c.circleID, "error", err)
			c.sendError("could not post the message")
		}

	case "comment:create":
		var body createCommentCommand
		if err := json.Unmarshal(cmd.Data, &body); err != nil || body.MessageID == "" || body.Body == "" {
			c.sendError("invalid comment")
			return
		}
		if _, err := c.syncer.CreateComment(ctx, c.userID, body.MessageID, body.Body); err != nil {
			slog.Error("[GATEWAY] Create comment failed", "user", c.userID, "circle", c.circleID, "error", err)
			c.sendError("could not post the comment")
		}

	case "feed:deepLink":
		var body deepLinkCommand
		if err := json.Unmarshal(cmd.Data, &body); err != nil || body.MessageID == "" {
			return
		}
		c.syncer.SetDeepLink(feedsync.DeepLink{MessageID: body.MessageID, CommentID: body.CommentID})

	default:
		slog.Warn("[GATEWAY] Unknown command", "type", cmd.Type, "user", c.userID, "circle", c.circleID)
	}
}

type errorPayload struct {
	Message string `json:"message"`
}

// sendError delivers a toast-style error to this client only.
func (c *Client) sendError(msg string) {
	payload, err := json.Marshal(errorPayload{Message: msg})
	if err != nil {
		return
	}
	c.sendEvent("error", payload)
}

func (c *Client) sendEvent(eventType string, data json.RawMessage) {
	payload, err := json.Marshal(struct {
		Type      string          `json:"type"`
		CircleID  string          `json:"circleId"`
		Timestamp int64           `json:"timestamp"`
		Data      json.RawMessage `json:"data"`
	}{eventType, c.circleID, time.Now().Unix(), data})
	if err != nil {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}
