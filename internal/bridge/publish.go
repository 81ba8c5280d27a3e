package bridge

import (
	"context"
	"log/slog"

	"circlefeed/internal/models"
)

// Publish side of the bridge. Local creates are published to the circle topic
// after the authoritative REST response so other connected clients converge;
// the publisher never applies its own echo, the feed store's prepend guard
// takes care of the loopback case.

// PublishMessage announces a created message to other subscribers of the
// circle. Best-effort: failures are logged, never surfaced.
func (b *Bridge) PublishMessage(ctx context.Context, m models.Message) {
	payload, err := models.EncodeMessageEvent(m)
	if err != nil {
		slog.Error("[BRIDGE] Failed to encode message event", "circle", b.circleID, "error", err)
		return
	}
	b.publish(ctx, payload, models.EventTypeMessage)
}

// PublishComment announces a created comment to other subscribers.
func (b *Bridge) PublishComment(ctx context.Context, messageID string, c models.Comment) {
	payload, err := models.EncodeCommentEvent(messageID, c)
	if err != nil {
		slog.Error("[BRIDGE] Failed to encode comment event", "circle", b.circleID, "error", err)
		return
	}
	b.publish(ctx, payload, models.EventTypeComment)
}

func (b *Bridge) publish(ctx context.Context, payload []byte, eventType string) {
	b.mu.Lock()
	rdb := b.rdb
	b.mu.Unlock()

	if rdb == nil {
		slog.Warn("[BRIDGE] Publish with no live connection", "circle", b.circleID, "type", eventType)
		return
	}
	if err := rdb.Publish(ctx, b.circleID, payload).Err(); err != nil {
		slog.Error("[BRIDGE] Failed to publish event", "circle", b.circleID, "type", eventType, "error", err)
	}
}
