package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// ClientType namespaces circle-feed traffic on the shared broker. Envelopes
// carrying any other clientType belong to another feature area and are ignored.
const ClientType = "CIRCLE_MESSAGE"

const (
	EventTypeMessage = "message"
	EventTypeComment = "comment"
)

// ErrForeignEnvelope marks an envelope whose clientType is not ours.
var ErrForeignEnvelope = errors.New("envelope belongs to another client type")

// Envelope is the broker wire wrapper:
// {"clientType":"CIRCLE_MESSAGE","data":{"type":"message"|"comment","data":{...}}}
type Envelope struct {
	ClientType string       `json:"clientType"`
	Data       EnvelopeBody `json:"data"`
}

type EnvelopeBody struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// FeedEvent is the decoded form of an envelope: either a MessageEvent or a
// CommentEvent. The payload shape is validated once here and never
// re-inspected downstream.
type FeedEvent interface {
	feedEvent()
}

// MessageEvent carries a newly created message.
type MessageEvent struct {
	Message Message
}

// CommentEvent carries a new comment plus the id of the message it belongs
// to; MessageID travels only on the wire.
type CommentEvent struct {
	MessageID string
	Comment   Comment
}

func (MessageEvent) feedEvent() {}
func (CommentEvent) feedEvent() {}

// commentWire is CommentEvent's wire shape: the comment fields flattened
// alongside a messageId discriminant.
type commentWire struct {
	Comment
	MessageID string `json:"messageId"`
}

// DecodeEnvelope parses a raw broker payload into a FeedEvent. Foreign
// clientTypes return ErrForeignEnvelope so callers can drop them silently.
func DecodeEnvelope(payload []byte) (FeedEvent, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}
	if env.ClientType != ClientType {
		return nil, ErrForeignEnvelope
	}

	switch env.Data.Type {
	case EventTypeMessage:
		var m Message
		if err := json.Unmarshal(env.Data.Data, &m); err != nil {
			return nil, fmt.Errorf("malformed message event: %w", err)
		}
		return MessageEvent{Message: m}, nil

	case EventTypeComment:
		var cw commentWire
		if err := json.Unmarshal(env.Data.Data, &cw); err != nil {
			return nil, fmt.Errorf("malformed comment event: %w", err)
		}
		if cw.MessageID == "" {
			return nil, errors.New("comment event missing messageId")
		}
		return CommentEvent{MessageID: cw.MessageID, Comment: cw.Comment}, nil

	default:
		return nil, fmt.Errorf("unknown event type %q", env.Data.Type)
	}
}

// EncodeMessageEvent wraps a created message for publication.
func EncodeMessageEvent(m Message) ([]byte, error) {
	inner, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{
		ClientType: ClientType,
		Data:       EnvelopeBody{Type: EventTypeMessage, Data: inner},
	})
}

// EncodeCommentEvent wraps a created comment for publication, attaching the
// parent message id.
func EncodeCommentEvent(messageID string, c Comment) ([]byte, error) {
	inner, err := json.Marshal(commentWire{Comment: c, MessageID: messageID})
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{
		ClientType: ClientType,
		Data:       EnvelopeBody{Type: EventTypeComment, Data: inner},
	})
}

// GatewayEvent is the envelope pushed to WebSocket subscribers of a circle
// feed.
type GatewayEvent struct {
	Type      string      `json:"type"`
	CircleID  string      `json:"circleId"`
	Timestamp int64       `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// NewGatewayEvent stamps a gateway event with the current time.
func NewGatewayEvent(eventType, circleID string, data interface{}) GatewayEvent {
	return GatewayEvent{
		Type:      eventType,
		CircleID:  circleID,
		Timestamp: time.Now().Unix(),
		Data:      data,
	}
}

// BroadcastMessage is a pre-encoded payload addressed to every subscriber of
// one circle.
type BroadcastMessage struct {
	CircleID string
	Payload  []byte
}
