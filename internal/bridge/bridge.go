package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/go-redis/redis/v8"

	"circlefeed/internal/metrics"
	"circlefeed/internal/models"
)

// EventHandler receives decoded feed events in broker delivery order.
type EventHandler interface {
	OnMessage(m models.Message)
	OnComment(messageID string, c models.Comment)
}

// State of a bridge's broker connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

var ErrAlreadyOpen = errors.New("bridge already open")

// Dialer validates broker connectivity once at startup and hands out bridges.
type Dialer struct {
	opts *redis.Options
}

// NewDialer parses the broker URL and pings it so misconfiguration fails at
// startup rather than on the first circle mount.
func NewDialer(redisURL string) (*Dialer, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse broker url: %w", err)
	}

	probe := redis.NewClient(opts)
	defer probe.Close()
	if err := probe.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("broker ping: %w", err)
	}
	slog.Info("[BRIDGE] Connected to broker", "addr", opts.Addr)

	return &Dialer{opts: opts}, nil
}

// Bridge creates a closed bridge for one circle feed. Events are delivered to
// handler; the caller owns the bridge's lifecycle via Open and Close.
func (d *Dialer) Bridge(circleID, userID string, handler EventHandler) *Bridge {
	return &Bridge{
		opts:     d.opts,
		circleID: circleID,
		clientID: fmt.Sprintf("%s_%s_%s", models.ClientType, circleID, userID),
		handler:  handler,
	}
}

// Bridge is the live pub/sub connection for one circle feed: topic = circle
// id, at-most-once delivery, no automatic reconnection. A dropped event is
// never retried; the next first-page fetch resynchronizes the feed.
type Bridge struct {
	opts     *redis.Options
	circleID string
	clientID string
	handler  EventHandler

	state atomic.Int32

	mu     sync.Mutex
	rdb    *redis.Client
	pubsub *redis.PubSub
	done   chan struct{}
}

// State reports the current connection state.
func (b *Bridge) State() State {
	return State(b.state.Load())
}

// ClientID is the broker connection name, distinguishable per user per circle.
func (b *Bridge) ClientID() string {
	return b.clientID
}

// Open dials the broker, subscribes to the circle topic and starts delivering
// events. It returns ErrAlreadyOpen when a live connection is already held —
// the presence check that keeps re-renders from stacking connections.
func (b *Bridge) Open(ctx context.Context) error {
	if !b.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return ErrAlreadyOpen
	}

	opts := *b.opts
	name := b.clientID
	opts.OnConnect = func(ctx context.Context, cn *redis.Conn) error {
		return cn.ClientSetName(ctx, name).Err()
	}

	rdb := redis.NewClient(&opts)
	pubsub := rdb.Subscribe(ctx, b.circleID)

	// wait for the subscription ack before reporting connected
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		rdb.Close()
		b.state.Store(int32(StateDisconnected))
		return fmt.Errorf("subscribe %s: %w", b.circleID, err)
	}

	b.mu.Lock()
	b.rdb = rdb
	b.pubsub = pubsub
	b.done = make(chan struct{})
	b.mu.Unlock()

	b.state.Store(int32(StateConnected))
	metrics.BridgeConnections.Inc()
	slog.Info("[BRIDGE] Subscribed", "circle", b.circleID, "client", b.clientID)

	go b.readLoop(pubsub.Channel(), b.done)
	return nil
}

// Close unsubscribes and releases the broker connection. Safe to call on a
// bridge that never opened.
func (b *Bridge) Close() {
	if !b.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnected)) {
		b.state.Store(int32(StateDisconnected))
		return
	}

	b.mu.Lock()
	pubsub, rdb, done := b.pubsub, b.rdb, b.done
	b.pubsub, b.rdb, b.done = nil, nil, nil
	b.mu.Unlock()

	if pubsub != nil {
		_ = pubsub.Unsubscribe(context.Background(), b.circleID)
		_ = pubsub.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	if done != nil {
		<-done
	}
	metrics.BridgeConnections.Dec()
	slog.Info("[BRIDGE] Closed", "circle", b.circleID)
}

func (b *Bridge) readLoop(ch <-chan *redis.Message, done chan struct{}) {
	defer close(done)
	for msg := range ch {
		b.dispatch([]byte(msg.Payload))
	}
	slog.Debug("[BRIDGE] Subscription channel closed", "circle", b.circleID)
}

// dispatch decodes one broker payload and applies it. Decode failures and
// foreign traffic are dropped without surfacing to the user: this is a
// best-effort channel.
func (b *Bridge) dispatch(payload []byte) {
	ev, err := models.DecodeEnvelope(payload)
	if err != nil {
		if errors.Is(err, models.ErrForeignEnvelope) {
			metrics.RealtimeEventsIgnored.Inc()
			return
		}
		slog.Error("[BRIDGE] Dropping undecodable event", "circle", b.circleID, "error", err)
		return
	}

	switch e := ev.(type) {
	case models.MessageEvent:
		metrics.RealtimeEvents.WithLabelValues(models.EventTypeMessage).Inc()
		b.handler.OnMessage(e.Message)
	case models.CommentEvent:
		metrics.RealtimeEvents.WithLabelValues(models.EventTypeComment).Inc()
		b.handler.OnComment(e.MessageID, e.Comment)
	}
}
