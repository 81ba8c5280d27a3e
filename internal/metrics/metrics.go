package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Feed synchronization counters. Registered on the default registry and
// served from /metrics by the gateway process.
var (
	PagesFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "circlefeed_pages_fetched_total",
		Help: "Feed pages fetched from the backend.",
	})

	PageFetchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "circlefeed_page_fetch_errors_total",
		Help: "Feed page fetches that failed.",
	})

	RealtimeEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circlefeed_realtime_events_total",
		Help: "Realtime events applied, by event type.",
	}, []string{"type"})

	RealtimeEventsIgnored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "circlefeed_realtime_events_ignored_total",
		Help: "Broker payloads ignored because they carry a foreign clientType.",
	})

	OrphanedComments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "circlefeed_orphaned_comments_total",
		Help: "Comment events whose target message was not loaded, queued for replay.",
	})

	ReplayedComments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "circlefeed_replayed_comments_total",
		Help: "Queued comments successfully applied after a feed refresh.",
	})

	MessagesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "circlefeed_messages_created_total",
		Help: "Messages created through this process.",
	})

	CommentsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "circlefeed_comments_created_total",
		Help: "Comments created through this process.",
	})

	BridgeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "circlefeed_bridge_connections",
		Help: "Live broker subscriptions.",
	})

	GatewayClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "circlefeed_gateway_clients",
		Help: "Connected WebSocket clients.",
	})
)
