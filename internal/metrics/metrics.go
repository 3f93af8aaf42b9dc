package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zulip_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zulip_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	UsersRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "zulip_users_registered_total",
			Help: "Total users registered",
		},
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zulip_messages_sent_total",
			Help: "Total messages sent",
		},
		[]string{"type"}, // "stream" or "private"
	)

	SubmessagesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "zulip_submessages_created_total",
			Help: "Total submessages created",
		},
	)

	SubmessagesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zulip_submessages_rejected_total",
			Help: "Total submessage requests rejected by validation",
		},
		[]string{"reason"},
	)

	// Fanout metrics
	EventsQueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "zulip_events_queued_total",
			Help: "Total events accepted for fanout",
		},
	)

	EventsDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "zulip_events_delivered_total",
			Help: "Total events delivered to recipient queues",
		},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zulip_events_dropped_total",
			Help: "Total events dropped before delivery",
		},
		[]string{"reason"},
	)

	EventsUndecodable = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "zulip_events_undecodable_total",
			Help: "Queued events discarded because they could not be decoded",
		},
	)

	EventDeliveryFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "zulip_event_delivery_failures_total",
			Help: "Total events abandoned after exhausting retries",
		},
	)

	FanoutLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "zulip_fanout_latency_seconds",
			Help:    "Time from dequeue to successful delivery, retries included",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zulip_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zulip_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)
)
