// Package metrics provides Prometheus instrumentation for MainThread.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mainthread_http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mainthread_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// Turn metrics.
var (
	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mainthread_turns_total",
		Help: "Total number of agent turns, labelled by final outcome.",
	}, []string{"outcome"})

	TurnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mainthread_turn_duration_seconds",
		Help:    "Agent turn duration in seconds.",
		Buckets: []float64{1, 5, 15, 60, 300, 900, 1800},
	})

	RunningAgents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mainthread_running_agents",
		Help: "Number of agent turns currently holding an admission permit.",
	})

	TurnRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mainthread_turn_retries_total",
		Help: "Total number of automatic turn retries after driver crashes.",
	})
)

// Event bus metrics.
var (
	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mainthread_events_published_total",
		Help: "Total number of events published to the bus, by type.",
	}, []string{"type"})

	SubscribersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mainthread_subscribers_active",
		Help: "Number of currently attached event subscribers.",
	})

	SubscribersOverflowedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mainthread_subscribers_overflowed_total",
		Help: "Total number of subscribers closed because their buffer overflowed.",
	})
)

// Orchestration metrics.
var (
	NotificationQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mainthread_notification_queue_depth",
		Help: "Total queued parent notifications across all threads.",
	})

	WatchdogRecoveriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mainthread_watchdog_recoveries_total",
		Help: "Total number of stuck threads recovered by the watchdog.",
	})

	EventsTrimmedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mainthread_events_trimmed_total",
		Help: "Total number of events removed by the housekeeper.",
	})
)

// WebSocket metrics.
var (
	WSConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mainthread_ws_connections_active",
		Help: "Number of active WebSocket stream connections.",
	})

	WSMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mainthread_ws_messages_total",
		Help: "Total number of WebSocket messages sent.",
	})
)
