package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	startTime = time.Now()

	Uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "presence_uptime_seconds",
			Help: "Presence server uptime in seconds",
		}, func() float64 {
			return time.Since(startTime).Seconds()
		})

	ConnectionErrs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "presence_websocket_connection_errors",
			Help: "Number of connection errors",
		})

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "presence_active_sessions",
			Help: "Current number of open presence sessions",
		},
	)

	TotalSessions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "presence_total_sessions",
			Help: "Total number of presence sessions ever accepted",
		},
	)

	ActiveRooms = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "presence_active_rooms",
			Help: "Current number of rooms with at least one member",
		},
	)

	RoomJoins = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "presence_room_joins_total",
			Help: "Total number of room join events",
		},
	)

	RoomLeaves = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "presence_room_leaves_total",
			Help: "Total number of room leave events",
		},
	)

	MessagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_messages_received_total",
			Help: "Total number of messages received by type",
		},
		[]string{"type"},
	)

	MessagesBroadcasted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "presence_messages_broadcasted_total",
			Help: "Total number of messages fanned out to room members",
		},
	)

	CursorUpdates = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "presence_cursor_updates_total",
			Help: "Total number of cursor updates relayed",
		},
	)

	FailedMessageSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_failed_message_sends_total",
			Help: "Total number of failed message sends per reason",
		},
		[]string{"reason"},
	)

	InvalidPayloads = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "presence_invalid_payloads_total",
			Help: "Total number of invalid payloads received",
		},
	)

	ResyncBroadcasts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "presence_resync_broadcasts_total",
			Help: "Total number of periodic room-users resync broadcasts",
		},
	)

	SessionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "presence_session_duration_seconds",
			Help:    "Duration of presence sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 8),
		},
	)
)

func InitPresence() {
	prometheus.MustRegister(
		Uptime,
		ConnectionErrs,
		ActiveSessions,
		TotalSessions,
		ActiveRooms,
		RoomJoins,
		RoomLeaves,
		MessagesReceived,
		MessagesBroadcasted,
		CursorUpdates,
		FailedMessageSends,
		InvalidPayloads,
		ResyncBroadcasts,
		SessionDuration,
	)
}
