package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Messages sent by the local user",
		},
	)

	MessagesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_received_total",
			Help: "Messages received from counterparties",
		},
	)

	ReadReceipts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_read_receipts_total",
			Help: "Read receipts applied",
		},
	)

	TypingEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_typing_events_total",
			Help: "Typing flag changes",
		},
		[]string{"state"}, // "on" or "off"
	)

	DecodeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_decode_failures_total",
			Help: "Malformed inbound payloads dropped",
		},
	)

	Reconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_transport_reconnects_total",
			Help: "Transport reconnect attempts",
		},
	)

	QueuedSends = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_queued_sends",
			Help: "Messages waiting in the offline outbox",
		},
	)

	BrokerClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_broker_clients",
			Help: "Websocket clients connected to the broker",
		},
	)

	BrokerFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_broker_frames_total",
			Help: "Frames handled by the broker, by destination",
		},
		[]string{"destination"},
	)
)
