// Package metrics holds the Prometheus collectors for the client engine and
// the dev server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/matheus3301/chatsync/internal/live"
)

var (
	// Room sessions
	RoomsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_rooms_open",
			Help: "Room sessions currently open",
		},
	)

	RoomsOpened = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_rooms_opened_total",
			Help: "Room sessions opened, by state after hydration",
		},
		[]string{"state"},
	)

	MessagesMerged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_messages_merged_total",
			Help: "Live messages merged into a room store",
		},
		[]string{"result"},
	)

	AttachmentsSettled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_attachments_settled_total",
			Help: "Attachment resolutions by outcome",
		},
		[]string{"outcome"}, // "resolved" or "failed"
	)

	ReceiptFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_receipt_failures_total",
			Help: "Read receipts the backend did not accept",
		},
	)

	Signals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_signals_total",
			Help: "Navigation signals raised by room sessions",
		},
		[]string{"signal"},
	)

	// Live transport
	FramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_live_frames_received_total",
			Help: "Frames read from the live channel",
		},
		[]string{"type"},
	)

	Reconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_live_reconnects_total",
			Help: "Live channel reconnects after a connection loss",
		},
	)

	// Dev server
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatsync_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	LiveClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_live_clients",
			Help: "Live connections held by the dev server",
		},
	)

	MessagesStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_messages_stored_total",
			Help: "Messages accepted by the dev server",
		},
		[]string{"type"},
	)

	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatsync_redis_latency_seconds",
			Help:    "Redis publish latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)
)

// ObserveRedis records the latency of one Redis operation started at start.
func ObserveRedis(start time.Time) {
	RedisLatency.Observe(time.Since(start).Seconds())
}

// Recorder feeds room session and live hub statistics into the collectors.
type Recorder struct{}

func (Recorder) SessionOpened(state string) {
	RoomsOpen.Inc()
	RoomsOpened.WithLabelValues(state).Inc()
}

func (Recorder) SessionClosed() { RoomsOpen.Dec() }

func (Recorder) MessageMerged(result string) {
	MessagesMerged.WithLabelValues(result).Inc()
}

func (Recorder) AttachmentSettled(ok bool) {
	outcome := "resolved"
	if !ok {
		outcome = "failed"
	}
	AttachmentsSettled.WithLabelValues(outcome).Inc()
}

func (Recorder) ReceiptFailed() { ReceiptFailures.Inc() }

func (Recorder) SignalRaised(sig string) {
	Signals.WithLabelValues(sig).Inc()
}

func (Recorder) FrameReceived(t live.FrameType) {
	FramesReceived.WithLabelValues(string(t)).Inc()
}

func (Recorder) Reconnected() { Reconnects.Inc() }
