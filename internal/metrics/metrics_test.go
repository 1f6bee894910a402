package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/matheus3301/chatsync/internal/live"
)

func value(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	m := &dto.Metric{}
	if err := (<-ch).Write(m); err != nil {
		t.Fatal(err)
	}
	switch {
	case m.Counter != nil:
		return m.GetCounter().GetValue()
	case m.Gauge != nil:
		return m.GetGauge().GetValue()
	}
	t.Fatalf("unsupported metric %v", m)
	return 0
}

func TestRecorderSessions(t *testing.T) {
	var r Recorder
	open := value(t, RoomsOpen)
	opened := value(t, RoomsOpened.WithLabelValues("LIVE"))

	r.SessionOpened("LIVE")
	if got := value(t, RoomsOpen); got != open+1 {
		t.Errorf("rooms open = %v, want %v", got, open+1)
	}
	if got := value(t, RoomsOpened.WithLabelValues("LIVE")); got != opened+1 {
		t.Errorf("rooms opened = %v, want %v", got, opened+1)
	}
	r.SessionClosed()
	if got := value(t, RoomsOpen); got != open {
		t.Errorf("rooms open after close = %v, want %v", got, open)
	}
}

func TestRecorderCounters(t *testing.T) {
	var r Recorder
	tests := []struct {
		name   string
		record func()
		c      prometheus.Collector
	}{
		{"merged", func() { r.MessageMerged("inserted") }, MessagesMerged.WithLabelValues("inserted")},
		{"resolved", func() { r.AttachmentSettled(true) }, AttachmentsSettled.WithLabelValues("resolved")},
		{"failed", func() { r.AttachmentSettled(false) }, AttachmentsSettled.WithLabelValues("failed")},
		{"receipt", r.ReceiptFailed, ReceiptFailures},
		{"signal", func() { r.SignalRaised("LEAVE_ROOM") }, Signals.WithLabelValues("LEAVE_ROOM")},
		{"frame", func() { r.FrameReceived(live.FrameMessage) }, FramesReceived.WithLabelValues(string(live.FrameMessage))},
		{"reconnect", r.Reconnected, Reconnects},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := value(t, tt.c)
			tt.record()
			if got := value(t, tt.c); got != before+1 {
				t.Errorf("value = %v, want %v", got, before+1)
			}
		})
	}
}
