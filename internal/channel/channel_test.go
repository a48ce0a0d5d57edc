package channel

import (
	"context"
	"testing"
	"time"

	"bookflow/models"
)

func TestNewChannels(t *testing.T) {
	c := NewChannels(4, 8, 2)
	if cap(c.RawFeedChan) != 4 || cap(c.EventChan) != 8 || cap(c.ControlChan) != 2 {
		t.Fatalf("unexpected channel capacities: %d %d %d",
			cap(c.RawFeedChan), cap(c.EventChan), cap(c.ControlChan))
	}
	if cap(c.TransportChan) != transportBuffer {
		t.Fatalf("expected transport buffer %d, got %d", transportBuffer, cap(c.TransportChan))
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.StartMetricsReporting(ctx)
	time.Sleep(10 * time.Millisecond)
	cancel()
	c.Close()
}

func TestSendRawDropsWhenFull(t *testing.T) {
	c := NewChannels(1, 1, 1)
	defer c.Close()
	ctx := context.Background()

	if !c.SendRaw(ctx, models.RawFeedMessage{Data: []byte("a"), Received: time.Now()}) {
		t.Fatalf("first send should fit the buffer")
	}
	if c.SendRaw(ctx, models.RawFeedMessage{Data: []byte("b"), Received: time.Now()}) {
		t.Fatalf("second send should drop, buffer is full")
	}

	stats := c.GetStats()
	if stats.RawSent != 1 || stats.RawDropped != 1 {
		t.Errorf("expected 1 sent and 1 dropped, got %d and %d", stats.RawSent, stats.RawDropped)
	}
}

func TestSendEventDropsWhenFull(t *testing.T) {
	c := NewChannels(1, 1, 1)
	defer c.Close()
	ctx := context.Background()

	ev := &models.FeedEvent{Type: models.EventTypeOpen, ProductID: "BTC-USD", Sequence: 1}
	if !c.SendEvent(ctx, ev) {
		t.Fatalf("first event should fit the buffer")
	}
	if c.SendEvent(ctx, ev) {
		t.Fatalf("second event should drop, buffer is full")
	}

	ctl := &models.ControlMessage{Type: models.ControlTypeHeartbeat, ProductID: "BTC-USD"}
	if !c.SendControl(ctx, ctl) {
		t.Fatalf("first control should fit the buffer")
	}
	if c.SendControl(ctx, ctl) {
		t.Fatalf("second control should drop, buffer is full")
	}

	stats := c.GetStats()
	if stats.EventsSent != 1 || stats.EventsDropped != 1 {
		t.Errorf("expected 1 event sent and 1 dropped, got %d and %d", stats.EventsSent, stats.EventsDropped)
	}
	if stats.ControlsSent != 1 || stats.ControlsDropped != 1 {
		t.Errorf("expected 1 control sent and 1 dropped, got %d and %d", stats.ControlsSent, stats.ControlsDropped)
	}
}

func TestSendTransportBlocksInsteadOfDropping(t *testing.T) {
	c := NewChannels(1, 1, 1)
	defer c.Close()
	ctx := context.Background()

	for i := 0; i < transportBuffer; i++ {
		if !c.SendTransport(ctx, TransportEvent{Kind: TransportDown, Time: time.Now()}) {
			t.Fatalf("send %d should succeed, buffer has room", i)
		}
	}

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	if c.SendTransport(canceled, TransportEvent{Kind: TransportUp}) {
		t.Fatalf("send on a full channel with a canceled context should fail")
	}

	stats := c.GetStats()
	if stats.TransportsSent != transportBuffer {
		t.Errorf("expected %d transports sent, got %d", transportBuffer, stats.TransportsSent)
	}
}
