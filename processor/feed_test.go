package processor

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bookflow/config"
	"bookflow/internal/channel"
	"bookflow/models"
)

func minimalProcessorConfig(workers int) *config.Config {
	return &config.Config{
		Processor: config.ProcessorConfig{MaxWorkers: workers},
	}
}

func openFrame(seq int) []byte {
	return []byte(fmt.Sprintf(`["open","BTC-USD","%d","ord-%d","buy","50000.00","1.5","2024-11-05T12:00:00.000000Z"]`, seq, seq))
}

func TestFeedProcessorStartStop(t *testing.T) {
	ch := channel.NewChannels(4, 4, 4)
	p := NewFeedProcessor(minimalProcessorConfig(2), ch)

	ctx, cancel := context.WithCancel(context.Background())
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := p.Start(ctx); err == nil {
		t.Fatalf("expected error on second start")
	}
	cancel()
	p.Stop()
}

func TestFeedProcessorParsesAndForwards(t *testing.T) {
	ch := channel.NewChannels(8, 8, 8)
	p := NewFeedProcessor(minimalProcessorConfig(1), ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	if !ch.SendRaw(ctx, models.RawFeedMessage{Data: openFrame(100), Received: time.Now()}) {
		t.Fatal("raw frame not accepted")
	}

	select {
	case ev := <-ch.EventChan:
		if ev.Type != models.EventTypeOpen || ev.Sequence != 100 || ev.ProductID != "BTC-USD" {
			t.Fatalf("unexpected event: %+v", ev)
		}
		if !ev.Price.Equal(decimal.RequireFromString("50000.00")) {
			t.Fatalf("price = %s, want 50000.00", ev.Price)
		}
		if ev.Side != models.SideBuy {
			t.Fatalf("side = %q, want buy", ev.Side)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for parsed event")
	}

	cancel()
	p.Stop()
}

func TestFeedProcessorPreservesArrivalOrder(t *testing.T) {
	const frames = 200

	ch := channel.NewChannels(frames+8, frames+8, 8)
	p := NewFeedProcessor(minimalProcessorConfig(4), ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	for i := 1; i <= frames; i++ {
		if !ch.SendRaw(ctx, models.RawFeedMessage{Data: openFrame(i), Received: time.Now()}) {
			t.Fatalf("raw frame %d not accepted", i)
		}
	}

	for i := 1; i <= frames; i++ {
		select {
		case ev := <-ch.EventChan:
			if ev.Sequence != uint64(i) {
				t.Fatalf("event %d arrived with sequence %d; parallel parse reordered the stream", i, ev.Sequence)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}

	cancel()
	p.Stop()
}

func TestFeedProcessorRoutesControlFrames(t *testing.T) {
	ch := channel.NewChannels(8, 8, 8)
	p := NewFeedProcessor(minimalProcessorConfig(1), ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	hb := []byte(`{"type":"heartbeat","product_id":"BTC-USD","sequence":90,"last_trade_id":20,"time":"2024-11-05T12:00:00.000000Z"}`)
	if !ch.SendRaw(ctx, models.RawFeedMessage{Data: hb, Received: time.Now()}) {
		t.Fatal("raw frame not accepted")
	}

	select {
	case ctl := <-ch.ControlChan:
		if ctl.Type != models.ControlTypeHeartbeat {
			t.Fatalf("control type = %q, want heartbeat", ctl.Type)
		}
		if ctl.Sequence != 90 || ctl.LastTradeID != 20 {
			t.Fatalf("heartbeat payload = %+v", ctl)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for control message")
	}

	if len(ch.EventChan) != 0 {
		t.Fatal("heartbeat must not reach the event channel")
	}

	cancel()
	p.Stop()
}

func TestFeedProcessorDropsMalformedAndContinues(t *testing.T) {
	ch := channel.NewChannels(8, 8, 8)
	p := NewFeedProcessor(minimalProcessorConfig(2), ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	ch.SendRaw(ctx, models.RawFeedMessage{Data: []byte(`["open","BTC-USD"]`), Received: time.Now()})
	ch.SendRaw(ctx, models.RawFeedMessage{Data: []byte(`not json`), Received: time.Now()})
	ch.SendRaw(ctx, models.RawFeedMessage{Data: openFrame(5), Received: time.Now()})

	// Arrival order is preserved, so once the good frame comes out both bad
	// ones are already accounted for.
	select {
	case ev := <-ch.EventChan:
		if ev.Sequence != 5 {
			t.Fatalf("sequence = %d, want 5", ev.Sequence)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for surviving event")
	}

	if got := atomic.LoadInt64(&p.malformedCount); got != 2 {
		t.Fatalf("malformed count = %d, want 2", got)
	}
	if len(ch.EventChan) != 0 {
		t.Fatal("malformed frames must not produce events")
	}

	cancel()
	p.Stop()
}
