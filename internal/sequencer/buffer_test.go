package sequencer

import (
	"errors"
	"testing"

	"bookflow/models"
)

func ev(seq uint64) *models.FeedEvent {
	return &models.FeedEvent{Type: models.EventTypeNoop, ProductID: "BTC-USD", Sequence: seq}
}

func TestDrainFromFiltersBaseline(t *testing.T) {
	b := New(0)
	for _, seq := range []uint64{498, 499, 501, 502} {
		if buffered, err := b.Push(ev(seq)); !buffered || err != nil {
			t.Fatalf("push %d: buffered=%v err=%v", seq, buffered, err)
		}
	}
	if b.Len() != 4 {
		t.Fatalf("len = %d, want 4", b.Len())
	}
	if b.LastSequence() != 502 {
		t.Fatalf("last sequence = %d, want 502", b.LastSequence())
	}

	drained := b.DrainFrom(500)
	if len(drained) != 2 {
		t.Fatalf("drained %d events, want 2", len(drained))
	}
	if drained[0].Sequence != 501 || drained[1].Sequence != 502 {
		t.Fatalf("drained = [%d %d], want [501 502]", drained[0].Sequence, drained[1].Sequence)
	}

	stats := b.StatsSnapshot()
	if stats.Discarded != 2 || stats.Drained != 2 || stats.Pushed != 4 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestDrainPreservesArrivalOrder(t *testing.T) {
	b := New(0)
	seqs := []uint64{10, 11, 12, 13, 14}
	for _, s := range seqs {
		b.Push(ev(s))
	}
	drained := b.DrainFrom(0)
	if len(drained) != len(seqs) {
		t.Fatalf("drained %d, want %d", len(drained), len(seqs))
	}
	for i, s := range seqs {
		if drained[i].Sequence != s {
			t.Fatalf("position %d = %d, want %d", i, drained[i].Sequence, s)
		}
	}
}

func TestPassThroughAfterDrain(t *testing.T) {
	b := New(0)
	b.Push(ev(1))
	b.DrainFrom(0)

	if !b.PassThrough() {
		t.Fatal("buffer should be in pass-through mode")
	}
	buffered, err := b.Push(ev(2))
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if buffered {
		t.Fatal("pass-through push must not retain the event")
	}
	if b.Len() != 0 {
		t.Fatalf("len = %d, want 0", b.Len())
	}
}

func TestOverflowSurfacesAtCeiling(t *testing.T) {
	b := New(3)
	for seq := uint64(1); seq <= 3; seq++ {
		if _, err := b.Push(ev(seq)); err != nil {
			t.Fatalf("push %d: %v", seq, err)
		}
	}

	buffered, err := b.Push(ev(4))
	if !errors.Is(err, ErrBufferOverflow) {
		t.Fatalf("err = %v, want ErrBufferOverflow", err)
	}
	if !buffered {
		t.Fatal("overflowing event must still be retained, not dropped")
	}
	if b.Len() != 4 {
		t.Fatalf("len = %d, want 4", b.Len())
	}
}

func TestResetReturnsToBuffering(t *testing.T) {
	b := New(2)
	b.Push(ev(1))
	b.DrainFrom(0)
	if !b.PassThrough() {
		t.Fatal("expected pass-through")
	}

	b.Reset()
	if b.PassThrough() || b.Len() != 0 || b.LastSequence() != 0 {
		t.Fatalf("reset incomplete: passThrough=%v len=%d last=%d", b.PassThrough(), b.Len(), b.LastSequence())
	}
	if buffered, err := b.Push(ev(5)); !buffered || err != nil {
		t.Fatalf("push after reset: buffered=%v err=%v", buffered, err)
	}
	stats := b.StatsSnapshot()
	if stats.Pushed != 1 {
		t.Fatalf("stats not reset: %+v", stats)
	}
}

func TestUnboundedBufferNeverOverflows(t *testing.T) {
	b := New(0)
	for seq := uint64(1); seq <= 10000; seq++ {
		if _, err := b.Push(ev(seq)); err != nil {
			t.Fatalf("push %d: %v", seq, err)
		}
	}
	if b.StatsSnapshot().HighWater != 10000 {
		t.Fatalf("high water = %d", b.StatsSnapshot().HighWater)
	}
}
