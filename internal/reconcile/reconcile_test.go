package reconcile

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"bookflow/internal/book"
	"bookflow/internal/sequencer"
	"bookflow/models"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func snapshotAt(seq uint64) *models.SnapshotRecord {
	return &models.SnapshotRecord{
		ProductID: "BTC-USD",
		Sequence:  seq,
		Bids: []models.SnapshotOrder{
			{OrderID: "snap-bid", Side: models.SideBuy, Price: d("100"), RemainingSize: d("2")},
		},
		Asks: []models.SnapshotOrder{
			{OrderID: "snap-ask", Side: models.SideSell, Price: d("101"), RemainingSize: d("3")},
		},
	}
}

func open(seq uint64, id, price, size string) *models.FeedEvent {
	return &models.FeedEvent{
		Type:          models.EventTypeOpen,
		ProductID:     "BTC-USD",
		Sequence:      seq,
		OrderID:       id,
		Side:          models.SideBuy,
		Price:         d(price),
		RemainingSize: d(size),
	}
}

func noop(seq uint64) *models.FeedEvent {
	return &models.FeedEvent{Type: models.EventTypeNoop, ProductID: "BTC-USD", Sequence: seq}
}

func TestReconcileDiscardsUpToSnapshotSequence(t *testing.T) {
	bk := book.New("BTC-USD")
	buf := sequencer.New(0)
	for _, ev := range []*models.FeedEvent{
		open(498, "old-1", "99", "1"),
		open(499, "old-2", "99", "1"),
		open(501, "new-1", "98", "4"),
		noop(502),
	} {
		buf.Push(ev)
	}

	res, err := Reconcile(bk, buf, snapshotAt(500), 0)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Discarded != 2 || res.Applied != 2 {
		t.Fatalf("discarded=%d applied=%d, want 2/2", res.Discarded, res.Applied)
	}
	if res.FinalSequence != 502 || bk.LastSequence() != 502 {
		t.Fatalf("final sequence = %d/%d, want 502", res.FinalSequence, bk.LastSequence())
	}
	// Snapshot state plus the two post-snapshot events only.
	if bk.OrderCount() != 3 {
		t.Fatalf("order count = %d, want 3 (snap-bid, snap-ask, new-1)", bk.OrderCount())
	}
	if _, ok := bk.OrderSize("old-1"); ok {
		t.Fatal("pre-snapshot event leaked into the book")
	}
	if size, ok := bk.OrderSize("new-1"); !ok || !size.Equal(d("4")) {
		t.Fatalf("new-1 = %s, want 4", size)
	}
	if !buf.PassThrough() {
		t.Fatal("buffer should pass through after reconciliation")
	}
	if len(res.Effects) != 2 {
		t.Fatalf("effects = %d, want 2", len(res.Effects))
	}
}

func TestReconcileSnapshotAheadLeavesStateUntouched(t *testing.T) {
	bk := book.New("BTC-USD")
	buf := sequencer.New(0)
	buf.Push(noop(490))
	buf.Push(noop(491))

	_, err := Reconcile(bk, buf, snapshotAt(500), 0)
	if !errors.Is(err, ErrSnapshotAhead) {
		t.Fatalf("err = %v, want ErrSnapshotAhead", err)
	}
	if buf.Len() != 2 || buf.PassThrough() {
		t.Fatalf("buffer disturbed: len=%d passThrough=%v", buf.Len(), buf.PassThrough())
	}
	if bk.LastSequence() != 0 || bk.OrderCount() != 0 {
		t.Fatal("book disturbed by failed guard")
	}

	// More events arrive; the same reconcile now succeeds.
	buf.Push(noop(501))
	if _, err := Reconcile(bk, buf, snapshotAt(500), 0); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if bk.LastSequence() != 501 {
		t.Fatalf("final sequence = %d, want 501", bk.LastSequence())
	}
}

func TestReconcileSnapshotStale(t *testing.T) {
	bk := book.New("BTC-USD")
	buf := sequencer.New(0)
	buf.Push(noop(510))
	buf.Push(noop(511))

	_, err := Reconcile(bk, buf, snapshotAt(500), 0)
	if !errors.Is(err, ErrSnapshotStale) {
		t.Fatalf("err = %v, want ErrSnapshotStale", err)
	}
	if bk.OrderCount() != 0 || buf.PassThrough() {
		t.Fatal("state disturbed by stale snapshot")
	}
}

func TestReconcileExactBoundary(t *testing.T) {
	// Earliest buffered event is exactly snapshot+1: nothing discarded.
	bk := book.New("BTC-USD")
	buf := sequencer.New(0)
	buf.Push(open(501, "a", "99", "1"))
	buf.Push(noop(502))

	res, err := Reconcile(bk, buf, snapshotAt(500), 0)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Discarded != 0 || res.Applied != 2 {
		t.Fatalf("discarded=%d applied=%d", res.Discarded, res.Applied)
	}
}

func TestReconcileCountsReplayAnomalies(t *testing.T) {
	bk := book.New("BTC-USD")
	buf := sequencer.New(0)
	// Duplicate of an order the snapshot already holds: anomalous but
	// tolerated, the replay continues.
	buf.Push(open(501, "snap-bid", "100", "2"))
	buf.Push(open(502, "fresh", "98", "1"))

	res, err := Reconcile(bk, buf, snapshotAt(500), 0)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Anomalies != 1 {
		t.Fatalf("anomalies = %d, want 1", res.Anomalies)
	}
	if res.FinalSequence != 502 {
		t.Fatalf("final sequence = %d, want 502", res.FinalSequence)
	}
	if size, ok := bk.OrderSize("fresh"); !ok || !size.Equal(d("1")) {
		t.Fatalf("fresh order missing after anomaly: %s", size)
	}
}

func TestReconcileHeartbeatCoversQuietStream(t *testing.T) {
	// No events buffered at all, but a heartbeat reports the stream is
	// still at the snapshot sequence: nothing was missed, so the book can
	// go live directly from the snapshot.
	bk := book.New("BTC-USD")
	buf := sequencer.New(0)

	if _, err := Reconcile(bk, buf, snapshotAt(500), 0); !errors.Is(err, ErrSnapshotAhead) {
		t.Fatalf("err = %v, want ErrSnapshotAhead without a stream position", err)
	}

	res, err := Reconcile(bk, buf, snapshotAt(500), 500)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Applied != 0 || res.FinalSequence != 500 {
		t.Fatalf("applied=%d final=%d, want 0/500", res.Applied, res.FinalSequence)
	}
	if bk.OrderCount() != 2 {
		t.Fatalf("order count = %d, want 2", bk.OrderCount())
	}
	if !buf.PassThrough() {
		t.Fatal("buffer should pass through after reconciliation")
	}

	// A stream position beyond the snapshot proves nothing.
	bk2 := book.New("BTC-USD")
	buf2 := sequencer.New(0)
	if _, err := Reconcile(bk2, buf2, snapshotAt(500), 501); !errors.Is(err, ErrSnapshotAhead) {
		t.Fatalf("err = %v, want ErrSnapshotAhead for stream position past snapshot", err)
	}
}

func TestReconcileFailsOnGapInsideBuffer(t *testing.T) {
	bk := book.New("BTC-USD")
	buf := sequencer.New(0)
	buf.Push(noop(501))
	buf.Push(noop(503))

	_, err := Reconcile(bk, buf, snapshotAt(500), 0)
	if !errors.Is(err, book.ErrOutOfSequence) {
		t.Fatalf("err = %v, want ErrOutOfSequence", err)
	}
}
