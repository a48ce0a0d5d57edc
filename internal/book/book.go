// Package book maintains one product's limit order book: every resting order
// by id, FIFO price levels with running aggregates, and the sequence cursor
// that orders the event stream. A book is loaded wholesale from a snapshot
// and then mutated one event at a time; it is owned by a single goroutine and
// performs no locking of its own.
package book

import (
	"container/list"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"bookflow/models"
)

// Book is the reconstructed order book for one product. Not safe for
// concurrent use; route all calls through the owning session.
type Book struct {
	productID string
	bids      *bookSide
	asks      *bookSide
	orders    map[string]*orderRef
	lastSeq   uint64
	updatedAt time.Time
}

// orderRef locates a resting order inside its level for O(1) mutation.
type orderRef struct {
	side  models.Side
	level *priceLevel
	elem  *list.Element
}

// New returns an empty book for productID with sequence cursor zero.
func New(productID string) *Book {
	return &Book{
		productID: productID,
		bids:      newBookSide(models.SideBuy),
		asks:      newBookSide(models.SideSell),
		orders:    make(map[string]*orderRef),
	}
}

// LoadSnapshot replaces the book wholesale with the snapshot's resting orders
// and moves the sequence cursor to the snapshot's sequence. Only valid on an
// empty or freshly reset book.
func (b *Book) LoadSnapshot(snap *models.SnapshotRecord) error {
	if len(b.orders) != 0 || b.lastSeq != 0 {
		return ErrBookNotEmpty
	}

	for _, side := range [][]models.SnapshotOrder{snap.Bids, snap.Asks} {
		for _, o := range side {
			if _, exists := b.orders[o.OrderID]; exists {
				return fmt.Errorf("snapshot order %s: %w", o.OrderID, ErrDuplicateOrder)
			}
			b.insert(o.OrderID, o.Side, o.Price, o.RemainingSize)
		}
	}

	b.lastSeq = snap.Sequence
	b.updatedAt = snap.Time
	return nil
}

// Reset empties the book and rewinds the sequence cursor so a fresh snapshot
// can be loaded.
func (b *Book) Reset() {
	b.bids.reset()
	b.asks.reset()
	b.orders = make(map[string]*orderRef)
	b.lastSeq = 0
	b.updatedAt = time.Time{}
}

// Apply mutates the book with one event under the gap-tolerant discipline
// used in live operation: an already-applied sequence is discarded as stale
// (never an error, never a mutation), the next sequence applies, and anything
// beyond it is a gap.
//
// Anomalous applications (duplicate open, match against an unknown maker)
// return a classification error alongside the effect; the sequence cursor
// still advances because the event occupied its slot in the stream, and the
// book remains usable.
func (b *Book) Apply(ev *models.FeedEvent) (AppliedEffect, error) {
	return b.apply(ev, false)
}

// ApplyStrict mutates the book with one event, requiring exactly the next
// sequence. Used when replaying buffered events over a snapshot, where the
// input must be contiguous.
func (b *Book) ApplyStrict(ev *models.FeedEvent) (AppliedEffect, error) {
	return b.apply(ev, true)
}

func (b *Book) apply(ev *models.FeedEvent, strict bool) (AppliedEffect, error) {
	if ev.Type == models.EventTypeError {
		return AppliedEffect{Kind: EffectNone, Sequence: ev.Sequence},
			fmt.Errorf("%w: %s", ErrFeedError, ev.Message)
	}

	if strict {
		if ev.Sequence != b.lastSeq+1 {
			return AppliedEffect{Kind: EffectNone, Sequence: ev.Sequence},
				fmt.Errorf("%w: got %d, want %d", ErrOutOfSequence, ev.Sequence, b.lastSeq+1)
		}
	} else {
		if ev.Sequence <= b.lastSeq {
			return AppliedEffect{Kind: EffectStale, Sequence: ev.Sequence}, nil
		}
		if ev.Sequence > b.lastSeq+1 {
			return AppliedEffect{Kind: EffectNone, Sequence: ev.Sequence},
				fmt.Errorf("%w: jumped from %d to %d", ErrSequenceGap, b.lastSeq, ev.Sequence)
		}
	}

	b.lastSeq = ev.Sequence
	if !ev.Time.IsZero() {
		b.updatedAt = ev.Time
	}

	switch ev.Type {
	case models.EventTypeOpen:
		return b.openOrder(ev)
	case models.EventTypeDone:
		return b.doneOrder(ev)
	case models.EventTypeChange:
		return b.changeOrder(ev)
	case models.EventTypeMatch:
		return b.matchOrder(ev)
	case models.EventTypeNoop:
		return AppliedEffect{Kind: EffectNoop, Sequence: ev.Sequence}, nil
	}
	return AppliedEffect{Kind: EffectNone, Sequence: ev.Sequence},
		fmt.Errorf("%w: unhandled event type %q", models.ErrMalformedEvent, ev.Type)
}

func (b *Book) openOrder(ev *models.FeedEvent) (AppliedEffect, error) {
	if _, exists := b.orders[ev.OrderID]; exists {
		return AppliedEffect{Kind: EffectNone, Sequence: ev.Sequence, OrderID: ev.OrderID},
			fmt.Errorf("%w: %s", ErrDuplicateOrder, ev.OrderID)
	}

	b.insert(ev.OrderID, ev.Side, ev.Price, ev.RemainingSize)
	return AppliedEffect{
		Kind:     EffectOpened,
		Sequence: ev.Sequence,
		OrderID:  ev.OrderID,
		Side:     ev.Side,
		Price:    ev.Price,
		Size:     ev.RemainingSize,
	}, nil
}

func (b *Book) doneOrder(ev *models.FeedEvent) (AppliedEffect, error) {
	ref, ok := b.orders[ev.OrderID]
	if !ok {
		return AppliedEffect{
			Kind:     EffectNone,
			Sequence: ev.Sequence,
			OrderID:  ev.OrderID,
			Anomaly:  ErrAnomalousRemoval,
		}, nil
	}

	ord := ref.elem.Value.(*restingOrder)
	price := ref.level.price
	freed := ord.size

	ref.level.queue.Remove(ref.elem)
	ref.level.total = ref.level.total.Sub(freed)
	b.sideFor(ref.side).dropIfEmpty(ref.level)
	delete(b.orders, ev.OrderID)

	return AppliedEffect{
		Kind:     EffectRemoved,
		Sequence: ev.Sequence,
		OrderID:  ev.OrderID,
		Side:     ref.side,
		Price:    price,
		Size:     freed,
	}, nil
}

func (b *Book) changeOrder(ev *models.FeedEvent) (AppliedEffect, error) {
	ref, ok := b.orders[ev.OrderID]
	if !ok {
		return AppliedEffect{
			Kind:     EffectNone,
			Sequence: ev.Sequence,
			OrderID:  ev.OrderID,
			Anomaly:  ErrAnomalousChange,
		}, nil
	}

	ord := ref.elem.Value.(*restingOrder)
	oldPrice := ref.level.price
	samePrice := ev.Price.IsZero() || ev.Price.Equal(oldPrice)

	if samePrice && ev.NewSize.Cmp(ord.size) <= 0 {
		// Size decrease keeps queue position.
		ref.level.total = ref.level.total.Sub(ord.size).Add(ev.NewSize)
		ord.size = ev.NewSize
		return AppliedEffect{
			Kind:     EffectChanged,
			Sequence: ev.Sequence,
			OrderID:  ev.OrderID,
			Side:     ref.side,
			Price:    oldPrice,
			Size:     ord.size,
		}, nil
	}

	// A price move or a size increase forfeits queue position: the order is
	// pulled and re-queued at the tail of its (possibly new) level.
	newPrice := oldPrice
	if !samePrice {
		newPrice = ev.Price
	}

	ref.level.queue.Remove(ref.elem)
	ref.level.total = ref.level.total.Sub(ord.size)
	b.sideFor(ref.side).dropIfEmpty(ref.level)

	ord.size = ev.NewSize
	lvl := b.sideFor(ref.side).ensureLevel(newPrice)
	ref.level = lvl
	ref.elem = lvl.queue.PushBack(ord)
	lvl.total = lvl.total.Add(ev.NewSize)

	return AppliedEffect{
		Kind:     EffectChanged,
		Sequence: ev.Sequence,
		OrderID:  ev.OrderID,
		Side:     ref.side,
		Price:    newPrice,
		Size:     ord.size,
	}, nil
}

func (b *Book) matchOrder(ev *models.FeedEvent) (AppliedEffect, error) {
	ref, ok := b.orders[ev.MakerOrderID]
	if !ok {
		return AppliedEffect{
				Kind:     EffectNone,
				Sequence: ev.Sequence,
				OrderID:  ev.MakerOrderID,
			},
			fmt.Errorf("%w: %s", ErrAnomalousMatch, ev.MakerOrderID)
	}

	ord := ref.elem.Value.(*restingOrder)
	if ev.Size.Cmp(ord.size) > 0 {
		// Clamp so the aggregate stays exact, but flag the mismatch.
		overshoot := ev.Size.Sub(ord.size)
		ref.level.total = ref.level.total.Sub(ord.size)
		ord.size = decimal.Zero
		return AppliedEffect{
				Kind:     EffectMatched,
				Sequence: ev.Sequence,
				OrderID:  ev.MakerOrderID,
				Side:     ref.side,
				Price:    ref.level.price,
				Size:     decimal.Zero,
			},
			fmt.Errorf("%w: %s traded %s beyond resting size", ErrAnomalousMatch, ev.MakerOrderID, overshoot)
	}

	// The maker is reduced in place and stays resting even at zero size; the
	// venue sends its done separately and removal happens there.
	ord.size = ord.size.Sub(ev.Size)
	ref.level.total = ref.level.total.Sub(ev.Size)

	return AppliedEffect{
		Kind:     EffectMatched,
		Sequence: ev.Sequence,
		OrderID:  ev.MakerOrderID,
		Side:     ref.side,
		Price:    ref.level.price,
		Size:     ord.size,
	}, nil
}

func (b *Book) insert(orderID string, side models.Side, price, size decimal.Decimal) {
	lvl := b.sideFor(side).ensureLevel(price)
	ord := &restingOrder{id: orderID, size: size}
	elem := lvl.queue.PushBack(ord)
	lvl.total = lvl.total.Add(size)
	b.orders[orderID] = &orderRef{side: side, level: lvl, elem: elem}
}

func (b *Book) sideFor(side models.Side) *bookSide {
	if side == models.SideBuy {
		return b.bids
	}
	return b.asks
}

// ProductID returns the product this book tracks.
func (b *Book) ProductID() string { return b.productID }

// LastSequence returns the sequence of the last applied event, or the
// snapshot sequence right after a load.
func (b *Book) LastSequence() uint64 { return b.lastSeq }

// OrderCount returns the number of resting orders across both sides.
func (b *Book) OrderCount() int { return len(b.orders) }

// UpdatedAt returns the event time of the last mutation.
func (b *Book) UpdatedAt() time.Time { return b.updatedAt }

// BestBid returns the highest bid level, if any.
func (b *Book) BestBid() (Quote, bool) {
	return bestQuote(b.bids)
}

// BestAsk returns the lowest ask level, if any.
func (b *Book) BestAsk() (Quote, bool) {
	return bestQuote(b.asks)
}

func bestQuote(side *bookSide) (Quote, bool) {
	lvl, ok := side.best()
	if !ok {
		return Quote{}, false
	}
	return Quote{Price: lvl.price, Size: lvl.total, Orders: lvl.queue.Len()}, true
}

// Spread returns best ask minus best bid when both sides are populated.
func (b *Book) Spread() (decimal.Decimal, bool) {
	bid, okBid := b.bids.best()
	ask, okAsk := b.asks.best()
	if !okBid || !okAsk {
		return decimal.Decimal{}, false
	}
	return ask.price.Sub(bid.price), true
}

// Depth returns up to n levels from the top of one side outward.
func (b *Book) Depth(side models.Side, n int) []Quote {
	return b.sideFor(side).depth(n)
}

// LevelCount returns the number of populated price levels on one side.
func (b *Book) LevelCount(side models.Side) int {
	return b.sideFor(side).levelCount()
}

// OrderSize reports the remaining size of a resting order.
func (b *Book) OrderSize(orderID string) (decimal.Decimal, bool) {
	ref, ok := b.orders[orderID]
	if !ok {
		return decimal.Decimal{}, false
	}
	return ref.elem.Value.(*restingOrder).size, true
}
