package book

import (
	"github.com/shopspring/decimal"

	"bookflow/models"
)

// EffectKind names what an applied event did to the book.
type EffectKind string

const (
	// EffectOpened - a new order was added to its price level.
	EffectOpened EffectKind = "opened"
	// EffectRemoved - a resting order left the book.
	EffectRemoved EffectKind = "removed"
	// EffectChanged - a resting order's remaining size was rewritten.
	EffectChanged EffectKind = "changed"
	// EffectMatched - a maker order was reduced by a trade.
	EffectMatched EffectKind = "matched"
	// EffectNoop - the sequence counter advanced with no book change.
	EffectNoop EffectKind = "noop"
	// EffectNone - the event occupied its sequence slot but had no effect
	// (tolerated anomaly, see Anomaly).
	EffectNone EffectKind = "none"
	// EffectStale - the event's sequence was already applied; discarded.
	EffectStale EffectKind = "stale"
)

// AppliedEffect describes the outcome of one Apply call for downstream sinks.
// Price, Side and Size refer to the affected resting order: for removals they
// carry the freed liquidity (synthesized from book state when the event
// itself lacks them), for opens/changes/matches the remaining size after the
// mutation.
type AppliedEffect struct {
	Kind     EffectKind
	Sequence uint64
	OrderID  string
	Side     models.Side
	Price    decimal.Decimal
	Size     decimal.Decimal

	// Anomaly classifies tolerated no-effect applications
	// (ErrAnomalousRemoval, ErrAnomalousChange). Nil for clean applies.
	Anomaly error
}
