package session

import (
	"time"

	"bookflow/internal/book"
	"bookflow/models"
)

// State identifies where a session is in the reconstruction protocol.
type State string

const (
	// StateConnecting waits for the first event that proves the
	// subscription is live.
	StateConnecting State = "connecting"
	// StateBuffering captures events while no reconciled book exists yet.
	StateBuffering State = "buffering"
	// StateReconciling drains buffered events onto a freshly loaded
	// snapshot. The state is transient; sessions never rest here.
	StateReconciling State = "reconciling"
	// StateLive applies events directly to the reconciled book.
	StateLive State = "live"
	// StateResyncing has discarded the current book and waits out a
	// backoff delay before capturing toward a fresh snapshot.
	StateResyncing State = "resyncing"
	// StateTerminated is final. The session no longer consumes events.
	StateTerminated State = "terminated"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateTerminated
}

// UpdateKind classifies entries on the session's output stream.
type UpdateKind string

const (
	// UpdateApplied is an event that mutated (or, for noops, advanced)
	// the book.
	UpdateApplied UpdateKind = "applied"
	// UpdateDiscarded is an event dropped without touching the book:
	// stale duplicates and gapped events.
	UpdateDiscarded UpdateKind = "discarded"
	// UpdateAnomaly is an event that was tolerated but did not have its
	// described effect, or an error frame from the feed itself.
	UpdateAnomaly UpdateKind = "anomaly"
	// UpdateSnapshot reports a completed reconciliation.
	UpdateSnapshot UpdateKind = "snapshot"
	// UpdateTransition reports a state machine transition.
	UpdateTransition UpdateKind = "transition"
)

// Update is one entry on a session's output stream. Every consumed event is
// accounted for by exactly one Update, so a downstream consumer can audit
// the reconstruction without access to the book itself.
type Update struct {
	Kind      UpdateKind
	ProductID string
	Sequence  uint64
	Time      time.Time

	// Event and Effect are set for applied, discarded and anomaly
	// updates.
	Event  *models.FeedEvent
	Effect *book.AppliedEffect

	// From and To are set for transition updates.
	From State
	To   State

	// Reason carries the human-readable cause for transitions, discards
	// and anomalies.
	Reason string

	// BestBid and BestAsk reflect the top of book after an applied
	// event or completed reconciliation.
	BestBid *book.Quote
	BestAsk *book.Quote
}

// Status is a point-in-time copy of a session's observable state, safe to
// read from other goroutines.
type Status struct {
	ProductID      string       `json:"product_id"`
	State          State        `json:"state"`
	LastSequence   uint64       `json:"last_sequence"`
	SnapshotSeq    uint64       `json:"snapshot_sequence"`
	BufferedEvents int          `json:"buffered_events"`
	OrderCount     int          `json:"order_count"`
	BidLevels      int          `json:"bid_levels"`
	AskLevels      int          `json:"ask_levels"`
	BestBid        *book.Quote  `json:"best_bid,omitempty"`
	BestAsk        *book.Quote  `json:"best_ask,omitempty"`
	Bids           []book.Quote `json:"bids,omitempty"`
	Asks           []book.Quote `json:"asks,omitempty"`
	Applied        uint64       `json:"applied"`
	Discarded      uint64       `json:"discarded"`
	Anomalies      uint64       `json:"anomalies"`
	Gaps           uint64       `json:"gaps"`
	Resyncs        uint64       `json:"resyncs"`
	DroppedUpdates uint64       `json:"dropped_updates"`
	LastEventTime  time.Time    `json:"last_event_time"`
	LastHeartbeat  time.Time    `json:"last_heartbeat"`
	UpdatedAt      time.Time    `json:"updated_at"`
}
