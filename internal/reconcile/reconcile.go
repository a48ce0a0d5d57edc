// Package reconcile merges a point-in-time book snapshot with the events
// buffered while the snapshot was being fetched. The protocol requires that
// the subscription was live and capturing before the fetch began; the guards
// here verify that the two windows actually overlap before any state is
// touched.
package reconcile

import (
	"errors"
	"fmt"

	"bookflow/internal/book"
	"bookflow/internal/sequencer"
	"bookflow/models"
)

var (
	// ErrSnapshotAhead reports a snapshot sequence beyond everything
	// buffered so far: the capture window does not yet prove coverage of
	// the snapshot point. Wait for more events and try again; the buffer
	// and book are untouched.
	ErrSnapshotAhead = errors.New("snapshot ahead of buffered events")

	// ErrSnapshotStale reports a snapshot that predates the buffered
	// window: events between the snapshot point and the first buffered
	// event are unrecoverable, so a fresh snapshot is required.
	ErrSnapshotStale = errors.New("snapshot predates buffered events")
)

// Result describes a completed reconciliation.
type Result struct {
	SnapshotSequence uint64
	// Discarded counts buffered events at or below the snapshot sequence.
	Discarded int
	// Applied counts drained events replayed onto the book.
	Applied int
	// Anomalies counts tolerated no-effect applications during the replay.
	Anomalies int
	// FinalSequence is the book's sequence cursor after the replay.
	FinalSequence uint64
	// Effects holds the applied effect of every replayed event, in order,
	// for downstream sinks.
	Effects []book.AppliedEffect
}

// Reconcile loads snap into bk and replays the buffered events above the
// snapshot sequence, leaving buf in pass-through mode. On a guard failure
// (ErrSnapshotAhead, ErrSnapshotStale) nothing has changed and the caller
// may retry; on a replay failure the book is inconsistent and the caller
// must reset and resync.
//
// streamPos, when nonzero, is the latest stream sequence reported by an
// out-of-band marker such as a heartbeat. A marker at or below the snapshot
// sequence proves the stream has not yet passed the snapshot point, so a
// quiet product with little or no buffered traffic can still reconcile.
func Reconcile(bk *book.Book, buf *sequencer.Buffer, snap *models.SnapshotRecord, streamPos uint64) (*Result, error) {
	covered := buf.LastSequence() >= snap.Sequence ||
		(streamPos != 0 && streamPos <= snap.Sequence)
	if !covered {
		return nil, fmt.Errorf("%w: snapshot at %d, buffered through %d",
			ErrSnapshotAhead, snap.Sequence, buf.LastSequence())
	}
	if first := buf.FirstSequence(); first > snap.Sequence+1 {
		return nil, fmt.Errorf("%w: snapshot at %d, earliest buffered %d",
			ErrSnapshotStale, snap.Sequence, first)
	}

	if err := bk.LoadSnapshot(snap); err != nil {
		return nil, fmt.Errorf("load snapshot at %d: %w", snap.Sequence, err)
	}

	depth := buf.Len()
	drained := buf.DrainFrom(snap.Sequence)

	res := &Result{
		SnapshotSequence: snap.Sequence,
		Discarded:        depth - len(drained),
		Effects:          make([]book.AppliedEffect, 0, len(drained)),
	}

	for _, ev := range drained {
		effect, err := bk.ApplyStrict(ev)
		if err != nil {
			if isReplayAnomaly(err) {
				if effect.Anomaly == nil {
					effect.Anomaly = err
				}
				res.Anomalies++
				res.Applied++
				res.Effects = append(res.Effects, effect)
				continue
			}
			return nil, fmt.Errorf("replay at sequence %d: %w", ev.Sequence, err)
		}
		if effect.Anomaly != nil {
			res.Anomalies++
		}
		res.Applied++
		res.Effects = append(res.Effects, effect)
	}

	res.FinalSequence = bk.LastSequence()
	return res, nil
}

// isReplayAnomaly reports whether an apply error leaves the book usable:
// the event consumed its sequence slot without the described mutation.
// Sequencing violations and feed error events are never anomalies.
func isReplayAnomaly(err error) bool {
	return errors.Is(err, book.ErrDuplicateOrder) || errors.Is(err, book.ErrAnomalousMatch)
}
