package book

import "errors"

// Hard sequencing failures. A gap means at least one event was missed and the
// book can no longer be trusted; callers resync rather than patch around it.
var (
	// ErrOutOfSequence reports a strict-mode apply whose sequence is not
	// exactly lastSequence+1. Used while replaying buffered events, where
	// the input is expected to be contiguous.
	ErrOutOfSequence = errors.New("event out of sequence")

	// ErrSequenceGap reports a gap-tolerant apply that skipped ahead,
	// meaning at least one event in between was never observed.
	ErrSequenceGap = errors.New("sequence gap detected")
)

// Application anomalies. The sequence counter still advances when these are
// returned: the event occupied its slot in the stream even though it did not
// mutate the book the way it described.
var (
	// ErrDuplicateOrder reports an open for an order id that is already
	// resting on the book.
	ErrDuplicateOrder = errors.New("order id already resting")

	// ErrAnomalousRemoval classifies a done for an order the book does not
	// hold. Not a failure: the order may have sat entirely inside the
	// snapshot boundary.
	ErrAnomalousRemoval = errors.New("done for unknown order")

	// ErrAnomalousChange classifies a change for an order the book does not
	// hold; the order may have fully filled before the change arrived.
	ErrAnomalousChange = errors.New("change for unknown order")

	// ErrAnomalousMatch reports a match whose maker order is unknown or
	// smaller than the traded size.
	ErrAnomalousMatch = errors.New("match for unknown or undersized maker order")
)

var (
	// ErrBookNotEmpty reports a snapshot load into a book that already
	// holds state and was not reset first.
	ErrBookNotEmpty = errors.New("book already loaded")

	// ErrFeedError carries an error event from the stream; such events are
	// surfaced, never applied.
	ErrFeedError = errors.New("feed error event")
)
