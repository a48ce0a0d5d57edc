// Package sequencer buffers feed events that arrive before a consistent
// starting point is known. Events are retained in arrival order (arrival
// order is stream order; the buffer filters, it never re-sorts) until the
// snapshot sequence arrives, then drained through a baseline filter exactly
// once. After the drain the buffer passes events straight through.
package sequencer

import (
	"errors"

	"bookflow/models"
)

// ErrBufferOverflow reports that buffered depth exceeded the configured
// ceiling: the snapshot fetch is abnormally slow relative to the feed rate.
// The overflowing event is still retained so nothing is silently dropped;
// callers are expected to resync.
var ErrBufferOverflow = errors.New("event buffer overflow")

// Stats counts buffer activity since the last Reset.
type Stats struct {
	Pushed    int64
	Discarded int64
	Drained   int64
	HighWater int
}

// Buffer is owned by a single goroutine; the channel feeding it is the
// concurrency boundary.
type Buffer struct {
	capacity    int
	events      []*models.FeedEvent
	passThrough bool
	lastSeq     uint64
	stats       Stats
}

// New returns a buffering-mode Buffer. capacity <= 0 means unbounded.
func New(capacity int) *Buffer {
	return &Buffer{capacity: capacity}
}

// Push retains ev while buffering. The first return reports whether the event
// was retained: false means the buffer is in pass-through mode and the caller
// should apply the event immediately. ErrBufferOverflow is returned once
// buffered depth exceeds capacity.
func (b *Buffer) Push(ev *models.FeedEvent) (bool, error) {
	if b.passThrough {
		return false, nil
	}

	b.events = append(b.events, ev)
	b.stats.Pushed++
	if len(b.events) > b.stats.HighWater {
		b.stats.HighWater = len(b.events)
	}
	if ev.Sequence > b.lastSeq {
		b.lastSeq = ev.Sequence
	}

	if b.capacity > 0 && len(b.events) > b.capacity {
		return true, ErrBufferOverflow
	}
	return true, nil
}

// DrainFrom consumes the buffer and returns, in arrival order, the events
// with sequence strictly greater than baseline. Everything at or below the
// baseline is already represented in the snapshot and is discarded. The
// buffer then switches to pass-through mode.
func (b *Buffer) DrainFrom(baseline uint64) []*models.FeedEvent {
	drained := make([]*models.FeedEvent, 0, len(b.events))
	for _, ev := range b.events {
		if ev.Sequence > baseline {
			drained = append(drained, ev)
		} else {
			b.stats.Discarded++
		}
	}
	b.stats.Drained += int64(len(drained))
	b.events = nil
	b.passThrough = true
	return drained
}

// Reset returns the buffer to buffering mode, empty. Partially buffered
// events are discarded wholesale, never partially applied.
func (b *Buffer) Reset() {
	b.events = nil
	b.passThrough = false
	b.lastSeq = 0
	b.stats = Stats{}
}

// Len returns the buffered depth.
func (b *Buffer) Len() int { return len(b.events) }

// PassThrough reports whether the buffer has been drained and now forwards
// events immediately.
func (b *Buffer) PassThrough() bool { return b.passThrough }

// LastSequence returns the highest sequence pushed since the last Reset.
// Zero means nothing has been buffered yet.
func (b *Buffer) LastSequence() uint64 { return b.lastSeq }

// FirstSequence returns the sequence of the earliest retained event, or zero
// when the buffer is empty.
func (b *Buffer) FirstSequence() uint64 {
	if len(b.events) == 0 {
		return 0
	}
	return b.events[0].Sequence
}

// StatsSnapshot returns a copy of the buffer counters.
func (b *Buffer) StatsSnapshot() Stats { return b.stats }
