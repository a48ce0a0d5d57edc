// Package session runs the per-product reconstruction protocol: capture
// events while a point-in-time snapshot is fetched, reconcile the two, then
// track the live stream until a gap or anomaly forces a resynchronization.
// Each session owns its book and buffer exclusively; other goroutines observe
// it only through the update stream and the published Status copy.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"bookflow/config"
	"bookflow/internal/book"
	"bookflow/internal/metrics"
	"bookflow/internal/reconcile"
	"bookflow/internal/sequencer"
	"bookflow/logger"
	"bookflow/models"
)

// SnapshotFetcher retrieves a point-in-time level3 book snapshot. Fetches
// must honor ctx cancellation; the session cancels in-flight fetches when it
// resynchronizes or shuts down.
type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context, productID string) (*models.SnapshotRecord, error)
}

const statusPublishInterval = time.Second

// Resync and discard reasons. Kept to a small fixed set because they feed
// metric labels.
const (
	reasonSequenceGap      = "sequence_gap"
	reasonBufferOverflow   = "buffer_overflow"
	reasonAnomalyThreshold = "anomaly_threshold"
	reasonTransportFailure = "transport_failure"
	reasonReconcileFailed  = "reconcile_failed"
	reasonSnapshotStale    = "snapshot_stale"
	reasonStaleSequence    = "stale_sequence"
)

// inbound is one item routed into a session by the manager.
type inbound struct {
	event     *models.FeedEvent
	heartbeat *models.ControlMessage
	feedDown  error
	feedUp    bool
}

type fetchResult struct {
	snap  *models.SnapshotRecord
	err   error
	epoch uint64
}

type wakeAction int

const (
	wakeNone wakeAction = iota
	// wakeFetch retries a failed or stale snapshot fetch.
	wakeFetch
	// wakeResume leaves Resyncing for Buffering once the backoff expires.
	wakeResume
)

// Session reconstructs one product's book. All fields below the mutex are
// owned by the run goroutine; Status is the only cross-goroutine read model.
type Session struct {
	productID string
	cfg       config.SessionConfig
	fetcher   SnapshotFetcher
	updates   chan<- Update
	inbox     chan inbound
	snapCh    chan fetchResult
	log       *logger.Log

	book   *book.Book
	buffer *sequencer.Buffer
	state  State

	// Snapshot fetch bookkeeping. epoch invalidates results from fetches
	// started before the latest resync.
	epoch        uint64
	fetching     bool
	fetchAttempt int
	fetchCancel  context.CancelFunc
	pending      *models.SnapshotRecord

	snapshotWait *backoff.Backoff
	resyncWait   *backoff.Backoff
	wake         *time.Timer
	pendingWake  wakeAction

	heartbeatSeq   uint64
	heartbeatTime  time.Time
	lastEventTime  time.Time
	epochAnomalies int

	applied        uint64
	discarded      uint64
	anomalies      uint64
	gaps           uint64
	resyncs        uint64
	snapshotSeq    uint64
	droppedInbox   uint64
	droppedUpdates uint64

	mu     sync.RWMutex
	status Status

	wg      *sync.WaitGroup
	runMu   sync.RWMutex
	running bool
}

// New builds a session for one product. Updates are emitted on updates with a
// non-blocking send; a full sink loses telemetry, never book consistency.
func New(productID string, cfg config.SessionConfig, fetcher SnapshotFetcher, updates chan<- Update, inboxSize int) *Session {
	if inboxSize <= 0 {
		inboxSize = 1024
	}
	s := &Session{
		productID: productID,
		cfg:       cfg,
		fetcher:   fetcher,
		updates:   updates,
		inbox:     make(chan inbound, inboxSize),
		snapCh:    make(chan fetchResult, 1),
		log:       logger.GetLogger(),
		book:      book.New(productID),
		buffer:    sequencer.New(cfg.BufferCapacity),
		state:     StateConnecting,
		snapshotWait: &backoff.Backoff{
			Min:    cfg.SnapshotDelay.Std(),
			Max:    cfg.SnapshotDelayMax.Std(),
			Factor: 2,
			Jitter: true,
		},
		resyncWait: &backoff.Backoff{
			Min:    cfg.ResyncDelay.Std(),
			Max:    cfg.ResyncDelayMax.Std(),
			Factor: 2,
			Jitter: true,
		},
		wg: &sync.WaitGroup{},
	}
	// Created armed, immediately drained: the timer starts idle.
	s.wake = time.NewTimer(time.Hour)
	if !s.wake.Stop() {
		<-s.wake.C
	}
	s.status = Status{ProductID: productID, State: StateConnecting}
	return s
}

// ProductID returns the product this session reconstructs.
func (s *Session) ProductID() string {
	return s.productID
}

// Start launches the run loop. The session stops when ctx is cancelled.
func (s *Session) Start(ctx context.Context) error {
	s.runMu.Lock()
	if s.running {
		s.runMu.Unlock()
		return fmt.Errorf("session %s already running", s.productID)
	}
	s.running = true
	s.runMu.Unlock()

	s.wg.Add(1)
	go s.run(ctx)

	s.log.WithComponent("session").WithFields(logger.Fields{
		"product":         s.productID,
		"buffer_capacity": s.cfg.BufferCapacity,
	}).Info("session started")
	return nil
}

// Stop waits for the run loop to exit. The caller cancels the Start context
// first.
func (s *Session) Stop() {
	s.runMu.Lock()
	s.running = false
	s.runMu.Unlock()

	s.wg.Wait()
	s.log.WithComponent("session").WithFields(logger.Fields{"product": s.productID}).Info("session stopped")
}

// Deliver hands a parsed event to the session. It never blocks; a full inbox
// drops the event, which the sequence discipline later surfaces as a gap.
func (s *Session) Deliver(ev *models.FeedEvent) bool {
	select {
	case s.inbox <- inbound{event: ev}:
		return true
	default:
		s.noteInboxDrop()
		return false
	}
}

// Heartbeat hands a heartbeat control message to the session.
func (s *Session) Heartbeat(ctl *models.ControlMessage) bool {
	select {
	case s.inbox <- inbound{heartbeat: ctl}:
		return true
	default:
		s.noteInboxDrop()
		return false
	}
}

// FeedDown signals that the transport dropped. The current stream epoch can
// no longer be trusted, so the session resynchronizes.
func (s *Session) FeedDown(err error) bool {
	select {
	case s.inbox <- inbound{feedDown: err}:
		return true
	default:
		s.noteInboxDrop()
		return false
	}
}

// FeedUp signals that the transport reconnected and resubscribed.
func (s *Session) FeedUp() bool {
	select {
	case s.inbox <- inbound{feedUp: true}:
		return true
	default:
		s.noteInboxDrop()
		return false
	}
}

func (s *Session) noteInboxDrop() {
	s.mu.Lock()
	s.droppedInbox++
	s.mu.Unlock()
	metrics.EmitDropMetric(s.log, metrics.DropMetricSessionInbox, s.productID, "session")
}

// Status returns a copy of the most recently published session state.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// State returns the state from the most recently published Status.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status.State
}

func (s *Session) run(ctx context.Context) {
	defer s.wg.Done()
	defer s.cancelFetch()

	statusTicker := time.NewTicker(statusPublishInterval)
	defer statusTicker.Stop()

	s.transition(StateConnecting, "session started")

	for {
		select {
		case <-ctx.Done():
			s.transition(StateTerminated, "shutdown")
			return
		case in := <-s.inbox:
			s.handleInbound(ctx, in)
		case res := <-s.snapCh:
			s.onFetchResult(ctx, res)
		case <-s.wake.C:
			s.onWake(ctx)
		case <-statusTicker.C:
			s.publishStatus()
		}
		if s.state.Terminal() {
			return
		}
	}
}

func (s *Session) handleInbound(ctx context.Context, in inbound) {
	switch {
	case in.event != nil:
		s.handleEvent(ctx, in.event)
	case in.heartbeat != nil:
		s.handleHeartbeat(in.heartbeat)
	case in.feedDown != nil:
		s.handleFeedDown(in.feedDown)
	case in.feedUp:
		s.log.WithComponent("session").WithFields(logger.Fields{"product": s.productID}).Info("feed restored")
	}
}

func (s *Session) handleEvent(ctx context.Context, ev *models.FeedEvent) {
	s.lastEventTime = ev.Time
	if s.lastEventTime.IsZero() {
		s.lastEventTime = time.Now().UTC()
	}

	// Error frames are surfaced, never applied, regardless of state.
	if ev.Type == models.EventTypeError {
		s.anomalies++
		metrics.RecordFeedError(s.productID)
		s.log.WithComponent("session").WithFields(logger.Fields{
			"product": s.productID,
			"message": ev.Message,
		}).Warn("feed error frame")
		s.emit(Update{
			Kind:      UpdateAnomaly,
			ProductID: s.productID,
			Sequence:  ev.Sequence,
			Time:      s.lastEventTime,
			Event:     ev,
			Reason:    ev.Message,
		})
		return
	}

	switch s.state {
	case StateConnecting:
		// First event proves the subscription is delivering.
		s.transition(StateBuffering, "subscription active")
		s.bufferEvent(ctx, ev)
	case StateBuffering, StateReconciling, StateResyncing:
		s.bufferEvent(ctx, ev)
	case StateLive:
		s.applyLive(ctx, ev)
	case StateTerminated:
	}
}

// bufferEvent captures one pre-reconciliation event and advances the
// snapshot protocol when the capture window allows it.
func (s *Session) bufferEvent(ctx context.Context, ev *models.FeedEvent) {
	if _, err := s.buffer.Push(ev); err != nil {
		if errors.Is(err, sequencer.ErrBufferOverflow) {
			s.log.WithComponent("session").WithFields(logger.Fields{
				"product":  s.productID,
				"buffered": s.buffer.Len(),
			}).Warn("capture buffer overflow")
			s.resync(reasonBufferOverflow)
			return
		}
		s.log.WithComponent("session").WithError(err).Error("buffer push failed")
		return
	}

	if s.state == StateResyncing {
		// Capture continues through the resync backoff; the fetch waits
		// until the session re-enters Buffering.
		return
	}
	if s.pending != nil {
		s.attemptReconcile()
		return
	}
	s.maybeStartFetch(ctx)
}

// applyLive applies one event to the reconciled book under the gap-tolerant
// discipline.
func (s *Session) applyLive(ctx context.Context, ev *models.FeedEvent) {
	effect, err := s.book.Apply(ev)
	switch {
	case err == nil:
		if effect.Kind == book.EffectStale {
			s.discarded++
			metrics.RecordEventDiscarded(s.productID, reasonStaleSequence)
			s.emit(Update{
				Kind:      UpdateDiscarded,
				ProductID: s.productID,
				Sequence:  ev.Sequence,
				Time:      s.lastEventTime,
				Event:     ev,
				Effect:    &effect,
				Reason:    reasonStaleSequence,
			})
			return
		}
		if effect.Anomaly != nil {
			s.recordAnomaly(ev, effect, effect.Anomaly)
			return
		}
		s.applied++
		metrics.RecordEventApplied(s.productID, string(ev.Type))
		s.emit(Update{
			Kind:      UpdateApplied,
			ProductID: s.productID,
			Sequence:  ev.Sequence,
			Time:      s.lastEventTime,
			Event:     ev,
			Effect:    &effect,
			BestBid:   quotePtr(s.book.BestBid()),
			BestAsk:   quotePtr(s.book.BestAsk()),
		})
	case errors.Is(err, book.ErrSequenceGap):
		s.gaps++
		s.discarded++
		metrics.RecordSequenceGap(s.productID)
		s.log.WithComponent("session").WithFields(logger.Fields{
			"product":  s.productID,
			"expected": s.book.LastSequence() + 1,
			"got":      ev.Sequence,
		}).Warn("sequence gap detected")
		s.emit(Update{
			Kind:      UpdateDiscarded,
			ProductID: s.productID,
			Sequence:  ev.Sequence,
			Time:      s.lastEventTime,
			Event:     ev,
			Reason:    reasonSequenceGap,
		})
		s.resync(reasonSequenceGap)
	case errors.Is(err, book.ErrDuplicateOrder), errors.Is(err, book.ErrAnomalousMatch):
		effect.Anomaly = err
		s.recordAnomaly(ev, effect, err)
	default:
		s.log.WithComponent("session").WithError(err).WithFields(logger.Fields{
			"product":  s.productID,
			"sequence": ev.Sequence,
		}).Error("apply failed")
		s.resync(reasonReconcileFailed)
	}
}

// recordAnomaly accounts for a tolerated anomaly and resynchronizes once the
// configured threshold is crossed. A zero threshold never resynchronizes.
func (s *Session) recordAnomaly(ev *models.FeedEvent, effect book.AppliedEffect, cause error) {
	s.anomalies++
	s.epochAnomalies++
	kind := "unknown"
	if cause != nil {
		kind = anomalyKind(cause)
	}
	metrics.RecordAnomaly(s.productID, kind)
	s.emit(Update{
		Kind:      UpdateAnomaly,
		ProductID: s.productID,
		Sequence:  ev.Sequence,
		Time:      s.lastEventTime,
		Event:     ev,
		Effect:    &effect,
		Reason:    kind,
	})

	if s.cfg.AnomalyThreshold > 0 && s.epochAnomalies >= s.cfg.AnomalyThreshold {
		s.log.WithComponent("session").WithFields(logger.Fields{
			"product":   s.productID,
			"anomalies": s.epochAnomalies,
			"threshold": s.cfg.AnomalyThreshold,
		}).Warn("anomaly threshold reached")
		s.resync(reasonAnomalyThreshold)
	}
}

func quotePtr(q book.Quote, ok bool) *book.Quote {
	if !ok {
		return nil
	}
	return &q
}

func anomalyKind(err error) string {
	switch {
	case errors.Is(err, book.ErrDuplicateOrder):
		return "duplicate_order"
	case errors.Is(err, book.ErrAnomalousRemoval):
		return "unknown_removal"
	case errors.Is(err, book.ErrAnomalousChange):
		return "unknown_change"
	case errors.Is(err, book.ErrAnomalousMatch):
		return "anomalous_match"
	default:
		return "unknown"
	}
}

func (s *Session) handleHeartbeat(ctl *models.ControlMessage) {
	s.heartbeatSeq = ctl.Sequence
	s.heartbeatTime = ctl.Time
	if s.heartbeatTime.IsZero() {
		s.heartbeatTime = time.Now().UTC()
	}
	// A heartbeat at or below the pending snapshot sequence proves the
	// stream has not passed the snapshot point, so a quiet product can
	// reconcile without waiting for traffic.
	if s.pending != nil && (s.state == StateBuffering || s.state == StateReconciling) {
		s.attemptReconcile()
	}
}

func (s *Session) handleFeedDown(err error) {
	s.log.WithComponent("session").WithError(err).WithFields(logger.Fields{
		"product": s.productID,
		"state":   string(s.state),
	}).Warn("feed transport down")

	switch s.state {
	case StateConnecting, StateTerminated:
		// Nothing reconstructed yet, nothing to throw away.
		return
	default:
		s.resync(reasonTransportFailure)
	}
}

// maybeStartFetch launches a snapshot fetch once enough of the stream has
// been captured to prove the subscription is delivering.
func (s *Session) maybeStartFetch(ctx context.Context) {
	if s.state != StateBuffering || s.fetching || s.pending != nil {
		return
	}
	if s.buffer.Len() < s.cfg.MinBufferedEvents {
		return
	}
	s.startFetch(ctx)
}

func (s *Session) startFetch(ctx context.Context) {
	s.fetching = true
	s.fetchAttempt++

	fctx, cancel := context.WithCancel(ctx)
	s.fetchCancel = cancel
	epoch := s.epoch
	attempt := s.fetchAttempt

	s.log.WithComponent("session").WithFields(logger.Fields{
		"product": s.productID,
		"attempt": attempt,
	}).Info("fetching snapshot")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		snap, err := s.fetcher.FetchSnapshot(fctx, s.productID)
		select {
		case s.snapCh <- fetchResult{snap: snap, err: err, epoch: epoch}:
		case <-fctx.Done():
		}
	}()
}

func (s *Session) cancelFetch() {
	if s.fetchCancel != nil {
		s.fetchCancel()
		s.fetchCancel = nil
	}
	s.fetching = false
}

func (s *Session) onFetchResult(ctx context.Context, res fetchResult) {
	if res.epoch != s.epoch {
		// Result from before the last resync; the fetch context was
		// cancelled but the send raced the cancellation.
		return
	}
	s.fetching = false
	s.fetchCancel = nil

	if res.err != nil {
		if errors.Is(res.err, context.Canceled) {
			return
		}
		metrics.RecordSnapshotFetch(s.productID, "failure")
		log := s.log.WithComponent("session").WithError(res.err).WithFields(logger.Fields{
			"product": s.productID,
			"attempt": s.fetchAttempt,
			"retries": s.cfg.SnapshotRetries,
		})
		if s.fetchAttempt >= s.cfg.SnapshotRetries {
			log.Error("snapshot retries exhausted")
			s.transition(StateTerminated, "snapshot retries exhausted: "+res.err.Error())
			return
		}
		delay := s.snapshotWait.Duration()
		log.WithFields(logger.Fields{"retry_in": delay.String()}).Warn("snapshot fetch failed")
		s.armWake(wakeFetch, delay)
		return
	}

	metrics.RecordSnapshotFetch(s.productID, "success")
	s.snapshotWait.Reset()
	s.pending = res.snap
	s.attemptReconcile()
}

// attemptReconcile merges the pending snapshot with the capture buffer once
// coverage can be proven, either by a buffered event at or beyond the
// snapshot sequence or by a heartbeat at or below it.
func (s *Session) attemptReconcile() {
	snap := s.pending
	if snap == nil || s.state != StateBuffering {
		return
	}

	covered := s.buffer.LastSequence() >= snap.Sequence ||
		(s.heartbeatSeq != 0 && s.heartbeatSeq <= snap.Sequence)
	if !covered {
		return
	}

	s.transition(StateReconciling, "snapshot received")

	res, err := reconcile.Reconcile(s.book, s.buffer, snap, s.heartbeatSeq)
	switch {
	case err == nil:
		s.pending = nil
		s.fetchAttempt = 0
		s.epochAnomalies = 0
		s.snapshotSeq = snap.Sequence
		s.applied += uint64(res.Applied)
		s.discarded += uint64(res.Discarded)
		s.anomalies += uint64(res.Anomalies)

		s.log.WithComponent("session").WithFields(logger.Fields{
			"product":        s.productID,
			"snapshot_seq":   snap.Sequence,
			"discarded":      res.Discarded,
			"replayed":       res.Applied,
			"anomalies":      res.Anomalies,
			"final_sequence": res.FinalSequence,
		}).Info("book reconciled")

		s.emit(Update{
			Kind:      UpdateSnapshot,
			ProductID: s.productID,
			Sequence:  snap.Sequence,
			Time:      time.Now().UTC(),
			BestBid:   quotePtr(s.book.BestBid()),
			BestAsk:   quotePtr(s.book.BestAsk()),
		})
		for i := range res.Effects {
			effect := res.Effects[i]
			kind := UpdateApplied
			reason := ""
			if effect.Anomaly != nil {
				kind = UpdateAnomaly
				reason = anomalyKind(effect.Anomaly)
			}
			s.emit(Update{
				Kind:      kind,
				ProductID: s.productID,
				Sequence:  effect.Sequence,
				Time:      time.Now().UTC(),
				Effect:    &effect,
				Reason:    reason,
			})
		}
		s.transition(StateLive, "reconciled")
	case errors.Is(err, reconcile.ErrSnapshotAhead):
		// The synchronous guard disagrees with our coverage check only
		// when events raced in between; go back to capturing.
		s.transition(StateBuffering, "snapshot ahead of capture window")
	case errors.Is(err, reconcile.ErrSnapshotStale):
		s.pending = nil
		s.log.WithComponent("session").WithError(err).WithFields(logger.Fields{
			"product": s.productID,
		}).Warn("snapshot stale, refetching")
		s.transition(StateBuffering, reasonSnapshotStale)
		s.armWake(wakeFetch, s.snapshotWait.Duration())
	default:
		s.log.WithComponent("session").WithError(err).WithFields(logger.Fields{
			"product": s.productID,
		}).Error("reconciliation failed")
		s.resync(reasonReconcileFailed)
	}
}

// resync throws away the current epoch: the book, the capture buffer and any
// in-flight snapshot fetch. After a backoff the session captures toward a
// fresh snapshot.
func (s *Session) resync(reason string) {
	s.resyncs++
	s.epoch++
	metrics.RecordResync(s.productID, reason)

	s.cancelFetch()
	s.pending = nil
	s.fetchAttempt = 0
	s.epochAnomalies = 0
	s.book.Reset()
	s.buffer.Reset()

	delay := s.resyncWait.Duration()
	s.log.WithComponent("session").WithFields(logger.Fields{
		"product": s.productID,
		"reason":  reason,
		"resume":  delay.String(),
		"resyncs": s.resyncs,
	}).Warn("resynchronizing")

	s.transition(StateResyncing, reason)
	s.armWake(wakeResume, delay)
}

func (s *Session) onWake(ctx context.Context) {
	action := s.pendingWake
	s.pendingWake = wakeNone
	switch action {
	case wakeResume:
		if s.state != StateResyncing {
			return
		}
		s.transition(StateBuffering, "capture resumed")
		s.maybeStartFetch(ctx)
	case wakeFetch:
		if s.state != StateBuffering || s.pending != nil {
			return
		}
		if s.buffer.Len() >= s.cfg.MinBufferedEvents {
			s.startFetch(ctx)
		}
		// Otherwise the next buffered event triggers the fetch.
	}
}

func (s *Session) armWake(action wakeAction, d time.Duration) {
	if !s.wake.Stop() {
		select {
		case <-s.wake.C:
		default:
		}
	}
	s.pendingWake = action
	s.wake.Reset(d)
}

// transition moves the state machine, reports the move on the update stream
// and refreshes the published status. A session that has gone Live resets the
// resync backoff: the stream proved healthy.
func (s *Session) transition(to State, reason string) {
	from := s.state
	s.state = to
	if from != to {
		metrics.RecordStateTransition(s.productID, string(from), string(to))
		s.log.WithComponent("session").WithFields(logger.Fields{
			"product": s.productID,
			"from":    string(from),
			"to":      string(to),
			"reason":  reason,
		}).Info("state transition")
	}
	if to == StateLive {
		s.resyncWait.Reset()
	}
	s.emit(Update{
		Kind:      UpdateTransition,
		ProductID: s.productID,
		Sequence:  s.book.LastSequence(),
		Time:      time.Now().UTC(),
		From:      from,
		To:        to,
		Reason:    reason,
	})
	s.publishStatus()
}

// emit performs a non-blocking send on the update sink. Drops are counted;
// the sink is telemetry, not book state.
func (s *Session) emit(u Update) {
	if s.updates == nil {
		return
	}
	select {
	case s.updates <- u:
	default:
		s.droppedUpdates++
		metrics.EmitDropMetric(s.log, metrics.DropMetricUpdates, s.productID, "session")
	}
}

// publishStatus refreshes the cross-goroutine read model and the book-level
// gauges.
func (s *Session) publishStatus() {
	status := Status{
		ProductID:      s.productID,
		State:          s.state,
		LastSequence:   s.book.LastSequence(),
		SnapshotSeq:    s.snapshotSeq,
		BufferedEvents: s.buffer.Len(),
		OrderCount:     s.book.OrderCount(),
		BidLevels:      s.book.LevelCount(models.SideBuy),
		AskLevels:      s.book.LevelCount(models.SideSell),
		Applied:        s.applied,
		Discarded:      s.discarded,
		Anomalies:      s.anomalies,
		Gaps:           s.gaps,
		Resyncs:        s.resyncs,
		LastEventTime:  s.lastEventTime,
		LastHeartbeat:  s.heartbeatTime,
		UpdatedAt:      time.Now().UTC(),
	}
	if s.state == StateLive {
		status.BestBid = quotePtr(s.book.BestBid())
		status.BestAsk = quotePtr(s.book.BestAsk())
		status.Bids = s.book.Depth(models.SideBuy, s.cfg.DepthLevels)
		status.Asks = s.book.Depth(models.SideSell, s.cfg.DepthLevels)
	}

	metrics.SetBookGauges(s.productID, status.LastSequence, status.OrderCount,
		status.BidLevels, status.AskLevels, status.BufferedEvents)

	s.mu.Lock()
	status.DroppedUpdates = s.droppedUpdates + s.droppedInbox
	s.status = status
	s.mu.Unlock()
}
