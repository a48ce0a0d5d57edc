// Package processor decodes raw feed frames into order events and control
// messages. Frames are parsed by a pool of workers and re-emitted strictly in
// arrival order: the level3 stream is a total order per product, and the
// session layer reads any reordering as a sequence gap.
package processor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"bookflow/config"
	"bookflow/internal/channel"
	"bookflow/internal/metrics"
	"bookflow/logger"
	"bookflow/models"
)

type ticketedFrame struct {
	ticket uint64
	raw    models.RawFeedMessage
}

type parsedFrame struct {
	ticket uint64
	frame  models.ParsedFrame
	err    error
	size   int
}

// FeedProcessor turns raw frames into typed events. Parsing fans out to
// MaxWorkers goroutines; a collector reassembles results by arrival ticket
// before anything reaches the event channel.
type FeedProcessor struct {
	config   *config.Config
	channels *channel.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log

	workQueue chan ticketedFrame
	results   chan parsedFrame

	framesProcessed  int64
	eventsProduced   int64
	controlsProduced int64
	malformedCount   int64
}

// NewFeedProcessor creates a processor reading from the shared raw channel.
func NewFeedProcessor(cfg *config.Config, ch *channel.Channels) *FeedProcessor {
	log := logger.GetLogger()

	p := &FeedProcessor{
		config:   cfg,
		channels: ch,
		wg:       &sync.WaitGroup{},
		log:      log,
	}

	log.WithComponent("processor").WithFields(logger.Fields{
		"max_workers": cfg.Processor.MaxWorkers,
	}).Info("feed processor initialized")

	return p
}

// Start launches the dispatcher, parse workers and collector.
func (p *FeedProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("feed processor already running")
	}
	p.running = true
	p.ctx = ctx
	p.mu.Unlock()

	log := p.log.WithComponent("processor").WithFields(logger.Fields{"operation": "Start"})
	log.Info("starting feed processor")

	workers := p.config.Processor.MaxWorkers
	if workers < 1 {
		workers = 1
	}

	p.workQueue = make(chan ticketedFrame, workers*2)
	p.results = make(chan parsedFrame, workers*4)

	p.wg.Add(1)
	go p.dispatcher()

	workerWg := &sync.WaitGroup{}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		workerWg.Add(1)
		go p.worker(workerWg)
	}

	// The results channel closes once every worker has drained out.
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		workerWg.Wait()
		close(p.results)
	}()

	p.wg.Add(1)
	go p.collector()

	p.wg.Add(1)
	go p.metricsReporter(ctx)

	log.WithFields(logger.Fields{"workers": workers}).Info("feed processor started successfully")
	return nil
}

// Stop waits for the pipeline to drain. The context passed to Start must be
// canceled first.
func (p *FeedProcessor) Stop() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	p.log.WithComponent("processor").Info("stopping feed processor")
	p.wg.Wait()
	p.log.WithComponent("processor").Info("feed processor stopped")
}

// dispatcher tickets raw frames in arrival order and feeds the work queue.
func (p *FeedProcessor) dispatcher() {
	defer p.wg.Done()
	defer close(p.workQueue)

	var ticket uint64
	for {
		select {
		case <-p.ctx.Done():
			return
		case raw, ok := <-p.channels.RawFeedChan:
			if !ok {
				return
			}
			select {
			case p.workQueue <- ticketedFrame{ticket: ticket, raw: raw}:
				ticket++
			case <-p.ctx.Done():
				return
			}
		}
	}
}

func (p *FeedProcessor) worker(workers *sync.WaitGroup) {
	defer p.wg.Done()
	defer workers.Done()

	for tf := range p.workQueue {
		frame, err := models.ParseFrame(tf.raw.Data)
		select {
		case p.results <- parsedFrame{ticket: tf.ticket, frame: frame, err: err, size: len(tf.raw.Data)}:
		case <-p.ctx.Done():
			return
		}
	}
}

// collector re-establishes arrival order. Workers finish out of order under
// load; holding results until their ticket comes up keeps the event channel
// a faithful copy of the wire order.
func (p *FeedProcessor) collector() {
	defer p.wg.Done()

	pending := make(map[uint64]parsedFrame)
	var next uint64

	for {
		select {
		case <-p.ctx.Done():
			return
		case res, ok := <-p.results:
			if !ok {
				return
			}
			pending[res.ticket] = res
			for {
				queued, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				next++
				p.emit(queued)
			}
		}
	}
}

func (p *FeedProcessor) emit(res parsedFrame) {
	atomic.AddInt64(&p.framesProcessed, 1)

	if res.err != nil {
		atomic.AddInt64(&p.malformedCount, 1)
		metrics.RecordFrameParsed("malformed")
		p.log.WithComponent("processor").WithError(res.err).WithFields(logger.Fields{
			"bytes": res.size,
		}).Warn("dropping malformed frame")
		return
	}

	if res.frame.Control != nil {
		metrics.RecordFrameParsed("control")
		if p.channels.SendControl(p.ctx, res.frame.Control) {
			atomic.AddInt64(&p.controlsProduced, 1)
		}
		return
	}

	if res.frame.Event == nil {
		return
	}

	metrics.RecordFrameParsed("ok")
	if p.channels.SendEvent(p.ctx, res.frame.Event) {
		atomic.AddInt64(&p.eventsProduced, 1)
	}
}

func (p *FeedProcessor) metricsReporter(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.RLock()
			running := p.running
			p.mu.RUnlock()
			if !running {
				return
			}
			p.reportMetrics()
		}
	}
}

func (p *FeedProcessor) reportMetrics() {
	metrics.ReportFeedProcessorMetrics(p.log, metrics.FeedProcessorMetrics{
		FramesProcessed:  atomic.LoadInt64(&p.framesProcessed),
		EventsProduced:   atomic.LoadInt64(&p.eventsProduced),
		ControlsProduced: atomic.LoadInt64(&p.controlsProduced),
		MalformedCount:   atomic.LoadInt64(&p.malformedCount),
		RawChannelLen:    len(p.channels.RawFeedChan),
		RawChannelCap:    cap(p.channels.RawFeedChan),
		EventChannelLen:  len(p.channels.EventChan),
		EventChannelCap:  cap(p.channels.EventChan),
	})
}
