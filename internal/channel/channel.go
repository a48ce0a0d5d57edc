// Package channel owns the buffered channels that connect the feed reader,
// the frame processor and the session manager, together with send/drop
// accounting for each of them.
package channel

import (
	"context"
	"sync"
	"time"

	"bookflow/internal/metrics"
	"bookflow/logger"
	"bookflow/models"
)

// transportBuffer is deliberately small: transport notices are rare and must
// not be dropped, so sends on it block instead of falling through.
const transportBuffer = 16

type ChannelStats struct {
	RawSent         int64
	RawDropped      int64
	EventsSent      int64
	EventsDropped   int64
	ControlsSent    int64
	ControlsDropped int64
	TransportsSent  int64
}

// TransportEventKind distinguishes connection loss from recovery.
type TransportEventKind string

const (
	TransportDown TransportEventKind = "down"
	TransportUp   TransportEventKind = "up"
)

// TransportEvent reports a change in feed connectivity. Sessions treat a
// down event as the end of the current stream epoch.
type TransportEvent struct {
	Kind TransportEventKind
	Err  error
	Time time.Time
}

type Channels struct {
	RawFeedChan   chan models.RawFeedMessage
	EventChan     chan *models.FeedEvent
	ControlChan   chan *models.ControlMessage
	TransportChan chan TransportEvent

	stats               ChannelStats
	statsMutex          sync.RWMutex
	log                 *logger.Log
	metricsReportTicker *time.Ticker
}

func NewChannels(rawBufferSize, eventBufferSize, controlBufferSize int) *Channels {
	log := logger.GetLogger()

	c := &Channels{
		RawFeedChan:   make(chan models.RawFeedMessage, rawBufferSize),
		EventChan:     make(chan *models.FeedEvent, eventBufferSize),
		ControlChan:   make(chan *models.ControlMessage, controlBufferSize),
		TransportChan: make(chan TransportEvent, transportBuffer),
		log:           log,
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"raw_buffer_size":     rawBufferSize,
		"event_buffer_size":   eventBufferSize,
		"control_buffer_size": controlBufferSize,
	}).Info("channels initialized")

	return c
}

// SendRaw enqueues one raw frame for parsing. A full channel drops the frame;
// the resulting hole in the stream surfaces downstream as a sequence gap.
func (c *Channels) SendRaw(ctx context.Context, msg models.RawFeedMessage) bool {
	select {
	case c.RawFeedChan <- msg:
		c.IncrementRawSent()
		return true
	case <-ctx.Done():
		return false
	default:
		c.IncrementRawDropped()
		metrics.EmitDropMetric(c.log, metrics.DropMetricRawFeed, "", "channels")
		return false
	}
}

// SendEvent enqueues one parsed event for the session manager.
func (c *Channels) SendEvent(ctx context.Context, ev *models.FeedEvent) bool {
	select {
	case c.EventChan <- ev:
		c.IncrementEventsSent()
		return true
	case <-ctx.Done():
		return false
	default:
		c.IncrementEventsDropped()
		metrics.EmitDropMetric(c.log, metrics.DropMetricEvents, ev.ProductID, "channels")
		return false
	}
}

// SendControl enqueues one control message for the session manager.
func (c *Channels) SendControl(ctx context.Context, ctl *models.ControlMessage) bool {
	select {
	case c.ControlChan <- ctl:
		c.IncrementControlsSent()
		return true
	case <-ctx.Done():
		return false
	default:
		c.IncrementControlsDropped()
		metrics.EmitDropMetric(c.log, metrics.DropMetricControls, ctl.ProductID, "channels")
		return false
	}
}

// SendTransport delivers a connectivity notice. Unlike the data channels this
// send blocks until delivered or ctx is done.
func (c *Channels) SendTransport(ctx context.Context, te TransportEvent) bool {
	select {
	case c.TransportChan <- te:
		c.statsMutex.Lock()
		c.stats.TransportsSent++
		c.statsMutex.Unlock()
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Channels) StartMetricsReporting(ctx context.Context) {
	c.metricsReportTicker = time.NewTicker(30 * time.Second)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.metricsReportTicker.Stop()
				return
			case <-c.metricsReportTicker.C:
				c.logChannelStats()
			}
		}
	}()
}

func (c *Channels) logChannelStats() {
	c.statsMutex.RLock()
	stats := c.stats
	c.statsMutex.RUnlock()

	metrics.SetChannelGauge("raw_feed", len(c.RawFeedChan), cap(c.RawFeedChan))
	metrics.SetChannelGauge("events", len(c.EventChan), cap(c.EventChan))
	metrics.SetChannelGauge("controls", len(c.ControlChan), cap(c.ControlChan))

	if metrics.IsFeatureEnabled(metrics.FeatureChannelSize) {
		metrics.EmitMetric(c.log, "channel_buffers", "raw_buffer_length", len(c.RawFeedChan), "gauge", logger.Fields{
			"buffer":   "raw_feed",
			"capacity": cap(c.RawFeedChan),
		})
		metrics.EmitMetric(c.log, "channel_buffers", "event_buffer_length", len(c.EventChan), "gauge", logger.Fields{
			"buffer":   "events",
			"capacity": cap(c.EventChan),
		})
		metrics.EmitMetric(c.log, "channel_buffers", "control_buffer_length", len(c.ControlChan), "gauge", logger.Fields{
			"buffer":   "controls",
			"capacity": cap(c.ControlChan),
		})
	}

	c.log.WithComponent("channels").WithFields(logger.Fields{
		"raw_sent":         stats.RawSent,
		"raw_dropped":      stats.RawDropped,
		"events_sent":      stats.EventsSent,
		"events_dropped":   stats.EventsDropped,
		"controls_sent":    stats.ControlsSent,
		"controls_dropped": stats.ControlsDropped,
		"raw_channel_len":  len(c.RawFeedChan),
		"raw_channel_cap":  cap(c.RawFeedChan),
		"event_chan_len":   len(c.EventChan),
		"event_chan_cap":   cap(c.EventChan),
	}).Info("channel statistics")
}

func (c *Channels) Close() {
	if c.metricsReportTicker != nil {
		c.metricsReportTicker.Stop()
	}

	close(c.RawFeedChan)
	close(c.EventChan)
	close(c.ControlChan)
	close(c.TransportChan)

	c.log.WithComponent("channels").Info("all channels closed")
}

func (c *Channels) IncrementRawSent() {
	c.statsMutex.Lock()
	c.stats.RawSent++
	c.statsMutex.Unlock()
}

func (c *Channels) IncrementRawDropped() {
	c.statsMutex.Lock()
	c.stats.RawDropped++
	c.statsMutex.Unlock()
}

func (c *Channels) IncrementEventsSent() {
	c.statsMutex.Lock()
	c.stats.EventsSent++
	c.statsMutex.Unlock()
}

func (c *Channels) IncrementEventsDropped() {
	c.statsMutex.Lock()
	c.stats.EventsDropped++
	c.statsMutex.Unlock()
}

func (c *Channels) IncrementControlsSent() {
	c.statsMutex.Lock()
	c.stats.ControlsSent++
	c.statsMutex.Unlock()
}

func (c *Channels) IncrementControlsDropped() {
	c.statsMutex.Lock()
	c.stats.ControlsDropped++
	c.statsMutex.Unlock()
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}
