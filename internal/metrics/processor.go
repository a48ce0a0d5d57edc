package metrics

import "bookflow/logger"

// FeedProcessorMetrics holds throughput and channel metrics for the frame
// parser workers.
type FeedProcessorMetrics struct {
	FramesProcessed  int64
	EventsProduced   int64
	ControlsProduced int64
	MalformedCount   int64
	RawChannelLen    int
	RawChannelCap    int
	EventChannelLen  int
	EventChannelCap  int
}

// ReportFeedProcessorMetrics emits throughput metrics for the frame parser.
func ReportFeedProcessorMetrics(log *logger.Log, stats FeedProcessorMetrics) {
	l := log.WithComponent("processor")

	malformedRate := float64(0)
	if stats.FramesProcessed > 0 {
		malformedRate = float64(stats.MalformedCount) / float64(stats.FramesProcessed)
	}

	l.LogMetric("processor", "frames_processed", stats.FramesProcessed, "counter", logger.Fields{})
	l.LogMetric("processor", "events_produced", stats.EventsProduced, "counter", logger.Fields{})
	l.LogMetric("processor", "controls_produced", stats.ControlsProduced, "counter", logger.Fields{})
	l.LogMetric("processor", "malformed_count", stats.MalformedCount, "counter", logger.Fields{})
	l.LogMetric("processor", "malformed_rate", malformedRate, "gauge", logger.Fields{})

	l.WithFields(logger.Fields{
		"frames_processed":  stats.FramesProcessed,
		"events_produced":   stats.EventsProduced,
		"controls_produced": stats.ControlsProduced,
		"malformed_count":   stats.MalformedCount,
		"malformed_rate":    malformedRate,
		"raw_channel_len":   stats.RawChannelLen,
		"raw_channel_cap":   stats.RawChannelCap,
		"event_chan_len":    stats.EventChannelLen,
		"event_chan_cap":    stats.EventChannelCap,
	}).Info("processor metrics")
}
