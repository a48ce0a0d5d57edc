package metrics

import "bookflow/logger"

// DropMetric identifies the metric name emitted when channel messages are dropped.
type DropMetric string

const (
	// DropMetricRawFeed records raw frames dropped before parsing.
	DropMetricRawFeed DropMetric = "raw_frames_dropped"
	// DropMetricEvents records parsed events dropped before routing.
	DropMetricEvents DropMetric = "events_dropped"
	// DropMetricControls records control messages dropped before routing.
	DropMetricControls DropMetric = "control_messages_dropped"
	// DropMetricSessionInbox records items dropped on a full session inbox.
	DropMetricSessionInbox DropMetric = "session_inbox_dropped"
	// DropMetricUpdates records updates dropped on a full sink channel.
	DropMetricUpdates DropMetric = "updates_dropped"
)

// EmitDropMetric logs and emits a metric representing a dropped channel
// message. The metric value is always incremented by one so callers should
// invoke this helper for each dropped message. Optional metadata (product,
// stage) is added to the metric fields when provided which enables downstream
// aggregation per product and pipeline stage.
func EmitDropMetric(log *logger.Log, metric DropMetric, product, stage string) {
	if channelDrops != nil {
		channelDrops.WithLabelValues(string(metric), product, stage).Inc()
	}

	fields := logger.Fields{}
	if product != "" {
		fields["product"] = product
	}
	if stage != "" {
		fields["stage"] = stage
	}

	EmitMetric(log, "channel_drops", string(metric), 1, "counter", fields)
}
