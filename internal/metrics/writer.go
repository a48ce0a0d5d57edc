package metrics

import "bookflow/logger"

// WriterStats holds delivery metrics for update writer components.
type WriterStats struct {
	RecordsWritten   int64
	BatchesWritten   int64
	BytesWritten     int64
	ErrorsCount      int64
	UpdateChannelLen int
	UpdateChannelCap int
}

// ReportWriter emits common writer metrics using the provided logger and component name.
func ReportWriter(log *logger.Log, component string, stats WriterStats) {
	l := log.WithComponent(component)

	errorRate := float64(0)
	if stats.BatchesWritten+stats.ErrorsCount > 0 {
		errorRate = float64(stats.ErrorsCount) / float64(stats.BatchesWritten+stats.ErrorsCount)
	}

	avgBytesPerBatch := float64(0)
	if stats.BatchesWritten > 0 {
		avgBytesPerBatch = float64(stats.BytesWritten) / float64(stats.BatchesWritten)
	}

	l.LogMetric(component, "records_written", stats.RecordsWritten, "counter", logger.Fields{})
	l.LogMetric(component, "batches_written", stats.BatchesWritten, "counter", logger.Fields{})
	l.LogMetric(component, "bytes_written", stats.BytesWritten, "counter", logger.Fields{})
	l.LogMetric(component, "errors_count", stats.ErrorsCount, "counter", logger.Fields{})
	l.LogMetric(component, "error_rate", errorRate, "gauge", logger.Fields{})
	l.LogMetric(component, "avg_bytes_per_batch", avgBytesPerBatch, "gauge", logger.Fields{})
	l.LogMetric(component, "update_channel_len", stats.UpdateChannelLen, "gauge", logger.Fields{})

	entry := l.WithFields(logger.Fields{
		"records_written":     stats.RecordsWritten,
		"batches_written":     stats.BatchesWritten,
		"bytes_written":       stats.BytesWritten,
		"errors_count":        stats.ErrorsCount,
		"error_rate":          errorRate,
		"avg_bytes_per_batch": avgBytesPerBatch,
		"update_channel_len":  stats.UpdateChannelLen,
		"update_channel_cap":  stats.UpdateChannelCap,
	})

	if stats.ErrorsCount > 0 {
		entry.Warn(component + " metrics")
		return
	}

	entry.Info(component + " metrics")
}
