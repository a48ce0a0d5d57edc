// Package metrics exposes the reconstruction counters and book gauges over
// Prometheus and fans structured metric events out to registered handlers.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bookflow/logger"
)

var (
	once sync.Once

	eventsApplied    *prometheus.CounterVec
	eventsDiscarded  *prometheus.CounterVec
	anomalies        *prometheus.CounterVec
	sequenceGaps     *prometheus.CounterVec
	resyncs          *prometheus.CounterVec
	snapshotFetches  *prometheus.CounterVec
	feedErrors       *prometheus.CounterVec
	stateTransitions *prometheus.CounterVec
	framesParsed     *prometheus.CounterVec
	reconnects       prometheus.Counter
	channelDrops     *prometheus.CounterVec
	kafkaWrites      *prometheus.CounterVec

	lastSequence     *prometheus.GaugeVec
	restingOrders    *prometheus.GaugeVec
	bookLevels       *prometheus.GaugeVec
	bufferedEvents   *prometheus.GaugeVec
	channelOccupancy *prometheus.GaugeVec
	channelCapacity  *prometheus.GaugeVec
)

// Init registers the collectors and serves /metrics on addr. It is safe to
// call more than once; only the first call has any effect.
func Init(addr string) {
	once.Do(func() {
		eventsApplied = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookflow_events_applied_total",
				Help: "Feed events applied to a reconciled book",
			},
			[]string{"product", "type"},
		)
		eventsDiscarded = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookflow_events_discarded_total",
				Help: "Feed events dropped without touching a book",
			},
			[]string{"product", "reason"},
		)
		anomalies = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookflow_anomalies_total",
				Help: "Tolerated events whose described effect could not be performed",
			},
			[]string{"product", "kind"},
		)
		sequenceGaps = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookflow_sequence_gaps_total",
				Help: "Gaps detected on the live stream",
			},
			[]string{"product"},
		)
		resyncs = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookflow_resyncs_total",
				Help: "Resynchronizations forced by gaps, overflows or anomaly thresholds",
			},
			[]string{"product", "reason"},
		)
		snapshotFetches = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookflow_snapshot_fetches_total",
				Help: "REST snapshot fetch attempts by outcome",
			},
			[]string{"product", "outcome"},
		)
		feedErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookflow_feed_errors_total",
				Help: "Error frames received from the feed",
			},
			[]string{"product"},
		)
		stateTransitions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookflow_state_transitions_total",
				Help: "Session state machine transitions",
			},
			[]string{"product", "from", "to"},
		)
		framesParsed = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookflow_frames_parsed_total",
				Help: "Raw feed frames by parse outcome",
			},
			[]string{"outcome"},
		)
		reconnects = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bookflow_feed_reconnects_total",
				Help: "Websocket reconnect attempts",
			},
		)
		channelDrops = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookflow_channel_drops_total",
				Help: "Messages dropped on full internal channels",
			},
			[]string{"metric", "product", "stage"},
		)
		kafkaWrites = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookflow_kafka_writes_total",
				Help: "Update records written to Kafka by outcome",
			},
			[]string{"outcome"},
		)

		lastSequence = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bookflow_last_sequence",
				Help: "Sequence cursor of each reconstructed book",
			},
			[]string{"product"},
		)
		restingOrders = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bookflow_resting_orders",
				Help: "Open orders resting on each book",
			},
			[]string{"product"},
		)
		bookLevels = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bookflow_book_levels",
				Help: "Price levels per book side",
			},
			[]string{"product", "side"},
		)
		bufferedEvents = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bookflow_buffered_events",
				Help: "Events captured while awaiting reconciliation",
			},
			[]string{"product"},
		)
		channelOccupancy = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bookflow_channel_occupancy",
				Help: "Buffered items per internal channel",
			},
			[]string{"channel"},
		)
		channelCapacity = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bookflow_channel_capacity",
				Help: "Capacity per internal channel",
			},
			[]string{"channel"},
		)

		_ = prometheus.Register(eventsApplied)
		_ = prometheus.Register(eventsDiscarded)
		_ = prometheus.Register(anomalies)
		_ = prometheus.Register(sequenceGaps)
		_ = prometheus.Register(resyncs)
		_ = prometheus.Register(snapshotFetches)
		_ = prometheus.Register(feedErrors)
		_ = prometheus.Register(stateTransitions)
		_ = prometheus.Register(framesParsed)
		_ = prometheus.Register(reconnects)
		_ = prometheus.Register(channelDrops)
		_ = prometheus.Register(kafkaWrites)
		_ = prometheus.Register(lastSequence)
		_ = prometheus.Register(restingOrders)
		_ = prometheus.Register(bookLevels)
		_ = prometheus.Register(bufferedEvents)
		_ = prometheus.Register(channelOccupancy)
		_ = prometheus.Register(channelCapacity)
		_ = prometheus.Register(collectors.NewGoCollector())
		_ = prometheus.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(addr, mux); err != nil {
				panic("metrics server failed: " + err.Error())
			}
		}()
	})
}

func RecordEventApplied(product, eventType string) {
	if eventsApplied != nil {
		eventsApplied.WithLabelValues(product, eventType).Inc()
	}
}

func RecordEventDiscarded(product, reason string) {
	if eventsDiscarded != nil {
		eventsDiscarded.WithLabelValues(product, reason).Inc()
	}
}

func RecordAnomaly(product, kind string) {
	if anomalies != nil {
		anomalies.WithLabelValues(product, kind).Inc()
	}
}

func RecordSequenceGap(product string) {
	if sequenceGaps != nil {
		sequenceGaps.WithLabelValues(product).Inc()
	}
	EmitMetric(nil, "session", "sequence_gaps", 1, "counter", logger.Fields{"product": product})
}

func RecordResync(product, reason string) {
	if resyncs != nil {
		resyncs.WithLabelValues(product, reason).Inc()
	}
	EmitMetric(nil, "session", "resyncs", 1, "counter", logger.Fields{
		"product": product,
		"reason":  reason,
	})
}

func RecordSnapshotFetch(product, outcome string) {
	if snapshotFetches != nil {
		snapshotFetches.WithLabelValues(product, outcome).Inc()
	}
	EmitMetric(nil, "session", "snapshot_fetches", 1, "counter", logger.Fields{
		"product": product,
		"outcome": outcome,
	})
}

func RecordFeedError(product string) {
	if feedErrors != nil {
		if product == "" {
			product = "feed"
		}
		feedErrors.WithLabelValues(product).Inc()
	}
}

func RecordStateTransition(product, from, to string) {
	if stateTransitions != nil {
		stateTransitions.WithLabelValues(product, from, to).Inc()
	}
}

func RecordFrameParsed(outcome string) {
	if framesParsed != nil {
		framesParsed.WithLabelValues(outcome).Inc()
	}
}

func RecordReconnect() {
	if reconnects != nil {
		reconnects.Inc()
	}
}

func RecordKafkaWrite(outcome string) {
	if kafkaWrites != nil {
		kafkaWrites.WithLabelValues(outcome).Inc()
	}
}

// SetBookGauges refreshes the per-book gauges in one call; sessions invoke it
// whenever they publish a status.
func SetBookGauges(product string, lastSeq uint64, orders, bidLevels, askLevels, buffered int) {
	if lastSequence == nil {
		return
	}
	lastSequence.WithLabelValues(product).Set(float64(lastSeq))
	restingOrders.WithLabelValues(product).Set(float64(orders))
	bookLevels.WithLabelValues(product, "buy").Set(float64(bidLevels))
	bookLevels.WithLabelValues(product, "sell").Set(float64(askLevels))
	bufferedEvents.WithLabelValues(product).Set(float64(buffered))
}

func SetChannelGauge(channel string, length, capacity int) {
	if channelOccupancy == nil {
		return
	}
	channelOccupancy.WithLabelValues(channel).Set(float64(length))
	channelCapacity.WithLabelValues(channel).Set(float64(capacity))
}
