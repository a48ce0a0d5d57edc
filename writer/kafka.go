// Package writer ships the session update stream to Kafka. Every event a
// session accounts for (applied, discarded, anomalous), every completed
// reconciliation and every state transition becomes one JSON record, so a
// consumer can audit the reconstruction or rebuild read models from the
// topic alone.
package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	kafka "github.com/segmentio/kafka-go"

	"bookflow/config"
	"bookflow/internal/book"
	"bookflow/internal/metrics"
	"bookflow/internal/session"
	"bookflow/logger"
)

// writeMessagesFunc is swapped by tests to observe flushed batches without a
// broker.
var writeMessagesFunc = func(w *kafka.Writer, ctx context.Context, msgs ...kafka.Message) error {
	return w.WriteMessages(ctx, msgs...)
}

// quoteRecord is the wire form of a top-of-book quote.
type quoteRecord struct {
	Price  string `json:"price"`
	Size   string `json:"size"`
	Orders int    `json:"orders"`
}

// updateRecord is the wire form of one session update. Decimal fields are
// strings; consumers must not round-trip prices through floats. BatchID is
// shared by every record flushed in the same write, so a consumer can spot
// partial batches after a writer restart.
type updateRecord struct {
	Kind      string `json:"kind"`
	ProductID string `json:"product_id"`
	Sequence  uint64 `json:"sequence,omitempty"`
	Time      string `json:"time,omitempty"`

	EventType string `json:"event_type,omitempty"`
	Effect    string `json:"effect,omitempty"`
	OrderID   string `json:"order_id,omitempty"`
	Side      string `json:"side,omitempty"`
	Price     string `json:"price,omitempty"`
	Size      string `json:"size,omitempty"`

	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
	Reason string `json:"reason,omitempty"`

	BestBid *quoteRecord `json:"best_bid,omitempty"`
	BestAsk *quoteRecord `json:"best_ask,omitempty"`

	BatchID   string `json:"batch_id,omitempty"`
	EmittedAt string `json:"emitted_at"`
}

// KafkaWriter consumes session updates and writes them in batches. Records
// are keyed by product so each product's stream lands on one partition in
// order.
type KafkaWriter struct {
	config  *config.Config
	updates <-chan session.Update
	writer  *kafka.Writer
	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log

	recordsWritten int64
	batchesWritten int64
	bytesWritten   int64
	errorsCount    int64
}

// NewKafkaWriter creates a writer consuming the given update stream.
func NewKafkaWriter(cfg *config.Config, updates <-chan session.Update) (*KafkaWriter, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}

	kw := &KafkaWriter{
		config:  cfg,
		updates: updates,
		writer: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Kafka.Brokers...),
			Topic:    cfg.Kafka.Topic,
			Balancer: &kafka.Hash{},
		},
		wg:  &sync.WaitGroup{},
		log: logger.GetLogger(),
	}

	kw.log.WithComponent("kafka_writer").WithFields(logger.Fields{
		"brokers": cfg.Kafka.Brokers,
		"topic":   cfg.Kafka.Topic,
	}).Debug("kafka writer initialized")

	return kw, nil
}

// Start begins consuming updates.
func (kw *KafkaWriter) Start(ctx context.Context) error {
	kw.mu.Lock()
	if kw.running {
		kw.mu.Unlock()
		return fmt.Errorf("kafka writer already running")
	}
	kw.running = true
	kw.ctx = ctx
	kw.mu.Unlock()

	kw.log.WithComponent("kafka_writer").Debug("starting kafka writer")

	kw.wg.Add(1)
	go kw.run()

	kw.wg.Add(1)
	go kw.metricsReporter(ctx)

	return nil
}

// Stop waits for the final flush, then closes the underlying writer. The
// context passed to Start must be canceled first.
func (kw *KafkaWriter) Stop() {
	kw.mu.Lock()
	kw.running = false
	kw.mu.Unlock()

	kw.log.WithComponent("kafka_writer").Debug("stopping kafka writer")
	kw.wg.Wait()
	kw.writer.Close()
	kw.log.WithComponent("kafka_writer").Debug("kafka writer stopped")
}

func (kw *KafkaWriter) run() {
	defer kw.wg.Done()

	batchSize := kw.config.Kafka.BatchSize
	if batchSize < 1 {
		batchSize = 1
	}
	flushEvery := kw.config.Kafka.BatchTimeout.Std()
	if flushEvery <= 0 {
		flushEvery = time.Second
	}

	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()

	batch := make([]session.Update, 0, batchSize)

	for {
		select {
		case <-kw.ctx.Done():
			kw.finalFlush(&batch)
			return
		case u, ok := <-kw.updates:
			if !ok {
				kw.finalFlush(&batch)
				return
			}
			batch = append(batch, u)
			if len(batch) >= batchSize {
				kw.flush(kw.ctx, &batch)
			}
		case <-ticker.C:
			kw.flush(kw.ctx, &batch)
		}
	}
}

// finalFlush drains the last partial batch on a detached context; the run
// context is already canceled by the time shutdown reaches here.
func (kw *KafkaWriter) finalFlush(batch *[]session.Update) {
	if len(*batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	kw.flush(ctx, batch)
}

func (kw *KafkaWriter) flush(ctx context.Context, batch *[]session.Update) {
	if len(*batch) == 0 {
		return
	}

	batchID := uuid.New().String()
	msgs := make([]kafka.Message, 0, len(*batch))
	size := 0
	for _, u := range *batch {
		rec := buildRecord(u)
		rec.BatchID = batchID
		data, err := json.Marshal(rec)
		if err != nil {
			kw.log.WithComponent("kafka_writer").WithError(err).Warn("failed to marshal update")
			continue
		}
		size += len(data)
		msgs = append(msgs, kafka.Message{
			Key:   []byte(u.ProductID),
			Value: data,
			Time:  u.Time,
		})
	}
	*batch = (*batch)[:0]
	if len(msgs) == 0 {
		return
	}

	if err := writeMessagesFunc(kw.writer, ctx, msgs...); err != nil {
		atomic.AddInt64(&kw.errorsCount, 1)
		metrics.RecordKafkaWrite("failure")
		kw.log.WithComponent("kafka_writer").WithError(err).WithFields(logger.Fields{
			"batch_id": batchID,
			"records":  len(msgs),
		}).Warn("failed to write batch")
		return
	}

	atomic.AddInt64(&kw.recordsWritten, int64(len(msgs)))
	atomic.AddInt64(&kw.batchesWritten, 1)
	atomic.AddInt64(&kw.bytesWritten, int64(size))
	metrics.RecordKafkaWrite("success")
	logger.IncrementKafkaWrite(int64(size))
	kw.log.WithComponent("kafka_writer").WithFields(logger.Fields{
		"batch_id": batchID,
		"records":  len(msgs),
		"bytes":    size,
	}).Debug("batch written to kafka")
}

func buildRecord(u session.Update) updateRecord {
	rec := updateRecord{
		Kind:      string(u.Kind),
		ProductID: u.ProductID,
		Sequence:  u.Sequence,
		Reason:    u.Reason,
		EmittedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if !u.Time.IsZero() {
		rec.Time = u.Time.UTC().Format(time.RFC3339Nano)
	}

	if u.Event != nil {
		rec.EventType = string(u.Event.Type)
		rec.OrderID = u.Event.OrderID
	}
	if u.Effect != nil {
		rec.Effect = string(u.Effect.Kind)
		if u.Effect.OrderID != "" {
			rec.OrderID = u.Effect.OrderID
		}
		if u.Effect.Side != "" {
			rec.Side = string(u.Effect.Side)
		}
		if !u.Effect.Price.IsZero() {
			rec.Price = u.Effect.Price.String()
		}
		if !u.Effect.Size.IsZero() {
			rec.Size = u.Effect.Size.String()
		}
	}

	if u.Kind == session.UpdateTransition {
		rec.From = string(u.From)
		rec.To = string(u.To)
	}

	rec.BestBid = quoteFor(u.BestBid)
	rec.BestAsk = quoteFor(u.BestAsk)
	return rec
}

func quoteFor(q *book.Quote) *quoteRecord {
	if q == nil {
		return nil
	}
	return &quoteRecord{
		Price:  q.Price.String(),
		Size:   q.Size.String(),
		Orders: q.Orders,
	}
}

func (kw *KafkaWriter) metricsReporter(ctx context.Context) {
	defer kw.wg.Done()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			kw.mu.RLock()
			running := kw.running
			kw.mu.RUnlock()
			if !running {
				return
			}
			metrics.ReportWriter(kw.log, "kafka_writer", metrics.WriterStats{
				RecordsWritten:   atomic.LoadInt64(&kw.recordsWritten),
				BatchesWritten:   atomic.LoadInt64(&kw.batchesWritten),
				BytesWritten:     atomic.LoadInt64(&kw.bytesWritten),
				ErrorsCount:      atomic.LoadInt64(&kw.errorsCount),
				UpdateChannelLen: len(kw.updates),
				UpdateChannelCap: cap(kw.updates),
			})
		}
	}
}
