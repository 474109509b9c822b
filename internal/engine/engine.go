package engine

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/user/txn-stream-engine/internal/adapter/metrics"
	"github.com/user/txn-stream-engine/internal/aggregate"
	"github.com/user/txn-stream-engine/internal/domain"
	"github.com/user/txn-stream-engine/internal/pipeline"
)

// Config holds the engine runtime parameters.
type Config struct {
	WorkerCount         int
	QueueDepth          int
	ReadBatchSize       int
	DeadLetterBuffer    int
	SweepInterval       time.Duration
	HighValueThreshold  float64
	SuspiciousThreshold float64
}

// Engine runs the full processing topology: a dispatcher decodes inbound
// stream messages and hands each transaction to the partition worker owning
// its customer key, so records for one key are processed strictly in order
// while disjoint keys run in parallel. Workers classify, enrich, aggregate
// and route; failures short-circuit to the dead-letter buffer at any stage.
type Engine struct {
	cfg        Config
	stream     domain.TransactionStream
	router     *Router
	decoder    *pipeline.Decoder
	classifier *pipeline.Classifier
	enricher   *pipeline.Enricher
	windows    *aggregate.Windowed
	health     *aggregate.Health
	dlqSink    domain.DeadLetterSink
	metrics    *metrics.EngineMetrics
	logger     *slog.Logger

	partitions  []chan domain.Transaction
	deadLetters chan domain.DeadLetterRecord
	workerWg    sync.WaitGroup
	dlqWg       sync.WaitGroup
}

// New creates an Engine. metrics may be nil (tests).
func New(
	cfg Config,
	stream domain.TransactionStream,
	router *Router,
	windows *aggregate.Windowed,
	health *aggregate.Health,
	dlqSink domain.DeadLetterSink,
	logger *slog.Logger,
	m *metrics.EngineMetrics,
) *Engine {
	e := &Engine{
		cfg:         cfg,
		stream:      stream,
		router:      router,
		decoder:     pipeline.NewDecoder(logger),
		classifier:  pipeline.NewClassifier(cfg.HighValueThreshold, cfg.SuspiciousThreshold),
		enricher:    pipeline.NewEnricher(cfg.HighValueThreshold, cfg.SuspiciousThreshold, logger),
		windows:     windows,
		health:      health,
		dlqSink:     dlqSink,
		metrics:     m,
		logger:      logger.With("component", "engine"),
		deadLetters: make(chan domain.DeadLetterRecord, cfg.DeadLetterBuffer),
	}

	e.partitions = make([]chan domain.Transaction, cfg.WorkerCount)
	for i := range e.partitions {
		e.partitions[i] = make(chan domain.Transaction, cfg.QueueDepth)
	}
	return e
}

// Run consumes the input stream until ctx is cancelled, then drains in-flight
// records, flushes aggregate state, emits the final health snapshot and
// closes the dead-letter buffer before returning.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("starting engine",
		"workers", e.cfg.WorkerCount,
		"queue_depth", e.cfg.QueueDepth,
		"read_batch", e.cfg.ReadBatchSize)

	// Drain context survives cancellation so in-flight work can finish cleanly.
	drainCtx := context.WithoutCancel(ctx)

	e.dlqWg.Add(1)
	go e.drainDeadLetters(drainCtx)

	for i := range e.partitions {
		e.workerWg.Add(1)
		go e.worker(drainCtx, i)
	}

	healthDone := make(chan struct{})
	healthCtx, stopHealth := context.WithCancel(drainCtx)
	go func() {
		defer close(healthDone)
		e.health.Start(healthCtx)
	}()

	if e.cfg.SweepInterval > 0 {
		go e.windows.StartSweeper(ctx, e.cfg.SweepInterval)
	}

	e.intake(ctx)

	// Shutdown: stop intake first, then drain partitions in order.
	e.logger.Info("draining in-flight records")
	for _, p := range e.partitions {
		close(p)
	}
	e.workerWg.Wait()

	e.windows.Flush()

	stopHealth()
	<-healthDone

	close(e.deadLetters)
	e.dlqWg.Wait()

	e.logger.Info("engine shut down gracefully")
	return nil
}

func (e *Engine) intake(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		msgs, err := e.stream.ReadBatch(ctx, e.cfg.ReadBatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.logger.Error("failed to read from input stream", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		if len(msgs) == 0 {
			// Blocking reads normally pace this loop; guard against
			// non-blocking implementations spinning hot.
			select {
			case <-time.After(50 * time.Millisecond):
			case <-ctx.Done():
				return
			}
			continue
		}

		ids := make([]string, 0, len(msgs))
		for _, msg := range msgs {
			e.dispatch(ctx, msg)
			ids = append(ids, msg.ID)
		}

		// At-least-once: acknowledge only after every message in the batch
		// has been handed to its partition or dead-lettered.
		if err := e.stream.Acknowledge(ctx, ids...); err != nil {
			e.logger.Error("failed to acknowledge input batch", "error", err, "count", len(ids))
		}
	}
}

// dispatch decodes one message and hands it to its partition. Decode failures
// never reach a worker.
func (e *Engine) dispatch(ctx context.Context, msg domain.StreamMessage) {
	txn, err := e.decoder.Decode(msg.Payload)
	if err != nil {
		var decErr *domain.DecodeError
		if errors.As(err, &decErr) {
			e.health.RecordError()
			if e.metrics != nil {
				e.metrics.RecordsTotal.WithLabelValues("error_decode").Inc()
			}
			e.captureDeadLetter(domain.DeadLetterRecord{
				OriginalMessage: string(decErr.Raw),
				ErrorType:       domain.FailureDecode,
				ErrorDetails:    decErr.Err.Error(),
				Timestamp:       time.Now().UTC(),
			})
			return
		}
		e.logger.Error("unexpected decode failure", "error", err)
		return
	}
	txn.StreamMessageID = msg.ID

	p := e.partitions[e.partitionFor(txn)]
	select {
	case p <- txn:
	case <-ctx.Done():
		// Backpressure during shutdown: block until the worker takes it so
		// nothing already read from the stream is lost.
		p <- txn
	}
}

// partitionFor hashes the grouping key to a partition. Records without a
// customer id hash on the transaction id; they fail validation in the worker
// regardless of which partition sees them.
func (e *Engine) partitionFor(txn domain.Transaction) int {
	key := txn.CustomerID
	if key == "" {
		key = txn.ID
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(e.partitions)))
}

func (e *Engine) worker(ctx context.Context, id int) {
	defer e.workerWg.Done()
	for txn := range e.partitions[id] {
		e.process(ctx, txn)
	}
}

func (e *Engine) process(ctx context.Context, txn domain.Transaction) {
	start := time.Now()

	ct, err := e.classifier.Classify(txn)
	if err != nil {
		var valErr *domain.ValidationError
		if !errors.As(err, &valErr) {
			e.logger.Error("unexpected classification failure", "error", err, "transaction_id", txn.ID)
			return
		}
		e.health.RecordError()
		if e.metrics != nil {
			e.metrics.RecordsTotal.WithLabelValues("error_validation").Inc()
		}
		e.captureDeadLetter(domain.DeadLetterRecord{
			OriginalMessage: string(txn.Raw),
			ErrorType:       domain.FailureValidation,
			ErrorDetails:    valErr.Error(),
			Timestamp:       time.Now().UTC(),
		})
		return
	}

	e.health.RecordTier(ct.Tier)
	if e.metrics != nil {
		e.metrics.TierTotal.WithLabelValues(string(ct.Tier)).Inc()
	}

	e.router.RouteValidated(ctx, ct)

	en := e.enricher.Enrich(ct)
	if en.EnrichmentStatus == domain.EnrichmentFailed && e.metrics != nil {
		e.metrics.RecordsTotal.WithLabelValues("enrich_failed").Inc()
	}

	e.router.RouteEnriched(ctx, en)

	if !e.windows.Apply(en) && e.metrics != nil {
		e.metrics.RecordsTotal.WithLabelValues("late_dropped").Inc()
	}

	e.health.RecordProcessed()
	if e.metrics != nil {
		e.metrics.RecordsTotal.WithLabelValues("processed").Inc()
		e.metrics.ProcessingDuration.Observe(time.Since(start).Seconds())
	}
}

// captureDeadLetter buffers a failure record without ever blocking the
// caller. A full buffer drops the record with a metric; losing a diagnostic
// is preferable to stalling the pipeline.
func (e *Engine) captureDeadLetter(rec domain.DeadLetterRecord) {
	if e.metrics != nil {
		e.metrics.DeadLettersTotal.WithLabelValues(string(rec.ErrorType)).Inc()
	}
	select {
	case e.deadLetters <- rec:
	default:
		if e.metrics != nil {
			e.metrics.DeadLettersDropped.Inc()
		}
		e.logger.Warn("dead-letter buffer full, dropping record", "error_type", rec.ErrorType)
	}
}

func (e *Engine) drainDeadLetters(ctx context.Context) {
	defer e.dlqWg.Done()
	for rec := range e.deadLetters {
		if err := e.dlqSink.Capture(ctx, rec); err != nil {
			// Dead-letter write failures are logged, never escalated.
			e.logger.Error("failed to write dead-letter record", "error", err, "error_type", rec.ErrorType)
		}
	}
}
