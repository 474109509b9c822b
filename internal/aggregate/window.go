package aggregate

import (
	"context"
	"hash/fnv"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/user/txn-stream-engine/internal/adapter/metrics"
	"github.com/user/txn-stream-engine/internal/domain"
)

const shardCount = 32

// Late-event policies. Accept always applies an event to its windows, even if
// they lie arbitrarily far in the past; Drop discards events further than
// MaxEventLag behind the newest event time seen so far.
const (
	LatePolicyAccept = "accept"
	LatePolicyDrop   = "drop"
)

// Config holds the hopping-window parameters. Length must be a positive
// multiple of Hop.
type Config struct {
	Length      time.Duration
	Hop         time.Duration
	Retention   time.Duration
	LatePolicy  string
	MaxEventLag time.Duration
}

// EmitFunc receives an aggregate snapshot. It is invoked with the owning
// shard locked, which is what guarantees strictly ordered emissions per
// (key, window).
type EmitFunc func(domain.WindowAggregate)

type entryKey struct {
	dim   domain.Dimension
	group string
	start int64 // epoch millis
}

type shard struct {
	mu      sync.Mutex
	entries map[entryKey]*domain.WindowAggregate
}

// Windowed maintains the per-key running statistics over overlapping hopping
// windows, grouped independently by merchant, customer and location. State is
// sharded by (dimension, group) hash so updates for one grouping key are
// serialized on a single lock while disjoint keys proceed in parallel.
type Windowed struct {
	cfg     Config
	logger  *slog.Logger
	emit    EmitFunc
	metrics *metrics.EngineMetrics
	now     func() time.Time

	shards [shardCount]shard

	// maxEventMillis tracks the newest event time observed, for the drop policy.
	maxEventMillis atomic.Int64
}

// NewWindowed creates the aggregator. metrics may be nil (tests).
func NewWindowed(cfg Config, emit EmitFunc, logger *slog.Logger, m *metrics.EngineMetrics) *Windowed {
	w := &Windowed{
		cfg:     cfg,
		logger:  logger.With("component", "window_aggregator"),
		emit:    emit,
		metrics: m,
		now:     time.Now,
	}
	for i := range w.shards {
		w.shards[i].entries = make(map[entryKey]*domain.WindowAggregate)
	}
	return w
}

// Apply folds one enriched transaction into every open window containing its
// timestamp, across all three dimensions, emitting the updated aggregate for
// each. It reports false when the late-event policy discarded the event.
func (w *Windowed) Apply(en domain.EnrichedTransaction) bool {
	ts := en.Timestamp.UnixMilli()

	if w.cfg.LatePolicy == LatePolicyDrop {
		if newest := w.maxEventMillis.Load(); newest > 0 && newest-ts > w.cfg.MaxEventLag.Milliseconds() {
			if w.metrics != nil {
				w.metrics.LateEventsDropped.Inc()
			}
			w.logger.Debug("dropping late event", "transaction_id", en.ID, "lag_ms", newest-ts)
			return false
		}
	}
	for {
		cur := w.maxEventMillis.Load()
		if ts <= cur || w.maxEventMillis.CompareAndSwap(cur, ts) {
			break
		}
	}

	starts := w.windowStarts(ts)
	w.applyDimension(domain.DimensionMerchant, en.MerchantID, en, starts)
	w.applyDimension(domain.DimensionCustomer, en.CustomerID, en, starts)
	w.applyDimension(domain.DimensionLocation, en.Location, en, starts)
	return true
}

// windowStarts returns every hop-aligned start s with s <= ts < s+length.
func (w *Windowed) windowStarts(ts int64) []int64 {
	hop := w.cfg.Hop.Milliseconds()
	length := w.cfg.Length.Milliseconds()

	latest := ts - mod(ts, hop)
	n := int(length / hop)
	starts := make([]int64, 0, n)
	for s := latest - (length - hop); s <= latest; s += hop {
		starts = append(starts, s)
	}
	return starts
}

// mod is a floored modulo so pre-epoch timestamps still align to hop boundaries.
func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

func (w *Windowed) applyDimension(dim domain.Dimension, group string, en domain.EnrichedTransaction, starts []int64) {
	if group == "" {
		return
	}

	sh := &w.shards[shardFor(dim, group)]
	sh.mu.Lock()
	defer sh.mu.Unlock()

	for _, start := range starts {
		key := entryKey{dim: dim, group: group, start: start}
		agg, ok := sh.entries[key]
		if ok && corrupted(agg) {
			// Reset the single bad entry and continue; never crash the worker.
			w.logger.Error("resetting corrupted aggregate state", "dimension", dim, "group", group, "window_start", start)
			ok = false
		}
		if !ok {
			agg = &domain.WindowAggregate{
				Dimension:   dim,
				GroupKey:    group,
				WindowStart: time.UnixMilli(start).UTC(),
				Min:         math.MaxFloat64,
				Max:         -math.MaxFloat64,
			}
			sh.entries[key] = agg
			if w.metrics != nil {
				w.metrics.OpenWindows.Inc()
			}
		}

		agg.Count++
		agg.Sum += en.Amount
		if en.Amount < agg.Min {
			agg.Min = en.Amount
		}
		if en.Amount > agg.Max {
			agg.Max = en.Amount
		}
		agg.Avg = agg.Sum / float64(agg.Count)
		agg.LastUpdated = w.now().UTC()

		if w.emit != nil {
			w.emit(*agg)
		}
	}
}

func corrupted(agg *domain.WindowAggregate) bool {
	return agg.Count < 0 || math.IsNaN(agg.Sum) || math.IsInf(agg.Sum, 0)
}

func shardFor(dim domain.Dimension, group string) int {
	h := fnv.New32a()
	h.Write([]byte(dim))
	h.Write([]byte{':'})
	h.Write([]byte(group))
	return int(h.Sum32() % shardCount)
}

// Sweep removes every aggregate whose window start is older than the
// retention horizon and returns how many entries were evicted.
func (w *Windowed) Sweep(now time.Time) int {
	horizon := now.Add(-w.cfg.Retention).UnixMilli()
	evicted := 0
	for i := range w.shards {
		sh := &w.shards[i]
		sh.mu.Lock()
		for key := range sh.entries {
			if key.start < horizon {
				delete(sh.entries, key)
				evicted++
			}
		}
		sh.mu.Unlock()
	}
	if evicted > 0 {
		if w.metrics != nil {
			w.metrics.WindowsEvicted.Add(float64(evicted))
			w.metrics.OpenWindows.Sub(float64(evicted))
		}
		w.logger.Debug("evicted expired windows", "count", evicted)
	}
	return evicted
}

// StartSweeper runs the retention sweep until ctx is cancelled.
func (w *Windowed) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep(w.now())
		}
	}
}

// Flush emits the final value of every retained aggregate. Called once on
// shutdown after all workers have drained.
func (w *Windowed) Flush() {
	if w.emit == nil {
		return
	}
	for i := range w.shards {
		sh := &w.shards[i]
		sh.mu.Lock()
		for _, agg := range sh.entries {
			w.emit(*agg)
		}
		sh.mu.Unlock()
	}
}

// Len returns the number of retained (key, window) entries.
func (w *Windowed) Len() int {
	n := 0
	for i := range w.shards {
		sh := &w.shards[i]
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}

// Get returns a snapshot of the aggregate for the given key, if present.
func (w *Windowed) Get(dim domain.Dimension, group string, windowStart time.Time) (domain.WindowAggregate, bool) {
	sh := &w.shards[shardFor(dim, group)]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	agg, ok := sh.entries[entryKey{dim: dim, group: group, start: windowStart.UnixMilli()}]
	if !ok {
		return domain.WindowAggregate{}, false
	}
	return *agg, true
}
