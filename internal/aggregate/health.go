package aggregate

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/user/txn-stream-engine/internal/domain"
)

// Health maintains the fixed-interval tumbling window of processing counters
// and emits one snapshot per window close on the monitoring channel. Workers
// feed it through atomic adds, so recording never contends with emission.
type Health struct {
	window   time.Duration
	warnRate float64
	critRate float64
	logger   *slog.Logger
	emit     func(domain.HealthSnapshot)
	now      func() time.Time

	processed  atomic.Int64
	errors     atomic.Int64
	highValue  atomic.Int64
	suspicious atomic.Int64

	mu          sync.Mutex
	windowStart time.Time
}

// NewHealth creates the health aggregator. warnRate and critRate are the
// windowed error-rate boundaries for DEGRADED and UNHEALTHY.
func NewHealth(window time.Duration, warnRate, critRate float64, emit func(domain.HealthSnapshot), logger *slog.Logger) *Health {
	return &Health{
		window:   window,
		warnRate: warnRate,
		critRate: critRate,
		logger:   logger.With("component", "health_aggregator"),
		emit:     emit,
		now:      time.Now,
	}
}

// RecordProcessed counts a successfully processed record.
func (h *Health) RecordProcessed() { h.processed.Add(1) }

// RecordError counts a decode or validation failure.
func (h *Health) RecordError() { h.errors.Add(1) }

// RecordTier counts a classification into the tier counters.
func (h *Health) RecordTier(tier domain.RiskTier) {
	switch tier {
	case domain.TierHighValue:
		h.highValue.Add(1)
	case domain.TierSuspicious:
		h.suspicious.Add(1)
	}
}

// Start emits one snapshot per window until ctx is cancelled, then emits a
// final partial snapshot so counts gathered mid-window are not lost.
func (h *Health) Start(ctx context.Context) {
	h.mu.Lock()
	h.windowStart = h.now().UTC().Truncate(h.window)
	h.mu.Unlock()

	ticker := time.NewTicker(h.window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.Close()
			return
		case <-ticker.C:
			h.rollWindow()
		}
	}
}

// Close emits the current partial window if it holds any counts.
func (h *Health) Close() {
	snap := h.snapshotAndReset()
	if snap.ProcessedCount > 0 || snap.ErrorCount > 0 {
		h.emit(snap)
	}
}

func (h *Health) rollWindow() {
	snap := h.snapshotAndReset()
	h.emit(snap)
	if snap.ProcessorHealth != domain.HealthHealthy {
		h.logger.Warn("processor health degraded",
			"status", snap.ProcessorHealth,
			"processed", snap.ProcessedCount,
			"errors", snap.ErrorCount)
	}
}

func (h *Health) snapshotAndReset() domain.HealthSnapshot {
	h.mu.Lock()
	start := h.windowStart
	h.windowStart = h.now().UTC().Truncate(h.window)
	h.mu.Unlock()

	snap := domain.HealthSnapshot{
		WindowStart:     start,
		ProcessedCount:  h.processed.Swap(0),
		ErrorCount:      h.errors.Swap(0),
		HighValueCount:  h.highValue.Swap(0),
		SuspiciousCount: h.suspicious.Swap(0),
		LastUpdated:     h.now().UTC(),
	}
	snap.ProcessorHealth = h.status(snap)
	return snap
}

func (h *Health) status(snap domain.HealthSnapshot) domain.HealthStatus {
	total := snap.ProcessedCount + snap.ErrorCount
	if total == 0 {
		return domain.HealthHealthy
	}
	rate := float64(snap.ErrorCount) / float64(total)
	switch {
	case rate > h.critRate:
		return domain.HealthUnhealthy
	case rate > h.warnRate:
		return domain.HealthDegraded
	default:
		return domain.HealthHealthy
	}
}
