package aggregate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/user/txn-stream-engine/internal/domain"
)

type healthCollector struct {
	mu    sync.Mutex
	snaps []domain.HealthSnapshot
}

func (c *healthCollector) emit(snap domain.HealthSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps = append(c.snaps, snap)
}

func (c *healthCollector) all() []domain.HealthSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.HealthSnapshot, len(c.snaps))
	copy(out, c.snaps)
	return out
}

func TestHealth_SnapshotCounters(t *testing.T) {
	collector := &healthCollector{}
	h := NewHealth(time.Minute, 0.05, 0.20, collector.emit, testLogger())

	for i := 0; i < 10; i++ {
		h.RecordProcessed()
	}
	h.RecordTier(domain.TierHighValue)
	h.RecordTier(domain.TierHighValue)
	h.RecordTier(domain.TierSuspicious)
	h.RecordTier(domain.TierNormal) // normal tier has no dedicated counter

	h.Close()

	snaps := collector.all()
	if len(snaps) != 1 {
		t.Fatalf("expected one snapshot, got %d", len(snaps))
	}
	snap := snaps[0]
	if snap.ProcessedCount != 10 {
		t.Errorf("expected processed count 10, got %d", snap.ProcessedCount)
	}
	if snap.ErrorCount != 0 {
		t.Errorf("expected error count 0, got %d", snap.ErrorCount)
	}
	if snap.HighValueCount != 2 || snap.SuspiciousCount != 1 {
		t.Errorf("unexpected tier counts: high=%d suspicious=%d", snap.HighValueCount, snap.SuspiciousCount)
	}
	if snap.ProcessorHealth != domain.HealthHealthy {
		t.Errorf("expected HEALTHY, got %s", snap.ProcessorHealth)
	}

	// Counters reset on emission, so an immediate close emits nothing.
	h.Close()
	if got := len(collector.all()); got != 1 {
		t.Errorf("expected empty window to be suppressed, got %d snapshots", got)
	}
}

func TestHealth_StatusThresholds(t *testing.T) {
	cases := []struct {
		name      string
		processed int
		errors    int
		want      domain.HealthStatus
	}{
		{"No Traffic", 0, 0, domain.HealthHealthy},
		{"Clean Window", 100, 0, domain.HealthHealthy},
		{"At Warn Boundary", 95, 5, domain.HealthHealthy},
		{"Above Warn", 90, 10, domain.HealthDegraded},
		{"At Crit Boundary", 80, 20, domain.HealthDegraded},
		{"Above Crit", 50, 50, domain.HealthUnhealthy},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			collector := &healthCollector{}
			h := NewHealth(time.Minute, 0.05, 0.20, collector.emit, testLogger())
			for i := 0; i < tc.processed; i++ {
				h.RecordProcessed()
			}
			for i := 0; i < tc.errors; i++ {
				h.RecordError()
			}

			h.Close()
			snaps := collector.all()
			if tc.processed == 0 && tc.errors == 0 {
				if len(snaps) != 0 {
					t.Fatalf("expected no snapshot for an empty window, got %d", len(snaps))
				}
				return
			}
			if len(snaps) != 1 {
				t.Fatalf("expected one snapshot, got %d", len(snaps))
			}
			if snaps[0].ProcessorHealth != tc.want {
				t.Errorf("expected status %s, got %s", tc.want, snaps[0].ProcessorHealth)
			}
		})
	}
}

func TestHealth_StartEmitsPerWindow(t *testing.T) {
	collector := &healthCollector{}
	h := NewHealth(20*time.Millisecond, 0.05, 0.20, collector.emit, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Start(ctx)
	}()

	h.RecordProcessed()
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	if len(collector.all()) == 0 {
		t.Fatal("expected at least one windowed snapshot")
	}
	var processed int64
	for _, snap := range collector.all() {
		processed += snap.ProcessedCount
	}
	if processed != 1 {
		t.Errorf("expected counts to be emitted exactly once across windows, got %d", processed)
	}
}
