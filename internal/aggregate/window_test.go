package aggregate

import (
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/user/txn-stream-engine/internal/domain"
)

type emitCollector struct {
	mu    sync.Mutex
	snaps []domain.WindowAggregate
}

func (c *emitCollector) emit(agg domain.WindowAggregate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps = append(c.snaps, agg)
}

func (c *emitCollector) all() []domain.WindowAggregate {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.WindowAggregate, len(c.snaps))
	copy(out, c.snaps)
	return out
}

func testConfig() Config {
	return Config{
		Length:     5 * time.Minute,
		Hop:        1 * time.Minute,
		Retention:  10 * time.Minute,
		LatePolicy: LatePolicyAccept,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func enrichedEvent(customer, merchant, location string, amount float64, ts time.Time) domain.EnrichedTransaction {
	return domain.EnrichedTransaction{
		ClassifiedTransaction: domain.ClassifiedTransaction{
			Transaction: domain.Transaction{
				ID:         "T001",
				CustomerID: customer,
				MerchantID: merchant,
				Location:   location,
				Amount:     amount,
				Timestamp:  ts,
			},
			Tier: domain.TierNormal,
		},
		EnrichmentStatus: domain.EnrichmentOK,
	}
}

func TestWindowed_HoppingWindowMembership(t *testing.T) {
	collector := &emitCollector{}
	w := NewWindowed(testConfig(), collector.emit, testLogger(), nil)

	// Merchant and location left empty so only the customer dimension fires.
	ts := time.Date(2024, 3, 15, 10, 32, 30, 0, time.UTC)
	w.Apply(enrichedEvent("C1", "", "", 100, ts))

	snaps := collector.all()
	if len(snaps) != 5 {
		t.Fatalf("expected event to update ceil(length/hop)=5 windows, got %d", len(snaps))
	}

	seen := make(map[int64]bool)
	for _, agg := range snaps {
		start := agg.WindowStart
		end := start.Add(5 * time.Minute)
		if ts.Before(start) || !ts.Before(end) {
			t.Errorf("window [%v, %v) does not contain event time %v", start, end, ts)
		}
		if start.UnixMilli()%time.Minute.Milliseconds() != 0 {
			t.Errorf("window start %v is not hop-aligned", start)
		}
		if seen[start.UnixMilli()] {
			t.Errorf("window %v updated twice for a single event", start)
		}
		seen[start.UnixMilli()] = true
	}
}

func TestWindowed_AggregateCorrectness(t *testing.T) {
	collector := &emitCollector{}
	w := NewWindowed(testConfig(), collector.emit, testLogger(), nil)

	rng := rand.New(rand.NewSource(42))
	ts := time.Date(2024, 3, 15, 10, 32, 30, 0, time.UTC)

	n := 200 + rng.Intn(300)
	var sum float64
	min := 1e18
	max := -1e18
	for i := 0; i < n; i++ {
		amount := 1 + rng.Float64()*9999
		sum += amount
		if amount < min {
			min = amount
		}
		if amount > max {
			max = amount
		}
		w.Apply(enrichedEvent("C1", "M1", "NYC", amount, ts))
	}

	latestStart := ts.Truncate(time.Minute)
	for _, dim := range []domain.Dimension{domain.DimensionCustomer, domain.DimensionMerchant, domain.DimensionLocation} {
		group := map[domain.Dimension]string{
			domain.DimensionCustomer: "C1",
			domain.DimensionMerchant: "M1",
			domain.DimensionLocation: "NYC",
		}[dim]

		agg, ok := w.Get(dim, group, latestStart)
		if !ok {
			t.Fatalf("expected aggregate for %s:%s", dim, group)
		}
		if agg.Count != int64(n) {
			t.Errorf("%s: expected count %d, got %d", dim, n, agg.Count)
		}
		if agg.Sum != sum {
			t.Errorf("%s: expected sum %v, got %v", dim, sum, agg.Sum)
		}
		if agg.Min != min || agg.Max != max {
			t.Errorf("%s: expected min/max %v/%v, got %v/%v", dim, min, max, agg.Min, agg.Max)
		}
		if agg.Avg != agg.Sum/float64(agg.Count) {
			t.Errorf("%s: average drifted: %v != %v", dim, agg.Avg, agg.Sum/float64(agg.Count))
		}
	}
}

func TestWindowed_ConcurrentDisjointKeys(t *testing.T) {
	w := NewWindowed(testConfig(), nil, testLogger(), nil)
	ts := time.Date(2024, 3, 15, 10, 32, 30, 0, time.UTC)

	const keys = 16
	const eventsPerKey = 500

	var wg sync.WaitGroup
	for k := 0; k < keys; k++ {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			customer := string(rune('A' + k))
			for i := 0; i < eventsPerKey; i++ {
				w.Apply(enrichedEvent(customer, "M1", "", 10, ts))
			}
		}(k)
	}
	wg.Wait()

	latestStart := ts.Truncate(time.Minute)
	for k := 0; k < keys; k++ {
		customer := string(rune('A' + k))
		agg, ok := w.Get(domain.DimensionCustomer, customer, latestStart)
		if !ok {
			t.Fatalf("expected aggregate for customer %s", customer)
		}
		if agg.Count != eventsPerKey {
			t.Errorf("customer %s: lost updates, expected count %d, got %d", customer, eventsPerKey, agg.Count)
		}
	}

	// The shared merchant key sees every event exactly once.
	agg, ok := w.Get(domain.DimensionMerchant, "M1", latestStart)
	if !ok {
		t.Fatal("expected aggregate for merchant M1")
	}
	if agg.Count != keys*eventsPerKey {
		t.Errorf("merchant M1: expected count %d, got %d", keys*eventsPerKey, agg.Count)
	}
}

func TestWindowed_LateEventPolicy(t *testing.T) {
	ts := time.Date(2024, 3, 15, 10, 32, 30, 0, time.UTC)

	t.Run("Accept Policy Keeps Late Events", func(t *testing.T) {
		w := NewWindowed(testConfig(), nil, testLogger(), nil)
		w.Apply(enrichedEvent("C1", "", "", 10, ts))
		if !w.Apply(enrichedEvent("C1", "", "", 10, ts.Add(-30*time.Minute))) {
			t.Error("accept policy should never drop late events")
		}
	})

	t.Run("Drop Policy Discards Very Late Events", func(t *testing.T) {
		cfg := testConfig()
		cfg.LatePolicy = LatePolicyDrop
		cfg.MaxEventLag = 15 * time.Minute
		w := NewWindowed(cfg, nil, testLogger(), nil)

		w.Apply(enrichedEvent("C1", "", "", 10, ts))
		if w.Apply(enrichedEvent("C1", "", "", 10, ts.Add(-30*time.Minute))) {
			t.Error("expected event beyond max lag to be dropped")
		}
		if !w.Apply(enrichedEvent("C1", "", "", 10, ts.Add(-10*time.Minute))) {
			t.Error("expected event within max lag to be accepted")
		}
	})
}

func TestWindowed_SweepEvictsExpiredWindows(t *testing.T) {
	w := NewWindowed(testConfig(), nil, testLogger(), nil)
	ts := time.Date(2024, 3, 15, 10, 32, 30, 0, time.UTC)

	w.Apply(enrichedEvent("C1", "M1", "NYC", 10, ts))
	if w.Len() == 0 {
		t.Fatal("expected retained window state")
	}

	// Before the horizon nothing is evicted.
	if evicted := w.Sweep(ts.Add(5 * time.Minute)); evicted != 0 {
		t.Errorf("expected no evictions inside retention, got %d", evicted)
	}

	if evicted := w.Sweep(ts.Add(time.Hour)); evicted == 0 {
		t.Error("expected evictions past retention")
	}
	if w.Len() != 0 {
		t.Errorf("expected all state evicted, %d entries remain", w.Len())
	}
}

func TestWindowed_FlushEmitsFinalValues(t *testing.T) {
	collector := &emitCollector{}
	w := NewWindowed(testConfig(), collector.emit, testLogger(), nil)
	ts := time.Date(2024, 3, 15, 10, 32, 30, 0, time.UTC)

	w.Apply(enrichedEvent("C1", "", "", 25, ts))
	before := len(collector.all())

	w.Flush()
	after := collector.all()
	if len(after) != before+5 {
		t.Fatalf("expected flush to emit all 5 retained windows, got %d extra", len(after)-before)
	}
	for _, agg := range after[before:] {
		if agg.Count != 1 || agg.Sum != 25 {
			t.Errorf("unexpected flushed aggregate: %+v", agg)
		}
	}
}
