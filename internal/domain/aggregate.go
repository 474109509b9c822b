package domain

import (
	"fmt"
	"time"
)

// Dimension names one of the independent grouping axes of the windowed
// aggregator.
type Dimension string

const (
	DimensionMerchant Dimension = "merchant"
	DimensionCustomer Dimension = "customer"
	DimensionLocation Dimension = "location"
)

// WindowAggregate holds the running statistics for one (dimension, group,
// window start) triple. Ownership belongs to the aggregator shard holding the
// entry; snapshots emitted downstream are copies.
type WindowAggregate struct {
	Dimension   Dimension `json:"aggregation_type"`
	GroupKey    string    `json:"group_key"`
	WindowStart time.Time `json:"window_start"`
	Count       int64     `json:"count"`
	Sum         float64   `json:"total_amount"`
	Avg         float64   `json:"avg_amount"`
	Min         float64   `json:"min_amount"`
	Max         float64   `json:"max_amount"`
	LastUpdated time.Time `json:"last_updated"`
}

// Key returns the analytics channel key: "{dimension}:{group}:{windowStartEpochMillis}".
func (a WindowAggregate) Key() string {
	return fmt.Sprintf("%s:%s:%d", a.Dimension, a.GroupKey, a.WindowStart.UnixMilli())
}

// HealthStatus is the processor health derived from the windowed error rate.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "HEALTHY"
	HealthDegraded  HealthStatus = "DEGRADED"
	HealthUnhealthy HealthStatus = "UNHEALTHY"
)

// HealthSnapshot is the per-window roll-up of processing counters emitted on
// the monitoring channel when a health window closes.
type HealthSnapshot struct {
	WindowStart     time.Time    `json:"-"`
	ProcessedCount  int64        `json:"processed_count"`
	ErrorCount      int64        `json:"error_count"`
	HighValueCount  int64        `json:"high_value_count"`
	SuspiciousCount int64        `json:"suspicious_count"`
	LastUpdated     time.Time    `json:"last_updated"`
	ProcessorHealth HealthStatus `json:"processor_health"`
}

// Key returns the monitoring channel key: "health:processor:{windowStartEpochMillis}".
func (s HealthSnapshot) Key() string {
	return fmt.Sprintf("health:processor:%d", s.WindowStart.UnixMilli())
}
