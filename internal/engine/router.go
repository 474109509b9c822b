package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/user/txn-stream-engine/internal/adapter/metrics"
	"github.com/user/txn-stream-engine/internal/domain"
)

// validatedDoc is the passthrough document for the validated channel.
type validatedDoc struct {
	domain.Transaction
	ValidatedAt      time.Time `json:"validated_at"`
	ValidationStatus string    `json:"validation_status"`
}

// highValueDoc is the enriched record plus the review flags attached on the
// high-value channel.
type highValueDoc struct {
	domain.EnrichedTransaction
	IsHighValue    bool   `json:"is_high_value"`
	RequiresReview bool   `json:"requires_review"`
	AlertLevel     string `json:"alert_level"`
}

// suspiciousDoc is the enriched record plus the manual-review flags attached
// on the suspicious channel.
type suspiciousDoc struct {
	domain.EnrichedTransaction
	IsSuspicious         bool   `json:"is_suspicious"`
	RequiresManualReview bool   `json:"requires_manual_review"`
	AlertLevel           string `json:"alert_level"`
}

// Router fans records out to the named output channels. Sink failures are
// retried with bounded backoff; a delivery that exhausts its retries is
// logged and dropped without failing the pipeline.
type Router struct {
	publisher    domain.SinkPublisher
	logger       *slog.Logger
	metrics      *metrics.EngineMetrics
	retryCount   int
	retryBackoff time.Duration
	now          func() time.Time
}

// NewRouter creates a Router. metrics may be nil (tests).
func NewRouter(publisher domain.SinkPublisher, retryCount int, retryBackoff time.Duration, logger *slog.Logger, m *metrics.EngineMetrics) *Router {
	return &Router{
		publisher:    publisher,
		logger:       logger.With("component", "router"),
		metrics:      m,
		retryCount:   retryCount,
		retryBackoff: retryBackoff,
		now:          time.Now,
	}
}

// RouteValidated publishes every validated record on the validated channel.
// Normal-tier records terminate here; higher tiers additionally get their own
// channel via RouteEnriched.
func (r *Router) RouteValidated(ctx context.Context, ct domain.ClassifiedTransaction) {
	doc := validatedDoc{
		Transaction:      ct.Transaction,
		ValidatedAt:      ct.ClassifiedAt,
		ValidationStatus: "PASSED",
	}
	r.publishWithRetry(ctx, domain.ChannelValidated, ct.ID, doc)
}

// RouteEnriched publishes the enriched record and, for non-normal tiers, the
// matching terminal classification channel. The tier channels are mutually
// exclusive per record.
func (r *Router) RouteEnriched(ctx context.Context, en domain.EnrichedTransaction) {
	r.publishWithRetry(ctx, domain.ChannelEnriched, en.ID, en)

	switch en.Tier {
	case domain.TierSuspicious:
		doc := suspiciousDoc{
			EnrichedTransaction:  en,
			IsSuspicious:         true,
			RequiresManualReview: true,
			AlertLevel:           "HIGH",
		}
		r.publishWithRetry(ctx, domain.ChannelSuspicious, en.ID, doc)
	case domain.TierHighValue:
		doc := highValueDoc{
			EnrichedTransaction: en,
			IsHighValue:         true,
			RequiresReview:      true,
			AlertLevel:          "MEDIUM",
		}
		r.publishWithRetry(ctx, domain.ChannelHighValue, en.ID, doc)
	}
}

// RouteAggregate publishes an aggregate snapshot on the analytics channel,
// keyed by dimension, group and window start.
func (r *Router) RouteAggregate(ctx context.Context, agg domain.WindowAggregate) {
	r.publishWithRetry(ctx, domain.ChannelAnalytics, agg.Key(), agg)
}

// RouteHealth publishes a health snapshot on the monitoring channel.
func (r *Router) RouteHealth(ctx context.Context, snap domain.HealthSnapshot) {
	r.publishWithRetry(ctx, domain.ChannelMonitoring, snap.Key(), snap)
}

func (r *Router) publishWithRetry(ctx context.Context, channel, key string, doc any) {
	var lastErr error
	for attempt := 0; attempt < r.retryCount; attempt++ {
		err := r.publisher.Publish(ctx, channel, key, doc)
		if err == nil {
			if r.metrics != nil {
				r.metrics.SinkPublishTotal.WithLabelValues(channel, "success").Inc()
			}
			return
		}
		lastErr = err
		if attempt == r.retryCount-1 {
			break
		}
		select {
		case <-time.After(r.retryBackoff):
		case <-ctx.Done():
			attempt = r.retryCount // stop retrying
		}
	}

	// Dropping a single delivery, never the pipeline.
	if r.metrics != nil {
		r.metrics.SinkPublishTotal.WithLabelValues(channel, "error").Inc()
		r.metrics.SinkDroppedTotal.WithLabelValues(channel).Inc()
	}
	r.logger.Error("dropping delivery after exhausting sink retries",
		"channel", channel, "key", key, "error", lastErr)
}
