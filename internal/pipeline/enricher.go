package pipeline

import (
	"hash/fnv"
	"log/slog"
	"strings"
	"time"

	"github.com/user/txn-stream-engine/internal/domain"
)

// Enricher attaches derived analytics fields to classified transactions. It
// is pure and deterministic: no I/O, and identical input always yields
// identical derived fields. Enrichment is best-effort analytics, never
// correctness-critical — an internal failure marks the record FAILED and
// passes it through instead of dropping it.
type Enricher struct {
	highValueThreshold  float64
	suspiciousThreshold float64
	logger              *slog.Logger
	now                 func() time.Time
}

// NewEnricher creates an Enricher. The thresholds drive the amount-category
// buckets so they stay consistent with the classifier tiers.
func NewEnricher(highValueThreshold, suspiciousThreshold float64, logger *slog.Logger) *Enricher {
	return &Enricher{
		highValueThreshold:  highValueThreshold,
		suspiciousThreshold: suspiciousThreshold,
		logger:              logger.With("component", "enricher"),
		now:                 time.Now,
	}
}

// Enrich computes the derived fields for ct. It never returns an error: a
// record that cannot be enriched flows on with EnrichmentStatus FAILED.
func (e *Enricher) Enrich(ct domain.ClassifiedTransaction) domain.EnrichedTransaction {
	out := domain.EnrichedTransaction{
		ClassifiedTransaction: ct,
		EnrichmentStatus:      domain.EnrichmentOK,
		EnrichedAt:            e.now().UTC(),
	}

	if ct.Timestamp.IsZero() {
		e.logger.Warn("cannot derive time fields, passing record through unenriched", "transaction_id", ct.ID)
		out.EnrichmentStatus = domain.EnrichmentFailed
		return out
	}

	ts := ct.Timestamp.UTC()
	out.AmountCategory = e.amountCategory(ct.Amount)
	out.HourOfDay = ts.Hour()
	out.DayOfWeek = strings.ToUpper(ts.Weekday().String())
	out.MerchantRiskScore = MerchantRiskScore(ct.MerchantID)
	out.RiskLevel = riskLevel(ct.Tier, out.MerchantRiskScore)
	return out
}

func (e *Enricher) amountCategory(amount float64) domain.AmountCategory {
	switch {
	case amount >= e.suspiciousThreshold:
		return domain.AmountSuspicious
	case amount >= e.highValueThreshold:
		return domain.AmountHigh
	case amount >= e.highValueThreshold/10:
		return domain.AmountMedium
	default:
		return domain.AmountLow
	}
}

// MerchantRiskScore derives a stable pseudo-score in [0, 1] from the merchant
// id. It is a deterministic placeholder for a real scoring service; an
// unknown merchant scores zero.
func MerchantRiskScore(merchantID string) float64 {
	if merchantID == "" {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(merchantID))
	return float64(h.Sum32()%1000) / 999.0
}

func riskLevel(tier domain.RiskTier, merchantScore float64) string {
	switch tier {
	case domain.TierSuspicious:
		return "HIGH"
	case domain.TierHighValue:
		return "MEDIUM"
	default:
		if merchantScore > 0.9 {
			return "MEDIUM"
		}
		return "LOW"
	}
}
