package pipeline

import (
	"strings"
	"time"

	"github.com/user/txn-stream-engine/internal/domain"
)

// Classifier enforces the required-field invariants and assigns a risk tier
// by threshold comparison. Boundary amounts belong to the higher tier.
type Classifier struct {
	highValueThreshold  float64
	suspiciousThreshold float64
	now                 func() time.Time
}

// NewClassifier creates a Classifier with the given tier thresholds.
func NewClassifier(highValueThreshold, suspiciousThreshold float64) *Classifier {
	return &Classifier{
		highValueThreshold:  highValueThreshold,
		suspiciousThreshold: suspiciousThreshold,
		now:                 time.Now,
	}
}

// Classify validates txn and assigns its tier. Violations return a
// *domain.ValidationError; a record that fails here must never reach
// aggregation.
func (c *Classifier) Classify(txn domain.Transaction) (domain.ClassifiedTransaction, error) {
	if strings.TrimSpace(txn.ID) == "" {
		return domain.ClassifiedTransaction{}, &domain.ValidationError{Reason: "missing transaction id"}
	}
	if strings.TrimSpace(txn.CustomerID) == "" {
		return domain.ClassifiedTransaction{}, &domain.ValidationError{TransactionID: txn.ID, Reason: "missing customer id"}
	}
	if txn.Amount <= 0 {
		return domain.ClassifiedTransaction{}, &domain.ValidationError{TransactionID: txn.ID, Reason: "amount must be positive"}
	}

	var tier domain.RiskTier
	switch {
	case txn.Amount >= c.suspiciousThreshold:
		tier = domain.TierSuspicious
	case txn.Amount >= c.highValueThreshold:
		tier = domain.TierHighValue
	default:
		tier = domain.TierNormal
	}

	return domain.ClassifiedTransaction{
		Transaction:  txn,
		Tier:         tier,
		ClassifiedAt: c.now().UTC(),
	}, nil
}
