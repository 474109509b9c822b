package domain

import (
	"encoding/json"
	"time"
)

// RiskTier is the risk classification bucket assigned by amount thresholds.
type RiskTier string

const (
	TierNormal     RiskTier = "NORMAL"
	TierHighValue  RiskTier = "HIGH_VALUE"
	TierSuspicious RiskTier = "SUSPICIOUS"
)

// AmountCategory is the coarse amount bucket attached during enrichment.
type AmountCategory string

const (
	AmountLow        AmountCategory = "LOW"
	AmountMedium     AmountCategory = "MEDIUM"
	AmountHigh       AmountCategory = "HIGH"
	AmountSuspicious AmountCategory = "SUSPICIOUS"
)

// EnrichmentStatus marks whether derived fields were computed successfully.
type EnrichmentStatus string

const (
	EnrichmentOK     EnrichmentStatus = "ENRICHED"
	EnrichmentFailed EnrichmentStatus = "FAILED"
)

// Transaction is the canonical input record for the engine. It is treated as
// immutable once decoded; downstream stages wrap it rather than mutate it.
type Transaction struct {
	ID         string    `json:"transaction_id"`
	CustomerID string    `json:"customer_id"`
	MerchantID string    `json:"merchant_id,omitempty"`
	Amount     float64   `json:"amount"`
	Currency   string    `json:"currency,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Location   string    `json:"location,omitempty"`
	Category   string    `json:"category,omitempty"`
	DeviceID   string    `json:"device_id,omitempty"`

	// Raw is the original wire payload, kept for dead-letter diagnostics.
	Raw json.RawMessage `json:"-"`

	// StreamMessageID is the input stream entry id, used for acknowledgement.
	StreamMessageID string `json:"-"`
}

// ClassifiedTransaction is a Transaction with its risk tier attached.
type ClassifiedTransaction struct {
	Transaction
	Tier         RiskTier  `json:"risk_tier"`
	ClassifiedAt time.Time `json:"classified_at"`
}

// EnrichedTransaction carries the derived analytics fields. Enrichment is
// best-effort: on internal failure the record still flows downstream with
// EnrichmentStatus set to FAILED and the derived fields zeroed.
type EnrichedTransaction struct {
	ClassifiedTransaction
	AmountCategory    AmountCategory   `json:"amount_category,omitempty"`
	RiskLevel         string           `json:"risk_level,omitempty"`
	HourOfDay         int              `json:"hour_of_day"`
	DayOfWeek         string           `json:"day_of_week,omitempty"`
	MerchantRiskScore float64          `json:"merchant_risk_score"`
	EnrichmentStatus  EnrichmentStatus `json:"enrichment_status"`
	EnrichedAt        time.Time        `json:"enriched_at"`
}
