package pipeline

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/user/txn-stream-engine/internal/domain"
)

// wireTransaction is the flat input document. The transaction id arrives as
// either "transaction_id" or the short "id" alias depending on the producer.
type wireTransaction struct {
	TransactionID string   `json:"transaction_id"`
	ID            string   `json:"id"`
	CustomerID    string   `json:"customer_id"`
	MerchantID    string   `json:"merchant_id"`
	Amount        *float64 `json:"amount"`
	Currency      string   `json:"currency"`
	Timestamp     string   `json:"timestamp"`
	Location      string   `json:"location"`
	Category      string   `json:"category"`
	DeviceID      string   `json:"device_id"`
}

// Decoder parses raw wire payloads into typed transactions. Malformed
// payloads yield a *domain.DecodeError; decode never enforces business rules,
// that is the classifier's job.
type Decoder struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewDecoder creates a Decoder.
func NewDecoder(logger *slog.Logger) *Decoder {
	return &Decoder{
		logger: logger.With("component", "decoder"),
		now:    time.Now,
	}
}

// Decode parses raw into a Transaction. A missing or unparseable timestamp
// defaults to ingestion time.
func (d *Decoder) Decode(raw []byte) (domain.Transaction, error) {
	var w wireTransaction
	if err := json.Unmarshal(raw, &w); err != nil {
		return domain.Transaction{}, &domain.DecodeError{Raw: raw, Err: err}
	}

	id := w.TransactionID
	if id == "" {
		id = w.ID
	}

	ts := d.now().UTC()
	if w.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339Nano, w.Timestamp)
		if err != nil {
			d.logger.Debug("unparseable timestamp, defaulting to ingestion time", "transaction_id", id, "timestamp", w.Timestamp)
		} else {
			ts = parsed.UTC()
		}
	}

	var amount float64
	if w.Amount != nil {
		amount = *w.Amount
	}

	return domain.Transaction{
		ID:         id,
		CustomerID: w.CustomerID,
		MerchantID: w.MerchantID,
		Amount:     amount,
		Currency:   w.Currency,
		Timestamp:  ts,
		Location:   w.Location,
		Category:   w.Category,
		DeviceID:   w.DeviceID,
		Raw:        raw,
	}, nil
}
