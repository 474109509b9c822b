package domain

import (
	"fmt"
	"time"
)

// FailureCategory classifies why a record was dead-lettered.
type FailureCategory string

const (
	FailureDecode     FailureCategory = "DECODE_ERROR"
	FailureValidation FailureCategory = "VALIDATION_ERROR"
	FailureEnrichment FailureCategory = "ENRICHMENT_ERROR"
)

// DeadLetterRecord captures an unprocessable input with enough detail for
// offline replay and inspection. Records are write-once and never re-read by
// the engine itself.
type DeadLetterRecord struct {
	OriginalMessage string          `json:"original_message"`
	ErrorType       FailureCategory `json:"error_type"`
	ErrorDetails    string          `json:"error_details"`
	Timestamp       time.Time       `json:"timestamp"`

	// StreamMessageID is set when the record is read back by the archiver.
	StreamMessageID string `json:"-"`
}

// DecodeError reports a malformed wire payload. Decode failures are
// deterministic for a given payload and are never retried.
type DecodeError struct {
	Raw []byte
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode transaction: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ValidationError reports a business-rule violation on a decoded transaction.
type ValidationError struct {
	TransactionID string
	Reason        string
}

func (e *ValidationError) Error() string {
	if e.TransactionID == "" {
		return fmt.Sprintf("invalid transaction: %s", e.Reason)
	}
	return fmt.Sprintf("invalid transaction %s: %s", e.TransactionID, e.Reason)
}
