package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/user/txn-stream-engine/internal/domain"
)

func validTxn(amount float64) domain.Transaction {
	return domain.Transaction{
		ID:         "T001",
		CustomerID: "C1",
		MerchantID: "M1",
		Amount:     amount,
		Timestamp:  time.Now().UTC(),
	}
}

func TestClassifier_Thresholds(t *testing.T) {
	c := NewClassifier(1000, 5000)

	cases := []struct {
		amount float64
		want   domain.RiskTier
	}{
		{999.99, domain.TierNormal},
		{1000, domain.TierHighValue},
		{4999.99, domain.TierHighValue},
		{5000, domain.TierSuspicious},
		{0.01, domain.TierNormal},
		{1000000, domain.TierSuspicious},
	}

	for _, tc := range cases {
		ct, err := c.Classify(validTxn(tc.amount))
		if err != nil {
			t.Fatalf("amount %v: expected no error, got %v", tc.amount, err)
		}
		if ct.Tier != tc.want {
			t.Errorf("amount %v: expected tier %s, got %s", tc.amount, tc.want, ct.Tier)
		}
		if ct.ClassifiedAt.IsZero() {
			t.Errorf("amount %v: expected classification timestamp to be set", tc.amount)
		}
	}
}

func TestClassifier_Validation(t *testing.T) {
	c := NewClassifier(1000, 5000)

	t.Run("Missing Transaction ID", func(t *testing.T) {
		txn := validTxn(100)
		txn.ID = "  "
		assertValidationError(t, c, txn)
	})

	t.Run("Missing Customer ID", func(t *testing.T) {
		txn := validTxn(100)
		txn.CustomerID = ""
		assertValidationError(t, c, txn)
	})

	t.Run("Zero Amount", func(t *testing.T) {
		assertValidationError(t, c, validTxn(0))
	})

	t.Run("Negative Amount", func(t *testing.T) {
		assertValidationError(t, c, validTxn(-10))
	})
}

func assertValidationError(t *testing.T, c *Classifier, txn domain.Transaction) {
	t.Helper()
	_, err := c.Classify(txn)
	if err == nil {
		t.Fatal("expected an error, got nil")
	}
	var valErr *domain.ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("expected *domain.ValidationError, got %T", err)
	}
}
