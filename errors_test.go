package gamefi

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassifyLedgerError(t *testing.T) {
	permanent := NewPermanentError("reverted", errors.New("execution reverted"))
	wrapped := fmt.Errorf("write failed: %w", permanent)

	if got := ClassifyLedgerError(wrapped); got != permanent {
		t.Errorf("Expected wrapped LedgerError to be returned as-is, got %v", got)
	}
	if ClassifyLedgerError(nil) != nil {
		t.Error("Expected nil for nil error")
	}
	if IsTransient(permanent) {
		t.Error("Expected permanent error not to be transient")
	}
	if !IsTransient(context.DeadlineExceeded) {
		t.Error("Expected deadline exceeded to be transient")
	}
	if IsTransient(context.Canceled) {
		t.Error("Expected cancellation to be permanent")
	}
	if !IsTransient(errors.New("something odd")) {
		t.Error("Expected unclassified errors to be transient")
	}
}

func TestLedgerFailureCodes(t *testing.T) {
	if got := ledgerFailure(NewTransientError("timeout", nil), 3); got.Code != ErrCodeBlockchain {
		t.Errorf("Expected %s, got %s", ErrCodeBlockchain, got.Code)
	}
	got := ledgerFailure(NewPermanentError("reverted", errors.New("You do not own this asset.")), 1)
	if got.Code != ErrCodeLedgerRejected {
		t.Errorf("Expected %s, got %s", ErrCodeLedgerRejected, got.Code)
	}
	if got.Details["attempts"] != 1 {
		t.Errorf("Expected attempts detail, got %v", got.Details)
	}
}
