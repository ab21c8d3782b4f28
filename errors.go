package gamefi

import (
	"context"
	"errors"
	"fmt"
)

// GatewayError is the stable, caller-visible error of a write or read
type GatewayError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Stable error codes
const (
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeConflict       = "CONFLICT"
	ErrCodeBlockchain     = "BLOCKCHAIN_ERROR"
	ErrCodeLedgerRejected = "LEDGER_REJECTED"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeInternal       = "INTERNAL_ERROR"
)

// NewGatewayError creates a new gateway error
func NewGatewayError(code, message string, details map[string]interface{}) *GatewayError {
	return &GatewayError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// ErrAssetNotFound is returned by ledger reads for unknown asset ids
var ErrAssetNotFound = errors.New("asset not found")

// ErrorClass splits ledger failures into retryable and final ones
type ErrorClass int

const (
	// Transient failures are retried: timeouts, connection errors, rate limiting
	Transient ErrorClass = iota
	// Permanent failures are surfaced immediately: reverts, authorization
	Permanent
)

func (c ErrorClass) String() string {
	if c == Permanent {
		return "permanent"
	}
	return "transient"
}

// LedgerError is a classified failure reported by a LedgerClient
type LedgerError struct {
	Class  ErrorClass
	Reason string
	// StateChanged hints that ledger state may have moved underneath the
	// write (nonce conflicts), so it should be re-read before resubmitting.
	StateChanged bool
	Err          error
}

func (e *LedgerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s ledger error (%s): %v", e.Class, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s ledger error (%s)", e.Class, e.Reason)
}

func (e *LedgerError) Unwrap() error { return e.Err }

// NewTransientError wraps err as a retryable ledger failure
func NewTransientError(reason string, err error) *LedgerError {
	return &LedgerError{Class: Transient, Reason: reason, Err: err}
}

// NewPermanentError wraps err as a non-retryable ledger failure
func NewPermanentError(reason string, err error) *LedgerError {
	return &LedgerError{Class: Permanent, Reason: reason, Err: err}
}

// ClassifyLedgerError returns err as a LedgerError.
// Unclassified errors are treated as transient, except context cancellation
// of the write itself which is permanent for that attempt chain.
func ClassifyLedgerError(err error) *LedgerError {
	if err == nil {
		return nil
	}
	var le *LedgerError
	if errors.As(err, &le) {
		return le
	}
	if errors.Is(err, context.Canceled) {
		return NewPermanentError("cancelled", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTransientError("timeout", err)
	}
	return NewTransientError("unclassified", err)
}

// IsTransient reports whether err is a retryable ledger failure
func IsTransient(err error) bool {
	le := ClassifyLedgerError(err)
	return le != nil && le.Class == Transient
}

// ledgerFailure maps a terminal ledger error to its stable caller error
func ledgerFailure(le *LedgerError, attempts int) *GatewayError {
	details := map[string]interface{}{
		"reason":   le.Reason,
		"attempts": attempts,
	}
	if le.Class == Permanent {
		msg := "Ledger rejected the write"
		if le.Err != nil {
			msg = le.Err.Error()
		}
		return NewGatewayError(ErrCodeLedgerRejected, msg, details)
	}
	return NewGatewayError(ErrCodeBlockchain, "Blockchain service temporarily unavailable", details)
}
