package evm

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"

	gamefi "github.com/FJDeFi/Embodied-AI-Agent-for-GameFi-Ecosystem"
)

// Ledger error reasons reported by this adapter
const (
	ReasonTimeout        = "timeout"
	ReasonNetwork        = "network"
	ReasonRateLimited    = "rate_limited"
	ReasonUnavailable    = "unavailable"
	ReasonNonce          = "nonce"
	ReasonReceiptTimeout = "receipt_timeout"
	ReasonReverted       = "reverted"
	ReasonNotOwner       = "not_owner"
	ReasonInvalidRarity  = "invalid_rarity"
	ReasonFunds          = "insufficient_funds"
	ReasonUnauthorized   = "unauthorized"
	ReasonUnknown        = "unknown"
)

// JSON-RPC error codes with a known meaning
const (
	rpcCodeExecutionReverted = 3
	rpcCodeLimitExceeded     = -32005
)

// messages matched case-insensitively against node errors
var (
	stateChangedMessages = []string{
		"nonce too low",
		"nonce too high",
		"replacement transaction underpriced",
		"already known",
		"known transaction",
	}
	transientMessages = []string{
		"connection refused",
		"connection reset",
		"timeout",
		"timed out",
		"too many requests",
		"rate limit",
		"service unavailable",
		"bad gateway",
		"eof",
		"header not found",
	}
)

// Classify maps an RPC or contract error onto the gateway's error classes.
// Anything unrecognised is treated as transient.
func Classify(err error) *gamefi.LedgerError {
	if err == nil {
		return nil
	}

	var le *gamefi.LedgerError
	if errors.As(err, &le) {
		return le
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return gamefi.NewTransientError(ReasonTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return gamefi.NewPermanentError("cancelled", err)
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == http.StatusTooManyRequests:
			return gamefi.NewTransientError(ReasonRateLimited, err)
		case httpErr.StatusCode == http.StatusUnauthorized || httpErr.StatusCode == http.StatusForbidden:
			return gamefi.NewPermanentError(ReasonUnauthorized, err)
		case httpErr.StatusCode >= 500:
			return gamefi.NewTransientError(ReasonUnavailable, err)
		}
	}

	msg := strings.ToLower(err.Error())

	// Contract-level rejections first: a revert message may mention anything
	switch {
	case strings.Contains(msg, "you do not own this asset"):
		return gamefi.NewPermanentError(ReasonNotOwner, err)
	case strings.Contains(msg, "invalidrarity"):
		return gamefi.NewPermanentError(ReasonInvalidRarity, err)
	case strings.Contains(msg, "execution reverted"):
		return gamefi.NewPermanentError(ReasonReverted, err)
	case strings.Contains(msg, "insufficient funds"):
		return gamefi.NewPermanentError(ReasonFunds, err)
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "forbidden"):
		return gamefi.NewPermanentError(ReasonUnauthorized, err)
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case rpcCodeExecutionReverted:
			return gamefi.NewPermanentError(ReasonReverted, err)
		case rpcCodeLimitExceeded:
			return gamefi.NewTransientError(ReasonRateLimited, err)
		}
	}

	for _, m := range stateChangedMessages {
		if strings.Contains(msg, m) {
			return &gamefi.LedgerError{Class: gamefi.Transient, Reason: ReasonNonce, StateChanged: true, Err: err}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return gamefi.NewTransientError(ReasonNetwork, err)
	}
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return gamefi.NewTransientError(ReasonNetwork, err)
		}
	}

	return gamefi.NewTransientError(ReasonUnknown, err)
}
