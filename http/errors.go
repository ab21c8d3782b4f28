package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	gamefi "github.com/FJDeFi/Embodied-AI-Agent-for-GameFi-Ecosystem"
)

const (
	msgBlockchainUnavailable = "Blockchain service temporarily unavailable"
	msgInternal              = "An unexpected error occurred"
	msgTimeout               = "Request timed out; the write continues and can be replayed with the same Idempotency-Key"
)

// StatusFor maps a gateway error code onto an HTTP status
func StatusFor(code string) int {
	switch code {
	case gamefi.ErrCodeValidation:
		return http.StatusBadRequest
	case gamefi.ErrCodeNotFound:
		return http.StatusNotFound
	case gamefi.ErrCodeConflict:
		return http.StatusConflict
	case gamefi.ErrCodeLedgerRejected:
		return http.StatusUnprocessableEntity
	case gamefi.ErrCodeBlockchain:
		return http.StatusServiceUnavailable
	case ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// toResponse builds the public body for err. Internal details never leak.
func toResponse(err *gamefi.GatewayError) ErrorResponse {
	resp := ErrorResponse{Status: "error", Code: err.Code, Message: err.Message}
	switch err.Code {
	case gamefi.ErrCodeValidation:
		resp.Details = err.Details
	case gamefi.ErrCodeBlockchain:
		resp.Message = msgBlockchainUnavailable
	case gamefi.ErrCodeInternal:
		resp.Message = msgInternal
	}
	return resp
}

func abortWithError(c *gin.Context, err *gamefi.GatewayError) {
	if err.Code == gamefi.ErrCodeInternal {
		logger(c).WithField("code", err.Code).Error(err.Message)
	}
	c.AbortWithStatusJSON(StatusFor(err.Code), toResponse(err))
}

// abortWithCause handles errors that are not GatewayErrors
func abortWithCause(c *gin.Context, err error) {
	var gerr *gamefi.GatewayError
	var lerr *gamefi.LedgerError
	switch {
	case errors.As(err, &gerr):
		abortWithError(c, gerr)
	case errors.Is(err, gamefi.ErrAssetNotFound):
		abortWithError(c, gamefi.NewGatewayError(gamefi.ErrCodeNotFound, "Asset not found", nil))
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		abortWithError(c, gamefi.NewGatewayError(ErrCodeTimeout, msgTimeout, nil))
	case errors.As(err, &lerr):
		logger(c).WithError(err).Warn("ledger read failed")
		abortWithError(c, gamefi.NewGatewayError(gamefi.ErrCodeBlockchain, msgBlockchainUnavailable, nil))
	default:
		logger(c).WithError(err).Error("request failed")
		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
			Status:  "error",
			Code:    gamefi.ErrCodeInternal,
			Message: msgInternal,
		})
	}
}
