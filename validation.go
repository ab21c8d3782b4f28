package gamefi

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Rarity bounds accepted by the asset contract
const (
	MinRarity = 1
	MaxRarity = 10
)

// ValidateRequest checks payload shape and domain constraints.
// It never performs I/O; a non-nil result means the request must be rejected.
func ValidateRequest(req AssetRequest) *GatewayError {
	details := map[string]interface{}{}

	if req.Caller != "" && !common.IsHexAddress(req.Caller) {
		details["caller"] = "must be a valid address"
	}

	switch req.Operation {
	case OperationCreate:
		if req.Create == nil {
			return NewGatewayError(ErrCodeValidation, "Invalid asset data", map[string]interface{}{
				"payload": "create payload is required",
			})
		}
		if strings.TrimSpace(req.Create.Name) == "" {
			details["name"] = "is required"
		}
		if strings.TrimSpace(req.Create.Category) == "" {
			details["category"] = "is required"
		}
		if req.Create.Rarity < MinRarity || req.Create.Rarity > MaxRarity {
			details["rarity"] = "must be between 1 and 10"
		}
		if len(details) > 0 {
			return NewGatewayError(ErrCodeValidation, "Invalid asset data", details)
		}

	case OperationTransfer:
		if req.Transfer == nil {
			return NewGatewayError(ErrCodeValidation, "Invalid transfer data", map[string]interface{}{
				"payload": "transfer payload is required",
			})
		}
		if req.Transfer.AssetID == 0 {
			details["assetId"] = "must be a positive integer"
		}
		to := req.Transfer.ToAddress
		if !common.IsHexAddress(to) {
			details["toAddress"] = "must be a valid address"
		} else if common.HexToAddress(to) == (common.Address{}) {
			details["toAddress"] = "must not be the zero address"
		}
		if len(details) > 0 {
			return NewGatewayError(ErrCodeValidation, "Invalid transfer data", details)
		}

	default:
		return NewGatewayError(ErrCodeValidation, "Unsupported operation", map[string]interface{}{
			"operation": string(req.Operation),
		})
	}

	return nil
}

// ValidateAddress checks a caller-supplied address used in read paths
func ValidateAddress(field, address string) *GatewayError {
	if !common.IsHexAddress(address) {
		return NewGatewayError(ErrCodeValidation, "Invalid address", map[string]interface{}{
			field: "must be a valid address",
		})
	}
	return nil
}
