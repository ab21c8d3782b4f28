package gamefi

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
)

// Fingerprinter derives the deduplication identity of a request.
// It returns the fingerprint and a hash of the logical payload; the payload
// hash lets the gateway detect an idempotency key reused for a different write.
type Fingerprinter func(req AssetRequest) (fingerprint string, payloadHash string)

// canonicalPayload is the stable form hashed into PayloadHash.
// Field order is fixed by the struct so the encoding is deterministic.
type canonicalPayload struct {
	Operation Operation `json:"op"`
	Caller    string    `json:"caller"`
	Name      string    `json:"name,omitempty"`
	Category  string    `json:"category,omitempty"`
	Rarity    int       `json:"rarity,omitempty"`
	AssetID   string    `json:"assetId,omitempty"`
	ToAddress string    `json:"to,omitempty"`
}

// DefaultFingerprinter hashes operation, payload and caller with SHA256.
// When an idempotency key is supplied the fingerprint is derived from the key
// instead, so the same key always maps to the same write.
func DefaultFingerprinter(req AssetRequest) (string, string) {
	c := canonicalPayload{
		Operation: req.Operation,
		Caller:    strings.ToLower(req.Caller),
	}
	if req.Create != nil {
		c.Name = req.Create.Name
		c.Category = req.Create.Category
		c.Rarity = req.Create.Rarity
	}
	if req.Transfer != nil {
		c.AssetID = strconv.FormatUint(req.Transfer.AssetID, 10)
		c.ToAddress = strings.ToLower(req.Transfer.ToAddress)
	}

	// Marshalling a struct of strings and ints cannot fail
	payloadBytes, _ := json.Marshal(c)
	payloadHash := hashHex(payloadBytes)

	if req.IdempotencyKey != "" {
		keyed := strings.Join([]string{"key", string(req.Operation), c.Caller, req.IdempotencyKey}, "|")
		return hashHex([]byte(keyed)), payloadHash
	}
	return payloadHash, payloadHash
}

func hashHex(b []byte) string {
	hash := sha256.Sum256(b)
	return hex.EncodeToString(hash[:])
}

// NewCreateRequest builds a fingerprinted creation request
func NewCreateRequest(caller, idempotencyKey string, payload CreateAssetPayload) AssetRequest {
	req := AssetRequest{
		Operation:      OperationCreate,
		Caller:         caller,
		IdempotencyKey: idempotencyKey,
		Create:         &payload,
	}
	req.Fingerprint, req.PayloadHash = DefaultFingerprinter(req)
	return req
}

// NewTransferRequest builds a fingerprinted transfer request
func NewTransferRequest(caller, idempotencyKey string, payload TransferAssetPayload) AssetRequest {
	req := AssetRequest{
		Operation:      OperationTransfer,
		Caller:         caller,
		IdempotencyKey: idempotencyKey,
		Transfer:       &payload,
	}
	req.Fingerprint, req.PayloadHash = DefaultFingerprinter(req)
	return req
}
