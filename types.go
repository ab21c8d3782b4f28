package gamefi

import (
	"fmt"
	"time"
)

// Operation identifies the kind of ledger write a request performs
type Operation string

const (
	OperationCreate   Operation = "create"
	OperationTransfer Operation = "transfer"
)

// AssetKeyNew is the lane key shared by all creation writes.
// Creations have no asset id until the ledger assigns one, and they all spend
// nonces of the same signer, so they are serialised together.
const AssetKeyNew = "new"

// CreateAssetPayload carries the fields of a createAsset call
type CreateAssetPayload struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Rarity   int    `json:"rarity"`
}

// TransferAssetPayload carries the fields of a transferAsset call
type TransferAssetPayload struct {
	AssetID   uint64 `json:"assetId"`
	ToAddress string `json:"toAddress"`
}

// AssetRequest is a single logical write submitted to the gateway.
// Build it with NewCreateRequest or NewTransferRequest; the fingerprint is
// derived at construction and the request must not be mutated afterwards.
type AssetRequest struct {
	Operation      Operation             `json:"operation"`
	Caller         string                `json:"caller"`
	IdempotencyKey string                `json:"idempotencyKey,omitempty"`
	Create         *CreateAssetPayload   `json:"create,omitempty"`
	Transfer       *TransferAssetPayload `json:"transfer,omitempty"`
	Fingerprint    string                `json:"fingerprint"`
	PayloadHash    string                `json:"payloadHash"`
}

// AssetKey returns the serialisation lane for the request
func (r AssetRequest) AssetKey() string {
	if r.Operation == OperationTransfer && r.Transfer != nil {
		return AssetKeyFor(r.Transfer.AssetID)
	}
	return AssetKeyNew
}

// AssetKeyFor returns the lane key of an existing asset
func AssetKeyFor(assetID uint64) string {
	return fmt.Sprintf("asset:%d", assetID)
}

// Asset is the projection of an on-chain asset record
type Asset struct {
	ID             uint64    `json:"id"`
	Owner          string    `json:"owner"`
	Name           string    `json:"name"`
	Category       string    `json:"category"`
	Rarity         int       `json:"rarity"`
	CreatedAt      time.Time `json:"createdAt"`
	IsTransferable bool      `json:"isTransferable"`
}

// Receipt is the confirmation data of a finalized ledger write
type Receipt struct {
	TxHash      string `json:"transactionHash,omitempty"`
	BlockNumber uint64 `json:"blockNumber,omitempty"`
	AssetID     uint64 `json:"assetId"`
	Owner       string `json:"owner,omitempty"`
	GasUsed     uint64 `json:"gasUsed,omitempty"`
	// Reconciled is set when the write was found already applied on the
	// ledger after a state-changing failure, instead of being resubmitted.
	Reconciled bool `json:"reconciled,omitempty"`
}

// WriteStatus is the lifecycle state of a PendingWrite
type WriteStatus string

const (
	StatusQueued    WriteStatus = "queued"
	StatusSubmitted WriteStatus = "submitted"
	StatusConfirmed WriteStatus = "confirmed"
	StatusFailed    WriteStatus = "failed"
)

// Terminal reports whether no further transitions can happen
func (s WriteStatus) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// PendingWrite tracks one fingerprint through the gateway.
// It is owned by the WriteGateway; stores only ever receive copies.
type PendingWrite struct {
	Fingerprint string        `json:"fingerprint" db:"fingerprint"`
	AssetKey    string        `json:"assetKey" db:"asset_key"`
	Operation   Operation     `json:"operation" db:"operation"`
	PayloadHash string        `json:"payloadHash" db:"payload_hash"`
	Status      WriteStatus   `json:"status" db:"status"`
	Attempts    int           `json:"attempts" db:"attempts"`
	LastError   *GatewayError `json:"lastError,omitempty" db:"-"`
	Receipt     *Receipt      `json:"receipt,omitempty" db:"-"`
	CreatedAt   time.Time     `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time     `json:"updatedAt" db:"updated_at"`
}

// Clone returns a deep copy safe to hand to other goroutines
func (p *PendingWrite) Clone() *PendingWrite {
	if p == nil {
		return nil
	}
	c := *p
	if p.LastError != nil {
		e := *p.LastError
		c.LastError = &e
	}
	if p.Receipt != nil {
		r := *p.Receipt
		c.Receipt = &r
	}
	return &c
}

// Outcome converts a terminal write into the result returned to callers
func (p *PendingWrite) Outcome() *WriteOutcome {
	out := &WriteOutcome{
		Fingerprint: p.Fingerprint,
		Attempts:    p.Attempts,
	}
	switch p.Status {
	case StatusConfirmed:
		out.Kind = OutcomeAccepted
		if p.Receipt != nil {
			r := *p.Receipt
			out.Receipt = &r
		}
	default:
		out.Kind = OutcomeFailed
		if p.LastError != nil {
			e := *p.LastError
			out.Error = &e
		}
	}
	return out
}

// OutcomeKind discriminates WriteOutcome
type OutcomeKind string

const (
	OutcomeAccepted OutcomeKind = "accepted"
	OutcomeRejected OutcomeKind = "rejected"
	OutcomeFailed   OutcomeKind = "failed"
)

// WriteOutcome is the result of WriteGateway.Submit.
// Exactly one of Receipt (accepted) or Error (rejected, failed) is set.
type WriteOutcome struct {
	Kind        OutcomeKind   `json:"kind"`
	Fingerprint string        `json:"fingerprint,omitempty"`
	Receipt     *Receipt      `json:"receipt,omitempty"`
	Error       *GatewayError `json:"error,omitempty"`
	Attempts    int           `json:"attempts,omitempty"`
	// Replayed is true when the outcome came from the idempotency store
	// or from joining another caller's in-flight write.
	Replayed bool `json:"replayed,omitempty"`
}

// Accepted reports whether the write was confirmed on the ledger
func (o *WriteOutcome) Accepted() bool { return o != nil && o.Kind == OutcomeAccepted }

// Rejected reports whether the request failed validation
func (o *WriteOutcome) Rejected() bool { return o != nil && o.Kind == OutcomeRejected }

// Failed reports whether the ledger write terminally failed
func (o *WriteOutcome) Failed() bool { return o != nil && o.Kind == OutcomeFailed }

func rejected(fingerprint string, err *GatewayError) *WriteOutcome {
	return &WriteOutcome{Kind: OutcomeRejected, Fingerprint: fingerprint, Error: err}
}
