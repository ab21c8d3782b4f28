package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	gamefi "github.com/FJDeFi/Embodied-AI-Agent-for-GameFi-Ecosystem"
)

// DefaultSigner is the address that owns assets created through the mock
const DefaultSigner = "0x00000000000000000000000000000000000000a1"

// ============================================================================
// In-memory asset ledger
// ============================================================================

// Ledger is a scriptable in-memory gamefi.LedgerClient.
// Created assets are owned by the signer, ids start at 1, and a transfer
// by anyone but the owner fails permanently like the on-chain contract.
type Ledger struct {
	mu       sync.Mutex
	signer   string
	assets   map[uint64]*gamefi.Asset
	nextID   uint64
	block    uint64
	failures []error
	delay    time.Duration
	writes   int
	reads    int
	resyncs  int
	onWrite  func(req gamefi.AssetRequest)
}

// New creates an empty ledger signing as DefaultSigner
func New() *Ledger {
	return &Ledger{
		signer: DefaultSigner,
		assets: make(map[uint64]*gamefi.Asset),
		nextID: 1,
		block:  100,
	}
}

// FailNext queues errors returned by the next Write calls, in order
func (l *Ledger) FailNext(errs ...error) *Ledger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = append(l.failures, errs...)
	return l
}

// WithDelay makes every Write block for d (or until ctx ends)
func (l *Ledger) WithDelay(d time.Duration) *Ledger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.delay = d
	return l
}

// OnWrite registers a callback invoked at the start of each Write
func (l *Ledger) OnWrite(fn func(req gamefi.AssetRequest)) *Ledger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onWrite = fn
	return l
}

// Seed stores an asset directly, bypassing Write
func (l *Ledger) Seed(asset gamefi.Asset) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a := asset
	l.assets[a.ID] = &a
	if a.ID >= l.nextID {
		l.nextID = a.ID + 1
	}
}

// Writes returns the number of Write calls made
func (l *Ledger) Writes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writes
}

// Reads returns the number of ReadAsset calls made
func (l *Ledger) Reads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reads
}

// Resyncs returns the number of Resync calls made
func (l *Ledger) Resyncs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.resyncs
}

// Address returns the signer address
func (l *Ledger) Address() string {
	return l.signer
}

// Write applies the request
func (l *Ledger) Write(ctx context.Context, req gamefi.AssetRequest) (*gamefi.Receipt, error) {
	l.mu.Lock()
	l.writes++
	delay := l.delay
	hook := l.onWrite
	var scripted error
	if len(l.failures) > 0 {
		scripted = l.failures[0]
		l.failures = l.failures[1:]
	}
	l.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, gamefi.NewTransientError("timeout", ctx.Err())
		}
	}
	if scripted != nil {
		return nil, scripted
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.block++

	switch req.Operation {
	case gamefi.OperationCreate:
		id := l.nextID
		l.nextID++
		l.assets[id] = &gamefi.Asset{
			ID:             id,
			Owner:          l.signer,
			Name:           req.Create.Name,
			Category:       req.Create.Category,
			Rarity:         req.Create.Rarity,
			CreatedAt:      time.Unix(1700000000+int64(id), 0).UTC(),
			IsTransferable: true,
		}
		return &gamefi.Receipt{
			TxHash:      fmt.Sprintf("0x%064x", l.block),
			BlockNumber: l.block,
			AssetID:     id,
			Owner:       l.signer,
			GasUsed:     120000,
		}, nil

	case gamefi.OperationTransfer:
		asset, ok := l.assets[req.Transfer.AssetID]
		if !ok {
			return nil, gamefi.NewPermanentError("reverted", errors.New("execution reverted: Asset does not exist"))
		}
		if !strings.EqualFold(asset.Owner, l.signer) {
			return nil, gamefi.NewPermanentError("reverted", errors.New("execution reverted: You do not own this asset."))
		}
		asset.Owner = req.Transfer.ToAddress
		return &gamefi.Receipt{
			TxHash:      fmt.Sprintf("0x%064x", l.block),
			BlockNumber: l.block,
			AssetID:     asset.ID,
			Owner:       asset.Owner,
			GasUsed:     52000,
		}, nil
	}

	return nil, gamefi.NewPermanentError("unsupported", fmt.Errorf("unsupported operation %q", req.Operation))
}

// ReadAsset returns a copy of the stored asset
func (l *Ledger) ReadAsset(_ context.Context, assetID uint64) (*gamefi.Asset, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reads++
	asset, ok := l.assets[assetID]
	if !ok {
		return nil, gamefi.ErrAssetNotFound
	}
	a := *asset
	return &a, nil
}

// AssetsByOwner returns the ids owned by owner in ascending order
func (l *Ledger) AssetsByOwner(_ context.Context, owner string) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := []uint64{}
	for id := uint64(1); id < l.nextID; id++ {
		if a, ok := l.assets[id]; ok && strings.EqualFold(a.Owner, owner) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Resync counts the call
func (l *Ledger) Resync(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resyncs++
	return nil
}

var _ gamefi.LedgerClient = (*Ledger)(nil)
