package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	gamefi "github.com/FJDeFi/Embodied-AI-Agent-for-GameFi-Ecosystem"
)

// Defaults applied to a zero Config
const (
	DefaultGasLimit            = 6_000_000
	DefaultReceiptTimeout      = 60 * time.Second
	DefaultReceiptPollInterval = time.Second
)

// Backend is the subset of *ethclient.Client used by the adapter
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Config holds the connection and signing settings
type Config struct {
	RPCURL          string
	PrivateKey      string
	ContractAddress string
	// ChainID is queried from the node when zero
	ChainID             int64
	GasLimit            uint64
	ReceiptTimeout      time.Duration
	ReceiptPollInterval time.Duration
	Logger              logrus.FieldLogger
}

func (c *Config) applyDefaults() {
	if c.GasLimit == 0 {
		c.GasLimit = DefaultGasLimit
	}
	if c.ReceiptTimeout <= 0 {
		c.ReceiptTimeout = DefaultReceiptTimeout
	}
	if c.ReceiptPollInterval <= 0 {
		c.ReceiptPollInterval = DefaultReceiptPollInterval
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
}

// Client implements gamefi.LedgerClient against the GameAsset contract
type Client struct {
	backend  Backend
	cfg      Config
	abi      abi.ABI
	key      *ecdsa.PrivateKey
	from     common.Address
	contract common.Address
	chainID  *big.Int

	mu sync.Mutex
	// nonce is the next nonce to use; nil means ask the node
	nonce *uint64
	// pending holds signed transactions whose receipt has not been seen yet,
	// keyed by request fingerprint, so a retry waits instead of resending
	pending map[string]*types.Transaction
}

// Dial connects to cfg.RPCURL and creates a client
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	backend, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.RPCURL, err)
	}
	return NewClient(ctx, backend, cfg)
}

// NewClient creates a client on an existing backend
func NewClient(ctx context.Context, backend Backend, cfg Config) (*Client, error) {
	cfg.applyDefaults()

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}

	parsed, err := abi.JSON(strings.NewReader(GameAssetABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse contract ABI: %w", err)
	}

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		chainID, err = backend.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get chain id: %w", err)
		}
	}

	return &Client{
		backend:  backend,
		cfg:      cfg,
		abi:      parsed,
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		contract: common.HexToAddress(cfg.ContractAddress),
		chainID:  chainID,
		pending:  make(map[string]*types.Transaction),
	}, nil
}

// Address returns the signer address
func (c *Client) Address() string {
	return c.from.Hex()
}

// Write sends the contract call for req and waits for its receipt.
// Errors are returned as *gamefi.LedgerError.
func (c *Client) Write(ctx context.Context, req gamefi.AssetRequest) (*gamefi.Receipt, error) {
	log := c.cfg.Logger.WithFields(logrus.Fields{
		"fingerprint": req.Fingerprint,
		"operation":   req.Operation,
	})

	// A previous attempt signed a transaction but never saw it mined. The node
	// may hold it even if the send reported an error, so it is never re-signed.
	c.mu.Lock()
	tx, resumed := c.pending[req.Fingerprint]
	c.mu.Unlock()
	if resumed {
		log.WithField("tx_hash", tx.Hash().Hex()).Info("resuming pending transaction")
		if receipt, err := c.backend.TransactionReceipt(ctx, tx.Hash()); err == nil && receipt != nil {
			c.forget(req.Fingerprint)
			return c.toReceipt(req, receipt)
		}
		if err := c.broadcast(ctx, req.Fingerprint, tx, true); err != nil {
			return nil, err
		}
		return c.awaitReceipt(ctx, req, tx.Hash())
	}

	data, err := c.pack(req)
	if err != nil {
		return nil, gamefi.NewPermanentError("encode", err)
	}

	// Simulate first so reverts are reported without spending gas
	if _, err := c.backend.CallContract(ctx, ethereum.CallMsg{
		From: c.from,
		To:   &c.contract,
		Gas:  c.cfg.GasLimit,
		Data: data,
	}, nil); err != nil {
		return nil, Classify(err)
	}

	tx, err = c.signedTx(ctx, data)
	if err != nil {
		return nil, Classify(err)
	}

	c.mu.Lock()
	c.pending[req.Fingerprint] = tx
	c.mu.Unlock()

	if err := c.broadcast(ctx, req.Fingerprint, tx, false); err != nil {
		return nil, err
	}
	log.WithField("tx_hash", tx.Hash().Hex()).Debug("transaction sent")

	return c.awaitReceipt(ctx, req, tx.Hash())
}

// broadcast sends a signed transaction. A node that already holds it counts
// as success. When the node refused it outright the transaction and its
// nonce are released; any other failure keeps both so the next attempt
// rebroadcasts the same transaction.
func (c *Client) broadcast(ctx context.Context, fingerprint string, tx *types.Transaction, resend bool) error {
	err := c.backend.SendTransaction(ctx, tx)
	if err == nil || alreadyKnown(err, resend) {
		return nil
	}

	le := Classify(err)
	interrupted := errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
	if !interrupted && (le.Class == gamefi.Permanent || le.StateChanged) {
		c.forget(fingerprint)
		c.dropNonce()
	}
	return le
}

// alreadyKnown reports whether err means the node has seen tx before.
// On a resend "nonce too low" means the transaction was mined meanwhile.
func alreadyKnown(err error, resend bool) bool {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction") {
		return true
	}
	return resend && strings.Contains(msg, "nonce too low")
}

func (c *Client) forget(fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, fingerprint)
}

func (c *Client) pack(req gamefi.AssetRequest) ([]byte, error) {
	switch req.Operation {
	case gamefi.OperationCreate:
		if req.Create == nil {
			return nil, errors.New("missing create payload")
		}
		if req.Create.Rarity < gamefi.MinRarity || req.Create.Rarity > gamefi.MaxRarity {
			return nil, fmt.Errorf("rarity %d out of range", req.Create.Rarity)
		}
		return c.abi.Pack(MethodCreateAsset, req.Create.Name, req.Create.Category, uint8(req.Create.Rarity))
	case gamefi.OperationTransfer:
		if req.Transfer == nil {
			return nil, errors.New("missing transfer payload")
		}
		return c.abi.Pack(MethodTransferAsset, new(big.Int).SetUint64(req.Transfer.AssetID), common.HexToAddress(req.Transfer.ToAddress))
	}
	return nil, fmt.Errorf("unsupported operation %q", req.Operation)
}

// signedTx builds and signs an EIP-1559 transaction using the next nonce
func (c *Client) signedTx(ctx context.Context, data []byte) (*types.Transaction, error) {
	nonce, err := c.nextNonce(ctx)
	if err != nil {
		return nil, err
	}

	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		c.dropNonce()
		return nil, fmt.Errorf("failed to get gas tip: %w", err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		c.dropNonce()
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	feeCap := new(big.Int).Mul(gasPrice, big.NewInt(2))
	if feeCap.Cmp(tip) < 0 {
		feeCap = new(big.Int).Set(tip)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       c.cfg.GasLimit,
		To:        &c.contract,
		Value:     big.NewInt(0),
		Data:      data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		c.dropNonce()
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed, nil
}

// nextNonce hands out nonces locally once the node has been asked
func (c *Client) nextNonce(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.nonce == nil {
		n, err := c.backend.PendingNonceAt(ctx, c.from)
		if err != nil {
			return 0, fmt.Errorf("failed to get nonce: %w", err)
		}
		c.nonce = &n
	}
	n := *c.nonce
	*c.nonce = n + 1
	return n, nil
}

func (c *Client) dropNonce() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nonce = nil
}

// Resync forgets the local nonce so the next write asks the node
func (c *Client) Resync(context.Context) error {
	c.dropNonce()
	return nil
}

// awaitReceipt polls for the receipt until it appears or the timeout passes.
// On timeout the transaction stays pending so the next attempt resumes it.
func (c *Client) awaitReceipt(ctx context.Context, req gamefi.AssetRequest, hash common.Hash) (*gamefi.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.ReceiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			c.forget(req.Fingerprint)
			return c.toReceipt(req, receipt)
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) && waitCtx.Err() == nil {
			c.cfg.Logger.WithError(err).WithField("tx_hash", hash.Hex()).Debug("receipt lookup failed")
		}

		select {
		case <-waitCtx.Done():
			return nil, gamefi.NewTransientError(ReasonReceiptTimeout,
				fmt.Errorf("transaction %s not mined: %w", hash.Hex(), waitCtx.Err()))
		case <-ticker.C:
		}
	}
}

func (c *Client) toReceipt(req gamefi.AssetRequest, r *types.Receipt) (*gamefi.Receipt, error) {
	if r.Status != TxStatusSuccess {
		return nil, gamefi.NewPermanentError(ReasonReverted,
			fmt.Errorf("transaction %s reverted", r.TxHash.Hex()))
	}

	out := &gamefi.Receipt{
		TxHash:  r.TxHash.Hex(),
		GasUsed: r.GasUsed,
	}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}

	created := c.abi.Events[EventAssetCreated].ID
	transferred := c.abi.Events[EventAssetTransferred].ID
	for _, l := range r.Logs {
		if l.Address != c.contract || len(l.Topics) == 0 {
			continue
		}
		switch {
		case l.Topics[0] == created && len(l.Topics) >= 3:
			out.AssetID = new(big.Int).SetBytes(l.Topics[1].Bytes()).Uint64()
			out.Owner = common.BytesToAddress(l.Topics[2].Bytes()).Hex()
		case l.Topics[0] == transferred && len(l.Topics) >= 4:
			out.AssetID = new(big.Int).SetBytes(l.Topics[1].Bytes()).Uint64()
			out.Owner = common.BytesToAddress(l.Topics[3].Bytes()).Hex()
		}
	}

	if out.AssetID == 0 && req.Transfer != nil {
		out.AssetID = req.Transfer.AssetID
		out.Owner = common.HexToAddress(req.Transfer.ToAddress).Hex()
	}
	return out, nil
}

// ReadAsset calls assets(id). The contract returns a zero record for
// unknown ids, which is reported as gamefi.ErrAssetNotFound.
func (c *Client) ReadAsset(ctx context.Context, assetID uint64) (*gamefi.Asset, error) {
	outputs, err := c.call(ctx, MethodAssets, new(big.Int).SetUint64(assetID))
	if err != nil {
		return nil, err
	}
	if len(outputs) != 7 {
		return nil, fmt.Errorf("unexpected assets() output length %d", len(outputs))
	}

	id, _ := outputs[0].(*big.Int)
	name, _ := outputs[1].(string)
	category, _ := outputs[2].(string)
	rarity, _ := outputs[3].(uint8)
	owner, _ := outputs[4].(common.Address)
	createdAt, _ := outputs[5].(*big.Int)
	transferable, _ := outputs[6].(bool)

	if id == nil || id.Sign() == 0 || owner == (common.Address{}) {
		return nil, gamefi.ErrAssetNotFound
	}

	asset := &gamefi.Asset{
		ID:             id.Uint64(),
		Owner:          owner.Hex(),
		Name:           name,
		Category:       category,
		Rarity:         int(rarity),
		IsTransferable: transferable,
	}
	if createdAt != nil {
		asset.CreatedAt = time.Unix(createdAt.Int64(), 0).UTC()
	}
	return asset, nil
}

// AssetsByOwner calls getAssetsByOwner(owner)
func (c *Client) AssetsByOwner(ctx context.Context, owner string) ([]uint64, error) {
	if !common.IsHexAddress(owner) {
		return nil, fmt.Errorf("invalid owner address %q", owner)
	}
	outputs, err := c.call(ctx, MethodGetAssetsByOwner, common.HexToAddress(owner))
	if err != nil {
		return nil, err
	}
	if len(outputs) != 1 {
		return nil, fmt.Errorf("unexpected getAssetsByOwner() output length %d", len(outputs))
	}
	raw, ok := outputs[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected getAssetsByOwner() output type %T", outputs[0])
	}
	ids := make([]uint64, 0, len(raw))
	for _, id := range raw {
		ids = append(ids, id.Uint64())
	}
	return ids, nil
}

func (c *Client) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	result, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return nil, Classify(err)
	}
	outputs, err := c.abi.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	return outputs, nil
}

var _ gamefi.LedgerClient = (*Client)(nil)
