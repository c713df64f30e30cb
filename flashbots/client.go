// Package flashbots talks to a Flashbots-compatible bundle relay.
package flashbots

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	contentTypeJSON  = "application/json"
	flashbotsXHeader = "X-Flashbots-Signature"
	methodSendBundle = "eth_sendBundle"
	methodCallBundle = "eth_callBundle"
)

var ErrNoAuthKey = errors.New("flashbots: auth key is required")

// RelayError is a JSON-RPC error returned by the relay.
type RelayError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("relay error %d: %s", e.Code, e.Message)
}

// Bundle is an ordered set of signed transactions that must land in
// BlockNumber together or not at all.
type Bundle struct {
	Txs               []hexutil.Bytes
	BlockNumber       uint64
	MinTimestamp      uint64
	MaxTimestamp      uint64
	RevertingTxHashes []common.Hash
}

// AddTransaction appends tx in its binary (EIP-2718) encoding.
func (b *Bundle) AddTransaction(tx *types.Transaction) error {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", tx.Hash().Hex(), err)
	}
	b.Txs = append(b.Txs, raw)
	return nil
}

// BundleSimulation is the relay's eth_callBundle result.
type BundleSimulation struct {
	BundleHash   common.Hash
	CoinbaseDiff *big.Int
	TotalGasUsed uint64
	Results      []TxSimulation
}

type TxSimulation struct {
	TxHash  common.Hash
	GasUsed uint64
	Error   string
	Revert  string
}

// Success reports whether no transaction in the bundle failed.
func (s *BundleSimulation) Success() bool {
	for _, r := range s.Results {
		if r.Error != "" {
			return false
		}
	}
	return true
}

type Config struct {
	RelayURL          string
	Timeout           time.Duration
	RequestsPerSecond float64
}

// Client signs every request with an auth key that identifies the searcher
// to the relay. The key holds no funds.
type Client struct {
	httpClient *http.Client
	relayURL   string
	authKey    *ecdsa.PrivateKey
	limiter    *rate.Limiter
	logger     *zap.Logger
}

func NewClient(cfg Config, authKey *ecdsa.PrivateKey, logger *zap.Logger) (*Client, error) {
	if authKey == nil {
		return nil, ErrNoAuthKey
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		relayURL:   cfg.RelayURL,
		authKey:    authKey,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger.Named("flashbots"),
	}, nil
}

// AuthAddress is the identity the relay sees.
func (c *Client) AuthAddress() common.Address {
	return crypto.PubkeyToAddress(c.authKey.PublicKey)
}

type sendBundleArgs struct {
	Txs               []hexutil.Bytes `json:"txs"`
	BlockNumber       hexutil.Uint64  `json:"blockNumber"`
	MinTimestamp      uint64          `json:"minTimestamp,omitempty"`
	MaxTimestamp      uint64          `json:"maxTimestamp,omitempty"`
	RevertingTxHashes []common.Hash   `json:"revertingTxHashes,omitempty"`
}

// SendBundle submits bundle for inclusion in bundle.BlockNumber and returns
// the relay's bundle hash.
func (c *Client) SendBundle(ctx context.Context, bundle *Bundle) (common.Hash, error) {
	args := sendBundleArgs{
		Txs:               bundle.Txs,
		BlockNumber:       hexutil.Uint64(bundle.BlockNumber),
		MinTimestamp:      bundle.MinTimestamp,
		MaxTimestamp:      bundle.MaxTimestamp,
		RevertingTxHashes: bundle.RevertingTxHashes,
	}
	var result struct {
		BundleHash common.Hash `json:"bundleHash"`
	}
	if err := c.call(ctx, methodSendBundle, args, &result); err != nil {
		return common.Hash{}, err
	}
	c.logger.Debug("Bundle sent",
		zap.Stringer("bundle_hash", result.BundleHash),
		zap.Uint64("block", bundle.BlockNumber),
		zap.Int("txs", len(bundle.Txs)),
	)
	return result.BundleHash, nil
}

type callBundleArgs struct {
	Txs              []hexutil.Bytes `json:"txs"`
	BlockNumber      hexutil.Uint64  `json:"blockNumber"`
	StateBlockNumber string          `json:"stateBlockNumber"`
	Timestamp        uint64          `json:"timestamp,omitempty"`
}

// CallBundle simulates bundle on top of stateBlock.
func (c *Client) CallBundle(ctx context.Context, bundle *Bundle, stateBlock uint64) (*BundleSimulation, error) {
	args := callBundleArgs{
		Txs:              bundle.Txs,
		BlockNumber:      hexutil.Uint64(bundle.BlockNumber),
		StateBlockNumber: hexutil.EncodeUint64(stateBlock),
		Timestamp:        bundle.MinTimestamp,
	}
	var result struct {
		BundleHash   common.Hash `json:"bundleHash"`
		CoinbaseDiff string      `json:"coinbaseDiff"`
		TotalGasUsed uint64      `json:"totalGasUsed"`
		Results      []struct {
			TxHash  common.Hash `json:"txHash"`
			GasUsed uint64      `json:"gasUsed"`
			Error   string      `json:"error"`
			Revert  string      `json:"revert"`
		} `json:"results"`
	}
	if err := c.call(ctx, methodCallBundle, args, &result); err != nil {
		return nil, err
	}

	sim := &BundleSimulation{
		BundleHash:   result.BundleHash,
		CoinbaseDiff: new(big.Int),
		TotalGasUsed: result.TotalGasUsed,
	}
	if result.CoinbaseDiff != "" {
		if _, ok := sim.CoinbaseDiff.SetString(result.CoinbaseDiff, 10); !ok {
			return nil, fmt.Errorf("invalid coinbaseDiff %q", result.CoinbaseDiff)
		}
	}
	for _, r := range result.Results {
		sim.Results = append(sim.Results, TxSimulation{
			TxHash:  r.TxHash,
			GasUsed: r.GasUsed,
			Error:   r.Error,
			Revert:  r.Revert,
		})
	}
	return sim, nil
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RelayError     `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params interface{}, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("relay rate limit: %w", err)
	}

	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  []interface{}{params},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.relayURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	header, err := c.sign(payload)
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", contentTypeJSON)
	req.Header.Add("Accept", contentTypeJSON)
	req.Header.Add(flashbotsXHeader, header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send %s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s failed with status %d: %s", method, resp.StatusCode, string(body))
	}

	var out rpcResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	if out.Error != nil {
		return out.Error
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(out.Result, result); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

// sign produces the X-Flashbots-Signature value: the auth address and an
// EIP-191 signature over the hex keccak of the body.
func (c *Client) sign(payload []byte) (string, error) {
	digest := accounts.TextHash([]byte(hexutil.Encode(crypto.Keccak256(payload))))
	signature, err := crypto.Sign(digest, c.authKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign request: %w", err)
	}
	return fmt.Sprintf("%s:%s", c.AuthAddress().Hex(), hexutil.Encode(signature)), nil
}
