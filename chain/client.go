package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/michaelpento.lv/mevsearcher/utils/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ClientConfig bounds the request rate sent to the node.
type ClientConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	WaitTimeout       time.Duration
}

// Client is a Source backed by a go-ethereum RPC connection. It should be
// dialed over a websocket endpoint so subscriptions work.
type Client struct {
	rpc     *rpc.Client
	eth     *ethclient.Client
	limiter *rate.Limiter
	wait    time.Duration
	metrics *metrics.ChainMetrics
	logger  *zap.Logger
}

var _ Source = (*Client)(nil)

// Dial connects to endpoint.
func Dial(ctx context.Context, endpoint string, cfg ClientConfig, m *metrics.ChainMetrics, logger *zap.Logger) (*Client, error) {
	rc, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", endpoint, err)
	}
	return NewClient(rc, cfg, m, logger), nil
}

func NewClient(rc *rpc.Client, cfg ClientConfig, m *metrics.ChainMetrics, logger *zap.Logger) *Client {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		rpc:     rc,
		eth:     ethclient.NewClient(rc),
		limiter: rate.NewLimiter(limit, burst),
		wait:    cfg.WaitTimeout,
		metrics: m,
		logger:  logger.Named("chain"),
	}
}

func (c *Client) Close() {
	c.rpc.Close()
}

// acquire blocks on the local rate limiter. Running out of WaitTimeout is
// reported as a retryable failure.
func (c *Client) acquire(ctx context.Context, method string) error {
	if c.metrics != nil {
		c.metrics.Requests.WithLabelValues(method).Inc()
	}
	wctx := ctx
	if c.wait > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, c.wait)
		defer cancel()
	}
	if err := c.limiter.Wait(wctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.metrics != nil {
			c.metrics.RateLimited.Inc()
		}
		return fmt.Errorf("%s: %w: rate limiter: %v", method, ErrConnectivity, err)
	}
	return nil
}

func (c *Client) done(method string, err error) error {
	err = classify(method, err)
	if err != nil && c.metrics != nil {
		c.metrics.Errors.WithLabelValues(method, errorClass(err)).Inc()
	}
	return err
}

func (c *Client) ReadState(ctx context.Context, to common.Address, data []byte, block *big.Int) ([]byte, error) {
	if err := c.acquire(ctx, "eth_call"); err != nil {
		return nil, err
	}
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, block)
	return out, c.done("eth_call", err)
}

func (c *Client) HeadNumber(ctx context.Context) (uint64, error) {
	if err := c.acquire(ctx, "eth_blockNumber"); err != nil {
		return 0, err
	}
	n, err := c.eth.BlockNumber(ctx)
	return n, c.done("eth_blockNumber", err)
}

func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if err := c.acquire(ctx, "eth_estimateGas"); err != nil {
		return 0, err
	}
	gas, err := c.eth.EstimateGas(ctx, msg)
	return gas, c.done("eth_estimateGas", err)
}

func (c *Client) SubscribePendingTransactions(ctx context.Context, ch chan<- common.Hash) (ethereum.Subscription, error) {
	sub, err := c.rpc.EthSubscribe(ctx, ch, "newPendingTransactions")
	if err != nil {
		return nil, c.done("eth_subscribe", err)
	}
	return sub, nil
}

func (c *Client) SubscribeNewHeads(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	sub, err := c.eth.SubscribeNewHead(ctx, ch)
	if err != nil {
		return nil, c.done("eth_subscribe", err)
	}
	return sub, nil
}

func (c *Client) GetTransaction(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	if err := c.acquire(ctx, "eth_getTransactionByHash"); err != nil {
		return nil, false, err
	}
	tx, pending, err := c.eth.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, false, c.done("eth_getTransactionByHash", err)
	}
	return tx, pending, nil
}

func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if err := c.acquire(ctx, "eth_getTransactionReceipt"); err != nil {
		return nil, err
	}
	receipt, err := c.eth.TransactionReceipt(ctx, hash)
	return receipt, c.done("eth_getTransactionReceipt", err)
}

func (c *Client) SubmitTransaction(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	if err := c.acquire(ctx, "eth_sendRawTransaction"); err != nil {
		return common.Hash{}, err
	}
	if err := c.eth.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, c.done("eth_sendRawTransaction", err)
	}
	return tx.Hash(), nil
}

func (c *Client) PendingNonce(ctx context.Context, account common.Address) (uint64, error) {
	if err := c.acquire(ctx, "eth_getTransactionCount"); err != nil {
		return 0, err
	}
	n, err := c.eth.PendingNonceAt(ctx, account)
	return n, c.done("eth_getTransactionCount", err)
}

func (c *Client) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	if err := c.acquire(ctx, "eth_maxPriorityFeePerGas"); err != nil {
		return nil, err
	}
	tip, err := c.eth.SuggestGasTipCap(ctx)
	return tip, c.done("eth_maxPriorityFeePerGas", err)
}

func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	if err := c.acquire(ctx, "eth_getBlockByNumber"); err != nil {
		return nil, err
	}
	h, err := c.eth.HeaderByNumber(ctx, number)
	return h, c.done("eth_getBlockByNumber", err)
}

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	if err := c.acquire(ctx, "eth_chainId"); err != nil {
		return nil, err
	}
	id, err := c.eth.ChainID(ctx)
	if err != nil {
		return nil, c.done("eth_chainId", err)
	}
	if id == nil {
		return nil, errors.New("eth_chainId: empty response")
	}
	return id, nil
}
