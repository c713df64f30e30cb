package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// View is the read-only capability detectors and the estimator get.
type View interface {
	// ReadState executes a call against to at block. A nil block reads the
	// latest state.
	ReadState(ctx context.Context, to common.Address, data []byte, block *big.Int) ([]byte, error)
	HeadNumber(ctx context.Context) (uint64, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
}

// Source is everything the searcher needs from a node.
type Source interface {
	View

	SubscribePendingTransactions(ctx context.Context, ch chan<- common.Hash) (ethereum.Subscription, error)
	SubscribeNewHeads(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)

	// GetTransaction returns ErrNotFound when the node does not know hash.
	GetTransaction(ctx context.Context, hash common.Hash) (tx *types.Transaction, pending bool, err error)
	// TransactionReceipt returns ErrNotFound until the transaction is mined.
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	SubmitTransaction(ctx context.Context, tx *types.Transaction) (common.Hash, error)

	PendingNonce(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	ChainID(ctx context.Context) (*big.Int, error)
}
