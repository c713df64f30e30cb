package dex

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/mevsearcher/chain"
)

var (
	ErrUnrecognizedCalldata = errors.New("dex: unrecognized calldata")
	ErrUnknownVenue         = errors.New("dex: unknown venue")
	ErrNoAdapter            = errors.New("dex: no adapter for protocol")
	ErrNoLiquidity          = errors.New("dex: pair has no liquidity")
)

// Venue is one exchange deployment.
type Venue struct {
	Name         string
	Protocol     string
	Router       common.Address
	Factory      common.Address
	InitCodeHash common.Hash
	FeeBps       uint32
}

// Swap is a decoded router call.
type Swap struct {
	Method       string
	AmountIn     *big.Int
	AmountOutMin *big.Int
	Path         []common.Address
	To           common.Address
	Deadline     *big.Int
}

func (s *Swap) TokenIn() common.Address  { return s.Path[0] }
func (s *Swap) TokenOut() common.Address { return s.Path[len(s.Path)-1] }

// SwapRequest describes one of our own router swaps.
type SwapRequest struct {
	AmountIn     *big.Int
	AmountOutMin *big.Int
	Path         []common.Address
	To           common.Address
	Deadline     *big.Int
}

// Reserves are oriented along a trade: In is the reserve of the token sold
// into the pool.
type Reserves struct {
	In    *big.Int
	Out   *big.Int
	Block uint64
}

// Adapter is the per-protocol codec and pricing model.
type Adapter interface {
	Protocol() string

	// DecodeSwap returns ErrUnrecognizedCalldata for anything that is not a
	// supported exact-input swap. value is the transaction's ETH value.
	DecodeSwap(data []byte, value *big.Int) (*Swap, error)
	EncodeSwap(req SwapRequest) ([]byte, error)

	// Reserves reads the pool for tokenIn/tokenOut at block.
	Reserves(ctx context.Context, view chain.View, venue Venue, tokenIn, tokenOut common.Address, block *big.Int) (*Reserves, error)
	// AmountOut prices a single hop against r.
	AmountOut(venue Venue, amountIn *big.Int, r *Reserves) *big.Int
}
