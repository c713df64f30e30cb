package liquidation

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Position is a borrower the searcher watches, with the reserve pair a
// liquidation would use.
type Position struct {
	Borrower   common.Address
	Collateral common.Address
	Debt       common.Address
}

// PositionSource lists borrowers to check. A production deployment backs it
// with an indexer.
type PositionSource interface {
	Positions(ctx context.Context) ([]Position, error)
}

// StaticPositions is a fixed list, typically from configuration.
type StaticPositions []Position

func (s StaticPositions) Positions(ctx context.Context) ([]Position, error) {
	return append([]Position(nil), s...), nil
}
