package mempool

import (
	"time"

	"github.com/ethereum/go-ethereum/core/types"
)

// Transaction is a pending transaction together with when we first saw it.
type Transaction struct {
	*types.Transaction
	FirstSeen time.Time
}

// NewTransaction wraps a pending transaction seen at t.
func NewTransaction(tx *types.Transaction, t time.Time) *Transaction {
	return &Transaction{
		Transaction: tx,
		FirstSeen:   t,
	}
}
