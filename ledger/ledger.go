// Package ledger owns the searcher's shared mutable state: the in-flight
// opportunity set and the account nonce counter.
package ledger

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

type Ledger struct {
	InFlight *InFlight
	Nonces   *Nonces
}

// New builds a ledger and seeds the nonce counter from source.
func New(ctx context.Context, source NonceSource, account common.Address, ttl time.Duration, logger *zap.Logger) (*Ledger, error) {
	l := &Ledger{
		InFlight: NewInFlight(ttl),
		Nonces:   NewNonces(source, account, logger),
	}
	if err := l.Nonces.Sync(ctx); err != nil {
		return nil, err
	}
	return l, nil
}
