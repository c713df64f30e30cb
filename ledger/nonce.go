package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

var ErrNotSynced = errors.New("ledger: nonce counter not synced")

// NonceSource reports the account's next nonce including pool transactions.
type NonceSource interface {
	PendingNonce(ctx context.Context, account common.Address) (uint64, error)
}

// Nonces is the single nonce counter for the searcher account. Every nonce
// handed out stays held until it is released unused or settled by an
// outcome; the counter never rewinds beneath a held nonce.
type Nonces struct {
	mu      sync.Mutex
	source  NonceSource
	account common.Address
	next    uint64
	synced  bool
	held    map[uint64]struct{}
	// reserved counts Reserve calls so Heal can tell whether a chain read
	// raced a new reservation.
	reserved uint64
	logger   *zap.Logger
}

func NewNonces(source NonceSource, account common.Address, logger *zap.Logger) *Nonces {
	return &Nonces{
		source:  source,
		account: account,
		held:    make(map[uint64]struct{}),
		logger:  logger.Named("nonces"),
	}
}

// Sync seeds the counter from the chain. It never moves the counter
// backwards once seeded.
func (n *Nonces) Sync(ctx context.Context) error {
	pending, err := n.source.PendingNonce(ctx, n.account)
	if err != nil {
		return fmt.Errorf("failed to fetch pending nonce: %w", err)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.synced || pending > n.next {
		n.next = pending
	}
	n.synced = true
	return nil
}

// Reserve hands out count contiguous nonces.
func (n *Nonces) Reserve(count int) ([]uint64, error) {
	if count <= 0 {
		return nil, nil
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.synced {
		return nil, ErrNotSynced
	}
	out := make([]uint64, count)
	for i := range out {
		out[i] = n.next + uint64(i)
		n.held[out[i]] = struct{}{}
	}
	n.next += uint64(count)
	n.reserved++
	return out, nil
}

// Release returns nonces that never reached the chain. The counter rewinds
// only when the released run is the most recently reserved one; otherwise
// the gap is left for Reset or Heal. It reports whether the counter rewound.
func (n *Nonces) Release(nonces []uint64) bool {
	if len(nonces) == 0 {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.unhold(nonces)
	for i := 1; i < len(nonces); i++ {
		if nonces[i] != nonces[i-1]+1 {
			return false
		}
	}
	if nonces[len(nonces)-1]+1 != n.next {
		n.logger.Debug("Released nonces are not at the top, leaving gap",
			zap.Uint64("first", nonces[0]),
			zap.Uint64("next", n.next),
		)
		return false
	}
	n.next = nonces[0]
	return true
}

// Settle stops tracking nonces whose transactions reached a final outcome
// or are no longer followed by anyone. The counter does not move.
func (n *Nonces) Settle(nonces []uint64) {
	n.mu.Lock()
	n.unhold(nonces)
	n.mu.Unlock()
}

func (n *Nonces) unhold(nonces []uint64) {
	for _, nonce := range nonces {
		delete(n.held, nonce)
	}
}

// floor is one past the highest held nonce, or zero.
func (n *Nonces) floor() uint64 {
	var f uint64
	for nonce := range n.held {
		if nonce+1 > f {
			f = nonce + 1
		}
	}
	return f
}

// Resync re-reads the chain after the node rejected the transaction carrying
// failed. The counter moves to max(chain pending, failed+1) so the rejected
// nonce is not handed out again.
func (n *Nonces) Resync(ctx context.Context, failed uint64) error {
	pending, err := n.source.PendingNonce(ctx, n.account)
	if err != nil {
		return fmt.Errorf("failed to resync nonce: %w", err)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	next := failed + 1
	if pending > next {
		next = pending
	}
	if next > n.next || !n.synced {
		n.next = next
	}
	n.synced = true
	n.logger.Info("Nonce counter resynced",
		zap.Uint64("failed", failed),
		zap.Uint64("chain_pending", pending),
		zap.Uint64("next", n.next),
	)
	return nil
}

// Reset moves the counter to the chain's pending nonce, but never beneath a
// nonce still held by a live submission. It is used after a submission was
// dropped, which can leave a gap no later transaction fills.
func (n *Nonces) Reset(ctx context.Context) error {
	pending, err := n.source.PendingNonce(ctx, n.account)
	if err != nil {
		return fmt.Errorf("failed to reset nonce: %w", err)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	next := pending
	if f := n.floor(); f > next {
		next = f
	}
	if next != n.next {
		n.logger.Info("Nonce counter reset",
			zap.Uint64("chain_pending", pending),
			zap.Uint64("held", uint64(len(n.held))),
			zap.Uint64("from", n.next),
			zap.Uint64("to", next),
		)
	}
	n.next = next
	n.synced = true
	return nil
}

// Heal closes a gap left by a rejected or abandoned nonce once the chain
// shows it: nothing is held and the chain's pending nonce is below the
// counter. It reports whether the counter moved.
func (n *Nonces) Heal(ctx context.Context) (bool, error) {
	n.mu.Lock()
	if !n.synced || len(n.held) > 0 {
		n.mu.Unlock()
		return false, nil
	}
	epoch := n.reserved
	n.mu.Unlock()

	pending, err := n.source.PendingNonce(ctx, n.account)
	if err != nil {
		return false, fmt.Errorf("failed to read pending nonce: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if epoch != n.reserved || len(n.held) > 0 || pending >= n.next {
		return false, nil
	}
	n.logger.Info("Nonce gap healed",
		zap.Uint64("from", n.next),
		zap.Uint64("to", pending),
	)
	n.next = pending
	return true, nil
}

// Held counts nonces reserved and not yet released or settled.
func (n *Nonces) Held() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.held)
}

// Peek returns the next nonce Reserve would hand out.
func (n *Nonces) Peek() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.next
}

func (n *Nonces) Account() common.Address {
	return n.account
}
