package chain

import (
	"sync"

	"github.com/ethereum/go-ethereum/core/types"
)

// HeadTracker remembers the highest block header seen by the block loop.
type HeadTracker struct {
	mu     sync.RWMutex
	header *types.Header
}

func NewHeadTracker() *HeadTracker {
	return &HeadTracker{}
}

// Observe records h if it is newer than the current head. It reports whether
// the head advanced.
func (t *HeadTracker) Observe(h *types.Header) bool {
	if h == nil || h.Number == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.header != nil && h.Number.Cmp(t.header.Number) <= 0 {
		return false
	}
	t.header = types.CopyHeader(h)
	return true
}

// Number returns the current head number, zero before the first header.
func (t *HeadTracker) Number() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.header == nil {
		return 0
	}
	return t.header.Number.Uint64()
}

// Header returns a copy of the current head header or nil.
func (t *HeadTracker) Header() *types.Header {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.header == nil {
		return nil
	}
	return types.CopyHeader(t.header)
}
