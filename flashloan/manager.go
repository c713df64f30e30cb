package flashloan

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Manager quotes every provider and reports the cheapest premium. It is
// itself a PremiumSource and a Quoter.
type Manager struct {
	providers []PremiumSource
	logger    *zap.Logger

	mu       sync.Mutex
	selected string
}

var (
	_ PremiumSource = (*Manager)(nil)
	_ Quoter        = (*Manager)(nil)
)

// NewManager creates a new flash loan manager
func NewManager(logger *zap.Logger, providers ...PremiumSource) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("flashloan: no providers configured")
	}
	return &Manager{
		providers: providers,
		logger:    logger.Named("flashloan"),
	}, nil
}

// PremiumBps returns the lowest premium any provider quotes.
func (m *Manager) PremiumBps(ctx context.Context) (uint32, error) {
	q, err := m.Quote(ctx)
	if err != nil {
		return 0, err
	}
	return q.PremiumBps, nil
}

// Quote picks the provider with the lowest premium. Providers that fail are
// skipped; it errors only when all of them fail.
func (m *Manager) Quote(ctx context.Context) (Quote, error) {
	var (
		best     PremiumSource
		bestBps  uint32
		failures []error
	)
	for _, p := range m.providers {
		bps, err := p.PremiumBps(ctx)
		if err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", p, err))
			continue
		}
		if best == nil || bps < bestBps {
			best, bestBps = p, bps
		}
	}
	if best == nil {
		return Quote{}, fmt.Errorf("no flash loan provider available: %w", errors.Join(failures...))
	}
	q := Quote{Provider: best.String(), PremiumBps: bestBps}
	if l, ok := best.(Lender); ok {
		q.Lender = l.Lender()
	}

	m.mu.Lock()
	changed := m.selected != best.String()
	m.selected = best.String()
	m.mu.Unlock()
	if changed {
		m.logger.Info("Flash loan provider selected",
			zap.Stringer("provider", best),
			zap.Stringer("lender", q.Lender),
			zap.Uint32("premium_bps", bestBps),
		)
	}
	return q, nil
}

// Selected names the provider chosen by the last successful quote.
func (m *Manager) Selected() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selected
}

func (m *Manager) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.selected == "" {
		return "cheapest"
	}
	return "cheapest(" + m.selected + ")"
}
