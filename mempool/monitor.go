// Package mempool turns the node's pending-transaction feed into a stream
// of unseen, still-pending transactions.
package mempool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
	"github.com/michaelpento.lv/mevsearcher/chain"
	"github.com/michaelpento.lv/mevsearcher/utils/metrics"
	"go.uber.org/zap"
)

type Config struct {
	// CacheSize bounds the seen-hash cache.
	CacheSize int
	Stream    chain.StreamConfig
}

// Monitor deduplicates announced hashes and resolves them to transactions.
// Like the stream underneath it, a Monitor is not safe for concurrent use.
type Monitor struct {
	source  chain.Source
	stream  *chain.Stream[common.Hash]
	seen    *lru.Cache
	metrics *metrics.PipelineMetrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewMonitor(source chain.Source, cfg Config, cm *metrics.ChainMetrics, pm *metrics.PipelineMetrics, logger *zap.Logger) (*Monitor, error) {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 10000
	}
	cache, err := lru.New(cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	return &Monitor{
		source:  source,
		stream:  chain.NewStream[common.Hash]("pending", source.SubscribePendingTransactions, cfg.Stream, cm, logger),
		seen:    cache,
		metrics: pm,
		logger:  logger.Named("mempool"),
		now:     time.Now,
	}, nil
}

// Next blocks until a transaction we have not seen before is available.
// Hashes the node no longer knows, or that were mined before we fetched
// them, are skipped. Errors come only from the stream: ctx ending or
// resubscription giving up.
func (m *Monitor) Next(ctx context.Context) (*Transaction, error) {
	for {
		hash, err := m.stream.Next(ctx)
		if err != nil {
			return nil, err
		}
		if m.metrics != nil {
			m.metrics.Events.WithLabelValues("mempool").Inc()
		}
		if seen, _ := m.seen.ContainsOrAdd(hash, struct{}{}); seen {
			continue
		}

		tx, pending, err := m.source.GetTransaction(ctx, hash)
		switch {
		case errors.Is(err, chain.ErrNotFound):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			m.logger.Debug("Failed to get transaction", zap.Stringer("tx_hash", hash), zap.Error(err))
			continue
		case !pending:
			continue
		}
		return NewTransaction(tx, m.now()), nil
	}
}

// Seen reports whether hash has already been handed out or skipped.
func (m *Monitor) Seen(hash common.Hash) bool {
	return m.seen.Contains(hash)
}

func (m *Monitor) Close() {
	m.stream.Close()
}
