package executor

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/michaelpento.lv/mevsearcher/chain"
	"github.com/michaelpento.lv/mevsearcher/ranker"
	"go.uber.org/zap"
)

// AwaitOutcome polls receipts until every transaction in h is mined or the
// wait timeout passes. A relay bundle whose target block passed without it
// is Dropped at once. Cancelling ctx ends the wait as TimedOut; broadcast
// transactions are not retracted. Every outcome releases the in-flight
// entry, and calling it again on a finished handle returns the same outcome.
func (e *Executor) AwaitOutcome(ctx context.Context, h *Handle) Outcome {
	if o, done := h.Outcome(); done {
		return o
	}
	wctx, cancel := context.WithTimeout(ctx, e.cfg.WaitTimeout-e.now().Sub(h.SubmittedAt))
	defer cancel()
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		// Head first: a bundle included at its target has receipts by the
		// time the head moves past it.
		missed := e.missedTarget(wctx, h)
		if outcome, gasUsed, done := e.check(wctx, h); done {
			return e.finish(ctx, h, outcome, gasUsed)
		}
		if missed {
			e.logger.Debug("Bundle missed its target block",
				zap.Stringer("handle", h.ID),
				zap.Uint64("target_block", h.TargetBlock),
			)
			return e.finish(ctx, h, Dropped, 0)
		}
		select {
		case <-wctx.Done():
			if ctx.Err() != nil {
				return e.finish(ctx, h, TimedOut, 0)
			}
			return e.finish(ctx, h, e.expire(ctx, h), 0)
		case <-ticker.C:
		}
	}
}

// check reports a terminal outcome once any transaction reverted or all of
// them succeeded.
func (e *Executor) check(ctx context.Context, h *Handle) (Outcome, uint64, bool) {
	var gasUsed uint64
	for _, hash := range h.TxHashes {
		receipt, err := e.source.TransactionReceipt(ctx, hash)
		if err != nil {
			if !errors.Is(err, chain.ErrNotFound) && ctx.Err() == nil {
				e.logger.Debug("Receipt lookup failed", zap.Stringer("tx_hash", hash), zap.Error(err))
			}
			return 0, 0, false
		}
		gasUsed += receipt.GasUsed
		if receipt.Status == types.ReceiptStatusFailed {
			return Reverted, gasUsed, true
		}
	}
	return Confirmed, gasUsed, true
}

func (e *Executor) missedTarget(ctx context.Context, h *Handle) bool {
	if h.TargetBlock == 0 {
		return false
	}
	head, err := e.source.HeadNumber(ctx)
	return err == nil && head > h.TargetBlock
}

// expire classifies a submission whose wait ran out: Dropped when the node
// has forgotten any of its transactions, TimedOut otherwise.
func (e *Executor) expire(ctx context.Context, h *Handle) Outcome {
	for _, hash := range h.TxHashes {
		_, _, err := e.source.GetTransaction(ctx, hash)
		if errors.Is(err, chain.ErrNotFound) {
			return Dropped
		}
	}
	return TimedOut
}

func (e *Executor) finish(ctx context.Context, h *Handle, outcome Outcome, gasUsed uint64) Outcome {
	opp := h.Opportunity
	if prev, ok := h.settle(outcome); !ok {
		return prev
	}
	e.ledger.InFlight.Release(h.ticket)

	if outcome == Dropped {
		// Nothing of h reached the chain; only live reservations keep the
		// counter above the chain's pending nonce.
		e.ledger.Nonces.Release(h.Nonces)
		if err := e.ledger.Nonces.Reset(ctx); err != nil {
			e.logger.Warn("Failed to reset nonce after drop", zap.Error(err))
		}
	} else {
		e.ledger.Nonces.Settle(h.Nonces)
	}
	if e.metrics != nil {
		e.metrics.Outcomes.WithLabelValues(opp.Kind().Name(), outcome.String()).Inc()
		e.metrics.InFlight.Dec()
		if gasUsed > 0 {
			e.metrics.GasUsed.Observe(float64(gasUsed))
		}
	}

	fields := append(ranker.KindFields(opp.Kind()),
		zap.Stringer("handle", h.ID),
		zap.Stringer("outcome", outcome),
		zap.Uint64("gas_used", gasUsed),
		zap.Duration("elapsed", e.now().Sub(h.SubmittedAt)),
	)
	switch outcome {
	case Confirmed:
		e.logger.Info("Submission confirmed", fields...)
	default:
		e.logger.Warn("Submission did not confirm", append(fields, zap.String("reason", outcome.String()))...)
	}
	return outcome
}
