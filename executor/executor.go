// Package executor turns admitted opportunities into signed transactions,
// submits them and tracks each submission to a terminal outcome.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/michaelpento.lv/mevsearcher/chain"
	"github.com/michaelpento.lv/mevsearcher/flashbots"
	"github.com/michaelpento.lv/mevsearcher/ledger"
	"github.com/michaelpento.lv/mevsearcher/opportunity"
	"github.com/michaelpento.lv/mevsearcher/ranker"
	"github.com/michaelpento.lv/mevsearcher/signer"
	"github.com/michaelpento.lv/mevsearcher/utils/metrics"
	"go.uber.org/zap"
)

var (
	// ErrOpportunityVoid means the opportunity no longer exists, e.g. a
	// sandwich target left the mempool.
	ErrOpportunityVoid = errors.New("executor: opportunity void")
	// ErrSubmission means the node or relay rejected the submission.
	ErrSubmission = errors.New("executor: submission failed")
	// ErrSimulation means the relay simulated the bundle and a leg failed.
	ErrSimulation = errors.New("executor: bundle simulation failed")
)

// Relay accepts atomic bundles.
type Relay interface {
	SendBundle(ctx context.Context, bundle *flashbots.Bundle) (common.Hash, error)
	CallBundle(ctx context.Context, bundle *flashbots.Bundle, stateBlock uint64) (*flashbots.BundleSimulation, error)
}

// FeeSource prices EIP-1559 transactions.
type FeeSource interface {
	FeeCaps() (tipCap *big.Int, feeCap *big.Int, err error)
}

type Config struct {
	ChainID *big.Int
	// WaitTimeout bounds AwaitOutcome.
	WaitTimeout  time.Duration
	PollInterval time.Duration
	// LegAcceptTimeout bounds how long a sequential leg may take to show up
	// in the pending pool before the next leg is abandoned.
	LegAcceptTimeout time.Duration
	// SimulateBundles runs every relay bundle through eth_callBundle on the
	// current head before sending it.
	SimulateBundles bool
}

type Executor struct {
	source  chain.Source
	signer  signer.Signer
	ledger  *ledger.Ledger
	fees    FeeSource
	relay   Relay
	cfg     Config
	metrics *metrics.ExecutorMetrics
	logger  *zap.Logger
	now     func() time.Time
}

// New builds an executor. relay and m may be nil; without a relay
// multi-transaction bundles are submitted leg by leg.
func New(source chain.Source, s signer.Signer, l *ledger.Ledger, fees FeeSource, relay Relay, cfg Config, m *metrics.ExecutorMetrics, logger *zap.Logger) (*Executor, error) {
	if cfg.ChainID == nil {
		return nil, errors.New("executor: chain id is required")
	}
	if s.Address() != l.Nonces.Account() {
		return nil, fmt.Errorf("executor: signer %s does not own nonce account %s", s.Address().Hex(), l.Nonces.Account().Hex())
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 36 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.LegAcceptTimeout <= 0 {
		cfg.LegAcceptTimeout = 2 * time.Second
	}
	return &Executor{
		source:  source,
		signer:  s,
		ledger:  l,
		fees:    fees,
		relay:   relay,
		cfg:     cfg,
		metrics: m,
		logger:  logger.Named("executor"),
		now:     time.Now,
	}, nil
}

// plan is what submission needs to know about an opportunity's kind.
type plan struct {
	target *common.Hash
}

func (p *plan) VisitArbitrage(opportunity.Arbitrage)     {}
func (p *plan) VisitLiquidation(opportunity.Liquidation) {}
func (p *plan) VisitSandwich(s opportunity.Sandwich) {
	target := s.TargetTx
	p.target = &target
}

func planFor(opp *opportunity.Opportunity) plan {
	var p plan
	opp.Kind().Accept(&p)
	return p
}

// Submit signs and broadcasts opp's bundle. ticket is the caller's claim on
// opp's in-flight entry; on any error Submit releases it along with every
// nonce it reserved. On success the claim is held for the whole outcome
// wait.
func (e *Executor) Submit(ctx context.Context, opp *opportunity.Opportunity, ticket ledger.Ticket) (*Handle, error) {
	kind := opp.Kind().Name()
	log := e.logger.With(ranker.KindFields(opp.Kind())...)

	if err := ctx.Err(); err != nil {
		e.ledger.InFlight.Release(ticket)
		return nil, err
	}
	start := e.now()
	h := &Handle{ID: uuid.New(), Opportunity: opp, ticket: ticket, state: StateBuilt}

	var victim *types.Transaction
	if p := planFor(opp); p.target != nil {
		tx, pending, err := e.source.GetTransaction(ctx, *p.target)
		if err != nil && !errors.Is(err, chain.ErrNotFound) {
			e.fail(kind, ticket, "target_lookup")
			return nil, fmt.Errorf("failed to look up target %s: %w", p.target.Hex(), err)
		}
		if err != nil || !pending {
			e.fail(kind, ticket, "void")
			log.Info("Opportunity void", zap.String("reason", "target no longer pending"))
			return nil, fmt.Errorf("%w: target %s no longer pending", ErrOpportunityVoid, p.target.Hex())
		}
		victim = tx
	}

	legs := opp.Bundle()
	nonces, err := e.ledger.Nonces.Reserve(len(legs))
	if err != nil {
		e.fail(kind, ticket, "nonce")
		return nil, fmt.Errorf("failed to reserve nonces: %w", err)
	}
	txs, err := e.build(legs, nonces)
	if err != nil {
		e.ledger.Nonces.Release(nonces)
		e.fail(kind, ticket, "build")
		return nil, err
	}
	h.Nonces = nonces
	for _, tx := range txs {
		h.TxHashes = append(h.TxHashes, tx.Hash())
	}

	if e.relay != nil && (len(txs) > 1 || victim != nil) {
		err = e.submitBundle(ctx, h, txs, victim)
	} else {
		err = e.submitSequential(ctx, h, txs)
	}
	if err != nil {
		reason := "rejected"
		if errors.Is(err, ErrSimulation) {
			reason = "simulation"
		}
		e.fail(kind, ticket, reason)
		log.Warn("Submission failed", zap.String("reason", reason), zap.Error(err))
		return nil, err
	}

	h.SubmittedAt = e.now()
	h.setState(StateSubmitted)
	// The claim must outlive the outcome wait or a duplicate could be
	// admitted while this one is still pending.
	e.ledger.InFlight.Hold(ticket, 2*e.cfg.WaitTimeout)
	age := h.SubmittedAt.Sub(opp.DetectedAt())
	if e.metrics != nil {
		e.metrics.Submissions.WithLabelValues(kind, "submitted").Inc()
		e.metrics.InFlight.Inc()
		e.metrics.SubmitLatency.Observe(h.SubmittedAt.Sub(start).Seconds())
		e.metrics.OpportunityAge.WithLabelValues(kind).Observe(age.Seconds())
	}
	log.Info("Opportunity submitted",
		zap.Stringer("handle", h.ID),
		zap.Uint64s("nonces", nonces),
		zap.Stringer("tx_hash", h.TxHashes[0]),
		zap.Uint64("target_block", h.TargetBlock),
		zap.Duration("age", age),
	)
	return h, nil
}

func (e *Executor) fail(kind string, ticket ledger.Ticket, result string) {
	e.ledger.InFlight.Release(ticket)
	if e.metrics != nil {
		e.metrics.Submissions.WithLabelValues(kind, result).Inc()
	}
}

// build signs one EIP-1559 transaction per leg.
func (e *Executor) build(legs []opportunity.TxRequest, nonces []uint64) ([]*types.Transaction, error) {
	tip, feeCap, err := e.fees.FeeCaps()
	if err != nil {
		return nil, fmt.Errorf("failed to price transactions: %w", err)
	}
	txs := make([]*types.Transaction, len(legs))
	for i, leg := range legs {
		to := leg.To
		value := leg.Value
		if value == nil {
			value = new(big.Int)
		}
		tx := types.NewTx(&types.DynamicFeeTx{
			ChainID:   e.cfg.ChainID,
			Nonce:     nonces[i],
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       leg.Gas,
			To:        &to,
			Value:     value,
			Data:      leg.Data,
		})
		signed, err := e.signer.SignTx(tx, e.cfg.ChainID)
		if err != nil {
			return nil, fmt.Errorf("failed to sign leg %d: %w", i, err)
		}
		txs[i] = signed
	}
	return txs, nil
}

// submitBundle sends txs atomically for the next block. A sandwich target
// goes between the first leg and the rest.
func (e *Executor) submitBundle(ctx context.Context, h *Handle, txs []*types.Transaction, victim *types.Transaction) error {
	head, err := e.source.HeadNumber(ctx)
	if err != nil {
		e.ledger.Nonces.Release(h.Nonces)
		return fmt.Errorf("%w: failed to read head: %w", ErrSubmission, err)
	}
	bundle := &flashbots.Bundle{BlockNumber: head + 1}
	for i, tx := range txs {
		if err := bundle.AddTransaction(tx); err != nil {
			e.ledger.Nonces.Release(h.Nonces)
			return err
		}
		if i == 0 && victim != nil {
			if err := bundle.AddTransaction(victim); err != nil {
				e.ledger.Nonces.Release(h.Nonces)
				return err
			}
		}
	}
	if e.cfg.SimulateBundles {
		if err := e.simulate(ctx, bundle, head); err != nil {
			e.ledger.Nonces.Release(h.Nonces)
			return err
		}
	}
	hash, err := e.relay.SendBundle(ctx, bundle)
	if err != nil {
		e.ledger.Nonces.Release(h.Nonces)
		return fmt.Errorf("%w: relay: %w", ErrSubmission, err)
	}
	h.BundleHash = hash
	h.TargetBlock = bundle.BlockNumber
	return nil
}

// simulate runs bundle on top of head and fails when any leg errors.
func (e *Executor) simulate(ctx context.Context, bundle *flashbots.Bundle, head uint64) error {
	sim, err := e.relay.CallBundle(ctx, bundle, head)
	if err != nil {
		return fmt.Errorf("%w: relay: %w", ErrSubmission, err)
	}
	if !sim.Success() {
		for _, r := range sim.Results {
			if r.Error != "" {
				return fmt.Errorf("%w: %s: %s %s", ErrSimulation, r.TxHash.Hex(), r.Error, r.Revert)
			}
		}
	}
	e.logger.Debug("Bundle simulated",
		zap.Uint64("state_block", head),
		zap.Uint64("gas_used", sim.TotalGasUsed),
		zap.Stringer("coinbase_diff", sim.CoinbaseDiff),
	)
	return nil
}

// submitSequential broadcasts legs one at a time, each only after the
// previous one is seen by the node. Nonces of legs never sent are released;
// those already broadcast are no longer followed.
func (e *Executor) submitSequential(ctx context.Context, h *Handle, txs []*types.Transaction) error {
	for i, tx := range txs {
		if i > 0 {
			if err := e.awaitAccepted(ctx, txs[i-1].Hash()); err != nil {
				e.ledger.Nonces.Release(h.Nonces[i:])
				e.ledger.Nonces.Settle(h.Nonces[:i])
				// The previous leg may never land; let the chain decide.
				if rerr := e.ledger.Nonces.Reset(ctx); rerr != nil {
					e.logger.Warn("Failed to reset nonce", zap.Error(rerr))
				}
				return fmt.Errorf("%w: leg %d not accepted: %w", ErrSubmission, i-1, err)
			}
		}
		if _, err := e.source.SubmitTransaction(ctx, tx); err != nil {
			e.ledger.Nonces.Release(h.Nonces[i+1:])
			e.ledger.Nonces.Settle(h.Nonces[:i+1])
			if rerr := e.ledger.Nonces.Resync(ctx, h.Nonces[i]); rerr != nil {
				e.logger.Warn("Failed to resync nonce", zap.Error(rerr))
			}
			if e.metrics != nil {
				e.metrics.NonceResyncs.Inc()
			}
			return fmt.Errorf("%w: leg %d: %w", ErrSubmission, i, err)
		}
	}
	return nil
}

// awaitAccepted polls until the node knows hash.
func (e *Executor) awaitAccepted(ctx context.Context, hash common.Hash) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.LegAcceptTimeout)
	defer cancel()
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if _, _, err := e.source.GetTransaction(ctx, hash); err == nil {
			return nil
		} else if !errors.Is(err, chain.ErrNotFound) {
			e.logger.Debug("Leg lookup failed", zap.Stringer("tx_hash", hash), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
