package sandwich

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/mevsearcher/chain"
	"github.com/michaelpento.lv/mevsearcher/dex"
	"github.com/michaelpento.lv/mevsearcher/gas"
	"github.com/michaelpento.lv/mevsearcher/opportunity"
	"github.com/michaelpento.lv/mevsearcher/profit"
	"github.com/michaelpento.lv/mevsearcher/strategies"
	"go.uber.org/zap"
)

type Config struct {
	// BaseToken is the only input token we sandwich, so profit is in wei.
	BaseToken common.Address
	// Account receives the legs' output.
	Account        common.Address
	DeadlineWindow time.Duration
}

// Detector recognises victim swaps in pending transactions and wraps them
// in a buy-before / sell-after pair on the same router.
type Detector struct {
	registry  *dex.Registry
	view      chain.View
	heads     strategies.HeadSource
	estimator strategies.Estimator
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
}

var _ strategies.Detector = (*Detector)(nil)

func NewDetector(registry *dex.Registry, view chain.View, heads strategies.HeadSource, estimator strategies.Estimator, cfg Config, logger *zap.Logger) *Detector {
	if cfg.DeadlineWindow <= 0 {
		cfg.DeadlineWindow = time.Minute
	}
	return &Detector{
		registry:  registry,
		view:      view,
		heads:     heads,
		estimator: estimator,
		cfg:       cfg,
		logger:    logger.Named("sandwich"),
		now:       time.Now,
	}
}

func (d *Detector) Name() string { return opportunity.KindSandwich }

func (d *Detector) Detect(ctx context.Context, ev strategies.Event) ([]*opportunity.Opportunity, error) {
	pending, ok := ev.(strategies.PendingTx)
	if !ok || pending.Tx == nil {
		return nil, nil
	}
	tx := pending.Tx
	if tx.To() == nil {
		return nil, nil
	}
	venue, ok := d.registry.ByRouter(*tx.To())
	if !ok {
		return nil, nil
	}
	adapter, err := d.registry.Adapter(venue)
	if err != nil {
		d.logger.Debug("Router recognised but not decodable",
			zap.String("venue", venue.Name),
			zap.Stringer("tx_hash", tx.Hash()),
		)
		return nil, nil
	}

	swap, err := adapter.DecodeSwap(tx.Data(), tx.Value())
	if err != nil {
		if errors.Is(err, dex.ErrUnrecognizedCalldata) {
			d.logger.Debug("Skipping undecodable swap",
				zap.String("venue", venue.Name),
				zap.Stringer("tx_hash", tx.Hash()),
				zap.String("reason", err.Error()),
			)
			return nil, nil
		}
		return nil, err
	}
	if len(swap.Path) != 2 || swap.TokenIn() != d.cfg.BaseToken {
		return nil, nil
	}
	if swap.Deadline != nil && swap.Deadline.Cmp(big.NewInt(d.now().Unix())) < 0 {
		return nil, nil
	}

	reserves, err := adapter.Reserves(ctx, d.view, venue, swap.TokenIn(), swap.TokenOut(), nil)
	if err != nil {
		if errors.Is(err, dex.ErrNoLiquidity) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s reserves: %w", venue.Name, err)
	}

	res, err := d.estimator.Estimate(ctx, profit.SandwichCandidate{
		Venue:    venue,
		Adapter:  adapter,
		Victim:   swap,
		Reserves: reserves,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate sandwich: %w", err)
	}
	if !res.Profitable() {
		return nil, nil
	}

	bundle, err := d.legs(adapter, venue, swap, res)
	if err != nil {
		return nil, err
	}
	kind := opportunity.NewSandwich(tx.Hash(), swap.TokenOut(), res.AmountIn)
	opp, err := opportunity.New(kind, res.Estimate, d.head(ctx), bundle)
	if err != nil {
		return nil, err
	}

	d.logger.Debug("Sandwich candidate",
		zap.String("dedup_key", opp.DedupKey()),
		zap.String("venue", venue.Name),
		zap.String("frontrun", res.AmountIn.String()),
		zap.String("net", res.Net().String()),
	)
	return []*opportunity.Opportunity{opp}, nil
}

// legs builds [front buy, back sell]. The front leg must receive at least
// the simulated token amount and the back leg must return the principal.
func (d *Detector) legs(adapter dex.Adapter, venue dex.Venue, swap *dex.Swap, res profit.Result) ([]opportunity.TxRequest, error) {
	deadline := strategies.Deadline(d.now(), d.cfg.DeadlineWindow)

	front, err := adapter.EncodeSwap(dex.SwapRequest{
		AmountIn:     res.AmountIn,
		AmountOutMin: res.Intermediate,
		Path:         []common.Address{swap.TokenIn(), swap.TokenOut()},
		To:           d.cfg.Account,
		Deadline:     deadline,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode front leg: %w", err)
	}
	back, err := adapter.EncodeSwap(dex.SwapRequest{
		AmountIn:     res.Intermediate,
		AmountOutMin: res.AmountIn,
		Path:         []common.Address{swap.TokenOut(), swap.TokenIn()},
		To:           d.cfg.Account,
		Deadline:     deadline,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode back leg: %w", err)
	}

	limit := gas.WithHeadroom(gas.SandwichLegGas)
	return []opportunity.TxRequest{
		{To: venue.Router, Data: front, Gas: limit},
		{To: venue.Router, Data: back, Gas: limit},
	}, nil
}

func (d *Detector) head(ctx context.Context) uint64 {
	if d.heads != nil {
		if n := d.heads.Number(); n > 0 {
			return n
		}
	}
	n, err := d.view.HeadNumber(ctx)
	if err != nil {
		d.logger.Debug("Failed to read head number", zap.Error(err))
		return 0
	}
	return n
}
