package liquidation

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/mevsearcher/flashloan/aave"
	"github.com/michaelpento.lv/mevsearcher/gas"
	"github.com/michaelpento.lv/mevsearcher/opportunity"
	"github.com/michaelpento.lv/mevsearcher/profit"
	"github.com/michaelpento.lv/mevsearcher/strategies"
	"go.uber.org/zap"
)

// LendingPool is the read side of the lending protocol.
type LendingPool interface {
	UserAccountData(ctx context.Context, user common.Address, block *big.Int) (*aave.AccountData, error)
	Pool() common.Address
}

type Config struct {
	Protocol string
	// BaseToken is the asset account data is denominated in. Positions
	// whose debt is in another asset let the pool pick the amount.
	BaseToken common.Address
	// Receiver is the searcher's flash-loan receiver contract. When unset
	// liquidationCall is sent directly and the debt is repaid from the
	// searcher's own balance.
	Receiver common.Address
}

var errNoLender = errors.New("liquidation: flash loan lender unknown")

// Detector checks watched borrowers on every new block.
type Detector struct {
	positions PositionSource
	pool      LendingPool
	estimator strategies.Estimator
	cfg       Config
	logger    *zap.Logger
}

var _ strategies.Detector = (*Detector)(nil)

func NewDetector(positions PositionSource, pool LendingPool, estimator strategies.Estimator, cfg Config, logger *zap.Logger) *Detector {
	if cfg.Protocol == "" {
		cfg.Protocol = "aave-v2"
	}
	return &Detector{
		positions: positions,
		pool:      pool,
		estimator: estimator,
		cfg:       cfg,
		logger:    logger.Named("liquidation"),
	}
}

func (d *Detector) Name() string { return opportunity.KindLiquidation }

// Liquidatable reports collateral * threshold < debt * 10000. A position
// exactly at the threshold is healthy.
func Liquidatable(data *aave.AccountData) bool {
	if data == nil || data.TotalDebt == nil || data.TotalDebt.Sign() == 0 {
		return false
	}
	lhs := new(big.Int).Mul(data.TotalCollateral, data.LiquidationThreshold)
	rhs := new(big.Int).Mul(data.TotalDebt, big.NewInt(10000))
	return lhs.Cmp(rhs) < 0
}

func (d *Detector) Detect(ctx context.Context, ev strategies.Event) ([]*opportunity.Opportunity, error) {
	nb, ok := ev.(strategies.NewBlock)
	if !ok {
		return nil, nil
	}
	block, ok := strategies.BlockOf(nb)
	if !ok {
		return nil, nil
	}
	positions, err := d.positions.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}

	at := new(big.Int).SetUint64(block)
	var (
		opps []*opportunity.Opportunity
		errs []error
	)
	for _, p := range positions {
		data, err := d.pool.UserAccountData(ctx, p.Borrower, at)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !Liquidatable(data) {
			continue
		}
		opp, err := d.evaluate(ctx, p, data, block)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if opp != nil {
			opps = append(opps, opp)
		}
	}
	return opps, errors.Join(errs...)
}

func (d *Detector) evaluate(ctx context.Context, p Position, data *aave.AccountData, block uint64) (*opportunity.Opportunity, error) {
	flash := d.cfg.Receiver != (common.Address{})
	build := func(debtToCover *big.Int, lender common.Address) (opportunity.TxRequest, error) {
		amount := debtToCover
		if p.Debt != d.cfg.BaseToken {
			amount = abi.MaxUint256
		}
		if !flash {
			calldata, err := aave.EncodeLiquidationCall(p.Collateral, p.Debt, p.Borrower, amount)
			if err != nil {
				return opportunity.TxRequest{}, err
			}
			return opportunity.TxRequest{
				To:   d.pool.Pool(),
				Data: calldata,
				Gas:  gas.WithHeadroom(gas.LiquidationCallGas),
			}, nil
		}
		if lender == (common.Address{}) {
			return opportunity.TxRequest{}, errNoLender
		}
		calldata, err := EncodeFlashLiquidation(lender, d.pool.Pool(), p.Collateral, p.Debt, p.Borrower, amount)
		if err != nil {
			return opportunity.TxRequest{}, err
		}
		return opportunity.TxRequest{
			To:   d.cfg.Receiver,
			Data: calldata,
			Gas:  gas.WithHeadroom(gas.LiquidationCallGas + gas.FlashLoanGas),
		}, nil
	}

	res, err := d.estimator.Estimate(ctx, profit.LiquidationCandidate{
		Collateral: data.TotalCollateral,
		Debt:       data.TotalDebt,
		FlashLoan:  flash,
		Call:       build,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate liquidation of %s: %w", p.Borrower.Hex(), err)
	}
	if !res.Profitable() {
		return nil, nil
	}

	call, err := build(res.AmountIn, res.Lender)
	if err != nil {
		return nil, err
	}
	if limit := gas.WithHeadroom(res.Gas); limit > call.Gas {
		call.Gas = limit
	}
	kind := opportunity.Liquidation{
		Protocol:   d.cfg.Protocol,
		Borrower:   p.Borrower,
		Collateral: p.Collateral,
		Debt:       p.Debt,
	}
	opp, err := opportunity.New(kind, res.Estimate, block, []opportunity.TxRequest{call})
	if err != nil {
		return nil, err
	}
	d.logger.Debug("Liquidation candidate",
		zap.String("dedup_key", opp.DedupKey()),
		zap.String("health_factor", data.HealthFactor.String()),
		zap.String("debt_to_cover", res.AmountIn.String()),
		zap.String("net", res.Net().String()),
		zap.Bool("flash_loan", flash),
	)
	return opp, nil
}
