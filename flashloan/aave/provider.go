// Package aave talks to an Aave V2 style lending pool: flash-loan premium,
// borrower account data and liquidationCall encoding.
package aave

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/mevsearcher/chain"
	"github.com/michaelpento.lv/mevsearcher/flashloan"
	"go.uber.org/zap"
)

// MainnetPool is the Aave V2 LendingPool proxy.
var MainnetPool = common.HexToAddress("0x7d2768dE32b0b80b7a3454c06BdAc94A69DDc7A9")

const lendingPoolABI = `[
	{
		"inputs": [],
		"name": "FLASHLOAN_PREMIUM_TOTAL",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "address", "name": "user", "type": "address"}],
		"name": "getUserAccountData",
		"outputs": [
			{"internalType": "uint256", "name": "totalCollateralETH", "type": "uint256"},
			{"internalType": "uint256", "name": "totalDebtETH", "type": "uint256"},
			{"internalType": "uint256", "name": "availableBorrowsETH", "type": "uint256"},
			{"internalType": "uint256", "name": "currentLiquidationThreshold", "type": "uint256"},
			{"internalType": "uint256", "name": "ltv", "type": "uint256"},
			{"internalType": "uint256", "name": "healthFactor", "type": "uint256"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "collateralAsset", "type": "address"},
			{"internalType": "address", "name": "debtAsset", "type": "address"},
			{"internalType": "address", "name": "user", "type": "address"},
			{"internalType": "uint256", "name": "debtToCover", "type": "uint256"},
			{"internalType": "bool", "name": "receiveAToken", "type": "bool"}
		],
		"name": "liquidationCall",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

var poolABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(lendingPoolABI))
	if err != nil {
		panic(fmt.Sprintf("aave: bad ABI: %v", err))
	}
	return parsed
}()

// AccountData is getUserAccountData in the pool's base currency (ETH).
type AccountData struct {
	TotalCollateral      *big.Int
	TotalDebt            *big.Int
	LiquidationThreshold *big.Int // bps
	HealthFactor         *big.Int // 1e18 fixed point
}

// AaveProvider reads the lending pool through a chain view.
type AaveProvider struct {
	view   chain.View
	config flashloan.ProviderConfig
	logger *zap.Logger

	mu        sync.Mutex
	premium   uint32
	fetchedAt time.Time
	now       func() time.Time
}

var (
	_ flashloan.PremiumSource = (*AaveProvider)(nil)
	_ flashloan.Lender        = (*AaveProvider)(nil)
)

func NewAaveProvider(view chain.View, config flashloan.ProviderConfig, logger *zap.Logger) (*AaveProvider, error) {
	if view == nil {
		return nil, fmt.Errorf("chain view cannot be nil")
	}
	if config.Pool == (common.Address{}) {
		config.Pool = MainnetPool
	}
	return &AaveProvider{
		view:   view,
		config: config,
		logger: logger.Named("aave"),
		now:    time.Now,
	}, nil
}

func (p *AaveProvider) String() string { return "aave-v2" }

func (p *AaveProvider) Pool() common.Address { return p.config.Pool }

// Lender is where flash loans are taken: the lending pool itself.
func (p *AaveProvider) Lender() common.Address { return p.config.Pool }

// PremiumBps reads FLASHLOAN_PREMIUM_TOTAL, caching it for CacheTTL. A failed
// read falls back to the configured premium and is not an error.
func (p *AaveProvider) PremiumBps(ctx context.Context) (uint32, error) {
	p.mu.Lock()
	if !p.fetchedAt.IsZero() && p.now().Sub(p.fetchedAt) < p.config.CacheTTL {
		premium := p.premium
		p.mu.Unlock()
		return premium, nil
	}
	p.mu.Unlock()

	premium, err := p.readPremium(ctx)
	if err != nil {
		p.logger.Warn("Failed to read flash loan premium, using fallback",
			zap.Uint32("fallback_bps", p.config.FallbackPremiumBps),
			zap.Error(err),
		)
		return p.config.FallbackPremiumBps, nil
	}

	p.mu.Lock()
	p.premium = premium
	p.fetchedAt = p.now()
	p.mu.Unlock()
	return premium, nil
}

func (p *AaveProvider) readPremium(ctx context.Context) (uint32, error) {
	data, err := poolABI.Pack("FLASHLOAN_PREMIUM_TOTAL")
	if err != nil {
		return 0, err
	}
	raw, err := p.view.ReadState(ctx, p.config.Pool, data, nil)
	if err != nil {
		return 0, err
	}
	out, err := poolABI.Unpack("FLASHLOAN_PREMIUM_TOTAL", raw)
	if err != nil {
		return 0, fmt.Errorf("failed to decode premium: %w", err)
	}
	premium, ok := out[0].(*big.Int)
	if !ok || !premium.IsUint64() || premium.Uint64() >= 10000 {
		return 0, fmt.Errorf("premium out of range: %v", out[0])
	}
	return uint32(premium.Uint64()), nil
}

// UserAccountData reads a borrower's aggregate position at block.
func (p *AaveProvider) UserAccountData(ctx context.Context, user common.Address, block *big.Int) (*AccountData, error) {
	data, err := poolABI.Pack("getUserAccountData", user)
	if err != nil {
		return nil, err
	}
	raw, err := p.view.ReadState(ctx, p.config.Pool, data, block)
	if err != nil {
		return nil, fmt.Errorf("failed to read account data of %s: %w", user.Hex(), err)
	}
	out, err := poolABI.Unpack("getUserAccountData", raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode account data of %s: %w", user.Hex(), err)
	}
	fields := make([]*big.Int, len(out))
	for i, v := range out {
		n, ok := v.(*big.Int)
		if !ok {
			return nil, fmt.Errorf("unexpected account data field %d: %T", i, v)
		}
		fields[i] = n
	}
	return &AccountData{
		TotalCollateral:      fields[0],
		TotalDebt:            fields[1],
		LiquidationThreshold: fields[3],
		HealthFactor:         fields[5],
	}, nil
}

// EncodeLiquidationCall packs liquidationCall; the seized collateral is
// received as the underlying asset.
func EncodeLiquidationCall(collateral, debt, user common.Address, debtToCover *big.Int) ([]byte, error) {
	return poolABI.Pack("liquidationCall", collateral, debt, user, debtToCover, false)
}
