// Package balancer reads the flash-loan fee charged by a Balancer V2 vault.
package balancer

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

// MainnetVault is the Balancer V2 vault.
var MainnetVault = common.HexToAddress("0xBA12222222228d8Ba445958a75a0704d566BF2C8")

const feesABIJson = `[
	{
		"inputs": [],
		"name": "getProtocolFeesCollector",
		"outputs": [{"internalType": "contract ProtocolFeesCollector", "name": "", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "getFlashLoanFeePercentage",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

var feesABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(feesABIJson))
	if err != nil {
		panic(fmt.Sprintf("balancer: bad ABI: %v", err))
	}
	return parsed
}()

// feeOne is 100% in the collector's 18-decimal fixed point.
var feeOne = big.NewInt(1e18)

// Provider implements flashloan.PremiumSource for a Balancer vault.
type Provider struct {
	view   chain.View
	config flashloan.ProviderConfig
	logger *zap.Logger

	mu        sync.Mutex
	premium   uint32
	fetchedAt time.Time
	now       func() time.Time
}

var (
	_ flashloan.PremiumSource = (*Provider)(nil)
	_ flashloan.Lender        = (*Provider)(nil)
)

// NewProvider reads through view. config.Pool is the vault address.
func NewProvider(view chain.View, config flashloan.ProviderConfig, logger *zap.Logger) (*Provider, error) {
	if view == nil {
		return nil, fmt.Errorf("chain view cannot be nil")
	}
	if config.Pool == (common.Address{}) {
		config.Pool = MainnetVault
	}
	return &Provider{
		view:   view,
		config: config,
		logger: logger.Named("balancer"),
		now:    time.Now,
	}, nil
}

func (p *Provider) String() string { return "balancer" }

// Lender is the vault.
func (p *Provider) Lender() common.Address { return p.config.Pool }

// PremiumBps reads the vault's flash-loan fee, caching it for CacheTTL. A
// failed read falls back to the configured premium.
func (p *Provider) PremiumBps(ctx context.Context) (uint32, error) {
	p.mu.Lock()
	if !p.fetchedAt.IsZero() && p.now().Sub(p.fetchedAt) < p.config.CacheTTL {
		premium := p.premium
		p.mu.Unlock()
		return premium, nil
	}
	p.mu.Unlock()

	premium, err := p.readPremium(ctx)
	if err != nil {
		p.logger.Warn("Failed to read flash loan fee, using fallback",
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

func (p *Provider) readPremium(ctx context.Context) (uint32, error) {
	out, err := p.call(ctx, p.config.Pool, "getProtocolFeesCollector")
	if err != nil {
		return 0, err
	}
	collector, ok := out.(common.Address)
	if !ok || collector == (common.Address{}) {
		return 0, fmt.Errorf("unexpected fees collector: %v", out)
	}

	out, err = p.call(ctx, collector, "getFlashLoanFeePercentage")
	if err != nil {
		return 0, err
	}
	pct, ok := out.(*big.Int)
	if !ok || pct.Sign() < 0 || pct.Cmp(feeOne) >= 0 {
		return 0, fmt.Errorf("fee out of range: %v", out)
	}
	// rounded up
	bps := new(big.Int).Mul(pct, big.NewInt(10000))
	bps.Add(bps, new(big.Int).Sub(feeOne, big.NewInt(1)))
	bps.Div(bps, feeOne)
	return uint32(bps.Uint64()), nil
}

func (p *Provider) call(ctx context.Context, to common.Address, method string) (interface{}, error) {
	data, err := feesABI.Pack(method)
	if err != nil {
		return nil, err
	}
	raw, err := p.view.ReadState(ctx, to, data, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	out, err := feesABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", method, err)
	}
	return out[0], nil
}
