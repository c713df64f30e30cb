package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/michaelpento.lv/mevsearcher/dex/uniswap"
	"github.com/michaelpento.lv/mevsearcher/flashloan/aave"
	"github.com/michaelpento.lv/mevsearcher/flashloan/balancer"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

// ErrInvalidConfig wraps every validation and decoding failure. It is fatal
// at startup.
var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	// Chain and network settings
	ChainID        uint64 `json:"chain_id" yaml:"chain_id" toml:"chain_id"`
	WSEndpoint     string `json:"ws_endpoint" yaml:"ws_endpoint" toml:"ws_endpoint"`
	FlashbotsRelay string `json:"flashbots_relay" yaml:"flashbots_relay" toml:"flashbots_relay"`

	// Key material comes from the environment only.
	PrivateKey   string `json:"-" yaml:"-" toml:"-"`
	FlashbotsKey string `json:"-" yaml:"-" toml:"-"`

	// Profit and gas
	MinProfitThreshold Wei    `json:"min_profit_threshold" yaml:"min_profit_threshold" toml:"min_profit_threshold"`
	MaxGasPrice        Wei    `json:"max_gas_price" yaml:"max_gas_price" toml:"max_gas_price"`
	DefaultTip         Wei    `json:"default_tip" yaml:"default_tip" toml:"default_tip"`
	StaleTolerance     uint64 `json:"stale_tolerance" yaml:"stale_tolerance" toml:"stale_tolerance"`

	// Loop timing
	ArbitrageScanInterval Duration `json:"arbitrage_scan_interval" yaml:"arbitrage_scan_interval" toml:"arbitrage_scan_interval"`
	BlockTime             Duration `json:"block_time" yaml:"block_time" toml:"block_time"`
	// InFlightTimeout defaults to three block times.
	InFlightTimeout  Duration `json:"in_flight_timeout" yaml:"in_flight_timeout" toml:"in_flight_timeout"`
	DeadlineWindow   Duration `json:"deadline_window" yaml:"deadline_window" toml:"deadline_window"`
	MempoolCacheSize int      `json:"mempool_cache_size" yaml:"mempool_cache_size" toml:"mempool_cache_size"`
	CandidateBuffer  int      `json:"candidate_buffer" yaml:"candidate_buffer" toml:"candidate_buffer"`

	// Network settings
	ReconnectBackoff   Duration        `json:"reconnect_backoff" yaml:"reconnect_backoff" toml:"reconnect_backoff"`
	MaxReconnectWait   Duration        `json:"max_reconnect_wait" yaml:"max_reconnect_wait" toml:"max_reconnect_wait"`
	MaxReconnects      int             `json:"max_reconnects" yaml:"max_reconnects" toml:"max_reconnects"`
	RPCRateLimit       RateLimitConfig `json:"rpc_rate_limit" yaml:"rpc_rate_limit" toml:"rpc_rate_limit"`
	FlashbotsRateLimit RateLimitConfig `json:"flashbots_rate_limit" yaml:"flashbots_rate_limit" toml:"flashbots_rate_limit"`

	Execution   ExecutionConfig   `json:"execution" yaml:"execution" toml:"execution"`
	BaseToken   common.Address    `json:"base_token" yaml:"base_token" toml:"base_token"`
	Venues      []VenueConfig     `json:"venues" yaml:"venues" toml:"venues"`
	Sandwich    SandwichConfig    `json:"sandwich" yaml:"sandwich" toml:"sandwich"`
	Arbitrage   ArbitrageConfig   `json:"arbitrage" yaml:"arbitrage" toml:"arbitrage"`
	Liquidation LiquidationConfig `json:"liquidation" yaml:"liquidation" toml:"liquidation"`

	// Feature flags
	PrometheusEnabled bool   `json:"prometheus_enabled" yaml:"prometheus_enabled" toml:"prometheus_enabled"`
	PrometheusAddr    string `json:"prometheus_addr" yaml:"prometheus_addr" toml:"prometheus_addr"`

	LogFile      string `json:"log_file" yaml:"log_file" toml:"log_file"`
	ErrorLogFile string `json:"error_log_file" yaml:"error_log_file" toml:"error_log_file"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64  `json:"requests_per_second" yaml:"requests_per_second" toml:"requests_per_second"`
	BurstSize         int      `json:"burst_size" yaml:"burst_size" toml:"burst_size"`
	WaitTimeout       Duration `json:"wait_timeout" yaml:"wait_timeout" toml:"wait_timeout"`
}

type ExecutionConfig struct {
	WaitTimeout      Duration `json:"wait_timeout" yaml:"wait_timeout" toml:"wait_timeout"`
	PollInterval     Duration `json:"poll_interval" yaml:"poll_interval" toml:"poll_interval"`
	LegAcceptTimeout Duration `json:"leg_accept_timeout" yaml:"leg_accept_timeout" toml:"leg_accept_timeout"`
	// SimulateBundles runs relay bundles through eth_callBundle first.
	SimulateBundles bool `json:"simulate_bundles" yaml:"simulate_bundles" toml:"simulate_bundles"`
}

// VenueConfig overrides the built-in venue registry when non-empty.
type VenueConfig struct {
	Name         string         `json:"name" yaml:"name" toml:"name"`
	Protocol     string         `json:"protocol" yaml:"protocol" toml:"protocol"`
	Router       common.Address `json:"router" yaml:"router" toml:"router"`
	Factory      common.Address `json:"factory" yaml:"factory" toml:"factory"`
	InitCodeHash common.Hash    `json:"init_code_hash" yaml:"init_code_hash" toml:"init_code_hash"`
	FeeBps       uint32         `json:"fee_bps" yaml:"fee_bps" toml:"fee_bps"`
}

type SandwichConfig struct {
	Enabled     bool `json:"enabled" yaml:"enabled" toml:"enabled"`
	MaxFrontrun Wei  `json:"max_frontrun" yaml:"max_frontrun" toml:"max_frontrun"`
}

type ArbitrageConfig struct {
	Enabled bool             `json:"enabled" yaml:"enabled" toml:"enabled"`
	Tokens  []common.Address `json:"tokens" yaml:"tokens" toml:"tokens"`
	// SafetyMargin is a fraction, e.g. 0.001 for 0.1%.
	SafetyMargin decimal.Decimal `json:"safety_margin" yaml:"safety_margin" toml:"safety_margin"`
	MaxTradeSize Wei             `json:"max_trade_size" yaml:"max_trade_size" toml:"max_trade_size"`
}

type LiquidationConfig struct {
	Enabled  bool           `json:"enabled" yaml:"enabled" toml:"enabled"`
	Protocol string         `json:"protocol" yaml:"protocol" toml:"protocol"`
	Pool     common.Address `json:"pool" yaml:"pool" toml:"pool"`
	// BalancerVault is quoted alongside the pool for the cheapest flash
	// loan. Zero disables it.
	BalancerVault common.Address `json:"balancer_vault" yaml:"balancer_vault" toml:"balancer_vault"`
	// FlashLoanReceiver is the contract that wraps liquidationCall in a
	// flash loan. Zero sends liquidationCall directly, funded by the
	// searcher account, and no premium is charged.
	FlashLoanReceiver   common.Address   `json:"flash_loan_receiver" yaml:"flash_loan_receiver" toml:"flash_loan_receiver"`
	CloseFactorBps      uint32           `json:"close_factor_bps" yaml:"close_factor_bps" toml:"close_factor_bps"`
	LiquidationBonusBps uint32           `json:"liquidation_bonus_bps" yaml:"liquidation_bonus_bps" toml:"liquidation_bonus_bps"`
	FallbackPremiumBps  uint32           `json:"fallback_premium_bps" yaml:"fallback_premium_bps" toml:"fallback_premium_bps"`
	PremiumCacheTTL     Duration         `json:"premium_cache_ttl" yaml:"premium_cache_ttl" toml:"premium_cache_ttl"`
	Simulate            bool             `json:"simulate" yaml:"simulate" toml:"simulate"`
	Positions           []PositionConfig `json:"positions" yaml:"positions" toml:"positions"`
}

type PositionConfig struct {
	Borrower   common.Address `json:"borrower" yaml:"borrower" toml:"borrower"`
	Collateral common.Address `json:"collateral" yaml:"collateral" toml:"collateral"`
	Debt       common.Address `json:"debt" yaml:"debt" toml:"debt"`
}

var (
	daiAddress  = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	usdcAddress = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	usdtAddress = common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7")
)

func ether(n int64) Wei {
	return Wei{Int: new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))}
}

// DefaultConfig has every setting except the endpoint, the keys and the
// profit threshold, which must be supplied explicitly.
func DefaultConfig() *Config {
	return &Config{
		ChainID:               1,
		MaxGasPrice:           NewWei(big.NewInt(500000000000)), // 500 Gwei
		DefaultTip:            NewWei(big.NewInt(2000000000)),   // 2 Gwei
		StaleTolerance:        0,
		ArbitrageScanInterval: Duration{100 * time.Millisecond},
		BlockTime:             Duration{12 * time.Second},
		DeadlineWindow:        Duration{time.Minute},
		MempoolCacheSize:      10000,
		CandidateBuffer:       256,
		ReconnectBackoff:      Duration{time.Second},
		MaxReconnectWait:      Duration{30 * time.Second},
		MaxReconnects:         3,
		RPCRateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			BurstSize:         100,
			WaitTimeout:       Duration{time.Second},
		},
		FlashbotsRateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			BurstSize:         100,
			WaitTimeout:       Duration{time.Second},
		},
		Execution: ExecutionConfig{
			PollInterval:     Duration{time.Second},
			LegAcceptTimeout: Duration{2 * time.Second},
			SimulateBundles:  true,
		},
		BaseToken: uniswap.WETHAddress,
		Sandwich: SandwichConfig{
			Enabled:     true,
			MaxFrontrun: ether(10),
		},
		Arbitrage: ArbitrageConfig{
			Enabled:      true,
			Tokens:       []common.Address{daiAddress, usdcAddress, usdtAddress},
			SafetyMargin: decimal.RequireFromString("0.001"),
			MaxTradeSize: ether(50),
		},
		Liquidation: LiquidationConfig{
			Protocol:            "aave-v2",
			Pool:                aave.MainnetPool,
			BalancerVault:       balancer.MainnetVault,
			CloseFactorBps:      5000,
			LiquidationBonusBps: 10500,
			FallbackPremiumBps:  9,
			PremiumCacheTTL:     Duration{time.Minute},
		},
		PrometheusAddr: ":9090",
	}
}

// LoadConfig reads path (JSON, YAML or TOML by extension) over the defaults,
// loads .env, applies SEARCHER_* overrides and validates the result. An empty
// path uses defaults and the environment only.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	if err := LoadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	cfg.applyDerived()
	if err := cfg.ValidateConfig(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		err = json.Unmarshal(data, cfg)
	case ".yaml", ".yml":
		err = yaml.UnmarshalStrict(data, cfg)
	case ".toml":
		_, err = toml.Decode(string(data), cfg)
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyDerived() {
	if c.InFlightTimeout.Duration <= 0 {
		c.InFlightTimeout.Duration = 3 * c.BlockTime.Duration
	}
	if c.Execution.WaitTimeout.Duration <= 0 {
		c.Execution.WaitTimeout.Duration = 3 * c.BlockTime.Duration
	}
}

// ValidateConfig reports every problem at once.
func (c *Config) ValidateConfig() error {
	var problems []error
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	// Validate Chain and Network settings
	if c.ChainID == 0 {
		add("chain_id must be specified")
	}
	if c.WSEndpoint == "" {
		add("ws_endpoint must be specified")
	} else if u, err := url.Parse(c.WSEndpoint); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		add("ws_endpoint must be a ws:// or wss:// URL")
	}
	if c.PrivateKey == "" {
		add("%s must be set", EnvPrivateKey)
	}
	if c.FlashbotsRelay != "" && c.FlashbotsKey == "" {
		add("%s must be set when flashbots_relay is configured", EnvFlashbotsKey)
	}

	// Validate Performance Thresholds
	if !c.MinProfitThreshold.IsSet() || c.MinProfitThreshold.Sign() <= 0 {
		add("min_profit_threshold must be positive")
	}
	if !c.MaxGasPrice.IsSet() || c.MaxGasPrice.Sign() <= 0 {
		add("max_gas_price must be positive")
	}
	if c.ArbitrageScanInterval.Duration <= 0 {
		add("arbitrage_scan_interval must be positive")
	}
	if c.BlockTime.Duration <= 0 {
		add("block_time must be positive")
	}
	if c.MaxReconnects <= 0 {
		add("max_reconnects must be positive")
	}
	if c.MempoolCacheSize <= 0 {
		add("mempool_cache_size must be positive")
	}

	if err := c.RPCRateLimit.Validate(); err != nil {
		add("rpc_rate_limit: %v", err)
	}
	if c.FlashbotsRelay != "" {
		if err := c.FlashbotsRateLimit.Validate(); err != nil {
			add("flashbots_rate_limit: %v", err)
		}
	}

	names := make(map[string]bool)
	for i, v := range c.Venues {
		if v.Name == "" {
			add("venues[%d]: name must be specified", i)
		} else if names[v.Name] {
			add("venues[%d]: duplicate name %q", i, v.Name)
		}
		names[v.Name] = true
		if v.FeeBps >= 10000 {
			add("venues[%d]: fee_bps must be below 10000", i)
		}
	}

	if !c.Sandwich.Enabled && !c.Arbitrage.Enabled && !c.Liquidation.Enabled {
		add("at least one strategy must be enabled")
	}
	if c.Sandwich.Enabled && (!c.Sandwich.MaxFrontrun.IsSet() || c.Sandwich.MaxFrontrun.Sign() <= 0) {
		add("sandwich.max_frontrun must be positive")
	}
	if c.Arbitrage.Enabled {
		if !c.Arbitrage.SafetyMargin.IsPositive() {
			add("arbitrage.safety_margin must be greater than zero")
		}
		if len(c.Arbitrage.Tokens) == 0 {
			add("arbitrage.tokens must not be empty")
		}
	}
	if c.Liquidation.Enabled {
		if c.Liquidation.CloseFactorBps == 0 || c.Liquidation.CloseFactorBps > 10000 {
			add("liquidation.close_factor_bps must be in (0, 10000]")
		}
		if c.Liquidation.LiquidationBonusBps <= 10000 {
			add("liquidation.liquidation_bonus_bps must exceed 10000")
		}
		if c.Liquidation.FallbackPremiumBps >= 10000 {
			add("liquidation.fallback_premium_bps must be below 10000")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(problems...))
	}
	return nil
}

func (r *RateLimitConfig) Validate() error {
	if r.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive")
	}
	if r.BurstSize <= 0 {
		return fmt.Errorf("burst size must be positive")
	}
	if r.WaitTimeout.Duration <= 0 {
		return fmt.Errorf("wait timeout must be positive")
	}
	return nil
}
