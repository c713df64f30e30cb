package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment variables. Key material is only ever read from here.
const (
	EnvPrefix         = "SEARCHER_"
	EnvPrivateKey     = EnvPrefix + "PRIVATE_KEY"
	EnvFlashbotsKey   = EnvPrefix + "FLASHBOTS_KEY"
	EnvWSEndpoint     = EnvPrefix + "WS_ENDPOINT"
	EnvChainID        = EnvPrefix + "CHAIN_ID"
	EnvFlashbotsRelay = EnvPrefix + "FLASHBOTS_RELAY"
	EnvMinProfitWei   = EnvPrefix + "MIN_PROFIT_WEI"
)

// LoadEnv loads variables from .env when the file exists. Variables already
// set in the environment win.
func LoadEnv(files ...string) error {
	err := godotenv.Load(files...)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// GetEnvWithDefault gets an environment variable with a default value
func GetEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// applyEnvOverrides overwrites fields whose SEARCHER_* variable is set.
func applyEnvOverrides(cfg *Config) error {
	setStr(&cfg.PrivateKey, EnvPrivateKey)
	setStr(&cfg.FlashbotsKey, EnvFlashbotsKey)
	setStr(&cfg.WSEndpoint, EnvWSEndpoint)
	setStr(&cfg.FlashbotsRelay, EnvFlashbotsRelay)

	if v := os.Getenv(EnvChainID); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return errors.New(EnvChainID + " must be an unsigned integer")
		}
		cfg.ChainID = id
	}
	if v := os.Getenv(EnvMinProfitWei); v != "" {
		var w Wei
		if err := w.UnmarshalText([]byte(v)); err != nil {
			return err
		}
		cfg.MinProfitThreshold = w
	}
	return nil
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
