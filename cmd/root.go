package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "mevsearcher",
	Short: "A CLI searcher for sandwich, arbitrage and liquidation opportunities",
	Long: `A CLI searcher that watches the mempool and new blocks for profitable
sandwich, cross-venue arbitrage and liquidation opportunities, ranks them by
net profit and submits them directly or as Flashbots bundles.`,
	SilenceUsage: true,
}

func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (.json, .yaml or .toml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}
