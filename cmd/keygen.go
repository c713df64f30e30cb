package cmd

import (
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/michaelpento.lv/mevsearcher/config"
	"github.com/spf13/cobra"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a Flashbots relay authentication key",
	Long: `Generate a fresh ECDSA key pair for signing relay requests. The key only
identifies the searcher to the relay and should never hold funds.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return keygen(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}

func keygen(out io.Writer) error {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}

	fmt.Fprintf(out, "%s=0x%x\n", config.EnvFlashbotsKey, crypto.FromECDSA(privateKey))
	fmt.Fprintf(out, "# Public Address: %s\n", crypto.PubkeyToAddress(privateKey.PublicKey).Hex())
	return nil
}
