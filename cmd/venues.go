package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/michaelpento.lv/mevsearcher/config"
	"github.com/michaelpento.lv/mevsearcher/dex"
	"github.com/michaelpento.lv/mevsearcher/dex/uniswap"
	"github.com/spf13/cobra"
)

var venuesCmd = &cobra.Command{
	Use:   "venues",
	Short: "List the venues the searcher recognises",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.DefaultConfig()
		if cfgFile != "" {
			var err error
			if cfg, err = config.LoadConfig(cfgFile); err != nil {
				return err
			}
		}
		return printVenues(cmd.OutOrStdout(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(venuesCmd)
}

func printVenues(out io.Writer, cfg *config.Config) error {
	venues := uniswap.DefaultVenues()
	if len(cfg.Venues) > 0 {
		venues = venues[:0]
		for _, v := range cfg.Venues {
			venues = append(venues, dex.Venue{Name: v.Name, Protocol: v.Protocol, Router: v.Router, FeeBps: v.FeeBps})
		}
	}
	registry, err := dex.NewRegistry(venues, uniswap.NewV2())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPROTOCOL\tROUTER\tFEE (BPS)\tDECODER")
	for _, v := range registry.Venues() {
		decoder := "yes"
		if _, err := registry.Adapter(v); err != nil {
			decoder = "no"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", v.Name, v.Protocol, v.Router.Hex(), v.FeeBps, decoder)
	}
	return w.Flush()
}
