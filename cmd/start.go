package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/michaelpento.lv/mevsearcher/chain"
	"github.com/michaelpento.lv/mevsearcher/cmd/bot"
	"github.com/michaelpento.lv/mevsearcher/config"
	"github.com/michaelpento.lv/mevsearcher/executor"
	"github.com/michaelpento.lv/mevsearcher/flashbots"
	"github.com/michaelpento.lv/mevsearcher/signer"
	"github.com/michaelpento.lv/mevsearcher/utils"
	"github.com/michaelpento.lv/mevsearcher/utils/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the searcher",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(cfgFile)
		if err != nil {
			return err
		}

		log := utils.InitLogger(utils.LogOptions{
			Debug:     debug,
			File:      cfg.LogFile,
			ErrorFile: cfg.ErrorLogFile,
		})
		defer utils.CleanupLogger()

		return run(cmd.Context(), cfg, log)
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	reg := metrics.NewRegistry()
	chainMetrics := metrics.NewChainMetrics(reg, bot.MetricsNamespace)

	client, err := chain.Dial(ctx, cfg.WSEndpoint, chain.ClientConfig{
		RequestsPerSecond: cfg.RPCRateLimit.RequestsPerSecond,
		BurstSize:         cfg.RPCRateLimit.BurstSize,
		WaitTimeout:       cfg.RPCRateLimit.WaitTimeout.Duration,
	}, chainMetrics, log)
	if err != nil {
		return fmt.Errorf("failed to connect to Ethereum node: %w", err)
	}
	defer client.Close()

	s, err := signer.NewLocalSigner(cfg.PrivateKey)
	if err != nil {
		return fmt.Errorf("failed to load signing key: %w", err)
	}

	relay, err := newRelay(cfg, log)
	if err != nil {
		return err
	}

	searcher, err := bot.New(ctx, cfg, bot.Options{
		Source:       client,
		Signer:       s,
		Relay:        relay,
		Registerer:   reg,
		ChainMetrics: chainMetrics,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to create searcher: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return searcher.Run(gctx) })
	if cfg.PrometheusEnabled {
		serveMetrics(gctx, g, cfg.PrometheusAddr, reg, log)
	}
	return g.Wait()
}

// newRelay returns a nil interface, not a nil client, when no relay is
// configured.
func newRelay(cfg *config.Config, log *zap.Logger) (executor.Relay, error) {
	if cfg.FlashbotsRelay == "" {
		return nil, nil
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.FlashbotsKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", config.EnvFlashbotsKey, err)
	}
	client, err := flashbots.NewClient(flashbots.Config{
		RelayURL:          cfg.FlashbotsRelay,
		RequestsPerSecond: cfg.FlashbotsRateLimit.RequestsPerSecond,
	}, key, log)
	if err != nil {
		return nil, err
	}
	log.Info("Using bundle relay",
		zap.String("relay", cfg.FlashbotsRelay),
		zap.Stringer("auth_address", client.AuthAddress()))
	return client, nil
}

func serveMetrics(ctx context.Context, g *errgroup.Group, addr string, reg *prometheus.Registry, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		log.Info("Metrics server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
