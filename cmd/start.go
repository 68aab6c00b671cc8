package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/juant72/sniperforge-sub012/utils"
	"github.com/juant72/sniperforge-sub012/utils/metrics"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the engine loop until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := utils.GetLogger()

		cfg, err := loadRuntimeConfig(log)
		if err != nil {
			return err
		}

		metrics.Initialize(&metrics.MetricsConfig{
			ReportInterval: time.Minute,
			LogMetrics:     debug,
		}, log)

		ctx := cmd.Context()
		eng, cleanup, err := buildEngine(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer cleanup()

		if cfg.PrometheusEnabled {
			go serveMetrics(cfg.PrometheusEndpoint, log)
		}

		if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func serveMetrics(addr string, log *zap.Logger) {
	if addr == "" {
		addr = ":9090"
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	log.Info("metrics endpoint listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics endpoint failed", zap.Error(err))
	}
}

func init() {
	rootCmd.AddCommand(startCmd)
}
