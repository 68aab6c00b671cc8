package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/juant72/sniperforge-sub012/utils"
	"github.com/juant72/sniperforge-sub012/utils/metrics"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Evaluate every configured pair once and report the outcome",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := utils.GetLogger()

		cfg, err := loadRuntimeConfig(log)
		if err != nil {
			return err
		}
		metrics.Initialize(&metrics.MetricsConfig{}, log)

		ctx := cmd.Context()
		eng, cleanup, err := buildEngine(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer cleanup()

		eng.RunCycle(ctx)

		stats := eng.Stats()
		fmt.Printf("pairs evaluated: %d\n", len(cfg.TradePairs))
		fmt.Printf("opportunities:   %d\n", stats.Opportunities)
		fmt.Printf("decisions:       %d\n", stats.Decisions)
		fmt.Printf("executions:      %d\n", stats.Executions)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
}
