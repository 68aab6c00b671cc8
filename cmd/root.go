package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/juant72/sniperforge-sub012/utils"
)

var (
	cfgFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "sniperforge",
	Short: "Cross-venue arbitrage engine with MEV-protected execution",
	Long: `Detects short-lived cross-venue price discrepancies, assesses the
adversarial risk of acting on them, and executes the winners through a
protected relay before they disappear or get front-run.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.sniperforge.json)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func initConfig() {
	utils.InitLogger(debug)
}
