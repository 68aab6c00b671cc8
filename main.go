package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/juant72/sniperforge-sub012/cmd"
	"github.com/juant72/sniperforge-sub012/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cmd.ExecuteContext(ctx)
	utils.CleanupLogger()
	if err != nil {
		os.Exit(1)
	}
}
