package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/afanty2021/qlib-sub000/internal/agent"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one sync invocation",
	Long: `Run executes one pass of the sync pipeline: take the lock, decide
whether a check is due, probe for the target date's release, and if it is
published, download it and atomically replace the live dataset. Exits 0 for
success and for every expected no-op (lock held, outside the check window,
already synced, not yet published).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		a, err := agent.New(cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		return a.Run(ctx)
	},
}
