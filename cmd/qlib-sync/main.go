package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/afanty2021/qlib-sub000/internal/config"
	"github.com/afanty2021/qlib-sub000/internal/util"
	"github.com/spf13/cobra"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "qlib-sync",
	Short: "Scheduled qlib dataset synchronization agent",
	Long: `qlib-sync keeps a local qlib dataset in step with the remote daily
release repository. It is meant to be invoked periodically by cron or a
systemd timer; each invocation decides on its own whether there is anything
to do and exits cleanly when there is not.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (default $QLIB_SYNC_CONFIG or config/sync.yaml)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(unlockCmd)
	rootCmd.AddCommand(holidaysCmd)
}

// loadConfig resolves the config path, loads it, and installs the logger.
func loadConfig() (*config.Config, *slog.Logger, error) {
	path := cfgPath
	if path == "" {
		path = os.Getenv("QLIB_SYNC_CONFIG")
	}
	if path == "" {
		path = "config/sync.yaml"
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config %s: %w", path, err)
	}

	logger := util.NewLogger(os.Stdout, cfg.Logging.Level)
	util.SetDefault(logger)
	return cfg, logger, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
