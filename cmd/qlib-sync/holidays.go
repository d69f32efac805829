package main

import (
	"fmt"

	"github.com/afanty2021/qlib-sub000/internal/calendar"
	"github.com/spf13/cobra"
)

var (
	holidaysStart   string
	holidaysEnd     string
	holidaysVersion string
)

func init() {
	refreshCmd.Flags().StringVar(&holidaysStart, "start", "", "first date to cover (YYYY-MM-DD, required)")
	refreshCmd.Flags().StringVar(&holidaysEnd, "end", "", "last date to cover (YYYY-MM-DD, required)")
	refreshCmd.Flags().StringVar(&holidaysVersion, "version", "", "version string to stamp the list with (required)")
	refreshCmd.MarkFlagRequired("start")
	refreshCmd.MarkFlagRequired("end")
	refreshCmd.MarkFlagRequired("version")
	holidaysCmd.AddCommand(refreshCmd)
}

var holidaysCmd = &cobra.Command{
	Use:   "holidays",
	Short: "Manage the versioned holiday list",
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Regenerate the holiday list from the exchange calendar",
	Long: `Refresh rewrites the configured holiday list from the Alpaca trading
calendar API. This covers US-market installs; CN-market lists remain
hand-maintained. Run it at least annually so the agent never walks into an
unconfigured holiday block.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		start, err := calendar.ParseDate(holidaysStart)
		if err != nil {
			return err
		}
		end, err := calendar.ParseDate(holidaysEnd)
		if err != nil {
			return err
		}
		if end.Before(start) {
			return fmt.Errorf("end %s is before start %s", end, start)
		}

		holidays, err := calendar.FetchUSHolidays(
			cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL, start, end)
		if err != nil {
			return err
		}

		if err := calendar.WriteHolidays(cfg.Calendar.HolidaysFile, holidaysVersion, holidays); err != nil {
			return err
		}

		logger.Info("holiday list refreshed",
			"file", cfg.Calendar.HolidaysFile,
			"version", holidaysVersion,
			"holidays", len(holidays),
			"range", start.String()+".."+end.String())
		return nil
	},
}
