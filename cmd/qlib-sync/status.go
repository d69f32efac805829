package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/afanty2021/qlib-sub000/internal/lockfile"
	"github.com/afanty2021/qlib-sub000/internal/state"
	"github.com/spf13/cobra"
)

var statusLimit int

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "number of journal entries to show")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show last sync state and recent attempt history",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		store := state.NewStore(cfg.Storage.StatePath())
		if last, ok := store.Read(); ok {
			fmt.Printf("last successful sync: %s\n", last)
		} else {
			fmt.Println("last successful sync: none")
		}
		if sat, ok := state.NewStore(cfg.Storage.TargetPath()).Read(); ok {
			fmt.Printf("last satisfied target: %s\n", sat)
		}

		if rec, ok := lockfile.Inspect(cfg.Storage.LockPath()); ok {
			fmt.Printf("lock: held by pid %d since %s\n", rec.PID, rec.AcquiredAt.Format(time.RFC3339))
		} else {
			fmt.Println("lock: free")
		}

		journal, err := state.OpenJournal(cfg.Storage.JournalPath)
		if err != nil {
			return err
		}
		defer journal.Close()

		entries, err := journal.Recent(cmd.Context(), statusLimit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("no recorded attempts")
			return nil
		}

		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STARTED\tTARGET\tSTAGE\tOUTCOME\tDURATION\tDETAIL")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				e.StartedAt.Local().Format("2006-01-02 15:04:05"),
				e.TargetDate, e.Stage, e.Outcome,
				e.Duration.Round(time.Second), e.Detail)
		}
		return w.Flush()
	},
}
