package main

import (
	"fmt"
	"time"

	"github.com/afanty2021/qlib-sub000/internal/lockfile"
	"github.com/spf13/cobra"
)

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Force-clear a stuck lock record",
	Long: `Unlock removes the lock record regardless of owner. Only needed when
a lock somehow outlives both its owning process and the staleness threshold;
a normal crashed run reclaims its own lock on the next invocation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		path := cfg.Storage.LockPath()
		if rec, ok := lockfile.Inspect(path); ok {
			fmt.Printf("clearing lock held by pid %d since %s\n",
				rec.PID, rec.AcquiredAt.Format(time.RFC3339))
		} else {
			fmt.Println("no lock record found")
		}
		return lockfile.ForceClear(path)
	},
}
