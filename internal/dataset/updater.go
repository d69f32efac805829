// Package dataset applies a downloaded release artifact to the live dataset
// directory with a backup, validate, commit-or-rollback protocol, so the
// live tree is never observed half-written.
package dataset

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/afanty2021/qlib-sub000/internal/archive"
	"github.com/afanty2021/qlib-sub000/internal/calendar"
)

// ErrInvalid reports a post-extraction dataset that fails structural
// validation.
var ErrInvalid = errors.New("dataset failed validation")

// Updater owns the live dataset directory and its backup snapshot. No other
// component writes to either.
type Updater struct {
	liveDir   string
	backupDir string
	policy    Policy
	log       *slog.Logger
}

// Policy tunes post-extraction validation.
type Policy struct {
	// SanityBound rejects datasets whose newest calendar entry is
	// implausibly old, a sign the archive carried the wrong content.
	SanityBound calendar.Date
	// MaxLagDays bounds how far the dataset's newest calendar entry may
	// trail the target date. Zero tolerates unlimited publication lag.
	MaxLagDays int
}

// Result reports a committed update.
type Result struct {
	// MaxDate is the newest date in the dataset's calendar index, which may
	// trail the target date when publication lags.
	MaxDate calendar.Date
}

// NewUpdater creates an Updater for the live dataset at liveDir, keeping
// its backup snapshot at backupDir.
func NewUpdater(liveDir, backupDir string, policy Policy, log *slog.Logger) *Updater {
	if log == nil {
		log = slog.Default()
	}
	return &Updater{liveDir: liveDir, backupDir: backupDir, policy: policy, log: log}
}

// Apply replaces the live dataset with the contents of the artifact at
// artifactPath: back up the current tree, extract over it, validate the
// result, then either commit (deleting artifact and backup) or roll the
// previous tree back. On any error the live dataset is exactly what it was
// before the call.
func (u *Updater) Apply(artifactPath string, target calendar.Date) (Result, error) {
	hadLive, err := u.backup()
	if err != nil {
		return Result{}, fmt.Errorf("backing up dataset: %w", err)
	}

	if err := archive.Extract(artifactPath, u.liveDir); err != nil {
		u.rollback(hadLive)
		return Result{}, fmt.Errorf("extracting artifact: %w", err)
	}

	maxDate, err := u.validate(target)
	if err != nil {
		u.rollback(hadLive)
		return Result{}, err
	}

	// Committed: the artifact and the backup are no longer needed.
	if err := os.Remove(artifactPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		u.log.Warn("removing committed artifact", "path", artifactPath, "error", err)
	}
	if err := os.RemoveAll(u.backupDir); err != nil {
		u.log.Warn("removing backup snapshot", "path", u.backupDir, "error", err)
	}

	return Result{MaxDate: maxDate}, nil
}

// backup copies the live tree to the backup location, replacing any stale
// snapshot from an earlier interrupted run, then empties the live directory
// so extraction produces the new snapshot alone rather than a union with
// leftover files. Returns whether a live tree existed; a first-ever sync
// starts from an empty directory instead.
func (u *Updater) backup() (hadLive bool, err error) {
	if _, err := os.Stat(u.liveDir); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(u.liveDir, 0o755); err != nil {
			return false, err
		}
		return false, nil
	} else if err != nil {
		return false, err
	}

	if err := os.RemoveAll(u.backupDir); err != nil {
		return true, fmt.Errorf("clearing stale backup: %w", err)
	}
	if err := copyTree(u.liveDir, u.backupDir); err != nil {
		return true, err
	}
	if err := os.RemoveAll(u.liveDir); err != nil {
		return true, fmt.Errorf("clearing live dataset: %w", err)
	}
	if err := os.MkdirAll(u.liveDir, 0o755); err != nil {
		return true, err
	}
	return true, nil
}

// rollback discards the mutated live tree and restores the backup snapshot.
// The backup is a full copy, so a plain rename puts the previous tree back.
func (u *Updater) rollback(hadLive bool) {
	if err := os.RemoveAll(u.liveDir); err != nil {
		u.log.Error("removing failed dataset during rollback", "error", err)
		return
	}
	if !hadLive {
		return
	}
	if err := os.Rename(u.backupDir, u.liveDir); err != nil {
		u.log.Error("restoring backup snapshot", "error", err)
		return
	}
	u.log.Info("dataset rolled back to previous snapshot", "path", u.liveDir)
}
