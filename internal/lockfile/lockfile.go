// Package lockfile guards the sync pipeline against overlapping scheduler
// invocations with a pid-stamped lock file. A lock whose owner is dead, or
// whose record is older than the staleness threshold, is reclaimed by the
// next invocation, so an unclean kill never wedges the agent permanently.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// ErrAlreadyRunning reports that another live invocation holds the lock.
// This is the expected outcome of overlapping invocations, not a fault.
var ErrAlreadyRunning = errors.New("another sync invocation is already running")

// Record is the lock file's JSON payload.
type Record struct {
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Lock is a file-backed mutual exclusion guard for one agent installation.
type Lock struct {
	path      string
	staleness time.Duration
	held      bool
}

// New creates a Lock at path with the given staleness threshold.
func New(path string, staleness time.Duration) *Lock {
	return &Lock{path: path, staleness: staleness}
}

// Acquire takes the lock for the current process. It returns
// ErrAlreadyRunning when a live, non-stale owner holds it; a record with a
// dead owner or one older than the staleness threshold is discarded and
// replaced.
func (l *Lock) Acquire() error {
	if data, err := os.ReadFile(l.path); err == nil {
		if rec, ok := decodeRecord(data); ok && l.current(rec) {
			return fmt.Errorf("lock held by pid %d since %s: %w",
				rec.PID, rec.AcquiredAt.Format(time.RFC3339), ErrAlreadyRunning)
		}
		// Dead owner, stale record, or unreadable record: reclaim.
		if err := l.reclaim(); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("creating lock dir: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, fs.ErrExist) {
		// Lost the race to another invocation between read and create.
		return ErrAlreadyRunning
	}
	if err != nil {
		return fmt.Errorf("creating lock file: %w", err)
	}

	rec := Record{PID: os.Getpid(), AcquiredAt: time.Now()}
	if err := json.NewEncoder(f).Encode(rec); err != nil {
		f.Close()
		os.Remove(l.path)
		return fmt.Errorf("writing lock record: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(l.path)
		return fmt.Errorf("closing lock file: %w", err)
	}

	l.held = true
	return nil
}

// reclaim discards a dead, stale, or unreadable lock record. Competing
// invocations may decide to reclaim the same record at the same time, so
// the record is first renamed aside: only the invocation that wins the
// rename may discard it, and the renamed record is re-checked in case a
// competitor replaced it with a live one between the read and the rename.
func (l *Lock) reclaim() error {
	aside := l.path + ".reclaim"
	if err := os.Rename(l.path, aside); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// A competitor reclaimed it first; contend on create below.
			return nil
		}
		return fmt.Errorf("reclaiming lock record: %w", err)
	}
	if data, err := os.ReadFile(aside); err == nil {
		if rec, ok := decodeRecord(data); ok && l.current(rec) {
			// A competitor already reclaimed and re-acquired; put its
			// record back where it belongs.
			if err := os.Rename(aside, l.path); err != nil {
				return fmt.Errorf("restoring lock record: %w", err)
			}
			return fmt.Errorf("lock held by pid %d since %s: %w",
				rec.PID, rec.AcquiredAt.Format(time.RFC3339), ErrAlreadyRunning)
		}
	}
	if err := os.Remove(aside); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("discarding stale lock record: %w", err)
	}
	return nil
}

// current reports whether rec names a live owner within the staleness
// threshold.
func (l *Lock) current(rec Record) bool {
	return processAlive(rec.PID) && time.Since(rec.AcquiredAt) < l.staleness
}

func decodeRecord(data []byte) (Record, bool) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false
	}
	return rec, true
}

// Release removes the lock file if this Lock holds it. Safe to call on
// every exit path; releasing an unheld lock is a no-op.
func (l *Lock) Release() error {
	if !l.held {
		return nil
	}
	l.held = false
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing lock file: %w", err)
	}
	return nil
}

// Held reports whether this Lock currently holds the file.
func (l *Lock) Held() bool { return l.held }

// ForceClear removes the lock record at path regardless of owner. Intended
// for the operator-facing unlock command.
func ForceClear(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clearing lock file: %w", err)
	}
	return nil
}

// Inspect returns the current lock record at path, if one exists.
func Inspect(path string) (Record, bool) {
	l := &Lock{path: path}
	rec, err := l.read()
	if err != nil {
		return Record{}, false
	}
	return rec, true
}

func (l *Lock) read() (Record, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		// A record we cannot parse is treated as absent and gets replaced.
		return Record{}, fmt.Errorf("parsing lock record: %w", err)
	}
	return rec, nil
}
