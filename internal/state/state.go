// Package state persists the agent's sync watermark: the calendar date of
// the last successfully committed dataset update, plus an append-only
// journal of attempt outcomes for operators.
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/afanty2021/qlib-sub000/internal/calendar"
)

// Store holds the last successful sync date in a single human-readable file
// containing one ISO date string. The file is safe to delete; a missing or
// corrupt record reads as "no prior sync".
type Store struct {
	path string
}

// NewStore creates a Store backed by the file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Read returns the last successful sync date. ok is false when the record
// is missing or does not parse.
func (s *Store) Read() (date calendar.Date, ok bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return calendar.Date{}, false
	}
	d, err := calendar.ParseDate(strings.TrimSpace(string(data)))
	if err != nil {
		return calendar.Date{}, false
	}
	return d, true
}

// Write records date as the last successful sync. The record is written to
// a temporary file and renamed into place so a crash never leaves a
// half-written record.
func (s *Store) Write(date calendar.Date) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(date.String()+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("committing state: %w", err)
	}
	return nil
}
