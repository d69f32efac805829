package agent

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/afanty2021/qlib-sub000/internal/calendar"
	"github.com/afanty2021/qlib-sub000/internal/config"
	"github.com/afanty2021/qlib-sub000/internal/lockfile"
	"github.com/afanty2021/qlib-sub000/internal/util"
)

// artifactBytes builds a valid release archive with the given calendar
// index contents.
func artifactBytes(t *testing.T, calendarIndex string) []byte {
	t.Helper()
	files := map[string]string{
		"qlib_data/calendars/day.txt":               calendarIndex,
		"qlib_data/instruments/all.txt":             "SH600000\t2008-01-02\t2026-08-28\n",
		"qlib_data/features/sh600000/close.day.bin": "binary",
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type testServer struct {
	*httptest.Server
	heads, gets atomic.Int64
	payload     atomic.Pointer[[]byte]
	published   atomic.Bool
}

// newReleaseServer serves one artifact at the Friday 2026-08-28 key once
// published is set.
func newReleaseServer(t *testing.T, payload []byte) *testServer {
	t.Helper()
	ts := &testServer{}
	ts.payload.Store(&payload)
	ts.published.Store(true)
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/qlib_bin_20260828.tar.gz" || !ts.published.Load() {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch r.Method {
		case http.MethodHead:
			ts.heads.Add(1)
		case http.MethodGet:
			ts.gets.Add(1)
			w.Write(*ts.payload.Load())
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

// newTestAgent builds an Agent against the given server with all state
// rooted in a temp dir. The clock is pinned to Friday 2026-08-28 17:00
// local, inside the default check window.
func newTestAgent(t *testing.T, baseURL string) (*Agent, *config.Config) {
	t.Helper()
	root := t.TempDir()

	holidaysPath := filepath.Join(root, "holidays.yaml")
	if err := calendar.WriteHolidays(holidaysPath, "test", nil); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{}
	cfg.Storage.DataDir = filepath.Join(root, "cn_data")
	cfg.Storage.ScratchDir = filepath.Join(root, "scratch")
	cfg.Storage.RuntimeDir = filepath.Join(root, "run")
	cfg.Storage.JournalPath = filepath.Join(root, "run", "journal.db")
	cfg.Remote.BaseURL = baseURL
	cfg.Remote.KeyPattern = "qlib_bin_%s.tar.gz"
	cfg.Remote.HTTPTimeoutSecs = 5
	cfg.Sync.WindowStart = "16:00"
	cfg.Sync.WindowEnd = "22:00"
	cfg.Sync.MaxRetries = 2
	cfg.Sync.LockStalenessSecs = 3600
	cfg.Calendar.HolidaysFile = holidaysPath
	cfg.Calendar.MaxWalkDays = 9

	a, err := New(cfg, util.NewLogger(io.Discard, "error"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { a.Close() })

	a.now = func() time.Time {
		return time.Date(2026, time.August, 28, 17, 0, 0, 0, time.Local)
	}
	return a, cfg
}

func TestRunFullPipeline(t *testing.T) {
	srv := newReleaseServer(t, artifactBytes(t, "2026-08-27\n2026-08-28\n"))
	a, cfg := newTestAgent(t, srv.URL)

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Dataset is in place.
	if _, err := os.Stat(filepath.Join(cfg.Storage.DataDir, "calendars", "day.txt")); err != nil {
		t.Errorf("live dataset missing after sync: %v", err)
	}
	// State records the dataset's max date.
	data, err := os.ReadFile(cfg.Storage.StatePath())
	if err != nil {
		t.Fatalf("state record missing: %v", err)
	}
	if string(data) != "2026-08-28\n" {
		t.Errorf("state record = %q, want 2026-08-28", data)
	}
	// Lock released, scratch clean, backup gone.
	if _, ok := lockfile.Inspect(cfg.Storage.LockPath()); ok {
		t.Error("lock record left behind")
	}
	entries, _ := os.ReadDir(cfg.Storage.ScratchDir)
	if len(entries) != 0 {
		t.Errorf("scratch dir not empty after commit: %v", entries)
	}
	if _, err := os.Stat(cfg.Storage.DataDir + ".bak"); !os.IsNotExist(err) {
		t.Error("backup snapshot left behind after commit")
	}

	if srv.gets.Load() != 1 {
		t.Errorf("server saw %d downloads, want 1", srv.gets.Load())
	}
}

func TestRunIdempotent(t *testing.T) {
	srv := newReleaseServer(t, artifactBytes(t, "2026-08-28\n"))
	a, _ := newTestAgent(t, srv.URL)

	for i := 0; i < 3; i++ {
		if err := a.Run(context.Background()); err != nil {
			t.Fatalf("Run #%d: %v", i+1, err)
		}
	}

	// Only the first invocation downloads; the rest short-circuit on state.
	if srv.gets.Load() != 1 {
		t.Errorf("server saw %d downloads across 3 runs, want 1", srv.gets.Load())
	}
	if srv.heads.Load() != 1 {
		t.Errorf("server saw %d probes across 3 runs, want 1", srv.heads.Load())
	}
}

func TestRunNotYetPublished(t *testing.T) {
	srv := newReleaseServer(t, artifactBytes(t, "2026-08-28\n"))
	srv.published.Store(false)
	a, cfg := newTestAgent(t, srv.URL)

	// Three invocations find nothing; the fourth finds the release.
	for i := 0; i < 3; i++ {
		if err := a.Run(context.Background()); err != nil {
			t.Fatalf("Run #%d: %v", i+1, err)
		}
	}
	if srv.gets.Load() != 0 {
		t.Error("agent downloaded before the release was published")
	}
	if _, err := os.Stat(cfg.Storage.StatePath()); !os.IsNotExist(err) {
		t.Error("state written without a successful sync")
	}

	srv.published.Store(true)
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run after publication: %v", err)
	}
	if srv.gets.Load() != 1 {
		t.Errorf("server saw %d downloads, want exactly 1", srv.gets.Load())
	}
	data, err := os.ReadFile(cfg.Storage.StatePath())
	if err != nil || string(data) != "2026-08-28\n" {
		t.Errorf("state = %q err=%v, want one commit of 2026-08-28", data, err)
	}
}

func TestRunOutsideWindow(t *testing.T) {
	srv := newReleaseServer(t, artifactBytes(t, "2026-08-28\n"))
	a, _ := newTestAgent(t, srv.URL)
	a.now = func() time.Time {
		return time.Date(2026, time.August, 28, 9, 0, 0, 0, time.Local)
	}

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if srv.heads.Load() != 0 || srv.gets.Load() != 0 {
		t.Error("agent touched the remote outside the check window")
	}
}

func TestRunLockHeldElsewhere(t *testing.T) {
	srv := newReleaseServer(t, artifactBytes(t, "2026-08-28\n"))
	a, cfg := newTestAgent(t, srv.URL)

	// Simulate a concurrent live invocation.
	rec, _ := json.Marshal(lockfile.Record{PID: os.Getpid(), AcquiredAt: time.Now()})
	if err := os.MkdirAll(cfg.Storage.RuntimeDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfg.Storage.LockPath(), rec, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run while locked should be a clean no-op, got: %v", err)
	}
	if srv.heads.Load() != 0 || srv.gets.Load() != 0 {
		t.Error("agent reached the remote despite a held lock")
	}
	// The foreign lock record is untouched.
	if _, ok := lockfile.Inspect(cfg.Storage.LockPath()); !ok {
		t.Error("foreign lock record was removed")
	}
}

func TestRunDownloadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			return // published
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a, cfg := newTestAgent(t, srv.URL)
	if err := a.Run(context.Background()); err == nil {
		t.Fatal("Run should fail when download retries exhaust")
	}

	if _, err := os.Stat(cfg.Storage.StatePath()); !os.IsNotExist(err) {
		t.Error("state advanced despite failed download")
	}
	// Lock released even on the failure path.
	if _, ok := lockfile.Inspect(cfg.Storage.LockPath()); ok {
		t.Error("lock record left behind after failure")
	}
}

func TestRunValidationFailureRollsBack(t *testing.T) {
	// Archive is a well-formed container missing the instrument index, so
	// it passes download verification and fails dataset validation.
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	content := "2026-08-28\n"
	hdr := &tar.Header{Name: "qlib_data/calendars/day.txt", Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(content))}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	tw.Close()
	gz.Close()

	srv := newReleaseServer(t, buf.Bytes())
	a, cfg := newTestAgent(t, srv.URL)

	// Seed an existing live dataset that must survive the failed update.
	seed := filepath.Join(cfg.Storage.DataDir, "calendars")
	if err := os.MkdirAll(seed, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(seed, "day.txt"), []byte("2026-08-27\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := a.Run(context.Background()); err == nil {
		t.Fatal("Run should fail on validation")
	}

	data, err := os.ReadFile(filepath.Join(seed, "day.txt"))
	if err != nil {
		t.Fatalf("live dataset gone after rollback: %v", err)
	}
	if string(data) != "2026-08-27\n" {
		t.Errorf("live dataset contents = %q, want the pre-update snapshot", data)
	}
	if _, err := os.Stat(cfg.Storage.StatePath()); !os.IsNotExist(err) {
		t.Error("state advanced despite rollback")
	}
}

func TestRunJournalsOutcomes(t *testing.T) {
	srv := newReleaseServer(t, artifactBytes(t, "2026-08-28\n"))
	a, _ := newTestAgent(t, srv.URL)

	// A commit, an already-synced no-op, and an outside-window no-op all
	// leave one journal entry each.
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("repeat Run: %v", err)
	}
	a.now = func() time.Time {
		return time.Date(2026, time.August, 28, 9, 0, 0, 0, time.Local)
	}
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("out-of-window Run: %v", err)
	}

	entries, err := a.journal.Recent(context.Background(), 5)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("journal has %d entries, want 3", len(entries))
	}
	// Newest first.
	if entries[0].Stage != "window" || entries[0].Outcome != "noop" {
		t.Errorf("entry[0] = %+v, want a window/noop record", entries[0])
	}
	if entries[1].Stage != "state" || entries[1].Outcome != "noop" {
		t.Errorf("entry[1] = %+v, want a state/noop record", entries[1])
	}
	if entries[2].Outcome != "synced" || entries[2].Stage != "commit" {
		t.Errorf("entry[2] = %+v, want a commit/synced record", entries[2])
	}
	if entries[2].TargetDate != "2026-08-28" {
		t.Errorf("journal target = %q", entries[2].TargetDate)
	}
}

func TestRunLaggingReleaseFetchedOnce(t *testing.T) {
	// The Friday release tops out at Thursday's calendar date, so the
	// watermark alone never reaches the target. The satisfied-target record
	// must stop the agent from re-downloading the same release all day.
	srv := newReleaseServer(t, artifactBytes(t, "2026-08-26\n2026-08-27\n"))
	a, cfg := newTestAgent(t, srv.URL)

	for i := 0; i < 3; i++ {
		if err := a.Run(context.Background()); err != nil {
			t.Fatalf("Run #%d: %v", i+1, err)
		}
	}

	if srv.gets.Load() != 1 {
		t.Errorf("server saw %d downloads across 3 runs, want 1", srv.gets.Load())
	}
	if srv.heads.Load() != 1 {
		t.Errorf("server saw %d probes across 3 runs, want 1", srv.heads.Load())
	}
	// The watermark still records the dataset's own max date.
	data, err := os.ReadFile(cfg.Storage.StatePath())
	if err != nil || string(data) != "2026-08-27\n" {
		t.Errorf("state = %q err=%v, want the dataset max date 2026-08-27", data, err)
	}
	sat, err := os.ReadFile(cfg.Storage.TargetPath())
	if err != nil || string(sat) != "2026-08-28\n" {
		t.Errorf("satisfied target = %q err=%v, want 2026-08-28", sat, err)
	}
}
