// Package agent wires the sync pipeline together: lock, resolve, probe,
// download, update, persist. One invocation runs the pipeline to completion
// exactly once; overlapping invocations exit early at the lock.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/afanty2021/qlib-sub000/internal/calendar"
	"github.com/afanty2021/qlib-sub000/internal/config"
	"github.com/afanty2021/qlib-sub000/internal/dataset"
	"github.com/afanty2021/qlib-sub000/internal/lockfile"
	"github.com/afanty2021/qlib-sub000/internal/remote"
	"github.com/afanty2021/qlib-sub000/internal/state"
)

// sanityBound rejects datasets whose calendar index ends implausibly far in
// the past; qlib archives always reach well past this.
var sanityBound = calendar.Date{Year: 2008, Month: time.January, Day: 1}

// Agent runs one scheduled sync invocation.
type Agent struct {
	lock     *lockfile.Lock
	resolver *Resolver
	store    *state.Store
	targets  *state.Store
	journal  *state.Journal
	remote   *remote.Client
	updater  *dataset.Updater
	log      *slog.Logger
	now      func() time.Time
}

// New builds an Agent from configuration. The returned agent owns no
// resources until Run is called except the journal, which Close releases.
func New(cfg *config.Config, log *slog.Logger) (*Agent, error) {
	holidays, err := calendar.LoadHolidays(cfg.Calendar.HolidaysFile)
	if err != nil {
		return nil, err
	}
	cal := calendar.New(holidays, cfg.Calendar.MaxWalkDays)

	store := state.NewStore(cfg.Storage.StatePath())
	resolver, err := NewResolver(cal, store, cfg.Sync.WindowStart, cfg.Sync.WindowEnd, log)
	if err != nil {
		return nil, err
	}

	journal, err := state.OpenJournal(cfg.Storage.JournalPath)
	if err != nil {
		return nil, err
	}

	client := remote.NewClient(remote.Options{
		BaseURL:    cfg.Remote.BaseURL,
		KeyPattern: cfg.Remote.KeyPattern,
		ScratchDir: cfg.Storage.ScratchDir,
		MaxRetries: cfg.Sync.MaxRetries,
		RetryDelay: cfg.Sync.RetryDelay(),
		Timeout:    cfg.Remote.HTTPTimeout(),
		Logger:     log,
	})

	updater := dataset.NewUpdater(
		cfg.Storage.DataDir,
		cfg.Storage.DataDir+".bak",
		dataset.Policy{SanityBound: sanityBound, MaxLagDays: cfg.Sync.MaxLagDays},
		log,
	)

	return &Agent{
		lock:     lockfile.New(cfg.Storage.LockPath(), cfg.Sync.LockStaleness()),
		resolver: resolver,
		store:    store,
		targets:  state.NewStore(cfg.Storage.TargetPath()),
		journal:  journal,
		remote:   client,
		updater:  updater,
		log:      log,
		now:      time.Now,
	}, nil
}

// Close releases the agent's journal handle.
func (a *Agent) Close() error {
	if a.journal != nil {
		return a.journal.Close()
	}
	return nil
}

// Run executes one sync invocation. A nil return covers both a committed
// sync and every expected no-op (lock held elsewhere, outside the window,
// already synced, release not yet published); the caller maps any error to
// a non-zero exit.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.lock.Acquire(); err != nil {
		if errors.Is(err, lockfile.ErrAlreadyRunning) {
			a.log.Info("another invocation holds the lock; exiting", "detail", err.Error())
			return nil
		}
		return err
	}
	defer func() {
		if err := a.lock.Release(); err != nil {
			a.log.Error("releasing lock", "error", err)
		}
	}()

	started := a.now()

	if !a.resolver.ShouldCheck(started) {
		a.log.Info("outside check window or nothing to wait for; exiting")
		a.record(ctx, started, "", "window", "noop", "outside check window or nothing to wait for")
		return nil
	}

	target, err := a.resolver.Resolve(started)
	if err != nil {
		a.log.Error("cannot resolve target date; holiday list may need updating", "error", err)
		a.record(ctx, started, "", "resolve", "failed", err.Error())
		return err
	}
	log := a.log.With("target", target.String())

	if last, ok := a.store.Read(); ok && !last.Before(target) {
		log.Info("target already synced", "last_sync", last.String())
		a.record(ctx, started, target.String(), "state", "noop", "already synced")
		return nil
	}
	// A release can lag its own target: the archive for target day T may
	// top out at an earlier calendar date. The watermark alone would then
	// re-download the same release on every invocation for the rest of the
	// window, so the satisfied target is tracked separately.
	if sat, ok := a.targets.Read(); ok && !sat.Before(target) {
		log.Info("release for target already applied", "satisfied_target", sat.String())
		a.record(ctx, started, target.String(), "state", "noop", "release already applied")
		return nil
	}

	exists, err := a.remote.Exists(ctx, target)
	if err != nil {
		return err
	}
	if !exists {
		log.Info("release not yet published")
		a.record(ctx, started, target.String(), "probe", "noop", "not yet published")
		return nil
	}

	log.Info("release published, downloading")
	artifact, err := a.remote.Fetch(ctx, target)
	if err != nil {
		log.Error("download failed", "error", err)
		a.record(ctx, started, target.String(), "download", "failed", err.Error())
		return err
	}

	res, err := a.updater.Apply(artifact, target)
	if err != nil {
		log.Error("dataset update failed and was rolled back", "error", err)
		a.record(ctx, started, target.String(), "update", "failed", err.Error())
		a.remote.CleanScratch(target)
		return err
	}

	if err := a.store.Write(res.MaxDate); err != nil {
		// The dataset is committed; losing the watermark only costs a
		// redundant re-check next invocation.
		log.Error("persisting sync state", "error", err)
	}
	if err := a.targets.Write(target); err != nil {
		log.Error("persisting satisfied target", "error", err)
	}

	log.Info("sync committed", "dataset_max_date", res.MaxDate.String(),
		"elapsed", a.now().Sub(started).Round(time.Second).String())
	a.record(ctx, started, target.String(), "commit", "synced", "max date "+res.MaxDate.String())
	return nil
}

// record appends a journal entry, logging rather than failing when the
// journal is unavailable.
func (a *Agent) record(ctx context.Context, started time.Time, target, stage, outcome, detail string) {
	if a.journal == nil {
		return
	}
	err := a.journal.Record(ctx, state.Entry{
		StartedAt:  started,
		TargetDate: target,
		Stage:      stage,
		Outcome:    outcome,
		Detail:     detail,
		Duration:   a.now().Sub(started),
	})
	if err != nil {
		a.log.Warn("recording journal entry", "error", err)
	}
}
