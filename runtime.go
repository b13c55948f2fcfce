package timekeep

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"timekeep/config"
	"timekeep/eventbus"
	"timekeep/history"
	"timekeep/logx"
	"timekeep/persist"
	"timekeep/scheduler"
	"timekeep/store"
)

// jobsFile is the job-list file name inside the data directory.
const jobsFile = "jobs.json"

// Runtime bundles one scheduler, one store registry and their shared plumbing.
//
// It is an explicit instance, never a package-level singleton: tests and
// multi-tenant hosts construct as many runtimes as they need, each owning its
// own data directory.
type Runtime struct {
	log  logx.Logger
	logs *logx.Service

	Bus       eventbus.Bus
	Scheduler *scheduler.Scheduler
	Stores    *store.Registry

	hist history.Recorder
}

// Open builds a Runtime from cfg. It validates durations, initializes logging,
// opens the history recorder (if configured) and constructs the scheduler and
// registry. It does not touch timers: call Restore() next.
func Open(cfg config.Config) (*Runtime, error) {
	dataDir := strings.TrimSpace(cfg.DataDir)
	if dataDir == "" {
		return nil, errors.New("timekeep: data_dir is required")
	}

	debounce, err := config.ParseDurationOrDefault("debounce", cfg.Debounce, persist.DefaultDebounce)
	if err != nil {
		return nil, err
	}
	grace, err := config.ParseDurationOrDefault("restore_grace", cfg.RestoreGrace, scheduler.DefaultRestoreGrace)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "timekeep"))

	var hist history.Recorder
	if cfg.History != nil {
		busy, err := config.ParseDurationField("history.busy_timeout", cfg.History.BusyTimeout)
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		histPath := strings.TrimSpace(cfg.History.Path)
		if histPath == "" {
			histPath = filepath.Join(dataDir, "history.jsonl")
		}
		hist, err = history.Open(history.Config{
			Driver:      cfg.History.Driver,
			Path:        histPath,
			BusyTimeout: busy,
		}, log.With(logx.String("comp", "history")))
		if err != nil {
			_ = logSvc.Close()
			return nil, fmt.Errorf("timekeep: open history: %w", err)
		}
	}

	bus := eventbus.New()

	sched := scheduler.New(filepath.Join(dataDir, jobsFile),
		scheduler.WithLogger(log.With(logx.String("comp", "scheduler"))),
		scheduler.WithBus(bus),
		scheduler.WithHistory(hist),
		scheduler.WithDebounce(debounce),
		scheduler.WithRestoreGrace(grace),
	)

	stores := store.NewRegistry(dataDir,
		store.WithLogger(log.With(logx.String("comp", "store"))),
		store.WithBus(bus),
		store.WithDebounce(debounce),
	)

	return &Runtime{
		log:       log,
		logs:      logSvc,
		Bus:       bus,
		Scheduler: sched,
		Stores:    stores,
		hist:      hist,
	}, nil
}

// Restore reloads persisted jobs and re-arms their timers. Call it once after
// registering actions and before the host starts scheduling new work.
func (r *Runtime) Restore(ctx context.Context) error {
	return r.Scheduler.Restore(ctx)
}

// ApplyConfig applies the hot-reloadable subset of cfg: the logging sinks and
// level. Structural settings (data_dir, debounce, history driver) require a
// restart and are ignored here.
func (r *Runtime) ApplyConfig(cfg config.Config) {
	r.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	r.log.Debug("config applied", logx.String("level", cfg.Logging.Level))
}

// Close shuts the runtime down: flush + close the scheduler's job list, flush
// + close every named store, then release the history recorder and log sinks.
// Each step runs even if an earlier one fails; the combined error is returned.
func (r *Runtime) Close(ctx context.Context) error {
	start := time.Now()
	var errs []error

	if err := r.Scheduler.Close(ctx); err != nil {
		r.log.Warn("scheduler close failed", logx.Err(err))
		errs = append(errs, err)
	}
	if err := r.Stores.Close(ctx); err != nil {
		r.log.Warn("store close failed", logx.Err(err))
		errs = append(errs, err)
	}
	if r.hist != nil {
		if err := r.hist.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	r.log.Info("runtime stopped", logx.Duration("took", time.Since(start)))
	_ = r.logs.Close()
	return errors.Join(errs...)
}
