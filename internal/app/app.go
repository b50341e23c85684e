// Package app is the composition root: it turns a validated config into the
// pipeline's collaborators and runs it once or on a schedule.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bidwatch/internal/config"
	"bidwatch/internal/g2b"
	"bidwatch/internal/notifier"
	"bidwatch/internal/pipeline"
	"bidwatch/internal/scheduler"
	"bidwatch/internal/storage"
	logx "bidwatch/pkg/logx"
)

type Options struct {
	// Daemon requires a valid scheduler.schedule even when
	// scheduler.enabled is false.
	Daemon bool
}

type App struct {
	cfgm *config.ConfigManager
	opts Options

	log  logx.Logger
	logs *logx.Service

	// store is opened once; storage changes need a restart.
	store     storage.Store
	storeConf storage.Config
}

// New loads and validates config, starts logging and opens storage.
func New(ctx context.Context, cfgm *config.ConfigManager, opts Options) (*App, error) {
	a := &App{cfgm: cfgm, opts: opts}
	cfgm.SetValidator(a.validate)

	cfg, err := cfgm.Load(ctx)
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLogConfig(cfg))
	a.logs = logs
	a.log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	a.store = st
	a.storeConf = sc
	a.log.Info("bidwatch ready",
		logx.String("config", cfgm.Path()),
		logx.String("storage", sc.Driver),
		logx.Bool("render", cfg.Render.Enabled),
		logx.Bool("notify", cfg.Notifier.Enabled),
	)
	return a, nil
}

// validate runs on Load and on every hot reload, after config.Validate.
func (a *App) validate(ctx context.Context, cfg *config.Config) error {
	if a.opts.Daemon || cfg.Scheduler.Enabled {
		if _, err := scheduler.ParseSchedule(cfg.Scheduler.Schedule); err != nil {
			return fmt.Errorf("scheduler.schedule: %w", err)
		}
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	d, err := cfg.Durations()
	if err != nil {
		return err
	}
	// Construct senders so a bad webhook URL is rejected before it is used.
	_, err = buildSenders(cfg, d)
	return err
}

func (a *App) Logger() logx.Logger { return a.log }

func (a *App) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.logs != nil {
		errs = append(errs, a.logs.Close())
	}
	return errors.Join(errs...)
}

// RunOnce performs one pipeline pass with the current config and waits for
// queued notifications to drain. The error, if any, is fatal for this run.
func (a *App) RunOnce(ctx context.Context) (pipeline.Report, error) {
	cfg := a.cfgm.Get()
	d, err := cfg.Durations()
	if err != nil {
		return pipeline.Report{}, err
	}
	loc, err := config.LoadLocation("g2b.timezone", cfg.G2B.Timezone)
	if err != nil {
		return pipeline.Report{}, err
	}

	senders, err := buildSenders(cfg, d)
	if err != nil {
		return pipeline.Report{}, err
	}
	notif := notifier.New(mapNotifierConfig(cfg, d), a.log.With(logx.String("comp", "notifier")), senders...)
	notif.Start(ctx)

	pub, err := buildPublisher(cfg)
	if err != nil {
		notif.Stop(ctx)
		return pipeline.Report{}, err
	}

	deps := pipeline.Deps{
		Store:     a.store,
		Fetcher:   g2b.NewClient(mapG2BConfig(cfg, d), a.log.With(logx.String("comp", "g2b"))),
		Publisher: pub,
		Logger:    a.log.With(logx.String("comp", "pipeline")),
	}
	if notif.Enabled() {
		deps.Notifier = notif
	}
	p, err := pipeline.New(pipeline.Config{Filter: cfg.Filter, Now: clockIn(loc)}, deps)
	if err != nil {
		notif.Stop(ctx)
		return pipeline.Report{}, err
	}

	start := time.Now()
	rep, runErr := p.Run(ctx)

	// Drain even when ctx is already canceled; the drain timeout bounds it.
	// A live run waits long enough for the paced senders to empty the queue.
	drain := d.DrainTimeout
	if ctx.Err() == nil {
		drain = max(drain, notif.DrainTime())
	}
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drain)
	stats := notif.Stop(dctx)
	cancel()

	fields := []logx.Field{
		logx.Int("fetched", rep.Fetched),
		logx.Int("new", rep.Accepted),
		logx.Int("duplicates", rep.Duplicates),
		logx.Int("rejected", rep.Rejected),
		logx.Int("malformed", rep.Malformed),
		logx.Int("total", rep.Total),
		logx.Int("notified", stats.Sent),
		logx.Int("notify_failed", stats.Failed+stats.Dropped+len(rep.NotifyErrs)),
		logx.Duration("took", time.Since(start)),
	}
	if runErr != nil {
		a.log.Error("run aborted; state unchanged", append(fields, logx.Err(runErr))...)
		return rep, runErr
	}
	if rep.RenderErr != nil {
		fields = append(fields, logx.String("render_err", rep.RenderErr.Error()))
	}
	a.log.Info("run finished", fields...)
	return rep, nil
}

// applyConfig reacts to a hot reload. The store is not reopened.
func (a *App) applyConfig(prev, next *config.Config, runner *scheduler.Runner) {
	a.logs.Apply(mapLogConfig(next))
	if sc, err := mapStorageConfig(next); err == nil && sc != a.storeConf {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if runner != nil && strings.TrimSpace(prev.Scheduler.Schedule) != strings.TrimSpace(next.Scheduler.Schedule) {
		if err := runner.Reschedule(next.Scheduler.Schedule); err != nil {
			a.log.Warn("reschedule failed; keeping previous schedule", logx.Err(err))
		}
	}
	if prev.Scheduler.Timezone != next.Scheduler.Timezone {
		a.log.Warn("scheduler timezone changed; restart required for changes to take effect")
	}
}
