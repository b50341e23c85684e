package app

import (
	"context"
	"time"

	"bidwatch/internal/config"
	"bidwatch/internal/scheduler"
	logx "bidwatch/pkg/logx"
	"bidwatch/pkg/systemd"
)

const shutdownTimeout = 30 * time.Second

// Daemon runs the pipeline on scheduler.schedule until ctx is done. The first
// run starts immediately. The config file is watched and each run uses the
// latest validated config.
func (a *App) Daemon(ctx context.Context) error {
	cfg := a.cfgm.Get()
	loc, err := config.LoadLocation("scheduler.timezone", cfg.Scheduler.Timezone)
	if err != nil {
		return err
	}

	g := newGroup(ctx, a.log)
	runner := scheduler.NewRunner(loc, a.log)
	err = runner.Start(g.ctx, cfg.Scheduler.Schedule, func(ctx context.Context) error {
		_, err := a.RunOnce(ctx)
		return err
	})
	if err != nil {
		g.cancel()
		return err
	}

	sub := a.cfgm.Subscribe(4)
	g.run("config.watch", a.cfgm.Watch)
	g.run("config.apply", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		last := cfg
		for {
			select {
			case <-c.Done():
				return nil
			case next, ok := <-sub:
				if !ok {
					return nil
				}
				a.applyConfig(last, next, runner)
				last = next
			}
		}
	})
	g.run("run.initial", func(context.Context) error {
		runner.Trigger()
		return nil
	})
	g.run("systemd.watchdog", systemd.Watchdog)

	if sent, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify READY failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify READY sent")
	}
	_, _ = systemd.Status("next run " + runner.Next().Format(time.RFC3339))

	<-g.ctx.Done()
	a.log.Info("shutting down")
	if _, err := systemd.Stopping(); err != nil {
		a.log.Warn("sd_notify STOPPING failed", logx.Err(err))
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	runner.Stop(sctx)
	if err := g.stop(sctx); err != nil {
		a.log.Warn("daemon stopped with error", logx.Err(err))
		return err
	}
	return nil
}
