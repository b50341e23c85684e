package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	logx "bidwatch/pkg/logx"

	"github.com/robfig/cron/v3"
)

// Job is one triggered run. Its error is logged; it never stops the Runner.
type Job func(ctx context.Context) error

type Runner struct {
	log logx.Logger
	loc *time.Location

	mu      sync.Mutex
	c       *cron.Cron
	spec    ParsedSpec
	ctx     context.Context
	wrapped cron.Job
}

// NewRunner creates a stopped Runner. A nil loc means time.Local.
func NewRunner(loc *time.Location, log logx.Logger) *Runner {
	if loc == nil {
		loc = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{log: log.With(logx.String("comp", "scheduler")), loc: loc}
}

// Start schedules job on raw and starts triggering. job receives ctx.
func (r *Runner) Start(ctx context.Context, raw string, job Job) error {
	if job == nil {
		return errors.New("scheduler: job is nil")
	}
	spec, err := ParseSchedule(raw)
	if err != nil {
		return err
	}
	sched, err := spec.schedule()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil {
		return errors.New("scheduler: already started")
	}
	chain := cron.NewChain(cron.Recover(cronLogger{r.log}), cron.SkipIfStillRunning(cronLogger{r.log}))
	r.ctx = ctx
	r.wrapped = chain.Then(cron.FuncJob(func() { r.run(job) }))
	r.start(spec, sched)
	return nil
}

func (r *Runner) start(spec ParsedSpec, sched cron.Schedule) {
	r.spec = spec
	r.c = cron.New(cron.WithParser(defaultParser), cron.WithLocation(r.loc))
	r.c.Schedule(sched, r.wrapped)
	r.c.Start()
	r.log.Info("scheduler started",
		logx.String("schedule", spec.String()),
		logx.String("tz", r.loc.String()),
		logx.Time("next", r.nextLocked()),
	)
}

func (r *Runner) run(job Job) {
	start := time.Now()
	if err := job(r.ctx); err != nil {
		r.log.Error("scheduled run failed", logx.Err(err), logx.Duration("took", time.Since(start)))
		return
	}
	r.log.Debug("scheduled run finished", logx.Duration("took", time.Since(start)))
}

// Trigger runs the job now, in the caller's goroutine. It returns at once if
// a run is already in progress.
func (r *Runner) Trigger() {
	r.mu.Lock()
	j := r.wrapped
	r.mu.Unlock()
	if j != nil {
		j.Run()
	}
}

// Reschedule swaps the trigger without touching a run in progress. An equal
// schedule is a no-op.
func (r *Runner) Reschedule(raw string) error {
	spec, err := ParseSchedule(raw)
	if err != nil {
		return err
	}
	sched, err := spec.schedule()
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c == nil {
		return errors.New("scheduler: not started")
	}
	if spec == r.spec {
		return nil
	}
	r.c.Stop()
	r.start(spec, sched)
	return nil
}

// Next reports the next scheduled trigger; zero when stopped.
func (r *Runner) Next() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextLocked()
}

func (r *Runner) nextLocked() time.Time {
	if r.c == nil {
		return time.Time{}
	}
	entries := r.c.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	if !entries[0].Next.IsZero() {
		return entries[0].Next
	}
	return entries[0].Schedule.Next(time.Now().In(r.loc))
}

// Stop stops triggering and waits for a running job until ctx is done.
func (r *Runner) Stop(ctx context.Context) {
	r.mu.Lock()
	c := r.c
	r.c = nil
	r.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
		r.log.Info("scheduler stopped")
	case <-ctx.Done():
		r.log.Warn("scheduler stop timed out; run still in progress")
	}
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Info("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
