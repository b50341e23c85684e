package app

import (
	"context"
	"errors"
	"fmt"

	logx "bidwatch/pkg/logx"

	"golang.org/x/sync/errgroup"
)

// group runs the daemon's background tasks. The first task to fail or panic
// cancels the rest, so the daemon exits instead of running half-alive.
type group struct {
	ctx    context.Context
	cancel context.CancelFunc
	eg     *errgroup.Group
	log    logx.Logger
}

func newGroup(parent context.Context, log logx.Logger) *group {
	pctx, cancel := context.WithCancel(parent)
	eg, ctx := errgroup.WithContext(pctx)
	return &group{ctx: ctx, cancel: cancel, eg: eg, log: log}
}

// run starts fn. A context.Canceled return counts as a clean exit.
func (g *group) run(name string, fn func(ctx context.Context) error) {
	g.eg.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				g.log.Error("task panicked", logx.String("task", name), logx.Any("panic", r))
				err = fmt.Errorf("panic in %s: %v", name, r)
			}
		}()
		if err := fn(g.ctx); err != nil && !errors.Is(err, context.Canceled) {
			g.log.Error("task failed", logx.String("task", name), logx.Err(err))
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	})
}

// stop cancels every task and waits for them until ctx is done. It returns
// the first task failure.
func (g *group) stop(ctx context.Context) error {
	g.cancel()
	done := make(chan error, 1)
	go func() { done <- g.eg.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
