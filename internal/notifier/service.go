package notifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bidwatch/internal/bid"
	logx "bidwatch/pkg/logx"

	"golang.org/x/time/rate"
)

// Service is an async notification pipeline: queue + one worker + a rate
// limit per sender. One worker keeps delivery order equal to Notify order.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log      logx.Logger
	senders  []Sender
	limiters []*rate.Limiter // one per sender
	cfg      Config

	accepting bool
	sendWG    sync.WaitGroup

	queue      chan bid.Record
	cancel     context.CancelFunc
	workerDone chan struct{}

	stats Stats
}

func New(cfg Config, log logx.Logger, senders ...Sender) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if len(senders) == 0 {
		cfg.Enabled = false
	}
	limiters := make([]*rate.Limiter, len(senders))
	for i := range limiters {
		limiters[i] = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}
	return &Service{
		log:      log,
		senders:  senders,
		limiters: limiters,
		cfg:      cfg,
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Start launches the worker. It is idempotent; a stopped service can be
// started again and its Stats are reset.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil || !s.cfg.Enabled {
		return
	}

	q := make(chan bid.Record, s.cfg.QueueSize)
	wctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.queue = q
	s.cancel = cancel
	s.workerDone = done
	s.accepting = true
	s.stats = Stats{}

	go func() {
		defer close(done)
		s.workerLoop(wctx, q)
	}()
}

// Notify enqueues r without blocking.
func (s *Service) Notify(ctx context.Context, r bid.Record) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	select {
	case q <- r:
		s.mu.Lock()
		s.stats.Queued++
		s.mu.Unlock()
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop stops intake and waits for the queue to drain until ctx is done.
// Anything still queued at that point is dropped and counted.
func (s *Service) Stop(ctx context.Context) Stats {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	q := s.queue
	done := s.workerDone
	cancel := s.cancel
	if q == nil {
		s.mu.Unlock()
		return s.Stats()
	}
	s.accepting = false
	s.mu.Unlock()

	// Wait for in-flight enqueues, then let the worker drain a closed queue.
	s.sendWG.Wait()
	close(q)

	select {
	case <-done:
	case <-ctx.Done():
		cancel()
		<-done
	}
	cancel()

	s.mu.Lock()
	for r := range q {
		s.dropLocked(r)
	}
	st := s.stats
	st.DroppedIDs = append([]string(nil), s.stats.DroppedIDs...)
	s.queue = nil
	s.cancel = nil
	s.workerDone = nil
	s.mu.Unlock()

	if st.Dropped > 0 {
		s.log.Warn("notifier stopped with undelivered notices",
			logx.Int("dropped", st.Dropped),
			logx.Strs("ids", st.DroppedIDs),
		)
	}
	return st
}

// Stats returns the counters since the last Start.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.DroppedIDs = append([]string(nil), s.stats.DroppedIDs...)
	return st
}

// DrainTime estimates how long Stop needs to deliver what is queued now:
// every sender paces at RatePerSec, plus one send timeout of slack.
func (s *Service) DrainTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := 0
	if s.queue != nil {
		pending = len(s.queue)
	}
	// +1 for the record the worker may be holding.
	perRecord := time.Second / time.Duration(s.cfg.RatePerSec)
	return time.Duration(pending+1)*perRecord + s.cfg.Timeout
}

func (s *Service) workerLoop(ctx context.Context, q <-chan bid.Record) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-q:
			if !ok {
				return
			}
			if ctx.Err() != nil {
				s.mu.Lock()
				s.dropLocked(r)
				s.mu.Unlock()
				return
			}
			s.deliver(ctx, r)
		}
	}
}

// deliver fans r out to every sender. One failing sender does not stop the
// others. r is counted exactly once.
func (s *Service) deliver(ctx context.Context, r bid.Record) {
	attempted, failed := 0, 0
	for i, snd := range s.senders {
		if err := s.limiters[i].Wait(ctx); err != nil {
			break
		}
		attempted++
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		err := safeSend(callCtx, snd, r)
		cancel()
		if err != nil {
			failed++
			s.log.Warn("notify send failed",
				logx.String("sender", snd.Name()),
				logx.String("bid", r.ID),
				logx.Err(err),
			)
			continue
		}
		s.log.Debug("notice sent", logx.String("sender", snd.Name()), logx.String("bid", r.ID))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case attempted == 0:
		s.dropLocked(r)
	case failed > 0 || attempted < len(s.senders):
		s.stats.Failed++
	default:
		s.stats.Sent++
	}
}

func (s *Service) dropLocked(r bid.Record) {
	s.stats.Dropped++
	s.stats.DroppedIDs = append(s.stats.DroppedIDs, r.ID)
}

func safeSend(ctx context.Context, snd Sender, r bid.Record) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in sender %s: %v", snd.Name(), rec)
		}
	}()
	return snd.Send(ctx, r)
}
