// Package pipeline runs one ingestion pass:
//
//	Load → Fetch → FilterDedupe (notify inline) → Merge → Persist → Render
//
// A run either completes or aborts on the first fatal error. Fatal errors
// leave persisted state exactly as it was; render and notify failures are
// reported but do not fail the run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bidwatch/internal/bid"
	"bidwatch/internal/filter"
	"bidwatch/internal/g2b"
	"bidwatch/internal/render"
	"bidwatch/internal/storage"
	logx "bidwatch/pkg/logx"
)

// Fetcher returns the raw notices of one query window.
type Fetcher interface {
	Fetch(ctx context.Context, q g2b.Query) ([]bid.Raw, error)
}

// Notifier announces one accepted record. It must not block for long; errors
// are recorded and never stop the run.
type Notifier interface {
	Notify(ctx context.Context, r bid.Record) error
}

// Publisher writes the presentation artifact for the full collection.
type Publisher interface {
	Publish(ctx context.Context, records []bid.Record, generatedAt time.Time) error
}

// Config is immutable for the lifetime of a Pipeline.
type Config struct {
	Filter filter.Config
	// Now defaults to time.Now. Its location decides what "today" means.
	Now func() time.Time
}

type Deps struct {
	Store     storage.Store
	Fetcher   Fetcher
	Notifier  Notifier  // optional
	Publisher Publisher // optional
	Logger    logx.Logger
}

type Pipeline struct {
	filter *filter.Filter
	now    func() time.Time

	store     storage.Store
	fetcher   Fetcher
	notifier  Notifier
	publisher Publisher
	log       logx.Logger
}

func New(cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Store == nil {
		return nil, errors.New("pipeline: store is required")
	}
	if deps.Fetcher == nil {
		return nil, errors.New("pipeline: fetcher is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	log := deps.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pipeline{
		filter:    filter.New(cfg.Filter),
		now:       now,
		store:     deps.Store,
		fetcher:   deps.Fetcher,
		notifier:  deps.Notifier,
		publisher: deps.Publisher,
		log:       log,
	}, nil
}

// Report summarizes one run.
type Report struct {
	Fetched    int
	Accepted   int
	Duplicates int
	Rejected   int
	Malformed  int
	Total      int // persisted collection size after the run

	// Accepted records in acceptance order.
	New []bid.Record

	RenderErr  error
	NotifyErrs []error
}

// Run executes one pass. The returned error is fatal: *storage.CorruptStateError,
// *g2b.FetchError, *storage.IntegrityError or *storage.PersistenceError.
func (p *Pipeline) Run(ctx context.Context) (Report, error) {
	var rep Report
	start := p.now()

	existing, err := p.store.Load(ctx)
	if err != nil {
		return rep, fmt.Errorf("load: %w", err)
	}
	p.log.Debug("state loaded", logx.Int("records", len(existing)))

	q := g2b.DayWindow(start)
	raws, err := p.fetcher.Fetch(ctx, q)
	if err != nil {
		return rep, fmt.Errorf("fetch: %w", asFetchError(err))
	}
	rep.Fetched = len(raws)

	batch := p.filterDedupe(ctx, raws, storage.IdentitySet(existing), &rep)
	rep.New = batch
	rep.Accepted = len(batch)

	merged, err := storage.Merge(batch, existing)
	if err != nil {
		return rep, fmt.Errorf("merge: %w", err)
	}

	if err := p.store.Persist(ctx, merged); err != nil {
		return rep, fmt.Errorf("persist: %w", err)
	}
	rep.Total = len(merged)

	if p.publisher != nil {
		if err := p.publisher.Publish(ctx, merged, p.now()); err != nil {
			rep.RenderErr = err
			p.log.Warn("render failed; data is persisted", logx.Err(err))
		}
	}
	return rep, nil
}

// filterDedupe walks raws in response order. known is extended in place so a
// repeated id later in the same page is skipped.
func (p *Pipeline) filterDedupe(ctx context.Context, raws []bid.Raw, known map[string]struct{}, rep *Report) []bid.Record {
	batch := make([]bid.Record, 0)
	for i, raw := range raws {
		r, err := bid.Decode(raw)
		if err != nil {
			rep.Malformed++
			p.log.Warn("skipping malformed notice", logx.Int("index", i), logx.Err(err))
			continue
		}
		if _, ok := known[r.ID]; ok {
			rep.Duplicates++
			continue
		}
		v := p.filter.Explain(r.Title, r.Region)
		if !v.Accepted() {
			rep.Rejected++
			if p.log.Enabled(logx.LevelDebug) {
				p.log.Debug("notice rejected",
					logx.String("bid", r.ID),
					logx.String("reason", string(v.Reason)),
					logx.String("match", v.Match),
				)
			}
			continue
		}

		r = r.Accept()
		known[r.ID] = struct{}{}
		batch = append(batch, r)
		p.log.Info("new notice", logx.String("bid", r.ID), logx.String("title", r.Title), logx.String("region", r.RegionOrDefault()))

		if p.notifier != nil {
			if err := p.notifier.Notify(ctx, r); err != nil {
				rep.NotifyErrs = append(rep.NotifyErrs, fmt.Errorf("notify %s: %w", r.ID, err))
				p.log.Warn("notify failed", logx.String("bid", r.ID), logx.Err(err))
			}
		}
	}
	return batch
}

// asFetchError keeps the taxonomy intact for fetchers that return plain errors.
func asFetchError(err error) error {
	var fe *g2b.FetchError
	if errors.As(err, &fe) {
		return err
	}
	return &g2b.FetchError{Op: "fetch", Err: err}
}

// IsFatal reports whether err aborts a run.
func IsFatal(err error) bool {
	var (
		ce *storage.CorruptStateError
		fe *g2b.FetchError
		ie *storage.IntegrityError
		pe *storage.PersistenceError
	)
	return errors.As(err, &ce) || errors.As(err, &fe) || errors.As(err, &ie) || errors.As(err, &pe)
}

// FilePublisher renders to a file with render.WriteFile.
type FilePublisher struct {
	Path     string
	Renderer render.Renderer
}

func (f FilePublisher) Publish(ctx context.Context, records []bid.Record, generatedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return &render.RenderError{Path: f.Path, Err: err}
	}
	return render.WriteFile(f.Path, f.Renderer, records, generatedAt)
}
