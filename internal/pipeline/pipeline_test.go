package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"bidwatch/internal/bid"
	"bidwatch/internal/filter"
	"bidwatch/internal/g2b"
	"bidwatch/internal/render"
	"bidwatch/internal/storage"
	logx "bidwatch/pkg/logx"
)

func raw(t *testing.T, id, title, region string) bid.Raw {
	t.Helper()
	m := map[string]string{
		bid.FieldTitle:  title,
		bid.FieldRegion: region,
		bid.FieldAgency: "테스트기관",
	}
	if id != "" {
		m[bid.FieldID] = id
	}
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	var r bid.Raw
	if err := json.Unmarshal(b, &r); err != nil {
		t.Fatal(err)
	}
	return r
}

type fakeFetcher struct {
	pages [][]bid.Raw
	err   error
	calls int
	last  g2b.Query
}

func (f *fakeFetcher) Fetch(ctx context.Context, q g2b.Query) ([]bid.Raw, error) {
	f.calls++
	f.last = q
	if f.err != nil {
		return nil, f.err
	}
	if len(f.pages) == 0 {
		return nil, nil
	}
	page := f.pages[0]
	if len(f.pages) > 1 {
		f.pages = f.pages[1:]
	}
	return page, nil
}

type fakeNotifier struct {
	fail map[string]bool
	ids  []string
}

func (n *fakeNotifier) Notify(ctx context.Context, r bid.Record) error {
	if n.fail[r.ID] {
		return errors.New("webhook down")
	}
	n.ids = append(n.ids, r.ID)
	return nil
}

type fakePublisher struct {
	err   error
	calls int
	last  []bid.Record
}

func (p *fakePublisher) Publish(ctx context.Context, records []bid.Record, at time.Time) error {
	p.calls++
	p.last = records
	return p.err
}

type failingStore struct {
	storage.Store
	err error
}

func (s failingStore) Persist(ctx context.Context, records []bid.Record) error {
	return &storage.PersistenceError{Path: "test", Err: s.err}
}

type harness struct {
	store    storage.Store
	path     string
	fetcher  *fakeFetcher
	notifier *fakeNotifier
	pub      *fakePublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bids.json")
	st, err := storage.Open(storage.Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	return &harness{
		store:    st,
		path:     path,
		fetcher:  &fakeFetcher{},
		notifier: &fakeNotifier{},
		pub:      &fakePublisher{},
	}
}

func (h *harness) pipeline(t *testing.T) *Pipeline {
	t.Helper()
	p, err := New(Config{
		Filter: filter.Default(),
		Now:    func() time.Time { return time.Date(2025, 3, 7, 14, 0, 0, 0, time.Local) },
	}, Deps{
		Store:     h.store,
		Fetcher:   h.fetcher,
		Notifier:  h.notifier,
		Publisher: h.pub,
		Logger:    logx.Nop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func (h *harness) load(t *testing.T) []string {
	t.Helper()
	records, err := h.store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return idsOf(records)
}

func idsOf(records []bid.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

func TestRunAcceptsFiltersAndNotifies(t *testing.T) {
	h := newHarness(t)
	h.fetcher.pages = [][]bid.Raw{{
		raw(t, "1", "2025 지역 홍보영상 제작 공모", "경기도"),
		raw(t, "2", "OOO청사 신축공사 감리용역", "서울"),
		raw(t, "3", "유튜브 홍보 영상 제작", "부산"),
		raw(t, "4", "유튜브 홍보 영상 제작", ""),
	}}

	rep, err := h.pipeline(t).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Fetched != 4 || rep.Accepted != 2 || rep.Rejected != 2 || rep.Total != 2 {
		t.Fatalf("report = %+v", rep)
	}
	if got := h.load(t); !reflect.DeepEqual(got, []string{"1", "4"}) {
		t.Fatalf("persisted = %v", got)
	}
	if !reflect.DeepEqual(h.notifier.ids, []string{"1", "4"}) {
		t.Fatalf("notified = %v", h.notifier.ids)
	}
	if h.pub.calls != 1 || len(h.pub.last) != 2 {
		t.Fatalf("publisher calls=%d records=%d", h.pub.calls, len(h.pub.last))
	}
	for _, r := range rep.New {
		if r.DetailURL != bid.DetailURL(r.ID) {
			t.Fatalf("DetailURL = %q for %s", r.DetailURL, r.ID)
		}
	}
}

func TestRunQueriesToday(t *testing.T) {
	h := newHarness(t)
	if _, err := h.pipeline(t).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	q := h.fetcher.last
	if q.Begin.Format("200601021504") != "202503070000" || q.End.Format("200601021504") != "202503072359" {
		t.Fatalf("window = %v .. %v", q.Begin, q.End)
	}
	if q.PageNo != 1 {
		t.Fatalf("PageNo = %d", q.PageNo)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	h := newHarness(t)
	page := []bid.Raw{
		raw(t, "1", "홍보 영상", ""),
		raw(t, "2", "숏폼 콘텐츠", "서울"),
	}
	h.fetcher.pages = [][]bid.Raw{page}
	p := h.pipeline(t)

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	first, _ := os.ReadFile(h.path)

	rep, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if rep.Accepted != 0 || rep.Duplicates != 2 {
		t.Fatalf("second report = %+v", rep)
	}
	second, _ := os.ReadFile(h.path)
	if string(first) != string(second) {
		t.Fatalf("persisted state changed on re-run:\n%s\nvs\n%s", first, second)
	}
	if len(h.notifier.ids) != 2 {
		t.Fatalf("notified %v, want only the first run's two", h.notifier.ids)
	}
}

func TestRunOrderAcrossRuns(t *testing.T) {
	h := newHarness(t)
	h.fetcher.pages = [][]bid.Raw{
		{raw(t, "a1", "영상 1", ""), raw(t, "a2", "영상 2", ""), raw(t, "a3", "영상 3", "")},
		{raw(t, "b1", "영상 4", ""), raw(t, "a2", "영상 2", ""), raw(t, "b2", "영상 5", "")},
		{raw(t, "c1", "영상 6", "")},
	}
	p := h.pipeline(t)
	for i := 0; i < 3; i++ {
		if _, err := p.Run(context.Background()); err != nil {
			t.Fatalf("Run %d: %v", i, err)
		}
	}
	want := []string{"c1", "b1", "b2", "a1", "a2", "a3"}
	if got := h.load(t); !reflect.DeepEqual(got, want) {
		t.Fatalf("persisted = %v, want %v", got, want)
	}
}

func TestRunIdentityUniqueAcrossRuns(t *testing.T) {
	h := newHarness(t)
	var pages [][]bid.Raw
	for run := 0; run < 6; run++ {
		var page []bid.Raw
		for i := 0; i < 8; i++ {
			// Overlapping windows of ids across runs, plus repeats inside a page.
			id := string(rune('a' + (run*3+i)%12))
			page = append(page, raw(t, id, "홍보 영상 "+id, ""))
		}
		page = append(page, page[0], page[3])
		pages = append(pages, page)
	}
	h.fetcher.pages = pages
	p := h.pipeline(t)
	for run := range pages {
		if _, err := p.Run(context.Background()); err != nil {
			t.Fatalf("Run %d: %v", run, err)
		}
	}

	got := h.load(t)
	seen := map[string]bool{}
	for _, id := range got {
		if seen[id] {
			t.Fatalf("duplicate id %s in %v", id, got)
		}
		seen[id] = true
	}
	if len(got) != 12 {
		t.Fatalf("persisted %d records, want 12: %v", len(got), got)
	}
	if len(h.notifier.ids) != 12 {
		t.Fatalf("notified %d times, want 12", len(h.notifier.ids))
	}
}

func TestRunSelfDedupWithinFetch(t *testing.T) {
	h := newHarness(t)
	h.fetcher.pages = [][]bid.Raw{{
		raw(t, "1", "홍보 영상", ""),
		raw(t, "1", "홍보 영상 (정정)", ""),
	}}
	rep, err := h.pipeline(t).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Accepted != 1 || rep.Duplicates != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if !reflect.DeepEqual(h.notifier.ids, []string{"1"}) {
		t.Fatalf("notified = %v", h.notifier.ids)
	}
	if rep.New[0].Title != "홍보 영상" {
		t.Fatalf("kept %q, want first occurrence", rep.New[0].Title)
	}
}

func TestRunFetchFailureIsNoop(t *testing.T) {
	h := newHarness(t)
	h.fetcher.pages = [][]bid.Raw{{raw(t, "1", "홍보 영상", "")}}
	if _, err := h.pipeline(t).Run(context.Background()); err != nil {
		t.Fatalf("seed Run: %v", err)
	}
	before, _ := os.ReadFile(h.path)
	h.notifier.ids = nil
	h.pub.calls = 0

	h.fetcher.err = errors.New("connection reset")
	_, err := h.pipeline(t).Run(context.Background())
	var fe *g2b.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want *g2b.FetchError", err)
	}
	if !IsFatal(err) {
		t.Fatal("fetch failure should be fatal")
	}
	after, _ := os.ReadFile(h.path)
	if string(before) != string(after) {
		t.Fatal("state changed after fetch failure")
	}
	if got := h.load(t); !reflect.DeepEqual(got, []string{"1"}) {
		t.Fatalf("Load after failure = %v", got)
	}
	if len(h.notifier.ids) != 0 {
		t.Fatalf("notifications sent on failed run: %v", h.notifier.ids)
	}
	if h.pub.calls != 0 {
		t.Fatal("render ran on failed run")
	}
}

func TestRunCorruptStateAbortsBeforeFetch(t *testing.T) {
	h := newHarness(t)
	if err := os.WriteFile(h.path, []byte("[{broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := h.pipeline(t).Run(context.Background())
	var ce *storage.CorruptStateError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *storage.CorruptStateError", err)
	}
	if h.fetcher.calls != 0 {
		t.Fatalf("fetch called %d times on corrupt state", h.fetcher.calls)
	}
}

func TestRunPersistFailureSkipsRender(t *testing.T) {
	h := newHarness(t)
	h.store = failingStore{Store: h.store, err: errors.New("read-only filesystem")}
	h.fetcher.pages = [][]bid.Raw{{raw(t, "1", "홍보 영상", "")}}

	_, err := h.pipeline(t).Run(context.Background())
	var pe *storage.PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *storage.PersistenceError", err)
	}
	if h.pub.calls != 0 {
		t.Fatal("render ran after persist failure")
	}
}

func TestRunRenderFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.pub.err = &render.RenderError{Path: "index.html", Err: errors.New("disk full")}
	h.fetcher.pages = [][]bid.Raw{{raw(t, "1", "홍보 영상", "")}}

	rep, err := h.pipeline(t).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.RenderErr == nil {
		t.Fatal("RenderErr not reported")
	}
	if IsFatal(rep.RenderErr) {
		t.Fatal("render error classified as fatal")
	}
	if got := h.load(t); !reflect.DeepEqual(got, []string{"1"}) {
		t.Fatalf("persisted = %v", got)
	}
}

func TestRunNotifyFailureIsIsolated(t *testing.T) {
	h := newHarness(t)
	h.notifier.fail = map[string]bool{"1": true}
	h.fetcher.pages = [][]bid.Raw{{
		raw(t, "1", "홍보 영상", ""),
		raw(t, "2", "숏폼 영상", ""),
	}}
	rep, err := h.pipeline(t).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rep.NotifyErrs) != 1 || rep.Accepted != 2 {
		t.Fatalf("report = %+v", rep)
	}
	if !reflect.DeepEqual(h.notifier.ids, []string{"2"}) {
		t.Fatalf("notified = %v", h.notifier.ids)
	}
	if got := h.load(t); !reflect.DeepEqual(got, []string{"1", "2"}) {
		t.Fatalf("persisted = %v", got)
	}
}

func TestRunSkipsMalformed(t *testing.T) {
	h := newHarness(t)
	h.fetcher.pages = [][]bid.Raw{{
		raw(t, "", "홍보 영상", ""),
		raw(t, "2", "숏폼 영상", ""),
	}}
	rep, err := h.pipeline(t).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Malformed != 1 || rep.Accepted != 1 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestNewRequiresDeps(t *testing.T) {
	if _, err := New(Config{}, Deps{Fetcher: &fakeFetcher{}}); err == nil {
		t.Fatal("expected error without store")
	}
	h := newHarness(t)
	if _, err := New(Config{}, Deps{Store: h.store}); err == nil {
		t.Fatal("expected error without fetcher")
	}
}

func TestFilePublisherWritesPage(t *testing.T) {
	html, err := render.NewHTML("")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "site", "index.html")
	pub := FilePublisher{Path: path, Renderer: html}
	records := []bid.Record{bid.Record{ID: "1", Title: "홍보 영상"}.Accept()}
	if err := pub.Publish(context.Background(), records, time.Now()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("page not written: %v", err)
	}
}

func TestFilePublisherHonorsCanceledContext(t *testing.T) {
	html, err := render.NewHTML("")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "index.html")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = FilePublisher{Path: path, Renderer: html}.Publish(ctx, nil, time.Now())
	var re *render.RenderError
	if !errors.As(err, &re) || !errors.Is(err, context.Canceled) {
		t.Fatalf("Publish err = %v, want RenderError wrapping context.Canceled", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("page written despite canceled context: %v", err)
	}
}
