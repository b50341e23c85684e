package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"bidwatch/internal/bid"
	logx "bidwatch/pkg/logx"
)

func rec(id, title string) bid.Record {
	return bid.Record{ID: id, Title: title, Agency: "기관", Region: "서울"}.Accept()
}

func ids(records []bid.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

func openTest(t *testing.T, driver string) Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "bids.json")
	if driver == "sqlite" {
		path = filepath.Join(t.TempDir(), "bids.db")
	}
	st, err := Open(Config{Driver: driver, Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s): %v", driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestDriversRoundTrip(t *testing.T) {
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			st := openTest(t, driver)

			got, err := st.Load(ctx)
			if err != nil {
				t.Fatalf("Load on empty state: %v", err)
			}
			if got == nil || len(got) != 0 {
				t.Fatalf("Load on empty state = %v, want empty non-nil slice", got)
			}

			want := []bid.Record{rec("3", "셋"), rec("1", "하나"), rec("2", "둘")}
			if err := st.Persist(ctx, want); err != nil {
				t.Fatalf("Persist: %v", err)
			}
			got, err = st.Load(ctx)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if !reflect.DeepEqual(ids(got), []string{"3", "1", "2"}) {
				t.Fatalf("order = %v", ids(got))
			}
			if got[1].Title != "하나" || got[1].DetailURL != bid.DetailURL("1") {
				t.Fatalf("record mismatch: %+v", got[1])
			}

			// Persist replaces, never appends.
			if err := st.Persist(ctx, want[:1]); err != nil {
				t.Fatalf("Persist: %v", err)
			}
			got, _ = st.Load(ctx)
			if !reflect.DeepEqual(ids(got), []string{"3"}) {
				t.Fatalf("after replace = %v", ids(got))
			}
		})
	}
}

func TestDriversKeepFeedEncoding(t *testing.T) {
	const doc = `{"bdgtAmt":150000000,"bidNtceNm":"영상","bidNtceNo":"7"}`
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			st := openTest(t, driver)

			var r bid.Record
			if err := json.Unmarshal([]byte(doc), &r); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if err := st.Persist(ctx, []bid.Record{r}); err != nil {
				t.Fatalf("Persist: %v", err)
			}
			got, err := st.Load(ctx)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if len(got) != 1 {
				t.Fatalf("Load = %v", ids(got))
			}
			b, err := json.Marshal(got[0])
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if string(b) != doc {
				t.Fatalf("persisted record changed:\n got %s\nwant %s", b, doc)
			}
		})
	}
}

func TestFileLoadHonorsCanceledContext(t *testing.T) {
	st := openTest(t, "file")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := st.Load(ctx)
	var ce *CorruptStateError
	if !errors.As(err, &ce) || !errors.Is(err, context.Canceled) {
		t.Fatalf("Load err = %v, want CorruptStateError wrapping context.Canceled", err)
	}
}

func TestFileLoadCorrupt(t *testing.T) {
	tests := map[string]string{
		"not json":      "{{{",
		"not an array":  `{"bidNtceNo":"1"}`,
		"missing id":    `[{"bidNtceNm":"x"}]`,
		"duplicate ids": `[{"bidNtceNo":"1"},{"bidNtceNo":"1"}]`,
	}
	for name, body := range tests {
		body := body
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bids.json")
			if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
				t.Fatal(err)
			}
			st, err := Open(Config{Path: path}, logx.Nop())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			_, err = st.Load(context.Background())
			var ce *CorruptStateError
			if !errors.As(err, &ce) {
				t.Fatalf("Load err = %v, want *CorruptStateError", err)
			}
		})
	}
}

func TestFileLoadEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bids.json")
	if err := os.WriteFile(path, []byte("\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	st, _ := Open(Config{Path: path}, logx.Nop())
	got, err := st.Load(context.Background())
	if err != nil || len(got) != 0 {
		t.Fatalf("Load = %v, %v; want empty, nil", got, err)
	}
}

func TestFilePersistFailureKeepsPriorState(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "bids.json")
	st, err := Open(Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.Persist(ctx, []bid.Record{rec("1", "하나")}); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	before, _ := os.ReadFile(path)

	fs := st.(*fileStore)
	fs.rename = func(string, string) error { return errors.New("disk full") }

	err = st.Persist(ctx, []bid.Record{rec("2", "둘"), rec("1", "하나")})
	var pe *PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("Persist err = %v, want *PersistenceError", err)
	}

	after, _ := os.ReadFile(path)
	if string(after) != string(before) {
		t.Fatalf("state changed after failed persist:\n%s\nvs\n%s", after, before)
	}
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
	got, err := st.Load(ctx)
	if err != nil || !reflect.DeepEqual(ids(got), []string{"1"}) {
		t.Fatalf("Load after failure = %v, %v", ids(got), err)
	}
}

func TestFileFormatIsReadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bids.json")
	st, _ := Open(Config{Path: path}, logx.Nop())
	if err := st.Persist(context.Background(), []bid.Record{rec("20250001-00", "홍보 & 영상")}); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	b, _ := os.ReadFile(path)
	s := string(b)
	for _, want := range []string{"[\n  {\n", `"bidNtceNm": "홍보 & 영상"`, `"link": "` + bid.DetailURL("20250001-00") + `"`} {
		if !strings.Contains(s, want) {
			t.Fatalf("file missing %q:\n%s", want, s)
		}
	}
}

func TestMerge(t *testing.T) {
	existing := []bid.Record{rec("a", ""), rec("b", "")}
	batch := []bid.Record{rec("x", ""), rec("y", "")}

	got, err := Merge(batch, existing)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if !reflect.DeepEqual(ids(got), []string{"x", "y", "a", "b"}) {
		t.Fatalf("Merge order = %v", ids(got))
	}

	got, err = Merge(nil, existing)
	if err != nil || !reflect.DeepEqual(ids(got), []string{"a", "b"}) {
		t.Fatalf("Merge(empty batch) = %v, %v", ids(got), err)
	}
}

func TestMergeRefusesOverlap(t *testing.T) {
	existing := []bid.Record{rec("a", ""), rec("b", "")}

	_, err := Merge([]bid.Record{rec("x", ""), rec("b", "")}, existing)
	var ie *IntegrityError
	if !errors.As(err, &ie) {
		t.Fatalf("err = %v, want *IntegrityError", err)
	}
	if !reflect.DeepEqual(ie.IDs, []string{"b"}) {
		t.Fatalf("IDs = %v", ie.IDs)
	}

	_, err = Merge([]bid.Record{rec("x", ""), rec("x", "")}, existing)
	if !errors.As(err, &ie) {
		t.Fatalf("repeated id in batch: err = %v, want *IntegrityError", err)
	}
}

func TestIdentitySet(t *testing.T) {
	set := IdentitySet([]bid.Record{rec("a", ""), rec("b", "")})
	if len(set) != 2 {
		t.Fatalf("len = %d", len(set))
	}
	if _, ok := set["a"]; !ok {
		t.Fatal("missing a")
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
