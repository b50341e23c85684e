package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"bidwatch/internal/bid"
	logx "bidwatch/pkg/logx"
)

// fileStore keeps the collection as one indented JSON array.
//
// Persist writes <path>.<random>.tmp in the same directory, fsyncs it and
// renames it over <path>, so readers see either the old or the new file.
type fileStore struct {
	log  logx.Logger
	path string

	mu sync.Mutex

	// rename is os.Rename outside of tests.
	rename func(oldpath, newpath string) error
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = DefaultPath
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	return &fileStore{log: log, path: path, rename: os.Rename}, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) Load(ctx context.Context) ([]bid.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, &CorruptStateError{Path: s.path, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.log.Debug("no state file yet", logx.String("path", s.path))
			return []bid.Record{}, nil
		}
		return nil, &CorruptStateError{Path: s.path, Err: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []bid.Record{}, nil
	}

	var records []bid.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, &CorruptStateError{Path: s.path, Err: err}
	}
	if dup := duplicateIDs(records); len(dup) > 0 {
		return nil, &CorruptStateError{Path: s.path, Err: fmt.Errorf("duplicate ids: %s", strings.Join(dup, ","))}
	}
	if records == nil {
		records = []bid.Record{}
	}
	return records, nil
}

func (s *fileStore) Persist(ctx context.Context, records []bid.Record) error {
	if err := ctx.Err(); err != nil {
		return &PersistenceError{Path: s.path, Err: err}
	}
	data, err := encodeRecords(records)
	if err != nil {
		return &PersistenceError{Path: s.path, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeAtomic(data); err != nil {
		return &PersistenceError{Path: s.path, Err: err}
	}
	s.log.Debug("state persisted", logx.String("path", s.path), logx.Int("records", len(records)), logx.Int("bytes", len(data)))
	return nil
}

func (s *fileStore) writeAtomic(data []byte) error {
	dir := filepath.Dir(s.path)
	f, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	cleanup := func() { _ = os.Remove(tmp) }

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		cleanup()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		cleanup()
		return err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		cleanup()
		return err
	}
	if err := s.rename(tmp, s.path); err != nil {
		cleanup()
		return err
	}
	return nil
}

// encodeRecords renders the collection as UTF-8, two-space indented JSON.
func encodeRecords(records []bid.Record) ([]byte, error) {
	if records == nil {
		records = []bid.Record{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
