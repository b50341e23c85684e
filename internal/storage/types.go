package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bidwatch/internal/bid"
)

// Store is the persistence API used by the pipeline.
type Store interface {
	// Load returns the persisted collection in order. A missing state file is
	// not an error; unreadable state is a *CorruptStateError.
	Load(ctx context.Context) ([]bid.Record, error)
	// Persist replaces the collection atomically. Failure is a *PersistenceError
	// and leaves the previous state readable.
	Persist(ctx context.Context, records []bid.Record) error
	Close() error
}

// Config configures storage.
//
// Driver values:
//   - "file": JSON array at Path (default "bids.json")
//   - "sqlite": SQLite database file at Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// CorruptStateError means persisted state exists but cannot be read.
type CorruptStateError struct {
	Path string
	Err  error
}

func (e *CorruptStateError) Error() string {
	return fmt.Sprintf("corrupt state %s: %v", e.Path, e.Err)
}

func (e *CorruptStateError) Unwrap() error { return e.Err }

// PersistenceError means a durable write failed.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IntegrityError means a new batch contains ids already present in the
// existing collection. It points at a dedupe bug upstream.
type IntegrityError struct {
	IDs []string
}

func (e *IntegrityError) Error() string {
	return "integrity: new batch repeats existing ids: " + strings.Join(e.IDs, ",")
}
