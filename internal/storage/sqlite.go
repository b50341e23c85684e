package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"bidwatch/internal/bid"
	logx "bidwatch/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// sqliteStore keeps one row per notice; seq carries the collection order.
// Persist rewrites the table inside one transaction.
type sqliteStore struct {
	db   *sql.DB
	log  logx.Logger
	path string
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log, path: path}
	if _, err := db.ExecContext(context.Background(), schemaSQL); err != nil {
		_ = db.Close()
		return nil, &CorruptStateError{Path: path, Err: err}
	}
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Load(ctx context.Context) ([]bid.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, doc FROM bids ORDER BY seq`)
	if err != nil {
		return nil, &CorruptStateError{Path: s.path, Err: err}
	}
	defer rows.Close()

	out := []bid.Record{}
	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, &CorruptStateError{Path: s.path, Err: err}
		}
		var r bid.Record
		if err := json.Unmarshal([]byte(doc), &r); err != nil {
			return nil, &CorruptStateError{Path: s.path, Err: fmt.Errorf("row %s: %w", id, err)}
		}
		if r.ID != id {
			return nil, &CorruptStateError{Path: s.path, Err: fmt.Errorf("row %s: document id %q", id, r.ID)}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &CorruptStateError{Path: s.path, Err: err}
	}
	return out, nil
}

func (s *sqliteStore) Persist(ctx context.Context, records []bid.Record) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &PersistenceError{Path: s.path, Err: err}
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM bids`); err != nil {
		return &PersistenceError{Path: s.path, Err: err}
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO bids(seq, id, doc) VALUES(?,?,?)`)
	if err != nil {
		return &PersistenceError{Path: s.path, Err: err}
	}
	defer stmt.Close()

	for i, r := range records {
		doc, mErr := json.Marshal(r)
		if mErr != nil {
			err = mErr
			return &PersistenceError{Path: s.path, Err: err}
		}
		if _, err = stmt.ExecContext(ctx, i, r.ID, string(doc)); err != nil {
			return &PersistenceError{Path: s.path, Err: err}
		}
	}
	if err = tx.Commit(); err != nil {
		return &PersistenceError{Path: s.path, Err: err}
	}
	s.log.Debug("state persisted", logx.String("path", s.path), logx.Int("records", len(records)))
	return nil
}
