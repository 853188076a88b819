package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"
	errs "igcollector/pkg/errors"
	"igcollector/pkg/logger"
	"igcollector/pkg/retry"
	"igcollector/pkg/vault"
)

// SQLiteStore implements Store backed by a SQLite database
type SQLiteStore struct {
	db     *sql.DB
	sealer vault.Sealer
	logger logger.Logger
	retry  *retry.Config
	now    func() time.Time
}

// Option configures a SQLiteStore
type Option func(*SQLiteStore)

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(s *SQLiteStore) { s.logger = l }
}

// WithClock overrides the time source, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) { s.now = now }
}

// Open opens (creating if needed) the database at path, applies migrations
// and returns a ready store. Use ":memory:" for a private in-memory database.
func Open(path string, busyTimeout time.Duration, sealer vault.Sealer, opts ...Option) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal=WAL&_sync=NORMAL&_busy_timeout=%d",
		path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection serializes writers inside the process and keeps
	// ":memory:" databases on one connection.
	db.SetMaxOpenConns(1)

	if err := NewMigrationRunner(db).Run(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return NewSQLiteStore(db, sealer, opts...), nil
}

// NewSQLiteStore wraps an already-opened and migrated database
func NewSQLiteStore(db *sql.DB, sealer vault.Sealer, opts ...Option) *SQLiteStore {
	if sealer == nil {
		sealer = vault.PlainSealer{}
	}
	s := &SQLiteStore{
		db:     db,
		sealer: sealer,
		logger: logger.NewNopLogger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.retry = &retry.Config{
		MaxAttempts: 5,
		Backoff: &retry.ExponentialBackoff{
			BaseDelay:    25 * time.Millisecond,
			MaxDelay:     500 * time.Millisecond,
			Multiplier:   2,
			JitterFactor: 0.2,
		},
		RetryIf: IsBusy,
		Logger:  s.logger,
	}
	return s
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// IsBusy reports whether err is a SQLite busy or locked error. Those happen
// when another process (the CLI next to a running server) holds the write
// lock longer than the busy timeout.
func IsBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// write runs fn with retries on busy errors
func (s *SQLiteStore) write(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, fn, s.retry)
}

// inTx runs fn inside a transaction, retrying the whole transaction when
// the database is busy
func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.write(ctx, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback() //nolint:errcheck

		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func notFound(what string, id interface{}) error {
	return &errs.Error{Type: errs.ErrorTypeNotFound, Message: fmt.Sprintf("%s %v not found", what, id)}
}

func storageErr(op string, err error) error {
	var typed *errs.Error
	if errors.As(err, &typed) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return errs.Wrap(errs.ErrorTypeStorage, op, err)
}
