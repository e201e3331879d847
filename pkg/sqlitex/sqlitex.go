// Package sqlitex is a thin relational adapter over database/sql and
// github.com/mattn/go-sqlite3: explicit transaction levels, runtime
// extension loading, and WAL housekeeping. It intentionally does not
// hide database/sql behind an ORM; engine code still writes SQL.
//
// mattn/go-sqlite3 (cgo) is used instead of a pure-Go driver because
// loading a runtime extension (the tokenizer shared library) requires
// sqlite3_enable_load_extension/sqlite3_load_extension, which only a
// cgo binding exposes.
package sqlitex

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/foglet-ai/chatmem/pkg/chatmemlog"
	"github.com/foglet-ai/chatmem/pkg/errs"
)

var log = chatmemlog.GetLogger("sqlitex")

// Conn is a handle to a single SQLite database file. Per the
// single-writer model, the pool is capped at one connection.
type Conn struct {
	db   *sql.DB
	path string
}

// Option configures Open.
type Option func(*options)

type options struct {
	busyTimeoutMS int
}

// WithBusyTimeout sets the SQLite busy_timeout pragma, in milliseconds.
func WithBusyTimeout(ms int) Option {
	return func(o *options) { o.busyTimeoutMS = ms }
}

// Open opens (creating if absent) the database file at path.
func Open(path string, opts ...Option) (*Conn, error) {
	o := &options{busyTimeoutMS: 5000}
	for _, opt := range opts {
		opt(o)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errs.New(errs.BadDatabase, "sqlitex.Open", fmt.Errorf("create dir %s: %w", dir, err))
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL", path, o.busyTimeoutMS)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errs.New(errs.SQLiteCallError, "sqlitex.Open", err)
	}
	// SQLite allows exactly one writer; a single pooled connection also
	// makes explicit BEGIN/COMMIT sequences on a pinned *sql.Conn safe.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errs.New(errs.SQLiteCallError, "sqlitex.Open", err)
	}

	log.Info("opened database", "path", path)
	return &Conn{db: db, path: path}, nil
}

// DB exposes the underlying *sql.DB for callers that need to issue raw
// SQL outside the Tx wrapper.
func (c *Conn) DB() *sql.DB { return c.db }

// Path returns the database file path.
func (c *Conn) Path() string { return c.path }

// Close closes the underlying connection pool.
func (c *Conn) Close() error {
	log.Debug("closing database", "path", c.path)
	if err := c.db.Close(); err != nil {
		return errs.New(errs.SQLiteCallError, "sqlitex.Close", err)
	}
	return nil
}

// EnableLoadExtension toggles sqlite3_enable_load_extension on the
// pinned connection used for subsequent LoadExtension calls.
func (c *Conn) EnableLoadExtension(ctx context.Context, enable bool) error {
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return errs.New(errs.SQLiteCallError, "sqlitex.EnableLoadExtension", err)
	}
	defer conn.Close()
	err = conn.Raw(func(driverConn interface{}) error {
		sc, ok := driverConn.(*sqlite3.SQLiteConn)
		if !ok {
			return fmt.Errorf("unexpected driver connection type %T", driverConn)
		}
		return sc.EnableLoadExtension(enable)
	})
	if err != nil {
		return errs.New(errs.SQLiteExtensionError, "sqlitex.EnableLoadExtension", err)
	}
	return nil
}

// LoadExtension loads a shared library extension and optionally calls
// entrypoint, matching sqlite3_load_extension's contract. A failure
// here is a sqlite_extension_error, distinct from a generic
// sqlite_call_error, so callers can distinguish tokenizer-setup
// failures from ordinary statement failures.
func (c *Conn) LoadExtension(ctx context.Context, path, entrypoint string) error {
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return errs.New(errs.SQLiteCallError, "sqlitex.LoadExtension", err)
	}
	defer conn.Close()
	err = conn.Raw(func(driverConn interface{}) error {
		sc, ok := driverConn.(*sqlite3.SQLiteConn)
		if !ok {
			return fmt.Errorf("unexpected driver connection type %T", driverConn)
		}
		return sc.LoadExtension(path, entrypoint)
	})
	if err != nil {
		return errs.New(errs.SQLiteExtensionError, "sqlitex.LoadExtension", err)
	}
	return nil
}

var validSynchronousModes = map[string]bool{
	"off": true, "normal": true, "full": true, "extra": true,
}

// SetSynchronous sets PRAGMA synchronous (off|normal|full|extra).
func (c *Conn) SetSynchronous(ctx context.Context, mode string) error {
	lower := strings.ToLower(mode)
	if !validSynchronousModes[lower] {
		return errs.New(errs.InvalidArgument, "sqlitex.SetSynchronous",
			fmt.Errorf("synchronous mode %q must be one of off, normal, full, extra", mode))
	}
	if _, err := c.db.ExecContext(ctx, "PRAGMA synchronous="+lower); err != nil {
		return errs.New(errs.SQLiteCallError, "sqlitex.SetSynchronous", err)
	}
	return nil
}

// SetWALAutocheckpoint sets PRAGMA wal_autocheckpoint, in pages.
func (c *Conn) SetWALAutocheckpoint(ctx context.Context, pages int) error {
	if _, err := c.db.ExecContext(ctx, fmt.Sprintf("PRAGMA wal_autocheckpoint=%d", pages)); err != nil {
		return errs.New(errs.SQLiteCallError, "sqlitex.SetWALAutocheckpoint", err)
	}
	return nil
}

// Checkpoint runs PRAGMA wal_checkpoint(mode) and reports the log and
// checkpointed frame counts.
func (c *Conn) Checkpoint(ctx context.Context, mode string) (logFrames, checkpointedFrames int, err error) {
	row := c.db.QueryRowContext(ctx, fmt.Sprintf("PRAGMA wal_checkpoint(%s)", mode))
	var busy int
	if err := row.Scan(&busy, &logFrames, &checkpointedFrames); err != nil {
		return 0, 0, errs.New(errs.SQLiteCallError, "sqlitex.Checkpoint", err)
	}
	return logFrames, checkpointedFrames, nil
}
