package engine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/foglet-ai/chatmem/pkg/chatmemlog"
	"github.com/foglet-ai/chatmem/pkg/errs"
	"github.com/foglet-ai/chatmem/pkg/sqlitex"
)

// registryDDL creates the table-management registry:
// __TABLE_MANAGE__(id, tablename, vector_dimension, HNWS_max_connect,
// faiss_fullpath, faiss_new_id). vector_dimension and HNWS_max_connect
// are immutable per table once set; faiss_new_id tracks the next slot
// to assign in that table's ANN index.
const registryDDL = `CREATE TABLE IF NOT EXISTS __TABLE_MANAGE__ (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	tablename TEXT NOT NULL UNIQUE,
	vector_dimension INTEGER NOT NULL,
	HNWS_max_connect INTEGER NOT NULL,
	faiss_fullpath TEXT NOT NULL,
	faiss_new_id INTEGER NOT NULL DEFAULT 0
)`

// ExtensionConfig describes the optional tokenizer extension loaded at
// database-open time, matching the construction sequence of enabling
// extension loading, loading the shared library, and running a
// one-shot SELECT jieba_dict(?) to register a CJK dictionary.
type ExtensionConfig struct {
	// LibraryPath is the tokenizer shared library to load. Empty skips
	// extension loading entirely.
	LibraryPath string
	// EntryPoint is the optional sqlite3_load_extension entry point.
	EntryPoint string
	// JiebaDictPath, if set, is passed to a one-shot `SELECT
	// jieba_dict(?)` call after the extension loads.
	JiebaDictPath string
}

// Database owns the SQLite connection and the __TABLE_MANAGE__
// registry shared by every Table opened from it.
type Database struct {
	conn *sqlitex.Conn
	log  *chatmemlog.Logger
}

// Open opens or creates the database file at path, optionally loading
// a tokenizer extension, and ensures the registry table exists.
func Open(ctx context.Context, path string, ext ExtensionConfig) (*Database, error) {
	conn, err := sqlitex.Open(path)
	if err != nil {
		return nil, err
	}

	if ext.LibraryPath != "" {
		if err := conn.EnableLoadExtension(ctx, true); err != nil {
			conn.Close()
			return nil, err
		}
		if err := conn.LoadExtension(ctx, ext.LibraryPath, ext.EntryPoint); err != nil {
			conn.Close()
			return nil, err
		}
		if ext.JiebaDictPath != "" {
			if _, err := conn.DB().ExecContext(ctx, "SELECT jieba_dict(?)", ext.JiebaDictPath); err != nil {
				conn.Close()
				return nil, errs.New(errs.SQLiteExtensionError, "engine.Open", err)
			}
		}
		if err := conn.EnableLoadExtension(ctx, false); err != nil {
			conn.Close()
			return nil, err
		}
	}

	if _, err := conn.DB().ExecContext(ctx, registryDDL); err != nil {
		conn.Close()
		return nil, errs.New(errs.SQLiteCallError, "engine.Open", err)
	}

	d := &Database{conn: conn, log: chatmemlog.GetLogger("engine.database")}
	d.log.Info("database opened", "path", path, "extension", ext.LibraryPath != "")
	return d, nil
}

// Close closes the underlying connection. Failures are logged rather
// than returned, matching the destructor-path policy also used by
// Table.Close: there is no caller left in a position to retry a
// connection that is being torn down anyway.
func (d *Database) Close() error {
	if err := d.conn.Close(); err != nil {
		d.log.Error("failed to close connection", "error", err)
	}
	return nil
}

// SetSynchronous sets PRAGMA synchronous (off|normal|full|extra).
func (d *Database) SetSynchronous(ctx context.Context, mode string) error {
	return d.conn.SetSynchronous(ctx, mode)
}

// SetWALAutocheckpoint sets PRAGMA wal_autocheckpoint, in pages.
func (d *Database) SetWALAutocheckpoint(ctx context.Context, pages int) error {
	return d.conn.SetWALAutocheckpoint(ctx, pages)
}

// Checkpoint runs a WAL checkpoint and returns the log and
// checkpointed frame counts.
func (d *Database) Checkpoint(ctx context.Context, mode string) (logFrames, checkpointedFrames int, err error) {
	return d.conn.Checkpoint(ctx, mode)
}

// registryRow reads the committed registry entry for name, if any.
func (d *Database) registryRow(ctx context.Context, q querier, name string) (dim, maxConnect int, faissPath string, err error) {
	row := q.QueryRow(ctx, "SELECT vector_dimension, HNWS_max_connect, faiss_fullpath FROM __TABLE_MANAGE__ WHERE tablename = ?", name)
	err = row.Scan(&dim, &maxConnect, &faissPath)
	if err == sql.ErrNoRows {
		return 0, 0, "", err
	}
	if err != nil {
		return 0, 0, "", errs.New(errs.SQLiteCallError, "engine.registryRow", err)
	}
	return dim, maxConnect, faissPath, nil
}

// querier is the subset of *sqlitex.Tx used by registry helpers, kept
// as an interface so both transactional and ad hoc callers can share
// the same query code.
type querier interface {
	QueryRow(ctx context.Context, query string, args ...any) *sql.Row
}

func fmtDup(name string, dim, maxConnect int) error {
	return errs.New(errs.InvalidArgument, "engine.OpenTable",
		fmt.Errorf("table %q already registered with vector_dimension=%d HNWS_max_connect=%d", name, dim, maxConnect))
}
