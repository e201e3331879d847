package sqlitex

import (
	"context"
	"database/sql"

	"github.com/foglet-ai/chatmem/pkg/errs"
)

// Level selects the BEGIN variant, matching sqlite's four transaction
// behaviours (DEFAULT, DEFERRED, IMMEDIATE, EXCLUSIVE).
type Level int

const (
	LevelDefault Level = iota
	LevelDeferred
	LevelImmediate
	LevelExclusive
)

func (l Level) beginStmt() string {
	switch l {
	case LevelDeferred:
		return "BEGIN DEFERRED"
	case LevelImmediate:
		return "BEGIN IMMEDIATE"
	case LevelExclusive:
		return "BEGIN EXCLUSIVE"
	default:
		return "BEGIN"
	}
}

// Tx is an explicit transaction pinned to a single connection. Unlike
// database/sql's *sql.Tx, it is opened with a specific BEGIN variant so
// callers can request IMMEDIATE or EXCLUSIVE locking up front, the way
// registry and rebuild operations need to.
type Tx struct {
	conn *sql.Conn
	done bool
}

// Begin opens a transaction at the given level.
func (c *Conn) Begin(ctx context.Context, level Level) (*Tx, error) {
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return nil, errs.New(errs.BadTransaction, "sqlitex.Begin", err)
	}
	if _, err := conn.ExecContext(ctx, level.beginStmt()); err != nil {
		conn.Close()
		return nil, errs.New(errs.BadTransaction, "sqlitex.Begin", err)
	}
	return &Tx{conn: conn}, nil
}

// Exec runs a statement within the transaction.
func (t *Tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := t.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, errs.New(errs.StmtCallError, "tx.Exec", err)
	}
	return res, nil
}

// Query runs a query within the transaction.
func (t *Tx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := t.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.New(errs.StmtCallError, "tx.Query", err)
	}
	return rows, nil
}

// QueryRow runs a query expected to return at most one row.
func (t *Tx) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.conn.QueryRowContext(ctx, query, args...)
}

// Prepare prepares a statement scoped to this transaction's connection.
func (t *Tx) Prepare(ctx context.Context, query string) (*sql.Stmt, error) {
	stmt, err := t.conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, errs.New(errs.StmtBindError, "tx.Prepare", err)
	}
	return stmt, nil
}

// Commit commits and releases the pinned connection.
func (t *Tx) Commit(ctx context.Context) error {
	if t.done {
		return errs.New(errs.BadTransaction, "tx.Commit", nil)
	}
	t.done = true
	defer t.conn.Close()
	if _, err := t.conn.ExecContext(ctx, "COMMIT"); err != nil {
		return errs.New(errs.BadTransaction, "tx.Commit", err)
	}
	return nil
}

// Rollback rolls back and releases the pinned connection. Calling it
// after Commit or a previous Rollback is a no-op, so it is always safe
// to defer immediately after Begin.
func (t *Tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.conn.Close()
	if _, err := t.conn.ExecContext(ctx, "ROLLBACK"); err != nil {
		return errs.New(errs.BadTransaction, "tx.Rollback", err)
	}
	return nil
}
