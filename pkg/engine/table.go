package engine

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/foglet-ai/chatmem/pkg/annindex"
	"github.com/foglet-ai/chatmem/pkg/chatmemlog"
	"github.com/foglet-ai/chatmem/pkg/embedder"
	"github.com/foglet-ai/chatmem/pkg/errs"
	"github.com/foglet-ai/chatmem/pkg/sqlitex"
)

var identifierRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validateTableName(name string) error {
	if !identifierRE.MatchString(name) {
		return errs.New(errs.InvalidArgument, "engine.validateTableName",
			fmt.Errorf("table name %q must match %s", name, identifierRE.String()))
	}
	if strings.EqualFold(name, "__TABLE_MANAGE__") {
		return errs.New(errs.InvalidArgument, "engine.validateTableName",
			fmt.Errorf("%q is reserved for the registry", name))
	}
	return nil
}

// mainDDL is the per-table row store. faiss_index_id is the dense slot
// assigned in the ANN index at insert time.
func mainDDL(name string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		sender TEXT,
		sender_uuid TEXT NOT NULL,
		message TEXT NOT NULL,
		forget_probability REAL NOT NULL DEFAULT 0,
		faiss_index_id INTEGER NOT NULL
	)`, name)
}

func ftsDDL(ftsName string) string {
	return fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS %q USING fts5(message, tokenize='simple')`, ftsName)
}

func ftsName(name string) string { return name + "_fts" }

// faissPathFor returns the on-disk ANN index path for a table:
// <db-dir>/<db-stem>/<table>.faiss
func faissPathFor(dbPath, name string) string {
	dir := filepath.Dir(dbPath)
	stem := strings.TrimSuffix(filepath.Base(dbPath), filepath.Ext(dbPath))
	return filepath.Join(dir, stem, name+".faiss")
}

// Table coordinates one logical chat-memory table across the
// relational row store, its FTS5 shadow, and an HNSW index. All
// writes go through a single instance, which serializes them with its
// own mutex.
type Table struct {
	mu         sync.RWMutex
	db         *Database
	name       string
	dim        int
	maxConnect int
	faissPath  string
	ann        *annindex.Index
	cb         *embedder.Callback
	log        *chatmemlog.Logger
}

// OpenTable constructs or reopens a table. If the table was previously
// registered, dim and maxConnect must match the registered values.
func (d *Database) OpenTable(ctx context.Context, name string, dim, maxConnect int, cb *embedder.Callback) (*Table, error) {
	if err := validateTableName(name); err != nil {
		return nil, err
	}
	if dim <= 0 {
		return nil, errs.New(errs.InvalidArgument, "engine.OpenTable", fmt.Errorf("vector_dimension must be > 0"))
	}
	if maxConnect <= 0 {
		maxConnect = 32
	}
	if cb == nil || cb.Single == nil {
		return nil, errs.New(errs.BadFunctionCall, "engine.OpenTable", fmt.Errorf("embedding callback required"))
	}

	tx, err := d.conn.Begin(ctx, sqlitex.LevelExclusive)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	storedDim, storedMaxConnect, faissPath, err := d.registryRow(ctx, tx, name)
	switch {
	case err == sql.ErrNoRows:
		faissPath = faissPathFor(d.conn.Path(), name)
		if _, err := tx.Exec(ctx,
			"INSERT INTO __TABLE_MANAGE__ (tablename, vector_dimension, HNWS_max_connect, faiss_fullpath, faiss_new_id) VALUES (?, ?, ?, ?, 0)",
			name, dim, maxConnect, faissPath); err != nil {
			return nil, err
		}
		storedDim, storedMaxConnect = dim, maxConnect
	case err != nil:
		return nil, err
	default:
		if storedDim != dim || storedMaxConnect != maxConnect {
			return nil, fmtDup(name, storedDim, storedMaxConnect)
		}
	}

	if _, err := tx.Exec(ctx, mainDDL(name)); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, ftsDDL(ftsName(name))); err != nil {
		return nil, err
	}

	var ann *annindex.Index
	if _, statErr := os.Stat(faissPath); statErr == nil {
		ann, err = annindex.Load(faissPath)
		if err != nil {
			return nil, err
		}
		if ann.Dim() != storedDim || ann.MaxConnect() != storedMaxConnect {
			return nil, errs.New(errs.RuntimeError, "engine.OpenTable",
				fmt.Errorf("on-disk index at %s has dimension/maxConnect %d/%d, registry expects %d/%d",
					faissPath, ann.Dim(), ann.MaxConnect(), storedDim, storedMaxConnect))
		}
	} else {
		ann = annindex.New(storedDim, storedMaxConnect)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	t := &Table{
		db:         d,
		name:       name,
		dim:        storedDim,
		maxConnect: storedMaxConnect,
		faissPath:  faissPath,
		ann:        ann,
		cb:         cb,
		log:        chatmemlog.GetLogger("engine.table").With("table", name),
	}
	t.log.Info("table opened", "vector_dimension", storedDim, "HNWS_max_connect", storedMaxConnect)
	return t, nil
}

// Name returns the table's registered name.
func (t *Table) Name() string { return t.name }

// Dimension returns the table's fixed vector dimension.
func (t *Table) Dimension() int { return t.dim }

// SetEfSearch adjusts the HNSW candidate-list size used by vector
// queries.
func (t *Table) SetEfSearch(ef int) {
	t.ann.SetEfSearch(ef)
}

// SaveFaissIndex persists the in-memory ANN index to its file.
func (t *Table) SaveFaissIndex() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ann.Save(t.faissPath)
}

// Close persists the ANN index and the next-slot counter. Failures are logged
// rather than returned: there is no caller left in a destructor-path
// position to act on them, matching the policy for Database.Close.
func (t *Table) Close(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ann.Save(t.faissPath); err != nil {
		t.log.Error("failed to persist ann index on close", "error", err)
		return nil
	}
	if _, err := t.db.conn.DB().ExecContext(ctx,
		"UPDATE __TABLE_MANAGE__ SET faiss_new_id = ? WHERE tablename = ?", t.ann.Size(), t.name); err != nil {
		t.log.Error("failed to persist faiss_new_id on close", "error", errs.New(errs.SQLiteCallError, "table.Close", err))
	}
	return nil
}

// Drop removes the table, its FTS shadow, its registry entry, and its
// on-disk ANN index file.
func (t *Table) Drop(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	tx, err := t.db.conn.Begin(ctx, sqlitex.LevelExclusive)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %q", ftsName(t.name))); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %q", t.name)); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, "DELETE FROM __TABLE_MANAGE__ WHERE tablename = ?", t.name); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	if err := os.Remove(t.faissPath); err != nil && !os.IsNotExist(err) {
		t.log.Warn("failed to remove ann index file", "path", t.faissPath, "error", err)
	}
	return nil
}
