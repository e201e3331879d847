package engine

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/foglet-ai/chatmem/pkg/annindex"
	"github.com/foglet-ai/chatmem/pkg/errs"
	"github.com/foglet-ai/chatmem/pkg/sqlitex"
)

type forgetRow struct {
	id                int64
	faissIndexID      uint32
	forgetProbability float64
	message           string
}

func (t *Table) loadRowsOrderedBySlot(ctx context.Context, tx *sqlitex.Tx) ([]forgetRow, error) {
	rows, err := tx.Query(ctx, fmt.Sprintf(
		`SELECT id, faiss_index_id, forget_probability, message FROM %q ORDER BY faiss_index_id ASC`, t.name))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []forgetRow
	for rows.Next() {
		var r forgetRow
		if err := rows.Scan(&r.id, &r.faissIndexID, &r.forgetProbability, &r.message); err != nil {
			return nil, errs.New(errs.SQLiteCallError, "table.loadRowsOrderedBySlot", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Forgotten runs one probabilistic GC pass: each row is independently
// deleted with probability row.forget_probability. Survivors are
// reconstructed from the current ANN index (cheap; no re-embedding),
// written into a fresh index at renumbered slots [0,N), and the
// registry's faiss_new_id is reset to N. It returns the number of rows
// deleted.
func (t *Table) Forgotten(ctx context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tx, err := t.db.conn.Begin(ctx, sqlitex.LevelImmediate)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	rows, err := t.loadRowsOrderedBySlot(ctx, tx)
	if err != nil {
		return 0, err
	}

	var survivors []forgetRow
	var deleted []int64
	for _, r := range rows {
		if r.forgetProbability > 0 && rand.Float64() < r.forgetProbability {
			deleted = append(deleted, r.id)
			continue
		}
		survivors = append(survivors, r)
	}

	for _, id := range deleted {
		if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %q WHERE id = ?`, t.name), id); err != nil {
			return 0, err
		}
		if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %q WHERE rowid = ?`, ftsName(t.name)), id); err != nil {
			return 0, err
		}
	}

	newAnn, err := t.rebuildFromReconstruction(survivors)
	if err != nil {
		return 0, err
	}
	for i, r := range survivors {
		if _, err := tx.Exec(ctx, fmt.Sprintf(`UPDATE %q SET faiss_index_id = ? WHERE id = ?`, t.name), i, r.id); err != nil {
			return 0, err
		}
	}
	if _, err := tx.Exec(ctx, "UPDATE __TABLE_MANAGE__ SET faiss_new_id = ? WHERE tablename = ?", len(survivors), t.name); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	t.ann = newAnn
	return len(deleted), nil
}

// rebuildFromReconstruction builds a fresh index from vectors pulled
// out of the current one, in the given row order.
func (t *Table) rebuildFromReconstruction(rows []forgetRow) (*annindex.Index, error) {
	fresh := annindex.New(t.dim, t.maxConnect)
	if len(rows) == 0 {
		return fresh, nil
	}
	vectors := make([][]float32, len(rows))
	for i, r := range rows {
		v, err := t.ann.Reconstruct(r.faissIndexID)
		if err != nil {
			return nil, err
		}
		vectors[i] = v
	}
	if _, err := fresh.Add(vectors); err != nil {
		return nil, err
	}
	return fresh, nil
}

// RebuildFaissIndex compacts the ANN index by reconstructing every
// surviving vector into a fresh, defragmented index without touching
// the relational rows' content, only their faiss_index_id. This is the
// cheap rebuild variant: no re-embedding.
func (t *Table) RebuildFaissIndex(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	tx, err := t.db.conn.Begin(ctx, sqlitex.LevelImmediate)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	rows, err := t.loadRowsOrderedBySlot(ctx, tx)
	if err != nil {
		return err
	}

	newAnn, err := t.rebuildFromReconstruction(rows)
	if err != nil {
		return err
	}
	for i, r := range rows {
		if _, err := tx.Exec(ctx, fmt.Sprintf(`UPDATE %q SET faiss_index_id = ? WHERE id = ?`, t.name), i, r.id); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, "UPDATE __TABLE_MANAGE__ SET faiss_new_id = ? WHERE tablename = ?", len(rows), t.name); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	t.ann = newAnn
	return nil
}

// FullRebuildFaissIndex compacts the ANN index by re-embedding every
// row's stored message text, the expensive variant needed after the
// embedding model itself has changed (reconstruction alone would just
// replay the old model's vectors).
func (t *Table) FullRebuildFaissIndex(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	tx, err := t.db.conn.Begin(ctx, sqlitex.LevelImmediate)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	rows, err := t.loadRowsOrderedBySlot(ctx, tx)
	if err != nil {
		return err
	}

	fresh := annindex.New(t.dim, t.maxConnect)
	if len(rows) > 0 {
		messages := make([]string, len(rows))
		for i, r := range rows {
			messages[i] = r.message
		}
		vectors, err := t.cb.EmbedBatch(ctx, messages, t.dim)
		if err != nil {
			return err
		}
		if _, err := fresh.Add(vectors); err != nil {
			return err
		}
	}

	for i, r := range rows {
		if _, err := tx.Exec(ctx, fmt.Sprintf(`UPDATE %q SET faiss_index_id = ? WHERE id = ?`, t.name), i, r.id); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, "UPDATE __TABLE_MANAGE__ SET faiss_new_id = ? WHERE tablename = ?", len(rows), t.name); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	t.ann = fresh
	return nil
}
