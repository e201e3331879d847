package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/foglet-ai/chatmem/pkg/errs"
	"github.com/foglet-ai/chatmem/pkg/sqlitex"
)

func validateInsert(d InsertData) error {
	if d.SenderUUID == "" {
		return errs.New(errs.InvalidArgument, "table.Add", fmt.Errorf("sender_uuid is required"))
	}
	if d.Message == "" {
		return errs.New(errs.InvalidArgument, "table.Add", fmt.Errorf("message is required"))
	}
	if d.ForgetProbability < 0 || d.ForgetProbability > 1 {
		return errs.New(errs.OutOfRange, "table.Add", fmt.Errorf("forget_probability must be within [0,1]"))
	}
	return nil
}

func senderColumn(sender string) any {
	if sender == "" {
		return nil
	}
	return sender
}

// Add embeds and inserts one row. The vector is appended to the ANN
// index before the relational insert commits, so a crash between the
// two leaves at most an orphaned, never a dangling, slot.
func (t *Table) Add(ctx context.Context, data InsertData) (int64, error) {
	if err := validateInsert(data); err != nil {
		return 0, err
	}

	vec, err := t.cb.Embed(ctx, data.Message)
	if err != nil {
		return 0, err
	}
	if len(vec) != t.dim {
		return 0, errs.New(errs.LengthError, "table.Add",
			fmt.Errorf("embedding callback returned %d dims, table expects %d", len(vec), t.dim))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	slot, err := t.ann.Add([][]float32{vec})
	if err != nil {
		return 0, err
	}

	ts := data.Time
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	tx, err := t.db.conn.Begin(ctx, sqlitex.LevelDefault)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	res, err := tx.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %q (timestamp, sender, sender_uuid, message, forget_probability, faiss_index_id) VALUES (?, ?, ?, ?, ?, ?)`, t.name),
		ts.Unix(), senderColumn(data.Sender), data.SenderUUID, data.Message, data.ForgetProbability, slot)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errs.New(errs.SQLiteCallError, "table.Add", err)
	}

	if _, err := tx.Exec(ctx, fmt.Sprintf(`INSERT INTO %q (rowid, message) VALUES (?, ?)`, ftsName(t.name)), id, data.Message); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return id, nil
}

// Adds embeds and inserts many rows in one transaction, preferring a
// single batch embedding call over n individual ones.
func (t *Table) Adds(ctx context.Context, datas []InsertData) ([]int64, error) {
	if len(datas) == 0 {
		return nil, nil
	}
	for _, d := range datas {
		if err := validateInsert(d); err != nil {
			return nil, err
		}
	}

	messages := make([]string, len(datas))
	for i, d := range datas {
		messages[i] = d.Message
	}
	vectors, err := t.cb.EmbedBatch(ctx, messages, t.dim)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	base, err := t.ann.Add(vectors)
	if err != nil {
		return nil, err
	}

	tx, err := t.db.conn.Begin(ctx, sqlitex.LevelDefault)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]int64, len(datas))
	for i, d := range datas {
		ts := d.Time
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		res, err := tx.Exec(ctx, fmt.Sprintf(
			`INSERT INTO %q (timestamp, sender, sender_uuid, message, forget_probability, faiss_index_id) VALUES (?, ?, ?, ?, ?, ?)`, t.name),
			ts.Unix(), senderColumn(d.Sender), d.SenderUUID, d.Message, d.ForgetProbability, base+uint32(i))
		if err != nil {
			return nil, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, errs.New(errs.SQLiteCallError, "table.Adds", err)
		}
		if _, err := tx.Exec(ctx, fmt.Sprintf(`INSERT INTO %q (rowid, message) VALUES (?, ?)`, ftsName(t.name)), id, d.Message); err != nil {
			return nil, err
		}
		ids[i] = id
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}
