package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/foglet-ai/chatmem/pkg/errs"
)

func scanSelectData(row interface{ Scan(...any) error }) (SelectData, error) {
	var d SelectData
	var ts int64
	var sender sql.NullString
	if err := row.Scan(&d.ID, &ts, &sender, &d.SenderUUID, &d.Message); err != nil {
		return SelectData{}, err
	}
	d.Time = time.Unix(ts, 0).UTC()
	d.Sender = sender.String
	return d, nil
}

// SearchID returns the row with the given id. id <= 1 is rejected as
// invalid input rather than "not found" — row id 1 is never a valid
// lookup target.
func (t *Table) SearchID(ctx context.Context, id int64) (SelectData, error) {
	if id <= 1 {
		return SelectData{}, errs.New(errs.InvalidArgument, "table.SearchID", fmt.Errorf("id must be > 1"))
	}
	row := t.db.conn.DB().QueryRowContext(ctx, fmt.Sprintf(
		`SELECT id, timestamp, sender, sender_uuid, message FROM %q WHERE id = ?`, t.name), id)
	d, err := scanSelectData(row)
	if err == sql.ErrNoRows {
		return SelectData{}, errs.New(errs.OutOfRange, "table.SearchID", fmt.Errorf("no row with id %d", id))
	}
	if err != nil {
		return SelectData{}, errs.New(errs.SQLiteCallError, "table.SearchID", err)
	}
	return d, nil
}

func (t *Table) queryRows(ctx context.Context, query string, args ...any) ([]SelectData, error) {
	rows, err := t.db.conn.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.New(errs.SQLiteCallError, "table.queryRows", err)
	}
	defer rows.Close()

	var out []SelectData
	for rows.Next() {
		d, err := scanSelectData(rows)
		if err != nil {
			return nil, errs.New(errs.SQLiteCallError, "table.queryRows", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New(errs.SQLiteCallError, "table.queryRows", err)
	}
	return out, nil
}

// SearchByUUID returns rows for uuid, newest id first. limit <= 0
// means unbounded.
func (t *Table) SearchByUUID(ctx context.Context, uuid string, limit int) ([]SelectData, error) {
	q := fmt.Sprintf(`SELECT id, timestamp, sender, sender_uuid, message FROM %q WHERE sender_uuid = ? ORDER BY id DESC`, t.name)
	if limit > 0 {
		return t.queryRows(ctx, q+" LIMIT ?", uuid, limit)
	}
	return t.queryRows(ctx, q, uuid)
}

// SearchByTimeStart returns rows timestamped at or after start, newest first.
func (t *Table) SearchByTimeStart(ctx context.Context, start time.Time) ([]SelectData, error) {
	return t.queryRows(ctx, fmt.Sprintf(
		`SELECT id, timestamp, sender, sender_uuid, message FROM %q WHERE timestamp >= ? ORDER BY timestamp DESC`, t.name), start.Unix())
}

// SearchByTimeEnd returns rows timestamped at or before end, newest first.
func (t *Table) SearchByTimeEnd(ctx context.Context, end time.Time) ([]SelectData, error) {
	return t.queryRows(ctx, fmt.Sprintf(
		`SELECT id, timestamp, sender, sender_uuid, message FROM %q WHERE timestamp <= ? ORDER BY timestamp DESC`, t.name), end.Unix())
}

// SearchByTimeRange returns rows within [start, end], newest first.
func (t *Table) SearchByTimeRange(ctx context.Context, start, end time.Time) ([]SelectData, error) {
	return t.queryRows(ctx, fmt.Sprintf(
		`SELECT id, timestamp, sender, sender_uuid, message FROM %q WHERE timestamp >= ? AND timestamp <= ? ORDER BY timestamp DESC`, t.name),
		start.Unix(), end.Unix())
}

// SearchFTS resolves an FTSQuery into either an fts5 MATCH query or a
// plain substring LIKE query, per the resolved search_list_fts_impl
// open question.
func (t *Table) SearchFTS(ctx context.Context, q FTSQuery) ([]SelectFTSData, error) {
	if q.FTS != "" && q.SimpleQuery != "" {
		return nil, errs.New(errs.InvalidArgument, "table.SearchFTS", fmt.Errorf("fts and simple_query are mutually exclusive"))
	}
	if q.FTS == "" && q.SimpleQuery == "" {
		return nil, errs.New(errs.InvalidArgument, "table.SearchFTS", fmt.Errorf("one of fts or simple_query is required"))
	}
	if q.Highlight && (q.Open == "" || q.Close == "") {
		return nil, errs.New(errs.InvalidArgument, "table.SearchFTS", fmt.Errorf("highlight requires both open and close"))
	}

	highlightCol := "''"
	var highlightArgs []any
	if q.Highlight && q.FTS != "" {
		highlightCol = fmt.Sprintf("simple_highlight(%q, 0, ?, ?)", ftsName(t.name))
		highlightArgs = []any{q.Open, q.Close}
	}

	var b strings.Builder
	var args []any

	if q.FTS != "" {
		fmt.Fprintf(&b, `SELECT m.id, m.timestamp, m.sender, m.sender_uuid, m.message, %s
			FROM %q AS f JOIN %q AS m ON m.id = f.rowid
			WHERE f.message MATCH ?`, highlightCol, ftsName(t.name), t.name)
		args = append(args, highlightArgs...)
		args = append(args, q.FTS)
	} else {
		fmt.Fprintf(&b, `SELECT m.id, m.timestamp, m.sender, m.sender_uuid, m.message, %s
			FROM %q AS m WHERE m.message LIKE ?`, highlightCol, t.name)
		args = append(args, "%"+q.SimpleQuery+"%")
	}

	if q.Start != nil {
		b.WriteString(" AND m.timestamp >= ?")
		args = append(args, q.Start.Unix())
	}
	if q.End != nil {
		b.WriteString(" AND m.timestamp <= ?")
		args = append(args, q.End.Unix())
	}
	b.WriteString(" ORDER BY m.id DESC")
	if q.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	}

	rows, err := t.db.conn.DB().QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, errs.New(errs.SQLiteCallError, "table.SearchFTS", err)
	}
	defer rows.Close()

	var out []SelectFTSData
	for rows.Next() {
		var d SelectFTSData
		var ts int64
		var sender, highlight sql.NullString
		if err := rows.Scan(&d.ID, &ts, &sender, &d.SenderUUID, &d.Message, &highlight); err != nil {
			return nil, errs.New(errs.SQLiteCallError, "table.SearchFTS", err)
		}
		d.Time = time.Unix(ts, 0).UTC()
		d.Sender = sender.String
		d.Highlight = highlight.String
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New(errs.SQLiteCallError, "table.SearchFTS", err)
	}
	return out, nil
}

// SearchVectorText embeds message and returns its k nearest
// neighbours. ANN slots with no corresponding row (orphaned by a
// partially applied forgetting pass elsewhere, or a crash between the
// ANN append and the relational insert) are silently skipped, per the
// package's error-handling policy.
func (t *Table) SearchVectorText(ctx context.Context, message string, k int) ([]SelectVectorData, error) {
	results, err := t.SearchVectorTexts(ctx, []string{message}, k)
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// SearchVectorTexts batches n queries through one ANN search call and
// returns n independent result lists, one per input text, in input
// order.
func (t *Table) SearchVectorTexts(ctx context.Context, messages []string, k int) ([][]SelectVectorData, error) {
	if k <= 0 {
		return nil, errs.New(errs.InvalidArgument, "table.SearchVectorTexts", fmt.Errorf("k must be > 0"))
	}
	if len(messages) == 0 {
		return nil, nil
	}

	vectors, err := t.cb.EmbedBatch(ctx, messages, t.dim)
	if err != nil {
		return nil, err
	}

	t.mu.RLock()
	distances, indices, err := t.ann.Search(vectors, k)
	t.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	stmt, err := t.db.conn.DB().PrepareContext(ctx, fmt.Sprintf(
		`SELECT id, timestamp, sender, sender_uuid, message FROM %q WHERE faiss_index_id = ?`, t.name))
	if err != nil {
		return nil, errs.New(errs.StmtBindError, "table.SearchVectorTexts", err)
	}
	defer stmt.Close()

	out := make([][]SelectVectorData, len(messages))
	for qi := range messages {
		var hits []SelectVectorData
		for i, slot := range indices[qi] {
			if slot < 0 {
				continue
			}
			row := stmt.QueryRowContext(ctx, slot)
			d, err := scanSelectData(row)
			if err == sql.ErrNoRows {
				continue // orphaned slot, tolerated
			}
			if err != nil {
				return nil, errs.New(errs.SQLiteCallError, "table.SearchVectorTexts", err)
			}
			hits = append(hits, SelectVectorData{SelectData: d, Distance: distances[qi][i]})
		}
		out[qi] = hits
	}
	return out, nil
}
