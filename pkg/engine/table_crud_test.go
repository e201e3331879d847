package engine

import (
	"context"
	"testing"
)

func TestAddAndSearchID(t *testing.T) {
	_, tbl := newTestTable(t, "conversations")
	ctx := context.Background()

	id, err := tbl.Add(ctx, InsertData{SenderUUID: "u1", Message: "hello there"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	// id <= 1 is rejected as invalid input.
	if id <= 1 {
		if _, err := tbl.SearchID(ctx, id); err == nil {
			t.Fatalf("expected SearchID(%d) to be rejected", id)
		}
		id2, err := tbl.Add(ctx, InsertData{SenderUUID: "u1", Message: "second message"})
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		id = id2
	}

	got, err := tbl.SearchID(ctx, id)
	if err != nil {
		t.Fatalf("SearchID: %v", err)
	}
	if got.SenderUUID != "u1" {
		t.Fatalf("expected sender_uuid u1, got %q", got.SenderUUID)
	}
}

func TestAddRejectsMissingFields(t *testing.T) {
	_, tbl := newTestTable(t, "conversations")
	ctx := context.Background()

	if _, err := tbl.Add(ctx, InsertData{Message: "no uuid"}); err == nil {
		t.Fatal("expected error for missing sender_uuid")
	}
	if _, err := tbl.Add(ctx, InsertData{SenderUUID: "u1"}); err == nil {
		t.Fatal("expected error for missing message")
	}
}

func TestEmptySenderStoredAsNull(t *testing.T) {
	_, tbl := newTestTable(t, "conversations")
	ctx := context.Background()

	id, err := tbl.Add(ctx, InsertData{SenderUUID: "u1", Message: "anon message"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	rows, err := tbl.SearchByUUID(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("SearchByUUID: %v", err)
	}
	found := false
	for _, r := range rows {
		if r.ID == id {
			found = true
			if r.Sender != "" {
				t.Fatalf("expected empty sender, got %q", r.Sender)
			}
		}
	}
	if !found {
		t.Fatal("inserted row not found")
	}
	var isNull bool
	if err := tbl.db.conn.DB().QueryRowContext(ctx,
		`SELECT sender IS NULL FROM "conversations" WHERE id = ?`, id).Scan(&isNull); err != nil {
		t.Fatalf("read sender: %v", err)
	}
	if !isNull {
		t.Fatal("expected empty sender to be stored as NULL")
	}
}

func TestAddsBatchAssignsSequentialSlots(t *testing.T) {
	_, tbl := newTestTable(t, "conversations")
	ctx := context.Background()

	ids, err := tbl.Adds(ctx, []InsertData{
		{SenderUUID: "u1", Message: "one"},
		{SenderUUID: "u1", Message: "two"},
		{SenderUUID: "u1", Message: "three"},
	})
	if err != nil {
		t.Fatalf("Adds: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 ids, got %d", len(ids))
	}
	if tbl.ann.Size() != 3 {
		t.Fatalf("expected ann size 3, got %d", tbl.ann.Size())
	}
	for i, id := range ids {
		var slot int64
		if err := tbl.db.conn.DB().QueryRowContext(ctx,
			`SELECT faiss_index_id FROM "conversations" WHERE id = ?`, id).Scan(&slot); err != nil {
			t.Fatalf("read faiss_index_id: %v", err)
		}
		if slot != int64(i) {
			t.Fatalf("expected row %d to hold slot %d, got %d", id, i, slot)
		}
	}
}
