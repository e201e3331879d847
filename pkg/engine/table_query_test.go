package engine

import (
	"context"
	"testing"
	"time"
)

func TestSearchFTSMatchAndSimpleQuery(t *testing.T) {
	_, tbl := newTestTable(t, "conversations")
	ctx := context.Background()

	if _, err := tbl.Add(ctx, InsertData{SenderUUID: "u1", Message: "the quick brown fox"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := tbl.Add(ctx, InsertData{SenderUUID: "u1", Message: "a lazy dog sleeps"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	hits, err := tbl.SearchFTS(ctx, FTSQuery{FTS: "fox"})
	if err != nil {
		t.Fatalf("SearchFTS(fts): %v", err)
	}
	if len(hits) != 1 || hits[0].Message != "the quick brown fox" {
		t.Fatalf("unexpected fts hits: %+v", hits)
	}

	hits, err = tbl.SearchFTS(ctx, FTSQuery{SimpleQuery: "lazy"})
	if err != nil {
		t.Fatalf("SearchFTS(simple): %v", err)
	}
	if len(hits) != 1 || hits[0].Message != "a lazy dog sleeps" {
		t.Fatalf("unexpected simple_query hits: %+v", hits)
	}
}

func TestSearchFTSRejectsBothOrNeither(t *testing.T) {
	_, tbl := newTestTable(t, "conversations")
	ctx := context.Background()

	if _, err := tbl.SearchFTS(ctx, FTSQuery{}); err == nil {
		t.Fatal("expected error when neither fts nor simple_query is set")
	}
	if _, err := tbl.SearchFTS(ctx, FTSQuery{FTS: "a", SimpleQuery: "b"}); err == nil {
		t.Fatal("expected error when both fts and simple_query are set")
	}
}

func TestSearchFTSHighlight(t *testing.T) {
	_, tbl := newTestTable(t, "conversations")
	ctx := context.Background()

	if _, err := tbl.Add(ctx, InsertData{SenderUUID: "u1", Message: "golang concurrency patterns"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	hits, err := tbl.SearchFTS(ctx, FTSQuery{FTS: "concurrency", Highlight: true, Open: "<mark>", Close: "</mark>"})
	if err != nil {
		t.Fatalf("SearchFTS: %v", err)
	}
	if len(hits) != 1 || hits[0].Highlight != "golang <mark>concurrency</mark> patterns" {
		t.Fatalf("expected caller-supplied delimiters in the highlight snippet, got %+v", hits)
	}
}

func TestSearchFTSHighlightRequiresOpenAndClose(t *testing.T) {
	_, tbl := newTestTable(t, "conversations")
	ctx := context.Background()

	if _, err := tbl.SearchFTS(ctx, FTSQuery{FTS: "concurrency", Highlight: true}); err == nil {
		t.Fatal("expected error when highlight is requested without open/close")
	}
	if _, err := tbl.SearchFTS(ctx, FTSQuery{FTS: "concurrency", Highlight: true, Open: "["}); err == nil {
		t.Fatal("expected error when only open is set")
	}
}

func TestSearchVectorTextFindsExactMessage(t *testing.T) {
	_, tbl := newTestTable(t, "conversations")
	ctx := context.Background()

	if _, err := tbl.Add(ctx, InsertData{SenderUUID: "u1", Message: "apples and oranges"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := tbl.Add(ctx, InsertData{SenderUUID: "u1", Message: "completely unrelated text"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	results, err := tbl.SearchVectorText(ctx, "apples and oranges", 1)
	if err != nil {
		t.Fatalf("SearchVectorText: %v", err)
	}
	if len(results) != 1 || results[0].Message != "apples and oranges" || results[0].Distance != 0 {
		t.Fatalf("expected exact-match hit with distance 0, got %+v", results)
	}
}

func TestSearchVectorTextsReturnsOneListPerQuery(t *testing.T) {
	_, tbl := newTestTable(t, "conversations")
	ctx := context.Background()

	if _, err := tbl.Adds(ctx, []InsertData{
		{SenderUUID: "u1", Message: "first memory"},
		{SenderUUID: "u1", Message: "second memory"},
	}); err != nil {
		t.Fatalf("Adds: %v", err)
	}

	results, err := tbl.SearchVectorTexts(ctx, []string{"first memory", "second memory"}, 1)
	if err != nil {
		t.Fatalf("SearchVectorTexts: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected one result list per query, got %d", len(results))
	}
	if results[0][0].Message != "first memory" || results[1][0].Message != "second memory" {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestSearchByTimeRange(t *testing.T) {
	_, tbl := newTestTable(t, "conversations")
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	if _, err := tbl.Add(ctx, InsertData{Time: past, SenderUUID: "u1", Message: "old"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := tbl.Add(ctx, InsertData{SenderUUID: "u1", Message: "now"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	rows, err := tbl.SearchByTimeRange(ctx, past.Add(-time.Minute), time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("SearchByTimeRange: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected both rows in range, got %d", len(rows))
	}
	if rows[0].Message != "now" || rows[1].Message != "old" {
		t.Fatalf("expected SearchByTimeRange newest first, got %+v", rows)
	}

	rows, err = tbl.SearchByTimeStart(ctx, past.Add(-time.Minute))
	if err != nil {
		t.Fatalf("SearchByTimeStart: %v", err)
	}
	if len(rows) != 2 || rows[0].Message != "now" || rows[1].Message != "old" {
		t.Fatalf("expected SearchByTimeStart newest first, got %+v", rows)
	}

	rows, err = tbl.SearchByTimeStart(ctx, future)
	if err != nil {
		t.Fatalf("SearchByTimeStart: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no rows after future start, got %d", len(rows))
	}
}
