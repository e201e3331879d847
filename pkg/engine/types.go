// Package engine implements the hybrid chat-memory store: a Database
// that owns the registry and connection, and one or more Tables that
// each coordinate a relational row store, an FTS5 shadow table, and an
// HNSW vector index kept consistent with each other on every write.
package engine

import "time"

// InsertData is one chat-memory row to add.
type InsertData struct {
	// Time is the row's timestamp. The zero value means "now".
	Time time.Time
	// Sender is optional; an empty string is stored as NULL.
	Sender string
	// SenderUUID identifies the conversation participant and is
	// required.
	SenderUUID string
	// Message is the text to embed and index. Required.
	Message string
	// ForgetProbability is the Bernoulli parameter used by Forgotten:
	// on each GC pass the row is deleted with this probability. Zero
	// means the row is never forgotten.
	ForgetProbability float64
}

// SelectData is a row as read back from the main table.
type SelectData struct {
	ID         int64
	Time       time.Time
	Sender     string
	SenderUUID string
	Message    string
}

// SelectFTSData is a full-text search hit, optionally carrying a
// highlighted snippet.
type SelectFTSData struct {
	SelectData
	Highlight string
}

// SelectVectorData is a nearest-neighbour hit.
type SelectVectorData struct {
	SelectData
	Distance float32
}

// FTSQuery selects exactly one full-text matching mode plus optional
// time bounds and a result limit. Exactly one of FTS or SimpleQuery
// must be set: FTS runs an fts5 MATCH query, SimpleQuery runs a plain
// substring LIKE filter against the main table for callers without
// fts5 query-syntax needs.
//
// Highlight wraps matched terms in the fts5 result with Open and
// Close, the caller-supplied delimiter pair search_list_highlight_fts
// takes (e.g. "<b>"/"</b>" or "["/"]"); both are required when
// Highlight is set and are only meaningful together with FTS.
type FTSQuery struct {
	FTS         string
	SimpleQuery string
	Start       *time.Time
	End         *time.Time
	Limit       int
	Highlight   bool
	Open        string
	Close       string
}
