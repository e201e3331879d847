// Package chatmem is the public entry point for embedding the hybrid
// chat-memory store in a host application, a thin facade over
// pkg/engine.
package chatmem

import (
	"context"

	"github.com/foglet-ai/chatmem/pkg/embedder"
	"github.com/foglet-ai/chatmem/pkg/engine"
)

// Config configures Open.
type Config struct {
	// Path is the SQLite database file.
	Path string
	// Extension optionally loads a tokenizer shared library and
	// registers a CJK dictionary before the registry is created.
	Extension engine.ExtensionConfig
	// Synchronous sets PRAGMA synchronous once the database is open.
	// Empty leaves SQLite's default.
	Synchronous string
	// WALAutocheckpointPages sets PRAGMA wal_autocheckpoint. Zero
	// leaves SQLite's default.
	WALAutocheckpointPages int
}

// DB is an open chat-memory database.
type DB struct {
	eng *engine.Database
}

// Open opens or creates the database described by cfg.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	eng, err := engine.Open(ctx, cfg.Path, cfg.Extension)
	if err != nil {
		return nil, err
	}
	if cfg.Synchronous != "" {
		if err := eng.SetSynchronous(ctx, cfg.Synchronous); err != nil {
			eng.Close()
			return nil, err
		}
	}
	if cfg.WALAutocheckpointPages > 0 {
		if err := eng.SetWALAutocheckpoint(ctx, cfg.WALAutocheckpointPages); err != nil {
			eng.Close()
			return nil, err
		}
	}
	return &DB{eng: eng}, nil
}

// Table opens or creates a chat-memory table backed by cb for
// embedding. dim and maxConnect are immutable once a table is first
// created; reopening with different values is rejected.
func (db *DB) Table(ctx context.Context, name string, dim, maxConnect int, cb *embedder.Callback) (*engine.Table, error) {
	return db.eng.OpenTable(ctx, name, dim, maxConnect, cb)
}

// Checkpoint runs a WAL checkpoint, returning the log and checkpointed
// frame counts.
func (db *DB) Checkpoint(ctx context.Context, mode string) (logFrames, checkpointedFrames int, err error) {
	return db.eng.Checkpoint(ctx, mode)
}

// Close closes the underlying database connection. Callers should
// Close every open Table first so each persists its ANN index.
func (db *DB) Close() error {
	return db.eng.Close()
}
