package engine

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"path/filepath"
	"testing"

	"github.com/foglet-ai/chatmem/pkg/embedder"
)

// stubEmbed is the deterministic fixture embedder: the last 4 bytes of
// SHA-256(text) read as a little-endian float32.
func stubEmbed(ctx context.Context, text string) ([]float32, error) {
	sum := sha256.Sum256([]byte(text))
	bits := binary.LittleEndian.Uint32(sum[28:32])
	return []float32{math.Float32frombits(bits)}, nil
}

func newTestTable(t *testing.T, name string) (*Database, *Table) {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	db, err := Open(ctx, filepath.Join(dir, "chat.db"), ExtensionConfig{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	tbl, err := db.OpenTable(ctx, name, 1, 8, &embedder.Callback{Single: stubEmbed})
	if err != nil {
		t.Fatalf("OpenTable: %v", err)
	}
	return db, tbl
}
