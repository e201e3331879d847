package annindex

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"
)

func writeGarbage(path string) error {
	return os.WriteFile(path, []byte("not a gob stream"), 0o644)
}

func randVec(r *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = r.Float32()
	}
	return v
}

func TestAddAssignsContiguousSlots(t *testing.T) {
	idx := New(8, 16)
	vecs := [][]float32{randVec(rand.New(rand.NewSource(1)), 8), randVec(rand.New(rand.NewSource(2)), 8)}
	base, err := idx.Add(vecs)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if base != 0 {
		t.Fatalf("expected first base slot 0, got %d", base)
	}
	base2, err := idx.Add(vecs)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if base2 != 2 {
		t.Fatalf("expected second base slot 2, got %d", base2)
	}
}

func TestSearchFindsExactMatch(t *testing.T) {
	idx := New(4, 16)
	r := rand.New(rand.NewSource(42))
	vecs := make([][]float32, 50)
	for i := range vecs {
		vecs[i] = randVec(r, 4)
	}
	if _, err := idx.Add(vecs); err != nil {
		t.Fatalf("Add: %v", err)
	}

	target := vecs[7]
	distances, indices, err := idx.Search([][]float32{target}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	found := false
	for i, slot := range indices[0] {
		if slot == 7 {
			found = true
			if distances[0][i] != 0 {
				t.Fatalf("exact match should have distance 0, got %v", distances[0][i])
			}
		}
	}
	if !found {
		t.Fatalf("expected slot 7 among nearest neighbours, got %v", indices[0])
	}
}

func TestSearchPadsShortResultsWithMinusOne(t *testing.T) {
	idx := New(4, 16)
	if _, err := idx.Add([][]float32{{1, 0, 0, 0}}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	_, indices, err := idx.Search([][]float32{{1, 0, 0, 0}}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if indices[0][0] != 0 {
		t.Fatalf("expected first slot 0, got %d", indices[0][0])
	}
	for _, v := range indices[0][1:] {
		if v != -1 {
			t.Fatalf("expected padding -1, got %d", v)
		}
	}
}

func TestReconstructRoundTrips(t *testing.T) {
	idx := New(3, 16)
	vec := []float32{1, 2, 3}
	if _, err := idx.Add([][]float32{vec}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	got, err := idx.Reconstruct(0)
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Fatalf("reconstruct mismatch at %d: want %v got %v", i, vec[i], got[i])
		}
	}
	if _, err := idx.Reconstruct(99); err == nil {
		t.Fatal("expected error for out-of-range slot")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	idx := New(4, 16)
	r := rand.New(rand.NewSource(7))
	vecs := make([][]float32, 10)
	for i := range vecs {
		vecs[i] = randVec(r, 4)
	}
	if _, err := idx.Add(vecs); err != nil {
		t.Fatalf("Add: %v", err)
	}

	path := filepath.Join(t.TempDir(), "index.hnsw")
	if err := idx.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Size() != idx.Size() {
		t.Fatalf("expected size %d, got %d", idx.Size(), loaded.Size())
	}
	got, err := loaded.Reconstruct(3)
	if err != nil {
		t.Fatalf("Reconstruct after load: %v", err)
	}
	for i := range vecs[3] {
		if got[i] != vecs[3][i] {
			t.Fatalf("vector mismatch after reload at %d", i)
		}
	}
}

func TestLoadRejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-an-index.bin")
	if err := writeGarbage(path); err != nil {
		t.Fatalf("writeGarbage: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected Load to reject a non-index file")
	}
}
