// Package annindex is an approximate-nearest-neighbour index built
// around the narrow contract the chat-memory engine needs: vectors are
// appended at dense, monotonically increasing uint32 slots and never
// removed individually. Shrinking the index only ever happens by
// reconstructing surviving vectors and building a fresh one (see
// engine.Table.Forgotten/RebuildFaissIndex), so there is no Delete here
// and no quantizer hook.
package annindex

import (
	"bufio"
	"container/heap"
	"encoding/gob"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sync"

	"github.com/foglet-ai/chatmem/pkg/errs"
)

// fileMagic tags the on-disk format so Load can reject a file that
// isn't one of these indexes.
const fileMagic = "chatmem-hnsw-v1"

const defaultEfConstruction = 200

// node is one graph vertex. neighbors[l] holds the slot's neighbours at
// layer l; len(neighbors) is the node's top layer plus one.
type node struct {
	vector    []float32
	neighbors [][]uint32
}

// Index is a single HNSW graph over fixed-dimension float32 vectors.
type Index struct {
	mu         sync.RWMutex
	dim        int
	maxConnect int
	efConstr   int
	efSearch   int
	ml         float64
	rng        *rand.Rand

	nodes      map[uint32]*node
	nextSlot   uint32
	entry      uint32
	hasEntry   bool
}

// New constructs an empty index for vectors of the given dimension.
// maxConnect mirrors faiss's M parameter (max neighbours per node).
func New(dim, maxConnect int) *Index {
	if maxConnect <= 0 {
		maxConnect = 16
	}
	return &Index{
		dim:        dim,
		maxConnect: maxConnect,
		efConstr:   defaultEfConstruction,
		efSearch:   maxConnect * 2,
		ml:         1 / math.Log(float64(maxConnect)),
		rng:        rand.New(rand.NewSource(1)),
		nodes:      make(map[uint32]*node),
	}
}

// Dim returns the configured vector dimension.
func (idx *Index) Dim() int { return idx.dim }

// MaxConnect returns the configured M.
func (idx *Index) MaxConnect() int { return idx.maxConnect }

// Size returns the number of vectors currently indexed.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.nodes)
}

// SetEfSearch adjusts the candidate-list size used during Search.
func (idx *Index) SetEfSearch(ef int) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if ef > 0 {
		idx.efSearch = ef
	}
}

// Add appends vectors at contiguous slots starting at the returned
// base, matching faiss::Index::add's append-only ordering guarantee.
func (idx *Index) Add(vectors [][]float32) (base uint32, err error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, v := range vectors {
		if len(v) != idx.dim {
			return 0, errs.New(errs.InvalidArgument, "annindex.Add",
				fmt.Errorf("vector length %d does not match index dimension %d", len(v), idx.dim))
		}
	}

	base = idx.nextSlot
	for _, v := range vectors {
		idx.insertLocked(idx.nextSlot, v)
		idx.nextSlot++
	}
	return base, nil
}

func (idx *Index) insertLocked(slot uint32, vector []float32) {
	cp := make([]float32, len(vector))
	copy(cp, vector)
	level := idx.selectLevel()
	n := &node{vector: cp, neighbors: make([][]uint32, level+1)}
	idx.nodes[slot] = n

	if !idx.hasEntry {
		idx.entry = slot
		idx.hasEntry = true
		return
	}

	entryLevel := len(idx.nodes[idx.entry].neighbors) - 1
	cur := idx.entry
	for l := entryLevel; l > level; l-- {
		cur = idx.greedyClosest(cur, vector, l)
	}
	for l := min(level, entryLevel); l >= 0; l-- {
		candidates := idx.searchLayer(vector, cur, idx.efConstr, l)
		neighbors := selectNeighbors(candidates, idx.maxConnect)
		n.neighbors[l] = neighbors
		for _, nb := range neighbors {
			idx.addConnection(nb, slot, l)
		}
		if len(candidates) > 0 {
			cur = candidates[0].slot
		}
	}

	if level > entryLevel {
		idx.entry = slot
	}
}

func (idx *Index) selectLevel() int {
	lvl := 0
	for idx.rng.Float64() < 1/math.E && lvl < 32 {
		lvl++
	}
	_ = idx.ml
	return lvl
}

func (idx *Index) greedyClosest(from uint32, target []float32, layer int) uint32 {
	best := from
	bestDist := squaredL2(idx.nodes[from].vector, target)
	improved := true
	for improved {
		improved = false
		n := idx.nodes[best]
		if layer >= len(n.neighbors) {
			continue
		}
		for _, nb := range n.neighbors[layer] {
			d := squaredL2(idx.nodes[nb].vector, target)
			if d < bestDist {
				bestDist = d
				best = nb
				improved = true
			}
		}
	}
	return best
}

type candidate struct {
	slot uint32
	dist float32
}

type maxHeap []candidate

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return h[i].dist > h[j].dist }
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// minHeap orders candidates nearest-first, used for the exploration
// frontier so the walk always expands the closest unexplored node.
type minHeap []candidate

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// searchLayer returns up to ef nearest candidates to target at layer,
// starting the greedy walk from entry, sorted closest-first.
func (idx *Index) searchLayer(target []float32, entry uint32, ef, layer int) []candidate {
	visited := map[uint32]bool{entry: true}
	entryDist := squaredL2(idx.nodes[entry].vector, target)

	candidates := &minHeap{{entry, entryDist}} // exploration frontier, nearest-first
	results := &maxHeap{{entry, entryDist}}    // worst-first, capped at ef
	heap.Init(candidates)
	heap.Init(results)

	for candidates.Len() > 0 {
		c := heap.Pop(candidates).(candidate)
		if results.Len() > 0 && c.dist > (*results)[0].dist && results.Len() >= ef {
			break
		}
		n, ok := idx.nodes[c.slot]
		if !ok || layer >= len(n.neighbors) {
			continue
		}
		for _, nb := range n.neighbors[layer] {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			d := squaredL2(idx.nodes[nb].vector, target)
			if results.Len() < ef || d < (*results)[0].dist {
				heap.Push(candidates, candidate{nb, d})
				heap.Push(results, candidate{nb, d})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]candidate, len(*results))
	copy(out, *results)
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].dist < out[i].dist {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

func selectNeighbors(candidates []candidate, m int) []uint32 {
	if len(candidates) > m {
		candidates = candidates[:m]
	}
	out := make([]uint32, len(candidates))
	for i, c := range candidates {
		out[i] = c.slot
	}
	return out
}

func (idx *Index) addConnection(slot, to uint32, layer int) {
	n, ok := idx.nodes[slot]
	if !ok || layer >= len(n.neighbors) {
		return
	}
	for _, existing := range n.neighbors[layer] {
		if existing == to {
			return
		}
	}
	n.neighbors[layer] = append(n.neighbors[layer], to)
	if len(n.neighbors[layer]) > idx.maxConnect {
		// trim the farthest neighbour to respect M.
		worst, worstDist := 0, float32(-1)
		for i, nb := range n.neighbors[layer] {
			d := squaredL2(n.vector, idx.nodes[nb].vector)
			if d > worstDist {
				worstDist, worst = d, i
			}
		}
		n.neighbors[layer] = append(n.neighbors[layer][:worst], n.neighbors[layer][worst+1:]...)
	}
}

// Search runs nq independent queries and returns row-major k-nearest
// results per query, squared-L2 distances, and slot indices with -1
// padding unfilled slots, matching faiss::Index::search's contract.
func (idx *Index) Search(queries [][]float32, k int) (distances [][]float32, indices [][]int64, err error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if k <= 0 {
		return nil, nil, errs.New(errs.InvalidArgument, "annindex.Search", fmt.Errorf("k must be > 0"))
	}

	distances = make([][]float32, len(queries))
	indices = make([][]int64, len(queries))

	for qi, q := range queries {
		distances[qi] = make([]float32, k)
		indices[qi] = make([]int64, k)
		for i := range indices[qi] {
			indices[qi][i] = -1
		}
		if len(q) != idx.dim {
			return nil, nil, errs.New(errs.InvalidArgument, "annindex.Search",
				fmt.Errorf("query %d length %d does not match index dimension %d", qi, len(q), idx.dim))
		}
		if !idx.hasEntry {
			continue
		}

		entryLevel := len(idx.nodes[idx.entry].neighbors) - 1
		cur := idx.entry
		for l := entryLevel; l > 0; l-- {
			cur = idx.greedyClosest(cur, q, l)
		}
		ef := idx.efSearch
		if ef < k {
			ef = k
		}
		candidates := idx.searchLayer(q, cur, ef, 0)
		for i := 0; i < len(candidates) && i < k; i++ {
			distances[qi][i] = candidates[i].dist
			indices[qi][i] = int64(candidates[i].slot)
		}
	}
	return distances, indices, nil
}

// Reconstruct returns a copy of the vector stored at slot.
func (idx *Index) Reconstruct(slot uint32) ([]float32, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	n, ok := idx.nodes[slot]
	if !ok {
		return nil, errs.New(errs.OutOfRange, "annindex.Reconstruct", fmt.Errorf("slot %d not present", slot))
	}
	cp := make([]float32, len(n.vector))
	copy(cp, n.vector)
	return cp, nil
}

func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// --- persistence -----------------------------------------------------

type fileHeader struct {
	Magic      string
	Dim        int
	MaxConnect int
	EfConstr   int
	EfSearch   int
	NextSlot   uint32
	Entry      uint32
	HasEntry   bool
}

type nodeRecord struct {
	Slot      uint32
	Vector    []float32
	Neighbors [][]uint32
}

// Save writes the index to path, creating parent directories as
// needed.
func (idx *Index) Save(path string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errs.New(errs.BadAlloc, "annindex.Save", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return errs.New(errs.BadAlloc, "annindex.Save", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := gob.NewEncoder(w)

	hdr := fileHeader{
		Magic:      fileMagic,
		Dim:        idx.dim,
		MaxConnect: idx.maxConnect,
		EfConstr:   idx.efConstr,
		EfSearch:   idx.efSearch,
		NextSlot:   idx.nextSlot,
		Entry:      idx.entry,
		HasEntry:   idx.hasEntry,
	}
	if err := enc.Encode(hdr); err != nil {
		return errs.New(errs.BadAlloc, "annindex.Save", err)
	}
	for slot, n := range idx.nodes {
		rec := nodeRecord{Slot: slot, Vector: n.vector, Neighbors: n.neighbors}
		if err := enc.Encode(rec); err != nil {
			return errs.New(errs.BadAlloc, "annindex.Save", err)
		}
	}
	return w.Flush()
}

// Load reads an index previously written by Save. A file that is not
// one of these indexes (wrong magic) is rejected with a RuntimeError.
func Load(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.New(errs.SQLiteCallError, "annindex.Load", err)
	}
	defer f.Close()

	dec := gob.NewDecoder(bufio.NewReader(f))
	var hdr fileHeader
	if err := dec.Decode(&hdr); err != nil {
		return nil, errs.New(errs.RuntimeError, "annindex.Load", err)
	}
	if hdr.Magic != fileMagic {
		return nil, errs.New(errs.RuntimeError, "annindex.Load",
			fmt.Errorf("file is not a chatmem HNSW index (magic %q)", hdr.Magic))
	}

	idx := &Index{
		dim:        hdr.Dim,
		maxConnect: hdr.MaxConnect,
		efConstr:   hdr.EfConstr,
		efSearch:   hdr.EfSearch,
		nextSlot:   hdr.NextSlot,
		entry:      hdr.Entry,
		hasEntry:   hdr.HasEntry,
		ml:         1 / math.Log(float64(max(hdr.MaxConnect, 2))),
		rng:        rand.New(rand.NewSource(1)),
		nodes:      make(map[uint32]*node),
	}
	for {
		var rec nodeRecord
		if err := dec.Decode(&rec); err != nil {
			break
		}
		idx.nodes[rec.Slot] = &node{vector: rec.Vector, neighbors: rec.Neighbors}
	}
	return idx, nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
