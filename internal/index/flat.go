package index

import (
	"fmt"
	"math"
	"sort"

	"kb/internal/domain"
)

// hit is one search candidate: a row ordinal and its inner-product score.
// id -1 marks an empty slot.
type hit struct {
	id    int
	score float32
}

// backend is an execution strategy for searching a set of vectors.
type backend interface {
	name() string
	dimension() int
	count() int
	// search returns exactly k hits ordered by descending score, padded with
	// id -1 when fewer than k vectors exist.
	search(query []float32, k int) []hit
	// portable returns the device-independent representation used for persistence.
	portable() *flatIndex
	close()
}

// flatIndex is an exhaustive inner-product index. Vectors are stored row-major
// in one contiguous slice; row i is the i-th vector added.
type flatIndex struct {
	dim  int
	data []float32
}

func newFlatIndex(dim int) *flatIndex { return &flatIndex{dim: dim} }

func (f *flatIndex) add(vectors [][]float32) error {
	for i, v := range vectors {
		if len(v) != f.dim {
			return fmt.Errorf("%w: row %d has dimension %d, index dimension is %d", domain.ErrDimension, i, len(v), f.dim)
		}
	}
	for _, v := range vectors {
		f.data = append(f.data, v...)
	}
	return nil
}

func (f *flatIndex) row(i int) []float32 { return f.data[i*f.dim : (i+1)*f.dim] }

func (f *flatIndex) name() string { return "flat" }
func (f *flatIndex) dimension() int { return f.dim }
func (f *flatIndex) portable() *flatIndex { return f }
func (f *flatIndex) close() {}

func (f *flatIndex) count() int {
	if f.dim == 0 {
		return 0
	}
	return len(f.data) / f.dim
}

func (f *flatIndex) search(query []float32, k int) []hit {
	return pad(f.scan(query, 0, f.count(), k), k)
}

// scan scores rows [lo, hi) and returns at most k best hits.
func (f *flatIndex) scan(query []float32, lo, hi, k int) []hit {
	hits := make([]hit, 0, hi-lo)
	for i := lo; i < hi; i++ {
		hits = append(hits, hit{id: i, score: dot(f.row(i), query)})
	}
	return selectTop(hits, k)
}

func dot(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float32
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

// selectTop orders hits by descending score, lower ordinal first on ties, and
// keeps the first k.
func selectTop(hits []hit, k int) []hit {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].id < hits[j].id
	})
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits
}

func pad(hits []hit, k int) []hit {
	for len(hits) < k {
		hits = append(hits, hit{id: -1, score: float32(math.Inf(-1))})
	}
	return hits
}
