// Package vecindex maintains a dense, append-only buffer of embedding
// vectors and answers nearest-neighbor queries by exact cosine similarity.
//
// The index is a brute-force O(count x dimension) scan per query. At the
// scale of one book's chunk set (hundreds to low thousands of rows)
// exactness and simplicity beat approximate structures.
//
// An Index is not safe for concurrent use. It is designed to be owned by a
// single worker goroutine (see the bridge package) which serializes all
// operations, so it carries no internal locking.
package vecindex

import (
	"fmt"
	"math"
	"sort"
)

// growRows is the minimum headroom added when the backing buffer fills up.
// Growing in chunks of at least 500 rows amortizes reallocation cost.
const growRows = 500

// epsilon guards the cosine denominator against degenerate all-zero vectors.
const epsilon = 1e-8

// Match is a scored search hit.
type Match struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// Index is a flat count x dimension float32 buffer plus a parallel ordered
// id list. The dimension is latched on the first insert and stays fixed
// until Clear.
type Index struct {
	dim   int
	count int
	data  []float32 // len == capacity*dim, rows [0,count) are live
	ids   []string
}

// New returns an empty index. The dimension is latched by the first Insert.
func New() *Index {
	return &Index{}
}

// Count returns the number of stored vectors.
func (ix *Index) Count() int { return ix.count }

// Dimension returns the latched vector dimension, or 0 while empty.
func (ix *Index) Dimension() int { return ix.dim }

// Insert appends a vector under the given id. The first insert latches the
// index dimension; later inserts with a different length fail with
// ErrDimensionMismatch without mutating state.
func (ix *Index) Insert(id string, vector []float32) error {
	if len(vector) == 0 {
		return fmt.Errorf("%w: empty vector for %q", ErrDimensionMismatch, id)
	}
	if ix.dim == 0 {
		ix.dim = len(vector)
	} else if len(vector) != ix.dim {
		return fmt.Errorf("%w: expected %d, got %d for %q", ErrDimensionMismatch, ix.dim, len(vector), id)
	}

	if (ix.count+1)*ix.dim > len(ix.data) {
		ix.grow()
	}

	copy(ix.data[ix.count*ix.dim:], vector)
	ix.ids = append(ix.ids, id)
	ix.count++
	return nil
}

// grow reallocates the buffer with headroom: at least growRows rows, or
// current+growRows, whichever is larger.
func (ix *Index) grow() {
	capRows := len(ix.data) / ix.dim
	newRows := capRows + growRows
	if newRows < growRows {
		newRows = growRows
	}
	data := make([]float32, newRows*ix.dim)
	copy(data, ix.data[:ix.count*ix.dim])
	ix.data = data
}

// Search ranks all stored vectors against the query by cosine similarity
// and returns the best topK matches, ties broken by insertion order. An
// empty index returns an empty result, not an error. topK beyond the stored
// count returns everything.
func (ix *Index) Search(query []float32, topK int) []Match {
	if ix.count == 0 || topK <= 0 {
		return []Match{}
	}

	var qNorm float64
	for _, v := range query {
		qNorm += float64(v) * float64(v)
	}
	qNorm = math.Sqrt(qNorm)

	matches := make([]Match, ix.count)
	for row := 0; row < ix.count; row++ {
		vec := ix.data[row*ix.dim : (row+1)*ix.dim]
		var dot, norm float64
		n := len(query)
		if ix.dim < n {
			n = ix.dim
		}
		for i := 0; i < n; i++ {
			dot += float64(query[i]) * float64(vec[i])
		}
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		matches[row] = Match{
			ID:    ix.ids[row],
			Score: dot / (qNorm*math.Sqrt(norm) + epsilon),
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	if topK > len(matches) {
		topK = len(matches)
	}
	return matches[:topK]
}

// Clear resets the index to empty, releases the buffer and unlocks the
// dimension for the next insert.
func (ix *Index) Clear() {
	ix.dim = 0
	ix.count = 0
	ix.data = nil
	ix.ids = nil
}
