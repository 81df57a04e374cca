package vecindex

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"
)

func TestInsertAndSearchRoundTrip(t *testing.T) {
	ix := New()

	vectors := [][]float32{
		{1.0, 0.0, 0.0},
		{0.0, 1.0, 0.0},
		{0.0, 0.0, 1.0},
		{0.5, 0.5, 0.0},
	}
	for i, v := range vectors {
		if err := ix.Insert(fmt.Sprintf("v%d", i), v); err != nil {
			t.Fatalf("Insert %d failed: %v", i, err)
		}
	}

	if ix.Count() != 4 {
		t.Errorf("Expected count 4, got %d", ix.Count())
	}
	if ix.Dimension() != 3 {
		t.Errorf("Expected dimension 3, got %d", ix.Dimension())
	}

	// Querying with an inserted vector returns that id as top-1 with ~1.0.
	matches := ix.Search([]float32{0.0, 1.0, 0.0}, 1)
	if len(matches) != 1 {
		t.Fatalf("Expected 1 match, got %d", len(matches))
	}
	if matches[0].ID != "v1" {
		t.Errorf("Expected v1 as top match, got %s", matches[0].ID)
	}
	if math.Abs(matches[0].Score-1.0) > 1e-6 {
		t.Errorf("Expected score ~1.0, got %f", matches[0].Score)
	}
}

func TestSearchOrdering(t *testing.T) {
	ix := New()
	_ = ix.Insert("a", []float32{1, 0})
	_ = ix.Insert("b", []float32{0, 1})
	_ = ix.Insert("c", []float32{0.7071, 0.7071})

	matches := ix.Search([]float32{1, 0}, 2)
	if len(matches) != 2 {
		t.Fatalf("Expected 2 matches, got %d", len(matches))
	}
	if matches[0].ID != "a" || matches[1].ID != "c" {
		t.Errorf("Expected [a c], got [%s %s]", matches[0].ID, matches[1].ID)
	}
	if math.Abs(matches[0].Score-1.0) > 1e-4 {
		t.Errorf("Expected score ~1.0 for a, got %f", matches[0].Score)
	}
	if math.Abs(matches[1].Score-0.7071) > 1e-3 {
		t.Errorf("Expected score ~0.7071 for c, got %f", matches[1].Score)
	}
}

func TestSearchTiesKeepInsertionOrder(t *testing.T) {
	ix := New()
	// Identical vectors score identically; stable sort keeps insert order.
	for i := 0; i < 5; i++ {
		_ = ix.Insert(fmt.Sprintf("dup%d", i), []float32{1, 1})
	}
	matches := ix.Search([]float32{1, 1}, 5)
	for i, m := range matches {
		if want := fmt.Sprintf("dup%d", i); m.ID != want {
			t.Errorf("Position %d: expected %s, got %s", i, want, m.ID)
		}
	}
}

func TestDimensionLatch(t *testing.T) {
	ix := New()
	if err := ix.Insert("a", []float32{1, 2, 3}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	err := ix.Insert("b", []float32{1, 2})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("Expected ErrDimensionMismatch, got %v", err)
	}

	// Failed insert must not mutate state.
	if ix.Count() != 1 {
		t.Errorf("Count changed after failed insert: %d", ix.Count())
	}
	if ix.Dimension() != 3 {
		t.Errorf("Dimension changed after failed insert: %d", ix.Dimension())
	}

	// Clear unlocks the dimension.
	ix.Clear()
	if err := ix.Insert("c", []float32{1, 2}); err != nil {
		t.Fatalf("Insert after clear failed: %v", err)
	}
	if ix.Dimension() != 2 {
		t.Errorf("Expected relatched dimension 2, got %d", ix.Dimension())
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	ix := New()
	matches := ix.Search([]float32{1, 0}, 5)
	if len(matches) != 0 {
		t.Errorf("Empty index should return no matches, got %d", len(matches))
	}
}

func TestSearchTopKClamped(t *testing.T) {
	ix := New()
	_ = ix.Insert("a", []float32{1, 0})
	_ = ix.Insert("b", []float32{0, 1})

	matches := ix.Search([]float32{1, 1}, 10)
	if len(matches) != 2 {
		t.Errorf("Expected all 2 entries for large topK, got %d", len(matches))
	}
}

func TestZeroVectorQuery(t *testing.T) {
	ix := New()
	_ = ix.Insert("a", []float32{1, 0})
	_ = ix.Insert("zero", []float32{0, 0})

	// Epsilon keeps degenerate vectors from dividing by zero.
	matches := ix.Search([]float32{0, 0}, 2)
	if len(matches) != 2 {
		t.Fatalf("Expected 2 matches, got %d", len(matches))
	}
	for _, m := range matches {
		if math.IsNaN(m.Score) || math.IsInf(m.Score, 0) {
			t.Errorf("Degenerate score for %s: %f", m.ID, m.Score)
		}
	}
}

func TestGrowthPastInitialCapacity(t *testing.T) {
	ix := New()
	const n = growRows*2 + 37
	for i := 0; i < n; i++ {
		v := []float32{float32(i), 1}
		if err := ix.Insert(fmt.Sprintf("v%d", i), v); err != nil {
			t.Fatalf("Insert %d failed: %v", i, err)
		}
		if ix.Count()*ix.Dimension() > len(ix.data) {
			t.Fatalf("Buffer invariant violated at row %d", i)
		}
	}
	if ix.Count() != n {
		t.Errorf("Expected count %d, got %d", n, ix.Count())
	}

	matches := ix.Search([]float32{float32(n - 1), 1}, 1)
	if matches[0].ID != fmt.Sprintf("v%d", n-1) {
		t.Errorf("Expected last vector as best match, got %s", matches[0].ID)
	}
}

func BenchmarkSearch(b *testing.B) {
	ix := New()
	rng := rand.New(rand.NewSource(1))
	const dim = 128
	for i := 0; i < 2000; i++ {
		v := make([]float32, dim)
		for j := range v {
			v[j] = rng.Float32()
		}
		_ = ix.Insert(fmt.Sprintf("v%d", i), v)
	}
	query := make([]float32, dim)
	for i := range query {
		query[i] = rng.Float32()
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ix.Search(query, 10)
	}
}
