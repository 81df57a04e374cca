package chunker

import (
	"strings"
	"testing"
)

func TestSplitBasic(t *testing.T) {
	body := strings.Repeat("abcdefghij", 30) // 300 chars, no markup
	chapters := []Chapter{{ID: "ch1", Title: "One", Body: body}}

	chunks, err := Split(chapters, Options{ChunkSize: 100, Overlap: 20})
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}

	// step 80: windows at 0, 80, 160, 240 (last one partial, 60 chars)
	if len(chunks) != 4 {
		t.Fatalf("Expected 4 chunks, got %d", len(chunks))
	}

	for i, c := range chunks {
		if len(c.Content) > 100 {
			t.Errorf("Chunk %d exceeds chunk size: %d chars", i, len(c.Content))
		}
		if c.ChapterID != "ch1" || c.ChapterTitle != "One" {
			t.Errorf("Chunk %d has wrong chapter mapping: %q/%q", i, c.ChapterID, c.ChapterTitle)
		}
	}

	if chunks[0].ID != "ch1-chunk-0" || chunks[3].ID != "ch1-chunk-3" {
		t.Errorf("Unexpected chunk ids: %s .. %s", chunks[0].ID, chunks[3].ID)
	}

	if len(chunks[3].Content) != 60 {
		t.Errorf("Expected final partial chunk of 60 chars, got %d", len(chunks[3].Content))
	}
}

func TestSplitOverlap(t *testing.T) {
	body := strings.Repeat("x", 50) + strings.Repeat("0123456789", 25)
	chapters := []Chapter{{ID: "c", Body: body}}

	const size, overlap = 120, 30
	chunks, err := Split(chapters, Options{ChunkSize: size, Overlap: overlap})
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("Expected multiple chunks, got %d", len(chunks))
	}

	// Consecutive chunks share exactly `overlap` characters.
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1].Content
		tail := prev[len(prev)-overlap:]
		if !strings.HasPrefix(chunks[i].Content, tail) {
			t.Errorf("Chunk %d does not start with the previous chunk's %d-char tail", i, overlap)
		}
	}
}

func TestSplitIdempotent(t *testing.T) {
	chapters := []Chapter{
		{ID: "a", Title: "A", Body: "<p>" + strings.Repeat("lorem ipsum ", 40) + "</p>"},
		{ID: "b", Title: "B", Body: strings.Repeat("dolor sit amet ", 30)},
	}

	first, err := Split(chapters, DefaultOptions())
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	second, err := Split(chapters, DefaultOptions())
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("Chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("Chunk %d differs between runs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestSplitStripsMarkup(t *testing.T) {
	body := "<h1>Title</h1><p>" + strings.Repeat("word ", 30) + "</p><br/>"
	chunks, err := Split([]Chapter{{ID: "m", Body: body}}, Options{ChunkSize: 200, Overlap: 0})
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatal("Expected at least one chunk")
	}
	if strings.ContainsAny(chunks[0].Content, "<>") {
		t.Errorf("Markup not stripped: %q", chunks[0].Content)
	}
	if strings.Contains(chunks[0].Content, "  ") {
		t.Errorf("Whitespace not collapsed: %q", chunks[0].Content)
	}
}

func TestSplitSkipsShortChapters(t *testing.T) {
	chapters := []Chapter{
		{ID: "short", Body: "<p>too short</p>"},
		{ID: "long", Body: strings.Repeat("content ", 20)},
	}
	chunks, err := Split(chapters, DefaultOptions())
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	for _, c := range chunks {
		if c.ChapterID == "short" {
			t.Errorf("Short chapter should contribute no chunks, got %s", c.ID)
		}
	}
	if len(chunks) == 0 {
		t.Error("Long chapter should contribute chunks")
	}
}

func TestSplitInvalidOptions(t *testing.T) {
	chapters := []Chapter{{ID: "c", Body: strings.Repeat("x", 200)}}

	cases := []Options{
		{ChunkSize: 100, Overlap: 100},
		{ChunkSize: 100, Overlap: 150},
		{ChunkSize: 100, Overlap: -1},
		{ChunkSize: 0, Overlap: 0},
		{ChunkSize: -5, Overlap: 0},
	}
	for _, opts := range cases {
		if _, err := Split(chapters, opts); err == nil {
			t.Errorf("Expected error for options %+v", opts)
		}
	}
}

func TestCleanUnicode(t *testing.T) {
	// Window arithmetic is in runes, not bytes.
	body := strings.Repeat("héllo wörld ", 20)
	chunks, err := Split([]Chapter{{ID: "u", Body: body}}, Options{ChunkSize: 50, Overlap: 10})
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	for i, c := range chunks {
		if n := len([]rune(c.Content)); n > 50 {
			t.Errorf("Chunk %d has %d runes, exceeds window", i, n)
		}
	}
}
