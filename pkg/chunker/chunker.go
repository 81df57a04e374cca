// Package chunker splits chapter text into overlapping fixed-size windows.
//
// Chunk ids are deterministic and stable across runs: splitting the same
// chapters with the same options always yields byte-identical output, so a
// chunk id can be used as a durable cache key for its embedding.
package chunker

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// DefaultChunkSize is the window width in characters.
	DefaultChunkSize = 800
	// DefaultOverlap is how many characters consecutive windows share.
	DefaultOverlap = 100
	// MinChapterLen is the minimum cleaned chapter length; shorter chapters
	// carry too little context to be useful and produce no chunks.
	MinChapterLen = 50
)

// Chapter is one unit of book text, possibly containing markup.
type Chapter struct {
	ID    string
	Title string
	Body  string
}

// Chunk is a bounded, overlapping slice of chapter text. It is the unit of
// embedding and retrieval.
type Chunk struct {
	ID           string
	ChapterID    string
	ChapterTitle string
	Content      string
}

// Options controls window geometry.
type Options struct {
	ChunkSize int
	Overlap   int
}

// DefaultOptions returns the standard 800/100 window geometry.
func DefaultOptions() Options {
	return Options{ChunkSize: DefaultChunkSize, Overlap: DefaultOverlap}
}

// validate rejects geometries whose advance step would be zero or negative.
func (o Options) validate() error {
	if o.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size %d", ErrInvalidOptions, o.ChunkSize)
	}
	if o.Overlap < 0 || o.Overlap >= o.ChunkSize {
		return fmt.Errorf("%w: overlap %d must satisfy 0 <= overlap < %d", ErrInvalidOptions, o.Overlap, o.ChunkSize)
	}
	return nil
}

var (
	tagRe        = regexp.MustCompile(`<[^>]*>`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Split turns chapters into chunks by stripping markup, collapsing
// whitespace and sliding a window of ChunkSize characters advancing by
// ChunkSize-Overlap. The final partial window is emitted as well. Chapters
// whose cleaned text is shorter than MinChapterLen contribute nothing.
func Split(chapters []Chapter, opts Options) ([]Chunk, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	var chunks []Chunk
	for _, ch := range chapters {
		text := Clean(ch.Body)
		runes := []rune(text)
		if len(runes) < MinChapterLen {
			continue
		}

		step := opts.ChunkSize - opts.Overlap
		for start, idx := 0, 0; start < len(runes); start, idx = start+step, idx+1 {
			end := start + opts.ChunkSize
			if end > len(runes) {
				end = len(runes)
			}
			chunks = append(chunks, Chunk{
				ID:           fmt.Sprintf("%s-chunk-%d", ch.ID, idx),
				ChapterID:    ch.ID,
				ChapterTitle: ch.Title,
				Content:      string(runes[start:end]),
			})
			if end == len(runes) {
				break
			}
		}
	}
	return chunks, nil
}

// Clean strips markup tags, collapses runs of whitespace to single spaces
// and trims the result.
func Clean(body string) string {
	text := tagRe.ReplaceAllString(body, " ")
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
