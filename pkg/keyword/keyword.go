// Package keyword ranks chunks against a query by lexical token overlap.
// It is the fallback retrieval path when no embedding provider is
// reachable or the vector search times out: much weaker than semantic
// search, but always available and cheap.
package keyword

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// Result is a scored chunk id.
type Result struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// Document is the minimal unit the ranker scores.
type Document struct {
	ID      string
	Content string
}

// Rank scores every document against the query using the Ochiai
// coefficient over lowercase token sets: overlap / sqrt(|query| * |doc|).
// Documents with no overlap are dropped; ties keep input order. topK
// beyond the number of scored documents returns everything.
func Rank(query string, docs []Document, topK int) []Result {
	queryTokens := tokenSet(query)
	if len(queryTokens) == 0 || topK <= 0 {
		return []Result{}
	}

	results := make([]Result, 0, len(docs))
	for _, doc := range docs {
		docTokens := tokenSet(doc.Content)
		if len(docTokens) == 0 {
			continue
		}

		overlap := 0
		for tok := range queryTokens {
			if _, ok := docTokens[tok]; ok {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}

		score := float64(overlap) / math.Sqrt(float64(len(queryTokens))*float64(len(docTokens)))
		results = append(results, Result{ID: doc.ID, Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if topK > len(results) {
		topK = len(results)
	}
	return results[:topK]
}

// tokenSet lowercases the text and splits it on any non-letter,
// non-digit rune. Single-rune tokens are kept: they matter for CJK text
// where one rune is a word.
func tokenSet(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}
