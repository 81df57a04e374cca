// Package embed turns chunk text into embedding vectors through an
// OpenAI-compatible HTTP endpoint. Transient upstream failures (429 and
// 5xx) are retried with exponential backoff and jitter; everything else
// fails fast.
package embed

import (
	"context"
	"errors"
	"fmt"
)

// Provider produces embedding vectors for batches of texts.
type Provider interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Model names the embedding model, used as the cache key.
	Model() string
	// MaxBatch is the largest batch the provider accepts per call.
	MaxBatch() int
}

// ErrEmptyInput is returned when Embed is called with no texts.
var ErrEmptyInput = errors.New("no texts to embed")

// ProviderError reports an upstream HTTP failure.
type ProviderError struct {
	Status    int    // HTTP status code
	Body      string // truncated response body
	Retryable bool   // true for 429 and 5xx
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("embed: provider returned %d: %s", e.Status, e.Body)
}
