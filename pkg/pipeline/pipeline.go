// Package pipeline produces a vector for every chunk of a book, preferring
// the embedding cache, and streams index-insert messages to the vector
// index worker as vectors become available.
package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/liliang-cn/bookmind/pkg/bridge"
	"github.com/liliang-cn/bookmind/pkg/chunker"
	"github.com/liliang-cn/bookmind/pkg/embed"
	"github.com/liliang-cn/bookmind/pkg/store"
	"github.com/liliang-cn/bookmind/pkg/vecindex"
)

// DefaultBatchSize is the number of uncached chunks embedded per provider
// call. Providers may allow larger batches; the effective size is the
// smaller of this setting and the provider's own limit.
const DefaultBatchSize = 50

// SemanticChunk is a text chunk with its embedding attached. The embedding
// comes from the cache when possible, otherwise from a fresh provider call.
type SemanticChunk struct {
	chunker.Chunk
	Embedding []float32
}

// ProgressFunc receives (processed, total) after the cached partition and
// after every provider batch.
type ProgressFunc func(processed, total int)

// Pipeline orchestrates cache validation, batched embedding and index
// population for one book at a time.
type Pipeline struct {
	cache     *store.EmbedCache
	provider  embed.Provider
	client    *bridge.Client
	batchSize int
	log       zerolog.Logger
}

// Options configures a Pipeline.
type Options struct {
	BatchSize int // 0 selects DefaultBatchSize
	Logger    *zerolog.Logger
}

// New wires a pipeline to its cache, embedding provider and index worker
// client.
func New(cache *store.EmbedCache, provider embed.Provider, client *bridge.Client, opts Options) *Pipeline {
	batch := opts.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	if max := provider.MaxBatch(); batch > max {
		batch = max
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	return &Pipeline{
		cache:     cache,
		provider:  provider,
		client:    client,
		batchSize: batch,
		log:       log,
	}
}

// IndexBook embeds every chunk of the book and feeds the vector index.
// Cached vectors are reused and replayed into the index without provider
// calls; the rest are embedded in batches, persisted once per batch, and
// indexed as they arrive. A hard provider error aborts the whole run: a
// partially indexed book with a systematically failing provider is not
// useful.
func (p *Pipeline) IndexBook(ctx context.Context, bookID string, chunks []chunker.Chunk, progress ProgressFunc) ([]SemanticChunk, error) {
	if err := p.validateCache(ctx, bookID); err != nil {
		return nil, err
	}

	cached, err := p.cache.Embeddings(ctx, bookID)
	if err != nil {
		return nil, err
	}

	total := len(chunks)
	out := make([]SemanticChunk, 0, total)
	var uncached []chunker.Chunk

	for _, ch := range chunks {
		vec, ok := cached[ch.ID]
		if !ok {
			uncached = append(uncached, ch)
			continue
		}
		if err := p.indexInsert(ch.ID, vec); err != nil {
			return nil, err
		}
		out = append(out, SemanticChunk{Chunk: ch, Embedding: vec})
	}

	p.log.Debug().
		Str("book", bookID).
		Int("cached", len(out)).
		Int("uncached", len(uncached)).
		Msg("partitioned chunks")

	processed := len(out)
	if progress != nil && processed > 0 {
		progress(processed, total)
	}

	for start := 0; start < len(uncached); start += p.batchSize {
		end := start + p.batchSize
		if end > len(uncached) {
			end = len(uncached)
		}
		batch := uncached[start:end]

		texts := make([]string, len(batch))
		for i, ch := range batch {
			texts[i] = ch.Content
		}

		vectors, err := p.provider.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("pipeline: embed batch at %d: %w", start, err)
		}
		if len(vectors) != len(batch) {
			// A partially answered batch is failed as a whole rather than
			// silently skipping entries.
			return nil, fmt.Errorf("pipeline: provider returned %d vectors for batch of %d", len(vectors), len(batch))
		}

		persist := make([]store.ChunkVector, len(batch))
		for i, ch := range batch {
			if err := p.indexInsert(ch.ID, vectors[i]); err != nil {
				return nil, err
			}
			out = append(out, SemanticChunk{Chunk: ch, Embedding: vectors[i]})
			persist[i] = store.ChunkVector{ID: ch.ID, Vector: vectors[i]}
		}

		// One write per provider batch, not per chunk.
		if err := p.cache.PutBatch(ctx, bookID, persist, p.provider.Model()); err != nil {
			return nil, err
		}

		processed += len(batch)
		if progress != nil {
			progress(processed, total)
		}
	}

	return out, nil
}

// validateCache clears the book's cached vectors when they were produced
// by a different model. Mixed-model vectors would corrupt similarity
// ranking, so staleness is handled by clearing and re-embedding, never
// surfaced to the caller.
func (p *Pipeline) validateCache(ctx context.Context, bookID string) error {
	meta, err := p.cache.Meta(ctx, bookID)
	if err != nil {
		return err
	}
	if meta == nil || meta.Model == p.provider.Model() {
		return nil
	}

	p.log.Info().
		Str("book", bookID).
		Str("cached", meta.Model).
		Str("current", p.provider.Model()).
		Msg("embedding cache stale, clearing")
	return p.cache.Clear(ctx, bookID)
}

func (p *Pipeline) indexInsert(id string, vec []float32) error {
	return p.client.Send(vecindex.MsgIndexChunk, vecindex.InsertOp{ID: id, Vector: vec})
}
