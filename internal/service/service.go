// Package service ties a book to its retrieval machinery: chunking on
// open, an indexing pipeline feeding an isolated vector-index worker, and
// query paths that degrade from semantic search to lexical ranking when
// the semantic path is unavailable.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/liliang-cn/bookmind/pkg/bridge"
	"github.com/liliang-cn/bookmind/pkg/chunker"
	"github.com/liliang-cn/bookmind/pkg/embed"
	"github.com/liliang-cn/bookmind/pkg/keyword"
	"github.com/liliang-cn/bookmind/pkg/llm"
	"github.com/liliang-cn/bookmind/pkg/pipeline"
	"github.com/liliang-cn/bookmind/pkg/store"
	"github.com/liliang-cn/bookmind/pkg/vecindex"
)

// DefaultTopK is how many chunks a query retrieves unless asked otherwise.
const DefaultTopK = 5

// Hit is one retrieved chunk with its relevance score. Lexical marks
// results produced by the keyword fallback instead of vector search.
type Hit struct {
	Chunk   chunker.Chunk
	Score   float64
	Lexical bool
}

// Deps carries the collaborators a session needs. Chat may be nil when
// only indexing and search are used.
type Deps struct {
	Cache    *store.EmbedCache
	Embedder embed.Provider
	Chat     *llm.Client

	ChunkOpts      chunker.Options
	BatchSize      int
	MaxConcurrent  int
	RequestTimeout time.Duration
	Logger         *zerolog.Logger
}

// Session owns one book's retrieval state: its chunks, the vector-index
// worker and the embedding pipeline. Sessions are cheap to rebuild; the
// durable state lives in the embedding cache.
type Session struct {
	book   *Book
	chunks []chunker.Chunk
	byID   map[string]chunker.Chunk

	cache    *store.EmbedCache
	embedder embed.Provider
	chat     *llm.Client
	client   *bridge.Client
	pipe     *pipeline.Pipeline
	log      zerolog.Logger

	mu       sync.Mutex
	asyncErr error // first failure reported for a one-way index insert
}

// NewSession chunks the book and starts the index worker. The index is
// empty until IndexBook runs; the embedding cache makes that cheap for a
// book seen before.
func NewSession(book *Book, deps Deps) (*Session, error) {
	if book == nil {
		return nil, fmt.Errorf("session: nil book")
	}
	log := zerolog.Nop()
	if deps.Logger != nil {
		log = *deps.Logger
	}

	if deps.ChunkOpts == (chunker.Options{}) {
		deps.ChunkOpts = chunker.DefaultOptions()
	}
	chunks, err := chunker.Split(book.Chapters, deps.ChunkOpts)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	byID := make(map[string]chunker.Chunk, len(chunks))
	for _, ch := range chunks {
		byID[ch.ID] = ch
	}

	s := &Session{
		book:     book,
		chunks:   chunks,
		byID:     byID,
		cache:    deps.Cache,
		embedder: deps.Embedder,
		chat:     deps.Chat,
		log:      log,
	}

	s.client = bridge.New(vecindex.NewHandler(vecindex.New()), bridge.Options{
		MaxConcurrent:  deps.MaxConcurrent,
		RequestTimeout: deps.RequestTimeout,
		Logger:         deps.Logger,
		OnAsyncError:   s.recordAsyncError,
	})
	s.pipe = pipeline.New(deps.Cache, deps.Embedder, s.client, pipeline.Options{
		BatchSize: deps.BatchSize,
		Logger:    deps.Logger,
	})
	return s, nil
}

// Book returns the session's book.
func (s *Session) Book() *Book { return s.book }

// Chunks returns the book's chunk list in document order.
func (s *Session) Chunks() []chunker.Chunk { return s.chunks }

// IndexBook embeds and indexes every chunk of the book, reusing cached
// vectors. An insert rejected by the index worker (for example a
// dimension mismatch) fails the run even though inserts are one-way.
func (s *Session) IndexBook(ctx context.Context, progress pipeline.ProgressFunc) error {
	s.setAsyncError(nil)

	if _, err := s.pipe.IndexBook(ctx, s.book.ID, s.chunks, progress); err != nil {
		return err
	}

	// Inserts are one-way, so wait until the worker has acked them all
	// before declaring success. Requests bypass the send queue, which
	// rules out a sentinel round trip here.
	if err := s.waitForDrain(ctx); err != nil {
		return err
	}
	if err := s.takeAsyncError(); err != nil {
		return err
	}

	s.log.Info().Str("book", s.book.ID).Int("chunks", len(s.chunks)).Msg("book indexed")
	return nil
}

// waitForDrain blocks until the index worker has acked every outstanding
// message.
func (s *Session) waitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		inFlight, queued := s.client.Status()
		if inFlight == 0 && queued == 0 {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Query retrieves the chunks most relevant to the text. The semantic path
// embeds the query and asks the index worker; if embedding fails or the
// search times out or the worker has crashed, it degrades to lexical
// keyword ranking so reading never blocks on retrieval.
func (s *Session) Query(ctx context.Context, text string, topK int) ([]Hit, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}

	hits, err := s.semanticQuery(ctx, text, topK)
	if err == nil {
		return hits, nil
	}
	if !fallbackWorthy(err) {
		return nil, err
	}

	s.log.Warn().Err(err).Msg("semantic search unavailable, falling back to keyword ranking")
	return s.lexicalQuery(text, topK), nil
}

func (s *Session) semanticQuery(ctx context.Context, text string, topK int) ([]Hit, error) {
	vectors, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	matches, err := bridge.RequestAs[[]vecindex.Match](ctx, s.client, vecindex.MsgSearch,
		vecindex.SearchOp{Vector: vectors[0], TopK: topK})
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(matches))
	for _, m := range matches {
		ch, ok := s.byID[m.ID]
		if !ok {
			continue // stale id from an earlier chunking run
		}
		hits = append(hits, Hit{Chunk: ch, Score: m.Score})
	}
	return hits, nil
}

func (s *Session) lexicalQuery(text string, topK int) []Hit {
	docs := make([]keyword.Document, len(s.chunks))
	for i, ch := range s.chunks {
		docs[i] = keyword.Document{ID: ch.ID, Content: ch.Content}
	}

	results := keyword.Rank(text, docs, topK)
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{Chunk: s.byID[r.ID], Score: r.Score, Lexical: true})
	}
	return hits
}

// fallbackWorthy reports whether retrieval should degrade to lexical
// ranking instead of surfacing the error.
func fallbackWorthy(err error) bool {
	return errors.Is(err, bridge.ErrTimeout) ||
		errors.Is(err, bridge.ErrWorkerCrashed) ||
		isProviderError(err)
}

func isProviderError(err error) bool {
	var pe *embed.ProviderError
	return errors.As(err, &pe)
}

// Ask answers a question about the book: retrieve the most relevant
// chunks, then stream a completion grounded in them. The retrieved hits
// are returned alongside the answer so the caller can cite sources.
func (s *Session) Ask(ctx context.Context, question string, onDelta func(string)) (string, []Hit, error) {
	if s.chat == nil {
		return "", nil, fmt.Errorf("session: no chat provider configured")
	}

	hits, err := s.Query(ctx, question, DefaultTopK)
	if err != nil {
		return "", nil, err
	}

	answer, err := s.chat.Chat(ctx, buildPrompt(s.book.Title, question, hits), onDelta)
	if err != nil {
		return "", hits, err
	}
	return answer, hits, nil
}

// buildPrompt assembles the grounded chat messages: book excerpts as
// system context, the question as the user turn.
func buildPrompt(title, question string, hits []Hit) []llm.Message {
	var b strings.Builder
	b.WriteString("You are a reading assistant for the book ")
	fmt.Fprintf(&b, "%q. Answer using only the excerpts below. ", title)
	b.WriteString("If they are not enough, say so.\n")
	for i, h := range hits {
		fmt.Fprintf(&b, "\n[%d] (%s) %s\n", i+1, h.Chunk.ChapterTitle, h.Chunk.Content)
	}

	return []llm.Message{
		{Role: "system", Content: b.String()},
		{Role: "user", Content: question},
	}
}

// ClearIndex empties the vector index and deletes the book's cached
// embeddings.
func (s *Session) ClearIndex(ctx context.Context) error {
	if _, err := s.client.Request(ctx, vecindex.MsgClear, nil); err != nil {
		return err
	}
	return s.cache.Clear(ctx, s.book.ID)
}

// Status reports the index worker's in-flight and queued message counts.
func (s *Session) Status() (inFlight, queued int) {
	return s.client.Status()
}

// Close tears down the index worker. The embedding cache is shared across
// sessions and stays open.
func (s *Session) Close() error {
	return s.client.Close()
}

func (s *Session) recordAsyncError(msgType string, err error) {
	s.log.Error().Str("type", msgType).Err(err).Msg("one-way message failed")
	s.mu.Lock()
	if s.asyncErr == nil {
		s.asyncErr = fmt.Errorf("%s: %w", msgType, err)
	}
	s.mu.Unlock()
}

func (s *Session) setAsyncError(err error) {
	s.mu.Lock()
	s.asyncErr = err
	s.mu.Unlock()
}

func (s *Session) takeAsyncError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.asyncErr
	s.asyncErr = nil
	return err
}
