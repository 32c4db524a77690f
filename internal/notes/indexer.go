package notes

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/minutes/internal/observe"
	"github.com/MrWong99/minutes/pkg/provider/embeddings"
	"github.com/MrWong99/minutes/pkg/store"
)

const (
	defaultChunkWords   = 180
	defaultChunkOverlap = 30
	defaultEmbedBatch   = 64
)

// IndexerOption configures an [Indexer].
type IndexerOption func(*Indexer)

// WithChunking sets the chunk size and overlap in words.
func WithChunking(words, overlap int) IndexerOption {
	return func(ix *Indexer) {
		if words > 0 {
			ix.words = words
		}
		if overlap >= 0 && overlap < ix.words {
			ix.overlap = overlap
		}
	}
}

// WithEmbedBatch sets how many chunks go into one embeddings request.
func WithEmbedBatch(n int) IndexerOption {
	return func(ix *Indexer) { ix.batch = n }
}

// WithIndexerMetrics records embedding latency on m.
func WithIndexerMetrics(m *observe.Metrics) IndexerOption {
	return func(ix *Indexer) { ix.metrics = m }
}

// Indexer splits transcripts into overlapping chunks, embeds them and
// replaces a meeting's chunks in the index.
type Indexer struct {
	emb     embeddings.Provider
	index   store.ChunkIndex
	words   int
	overlap int
	batch   int
	metrics *observe.Metrics
}

// NewIndexer returns an Indexer writing to index.
func NewIndexer(emb embeddings.Provider, index store.ChunkIndex, opts ...IndexerOption) *Indexer {
	ix := &Indexer{
		emb:     emb,
		index:   index,
		words:   defaultChunkWords,
		overlap: defaultChunkOverlap,
		batch:   defaultEmbedBatch,
	}
	for _, o := range opts {
		o(ix)
	}
	return ix
}

// Index replaces the chunks of meetingID with chunks of transcript and
// returns how many were stored. An empty transcript clears the index of
// the meeting.
func (ix *Indexer) Index(ctx context.Context, meetingID, transcript string) (int, error) {
	texts := SplitWords(transcript, ix.words, ix.overlap)
	if len(texts) == 0 {
		if err := ix.index.ReplaceChunks(ctx, meetingID, nil); err != nil {
			return 0, fmt.Errorf("notes: clear chunks: %w", err)
		}
		return 0, nil
	}

	start := time.Now()
	vecs, err := embeddings.EmbedAll(ctx, ix.emb, texts, ix.batch)
	if ix.metrics != nil {
		ix.metrics.EmbedDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		return 0, fmt.Errorf("notes: embed chunks: %w", err)
	}
	if len(vecs) != len(texts) {
		return 0, fmt.Errorf("notes: embed chunks: got %d vectors for %d chunks", len(vecs), len(texts))
	}

	chunks := make([]store.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = store.Chunk{
			ID:        uuid.NewString(),
			MeetingID: meetingID,
			Index:     i,
			Content:   text,
			Embedding: vecs[i],
		}
	}
	if err := ix.index.ReplaceChunks(ctx, meetingID, chunks); err != nil {
		return 0, fmt.Errorf("notes: store chunks: %w", err)
	}
	slog.Debug("notes: meeting indexed", "meeting", meetingID, "chunks", len(chunks),
		"model", ix.emb.ModelID(), "duration", time.Since(start))
	return len(chunks), nil
}

// Search embeds query and returns the topK closest chunks of meetingID.
func (ix *Indexer) Search(ctx context.Context, meetingID, query string, topK int) ([]store.ChunkResult, error) {
	start := time.Now()
	vec, err := ix.emb.Embed(ctx, query)
	if ix.metrics != nil {
		ix.metrics.EmbedDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		return nil, fmt.Errorf("notes: embed query: %w", err)
	}
	res, err := ix.index.SearchChunks(ctx, meetingID, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("notes: search chunks: %w", err)
	}
	return res, nil
}

// Count returns the number of chunks indexed for meetingID.
func (ix *Indexer) Count(ctx context.Context, meetingID string) (int, error) {
	n, err := ix.index.ChunkCount(ctx, meetingID)
	if err != nil {
		return 0, fmt.Errorf("notes: count chunks: %w", err)
	}
	return n, nil
}
