package docstore

import (
	"context"
	"errors"
)

// ErrUnavailable is reported by every operation when no document store is
// configured. Callers treat it as a degraded state, not a crash.
var ErrUnavailable = errors.New("docstore: not configured")

// SearchResult is one retrieved chunk with its relevance score.
type SearchResult struct {
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
	FileName   string  `json:"file_name"`
	ChunkIndex int     `json:"chunk_index"`
}

// Store persists document chunks with their embeddings and answers
// chat-scoped similarity queries over them.
type Store interface {
	// InsertChunks writes chunks+embeddings for one file. len(chunks) must
	// equal len(embeddings). Writes happen in fixed-size batches; a failing
	// batch aborts the remainder and prior batches stay persisted.
	InsertChunks(ctx context.Context, chatID, fileName string, chunks []string, embeddings [][]float32) error

	// SimilaritySearch returns chunks of chatID with similarity >= threshold,
	// ordered by descending similarity, at most topK entries.
	SimilaritySearch(ctx context.Context, chatID string, queryVec []float32, threshold float64, topK int) ([]SearchResult, error)

	// DeleteChunks removes all chunks of the chat, or of one file when
	// fileName is non-empty.
	DeleteChunks(ctx context.Context, chatID, fileName string) error
}

// Unavailable is the degraded no-op store used when DATABASE_URL is absent.
type Unavailable struct{}

func (Unavailable) InsertChunks(context.Context, string, string, []string, [][]float32) error {
	return ErrUnavailable
}

func (Unavailable) SimilaritySearch(context.Context, string, []float32, float64, int) ([]SearchResult, error) {
	return nil, ErrUnavailable
}

func (Unavailable) DeleteChunks(context.Context, string, string) error {
	return ErrUnavailable
}
