package docstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// insertBatchSize bounds the payload of a single insert round trip.
const insertBatchSize = 10

// Postgres stores chunks in a pgvector-backed table.
type Postgres struct {
	pool *pgxpool.Pool
	dim  int
}

func NewPostgres(ctx context.Context, connStr string, dim int) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("docstore: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("docstore: ping: %w", err)
	}
	return &Postgres{pool: pool, dim: dim}, nil
}

func (p *Postgres) Close() { p.pool.Close() }

// EnsureSchema installs the pgvector extension, the user_documents table and
// its indexes. The embedding column is fixed at the configured dimensionality.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("docstore: create extension: %w", err)
	}

	table := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS user_documents (
    id UUID PRIMARY KEY,
    chat_id TEXT NOT NULL,
    file_name TEXT NOT NULL,
    chunk_index INTEGER NOT NULL,
    content TEXT NOT NULL,
    embedding VECTOR(%d),
    created_at TIMESTAMP WITH TIME ZONE NOT NULL
)`, p.dim)
	if _, err := p.pool.Exec(ctx, table); err != nil {
		return fmt.Errorf("docstore: create table: %w", err)
	}

	if _, err := p.pool.Exec(ctx,
		"CREATE INDEX IF NOT EXISTS idx_user_documents_chat ON user_documents (chat_id, file_name)"); err != nil {
		return fmt.Errorf("docstore: create chat index: %w", err)
	}
	if _, err := p.pool.Exec(ctx,
		"CREATE INDEX IF NOT EXISTS idx_user_documents_embedding ON user_documents USING ivfflat (embedding vector_cosine_ops)"); err != nil {
		return fmt.Errorf("docstore: create vector index: %w", err)
	}
	return nil
}

func (p *Postgres) InsertChunks(ctx context.Context, chatID, fileName string, chunks []string, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("docstore: %d chunks but %d embeddings", len(chunks), len(embeddings))
	}
	if len(chunks) == 0 {
		return nil
	}

	const stmt = `INSERT INTO user_documents (id, chat_id, file_name, chunk_index, content, embedding, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	for start := 0; start < len(chunks); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		batch := &pgx.Batch{}
		now := time.Now()
		for i := start; i < end; i++ {
			batch.Queue(stmt,
				uuid.NewString(), chatID, fileName, i, chunks[i],
				pgvector.NewVector(embeddings[i]), now)
		}

		br := p.pool.SendBatch(ctx, batch)
		var batchErr error
		for i := start; i < end; i++ {
			if _, err := br.Exec(); err != nil && batchErr == nil {
				batchErr = err
			}
		}
		if err := br.Close(); err != nil && batchErr == nil {
			batchErr = err
		}
		if batchErr != nil {
			// No rollback of prior batches: partial-failure policy, the
			// caller reports which file failed.
			return fmt.Errorf("docstore: insert batch at %d: %w", start, batchErr)
		}
	}
	return nil
}

func (p *Postgres) SimilaritySearch(ctx context.Context, chatID string, queryVec []float32, threshold float64, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}

	const q = `
SELECT content, file_name, chunk_index, 1 - (embedding <=> $1) AS similarity
FROM user_documents
WHERE chat_id = $2 AND 1 - (embedding <=> $1) >= $3
ORDER BY embedding <=> $1
LIMIT $4`

	rows, err := p.pool.Query(ctx, q, pgvector.NewVector(queryVec), chatID, threshold, topK)
	if err != nil {
		return nil, fmt.Errorf("docstore: similarity search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.Content, &r.FileName, &r.ChunkIndex, &r.Similarity); err != nil {
			return nil, fmt.Errorf("docstore: scan result: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("docstore: iterate results: %w", err)
	}
	return out, nil
}

func (p *Postgres) DeleteChunks(ctx context.Context, chatID, fileName string) error {
	var err error
	if fileName == "" {
		_, err = p.pool.Exec(ctx, "DELETE FROM user_documents WHERE chat_id = $1", chatID)
	} else {
		_, err = p.pool.Exec(ctx, "DELETE FROM user_documents WHERE chat_id = $1 AND file_name = $2", chatID, fileName)
	}
	if err != nil {
		return fmt.Errorf("docstore: delete chunks: %w", err)
	}
	return nil
}
