package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/rag4all/ragchat/internal/chunker"
	"github.com/rag4all/ragchat/internal/docstore"
	"github.com/rag4all/ragchat/internal/embed"
	"github.com/rag4all/ragchat/internal/extract"
)

// Stage names one step of the per-file pipeline:
// extract -> chunk -> embed -> store.
type Stage string

const (
	StageExtract Stage = "extract"
	StageChunk   Stage = "chunk"
	StageEmbed   Stage = "embed"
	StageStore   Stage = "store"
	StageDone    Stage = "done"
)

// ErrEmbedServiceDown aborts a file before chunking: producing a document
// full of zero vectors is worse than failing loudly.
var ErrEmbedServiceDown = errors.New("ingest: embedding service unreachable")

// BatchEmbedder is the slice of the embedding client ingestion needs.
type BatchEmbedder interface {
	EmbedAll(ctx context.Context, texts []string) []embed.Result
	HealthCheck(ctx context.Context) bool
	ZeroVector() []float32
}

// File is one upload unit: raw bytes plus the client-supplied name.
type File struct {
	Name string
	Data []byte
}

// Report is the per-file outcome. Err is set when the pipeline aborted at
// Stage; Warnings collect non-fatal degradations (failed chunk embeddings
// replaced by zero vectors).
type Report struct {
	FileName   string   `json:"file_name"`
	Stage      Stage    `json:"stage"`
	ChunkCount int      `json:"chunk_count"`
	Warnings   []string `json:"warnings,omitempty"`
	Err        error    `json:"-"`
}

// Orchestrator drives the ingestion pipeline for uploaded files.
type Orchestrator struct {
	Splitter *chunker.Splitter
	Embedder BatchEmbedder
	Store    docstore.Store
}

func NewOrchestrator(sp *chunker.Splitter, e BatchEmbedder, store docstore.Store) *Orchestrator {
	if store == nil {
		store = docstore.Unavailable{}
	}
	return &Orchestrator{Splitter: sp, Embedder: e, Store: store}
}

// IngestFile runs one file through extract -> chunk -> embed -> store.
// Re-ingesting the same (chat, file) replaces its previous chunks so
// chunk_index stays a contiguous 0-based sequence.
func (o *Orchestrator) IngestFile(ctx context.Context, chatID string, f File) Report {
	rep := Report{FileName: f.Name, Stage: StageExtract}

	text, err := extract.FromFile(f.Name, f.Data)
	if err != nil {
		rep.Err = err
		return rep
	}

	// Fail fast before chunking when the embedding service is down.
	if !o.Embedder.HealthCheck(ctx) {
		rep.Err = ErrEmbedServiceDown
		return rep
	}

	rep.Stage = StageChunk
	chunks := o.Splitter.Split(text)
	if len(chunks) == 0 {
		rep.Err = fmt.Errorf("ingest: %s produced no chunks", f.Name)
		return rep
	}

	rep.Stage = StageEmbed
	results := o.Embedder.EmbedAll(ctx, chunks)
	if len(results) != len(chunks) {
		rep.Err = fmt.Errorf("ingest: %d chunks but %d embedding results", len(chunks), len(results))
		return rep
	}

	embeddings := make([][]float32, len(results))
	for i, res := range results {
		if res.Err != nil {
			// Zero vector keeps the chunk retrievable-in-principle and the
			// index contiguous; quality degrades only for this chunk.
			embeddings[i] = o.Embedder.ZeroVector()
			rep.Warnings = append(rep.Warnings,
				fmt.Sprintf("chunk %d embedding failed: %v", i, res.Err))
			continue
		}
		embeddings[i] = res.Vector
	}

	rep.Stage = StageStore
	if err := o.Store.DeleteChunks(ctx, chatID, f.Name); err != nil && !errors.Is(err, docstore.ErrUnavailable) {
		rep.Err = fmt.Errorf("ingest: replace previous chunks: %w", err)
		return rep
	}
	if err := o.Store.InsertChunks(ctx, chatID, f.Name, chunks, embeddings); err != nil {
		rep.Err = err
		return rep
	}

	rep.Stage = StageDone
	rep.ChunkCount = len(chunks)
	return rep
}

// IngestBatch processes files strictly in order. Files fail independently:
// one bad file never aborts its siblings.
func (o *Orchestrator) IngestBatch(ctx context.Context, chatID string, files []File) []Report {
	reports := make([]Report, 0, len(files))
	for _, f := range files {
		rep := o.IngestFile(ctx, chatID, f)
		if rep.Err != nil {
			log.Printf("ingest: chat=%s file=%s stage=%s err=%v", chatID, f.Name, rep.Stage, rep.Err)
		}
		reports = append(reports, rep)
	}
	return reports
}
