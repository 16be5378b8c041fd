package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rag4all/ragchat/internal/chunker"
	"github.com/rag4all/ragchat/internal/docstore"
	"github.com/rag4all/ragchat/internal/embed"
)

type fakeEmbedder struct {
	healthy  bool
	dim      int
	failIdx  map[int]bool
	embedded [][]string
}

func (f *fakeEmbedder) EmbedAll(ctx context.Context, texts []string) []embed.Result {
	f.embedded = append(f.embedded, texts)
	out := make([]embed.Result, len(texts))
	for i := range texts {
		if f.failIdx[i] {
			out[i] = embed.Result{Err: errors.New("simulated failure")}
			continue
		}
		vec := make([]float32, f.dim)
		vec[0] = float32(i + 1)
		out[i] = embed.Result{Vector: vec}
	}
	return out
}

func (f *fakeEmbedder) HealthCheck(ctx context.Context) bool { return f.healthy }

func (f *fakeEmbedder) ZeroVector() []float32 { return make([]float32, f.dim) }

type captureStore struct {
	docstore.Unavailable
	chunks     map[string][]string    // key chatID/fileName
	vectors    map[string][][]float32 //
	deletes    []string
	insertFail bool
}

func newCaptureStore() *captureStore {
	return &captureStore{chunks: map[string][]string{}, vectors: map[string][][]float32{}}
}

func (s *captureStore) InsertChunks(ctx context.Context, chatID, fileName string, chunks []string, embeddings [][]float32) error {
	if s.insertFail {
		return errors.New("store down")
	}
	if len(chunks) != len(embeddings) {
		return errors.New("length mismatch")
	}
	key := chatID + "/" + fileName
	s.chunks[key] = chunks
	s.vectors[key] = embeddings
	return nil
}

func (s *captureStore) DeleteChunks(ctx context.Context, chatID, fileName string) error {
	s.deletes = append(s.deletes, chatID+"/"+fileName)
	key := chatID + "/" + fileName
	delete(s.chunks, key)
	delete(s.vectors, key)
	return nil
}

func newOrchestrator(t *testing.T, e BatchEmbedder, store docstore.Store) *Orchestrator {
	t.Helper()
	sp, err := chunker.NewSplitter(100, 20)
	if err != nil {
		t.Fatalf("splitter: %v", err)
	}
	return NewOrchestrator(sp, e, store)
}

func TestIngestFile_HappyPath(t *testing.T) {
	store := newCaptureStore()
	emb := &fakeEmbedder{healthy: true, dim: 4}
	o := newOrchestrator(t, emb, store)

	text := strings.Repeat("Plenty of sentences here to split. ", 20)
	rep := o.IngestFile(context.Background(), "chat-1", File{Name: "doc.txt", Data: []byte(text)})
	if rep.Err != nil {
		t.Fatalf("ingest: stage=%s err=%v", rep.Stage, rep.Err)
	}
	if rep.Stage != StageDone {
		t.Fatalf("expected done, got %s", rep.Stage)
	}
	if rep.ChunkCount == 0 {
		t.Fatalf("expected chunks")
	}

	stored := store.chunks["chat-1/doc.txt"]
	if len(stored) != rep.ChunkCount {
		t.Fatalf("store holds %d chunks, report says %d", len(stored), rep.ChunkCount)
	}
	if len(store.vectors["chat-1/doc.txt"]) != len(stored) {
		t.Fatalf("chunk/embedding counts differ in store")
	}
}

func TestIngestFile_HealthCheckFailureAbortsBeforeChunking(t *testing.T) {
	store := newCaptureStore()
	emb := &fakeEmbedder{healthy: false, dim: 4}
	o := newOrchestrator(t, emb, store)

	rep := o.IngestFile(context.Background(), "chat-1", File{Name: "doc.txt", Data: []byte("some text")})
	if !errors.Is(rep.Err, ErrEmbedServiceDown) {
		t.Fatalf("expected ErrEmbedServiceDown, got %v", rep.Err)
	}
	if rep.Stage != StageExtract {
		t.Fatalf("abort should happen before chunking, stage=%s", rep.Stage)
	}
	if len(emb.embedded) != 0 {
		t.Fatalf("no embedding calls expected")
	}
	if len(store.chunks) != 0 {
		t.Fatalf("nothing should reach the store")
	}
}

func TestIngestFile_EmbedFailureSubstitutesZeroVectorWithWarning(t *testing.T) {
	store := newCaptureStore()
	emb := &fakeEmbedder{healthy: true, dim: 4, failIdx: map[int]bool{1: true}}
	o := newOrchestrator(t, emb, store)

	text := strings.Repeat("Sentences to make several chunks of course. ", 15)
	rep := o.IngestFile(context.Background(), "chat-1", File{Name: "doc.txt", Data: []byte(text)})
	if rep.Err != nil {
		t.Fatalf("ingest should survive a per-chunk failure: %v", rep.Err)
	}
	if len(rep.Warnings) != 1 {
		t.Fatalf("expected 1 warning, got %v", rep.Warnings)
	}

	vecs := store.vectors["chat-1/doc.txt"]
	if len(vecs) < 2 {
		t.Fatalf("expected multiple vectors, got %d", len(vecs))
	}
	for _, v := range vecs[1] {
		if v != 0 {
			t.Fatalf("failed chunk should be stored as a zero vector, got %v", vecs[1])
		}
	}
}

func TestIngestFile_ReingestReplacesPreviousChunks(t *testing.T) {
	store := newCaptureStore()
	emb := &fakeEmbedder{healthy: true, dim: 4}
	o := newOrchestrator(t, emb, store)

	f := File{Name: "doc.txt", Data: []byte(strings.Repeat("Same file again and again. ", 15))}
	if rep := o.IngestFile(context.Background(), "chat-1", f); rep.Err != nil {
		t.Fatalf("first ingest: %v", rep.Err)
	}
	if rep := o.IngestFile(context.Background(), "chat-1", f); rep.Err != nil {
		t.Fatalf("second ingest: %v", rep.Err)
	}

	if len(store.deletes) != 2 {
		t.Fatalf("each ingest must clear previous chunks, deletes=%v", store.deletes)
	}
	// Exactly one copy of the file's chunks remains.
	if len(store.chunks) != 1 {
		t.Fatalf("expected a single chunk set, got %d", len(store.chunks))
	}
}

func TestIngestBatch_FilesFailIndependently(t *testing.T) {
	store := newCaptureStore()
	emb := &fakeEmbedder{healthy: true, dim: 4}
	o := newOrchestrator(t, emb, store)

	files := []File{
		{Name: "bad.png", Data: []byte{0x89}}, // unsupported format
		{Name: "good.txt", Data: []byte(strings.Repeat("Readable text. ", 20))},
	}
	reports := o.IngestBatch(context.Background(), "chat-1", files)
	if len(reports) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(reports))
	}
	if reports[0].Err == nil {
		t.Fatalf("bad file should fail")
	}
	if reports[1].Err != nil {
		t.Fatalf("good file should succeed despite sibling failure: %v", reports[1].Err)
	}
}

func TestIngestFile_UnavailableStoreReportsStoreStageFailure(t *testing.T) {
	emb := &fakeEmbedder{healthy: true, dim: 4}
	o := newOrchestrator(t, emb, docstore.Unavailable{})

	rep := o.IngestFile(context.Background(), "chat-1", File{Name: "doc.txt", Data: []byte(strings.Repeat("words here. ", 20))})
	if rep.Err == nil {
		t.Fatalf("expected failure with unavailable store")
	}
	if rep.Stage != StageStore {
		t.Fatalf("expected store stage, got %s", rep.Stage)
	}
	if !errors.Is(rep.Err, docstore.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", rep.Err)
	}
}

func TestIngestFile_StoreInsertFailure(t *testing.T) {
	store := newCaptureStore()
	store.insertFail = true
	emb := &fakeEmbedder{healthy: true, dim: 4}
	o := newOrchestrator(t, emb, store)

	rep := o.IngestFile(context.Background(), "chat-1", File{Name: "doc.txt", Data: []byte(strings.Repeat("words here. ", 20))})
	if rep.Err == nil || rep.Stage != StageStore {
		t.Fatalf("expected store-stage failure, got stage=%s err=%v", rep.Stage, rep.Err)
	}
}
