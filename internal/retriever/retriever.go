package retriever

import (
	"context"
	"errors"
	"log"

	"github.com/rag4all/ragchat/internal/docstore"
)

const (
	DefaultTopK      = 5
	DefaultThreshold = 0.5
)

// QueryEmbedder embeds a single query text. It must use the same model and
// dimensionality as ingestion-time embedding.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever orchestrates query embedding and similarity search. Retrieval
// failure is never fatal to the chat flow: every failure path degrades to an
// empty result set with a logged warning.
type Retriever struct {
	Embedder  QueryEmbedder
	Store     docstore.Store
	Threshold float64
	TopK      int
}

func New(e QueryEmbedder, s docstore.Store) *Retriever {
	return &Retriever{Embedder: e, Store: s, Threshold: DefaultThreshold, TopK: DefaultTopK}
}

// Retrieve returns the chunks of chatID most similar to query, best first.
func (r *Retriever) Retrieve(ctx context.Context, chatID, query string, topK int) []docstore.SearchResult {
	if r.Embedder == nil || r.Store == nil {
		return nil
	}
	if topK <= 0 {
		topK = r.TopK
	}

	vec, err := r.Embedder.Embed(ctx, query)
	if err != nil {
		log.Printf("retriever: query embedding failed chat=%s err=%v", chatID, err)
		return nil
	}

	results, err := r.Store.SimilaritySearch(ctx, chatID, vec, r.Threshold, topK)
	if err != nil {
		if !errors.Is(err, docstore.ErrUnavailable) {
			log.Printf("retriever: similarity search failed chat=%s err=%v", chatID, err)
		}
		return nil
	}
	return results
}
