package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testServer(t *testing.T, dim int, failPrompt string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/version":
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"version":"0.5.0"}`))
		case "/api/embeddings":
			var req embedReq
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			if failPrompt != "" && strings.Contains(req.Prompt, failPrompt) {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			vec := make([]float32, dim)
			for i := range vec {
				vec[i] = float32(len(req.Prompt))
			}
			_ = json.NewEncoder(w).Encode(embedResp{Embedding: vec})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestEmbed_ReturnsVectorOfConfiguredDim(t *testing.T) {
	srv := testServer(t, 8, "")
	defer srv.Close()

	c := NewClient(srv.URL, "nomic-embed-text", 8, 2, time.Second)
	vec, err := c.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vec) != 8 {
		t.Fatalf("expected 8 dims, got %d", len(vec))
	}
}

func TestEmbed_DimMismatchIsAnError(t *testing.T) {
	srv := testServer(t, 8, "")
	defer srv.Close()

	c := NewClient(srv.URL, "nomic-embed-text", 16, 2, time.Second)
	if _, err := c.Embed(context.Background(), "hello"); err == nil {
		t.Fatalf("expected dimensionality mismatch error")
	}
}

func TestEmbedAll_OneResultPerInputInOrder(t *testing.T) {
	srv := testServer(t, 4, "")
	defer srv.Close()

	c := NewClient(srv.URL, "nomic-embed-text", 4, 3, time.Second)
	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}

	results := c.EmbedAll(context.Background(), texts)
	if len(results) != len(texts) {
		t.Fatalf("expected %d results, got %d", len(texts), len(results))
	}
	for i, res := range results {
		if res.Err != nil {
			t.Fatalf("result %d failed: %v", i, res.Err)
		}
		// Server echoes the prompt length into every component, so order
		// preservation is observable.
		if res.Vector[0] != float32(len(texts[i])) {
			t.Fatalf("result %d out of order: got %v want %d", i, res.Vector[0], len(texts[i]))
		}
	}
}

func TestEmbedAll_PerItemFailureDoesNotAbortBatch(t *testing.T) {
	srv := testServer(t, 4, "poison")
	defer srv.Close()

	c := NewClient(srv.URL, "nomic-embed-text", 4, 2, time.Second)
	texts := []string{"fine", "poison pill", "also fine"}

	results := c.EmbedAll(context.Background(), texts)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Err != nil || results[2].Err != nil {
		t.Fatalf("healthy items should succeed: %v / %v", results[0].Err, results[2].Err)
	}
	if results[1].Err == nil {
		t.Fatalf("poisoned item should carry its error")
	}
	if results[1].Vector != nil {
		t.Fatalf("failed item must not carry a vector")
	}
}

func TestHealthCheck(t *testing.T) {
	srv := testServer(t, 4, "")
	c := NewClient(srv.URL, "", 4, 1, time.Second)
	if !c.HealthCheck(context.Background()) {
		t.Fatalf("expected healthy")
	}
	srv.Close()
	if c.HealthCheck(context.Background()) {
		t.Fatalf("expected unhealthy after server shutdown")
	}
}

func TestEmbedAll_RespectsParallelLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		_ = json.NewEncoder(w).Encode(embedResp{Embedding: []float32{1, 2}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "m", 2, 2, time.Second)
	_ = c.EmbedAll(context.Background(), []string{"a", "b", "c", "d", "e", "f"})
	if got := peak.Load(); got > 2 {
		t.Fatalf("parallelism exceeded limit: peak=%d", got)
	}
}
