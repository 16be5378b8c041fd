package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// Client talks to an Ollama-compatible embedding service.
type Client struct {
	BaseURL  string
	Model    string
	Dim      int
	Parallel int
	HTTP     *http.Client
}

// Result is the per-text outcome of an embedding call. Callers decide what a
// failed item degrades to (skip, zero vector, abort); the client never
// substitutes a fallback on its own.
type Result struct {
	Vector []float32
	Err    error
}

type embedReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResp struct {
	Embedding []float32 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

func NewClient(baseURL, model string, dim int, parallel int, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	if dim <= 0 {
		dim = 768
	}
	if parallel <= 0 {
		parallel = 1
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		BaseURL:  baseURL,
		Model:    model,
		Dim:      dim,
		Parallel: parallel,
		HTTP:     &http.Client{Timeout: timeout},
	}
}

// ZeroVector returns an all-zero vector of the configured dimensionality.
func (c *Client) ZeroVector() []float32 {
	return make([]float32, c.Dim)
}

// Embed returns the vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.HTTP == nil {
		return nil, errors.New("embed: http client is nil")
	}

	b, err := json.Marshal(embedReq{Model: c.Model, Prompt: text})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/api/embeddings", c.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embed: status %d", resp.StatusCode)
	}

	var decoded embedResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}
	if decoded.Error != "" {
		return nil, errors.New(decoded.Error)
	}
	if len(decoded.Embedding) == 0 {
		return nil, errors.New("embed: no embedding in response")
	}
	if len(decoded.Embedding) != c.Dim {
		return nil, fmt.Errorf("embed: got %d dims, want %d", len(decoded.Embedding), c.Dim)
	}
	return decoded.Embedding, nil
}

// EmbedAll embeds every text with bounded parallelism and returns one Result
// per input, in input order. A failed item never aborts the batch.
func (c *Client) EmbedAll(ctx context.Context, texts []string) []Result {
	out := make([]Result, len(texts))
	if len(texts) == 0 {
		return out
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.Parallel)
	for i, text := range texts {
		g.Go(func() error {
			vec, err := c.Embed(gctx, text)
			out[i] = Result{Vector: vec, Err: err}
			return nil // per-item errors live in out, not in the group
		})
	}
	_ = g.Wait()
	return out
}

// HealthCheck probes the embedding service's version endpoint. It is a cheap
// liveness check used to fail fast before a batch.
func (c *Client) HealthCheck(ctx context.Context) bool {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	url := fmt.Sprintf("%s/api/version", c.BaseURL)
	req, err := http.NewRequestWithContext(cctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
