// Package embedding talks to a HuggingFace-style feature-extraction endpoint
// that maps a text string to a fixed-dimension float vector.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const defaultTimeout = 30 * time.Second

// UpstreamError is returned when the embedding endpoint responds with a
// non-2xx status.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("embedding endpoint status %d: %s", e.Status, e.Body)
}

// Client generates embeddings over HTTP. It carries no retry or backoff:
// failures propagate to the caller, which decides what to abort.
type Client struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a Client for the given endpoint URL and bearer credential.
func NewClient(url, apiKey string) *Client {
	return &Client{
		url:    strings.TrimRight(url, "/"),
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// embedRequest is the feature-extraction request body.
type embedRequest struct {
	Inputs string `json:"inputs"`
}

// Embed returns the embedding vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Inputs: text})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting embedding: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &UpstreamError{Status: resp.StatusCode, Body: string(respBody)}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	return decodeVector(raw)
}

// EmbedBatch returns embedding vectors for multiple texts concurrently,
// preserving input order. Returns nil (not error) for empty input.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to avoid overwhelming the endpoint.

	for i, text := range texts {
		g.Go(func() error {
			vec, err := c.Embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// decodeVector accepts either a flat vector or a single-row nested response
// (some inference backends wrap the vector in an outer array).
func decodeVector(raw []byte) ([]float32, error) {
	var flat []float32
	if err := json.Unmarshal(raw, &flat); err == nil {
		if len(flat) == 0 {
			return nil, fmt.Errorf("empty embedding returned")
		}
		return flat, nil
	}

	var nested [][]float32
	if err := json.Unmarshal(raw, &nested); err == nil {
		if len(nested) == 0 || len(nested[0]) == 0 {
			return nil, fmt.Errorf("empty embedding returned")
		}
		return nested[0], nil
	}

	return nil, fmt.Errorf("unexpected embedding response shape")
}
