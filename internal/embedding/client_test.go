package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestEmbed_FlatVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if req.Inputs != "hello" {
			t.Errorf("inputs = %q, want %q", req.Inputs, "hello")
		}
		fmt.Fprint(w, "[0.1, 0.2, 0.3]")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	vec, err := c.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("got %d dims, want 3", len(vec))
	}
	if vec[1] != 0.2 {
		t.Errorf("vec[1] = %f, want 0.2", vec[1])
	}
}

func TestEmbed_NestedVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "[[1.0, 2.0]]")
	}))
	defer srv.Close()

	vec, err := NewClient(srv.URL, "k").Embed(context.Background(), "x")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 2 || vec[0] != 1.0 {
		t.Errorf("vec = %v, want [1 2]", vec)
	}
}

func TestEmbed_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "k").Embed(context.Background(), "x")
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("error = %v, want *UpstreamError", err)
	}
	if ue.Status != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", ue.Status)
	}
}

func TestEmbed_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error": "oops"}`)
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL, "k").Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error for non-vector response")
	}
}

func TestEmbedBatch_PreservesOrder(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req embedRequest
		json.NewDecoder(r.Body).Decode(&req)
		// Echo the input length so each text maps to a distinct vector.
		fmt.Fprintf(w, "[%d]", len(req.Inputs))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	texts := []string{"a", "bb", "ccc", "dddd"}
	vecs, err := c.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if calls.Load() != 4 {
		t.Errorf("calls = %d, want 4", calls.Load())
	}
	for i, v := range vecs {
		if len(v) != 1 || v[0] != float32(len(texts[i])) {
			t.Errorf("vecs[%d] = %v, want [%d]", i, v, len(texts[i]))
		}
	}
}

func TestEmbedBatch_Empty(t *testing.T) {
	c := NewClient("http://unused", "k")
	vecs, err := c.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if vecs != nil {
		t.Errorf("vecs = %v, want nil", vecs)
	}
}
