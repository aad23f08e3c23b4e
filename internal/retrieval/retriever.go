package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/ragchat/internal/storage"
)

// Embedder maps a text string to its embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ChunkLister provides bulk chunk access scoped to an owning user.
type ChunkLister interface {
	ListChunksByProjects(projectIDs []string, userID string) ([]storage.Chunk, error)
}

// Retriever assembles query context from one or more knowledge bases.
type Retriever struct {
	embedder Embedder
	store    ChunkLister
	topK     int
}

// NewRetriever creates a Retriever backed by the given Embedder and chunk
// store. topK <= 0 falls back to DefaultTopK.
func NewRetriever(embedder Embedder, store ChunkLister) *Retriever {
	return &Retriever{embedder: embedder, store: store, topK: DefaultTopK}
}

// BuildContext fetches the topK most similar chunks from each knowledge base
// in the order given and concatenates their texts with newline separators,
// per-project blocks in specification order. An empty projectIDs list yields
// an empty context without touching the embedding endpoint.
//
// The query is embedded once per knowledge base rather than once per call.
// The extra calls are redundant under a single embedding model; caching the
// vector across projects would change nothing but the call count.
func (r *Retriever) BuildContext(ctx context.Context, projectIDs []string, query, userID string) (string, error) {
	if len(projectIDs) == 0 {
		return "", nil
	}

	var b strings.Builder
	for _, projectID := range projectIDs {
		chunks, err := r.store.ListChunksByProjects([]string{projectID}, userID)
		if err != nil {
			return "", fmt.Errorf("listing chunks for project %s: %w", projectID, err)
		}

		vec, err := r.embedder.Embed(ctx, query)
		if err != nil {
			return "", fmt.Errorf("embedding query: %w", err)
		}

		ranked := Rank(vec, chunks, r.topK)
		texts := make([]string, len(ranked))
		for i, s := range ranked {
			texts[i] = s.Chunk.Text
		}
		b.WriteString(strings.Join(texts, "\n"))
		b.WriteString("\n")
	}
	return b.String(), nil
}

// ContextSystemPrompt renders the retrieval result as the system prompt for
// the completion call. "Context found" is decided purely by non-emptiness.
func ContextSystemPrompt(contextText string) string {
	if contextText == "" {
		return "No relevant context found. Answer generally."
	}
	return "Answer based on the provided context:\n" + contextText
}
