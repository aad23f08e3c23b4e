// Package retrieval selects the stored chunks most relevant to a query and
// assembles them into completion context.
package retrieval

import (
	"math"
	"sort"

	"github.com/kalambet/ragchat/internal/storage"
)

// DefaultTopK is the number of chunks injected per knowledge base.
const DefaultTopK = 5

// Scored pairs a chunk with its cosine similarity to the query.
type Scored struct {
	Chunk storage.Chunk
	Score float32
}

// Rank sorts candidates by cosine similarity to the query vector, descending,
// and truncates to topK. Ties keep their original order (stable sort). There
// is no score floor: all-zero similarities still produce a ranking.
func Rank(query []float32, candidates []storage.Chunk, topK int) []Scored {
	if topK <= 0 {
		topK = DefaultTopK
	}

	scored := make([]Scored, len(candidates))
	for i, c := range candidates {
		scored[i] = Scored{Chunk: c, Score: CosineSimilarity(query, c.Embedding)}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored
}

// CosineSimilarity returns dot(a,b) / (|a|*|b|). Vectors of mismatched
// dimension or zero magnitude score 0 rather than erroring; a degenerate
// vector simply never ranks well.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, aSq, bSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		aSq += float64(a[i]) * float64(a[i])
		bSq += float64(b[i]) * float64(b[i])
	}
	mag := math.Sqrt(aSq) * math.Sqrt(bSq)
	if mag == 0 {
		return 0
	}
	return float32(dot / mag)
}
