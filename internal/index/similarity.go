package index

import (
	"context"
	"math"
	"sort"

	"github.com/google/uuid"

	"threatprint/internal/domain/models"
)

// Similarity answers top-k nearest-neighbor queries under cosine
// similarity. Two engines implement it: Exact performs a full scan,
// Approx maintains a navigable small-world graph for large corpora.
type Similarity interface {
	// Upsert inserts or replaces the vector stored under entry.ID.
	Upsert(entry models.IndexedVector)
	// Remove deletes the vector stored under id if present.
	Remove(id uuid.UUID) bool
	// Len returns the number of stored vectors.
	Len() int
	// TopK returns up to k neighbors of q by descending similarity. The
	// second return is true when the context expired before the search
	// finished and the result covers only part of the corpus.
	TopK(ctx context.Context, q models.FeatureVector, k int) ([]models.Neighbor, bool)
	// Entries snapshots every stored vector, in unspecified order.
	Entries() []models.IndexedVector
}

// Cosine computes cosine similarity in double precision, rounded to six
// fractional digits. By convention a zero-norm operand yields 0.
func Cosine(a, b models.FeatureVector) float64 {
	var dot, na, nb float64
	for i := 0; i < models.FeatureDim; i++ {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return roundScore(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func roundScore(s float64) float64 {
	return math.Round(s*1e6) / 1e6
}

// candidate pairs a stored entry with its similarity to the query
type candidate struct {
	id    uuid.UUID
	score float64
	ts    int64
}

// sortCandidates orders by descending score, then newest timestamp, then
// id ascending. The ordering is total so results are reproducible.
func sortCandidates(cands []candidate) {
	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.ts != b.ts {
			return a.ts > b.ts
		}
		return a.id.String() < b.id.String()
	})
}

// topNeighbors truncates sorted candidates to k Neighbor values
func topNeighbors(cands []candidate, k int) []models.Neighbor {
	if len(cands) > k {
		cands = cands[:k]
	}
	out := make([]models.Neighbor, len(cands))
	for i, c := range cands {
		out[i] = models.Neighbor{ID: c.id, Score: c.score}
	}
	return out
}
