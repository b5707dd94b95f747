package index

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"threatprint/internal/domain/models"
)

// cancelCheckStride bounds how often a scan polls the context. Checking
// per entry would dominate the 16-float dot product.
const cancelCheckStride = 1024

// Exact is the brute-force similarity engine. Every query scans the full
// corpus, which keeps the top-k contract exact and is fast enough up to
// about a million vectors.
type Exact struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]models.IndexedVector
}

// NewExact creates an empty exact-scan engine
func NewExact() *Exact {
	return &Exact{
		entries: make(map[uuid.UUID]models.IndexedVector),
	}
}

// Upsert inserts or replaces the vector stored under entry.ID
func (e *Exact) Upsert(entry models.IndexedVector) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries[entry.ID] = entry
}

// Remove deletes the vector stored under id
func (e *Exact) Remove(id uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.entries[id]; !ok {
		return false
	}
	delete(e.entries, id)
	return true
}

// Len returns the number of stored vectors
func (e *Exact) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.entries)
}

// TopK scans all stored vectors and returns the k most similar to q. If
// the context expires mid-scan the entries scored so far are ranked and
// returned with partial=true.
func (e *Exact) TopK(ctx context.Context, q models.FeatureVector, k int) ([]models.Neighbor, bool) {
	if k < 1 {
		return nil, false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	cands := make([]candidate, 0, len(e.entries))
	partial := false
	i := 0
	for id, entry := range e.entries {
		if i%cancelCheckStride == 0 && ctx.Err() != nil {
			partial = true
			break
		}
		i++
		cands = append(cands, candidate{
			id:    id,
			score: Cosine(q, entry.Vector),
			ts:    entry.Timestamp.UnixNano(),
		})
	}

	sortCandidates(cands)
	return topNeighbors(cands, k), partial
}

// Entries snapshots every stored vector
func (e *Exact) Entries() []models.IndexedVector {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.IndexedVector, 0, len(e.entries))
	for _, entry := range e.entries {
		out = append(out, entry)
	}
	return out
}
