package index

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"threatprint/internal/domain/models"
)

type fpEntry struct {
	h128 models.Hash128
	id   uuid.UUID
	seq  uint64
}

// FingerprintIndex is the exact-match store: a multi-map from h64 to
// (h128, indicator-id) entries. h64 collisions are tolerated and resolved
// by the 128-bit hash; a full (h64, h128) collision between distinct ids
// is counted for operator alerting and resolved oldest-wins.
type FingerprintIndex struct {
	mu         sync.RWMutex
	buckets    map[uint64][]fpEntry
	size       int
	seq        uint64
	collisions atomic.Uint64
}

// NewFingerprintIndex creates an empty FingerprintIndex
func NewFingerprintIndex() *FingerprintIndex {
	return &FingerprintIndex{
		buckets: make(map[uint64][]fpEntry),
	}
}

// Insert records fp → id. It is a no-op if the exact (h128, id) pair is
// already present. A distinct id arriving under an occupied (h64, h128)
// slot is still appended, but bumps the collision counter; Lookup keeps
// answering with the oldest entry.
func (ix *FingerprintIndex) Insert(fp models.Fingerprint, id uuid.UUID) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	bucket := ix.buckets[fp.H64]
	for _, e := range bucket {
		if e.h128 == fp.H128 {
			if e.id == id {
				return false
			}
			ix.collisions.Add(1)
		}
	}
	ix.seq++
	ix.buckets[fp.H64] = append(bucket, fpEntry{h128: fp.H128, id: id, seq: ix.seq})
	ix.size++
	return true
}

// Lookup returns the id registered under fp. When several entries share
// both hashes the oldest insertion wins.
func (ix *FingerprintIndex) Lookup(fp models.Fingerprint) (uuid.UUID, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var (
		best    uuid.UUID
		bestSeq uint64
		found   bool
	)
	for _, e := range ix.buckets[fp.H64] {
		if e.h128 != fp.H128 {
			continue
		}
		if !found || e.seq < bestSeq {
			best = e.id
			bestSeq = e.seq
			found = true
		}
	}
	return best, found
}

// Remove deletes the (fp, id) entry if present
func (ix *FingerprintIndex) Remove(fp models.Fingerprint, id uuid.UUID) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	bucket := ix.buckets[fp.H64]
	for i, e := range bucket {
		if e.h128 == fp.H128 && e.id == id {
			bucket = append(bucket[:i], bucket[i+1:]...)
			if len(bucket) == 0 {
				delete(ix.buckets, fp.H64)
			} else {
				ix.buckets[fp.H64] = bucket
			}
			ix.size--
			return true
		}
	}
	return false
}

// Len returns the number of stored entries
func (ix *FingerprintIndex) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.size
}

// Collisions returns how many full (h64, h128) collisions between
// distinct indicators have been observed since start
func (ix *FingerprintIndex) Collisions() uint64 {
	return ix.collisions.Load()
}
