package index

import (
	"container/heap"
	"context"
	"sync"

	"github.com/google/uuid"

	"threatprint/internal/domain/models"
)

// Approx is the navigable small-world similarity engine for corpora too
// large to scan. It keeps a single-layer proximity graph: each node links
// to its nearest peers and queries walk the graph greedily from a fixed
// entry point. Candidates are always re-scored with the exact cosine, so
// approximation affects which vectors get considered, not their scores.
type Approx struct {
	mu      sync.RWMutex
	nodes   map[uuid.UUID]*nswNode
	entryID uuid.UUID
	m       int // target links per node
}

type nswNode struct {
	entry models.IndexedVector
	links []uuid.UUID
}

const defaultApproxM = 16

// NewApprox creates an empty graph engine. m controls graph degree; a
// node keeps at most 2m links.
func NewApprox(m int) *Approx {
	if m <= 0 {
		m = defaultApproxM
	}
	return &Approx{
		nodes: make(map[uuid.UUID]*nswNode),
		m:     m,
	}
}

func (a *Approx) maxLinks() int { return 2 * a.m }

// searchBreadth widens the beam well past k so the exact nearest neighbor
// is found in practice even on adversarial graphs
func (a *Approx) searchBreadth(k int) int {
	ef := 4 * k
	if ef < 64 {
		ef = 64
	}
	return ef
}

// Upsert inserts or replaces the vector stored under entry.ID
func (a *Approx) Upsert(entry models.IndexedVector) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.nodes[entry.ID]; ok {
		a.removeLocked(entry.ID)
	}

	node := &nswNode{entry: entry}
	if len(a.nodes) == 0 {
		a.nodes[entry.ID] = node
		a.entryID = entry.ID
		return
	}

	nearest := a.searchLocked(context.Background(), entry.Vector, a.m, a.searchBreadth(a.m))
	a.nodes[entry.ID] = node
	for _, c := range nearest {
		node.links = append(node.links, c.id)
		peer := a.nodes[c.id]
		peer.links = append(peer.links, entry.ID)
		a.pruneLocked(c.id)
	}
}

// pruneLocked trims a node's link list back to maxLinks, keeping the
// links most similar to the node itself
func (a *Approx) pruneLocked(id uuid.UUID) {
	node := a.nodes[id]
	if len(node.links) <= a.maxLinks() {
		return
	}
	cands := make([]candidate, 0, len(node.links))
	for _, lid := range node.links {
		peer := a.nodes[lid]
		cands = append(cands, candidate{
			id:    lid,
			score: Cosine(node.entry.Vector, peer.entry.Vector),
			ts:    peer.entry.Timestamp.UnixNano(),
		})
	}
	sortCandidates(cands)
	cands = cands[:a.maxLinks()]
	kept := make(map[uuid.UUID]struct{}, len(cands))
	node.links = node.links[:0]
	for _, c := range cands {
		node.links = append(node.links, c.id)
		kept[c.id] = struct{}{}
	}
	// drop the reverse edge from peers we no longer point at
	for lid, peer := range a.nodes {
		if _, ok := kept[lid]; ok || lid == id {
			continue
		}
		for i, back := range peer.links {
			if back == id {
				peer.links = append(peer.links[:i], peer.links[i+1:]...)
				break
			}
		}
	}
}

// Remove deletes the vector stored under id and patches the graph around
// the hole so its former neighbors stay mutually reachable
func (a *Approx) Remove(id uuid.UUID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.nodes[id]; !ok {
		return false
	}
	a.removeLocked(id)
	return true
}

func (a *Approx) removeLocked(id uuid.UUID) {
	node := a.nodes[id]
	delete(a.nodes, id)

	for _, lid := range node.links {
		peer, ok := a.nodes[lid]
		if !ok {
			continue
		}
		for i, back := range peer.links {
			if back == id {
				peer.links = append(peer.links[:i], peer.links[i+1:]...)
				break
			}
		}
	}

	// reconnect orphaned neighbors pairwise
	for i := 0; i < len(node.links); i++ {
		pi, ok := a.nodes[node.links[i]]
		if !ok {
			continue
		}
		for j := i + 1; j < len(node.links); j++ {
			pj, ok := a.nodes[node.links[j]]
			if !ok || linked(pi.links, node.links[j]) {
				continue
			}
			if len(pi.links) < a.maxLinks() && len(pj.links) < a.maxLinks() {
				pi.links = append(pi.links, node.links[j])
				pj.links = append(pj.links, node.links[i])
			}
		}
	}

	if a.entryID == id {
		a.entryID = uuid.Nil
		for nid := range a.nodes {
			a.entryID = nid
			break
		}
	}
}

func linked(links []uuid.UUID, id uuid.UUID) bool {
	for _, l := range links {
		if l == id {
			return true
		}
	}
	return false
}

// Len returns the number of stored vectors
func (a *Approx) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.nodes)
}

// TopK walks the graph from the entry point and returns up to k
// neighbors of q. Scores are exact; ranks beyond the first may deviate
// from a full scan on pathological graphs.
func (a *Approx) TopK(ctx context.Context, q models.FeatureVector, k int) ([]models.Neighbor, bool) {
	if k < 1 {
		return nil, false
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if len(a.nodes) == 0 {
		return nil, false
	}

	cands := a.searchLocked(ctx, q, k, a.searchBreadth(k))
	return topNeighbors(cands, k), ctx.Err() != nil
}

// searchLocked is a greedy best-first beam search. It expands the most
// promising unvisited candidate until the beam's worst retained score can
// no longer improve, then returns the beam sorted best-first.
func (a *Approx) searchLocked(ctx context.Context, q models.FeatureVector, k, ef int) []candidate {
	entry, ok := a.nodes[a.entryID]
	if !ok {
		return nil
	}

	start := candidate{
		id:    a.entryID,
		score: Cosine(q, entry.entry.Vector),
		ts:    entry.entry.Timestamp.UnixNano(),
	}

	visited := map[uuid.UUID]struct{}{a.entryID: {}}
	frontier := &candMaxHeap{start}
	beam := &candMinHeap{start}
	steps := 0

	for frontier.Len() > 0 {
		steps++
		if steps%cancelCheckStride == 0 && ctx.Err() != nil {
			break
		}

		cur := heap.Pop(frontier).(candidate)
		if beam.Len() >= ef && cur.score < (*beam)[0].score {
			break
		}

		for _, lid := range a.nodes[cur.id].links {
			if _, seen := visited[lid]; seen {
				continue
			}
			visited[lid] = struct{}{}
			peer := a.nodes[lid]
			next := candidate{
				id:    lid,
				score: Cosine(q, peer.entry.Vector),
				ts:    peer.entry.Timestamp.UnixNano(),
			}
			if beam.Len() < ef || next.score > (*beam)[0].score {
				heap.Push(frontier, next)
				heap.Push(beam, next)
				if beam.Len() > ef {
					heap.Pop(beam)
				}
			}
		}
	}

	out := make([]candidate, beam.Len())
	copy(out, *beam)
	sortCandidates(out)
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// Entries snapshots every stored vector
func (a *Approx) Entries() []models.IndexedVector {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]models.IndexedVector, 0, len(a.nodes))
	for _, n := range a.nodes {
		out = append(out, n.entry)
	}
	return out
}

// candMaxHeap pops the highest-score candidate first
type candMaxHeap []candidate

func (h candMaxHeap) Len() int            { return len(h) }
func (h candMaxHeap) Less(i, j int) bool  { return h[i].score > h[j].score }
func (h candMaxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *candMaxHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *candMaxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}

// candMinHeap pops the lowest-score candidate first
type candMinHeap []candidate

func (h candMinHeap) Len() int            { return len(h) }
func (h candMinHeap) Less(i, j int) bool  { return h[i].score < h[j].score }
func (h candMinHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *candMinHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *candMinHeap) Pop() interface{} {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}
