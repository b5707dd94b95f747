package models

// EvidenceShardSet is the erasure-coded form of a protected blob. The first
// DataShards entries hold the (zero-padded) original bytes, the remaining
// ParityShards entries hold Reed-Solomon redundancy. D, P and ShardSize are
// fixed at creation; the set is never mutated afterwards.
type EvidenceShardSet struct {
	EvidenceID   string   `json:"evidence_id"`
	OriginalSize int      `json:"original_size"`
	DataShards   int      `json:"data_shards"`
	ParityShards int      `json:"parity_shards"`
	ShardSize    int      `json:"shard_size"`
	Shards       [][]byte `json:"shards"` // len = DataShards + ParityShards
}
