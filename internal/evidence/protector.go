package evidence

import (
	"errors"
	"fmt"

	"github.com/klauspost/reedsolomon"

	"threatprint/internal/domain/models"
	"threatprint/pkg/logger"
)

// ErrUnrecoverable is returned when too few shards survive to rebuild the
// original blob, or when the surviving shards fail the parity check.
var ErrUnrecoverable = errors.New("evidence unrecoverable")

const (
	DefaultDataShards   = 10
	DefaultParityShards = 3
)

// Protector erasure-codes evidence blobs with Reed-Solomon over GF(2^8).
// Shard counts are fixed at construction. Calls are stateless and safe
// under unbounded concurrency; the underlying encoder is goroutine-safe.
type Protector struct {
	logger *logger.Logger
	enc    reedsolomon.Encoder
	data   int
	parity int
}

// NewProtector creates a Protector with the given shard geometry. Zero or
// negative counts fall back to the 10+3 default.
func NewProtector(log *logger.Logger, dataShards, parityShards int) (*Protector, error) {
	if dataShards <= 0 {
		dataShards = DefaultDataShards
	}
	if parityShards <= 0 {
		parityShards = DefaultParityShards
	}
	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, fmt.Errorf("creating reed-solomon encoder: %w", err)
	}
	return &Protector{
		logger: log.WithComponent("evidence"),
		enc:    enc,
		data:   dataShards,
		parity: parityShards,
	}, nil
}

// DataShards returns the configured data shard count
func (p *Protector) DataShards() int { return p.data }

// ParityShards returns the configured parity shard count
func (p *Protector) ParityShards() int { return p.parity }

// Protect splits a blob into D equal data shards, zero-padding the tail,
// and computes P parity shards. An empty blob still produces a valid set
// with one-byte shards.
func (p *Protector) Protect(id string, data []byte) (*models.EvidenceShardSet, error) {
	shardSize := (len(data) + p.data - 1) / p.data
	if shardSize == 0 {
		shardSize = 1
	}

	shards := make([][]byte, p.data+p.parity)
	for i := range shards {
		shards[i] = make([]byte, shardSize)
	}
	for i := 0; i < p.data; i++ {
		start := i * shardSize
		if start >= len(data) {
			break
		}
		end := start + shardSize
		if end > len(data) {
			end = len(data)
		}
		copy(shards[i], data[start:end])
	}

	if err := p.enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("encoding parity shards: %w", err)
	}

	return &models.EvidenceShardSet{
		EvidenceID:   id,
		OriginalSize: len(data),
		DataShards:   p.data,
		ParityShards: p.parity,
		ShardSize:    shardSize,
		Shards:       shards,
	}, nil
}

// Recover rebuilds the original blob from an ordered D+P shard list in
// which missing shards are nil. At least D shards must survive. The
// reconstructed set is re-verified against the parity before the data is
// trusted.
func (p *Protector) Recover(shards [][]byte, originalSize int) ([]byte, error) {
	if len(shards) != p.data+p.parity {
		return nil, fmt.Errorf("expected %d shards, got %d", p.data+p.parity, len(shards))
	}
	if originalSize < 0 {
		return nil, fmt.Errorf("negative original size %d", originalSize)
	}

	present := 0
	for _, s := range shards {
		if len(s) > 0 {
			present++
		}
	}
	if present < p.data {
		return nil, fmt.Errorf("%w: %d of %d shards present, need %d",
			ErrUnrecoverable, present, len(shards), p.data)
	}

	// work on a copy so the caller's slice is not mutated
	work := make([][]byte, len(shards))
	for i, s := range shards {
		if len(s) > 0 {
			work[i] = s
		}
	}

	if err := p.enc.Reconstruct(work); err != nil {
		return nil, fmt.Errorf("%w: reconstruction failed: %v", ErrUnrecoverable, err)
	}
	ok, err := p.enc.Verify(work)
	if err != nil || !ok {
		return nil, fmt.Errorf("%w: reconstructed shards fail parity check", ErrUnrecoverable)
	}

	joined := make([]byte, 0, p.data*len(work[0]))
	for i := 0; i < p.data; i++ {
		joined = append(joined, work[i]...)
	}
	if originalSize > len(joined) {
		return nil, fmt.Errorf("original size %d exceeds shard capacity %d", originalSize, len(joined))
	}
	return joined[:originalSize], nil
}

// RecoverSet is a convenience wrapper that recovers from a shard set in
// place, typically after some of its shards were nilled out by storage
// loss.
func (p *Protector) RecoverSet(set *models.EvidenceShardSet) ([]byte, error) {
	if set.DataShards != p.data || set.ParityShards != p.parity {
		return nil, fmt.Errorf("shard geometry mismatch: set is %d+%d, protector is %d+%d",
			set.DataShards, set.ParityShards, p.data, p.parity)
	}
	return p.Recover(set.Shards, set.OriginalSize)
}
