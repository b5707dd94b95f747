package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatprint/internal/domain/models"
	"threatprint/pkg/logger"
)

func TestCheck(t *testing.T) {
	c := NewChecker(logger.Nop())
	data := []byte("the quick brown fox jumps over the lazy dog")

	rec := c.Check("blob-1", data)

	assert.Equal(t, "blob-1", rec.ID)
	assert.Equal(t, int64(len(data)), rec.Size)
	assert.NotZero(t, rec.CRC32)
	assert.NotZero(t, rec.H64)
	assert.NotZero(t, rec.H128)
	strong := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(strong[:]), rec.StrongHash)
	assert.Equal(t, 1.0, rec.Score)
	assert.False(t, rec.CreatedAt.IsZero())

	assert.Equal(t, rec.CRC32, c.Check("blob-2", data).CRC32, "checksums are a pure function of the bytes")
}

func TestVerify(t *testing.T) {
	c := NewChecker(logger.Nop())
	data := []byte("evidence payload")
	rec := c.Check("blob-1", data)

	assert.Equal(t, models.VerificationValid, c.Verify(data, rec))
	assert.Equal(t, models.VerificationMismatch, c.Verify([]byte("tampered payload"), rec))

	// CRC intact but fast hash wrong: the stored record is suspect
	doctored := rec
	doctored.H64++
	assert.Equal(t, models.VerificationHashInconsistency, c.Verify(data, doctored))
}

func TestScore(t *testing.T) {
	nulls := make([]byte, 4096)

	// zero entropy and all-null: both penalties apply
	assert.InDelta(t, 0.48, Score(nulls), 1e-9)

	// single repeated non-null byte: only the entropy penalty
	ones := make([]byte, 4096)
	for i := range ones {
		ones[i] = 0xAA
	}
	assert.InDelta(t, 0.8, Score(ones), 1e-9)

	// every byte value equally frequent: full entropy, full score
	uniform := make([]byte, 4096)
	for i := range uniform {
		uniform[i] = byte(i)
	}
	assert.Equal(t, 1.0, Score(uniform))
}

func TestEntropy(t *testing.T) {
	assert.Zero(t, Entropy(nil))
	assert.Zero(t, Entropy(make([]byte, 100)), "constant input has no entropy")

	uniform := make([]byte, 256)
	for i := range uniform {
		uniform[i] = byte(i)
	}
	assert.InDelta(t, 1.0, Entropy(uniform), 1e-9)

	half := []byte{0x00, 0xFF}
	assert.InDelta(t, 1.0/8, Entropy(half), 1e-9, "one fair bit normalized by eight")
}

func TestCheckEmptyBlob(t *testing.T) {
	c := NewChecker(logger.Nop())
	rec := c.Check("empty", nil)

	require.Zero(t, rec.Size)
	assert.InDelta(t, 0.8, rec.Score, 1e-9, "empty input is low entropy but not null-padded")
	assert.Equal(t, models.VerificationValid, c.Verify(nil, rec))
}
