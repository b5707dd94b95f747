package models

import "time"

// IntegrityRecord captures the checksums and integrity score of a byte blob.
// Records are immutable after creation; re-verifying the same bytes must
// reproduce the same hashes.
type IntegrityRecord struct {
	ID         string    `json:"id"`
	Size       int64     `json:"size"`
	CRC32      uint32    `json:"crc32"` // IEEE 802.3 polynomial
	H64        uint64    `json:"h64"`
	H128       Hash128   `json:"h128"`
	StrongHash string    `json:"strong_hash"` // hex-encoded SHA-256
	Score      float64   `json:"score"`       // 0.0 - 1.0
	CreatedAt  time.Time `json:"created_at"`
}

// VerificationResult is the outcome of re-checking bytes against a record
type VerificationResult string

const (
	VerificationValid VerificationResult = "valid"
	// VerificationMismatch means the CRC32 no longer matches the record
	VerificationMismatch VerificationResult = "mismatch"
	// VerificationHashInconsistency means the CRC32 matched but the 64-bit
	// hash did not; reported distinctly because it should never happen
	VerificationHashInconsistency VerificationResult = "hash-inconsistency"
)
