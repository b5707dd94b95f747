package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FeatureDim is the fixed length of every feature vector
const FeatureDim = 16

// FeatureVector is a 16-dimensional numeric encoding of an indicator's
// immutable attributes
type FeatureVector [FeatureDim]float32

// Hash128 is a 128-bit non-cryptographic content hash
type Hash128 struct {
	Hi uint64 `json:"hi"`
	Lo uint64 `json:"lo"`
}

// Fingerprint is the (h64, h128) pair computed over the canonical
// feature-string encoding of an indicator
type Fingerprint struct {
	H64  uint64  `json:"h64"`
	H128 Hash128 `json:"h128"`
}

// String renders the fingerprint for logs and collision alerts
func (f Fingerprint) String() string {
	return fmt.Sprintf("%016x:%016x%016x", f.H64, f.H128.Hi, f.H128.Lo)
}

// IndexedVector is what the similarity index stores per indicator
type IndexedVector struct {
	ID          uuid.UUID     `json:"id"`
	Vector      FeatureVector `json:"vector"`
	Fingerprint Fingerprint   `json:"fingerprint"`
	Timestamp   time.Time     `json:"timestamp"`
}
