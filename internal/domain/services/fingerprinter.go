package services

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zeebo/xxh3"

	"threatprint/internal/domain/models"
)

// Fingerprinter derives the stable (h64, h128) identity pair for an
// indicator from its canonical feature string. The pair changes only when
// one of the fingerprinted attributes changes.
type Fingerprinter struct{}

// NewFingerprinter creates a new Fingerprinter
func NewFingerprinter() *Fingerprinter {
	return &Fingerprinter{}
}

// FeatureString serializes the fingerprinted attributes in a fixed layout:
//
//	<type-code>|<canonical-value>|<confidence>|<severity-weight>|<sources>|<tags>
//
// Confidence is printed with three decimals; sources and tags are sorted
// ascending and comma-joined so list order in the source feed never
// affects identity.
func (f *Fingerprinter) FeatureString(ind *models.Indicator) string {
	return fmt.Sprintf("%d|%s|%.3f|%d|%s|%s",
		int(ind.Type.Code()),
		ind.Value,
		ind.Confidence,
		ind.Severity.Weight(),
		sortedJoin(ind.Sources),
		sortedJoin(ind.Tags),
	)
}

// Fingerprint hashes the feature string with xxh3 in both widths
func (f *Fingerprinter) Fingerprint(ind *models.Indicator) models.Fingerprint {
	s := f.FeatureString(ind)
	h128 := xxh3.HashString128(s)
	return models.Fingerprint{
		H64:  xxh3.HashString(s),
		H128: models.Hash128{Hi: h128.Hi, Lo: h128.Lo},
	}
}

func sortedJoin(in []string) string {
	if len(in) == 0 {
		return ""
	}
	cp := make([]string, len(in))
	copy(cp, in)
	sort.Strings(cp)
	return strings.Join(cp, ",")
}
