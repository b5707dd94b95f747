package models

import (
	"time"

	"github.com/google/uuid"
)

// IndicatorType is the closed set of indicator type tags
type IndicatorType string

const (
	IndicatorTypeIP       IndicatorType = "ip-address"
	IndicatorTypeDomain   IndicatorType = "domain"
	IndicatorTypeURL      IndicatorType = "url"
	IndicatorTypeFileHash IndicatorType = "file-hash"
	IndicatorTypeEmail    IndicatorType = "email"
	IndicatorTypeMutex    IndicatorType = "mutex"
	IndicatorTypeRegistry IndicatorType = "registry-key"
	IndicatorTypeOther    IndicatorType = "other"
)

// Severity represents the threat severity level
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Indicator is a canonicalized indicator of compromise. The natural key is
// (Value, Type) after canonicalization; ID is assigned on first insert and
// never changes for that key.
type Indicator struct {
	ID         uuid.UUID     `json:"id"`
	Value      string        `json:"value"`
	Type       IndicatorType `json:"type"`
	Confidence float64       `json:"confidence"` // 0.0 - 1.0
	Severity   Severity      `json:"severity"`
	Sources    []string      `json:"sources,omitempty"`
	Tags       []string      `json:"tags,omitempty"`

	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`

	FalsePositiveScore float64     `json:"false_positive_score"`
	Relations          []uuid.UUID `json:"relations,omitempty"`

	// Context bags
	MalwareFamilies []string `json:"malware_families,omitempty"`
	Actors          []string `json:"actors,omitempty"`
	Campaigns       []string `json:"campaigns,omitempty"`
	AttackPatterns  []string `json:"attack_patterns,omitempty"`
}

// Key is the natural key of an indicator after canonicalization
type Key struct {
	Value string
	Type  IndicatorType
}

// Key returns the indicator's natural key
func (i *Indicator) Key() Key {
	return Key{Value: i.Value, Type: i.Type}
}

// TypeCode returns the numeric feature encoding of the type tag.
// Mutex and registry-key fall into the "other" bucket.
func (t IndicatorType) Code() float64 {
	switch t {
	case IndicatorTypeIP:
		return 1.0
	case IndicatorTypeDomain:
		return 2.0
	case IndicatorTypeURL:
		return 3.0
	case IndicatorTypeFileHash:
		return 4.0
	case IndicatorTypeEmail:
		return 5.0
	default:
		return 0.0
	}
}

// Weight returns a numeric weight for sorting and merging by severity
func (s Severity) Weight() int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// Code returns the severity feature encoding in [0.2, 1.0]
func (s Severity) Code() float64 {
	return float64(s.Weight()) * 0.2
}

// String returns the string representation of IndicatorType
func (t IndicatorType) String() string {
	return string(t)
}

// ParseIndicatorType parses a string into IndicatorType
func ParseIndicatorType(s string) (IndicatorType, bool) {
	switch s {
	case "ip-address", "ip", "ipv4", "ipv6":
		return IndicatorTypeIP, true
	case "domain", "hostname":
		return IndicatorTypeDomain, true
	case "url":
		return IndicatorTypeURL, true
	case "file-hash", "hash", "md5", "sha1", "sha256", "sha512":
		return IndicatorTypeFileHash, true
	case "email", "email-addr":
		return IndicatorTypeEmail, true
	case "mutex":
		return IndicatorTypeMutex, true
	case "registry-key", "registry":
		return IndicatorTypeRegistry, true
	case "other":
		return IndicatorTypeOther, true
	default:
		return IndicatorTypeOther, false
	}
}

// String returns the string representation of Severity
func (s Severity) String() string {
	return string(s)
}

// ParseSeverity parses a string into Severity
func ParseSeverity(s string) (Severity, bool) {
	switch s {
	case "critical":
		return SeverityCritical, true
	case "high":
		return SeverityHigh, true
	case "medium", "moderate":
		return SeverityMedium, true
	case "low":
		return SeverityLow, true
	case "info", "informational":
		return SeverityInfo, true
	default:
		return SeverityMedium, false
	}
}

// Merge folds another observation of the same natural key into the
// indicator. ID, Value, Type and FirstSeen are never overwritten; LastSeen
// takes the max, sources and tags union, confidence takes the max, severity
// takes the max by severity order, false-positive score takes the min.
// It reports whether anything beyond LastSeen changed.
func (i *Indicator) Merge(other *Indicator) bool {
	changed := false

	if other.LastSeen.After(i.LastSeen) {
		i.LastSeen = other.LastSeen
	}
	if other.Confidence > i.Confidence {
		i.Confidence = other.Confidence
		changed = true
	}
	if other.Severity.Weight() > i.Severity.Weight() {
		i.Severity = other.Severity
		changed = true
	}
	if other.FalsePositiveScore < i.FalsePositiveScore {
		i.FalsePositiveScore = other.FalsePositiveScore
		changed = true
	}
	if merged, grew := unionStrings(i.Sources, other.Sources); grew {
		i.Sources = merged
		changed = true
	}
	if merged, grew := unionStrings(i.Tags, other.Tags); grew {
		i.Tags = merged
		changed = true
	}
	if merged, grew := unionStrings(i.MalwareFamilies, other.MalwareFamilies); grew {
		i.MalwareFamilies = merged
		changed = true
	}
	if merged, grew := unionStrings(i.Actors, other.Actors); grew {
		i.Actors = merged
		changed = true
	}
	if merged, grew := unionStrings(i.Campaigns, other.Campaigns); grew {
		i.Campaigns = merged
		changed = true
	}
	if merged, grew := unionStrings(i.AttackPatterns, other.AttackPatterns); grew {
		i.AttackPatterns = merged
		changed = true
	}
	if merged, grew := unionUUIDs(i.Relations, other.Relations); grew {
		i.Relations = merged
		changed = true
	}

	return changed
}

// Clone returns a deep copy safe to hand to callers outside the index lock
func (i *Indicator) Clone() *Indicator {
	c := *i
	c.Sources = append([]string(nil), i.Sources...)
	c.Tags = append([]string(nil), i.Tags...)
	c.MalwareFamilies = append([]string(nil), i.MalwareFamilies...)
	c.Actors = append([]string(nil), i.Actors...)
	c.Campaigns = append([]string(nil), i.Campaigns...)
	c.AttackPatterns = append([]string(nil), i.AttackPatterns...)
	c.Relations = append([]uuid.UUID(nil), i.Relations...)
	return &c
}

// unionStrings merges b into a preserving a's order, reporting growth
func unionStrings(a, b []string) ([]string, bool) {
	if len(b) == 0 {
		return a, false
	}
	seen := make(map[string]struct{}, len(a))
	for _, s := range a {
		seen[s] = struct{}{}
	}
	grew := false
	for _, s := range b {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			a = append(a, s)
			grew = true
		}
	}
	return a, grew
}

func unionUUIDs(a, b []uuid.UUID) ([]uuid.UUID, bool) {
	if len(b) == 0 {
		return a, false
	}
	seen := make(map[uuid.UUID]struct{}, len(a))
	for _, id := range a {
		seen[id] = struct{}{}
	}
	grew := false
	for _, id := range b {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			a = append(a, id)
			grew = true
		}
	}
	return a, grew
}
