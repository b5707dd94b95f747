package services

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/idna"

	"threatprint/internal/domain/models"
	"threatprint/internal/feed"
	"threatprint/pkg/logger"
)

// Normalizer turns raw feed records into canonical indicators. It never
// blocks and holds no shared state.
type Normalizer struct {
	logger *logger.Logger
	now    func() time.Time
}

// NewNormalizer creates a new Normalizer
func NewNormalizer(log *logger.Logger) *Normalizer {
	return &Normalizer{
		logger: log.WithComponent("normalizer"),
		now:    time.Now,
	}
}

// InvalidFieldError reports a record field that cannot be canonicalized.
// It is droppable, never fatal for an ingest job.
type InvalidFieldError struct {
	Field  string
	Reason string
}

func (e *InvalidFieldError) Error() string {
	return fmt.Sprintf("invalid field %q: %s", e.Field, e.Reason)
}

// Normalize produces a canonical indicator candidate from a field map. The
// candidate carries a zero ID; identity is assigned at commit time against
// the natural (value, type) key. Normalize is idempotent: feeding a
// canonical indicator's fields back through produces the same indicator.
func (n *Normalizer) Normalize(rec feed.Record) (*models.Indicator, error) {
	value := strings.TrimSpace(rec.Get("value"))
	if value == "" {
		return nil, &InvalidFieldError{Field: "value", Reason: "empty"}
	}

	iocType := n.resolveType(rec.Get("type"), value)

	canonical, err := n.canonicalizeValue(value, iocType)
	if err != nil {
		return nil, err
	}

	confidence := 0.5
	if raw := rec.Get("confidence"); raw != "" {
		c, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, &InvalidFieldError{Field: "confidence", Reason: "not a number"}
		}
		confidence = clamp01(c)
	}

	severity := models.SeverityMedium
	if raw := rec.Get("severity"); raw != "" {
		sev, ok := models.ParseSeverity(raw)
		if !ok {
			return nil, &InvalidFieldError{Field: "severity", Reason: fmt.Sprintf("unknown severity %q", raw)}
		}
		severity = sev
	}

	fpScore := 0.0
	if raw := rec.Get("false_positive_score"); raw != "" {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, &InvalidFieldError{Field: "false_positive_score", Reason: "not a number"}
		}
		fpScore = clamp01(f)
	}

	now := n.now().UTC()
	firstSeen := now
	if raw := rec.Get("first_seen"); raw != "" {
		t, err := parseTimestamp(raw)
		if err != nil {
			return nil, &InvalidFieldError{Field: "first_seen", Reason: err.Error()}
		}
		firstSeen = t
	}
	lastSeen := firstSeen
	if raw := rec.Get("last_seen"); raw != "" {
		t, err := parseTimestamp(raw)
		if err != nil {
			return nil, &InvalidFieldError{Field: "last_seen", Reason: err.Error()}
		}
		lastSeen = t
	}
	if lastSeen.Before(firstSeen) {
		lastSeen = firstSeen
	}

	sources := rec.GetList("sources")
	if len(sources) == 0 {
		sources = rec.GetList("source")
	}

	return &models.Indicator{
		Value:              canonical,
		Type:               iocType,
		Confidence:         confidence,
		Severity:           severity,
		Sources:            normalizeNames(sources),
		Tags:               normalizeNames(rec.GetList("tags")),
		FirstSeen:          firstSeen,
		LastSeen:           lastSeen,
		FalsePositiveScore: fpScore,
		MalwareFamilies:    normalizeNames(listField(rec, "malware_families", "malware_family")),
		Actors:             normalizeNames(listField(rec, "actors", "actor")),
		Campaigns:          normalizeNames(listField(rec, "campaigns", "campaign")),
		AttackPatterns:     normalizeNames(listField(rec, "attack_patterns", "attack_pattern")),
	}, nil
}

// resolveType honors the declared type tag and otherwise infers one from
// the value, breaking ties in the documented order: ip, url, file-hash,
// email, domain, other.
func (n *Normalizer) resolveType(declared, value string) models.IndicatorType {
	if declared != "" {
		if t, ok := models.ParseIndicatorType(strings.ToLower(strings.TrimSpace(declared))); ok {
			return t
		}
	}
	return InferType(value)
}

// InferType classifies an untyped indicator value
func InferType(value string) models.IndicatorType {
	v := strings.ToLower(strings.TrimSpace(value))
	switch {
	case isIPv4(v):
		return models.IndicatorTypeIP
	case strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://"):
		return models.IndicatorTypeURL
	case isHexHash(v):
		return models.IndicatorTypeFileHash
	case isEmail(v):
		return models.IndicatorTypeEmail
	case isDomain(strings.TrimSuffix(v, ".")):
		return models.IndicatorTypeDomain
	default:
		return models.IndicatorTypeOther
	}
}

// canonicalizeValue normalizes the value for its type
func (n *Normalizer) canonicalizeValue(value string, iocType models.IndicatorType) (string, error) {
	switch iocType {
	case models.IndicatorTypeIP:
		return canonicalizeIP(value)
	case models.IndicatorTypeDomain:
		return canonicalizeDomain(value)
	case models.IndicatorTypeURL:
		return canonicalizeURL(value)
	case models.IndicatorTypeFileHash:
		return canonicalizeHash(value)
	case models.IndicatorTypeEmail:
		return canonicalizeEmail(value)
	default:
		return value, nil
	}
}

// canonicalizeIP parses and reprints, compressing IPv6 per RFC 5952
func canonicalizeIP(value string) (string, error) {
	ip := net.ParseIP(value)
	if ip == nil {
		return "", &InvalidFieldError{Field: "value", Reason: fmt.Sprintf("unparseable IP address %q", value)}
	}
	return ip.String(), nil
}

// domainProfile maps unicode domains to punycode without STD3 strictness;
// feeds routinely carry underscore labels (_dmarc, _spf) that strict
// lookup rules reject.
var domainProfile = idna.New(
	idna.MapForLookup(),
	idna.Transitional(false),
	idna.StrictDomainName(false),
)

// canonicalizeDomain lowercases, strips the trailing root dot and applies
// IDNA mapping
func canonicalizeDomain(value string) (string, error) {
	d := strings.ToLower(strings.TrimSuffix(value, "."))
	ascii, err := domainProfile.ToASCII(d)
	if err != nil {
		return "", &InvalidFieldError{Field: "value", Reason: fmt.Sprintf("IDNA mapping failed for %q", value)}
	}
	if !isDomain(ascii) {
		return "", &InvalidFieldError{Field: "value", Reason: fmt.Sprintf("not a valid domain %q", value)}
	}
	return ascii, nil
}

// canonicalizeURL lowercases the host, strips default ports, drops the
// fragment and re-encodes per RFC 3986
func canonicalizeURL(value string) (string, error) {
	u, err := url.Parse(value)
	if err != nil {
		return "", &InvalidFieldError{Field: "value", Reason: fmt.Sprintf("unparseable URL: %v", err)}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", &InvalidFieldError{Field: "value", Reason: fmt.Sprintf("unsupported URL scheme %q", u.Scheme)}
	}
	if u.Host == "" {
		return "", &InvalidFieldError{Field: "value", Reason: "URL host does not parse"}
	}

	host := strings.ToLower(u.Hostname())
	if mapped, err := domainProfile.ToASCII(host); err == nil {
		host = mapped
	}

	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		u.Host = host + ":" + port
	} else {
		u.Host = host
	}

	u.Fragment = ""
	u.RawFragment = ""
	u.RawPath = "" // force canonical percent-encoding on re-encode

	return u.String(), nil
}

// canonicalizeHash lowercases and validates the hex digest length
func canonicalizeHash(value string) (string, error) {
	h := strings.ToLower(value)
	if !isHexHash(h) {
		return "", &InvalidFieldError{Field: "value", Reason: fmt.Sprintf("not an MD5/SHA1/SHA256/SHA512 hex digest %q", value)}
	}
	return h, nil
}

// canonicalizeEmail lowercases and validates local and domain parts
func canonicalizeEmail(value string) (string, error) {
	e := strings.ToLower(value)
	if !isEmail(e) {
		return "", &InvalidFieldError{Field: "value", Reason: fmt.Sprintf("not a valid email address %q", value)}
	}
	at := strings.LastIndex(e, "@")
	local, domain := e[:at], e[at+1:]
	canonicalDomain, err := canonicalizeDomain(domain)
	if err != nil {
		return "", err
	}
	return local + "@" + canonicalDomain, nil
}

// isIPv4 reports whether the value is four dotted numeric octets in 0-255
func isIPv4(v string) bool {
	parts := strings.Split(v, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if p == "" || len(p) > 3 {
			return false
		}
		n := 0
		for _, c := range p {
			if c < '0' || c > '9' {
				return false
			}
			n = n*10 + int(c-'0')
		}
		if n > 255 {
			return false
		}
	}
	return true
}

// isHexHash reports whether v is a lowercase hex digest of a known length
// (MD5=32, SHA1=40, SHA256=64, SHA512=128)
func isHexHash(v string) bool {
	switch len(v) {
	case 32, 40, 64, 128:
	default:
		return false
	}
	for _, c := range v {
		if !(c >= '0' && c <= '9') && !(c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// isEmail checks for an RFC 5321 local part and a valid domain part
func isEmail(v string) bool {
	at := strings.LastIndex(v, "@")
	if at <= 0 || at == len(v)-1 {
		return false
	}
	local, domain := v[:at], v[at+1:]
	if len(local) > 64 || !isAtomLocal(local) {
		return false
	}
	return isDomain(domain)
}

// isAtomLocal validates a dot-atom local part: atext runs separated by
// single dots
func isAtomLocal(local string) bool {
	if strings.HasPrefix(local, ".") || strings.HasSuffix(local, ".") || strings.Contains(local, "..") {
		return false
	}
	for _, c := range local {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case strings.ContainsRune("!#$%&'*+-/=?^_`{|}~.", c):
		default:
			return false
		}
	}
	return true
}

// isDomain validates dotted labels with a TLD of length >= 2
func isDomain(v string) bool {
	if len(v) < 4 || len(v) > 253 || !strings.Contains(v, ".") {
		return false
	}
	labels := strings.Split(v, ".")
	if len(labels) < 2 {
		return false
	}
	if len(labels[len(labels)-1]) < 2 {
		return false
	}
	for _, label := range labels {
		if label == "" || len(label) > 63 {
			return false
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return false
		}
		for _, c := range label {
			if !(c >= 'a' && c <= 'z') && !(c >= '0' && c <= '9') && c != '-' && c != '_' {
				return false
			}
		}
	}
	return true
}

// listField reads the first present alias of a list-valued field
func listField(rec feed.Record, keys ...string) []string {
	for _, k := range keys {
		if v := rec.GetList(k); len(v) > 0 {
			return v
		}
	}
	return nil
}

// normalizeNames lowercases, trims and deduplicates name-like lists while
// preserving first-seen order
func normalizeNames(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// parseTimestamp accepts RFC 3339 or unix seconds
func parseTimestamp(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", raw)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
