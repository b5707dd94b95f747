package feed

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Format identifies the wire shape of a feed payload. The set is closed: a
// new feed shape must extend this enum rather than overload an existing
// branch.
type Format string

const (
	// FormatJSON is a single JSON object carrying an "indicators" array
	FormatJSON Format = "json"
	// FormatNDJSON is newline-delimited JSON, one record per line
	FormatNDJSON Format = "ndjson"
	// FormatCSV is comma-separated values with a header row
	FormatCSV Format = "csv"
	// FormatSTIX is a STIX 2.1 bundle of indicator objects
	FormatSTIX Format = "stix"
	// FormatMsgpack is a MessagePack array of string-keyed maps
	FormatMsgpack Format = "msgpack"
)

// ParseFormat maps a format tag to its Format, rejecting unknown tags
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatJSON:
		return FormatJSON, nil
	case FormatNDJSON:
		return FormatNDJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	case FormatSTIX:
		return FormatSTIX, nil
	case FormatMsgpack:
		return FormatMsgpack, nil
	default:
		return "", fmt.Errorf("unknown feed format %q", s)
	}
}

// Record is the flat field-map extracted from one raw feed record. The
// parser performs no semantic interpretation beyond field extraction.
type Record map[string]string

// Get returns a field value, empty when absent
func (r Record) Get(key string) string {
	return r[key]
}

// GetList splits a comma-separated field into trimmed non-empty parts
func (r Record) GetList(key string) []string {
	raw := r[key]
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ErrBadRecord marks a single malformed record. Callers drop the record,
// count it and keep draining the parser.
var ErrBadRecord = errors.New("malformed record")

// MalformedFeedError reports a structurally invalid payload. It is fatal
// for the whole ingest job.
type MalformedFeedError struct {
	Offset int64
	Reason string
}

func (e *MalformedFeedError) Error() string {
	return fmt.Sprintf("malformed feed at offset %d: %s", e.Offset, e.Reason)
}

// Parser yields the finite, non-restartable record sequence of one payload.
// Next returns io.EOF when drained, ErrBadRecord (possibly wrapped) for a
// droppable record and *MalformedFeedError when the payload itself is
// broken.
type Parser interface {
	Next() (Record, error)
}

// NewParser constructs the decoder for the declared payload format
func NewParser(format Format, r io.Reader) (Parser, error) {
	switch format {
	case FormatJSON:
		return newJSONParser(r), nil
	case FormatNDJSON:
		return newNDJSONParser(r), nil
	case FormatCSV:
		return newCSVParser(r), nil
	case FormatSTIX:
		return newSTIXParser(r), nil
	case FormatMsgpack:
		return newMsgpackParser(r), nil
	default:
		return nil, fmt.Errorf("unknown feed format %q", format)
	}
}

// fieldString flattens a decoded JSON/MessagePack value into the flat
// string representation Record carries. Lists become comma-separated.
func fieldString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case int:
		return strconv.Itoa(t)
	case int8:
		return strconv.FormatInt(int64(t), 10)
	case int16:
		return strconv.FormatInt(int64(t), 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case uint8:
		return strconv.FormatUint(uint64(t), 10)
	case uint16:
		return strconv.FormatUint(uint64(t), 10)
	case uint32:
		return strconv.FormatUint(uint64(t), 10)
	case float32:
		return strconv.FormatFloat(float64(t), 'g', -1, 32)
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			if s := fieldString(e); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ",")
	case []string:
		return strings.Join(t, ",")
	default:
		return fmt.Sprintf("%v", t)
	}
}

// recordFromMap converts a decoded map into a Record, skipping nested
// objects
func recordFromMap(m map[string]any) Record {
	rec := make(Record, len(m))
	for k, v := range m {
		if _, nested := v.(map[string]any); nested {
			continue
		}
		rec[k] = fieldString(v)
	}
	return rec
}
