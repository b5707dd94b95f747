package feed

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// stixParser extracts indicator objects from a STIX 2.1 bundle. Only plain
// single-comparison patterns are recognized; anything else is a droppable
// record.
type stixParser struct {
	dec     *json.Decoder
	started bool
	done    bool
	fatal   error
}

// Matches patterns like [domain-name:value = 'evil.example'] and
// [file:hashes.'SHA-256' = 'abc...']
var stixPatternRe = regexp.MustCompile(`^\[\s*([\w-]+):([\w.'-]+)\s*=\s*'([^']+)'\s*\]$`)

func newSTIXParser(r io.Reader) *stixParser {
	return &stixParser{dec: json.NewDecoder(r)}
}

// seek walks the bundle object to the start of its objects array
func (p *stixParser) seek() error {
	tok, err := p.dec.Token()
	if err != nil {
		return &MalformedFeedError{Offset: p.dec.InputOffset(), Reason: "payload is not a STIX bundle object"}
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return &MalformedFeedError{Offset: p.dec.InputOffset(), Reason: "payload is not a STIX bundle object"}
	}

	for p.dec.More() {
		keyTok, err := p.dec.Token()
		if err != nil {
			return &MalformedFeedError{Offset: p.dec.InputOffset(), Reason: err.Error()}
		}
		key, ok := keyTok.(string)
		if !ok {
			return &MalformedFeedError{Offset: p.dec.InputOffset(), Reason: "unexpected token where object key expected"}
		}

		switch key {
		case "type":
			var bundleType string
			if err := p.dec.Decode(&bundleType); err != nil || bundleType != "bundle" {
				return &MalformedFeedError{Offset: p.dec.InputOffset(), Reason: `"type" is not "bundle"`}
			}
		case "objects":
			tok, err := p.dec.Token()
			if err != nil {
				return &MalformedFeedError{Offset: p.dec.InputOffset(), Reason: err.Error()}
			}
			if delim, ok := tok.(json.Delim); !ok || delim != '[' {
				return &MalformedFeedError{Offset: p.dec.InputOffset(), Reason: `"objects" is not an array`}
			}
			return nil
		default:
			var skip json.RawMessage
			if err := p.dec.Decode(&skip); err != nil {
				return &MalformedFeedError{Offset: p.dec.InputOffset(), Reason: err.Error()}
			}
		}
	}

	return &MalformedFeedError{Offset: p.dec.InputOffset(), Reason: `missing "objects" array`}
}

// stixObject is the subset of a STIX indicator object the parser reads
type stixObject struct {
	Type       string   `json:"type"`
	Pattern    string   `json:"pattern"`
	Name       string   `json:"name"`
	Labels     []string `json:"labels"`
	Confidence *int     `json:"confidence"` // STIX uses 0-100
	ValidFrom  string   `json:"valid_from"`
	Created    string   `json:"created"`
	Modified   string   `json:"modified"`
}

func (p *stixParser) Next() (Record, error) {
	if p.fatal != nil {
		return nil, p.fatal
	}
	if p.done {
		return nil, io.EOF
	}
	if !p.started {
		if err := p.seek(); err != nil {
			p.fatal = err
			return nil, err
		}
		p.started = true
	}

	for p.dec.More() {
		var obj stixObject
		if err := p.dec.Decode(&obj); err != nil {
			p.fatal = &MalformedFeedError{Offset: p.dec.InputOffset(), Reason: fmt.Sprintf("undecodable bundle object: %v", err)}
			return nil, p.fatal
		}

		if obj.Type != "indicator" {
			continue // relationships, identities and the like
		}

		value, iocType, ok := parseSTIXPattern(obj.Pattern)
		if !ok {
			return nil, fmt.Errorf("%w: unsupported STIX pattern %q", ErrBadRecord, obj.Pattern)
		}

		rec := Record{
			"value": value,
			"type":  iocType,
		}
		if len(obj.Labels) > 0 {
			rec["tags"] = strings.Join(obj.Labels, ",")
		}
		if obj.Confidence != nil {
			rec["confidence"] = strconv.FormatFloat(float64(*obj.Confidence)/100.0, 'g', -1, 64)
		}
		if obj.ValidFrom != "" {
			rec["first_seen"] = obj.ValidFrom
		}
		if obj.Modified != "" {
			rec["last_seen"] = obj.Modified
		}
		return rec, nil
	}

	if _, err := p.dec.Token(); err != nil {
		p.fatal = &MalformedFeedError{Offset: p.dec.InputOffset(), Reason: "truncated objects array"}
		return nil, p.fatal
	}
	p.done = true
	return nil, io.EOF
}

// parseSTIXPattern maps a single-comparison STIX pattern to a value and a
// type tag
func parseSTIXPattern(pattern string) (value, iocType string, ok bool) {
	m := stixPatternRe.FindStringSubmatch(strings.TrimSpace(pattern))
	if m == nil {
		return "", "", false
	}
	object, path, value := m[1], m[2], m[3]

	switch object {
	case "domain-name":
		return value, "domain", true
	case "ipv4-addr", "ipv6-addr":
		return value, "ip-address", true
	case "url":
		return value, "url", true
	case "email-addr":
		return value, "email", true
	case "file":
		if strings.HasPrefix(path, "hashes") {
			return value, "file-hash", true
		}
		return "", "", false
	case "mutex":
		return value, "mutex", true
	case "windows-registry-key":
		return value, "registry-key", true
	default:
		return "", "", false
	}
}
