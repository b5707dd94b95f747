package feed

import (
	"encoding/json"
	"fmt"
	"io"
)

// jsonParser streams the "indicators" array out of a single JSON object
// without buffering the whole payload. Keys other than "indicators" are
// decoded and discarded.
type jsonParser struct {
	dec     *json.Decoder
	started bool
	done    bool
	fatal   error
}

func newJSONParser(r io.Reader) *jsonParser {
	return &jsonParser{dec: json.NewDecoder(r)}
}

// seek advances the decoder to the first element of the indicators array
func (p *jsonParser) seek() error {
	tok, err := p.dec.Token()
	if err != nil {
		return &MalformedFeedError{Offset: p.dec.InputOffset(), Reason: "payload is not a JSON object"}
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return &MalformedFeedError{Offset: p.dec.InputOffset(), Reason: "payload is not a JSON object"}
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

		if key != "indicators" {
			var skip json.RawMessage
			if err := p.dec.Decode(&skip); err != nil {
				return &MalformedFeedError{Offset: p.dec.InputOffset(), Reason: err.Error()}
			}
			continue
		}

		tok, err := p.dec.Token()
		if err != nil {
			return &MalformedFeedError{Offset: p.dec.InputOffset(), Reason: err.Error()}
		}
		if delim, ok := tok.(json.Delim); !ok || delim != '[' {
			return &MalformedFeedError{Offset: p.dec.InputOffset(), Reason: `"indicators" is not an array`}
		}
		return nil
	}

	return &MalformedFeedError{Offset: p.dec.InputOffset(), Reason: `missing "indicators" array`}
}

func (p *jsonParser) Next() (Record, error) {
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

	if !p.dec.More() {
		// Consume the closing bracket; a truncated container surfaces here
		if _, err := p.dec.Token(); err != nil {
			p.fatal = &MalformedFeedError{Offset: p.dec.InputOffset(), Reason: "truncated indicators array"}
			return nil, p.fatal
		}
		p.done = true
		return nil, io.EOF
	}

	var m map[string]any
	if err := p.dec.Decode(&m); err != nil {
		// Inside a valid array a broken element kills the decoder state,
		// so this is structural rather than droppable
		p.fatal = &MalformedFeedError{Offset: p.dec.InputOffset(), Reason: fmt.Sprintf("undecodable array element: %v", err)}
		return nil, p.fatal
	}
	return recordFromMap(m), nil
}
