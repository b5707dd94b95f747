package feed

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// ndjsonParser streams newline-delimited JSON. Lines are handed to the
// decoder without copying; only a malformed line costs anything.
type ndjsonParser struct {
	scanner *bufio.Scanner
	offset  int64
}

const maxLineBytes = 4 << 20

func newNDJSONParser(r io.Reader) *ndjsonParser {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), maxLineBytes)
	return &ndjsonParser{scanner: sc}
}

func (p *ndjsonParser) Next() (Record, error) {
	for p.scanner.Scan() {
		line := p.scanner.Bytes()
		p.offset += int64(len(line)) + 1
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var m map[string]any
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrBadRecord, err)
		}
		return recordFromMap(m), nil
	}
	if err := p.scanner.Err(); err != nil {
		return nil, &MalformedFeedError{Offset: p.offset, Reason: err.Error()}
	}
	return nil, io.EOF
}
