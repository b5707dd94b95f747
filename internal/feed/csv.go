package feed

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// csvParser reads comma-separated records against a mandatory header row.
// The header is consumed lazily on the first Next so construction never
// touches the reader; the feed may be a pipe that has no bytes yet.
// ReuseRecord keeps the hot path allocation-free; fields are only copied
// into the Record map.
type csvParser struct {
	reader *csv.Reader
	header []string
	err    error
}

func newCSVParser(r io.Reader) *csvParser {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	cr.FieldsPerRecord = -1 // validated per record against the header
	return &csvParser{reader: cr}
}

func (p *csvParser) readHeader() error {
	header, err := p.reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			p.err = &MalformedFeedError{Offset: 0, Reason: "empty payload, missing header row"}
		} else {
			p.err = &MalformedFeedError{Offset: 0, Reason: fmt.Sprintf("unreadable header row: %v", err)}
		}
		return p.err
	}

	p.header = make([]string, len(header))
	for i, h := range header {
		p.header[i] = strings.TrimSpace(strings.ToLower(h))
	}
	return nil
}

func (p *csvParser) Next() (Record, error) {
	if p.err != nil {
		return nil, p.err
	}
	if p.header == nil {
		if err := p.readHeader(); err != nil {
			return nil, err
		}
	}

	row, err := p.reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			// A single bad row is droppable; the reader stays usable
			return nil, fmt.Errorf("%w: line %d: %v", ErrBadRecord, parseErr.Line, parseErr.Err)
		}
		p.err = &MalformedFeedError{Offset: p.reader.InputOffset(), Reason: err.Error()}
		return nil, p.err
	}

	if len(row) != len(p.header) {
		return nil, fmt.Errorf("%w: header declares %d fields, row has %d", ErrBadRecord, len(p.header), len(row))
	}

	rec := make(Record, len(row))
	for i, field := range row {
		rec[p.header[i]] = field
	}
	return rec, nil
}
