package feed

import (
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// msgpackParser decodes a MessagePack array of string-keyed maps
type msgpackParser struct {
	dec       *msgpack.Decoder
	remaining int
	started   bool
	fatal     error
}

func newMsgpackParser(r io.Reader) *msgpackParser {
	return &msgpackParser{dec: msgpack.NewDecoder(r)}
}

func (p *msgpackParser) Next() (Record, error) {
	if p.fatal != nil {
		return nil, p.fatal
	}
	if !p.started {
		n, err := p.dec.DecodeArrayLen()
		if err != nil {
			p.fatal = &MalformedFeedError{Offset: 0, Reason: fmt.Sprintf("payload is not a msgpack array: %v", err)}
			return nil, p.fatal
		}
		if n < 0 {
			p.fatal = &MalformedFeedError{Offset: 0, Reason: "nil msgpack array"}
			return nil, p.fatal
		}
		p.remaining = n
		p.started = true
	}

	if p.remaining == 0 {
		return nil, io.EOF
	}
	p.remaining--

	var m map[string]any
	if err := p.dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			// Declared more elements than the container holds
			p.fatal = &MalformedFeedError{Offset: 0, Reason: "truncated msgpack array"}
			return nil, p.fatal
		}
		return nil, fmt.Errorf("%w: %v", ErrBadRecord, err)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: element is not a map", ErrBadRecord)
	}
	return recordFromMap(m), nil
}
