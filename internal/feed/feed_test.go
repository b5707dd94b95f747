package feed

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

// drain pulls every record out of a parser, collecting droppable errors
func drain(t *testing.T, p Parser) (records []Record, dropped int, fatal error) {
	t.Helper()
	for {
		rec, err := p.Next()
		switch {
		case err == nil:
			records = append(records, rec)
		case errors.Is(err, io.EOF):
			return records, dropped, nil
		case errors.Is(err, ErrBadRecord):
			dropped++
		default:
			return records, dropped, err
		}
	}
}

func TestParseFormat(t *testing.T) {
	for _, tag := range []string{"json", "NDJSON", " csv ", "stix", "msgpack"} {
		_, err := ParseFormat(tag)
		assert.NoError(t, err, tag)
	}

	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestRecordGetList(t *testing.T) {
	rec := Record{"tags": "phishing, c2 ,,  malware"}
	assert.Equal(t, []string{"phishing", "c2", "malware"}, rec.GetList("tags"))
	assert.Nil(t, rec.GetList("missing"))
}

func TestNDJSONParser(t *testing.T) {
	input := `{"value":"evil.example","type":"domain","confidence":0.8}

{"value":"203.0.113.7"}
not json at all
{"value":"https://evil.example/x","tags":["phishing","c2"]}
`
	p, err := NewParser(FormatNDJSON, strings.NewReader(input))
	require.NoError(t, err)

	records, dropped, fatal := drain(t, p)
	require.NoError(t, fatal)
	assert.Equal(t, 1, dropped)
	require.Len(t, records, 3)

	assert.Equal(t, "evil.example", records[0].Get("value"))
	assert.Equal(t, "domain", records[0].Get("type"))
	assert.Equal(t, "0.8", records[0].Get("confidence"))
	assert.Equal(t, []string{"phishing", "c2"}, records[2].GetList("tags"))
}

func TestCSVParser(t *testing.T) {
	input := "Value,Type,Confidence\n" +
		"evil.example,domain,0.9\n" +
		"203.0.113.7,ip-address,0.5\n"
	p, err := NewParser(FormatCSV, strings.NewReader(input))
	require.NoError(t, err)

	records, dropped, fatal := drain(t, p)
	require.NoError(t, fatal)
	assert.Zero(t, dropped)
	require.Len(t, records, 2)

	// header is lowercased
	assert.Equal(t, "evil.example", records[0].Get("value"))
	assert.Equal(t, "ip-address", records[1].Get("type"))
}

func TestCSVParserFieldCountMismatch(t *testing.T) {
	input := "value,type\n" +
		"evil.example,domain\n" +
		"only-one-field\n" +
		"203.0.113.7,ip-address\n"
	p, err := NewParser(FormatCSV, strings.NewReader(input))
	require.NoError(t, err)

	records, dropped, fatal := drain(t, p)
	require.NoError(t, fatal)
	assert.Equal(t, 1, dropped)
	assert.Len(t, records, 2)
}

func TestCSVParserLazyHeaderRead(t *testing.T) {
	// Feeds arrive over a pipe with no bytes buffered at construction,
	// so the header read must wait for the first Next
	pr, pw := io.Pipe()
	constructed := make(chan Parser, 1)
	go func() {
		p, err := NewParser(FormatCSV, pr)
		assert.NoError(t, err)
		constructed <- p
	}()

	var p Parser
	select {
	case p = <-constructed:
	case <-time.After(2 * time.Second):
		t.Fatal("CSV parser construction blocked on an unfed reader")
	}

	go func() {
		pw.Write([]byte("value,type\nevil.example,domain\n"))
		pw.Close()
	}()

	rec, err := p.Next()
	require.NoError(t, err)
	assert.Equal(t, "evil.example", rec.Get("value"))
	_, err = p.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestCSVParserMissingHeader(t *testing.T) {
	p, err := NewParser(FormatCSV, strings.NewReader(""))
	require.NoError(t, err)

	_, err = p.Next()
	var malformed *MalformedFeedError
	require.ErrorAs(t, err, &malformed)
}

func TestJSONParser(t *testing.T) {
	input := `{
		"source": "test-feed",
		"generated": "2026-08-01T00:00:00Z",
		"indicators": [
			{"value": "evil.example", "type": "domain"},
			{"value": "203.0.113.7", "type": "ip-address", "severity": "high"}
		]
	}`
	p, err := NewParser(FormatJSON, strings.NewReader(input))
	require.NoError(t, err)

	records, dropped, fatal := drain(t, p)
	require.NoError(t, fatal)
	assert.Zero(t, dropped)
	require.Len(t, records, 2)
	assert.Equal(t, "high", records[1].Get("severity"))
}

func TestJSONParserMissingIndicators(t *testing.T) {
	p, err := NewParser(FormatJSON, strings.NewReader(`{"source":"x"}`))
	require.NoError(t, err)

	_, err = p.Next()
	var malformed *MalformedFeedError
	require.ErrorAs(t, err, &malformed)
	assert.Contains(t, malformed.Reason, "indicators")
}

func TestJSONParserTruncated(t *testing.T) {
	p, err := NewParser(FormatJSON, strings.NewReader(`{"indicators":[{"value":"a.example"}`))
	require.NoError(t, err)

	records, _, fatal := drain(t, p)
	assert.Len(t, records, 1)
	var malformed *MalformedFeedError
	require.ErrorAs(t, fatal, &malformed)
}

func TestSTIXParser(t *testing.T) {
	input := `{
		"type": "bundle",
		"id": "bundle--0001",
		"objects": [
			{
				"type": "indicator",
				"pattern": "[domain-name:value = 'evil.example']",
				"labels": ["malicious-activity"],
				"confidence": 85,
				"valid_from": "2026-01-01T00:00:00Z"
			},
			{"type": "identity", "name": "acme"},
			{
				"type": "indicator",
				"pattern": "[file:hashes.'SHA-256' = 'aec070645fe53ee3b3763059376134f058cc337247c978add178b6ccdfb0019f']"
			},
			{
				"type": "indicator",
				"pattern": "[network-traffic:dst_port = 443]"
			}
		]
	}`
	p, err := NewParser(FormatSTIX, strings.NewReader(input))
	require.NoError(t, err)

	records, dropped, fatal := drain(t, p)
	require.NoError(t, fatal)
	assert.Equal(t, 1, dropped) // the network-traffic pattern
	require.Len(t, records, 2)

	assert.Equal(t, "evil.example", records[0].Get("value"))
	assert.Equal(t, "domain", records[0].Get("type"))
	assert.Equal(t, "0.85", records[0].Get("confidence"))
	assert.Equal(t, "2026-01-01T00:00:00Z", records[0].Get("first_seen"))
	assert.Equal(t, "file-hash", records[1].Get("type"))
}

func TestSTIXParserNotABundle(t *testing.T) {
	p, err := NewParser(FormatSTIX, strings.NewReader(`{"type":"report","objects":[]}`))
	require.NoError(t, err)

	_, err = p.Next()
	var malformed *MalformedFeedError
	require.ErrorAs(t, err, &malformed)
}

func TestMsgpackParser(t *testing.T) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	require.NoError(t, enc.EncodeArrayLen(2))
	require.NoError(t, enc.Encode(map[string]any{
		"value": "evil.example", "type": "domain", "confidence": 0.7,
	}))
	require.NoError(t, enc.Encode(map[string]any{
		"value": "203.0.113.7",
	}))

	p, err := NewParser(FormatMsgpack, &buf)
	require.NoError(t, err)

	records, dropped, fatal := drain(t, p)
	require.NoError(t, fatal)
	assert.Zero(t, dropped)
	require.Len(t, records, 2)
	assert.Equal(t, "evil.example", records[0].Get("value"))
	assert.Equal(t, "203.0.113.7", records[1].Get("value"))
}

func TestMsgpackParserNotAnArray(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, msgpack.NewEncoder(&buf).Encode(map[string]any{"value": "x"}))

	p, err := NewParser(FormatMsgpack, &buf)
	require.NoError(t, err)

	_, err = p.Next()
	var malformed *MalformedFeedError
	require.ErrorAs(t, err, &malformed)
}

func TestMsgpackParserTruncated(t *testing.T) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	require.NoError(t, enc.EncodeArrayLen(3))
	require.NoError(t, enc.Encode(map[string]any{"value": "a.example"}))

	p, err := NewParser(FormatMsgpack, &buf)
	require.NoError(t, err)

	records, _, fatal := drain(t, p)
	assert.Len(t, records, 1)
	var malformed *MalformedFeedError
	require.ErrorAs(t, fatal, &malformed)
}
