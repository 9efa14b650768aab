// Package json decodes document-store extracts into records.Record values.
//
// Accepted shapes:
//
//   - a top-level array of objects: [ {...}, {...} ]
//   - an envelope object whose named field holds that array:
//     { "records": [ {...} ] } (Options.Envelope = "records")
//   - one object per value (NDJSON / concatenated objects)
//
// Numbers decode as json.Number so ids and epoch values keep full precision.
// Mongo extended-JSON wrappers ({"$oid": ...}, {"$numberLong": ...}, ...)
// are unwrapped to their scalar value; {"$date": ...} objects are kept so the
// flattened path ends in ".$date".
package json

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode"

	"strikeoffetl/internal/config"
	"strikeoffetl/pkg/records"
)

// Options configures document decoding.
type Options struct {
	// Envelope names the field of a top-level object holding the documents.
	Envelope string
}

// FromSourceOptions builds Options from the decoded source options.
func FromSourceOptions(o config.SourceOptions) Options {
	return Options{Envelope: o.Envelope}
}

// Decoder yields one document at a time.
type Decoder struct {
	br  *bufio.Reader
	dec *json.Decoder
	opt Options
	doc int

	// inArray is set once the opening '[' of a document array was consumed.
	inArray bool
	started bool
	done    bool
}

// NewDecoder wraps r.
func NewDecoder(r io.Reader, opt Options) *Decoder {
	br := bufio.NewReader(r)
	d := json.NewDecoder(br)
	d.UseNumber()
	return &Decoder{br: br, dec: d, opt: opt}
}

// Next returns the next document or io.EOF.
func (d *Decoder) Next() (records.Record, error) {
	if !d.started {
		d.started = true
		if err := d.start(); err != nil {
			return nil, err
		}
	}
	if d.done {
		return nil, io.EOF
	}

	if d.inArray {
		if d.dec.More() {
			return d.decodeObject()
		}
		if _, err := d.dec.Token(); err != nil { // closing ']'
			return nil, fmt.Errorf("json: close array: %w", err)
		}
		d.inArray = false
		if d.opt.Envelope != "" {
			d.done = true
			return nil, io.EOF
		}
	}

	rec, err := d.decodeObject()
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	return rec, err
}

// start inspects the first token to pick the array, envelope or stream path.
func (d *Decoder) start() error {
	if d.opt.Envelope != "" {
		return d.enterEnvelope()
	}
	c, err := d.firstByte()
	if err != nil {
		return err
	}
	if c == '[' {
		if _, err := d.dec.Token(); err != nil {
			return fmt.Errorf("json: open array: %w", err)
		}
		d.inArray = true
	}
	return nil
}

// enterEnvelope walks the top-level object until the envelope field and
// leaves the decoder positioned inside its array.
func (d *Decoder) enterEnvelope() error {
	tok, err := d.dec.Token()
	if err != nil {
		return fmt.Errorf("json: envelope: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("json: envelope %q: top-level value is not an object", d.opt.Envelope)
	}
	for d.dec.More() {
		keyTok, err := d.dec.Token()
		if err != nil {
			return fmt.Errorf("json: envelope: %w", err)
		}
		key, _ := keyTok.(string)
		if key != d.opt.Envelope {
			var skip json.RawMessage
			if err := d.dec.Decode(&skip); err != nil {
				return fmt.Errorf("json: envelope: skip %q: %w", key, err)
			}
			continue
		}
		open, err := d.dec.Token()
		if err != nil {
			return fmt.Errorf("json: envelope %q: %w", key, err)
		}
		if delim, ok := open.(json.Delim); !ok || delim != '[' {
			return fmt.Errorf("json: envelope %q is not an array", key)
		}
		d.inArray = true
		return nil
	}
	return fmt.Errorf("json: envelope field %q not found", d.opt.Envelope)
}

// firstByte skips a UTF-8 BOM and leading whitespace and returns the next
// byte without consuming it.
func (d *Decoder) firstByte() (byte, error) {
	if b, err := d.br.Peek(3); err == nil && string(b) == "\xef\xbb\xbf" {
		_, _ = d.br.Discard(3)
	}
	for {
		c, err := d.br.ReadByte()
		if err != nil {
			return 0, io.EOF
		}
		if unicode.IsSpace(rune(c)) {
			continue
		}
		_ = d.br.UnreadByte()
		return c, nil
	}
}

func (d *Decoder) decodeObject() (records.Record, error) {
	var raw any
	if err := d.dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("json: document %d: %w", d.doc+1, err)
	}
	d.doc++
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("json: document %d is %T, want object", d.doc, raw)
	}
	return records.Record(Unwrap(obj).(map[string]any)), nil
}

// DecodeAll reads every document from r.
func DecodeAll(r io.Reader, opt Options) ([]records.Record, error) {
	d := NewDecoder(r, opt)
	var out []records.Record
	for {
		rec, err := d.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
}

// StreamDocuments decodes r and sends each document to out. It stops early
// when ctx is canceled.
func StreamDocuments(ctx context.Context, r io.Reader, opt Options, out chan<- records.Record) (int, error) {
	d := NewDecoder(r, opt)
	n := 0
	for {
		rec, err := d.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		select {
		case out <- rec:
			n++
		case <-ctx.Done():
			return n, ctx.Err()
		}
	}
}
