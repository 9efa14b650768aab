// Package relationalize turns nested documents into flat frames.
//
// Every document becomes one row of the root frame with nested objects
// flattened to dotted column names (created_by.email, created_on.$date).
// Every array column p of a frame F is pivoted into a child frame named
// "F_p": the row of F keeps an int64 join key in column p and the child frame
// holds one row per element with columns
//
//	id          the join key
//	index       0-based element position
//	p.val.<k>   flattened element fields (or p.val for scalar elements)
//
// Arrays nested inside elements are pivoted the same way, recursively.
package relationalize

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/nqd/flat"

	"strikeoffetl/pkg/records"
)

// ErrUnknownFrame is returned by Select for a frame that was not produced.
var ErrUnknownFrame = errors.New("relationalize: unknown frame")

// Column names added to every child frame.
const (
	JoinKeyColumn = "id"
	IndexColumn   = "index"
)

// Options configures Relationalize.
type Options struct {
	// Root names the frame holding one row per document. Default "root".
	Root string

	// Placeholders emits a row {id: key, index: nil} for an empty array,
	// as the vendor Relationalize operator does. It is off by default, so an
	// empty array yields no child rows at all.
	Placeholders bool
}

// Frame is one flat relation.
type Frame struct {
	Name string
	Rows []records.Record
}

// Columns returns the union of column names across rows, sorted.
func (f Frame) Columns() []string {
	seen := map[string]struct{}{}
	for _, r := range f.Rows {
		for k := range r {
			seen[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Frames is the result of one Relationalize call.
type Frames struct {
	byName map[string]*Frame
	order  []string
}

// Names lists frame names, root first, then in discovery order.
func (fs Frames) Names() []string {
	return append([]string(nil), fs.order...)
}

// Select returns the named frame.
func (fs Frames) Select(name string) (Frame, error) {
	f, ok := fs.byName[name]
	if !ok {
		return Frame{}, fmt.Errorf("%w %q (have %s)", ErrUnknownFrame, name, strings.Join(fs.order, ", "))
	}
	return *f, nil
}

// Relationalize flattens docs into frames. Input documents are not modified.
// Unlike the vendor operator, empty arrays produce no placeholder rows unless
// opt.Placeholders is set.
func Relationalize(docs []records.Record, opt Options) (Frames, error) {
	if opt.Root == "" {
		opt.Root = "root"
	}
	b := &builder{
		opt:  opt,
		out:  Frames{byName: map[string]*Frame{}},
		keys: map[string]int64{},
	}
	b.frame(opt.Root)

	for i, doc := range docs {
		row, err := flatten(map[string]any(doc), "")
		if err != nil {
			return Frames{}, fmt.Errorf("relationalize: document %d: %w", i, err)
		}
		if err := b.add(opt.Root, row); err != nil {
			return Frames{}, fmt.Errorf("relationalize: document %d: %w", i, err)
		}
	}
	return b.out, nil
}

type builder struct {
	opt  Options
	out  Frames
	keys map[string]int64 // last join key handed out per child frame
}

func (b *builder) frame(name string) *Frame {
	if f, ok := b.out.byName[name]; ok {
		return f
	}
	f := &Frame{Name: name}
	b.out.byName[name] = f
	b.out.order = append(b.out.order, name)
	return f
}

// add pivots the array columns of row into child frames, then appends row to
// frame. Columns are visited in sorted order so join keys are deterministic.
func (b *builder) add(frame string, row map[string]any) error {
	cols := make([]string, 0, len(row))
	for k, v := range row {
		if _, ok := v.([]any); ok {
			cols = append(cols, k)
		}
	}
	sort.Strings(cols)

	for _, col := range cols {
		arr := row[col].([]any)
		child := frame + "_" + col
		b.frame(child)
		b.keys[child]++
		key := b.keys[child]
		row[col] = key

		if len(arr) == 0 {
			if b.opt.Placeholders {
				b.frame(child).Rows = append(b.frame(child).Rows, records.Record{
					JoinKeyColumn: key,
					IndexColumn:   nil,
				})
			}
			continue
		}
		for i, el := range arr {
			crow := map[string]any{
				JoinKeyColumn: key,
				IndexColumn:   int64(i),
			}
			prefix := col + ".val"
			if m, ok := el.(map[string]any); ok {
				fl, err := flatten(m, prefix)
				if err != nil {
					return fmt.Errorf("%s[%d]: %w", col, i, err)
				}
				for k, v := range fl {
					crow[k] = v
				}
			} else {
				crow[prefix] = el
			}
			if err := b.add(child, crow); err != nil {
				return err
			}
		}
	}

	f := b.frame(frame)
	f.Rows = append(f.Rows, records.Record(row))
	return nil
}

// flatten flattens m with dotted keys, keeping arrays intact. Empty objects
// become nil values.
func flatten(m map[string]any, prefix string) (map[string]any, error) {
	if len(m) == 0 {
		if prefix == "" {
			return map[string]any{}, nil
		}
		return map[string]any{prefix: nil}, nil
	}
	fl, err := flat.Flatten(m, &flat.Options{Delimiter: ".", Safe: true})
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(fl))
	for k, v := range fl {
		if mv, ok := v.(map[string]any); ok && len(mv) == 0 {
			v = nil
		}
		if prefix != "" {
			k = prefix + "." + k
		}
		out[k] = v
	}
	return out, nil
}
