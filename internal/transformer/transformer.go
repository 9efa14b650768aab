// Package transformer defines the record-level transform contract shared by
// the table streams. Concrete transforms live in transformer/builtin.
package transformer

import (
	"fmt"

	"strikeoffetl/pkg/records"
)

// Transformer rewrites a batch of records. Implementations may reuse the
// input slice.
type Transformer interface {
	Apply(in []records.Record) ([]records.Record, error)
}

// Func adapts a plain function to Transformer.
type Func func(in []records.Record) ([]records.Record, error)

// Apply calls f.
func (f Func) Apply(in []records.Record) ([]records.Record, error) { return f(in) }

// Step is a named transformer; the name labels errors, logs and metrics.
type Step struct {
	Name string
	T    Transformer
}

// Chain is an ordered list of steps.
type Chain []Step

// Apply runs every step in order and stops at the first error.
func (c Chain) Apply(in []records.Record) ([]records.Record, error) {
	out := in
	for _, s := range c {
		var err error
		if out, err = s.T.Apply(out); err != nil {
			return nil, fmt.Errorf("%s: %w", s.Name, err)
		}
	}
	return out, nil
}

// Observe runs the chain and reports each step's output size to fn.
func (c Chain) Observe(in []records.Record, fn func(step string, rows int)) ([]records.Record, error) {
	out := in
	for _, s := range c {
		var err error
		if out, err = s.T.Apply(out); err != nil {
			return nil, fmt.Errorf("%s: %w", s.Name, err)
		}
		fn(s.Name, len(out))
	}
	return out, nil
}
