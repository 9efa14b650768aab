// Package records defines the loosely typed row shape shared by the
// extraction, flattening and join stages.
package records

import "sort"

// Record is a single row keyed by field name. Nested documents use
// map[string]any / []any values; flattened rows use dotted keys.
type Record map[string]any

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Keys returns the field names of r in sorted order.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsEmpty reports whether v is nil or an empty string. Flattening uses both
// to mean "no value".
func IsEmpty(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

// Relation is a positional table: every row has one value per column.
type Relation struct {
	Name    string
	Columns []string
	Rows    [][]any
}

// Index returns the position of column, or -1.
func (r Relation) Index(column string) int {
	for i, c := range r.Columns {
		if c == column {
			return i
		}
	}
	return -1
}

// Records converts the rows back to keyed records.
func (r Relation) Records() []Record {
	out := make([]Record, len(r.Rows))
	for i, row := range r.Rows {
		rec := make(Record, len(r.Columns))
		for j, c := range r.Columns {
			rec[c] = row[j]
		}
		out[i] = rec
	}
	return out
}
