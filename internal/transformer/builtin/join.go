package builtin

import (
	"errors"
	"fmt"

	"strikeoffetl/pkg/records"
)

// ErrDuplicateKey reports a key that occurs more than once where the
// duplicate policy forbids it.
var ErrDuplicateKey = errors.New("duplicate key")

// Duplicate policies shared by Join and Unique.
const (
	PolicyError     = "error"
	PolicyCross     = "cross"
	PolicyKeepFirst = "keep-first"
	PolicyKeepLast  = "keep-last"
)

// Join is an inner join of the input (left) rows with Right on
// left[LeftKey] == right[RightKey]. Output rows hold every left field plus
// every right field; a right field whose name is already used on the left is
// emitted as "<RightFrame>.<name>". Left order is preserved and rows without
// a match are dropped.
//
// Policy decides what happens when a right key is not unique: "error"
// (default) fails with ErrDuplicateKey, "cross" emits one row per match.
type Join struct {
	Right      []records.Record
	RightFrame string
	LeftKey    string
	RightKey   string
	Policy     string

	// Unmatched counts left rows dropped by the last Apply.
	Unmatched int
}

func (j *Join) Apply(in []records.Record) ([]records.Record, error) {
	index := make(map[string][]records.Record, len(j.Right))
	for _, r := range j.Right {
		k, ok := keyOf(r[j.RightKey])
		if !ok {
			continue
		}
		if len(index[k]) > 0 && j.Policy != PolicyCross {
			return nil, fmt.Errorf("join %s.%s=%s: %w", j.RightFrame, j.RightKey, k, ErrDuplicateKey)
		}
		index[k] = append(index[k], r)
	}

	j.Unmatched = 0
	out := make([]records.Record, 0, len(in))
	for _, l := range in {
		k, ok := keyOf(l[j.LeftKey])
		matches := index[k]
		if !ok || len(matches) == 0 {
			j.Unmatched++
			continue
		}
		for _, r := range matches {
			row := l.Clone()
			for name, v := range r {
				if _, clash := l[name]; clash {
					name = j.RightFrame + "." + name
				}
				row[name] = v
			}
			out = append(out, row)
		}
	}
	return out, nil
}

// keyOf renders a join or business key value. Nil and "" are not keys.
func keyOf(v any) (string, bool) {
	if records.IsEmpty(v) {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprint(v), true
}
