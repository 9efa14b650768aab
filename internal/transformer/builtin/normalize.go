// Package builtin contains the transforms used by the table streams: string
// normalisation, placeholder filtering, the parent join, key uniqueness and
// null-column pruning.
package builtin

import (
	"golang.org/x/text/unicode/norm"

	"strikeoffetl/pkg/records"
)

// Normalize rewrites every string value to Unicode NFC so that composed and
// decomposed spellings of names compare equal in the warehouse. Records are
// mutated in place.
type Normalize struct{}

func (Normalize) Apply(in []records.Record) ([]records.Record, error) {
	for _, r := range in {
		for k, v := range r {
			if s, ok := v.(string); ok && !norm.NFC.IsNormalString(s) {
				r[k] = norm.NFC.String(s)
			}
		}
	}
	return in, nil
}
