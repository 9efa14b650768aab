package builtin

import (
	"github.com/samber/lo"

	"strikeoffetl/pkg/records"
)

// DropPlaceholders removes rows whose Field is nil, missing or "". Child
// frames carry such rows for empty arrays when placeholders are enabled.
type DropPlaceholders struct {
	Field string

	// Dropped counts rows removed by the last Apply.
	Dropped int
}

func (d *DropPlaceholders) Apply(in []records.Record) ([]records.Record, error) {
	out := lo.Filter(in, func(r records.Record, _ int) bool {
		return !records.IsEmpty(r[d.Field])
	})
	d.Dropped = len(in) - len(out)
	return out, nil
}
