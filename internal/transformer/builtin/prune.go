package builtin

import (
	"errors"
	"fmt"

	"github.com/samber/lo"

	"strikeoffetl/pkg/records"
)

// ErrNullViolation reports a null in a column not declared nullable.
var ErrNullViolation = errors.New("null in non-nullable column")

// Prune modes.
const (
	PruneDeclared       = "declared"
	PruneDropNullFields = "drop_null_fields"
)

// Prune applies the null-column policy to a mapped relation.
//
// In "drop_null_fields" mode every column that is null in every row is
// removed; an empty relation keeps its columns. In "declared" mode (default)
// no column is removed and a null in a column missing from Nullable fails
// with ErrNullViolation.
type Prune struct {
	Mode     string
	Nullable map[string]bool

	// Dropped lists the columns removed by the last Apply.
	Dropped []string
}

func (p *Prune) Apply(rel records.Relation) (records.Relation, error) {
	p.Dropped = nil
	if p.Mode == PruneDropNullFields {
		return p.dropNullColumns(rel), nil
	}
	for i, col := range rel.Columns {
		if p.Nullable[col] {
			continue
		}
		for n, row := range rel.Rows {
			if row[i] == nil {
				return rel, fmt.Errorf("%s.%s row %d: %w", rel.Name, col, n, ErrNullViolation)
			}
		}
	}
	return rel, nil
}

func (p *Prune) dropNullColumns(rel records.Relation) records.Relation {
	if len(rel.Rows) == 0 {
		return rel
	}
	keep := lo.Filter(lo.Range(len(rel.Columns)), func(i int, _ int) bool {
		for _, row := range rel.Rows {
			if row[i] != nil {
				return true
			}
		}
		return false
	})
	if len(keep) == len(rel.Columns) {
		return rel
	}
	for i, c := range rel.Columns {
		if !lo.Contains(keep, i) {
			p.Dropped = append(p.Dropped, c)
		}
	}

	out := records.Relation{
		Name:    rel.Name,
		Columns: lo.Map(keep, func(i int, _ int) string { return rel.Columns[i] }),
		Rows:    make([][]any, len(rel.Rows)),
	}
	for n, row := range rel.Rows {
		out.Rows[n] = lo.Map(keep, func(i int, _ int) any { return row[i] })
	}
	return out
}
