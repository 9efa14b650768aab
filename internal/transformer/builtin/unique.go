package builtin

import (
	"fmt"
	"sort"
	"strings"

	"strikeoffetl/pkg/records"
)

// Unique enforces a business key over a mapped relation.
//
//   - "error" (default): a repeated key fails with ErrDuplicateKey
//   - "cross": rows pass through unchanged
//   - "keep-first": the earliest row per key wins
//   - "keep-last": the latest row per key wins
//
// Rows with a null component in the key are passed through; nullability is
// enforced by Prune.
type Unique struct {
	Keys   []string
	Policy string

	// Removed counts rows dropped by the last Apply.
	Removed int
}

func (u *Unique) Apply(rel records.Relation) (records.Relation, error) {
	u.Removed = 0
	if len(u.Keys) == 0 || len(rel.Rows) == 0 || u.Policy == PolicyCross {
		return rel, nil
	}

	idx := make([]int, len(u.Keys))
	for i, k := range u.Keys {
		if idx[i] = rel.Index(k); idx[i] < 0 {
			return rel, fmt.Errorf("unique %s: key column %q not in relation", rel.Name, k)
		}
	}

	rowKey := func(row []any) (string, bool) {
		var b strings.Builder
		for n, i := range idx {
			s, ok := keyOf(row[i])
			if !ok {
				return "", false
			}
			if n > 0 {
				b.WriteByte('\x1f')
			}
			b.WriteString(s)
		}
		return b.String(), true
	}

	winners := make(map[string]int, len(rel.Rows))
	var keep []int
	for i, row := range rel.Rows {
		k, ok := rowKey(row)
		if !ok {
			keep = append(keep, i)
			continue
		}
		_, seen := winners[k]
		switch {
		case !seen:
			winners[k] = i
		case u.Policy == PolicyKeepFirst:
		case u.Policy == PolicyKeepLast:
			winners[k] = i
		default:
			return rel, fmt.Errorf("%s key (%s)=(%s): %w",
				rel.Name, strings.Join(u.Keys, ","), strings.ReplaceAll(k, "\x1f", ","), ErrDuplicateKey)
		}
	}
	for _, i := range winners {
		keep = append(keep, i)
	}
	sort.Ints(keep)

	out := records.Relation{Name: rel.Name, Columns: rel.Columns, Rows: make([][]any, 0, len(keep))}
	for _, i := range keep {
		out.Rows = append(out.Rows, rel.Rows[i])
	}
	u.Removed = len(rel.Rows) - len(out.Rows)
	return out, nil
}
