package ddl

import "strings"

// Dialect carries the per-backend pieces of DDL rendering. Backends declare
// one value each and register it with the storage package.
type Dialect struct {
	Name string

	// QuoteIdent quotes one identifier segment. Nil emits names verbatim.
	QuoteIdent func(id string) string

	// MapType maps a mapping type (string, int, boolean, timestamp) to a
	// column type. Nil emits the logical type verbatim.
	MapType func(logical string) string

	// KeyType maps the type of a primary-key column where the backend cannot
	// index MapType's choice (NVARCHAR(MAX), TEXT). Nil falls back to MapType.
	KeyType func(logical string) string

	// Guard wraps a plain CREATE TABLE so it is a no-op when the table
	// exists. Nil renders CREATE TABLE IF NOT EXISTS.
	Guard func(quotedFQN, create string) string
}

// Quote quotes a single identifier.
func (d Dialect) Quote(id string) string {
	if d.QuoteIdent == nil {
		return id
	}
	return d.QuoteIdent(id)
}

// QuoteFQN quotes a possibly schema-qualified name segment by segment:
//
//	"dbo.Users" -> [dbo].[Users]
//	"Users"     -> [Users]
func (d Dialect) QuoteFQN(fqn string) string {
	parts := strings.Split(fqn, ".")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, d.Quote(p))
	}
	return strings.Join(out, ".")
}

// Type maps a logical type through MapType.
func (d Dialect) Type(logical string) string {
	if d.MapType == nil {
		return logical
	}
	return d.MapType(logical)
}

// TypeOfKey maps the logical type of a primary-key column.
func (d Dialect) TypeOfKey(logical string) string {
	if d.KeyType == nil {
		return d.Type(logical)
	}
	return d.KeyType(logical)
}

// QuoteDoubled returns a QuoteIdent that wraps identifiers in open/close and
// doubles any embedded close character.
//
//	QuoteDoubled(`"`, `"`)("a\"b") -> "a""b"
//	QuoteDoubled("[", "]")("x]y")  -> [x]]y]
func QuoteDoubled(open, close string) func(string) string {
	return func(id string) string {
		return open + strings.ReplaceAll(id, close, close+close) + close
	}
}
