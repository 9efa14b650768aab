package probe

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/samber/lo"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"strikeoffetl/internal/mapping"
	"strikeoffetl/internal/relationalize"
)

// FrameProfile summarizes one sampled frame.
type FrameProfile struct {
	Name    string          `yaml:"name"`
	Rows    int             `yaml:"rows"`
	Columns []ColumnProfile `yaml:"columns"`
}

// ColumnProfile summarizes one flattened column.
type ColumnProfile struct {
	Source string `yaml:"source"`
	// Type is one of the mapping types; mixed or unrecognized values fall
	// back to string.
	Type string `yaml:"type"`
	// Nulls counts rows where the column was missing, null or empty.
	Nulls int `yaml:"nulls"`
	// Structural marks join keys and element positions added by
	// relationalize, which never appear in a scaffold.
	Structural bool `yaml:"structural,omitempty"`
}

// profileFrame infers a type per column of f. Array columns of f (their
// value is the join key into a child frame in frames) are structural.
func profileFrame(f relationalize.Frame, frames relationalize.Frames) FrameProfile {
	fp := FrameProfile{Name: f.Name, Rows: len(f.Rows)}
	names := frames.Names()
	isRoot := f.Name == names[0]

	for _, col := range f.Columns() {
		cp := ColumnProfile{Source: col}
		var seen []string
		for _, r := range f.Rows {
			v, ok := r[col]
			if !ok || isNull(v) {
				cp.Nulls++
				continue
			}
			seen = append(seen, kindOf(v))
		}
		cp.Type = settle(col, seen)
		cp.Structural = lo.Contains(names, f.Name+"_"+col) ||
			(!isRoot && (col == relationalize.JoinKeyColumn || col == relationalize.IndexColumn))
		fp.Columns = append(fp.Columns, cp)
	}
	return fp
}

func isNull(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

// kindOf classifies one sampled value.
func kindOf(v any) string {
	switch x := v.(type) {
	case bool:
		return mapping.TypeBoolean
	case int64, int:
		return mapping.TypeInt
	case json.Number:
		if _, err := x.Int64(); err == nil {
			return mapping.TypeInt
		}
		return mapping.TypeString
	case string:
		if _, err := time.Parse(time.RFC3339Nano, x); err == nil {
			return mapping.TypeTimestamp
		}
		return mapping.TypeString
	default:
		return mapping.TypeString
	}
}

// settle picks the column type. Extended-JSON dates always map to timestamp
// even when the sample only holds epoch numbers.
func settle(col string, kinds []string) string {
	if strings.HasSuffix(col, ".$date") {
		return mapping.TypeTimestamp
	}
	if len(kinds) == 0 {
		return mapping.TypeString
	}
	first := kinds[0]
	for _, k := range kinds[1:] {
		if k != first {
			return mapping.TypeString
		}
	}
	return first
}

// scaffold proposes a mapping for fp into table. It returns nil when the
// frame has no mappable column.
func scaffold(fp FrameProfile, table string) (*mapping.Mapping, error) {
	m := &mapping.Mapping{Version: mapping.CurrentVersion, Table: table}
	used := map[string]int{}
	for _, c := range fp.Columns {
		if c.Structural {
			continue
		}
		dest := destName(c.Source)
		used[dest]++
		if n := used[dest]; n > 1 {
			dest = truncateFieldName(fmt.Sprintf("%s_%d", dest, n))
		}
		src := c.Type
		if c.Type == mapping.TypeTimestamp {
			src = mapping.TypeString
		}
		m.Fields = append(m.Fields, mapping.Field{
			Source:     c.Source,
			SourceType: src,
			Dest:       dest,
			DestType:   c.Type,
			Nullable:   c.Nulls > 0,
		})
	}
	if len(m.Fields) == 0 {
		return nil, nil
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// destName turns a flattened source path into a column name:
// attachments.val.links.self becomes links_self, tags.val becomes tags and
// created_on.$date becomes created_on.
func destName(source string) string {
	s := strings.TrimSuffix(source, ".$date")
	if i := strings.LastIndex(s, ".val."); i >= 0 {
		s = s[i+len(".val."):]
	} else {
		s = strings.TrimSuffix(s, ".val")
	}
	return truncateFieldName(normalizeFieldName(s))
}

// normalizeFieldName lowercases s, strips accents and folds every run of
// separators into one underscore.
func normalizeFieldName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	ascii, _, _ := transform.String(t, s)

	var b strings.Builder
	prevUnderscore := false
	for _, r := range ascii {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevUnderscore = false
		case r == '_' || r == ' ' || r == '-' || r == '.':
			if !prevUnderscore {
				b.WriteRune('_')
				prevUnderscore = true
			}
		}
	}
	name := strings.Trim(b.String(), "_")
	if name == "" {
		return "col"
	}
	return name
}

// truncateFieldName keeps names within PostgreSQL's 63-character limit by
// keeping the first 10 and last 53 characters.
func truncateFieldName(s string) string {
	if len(s) > 63 {
		return s[:10] + s[len(s)-53:]
	}
	return s
}

// WriteMappings writes ms as a stream of YAML documents.
func WriteMappings(w io.Writer, ms []*mapping.Mapping) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	for _, m := range ms {
		if err := enc.Encode(m); err != nil {
			return fmt.Errorf("probe: encode mapping %s: %w", m.Table, err)
		}
	}
	return enc.Close()
}

// WriteProfile writes the frame profiles as YAML.
func WriteProfile(w io.Writer, frames []FrameProfile) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]any{"frames": frames}); err != nil {
		return fmt.Errorf("probe: encode profile: %w", err)
	}
	return enc.Close()
}

// writeSample writes the sampled bytes to path, replacing any existing file.
func writeSample(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}
