// Package mapping projects flattened records onto destination columns.
//
// A mapping document is versioned YAML:
//
//	version: 1
//	table: strike_off_objection
//	fields:
//	  - {source: _id, source_type: string, dest: id, dest_type: string}
//	  - {source: created_on.$date, source_type: string, dest: created_on, dest_type: timestamp, nullable: true}
//
// Fields are applied in order; the destination column order follows it.
// Supported types are string, int, boolean and timestamp.
package mapping

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"strikeoffetl/pkg/records"
)

// CurrentVersion is the only mapping document version understood.
const CurrentVersion = 1

// Type names.
const (
	TypeString    = "string"
	TypeInt       = "int"
	TypeBoolean   = "boolean"
	TypeTimestamp = "timestamp"
)

var knownTypes = []string{TypeString, TypeInt, TypeBoolean, TypeTimestamp}

//go:embed mappings/*.yaml
var builtinFS embed.FS

// Field maps one source path to one destination column.
type Field struct {
	Source     string `yaml:"source"`
	SourceType string `yaml:"source_type"`
	Dest       string `yaml:"dest"`
	DestType   string `yaml:"dest_type"`
	Nullable   bool   `yaml:"nullable"`
}

// Mapping is a parsed mapping document.
type Mapping struct {
	Version int     `yaml:"version"`
	Table   string  `yaml:"table"`
	Fields  []Field `yaml:"fields"`
}

// Parse decodes and validates a mapping document.
func Parse(b []byte) (*Mapping, error) {
	var m Mapping
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("mapping: decode: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Builtins lists the embedded mapping names.
func Builtins() []string {
	entries, _ := builtinFS.ReadDir("mappings")
	names := lo.Map(entries, func(e os.DirEntry, _ int) string {
		return strings.TrimSuffix(e.Name(), path.Ext(e.Name()))
	})
	sort.Strings(names)
	return names
}

// Load resolves ref as a built-in mapping name first and as a file path
// otherwise.
func Load(ref string) (*Mapping, error) {
	if b, err := builtinFS.ReadFile("mappings/" + ref + ".yaml"); err == nil {
		m, err := Parse(b)
		if err != nil {
			return nil, fmt.Errorf("builtin %s: %w", ref, err)
		}
		return m, nil
	}
	b, err := os.ReadFile(ref)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("mapping %q: not a builtin (%s) and no such file", ref, strings.Join(Builtins(), ", "))
		}
		return nil, fmt.Errorf("mapping %q: %w", ref, err)
	}
	m, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ref, err)
	}
	return m, nil
}

// Validate checks the document: supported version, a table name, at least
// one field, known types, and every destination column exactly once.
func (m *Mapping) Validate() error {
	var errs []error
	if m.Version != CurrentVersion {
		errs = append(errs, fmt.Errorf("unsupported version %d (want %d)", m.Version, CurrentVersion))
	}
	if strings.TrimSpace(m.Table) == "" {
		errs = append(errs, errors.New("table must not be empty"))
	}
	if len(m.Fields) == 0 {
		errs = append(errs, errors.New("no fields"))
	}
	for i, f := range m.Fields {
		if f.Source == "" || f.Dest == "" {
			errs = append(errs, fmt.Errorf("fields[%d]: source and dest are required", i))
		}
		if !lo.Contains(knownTypes, f.SourceType) {
			errs = append(errs, fmt.Errorf("fields[%d]: unknown source_type %q", i, f.SourceType))
		}
		if !lo.Contains(knownTypes, f.DestType) {
			errs = append(errs, fmt.Errorf("fields[%d]: unknown dest_type %q", i, f.DestType))
		}
	}
	for _, dup := range lo.FindDuplicates(m.Columns()) {
		errs = append(errs, fmt.Errorf("dest column %q mapped more than once", dup))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("mapping %s: %w", m.Table, err)
	}
	return nil
}

// Columns returns the destination columns in order.
func (m *Mapping) Columns() []string {
	return lo.Map(m.Fields, func(f Field, _ int) string { return f.Dest })
}

// Nullable returns the set of columns declared nullable.
func (m *Mapping) Nullable() map[string]bool {
	out := make(map[string]bool, len(m.Fields))
	for _, f := range m.Fields {
		if f.Nullable {
			out[f.Dest] = true
		}
	}
	return out
}

// Projection returns the identity mapping over the destination columns.
// Applying it to the records of a relation produced by m yields the same
// relation.
func (m *Mapping) Projection() *Mapping {
	return &Mapping{
		Version: m.Version,
		Table:   m.Table,
		Fields: lo.Map(m.Fields, func(f Field, _ int) Field {
			return Field{Source: f.Dest, SourceType: f.DestType, Dest: f.Dest, DestType: f.DestType, Nullable: f.Nullable}
		}),
	}
}

// Apply projects rows onto the destination columns, casting each value to
// its destination type. Missing and null sources become nil. The first
// value that cannot be cast fails the whole call with ErrCoerce.
func (m *Mapping) Apply(rows []records.Record) (records.Relation, error) {
	plan := m.compile()
	rel := records.Relation{
		Name:    m.Table,
		Columns: m.Columns(),
		Rows:    make([][]any, len(rows)),
	}
	for n, r := range rows {
		out := make([]any, len(plan))
		for i, p := range plan {
			v, err := p.cast(r[p.source])
			if err != nil {
				return records.Relation{}, fmt.Errorf("%s.%s row %d (%s=%#v): %w",
					m.Table, p.dest, n, p.source, r[p.source], err)
			}
			out[i] = v
		}
		rel.Rows[n] = out
	}
	return rel, nil
}

type fieldPlan struct {
	source string
	dest   string
	cast   caster
}

// compile resolves each field's caster once so Apply does no per-row type
// switching on names.
func (m *Mapping) compile() []fieldPlan {
	return lo.Map(m.Fields, func(f Field, _ int) fieldPlan {
		return fieldPlan{source: f.Source, dest: f.Dest, cast: casterFor(f.DestType)}
	})
}
