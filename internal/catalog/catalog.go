// Package catalog resolves (database, table) dataset references to the
// location and format of the extract that backs them.
//
// A catalog is a YAML document:
//
//	databases:
//	  strike-off-objections-mongo-extract:
//	    tables:
//	      strike_off_objections:
//	        location: extracts/strike_off_objections.json
//	        format: json
//
// Relative file locations resolve against the catalog's directory.
package catalog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when a database or table is not cataloged.
var ErrNotFound = errors.New("catalog: table not found")

// Formats understood by the document parser.
const (
	FormatJSON   = "json"
	FormatNDJSON = "ndjson"
)

// Catalog is a parsed catalog document.
type Catalog struct {
	Databases map[string]Database `yaml:"databases"`

	baseDir string
}

// Database groups cataloged tables.
type Database struct {
	Tables map[string]Table `yaml:"tables"`
}

// Table is one cataloged dataset.
type Table struct {
	Location string `yaml:"location"`
	Format   string `yaml:"format"`
}

// Load reads and parses the catalog at path.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	defer f.Close()
	return Parse(f, filepath.Dir(path))
}

// Parse decodes a catalog document. baseDir anchors relative locations.
func Parse(r io.Reader, baseDir string) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	c.baseDir = baseDir
	for db, d := range c.Databases {
		for name, t := range d.Tables {
			if strings.TrimSpace(t.Location) == "" {
				return nil, fmt.Errorf("catalog: %s.%s has no location", db, name)
			}
			switch t.Format {
			case "", FormatJSON, FormatNDJSON:
			default:
				return nil, fmt.Errorf("catalog: %s.%s has unknown format %q", db, name, t.Format)
			}
		}
	}
	return &c, nil
}

// Lookup returns the table entry for database/table with its location
// resolved. Format defaults to json.
func (c *Catalog) Lookup(database, table string) (Table, error) {
	d, ok := c.Databases[database]
	if !ok {
		return Table{}, fmt.Errorf("%w: database %q", ErrNotFound, database)
	}
	t, ok := d.Tables[table]
	if !ok {
		return Table{}, fmt.Errorf("%w: %s.%s", ErrNotFound, database, table)
	}
	if t.Format == "" {
		t.Format = FormatJSON
	}
	if !strings.Contains(t.Location, "://") && !filepath.IsAbs(t.Location) && c.baseDir != "" {
		t.Location = filepath.Join(c.baseDir, t.Location)
	}
	return t, nil
}

// Tables lists "database.table" references in sorted order.
func (c *Catalog) Tables() []string {
	var out []string
	for db, d := range c.Databases {
		for name := range d.Tables {
			out = append(out, db+"."+name)
		}
	}
	sort.Strings(out)
	return out
}
