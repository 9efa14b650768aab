// Package staging persists the intermediate frames and load relations of one
// run as NDJSON under <path>/<run id>/, with a manifest.json listing each
// artifact's row count and xxh3 checksum.
package staging

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/xxh3"

	"strikeoffetl/pkg/records"
)

// ManifestFile is the name of the manifest written by Close.
const ManifestFile = "manifest.json"

// ErrUnsupportedScheme is returned for staging locations that are not local.
var ErrUnsupportedScheme = errors.New("unsupported staging location")

// Entry describes one staged artifact.
type Entry struct {
	Name  string `json:"name"`
	File  string `json:"file"`
	Rows  int    `json:"rows"`
	Bytes int64  `json:"bytes"`
	XXH3  string `json:"xxh3"`
}

// Manifest lists a run's artifacts by name.
type Manifest struct {
	RunID     string    `json:"run_id"`
	Job       string    `json:"job"`
	CreatedAt time.Time `json:"created_at"`
	Entries   []Entry   `json:"entries"`
}

// Dir resolves a staging location to a local directory. Plain paths and
// file:// URIs are accepted; any other scheme fails with ErrUnsupportedScheme.
func Dir(location string) (string, error) {
	if location == "" {
		return "", fmt.Errorf("%w: empty", ErrUnsupportedScheme)
	}
	if !strings.Contains(location, "://") {
		return filepath.Clean(location), nil
	}
	u, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("staging location %q: %w", location, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("%w %q: scheme %s", ErrUnsupportedScheme, location, u.Scheme)
	}
	return filepath.Clean(filepath.FromSlash(u.Host + u.Path)), nil
}

// Writer stages artifacts of one run. It is safe for concurrent use.
type Writer struct {
	dir string

	mu       sync.Mutex
	manifest Manifest
}

// New creates <location>/<runID>/.
func New(location, job, runID string) (*Writer, error) {
	base, err := Dir(location)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(base, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("staging: %w", err)
	}
	return &Writer{
		dir:      dir,
		manifest: Manifest{RunID: runID, Job: job, CreatedAt: time.Now().UTC()},
	}, nil
}

// Path returns the run directory.
func (w *Writer) Path() string { return w.dir }

// WriteRecords stages rows as <name>.ndjson, one JSON object per line.
func (w *Writer) WriteRecords(name string, rows []records.Record) (Entry, error) {
	return w.write(name, len(rows), func(enc *json.Encoder) error {
		for _, r := range rows {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteRelation stages rel as <rel.Name>.ndjson keyed by its columns.
func (w *Writer) WriteRelation(rel records.Relation) (Entry, error) {
	return w.WriteRecords(rel.Name, rel.Records())
}

func (w *Writer) write(name string, rows int, fn func(*json.Encoder) error) (Entry, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return Entry{}, fmt.Errorf("staging: invalid artifact name %q", name)
	}
	file := name + ".ndjson"
	f, err := os.Create(filepath.Join(w.dir, file))
	if err != nil {
		return Entry{}, fmt.Errorf("staging %s: %w", name, err)
	}

	h := xxh3.New()
	cw := &countingWriter{w: io.MultiWriter(f, h)}
	bw := bufio.NewWriter(cw)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)

	err = fn(enc)
	if err == nil {
		err = bw.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return Entry{}, fmt.Errorf("staging %s: %w", name, err)
	}

	e := Entry{Name: name, File: file, Rows: rows, Bytes: cw.n, XXH3: fmt.Sprintf("%016x", h.Sum64())}
	w.mu.Lock()
	w.manifest.Entries = append(w.manifest.Entries, e)
	w.mu.Unlock()
	return e, nil
}

// Close writes manifest.json with entries sorted by name.
func (w *Writer) Close() error {
	w.mu.Lock()
	m := w.manifest
	m.Entries = append([]Entry(nil), w.manifest.Entries...)
	w.mu.Unlock()
	sort.Slice(m.Entries, func(i, j int) bool { return m.Entries[i].Name < m.Entries[j].Name })

	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("staging manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(w.dir, ManifestFile), append(b, '\n'), 0o644); err != nil {
		return fmt.Errorf("staging manifest: %w", err)
	}
	return nil
}

// ReadManifest loads the manifest of a run directory.
func ReadManifest(dir string) (Manifest, error) {
	var m Manifest
	b, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("%s: %w", ManifestFile, err)
	}
	return m, nil
}

// Verify recomputes the checksum of every manifest entry in dir.
func Verify(dir string) error {
	m, err := ReadManifest(dir)
	if err != nil {
		return err
	}
	var errs []error
	for _, e := range m.Entries {
		b, err := os.ReadFile(filepath.Join(dir, e.File))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if got := fmt.Sprintf("%016x", xxh3.Hash(b)); got != e.XXH3 {
			errs = append(errs, fmt.Errorf("%s: checksum %s, manifest %s", e.File, got, e.XXH3))
		}
	}
	return errors.Join(errs...)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
