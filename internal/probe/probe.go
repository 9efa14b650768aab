// Package probe samples the head of a document extract, relationalizes it
// and proposes one mapping document per frame.
//
// The output is a starting point: types come from the sampled values only,
// and every column that was missing or null in any sampled row is marked
// nullable. Mappings for child frames list element fields; the parent key
// column is added by hand once the join is decided.
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"

	"strikeoffetl/internal/catalog"
	"strikeoffetl/internal/datasource"
	"strikeoffetl/internal/datasource/httpds"
	"strikeoffetl/internal/mapping"
	jsonparser "strikeoffetl/internal/parser/json"
	"strikeoffetl/internal/relationalize"
	"strikeoffetl/pkg/records"
)

// DefaultMaxBytes is the sample size used when Options.MaxBytes is zero.
const DefaultMaxBytes = 1 << 20

// ErrEmptySample is returned when the sample holds no complete document.
var ErrEmptySample = errors.New("probe: no complete document in sample")

// Options control sampling and scaffolding.
type Options struct {
	// Location is a path, file:// URI or http(s) URL. When empty the
	// location is resolved through Catalog, Database and Table.
	Location string
	Catalog  string
	Database string
	Table    string

	// MaxBytes to sample from the start of the extract.
	MaxBytes int
	// Envelope names the top-level field holding the documents, if any.
	Envelope string
	// Root names the frame holding one row per document. Default "root".
	Root string
	// Name is the destination table of the root frame. Child frames get
	// Name + "_" + the array path. Defaults to the normalized file name.
	Name string

	// SaveDir, when set, receives the raw sample as <name>.json.
	SaveDir string

	HTTP httpds.Config
}

// Result is what one probe learned.
type Result struct {
	Location  string
	Sampled   int
	Documents int
	// Truncated is set when the sample ended inside a document and the tail
	// was discarded.
	Truncated bool
	Frames    []FrameProfile
	Mappings  []*mapping.Mapping
	// SamplePath is the file the sample was written to, if any.
	SamplePath string
}

// PeekFn fetches the first n bytes of location.
type PeekFn func(ctx context.Context, location string, n int, cfg httpds.Config) ([]byte, error)

// peekFn is the seam tests override to avoid real I/O. HTTP locations use
// a ranged GET, everything else goes through the datasource for the
// location (gzip is decompressed before the limit applies).
var peekFn PeekFn = func(ctx context.Context, location string, n int, cfg httpds.Config) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("peek: n must be > 0")
	}
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return httpds.NewClient(cfg).FetchFirstBytes(ctx, location, n)
	}
	src, err := datasource.ForLocation(location, cfg)
	if err != nil {
		return nil, err
	}
	rc, err := src.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, int64(n)))
}

// Probe samples the extract named by opt and scaffolds its mappings.
func Probe(ctx context.Context, opt Options) (Result, error) {
	location, err := resolveLocation(opt)
	if err != nil {
		return Result{}, err
	}
	if opt.MaxBytes <= 0 {
		opt.MaxBytes = DefaultMaxBytes
	}
	if opt.Name == "" {
		opt.Name = defaultName(location)
	}

	sample, err := peekFn(ctx, location, opt.MaxBytes, opt.HTTP)
	if err != nil {
		return Result{}, fmt.Errorf("probe: sample %s: %w", location, err)
	}
	res := Result{Location: location, Sampled: len(sample)}

	if opt.SaveDir != "" {
		res.SamplePath = filepath.Join(opt.SaveDir, normalizeFieldName(opt.Name)+".json")
		if err := writeSample(res.SamplePath, sample); err != nil {
			return Result{}, fmt.Errorf("probe: save sample: %w", err)
		}
	}

	docs, truncated, err := decodeSample(sample, jsonparser.Options{Envelope: opt.Envelope}, len(sample) >= opt.MaxBytes)
	if err != nil {
		return Result{}, err
	}
	res.Documents, res.Truncated = len(docs), truncated

	frames, err := relationalize.Relationalize(docs, relationalize.Options{Root: opt.Root})
	if err != nil {
		return Result{}, fmt.Errorf("probe: %w", err)
	}
	root := frames.Names()[0]
	for _, name := range frames.Names() {
		f, _ := frames.Select(name)
		fp := profileFrame(f, frames)
		res.Frames = append(res.Frames, fp)

		table := opt.Name
		if name != root {
			table = opt.Name + "_" + normalizeFieldName(strings.TrimPrefix(name, root+"_"))
		}
		m, err := scaffold(fp, table)
		if err != nil {
			return Result{}, fmt.Errorf("probe: frame %s: %w", name, err)
		}
		if m != nil {
			res.Mappings = append(res.Mappings, m)
		}
	}
	return res, nil
}

func resolveLocation(opt Options) (string, error) {
	if opt.Location != "" {
		return opt.Location, nil
	}
	if opt.Catalog == "" {
		return "", errors.New("probe: a location or a catalog is required")
	}
	c, err := catalog.Load(opt.Catalog)
	if err != nil {
		return "", err
	}
	t, err := c.Lookup(opt.Database, opt.Table)
	if err != nil {
		return "", err
	}
	return t.Location, nil
}

// decodeSample decodes every complete document of sample. When cut is set
// the sample is a prefix of the extract, so a decode error after at least one
// document is the cut and not a malformed extract.
func decodeSample(sample []byte, opt jsonparser.Options, cut bool) ([]records.Record, bool, error) {
	d := jsonparser.NewDecoder(bytes.NewReader(sample), opt)
	var docs []records.Record
	for {
		doc, err := d.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if cut && len(docs) > 0 {
				return docs, true, nil
			}
			if cut && errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, true, ErrEmptySample
			}
			return nil, false, fmt.Errorf("probe: decode: %w", err)
		}
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		return nil, false, ErrEmptySample
	}
	return docs, false, nil
}

// defaultName derives a table name from the location: the file name without
// extensions, or a name built from the URL when there is no useful path.
func defaultName(location string) string {
	p := location
	if strings.Contains(location, "://") {
		if u, err := url.Parse(location); err == nil {
			p = u.Path
		}
	}
	base := filepath.Base(p)
	if base == "." || base == "/" || base == string(filepath.Separator) {
		base = httpds.SafeFilenameFromURL(location)
	}
	for ext := filepath.Ext(base); ext != ""; ext = filepath.Ext(base) {
		base = strings.TrimSuffix(base, ext)
	}
	return normalizeFieldName(base)
}
