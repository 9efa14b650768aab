// Package datasource opens the bytes behind a catalog location.
package datasource

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"strikeoffetl/internal/datasource/file"
	"strikeoffetl/internal/datasource/httpds"
)

// Source yields a fresh reader over a dataset.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// ForLocation picks the datasource for a resolved location: a plain path or
// file:// URI opens a local file, http(s) URLs are fetched with an httpds
// client built from cfg.
func ForLocation(location string, cfg httpds.Config) (Source, error) {
	if location == "" {
		return nil, fmt.Errorf("datasource: empty location")
	}
	if !strings.Contains(location, "://") {
		return file.NewLocal(location), nil
	}
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("datasource: parse %q: %w", location, err)
	}
	switch u.Scheme {
	case "file":
		return file.NewLocal(u.Path), nil
	case "http", "https":
		return httpds.NewSource(httpds.NewClient(cfg), location), nil
	default:
		return nil, fmt.Errorf("datasource: unsupported scheme %q in %q", u.Scheme, location)
	}
}
