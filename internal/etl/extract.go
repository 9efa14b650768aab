package etl

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"strikeoffetl/internal/catalog"
	"strikeoffetl/internal/config"
	"strikeoffetl/internal/datasource"
	"strikeoffetl/internal/datasource/httpds"
	jsonparser "strikeoffetl/internal/parser/json"
	"strikeoffetl/pkg/records"
)

// extract resolves the source through the catalog and decodes every
// document. The decoder and the collector run concurrently and are coupled
// by a channel of runtime.channel_buffer documents.
func extract(ctx context.Context, p config.Pipeline, log *zap.Logger) ([]records.Record, error) {
	if p.Source.Catalog == "" {
		return nil, fmt.Errorf("source.catalog is required")
	}
	cat, err := catalog.Load(p.Source.Catalog)
	if err != nil {
		return nil, err
	}
	entry, err := cat.Lookup(p.Source.Database, p.Source.Table)
	if err != nil {
		return nil, err
	}
	if entry.Format != catalog.FormatJSON && entry.Format != catalog.FormatNDJSON {
		return nil, fmt.Errorf("%s.%s: unsupported format %q", p.Source.Database, p.Source.Table, entry.Format)
	}
	settings, err := p.Source.Settings()
	if err != nil {
		return nil, err
	}
	src, err := datasource.ForLocation(entry.Location, httpds.Config{
		Timeout:            time.Duration(settings.TimeoutSeconds) * time.Second,
		MaxRetries:         settings.MaxRetries,
		InsecureSkipVerify: settings.InsecureSkipVerify,
	})
	if err != nil {
		return nil, err
	}
	log.Info("extract: open",
		zap.String("database", p.Source.Database),
		zap.String("table", p.Source.Table),
		zap.String("location", entry.Location),
		zap.String("format", entry.Format))

	rc, err := src.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	buf := p.Runtime.ChannelBuffer
	if buf <= 0 {
		buf = 1
	}
	ch := make(chan records.Record, buf)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(ch)
		_, err := jsonparser.StreamDocuments(gctx, rc, jsonparser.FromSourceOptions(settings), ch)
		return err
	})

	var docs []records.Record
	g.Go(func() error {
		for doc := range ch {
			docs = append(docs, doc)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}
