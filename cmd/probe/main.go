// Command probe samples the head of a document extract and prints a
// starting mapping document per relationalized frame.
//
// The resulting mappings are meant to be hand-edited and then referenced from
// the tables of a pipeline file run by cmd/etl.
//
// Example:
//
//	probe --location https://exports.example.com/strike_off_objections.json --name strike_off_objection
//	probe --catalog catalog.yaml --database strike-off-objections-mongo-extract --table strike_off_objections
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"strikeoffetl/internal/datasource/httpds"
	"strikeoffetl/internal/logging"
	"strikeoffetl/internal/probe"
)

var out io.Writer = os.Stdout

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "probe: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func cmd() *cli.Command {
	return &cli.Command{
		Name:  "probe",
		Usage: "Sample a JSON extract and scaffold its mapping documents",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "location", Aliases: []string{"url"}, Usage: "Sample the extract at `PATH` (path, file:// or http(s) URL)"},
			&cli.StringFlag{Name: "catalog", Usage: "Resolve the extract through the catalog `FILE`", Sources: cli.EnvVars("ETL_CATALOG")},
			&cli.StringFlag{Name: "database", Usage: "Catalog database"},
			&cli.StringFlag{Name: "table", Usage: "Catalog table"},
			&cli.IntFlag{Name: "bytes", Value: probe.DefaultMaxBytes, Usage: "Sample at most `N` bytes"},
			&cli.StringFlag{Name: "envelope", Usage: "Read documents from the top-level `FIELD`"},
			&cli.StringFlag{Name: "name", Usage: "Name the root destination table (default: the file name)"},
			&cli.StringFlag{Name: "save", Usage: "Write the raw sample to `DIR`"},
			&cli.BoolFlag{Name: "profile", Usage: "Print per-column profiles instead of mappings"},
			&cli.BoolFlag{Name: "allow-insecure", Usage: "Skip TLS certificate verification"},
			&cli.DurationFlag{Name: "timeout", Value: 60 * time.Second, Usage: "Give up after `DURATION`"},
			&cli.StringFlag{Name: "log-level", Value: "warn", Usage: "Log at `LEVEL`"},
		},
		Action: run,
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	log, err := logging.New(cmd.String("log-level"), map[string]any{"cmd": "probe"})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
	defer cancel()

	res, err := probe.Probe(ctx, probe.Options{
		Location: cmd.String("location"),
		Catalog:  cmd.String("catalog"),
		Database: cmd.String("database"),
		Table:    cmd.String("table"),
		MaxBytes: int(cmd.Int("bytes")),
		Envelope: cmd.String("envelope"),
		Name:     cmd.String("name"),
		SaveDir:  cmd.String("save"),
		HTTP:     httpds.Config{InsecureSkipVerify: cmd.Bool("allow-insecure")},
	})
	if err != nil {
		return err
	}

	log.Info("probe: sampled",
		zap.String("location", res.Location),
		zap.Int("bytes", res.Sampled),
		zap.Int("documents", res.Documents),
		zap.Int("frames", len(res.Frames)))
	if res.Truncated {
		log.Warn("probe: sample ended inside a document; the tail was ignored")
	}
	if res.SamplePath != "" {
		log.Info("probe: sample saved", zap.String("path", res.SamplePath))
	}

	if cmd.Bool("profile") {
		return probe.WriteProfile(out, res.Frames)
	}
	return probe.WriteMappings(out, res.Mappings)
}
