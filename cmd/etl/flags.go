package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/yaml"
	"github.com/urfave/cli/v3"
)

var version = "dev"

// errOut receives configuration issues.
var errOut io.Writer = os.Stderr

// Flag names. The first five keep the names the job has always been invoked
// with.
const (
	flagTempDir        = "TempDir"
	flagJobName        = "JOB_NAME"
	flagDatabase       = "database"
	flagStagingPath    = "s3_staging_path"
	flagJobConnection  = "job_connection"
	flagConfig         = "config"
	flagCatalog        = "catalog"
	flagValidate       = "validate"
	flagLogLevel       = "log-level"
	flagMetricsBackend = "metrics-backend"
	flagPushgatewayURL = "pushgateway-url"
	flagDatadogAddr    = "datadog-addr"
)

func cmd() *cli.Command {
	return &cli.Command{
		Name:    "etl",
		Usage:   "Load strike-off objections and their attachments into the warehouse",
		Version: version,
		Flags:   flags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runJob(ctx, cmd, errOut)
		},
	}
}

// flags resolves every setting from the command line, then the environment,
// then the pipeline file named by --config, then the default.
func flags() []cli.Flag {
	var config string
	file := func(key string) cli.ValueSource {
		return yaml.YAML(key, altsrc.NewStringPtrSourcer(&config))
	}

	return []cli.Flag{
		&cli.StringFlag{
			Name:        flagConfig,
			Aliases:     []string{"c"},
			Usage:       "Load the pipeline from `FILE` (JSON or YAML)",
			Sources:     cli.EnvVars("ETL_CONFIG"),
			Validator:   validateConfig,
			Destination: &config,
		},
		&cli.StringFlag{
			Name:    flagTempDir,
			Usage:   "Stage load batches under `DIR`",
			Sources: cli.NewValueSourceChain(cli.EnvVar("ETL_TEMP_DIR"), file("storage.temp_dir")),
		},
		&cli.StringFlag{
			Name:    flagJobName,
			Usage:   "Name the run in logs, metrics and the writer lock",
			Sources: cli.NewValueSourceChain(cli.EnvVar("ETL_JOB_NAME"), file("job")),
		},
		&cli.StringFlag{
			Name:    flagDatabase,
			Usage:   "Override the destination database named by the connection",
			Sources: cli.NewValueSourceChain(cli.EnvVar("ETL_DATABASE"), file("storage.database")),
		},
		&cli.StringFlag{
			Name:    flagStagingPath,
			Usage:   "Stage relationalized frames under `PATH` (directory or file:// URI)",
			Sources: cli.NewValueSourceChain(cli.EnvVar("ETL_STAGING_PATH"), file("relationalize.staging_path")),
		},
		&cli.StringFlag{
			Name:    flagJobConnection,
			Usage:   "Load through the named entry of the pipeline connections",
			Sources: cli.NewValueSourceChain(cli.EnvVar("ETL_JOB_CONNECTION"), file("storage.connection")),
		},
		&cli.StringFlag{
			Name:    flagCatalog,
			Usage:   "Resolve the source dataset through the catalog `FILE`",
			Sources: cli.NewValueSourceChain(cli.EnvVar("ETL_CATALOG"), file("source.catalog")),
		},
		&cli.BoolFlag{
			Name:  flagValidate,
			Usage: "Validate the configuration and exit",
		},
		&cli.StringFlag{
			Name:    flagLogLevel,
			Usage:   "Log at `LEVEL` (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("ETL_LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:      flagMetricsBackend,
			Usage:     "Send metrics to `BACKEND` (none, pushgateway, datadog)",
			Sources:   cli.NewValueSourceChain(cli.EnvVar("METRICS_BACKEND"), file("metrics.backend")),
			Validator: validateBackend,
		},
		&cli.StringFlag{
			Name:    flagPushgatewayURL,
			Usage:   "Push metrics to the Pushgateway at `URL`",
			Value:   "http://localhost:9091",
			Sources: cli.NewValueSourceChain(cli.EnvVar("PUSHGATEWAY_URL"), file("metrics.pushgateway_url")),
		},
		&cli.StringFlag{
			Name:    flagDatadogAddr,
			Usage:   "Send metrics to the DogStatsD agent at `ADDR`",
			Value:   "localhost:8125",
			Sources: cli.NewValueSourceChain(cli.EnvVar("DD_DOGSTATSD_ADDR"), file("metrics.datadog_addr")),
		},
	}
}

func validateConfig(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%q does not exist", path)
		}
		return fmt.Errorf("failed to stat %q: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%q is a directory, not a file", path)
	}

	switch filepath.Ext(info.Name()) {
	case ".json", ".yml", ".yaml":
		return nil
	}
	return fmt.Errorf("invalid extension %q", path)
}

func validateBackend(b string) error {
	switch b {
	case "", backendNone, backendPushgateway, backendDatadog:
		return nil
	}
	return fmt.Errorf("unknown metrics backend %q", b)
}
