// Package config defines the JSON-serializable job description for the
// strike-off objections ETL: where the documents come from, how they are
// relationalized, which destination tables are built from which frames, and
// where they are loaded.
//
// Example (trimmed):
//
//	{
//	  "job": "strike_off_objections",
//	  "source": { "catalog": "configs/catalog.yaml",
//	              "database": "strike-off-objections-mongo-extract",
//	              "table": "strike_off_objections" },
//	  "relationalize": { "root_table": "root", "staging_path": "/tmp/staging" },
//	  "storage": { "kind": "postgres", "connection": "warehouse",
//	               "database": "reporting", "strategy": "transaction" },
//	  "connections": { "warehouse": { "kind": "postgres", "dsn": "${WAREHOUSE_DSN}" } }
//	}
//
// Omitted "tables" fall back to DefaultTables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ghodss/yaml"
	"github.com/mitchellh/mapstructure"
)

const (
	// StrategyTransaction replaces every destination table inside a single
	// transaction guarded by a writer lock.
	StrategyTransaction = "transaction"
	// StrategyPreaction runs each table's pre-action and appends rows, table
	// by table, without a transaction.
	StrategyPreaction = "preaction"

	// PruneDeclared keeps the mapped schema stable and enforces the mapping's
	// nullable allowlist.
	PruneDeclared = "declared"
	// PruneDropNullFields drops every column that is null in every row.
	PruneDropNullFields = "drop_null_fields"

	// DuplicatesError fails the run on duplicate keys.
	DuplicatesError = "error"
	// DuplicatesCross keeps every combination of rows sharing a key.
	DuplicatesCross = "cross"
)

// Default dataset and destination names.
const (
	DefaultJob             = "strike_off_objections"
	DefaultSourceDatabase  = "strike-off-objections-mongo-extract"
	DefaultSourceTable     = "strike_off_objections"
	DefaultRootTable       = "root"
	ObjectionsTable        = "strike_off_objection"
	AttachmentsTable       = "strike_off_objection_attachment"
	defaultBatchSize       = 10000
	defaultChannelBuffer   = 4096
	defaultAttachmentFrame = DefaultRootTable + "_attachments"
)

// Pipeline is the top-level object decoded from a job file.
type Pipeline struct {
	// Job names the run for logs, metrics and the destination writer lock.
	Job string `json:"job" validate:"required"`

	Source        Source        `json:"source"`
	Relationalize Relationalize `json:"relationalize"`

	// Tables lists the destination tables in load order (parents first).
	Tables []Table `json:"tables" validate:"required,min=1,dive"`

	Storage     Storage               `json:"storage"`
	Connections map[string]Connection `json:"connections" validate:"dive"`
	Runtime     RuntimeConfig         `json:"runtime"`
	Metrics     Metrics               `json:"metrics"`
}

// Source identifies the cataloged input dataset.
type Source struct {
	// Catalog is the path of the catalog document resolving database/table.
	Catalog  string `json:"catalog"`
	Database string `json:"database" validate:"required"`
	Table    string `json:"table" validate:"required"`

	// Options tunes fetching and decoding (see SourceOptions).
	Options Options `json:"options"`
}

// SourceOptions are the typed form of Source.Options. The HTTP fields apply
// to http(s) locations only.
type SourceOptions struct {
	TimeoutSeconds     int  `mapstructure:"timeout_seconds"`
	MaxRetries         int  `mapstructure:"max_retries"`
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify"`

	// Envelope names the top-level field holding the document array when the
	// extract is wrapped in an object.
	Envelope string `mapstructure:"envelope"`
}

// Relationalize configures the flattening step.
type Relationalize struct {
	// RootTable is the name of the frame holding one row per document.
	RootTable string `json:"root_table"`

	// StagingPath receives the flattened frames of each run. Empty disables
	// staging.
	StagingPath string `json:"staging_path"`

	// Placeholders emits a null-element row for empty arrays, as the
	// vendor relationalize operator does. Off by default.
	Placeholders bool `json:"placeholders"`
}

// Table describes how one destination table is built from a frame.
type Table struct {
	Name  string `json:"name" validate:"required"`
	Frame string `json:"frame" validate:"required"`

	// Mapping is a built-in mapping name or a path to a mapping document.
	Mapping string `json:"mapping" validate:"required"`

	// Filter drops placeholder rows before the join.
	Filter *Filter `json:"filter,omitempty"`

	// Join attaches parent fields to each row.
	Join *Join `json:"join,omitempty"`

	// Prune selects the null-column policy: "declared" or "drop_null_fields".
	Prune string `json:"prune" validate:"omitempty,oneof=declared drop_null_fields"`

	// KeyColumns must be unique across the mapped rows. Duplicates selects
	// the policy: "error", "cross" (keep all), "keep-first" or "keep-last".
	KeyColumns []string `json:"key_columns"`
	Duplicates string   `json:"duplicates" validate:"omitempty,oneof=error cross keep-first keep-last"`

	// Preactions is executed before the append under the preaction strategy.
	Preactions string `json:"preactions"`
}

// Filter names the element id field whose empty values mark placeholders.
type Filter struct {
	Field string `json:"field" validate:"required"`
}

// Join describes an inner join from the table's frame (left) to a parent
// frame (right).
type Join struct {
	Frame      string `json:"frame" validate:"required"`
	LeftKey    string `json:"left_key" validate:"required"`
	RightKey   string `json:"right_key" validate:"required"`
	Duplicates string `json:"duplicates" validate:"omitempty,oneof=error cross"`
}

// Storage selects the destination.
type Storage struct {
	// Kind selects the backend when DSN is given directly; otherwise the
	// connection's kind is used.
	Kind string `json:"kind"`

	// Connection names an entry of Pipeline.Connections.
	Connection string `json:"connection"`

	// DSN overrides the connection DSN.
	DSN string `json:"dsn"`

	// Database overrides the database named by the DSN.
	Database string `json:"database"`

	Strategy        string `json:"strategy" validate:"omitempty,oneof=transaction preaction"`
	AutoCreateTable bool   `json:"auto_create_table"`

	// TempDir receives a copy of every load batch before it is written.
	TempDir string `json:"temp_dir"`
}

// Connection is a named destination endpoint. DSN values may reference
// environment variables as ${NAME}.
type Connection struct {
	Kind string `json:"kind" validate:"required"`
	DSN  string `json:"dsn" validate:"required"`
}

// RuntimeConfig controls batching of the load.
type RuntimeConfig struct {
	BatchSize     int `json:"batch_size" validate:"gte=0"`
	ChannelBuffer int `json:"channel_buffer" validate:"gte=0"`
}

// Metrics selects the metrics backend. Command-line flags override it.
type Metrics struct {
	Backend        string `json:"backend" validate:"omitempty,oneof=none pushgateway datadog"`
	PushgatewayURL string `json:"pushgateway_url"`
	DatadogAddr    string `json:"datadog_addr"`
}

// DefaultTables returns the objection and attachment table plan.
func DefaultTables() []Table {
	return []Table{
		{
			Name:       ObjectionsTable,
			Frame:      DefaultRootTable,
			Mapping:    ObjectionsTable,
			Prune:      PruneDeclared,
			KeyColumns: []string{"id"},
			Duplicates: DuplicatesError,
			Preactions: "delete from " + ObjectionsTable + ";",
		},
		{
			Name:    AttachmentsTable,
			Frame:   defaultAttachmentFrame,
			Mapping: AttachmentsTable,
			Filter:  &Filter{Field: "attachments.val.id"},
			Join: &Join{
				Frame:      DefaultRootTable,
				LeftKey:    "id",
				RightKey:   "attachments",
				Duplicates: DuplicatesError,
			},
			Prune:      PruneDeclared,
			KeyColumns: []string{"id"},
			Duplicates: DuplicatesError,
			Preactions: "delete from " + AttachmentsTable + ";",
		},
	}
}

// Load decodes the JSON or YAML job file at path and applies defaults.
func Load(path string) (Pipeline, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("open config: %w", err)
	}

	// JSON is valid YAML; both go through the json tags.
	var p Pipeline
	if err := yaml.Unmarshal(b, &p); err != nil {
		return Pipeline{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	ApplyDefaults(&p)
	return p, nil
}

// ApplyDefaults fills unset fields in place.
func ApplyDefaults(p *Pipeline) {
	if p.Job == "" {
		p.Job = DefaultJob
	}
	if p.Source.Database == "" {
		p.Source.Database = DefaultSourceDatabase
	}
	if p.Source.Table == "" {
		p.Source.Table = DefaultSourceTable
	}
	if p.Source.Options == nil {
		p.Source.Options = Options{}
	}
	if p.Relationalize.RootTable == "" {
		p.Relationalize.RootTable = DefaultRootTable
	}
	if len(p.Tables) == 0 {
		p.Tables = DefaultTables()
	}
	for i := range p.Tables {
		t := &p.Tables[i]
		if t.Prune == "" {
			t.Prune = PruneDeclared
		}
		if t.Duplicates == "" {
			t.Duplicates = DuplicatesError
		}
		if t.Join != nil && t.Join.Duplicates == "" {
			t.Join.Duplicates = DuplicatesError
		}
	}
	if p.Storage.Strategy == "" {
		p.Storage.Strategy = StrategyTransaction
	}
	if p.Runtime.BatchSize <= 0 {
		p.Runtime.BatchSize = defaultBatchSize
	}
	if p.Runtime.ChannelBuffer <= 0 {
		p.Runtime.ChannelBuffer = defaultChannelBuffer
	}
}

// ResolveConnection returns the backend kind and DSN of the destination.
// Storage.DSN wins over the named connection; ${VAR} references in the DSN
// are expanded from the environment.
func (p Pipeline) ResolveConnection() (kind, dsn string, err error) {
	if strings.TrimSpace(p.Storage.DSN) != "" {
		if p.Storage.Kind == "" {
			return "", "", fmt.Errorf("storage.kind is required when storage.dsn is set")
		}
		return p.Storage.Kind, os.ExpandEnv(p.Storage.DSN), nil
	}
	name := p.Storage.Connection
	if name == "" {
		return "", "", fmt.Errorf("storage.connection or storage.dsn is required")
	}
	c, ok := p.Connections[name]
	if !ok {
		return "", "", fmt.Errorf("unknown connection %q", name)
	}
	kind = c.Kind
	if p.Storage.Kind != "" {
		kind = p.Storage.Kind
	}
	return kind, os.ExpandEnv(c.DSN), nil
}

// Settings decodes Options into SourceOptions. Unknown keys are an error.
func (s Source) Settings() (SourceOptions, error) {
	var o SourceOptions
	if err := s.Options.Decode(&o); err != nil {
		return SourceOptions{}, fmt.Errorf("source.options: %w", err)
	}
	return o, nil
}

// Options is a free-form option bag decoded from JSON. Typed getters return
// the provided default when a key is absent or of an unexpected type.
type Options map[string]any

// String returns the string value for key or def.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Bool returns the bool value for key or def.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Int returns the int value for key or def. JSON numbers decode as float64.
func (o Options) Int(key string, def int) int {
	if v, ok := o[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return def
}

// Decode copies the option bag into the struct pointed to by out, using
// mapstructure tags. JSON float64 values are converted to integer fields.
func (o Options) Decode(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(map[string]any(o))
}

// UnmarshalJSON decodes a missing or null options object to an empty map.
func (o *Options) UnmarshalJSON(b []byte) error {
	var tmp map[string]any
	if len(b) == 0 || string(b) == "null" {
		*o = Options{}
		return nil
	}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*o = Options(tmp)
	return nil
}
