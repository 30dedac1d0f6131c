package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spez-io/spez/pkg/compression"
	"github.com/spez-io/spez/pkg/logger"
	"github.com/spez-io/spez/pkg/observability"
	"github.com/spez-io/spez/pkg/sink"
)

// Source types.
const (
	SourceSpanner  = "spanner"
	SourcePostgres = "postgres"
	SourceMySQL    = "mysql"
	SourceJSONL    = "jsonl"
)

// Sink types.
const (
	SinkStdout = "stdout"
	SinkFile   = "file"
	SinkKafka  = "kafka"
)

// Config is the configuration of a spez run.
type Config struct {
	// Name identifies the run in logs
	Name string `yaml:"name" json:"name"`

	// Source describes where tables are read from
	Source SourceConfig `yaml:"source" json:"source"`

	// Schema controls the generated Avro schemas
	Schema SchemaConfig `yaml:"schema" json:"schema"`

	// Encoding controls payload encoding
	Encoding EncodingConfig `yaml:"encoding" json:"encoding"`

	// Sink describes where payloads go
	Sink SinkConfig `yaml:"sink" json:"sink"`

	// Performance settings control concurrency
	Performance PerformanceConfig `yaml:"performance" json:"performance"`

	// Timeouts define various timeout durations
	Timeouts TimeoutConfig `yaml:"timeouts" json:"timeouts"`

	// Observability settings for metrics and tracing
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`

	// Logging configures the global logger
	Logging logger.Config `yaml:"logging" json:"logging"`
}

// SourceConfig selects and configures the source database.
type SourceConfig struct {
	// Type is spanner, postgres, mysql or jsonl
	Type string `yaml:"type" json:"type"`
	// Database is the Spanner database path,
	// projects/P/instances/I/databases/D
	Database string `yaml:"database" json:"database"`
	// DSN is the connection string for postgres and mysql
	DSN string `yaml:"dsn" json:"dsn"`
	// Path is the rows file of the jsonl source ("-" for stdin)
	Path string `yaml:"path" json:"path"`
	// ColumnsFile declares the columns of the jsonl source
	ColumnsFile string `yaml:"columns_file" json:"columns_file"`
	// Schema is the PostgreSQL schema holding the tables
	Schema string `yaml:"schema" json:"schema"`
	// Tables lists the tables to export
	Tables []string `yaml:"tables" json:"tables"`
	// Limit caps rows read per table (0 = no limit)
	Limit int64 `yaml:"limit" json:"limit"`
	// Staleness reads Spanner at an exact staleness instead of strongly
	Staleness time.Duration `yaml:"staleness" json:"staleness"`
	// MaxConns caps the SQL connection pool
	MaxConns int32 `yaml:"max_conns" json:"max_conns"`
}

// SchemaConfig controls schema inference.
type SchemaConfig struct {
	// Namespace is the Avro namespace of generated records
	Namespace string `yaml:"namespace" json:"namespace"`
}

// EncodingConfig controls payload encoding.
type EncodingConfig struct {
	// Format is json or binary
	Format string `yaml:"format" json:"format"`
	// Pretty indents JSON payloads
	Pretty bool `yaml:"pretty" json:"pretty"`
}

// SinkConfig selects and configures the payload destination.
type SinkConfig struct {
	// Type is stdout, file or kafka
	Type string `yaml:"type" json:"type"`
	// Path is the output file of the file sink
	Path string `yaml:"path" json:"path"`
	// Compression of the output file: none, gzip, zstd, snappy, s2 or lz4
	Compression string `yaml:"compression" json:"compression"`
	// Kafka configures the kafka sink
	Kafka sink.KafkaConfig `yaml:"kafka" json:"kafka"`
}

// PerformanceConfig contains concurrency settings.
type PerformanceConfig struct {
	// Workers defines the number of concurrent encoders
	Workers int `yaml:"workers" json:"workers"`
	// BufferSize bounds rows in flight
	BufferSize int `yaml:"buffer_size" json:"buffer_size"`
	// SkipFailedRows logs and skips rows that fail to encode
	SkipFailedRows bool `yaml:"skip_failed_rows" json:"skip_failed_rows"`
	// ContinueOnTableError moves on when a table fails
	ContinueOnTableError bool `yaml:"continue_on_table_error" json:"continue_on_table_error"`
	// MaxRetries is how often a retryable sink error is retried
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
	// RetryBackoff is the first retry delay, doubled per retry
	RetryBackoff time.Duration `yaml:"retry_backoff" json:"retry_backoff"`
	// RetryBackoffMax caps the retry delay
	RetryBackoffMax time.Duration `yaml:"retry_backoff_max" json:"retry_backoff_max"`
}

// TimeoutConfig contains timeout settings.
type TimeoutConfig struct {
	// Connection timeout for establishing connections
	Connection time.Duration `yaml:"connection" json:"connection"`
	// Export bounds a whole run (0 = unbounded)
	Export time.Duration `yaml:"export" json:"export"`
}

// ObservabilityConfig contains metrics and tracing settings.
type ObservabilityConfig struct {
	// MetricsAddr serves /metrics when set, e.g. ":9090"
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
	// Tracing configures OpenTelemetry tracing
	Tracing observability.TracingConfig `yaml:"tracing" json:"tracing"`
}

// NewConfig creates a Config with defaults: a Spanner source, pretty JSON
// payloads on stdout and one encoder per CPU.
func NewConfig(name string) *Config {
	return &Config{
		Name: name,
		Source: SourceConfig{
			Type:     SourceSpanner,
			Schema:   "public",
			MaxConns: 4,
		},
		Encoding: EncodingConfig{
			Format: "json",
			Pretty: true,
		},
		Sink: SinkConfig{
			Type: SinkStdout,
			Kafka: sink.KafkaConfig{
				ClientID:     "spez",
				ProducerAcks: "all",
			},
		},
		Performance: PerformanceConfig{
			Workers:         runtime.NumCPU(),
			BufferSize:      1024,
			MaxRetries:      3,
			RetryBackoff:    100 * time.Millisecond,
			RetryBackoffMax: 5 * time.Second,
		},
		Timeouts: TimeoutConfig{
			Connection: 30 * time.Second,
		},
		Observability: ObservabilityConfig{
			Tracing: observability.DefaultTracingConfig(),
		},
		Logging: logger.DefaultConfig(),
	}
}

// Validate checks required fields and ranges.
func (c *Config) Validate() error {
	switch c.Source.Type {
	case SourceSpanner:
		if c.Source.Database == "" {
			return fmt.Errorf("source.database is required for spanner")
		}
		if strings.Count(c.Source.Database, "/") != 5 {
			return fmt.Errorf("source.database must look like projects/P/instances/I/databases/D")
		}
	case SourcePostgres, SourceMySQL:
		if c.Source.DSN == "" {
			return fmt.Errorf("source.dsn is required for %s", c.Source.Type)
		}
	case SourceJSONL:
		if c.Source.ColumnsFile == "" {
			return fmt.Errorf("source.columns_file is required for jsonl")
		}
		if len(c.Source.Tables) != 1 {
			return fmt.Errorf("the jsonl source serves exactly one table")
		}
	default:
		return fmt.Errorf("unknown source.type %q", c.Source.Type)
	}
	if c.Source.Limit < 0 {
		return fmt.Errorf("source.limit cannot be negative")
	}

	switch c.Encoding.Format {
	case "json", "binary":
	default:
		return fmt.Errorf("unknown encoding.format %q", c.Encoding.Format)
	}

	switch c.Sink.Type {
	case SinkStdout:
	case SinkFile:
		if c.Sink.Path == "" {
			return fmt.Errorf("sink.path is required for the file sink")
		}
		if _, err := compression.ParseAlgorithm(c.Sink.Compression); err != nil {
			return fmt.Errorf("sink.compression: %w", err)
		}
	case SinkKafka:
		if len(c.Sink.Kafka.Brokers) == 0 {
			return fmt.Errorf("sink.kafka.brokers is required for the kafka sink")
		}
	default:
		return fmt.Errorf("unknown sink.type %q", c.Sink.Type)
	}

	if c.Performance.Workers < 0 {
		return fmt.Errorf("workers cannot be negative")
	}
	if c.Performance.BufferSize <= 0 {
		return fmt.Errorf("buffer_size must be positive")
	}
	if c.Performance.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	return nil
}

// GetWorkers returns the number of workers, ensuring it's at least 1
func (p *PerformanceConfig) GetWorkers() int {
	if p.Workers <= 0 {
		return runtime.NumCPU()
	}
	return p.Workers
}
