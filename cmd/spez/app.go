package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spez-io/spez/internal/pipeline"
	"github.com/spez-io/spez/pkg/compression"
	"github.com/spez-io/spez/pkg/config"
	"github.com/spez-io/spez/pkg/formats/avro"
	"github.com/spez-io/spez/pkg/logger"
	"github.com/spez-io/spez/pkg/metrics"
	"github.com/spez-io/spez/pkg/observability"
	"github.com/spez-io/spez/pkg/sink"
	"github.com/spez-io/spez/pkg/spezerrors"
)

// skipSetup marks commands that need neither configuration nor logging.
const skipSetup = "skip-setup"

// app holds what the commands share once the configuration is resolved.
type app struct {
	v        *viper.Viper
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Collector
	stdout   io.Writer
	stderr   io.Writer
	closers  []func(context.Context) error
}

// binding ties a configuration key to the flag that overrides it. The key
// also names the environment variable: source.dsn is SPEZ_SOURCE_DSN.
type binding struct {
	key  string
	flag string
}

var bindings = []binding{
	{"config", "config"},
	{"logging.level", "log-level"},
	{"logging.encoding", "log-encoding"},
	{"source.type", "source"},
	{"source.database", "database"},
	{"source.dsn", "dsn"},
	{"source.schema", "db-schema"},
	{"source.tables", "tables"},
	{"source.limit", "limit"},
	{"source.staleness", "staleness"},
	{"schema.namespace", "namespace"},
	{"encoding.format", "format"},
	{"encoding.pretty", "pretty"},
	{"sink.type", "sink"},
	{"sink.path", "output"},
	{"sink.compression", "compression"},
	{"sink.kafka.brokers", "brokers"},
	{"sink.kafka.topic", "topic"},
	{"sink.kafka.topic_prefix", "topic-prefix"},
	{"performance.workers", "workers"},
	{"performance.skip_failed_rows", "skip-failed-rows"},
	{"performance.continue_on_table_error", "continue-on-error"},
	{"performance.max_retries", "max-retries"},
	{"timeouts.export", "timeout"},
	{"observability.metrics_addr", "metrics-addr"},
	{"observability.tracing.enabled", "trace"},
}

func newApp() *app {
	v := viper.New()
	v.SetEnvPrefix("SPEZ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &app{v: v, stdout: os.Stdout, stderr: os.Stderr}
}

func (a *app) bindFlags(cmd *cobra.Command) error {
	flags := cmd.PersistentFlags()
	for _, b := range bindings {
		f := flags.Lookup(b.flag)
		if f == nil {
			continue
		}
		if err := a.v.BindPFlag(b.key, f); err != nil {
			return err
		}
	}
	return nil
}

// loadConfig layers defaults, the configuration file, then environment
// variables and flags.
func (a *app) loadConfig() (*config.Config, error) {
	cfg := config.NewConfig("spez")
	if path := a.v.GetString("config"); path != "" {
		if err := config.Load(path, cfg); err != nil {
			return nil, spezerrors.Wrap(err, spezerrors.ErrorTypeConfig, "failed to load configuration").
				WithDetail("path", path)
		}
	}
	a.override(cfg)
	return cfg, nil
}

func (a *app) override(cfg *config.Config) {
	v := a.v
	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	boolean := func(key string, dst *bool) {
		if v.IsSet(key) {
			*dst = v.GetBool(key)
		}
	}
	strs := func(key string, dst *[]string) {
		if v.IsSet(key) {
			*dst = v.GetStringSlice(key)
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v.IsSet(key) {
			*dst = v.GetDuration(key)
		}
	}

	str("logging.level", &cfg.Logging.Level)
	str("logging.encoding", &cfg.Logging.Encoding)
	str("source.type", &cfg.Source.Type)
	str("source.database", &cfg.Source.Database)
	str("source.dsn", &cfg.Source.DSN)
	str("source.schema", &cfg.Source.Schema)
	strs("source.tables", &cfg.Source.Tables)
	if v.IsSet("source.limit") {
		cfg.Source.Limit = v.GetInt64("source.limit")
	}
	duration("source.staleness", &cfg.Source.Staleness)
	str("schema.namespace", &cfg.Schema.Namespace)
	str("encoding.format", &cfg.Encoding.Format)
	boolean("encoding.pretty", &cfg.Encoding.Pretty)
	str("sink.type", &cfg.Sink.Type)
	str("sink.path", &cfg.Sink.Path)
	str("sink.compression", &cfg.Sink.Compression)
	strs("sink.kafka.brokers", &cfg.Sink.Kafka.Brokers)
	str("sink.kafka.topic", &cfg.Sink.Kafka.Topic)
	str("sink.kafka.topic_prefix", &cfg.Sink.Kafka.TopicPrefix)
	if v.IsSet("performance.workers") {
		cfg.Performance.Workers = v.GetInt("performance.workers")
	}
	boolean("performance.skip_failed_rows", &cfg.Performance.SkipFailedRows)
	boolean("performance.continue_on_table_error", &cfg.Performance.ContinueOnTableError)
	if v.IsSet("performance.max_retries") {
		cfg.Performance.MaxRetries = v.GetInt("performance.max_retries")
	}
	duration("timeouts.export", &cfg.Timeouts.Export)
	str("observability.metrics_addr", &cfg.Observability.MetricsAddr)
	boolean("observability.tracing.enabled", &cfg.Observability.Tracing.Enabled)
}

// setup resolves the configuration and starts logging, metrics and tracing.
func (a *app) setup(cmd *cobra.Command) error {
	if cmd.Annotations[skipSetup] == "true" {
		return nil
	}

	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	a.cfg = cfg

	if err := logger.Init(cfg.Logging); err != nil {
		return spezerrors.Wrap(err, spezerrors.ErrorTypeConfig, "failed to initialize logger")
	}
	a.logger = logger.Component("spez").With(zap.String("run", cfg.Name))
	a.closers = append(a.closers, func(context.Context) error {
		_ = logger.Sync()
		return nil
	})

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.NewCollector(a.registry)

	if addr := cfg.Observability.MetricsAddr; addr != "" {
		a.serveMetrics(addr)
	}

	if cfg.Observability.Tracing.Enabled {
		tracing := cfg.Observability.Tracing
		if tracing.ServiceVersion == "" {
			tracing.ServiceVersion = version
		}
		shutdown, err := observability.InitTracing(cmd.Context(), tracing, a.stderr)
		if err != nil {
			return spezerrors.Wrap(err, spezerrors.ErrorTypeConfig, "failed to initialize tracing")
		}
		a.closers = append(a.closers, shutdown)
	}
	return nil
}

func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", zap.String("addr", addr), zap.Error(err))
		}
	}()
	a.logger.Info("serving metrics", zap.String("addr", addr))
	a.closers = append([]func(context.Context) error{server.Shutdown}, a.closers...)
}

// teardown stops what setup started, most recent first.
func (a *app) teardown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}

func (a *app) encoder() (*avro.Encoder, error) {
	format, err := avro.ParseFormat(a.cfg.Encoding.Format)
	if err != nil {
		return nil, err
	}
	return avro.NewEncoder(
		avro.WithFormat(format),
		avro.WithPretty(a.cfg.Encoding.Pretty),
		avro.WithLogger(a.logger),
		avro.WithMetrics(a.metrics)), nil
}

func (a *app) openSink() (sink.Sink, error) {
	cfg := a.cfg.Sink
	binary := a.cfg.Encoding.Format == string(avro.FormatBinary)

	switch cfg.Type {
	case config.SinkFile:
		algo, err := compression.ParseAlgorithm(cfg.Compression)
		if err != nil {
			return nil, spezerrors.Wrap(err, spezerrors.ErrorTypeConfig, "invalid sink compression")
		}
		s, err := sink.NewFileSink(cfg.Path, algo, a.logger)
		if err != nil {
			return nil, err
		}
		if binary {
			s.WithDelimiter(nil)
		}
		return s, nil
	case config.SinkKafka:
		k, err := sink.NewKafkaSink(cfg.Kafka, a.logger)
		if err != nil {
			return nil, err
		}
		return k, nil
	default:
		s := sink.NewWriterSink(a.stdout, a.logger)
		if binary {
			s.WithDelimiter(nil)
		}
		return s, nil
	}
}

func (a *app) pipelineConfig() pipeline.Config {
	p := a.cfg.Performance
	return pipeline.Config{
		Workers:              p.GetWorkers(),
		BufferSize:           p.BufferSize,
		SkipFailedRows:       p.SkipFailedRows,
		ContinueOnTableError: p.ContinueOnTableError,
		Retry: pipeline.RetryPolicy{
			MaxRetries:  p.MaxRetries,
			BackoffBase: p.RetryBackoff,
			BackoffMax:  p.RetryBackoffMax,
		},
	}
}

func openFile(path string) (*os.File, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path comes from the command line
	if err != nil {
		return nil, spezerrors.Wrap(err, spezerrors.ErrorTypeConfig, "failed to open input").
			WithDetail("path", path)
	}
	return f, nil
}
