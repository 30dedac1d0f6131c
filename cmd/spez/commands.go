package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"runtime"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spez-io/spez/internal/pipeline"
	"github.com/spez-io/spez/pkg/config"
	"github.com/spez-io/spez/pkg/formats/avro"
	jsonpool "github.com/spez-io/spez/pkg/json"
	"github.com/spez-io/spez/pkg/logger"
	"github.com/spez-io/spez/pkg/schema"
	"github.com/spez-io/spez/pkg/source"
	"github.com/spez-io/spez/pkg/source/jsonl"
	"github.com/spez-io/spez/pkg/spezerrors"
	"github.com/spez-io/spez/pkg/typemap"
)

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "spez",
		Short: "Export database tables as Avro records",
		Long: `spez reads tables from Cloud Spanner, PostgreSQL, MySQL or JSON lines,
infers an Avro schema from each table's column types and encodes every row
as an Avro record, written to stdout, a file or Kafka.

Settings come from a YAML file (--config), SPEZ_* environment variables
(SPEZ_SOURCE_DSN overrides source.dsn) and flags, in increasing precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "Path to a YAML configuration file")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("log-encoding", "", "Log encoding (json or console)")
	flags.String("source", "", "Source type: spanner, postgres, mysql or jsonl")
	flags.String("database", "", "Spanner database, projects/P/instances/I/databases/D")
	flags.String("dsn", "", "PostgreSQL or MySQL connection string")
	flags.String("db-schema", "", "PostgreSQL schema holding the tables")
	flags.StringSlice("tables", nil, "Tables to read")
	flags.Int64("limit", 0, "Maximum rows read per table (0 = all)")
	flags.Duration("staleness", 0, "Read Spanner at this exact staleness")
	flags.String("namespace", "", "Avro namespace of generated records")
	flags.String("format", "", "Payload encoding: json or binary")
	flags.Bool("pretty", true, "Indent JSON payloads")
	flags.String("sink", "", "Destination: stdout, file or kafka")
	flags.String("output", "", "Output file of the file sink")
	flags.String("compression", "", "Output file compression: none, gzip, zstd, snappy, s2 or lz4")
	flags.StringSlice("brokers", nil, "Kafka brokers")
	flags.String("topic", "", "Kafka topic for every table")
	flags.String("topic-prefix", "", "Kafka topic prefix, followed by the table name")
	flags.Int("workers", 0, "Concurrent encoders (0 = one per CPU)")
	flags.Bool("skip-failed-rows", false, "Log and skip rows that fail to encode")
	flags.Bool("continue-on-error", false, "Move on to the next table when one fails")
	flags.Int("max-retries", 0, "Retries of a sink write failing with a retryable error")
	flags.Duration("timeout", 0, "Abort the export after this long (0 = never)")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	flags.Bool("trace", false, "Write OpenTelemetry spans to stderr")

	if err := a.bindFlags(root); err != nil {
		panic(err)
	}

	root.AddCommand(
		a.versionCommand(),
		a.typesCommand(),
		a.inferCommand(),
		a.exportCommand(),
		a.encodeCommand(),
		a.decodeCommand(),
	)
	return root
}

func (a *app) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Show version information",
		Annotations: map[string]string{skipSetup: "true"},
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "spez v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func (a *app) typesCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "types",
		Short:       "List supported column types and their Avro translation",
		Annotations: map[string]string{skipSetup: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TYPE\tAVRO\tDEFAULT\tIN ARRAYS")
			for _, code := range typemap.Codes() {
				d, _ := typemap.Lookup(code)
				def, err := jsonpool.Marshal(d.Default)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", code, d.Avro, def, d.ArrayElementSupported())
			}
			fmt.Fprintf(w, "%s<T>\tarray\t[]\t-\n", typemap.Array)
			return w.Flush()
		},
	}
}

// useColumnsFile points the source at a JSON lines file described by a
// columns file.
func (a *app) useColumnsFile(columnsFile, table, rows string) error {
	if table == "" {
		return spezerrors.New(spezerrors.ErrorTypeValidation, "--table is required with --columns")
	}
	a.cfg.Source.Type = config.SourceJSONL
	a.cfg.Source.ColumnsFile = columnsFile
	a.cfg.Source.Path = rows
	a.cfg.Source.Tables = []string{table}
	return nil
}

func (a *app) openSource(ctx context.Context) (source.Source, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, spezerrors.Wrap(err, spezerrors.ErrorTypeConfig, "invalid configuration")
	}
	if d := a.cfg.Timeouts.Connection; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	return source.Open(ctx, a.cfg.Source, a.logger)
}

func (a *app) newRegistry(src source.Source) *schema.Registry {
	inferencer := schema.NewInferencer(schema.WithLogger(a.logger), schema.WithMetrics(a.metrics))
	return source.NewRegistry(src, a.cfg.Schema.Namespace, inferencer, a.logger)
}

func (a *app) tables(args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	if len(a.cfg.Source.Tables) > 0 {
		return a.cfg.Source.Tables, nil
	}
	return nil, spezerrors.New(spezerrors.ErrorTypeValidation, "no tables given")
}

func (a *app) inferCommand() *cobra.Command {
	var columnsFile string
	cmd := &cobra.Command{
		Use:   "infer [TABLE...]",
		Short: "Print the Avro schema of tables",
		Long: `Print the Avro schema inferred for each table, one JSON document per table.

Without --columns the columns are read from the configured source. With
--columns FILE the single table named by the argument is described by FILE.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if columnsFile != "" {
				if len(args) != 1 {
					return spezerrors.New(spezerrors.ErrorTypeValidation, "--columns describes exactly one table")
				}
				if err := a.useColumnsFile(columnsFile, args[0], ""); err != nil {
					return err
				}
			}
			tables, err := a.tables(args)
			if err != nil {
				return err
			}

			src, err := a.openSource(cmd.Context())
			if err != nil {
				return err
			}
			defer src.Close()

			registry := a.newRegistry(src)
			out := cmd.OutOrStdout()
			for _, table := range tables {
				set, err := registry.Load(cmd.Context(), table)
				if err != nil {
					return err
				}
				doc, err := jsonpool.Indent([]byte(set.Schema()), "  ")
				if err != nil {
					return err
				}
				if _, err := fmt.Fprintln(out, string(doc)); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&columnsFile, "columns", "", "YAML or JSON file declaring the table's columns")
	return cmd
}

func (a *app) exportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "export [TABLE...]",
		Short: "Export tables as Avro records",
		Long: `Export every row of the given tables, or of source.tables, as Avro records.

Example:
  spez export --source postgres --dsn "$PG_DSN" --format binary \
    --sink kafka --brokers localhost:9092 --topic-prefix shop. orders customers`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tables, err := a.tables(args)
			if err != nil {
				return err
			}
			return a.export(cmd.Context(), tables)
		},
	}
}

func (a *app) encodeCommand() *cobra.Command {
	var columnsFile, table string
	cmd := &cobra.Command{
		Use:   "encode [ROWS]",
		Short: "Encode JSON lines rows as Avro records",
		Long: `Encode rows given as JSON objects, one per line, read from ROWS or stdin.
The columns of the rows are declared by --columns.

Example:
  spez encode --columns users.yaml --table Users users.jsonl`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows := "-"
			if len(args) == 1 {
				rows = args[0]
			}
			if err := a.useColumnsFile(columnsFile, table, rows); err != nil {
				return err
			}
			return a.export(cmd.Context(), a.cfg.Source.Tables)
		},
	}
	cmd.Flags().StringVar(&columnsFile, "columns", "", "YAML or JSON file declaring the columns (required)")
	cmd.Flags().StringVar(&table, "table", "", "Table name, used as the record name (required)")
	_ = cmd.MarkFlagRequired("columns")
	_ = cmd.MarkFlagRequired("table")
	return cmd
}

func (a *app) export(ctx context.Context, tables []string) (err error) {
	ctx = logger.ContextWithRunID(ctx, uuid.NewString())
	log := logger.WithContext(ctx, a.logger)

	if d := a.cfg.Timeouts.Export; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	src, err := a.openSource(ctx)
	if err != nil {
		return err
	}
	defer src.Close()

	enc, err := a.encoder()
	if err != nil {
		return err
	}
	out, err := a.openSink()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	p := pipeline.New(src, a.newRegistry(src), enc, out, a.pipelineConfig(),
		pipeline.WithLogger(a.logger),
		pipeline.WithMetrics(a.metrics))

	results, err := p.Run(ctx, tables)
	for _, res := range results {
		if res.Err != nil {
			log.Error("table failed",
				zap.String("table", res.Table),
				zap.Int64("rows", res.Rows),
				zap.Error(res.Err))
			continue
		}
		log.Info("table exported",
			zap.String("table", res.Table),
			zap.String("fingerprint", res.Fingerprint),
			zap.Int64("rows", res.Rows),
			zap.Int64("failed", res.Failed),
			zap.Duration("duration", res.Duration))
	}
	return err
}

func (a *app) decodeCommand() *cobra.Command {
	var columnsFile, table string
	cmd := &cobra.Command{
		Use:   "decode [PAYLOADS]",
		Short: "Decode Avro records back to JSON lines",
		Long: `Decode concatenated Avro payloads produced by spez, read from PAYLOADS or
stdin, and print each record as one JSON object per line.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cols, err := jsonl.LoadColumns(columnsFile)
			if err != nil {
				return err
			}
			set, err := schema.New(table, a.cfg.Schema.Namespace, cols)
			if err != nil {
				return err
			}
			format, err := avro.ParseFormat(a.cfg.Encoding.Format)
			if err != nil {
				return err
			}

			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := openFile(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			data, err := io.ReadAll(in)
			if err != nil {
				return spezerrors.Wrap(err, spezerrors.ErrorTypeData, "failed to read payloads")
			}
			return decodeAll(cmd.OutOrStdout(), set, data, format)
		},
	}
	cmd.Flags().StringVar(&columnsFile, "columns", "", "YAML or JSON file declaring the columns (required)")
	cmd.Flags().StringVar(&table, "table", "", "Table name the payloads were encoded for (required)")
	_ = cmd.MarkFlagRequired("columns")
	_ = cmd.MarkFlagRequired("table")
	return cmd
}

func decodeAll(w io.Writer, set *schema.SchemaSet, data []byte, format avro.Format) error {
	if format == avro.FormatJSON {
		data = bytes.TrimSpace(data)
	}
	for n := 1; len(data) > 0; n++ {
		record, rest, err := avro.DecodeNext(set, data, format)
		if err != nil {
			return spezerrors.Wrap(err, spezerrors.ErrorTypeEncoding, "failed to decode record").
				WithDetail("record", n)
		}
		line, err := jsonpool.Marshal(record)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w, string(line)); err != nil {
			return err
		}
		data = rest
	}
	return nil
}
