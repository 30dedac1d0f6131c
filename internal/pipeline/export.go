// Package pipeline exports tables from a source to a sink: it builds each
// table's schema once, encodes the table's rows concurrently and delivers
// the payloads in row order.
//
// # Overview
//
// For each table:
//   - Schema: loaded through a schema.Registry, so it is inferred once per
//     table and shared read-only by every worker.
//   - Reader: scans the source, numbering rows in read order.
//   - Workers: encode rows in parallel with one avro.Encoder.
//   - Writer: restores row order and hands payloads to the sink.
//
// # Basic Usage
//
//	p := pipeline.New(source, registry, encoder, sink,
//	    pipeline.Config{Workers: 8, BufferSize: 1024},
//	    pipeline.WithLogger(logger))
//
//	results, err := p.Run(ctx, []string{"Users", "Orders"})
package pipeline

import (
	"context"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spez-io/spez/pkg/formats/avro"
	"github.com/spez-io/spez/pkg/logger"
	"github.com/spez-io/spez/pkg/metrics"
	"github.com/spez-io/spez/pkg/models"
	"github.com/spez-io/spez/pkg/observability"
	"github.com/spez-io/spez/pkg/schema"
	"github.com/spez-io/spez/pkg/sink"
	"github.com/spez-io/spez/pkg/spezerrors"
)

// Source scans rows of a table. Metadata comes through the registry.
type Source interface {
	Scan(ctx context.Context, table string, fn func(models.Row) error) error
}

// Config contains pipeline configuration parameters.
type Config struct {
	// Workers is the number of concurrent encoders. Zero means one per CPU.
	Workers int `yaml:"workers" json:"workers"`
	// BufferSize bounds the rows in flight between reader, workers and
	// writer.
	BufferSize int `yaml:"buffer_size" json:"buffer_size"`
	// SkipFailedRows logs rows that fail to encode and carries on instead of
	// stopping the table.
	SkipFailedRows bool `yaml:"skip_failed_rows" json:"skip_failed_rows"`
	// ContinueOnTableError moves on to the next table when one fails.
	ContinueOnTableError bool `yaml:"continue_on_table_error" json:"continue_on_table_error"`
	// Retry governs sink writes failing with retryable errors.
	Retry RetryPolicy `yaml:"retry" json:"retry"`
}

// DefaultConfig returns a configuration suited to most exports.
func DefaultConfig() Config {
	return Config{
		Workers:    runtime.NumCPU(),
		BufferSize: 1024,
		Retry:      DefaultRetryPolicy(),
	}
}

// Result summarises the export of one table.
type Result struct {
	Table       string        `json:"table"`
	Fingerprint string        `json:"fingerprint"`
	Rows        int64         `json:"rows"`
	Failed      int64         `json:"failed"`
	Duration    time.Duration `json:"duration"`
	Err         error         `json:"-"`
}

// Pipeline exports tables.
type Pipeline struct {
	source   Source
	registry *schema.Registry
	encoder  *avro.Encoder
	sink     sink.Sink
	config   Config
	logger   *zap.Logger
	metrics  *metrics.Collector
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(p *Pipeline) { p.metrics = c }
}

// New creates a pipeline. Zero config values fall back to DefaultConfig.
func New(source Source, registry *schema.Registry, encoder *avro.Encoder, out sink.Sink, config Config, opts ...Option) *Pipeline {
	defaults := DefaultConfig()
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}

	p := &Pipeline{
		source:   source,
		registry: registry,
		encoder:  encoder,
		sink:     out,
		config:   config,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run exports tables one after another and flushes the sink. It stops at
// the first failed table unless ContinueOnTableError is set, in which case
// the first error is returned after every table was attempted.
func (p *Pipeline) Run(ctx context.Context, tables []string) ([]Result, error) {
	logger.WithContext(ctx, p.logger).Info("starting export",
		zap.Strings("tables", tables),
		zap.Int("workers", p.config.Workers),
		zap.Int("buffer_size", p.config.BufferSize))

	results := make([]Result, 0, len(tables))
	var firstErr error
	for _, table := range tables {
		res, err := p.ExportTable(ctx, table)
		results = append(results, res)
		if err == nil {
			continue
		}
		if firstErr == nil {
			firstErr = err
		}
		if !p.config.ContinueOnTableError || ctx.Err() != nil {
			break
		}
	}

	if err := p.sink.Flush(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return results, firstErr
}

type job struct {
	seq int64
	row models.Row
}

type encoded struct {
	seq     int64
	payload []byte
	err     error
}

// ExportTable exports one table.
func (p *Pipeline) ExportTable(ctx context.Context, table string) (res Result, err error) {
	start := time.Now()
	res.Table = table
	ctx = logger.ContextWithTable(ctx, table)
	log := logger.WithContext(ctx, p.logger)

	ctx, span := observability.StartSpan(ctx, "spez.export_table")
	span.SetAttribute("table", table)
	defer func() {
		res.Duration = time.Since(start)
		res.Err = err
		span.SetAttribute("rows", res.Rows)
		span.SetAttribute("failed_rows", res.Failed)
		span.End(err)
	}()

	set, err := p.loadSchema(ctx, table)
	if err != nil {
		log.Error("failed to build schema", zap.Error(err))
		return res, err
	}
	res.Fingerprint = set.Fingerprint()

	jobs := make(chan job, p.config.BufferSize)
	out := make(chan encoded, p.config.BufferSize)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		var seq int64
		return p.source.Scan(gctx, table, func(row models.Row) error {
			select {
			case jobs <- job{seq: seq, row: row}:
				seq++
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	})

	g.Go(func() error {
		defer close(out)
		var wg sync.WaitGroup
		for i := 0; i < p.config.Workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				p.encodeWorker(gctx, set, jobs, out)
			}()
		}
		wg.Wait()
		return nil
	})

	throughput := metrics.NewThroughputTracker()
	g.Go(func() error {
		return p.deliver(gctx, set, out, &res, throughput, log)
	})

	err = g.Wait()
	p.metrics.SetThroughput(table, float64(throughput.Count())/time.Since(start).Seconds())

	if err != nil {
		log.Error("export failed", zap.Int64("rows", res.Rows), zap.Error(err))
		return res, err
	}

	log.Info("table exported",
		zap.Int64("rows", res.Rows),
		zap.Int64("failed_rows", res.Failed),
		zap.Duration("duration", time.Since(start)),
		zap.String("fingerprint", res.Fingerprint))
	return res, nil
}

func (p *Pipeline) loadSchema(ctx context.Context, table string) (*schema.SchemaSet, error) {
	ctx, span := observability.StartSpan(ctx, "spez.load_schema")
	span.SetAttribute("table", table)
	set, err := p.registry.Load(ctx, table)
	if err == nil {
		span.SetAttribute("columns", set.Len())
	}
	span.End(err)
	return set, err
}

func (p *Pipeline) encodeWorker(ctx context.Context, set *schema.SchemaSet, jobs <-chan job, out chan<- encoded) {
	for j := range jobs {
		payload, err := p.encoder.EncodeRow(set, j.row)
		select {
		case out <- encoded{seq: j.seq, payload: payload, err: err}:
		case <-ctx.Done():
			return
		}
	}
}

// deliver writes payloads in sequence order, holding back ones that arrive
// early.
func (p *Pipeline) deliver(ctx context.Context, set *schema.SchemaSet, in <-chan encoded,
	res *Result, throughput *metrics.ThroughputTracker, log *zap.Logger) error {
	pending := make(map[int64]encoded)
	var next int64
	contentType := sink.ContentType(string(p.encoder.Format()))

	for e := range in {
		pending[e.seq] = e
		for {
			cur, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++

			if cur.err != nil {
				res.Failed++
				if !p.config.SkipFailedRows {
					return spezerrors.Wrap(cur.err, spezerrors.GetType(cur.err), "failed to encode row").
						WithDetail("table", set.Name()).
						WithDetail("seq", cur.seq)
				}
				log.Warn("skipping row", zap.Int64("seq", cur.seq), zap.Error(cur.err))
				continue
			}

			msg := sink.Message{
				Table:       set.Name(),
				Seq:         cur.seq,
				Fingerprint: res.Fingerprint,
				ContentType: contentType,
				Payload:     cur.payload,
				Timestamp:   time.Now(),
			}
			err := p.config.Retry.do(ctx, log, func() error {
				err := p.sink.Write(ctx, msg)
				p.metrics.RecordDelivery(set.Name(), p.sink.Name(), err)
				return err
			})
			if err != nil {
				return err
			}
			res.Rows++
			throughput.Increment(1)
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}
