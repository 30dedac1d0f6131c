package pipeline

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spez-io/spez/pkg/formats/avro"
	jsonpool "github.com/spez-io/spez/pkg/json"
	"github.com/spez-io/spez/pkg/logger"
	"github.com/spez-io/spez/pkg/metrics"
	"github.com/spez-io/spez/pkg/models"
	"github.com/spez-io/spez/pkg/schema"
	"github.com/spez-io/spez/pkg/sink"
	"github.com/spez-io/spez/pkg/spezerrors"
	"github.com/spez-io/spez/pkg/typemap"
)

type memorySource struct {
	columns map[string][]models.ColumnPair
	rows    map[string][]map[string]interface{}
	scanErr error
	opened  atomic.Int32
}

func (m *memorySource) open(_ context.Context, table string) (models.MetadataCursor, func(), error) {
	m.opened.Add(1)
	cols, ok := m.columns[table]
	if !ok {
		return nil, nil, errors.New("no such table")
	}
	return models.NewSliceCursor(cols...), nil, nil
}

func (m *memorySource) Scan(ctx context.Context, table string, fn func(models.Row) error) error {
	for _, values := range m.rows[table] {
		if err := fn(models.NewMapRow(values)); err != nil {
			return err
		}
	}
	return m.scanErr
}

func usersSource(n int) *memorySource {
	rows := make([]map[string]interface{}, n)
	for i := range rows {
		rows[i] = map[string]interface{}{"id": int64(i), "name": "user", "active": i%2 == 0}
	}
	return &memorySource{
		columns: map[string][]models.ColumnPair{
			"Users": {
				{Name: "id", Tag: "INT64"},
				{Name: "name", Tag: "STRING(MAX)"},
				{Name: "active", Tag: "BOOL"},
			},
			"Ledger": {
				{Name: "amount", Tag: "NUMERIC"},
			},
		},
		rows: map[string][]map[string]interface{}{"Users": rows},
	}
}

func newPipeline(src *memorySource, out sink.Sink, cfg Config, opts ...Option) *Pipeline {
	registry := schema.NewRegistry("com.example", src.open, nil, nil)
	encoder := avro.NewEncoder(avro.WithPretty(false))
	return New(src, registry, encoder, out, cfg, opts...)
}

func decodeIDs(t *testing.T, out string) []int64 {
	t.Helper()
	var ids []int64
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		var rec struct {
			ID int64 `json:"id"`
		}
		require.NoError(t, jsonpool.Unmarshal([]byte(line), &rec))
		ids = append(ids, rec.ID)
	}
	return ids
}

func TestExportPreservesRowOrder(t *testing.T) {
	src := usersSource(500)
	var buf bytes.Buffer
	reg := prometheus.NewRegistry()
	p := newPipeline(src, sink.NewWriterSink(&buf, nil), Config{Workers: 8, BufferSize: 4},
		WithMetrics(metrics.NewCollector(reg)))

	results, err := p.Run(context.Background(), []string{"Users"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(500), results[0].Rows)
	assert.Zero(t, results[0].Failed)
	assert.NotEmpty(t, results[0].Fingerprint)

	ids := decodeIDs(t, buf.String())
	require.Len(t, ids, 500)
	for i, id := range ids {
		require.Equal(t, int64(i), id)
	}

	count, err := testutil.GatherAndCount(reg, "spez_rows_delivered_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestExportLogsCarryTableAndRun(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	p := newPipeline(usersSource(2), sink.NewWriterSink(&bytes.Buffer{}, nil), Config{Workers: 1},
		WithLogger(zap.New(core)))

	ctx := logger.ContextWithRunID(context.Background(), "run-7")
	_, err := p.Run(ctx, []string{"Users"})
	require.NoError(t, err)

	exported := logs.FilterMessage("table exported").All()
	require.Len(t, exported, 1)
	fields := exported[0].ContextMap()
	assert.Equal(t, "Users", fields["table"])
	assert.Equal(t, "run-7", fields["run_id"])
	assert.EqualValues(t, 2, fields["rows"])
}

func TestExportInfersSchemaOnce(t *testing.T) {
	src := usersSource(3)
	p := newPipeline(src, sink.NewWriterSink(&bytes.Buffer{}, nil), Config{Workers: 2})

	_, err := p.Run(context.Background(), []string{"Users", "Users"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.opened.Load())
}

func TestExportUnsupportedType(t *testing.T) {
	src := usersSource(3)
	var buf bytes.Buffer
	p := newPipeline(src, sink.NewWriterSink(&buf, nil), Config{})

	results, err := p.Run(context.Background(), []string{"Ledger", "Users"})
	require.Error(t, err)
	assert.ErrorIs(t, err, typemap.ErrUnsupportedSourceType)
	require.Len(t, results, 1)
	assert.Empty(t, buf.String())
}

func TestExportContinueOnTableError(t *testing.T) {
	src := usersSource(3)
	var buf bytes.Buffer
	p := newPipeline(src, sink.NewWriterSink(&buf, nil), Config{ContinueOnTableError: true})

	results, err := p.Run(context.Background(), []string{"Ledger", "Users"})
	require.Error(t, err)
	require.Len(t, results, 2)
	assert.Error(t, results[0].Err)
	assert.NoError(t, results[1].Err)
	assert.Equal(t, int64(3), results[1].Rows)
	assert.Len(t, decodeIDs(t, buf.String()), 3)
}

func TestExportBadRow(t *testing.T) {
	build := func() *memorySource {
		src := usersSource(4)
		src.rows["Users"][2]["id"] = "two"
		return src
	}

	t.Run("stops", func(t *testing.T) {
		p := newPipeline(build(), sink.NewWriterSink(&bytes.Buffer{}, nil), Config{Workers: 2})
		res, err := p.ExportTable(context.Background(), "Users")
		require.Error(t, err)
		assert.True(t, spezerrors.IsType(err, spezerrors.ErrorTypeData))
		assert.Equal(t, int64(2), res.Rows)
		assert.Equal(t, int64(1), res.Failed)
	})

	t.Run("skips", func(t *testing.T) {
		var buf bytes.Buffer
		out := sink.NewWriterSink(&buf, nil)
		p := newPipeline(build(), out, Config{Workers: 2, SkipFailedRows: true})
		res, err := p.ExportTable(context.Background(), "Users")
		require.NoError(t, err)
		require.NoError(t, out.Flush(context.Background()))
		assert.Equal(t, int64(3), res.Rows)
		assert.Equal(t, int64(1), res.Failed)
		assert.Equal(t, []int64{0, 1, 3}, decodeIDs(t, buf.String()))
	})
}

func TestExportSourceError(t *testing.T) {
	src := usersSource(2)
	boom := errors.New("session expired")
	src.scanErr = boom

	p := newPipeline(src, sink.NewWriterSink(&bytes.Buffer{}, nil), Config{})
	_, err := p.ExportTable(context.Background(), "Users")
	assert.ErrorIs(t, err, boom)
}

type failingSink struct{ writes int }

func (f *failingSink) Name() string { return "failing" }
func (f *failingSink) Write(context.Context, sink.Message) error {
	f.writes++
	return spezerrors.New(spezerrors.ErrorTypeSink, "broker unavailable")
}
func (f *failingSink) Flush(context.Context) error { return nil }
func (f *failingSink) Close() error                { return nil }

func TestExportSinkError(t *testing.T) {
	out := &failingSink{}
	p := newPipeline(usersSource(100), out, Config{Workers: 4, BufferSize: 2})

	_, err := p.ExportTable(context.Background(), "Users")
	require.Error(t, err)
	assert.True(t, spezerrors.IsType(err, spezerrors.ErrorTypeSink))
	assert.Equal(t, 1, out.writes)
}

func TestExportCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newPipeline(usersSource(100), sink.NewWriterSink(&bytes.Buffer{}, nil), Config{Workers: 2})
	_, err := p.ExportTable(ctx, "Users")
	assert.ErrorIs(t, err, context.Canceled)
}
