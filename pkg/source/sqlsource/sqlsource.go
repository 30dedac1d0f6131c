// Package sqlsource reads table metadata and rows from relational databases
// through their information_schema: PostgreSQL over a pgx pool and MySQL over
// database/sql.
//
// Catalog types are translated onto the source type tags understood by schema
// inference (see PostgresTag and MySQLTag), and rows are handed out as
// models.MapRow values.
package sqlsource

import (
	"go.uber.org/zap"

	"github.com/spez-io/spez/pkg/models"
	"github.com/spez-io/spez/pkg/spezerrors"
	"github.com/spez-io/spez/pkg/typemap"
)

type options struct {
	logger   *zap.Logger
	limit    int64
	schema   string
	maxConns int32
}

// Option configures a source.
type Option func(*options)

// WithLogger sets the source's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithLimit caps the number of rows Scan reads from a table.
func WithLimit(n int64) Option {
	return func(o *options) { o.limit = n }
}

// WithSchema sets the PostgreSQL schema tables are looked up in. The default
// is "public". MySQL always uses the connection's database.
func WithSchema(schema string) Option {
	return func(o *options) { o.schema = schema }
}

// WithMaxConns caps the connection pool.
func WithMaxConns(n int32) Option {
	return func(o *options) { o.maxConns = n }
}

func newOptions(opts []Option) options {
	o := options{logger: zap.NewNop(), schema: "public", maxConns: 4}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func noop() {}

func errNoColumns(table string) error {
	return spezerrors.New(spezerrors.ErrorTypeValidation, "table not found or has no columns").
		WithDetail("table", table)
}

// newRow wraps scanned values, recording element types of array columns so
// the encoder does not depend on the driver's Go types.
func newRow(values map[string]interface{}, types map[string]typemap.SourceType) *models.MapRow {
	row := models.NewMapRow(values)
	for name, t := range types {
		if t.IsArray() && t.Elem != "" {
			row.WithElementType(name, string(t.Elem))
		}
	}
	return row
}

// parseColumns resolves column tags, skipping the ones schema inference would
// reject.
func parseColumns(cols []models.ColumnPair) map[string]typemap.SourceType {
	types := make(map[string]typemap.SourceType, len(cols))
	for _, col := range cols {
		if t, err := typemap.Parse(col.Tag); err == nil {
			types[col.Name] = t
		}
	}
	return types
}
