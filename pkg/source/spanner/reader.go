// Package spanner reads table metadata and rows from Cloud Spanner.
//
// Column metadata comes from INFORMATION_SCHEMA.COLUMNS, so type tags carry
// their declared lengths ("STRING(MAX)", "ARRAY<STRING(36)>"), which is the
// vocabulary schema inference expects.
package spanner

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/spanner"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/spez-io/spez/pkg/models"
	"github.com/spez-io/spez/pkg/spezerrors"
)

const columnsSQL = `SELECT COLUMN_NAME, SPANNER_TYPE
FROM INFORMATION_SCHEMA.COLUMNS
WHERE TABLE_SCHEMA = '' AND TABLE_NAME = @table
ORDER BY ORDINAL_POSITION`

// RowIterator is the subset of *spanner.RowIterator used by the cursor.
type RowIterator interface {
	Next() (*spanner.Row, error)
	Stop()
}

// MetadataCursor yields (COLUMN_NAME, SPANNER_TYPE) pairs from a metadata
// query.
type MetadataCursor struct {
	iter RowIterator
}

var _ models.MetadataCursor = (*MetadataCursor)(nil)

// NewMetadataCursor wraps an iterator over rows of two STRING columns.
func NewMetadataCursor(iter RowIterator) *MetadataCursor {
	return &MetadataCursor{iter: iter}
}

// Next implements models.MetadataCursor.
func (c *MetadataCursor) Next() (string, string, error) {
	row, err := c.iter.Next()
	if errors.Is(err, iterator.Done) {
		return "", "", io.EOF
	}
	if err != nil {
		return "", "", err
	}
	var name, tag string
	if err := row.Columns(&name, &tag); err != nil {
		return "", "", err
	}
	return name, tag, nil
}

// Close stops the underlying iterator.
func (c *MetadataCursor) Close() {
	c.iter.Stop()
}

// CursorFromRow describes the columns of a query result using the types the
// row carries. Lengths are not available this way, so strings read as
// "STRING".
func CursorFromRow(row *spanner.Row) models.MetadataCursor {
	names := row.ColumnNames()
	cols := make([]models.ColumnPair, len(names))
	for i, name := range names {
		cols[i] = models.ColumnPair{Name: name, Tag: TypeTag(row.ColumnType(i))}
	}
	return models.NewSliceCursor(cols...)
}

// Reader reads metadata and rows through a Spanner client.
type Reader struct {
	client    *spanner.Client
	logger    *zap.Logger
	staleness time.Duration
	limit     int64
}

// Option configures a Reader.
type Option func(*Reader)

// WithLogger sets the reader's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Reader) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithStaleness reads at an exact staleness instead of a strong read.
func WithStaleness(d time.Duration) Option {
	return func(r *Reader) { r.staleness = d }
}

// WithLimit caps the number of rows Scan reads from a table. Zero means no
// limit.
func WithLimit(n int64) Option {
	return func(r *Reader) { r.limit = n }
}

// Connect opens a client for database, in the form
// projects/P/instances/I/databases/D.
func Connect(ctx context.Context, database string) (*spanner.Client, error) {
	client, err := spanner.NewClient(ctx, database)
	if err != nil {
		return nil, spezerrors.Wrap(err, spezerrors.ErrorTypeConnection, "failed to create spanner client").
			WithDetail("database", database)
	}
	return client, nil
}

// NewReader creates a Reader over client.
func NewReader(client *spanner.Client, opts ...Option) *Reader {
	r := &Reader{client: client, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reader) single() *spanner.ReadOnlyTransaction {
	tx := r.client.Single()
	if r.staleness > 0 {
		tx = tx.WithTimestampBound(spanner.ExactStaleness(r.staleness))
	}
	return tx
}

// Columns starts the metadata query for table. The returned func stops the
// query and must be called once the cursor is no longer needed.
func (r *Reader) Columns(ctx context.Context, table string) (models.MetadataCursor, func(), error) {
	if err := validateTable(table); err != nil {
		return nil, nil, err
	}
	stmt := spanner.Statement{SQL: columnsSQL, Params: map[string]interface{}{"table": table}}
	cursor := NewMetadataCursor(r.single().Query(ctx, stmt))
	return cursor, cursor.Close, nil
}

// Scan reads every row of table and calls fn for each one, in read order.
// Scan stops at the first error returned by fn.
func (r *Reader) Scan(ctx context.Context, table string, fn func(models.Row) error) error {
	if err := validateTable(table); err != nil {
		return err
	}
	stmt := spanner.Statement{SQL: r.selectSQL(table)}
	if r.limit > 0 {
		stmt.Params = map[string]interface{}{"limit": r.limit}
	}

	r.logger.Debug("scanning table", zap.String("table", table), zap.String("sql", stmt.SQL))

	var rows int64
	err := r.single().Query(ctx, stmt).Do(func(row *spanner.Row) error {
		rows++
		return fn(NewRow(row))
	})
	if err != nil {
		var typed *spezerrors.Error
		if errors.As(err, &typed) {
			return err
		}
		return spezerrors.Wrap(err, spezerrors.ErrorTypeQuery, "failed to scan table").
			WithDetail("table", table).
			WithDetail("rows_read", rows)
	}
	r.logger.Debug("table scanned", zap.String("table", table), zap.Int64("rows", rows))
	return nil
}

func (r *Reader) selectSQL(table string) string {
	var sb strings.Builder
	sb.WriteString("SELECT * FROM `")
	sb.WriteString(table)
	sb.WriteString("`")
	if r.limit > 0 {
		sb.WriteString(" LIMIT @limit")
	}
	return sb.String()
}

// Close releases the client.
func (r *Reader) Close() error {
	r.client.Close()
	return nil
}

func validateTable(table string) error {
	if table == "" || strings.ContainsAny(table, "`\n") {
		return spezerrors.New(spezerrors.ErrorTypeValidation, "invalid table name").
			WithDetail("table", table)
	}
	return nil
}
