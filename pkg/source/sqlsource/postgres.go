package sqlsource

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/spez-io/spez/pkg/models"
	"github.com/spez-io/spez/pkg/spezerrors"
	"github.com/spez-io/spez/pkg/typemap"
)

const postgresColumnsSQL = `SELECT column_name, data_type, udt_name
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`

// Postgres reads from a PostgreSQL database.
type Postgres struct {
	pool *pgxpool.Pool
	opts options
}

// NewPostgres connects to the database at dsn and verifies the connection.
func NewPostgres(ctx context.Context, dsn string, opts ...Option) (*Postgres, error) {
	o := newOptions(opts)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, spezerrors.Wrap(err, spezerrors.ErrorTypeConfig, "failed to parse connection string")
	}
	if o.maxConns > 0 {
		poolConfig.MaxConns = o.maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, spezerrors.Wrap(err, spezerrors.ErrorTypeConnection, "failed to create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, spezerrors.Wrap(err, spezerrors.ErrorTypeConnection, "failed to ping database")
	}

	o.logger.Info("PostgreSQL source connected",
		zap.String("schema", o.schema),
		zap.Int32("max_connections", poolConfig.MaxConns))

	return &Postgres{pool: pool, opts: o}, nil
}

func (p *Postgres) columns(ctx context.Context, table string) ([]models.ColumnPair, error) {
	rows, err := p.pool.Query(ctx, postgresColumnsSQL, p.opts.schema, table)
	if err != nil {
		return nil, spezerrors.Wrap(err, spezerrors.ErrorTypeQuery, "failed to query columns").
			WithDetail("table", table)
	}
	defer rows.Close()

	var cols []models.ColumnPair
	for rows.Next() {
		var name, dataType, udtName string
		if err := rows.Scan(&name, &dataType, &udtName); err != nil {
			return nil, spezerrors.Wrap(err, spezerrors.ErrorTypeQuery, "failed to scan column")
		}
		cols = append(cols, models.ColumnPair{Name: name, Tag: PostgresTag(dataType, udtName)})
	}
	if err := rows.Err(); err != nil {
		return nil, spezerrors.Wrap(err, spezerrors.ErrorTypeQuery, "failed to read columns")
	}
	return cols, nil
}

// Columns returns the table's columns in ordinal order. The catalog is read
// eagerly so the returned release func is a no-op.
func (p *Postgres) Columns(ctx context.Context, table string) (models.MetadataCursor, func(), error) {
	cols, err := p.columns(ctx, table)
	if err != nil {
		return nil, nil, err
	}
	return models.NewSliceCursor(cols...), noop, nil
}

// Scan reads every row of table and calls fn for each one.
func (p *Postgres) Scan(ctx context.Context, table string, fn func(models.Row) error) error {
	cols, err := p.columns(ctx, table)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return errNoColumns(table)
	}
	types := parseColumns(cols)

	query := postgresSelect(p.opts.schema, table, cols, types, p.opts.limit)
	var args []interface{}
	if p.opts.limit > 0 {
		args = append(args, p.opts.limit)
	}
	p.opts.logger.Debug("scanning table", zap.String("table", table), zap.String("sql", query))

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return spezerrors.Wrap(err, spezerrors.ErrorTypeQuery, "failed to scan table").
			WithDetail("table", table)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return spezerrors.Wrap(err, spezerrors.ErrorTypeData, "failed to read row").
				WithDetail("table", table)
		}
		values := make(map[string]interface{}, len(fields))
		for i, fd := range fields {
			values[fd.Name] = vals[i]
		}
		if err := fn(newRow(values, types)); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return spezerrors.Wrap(err, spezerrors.ErrorTypeQuery, "failed to scan table").
			WithDetail("table", table)
	}
	return nil
}

// Close closes the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// postgresSelect builds the row query. String columns are cast to text so
// uuid, json and similar types arrive as Go strings.
func postgresSelect(schema, table string, cols []models.ColumnPair, types map[string]typemap.SourceType, limit int64) string {
	exprs := make([]string, len(cols))
	for i, col := range cols {
		ident := pgx.Identifier{col.Name}.Sanitize()
		t := types[col.Name]
		switch {
		case t.Code == typemap.String:
			exprs[i] = ident + "::text AS " + ident
		case t.IsArray() && t.Elem == typemap.String:
			exprs[i] = ident + "::text[] AS " + ident
		default:
			exprs[i] = ident
		}
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(exprs, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(pgx.Identifier{schema, table}.Sanitize())
	if limit > 0 {
		sb.WriteString(" LIMIT $1")
	}
	return sb.String()
}
