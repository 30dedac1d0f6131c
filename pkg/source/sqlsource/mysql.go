package sqlsource

import (
	"context"
	"database/sql"
	"strings"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/spez-io/spez/pkg/models"
	"github.com/spez-io/spez/pkg/spezerrors"
	"github.com/spez-io/spez/pkg/typemap"
)

const mysqlColumnsSQL = `SELECT COLUMN_NAME, DATA_TYPE, COLUMN_TYPE
FROM information_schema.COLUMNS
WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
ORDER BY ORDINAL_POSITION`

const dateLayout = "2006-01-02"

// MySQL reads from a MySQL database.
type MySQL struct {
	db   *sql.DB
	opts options
}

// NewMySQL connects to the database named in dsn and verifies the
// connection. DATE and DATETIME values are always parsed into time.Time.
func NewMySQL(ctx context.Context, dsn string, opts ...Option) (*MySQL, error) {
	o := newOptions(opts)

	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, spezerrors.Wrap(err, spezerrors.ErrorTypeConfig, "failed to parse connection string")
	}
	if cfg.DBName == "" {
		return nil, spezerrors.New(spezerrors.ErrorTypeConfig, "connection string must name a database")
	}
	cfg.ParseTime = true

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, spezerrors.Wrap(err, spezerrors.ErrorTypeConfig, "failed to create connector")
	}
	db := sql.OpenDB(connector)
	if o.maxConns > 0 {
		db.SetMaxOpenConns(int(o.maxConns))
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, spezerrors.Wrap(err, spezerrors.ErrorTypeConnection, "failed to ping database")
	}

	o.logger.Info("MySQL source connected",
		zap.String("database", cfg.DBName),
		zap.Int32("max_connections", o.maxConns))

	return &MySQL{db: db, opts: o}, nil
}

func (m *MySQL) columns(ctx context.Context, table string) ([]models.ColumnPair, error) {
	rows, err := m.db.QueryContext(ctx, mysqlColumnsSQL, table)
	if err != nil {
		return nil, spezerrors.Wrap(err, spezerrors.ErrorTypeQuery, "failed to query columns").
			WithDetail("table", table)
	}
	defer rows.Close()

	var cols []models.ColumnPair
	for rows.Next() {
		var name, dataType, columnType string
		if err := rows.Scan(&name, &dataType, &columnType); err != nil {
			return nil, spezerrors.Wrap(err, spezerrors.ErrorTypeQuery, "failed to scan column")
		}
		cols = append(cols, models.ColumnPair{Name: name, Tag: MySQLTag(dataType, columnType)})
	}
	if err := rows.Err(); err != nil {
		return nil, spezerrors.Wrap(err, spezerrors.ErrorTypeQuery, "failed to read columns")
	}
	return cols, nil
}

// Columns returns the table's columns in ordinal order.
func (m *MySQL) Columns(ctx context.Context, table string) (models.MetadataCursor, func(), error) {
	cols, err := m.columns(ctx, table)
	if err != nil {
		return nil, nil, err
	}
	return models.NewSliceCursor(cols...), noop, nil
}

// Scan reads every row of table and calls fn for each one.
func (m *MySQL) Scan(ctx context.Context, table string, fn func(models.Row) error) error {
	cols, err := m.columns(ctx, table)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return errNoColumns(table)
	}
	types := parseColumns(cols)

	query := mysqlSelect(table, cols, m.opts.limit)
	var args []interface{}
	if m.opts.limit > 0 {
		args = append(args, m.opts.limit)
	}
	m.opts.logger.Debug("scanning table", zap.String("table", table), zap.String("sql", query))

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return spezerrors.Wrap(err, spezerrors.ErrorTypeQuery, "failed to scan table").
			WithDetail("table", table)
	}
	defer rows.Close()

	for rows.Next() {
		targets := mysqlTargets(cols, types)
		if err := rows.Scan(targets...); err != nil {
			return spezerrors.Wrap(err, spezerrors.ErrorTypeData, "failed to read row").
				WithDetail("table", table)
		}
		values := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			values[col.Name] = mysqlValue(targets[i], types[col.Name])
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

// Close closes the database handle.
func (m *MySQL) Close() error {
	return m.db.Close()
}

func quoteMySQL(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func mysqlSelect(table string, cols []models.ColumnPair, limit int64) string {
	exprs := make([]string, len(cols))
	for i, col := range cols {
		exprs[i] = quoteMySQL(col.Name)
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(exprs, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(quoteMySQL(table))
	if limit > 0 {
		sb.WriteString(" LIMIT ?")
	}
	return sb.String()
}

// mysqlTargets allocates scan destinations matching each column's type.
func mysqlTargets(cols []models.ColumnPair, types map[string]typemap.SourceType) []interface{} {
	targets := make([]interface{}, len(cols))
	for i, col := range cols {
		switch types[col.Name].Code {
		case typemap.Int64:
			targets[i] = new(sql.NullInt64)
		case typemap.Float64:
			targets[i] = new(sql.NullFloat64)
		case typemap.Bool:
			targets[i] = new(sql.NullBool)
		case typemap.String:
			targets[i] = new(sql.NullString)
		case typemap.Date, typemap.Timestamp:
			targets[i] = new(sql.NullTime)
		default:
			targets[i] = new([]byte)
		}
	}
	return targets
}

// mysqlValue unwraps a scan destination into the value MapRow expects. NULLs
// become nil.
func mysqlValue(target interface{}, t typemap.SourceType) interface{} {
	switch v := target.(type) {
	case *sql.NullInt64:
		if v.Valid {
			return v.Int64
		}
	case *sql.NullFloat64:
		if v.Valid {
			return v.Float64
		}
	case *sql.NullBool:
		if v.Valid {
			return v.Bool
		}
	case *sql.NullString:
		if v.Valid {
			return v.String
		}
	case *sql.NullTime:
		if !v.Valid {
			return nil
		}
		if t.Code == typemap.Date {
			return v.Time.Format(dateLayout)
		}
		return v.Time.UTC()
	case *[]byte:
		if *v != nil {
			return *v
		}
	}
	return nil
}
