// Package source opens the configured source database behind one interface
// shared by schema inference and the export pipeline.
package source

import (
	"context"

	"go.uber.org/zap"

	"github.com/spez-io/spez/pkg/config"
	"github.com/spez-io/spez/pkg/models"
	"github.com/spez-io/spez/pkg/source/jsonl"
	"github.com/spez-io/spez/pkg/schema"
	spannersource "github.com/spez-io/spez/pkg/source/spanner"
	"github.com/spez-io/spez/pkg/source/sqlsource"
	"github.com/spez-io/spez/pkg/spezerrors"
)

// Source reads column metadata and rows of tables.
type Source interface {
	// Columns opens a metadata cursor over table's columns. release, when
	// not nil, must be called once the cursor is drained.
	Columns(ctx context.Context, table string) (cursor models.MetadataCursor, release func(), err error)
	// Scan calls fn for every row of table in read order.
	Scan(ctx context.Context, table string, fn func(models.Row) error) error
	Close() error
}

var (
	_ Source = (*spannersource.Reader)(nil)
	_ Source = (*sqlsource.Postgres)(nil)
	_ Source = (*sqlsource.MySQL)(nil)
	_ Source = (*jsonl.Source)(nil)
)

// Open connects to the source described by cfg.
func Open(ctx context.Context, cfg config.SourceConfig, logger *zap.Logger) (Source, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("source", cfg.Type))

	switch cfg.Type {
	case config.SourceSpanner:
		client, err := spannersource.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		return spannersource.NewReader(client,
			spannersource.WithLogger(logger),
			spannersource.WithStaleness(cfg.Staleness),
			spannersource.WithLimit(cfg.Limit)), nil

	case config.SourcePostgres:
		pg, err := sqlsource.NewPostgres(ctx, cfg.DSN, sqlOptions(cfg, logger)...)
		if err != nil {
			return nil, err
		}
		return pg, nil

	case config.SourceMySQL:
		my, err := sqlsource.NewMySQL(ctx, cfg.DSN, sqlOptions(cfg, logger)...)
		if err != nil {
			return nil, err
		}
		return my, nil

	case config.SourceJSONL:
		columns, err := jsonl.LoadColumns(cfg.ColumnsFile)
		if err != nil {
			return nil, err
		}
		if len(cfg.Tables) != 1 {
			return nil, spezerrors.New(spezerrors.ErrorTypeConfig, "the jsonl source serves exactly one table")
		}
		return jsonl.FromFile(cfg.Tables[0], columns, cfg.Path, logger), nil

	default:
		return nil, spezerrors.New(spezerrors.ErrorTypeConfig, "unknown source type").
			WithDetail("type", cfg.Type)
	}
}

func sqlOptions(cfg config.SourceConfig, logger *zap.Logger) []sqlsource.Option {
	opts := []sqlsource.Option{
		sqlsource.WithLogger(logger),
		sqlsource.WithLimit(cfg.Limit),
		sqlsource.WithMaxConns(cfg.MaxConns),
	}
	if cfg.Schema != "" {
		opts = append(opts, sqlsource.WithSchema(cfg.Schema))
	}
	return opts
}

// NewRegistry returns a schema registry inferring tables of src.
func NewRegistry(src Source, namespace string, inferencer *schema.Inferencer, logger *zap.Logger) *schema.Registry {
	return schema.NewRegistry(namespace, src.Columns, inferencer, logger)
}
