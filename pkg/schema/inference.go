package schema

import (
	"errors"
	"io"

	"github.com/linkedin/goavro/v2"
	"go.uber.org/zap"

	jsonpool "github.com/spez-io/spez/pkg/json"
	"github.com/spez-io/spez/pkg/metrics"
	"github.com/spez-io/spez/pkg/models"
	"github.com/spez-io/spez/pkg/spezerrors"
	"github.com/spez-io/spez/pkg/typemap"
)

// Inferencer builds SchemaSets from table metadata.
type Inferencer struct {
	logger  *zap.Logger
	metrics *metrics.Collector
}

// Option configures an Inferencer.
type Option func(*Inferencer)

// WithLogger sets the logger used for debug output.
func WithLogger(logger *zap.Logger) Option {
	return func(i *Inferencer) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(i *Inferencer) {
		i.metrics = c
	}
}

// NewInferencer creates an Inferencer. Without options it logs nothing and
// records no metrics.
func NewInferencer(opts ...Option) *Inferencer {
	i := &Inferencer{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

var defaultInferencer = NewInferencer()

// InferSchema builds a SchemaSet with a silent Inferencer.
func InferSchema(tableName, namespace string, cursor models.MetadataCursor) (*SchemaSet, error) {
	return defaultInferencer.InferSchema(tableName, namespace, cursor)
}

// New builds a SchemaSet from an already collected column list.
func New(tableName, namespace string, columns []models.ColumnPair) (*SchemaSet, error) {
	return defaultInferencer.InferSchema(tableName, namespace, models.NewSliceCursor(columns...))
}

// InferSchema reads cursor to exhaustion and builds the table's SchemaSet.
// Fields follow cursor order. A column whose type tag has no translation
// fails the whole table with an error wrapping
// *typemap.UnsupportedSourceTypeError; no partial schema is returned.
func (i *Inferencer) InferSchema(tableName, namespace string, cursor models.MetadataCursor) (*SchemaSet, error) {
	set, err := i.infer(tableName, namespace, cursor)
	i.metrics.RecordSchema(tableName, err)
	if err != nil {
		i.logger.Error("failed to build schema",
			zap.String("table", tableName),
			zap.Error(err))
		return nil, err
	}
	return set, nil
}

func (i *Inferencer) infer(tableName, namespace string, cursor models.MetadataCursor) (*SchemaSet, error) {
	if tableName == "" {
		return nil, spezerrors.New(spezerrors.ErrorTypeValidation, "table name is required")
	}
	if cursor == nil {
		return nil, spezerrors.New(spezerrors.ErrorTypeValidation, "metadata cursor is required").
			WithDetail("table", tableName)
	}

	var (
		columns []Column
		fields  []map[string]interface{}
		index   = make(map[string]int)
	)

	for {
		name, tag, err := cursor.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, spezerrors.Wrap(err, spezerrors.ErrorTypeQuery, "failed to read table metadata").
				WithDetail("table", tableName)
		}

		st, err := typemap.Parse(tag)
		if err != nil {
			return nil, spezerrors.Wrap(&typemap.UnsupportedSourceTypeError{Column: name, Tag: tag},
				spezerrors.ErrorTypeSchema, "cannot translate column type").
				WithDetail("table", tableName).
				WithDetail("column", name)
		}
		if _, dup := index[name]; dup {
			return nil, spezerrors.New(spezerrors.ErrorTypeValidation, "duplicate column name").
				WithDetail("table", tableName).
				WithDetail("column", name)
		}

		i.logger.Debug("mapped column",
			zap.String("table", tableName),
			zap.String("column", name),
			zap.String("source_type", tag),
			zap.Any("avro_type", typemap.AvroType(st)))

		index[name] = len(columns)
		columns = append(columns, Column{Name: name, Type: st})
		fields = append(fields, map[string]interface{}{
			"name":    name,
			"type":    typemap.AvroType(st),
			"default": typemap.Default(st),
		})
	}

	if len(columns) == 0 {
		return nil, spezerrors.New(spezerrors.ErrorTypeValidation, "table has no columns").
			WithDetail("table", tableName)
	}

	record := map[string]interface{}{
		"type":   "record",
		"name":   tableName,
		"fields": fields,
	}
	if namespace != "" {
		record["namespace"] = namespace
	}

	document, err := jsonpool.Marshal(record)
	if err != nil {
		return nil, spezerrors.Wrap(err, spezerrors.ErrorTypeSchema, "failed to render schema").
			WithDetail("table", tableName)
	}

	codec, err := goavro.NewCodec(string(document))
	if err != nil {
		return nil, spezerrors.Wrap(err, spezerrors.ErrorTypeSchema, "failed to compile schema").
			WithDetail("table", tableName)
	}

	i.logger.Debug("built schema",
		zap.String("table", tableName),
		zap.Int("columns", len(columns)),
		zap.String("schema", string(document)))

	return &SchemaSet{
		name:      tableName,
		namespace: namespace,
		document:  string(document),
		codec:     codec,
		columns:   columns,
		index:     index,
	}, nil
}
