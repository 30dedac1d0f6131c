// Package jsonl reads a table's rows from newline-delimited JSON objects,
// with the table's columns declared separately in a YAML or JSON file.
//
// A columns file lists the columns in order:
//
//	- name: UserId
//	  type: INT64
//	- name: Tags
//	  type: ARRAY<STRING(MAX)>
//
// Rows use JSON's natural types. Bytes are base64 strings, timestamps are
// RFC 3339 strings and absent keys are NULL.
package jsonl

import (
	"context"
	"errors"
	"io"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	jsonpool "github.com/spez-io/spez/pkg/json"
	"github.com/spez-io/spez/pkg/models"
	"github.com/spez-io/spez/pkg/spezerrors"
	"github.com/spez-io/spez/pkg/typemap"
)

// OpenFunc opens the row stream. It is called once per Scan.
type OpenFunc func() (io.ReadCloser, error)

// Source serves one table whose rows are JSON objects.
type Source struct {
	table   string
	columns []models.ColumnPair
	types   map[string]typemap.SourceType
	open    OpenFunc
	logger  *zap.Logger
}

// NewSource creates a Source for table.
func NewSource(table string, columns []models.ColumnPair, open OpenFunc, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	types := make(map[string]typemap.SourceType, len(columns))
	for _, col := range columns {
		if t, err := typemap.Parse(col.Tag); err == nil {
			types[col.Name] = t
		}
	}
	return &Source{
		table:   table,
		columns: columns,
		types:   types,
		open:    open,
		logger:  logger.With(zap.String("table", table)),
	}
}

// FromFile reads rows from path, or from stdin when path is "-" or empty.
func FromFile(table string, columns []models.ColumnPair, path string, logger *zap.Logger) *Source {
	return NewSource(table, columns, func() (io.ReadCloser, error) {
		if path == "" || path == "-" {
			return io.NopCloser(os.Stdin), nil
		}
		return os.Open(path) //nolint:gosec // G304: path comes from the command line
	}, logger)
}

// LoadColumns reads a columns file.
func LoadColumns(path string) ([]models.ColumnPair, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the command line
	if err != nil {
		return nil, spezerrors.Wrap(err, spezerrors.ErrorTypeConfig, "failed to read columns file").
			WithDetail("path", path)
	}
	var cols []models.ColumnPair
	if err := yaml.Unmarshal(data, &cols); err != nil {
		return nil, spezerrors.Wrap(err, spezerrors.ErrorTypeConfig, "failed to parse columns file").
			WithDetail("path", path)
	}
	if len(cols) == 0 {
		return nil, spezerrors.New(spezerrors.ErrorTypeConfig, "columns file declares no columns").
			WithDetail("path", path)
	}
	return cols, nil
}

func (s *Source) checkTable(table string) error {
	if table != s.table {
		return spezerrors.New(spezerrors.ErrorTypeValidation, "unknown table").
			WithDetail("table", table).
			WithDetail("available", s.table)
	}
	return nil
}

// Columns implements source.Source.
func (s *Source) Columns(_ context.Context, table string) (models.MetadataCursor, func(), error) {
	if err := s.checkTable(table); err != nil {
		return nil, nil, err
	}
	return models.NewSliceCursor(s.columns...), nil, nil
}

// Scan implements source.Source.
func (s *Source) Scan(ctx context.Context, table string, fn func(models.Row) error) error {
	if err := s.checkTable(table); err != nil {
		return err
	}
	r, err := s.open()
	if err != nil {
		return spezerrors.Wrap(err, spezerrors.ErrorTypeConnection, "failed to open rows")
	}
	defer r.Close()

	dec := jsonpool.NewDecoder(r)
	dec.UseNumber()

	var line int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var values map[string]interface{}
		err := dec.Decode(&values)
		if errors.Is(err, io.EOF) {
			s.logger.Debug("rows read", zap.Int64("rows", line))
			return nil
		}
		line++
		if err != nil {
			return spezerrors.Wrap(err, spezerrors.ErrorTypeData, "malformed row").
				WithDetail("table", table).
				WithDetail("row", line)
		}
		if err := fn(s.row(values)); err != nil {
			return err
		}
	}
}

// Close implements source.Source.
func (s *Source) Close() error {
	return nil
}

func (s *Source) row(values map[string]interface{}) *models.MapRow {
	if values == nil {
		values = make(map[string]interface{}, len(s.columns))
	}
	for _, col := range s.columns {
		if _, ok := values[col.Name]; !ok {
			values[col.Name] = nil
		}
	}
	row := models.NewMapRow(values)
	for name, t := range s.types {
		if !t.IsArray() {
			continue
		}
		if t.Elem != "" {
			row.WithElementType(name, string(t.Elem))
			continue
		}
		if tag := elementTag(values[name]); tag != "" {
			row.WithElementType(name, tag)
		}
	}
	return row
}

type number interface {
	Int64() (int64, error)
}

// elementTag guesses the element type of a bare ARRAY from its first
// non-null item.
func elementTag(v interface{}) string {
	items, ok := v.([]interface{})
	if !ok {
		return ""
	}
	for _, item := range items {
		switch n := item.(type) {
		case nil:
			continue
		case bool:
			return string(typemap.Bool)
		case string:
			return string(typemap.String)
		case number:
			if _, err := n.Int64(); err == nil {
				return string(typemap.Int64)
			}
			return string(typemap.Float64)
		default:
			return ""
		}
	}
	return ""
}
