// Package models defines the surfaces spez reads from a source database: a
// metadata cursor describing a table's columns and a row exposing typed
// accessors by column name.
//
// Source adapters (Cloud Spanner, database/sql) implement these interfaces;
// MapRow and SliceCursor are in-memory implementations for tests and for
// rows supplied as JSON.
package models

import (
	"errors"
	"io"
	"time"
)

var (
	// ErrColumnNotFound is returned by Row accessors for an unknown column.
	ErrColumnNotFound = errors.New("column not found")
	// ErrTypeMismatch is returned when a column's value cannot be read as
	// the requested type.
	ErrTypeMismatch = errors.New("column type mismatch")
)

// ColumnPair is one entry of a table's metadata: the column name and the
// source database's type tag for it (for example "INT64" or "STRING(MAX)").
type ColumnPair struct {
	Name string `json:"name" yaml:"name"`
	Tag  string `json:"type" yaml:"type"`
}

// MetadataCursor yields a table's columns in declaration order.
// Next returns io.EOF once the columns are exhausted.
type MetadataCursor interface {
	Next() (name, tag string, err error)
}

// Row is a read-only view of one source row. Accessors address columns by
// name; scalar accessors are only valid when IsNull reports false.
//
// List accessors return one element per array entry. A NULL element is
// returned as the element type's zero value.
type Row interface {
	IsNull(column string) (bool, error)
	// ArrayElementType returns the type tag of the elements of an array
	// column, or "" when the row cannot tell.
	ArrayElementType(column string) (string, error)

	GetBool(column string) (bool, error)
	GetBytes(column string) ([]byte, error)
	GetString(column string) (string, error)
	// GetDate returns the date in its textual form, YYYY-MM-DD.
	GetDate(column string) (string, error)
	GetFloat64(column string) (float64, error)
	GetInt64(column string) (int64, error)
	GetTimestamp(column string) (time.Time, error)

	GetBoolList(column string) ([]bool, error)
	GetBytesList(column string) ([][]byte, error)
	GetStringList(column string) ([]string, error)
	GetDateList(column string) ([]string, error)
	GetFloat64List(column string) ([]float64, error)
	GetInt64List(column string) ([]int64, error)
}

// SliceCursor is a MetadataCursor over a fixed list of columns.
type SliceCursor struct {
	columns []ColumnPair
	pos     int
}

// NewSliceCursor returns a cursor yielding columns in order.
func NewSliceCursor(columns ...ColumnPair) *SliceCursor {
	return &SliceCursor{columns: columns}
}

// Next implements MetadataCursor.
func (c *SliceCursor) Next() (string, string, error) {
	if c.pos >= len(c.columns) {
		return "", "", io.EOF
	}
	col := c.columns[c.pos]
	c.pos++
	return col.Name, col.Tag, nil
}

// Collect drains a cursor into a slice. It is mostly useful for logging and
// for adapters that must release a connection before inference starts.
func Collect(cursor MetadataCursor) ([]ColumnPair, error) {
	var out []ColumnPair
	for {
		name, tag, err := cursor.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, ColumnPair{Name: name, Tag: tag})
	}
}
