// Package schema builds the Avro output schema for a table from its column
// metadata. The result, a SchemaSet, pairs the compiled schema with the
// ordered column-to-source-type mapping used later to encode rows.
package schema

import (
	"fmt"
	"strconv"

	"github.com/linkedin/goavro/v2"

	"github.com/spez-io/spez/pkg/models"
	"github.com/spez-io/spez/pkg/typemap"
)

// Column is one field of a SchemaSet.
type Column struct {
	Name string
	Type typemap.SourceType
}

// Tag returns the source type tag of the column.
func (c Column) Tag() string {
	return c.Type.Tag
}

// SchemaSet is the Avro schema of one table together with the source type of
// every column, in column order. Column names and Avro field names are the
// same sequence. A SchemaSet is immutable and safe for concurrent use.
type SchemaSet struct {
	name      string
	namespace string
	document  string
	codec     *goavro.Codec
	columns   []Column
	index     map[string]int
}

// Name returns the Avro record name (the table name).
func (s *SchemaSet) Name() string { return s.name }

// Namespace returns the Avro namespace.
func (s *SchemaSet) Namespace() string { return s.namespace }

// FullName returns the namespace-qualified record name.
func (s *SchemaSet) FullName() string {
	if s.namespace == "" {
		return s.name
	}
	return s.namespace + "." + s.name
}

// Codec returns the compiled output schema.
func (s *SchemaSet) Codec() *goavro.Codec { return s.codec }

// Schema returns the output schema as a JSON document.
func (s *SchemaSet) Schema() string { return s.document }

// Fingerprint returns the CRC-64-AVRO (Rabin) fingerprint of the canonical
// schema, formatted as hex.
func (s *SchemaSet) Fingerprint() string {
	return strconv.FormatUint(s.codec.Rabin, 16)
}

// Len returns the number of columns.
func (s *SchemaSet) Len() int { return len(s.columns) }

// Columns returns a copy of the columns in order.
func (s *SchemaSet) Columns() []Column {
	out := make([]Column, len(s.columns))
	copy(out, s.columns)
	return out
}

// ColumnTypes returns the ordered column name to type tag mapping.
func (s *SchemaSet) ColumnTypes() []models.ColumnPair {
	out := make([]models.ColumnPair, len(s.columns))
	for i, c := range s.columns {
		out[i] = models.ColumnPair{Name: c.Name, Tag: c.Type.Tag}
	}
	return out
}

// FieldNames returns the column names in order.
func (s *SchemaSet) FieldNames() []string {
	out := make([]string, len(s.columns))
	for i, c := range s.columns {
		out[i] = c.Name
	}
	return out
}

// ColumnAt returns the i-th column. It panics if i is out of range.
func (s *SchemaSet) ColumnAt(i int) Column { return s.columns[i] }

// Column looks a column up by name.
func (s *SchemaSet) Column(name string) (Column, bool) {
	i, ok := s.index[name]
	if !ok {
		return Column{}, false
	}
	return s.columns[i], true
}

// Tag returns the source type tag of a column.
func (s *SchemaSet) Tag(name string) (string, bool) {
	c, ok := s.Column(name)
	return c.Type.Tag, ok
}

func (s *SchemaSet) String() string {
	return fmt.Sprintf("%s(%d columns)", s.FullName(), len(s.columns))
}
