// Package typemap is the translation table between source database type tags
// and Avro types. Schema inference uses it to pick a field's Avro type and
// default; row encoding uses it to pick the Row accessor for a column. Both
// go through Parse and Lookup so the two can never disagree.
//
//	| tag                    | avro                          | array element |
//	|------------------------|-------------------------------|---------------|
//	| ARRAY                  | array of generic item union   | by row        |
//	| ARRAY<ELEM>            | array of ELEM's avro type     | ELEM          |
//	| BOOL                   | boolean                       | yes           |
//	| BYTES, BYTES(n)        | bytes                         | yes           |
//	| DATE                   | string                        | yes           |
//	| FLOAT64                | double                        | yes           |
//	| INT64                  | long                          | yes           |
//	| STRING(MAX), *STRING*  | string                        | yes           |
//	| TIMESTAMP              | string                        | no            |
package typemap

import (
	"errors"
	"fmt"
	"time"

	"github.com/spez-io/spez/pkg/models"
)

// Code is the base type of a source column.
type Code string

const (
	Array     Code = "ARRAY"
	Bool      Code = "BOOL"
	Bytes     Code = "BYTES"
	Date      Code = "DATE"
	Float64   Code = "FLOAT64"
	Int64     Code = "INT64"
	String    Code = "STRING"
	Timestamp Code = "TIMESTAMP"
)

// ErrUnsupportedSourceType is matched by errors.Is for every
// UnsupportedSourceTypeError.
var ErrUnsupportedSourceType = errors.New("unsupported source type")

// UnsupportedSourceTypeError reports a type tag with no Avro translation.
type UnsupportedSourceTypeError struct {
	Column string
	Tag    string
}

func (e *UnsupportedSourceTypeError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("unsupported source type %q", e.Tag)
	}
	return fmt.Sprintf("unsupported source type %q for column %q", e.Tag, e.Column)
}

// Is makes errors.Is(err, ErrUnsupportedSourceType) true.
func (e *UnsupportedSourceTypeError) Is(target error) bool {
	return target == ErrUnsupportedSourceType
}

// ScalarFunc reads a column as the native value its Avro type expects.
type ScalarFunc func(row models.Row, column string) (interface{}, error)

// ListFunc reads an array column as native values of its element Avro type.
type ListFunc func(row models.Row, column string) ([]interface{}, error)

// Descriptor is one row of the translation table.
type Descriptor struct {
	Code Code
	// Avro is the Avro primitive type name.
	Avro string
	// Default is the field default written into the schema, in the JSON
	// form Avro expects. Unset fields encode as this value.
	Default interface{}
	Scalar  ScalarFunc
	// List is nil when arrays of this type cannot be encoded.
	List ListFunc
}

// ArrayElementSupported reports whether arrays of this type can be encoded.
func (d *Descriptor) ArrayElementSupported() bool {
	return d.List != nil
}

var table = map[Code]*Descriptor{
	Bool: {
		Code: Bool, Avro: "boolean", Default: false,
		Scalar: scalar(models.Row.GetBool),
		List:   list(models.Row.GetBoolList),
	},
	Bytes: {
		Code: Bytes, Avro: "bytes", Default: "",
		Scalar: scalar(models.Row.GetBytes),
		List:   list(models.Row.GetBytesList),
	},
	Date: {
		Code: Date, Avro: "string", Default: "",
		Scalar: scalar(models.Row.GetDate),
		List:   list(models.Row.GetDateList),
	},
	Float64: {
		Code: Float64, Avro: "double", Default: 0.0,
		Scalar: scalar(models.Row.GetFloat64),
		List:   list(models.Row.GetFloat64List),
	},
	Int64: {
		Code: Int64, Avro: "long", Default: 0,
		Scalar: scalar(models.Row.GetInt64),
		List:   list(models.Row.GetInt64List),
	},
	String: {
		Code: String, Avro: "string", Default: "",
		Scalar: scalar(models.Row.GetString),
		List:   list(models.Row.GetStringList),
	},
	Timestamp: {
		Code: Timestamp, Avro: "string", Default: "",
		Scalar: func(row models.Row, column string) (interface{}, error) {
			ts, err := row.GetTimestamp(column)
			if err != nil {
				return nil, err
			}
			return FormatTimestamp(ts), nil
		},
	},
}

// genericItems is the item type of an ARRAY column whose element type is
// only known per row. Items are encoded as single-branch unions.
var genericItems = []string{"boolean", "bytes", "double", "long", "string"}

// Lookup returns the descriptor for a scalar code.
func Lookup(code Code) (*Descriptor, bool) {
	d, ok := table[code]
	return d, ok
}

// Codes returns the scalar codes in the table, in a stable order.
func Codes() []Code {
	return []Code{Bool, Bytes, Date, Float64, Int64, String, Timestamp}
}

// FormatTimestamp renders a timestamp the way it is stored in Avro strings.
func FormatTimestamp(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}

func scalar[T any](get func(models.Row, string) (T, error)) ScalarFunc {
	return func(row models.Row, column string) (interface{}, error) {
		v, err := get(row, column)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
}

func list[T any](get func(models.Row, string) ([]T, error)) ListFunc {
	return func(row models.Row, column string) ([]interface{}, error) {
		vs, err := get(row, column)
		if err != nil {
			return nil, err
		}
		out := make([]interface{}, len(vs))
		for i, v := range vs {
			out[i] = v
		}
		return out, nil
	}
}
