package models

import (
	"encoding/base64"
	"fmt"
	"math"
	"time"
)

const dateLayout = "2006-01-02"

// MapRow is a Row backed by a map of Go values. Values may be native Go types
// (bool, []byte, string, float64, int64, time.Time and slices of those) or
// the loosely typed values produced by a JSON decoder (float64 or json.Number
// for numbers, base64 strings for bytes, RFC 3339 strings for timestamps and
// []interface{} for arrays). A nil value is a NULL.
type MapRow struct {
	values    map[string]interface{}
	elemTypes map[string]string
}

// NewMapRow wraps values. The map is not copied and must not be modified
// while the row is in use.
func NewMapRow(values map[string]interface{}) *MapRow {
	return &MapRow{values: values, elemTypes: make(map[string]string)}
}

// WithElementType records the element type tag of an array column, for
// arrays whose Go type does not identify it ([]interface{} or []string
// holding dates).
func (r *MapRow) WithElementType(column, tag string) *MapRow {
	r.elemTypes[column] = tag
	return r
}

func (r *MapRow) value(column string) (interface{}, error) {
	v, ok := r.values[column]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, column)
	}
	return v, nil
}

// IsNull implements Row.
func (r *MapRow) IsNull(column string) (bool, error) {
	v, err := r.value(column)
	if err != nil {
		return false, err
	}
	return v == nil, nil
}

// ArrayElementType implements Row.
func (r *MapRow) ArrayElementType(column string) (string, error) {
	if tag, ok := r.elemTypes[column]; ok {
		return tag, nil
	}
	v, err := r.value(column)
	if err != nil {
		return "", err
	}
	switch v.(type) {
	case []bool:
		return "BOOL", nil
	case [][]byte:
		return "BYTES", nil
	case []string:
		return "STRING", nil
	case []float64:
		return "FLOAT64", nil
	case []int64:
		return "INT64", nil
	case []time.Time:
		return "TIMESTAMP", nil
	}
	return "", nil
}

func mismatch(column string, want string, got interface{}) error {
	return fmt.Errorf("%w: column %q: want %s, have %T", ErrTypeMismatch, column, want, got)
}

// GetBool implements Row.
func (r *MapRow) GetBool(column string) (bool, error) {
	v, err := r.value(column)
	if err != nil {
		return false, err
	}
	return toBool(column, v)
}

// GetBytes implements Row.
func (r *MapRow) GetBytes(column string) ([]byte, error) {
	v, err := r.value(column)
	if err != nil {
		return nil, err
	}
	return toBytes(column, v)
}

// GetString implements Row.
func (r *MapRow) GetString(column string) (string, error) {
	v, err := r.value(column)
	if err != nil {
		return "", err
	}
	return toString(column, v)
}

// GetDate implements Row.
func (r *MapRow) GetDate(column string) (string, error) {
	v, err := r.value(column)
	if err != nil {
		return "", err
	}
	return toDate(column, v)
}

// GetFloat64 implements Row.
func (r *MapRow) GetFloat64(column string) (float64, error) {
	v, err := r.value(column)
	if err != nil {
		return 0, err
	}
	return toFloat64(column, v)
}

// GetInt64 implements Row.
func (r *MapRow) GetInt64(column string) (int64, error) {
	v, err := r.value(column)
	if err != nil {
		return 0, err
	}
	return toInt64(column, v)
}

// GetTimestamp implements Row.
func (r *MapRow) GetTimestamp(column string) (time.Time, error) {
	v, err := r.value(column)
	if err != nil {
		return time.Time{}, err
	}
	return toTime(column, v)
}

// GetBoolList implements Row.
func (r *MapRow) GetBoolList(column string) ([]bool, error) {
	return listOf(r, column, toBool)
}

// GetBytesList implements Row.
func (r *MapRow) GetBytesList(column string) ([][]byte, error) {
	return listOf(r, column, toBytes)
}

// GetStringList implements Row.
func (r *MapRow) GetStringList(column string) ([]string, error) {
	return listOf(r, column, toString)
}

// GetDateList implements Row.
func (r *MapRow) GetDateList(column string) ([]string, error) {
	return listOf(r, column, toDate)
}

// GetFloat64List implements Row.
func (r *MapRow) GetFloat64List(column string) ([]float64, error) {
	return listOf(r, column, toFloat64)
}

// GetInt64List implements Row.
func (r *MapRow) GetInt64List(column string) ([]int64, error) {
	return listOf(r, column, toInt64)
}

func listOf[T any](r *MapRow, column string, conv func(string, interface{}) (T, error)) ([]T, error) {
	v, err := r.value(column)
	if err != nil {
		return nil, err
	}
	if typed, ok := v.([]T); ok {
		return typed, nil
	}
	items, ok := v.([]interface{})
	if !ok {
		var zero T
		return nil, mismatch(column, fmt.Sprintf("[]%T", zero), v)
	}
	out := make([]T, len(items))
	for i, item := range items {
		if item == nil {
			continue
		}
		if out[i], err = conv(column, item); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func toBool(column string, v interface{}) (bool, error) {
	if b, ok := v.(bool); ok {
		return b, nil
	}
	return false, mismatch(column, "bool", v)
}

func toBytes(column string, v interface{}) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		decoded, err := base64.StdEncoding.DecodeString(b)
		if err != nil {
			return nil, fmt.Errorf("%w: column %q: bytes must be base64: %v", ErrTypeMismatch, column, err)
		}
		return decoded, nil
	}
	return nil, mismatch(column, "bytes", v)
}

func toString(column string, v interface{}) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return "", mismatch(column, "string", v)
}

func toDate(column string, v interface{}) (string, error) {
	switch d := v.(type) {
	case string:
		return d, nil
	case time.Time:
		return d.Format(dateLayout), nil
	case fmt.Stringer:
		return d.String(), nil
	}
	return "", mismatch(column, "date", v)
}

// int64er matches encoding/json.Number and goccy/go-json's Number.
type int64er interface {
	Int64() (int64, error)
}

type float64er interface {
	Float64() (float64, error)
}

func toFloat64(column string, v interface{}) (float64, error) {
	switch f := v.(type) {
	case float64:
		return f, nil
	case float32:
		return float64(f), nil
	case int64:
		return float64(f), nil
	case int:
		return float64(f), nil
	case float64er:
		return f.Float64()
	}
	return 0, mismatch(column, "float64", v)
}

func toInt64(column string, v interface{}) (int64, error) {
	switch i := v.(type) {
	case int64:
		return i, nil
	case int:
		return int64(i), nil
	case int32:
		return int64(i), nil
	case int16:
		return int64(i), nil
	case float64:
		if i != math.Trunc(i) || math.IsInf(i, 0) {
			return 0, mismatch(column, "int64", v)
		}
		return int64(i), nil
	case int64er:
		return i.Int64()
	}
	return 0, mismatch(column, "int64", v)
}

func toTime(column string, v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: column %q: %v", ErrTypeMismatch, column, err)
		}
		return parsed, nil
	}
	return time.Time{}, mismatch(column, "timestamp", v)
}
