package spanner

import (
	"fmt"
	"time"

	"cloud.google.com/go/spanner"
	sppb "cloud.google.com/go/spanner/apiv1/spannerpb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/spez-io/spez/pkg/models"
	"github.com/spez-io/spez/pkg/typemap"
)

// Row adapts a *spanner.Row to models.Row. NULL array elements read as the
// element type's zero value.
type Row struct {
	row *spanner.Row
}

var _ models.Row = (*Row)(nil)

// NewRow wraps row.
func NewRow(row *spanner.Row) *Row {
	return &Row{row: row}
}

func (r *Row) index(column string) (int, error) {
	i, err := r.row.ColumnIndex(column)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", models.ErrColumnNotFound, column)
	}
	return i, nil
}

func decode[T any](r *Row, column string) (T, error) {
	var v T
	i, err := r.index(column)
	if err != nil {
		return v, err
	}
	if err := r.row.Column(i, &v); err != nil {
		return v, fmt.Errorf("%w: column %q: %v", models.ErrTypeMismatch, column, err)
	}
	return v, nil
}

func decodeList[S, T any](r *Row, column string, conv func(S) T) ([]T, error) {
	in, err := decode[[]S](r, column)
	if err != nil {
		return nil, err
	}
	out := make([]T, len(in))
	for i, v := range in {
		out[i] = conv(v)
	}
	return out, nil
}

// IsNull implements models.Row.
func (r *Row) IsNull(column string) (bool, error) {
	v, err := decode[spanner.GenericColumnValue](r, column)
	if err != nil {
		return false, err
	}
	_, null := v.Value.GetKind().(*structpb.Value_NullValue)
	return null, nil
}

// ArrayElementType implements models.Row. It returns "" for columns that are
// not arrays.
func (r *Row) ArrayElementType(column string) (string, error) {
	i, err := r.index(column)
	if err != nil {
		return "", err
	}
	t := r.row.ColumnType(i)
	if t.GetCode() != sppb.TypeCode_ARRAY {
		return "", nil
	}
	return t.GetArrayElementType().GetCode().String(), nil
}

// GetBool implements models.Row.
func (r *Row) GetBool(column string) (bool, error) {
	v, err := decode[spanner.NullBool](r, column)
	return v.Bool, err
}

// GetBytes implements models.Row.
func (r *Row) GetBytes(column string) ([]byte, error) {
	return decode[[]byte](r, column)
}

// GetString implements models.Row.
func (r *Row) GetString(column string) (string, error) {
	v, err := decode[spanner.NullString](r, column)
	return v.StringVal, err
}

// GetDate implements models.Row.
func (r *Row) GetDate(column string) (string, error) {
	v, err := decode[spanner.NullDate](r, column)
	if err != nil || !v.Valid {
		return "", err
	}
	return v.Date.String(), nil
}

// GetFloat64 implements models.Row.
func (r *Row) GetFloat64(column string) (float64, error) {
	v, err := decode[spanner.NullFloat64](r, column)
	return v.Float64, err
}

// GetInt64 implements models.Row.
func (r *Row) GetInt64(column string) (int64, error) {
	v, err := decode[spanner.NullInt64](r, column)
	return v.Int64, err
}

// GetTimestamp implements models.Row.
func (r *Row) GetTimestamp(column string) (time.Time, error) {
	v, err := decode[spanner.NullTime](r, column)
	return v.Time, err
}

// GetBoolList implements models.Row.
func (r *Row) GetBoolList(column string) ([]bool, error) {
	return decodeList(r, column, func(v spanner.NullBool) bool { return v.Bool })
}

// GetBytesList implements models.Row.
func (r *Row) GetBytesList(column string) ([][]byte, error) {
	return decode[[][]byte](r, column)
}

// GetStringList implements models.Row.
func (r *Row) GetStringList(column string) ([]string, error) {
	return decodeList(r, column, func(v spanner.NullString) string { return v.StringVal })
}

// GetDateList implements models.Row.
func (r *Row) GetDateList(column string) ([]string, error) {
	return decodeList(r, column, func(v spanner.NullDate) string {
		if !v.Valid {
			return ""
		}
		return v.Date.String()
	})
}

// GetFloat64List implements models.Row.
func (r *Row) GetFloat64List(column string) ([]float64, error) {
	return decodeList(r, column, func(v spanner.NullFloat64) float64 { return v.Float64 })
}

// GetInt64List implements models.Row.
func (r *Row) GetInt64List(column string) ([]int64, error) {
	return decodeList(r, column, func(v spanner.NullInt64) int64 { return v.Int64 })
}

// TypeTag renders a Spanner column type the way INFORMATION_SCHEMA reports
// it, without lengths: "INT64", "ARRAY<STRING>".
func TypeTag(t *sppb.Type) string {
	if t.GetCode() == sppb.TypeCode_ARRAY {
		return fmt.Sprintf("%s<%s>", typemap.Array, TypeTag(t.GetArrayElementType()))
	}
	return t.GetCode().String()
}
