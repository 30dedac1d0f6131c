package avro

import (
	"bytes"
	"fmt"

	"github.com/spez-io/spez/pkg/schema"
	"github.com/spez-io/spez/pkg/spezerrors"
	"github.com/spez-io/spez/pkg/typemap"
)

// Decode reads a payload produced by EncodeRow back into plain Go values:
// bool, []byte, string, float64, int64 and []interface{} for arrays. Items of
// generic arrays are unwrapped from their union branch. Empty arrays and
// bytes decode to empty, non-nil values in both formats.
func Decode(set *schema.SchemaSet, payload []byte, format Format) (map[string]interface{}, error) {
	record, rest, err := DecodeNext(set, payload, format)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, spezerrors.New(spezerrors.ErrorTypeEncoding,
			fmt.Sprintf("%d trailing bytes after record", len(rest))).
			WithDetail("table", set.Name())
	}
	return record, nil
}

// DecodeNext decodes the first record of a stream of concatenated payloads
// and returns the bytes after it. For JSON the surrounding whitespace is
// dropped, so rest is empty at the end of the stream.
func DecodeNext(set *schema.SchemaSet, buf []byte, format Format) (map[string]interface{}, []byte, error) {
	var (
		native interface{}
		rest   []byte
		err    error
	)
	switch format {
	case FormatBinary:
		native, rest, err = set.Codec().NativeFromBinary(buf)
	default:
		native, rest, err = set.Codec().NativeFromTextual(bytes.TrimSpace(buf))
		rest = bytes.TrimSpace(rest)
	}
	if err != nil {
		return nil, nil, spezerrors.Wrap(err, spezerrors.ErrorTypeEncoding, "failed to decode payload").
			WithDetail("table", set.Name())
	}

	record, ok := native.(map[string]interface{})
	if !ok {
		return nil, nil, spezerrors.New(spezerrors.ErrorTypeEncoding,
			fmt.Sprintf("decoded %T, want record", native))
	}

	normalize(set, record)
	return record, rest, nil
}

// normalize makes decoded values independent of the payload format: empty
// arrays and bytes come back as empty, non-nil values.
func normalize(set *schema.SchemaSet, record map[string]interface{}) {
	for i := 0; i < set.Len(); i++ {
		col := set.ColumnAt(i)
		v := record[col.Name]

		if !col.Type.IsArray() {
			if col.Type.Code == typemap.Bytes {
				record[col.Name] = nonNilBytes(v)
			}
			continue
		}

		items, _ := v.([]interface{})
		if items == nil {
			items = []interface{}{}
		}
		if col.Type.Generic() {
			items = typemap.UnwrapItems(items)
		}
		for j, item := range items {
			if _, ok := item.([]byte); ok {
				items[j] = nonNilBytes(item)
			}
		}
		record[col.Name] = items
	}
}

func nonNilBytes(v interface{}) interface{} {
	if b, _ := v.([]byte); b != nil {
		return b
	}
	if s, ok := v.(string); ok {
		return []byte(s)
	}
	return []byte{}
}
