// Package avro encodes source rows into Avro payloads described by a
// schema.SchemaSet, one row per payload.
//
// The default encoding is Avro's JSON encoding, indented, which makes every
// payload readable on its own. Binary encoding is available for consumers
// that hold the schema.
package avro

import (
	"fmt"
	"io"

	"go.uber.org/zap"

	jsonpool "github.com/spez-io/spez/pkg/json"
	"github.com/spez-io/spez/pkg/metrics"
	"github.com/spez-io/spez/pkg/models"
	"github.com/spez-io/spez/pkg/pool"
	"github.com/spez-io/spez/pkg/schema"
	"github.com/spez-io/spez/pkg/spezerrors"
	"github.com/spez-io/spez/pkg/typemap"
)

// Format selects the Avro encoding of a payload.
type Format string

const (
	// FormatJSON is Avro's JSON encoding.
	FormatJSON Format = "json"
	// FormatBinary is Avro's binary encoding.
	FormatBinary Format = "binary"
)

// ParseFormat validates a format name. The empty string selects FormatJSON.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatBinary:
		return FormatBinary, nil
	}
	return "", spezerrors.New(spezerrors.ErrorTypeConfig, fmt.Sprintf("unknown payload format %q", s))
}

// Anomaly reasons, used as log messages and metric labels.
const (
	ReasonTimestampArray      = "timestamp_array"
	ReasonUnknownElementType  = "unknown_element_type"
	ReasonElementTypeMismatch = "element_type_mismatch"
	ReasonUnknownType         = "unknown_type"
)

// EncodingError reports a failure to serialize a populated record.
type EncodingError struct {
	Table  string
	Format Format
	Err    error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode %s row of %s: %v", e.Format, e.Table, e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

// Encoder turns rows into payloads. It holds no per-row state and is safe
// for concurrent use.
type Encoder struct {
	format  Format
	pretty  bool
	indent  string
	logger  *zap.Logger
	metrics *metrics.Collector
}

// Option configures an Encoder.
type Option func(*Encoder)

// WithFormat selects the payload encoding.
func WithFormat(f Format) Option {
	return func(e *Encoder) { e.format = f }
}

// WithPretty toggles indentation of JSON payloads.
func WithPretty(pretty bool) Option {
	return func(e *Encoder) { e.pretty = pretty }
}

// WithLogger sets the logger for field anomalies.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Encoder) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Encoder) { e.metrics = c }
}

// NewEncoder creates an Encoder producing indented JSON by default.
func NewEncoder(opts ...Option) *Encoder {
	e := &Encoder{
		format: FormatJSON,
		pretty: true,
		indent: "  ",
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Format returns the payload encoding of e.
func (e *Encoder) Format() Format {
	return e.format
}

var defaultEncoder = NewEncoder()

// EncodeRow encodes row with the default Encoder.
func EncodeRow(set *schema.SchemaSet, row models.Row) ([]byte, error) {
	return defaultEncoder.EncodeRow(set, row)
}

// EncodeRow encodes one row against set and returns a freshly allocated
// payload owned by the caller.
//
// Columns whose values cannot be represented (arrays of timestamps, unknown
// element types) are logged and left at their schema default; the rest of
// the row is still encoded. NULL values are also left at their default.
// Accessor failures and serialization failures return an error and no
// payload.
func (e *Encoder) EncodeRow(set *schema.SchemaSet, row models.Row) ([]byte, error) {
	if set == nil || row == nil {
		return nil, spezerrors.New(spezerrors.ErrorTypeValidation, "schema set and row are required")
	}
	timer := metrics.NewTimer()
	payload, err := e.encode(set, row)
	e.metrics.RecordRow(set.Name(), timer.Stop(), len(payload), err)
	return payload, err
}

// EncodeRowTo encodes one row and writes the payload to w.
func (e *Encoder) EncodeRowTo(w io.Writer, set *schema.SchemaSet, row models.Row) (int, error) {
	payload, err := e.EncodeRow(set, row)
	if err != nil {
		return 0, err
	}
	n, err := w.Write(payload)
	if err != nil {
		return n, spezerrors.Wrap(&EncodingError{Table: set.Name(), Format: e.format, Err: err},
			spezerrors.ErrorTypeEncoding, "failed to write payload")
	}
	return n, nil
}

func (e *Encoder) encode(set *schema.SchemaSet, row models.Row) ([]byte, error) {
	native := pool.GetMap()
	defer pool.PutMap(native)

	if err := e.populate(set, row, native); err != nil {
		return nil, err
	}
	return e.serialize(set, native)
}

func (e *Encoder) populate(set *schema.SchemaSet, row models.Row, native map[string]interface{}) error {
	for i := 0; i < set.Len(); i++ {
		col := set.ColumnAt(i)

		null, err := row.IsNull(col.Name)
		if err != nil {
			return accessError(set, col, err)
		}
		if null {
			continue
		}

		if col.Type.IsArray() {
			items, ok, err := e.readArray(set, col, row)
			if err != nil {
				return accessError(set, col, err)
			}
			if ok {
				native[col.Name] = items
			}
			continue
		}

		d, ok := typemap.Lookup(col.Type.Code)
		if !ok {
			e.anomaly(set, col, ReasonUnknownType, zap.String("source_type", col.Type.Tag))
			continue
		}
		v, err := d.Scalar(row, col.Name)
		if err != nil {
			return accessError(set, col, err)
		}
		native[col.Name] = v
	}
	return nil
}

// readArray returns ok=false when the column must be left unset.
func (e *Encoder) readArray(set *schema.SchemaSet, col schema.Column, row models.Row) ([]interface{}, bool, error) {
	elemTag, err := row.ArrayElementType(col.Name)
	if err != nil {
		return nil, false, err
	}

	elem := col.Type.Elem
	if elemTag != "" {
		code, err := typemap.ParseElement(elemTag)
		if err != nil {
			e.anomaly(set, col, ReasonUnknownElementType, zap.String("element_type", elemTag))
			return nil, false, nil
		}
		if elem != "" && code != elem {
			e.anomaly(set, col, ReasonElementTypeMismatch,
				zap.String("element_type", elemTag),
				zap.String("declared", string(elem)))
			return nil, false, nil
		}
		elem = code
	}
	if elem == "" {
		e.anomaly(set, col, ReasonUnknownElementType)
		return nil, false, nil
	}

	d, _ := typemap.Lookup(elem)
	if !d.ArrayElementSupported() {
		e.anomaly(set, col, ReasonTimestampArray, zap.String("element_type", string(elem)))
		return nil, false, nil
	}

	items, err := d.List(row, col.Name)
	if err != nil {
		return nil, false, err
	}
	return typemap.WrapItems(col.Type, d, items), true, nil
}

func (e *Encoder) serialize(set *schema.SchemaSet, native map[string]interface{}) ([]byte, error) {
	buf := pool.GetScratch()
	defer pool.PutScratch(buf)

	var (
		out []byte
		err error
	)
	switch e.format {
	case FormatBinary:
		out, err = set.Codec().BinaryFromNative((*buf)[:0], native)
	default:
		out, err = set.Codec().TextualFromNative((*buf)[:0], native)
	}
	if err != nil {
		return nil, spezerrors.Wrap(&EncodingError{Table: set.Name(), Format: e.format, Err: err},
			spezerrors.ErrorTypeEncoding, "failed to serialize record")
	}
	*buf = out

	if e.format == FormatJSON {
		payload, err := e.layout(set, out)
		if err != nil {
			return nil, spezerrors.Wrap(&EncodingError{Table: set.Name(), Format: e.format, Err: err},
				spezerrors.ErrorTypeEncoding, "failed to lay out record")
		}
		return payload, nil
	}

	payload := make([]byte, len(out))
	copy(payload, out)
	return payload, nil
}

// layout rewrites a textual record with its members in schema field order,
// indented when pretty is set. Member values are copied verbatim.
func (e *Encoder) layout(set *schema.SchemaSet, record []byte) ([]byte, error) {
	members, err := jsonpool.Members(record)
	if err != nil {
		return nil, err
	}

	buf := jsonpool.GetBuffer()
	defer jsonpool.PutBuffer(buf)

	buf.WriteByte('{')
	for i, name := range set.FieldNames() {
		raw, ok := members[name]
		if !ok {
			return nil, fmt.Errorf("field %q missing from record", name)
		}
		if i > 0 {
			buf.WriteByte(',')
		}
		if e.pretty {
			buf.WriteByte('\n')
			buf.WriteString(e.indent)
		}
		buf.WriteByte('"')
		buf.WriteString(name)
		buf.WriteString(`":`)
		if !e.pretty {
			buf.Write(raw)
			continue
		}
		buf.WriteByte(' ')
		if err := jsonpool.IndentTo(buf, raw, e.indent, e.indent); err != nil {
			return nil, err
		}
	}
	if e.pretty && set.Len() > 0 {
		buf.WriteByte('\n')
	}
	buf.WriteByte('}')

	payload := make([]byte, buf.Len())
	copy(payload, buf.Bytes())
	return payload, nil
}

func (e *Encoder) anomaly(set *schema.SchemaSet, col schema.Column, reason string, fields ...zap.Field) {
	e.metrics.RecordAnomaly(set.Name(), reason)

	fields = append(fields,
		zap.String("table", set.Name()),
		zap.String("column", col.Name),
		zap.String("reason", reason))
	if reason == ReasonTimestampArray {
		e.logger.Warn("array of timestamps left unset", fields...)
		return
	}
	e.logger.Error("column left unset", fields...)
}

func accessError(set *schema.SchemaSet, col schema.Column, err error) error {
	return spezerrors.Wrap(err, spezerrors.ErrorTypeData, "failed to read column").
		WithDetail("table", set.Name()).
		WithDetail("column", col.Name).
		WithDetail("source_type", col.Type.Tag)
}
