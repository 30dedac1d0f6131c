package schema

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	jsonpool "github.com/spez-io/spez/pkg/json"
	"github.com/spez-io/spez/pkg/metrics"
	"github.com/spez-io/spez/pkg/models"
	"github.com/spez-io/spez/pkg/spezerrors"
	"github.com/spez-io/spez/pkg/typemap"
)

func cursorOf(pairs ...string) models.MetadataCursor {
	cols := make([]models.ColumnPair, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		cols = append(cols, models.ColumnPair{Name: pairs[i], Tag: pairs[i+1]})
	}
	return models.NewSliceCursor(cols...)
}

type avroDoc struct {
	Type      string `json:"type"`
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
	Fields    []struct {
		Name    string      `json:"name"`
		Type    interface{} `json:"type"`
		Default interface{} `json:"default"`
	} `json:"fields"`
}

func parseDoc(t *testing.T, set *SchemaSet) avroDoc {
	t.Helper()
	var doc avroDoc
	require.NoError(t, jsonpool.Unmarshal([]byte(set.Schema()), &doc))
	return doc
}

func TestInferSchemaExample(t *testing.T) {
	set, err := InferSchema("Users", "com.example.spez",
		cursorOf("id", "INT64", "name", "STRING(MAX)", "active", "BOOL"))
	require.NoError(t, err)

	assert.Equal(t, "Users", set.Name())
	assert.Equal(t, "com.example.spez", set.Namespace())
	assert.Equal(t, "com.example.spez.Users", set.FullName())
	assert.Equal(t, 3, set.Len())
	assert.Equal(t, []string{"id", "name", "active"}, set.FieldNames())
	assert.Equal(t, []models.ColumnPair{
		{Name: "id", Tag: "INT64"},
		{Name: "name", Tag: "STRING(MAX)"},
		{Name: "active", Tag: "BOOL"},
	}, set.ColumnTypes())

	doc := parseDoc(t, set)
	assert.Equal(t, "record", doc.Type)
	require.Len(t, doc.Fields, 3)
	assert.Equal(t, "long", doc.Fields[0].Type)
	assert.Equal(t, "string", doc.Fields[1].Type)
	assert.Equal(t, "boolean", doc.Fields[2].Type)

	tag, ok := set.Tag("name")
	assert.True(t, ok)
	assert.Equal(t, "STRING(MAX)", tag)
	_, ok = set.Column("missing")
	assert.False(t, ok)

	assert.NotEmpty(t, set.Fingerprint())
	assert.Equal(t, "com.example.spez.Users(3 columns)", set.String())
}

func TestInferSchemaPreservesOrder(t *testing.T) {
	tags := []string{"BOOL", "BYTES", "DATE", "FLOAT64", "INT64", "STRING(MAX)", "TIMESTAMP", "ARRAY", "ARRAY<INT64>", "STRING(36)", "BYTES(MAX)"}
	var pairs []string
	var want []string
	for i := 0; i < 40; i++ {
		name := fmt.Sprintf("c%02d", (i*7)%40)
		want = append(want, name)
		pairs = append(pairs, name, tags[i%len(tags)])
	}

	set, err := InferSchema("Wide", "", cursorOf(pairs...))
	require.NoError(t, err)
	assert.Equal(t, want, set.FieldNames())

	doc := parseDoc(t, set)
	for i, f := range doc.Fields {
		assert.Equal(t, want[i], f.Name)
		assert.Equal(t, set.ColumnTypes()[i].Name, f.Name)
	}
	assert.Empty(t, doc.Namespace)
	assert.Equal(t, "Wide", set.FullName())
}

func TestInferSchemaArrayTypes(t *testing.T) {
	set, err := InferSchema("T", "ns", cursorOf("tags", "ARRAY", "ids", "ARRAY<INT64>", "at", "ARRAY<TIMESTAMP>"))
	require.NoError(t, err)

	doc := parseDoc(t, set)
	assert.Equal(t, map[string]interface{}{
		"type":  "array",
		"items": []interface{}{"boolean", "bytes", "double", "long", "string"},
	}, doc.Fields[0].Type)
	assert.Equal(t, map[string]interface{}{"type": "array", "items": "long"}, doc.Fields[1].Type)
	assert.Equal(t, map[string]interface{}{"type": "array", "items": "string"}, doc.Fields[2].Type)
	assert.Equal(t, []interface{}{}, doc.Fields[0].Default)

	col, ok := set.Column("ids")
	require.True(t, ok)
	assert.Equal(t, typemap.Int64, col.Type.Elem)
	assert.Equal(t, "ARRAY<INT64>", col.Tag())
}

func TestInferSchemaUnsupportedType(t *testing.T) {
	reg := prometheus.NewRegistry()
	core, logs := observer.New(zapcore.ErrorLevel)
	inf := NewInferencer(WithLogger(zap.New(core)), WithMetrics(metrics.NewCollector(reg)))

	set, err := inf.InferSchema("Accounts", "ns", cursorOf("id", "INT64", "balance", "NUMERIC", "name", "STRING(MAX)"))
	require.Error(t, err)
	assert.Nil(t, set)

	assert.True(t, errors.Is(err, typemap.ErrUnsupportedSourceType))
	var unsupported *typemap.UnsupportedSourceTypeError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "balance", unsupported.Column)
	assert.Equal(t, "NUMERIC", unsupported.Tag)
	assert.True(t, spezerrors.IsType(err, spezerrors.ErrorTypeSchema))

	assert.Equal(t, 1, logs.FilterMessage("failed to build schema").Len())
}

type errCursor struct{ calls int }

func (c *errCursor) Next() (string, string, error) {
	c.calls++
	if c.calls == 1 {
		return "id", "INT64", nil
	}
	return "", "", errors.New("session expired")
}

func TestInferSchemaValidation(t *testing.T) {
	tests := []struct {
		name     string
		table    string
		cursor   models.MetadataCursor
		wantType spezerrors.ErrorType
	}{
		{name: "empty table name", table: "", cursor: cursorOf("id", "INT64"), wantType: spezerrors.ErrorTypeValidation},
		{name: "nil cursor", table: "T", cursor: nil, wantType: spezerrors.ErrorTypeValidation},
		{name: "no columns", table: "T", cursor: cursorOf(), wantType: spezerrors.ErrorTypeValidation},
		{name: "duplicate column", table: "T", cursor: cursorOf("id", "INT64", "id", "STRING(MAX)"), wantType: spezerrors.ErrorTypeValidation},
		{name: "cursor failure", table: "T", cursor: &errCursor{}, wantType: spezerrors.ErrorTypeQuery},
		{name: "invalid avro name", table: "T", cursor: cursorOf("bad-name", "INT64"), wantType: spezerrors.ErrorTypeSchema},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := InferSchema(tt.table, "ns", tt.cursor)
			require.Error(t, err)
			assert.Nil(t, set)
			assert.Equal(t, tt.wantType, spezerrors.GetType(err))
		})
	}
}

func TestInferSchemaDebugLogging(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	inf := NewInferencer(WithLogger(zap.New(core)))

	_, err := inf.InferSchema("T", "ns", cursorOf("id", "INT64", "name", "STRING(MAX)"))
	require.NoError(t, err)
	assert.Equal(t, 2, logs.FilterMessage("mapped column").Len())
	assert.Equal(t, 1, logs.FilterMessage("built schema").Len())
}

func TestNewFromColumns(t *testing.T) {
	set, err := New("T", "", []models.ColumnPair{{Name: "a", Tag: "DATE"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, set.FieldNames())

	cols := set.Columns()
	cols[0].Name = "mutated"
	assert.Equal(t, []string{"a"}, set.FieldNames())
}

func TestRegistryLoad(t *testing.T) {
	var opens int32
	var closes int32
	open := func(ctx context.Context, table string) (models.MetadataCursor, func(), error) {
		atomic.AddInt32(&opens, 1)
		if table == "Broken" {
			return nil, nil, errors.New("no such table")
		}
		return cursorOf("id", "INT64"), func() { atomic.AddInt32(&closes, 1) }, nil
	}
	r := NewRegistry("ns", open, nil, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	sets := make([]*SchemaSet, 8)
	for i := range sets {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			set, err := r.Load(ctx, "Singers")
			assert.NoError(t, err)
			sets[i] = set
		}(i)
	}
	wg.Wait()

	for _, s := range sets[1:] {
		assert.Same(t, sets[0], s)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&opens), int32(8))
	assert.Equal(t, atomic.LoadInt32(&opens), atomic.LoadInt32(&closes))
	assert.Equal(t, []string{"Singers"}, r.Tables())

	before := atomic.LoadInt32(&opens)
	_, err := r.Load(ctx, "Singers")
	require.NoError(t, err)
	assert.Equal(t, before, atomic.LoadInt32(&opens), "cached load must not reopen")

	r.Invalidate("Singers")
	_, ok := r.Get("Singers")
	assert.False(t, ok)
	again, err := r.Load(ctx, "Singers")
	require.NoError(t, err)
	assert.NotSame(t, sets[0], again)

	_, err = r.Load(ctx, "Broken")
	assert.EqualError(t, err, "no such table")
	_, ok = r.Get("Broken")
	assert.False(t, ok)
}
