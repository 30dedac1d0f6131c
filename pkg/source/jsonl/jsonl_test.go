package jsonl

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spez-io/spez/pkg/formats/avro"
	"github.com/spez-io/spez/pkg/models"
	"github.com/spez-io/spez/pkg/schema"
	"github.com/spez-io/spez/pkg/spezerrors"
)

var userColumns = []models.ColumnPair{
	{Name: "UserId", Tag: "INT64"},
	{Name: "Name", Tag: "STRING(MAX)"},
	{Name: "Score", Tag: "FLOAT64"},
	{Name: "Joined", Tag: "DATE"},
	{Name: "Seen", Tag: "TIMESTAMP"},
	{Name: "Tags", Tag: "ARRAY<STRING(MAX)>"},
	{Name: "Anything", Tag: "ARRAY"},
}

func fromString(rows string) *Source {
	return NewSource("Users", userColumns, func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(rows)), nil
	}, nil)
}

func scanAll(t *testing.T, s *Source) []models.Row {
	t.Helper()
	var rows []models.Row
	require.NoError(t, s.Scan(context.Background(), "Users", func(r models.Row) error {
		rows = append(rows, r)
		return nil
	}))
	return rows
}

func TestScanTypes(t *testing.T) {
	s := fromString(`{"UserId": 42, "Name": "Ada", "Score": 9.5, "Joined": "2024-03-01", "Seen": "2024-03-01T11:30:00Z", "Tags": ["a", "b"], "Anything": [1, 2]}
{"UserId": 43, "Anything": [true]}
`)
	rows := scanAll(t, s)
	require.Len(t, rows, 2)

	id, err := rows[0].GetInt64("UserId")
	require.NoError(t, err)
	assert.EqualValues(t, 42, id)

	score, err := rows[0].GetFloat64("Score")
	require.NoError(t, err)
	assert.InDelta(t, 9.5, score, 1e-9)

	tags, err := rows[0].GetStringList("Tags")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, tags)

	elem, err := rows[0].ArrayElementType("Anything")
	require.NoError(t, err)
	assert.Equal(t, "INT64", elem)

	elem, err = rows[1].ArrayElementType("Anything")
	require.NoError(t, err)
	assert.Equal(t, "BOOL", elem)

	// absent keys are NULL
	null, err := rows[1].IsNull("Name")
	require.NoError(t, err)
	assert.True(t, null)
}

func TestScanEncodes(t *testing.T) {
	s := fromString(`{"UserId": 7, "Name": "Grace", "Tags": ["x"], "Anything": [1.5]}` + "\n")

	cursor, release, err := s.Columns(context.Background(), "Users")
	require.NoError(t, err)
	assert.Nil(t, release)
	set, err := schema.InferSchema("Users", "com.example", cursor)
	require.NoError(t, err)

	rows := scanAll(t, s)
	require.Len(t, rows, 1)

	enc := avro.NewEncoder(avro.WithPretty(false))
	payload, err := enc.EncodeRow(set, rows[0])
	require.NoError(t, err)

	native, err := avro.Decode(set, payload, avro.FormatJSON)
	require.NoError(t, err)
	assert.EqualValues(t, 7, native["UserId"])
	assert.Equal(t, "Grace", native["Name"])
	assert.Equal(t, "", native["Joined"])
	assert.Equal(t, []interface{}{1.5}, native["Anything"])
}

func TestScanMalformedRow(t *testing.T) {
	s := fromString(`{"UserId": 1}
{"UserId": `)
	count := 0
	err := s.Scan(context.Background(), "Users", func(models.Row) error {
		count++
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, 1, count)
	assert.True(t, spezerrors.IsType(err, spezerrors.ErrorTypeData))
}

func TestUnknownTable(t *testing.T) {
	s := fromString("")
	_, _, err := s.Columns(context.Background(), "Orders")
	require.Error(t, err)
	assert.True(t, spezerrors.IsType(err, spezerrors.ErrorTypeValidation))

	err = s.Scan(context.Background(), "Orders", func(models.Row) error { return nil })
	assert.True(t, spezerrors.IsType(err, spezerrors.ErrorTypeValidation))
}

func TestScanCanceled(t *testing.T) {
	s := fromString(`{"UserId": 1}` + "\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Scan(ctx, "Users", func(models.Row) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadColumns(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "users.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- name: UserId\n  type: INT64\n- name: Name\n  type: STRING(64)\n"), 0o600))
	cols, err := LoadColumns(path)
	require.NoError(t, err)
	assert.Equal(t, []models.ColumnPair{{Name: "UserId", Tag: "INT64"}, {Name: "Name", Tag: "STRING(64)"}}, cols)

	jsonPath := filepath.Join(dir, "users.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`[{"name": "Id", "type": "INT64"}]`), 0o600))
	cols, err = LoadColumns(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, []models.ColumnPair{{Name: "Id", Tag: "INT64"}}, cols)

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("[]"), 0o600))
	_, err = LoadColumns(empty)
	assert.True(t, spezerrors.IsType(err, spezerrors.ErrorTypeConfig))

	_, err = LoadColumns(filepath.Join(dir, "missing.yaml"))
	assert.True(t, spezerrors.IsType(err, spezerrors.ErrorTypeConfig))
}

func TestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"UserId": 1}`+"\n"+`{"UserId": 2}`+"\n"), 0o600))

	s := FromFile("Users", userColumns, path, nil)
	assert.Len(t, scanAll(t, s), 2)
	// rescans reopen the file
	assert.Len(t, scanAll(t, s), 2)
	assert.NoError(t, s.Close())
}
