package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jsonpool "github.com/spez-io/spez/pkg/json"
	"github.com/spez-io/spez/pkg/spezerrors"
)

const usersColumns = `- name: UserId
  type: INT64
- name: Name
  type: STRING(MAX)
- name: Joined
  type: DATE
- name: Tags
  type: ARRAY<STRING(MAX)>
`

const usersRows = `{"UserId": 1, "Name": "Ada", "Joined": "2024-03-01", "Tags": ["a"]}
{"UserId": 2, "Name": "Grace"}
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(append([]string{"--log-level", "error"}, args...), strings.NewReader(stdin), &stdout, &stderr)
	return stdout.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "spez v"+version)
}

func TestTypes(t *testing.T) {
	out, err := execute(t, "", "types")
	require.NoError(t, err)
	assert.Contains(t, out, "INT64")
	assert.Contains(t, out, "long")
	assert.Contains(t, out, "ARRAY<T>")

	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "TIMESTAMP") {
			assert.True(t, strings.HasSuffix(strings.TrimSpace(line), "false"), line)
		}
	}
}

func TestInferFromColumnsFile(t *testing.T) {
	dir := t.TempDir()
	cols := writeFile(t, dir, "users.yaml", usersColumns)

	out, err := execute(t, "", "infer", "--namespace", "com.example", "--columns", cols, "Users")
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, jsonpool.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "record", doc["type"])
	assert.Equal(t, "Users", doc["name"])
	assert.Equal(t, "com.example", doc["namespace"])
	assert.Len(t, doc["fields"], 4)
}

func TestInferColumnsNeedsOneTable(t *testing.T) {
	cols := writeFile(t, t.TempDir(), "users.yaml", usersColumns)
	_, err := execute(t, "", "infer", "--columns", cols, "Users", "Orders")
	require.Error(t, err)
	assert.True(t, spezerrors.IsType(err, spezerrors.ErrorTypeValidation))
}

func TestEncodeDecodeJSON(t *testing.T) {
	dir := t.TempDir()
	cols := writeFile(t, dir, "users.yaml", usersColumns)
	rows := writeFile(t, dir, "users.jsonl", usersRows)
	payloads := filepath.Join(dir, "out", "users.avro.json")

	_, err := execute(t, "", "encode", "--columns", cols, "--table", "Users",
		"--sink", "file", "--output", payloads, "--workers", "2", rows)
	require.NoError(t, err)

	data, err := os.ReadFile(payloads)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"Name": "Ada"`)

	out, err := execute(t, "", "decode", "--columns", cols, "--table", "Users", payloads)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)

	var first, second map[string]interface{}
	require.NoError(t, jsonpool.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, jsonpool.Unmarshal([]byte(lines[1]), &second))
	assert.EqualValues(t, 1, first["UserId"])
	assert.Equal(t, "2024-03-01", first["Joined"])
	assert.Equal(t, []interface{}{"a"}, first["Tags"])
	assert.Equal(t, "Grace", second["Name"])
	assert.Equal(t, "", second["Joined"])
}

func TestEncodeDecodeBinaryThroughStdio(t *testing.T) {
	dir := t.TempDir()
	cols := writeFile(t, dir, "users.yaml", usersColumns)
	rows := writeFile(t, dir, "users.jsonl", usersRows)

	encoded, err := execute(t, "", "encode", "--format", "binary", "--columns", cols, "--table", "Users", rows)
	require.NoError(t, err)
	require.NotEmpty(t, encoded)

	out, err := execute(t, encoded, "decode", "--format", "binary", "--columns", cols, "--table", "Users")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"Ada"`)
	assert.Contains(t, lines[1], `"Grace"`)
}

func TestEncodeCompressedFile(t *testing.T) {
	dir := t.TempDir()
	cols := writeFile(t, dir, "users.yaml", usersColumns)
	rows := writeFile(t, dir, "users.jsonl", usersRows)
	payloads := filepath.Join(dir, "users.avro.json.gz")

	_, err := execute(t, "", "encode", "--pretty=false", "--compression", "gzip",
		"--columns", cols, "--table", "Users", "--sink", "file", "--output", payloads, rows)
	require.NoError(t, err)

	data, err := os.ReadFile(payloads)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x1f, 0x8b}, data[:2])
}

func TestEncodeBadRow(t *testing.T) {
	dir := t.TempDir()
	cols := writeFile(t, dir, "users.yaml", usersColumns)
	rows := writeFile(t, dir, "users.jsonl", `{"UserId": "not a number"}`+"\n")

	_, err := execute(t, "", "encode", "--columns", cols, "--table", "Users", rows)
	require.Error(t, err)

	out, err := execute(t, "", "encode", "--skip-failed-rows", "--columns", cols, "--table", "Users", rows)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestConfigFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	cols := writeFile(t, dir, "users.yaml", usersColumns)
	cfgPath := writeFile(t, dir, "spez.yaml", `
schema:
  namespace: com.fromfile
encoding:
  pretty: false
`)

	out, err := execute(t, "", "--config", cfgPath, "infer", "--columns", cols, "Users")
	require.NoError(t, err)
	assert.Contains(t, out, "com.fromfile")

	// environment beats the file
	t.Setenv("SPEZ_SCHEMA_NAMESPACE", "com.fromenv")
	out, err = execute(t, "", "--config", cfgPath, "infer", "--columns", cols, "Users")
	require.NoError(t, err)
	assert.Contains(t, out, "com.fromenv")

	// flags beat the environment
	out, err = execute(t, "", "--config", cfgPath, "--namespace", "com.fromflag", "infer", "--columns", cols, "Users")
	require.NoError(t, err)
	assert.Contains(t, out, "com.fromflag")
}

func TestInvalidConfiguration(t *testing.T) {
	cols := writeFile(t, t.TempDir(), "users.yaml", usersColumns)
	t.Setenv("SPEZ_ENCODING_FORMAT", "xml")

	_, err := execute(t, "", "encode", "--columns", cols, "--table", "Users")
	require.Error(t, err)
	assert.True(t, spezerrors.IsType(err, spezerrors.ErrorTypeConfig))
}

func TestExportNeedsTables(t *testing.T) {
	_, err := execute(t, "", "export")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no tables given")
}
