package json

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndent(t *testing.T) {
	out, err := Indent([]byte(`{"id":7,"tags":["a","b"]}`), "  ")
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"id\": 7,\n  \"tags\": [\n    \"a\",\n    \"b\"\n  ]\n}", string(out))

	_, err = Indent([]byte(`{"id":`), "  ")
	assert.Error(t, err)
}

func TestMarshalRoundTrip(t *testing.T) {
	data, err := Marshal(map[string]interface{}{"type": "record", "name": "Singers"})
	require.NoError(t, err)
	assert.True(t, Valid(data))

	var got map[string]interface{}
	require.NoError(t, Unmarshal(data, &got))
	assert.Equal(t, "Singers", got["name"])
}

func TestBufferPool(t *testing.T) {
	buf := GetBuffer()
	buf.WriteString("scratch")
	PutBuffer(buf)

	again := GetBuffer()
	assert.Equal(t, 0, again.Len())
	PutBuffer(again)
}

func TestMembers(t *testing.T) {
	members, err := Members([]byte(` {"b":{"long":1},"a":"x,}\"y","c":[1e999,-1e999,null],"d":[]} `))
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{
		"a": []byte(`"x,}\"y"`),
		"b": []byte(`{"long":1}`),
		"c": []byte(`[1e999,-1e999,null]`),
		"d": []byte(`[]`),
	}, members)

	empty, err := Members([]byte(`{}`))
	require.NoError(t, err)
	assert.Empty(t, empty)

	tests := []string{``, `[1]`, `{"a"}`, `{"a":}`, `{"a":1`, `{"a":"x}`, `{"a":1} x`, `{"a":1;"b":2}`}
	for _, src := range tests {
		_, err := Members([]byte(src))
		assert.Error(t, err, src)
	}
}

func TestIndentTo(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, IndentTo(&buf, []byte(`[1e999,{"double":-1e999},[],"a:,[b"]`), "> ", "  "))
	assert.Equal(t, "[\n>   1e999,\n>   {\n>     \"double\": -1e999\n>   },\n>   [],\n>   \"a:,[b\"\n> ]", buf.String())

	buf.Reset()
	require.NoError(t, IndentTo(&buf, []byte(`42`), "", "  "))
	assert.Equal(t, "42", buf.String())

	assert.Error(t, IndentTo(&buf, []byte(`[1`), "", "  "))
	assert.Error(t, IndentTo(&buf, []byte(`1]`), "", "  "))
}
