// Package json wraps github.com/goccy/go-json with pooled buffers. It is used
// for Avro schema documents and for laying out JSON-encoded payloads.
package json

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	gojson "github.com/goccy/go-json"
)

var bufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
}

// GetBuffer gets a pooled bytes.Buffer
func GetBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer returns a buffer to the pool
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() > 1024*1024 { // Don't pool very large buffers
		return
	}
	bufferPool.Put(buf)
}

// Marshal is a drop-in replacement for encoding/json.Marshal
func Marshal(v interface{}) ([]byte, error) {
	return gojson.Marshal(v)
}

// Unmarshal is a drop-in replacement for encoding/json.Unmarshal
func Unmarshal(data []byte, v interface{}) error {
	return gojson.Unmarshal(data, v)
}

// Indent returns a freshly allocated, indented copy of the JSON document src.
func Indent(src []byte, indent string) ([]byte, error) {
	buf := GetBuffer()
	defer PutBuffer(buf)

	if err := gojson.Indent(buf, src, "", indent); err != nil {
		return nil, err
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// Valid reports whether data is a valid JSON encoding
func Valid(data []byte) bool {
	return gojson.Valid(data)
}

// NewDecoder returns a streaming decoder reading from r
func NewDecoder(r io.Reader) *gojson.Decoder {
	return gojson.NewDecoder(r)
}

// Members splits the JSON object src into its raw member values keyed by
// name. The values alias src and are not validated beyond their extent.
func Members(src []byte) (map[string][]byte, error) {
	i := skipSpace(src, 0)
	if i >= len(src) || src[i] != '{' {
		return nil, fmt.Errorf("json: expected object at offset %d", i)
	}
	members := make(map[string][]byte)
	i = skipSpace(src, i+1)
	if i < len(src) && src[i] == '}' {
		return members, trailing(src, i+1)
	}

	for {
		if i >= len(src) || src[i] != '"' {
			return nil, fmt.Errorf("json: expected member name at offset %d", i)
		}
		end, err := scanString(src, i)
		if err != nil {
			return nil, err
		}
		var name string
		if err := gojson.Unmarshal(src[i:end], &name); err != nil {
			return nil, err
		}

		i = skipSpace(src, end)
		if i >= len(src) || src[i] != ':' {
			return nil, fmt.Errorf("json: expected ':' at offset %d", i)
		}
		i = skipSpace(src, i+1)
		end, err = scanValue(src, i)
		if err != nil {
			return nil, err
		}
		members[name] = src[i:end]

		i = skipSpace(src, end)
		if i >= len(src) {
			return nil, fmt.Errorf("json: unexpected end of object")
		}
		switch src[i] {
		case ',':
			i = skipSpace(src, i+1)
		case '}':
			return members, trailing(src, i+1)
		default:
			return nil, fmt.Errorf("json: unexpected %q at offset %d", src[i], i)
		}
	}
}

// IndentTo writes src to buf with one element per line. Every line after
// the first starts with prefix followed by one indent per nesting level.
// Scalars are copied verbatim, so numbers outside the float64 range such as
// 1e999 survive.
func IndentTo(buf *bytes.Buffer, src []byte, prefix, indent string) error {
	depth := 0
	newline := func() {
		buf.WriteByte('\n')
		buf.WriteString(prefix)
		for k := 0; k < depth; k++ {
			buf.WriteString(indent)
		}
	}

	for i := 0; i < len(src); {
		c := src[i]
		switch c {
		case ' ', '\t', '\n', '\r':
			i++
		case '"':
			end, err := scanString(src, i)
			if err != nil {
				return err
			}
			buf.Write(src[i:end])
			i = end
		case '{', '[':
			// empty containers stay on one line
			j := skipSpace(src, i+1)
			if j < len(src) && src[j] == closing(c) {
				buf.WriteByte(c)
				buf.WriteByte(src[j])
				i = j + 1
				continue
			}
			buf.WriteByte(c)
			depth++
			newline()
			i++
		case '}', ']':
			depth--
			if depth < 0 {
				return fmt.Errorf("json: unexpected %q at offset %d", c, i)
			}
			newline()
			buf.WriteByte(c)
			i++
		case ',':
			buf.WriteByte(',')
			newline()
			i++
		case ':':
			buf.WriteString(": ")
			i++
		default:
			buf.WriteByte(c)
			i++
		}
	}
	if depth != 0 {
		return fmt.Errorf("json: unexpected end of input")
	}
	return nil
}

func closing(open byte) byte {
	if open == '{' {
		return '}'
	}
	return ']'
}

func skipSpace(src []byte, i int) int {
	for i < len(src) {
		switch src[i] {
		case ' ', '\t', '\n', '\r':
			i++
		default:
			return i
		}
	}
	return i
}

func trailing(src []byte, i int) error {
	if i = skipSpace(src, i); i != len(src) {
		return fmt.Errorf("json: trailing data at offset %d", i)
	}
	return nil
}

// scanString returns the offset just past the string starting at src[i].
func scanString(src []byte, i int) (int, error) {
	for j := i + 1; j < len(src); j++ {
		switch src[j] {
		case '\\':
			j++
		case '"':
			return j + 1, nil
		}
	}
	return 0, fmt.Errorf("json: unterminated string at offset %d", i)
}

// scanValue returns the offset just past the value starting at src[i].
func scanValue(src []byte, i int) (int, error) {
	if i >= len(src) {
		return 0, fmt.Errorf("json: expected value at offset %d", i)
	}
	switch src[i] {
	case '"':
		return scanString(src, i)
	case '{', '[':
		depth := 0
		for j := i; j < len(src); j++ {
			switch src[j] {
			case '"':
				end, err := scanString(src, j)
				if err != nil {
					return 0, err
				}
				j = end - 1
			case '{', '[':
				depth++
			case '}', ']':
				depth--
				if depth == 0 {
					return j + 1, nil
				}
			}
		}
		return 0, fmt.Errorf("json: unterminated value at offset %d", i)
	}

	j := i
	for j < len(src) {
		switch src[j] {
		case ',', '}', ']', ':', ' ', '\t', '\n', '\r':
			return checkScalar(src, i, j)
		}
		j++
	}
	return checkScalar(src, i, j)
}

func checkScalar(src []byte, i, j int) (int, error) {
	if j == i {
		return 0, fmt.Errorf("json: expected value at offset %d", i)
	}
	return j, nil
}
