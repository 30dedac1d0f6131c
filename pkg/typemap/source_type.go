package typemap

import (
	"strings"

	"github.com/linkedin/goavro/v2"
)

// SourceType is a parsed source type tag.
type SourceType struct {
	// Tag is the tag as reported by the source, e.g. "STRING(36)".
	Tag  string
	Code Code
	// Elem is the element code of an ARRAY; empty when the tag did not
	// declare one and the element type must be looked up per row.
	Elem Code
}

// IsArray reports whether the column is an array.
func (t SourceType) IsArray() bool {
	return t.Code == Array
}

// Generic reports whether t is an array whose items use the generic union.
func (t SourceType) Generic() bool {
	return t.Code == Array && t.Elem == ""
}

func (t SourceType) String() string {
	return t.Tag
}

// Parse resolves a source type tag. Tags are matched case-insensitively;
// any tag containing STRING is a string, and BYTES may carry a length.
// Unknown tags return an *UnsupportedSourceTypeError.
func Parse(tag string) (SourceType, error) {
	norm := strings.ToUpper(strings.TrimSpace(tag))

	if norm == string(Array) {
		return SourceType{Tag: tag, Code: Array}, nil
	}
	if strings.HasPrefix(norm, "ARRAY<") && strings.HasSuffix(norm, ">") {
		elem, err := ParseElement(norm[len("ARRAY<") : len(norm)-1])
		if err != nil {
			return SourceType{}, &UnsupportedSourceTypeError{Tag: tag}
		}
		return SourceType{Tag: tag, Code: Array, Elem: elem}, nil
	}

	code, ok := scalarCode(norm)
	if !ok {
		return SourceType{}, &UnsupportedSourceTypeError{Tag: tag}
	}
	return SourceType{Tag: tag, Code: code}, nil
}

// ParseElement resolves the element type tag of an array. Nested arrays are
// not supported.
func ParseElement(tag string) (Code, error) {
	code, ok := scalarCode(strings.ToUpper(strings.TrimSpace(tag)))
	if !ok {
		return "", &UnsupportedSourceTypeError{Tag: tag}
	}
	return code, nil
}

func scalarCode(norm string) (Code, bool) {
	switch Code(norm) {
	case Bool, Bytes, Date, Float64, Int64, Timestamp:
		return Code(norm), true
	}
	if strings.HasPrefix(norm, "BYTES(") && strings.HasSuffix(norm, ")") {
		return Bytes, true
	}
	if strings.Contains(norm, string(String)) {
		return String, true
	}
	return "", false
}

// AvroType returns the Avro type for a column, in the decoded-JSON form used
// inside a schema document.
func AvroType(t SourceType) interface{} {
	if t.Code != Array {
		return table[t.Code].Avro
	}
	if t.Elem == "" {
		items := make([]interface{}, len(genericItems))
		for i, name := range genericItems {
			items[i] = name
		}
		return map[string]interface{}{"type": "array", "items": items}
	}
	return map[string]interface{}{"type": "array", "items": table[t.Elem].Avro}
}

// Default returns the schema default for a column.
func Default(t SourceType) interface{} {
	if t.Code == Array {
		return []interface{}{}
	}
	return table[t.Code].Default
}

// WrapItems prepares array values read with elem's list accessor for a
// column of type t. Generic arrays need each item wrapped in its union branch.
func WrapItems(t SourceType, elem *Descriptor, items []interface{}) []interface{} {
	if !t.Generic() {
		return items
	}
	for i, v := range items {
		items[i] = goavro.Union(elem.Avro, v)
	}
	return items
}

// UnwrapItems is the inverse of WrapItems for decoded generic arrays.
func UnwrapItems(items []interface{}) []interface{} {
	for i, v := range items {
		m, ok := v.(map[string]interface{})
		if !ok || len(m) != 1 {
			continue
		}
		for _, inner := range m {
			items[i] = inner
		}
	}
	return items
}
