package sqlsource

import (
	"fmt"
	"strings"

	"github.com/spez-io/spez/pkg/typemap"
)

const maxString = "STRING(MAX)"

// PostgresTag maps an information_schema.columns (data_type, udt_name) pair
// to a source type tag. Types with no mapping are returned upper-cased so
// that schema inference rejects them by name.
func PostgresTag(dataType, udtName string) string {
	if strings.EqualFold(dataType, "ARRAY") {
		elem := PostgresTag(strings.TrimPrefix(udtName, "_"), "")
		return fmt.Sprintf("%s<%s>", typemap.Array, elem)
	}

	switch strings.ToLower(dataType) {
	case "smallint", "integer", "bigint", "int2", "int4", "int8":
		return string(typemap.Int64)
	case "real", "double precision", "float4", "float8":
		return string(typemap.Float64)
	case "boolean", "bool":
		return string(typemap.Bool)
	case "bytea":
		return string(typemap.Bytes)
	case "date":
		return string(typemap.Date)
	case "timestamp without time zone", "timestamp with time zone", "timestamp", "timestamptz":
		return string(typemap.Timestamp)
	case "text", "character varying", "character", "varchar", "bpchar", "name",
		"uuid", "json", "jsonb", "citext", "inet", "cidr", "xml":
		return maxString
	}
	return strings.ToUpper(dataType)
}

// MySQLTag maps an information_schema.COLUMNS (DATA_TYPE, COLUMN_TYPE) pair
// to a source type tag. TINYINT(1) is read as BOOL and character columns
// keep their declared length.
func MySQLTag(dataType, columnType string) string {
	columnType = strings.ToLower(columnType)

	switch strings.ToLower(dataType) {
	case "tinyint":
		if strings.HasPrefix(columnType, "tinyint(1)") {
			return string(typemap.Bool)
		}
		return string(typemap.Int64)
	case "smallint", "mediumint", "int", "integer", "bigint", "year":
		return string(typemap.Int64)
	case "float", "double", "real":
		return string(typemap.Float64)
	case "bool", "boolean":
		return string(typemap.Bool)
	case "char", "varchar":
		if n := length(columnType); n != "" {
			return fmt.Sprintf("%s(%s)", typemap.String, n)
		}
		return maxString
	case "tinytext", "text", "mediumtext", "longtext", "enum", "set", "json":
		return maxString
	case "binary", "varbinary", "tinyblob", "blob", "mediumblob", "longblob", "bit":
		return string(typemap.Bytes)
	case "date":
		return string(typemap.Date)
	case "datetime", "timestamp":
		return string(typemap.Timestamp)
	}
	return strings.ToUpper(dataType)
}

// length extracts n from "varchar(n)".
func length(columnType string) string {
	open := strings.IndexByte(columnType, '(')
	end := strings.IndexByte(columnType, ')')
	if open < 0 || end <= open+1 {
		return ""
	}
	return columnType[open+1 : end]
}
