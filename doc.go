// Package spez exports database tables as Avro records.
//
// For every table spez reads the column metadata, derives an Avro record
// schema from the columns' type tags and encodes each row as one Avro
// record, in Avro's JSON encoding or in binary.
//
// # Architecture
//
//   - pkg/typemap: the single translation table from source column types
//     (BOOL, BYTES, DATE, FLOAT64, INT64, STRING, TIMESTAMP, ARRAY<T>) to
//     Avro types, field defaults and row accessors.
//   - pkg/schema: schema inference from a metadata cursor and a per-table
//     registry so each table is inferred once.
//   - pkg/formats/avro: the record encoder and its decoder.
//   - pkg/source: Cloud Spanner, PostgreSQL, MySQL and JSON lines sources.
//   - pkg/sink: stdout, (compressed) files and Kafka.
//   - internal/pipeline: ordered, concurrent export of tables.
//   - cmd/spez: the command line.
//
// # Quick Start
//
// Build a schema and encode a row:
//
//	import (
//	    "github.com/spez-io/spez/pkg/formats/avro"
//	    "github.com/spez-io/spez/pkg/models"
//	    "github.com/spez-io/spez/pkg/schema"
//	)
//
//	cursor := models.NewSliceCursor(
//	    models.ColumnPair{Name: "UserId", Tag: "INT64"},
//	    models.ColumnPair{Name: "Name", Tag: "STRING(MAX)"},
//	)
//	set, err := schema.InferSchema("Users", "com.example", cursor)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	row := models.NewMapRow(map[string]interface{}{"UserId": int64(1), "Name": "Ada"})
//	payload, err := avro.EncodeRow(set, row)
//
// Export a Spanner database from the command line:
//
//	spez export --database projects/p/instances/i/databases/d \
//	    --sink file --output users.avro.json Users
package spez
