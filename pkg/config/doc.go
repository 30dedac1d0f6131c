// Package config loads the configuration of a spez run.
//
// A run is described by a single Config organised into sections:
//   - Source: the database and tables to read
//   - Schema: Avro namespace of generated records
//   - Encoding: payload format (json or binary) and indentation
//   - Sink: stdout, a file or Kafka
//   - Performance: encoder workers and buffering
//   - Timeouts, Observability, Logging
//
// # Environment Variable Substitution
//
// Values may reference the environment with ${VAR_NAME}, or
// ${VAR_NAME:-fallback} to supply a default:
//
//	source:
//	  type: postgres
//	  dsn: ${PG_DSN}
//	sink:
//	  type: kafka
//	  kafka:
//	    brokers: ["${KAFKA_BROKER:-localhost:9092}"]
//
// The CLI applies flag and SPEZ_* environment overrides on top of the file.
package config
