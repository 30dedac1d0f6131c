// Package sink delivers encoded payloads: to a writer (stdout or a file) or to
// Kafka. A sink receives payloads of one table in row order.
package sink

import (
	"context"
	"time"
)

// Message is one encoded row on its way to a sink.
type Message struct {
	Table string
	// Seq is the row's position in its table's scan, starting at 0.
	Seq int64
	// Fingerprint identifies the schema the payload was encoded with.
	Fingerprint string
	// ContentType names the payload encoding, e.g. "avro/json".
	ContentType string
	Payload     []byte
	Timestamp   time.Time
}

// Sink is a destination for payloads.
type Sink interface {
	Name() string
	Write(ctx context.Context, msg Message) error
	// Flush forces buffered payloads out.
	Flush(ctx context.Context) error
	Close() error
}

// ContentType returns the content type for a payload format name.
func ContentType(format string) string {
	return "avro/" + format
}
