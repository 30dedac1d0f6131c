package avro

import (
	"io"
	"testing"
	"time"

	"github.com/spez-io/spez/pkg/models"
	"github.com/spez-io/spez/pkg/schema"
)

func benchmarkSet(b *testing.B) *schema.SchemaSet {
	b.Helper()
	set, err := schema.New("Users", "com.example.spez", []models.ColumnPair{
		{Name: "id", Tag: "INT64"},
		{Name: "name", Tag: "STRING(MAX)"},
		{Name: "score", Tag: "FLOAT64"},
		{Name: "joined", Tag: "DATE"},
		{Name: "seen", Tag: "TIMESTAMP"},
		{Name: "tags", Tag: "ARRAY<STRING(MAX)>"},
	})
	if err != nil {
		b.Fatal(err)
	}
	return set
}

func benchmarkRow() models.Row {
	return models.NewMapRow(map[string]interface{}{
		"id":     int64(42),
		"name":   "Marc Richards",
		"score":  97.5,
		"joined": "2024-03-01",
		"seen":   time.Date(2024, 3, 1, 11, 30, 0, 0, time.UTC),
		"tags":   []string{"admin", "beta", "eu-west"},
	})
}

func BenchmarkEncodeRow(b *testing.B) {
	set := benchmarkSet(b)
	row := benchmarkRow()

	encoders := map[string]*Encoder{
		"JSON_Pretty":  NewEncoder(),
		"JSON_Compact": NewEncoder(WithPretty(false)),
		"Binary":       NewEncoder(WithFormat(FormatBinary)),
	}
	for name, enc := range encoders {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := enc.EncodeRowTo(io.Discard, set, row); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkEncodeRowParallel(b *testing.B) {
	set := benchmarkSet(b)
	enc := NewEncoder(WithFormat(FormatBinary))

	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		row := benchmarkRow()
		for pb.Next() {
			if _, err := enc.EncodeRow(set, row); err != nil {
				b.Error(err)
				return
			}
		}
	})
}
