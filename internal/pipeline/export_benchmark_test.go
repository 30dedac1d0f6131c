package pipeline

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"testing"
	"time"

	"github.com/spez-io/spez/pkg/sink"
)

// Benchmark export throughput across worker counts
func BenchmarkExport(b *testing.B) {
	recordCounts := []int{10000, 50000}
	workerCounts := []int{1, 2, 4, runtime.NumCPU()}

	for _, recordCount := range recordCounts {
		src := usersSource(recordCount)
		for _, workers := range workerCounts {
			b.Run(fmt.Sprintf("Rows_%d_workers_%d", recordCount, workers), func(b *testing.B) {
				for i := 0; i < b.N; i++ {
					p := newPipeline(src, sink.NewWriterSink(io.Discard, nil), Config{Workers: workers, BufferSize: 1024})

					start := time.Now()
					if _, err := p.ExportTable(context.Background(), "Users"); err != nil {
						b.Fatal(err)
					}
					duration := time.Since(start)

					b.ReportMetric(float64(recordCount)/duration.Seconds(), "records/sec")
				}
			})
		}
	}
}
