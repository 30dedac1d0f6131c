package sink

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/spez-io/spez/pkg/compression"
	"github.com/spez-io/spez/pkg/spezerrors"
)

// WriterSink writes payloads to an io.Writer, each followed by a delimiter.
// It is safe for concurrent use. Once a write fails every later write fails
// too, so its errors are of type file and not retryable.
type WriterSink struct {
	name      string
	mu        sync.Mutex
	w         *bufio.Writer
	closers   []io.Closer
	delimiter []byte
	logger    *zap.Logger
}

// NewWriterSink writes newline-delimited payloads to w. w is not closed by
// Close.
func NewWriterSink(w io.Writer, logger *zap.Logger) *WriterSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WriterSink{
		name:      "writer",
		w:         bufio.NewWriter(w),
		delimiter: []byte("\n"),
		logger:    logger,
	}
}

// NewFileSink creates or truncates path and writes payloads to it,
// compressed with algo. Missing parent directories are created.
func NewFileSink(path string, algo compression.Algorithm, logger *zap.Logger) (*WriterSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, spezerrors.Wrap(err, spezerrors.ErrorTypeFile, "failed to create output directory").
			WithDetail("path", path)
	}
	f, err := os.Create(path) //nolint:gosec // G304: path comes from configuration
	if err != nil {
		return nil, spezerrors.Wrap(err, spezerrors.ErrorTypeFile, "failed to create output file").
			WithDetail("path", path)
	}
	cw, err := compression.NewWriter(f, algo, compression.Default)
	if err != nil {
		_ = f.Close()
		return nil, spezerrors.Wrap(err, spezerrors.ErrorTypeConfig, "failed to create compressor").
			WithDetail("compression", string(algo))
	}
	s := NewWriterSink(cw, logger)
	s.name = "file"
	// codec before file
	s.closers = []io.Closer{cw, f}
	return s, nil
}

// WithDelimiter replaces the newline written after each payload. An empty
// delimiter concatenates payloads, which suits binary consumers that frame
// records themselves.
func (s *WriterSink) WithDelimiter(d []byte) *WriterSink {
	s.delimiter = d
	return s
}

// Name implements Sink.
func (s *WriterSink) Name() string {
	return s.name
}

// Write implements Sink.
func (s *WriterSink) Write(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.w.Write(msg.Payload); err != nil {
		return spezerrors.Wrap(err, spezerrors.ErrorTypeFile, "failed to write payload").
			WithDetail("table", msg.Table)
	}
	if _, err := s.w.Write(s.delimiter); err != nil {
		return spezerrors.Wrap(err, spezerrors.ErrorTypeFile, "failed to write delimiter").
			WithDetail("table", msg.Table)
	}
	return nil
}

// Flush implements Sink.
func (s *WriterSink) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.w.Flush(); err != nil {
		return spezerrors.Wrap(err, spezerrors.ErrorTypeFile, "failed to flush output")
	}
	return nil
}

// Close flushes and, for file sinks, finishes the compressed stream and
// closes the file. The closers run even when the flush fails; the first
// error is returned.
func (s *WriterSink) Close() error {
	firstErr := s.Flush(context.Background())

	var closeErr error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && closeErr == nil {
			closeErr = err
		}
	}
	s.closers = nil
	if closeErr != nil && firstErr == nil {
		firstErr = spezerrors.Wrap(closeErr, spezerrors.ErrorTypeFile, "failed to close output")
	}
	if firstErr != nil {
		return firstErr
	}
	s.logger.Debug("output closed", zap.String("sink", s.name))
	return nil
}
