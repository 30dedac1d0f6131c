package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), DefaultTracingConfig(), nil)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	_, span := StartSpan(context.Background(), "noop")
	span.SetAttribute("table", "Users")
	span.End(nil)
}

func TestInitTracingExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultTracingConfig()
	cfg.Enabled = true

	shutdown, err := InitTracing(context.Background(), cfg, &buf)
	require.NoError(t, err)

	ctx, span := StartSpan(context.Background(), "spez.export")
	span.SetAttribute("table", "Users")
	span.SetAttribute("rows", int64(3))
	_, child := StartSpan(ctx, "spez.infer")
	child.End(errors.New("boom"))
	span.End(nil)

	require.NoError(t, shutdown(context.Background()))
	out := buf.String()
	assert.Contains(t, out, "spez.export")
	assert.Contains(t, out, "spez.infer")
	assert.Contains(t, out, "boom")
	assert.Contains(t, out, "Users")
}

func TestInitTracingUnknownExporter(t *testing.T) {
	cfg := DefaultTracingConfig()
	cfg.Enabled = true
	cfg.Exporter = "zipkin"

	_, err := InitTracing(context.Background(), cfg, nil)
	assert.Error(t, err)
}
