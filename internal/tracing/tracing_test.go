package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestInitExportsSpans(t *testing.T) {
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	var buf bytes.Buffer
	shutdown, err := Init(true, "hotpotato", "test", &buf)
	require.NoError(t, err)

	_, span := Start(context.Background(), "run")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), `"Name":"run"`)
}

func TestInitDisabled(t *testing.T) {
	shutdown, err := Init(false, "hotpotato", "test", nil)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
