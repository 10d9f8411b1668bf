package obs

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitTracingWritesSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracing(context.Background(), TracingOptions{Service: "test", Writer: &buf})
	require.NoError(t, err)

	_, span := Tracer("obs-test").Start(context.Background(), "unit")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	require.Contains(t, buf.String(), `"Name":"unit"`)
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingOptions{Service: "test"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
