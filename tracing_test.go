package arbor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestOperationSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, sess, root := setupMapper(t, WithTracer(provider.Tracer("arbor-test")))
	registerBlog(t, m)
	ctx := context.Background()

	a := &author{Name: "traced", Bio: "b"}
	node, err := m.Add(ctx, sess, root, a)
	require.NoError(t, err)
	_, err = Load[*author](ctx, m, sess, node)
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "Mapper.Add", spans[0].Name())
	assert.Equal(t, "Mapper.FromNode", spans[1].Name())

	attrs := spans[0].Attributes()
	var foundPath, foundType bool
	for _, kv := range attrs {
		switch string(kv.Key) {
		case "arbor.path":
			foundPath = true
			assert.Equal(t, "/", kv.Value.AsString())
		case "arbor.type":
			foundType = true
			assert.Contains(t, kv.Value.AsString(), "author")
		}
	}
	assert.True(t, foundPath)
	assert.True(t, foundType)
}

func TestFailedOperationSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, sess, root := setupMapper(t, WithTracer(provider.Tracer("arbor-test")))
	registerBlog(t, m)

	_, err := m.Add(context.Background(), sess, root, &author{Bio: "nameless"})
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	require.NotEmpty(t, spans[0].Events(), "the failure is recorded on the span")
}
