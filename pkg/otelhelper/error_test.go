package otelhelper

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestRecordFailure(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	_, span := StartSpan(context.Background(), provider.Tracer("test"), "node.action", attribute.String(NodeIDKey, "welcome"))
	RecordFailure(span, errors.New("gateway down"), FailureTimeout, attribute.String(ActionTypeKey, "send_message"))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "node.action", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "gateway down", spans[0].Status().Description)
	assert.Contains(t, spans[0].Attributes(), attribute.String(FailureKindKey, "timeout"))

	require.Len(t, spans[0].Events(), 2)
	failed := spans[0].Events()[1]
	assert.Equal(t, "step.failed", failed.Name)
	assert.ElementsMatch(t, []attribute.KeyValue{
		attribute.String(ActionTypeKey, "send_message"),
		attribute.String(FailureKindKey, "timeout"),
	}, failed.Attributes)
}
