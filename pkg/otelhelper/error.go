package otelhelper

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// FailureKind classifies why a node or run step failed.
type FailureKind string

const (
	FailureAdapter  FailureKind = "adapter"
	FailureTimeout  FailureKind = "timeout"
	FailureConflict FailureKind = "conflict"
	FailureInternal FailureKind = "internal"
)

const FailureKindKey = "flows.failure.kind"

// RecordFailure marks span as failed and adds a step.failed event tagged with
// kind, so traces can be filtered by failure cause.
func RecordFailure(span trace.Span, err error, kind FailureKind, attrs ...attribute.KeyValue) {
	kindAttr := attribute.String(FailureKindKey, string(kind))

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(kindAttr)
	span.AddEvent("step.failed", trace.WithAttributes(append(attrs, kindAttr)...))
}
