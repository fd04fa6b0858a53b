// Package tracing provides OpenTelemetry spans around storage operations.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/nimburion/backupstore"

// SpanOperation represents a traced storage operation.
type SpanOperation string

const (
	// SpanOperationObjectRead covers object downloads and listings.
	SpanOperationObjectRead SpanOperation = "object.read"
	// SpanOperationObjectWrite covers object uploads.
	SpanOperationObjectWrite SpanOperation = "object.write"
	// SpanOperationObjectDelete covers object and container deletion.
	SpanOperationObjectDelete SpanOperation = "object.delete"

	// SpanOperationTableRead covers point reads, queries and scans.
	SpanOperationTableRead SpanOperation = "table.read"
	// SpanOperationTableWrite covers puts and updates.
	SpanOperationTableWrite SpanOperation = "table.write"
	// SpanOperationTableBatch covers transactional batch writes.
	SpanOperationTableBatch SpanOperation = "table.batch"
	// SpanOperationTableDelete covers point and bulk deletes.
	SpanOperationTableDelete SpanOperation = "table.delete"

	// SpanOperationLease covers lease acquire and release.
	SpanOperationLease SpanOperation = "lease"
)

// StartStorageSpan starts a client span named after operation and, when set, the
// container or table it targets.
func StartStorageSpan(ctx context.Context, operation SpanOperation, opts ...StorageSpanOption) (context.Context, trace.Span) {
	spanOpts := &storageSpanOptions{
		attributes: []attribute.KeyValue{
			attribute.String("storage.operation", string(operation)),
		},
	}
	for _, opt := range opts {
		opt(spanOpts)
	}

	name := fmt.Sprintf("STORAGE %s", operation)
	if spanOpts.container != "" {
		name = fmt.Sprintf("STORAGE %s %s", operation, spanOpts.container)
	}

	ctx, span := otel.Tracer(instrumentationName).Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(spanOpts.attributes...)
	return ctx, span
}

// StorageSpanOption configures a storage span.
type StorageSpanOption func(*storageSpanOptions)

type storageSpanOptions struct {
	container  string
	attributes []attribute.KeyValue
}

// WithSystem sets the backing system ("s3", "dynamodb", "redis").
func WithSystem(system string) StorageSpanOption {
	return func(opts *storageSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("storage.system", system))
	}
}

// WithContainer sets the bucket or table name.
func WithContainer(container string) StorageSpanOption {
	return func(opts *storageSpanOptions) {
		opts.container = container
		opts.attributes = append(opts.attributes, attribute.String("storage.container", container))
	}
}

// WithKey sets the object name or entity key.
func WithKey(key string) StorageSpanOption {
	return func(opts *storageSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("storage.key", key))
	}
}

// WithItemCount records how many items the operation touched.
func WithItemCount(n int) StorageSpanOption {
	return func(opts *storageSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.Int("storage.item_count", n))
	}
}

// End records err on span, or marks it OK, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		RecordError(span, err)
	} else {
		RecordSuccess(span)
	}
	span.End()
}

// RecordError records an error in the span and sets the span status to error.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// RecordSuccess sets the span status to OK.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
