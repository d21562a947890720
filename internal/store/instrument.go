package store

import (
	"context"
	"errors"
	"time"

	"github.com/natours/api/internal/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/natours/api/internal/store")

// observe opens a span for one operation and returns the func that
// closes it with the operation's error.
func observe(ctx context.Context, collection, operation string) func(*error) {
	start := time.Now()
	_, span := tracer.Start(ctx, "store."+operation)
	span.SetAttributes(
		attribute.String("db.collection", collection),
		attribute.String("db.operation", operation),
	)

	return func(errp *error) {
		status := "success"
		if errp != nil && *errp != nil {
			switch {
			case errors.Is(*errp, ErrNotFound):
				status = "not_found"
			case errors.Is(*errp, ErrVersionConflict):
				status = "conflict"
			default:
				var dup *DuplicateKeyError
				if errors.As(*errp, &dup) {
					status = "duplicate"
				} else {
					status = "error"
					span.RecordError(*errp)
					span.SetStatus(codes.Error, (*errp).Error())
				}
			}
		}
		span.SetAttributes(attribute.String("db.status", status))
		span.End()
		metrics.RecordStoreOperation(collection, operation, status, time.Since(start))
	}
}
