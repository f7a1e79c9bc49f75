package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldAssetID is the standardized structured logging key for asset identifiers.
	FieldAssetID = "asset_id"
	// FieldStageID is the standardized structured logging key for stage identifiers.
	FieldStageID = "stage_id"
	// FieldStation is the standardized structured logging key for station names.
	FieldStation = "station"
	// FieldRoute is the standardized structured logging key for route names.
	FieldRoute = "route"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType marks engine lifecycle events in structured logs.
	FieldEventType = "event_type"
)

type contextKey int

const (
	assetIDKey contextKey = iota
	stageIDKey
	requestIDKey
)

// WithAssetID annotates the context with the asset being processed.
func WithAssetID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, assetIDKey, id)
}

// AssetIDFromContext extracts the asset id recorded by WithAssetID.
func AssetIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(assetIDKey).(int64)
	return id, ok
}

// WithStageID annotates the context with the stage being evaluated.
func WithStageID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, stageIDKey, id)
}

// StageIDFromContext extracts the stage id recorded by WithStageID.
func StageIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(stageIDKey).(int64)
	return id, ok
}

// WithRequestID annotates the context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation id recorded by WithRequestID.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey).(string)
	return id, ok
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if id, ok := AssetIDFromContext(ctx); ok {
		fields = append(fields, slog.Int64(FieldAssetID, id))
	}
	if id, ok := StageIDFromContext(ctx); ok {
		fields = append(fields, slog.Int64(FieldStageID, id))
	}
	if rid, ok := RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
