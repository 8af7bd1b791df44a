package logging

import (
	"context"
	"log/slog"

	"unmix/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldJobID is the standardized structured logging key for queue job identifiers.
	FieldJobID = "job_id"
	// FieldJobUUID is the standardized structured logging key for the public job UUID.
	FieldJobUUID = "job_uuid"
	// FieldStage is the standardized structured logging key for workflow stage names.
	FieldStage = "stage"
	// FieldLane is the standardized structured logging key for workflow lane names.
	FieldLane = "lane"
	// FieldJobType is the standardized structured logging key for job types.
	FieldJobType = "job_type"
	// FieldModel is the standardized structured logging key for separation model filenames.
	FieldModel = "model"
	// FieldPass is the standardized structured logging key for 1-based pipeline pass indexes.
	FieldPass = "pass"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
	// FieldEventType categorizes warnings and errors for alert routing.
	FieldEventType = "event_type"
	// FieldErrorHint carries the suggested next step for a logged failure.
	FieldErrorHint = "error_hint"
	// FieldProgressStage is the standardized structured logging key for engine progress stage labels.
	FieldProgressStage = "progress_stage"
	// FieldProgressPercent is the standardized structured logging key for engine progress percentages.
	FieldProgressPercent = "progress_percent"
	// FieldProgressMessage is the standardized structured logging key for engine progress detail text.
	FieldProgressMessage = "progress_message"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := services.JobIDFromContext(ctx); ok {
		fields = append(fields, slog.Int64(FieldJobID, id))
	}
	if stage, ok := services.StageFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStage, stage))
	}
	if lane, ok := services.LaneFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldLane, lane))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
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
