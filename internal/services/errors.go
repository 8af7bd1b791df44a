package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"unmix/internal/queue"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
)

// Class buckets stage failures for status reporting and retry decisions.
type Class string

const (
	ClassValidation    Class = "validation"
	ClassConfiguration Class = "configuration"
	ClassNotFound      Class = "not_found"
	ClassTimeout       Class = "timeout"
	ClassExternalTool  Class = "external_tool"
	ClassTransient     Class = "transient"
	ClassCancelled     Class = "cancelled"
	ClassInternal      Class = "internal"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later status classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// FailureStatus maps a stage error to the queue status the worker should
// persist after the stage fails. Cancellation is terminal but distinct from
// failure; everything else lands in failed with a class recorded alongside.
func FailureStatus(err error) queue.Status {
	if errors.Is(err, context.Canceled) {
		return queue.StatusCancelled
	}
	return queue.StatusFailed
}

// Classify maps a stage error to its failure class. The class is persisted
// with failed jobs and drives the TIMED_OUT distinction on the status API.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return ClassCancelled
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ClassTimeout
	case errors.Is(err, ErrValidation):
		return ClassValidation
	case errors.Is(err, ErrConfiguration):
		return ClassConfiguration
	case errors.Is(err, ErrNotFound):
		return ClassNotFound
	case errors.Is(err, ErrExternalTool):
		return ClassExternalTool
	case errors.Is(err, ErrTransient):
		return ClassTransient
	default:
		return ClassInternal
	}
}

// FailureMessage extracts the operator-facing text from a stage error. The
// sentinel prefix added by Wrap is classification plumbing, not something a
// queue listing should show.
func FailureMessage(err error) string {
	if err == nil {
		return ""
	}
	text := strings.TrimSpace(err.Error())
	for _, marker := range []error{ErrExternalTool, ErrValidation, ErrConfiguration, ErrNotFound, ErrTimeout, ErrTransient} {
		prefix := marker.Error() + ": "
		if strings.HasPrefix(text, prefix) {
			text = strings.TrimSpace(strings.TrimPrefix(text, prefix))
			break
		}
	}
	if text == "" {
		return "service failure"
	}
	return text
}

// Retryable reports whether a failure of this class is worth re-running
// without operator changes. Validation and configuration failures will fail
// the same way again until the input or config changes.
func (c Class) Retryable() bool {
	switch c {
	case ClassValidation, ClassConfiguration, ClassNotFound, ClassCancelled:
		return false
	default:
		return true
	}
}

func (c Class) String() string { return string(c) }

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
