package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"unmix/internal/logging"
	"unmix/internal/queue"
	"unmix/internal/services"
)

func (m *Manager) handleStageFailure(ctx context.Context, stg pipelineStage, job *queue.Job, stageErr error) {
	base := m.logger
	if base == nil {
		base = logging.NewNop()
	}
	logger := m.stageLoggerForLane(ctx, base, job).With(logging.String(logging.FieldComponent, "worker-manager"))

	class := services.Classify(stageErr)
	if services.FailureStatus(stageErr) == queue.StatusCancelled {
		job.SetCancelled(queue.UserCancelReason)
		job.ErrorClass = class.String()
		logger.Info("job cancelled",
			logging.String(logging.FieldEventType, "job_cancelled"),
			logging.String("error_message", job.ErrorMessage),
		)
	} else {
		message := services.FailureMessage(stageErr)
		if message == "" {
			message = fmt.Sprintf("%s failed", stg.name)
		}
		job.SetFailed(message, class.String())
		logger.Error("stage failed",
			logging.String("resolved_status", string(job.Status)),
			logging.String("error_message", strings.TrimSpace(job.ErrorMessage)),
			logging.String("error_class", class.String()),
			logging.Alert("stage_failure"),
			logging.Error(stageErr),
			logging.String(logging.FieldEventType, "stage_failure"),
		)
	}

	if err := m.store.Update(ctx, job); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("daemon shutting down, could not update stage failure")
		} else {
			logger.Error("failed to persist stage failure", logging.Error(err))
		}
	}

	m.setLastJob(job)
	if job.Status == queue.StatusFailed {
		m.notifyJobFailed(ctx, job, stageErr)
	}
	m.runTerminalHooks(ctx, job)
	m.checkQueueDrained(ctx)
}
