package daemon

import (
	"context"
	"errors"
	"strings"

	"log/slog"

	"unmix/internal/api"
	"unmix/internal/logging"
	"unmix/internal/notifications"
	"unmix/internal/queue"
	"unmix/internal/worker"
)

// TerminalWebhookHook builds the worker hook that POSTs the platform status
// envelope to a job's webhook URL once the job reaches a terminal status.
func TerminalWebhookHook(logger *slog.Logger) worker.JobTerminalHook {
	sender := notifications.NewWebhookSender(logger)
	return func(ctx context.Context, job *queue.Job) {
		if job == nil || strings.TrimSpace(job.WebhookURL) == "" {
			return
		}
		if err := sender.Send(ctx, job.WebhookURL, api.JobState(job)); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log := logger
			if log == nil {
				log = logging.NewNop()
			}
			log.Warn("job webhook delivery failed",
				logging.Int64(logging.FieldJobID, job.ID),
				logging.String("url", job.WebhookURL),
				logging.Error(err),
			)
		}
	}
}
