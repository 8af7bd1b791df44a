package worker

import (
	"context"
	"errors"
	"time"

	"unmix/internal/logging"
	"unmix/internal/notifications"
	"unmix/internal/queue"
)

func (m *Manager) onJobStarted(ctx context.Context) {
	if m.notifier == nil {
		return
	}
	stats, err := m.store.Stats(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			m.logger.Debug("daemon shutting down, could not get queue stats for start notification")
		} else {
			m.logger.Warn("queue stats unavailable for start notification; notification skipped",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_stats_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
		}
		return
	}

	m.mu.Lock()
	if m.queueActive {
		m.mu.Unlock()
		return
	}
	m.queueActive = true
	m.queueStart = time.Now()
	m.mu.Unlock()

	count := countOutstandingJobs(stats)
	if err := m.notifier.Publish(ctx, notifications.EventQueueStarted, notifications.Payload{"count": count}); err != nil {
		if errors.Is(err, context.Canceled) {
			m.logger.Debug("daemon shutting down, could not send queue start notification")
		} else {
			m.logger.Debug("queue start notification failed", logging.Error(err))
		}
	}
}

func (m *Manager) notifyJobCompleted(ctx context.Context, job *queue.Job) {
	if m.notifier == nil || job == nil {
		return
	}
	if err := m.notifier.Publish(ctx, notifications.EventJobCompleted, notifications.Payload{
		"job":     job.UUID,
		"message": job.ProgressMessage,
	}); err != nil {
		if errors.Is(err, context.Canceled) {
			m.logger.Debug("daemon shutting down, could not send job completion notification")
		} else {
			m.logger.Debug("job completion notification failed", logging.Error(err))
		}
	}
}

func (m *Manager) notifyJobFailed(ctx context.Context, job *queue.Job, stageErr error) {
	if m.notifier == nil || job == nil {
		return
	}
	payload := notifications.Payload{"job": job.UUID}
	if stageErr != nil {
		payload["error"] = stageErr
	} else if job.ErrorMessage != "" {
		payload["error"] = job.ErrorMessage
	}
	if err := m.notifier.Publish(ctx, notifications.EventJobFailed, payload); err != nil {
		if errors.Is(err, context.Canceled) {
			m.logger.Debug("daemon shutting down, could not send job failure notification")
		} else {
			m.logger.Debug("job failure notification failed", logging.Error(err))
		}
	}
}

// runTerminalHooks invokes registered hooks with a copy of the terminal job.
// Hook panics are contained so a misbehaving webhook cannot take a lane down.
func (m *Manager) runTerminalHooks(ctx context.Context, job *queue.Job) {
	if job == nil || len(m.terminalHooks) == 0 {
		return
	}
	jobCopy := *job
	for _, hook := range m.terminalHooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("terminal hook panicked",
						logging.Any("panic", r),
						logging.Int64(logging.FieldJobID, jobCopy.ID),
					)
				}
			}()
			hook(ctx, &jobCopy)
		}()
	}
}

func (m *Manager) checkQueueDrained(ctx context.Context) {
	if m.notifier == nil {
		return
	}
	stats, err := m.store.Stats(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			m.logger.Debug("daemon shutting down, could not check queue completion")
		} else {
			m.logger.Warn("queue stats unavailable for drained notification; notification skipped",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_stats_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
		}
		return
	}
	if active := countOutstandingJobs(stats); active > 0 {
		return
	}

	m.mu.Lock()
	if !m.queueActive {
		m.mu.Unlock()
		return
	}
	start := m.queueStart
	m.queueActive = false
	m.queueStart = time.Time{}
	m.mu.Unlock()

	duration := time.Duration(0)
	if !start.IsZero() {
		duration = time.Since(start)
	}
	if err := m.notifier.Publish(ctx, notifications.EventQueueDrained, notifications.Payload{
		"processed": stats[queue.StatusCompleted],
		"failed":    stats[queue.StatusFailed],
		"duration":  duration,
	}); err != nil {
		if errors.Is(err, context.Canceled) {
			m.logger.Debug("daemon shutting down, could not send queue drained notification")
		} else {
			m.logger.Debug("queue drained notification failed", logging.Error(err))
		}
	}
}

func countOutstandingJobs(stats map[queue.Status]int) int {
	total := 0
	for status, count := range stats {
		if queue.IsTerminalStatus(status) {
			continue
		}
		total += count
	}
	return total
}
