package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"unmix/internal/logging"
	"unmix/internal/queue"
	"unmix/internal/services"
)

// cancelPollInterval is how often an executing stage checks for a pending
// cancel request.
const cancelPollInterval = time.Second

func (m *Manager) processJob(ctx context.Context, lane *laneState, laneLogger *slog.Logger, job *queue.Job) error {
	stg, ok := lane.stageForStatus(job.Status)
	if !ok {
		if laneLogger == nil {
			laneLogger = m.logger
		}
		if laneLogger == nil {
			laneLogger = logging.NewNop()
		}
		laneLogger.Warn("no stage configured for status", logging.String("status", string(job.Status)))
		m.waitForJobOrShutdown(ctx)
		return nil
	}

	requestID := uuid.NewString()
	stageCtx := withStageContext(ctx, lane, stg.name, job, requestID)
	stageLogger := m.stageLoggerForLane(stageCtx, laneLogger, job)

	claimed, err := m.store.Claim(stageCtx, job.ID, stg.startStatus, stg.processingStatus)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		stageLogger.Error("failed to claim job", logging.Error(err))
		m.setLastError(err)
		return err
	}
	if !claimed {
		// Another worker won the claim.
		return nil
	}

	m.setJobProcessingState(job, stg.processingStatus)
	if err := m.store.Update(stageCtx, job); err != nil {
		stageLogger.Error("failed to persist processing transition", logging.Error(err))
		m.setLastError(err)
		return err
	}
	m.setLastJob(job)
	if lane == nil || lane.notificationsEnabled {
		m.onJobStarted(stageCtx)
	}

	return m.executeStage(stageCtx, stageLogger, stg, job)
}

func (m *Manager) executeStage(ctx context.Context, stageLogger *slog.Logger, stg pipelineStage, job *queue.Job) error {
	stageStart := time.Now()
	stageLogger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("processing_status", string(stg.processingStatus)),
	)

	handler := stg.handler
	if handler == nil {
		stageLogger.Warn("missing stage handler", logging.String(logging.FieldStage, stg.name))
		job.SetFailed(fmt.Sprintf("stage %s missing handler", stg.name), services.ClassConfiguration.String())
		if err := m.store.Update(ctx, job); err != nil {
			stageLogger.Error("failed to persist missing handler failure", logging.Error(err))
		}
		err := errors.New("stage handler unavailable")
		m.setLastError(err)
		return err
	}

	if err := handler.Prepare(ctx, job); err != nil {
		m.handleStageFailure(ctx, stg, job, err)
		m.setLastError(err)
		return err
	}
	if err := m.store.Update(ctx, job); err != nil {
		wrapped := fmt.Errorf("persist stage preparation: %w", err)
		stageLogger.Error("failed to persist stage preparation", logging.Error(wrapped))
		m.setLastError(wrapped)
		return wrapped
	}

	userCancelled, execErr := m.executeWithHeartbeat(ctx, stg, job)
	if execErr == nil && userCancelled && !job.IsTerminal() {
		// The cancel landed just as the handler finished; honor it.
		execErr = context.Canceled
	}
	if execErr != nil {
		if errors.Is(execErr, context.Canceled) && !userCancelled && ctx.Err() != nil {
			// Shutdown. Leave the row untouched so the restart reset or the
			// reclaimer can return it to the start of the stage.
			stageLogger.Debug("stage interrupted by shutdown")
			return execErr
		}
		m.handleStageFailure(ctx, stg, job, execErr)
		m.setLastError(execErr)
		return execErr
	}

	if job.Status == stg.processingStatus || job.Status == "" {
		job.Status = stg.doneStatus
	}
	job.LastHeartbeat = nil
	if job.IsTerminal() && job.FinishedAt == nil {
		now := time.Now().UTC()
		job.FinishedAt = &now
	}
	if job.Status == queue.StatusCompleted {
		job.ProgressStage = deriveStageLabel(queue.StatusCompleted)
		if job.ProgressPercent < 100 {
			job.ProgressPercent = 100
		}
		if strings.TrimSpace(job.ProgressMessage) == "" {
			job.ProgressMessage = deriveStageLabel(queue.StatusCompleted)
		}
	}
	if err := m.store.Update(ctx, job); err != nil {
		wrapped := fmt.Errorf("persist stage result: %w", err)
		stageLogger.Error("failed to persist stage result", logging.Error(wrapped))
		m.setLastError(wrapped)
		return wrapped
	}
	stageLogger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("next_status", string(job.Status)),
		logging.String(logging.FieldProgressStage, strings.TrimSpace(job.ProgressStage)),
		logging.String(logging.FieldProgressMessage, strings.TrimSpace(job.ProgressMessage)),
		logging.Duration("stage_duration", time.Since(stageStart)),
	)
	m.setLastJob(job)
	if job.Status == queue.StatusCompleted {
		m.notifyJobCompleted(ctx, job)
		m.runTerminalHooks(ctx, job)
	}
	m.checkQueueDrained(ctx)
	return nil
}

// executeWithHeartbeat runs the stage handler with a heartbeat loop and a
// cancel-request watcher alongside it. The returned bool reports whether a
// user cancel interrupted the handler.
func (m *Manager) executeWithHeartbeat(ctx context.Context, stg pipelineStage, job *queue.Job) (bool, error) {
	execCtx := ctx
	var execCancel context.CancelFunc
	if timeout := m.cfg.JobExecutionTimeout(); timeout > 0 {
		execCtx, execCancel = context.WithTimeout(ctx, timeout)
	} else {
		execCtx, execCancel = context.WithCancel(ctx)
	}
	defer execCancel()

	watchCtx, watchCancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	var userCancelled atomic.Bool
	wg.Add(2)
	go m.heartbeat.StartLoop(watchCtx, &wg, job.ID)
	go m.watchCancellation(watchCtx, &wg, job.ID, &userCancelled, execCancel)

	execErr := stg.handler.Execute(execCtx, job)
	watchCancel()
	wg.Wait()

	if execErr != nil && !userCancelled.Load() && errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		execErr = services.Wrap(services.ErrTimeout, stg.name, "execute",
			fmt.Sprintf("job exceeded the execution timeout of %s", m.cfg.JobExecutionTimeout()), execErr)
	}
	if userCancelled.Load() && execErr != nil && !errors.Is(execErr, context.Canceled) {
		// The handler surfaced the forced stop as its own error type.
		execErr = fmt.Errorf("%w: %v", context.Canceled, execErr)
	}
	return userCancelled.Load(), execErr
}

func (m *Manager) watchCancellation(ctx context.Context, wg *sync.WaitGroup, jobID int64, flagged *atomic.Bool, cancelExec context.CancelFunc) {
	defer wg.Done()
	ticker := time.NewTicker(cancelPollInterval)
	defer ticker.Stop()

	logger := logging.WithContext(ctx, logging.NewComponentLogger(m.logger, "worker-cancel-watch"))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			requested, err := m.store.CancelRequested(ctx, jobID)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					logger.Debug("cancel flag check failed", logging.Error(err))
				}
				continue
			}
			if requested {
				flagged.Store(true)
				cancelExec()
				return
			}
		}
	}
}

func (m *Manager) setJobProcessingState(job *queue.Job, processing queue.Status) {
	now := time.Now().UTC()
	job.Status = processing
	if job.StartedAt == nil {
		job.StartedAt = &now
	}
	if job.ProgressStage == "" {
		job.ProgressStage = deriveStageLabel(processing)
	}
	if job.ProgressMessage == "" {
		job.ProgressMessage = fmt.Sprintf("%s started", deriveStageLabel(processing))
	}
	job.ProgressPercent = 0
	job.ErrorMessage = ""
	job.ErrorClass = ""
	job.LastHeartbeat = &now
}
