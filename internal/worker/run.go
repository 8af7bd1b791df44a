package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"unmix/internal/logging"
	"unmix/internal/queue"
)

// Start begins background processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("worker already running")
	}
	lanes := make([]*laneState, 0, len(m.laneOrder))
	for _, kind := range m.laneOrder {
		lane := m.lanes[kind]
		if lane == nil || len(lane.statusOrder) == 0 {
			continue
		}
		lanes = append(lanes, lane)
	}
	if len(lanes) == 0 {
		m.mu.Unlock()
		return errors.New("worker stages not configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	for _, lane := range lanes {
		lane.logger = m.laneLogger(lane)
		if lane.workers < 1 {
			lane.workers = 1
		}
		m.wg.Add(lane.workers)
	}
	m.wg.Add(1)
	m.mu.Unlock()

	for _, lane := range lanes {
		for i := 0; i < lane.workers; i++ {
			go m.runLane(runCtx, lane)
		}
	}
	go m.runMaintenance(runCtx)

	return nil
}

// Stop terminates background processing and waits for in-flight work to unwind.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Manager) runLane(ctx context.Context, lane *laneState) {
	defer m.wg.Done()
	if lane == nil {
		return
	}
	logger := lane.logger
	if logger == nil {
		logger = m.logger
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := m.nextJobForLane(ctx, lane)
		if err != nil {
			m.handleNextJobError(ctx, logger, err)
			continue
		}
		if job == nil {
			m.waitForJobOrShutdown(ctx)
			continue
		}

		if err := m.processJob(ctx, lane, logger, job); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
		}
	}
}

func (m *Manager) nextJobForLane(ctx context.Context, lane *laneState) (*queue.Job, error) {
	if lane == nil || len(lane.statusOrder) == 0 {
		return nil, nil
	}
	return m.store.NextForStatuses(ctx, lane.statusOrder...)
}

func (m *Manager) handleNextJobError(ctx context.Context, logger *slog.Logger, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	m.setLastError(err)
	logger.Error("failed to fetch next queue job",
		logging.Error(err),
		logging.String(logging.FieldEventType, "queue_fetch_failed"),
		logging.String(logging.FieldErrorHint, "check queue database access"),
	)
	select {
	case <-ctx.Done():
	case <-time.After(m.cfg.ErrorRetryIntervalDuration()):
	}
}

func (m *Manager) waitForJobOrShutdown(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(m.pollInterval):
	}
}

// runMaintenance reclaims jobs whose workers stopped heartbeating and removes
// terminal jobs past the retention window. One loop serves every lane.
func (m *Manager) runMaintenance(ctx context.Context) {
	defer m.wg.Done()
	logger := logging.NewComponentLogger(m.logger, "worker-maintenance")

	interval := m.pollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.heartbeat.ReclaimStaleJobs(ctx, logger, m.processingStatuses()); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				logger.Warn("reclaim stale processing failed; stuck jobs may remain",
					logging.Error(err),
					logging.String(logging.FieldEventType, "heartbeat_reclaim_failed"),
					logging.String(logging.FieldErrorHint, "check queue database access"),
				)
			}
			m.sweepExpired(ctx, logger)
		}
	}
}

func (m *Manager) sweepExpired(ctx context.Context, logger *slog.Logger) {
	retention := m.cfg.RetentionAge()
	if retention <= 0 {
		return
	}
	removed, err := m.store.SweepTerminal(ctx, retention)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logger.Warn("terminal job sweep failed", logging.Error(err))
		}
		return
	}
	if removed > 0 {
		logger.Info("removed expired terminal jobs", logging.Int64("count", removed))
	}
}

func (m *Manager) processingStatuses() []queue.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[queue.Status]struct{})
	var statuses []queue.Status
	for _, kind := range m.laneOrder {
		lane := m.lanes[kind]
		if lane == nil {
			continue
		}
		for _, status := range lane.processingStatuses {
			if _, ok := seen[status]; ok {
				continue
			}
			seen[status] = struct{}{}
			statuses = append(statuses, status)
		}
	}
	return statuses
}
