package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"log/slog"

	"github.com/gofrs/flock"

	"unmix/internal/config"
	"unmix/internal/deps"
	"unmix/internal/logging"
	"unmix/internal/modelcache"
	"unmix/internal/notifications"
	"unmix/internal/queue"
	"unmix/internal/worker"
)

// Daemon coordinates background processing and enforces single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *queue.Store
	worker *worker.Manager
	models *modelcache.Cache

	api   *apiServer
	watch *watchMonitor

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	QueueDBPath  string
	LockFilePath string
	Workflow     worker.StatusSummary
	Dependencies []deps.Status
}

// New constructs a daemon with initialized collaborators.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, mgr *worker.Manager, models *modelcache.Cache) (*Daemon, error) {
	if cfg == nil || store == nil || logger == nil || mgr == nil {
		return nil, errors.New("daemon requires config, store, logger, and worker manager")
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "unmixd.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		worker:   mgr,
		models:   models,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}

	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	d.watch = newWatchMonitor(cfg, store, logger)
	return d, nil
}

// Start acquires the daemon lock and launches the worker, the watch monitor,
// and the job API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another unmix daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.worker.Start(d.ctx); err != nil {
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return fmt.Errorf("start worker: %w", err)
	}

	if d.api != nil {
		if err := d.api.start(d.ctx); err != nil {
			d.worker.Stop()
			_ = d.lock.Unlock()
			d.cancel()
			d.ctx = nil
			d.cancel = nil
			return err
		}
	}
	if d.watch != nil {
		if err := d.watch.start(d.ctx); err != nil {
			// Watch ingest is optional; the API and queue still work.
			d.logger.Warn("watch monitor unavailable",
				logging.Error(err),
				logging.String("watch_dir", d.cfg.Paths.WatchDir),
			)
		}
	}

	d.preloadModels(d.ctx)

	d.running.Store(true)
	d.logger.Info("unmix daemon started", logging.String("lock", d.lockPath))
	return nil
}

// preloadModels warms the model cache with the configured roster in the
// background. Failures are logged, never fatal: the separation stage ensures
// its own models per job.
func (d *Daemon) preloadModels(ctx context.Context) {
	if d.models == nil || len(d.cfg.Separator.PreloadModels) == 0 {
		return
	}
	roster := append([]string(nil), d.cfg.Separator.PreloadModels...)
	go func() {
		logger := logging.NewComponentLogger(d.logger, "model-preload")
		if err := d.models.Ensure(ctx, roster...); err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.Warn("model preload incomplete; downloads resume on first use",
					logging.Error(err),
				)
			}
			return
		}
		logger.Info("required models cached", logging.Int("count", len(roster)))
	}()
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.watch != nil {
		d.watch.stop()
	}
	if d.api != nil {
		d.api.stop()
	}
	d.worker.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("unmix daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// APIAddr returns the bound job API address, or empty when the API is
// disabled or the daemon is stopped.
func (d *Daemon) APIAddr() string {
	return d.api.addr()
}

// Running reports whether the daemon has been started.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	summary := d.worker.Status(ctx)
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		QueueDBPath:  d.store.Path(),
		LockFilePath: d.lockPath,
		Workflow:     summary,
		Dependencies: deps.CheckSystemDeps(ctx, d.cfg),
	}
}

// ListQueue returns queue jobs filtered by optional statuses.
func (d *Daemon) ListQueue(ctx context.Context, statuses []queue.Status) ([]*queue.Job, error) {
	if len(statuses) == 0 {
		return d.store.List(ctx)
	}
	return d.store.List(ctx, statuses...)
}

// GetQueueJob returns a single queue record by internal id.
func (d *Daemon) GetQueueJob(ctx context.Context, id int64) (*queue.Job, error) {
	return d.store.GetByID(ctx, id)
}

// ClearQueue removes all queue jobs.
func (d *Daemon) ClearQueue(ctx context.Context) (int64, error) {
	return d.store.Clear(ctx)
}

// ClearCompleted removes completed queue jobs.
func (d *Daemon) ClearCompleted(ctx context.Context) (int64, error) {
	return d.store.ClearCompleted(ctx)
}

// ClearFailed removes failed queue jobs.
func (d *Daemon) ClearFailed(ctx context.Context) (int64, error) {
	return d.store.ClearFailed(ctx)
}

// ResetStuck transitions in-flight jobs back to their stage start for retry.
func (d *Daemon) ResetStuck(ctx context.Context) (int64, error) {
	return d.store.ResetStuckProcessing(ctx)
}

// RetryFailed resets failed jobs (optionally a subset) back to pending.
func (d *Daemon) RetryFailed(ctx context.Context, ids []int64) (int64, error) {
	return d.store.RetryFailed(ctx, ids...)
}

// CancelJobs requests cancellation for the given jobs. Waiting jobs cancel
// immediately; in-flight jobs stop at the next engine boundary.
func (d *Daemon) CancelJobs(ctx context.Context, ids []int64) (int64, error) {
	var affected int64
	for _, id := range ids {
		outcome, err := d.store.RequestCancel(ctx, id)
		if err != nil {
			return affected, err
		}
		switch outcome {
		case queue.CancelOutcomeCancelled, queue.CancelOutcomeSignalled:
			affected++
		}
	}
	return affected, nil
}

// RemoveJobs deletes specific queue records.
func (d *Daemon) RemoveJobs(ctx context.Context, ids []int64) (int64, error) {
	var removed int64
	for _, id := range ids {
		ok, err := d.store.Remove(ctx, id)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

// QueueHealth returns aggregate queue diagnostics.
func (d *Daemon) QueueHealth(ctx context.Context) (queue.HealthSummary, error) {
	return d.store.Health(ctx)
}

// DatabaseHealth returns detailed database diagnostics.
func (d *Daemon) DatabaseHealth(ctx context.Context) (queue.DatabaseHealth, error) {
	return d.store.CheckHealth(ctx)
}

// ListModels returns the model catalog merged with cache state.
func (d *Daemon) ListModels(ctx context.Context) ([]modelcache.Status, error) {
	if d.models == nil {
		return nil, errors.New("model cache unavailable")
	}
	return d.models.List()
}

// EnsureModels downloads the named models (or the configured preload roster
// when none are given) into the cache.
func (d *Daemon) EnsureModels(ctx context.Context, filenames []string) error {
	if d.models == nil {
		return errors.New("model cache unavailable")
	}
	if len(filenames) == 0 {
		filenames = d.cfg.Separator.PreloadModels
	}
	return d.models.Ensure(ctx, filenames...)
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	notifier := notifications.NewService(d.cfg)
	if err := notifier.Publish(ctx, notifications.EventTest, nil); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}
