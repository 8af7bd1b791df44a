package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"unmix/internal/config"
	"unmix/internal/notifications"
	"unmix/internal/queue"
)

// Manager coordinates queue processing using registered stage handlers.
type Manager struct {
	cfg          *config.Config
	store        *queue.Store
	logger       *slog.Logger
	pollInterval time.Duration
	notifier     notifications.Service

	heartbeat     *HeartbeatMonitor
	terminalHooks []JobTerminalHook

	lanes     map[laneKind]*laneState
	laneOrder []laneKind

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
	lastJob *queue.Job

	queueActive bool
	queueStart  time.Time
}

// JobTerminalHook runs after a job reaches a terminal status and the change
// has been persisted. The job passed to the hook is a copy the hook owns.
type JobTerminalHook func(ctx context.Context, job *queue.Job)

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*managerOptions)

type managerOptions struct {
	terminalHooks []JobTerminalHook
}

// WithJobTerminalHook registers a callback invoked whenever a job completes,
// fails, or is cancelled. The daemon uses this to deliver per-job webhooks.
func WithJobTerminalHook(hook JobTerminalHook) ManagerOption {
	return func(o *managerOptions) {
		if hook != nil {
			o.terminalHooks = append(o.terminalHooks, hook)
		}
	}
}

// NewManager constructs a worker manager with the default notifier.
func NewManager(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Manager {
	return NewManagerWithOptions(cfg, store, logger, notifications.NewService(cfg))
}

// NewManagerWithNotifier constructs a worker manager with a custom notifier (used in tests).
func NewManagerWithNotifier(cfg *config.Config, store *queue.Store, logger *slog.Logger, notifier notifications.Service) *Manager {
	return NewManagerWithOptions(cfg, store, logger, notifier)
}

// NewManagerWithOptions constructs a worker manager with full configuration.
func NewManagerWithOptions(cfg *config.Config, store *queue.Store, logger *slog.Logger, notifier notifications.Service, opts ...ManagerOption) *Manager {
	options := &managerOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return &Manager{
		cfg:          cfg,
		store:        store,
		logger:       logger,
		notifier:     notifier,
		pollInterval: cfg.QueuePollIntervalDuration(),
		heartbeat: NewHeartbeatMonitor(
			store,
			logger,
			cfg.HeartbeatIntervalDuration(),
			cfg.HeartbeatTimeoutDuration(),
		),
		terminalHooks: options.terminalHooks,
		lanes:         make(map[laneKind]*laneState),
	}
}
