// Package daemonrun hosts the daemon runtime loop shared by the unmixd
// binary and the CLI's foreground daemon command.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"unmix/internal/config"
	"unmix/internal/daemon"
	"unmix/internal/delivery"
	"unmix/internal/intake"
	"unmix/internal/ipc"
	"unmix/internal/logging"
	"unmix/internal/modelcache"
	"unmix/internal/notifications"
	"unmix/internal/queue"
	"unmix/internal/separation"
	"unmix/internal/worker"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel   string
	SocketPath string
}

// Run starts the unmix daemon runtime loop and blocks until the context or a
// termination signal ends it.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("unmixd-%s.log", runID))

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update unmixd.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "unmixd-*.log", Exclude: []string{logPath}},
	)

	pidPath := filepath.Join(cfg.Paths.LogDir, "unmixd.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return err
	}
	defer store.Close()

	models, err := modelcache.New(cfg.Paths.ModelDir, logger)
	if err != nil {
		logger.Error("open model cache", logging.Error(err))
		return err
	}

	notifier := notifications.NewService(cfg)
	manager := worker.NewManagerWithOptions(cfg, store, logger, notifier,
		worker.WithJobTerminalHook(daemon.TerminalWebhookHook(logger)))
	registerStages(manager, cfg, store, logger, models)

	d, err := daemon.New(cfg, store, logger, manager, models)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	socketPath := opts.SocketPath
	if socketPath == "" {
		socketPath = filepath.Join(cfg.Paths.LogDir, "unmixd.sock")
	}
	ipcServer, err := ipc.NewServer(signalCtx, socketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		logger.Warn("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check configuration and queue database access"),
			logging.String(logging.FieldImpact, "daemon may not process jobs"),
		)
	}

	<-signalCtx.Done()
	logger.Info("unmix daemon shutting down")
	return nil
}

func registerStages(mgr *worker.Manager, cfg *config.Config, store *queue.Store, logger *slog.Logger, models *modelcache.Cache) {
	if mgr == nil || cfg == nil {
		return
	}

	mgr.ConfigureStages(worker.StageSet{
		Intake:     intake.New(cfg, store, logger, models),
		Separation: separation.New(cfg, store, logger, models),
		Delivery:   delivery.New(cfg, store, logger),
	})
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "unmixd.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
