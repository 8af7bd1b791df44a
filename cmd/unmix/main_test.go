package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"unmix/internal/config"
	"unmix/internal/daemon"
	"unmix/internal/intake"
	"unmix/internal/ipc"
	"unmix/internal/logging"
	"unmix/internal/modelcache"
	"unmix/internal/queue"
	"unmix/internal/testsupport"
	"unmix/internal/worker"
)

type cliTestEnv struct {
	cfg        *config.Config
	store      *queue.Store
	daemon     *daemon.Daemon
	server     *ipc.Server
	socketPath string
	configPath string
	baseDir    string
	cancel     context.CancelFunc
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	cfg.Separator.PreloadModels = nil
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}

	base := testsupport.BaseDir(cfg)
	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)

	store := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()

	models, err := modelcache.New(cfg.Paths.ModelDir, logger)
	if err != nil {
		t.Fatalf("modelcache.New: %v", err)
	}

	mgr := worker.NewManager(cfg, store, logger)
	mgr.ConfigureStages(worker.StageSet{
		Intake: intake.New(cfg, store, logger, models),
	})

	d, err := daemon.New(cfg, store, logger, mgr, models)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	socketPath := filepath.Join(cfg.Paths.LogDir, "cli.sock")
	srv, err := ipc.NewServer(ctx, socketPath, d, logger)
	if err != nil {
		cancel()
		d.Close()
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping CLI test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()

	env := &cliTestEnv{
		cfg:        cfg,
		store:      store,
		daemon:     d,
		server:     srv,
		socketPath: socketPath,
		configPath: configPath,
		baseDir:    base,
		cancel:     cancel,
	}

	t.Cleanup(func() {
		cancel()
		srv.Close()
		d.Close()
	})

	time.Sleep(50 * time.Millisecond)
	return env
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--socket", socket}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q, got:\n%s", needle, haystack)
	}
}

func seedJob(t *testing.T, env *cliTestEnv, status queue.Status) *queue.Job {
	t.Helper()
	job := testsupport.NewJob(t, env.store, queue.NewJobParams{
		JobType:   queue.JobTypeSeparate,
		InputJSON: `{"audio_url":"file:///tmp/input.wav"}`,
	})
	if status != queue.StatusPending {
		job.Status = status
		if err := env.store.Update(context.Background(), job); err != nil {
			t.Fatalf("update job status: %v", err)
		}
	}
	return job
}

func TestCLIQueueLifecycle(t *testing.T) {
	env := setupCLITestEnv(t)

	seedJob(t, env, queue.StatusPending)
	failed := seedJob(t, env, queue.StatusFailed)

	out, _, err := runCLI(t, []string{"queue", "status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("queue status: %v", err)
	}
	requireContains(t, out, "Pending")
	requireContains(t, out, "Failed")

	out, _, err = runCLI(t, []string{"queue", "list"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("queue list: %v", err)
	}
	requireContains(t, out, "Separate")
	requireContains(t, out, "Failed")

	out, _, err = runCLI(t, []string{"queue", "retry"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("queue retry: %v", err)
	}
	requireContains(t, out, "Retried 1 failed jobs")

	retried, err := env.store.GetByID(context.Background(), failed.ID)
	if err != nil {
		t.Fatalf("lookup retried job: %v", err)
	}
	if retried.Status != queue.StatusPending {
		t.Fatalf("expected pending, got %s", retried.Status)
	}

	retried.Status = queue.StatusFailed
	if err := env.store.Update(context.Background(), retried); err != nil {
		t.Fatalf("reset failed: %v", err)
	}

	out, _, err = runCLI(t, []string{"queue", "clear", "--failed"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("queue clear --failed: %v", err)
	}
	requireContains(t, out, "Cleared 1 failed jobs")

	out, _, err = runCLI(t, []string{"queue", "clear"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("queue clear: %v", err)
	}
	requireContains(t, out, "Cleared")

	out, _, err = runCLI(t, []string{"queue", "status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("queue status after clear: %v", err)
	}
	requireContains(t, out, "Queue is empty")
}

func TestCLIModelsList(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"models", "list"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("models list: %v", err)
	}
	requireContains(t, out, "Filename")
	requireContains(t, out, "Cached")
}

func TestCLITestNotifyUnconfigured(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"test-notify"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("test-notify: %v", err)
	}
	requireContains(t, out, "not configured")
}
