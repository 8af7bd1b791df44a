package logging_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"unmix/internal/config"
	"unmix/internal/logging"
	"unmix/internal/services"
)

func TestNewFromConfigConsole(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger instance")
	}
	logger.Info("startup message")

	content, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "unmixd.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "startup message") {
		t.Fatalf("expected log file to contain message, got %q", content)
	}
}

func TestNewFromConfigNilFallsBack(t *testing.T) {
	logger, err := logging.NewFromConfig(nil)
	if err != nil {
		t.Fatalf("NewFromConfig(nil) returned error: %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger instance")
	}
}

func TestConsoleLoggerOmitsCallerForInfo(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-info.log")

	logger, err := logging.New(logging.Options{
		Format:           "console",
		Level:            "info",
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("message without caller")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(content), ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", content)
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-debug.log")

	logger, err := logging.New(logging.Options{
		Format:           "console",
		Level:            "debug",
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("message with caller")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), ".go:") {
		t.Fatalf("expected caller information in debug logs, got %q", content)
	}
}

func TestNewJSONLoggerRenamesCoreKeys(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")

	logger, err := logging.New(logging.Options{
		Format:           "json",
		Level:            "info",
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("json message", logging.String("k", "v"))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(content, &entry); err != nil {
		t.Fatalf("parse json log line: %v (line %q)", err, content)
	}
	if entry["msg"] != "json message" {
		t.Fatalf("msg = %v, want %q", entry["msg"], "json message")
	}
	if entry["level"] != "info" {
		t.Fatalf("level = %v, want info", entry["level"])
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatal("expected ts key in json log entry")
	}
	if entry["k"] != "v" {
		t.Fatalf("k = %v, want v", entry["k"])
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNewInvalidLevelDefaultsToInfo(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "level.log")

	logger, err := logging.New(logging.Options{
		Format:           "console",
		Level:            "invalid",
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Debug("suppressed")
	logger.Info("visible")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(content), "suppressed") {
		t.Fatalf("debug output should be suppressed at info level, got %q", content)
	}
	if !strings.Contains(string(content), "visible") {
		t.Fatalf("info output missing, got %q", content)
	}
}

func TestWithContextAddsFields(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithJobID(ctx, 123)
	ctx = services.WithStage(ctx, "separating")
	ctx = services.WithRequestID(ctx, "req-xyz")

	logPath := filepath.Join(t.TempDir(), "context.log")
	logger, err := logging.New(logging.Options{
		Format:           "console",
		Level:            "info",
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logging.WithContext(ctx, logger).Info("contextual log")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(content)
	for _, want := range []string{"job_id=123", "stage=separating", "correlation_id=req-xyz"} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in log line %q", want, line)
		}
	}
}

func TestConsoleHandlerPromotesComponent(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "component.log")
	logger, err := logging.New(logging.Options{
		Format:           "console",
		Level:            "info",
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logging.NewComponentLogger(logger, "worker").Info("claimed job")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(content)
	if !strings.Contains(line, "worker: claimed job") {
		t.Fatalf("expected component prefix in %q", line)
	}
	if strings.Contains(line, "component=") {
		t.Fatalf("component should not repeat as key=value in %q", line)
	}
}

func TestNewComponentLoggerNilBase(t *testing.T) {
	logger := logging.NewComponentLogger(nil, "intake")
	if logger == nil {
		t.Fatal("expected logger instance")
	}
	logger.Info("no-op output")
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "warn.log")
	logger, err := logging.New(logging.Options{
		Format:           "console",
		Level:            "warn",
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logging.WarnWithContext(logger, "upload retried", "delivery_retry")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(content)
	for _, want := range []string{"event_type=delivery_retry", "error_hint=", "impact="} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in warn line %q", want, line)
		}
	}
}
