package main

import (
	"testing"

	"unmix/internal/queue"
)

func TestStatusCommandRendersSections(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "System Status")
	requireContains(t, out, "Dependencies")
	requireContains(t, out, "Storage Paths")
	requireContains(t, out, "Queue Status")
	requireContains(t, out, "Staging")
}

func TestStatusCommandShowsQueueCounts(t *testing.T) {
	env := setupCLITestEnv(t)

	seedJob(t, env, queue.StatusPending)

	out, _, err := runCLI(t, []string{"status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status with jobs: %v", err)
	}
	requireContains(t, out, "Pending")
}

func TestHealthCommandOfflineFallback(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"health"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	requireContains(t, out, "Daemon")
	requireContains(t, out, "audio-separator")
}
