package daemonrun

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestWritePIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unmixd.pid")
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatalf("parse pid: %v", err)
	}
	if pid != os.Getpid() {
		t.Fatalf("expected pid %d, got %d", os.Getpid(), pid)
	}

	if err := writePIDFile(""); err != nil {
		t.Fatalf("expected empty path to be a no-op, got %v", err)
	}
}

func TestEnsureCurrentLogPointer(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "unmixd-20260101T000000.000Z.log")
	if err := os.WriteFile(target, []byte("line\n"), 0o644); err != nil {
		t.Fatalf("write target: %v", err)
	}

	if err := ensureCurrentLogPointer(dir, target); err != nil {
		t.Fatalf("ensureCurrentLogPointer: %v", err)
	}
	pointer := filepath.Join(dir, "unmixd.log")
	data, err := os.ReadFile(pointer)
	if err != nil {
		t.Fatalf("read pointer: %v", err)
	}
	if string(data) != "line\n" {
		t.Fatalf("unexpected pointer content %q", data)
	}

	// Pointing at a second run replaces the link.
	next := filepath.Join(dir, "unmixd-20260101T010000.000Z.log")
	if err := os.WriteFile(next, []byte("next\n"), 0o644); err != nil {
		t.Fatalf("write next: %v", err)
	}
	if err := ensureCurrentLogPointer(dir, next); err != nil {
		t.Fatalf("ensureCurrentLogPointer second run: %v", err)
	}
	data, err = os.ReadFile(pointer)
	if err != nil {
		t.Fatalf("read pointer after relink: %v", err)
	}
	if string(data) != "next\n" {
		t.Fatalf("unexpected pointer content after relink %q", data)
	}

	if err := ensureCurrentLogPointer("", target); err != nil {
		t.Fatalf("expected empty dir to be a no-op, got %v", err)
	}
}

func TestRegisterStagesNilSafe(t *testing.T) {
	registerStages(nil, nil, nil, nil, nil)
}
