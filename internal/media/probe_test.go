package media_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"unmix/internal/media"
	"unmix/internal/testsupport"
)

func TestProbeWAVReadsHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stem.wav")
	testsupport.WriteWAV(t, path, 4410)

	info, err := media.ProbeWAV(path)
	if err != nil {
		t.Fatalf("ProbeWAV: %v", err)
	}
	if info.SampleRate != 44100 {
		t.Fatalf("sample rate = %d", info.SampleRate)
	}
	if info.Channels != 2 {
		t.Fatalf("channels = %d", info.Channels)
	}
	if info.BitDepth != 16 {
		t.Fatalf("bit depth = %d", info.BitDepth)
	}
	if info.Duration <= 0 {
		t.Fatalf("duration = %v", info.Duration)
	}
}

func TestProbeWAVRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.wav")
	if err := os.WriteFile(path, []byte("definitely not RIFF"), 0o644); err != nil {
		t.Fatalf("write junk: %v", err)
	}
	if _, err := media.ProbeWAV(path); err == nil {
		t.Fatal("expected error for non-WAV content")
	}
}

func TestValidateStem(t *testing.T) {
	dir := t.TempDir()

	valid := filepath.Join(dir, "ok.wav")
	testsupport.WriteWAV(t, valid, 441)
	if err := media.ValidateStem(valid); err != nil {
		t.Fatalf("ValidateStem valid: %v", err)
	}

	empty := filepath.Join(dir, "empty.wav")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatalf("write empty: %v", err)
	}
	if err := media.ValidateStem(empty); err == nil || !strings.Contains(err.Error(), "empty") {
		t.Fatalf("expected empty error, got %v", err)
	}

	if err := media.ValidateStem(filepath.Join(dir, "missing.wav")); err == nil {
		t.Fatal("expected error for missing stem")
	}

	// Non-WAV outputs skip the header probe.
	mp3 := filepath.Join(dir, "ok.mp3")
	if err := os.WriteFile(mp3, []byte("ID3 compressed audio"), 0o644); err != nil {
		t.Fatalf("write mp3: %v", err)
	}
	if err := media.ValidateStem(mp3); err != nil {
		t.Fatalf("ValidateStem mp3: %v", err)
	}
}
