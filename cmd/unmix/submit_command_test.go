package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"unmix/internal/api"
	"unmix/internal/config"
)

func TestBuildJobInputFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "input.wav")
	payload := []byte("RIFF fake wav data")
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	input, err := buildJobInput(path, "", "model.ckpt", "flac", "url", []string{"vocals=lead", "instrumental=backing"})
	if err != nil {
		t.Fatalf("buildJobInput: %v", err)
	}
	if input.AudioURL != "" {
		t.Fatalf("expected no audio_url, got %q", input.AudioURL)
	}
	decoded, err := base64.StdEncoding.DecodeString(input.AudioData)
	if err != nil {
		t.Fatalf("decode audio_data: %v", err)
	}
	if string(decoded) != string(payload) {
		t.Fatal("audio_data round trip mismatch")
	}
	if input.ModelFilename != "model.ckpt" || input.OutputFormat != "flac" || input.ReturnType != "url" {
		t.Fatalf("unexpected input fields: %+v", input)
	}
	if input.CustomOutputNames["vocals"] != "lead" {
		t.Fatalf("unexpected custom names: %v", input.CustomOutputNames)
	}
}

func TestBuildJobInputFromURL(t *testing.T) {
	input, err := buildJobInput("https://example.com/track.wav", "advanced_separate", "", "", "", nil)
	if err != nil {
		t.Fatalf("buildJobInput: %v", err)
	}
	if input.AudioURL != "https://example.com/track.wav" {
		t.Fatalf("expected audio_url passthrough, got %q", input.AudioURL)
	}
	if input.AudioData != "" {
		t.Fatal("expected empty audio_data for URL input")
	}
	if input.Type != "advanced_separate" {
		t.Fatalf("expected advanced_separate type, got %q", input.Type)
	}
}

func TestBuildJobInputRejectsBadValues(t *testing.T) {
	if _, err := buildJobInput("https://example.com/a.wav", "", "", "", "zip", nil); err == nil {
		t.Fatal("expected invalid return type error")
	}
	if _, err := buildJobInput("https://example.com/a.wav", "", "", "", "", []string{"vocals"}); err == nil {
		t.Fatal("expected invalid custom name error")
	}
	if _, err := buildJobInput("https://example.com/a.wav", "transcribe", "", "", "", nil); err == nil {
		t.Fatal("expected invalid job type error")
	}
	if _, err := buildJobInput("https://example.com/a.wav", "list_models", "", "", "", nil); err == nil {
		t.Fatal("expected list_models to be rejected for submit")
	}
}

func TestJobAPIClientRunAndStatus(t *testing.T) {
	var gotAuth string
	mux := http.NewServeMux()
	mux.HandleFunc("/run", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req api.RunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Input.AudioURL == "" {
			http.Error(w, "missing audio_url", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(api.JobStatus{ID: "job-123", Status: api.WireStatusInQueue})
	})
	mux.HandleFunc("/status/job-123", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(api.JobStatus{
			ID:            "job-123",
			Status:        api.WireStatusCompleted,
			ExecutionTime: 1500,
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	cfgVal := config.Default()
	cfgVal.Paths.APIBind = strings.TrimPrefix(server.URL, "http://")
	cfgVal.Paths.APIToken = "secret"

	client, err := newJobAPIClient(&cfgVal)
	if err != nil {
		t.Fatalf("newJobAPIClient: %v", err)
	}

	status, err := client.Run(context.Background(), api.RunRequest{
		Input: api.JobInput{AudioURL: "https://example.com/a.wav"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if status.ID != "job-123" || status.Status != api.WireStatusInQueue {
		t.Fatalf("unexpected run response: %+v", status)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("expected bearer token, got %q", gotAuth)
	}

	status, err = client.Status(context.Background(), "job-123")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Status != api.WireStatusCompleted || status.ExecutionTime != 1500 {
		t.Fatalf("unexpected status response: %+v", status)
	}
}

func TestJobAPIClientUnavailable(t *testing.T) {
	cfgVal := config.Default()
	cfgVal.Paths.APIBind = ""
	if _, err := newJobAPIClient(&cfgVal); err == nil {
		t.Fatal("expected unavailable error without api_bind")
	}
}

func TestIsTerminalWireStatus(t *testing.T) {
	for _, status := range []string{api.WireStatusCompleted, api.WireStatusFailed, api.WireStatusCancelled, api.WireStatusTimedOut} {
		if !isTerminalWireStatus(status) {
			t.Fatalf("expected %s to be terminal", status)
		}
	}
	for _, status := range []string{api.WireStatusInQueue, api.WireStatusInProgress, ""} {
		if isTerminalWireStatus(status) {
			t.Fatalf("expected %s to be non-terminal", status)
		}
	}
}
