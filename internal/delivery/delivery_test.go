package delivery_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"unmix/internal/api"
	"unmix/internal/config"
	"unmix/internal/delivery"
	"unmix/internal/objectstore"
	"unmix/internal/pipeline"
	"unmix/internal/queue"
	"unmix/internal/services"
	"unmix/internal/testsupport"
)

type failingStore struct{ err error }

func (f failingStore) Upload(context.Context, string, string) (string, error) { return "", f.err }
func (f failingStore) Check(context.Context) error                           { return f.err }
func (f failingStore) Kind() string                                          { return "failing" }

type fixture struct {
	cfg     *config.Config
	store   *queue.Store
	handler *delivery.Handler
	destDir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	destDir := t.TempDir()
	dest, err := objectstore.NewLocal(destDir, nil)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	return &fixture{
		cfg:     cfg,
		store:   store,
		handler: delivery.NewWithDestination(cfg, store, nil, dest),
		destDir: destDir,
	}
}

// separatedJob enqueues a job with a manifest pointing at real stem files in
// the job workspace, mirroring what the separation stage leaves behind.
func (f *fixture) separatedJob(t *testing.T, jobType queue.JobType, inputJSON string, manifest pipeline.Manifest) *queue.Job {
	t.Helper()

	job := testsupport.NewJob(t, f.store, queue.NewJobParams{
		JobType:   jobType,
		InputJSON: inputJSON,
	})
	workspace := f.cfg.JobWorkspace(job.UUID)
	for i := range manifest.Artifacts {
		if manifest.Artifacts[i].Path != "" {
			continue
		}
		path := filepath.Join(workspace, "pass1", manifest.Artifacts[i].Name+".wav")
		testsupport.WriteWAV(t, path, 64)
		manifest.Artifacts[i].Path = path
	}
	manifest.JobType = string(jobType)
	encoded, err := manifest.Encode()
	if err != nil {
		t.Fatalf("encode manifest: %v", err)
	}
	job.ManifestJSON = encoded
	job.Status = queue.StatusDelivering
	if err := f.store.Update(context.Background(), job); err != nil {
		t.Fatalf("update job: %v", err)
	}
	return job
}

func decodeSeparationResult(t *testing.T, raw string) api.SeparationResult {
	t.Helper()

	var result api.SeparationResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		t.Fatalf("decode result %q: %v", raw, err)
	}
	return result
}

func decodeErrorResult(t *testing.T, raw string) api.ErrorResult {
	t.Helper()

	var result api.ErrorResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		t.Fatalf("decode error result %q: %v", raw, err)
	}
	return result
}

func TestExecuteDeliversURLs(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	job := f.separatedJob(t, queue.JobTypeSeparate, `{"model":"Kim_Vocal_1.onnx"}`, pipeline.Manifest{
		ModelUsed: "Kim_Vocal_1.onnx",
		Artifacts: []pipeline.Artifact{
			{Name: "Instrumental", Final: true},
			{Name: "Vocals", Final: true},
		},
	})

	if err := f.handler.Prepare(context.Background(), job); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := f.handler.Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	result := decodeSeparationResult(t, job.ResultJSON)
	if !result.Success {
		t.Fatal("expected success result")
	}
	if result.Message != "Audio separation completed successfully" {
		t.Fatalf("message = %q", result.Message)
	}
	if result.ModelUsed != "Kim_Vocal_1.onnx" {
		t.Fatalf("model_used = %q", result.ModelUsed)
	}
	if result.ReturnType != api.ReturnTypeURL {
		t.Fatalf("return_type = %q", result.ReturnType)
	}
	if len(result.OutputFiles) != 0 {
		t.Fatalf("output_files should be empty for url delivery, got %d", len(result.OutputFiles))
	}
	if len(result.OutputURLs) != 2 {
		t.Fatalf("output_urls = %d, want 2", len(result.OutputURLs))
	}
	for name, raw := range result.OutputURLs {
		parsed, err := url.Parse(raw)
		if err != nil {
			t.Fatalf("parse url %q: %v", raw, err)
		}
		if parsed.Scheme != "file" {
			t.Fatalf("scheme = %q, want file", parsed.Scheme)
		}
		delivered := filepath.FromSlash(parsed.Path)
		if _, err := os.Stat(delivered); err != nil {
			t.Fatalf("delivered stem %s missing: %v", name, err)
		}
		want := filepath.Join(f.destDir, job.UUID, name)
		if delivered != want {
			t.Fatalf("delivered path = %q, want %q", delivered, want)
		}
	}
	if job.ProgressStage != "Delivered" || job.ProgressPercent != 100 {
		t.Fatalf("progress = %q/%v", job.ProgressStage, job.ProgressPercent)
	}
}

func TestExecuteInlinesBase64(t *testing.T) {
	t.Parallel()

	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	// base64 delivery needs no backend at all
	handler := delivery.NewWithDestination(cfg, store, nil, nil)
	f := &fixture{cfg: cfg, store: store, handler: handler}

	job := f.separatedJob(t, queue.JobTypeSeparate, `{"return_type":"base64"}`, pipeline.Manifest{
		ModelUsed: "Kim_Vocal_1.onnx",
		Artifacts: []pipeline.Artifact{{Name: "Vocals", Final: true}},
	})

	if err := f.handler.Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	result := decodeSeparationResult(t, job.ResultJSON)
	if result.ReturnType != api.ReturnTypeBase64 {
		t.Fatalf("return_type = %q", result.ReturnType)
	}
	if len(result.OutputURLs) != 0 {
		t.Fatalf("output_urls should be empty for base64 delivery, got %d", len(result.OutputURLs))
	}
	if len(result.OutputFiles) != 1 {
		t.Fatalf("output_files = %d, want 1", len(result.OutputFiles))
	}
	manifest, err := pipeline.ParseManifest(job.ManifestJSON)
	if err != nil {
		t.Fatalf("reparse manifest: %v", err)
	}
	stemPath := manifest.Artifacts[0].Path
	want, err := os.ReadFile(stemPath)
	if err != nil {
		t.Fatalf("read stem: %v", err)
	}
	encoded, ok := result.OutputFiles[filepath.Base(stemPath)]
	if !ok {
		t.Fatalf("output_files missing key %q", filepath.Base(stemPath))
	}
	got, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("decode stem payload: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("decoded %d bytes, want %d", len(got), len(want))
	}
}

func TestExecuteAdvancedResultShape(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	steps := []string{
		"Vocals/Instrumental separation",
		"Lead/Backing vocal separation",
		"DeReverb processing",
		"Denoise processing",
	}
	finals := []string{
		"mix_(Instrumental)_model - separated instrumental",
		"mix_(No Noise)_model - denoised lead vocals",
	}
	job := f.separatedJob(t, queue.JobTypeAdvancedSeparate, `{}`, pipeline.Manifest{
		StepsCompleted: steps,
		FinalOutputs:   finals,
		Artifacts: []pipeline.Artifact{
			{Name: "Instrumental", Final: true},
			{Name: "Vocals_No_Noise", Final: true},
		},
	})

	if err := f.handler.Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	result := decodeSeparationResult(t, job.ResultJSON)
	if result.Message != "Advanced audio separation completed successfully" {
		t.Fatalf("message = %q", result.Message)
	}
	if result.ModelUsed != "" {
		t.Fatalf("advanced jobs carry no model_used, got %q", result.ModelUsed)
	}
	if len(result.StepsCompleted) != len(steps) {
		t.Fatalf("steps_completed = %v", result.StepsCompleted)
	}
	for i, step := range steps {
		if result.StepsCompleted[i] != step {
			t.Fatalf("steps_completed[%d] = %q, want %q", i, result.StepsCompleted[i], step)
		}
	}
	for i, final := range finals {
		if result.FinalOutputs[i] != final {
			t.Fatalf("final_outputs[%d] = %q, want %q", i, result.FinalOutputs[i], final)
		}
	}
}

func TestExecuteCleansWorkspace(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cfg.Jobs.CleanupWorkspace = true
	job := f.separatedJob(t, queue.JobTypeSeparate, `{"return_type":"base64"}`, pipeline.Manifest{
		Artifacts: []pipeline.Artifact{{Name: "Vocals", Final: true}},
	})
	workspace := f.cfg.JobWorkspace(job.UUID)
	if _, err := os.Stat(workspace); err != nil {
		t.Fatalf("workspace should exist before delivery: %v", err)
	}

	if err := f.handler.Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if _, err := os.Stat(workspace); !os.IsNotExist(err) {
		t.Fatalf("workspace should be removed, stat err = %v", err)
	}
	result := decodeSeparationResult(t, job.ResultJSON)
	if len(result.OutputFiles) != 1 {
		t.Fatal("result should survive workspace cleanup")
	}
}

func TestExecuteRejectsMissingStem(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	job := f.separatedJob(t, queue.JobTypeSeparate, `{}`, pipeline.Manifest{
		Artifacts: []pipeline.Artifact{
			{Name: "Vocals", Path: filepath.Join(t.TempDir(), "gone.wav"), Final: true},
		},
	})

	err := f.handler.Execute(context.Background(), job)
	if err == nil {
		t.Fatal("expected error for missing stem")
	}
	if got := services.Classify(err); got != services.ClassExternalTool {
		t.Fatalf("class = %q, want %q", got, services.ClassExternalTool)
	}
	failure := decodeErrorResult(t, job.ResultJSON)
	if failure.Error != "Audio separation failed" {
		t.Fatalf("error label = %q", failure.Error)
	}
}

func TestExecuteRejectsEmptyManifest(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	job := testsupport.NewJob(t, f.store, queue.NewJobParams{JobType: queue.JobTypeAdvancedSeparate})

	err := f.handler.Execute(context.Background(), job)
	if err == nil {
		t.Fatal("expected error for empty manifest")
	}
	if got := services.Classify(err); got != services.ClassValidation {
		t.Fatalf("class = %q, want %q", got, services.ClassValidation)
	}
	failure := decodeErrorResult(t, job.ResultJSON)
	if failure.Error != "Advanced audio separation failed" {
		t.Fatalf("error label = %q", failure.Error)
	}
	if failure.Message != "no stems recorded for this job" {
		t.Fatalf("error message = %q", failure.Message)
	}
}

func TestExecuteUploadFailureIsTransient(t *testing.T) {
	t.Parallel()

	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	handler := delivery.NewWithDestination(cfg, store, nil, failingStore{err: errors.New("bucket offline")})
	f := &fixture{cfg: cfg, store: store, handler: handler}

	job := f.separatedJob(t, queue.JobTypeSeparate, `{}`, pipeline.Manifest{
		Artifacts: []pipeline.Artifact{{Name: "Vocals", Final: true}},
	})

	err := f.handler.Execute(context.Background(), job)
	if err == nil {
		t.Fatal("expected upload failure")
	}
	if got := services.Classify(err); got != services.ClassTransient {
		t.Fatalf("class = %q, want %q", got, services.ClassTransient)
	}
	failure := decodeErrorResult(t, job.ResultJSON)
	if failure.Message != "bucket offline" {
		t.Fatalf("error message = %q", failure.Message)
	}
}

func TestExecuteRejectsListModels(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	job := testsupport.NewJob(t, f.store, queue.NewJobParams{JobType: queue.JobTypeListModels})

	err := f.handler.Execute(context.Background(), job)
	if err == nil {
		t.Fatal("expected error for list_models job")
	}
	if got := services.Classify(err); got != services.ClassValidation {
		t.Fatalf("class = %q, want %q", got, services.ClassValidation)
	}
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if health := f.handler.HealthCheck(context.Background()); !health.Ready {
		t.Fatalf("expected healthy, got %+v", health)
	}

	noDest := delivery.NewWithDestination(f.cfg, f.store, nil, nil)
	if health := noDest.HealthCheck(context.Background()); health.Ready {
		t.Fatal("expected unhealthy without backend")
	}

	broken := delivery.NewWithDestination(f.cfg, f.store, nil, failingStore{err: errors.New("unreachable")})
	if health := broken.HealthCheck(context.Background()); health.Ready {
		t.Fatal("expected unhealthy backend to fail health check")
	}
}
