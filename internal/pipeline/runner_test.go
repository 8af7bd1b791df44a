package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"unmix/internal/pipeline"
	"unmix/internal/services/separator"
)

// fakeEngine scripts stem labels per model and writes stem files the way the
// real engine names them, sorted by filename like the real client reports.
type fakeEngine struct {
	stemsByModel map[string][]string
	errsByModel  map[string]error
	requests     []separator.Request
}

func (f *fakeEngine) Separate(ctx context.Context, req separator.Request, onProgress func(separator.ProgressUpdate)) (*separator.Result, error) {
	f.requests = append(f.requests, req)
	if err := f.errsByModel[req.Model]; err != nil {
		return nil, err
	}
	labels, ok := f.stemsByModel[req.Model]
	if !ok {
		return nil, fmt.Errorf("unscripted model %s", req.Model)
	}
	if onProgress != nil {
		onProgress(separator.ProgressUpdate{Percent: 50, Message: "halfway"})
		onProgress(separator.ProgressUpdate{Percent: 100, Message: "finishing"})
	}
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return nil, err
	}
	base := strings.TrimSuffix(filepath.Base(req.InputPath), filepath.Ext(req.InputPath))
	modelName := strings.TrimSuffix(req.Model, filepath.Ext(req.Model))
	stems := make([]separator.Stem, 0, len(labels))
	for _, label := range labels {
		path := filepath.Join(req.OutputDir, fmt.Sprintf("%s_(%s)_%s.wav", base, label, modelName))
		if err := os.WriteFile(path, []byte("stem"), 0o644); err != nil {
			return nil, err
		}
		stems = append(stems, separator.Stem{Label: label, Path: path})
	}
	sort.Slice(stems, func(i, j int) bool {
		return filepath.Base(stems[i].Path) < filepath.Base(stems[j].Path)
	})
	return &separator.Result{Model: req.Model, Stems: stems}, nil
}

func advancedEngine() *fakeEngine {
	return &fakeEngine{
		stemsByModel: map[string][]string{
			pipeline.ModelPrimaryVocals: {"Instrumental", "Vocals"},
			pipeline.ModelKaraoke:       {"Instrumental", "Vocals"},
			pipeline.ModelDeEcho:        {"Echo", "No Echo"},
			pipeline.ModelDeNoise:       {"No Noise", "Noise"},
		},
		errsByModel: map[string]error{},
	}
}

func writeInput(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "song.wav")
	if err := os.WriteFile(path, []byte("audio"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return path
}

func TestRunAdvancedChainsPasses(t *testing.T) {
	workspace := t.TempDir()
	input := writeInput(t, workspace)
	engine := advancedEngine()
	runner, err := pipeline.NewRunner(engine, nil)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	manifest, err := runner.RunAdvanced(context.Background(), pipeline.AdvancedRequest{
		InputPath:    input,
		WorkspaceDir: workspace,
		OutputFormat: "WAV",
	}, nil)
	if err != nil {
		t.Fatalf("RunAdvanced: %v", err)
	}

	if manifest.JobType != "advanced_separate" {
		t.Fatalf("job type = %q", manifest.JobType)
	}
	if manifest.ModelUsed != "" {
		t.Fatalf("advanced manifest should not pin a single model, got %q", manifest.ModelUsed)
	}
	if len(manifest.Passes) != 4 {
		t.Fatalf("expected 4 passes, got %d", len(manifest.Passes))
	}
	if len(engine.requests) != 4 {
		t.Fatalf("expected 4 engine calls, got %d", len(engine.requests))
	}

	// Pass inputs must chain through the named artifacts.
	if engine.requests[0].InputPath != input {
		t.Fatalf("pass 1 input = %q, want job input", engine.requests[0].InputPath)
	}
	vocals := manifest.ArtifactByName(pipeline.StemVocals)
	if vocals == nil || engine.requests[1].InputPath != vocals.Path {
		t.Fatalf("pass 2 input = %q, want vocals stem", engine.requests[1].InputPath)
	}
	lead := manifest.ArtifactByName(pipeline.StemLeadVocals)
	if lead == nil || engine.requests[2].InputPath != lead.Path {
		t.Fatalf("pass 3 input = %q, want lead vocal stem", engine.requests[2].InputPath)
	}
	noReverb := manifest.ArtifactByName(pipeline.StemVocalsNoReverb)
	if noReverb == nil || engine.requests[3].InputPath != noReverb.Path {
		t.Fatalf("pass 4 input = %q, want de-reverbed stem", engine.requests[3].InputPath)
	}

	if got := engine.requests[1].OutputDir; got != filepath.Join(workspace, "pass2") {
		t.Fatalf("pass 2 output dir = %q", got)
	}

	// Labels must win over sorted filename order: the de-echo pass sorts
	// (Echo) ahead of (No Echo) and the denoise pass sorts (No Noise)
	// ahead of (Noise).
	if artifact := manifest.ArtifactByName(pipeline.StemVocalsNoReverb); artifact.Label != "No Echo" {
		t.Fatalf("no-reverb stem matched label %q", artifact.Label)
	}
	if artifact := manifest.ArtifactByName(pipeline.StemVocalsNoNoise); artifact.Label != "No Noise" {
		t.Fatalf("denoised stem matched label %q", artifact.Label)
	}
	if artifact := manifest.ArtifactByName(pipeline.StemVocalsNoise); artifact.Label != "Noise" {
		t.Fatalf("noise stem matched label %q", artifact.Label)
	}

	finals := manifest.FinalArtifacts()
	if len(finals) != 2 {
		t.Fatalf("expected 2 final artifacts, got %d", len(finals))
	}
	if finals[0].Name != pipeline.StemInstrumental || finals[1].Name != pipeline.StemVocalsNoNoise {
		t.Fatalf("final artifacts = %q, %q", finals[0].Name, finals[1].Name)
	}

	wantSteps := []string{
		pipeline.StepVocalsInstrumental,
		pipeline.StepLeadBacking,
		pipeline.StepDeReverb,
		pipeline.StepDenoise,
	}
	if len(manifest.StepsCompleted) != len(wantSteps) {
		t.Fatalf("steps completed = %v", manifest.StepsCompleted)
	}
	for i, want := range wantSteps {
		if manifest.StepsCompleted[i] != want {
			t.Fatalf("step %d = %q, want %q", i, manifest.StepsCompleted[i], want)
		}
	}

	if len(manifest.FinalOutputs) != 2 {
		t.Fatalf("final outputs = %v", manifest.FinalOutputs)
	}
	if want := filepath.Base(finals[0].Path) + " - separated instrumental"; manifest.FinalOutputs[0] != want {
		t.Fatalf("final output 0 = %q, want %q", manifest.FinalOutputs[0], want)
	}
	if want := filepath.Base(finals[1].Path) + " - denoised lead vocals"; manifest.FinalOutputs[1] != want {
		t.Fatalf("final output 1 = %q, want %q", manifest.FinalOutputs[1], want)
	}
}

func TestRunAdvancedFallsBackToKaraokeModel(t *testing.T) {
	workspace := t.TempDir()
	input := writeInput(t, workspace)
	engine := advancedEngine()
	engine.errsByModel[pipeline.ModelPrimaryVocals] = fmt.Errorf("model load failed: %w", separator.ErrModelLoad)

	runner, err := pipeline.NewRunner(engine, nil)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	manifest, err := runner.RunAdvanced(context.Background(), pipeline.AdvancedRequest{
		InputPath:    input,
		WorkspaceDir: workspace,
	}, nil)
	if err != nil {
		t.Fatalf("RunAdvanced: %v", err)
	}

	if len(engine.requests) != 5 {
		t.Fatalf("expected retry plus 4 passes, got %d calls", len(engine.requests))
	}
	if engine.requests[0].Model != pipeline.ModelPrimaryVocals {
		t.Fatalf("first attempt used %q", engine.requests[0].Model)
	}
	if engine.requests[1].Model != pipeline.ModelKaraoke {
		t.Fatalf("fallback attempt used %q", engine.requests[1].Model)
	}
	if !manifest.Passes[0].FellBack || manifest.Passes[0].Model != pipeline.ModelKaraoke {
		t.Fatalf("pass record = %+v", manifest.Passes[0])
	}
	want := pipeline.StepVocalsInstrumental + " (fallback: " + pipeline.ModelKaraoke + ")"
	if manifest.StepsCompleted[0] != want {
		t.Fatalf("steps completed[0] = %q, want %q", manifest.StepsCompleted[0], want)
	}
}

func TestRunAdvancedDoesNotFallBackOnRuntimeFailure(t *testing.T) {
	workspace := t.TempDir()
	input := writeInput(t, workspace)
	engine := advancedEngine()
	engine.errsByModel[pipeline.ModelPrimaryVocals] = errors.New("CUDA out of memory")

	runner, err := pipeline.NewRunner(engine, nil)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	_, err = runner.RunAdvanced(context.Background(), pipeline.AdvancedRequest{
		InputPath:    input,
		WorkspaceDir: workspace,
	}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "pass 1 (Vocals/Instrumental separation)") {
		t.Fatalf("error should name the failing pass: %v", err)
	}
	if len(engine.requests) != 1 {
		t.Fatalf("runtime failure must not trigger a retry, got %d calls", len(engine.requests))
	}
}

func TestRunAdvancedRejectsShortPassOutput(t *testing.T) {
	workspace := t.TempDir()
	input := writeInput(t, workspace)
	engine := advancedEngine()
	engine.stemsByModel[pipeline.ModelKaraoke] = []string{"Vocals"}

	runner, err := pipeline.NewRunner(engine, nil)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	_, err = runner.RunAdvanced(context.Background(), pipeline.AdvancedRequest{
		InputPath:    input,
		WorkspaceDir: workspace,
	}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "pass 2") || !strings.Contains(err.Error(), "expected 2") {
		t.Fatalf("error should report the short pass: %v", err)
	}
}

func TestRunSeparateKeepsEveryStem(t *testing.T) {
	workspace := t.TempDir()
	input := writeInput(t, workspace)
	engine := &fakeEngine{
		stemsByModel: map[string][]string{
			"UVR-MDX-NET-Inst_HQ_3.onnx": {"Instrumental", "Vocals"},
		},
		errsByModel: map[string]error{},
	}

	runner, err := pipeline.NewRunner(engine, nil)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	names := map[string]string{"Vocals": "lead.wav"}
	manifest, err := runner.RunSeparate(context.Background(), pipeline.SeparateRequest{
		InputPath:    input,
		WorkspaceDir: workspace,
		Model:        "UVR-MDX-NET-Inst_HQ_3.onnx",
		OutputFormat: "MP3",
		OutputNames:  names,
	}, nil)
	if err != nil {
		t.Fatalf("RunSeparate: %v", err)
	}

	if manifest.JobType != "separate" {
		t.Fatalf("job type = %q", manifest.JobType)
	}
	if manifest.ModelUsed != "UVR-MDX-NET-Inst_HQ_3.onnx" {
		t.Fatalf("model used = %q", manifest.ModelUsed)
	}
	if manifest.OutputFormat != "MP3" {
		t.Fatalf("output format = %q", manifest.OutputFormat)
	}
	if len(manifest.Artifacts) != 2 {
		t.Fatalf("artifacts = %+v", manifest.Artifacts)
	}
	for _, artifact := range manifest.Artifacts {
		if !artifact.Final {
			t.Fatalf("single-pass stem %q should be final", artifact.Name)
		}
	}
	if engine.requests[0].OutputNames["Vocals"] != "lead.wav" {
		t.Fatalf("output names not forwarded: %+v", engine.requests[0].OutputNames)
	}
	if manifest.StepsCompleted != nil || manifest.FinalOutputs != nil {
		t.Fatal("single-pass manifest should not carry chain summaries")
	}
}

func TestRunSeparateRequiresModel(t *testing.T) {
	runner, err := pipeline.NewRunner(advancedEngine(), nil)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	if _, err := runner.RunSeparate(context.Background(), pipeline.SeparateRequest{
		InputPath:    "in.wav",
		WorkspaceDir: "work",
	}, nil); err == nil {
		t.Fatal("expected error for missing model")
	}
}

func TestRunReportsProgressAcrossPasses(t *testing.T) {
	workspace := t.TempDir()
	input := writeInput(t, workspace)
	runner, err := pipeline.NewRunner(advancedEngine(), nil)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	var updates []pipeline.Progress
	_, err = runner.RunAdvanced(context.Background(), pipeline.AdvancedRequest{
		InputPath:    input,
		WorkspaceDir: workspace,
	}, func(p pipeline.Progress) {
		updates = append(updates, p)
	})
	if err != nil {
		t.Fatalf("RunAdvanced: %v", err)
	}

	if len(updates) == 0 {
		t.Fatal("expected progress updates")
	}
	last := -1.0
	for _, update := range updates {
		if update.Percent < last {
			t.Fatalf("progress went backwards: %v then %v", last, update.Percent)
		}
		if update.Percent < 0 || update.Percent > 100 {
			t.Fatalf("progress out of range: %v", update.Percent)
		}
		if update.Stage == "" {
			t.Fatal("progress update missing stage")
		}
		last = update.Percent
	}
	if updates[len(updates)-1].Percent != 100 {
		t.Fatalf("final progress = %v, want 100", updates[len(updates)-1].Percent)
	}
}

func TestRunAdvancedHonorsCancellation(t *testing.T) {
	workspace := t.TempDir()
	input := writeInput(t, workspace)
	runner, err := pipeline.NewRunner(advancedEngine(), nil)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = runner.RunAdvanced(ctx, pipeline.AdvancedRequest{
		InputPath:    input,
		WorkspaceDir: workspace,
	}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
