package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"unmix/internal/logging"
	"unmix/internal/services/separator"
)

// Progress reports overall plan completion. Percent spans the whole plan,
// not the current pass.
type Progress struct {
	Stage   string
	Percent float64
	Message string
}

// SeparateRequest runs a caller-chosen model over the job input.
type SeparateRequest struct {
	InputPath    string
	WorkspaceDir string
	Model        string
	OutputFormat string
	OutputNames  map[string]string
}

// AdvancedRequest runs the four-pass refine chain over the job input.
type AdvancedRequest struct {
	InputPath    string
	WorkspaceDir string
	OutputFormat string
}

// Runner executes separation plans against the engine.
type Runner struct {
	engine separator.Engine
	logger *slog.Logger
}

// NewRunner constructs a Runner.
func NewRunner(engine separator.Engine, logger *slog.Logger) (*Runner, error) {
	if engine == nil {
		return nil, errors.New("separation engine required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{engine: engine, logger: logging.NewComponentLogger(logger, "pipeline")}, nil
}

// RunSeparate executes a single-pass plan. Every stem the engine produces
// becomes a final artifact.
func (r *Runner) RunSeparate(ctx context.Context, req SeparateRequest, onProgress func(Progress)) (*Manifest, error) {
	if strings.TrimSpace(req.Model) == "" {
		return nil, errors.New("model filename required")
	}
	manifest, err := r.run(ctx, planSeparate(req.Model, req.OutputNames), req.InputPath, req.WorkspaceDir, req.OutputFormat, onProgress)
	if err != nil {
		return nil, err
	}
	manifest.ModelUsed = manifest.Passes[0].Model
	return manifest, nil
}

// RunAdvanced executes the refine chain. The instrumental from pass one and
// the denoised lead vocal from pass four are the final artifacts.
func (r *Runner) RunAdvanced(ctx context.Context, req AdvancedRequest, onProgress func(Progress)) (*Manifest, error) {
	manifest, err := r.run(ctx, planAdvanced(), req.InputPath, req.WorkspaceDir, req.OutputFormat, onProgress)
	if err != nil {
		return nil, err
	}

	steps := make([]string, 0, len(manifest.Passes))
	for _, pass := range manifest.Passes {
		step := pass.Step
		if pass.FellBack {
			step = fmt.Sprintf("%s (fallback: %s)", step, pass.Model)
		}
		steps = append(steps, step)
	}
	manifest.StepsCompleted = steps

	finals := manifest.FinalArtifacts()
	notes := make([]string, 0, len(finals))
	for _, artifact := range finals {
		switch artifact.Name {
		case StemInstrumental:
			notes = append(notes, fmt.Sprintf("%s - separated instrumental", filepath.Base(artifact.Path)))
		case StemVocalsNoNoise:
			notes = append(notes, fmt.Sprintf("%s - denoised lead vocals", filepath.Base(artifact.Path)))
		default:
			notes = append(notes, filepath.Base(artifact.Path))
		}
	}
	manifest.FinalOutputs = notes
	return manifest, nil
}

func (r *Runner) run(ctx context.Context, p plan, inputPath, workspaceDir, outputFormat string, onProgress func(Progress)) (*Manifest, error) {
	if strings.TrimSpace(inputPath) == "" {
		return nil, errors.New("input path required")
	}
	if strings.TrimSpace(workspaceDir) == "" {
		return nil, errors.New("workspace directory required")
	}

	manifest := &Manifest{
		JobType:      p.jobType,
		OutputFormat: outputFormat,
		Passes:       make([]PassRecord, 0, len(p.passes)),
		Artifacts:    make([]Artifact, 0, len(p.passes)*2),
	}
	byName := make(map[string]Artifact)
	total := len(p.passes)

	for i, pass := range p.passes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		passInput := inputPath
		if pass.inputName != "" {
			artifact, ok := byName[pass.inputName]
			if !ok {
				return nil, fmt.Errorf("pass %d (%s): missing input artifact %s", i+1, pass.step, pass.inputName)
			}
			passInput = artifact.Path
		}

		report := func(update separator.ProgressUpdate) {
			if onProgress == nil {
				return
			}
			overall := (float64(i) + update.Percent/100) / float64(total) * 100
			onProgress(Progress{Stage: pass.step, Percent: overall, Message: update.Message})
		}

		request := separator.Request{
			InputPath:    passInput,
			Model:        pass.model,
			OutputDir:    filepath.Join(workspaceDir, fmt.Sprintf("pass%d", i+1)),
			OutputFormat: outputFormat,
			OutputNames:  pass.outputNames,
		}

		model := pass.model
		fellBack := false
		result, err := r.engine.Separate(ctx, request, report)
		if err != nil && pass.fallback != "" && errors.Is(err, separator.ErrModelLoad) {
			r.logger.Warn("model load failed, retrying with fallback",
				logging.String(logging.FieldEventType, "pipeline_model_fallback"),
				logging.String(logging.FieldModel, pass.model),
				logging.String("fallback_model", pass.fallback),
				logging.Int(logging.FieldPass, i+1),
				logging.Error(err))
			model = pass.fallback
			fellBack = true
			request.Model = pass.fallback
			result, err = r.engine.Separate(ctx, request, report)
		}
		if err != nil {
			return nil, fmt.Errorf("pass %d (%s): %w", i+1, pass.step, err)
		}

		record := PassRecord{Index: i + 1, Step: pass.step, Model: model, FellBack: fellBack}

		if pass.stems == nil {
			for _, stem := range result.Stems {
				artifact := Artifact{
					Name:  artifactName(stem),
					Label: stem.Label,
					Path:  stem.Path,
					Pass:  i + 1,
					Final: true,
				}
				manifest.Artifacts = append(manifest.Artifacts, artifact)
				byName[artifact.Name] = artifact
				record.Outputs = append(record.Outputs, artifact.Name)
			}
		} else {
			if len(result.Stems) < len(pass.stems) {
				return nil, fmt.Errorf("pass %d (%s) produced %d output file(s), expected %d",
					i+1, pass.step, len(result.Stems), len(pass.stems))
			}
			selected, err := selectStems(result.Stems, pass.stems, i+1)
			if err != nil {
				return nil, fmt.Errorf("pass %d (%s): %w", i+1, pass.step, err)
			}
			for _, artifact := range selected {
				manifest.Artifacts = append(manifest.Artifacts, artifact)
				byName[artifact.Name] = artifact
				record.Outputs = append(record.Outputs, artifact.Name)
			}
		}

		manifest.Passes = append(manifest.Passes, record)

		if onProgress != nil {
			onProgress(Progress{
				Stage:   pass.step,
				Percent: float64(i+1) / float64(total) * 100,
				Message: fmt.Sprintf("%s complete", pass.step),
			})
		}
	}

	return manifest, nil
}

// artifactName derives a canonical name for an unplanned stem: the engine
// label when present, otherwise the filename without extension.
func artifactName(stem separator.Stem) string {
	if label := strings.TrimSpace(stem.Label); label != "" {
		return strings.ReplaceAll(label, " ", "_")
	}
	base := filepath.Base(stem.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// selectStems assigns engine outputs to the pass's named stems. Labels win;
// unlabeled or unexpected outputs fall back to the original chain's
// positional order.
func selectStems(stems []separator.Stem, specs []stemSpec, passIndex int) ([]Artifact, error) {
	claimed := make([]bool, len(stems))
	out := make([]Artifact, len(specs))

	for si, spec := range specs {
		for j, stem := range stems {
			if claimed[j] {
				continue
			}
			if matchesLabel(stem.Label, spec.labels) {
				out[si] = Artifact{Name: spec.canonical, Label: stem.Label, Path: stem.Path, Pass: passIndex, Final: spec.final}
				claimed[j] = true
				break
			}
		}
	}

	for si, spec := range specs {
		if out[si].Path != "" {
			continue
		}
		j := spec.index
		if j >= len(stems) || claimed[j] {
			j = -1
			for k := range stems {
				if !claimed[k] {
					j = k
					break
				}
			}
		}
		if j < 0 {
			return nil, fmt.Errorf("no output left for stem %s", spec.canonical)
		}
		out[si] = Artifact{Name: spec.canonical, Label: stems[j].Label, Path: stems[j].Path, Pass: passIndex, Final: spec.final}
		claimed[j] = true
	}
	return out, nil
}

func matchesLabel(label string, candidates []string) bool {
	normalized := normalizeLabel(label)
	if normalized == "" {
		return false
	}
	for _, candidate := range candidates {
		if normalized == normalizeLabel(candidate) {
			return true
		}
	}
	return false
}

func normalizeLabel(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	label = strings.ReplaceAll(label, "_", "")
	label = strings.ReplaceAll(label, " ", "")
	return label
}
