package separation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"log/slog"

	"unmix/internal/api"
	"unmix/internal/config"
	"unmix/internal/logging"
	"unmix/internal/modelcache"
	"unmix/internal/pipeline"
	"unmix/internal/queue"
	"unmix/internal/services"
	"unmix/internal/services/separator"
	"unmix/internal/stage"
)

// Handler executes separation plans against the engine.
type Handler struct {
	store  *queue.Store
	cfg    *config.Config
	logger *slog.Logger
	models *modelcache.Cache
	engine separator.Engine

	// The engine reports progress from both of its output streams, so
	// applyProgress can run on two goroutines at once.
	progressMu sync.Mutex
}

// New constructs the separation handler with the real engine client.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, models *modelcache.Cache) *Handler {
	client, err := separator.New(separator.Settings{
		Binary:                 cfg.SeparatorBinary(),
		ModelDir:               cfg.Paths.ModelDir,
		NormalizationThreshold: cfg.Separator.NormalizationThreshold,
		AmplificationThreshold: cfg.Separator.AmplificationThreshold,
		UseAutocast:            cfg.Separator.UseAutocast,
		PassTimeout:            cfg.SeparatorPassTimeout(),
	})
	if err != nil {
		if logger != nil {
			logger.Warn("separation engine unavailable", logging.Error(err))
		}
		return NewWithEngine(cfg, store, logger, models, nil)
	}
	return NewWithEngine(cfg, store, logger, models, client)
}

// NewWithEngine allows injecting the engine (used in tests).
func NewWithEngine(cfg *config.Config, store *queue.Store, logger *slog.Logger, models *modelcache.Cache, engine separator.Engine) *Handler {
	return &Handler{
		store:  store,
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "separation"),
		models: models,
		engine: engine,
	}
}

func (h *Handler) Prepare(ctx context.Context, job *queue.Job) error {
	logger := logging.WithContext(ctx, h.logger)
	job.InitProgress("Separating", "Preparing separation")
	logger.Info("starting separation",
		logging.String(logging.FieldJobType, job.JobType),
		logging.String("staged_file", strings.TrimSpace(job.StagedFile)))
	return nil
}

func (h *Handler) Execute(ctx context.Context, job *queue.Job) error {
	logger := logging.WithContext(ctx, h.logger)

	if h.engine == nil {
		return services.Wrap(services.ErrConfiguration, "separation", "engine",
			"separation engine unavailable; check the audio-separator binary and model_dir settings", nil)
	}
	if strings.TrimSpace(job.StagedFile) == "" {
		return services.Wrap(services.ErrValidation, "separation", "locate input",
			"job has no staged audio file", nil)
	}
	if _, err := os.Stat(job.StagedFile); err != nil {
		return services.Wrap(services.ErrNotFound, "separation", "locate input",
			"staged audio file missing; retry the job to re-stage it", err)
	}

	input, err := api.ParseJobInput(job.InputJSON)
	if err != nil {
		return services.Wrap(services.ErrValidation, "separation", "parse input", "job input is not valid JSON", err)
	}
	jobType, _ := queue.ParseJobType(input.Type)

	model := strings.TrimSpace(input.ModelFilename)
	if model == "" {
		model = h.cfg.Separator.DefaultModel
	}
	outputFormat := strings.TrimSpace(input.OutputFormat)
	if outputFormat == "" {
		outputFormat = h.cfg.Separator.OutputFormat
	}

	required := []string{model}
	if jobType == queue.JobTypeAdvancedSeparate {
		required = pipeline.AdvancedChainModels()
	}
	if err := h.ensureModels(ctx, job, required); err != nil {
		h.setErrorResult(ctx, job, jobType, err)
		return err
	}

	runner, err := pipeline.NewRunner(h.engine, h.logger)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "separation", "build runner", "failed to build pipeline runner", err)
	}

	workspace := h.cfg.JobWorkspace(job.UUID)
	sampler := logging.NewProgressSampler(5)
	onProgress := func(p pipeline.Progress) {
		h.applyProgress(ctx, job, p, sampler, logger)
	}

	var manifest *pipeline.Manifest
	if jobType == queue.JobTypeAdvancedSeparate {
		manifest, err = runner.RunAdvanced(ctx, pipeline.AdvancedRequest{
			InputPath:    job.StagedFile,
			WorkspaceDir: workspace,
			OutputFormat: outputFormat,
		}, onProgress)
	} else {
		manifest, err = runner.RunSeparate(ctx, pipeline.SeparateRequest{
			InputPath:    job.StagedFile,
			WorkspaceDir: workspace,
			Model:        model,
			OutputFormat: outputFormat,
			OutputNames:  input.CustomOutputNames,
		}, onProgress)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		h.setErrorResult(ctx, job, jobType, err)
		return services.Wrap(services.ErrExternalTool, "separation", "run engine",
			"audio separation failed; check engine logs for the failing pass", err)
	}

	encoded, err := manifest.Encode()
	if err != nil {
		return services.Wrap(services.ErrTransient, "separation", "encode manifest", "failed to encode stem manifest", err)
	}
	job.ManifestJSON = encoded
	job.SetProgressComplete("Separated", fmt.Sprintf("Produced %d stem(s)", len(manifest.Artifacts)))
	logger.Info("separation finished",
		logging.Int("passes", len(manifest.Passes)),
		logging.Int("stems", len(manifest.Artifacts)),
		logging.String(logging.FieldModel, manifest.ModelUsed))
	return nil
}

// HealthCheck verifies the engine binary and model cache are usable.
func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	const name = "separation"
	if h.cfg == nil {
		return stage.Unhealthy(name, "configuration unavailable")
	}
	if h.engine == nil {
		return stage.Unhealthy(name, "separation engine unavailable")
	}
	binary := strings.TrimSpace(h.cfg.SeparatorBinary())
	if _, err := exec.LookPath(binary); err != nil {
		return stage.Unhealthy(name, fmt.Sprintf("separator binary %q not found", binary))
	}
	if strings.TrimSpace(h.cfg.Paths.ModelDir) == "" {
		return stage.Unhealthy(name, "model directory not configured")
	}
	if h.models == nil {
		return stage.Unhealthy(name, "model cache unavailable")
	}
	return stage.Healthy(name)
}

// ensureModels downloads any missing weights before the engine starts so a
// cold cache shows up as download progress instead of a silent stall.
func (h *Handler) ensureModels(ctx context.Context, job *queue.Job, filenames []string) error {
	missing := make([]string, 0, len(filenames))
	for _, filename := range filenames {
		if !h.models.IsCached(filename) {
			missing = append(missing, filename)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	progress := *job
	progress.SetProgress("Separating", fmt.Sprintf("Downloading %d model weight(s)", len(missing)), 0)
	if err := h.store.UpdateProgress(ctx, &progress); err == nil {
		*job = progress
	}

	if err := h.models.Ensure(ctx, filenames...); err != nil {
		if errors.Is(err, modelcache.ErrUnknownModel) {
			return services.Wrap(services.ErrValidation, "separation", "ensure models", err.Error(), err)
		}
		return services.Wrap(services.ErrTransient, "separation", "ensure models",
			"failed to download model weights; the job will retry", err)
	}
	return nil
}

func (h *Handler) applyProgress(ctx context.Context, job *queue.Job, p pipeline.Progress, sampler *logging.ProgressSampler, logger *slog.Logger) {
	h.progressMu.Lock()
	defer h.progressMu.Unlock()
	if !sampler.ShouldLog(p.Percent, p.Stage, p.Message) {
		return
	}
	copy := *job
	copy.SetProgress(p.Stage, p.Message, p.Percent)
	if err := h.store.UpdateProgress(ctx, &copy); err != nil {
		logger.Warn("failed to persist progress", logging.Error(err))
		return
	}
	*job = copy
	logger.Debug("separation progress",
		logging.String(logging.FieldStage, p.Stage),
		logging.Float64(logging.FieldProgressPercent, p.Percent),
		logging.String("message", p.Message))
}

// setErrorResult records the original handler's failure envelope so the
// status API mirrors the platform contract.
func (h *Handler) setErrorResult(ctx context.Context, job *queue.Job, jobType queue.JobType, cause error) {
	label := "Audio separation failed"
	if jobType == queue.JobTypeAdvancedSeparate {
		label = "Advanced audio separation failed"
	}
	encoded, err := api.EncodeResult(api.ErrorResult{Error: label, Message: cause.Error()})
	if err != nil {
		logging.WithContext(ctx, h.logger).Warn("failed to encode error result", logging.Error(err))
		return
	}
	job.ResultJSON = encoded
}
