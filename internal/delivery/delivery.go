package delivery

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"log/slog"

	"golang.org/x/sync/errgroup"

	"unmix/internal/api"
	"unmix/internal/config"
	"unmix/internal/logging"
	"unmix/internal/media"
	"unmix/internal/media/ffprobe"
	"unmix/internal/objectstore"
	"unmix/internal/pipeline"
	"unmix/internal/queue"
	"unmix/internal/services"
	"unmix/internal/stage"
)

const uploadConcurrency = 3

// Handler finalizes separated jobs by packaging their stems for the caller.
type Handler struct {
	store  *queue.Store
	cfg    *config.Config
	logger *slog.Logger
	dest   objectstore.Store
}

// New constructs the delivery handler with the backend the config selects.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Handler {
	dest, err := objectstore.FromConfig(cfg, logger)
	if err != nil {
		if logger != nil {
			logger.Warn("delivery backend unavailable", logging.Error(err))
		}
		return NewWithDestination(cfg, store, logger, nil)
	}
	return NewWithDestination(cfg, store, logger, dest)
}

// NewWithDestination allows injecting the object store (used in tests).
func NewWithDestination(cfg *config.Config, store *queue.Store, logger *slog.Logger, dest objectstore.Store) *Handler {
	return &Handler{
		store:  store,
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "delivery"),
		dest:   dest,
	}
}

func (h *Handler) Prepare(ctx context.Context, job *queue.Job) error {
	logger := logging.WithContext(ctx, h.logger)
	job.InitProgress("Delivering", "Preparing delivery")
	logger.Info("starting delivery", logging.String(logging.FieldJobType, job.JobType))
	return nil
}

func (h *Handler) Execute(ctx context.Context, job *queue.Job) error {
	logger := logging.WithContext(ctx, h.logger)

	jobType, _ := queue.ParseJobType(job.JobType)
	if jobType == queue.JobTypeListModels {
		return services.Wrap(services.ErrValidation, "delivery", "inspect job",
			"list_models jobs complete at intake and never reach delivery", nil)
	}

	input, err := api.ParseJobInput(job.InputJSON)
	if err != nil {
		h.setErrorResult(ctx, job, jobType, err.Error())
		return services.Wrap(services.ErrValidation, "delivery", "decode input", "invalid job input payload", err)
	}

	manifest, err := pipeline.ParseManifest(job.ManifestJSON)
	if err != nil {
		h.setErrorResult(ctx, job, jobType, "separation manifest is unreadable")
		return services.Wrap(services.ErrValidation, "delivery", "decode manifest", "separation manifest is unreadable", err)
	}
	finals := manifest.FinalArtifacts()
	if len(finals) == 0 {
		h.setErrorResult(ctx, job, jobType, "no stems recorded for this job")
		return services.Wrap(services.ErrValidation, "delivery", "inspect manifest", "no stems recorded for this job", nil)
	}

	if err := h.validateStems(ctx, finals); err != nil {
		h.setErrorResult(ctx, job, jobType, err.Error())
		return services.Wrap(services.ErrExternalTool, "delivery", "validate stems", "engine output failed validation", err)
	}

	returnType := input.EffectiveReturnType()
	result := api.SeparationResult{
		Success:        true,
		Message:        successMessage(jobType),
		ModelUsed:      manifest.ModelUsed,
		ReturnType:     returnType,
		StepsCompleted: manifest.StepsCompleted,
		FinalOutputs:   manifest.FinalOutputs,
	}

	switch returnType {
	case api.ReturnTypeBase64:
		h.applyProgress(ctx, job, fmt.Sprintf("Encoding %d stem(s)", len(finals)), 25)
		files, err := encodeStems(finals)
		if err != nil {
			h.setErrorResult(ctx, job, jobType, err.Error())
			return services.Wrap(services.ErrTransient, "delivery", "encode stems", "failed to encode stems", err)
		}
		result.OutputFiles = files
	default:
		if h.dest == nil {
			h.setErrorResult(ctx, job, jobType, "no delivery backend configured")
			return services.Wrap(services.ErrConfiguration, "delivery", "select backend", "no delivery backend configured", nil)
		}
		h.applyProgress(ctx, job, fmt.Sprintf("Uploading %d stem(s)", len(finals)), 25)
		urls, err := h.uploadStems(ctx, job.UUID, finals)
		if err != nil {
			h.setErrorResult(ctx, job, jobType, err.Error())
			return services.Wrap(services.ErrTransient, "delivery", "upload stems",
				"failed to upload stems; the job will retry", err)
		}
		result.OutputURLs = urls
	}

	encoded, err := api.EncodeResult(result)
	if err != nil {
		return services.Wrap(services.ErrTransient, "delivery", "encode result", "failed to encode job result", err)
	}
	job.ResultJSON = encoded

	h.cleanupWorkspace(job, logger)

	job.SetProgressComplete("Delivered", fmt.Sprintf("Delivered %d stem(s)", len(finals)))
	logger.Info("delivery finished",
		logging.String("return_type", returnType),
		logging.Int("stems", len(finals)),
		logging.String("backend", h.backendKind()))
	return nil
}

// HealthCheck verifies the delivery backend is reachable.
func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	const name = "delivery"
	if h.cfg == nil {
		return stage.Unhealthy(name, "configuration unavailable")
	}
	if h.dest == nil {
		return stage.Unhealthy(name, "delivery backend unavailable")
	}
	if err := h.dest.Check(ctx); err != nil {
		return stage.Unhealthy(name, err.Error())
	}
	return stage.Healthy(name)
}

// validateStems rejects missing or corrupt engine output before any of it
// leaves the workspace. Non-WAV stems get a best-effort ffprobe pass when the
// binary is available; probe execution failures are ignored, a probe that
// parses but finds no audio is not.
func (h *Handler) validateStems(ctx context.Context, finals []pipeline.Artifact) error {
	probeBinary, probeErr := exec.LookPath("ffprobe")
	for _, artifact := range finals {
		if err := media.ValidateStem(artifact.Path); err != nil {
			return err
		}
		if strings.EqualFold(filepath.Ext(artifact.Path), ".wav") || probeErr != nil {
			continue
		}
		report, err := ffprobe.Inspect(ctx, probeBinary, artifact.Path)
		if err != nil {
			continue
		}
		if report.AudioStreamCount() == 0 {
			return fmt.Errorf("stem %s has no audio streams", filepath.Base(artifact.Path))
		}
	}
	return nil
}

func (h *Handler) uploadStems(ctx context.Context, jobUUID string, finals []pipeline.Artifact) (map[string]string, error) {
	var mu sync.Mutex
	urls := make(map[string]string, len(finals))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadConcurrency)
	for _, artifact := range finals {
		artifact := artifact
		g.Go(func() error {
			name := filepath.Base(artifact.Path)
			url, err := h.dest.Upload(gctx, path.Join(jobUUID, name), artifact.Path)
			if err != nil {
				return err
			}
			mu.Lock()
			urls[name] = url
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return urls, nil
}

// encodeStems inlines stem content keyed by basename, the shape callers of
// the original service expect for return_type base64.
func encodeStems(finals []pipeline.Artifact) (map[string]string, error) {
	files := make(map[string]string, len(finals))
	for _, artifact := range finals {
		data, err := os.ReadFile(artifact.Path)
		if err != nil {
			return nil, fmt.Errorf("read stem %s: %w", filepath.Base(artifact.Path), err)
		}
		files[filepath.Base(artifact.Path)] = base64.StdEncoding.EncodeToString(data)
	}
	return files, nil
}

// cleanupWorkspace removes the job's staging tree once the result payload no
// longer depends on it. Failures are logged and ignored.
func (h *Handler) cleanupWorkspace(job *queue.Job, logger *slog.Logger) {
	if h.cfg == nil || !h.cfg.Jobs.CleanupWorkspace {
		return
	}
	workspace := h.cfg.JobWorkspace(job.UUID)
	if strings.TrimSpace(workspace) == "" {
		return
	}
	if err := os.RemoveAll(workspace); err != nil {
		logger.Warn("failed to clean workspace",
			logging.String("workspace", workspace),
			logging.Error(err))
		return
	}
	logger.Debug("cleaned workspace", logging.String("workspace", workspace))
}

func (h *Handler) applyProgress(ctx context.Context, job *queue.Job, message string, percent float64) {
	copy := *job
	copy.SetProgress("Delivering", message, percent)
	if err := h.store.UpdateProgress(ctx, &copy); err != nil {
		return
	}
	*job = copy
}

func (h *Handler) backendKind() string {
	if h.dest == nil {
		return "none"
	}
	return h.dest.Kind()
}

func successMessage(jobType queue.JobType) string {
	if jobType == queue.JobTypeAdvancedSeparate {
		return "Advanced audio separation completed successfully"
	}
	return "Audio separation completed successfully"
}

// setErrorResult records the original handler's failure envelope so the
// status API mirrors the platform contract.
func (h *Handler) setErrorResult(ctx context.Context, job *queue.Job, jobType queue.JobType, message string) {
	label := "Audio separation failed"
	if jobType == queue.JobTypeAdvancedSeparate {
		label = "Advanced audio separation failed"
	}
	encoded, err := api.EncodeResult(api.ErrorResult{Error: label, Message: message})
	if err != nil {
		return
	}
	job.ResultJSON = encoded
}
