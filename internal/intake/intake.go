package intake

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-retryablehttp"

	"unmix/internal/api"
	"unmix/internal/config"
	"unmix/internal/fileutil"
	"unmix/internal/logging"
	"unmix/internal/modelcache"
	"unmix/internal/queue"
	"unmix/internal/services"
	"unmix/internal/stage"
)

// stagedBasename is the filename used for inline payloads, matching the
// handler contract the API mirrors.
const stagedBasename = "input.wav"

// Handler stages job input for separation.
type Handler struct {
	store  *queue.Store
	cfg    *config.Config
	logger *slog.Logger
	models *modelcache.Cache
	client *retryablehttp.Client
}

// New constructs the intake handler with a default retrying HTTP client for
// source URL fetches.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, models *modelcache.Cache) *Handler {
	client := retryablehttp.NewClient()
	client.Logger = nil
	return NewWithClient(cfg, store, logger, models, client)
}

// NewWithClient allows injecting the fetch client (used in tests).
func NewWithClient(cfg *config.Config, store *queue.Store, logger *slog.Logger, models *modelcache.Cache, client *retryablehttp.Client) *Handler {
	return &Handler{
		store:  store,
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "intake"),
		models: models,
		client: client,
	}
}

func (h *Handler) Prepare(ctx context.Context, job *queue.Job) error {
	logger := logging.WithContext(ctx, h.logger)
	job.InitProgress("Ingesting", "Preparing job input")
	logger.Info("starting intake",
		logging.String(logging.FieldJobType, job.JobType),
		logging.String("source", string(job.Source)))
	return nil
}

func (h *Handler) Execute(ctx context.Context, job *queue.Job) error {
	logger := logging.WithContext(ctx, h.logger)

	input, err := api.ParseJobInput(job.InputJSON)
	if err != nil {
		h.setErrorResult(ctx, job, "Invalid input", err.Error())
		return services.Wrap(services.ErrValidation, "intake", "parse input", "job input is not valid JSON", err)
	}

	jobType, ok := queue.ParseJobType(input.Type)
	if !ok {
		h.setErrorResult(ctx, job,
			fmt.Sprintf("Unknown job type: %s", input.Type),
			"Supported types: 'list_models', 'separate', 'advanced_separate'")
		return services.Wrap(services.ErrValidation, "intake", "parse job type",
			fmt.Sprintf("unknown job type %q", input.Type), nil)
	}

	if jobType == queue.JobTypeListModels {
		return h.completeListModels(ctx, job)
	}
	return h.stageAudio(ctx, logger, job, jobType, input)
}

// HealthCheck verifies intake can stage files and answer catalog jobs.
func (h *Handler) HealthCheck(ctx context.Context) stage.Health {
	const name = "intake"
	if h.cfg == nil {
		return stage.Unhealthy(name, "configuration unavailable")
	}
	staging := strings.TrimSpace(h.cfg.Paths.StagingDir)
	if staging == "" {
		return stage.Unhealthy(name, "staging directory not configured")
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return stage.Unhealthy(name, fmt.Sprintf("staging directory unavailable: %v", err))
	}
	if h.models == nil {
		return stage.Unhealthy(name, "model catalog unavailable")
	}
	if h.client == nil {
		return stage.Unhealthy(name, "fetch client unavailable")
	}
	return stage.Healthy(name)
}

// completeListModels answers the catalog request and short-circuits the job
// to completed; the worker persists the terminal status untouched.
func (h *Handler) completeListModels(ctx context.Context, job *queue.Job) error {
	logger := logging.WithContext(ctx, h.logger)

	entries := make([]api.ModelEntry, 0, len(h.models.Catalog()))
	for _, info := range h.models.Catalog() {
		entries = append(entries, api.ModelEntry{
			Filename:     info.Filename,
			Name:         info.Name,
			Architecture: info.Architecture,
			Stems:        info.Stems,
			SizeBytes:    info.SizeBytes,
			Cached:       h.models.IsCached(info.Filename),
		})
	}
	encoded, err := api.EncodeResult(api.ModelsResult{
		Success: true,
		Models:  entries,
		Message: "Available models retrieved successfully",
	})
	if err != nil {
		h.setErrorResult(ctx, job, "Failed to retrieve models", err.Error())
		return services.Wrap(services.ErrTransient, "intake", "encode model catalog", "failed to encode model catalog", err)
	}

	job.ResultJSON = encoded
	job.SetCompleted("Model catalog retrieved")
	logger.Info("answered model catalog request", logging.Int("models", len(entries)))
	return nil
}

func (h *Handler) stageAudio(ctx context.Context, logger *slog.Logger, job *queue.Job, jobType queue.JobType, input api.JobInput) error {
	audioData := strings.TrimSpace(input.AudioData)
	audioURL := strings.TrimSpace(input.AudioURL)

	switch {
	case audioData != "" && audioURL != "":
		h.setErrorResult(ctx, job, "Invalid input", "provide either audio_data or audio_url, not both")
		return services.Wrap(services.ErrValidation, "intake", "validate input",
			"audio_data and audio_url are mutually exclusive", nil)
	case audioData == "" && audioURL == "":
		h.setErrorResult(ctx, job, "Missing audio_data", "audio_data field is required")
		return services.Wrap(services.ErrValidation, "intake", "validate input",
			"no audio source provided", nil)
	}

	if err := h.validateModel(jobType, input.ModelFilename); err != nil {
		h.setErrorResult(ctx, job, failureLabel(jobType), err.Error())
		return services.Wrap(services.ErrValidation, "intake", "validate model", err.Error(), nil)
	}

	workspace := h.cfg.JobWorkspace(job.UUID)
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "intake", "create workspace",
			"failed to create job workspace; check staging_dir permissions", err)
	}

	var (
		staged string
		err    error
	)
	if audioData != "" {
		staged, err = h.stageInline(ctx, job, jobType, workspace, audioData)
	} else {
		staged, err = h.stageFromURL(ctx, job, jobType, workspace, audioURL)
	}
	if err != nil {
		return err
	}

	size := int64(0)
	if info, statErr := os.Stat(staged); statErr == nil {
		size = info.Size()
	}
	job.StagedFile = staged
	job.SetProgressComplete("Staged", fmt.Sprintf("Input ready (%s)", humanize.Bytes(uint64(size))))
	logger.Info("staged job input",
		logging.String("staged_file", staged),
		logging.Int64("size_bytes", size))
	return nil
}

// stageInline decodes base64 audio into the workspace. The payload cap is
// checked against the decoded size before any decoding happens.
func (h *Handler) stageInline(ctx context.Context, job *queue.Job, jobType queue.JobType, workspace, audioData string) (string, error) {
	compact := compactBase64(audioData)
	if limit := h.inputLimit(); limit > 0 && int64(base64.StdEncoding.DecodedLen(len(compact))) > limit {
		detail := fmt.Sprintf("audio payload exceeds the %s input limit", humanize.Bytes(uint64(limit)))
		h.setErrorResult(ctx, job, failureLabel(jobType), detail)
		return "", services.Wrap(services.ErrValidation, "intake", "check payload size", detail, nil)
	}

	decoded, err := base64.StdEncoding.DecodeString(compact)
	if err != nil {
		h.setErrorResult(ctx, job, failureLabel(jobType), fmt.Sprintf("invalid base64 audio data: %v", err))
		return "", services.Wrap(services.ErrValidation, "intake", "decode audio", "audio_data is not valid base64", err)
	}
	if len(decoded) == 0 {
		h.setErrorResult(ctx, job, failureLabel(jobType), "audio_data decoded to zero bytes")
		return "", services.Wrap(services.ErrValidation, "intake", "decode audio", "audio_data decoded to zero bytes", nil)
	}

	target := filepath.Join(workspace, stagedBasename)
	if err := os.WriteFile(target, decoded, 0o644); err != nil {
		return "", services.Wrap(services.ErrTransient, "intake", "write input", "failed to write staged audio", err)
	}
	return target, nil
}

// stageFromURL fetches remote audio, or copies a local file for file:// URLs
// produced by the watch-directory ingest.
func (h *Handler) stageFromURL(ctx context.Context, job *queue.Job, jobType queue.JobType, workspace, rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		h.setErrorResult(ctx, job, failureLabel(jobType), fmt.Sprintf("invalid audio_url: %v", err))
		return "", services.Wrap(services.ErrValidation, "intake", "parse audio_url", "audio_url is not a valid URL", err)
	}

	switch parsed.Scheme {
	case "file":
		return h.stageLocalFile(ctx, job, jobType, workspace, parsed.Path)
	case "http", "https":
	default:
		h.setErrorResult(ctx, job, failureLabel(jobType), fmt.Sprintf("unsupported audio_url scheme %q", parsed.Scheme))
		return "", services.Wrap(services.ErrValidation, "intake", "parse audio_url",
			fmt.Sprintf("unsupported audio_url scheme %q", parsed.Scheme), nil)
	}

	h.applyProgress(ctx, job, "Ingesting", "Downloading audio", 10)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "intake", "build fetch request", "failed to build audio fetch request", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		h.setErrorResult(ctx, job, failureLabel(jobType), fmt.Sprintf("fetch audio: %v", err))
		return "", services.Wrap(services.ErrTransient, "intake", "fetch audio", "failed to download audio_url", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail := fmt.Sprintf("fetch audio: unexpected status %d", resp.StatusCode)
		h.setErrorResult(ctx, job, failureLabel(jobType), detail)
		marker := services.ErrTransient
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			marker = services.ErrNotFound
		}
		return "", services.Wrap(marker, "intake", "fetch audio", detail, nil)
	}

	target := filepath.Join(workspace, stagedNameForURL(parsed))
	out, err := os.Create(target)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "intake", "create staged file", "failed to create staged audio file", err)
	}
	written, err := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if err != nil {
		h.setErrorResult(ctx, job, failureLabel(jobType), fmt.Sprintf("fetch audio: %v", err))
		return "", services.Wrap(services.ErrTransient, "intake", "fetch audio", "audio download interrupted", err)
	}
	if closeErr != nil {
		return "", services.Wrap(services.ErrTransient, "intake", "write staged file", "failed to flush staged audio", closeErr)
	}
	if written == 0 {
		h.setErrorResult(ctx, job, failureLabel(jobType), "audio_url returned an empty body")
		return "", services.Wrap(services.ErrValidation, "intake", "fetch audio", "audio_url returned an empty body", nil)
	}
	return target, nil
}

func (h *Handler) stageLocalFile(ctx context.Context, job *queue.Job, jobType queue.JobType, workspace, sourcePath string) (string, error) {
	info, err := os.Stat(sourcePath)
	if err != nil {
		h.setErrorResult(ctx, job, failureLabel(jobType), fmt.Sprintf("source file unavailable: %v", err))
		return "", services.Wrap(services.ErrNotFound, "intake", "stat source file", "source file unavailable", err)
	}
	if info.IsDir() || info.Size() == 0 {
		h.setErrorResult(ctx, job, failureLabel(jobType), "source file is empty or a directory")
		return "", services.Wrap(services.ErrValidation, "intake", "stat source file", "source file is empty or a directory", nil)
	}

	target := filepath.Join(workspace, sanitizeBasename(filepath.Base(sourcePath)))
	if err := fileutil.CopyFileVerified(sourcePath, target); err != nil {
		return "", services.Wrap(services.ErrTransient, "intake", "copy source file", "failed to copy source into workspace", err)
	}
	return target, nil
}

// validateModel rejects unknown model filenames early so they fail as
// review-class validation errors instead of burning an engine pass. Weights
// already present in the cache are accepted even when unregistered.
func (h *Handler) validateModel(jobType queue.JobType, modelFilename string) error {
	if jobType != queue.JobTypeSeparate {
		return nil
	}
	model := strings.TrimSpace(modelFilename)
	if model == "" {
		return nil
	}
	if _, ok := h.models.Lookup(model); ok {
		return nil
	}
	if h.models.IsCached(model) {
		return nil
	}
	return fmt.Errorf("unknown model %q: not in the registry and not present in the model cache", model)
}

func (h *Handler) inputLimit() int64 {
	if h.cfg == nil {
		return 0
	}
	if h.cfg.Jobs.MaxSyncInputBytes > 0 {
		return h.cfg.Jobs.MaxSyncInputBytes
	}
	return h.cfg.Jobs.MaxInputBytes
}

// setErrorResult records the handler error payload on the job so the status
// API can surface it after the worker marks the job failed.
func (h *Handler) setErrorResult(ctx context.Context, job *queue.Job, errLabel, message string) {
	encoded, err := api.EncodeResult(api.ErrorResult{Error: errLabel, Message: message})
	if err != nil {
		logging.WithContext(ctx, h.logger).Warn("failed to encode error result", logging.Error(err))
		return
	}
	job.ResultJSON = encoded
}

func (h *Handler) applyProgress(ctx context.Context, job *queue.Job, stageLabel, message string, percent float64) {
	copy := *job
	copy.SetProgress(stageLabel, message, percent)
	if err := h.store.UpdateProgress(ctx, &copy); err != nil {
		logging.WithContext(ctx, h.logger).Warn("failed to persist progress", logging.Error(err))
		return
	}
	*job = copy
}

func failureLabel(jobType queue.JobType) string {
	if jobType == queue.JobTypeAdvancedSeparate {
		return "Advanced audio separation failed"
	}
	return "Audio separation failed"
}

// compactBase64 strips whitespace that JSON-carried payloads commonly pick
// up before strict decoding.
func compactBase64(value string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, value)
}

// stagedNameForURL derives the staged filename from the URL path, falling
// back to the inline-audio basename when the path carries no usable name.
func stagedNameForURL(u *url.URL) string {
	base := sanitizeBasename(path.Base(u.Path))
	if base == "" || base == "." || base == "/" || !strings.Contains(base, ".") {
		return stagedBasename
	}
	return base
}

func sanitizeBasename(name string) string {
	name = strings.TrimSpace(name)
	replacer := strings.NewReplacer("/", "-", "\\", "-", ":", "-", "*", "-", "?", "", "\"", "", "<", "", ">", "", "|", "")
	return strings.TrimSpace(replacer.Replace(name))
}
