package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"unmix/internal/api"
	"unmix/internal/config"
	"unmix/internal/deps"
	"unmix/internal/logging"
	"unmix/internal/queue"
)

// syncPollInterval is how often /runsync re-reads the job while waiting for
// a terminal status.
const syncPollInterval = 250 * time.Millisecond

type apiServer struct {
	bind     string
	cfg      *config.Config
	logger   *slog.Logger
	daemon   *Daemon
	queueSvc *api.QueueService

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:     bind,
		cfg:      cfg,
		logger:   logger,
		daemon:   d,
		queueSvc: api.NewQueueService(d.store),
	}

	token := strings.TrimSpace(cfg.Paths.APIToken)
	mux := http.NewServeMux()
	mux.HandleFunc("/run", authMiddleware(token, srv.handleRun))
	mux.HandleFunc("/runsync", authMiddleware(token, srv.handleRunSync))
	mux.HandleFunc("/status/", authMiddleware(token, srv.handleJobStatus))
	mux.HandleFunc("/cancel/", authMiddleware(token, srv.handleJobCancel))
	// Health stays unauthenticated so platform-style liveness probes work.
	mux.HandleFunc("/health", srv.handleHealth)
	mux.HandleFunc("/api/status", authMiddleware(token, srv.handleStatus))
	mux.HandleFunc("/api/queue", authMiddleware(token, srv.handleQueue))
	mux.HandleFunc("/api/queue/", authMiddleware(token, srv.handleQueueJob))

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      2*cfg.SyncWait() + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// addr returns the bound listen address, useful when the config asked for
// port 0.
func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return logging.NewComponentLogger(s.logger, "api-server")
}

func (s *apiServer) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	job, ok := s.submitJob(w, r, s.cfg.Jobs.MaxInputBytes)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobStatus{
		ID:     job.UUID,
		Status: api.WireStatusInQueue,
	})
}

func (s *apiServer) handleRunSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	job, ok := s.submitJob(w, r, s.cfg.Jobs.MaxSyncInputBytes)
	if !ok {
		return
	}

	wait := s.cfg.SyncWait()
	if wait <= 0 {
		wait = 60 * time.Second
	}
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	ticker := time.NewTicker(syncPollInterval)
	defer ticker.Stop()

	current := job
	for {
		select {
		case <-r.Context().Done():
			return
		case <-deadline.C:
			// Degrade to the async envelope; the client falls back to polling.
			s.writeJSON(w, http.StatusOK, api.JobState(current))
			return
		case <-ticker.C:
			refreshed, err := s.daemon.store.GetByUUID(r.Context(), job.UUID)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				s.log().Warn("sync wait poll failed", logging.Error(err))
				continue
			}
			if refreshed == nil {
				// Swept from the queue mid-wait; the last snapshot is all
				// that remains.
				s.writeJSON(w, http.StatusOK, api.JobState(current))
				return
			}
			current = refreshed
			if current.IsTerminal() {
				s.writeJSON(w, http.StatusOK, api.JobState(current))
				return
			}
		}
	}
}

// submitJob decodes the run payload, enforces the input cap, and enqueues a
// pending job. Contract validation beyond well-formed JSON happens in the
// intake stage so failures surface through the job's own status.
func (s *apiServer) submitJob(w http.ResponseWriter, r *http.Request, maxBytes int64) (*queue.Job, bool) {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}

	var req api.RunRequest
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return nil, false
		}
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err))
		return nil, false
	}

	inputJSON, err := json.Marshal(req.Input)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("encode input: %v", err))
		return nil, false
	}

	jobType, _ := queue.ParseJobType(req.Input.Type)
	job, err := s.daemon.store.NewJob(r.Context(), queue.NewJobParams{
		JobType:    jobType,
		Source:     queue.SourceAPI,
		InputJSON:  string(inputJSON),
		WebhookURL: req.Webhook,
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("enqueue job: %v", err))
		return nil, false
	}

	s.log().Info("job submitted",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String(logging.FieldJobUUID, job.UUID),
		logging.String(logging.FieldJobType, string(jobType)),
	)
	return job, true
}

func (s *apiServer) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	uuid := strings.Trim(strings.TrimPrefix(r.URL.Path, "/status/"), "/")
	if uuid == "" {
		s.writeError(w, http.StatusBadRequest, "job id required")
		return
	}
	job, err := s.daemon.store.GetByUUID(r.Context(), uuid)
	if err != nil || job == nil {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("job %s not found", uuid))
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobState(job))
}

func (s *apiServer) handleJobCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	uuid := strings.Trim(strings.TrimPrefix(r.URL.Path, "/cancel/"), "/")
	if uuid == "" {
		s.writeError(w, http.StatusBadRequest, "job id required")
		return
	}
	job, err := s.daemon.store.GetByUUID(r.Context(), uuid)
	if err != nil || job == nil {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("job %s not found", uuid))
		return
	}
	if _, err := s.daemon.store.RequestCancel(r.Context(), job.ID); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("cancel job: %v", err))
		return
	}
	refreshed, err := s.daemon.store.GetByUUID(r.Context(), uuid)
	if err != nil || refreshed == nil {
		refreshed = job
	}
	s.writeJSON(w, http.StatusOK, api.JobState(refreshed))
}

type healthResponse struct {
	Status       string                 `json:"status"`
	Queue        map[string]int         `json:"queue"`
	Stages       []api.StageHealth      `json:"stages"`
	Dependencies []api.DependencyStatus `json:"dependencies"`
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	summary := s.daemon.worker.Status(r.Context())
	stages := api.StageHealthSlice(summary.StageHealth)
	depStatuses := dependencyStatuses(s.daemon.Status(r.Context()).Dependencies)

	healthy := summary.Running
	for _, stg := range stages {
		if !stg.Ready {
			healthy = false
		}
	}
	for _, dep := range depStatuses {
		if !dep.Optional && !dep.Available {
			healthy = false
		}
	}

	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, healthResponse{
		Status:       status,
		Queue:        api.MergeQueueStats(summary.QueueStats),
		Stages:       stages,
		Dependencies: depStatuses,
	})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := s.daemon.Status(r.Context())
	payload := api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		QueueDBPath:  status.QueueDBPath,
		LockFilePath: status.LockFilePath,
		Workflow:     api.FromStatusSummary(status.Workflow),
		Dependencies: dependencyStatuses(status.Dependencies),
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *apiServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var statuses []queue.Status
	for _, value := range r.URL.Query()["status"] {
		parsed, ok := queue.ParseStatus(value)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", value))
			return
		}
		statuses = append(statuses, parsed)
	}

	jobs, err := s.queueSvc.List(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.QueueListResponse{Jobs: api.SortQueueJobsNewestFirst(jobs)})
}

func (s *apiServer) handleQueueJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	raw := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/queue/"), "/")
	if raw == "" {
		s.writeError(w, http.StatusBadRequest, "job id required")
		return
	}

	var (
		job *api.QueueJob
		err error
	)
	if id, convErr := strconv.ParseInt(raw, 10, 64); convErr == nil {
		job, err = s.queueSvc.Describe(r.Context(), id)
	} else {
		job, err = s.queueSvc.DescribeByUUID(r.Context(), raw)
	}
	if err != nil || job == nil {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("job %s not found", raw))
		return
	}
	s.writeJSON(w, http.StatusOK, api.QueueJobResponse{Job: *job})
}

func dependencyStatuses(statuses []deps.Status) []api.DependencyStatus {
	out := make([]api.DependencyStatus, len(statuses))
	for i, dep := range statuses {
		out[i] = api.DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		}
	}
	return out
}

func (s *apiServer) writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Warn("failed to encode api response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, code int, message string) {
	s.writeJSON(w, code, map[string]string{"error": message})
}
