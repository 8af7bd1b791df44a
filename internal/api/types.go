package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Platform status labels used by the job endpoints.
const (
	WireStatusInQueue    = "IN_QUEUE"
	WireStatusInProgress = "IN_PROGRESS"
	WireStatusCompleted  = "COMPLETED"
	WireStatusFailed     = "FAILED"
	WireStatusCancelled  = "CANCELLED"
	WireStatusTimedOut   = "TIMED_OUT"
)

// Return types accepted in job input.
const (
	ReturnTypeURL    = "url"
	ReturnTypeBase64 = "base64"
)

// RunRequest is the submission payload for /run and /runsync.
type RunRequest struct {
	Input   JobInput `json:"input"`
	Webhook string   `json:"webhook,omitempty"`
}

// JobInput mirrors the handler input contract. Exactly one of AudioData and
// AudioURL must be set for separation jobs; list_models takes neither.
type JobInput struct {
	Type              string            `json:"type,omitempty"`
	AudioData         string            `json:"audio_data,omitempty"`
	AudioURL          string            `json:"audio_url,omitempty"`
	ModelFilename     string            `json:"model_filename,omitempty"`
	OutputFormat      string            `json:"output_format,omitempty"`
	ReturnType        string            `json:"return_type,omitempty"`
	CustomOutputNames map[string]string `json:"custom_output_names,omitempty"`
}

// JobStatus is the platform-compatible status envelope.
type JobStatus struct {
	ID            string          `json:"id"`
	Status        string          `json:"status"`
	DelayTime     int64           `json:"delayTime"`
	ExecutionTime int64           `json:"executionTime"`
	Output        json.RawMessage `json:"output,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// SeparationResult is the handler result payload for successful separation
// jobs. OutputFiles carries base64 content and OutputURLs carries delivery
// URLs; exactly one of the two is populated, matching ReturnType.
type SeparationResult struct {
	Success        bool              `json:"success"`
	Message        string            `json:"message"`
	ModelUsed      string            `json:"model_used,omitempty"`
	ReturnType     string            `json:"return_type,omitempty"`
	OutputFiles    map[string]string `json:"output_files,omitempty"`
	OutputURLs     map[string]string `json:"output_urls,omitempty"`
	StepsCompleted []string          `json:"steps_completed,omitempty"`
	FinalOutputs   []string          `json:"final_outputs,omitempty"`
}

// ErrorResult is the handler failure payload.
type ErrorResult struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ModelsResult is the list_models result payload.
type ModelsResult struct {
	Success bool         `json:"success"`
	Models  []ModelEntry `json:"models"`
	Message string       `json:"message"`
}

// ModelEntry describes one model in the catalog, including cache state.
type ModelEntry struct {
	Filename     string   `json:"filename"`
	Name         string   `json:"name"`
	Architecture string   `json:"architecture"`
	Stems        []string `json:"stems,omitempty"`
	SizeBytes    int64    `json:"size_bytes,omitempty"`
	Cached       bool     `json:"cached"`
}

// QueueJob describes a queue entry in a transport-friendly format for the
// administrative surfaces.
type QueueJob struct {
	ID              int64           `json:"id"`
	UUID            string          `json:"uuid"`
	JobType         string          `json:"jobType"`
	Source          string          `json:"source"`
	Status          string          `json:"status"`
	WireStatus      string          `json:"wireStatus"`
	ProcessingLane  string          `json:"processingLane"`
	Progress        QueueProgress   `json:"progress"`
	ErrorMessage    string          `json:"errorMessage"`
	ErrorClass      string          `json:"errorClass,omitempty"`
	CreatedAt       string          `json:"createdAt,omitempty"`
	UpdatedAt       string          `json:"updatedAt,omitempty"`
	StartedAt       string          `json:"startedAt,omitempty"`
	FinishedAt      string          `json:"finishedAt,omitempty"`
	StagedFile      string          `json:"stagedFile,omitempty"`
	Manifest        json.RawMessage `json:"manifest,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	CancelRequested bool            `json:"cancelRequested"`
	DelayMillis     int64           `json:"delayMillis"`
	ExecutionMillis int64           `json:"executionMillis"`
}

// QueueProgress captures stage progress information for a queue entry.
type QueueProgress struct {
	Stage   string  `json:"stage"`
	Percent float64 `json:"percent"`
	Message string  `json:"message"`
}

// WorkflowStatus summarizes worker execution state.
type WorkflowStatus struct {
	Running     bool           `json:"running"`
	QueueStats  map[string]int `json:"queueStats"`
	LastError   string         `json:"lastError,omitempty"`
	LastJob     *QueueJob      `json:"lastJob,omitempty"`
	StageHealth []StageHealth  `json:"stageHealth"`
}

// StageHealth mirrors readiness reporting for workflow stages.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
	Severity    string `json:"severity,omitempty"`
}

// StatusLine is a labeled readiness line for status output.
type StatusLine struct {
	Label    string `json:"label"`
	Severity string `json:"severity"`
	Detail   string `json:"detail,omitempty"`
}

// DependencySummary aggregates dependency readiness counts.
type DependencySummary struct {
	Total           int    `json:"total"`
	Available       int    `json:"available"`
	MissingRequired int    `json:"missingRequired"`
	MissingOptional int    `json:"missingOptional"`
	Severity        string `json:"severity"`
	Detail          string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	QueueDBPath  string             `json:"queueDbPath"`
	LockFilePath string             `json:"lockFilePath"`
	Workflow     WorkflowStatus     `json:"workflow"`
	Dependencies []DependencyStatus `json:"dependencies"`
}

// QueueStatsResponse provides a normalized queue stats payload.
type QueueStatsResponse struct {
	Counts map[string]int `json:"counts"`
}

// QueueListResponse wraps a collection of queue jobs for API responses.
type QueueListResponse struct {
	Jobs []QueueJob `json:"jobs"`
}

// QueueJobResponse wraps a single queue job.
type QueueJobResponse struct {
	Job QueueJob `json:"job"`
}
