package ipc

import "unmix/internal/api"

// StartRequest triggers daemon workflow startup.
type StartRequest struct{}

// StartResponse indicates whether the daemon was started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest stops daemon workflow.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// QueueJob mirrors the HTTP API queue DTO for internal IPC callers.
type QueueJob = api.QueueJob

// StageHealth describes readiness of a workflow stage.
type StageHealth = api.StageHealth

// DependencyStatus describes availability of an external dependency.
type DependencyStatus = api.DependencyStatus

// ModelEntry describes one model in the catalog.
type ModelEntry = api.ModelEntry

// StatusResponse represents combined daemon/worker status information. The
// SystemChecks, StoragePaths, and DependencySummary fields are filled in by
// daemonctl when it builds a status snapshot, not by the daemon itself.
type StatusResponse struct {
	Running           bool                  `json:"running"`
	QueueStats        map[string]int        `json:"queue_stats"`
	LastError         string                `json:"last_error"`
	LastJob           *QueueJob             `json:"last_job"`
	LockPath          string                `json:"lock_path"`
	QueueDBPath       string                `json:"queue_db_path"`
	APIAddr           string                `json:"api_addr"`
	StageHealth       []StageHealth         `json:"stage_health"`
	Dependencies      []DependencyStatus    `json:"dependencies"`
	PID               int                   `json:"pid"`
	SystemChecks      []api.StatusLine      `json:"system_checks,omitempty"`
	StoragePaths      []api.StatusLine      `json:"storage_paths,omitempty"`
	DependencySummary api.DependencySummary `json:"dependency_summary,omitempty"`
}

// QueueListRequest filters queue listing by status.
type QueueListRequest struct {
	Statuses []string `json:"statuses"`
}

// QueueListResponse contains queue entries.
type QueueListResponse struct {
	Jobs []QueueJob `json:"jobs"`
}

// QueueDescribeRequest fetches a single queue job by id.
type QueueDescribeRequest struct {
	ID int64 `json:"id"`
}

// QueueDescribeResponse contains a single queue entry.
type QueueDescribeResponse struct {
	Job QueueJob `json:"job"`
}

// QueueClearRequest removes all jobs.
type QueueClearRequest struct{}

// QueueClearResponse reports number of removed entries.
type QueueClearResponse struct {
	Removed int64 `json:"removed"`
}

// QueueClearFailedRequest removes failed jobs.
type QueueClearFailedRequest struct{}

// QueueClearFailedResponse reports number of removed entries.
type QueueClearFailedResponse struct {
	Removed int64 `json:"removed"`
}

// QueueClearCompletedRequest removes completed jobs.
type QueueClearCompletedRequest struct{}

// QueueClearCompletedResponse reports number of removed entries.
type QueueClearCompletedResponse struct {
	Removed int64 `json:"removed"`
}

// QueueResetRequest resets in-flight jobs to their stage start.
type QueueResetRequest struct{}

// QueueResetResponse reports number of jobs reset.
type QueueResetResponse struct {
	Updated int64 `json:"updated"`
}

// QueueRetryRequest retries failed jobs. Empty list means all failed jobs.
type QueueRetryRequest struct {
	IDs []int64 `json:"ids"`
}

// QueueRetryResponse reports number of retried jobs.
type QueueRetryResponse struct {
	Updated int64 `json:"updated"`
}

// QueueCancelRequest cancels jobs. Empty list is invalid.
type QueueCancelRequest struct {
	IDs []int64 `json:"ids"`
}

// QueueCancelResponse reports number of cancelled jobs.
type QueueCancelResponse struct {
	Updated int64 `json:"updated"`
}

// QueueRemoveRequest removes specific jobs by ID.
type QueueRemoveRequest struct {
	IDs []int64 `json:"ids"`
}

// QueueRemoveResponse reports number of removed entries.
type QueueRemoveResponse struct {
	Removed int64 `json:"removed"`
}

// QueueHealthRequest fetches aggregate diagnostics.
type QueueHealthRequest struct{}

// QueueHealthResponse reports queue health information.
type QueueHealthResponse struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}

// DatabaseHealthRequest fetches detailed database diagnostics.
type DatabaseHealthRequest struct{}

// DatabaseHealthResponse reports database health information.
type DatabaseHealthResponse struct {
	DBPath           string   `json:"db_path"`
	DatabaseExists   bool     `json:"database_exists"`
	DatabaseReadable bool     `json:"database_readable"`
	SchemaVersion    string   `json:"schema_version"`
	TableExists      bool     `json:"table_exists"`
	ColumnsPresent   []string `json:"columns_present"`
	MissingColumns   []string `json:"missing_columns"`
	IntegrityCheck   bool     `json:"integrity_check"`
	TotalJobs        int      `json:"total_jobs"`
	Error            string   `json:"error"`
}

// ModelListRequest fetches the model catalog with cache state.
type ModelListRequest struct{}

// ModelListResponse contains catalog entries.
type ModelListResponse struct {
	Models []ModelEntry `json:"models"`
}

// ModelEnsureRequest downloads models into the cache. Empty list means the
// configured preload roster.
type ModelEnsureRequest struct {
	Filenames []string `json:"filenames"`
}

// ModelEnsureResponse reports the ensure outcome.
type ModelEnsureResponse struct {
	Ensured []string `json:"ensured"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification test outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
