package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a queue job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusIngesting  Status = "ingesting"
	StatusStaged     Status = "staged"
	StatusSeparating Status = "separating"
	StatusSeparated  Status = "separated"
	StatusDelivering Status = "delivering"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// UserCancelReason is the error message set when a user explicitly cancels a job.
const UserCancelReason = "Cancelled by user"

// DaemonStopReason is the error message set when jobs are failed due to daemon shutdown.
const DaemonStopReason = "Daemon stopped"

var allStatuses = []Status{
	StatusPending,
	StatusIngesting,
	StatusStaged,
	StatusSeparating,
	StatusSeparated,
	StatusDelivering,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var processingStatuses = map[Status]struct{}{
	StatusIngesting:  {},
	StatusSeparating: {},
	StatusDelivering: {},
}

var terminalStatuses = map[Status]struct{}{
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

type statusTransition struct {
	from Status
	to   Status
}

// stageRollbackTransitions return an interrupted job to the start of its
// current stage so a restarted daemon can pick it up again.
var stageRollbackTransitions = []statusTransition{
	{from: StatusIngesting, to: StatusPending},
	{from: StatusSeparating, to: StatusStaged},
	{from: StatusDelivering, to: StatusSeparated},
}

// JobType identifies what the handler should do with a job.
type JobType string

const (
	JobTypeSeparate         JobType = "separate"
	JobTypeAdvancedSeparate JobType = "advanced_separate"
	JobTypeListModels       JobType = "list_models"
)

// SupportedJobTypes returns the job types the worker accepts, in display order.
func SupportedJobTypes() []JobType {
	return []JobType{JobTypeListModels, JobTypeSeparate, JobTypeAdvancedSeparate}
}

// ParseJobType normalizes a raw job type string. Empty input defaults to
// separate, matching the original request contract. Unknown values are
// returned as-is with ok=false so intake can fail the job with a message
// naming the offending type.
func ParseJobType(value string) (JobType, bool) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return JobTypeSeparate, true
	}
	switch JobType(normalized) {
	case JobTypeSeparate, JobTypeAdvancedSeparate, JobTypeListModels:
		return JobType(normalized), true
	default:
		return JobType(value), false
	}
}

// Source records how a job entered the queue.
type Source string

const (
	SourceAPI   Source = "api"
	SourceWatch Source = "watch"
	SourceCLI   Source = "cli"
)

// DatabaseHealth captures diagnostic information about the queue database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    string
	TableExists      bool
	ColumnsPresent   []string
	MissingColumns   []string
	IntegrityCheck   bool
	TotalJobs        int
	Error            string
}

// HealthSummary describes aggregated queue counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Completed  int
	Failed     int
	Cancelled  int
}

// Job represents a separation job persisted in SQLite.
type Job struct {
	ID                int64
	UUID              string
	JobType           string
	Source            Source
	Status            Status
	InputJSON         string
	WebhookURL        string
	SourceFingerprint string
	StagedFile        string
	ManifestJSON      string
	ResultJSON        string
	ErrorMessage      string
	ErrorClass        string
	ProgressStage     string
	ProgressPercent   float64
	ProgressMessage   string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	StartedAt         *time.Time
	FinishedAt        *time.Time
	LastHeartbeat     *time.Time
	CancelRequested   bool
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsProcessing returns true when the status reflects an in-flight operation.
func (j Job) IsProcessing() bool {
	return IsProcessingStatus(j.Status)
}

// IsTerminal returns true once a job reached a final state.
func (j Job) IsTerminal() bool {
	return IsTerminalStatus(j.Status)
}

// IsProcessingStatus reports whether a status reflects an in-flight operation.
func IsProcessingStatus(status Status) bool {
	_, ok := processingStatuses[status]
	return ok
}

// IsTerminalStatus reports whether a status is final.
func IsTerminalStatus(status Status) bool {
	_, ok := terminalStatuses[status]
	return ok
}

// InitProgress resets progress fields for a new stage. If ProgressStage is
// currently empty it is set to the provided stage value; otherwise the
// existing stage is preserved to support resume scenarios. ErrorMessage is
// cleared.
func (j *Job) InitProgress(stage, message string) {
	if j.ProgressStage == "" {
		j.ProgressStage = stage
	}
	j.ProgressMessage = message
	j.ProgressPercent = 0
	j.ErrorMessage = ""
}

// SetProgress updates all three progress fields together. Use this instead of
// setting ProgressStage, ProgressPercent, and ProgressMessage individually.
func (j *Job) SetProgress(stage, message string, percent float64) {
	j.ProgressStage = stage
	j.ProgressMessage = message
	j.ProgressPercent = percent
}

// SetProgressComplete sets progress to 100% with the given stage and message.
func (j *Job) SetProgressComplete(stage, message string) {
	j.SetProgress(stage, message, 100)
}

// SetFailed marks the job as failed with the given error message and class.
// Clears the heartbeat and stamps the finish time.
func (j *Job) SetFailed(message, class string) {
	now := time.Now().UTC()
	j.Status = StatusFailed
	j.ErrorMessage = message
	j.ErrorClass = class
	j.ProgressPercent = 0
	j.ProgressMessage = message
	j.ProgressStage = "Failed"
	j.LastHeartbeat = nil
	j.FinishedAt = &now
}

// SetCompleted marks the job as completed and stamps the finish time.
func (j *Job) SetCompleted(message string) {
	now := time.Now().UTC()
	j.Status = StatusCompleted
	j.ErrorMessage = ""
	j.ErrorClass = ""
	j.ProgressStage = "Completed"
	j.ProgressMessage = message
	j.ProgressPercent = 100
	j.LastHeartbeat = nil
	j.FinishedAt = &now
}

// SetCancelled marks the job as cancelled.
func (j *Job) SetCancelled(message string) {
	now := time.Now().UTC()
	j.Status = StatusCancelled
	j.ErrorMessage = message
	j.ProgressMessage = message
	j.ProgressStage = "Cancelled"
	j.LastHeartbeat = nil
	j.FinishedAt = &now
}

// DelayMillis returns the time the job spent queued before execution started,
// in milliseconds. In-flight pending jobs report their wait so far.
func (j Job) DelayMillis() int64 {
	start := j.StartedAt
	if start == nil {
		if j.IsTerminal() {
			return 0
		}
		return time.Since(j.CreatedAt).Milliseconds()
	}
	return start.Sub(j.CreatedAt).Milliseconds()
}

// ExecutionMillis returns the handler runtime in milliseconds. Running jobs
// report elapsed time so far; queued jobs report zero.
func (j Job) ExecutionMillis() int64 {
	if j.StartedAt == nil {
		return 0
	}
	if j.FinishedAt != nil {
		return j.FinishedAt.Sub(*j.StartedAt).Milliseconds()
	}
	if j.IsTerminal() {
		return 0
	}
	return time.Since(*j.StartedAt).Milliseconds()
}

// ProcessingLane partitions the workflow into intake work (materializing
// inputs) and the engine-bound processing work.
type ProcessingLane string

const (
	LaneIntake  ProcessingLane = "intake"
	LaneProcess ProcessingLane = "process"
)

// LaneForJob maps a job to its processing lane for observability purposes.
func LaneForJob(job *Job) ProcessingLane {
	if job == nil {
		return LaneIntake
	}
	switch job.Status {
	case StatusPending, StatusIngesting:
		return LaneIntake
	default:
		return LaneProcess
	}
}
