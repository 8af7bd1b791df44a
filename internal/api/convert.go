package api

import (
	"encoding/json"
	"slices"
	"strings"
	"time"

	"unmix/internal/queue"
	"unmix/internal/services"
	"unmix/internal/stage"
	"unmix/internal/worker"
)

// WireStatus maps an internal job status to the platform label. Failed jobs
// tagged with the timeout error class surface as TIMED_OUT.
func WireStatus(job *queue.Job) string {
	if job == nil {
		return WireStatusInQueue
	}
	switch job.Status {
	case queue.StatusPending:
		return WireStatusInQueue
	case queue.StatusCompleted:
		return WireStatusCompleted
	case queue.StatusCancelled:
		return WireStatusCancelled
	case queue.StatusFailed:
		if job.ErrorClass == string(services.ClassTimeout) {
			return WireStatusTimedOut
		}
		return WireStatusFailed
	default:
		return WireStatusInProgress
	}
}

// JobState builds the platform status envelope for a job. The stored result
// JSON rides along as output; failed jobs additionally expose the error
// message in the envelope's error field.
func JobState(job *queue.Job) JobStatus {
	if job == nil {
		return JobStatus{Status: WireStatusInQueue}
	}
	state := JobStatus{
		ID:            job.UUID,
		Status:        WireStatus(job),
		DelayTime:     job.DelayMillis(),
		ExecutionTime: job.ExecutionMillis(),
	}
	if raw := strings.TrimSpace(job.ResultJSON); raw != "" {
		state.Output = json.RawMessage(raw)
	}
	switch state.Status {
	case WireStatusFailed, WireStatusTimedOut, WireStatusCancelled:
		state.Error = job.ErrorMessage
	}
	return state
}

// FromQueueJob converts a queue record to its administrative representation.
func FromQueueJob(job *queue.Job) QueueJob {
	if job == nil {
		return QueueJob{}
	}

	dto := QueueJob{
		ID:             job.ID,
		UUID:           job.UUID,
		JobType:        job.JobType,
		Source:         string(job.Source),
		Status:         string(job.Status),
		WireStatus:     WireStatus(job),
		ProcessingLane: string(queue.LaneForJob(job)),
		Progress: QueueProgress{
			Stage:   job.ProgressStage,
			Percent: job.ProgressPercent,
			Message: job.ProgressMessage,
		},
		ErrorMessage:    job.ErrorMessage,
		ErrorClass:      job.ErrorClass,
		StagedFile:      job.StagedFile,
		CancelRequested: job.CancelRequested,
		DelayMillis:     job.DelayMillis(),
		ExecutionMillis: job.ExecutionMillis(),
	}

	if !job.CreatedAt.IsZero() {
		dto.CreatedAt = job.CreatedAt.UTC().Format(dateTimeFormat)
	}
	if !job.UpdatedAt.IsZero() {
		dto.UpdatedAt = job.UpdatedAt.UTC().Format(dateTimeFormat)
	}
	if job.StartedAt != nil {
		dto.StartedAt = job.StartedAt.UTC().Format(dateTimeFormat)
	}
	if job.FinishedAt != nil {
		dto.FinishedAt = job.FinishedAt.UTC().Format(dateTimeFormat)
	}
	if raw := strings.TrimSpace(job.ManifestJSON); raw != "" {
		dto.Manifest = json.RawMessage(raw)
	}
	if raw := strings.TrimSpace(job.ResultJSON); raw != "" {
		dto.Result = json.RawMessage(raw)
	}
	return dto
}

// FromQueueJobs converts a slice of queue records into API DTOs.
func FromQueueJobs(jobs []*queue.Job) []QueueJob {
	if len(jobs) == 0 {
		return nil
	}
	out := make([]QueueJob, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, FromQueueJob(job))
	}
	return out
}

// FromStatusSummary converts a worker status summary to API payload.
func FromStatusSummary(summary worker.StatusSummary) WorkflowStatus {
	healthNames := make([]string, 0, len(summary.StageHealth))
	for name := range summary.StageHealth {
		healthNames = append(healthNames, name)
	}
	slices.Sort(healthNames)

	health := make([]StageHealth, 0, len(healthNames))
	for _, name := range healthNames {
		h := summary.StageHealth[name]
		health = append(health, StageHealth{
			Name:   name,
			Ready:  h.Ready,
			Detail: h.Detail,
		})
	}

	stats := make(map[string]int, len(summary.QueueStats))
	for status, count := range summary.QueueStats {
		stats[string(status)] = count
	}

	wf := WorkflowStatus{
		Running:     summary.Running,
		QueueStats:  stats,
		StageHealth: health,
	}

	if summary.LastError != "" {
		wf.LastError = summary.LastError
	}
	if summary.LastJob != nil {
		last := FromQueueJob(summary.LastJob)
		wf.LastJob = &last
	}
	return wf
}

// MergeQueueStats produces a string-keyed representation of queue stats.
func MergeQueueStats(stats map[queue.Status]int) map[string]int {
	out := make(map[string]int, len(stats))
	for status, count := range stats {
		out[string(status)] = count
	}
	return out
}

// StageHealthSlice converts a stage health map into a deterministic slice.
func StageHealthSlice(health map[string]stage.Health) []StageHealth {
	if len(health) == 0 {
		return nil
	}
	names := make([]string, 0, len(health))
	for name := range health {
		names = append(names, name)
	}
	slices.Sort(names)

	out := make([]StageHealth, 0, len(names))
	for _, name := range names {
		h := health[name]
		out = append(out, StageHealth{Name: name, Ready: h.Ready, Detail: h.Detail})
	}
	return out
}

// FormatTime converts a time to RFC3339 or returns empty string.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
