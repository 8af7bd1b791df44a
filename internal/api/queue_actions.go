package api

import (
	"context"

	"unmix/internal/queue"
)

// QueueActionService captures queue operations needed by per-job retry and
// cancel workflows.
type QueueActionService interface {
	Describe(ctx context.Context, id int64) (*QueueJob, error)
	Retry(ctx context.Context, ids []int64) (int64, error)
	Cancel(ctx context.Context, id int64) (queue.CancelOutcome, error)
}

type RetryJobOutcome string

const (
	RetryJobUpdated   RetryJobOutcome = "retried"
	RetryJobNotFound  RetryJobOutcome = "not_found"
	RetryJobNotFailed RetryJobOutcome = "not_failed"
)

type RetryJobResult struct {
	ID      int64           `json:"id"`
	Outcome RetryJobOutcome `json:"outcome"`
}

type RetryJobsResult struct {
	UpdatedCount int64            `json:"updatedCount"`
	Jobs         []RetryJobResult `json:"jobs"`
}

type CancelJobOutcome string

const (
	CancelJobCancelled CancelJobOutcome = "cancelled"
	CancelJobSignalled CancelJobOutcome = "cancel_requested"
	CancelJobNotFound  CancelJobOutcome = "not_found"
	CancelJobFinished  CancelJobOutcome = "already_finished"
)

type CancelJobResult struct {
	ID          int64            `json:"id"`
	Outcome     CancelJobOutcome `json:"outcome"`
	PriorStatus string           `json:"prior_status,omitempty"`
}

type CancelJobsResult struct {
	UpdatedCount int64             `json:"updatedCount"`
	Jobs         []CancelJobResult `json:"jobs"`
}

// RetryFailedJobsByID validates IDs and retries only failed jobs.
func RetryFailedJobsByID(ctx context.Context, service QueueActionService, ids []int64) (RetryJobsResult, error) {
	result := RetryJobsResult{Jobs: make([]RetryJobResult, 0, len(ids))}
	for _, id := range ids {
		job, err := service.Describe(ctx, id)
		if err != nil {
			return RetryJobsResult{}, err
		}
		if job == nil {
			result.Jobs = append(result.Jobs, RetryJobResult{ID: id, Outcome: RetryJobNotFound})
			continue
		}
		status, ok := queue.ParseStatus(job.Status)
		if !ok || status != queue.StatusFailed {
			result.Jobs = append(result.Jobs, RetryJobResult{ID: id, Outcome: RetryJobNotFailed})
			continue
		}
		updated, err := service.Retry(ctx, []int64{id})
		if err != nil {
			return RetryJobsResult{}, err
		}
		if updated > 0 {
			result.UpdatedCount += updated
			result.Jobs = append(result.Jobs, RetryJobResult{ID: id, Outcome: RetryJobUpdated})
			continue
		}
		result.Jobs = append(result.Jobs, RetryJobResult{ID: id, Outcome: RetryJobNotFailed})
	}
	return result, nil
}

// CancelJobsByID requests cancellation for each job and reports the outcome.
func CancelJobsByID(ctx context.Context, service QueueActionService, ids []int64) (CancelJobsResult, error) {
	result := CancelJobsResult{Jobs: make([]CancelJobResult, 0, len(ids))}
	for _, id := range ids {
		job, err := service.Describe(ctx, id)
		if err != nil {
			return CancelJobsResult{}, err
		}
		prior := ""
		if job != nil {
			prior = job.Status
		}

		outcome, err := service.Cancel(ctx, id)
		if err != nil {
			return CancelJobsResult{}, err
		}
		entry := CancelJobResult{ID: id, PriorStatus: prior}
		switch outcome {
		case queue.CancelOutcomeCancelled:
			entry.Outcome = CancelJobCancelled
			result.UpdatedCount++
		case queue.CancelOutcomeSignalled:
			entry.Outcome = CancelJobSignalled
			result.UpdatedCount++
		case queue.CancelOutcomeTerminal:
			entry.Outcome = CancelJobFinished
		default:
			entry.Outcome = CancelJobNotFound
		}
		result.Jobs = append(result.Jobs, entry)
	}
	return result, nil
}
