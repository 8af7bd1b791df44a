package api

import (
	"context"
	"errors"
	"testing"

	"unmix/internal/queue"
)

type queueActionStub struct {
	jobs     map[int64]*QueueJob
	outcomes map[int64]queue.CancelOutcome
}

func (s *queueActionStub) Describe(_ context.Context, id int64) (*QueueJob, error) {
	if job, ok := s.jobs[id]; ok {
		return job, nil
	}
	return nil, nil
}

func (s *queueActionStub) Retry(_ context.Context, ids []int64) (int64, error) {
	if len(ids) != 1 {
		return 0, errors.New("expected one id")
	}
	return 1, nil
}

func (s *queueActionStub) Cancel(_ context.Context, id int64) (queue.CancelOutcome, error) {
	if outcome, ok := s.outcomes[id]; ok {
		return outcome, nil
	}
	return queue.CancelOutcomeNotFound, nil
}

func TestRetryFailedJobsByIDSkipsNonFailed(t *testing.T) {
	stub := &queueActionStub{
		jobs: map[int64]*QueueJob{
			1: {ID: 1, Status: string(queue.StatusFailed)},
			2: {ID: 2, Status: string(queue.StatusCompleted)},
		},
	}

	result, err := RetryFailedJobsByID(context.Background(), stub, []int64{1, 2, 3})
	if err != nil {
		t.Fatalf("RetryFailedJobsByID: %v", err)
	}
	if result.UpdatedCount != 1 {
		t.Fatalf("UpdatedCount = %d, want 1", result.UpdatedCount)
	}
	if len(result.Jobs) != 3 {
		t.Fatalf("len(Jobs) = %d, want 3", len(result.Jobs))
	}
	if result.Jobs[0].Outcome != RetryJobUpdated {
		t.Fatalf("job 1 outcome = %s, want %s", result.Jobs[0].Outcome, RetryJobUpdated)
	}
	if result.Jobs[1].Outcome != RetryJobNotFailed {
		t.Fatalf("job 2 outcome = %s, want %s", result.Jobs[1].Outcome, RetryJobNotFailed)
	}
	if result.Jobs[2].Outcome != RetryJobNotFound {
		t.Fatalf("job 3 outcome = %s, want %s", result.Jobs[2].Outcome, RetryJobNotFound)
	}
}

func TestCancelJobsByIDReportsOutcomes(t *testing.T) {
	stub := &queueActionStub{
		jobs: map[int64]*QueueJob{
			1: {ID: 1, Status: string(queue.StatusPending)},
			2: {ID: 2, Status: string(queue.StatusSeparating)},
			3: {ID: 3, Status: string(queue.StatusCompleted)},
		},
		outcomes: map[int64]queue.CancelOutcome{
			1: queue.CancelOutcomeCancelled,
			2: queue.CancelOutcomeSignalled,
			3: queue.CancelOutcomeTerminal,
		},
	}

	result, err := CancelJobsByID(context.Background(), stub, []int64{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("CancelJobsByID: %v", err)
	}
	if result.UpdatedCount != 2 {
		t.Fatalf("UpdatedCount = %d, want 2", result.UpdatedCount)
	}

	want := []CancelJobOutcome{CancelJobCancelled, CancelJobSignalled, CancelJobFinished, CancelJobNotFound}
	for i, outcome := range want {
		if result.Jobs[i].Outcome != outcome {
			t.Fatalf("job %d outcome = %s, want %s", i+1, result.Jobs[i].Outcome, outcome)
		}
	}
	if result.Jobs[0].PriorStatus != string(queue.StatusPending) {
		t.Fatalf("job 1 prior status = %q", result.Jobs[0].PriorStatus)
	}
	if result.Jobs[3].PriorStatus != "" {
		t.Fatalf("job 4 prior status = %q, want empty", result.Jobs[3].PriorStatus)
	}
}
