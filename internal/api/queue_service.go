package api

import (
	"context"

	"unmix/internal/queue"
)

// QueueReader abstracts queue persistence interactions needed for API queries.
type QueueReader interface {
	List(ctx context.Context, statuses ...queue.Status) ([]*queue.Job, error)
	Stats(ctx context.Context) (map[queue.Status]int, error)
	GetByID(ctx context.Context, id int64) (*queue.Job, error)
	GetByUUID(ctx context.Context, uuid string) (*queue.Job, error)
}

// QueueService exposes read-only queue operations returning API DTOs.
type QueueService struct {
	store QueueReader
}

// NewQueueService constructs a QueueService around the provided reader.
func NewQueueService(store QueueReader) *QueueService {
	if store == nil {
		return nil
	}
	return &QueueService{store: store}
}

// List returns queue jobs filtered by status.
func (s *QueueService) List(ctx context.Context, statuses ...queue.Status) ([]QueueJob, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	jobs, err := s.store.List(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	return FromQueueJobs(jobs), nil
}

// Stats returns queue summary counts keyed by status string.
func (s *QueueService) Stats(ctx context.Context) (map[string]int, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return MergeQueueStats(stats), nil
}

// Describe fetches a single queue job by row id.
func (s *QueueService) Describe(ctx context.Context, id int64) (*QueueJob, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	job, err := s.store.GetByID(ctx, id)
	if err != nil || job == nil {
		return nil, err
	}
	dto := FromQueueJob(job)
	return &dto, nil
}

// DescribeByUUID fetches a single queue job by public identifier.
func (s *QueueService) DescribeByUUID(ctx context.Context, uuid string) (*QueueJob, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	job, err := s.store.GetByUUID(ctx, uuid)
	if err != nil || job == nil {
		return nil, err
	}
	dto := FromQueueJob(job)
	return &dto, nil
}

// State fetches the platform status envelope for a job by public identifier.
func (s *QueueService) State(ctx context.Context, uuid string) (*JobStatus, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	job, err := s.store.GetByUUID(ctx, uuid)
	if err != nil || job == nil {
		return nil, err
	}
	state := JobState(job)
	return &state, nil
}
