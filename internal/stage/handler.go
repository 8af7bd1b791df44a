package stage

import (
	"context"

	"unmix/internal/queue"
)

// Handler describes the contract the worker manager needs from each stage.
type Handler interface {
	Prepare(context.Context, *queue.Job) error
	Execute(context.Context, *queue.Job) error
	HealthCheck(context.Context) Health
}
