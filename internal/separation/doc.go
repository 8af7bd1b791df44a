// Package separation runs the engine passes for a staged job. It ensures
// the plan's model weights are cached, executes the single-pass or refine
// plan through the pipeline runner, streams progress to the queue, and
// persists the stem manifest for delivery.
package separation
