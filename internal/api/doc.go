// Package api defines wire-format types and converters for the HTTP and IPC
// surfaces. It translates internal queue models into transport DTOs so
// clients can speak the serverless job contract without coupling to internal
// types.
//
// # Key Types
//
// RunRequest/JobInput: the submission payload accepted by /run and /runsync,
// field-compatible with the original handler contract.
//
// JobStatus: the platform status envelope (id, status, delayTime,
// executionTime, output, error) returned by /run, /runsync, /status, /cancel.
//
// SeparationResult/ErrorResult/ModelsResult: handler result payloads stored
// verbatim on completed and failed jobs.
//
// QueueJob: administrative representation of a queue entry with progress,
// lane, and error class for the CLI and /api/queue surface.
//
// WorkflowStatus/DaemonStatus: daemon running state, queue stats, stage
// health, and dependency checks.
//
// # Converters
//
// WireStatus maps internal lifecycle statuses to the platform labels:
// pending is IN_QUEUE, in-flight statuses are IN_PROGRESS, and failed jobs
// carrying the timeout error class surface as TIMED_OUT.
//
// JobState builds the full status envelope from a queue job, attaching the
// stored result JSON as output.
//
// # Design Notes
//
// Platform payloads use the snake_case field names the original contract
// used; administrative DTOs use camelCase for JavaScript consumers, matching
// the IPC layer. Timestamps use RFC3339 with milliseconds.
package api
