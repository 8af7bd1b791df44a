// Package services defines shared utilities consumed by the workflow stage
// handlers and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp queue job IDs, stage names, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that tag failures with an
//     operational class (validation, timeout, external tool) so the worker can
//     persist consistent terminal statuses and the API can report them.
//   - Thin abstractions that make command execution and progress streaming from
//     external tools testable.
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// handling, observability, retries) stays uniform across the pipeline.
package services
