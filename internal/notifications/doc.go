// Package notifications delivers workflow events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and gracefully degrades to a no-op when notifications are
// disabled. Enumerated event types cover the major workflow milestones so the
// worker can emit consistent, user-friendly messages without duplicating HTTP
// glue. Per-job webhook callbacks are a separate sender that POSTs the status
// envelope to the URL supplied with the job.
package notifications
