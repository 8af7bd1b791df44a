// Package queue persists separation jobs in SQLite and exposes helpers for
// driving their lifecycle.
//
// The Store manages database connections, schema initialization, stats queries,
// heartbeat tracking, stale-job recovery, and status transitions that mirror
// the public workflow enum. Jobs capture the raw request input, the staged
// audio path, the stem manifest, the final result envelope, and progress so
// stages can coordinate without additional state.
//
// The database is treated as transient storage for in-flight jobs rather than
// a long-term archive: terminal jobs are swept after the configured retention
// window. Schema changes bump the version in schema.go; users clear the
// database to adopt the new schema.
//
// Treat this package as the single source of truth for queue semantics; when
// you add new statuses or fields, update schema.sql and bump schemaVersion.
package queue
