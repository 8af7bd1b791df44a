// Package daemon coordinates the long-running unmixd process.
//
// It wires configuration, the queue store, the worker manager, the watch
// directory monitor, and the public job API into a single lifecycle with
// flock-based locking to prevent multiple instances. The daemon exposes
// queue maintenance helpers for the IPC surface, preloads the required
// separation models at startup, and delivers per-job completion webhooks.
//
// Keep orchestration logic here: individual workflow stages live in their
// own packages while the daemon focuses on startup, shutdown, and high
// level coordination.
package daemon
