// Package ipc exposes the daemon over JSON-RPC Unix sockets and ships the
// matching client used by the CLI.
//
// It owns socket lifecycle management, request/response DTOs, and conversions
// between queue models and lightweight wire representations. Administrative
// mutations (clear, retry, cancel, reset) ride this channel instead of the
// public HTTP port so the job API stays read-plus-submit only.
package ipc
