// Package worker drives queued jobs through the intake, separation, and
// delivery stages. Stages are grouped into lanes, each polled by a small
// pool of goroutines that claim jobs atomically so the cheap intake work
// keeps flowing while the engine-bound lane grinds through separations.
package worker
