// Package separator mediates access to the audio-separator CLI that performs
// the actual source separation.
//
// It normalizes command invocation, streams engine log output, parses
// percentage progress, discovers the stem files a run produced, and exposes a
// testable interface for the separation stage. Model load failures are
// reported through ErrModelLoad so callers can fall back to an alternate
// model.
//
// Prefer this package over ad-hoc exec.Command usage when interacting with
// the engine so progress reporting and timeout handling remain consistent.
package separator
