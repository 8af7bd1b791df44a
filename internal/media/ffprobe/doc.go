// Package ffprobe shells out to ffprobe for container-level inspection of
// audio files the WAV decoder cannot read.
package ffprobe
