// Package modelcache manages the model-weights directory the separation
// engine loads from.
//
// It carries an embedded registry of known model files (friendly name,
// architecture, stem labels, source URL), downloads missing weights with a
// retrying HTTP client, and installs them atomically so a model is either
// fully present or absent. Downloaded checksums are recorded in a state file
// next to the weights.
package modelcache
