// Package config loads, normalizes, and validates unmix configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as the
// BUCKET_* credentials injected by hosted deployments. The Config type
// centralizes every knob the daemon and CLI need, so staging directories,
// engine tuning, and delivery credentials are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
