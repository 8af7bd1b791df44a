// Package objectstore delivers finished stems to their final home and mints
// URLs clients can fetch them from. When a bucket endpoint is configured the
// backend is an S3-compatible object store; otherwise stems land in a local
// output directory and the returned URLs use the file scheme.
package objectstore
