package objectstore

import (
	"context"
	"log/slog"

	"unmix/internal/config"
)

// Store places a finished output file somewhere a client can retrieve it.
type Store interface {
	// Upload stores the file under key and returns a URL that fetches it.
	// Keys are slash-separated relative paths such as "<job-id>/<file>".
	Upload(ctx context.Context, key, filePath string) (string, error)
	// Check verifies the backend is reachable and writable.
	Check(ctx context.Context) error
	// Kind names the backend for logs and health summaries.
	Kind() string
}

// FromConfig selects the delivery backend: an S3-compatible bucket when an
// endpoint is configured, otherwise the local output directory.
func FromConfig(cfg *config.Config, logger *slog.Logger) (Store, error) {
	if cfg.Bucket.Configured() {
		return NewBucket(cfg.Bucket, logger)
	}
	return NewLocal(cfg.Paths.OutputDir, logger)
}
