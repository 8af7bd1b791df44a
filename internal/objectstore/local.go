package objectstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"unmix/internal/fileutil"
	"unmix/internal/logging"
)

type localStore struct {
	root   string
	logger *slog.Logger
}

// NewLocal builds a store that copies outputs into root and returns file://
// URLs for them.
func NewLocal(root string, logger *slog.Logger) (Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("local output directory is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve output directory: %w", err)
	}
	return &localStore{
		root:   abs,
		logger: logging.NewComponentLogger(logger, "objectstore"),
	}, nil
}

func (s *localStore) Kind() string { return "local" }

func (s *localStore) Upload(ctx context.Context, key, filePath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rel := filepath.FromSlash(strings.Trim(strings.TrimSpace(key), "/"))
	if rel == "" || rel == "." {
		return "", errors.New("upload key is required")
	}
	dest := filepath.Join(s.root, rel)
	if dest != s.root && !strings.HasPrefix(dest, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("upload key %q escapes the output directory", key)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	if err := fileutil.CopyFileVerified(filePath, dest); err != nil {
		return "", fmt.Errorf("copy %s: %w", filepath.Base(filePath), err)
	}
	s.logger.Debug("stored output locally", logging.String("path", dest))
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(dest)}).String(), nil
}

func (s *localStore) Check(_ context.Context) error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("output directory %s not writable: %w", s.root, err)
	}
	return nil
}
