package objectstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"unmix/internal/config"
	"unmix/internal/logging"
)

// S3 signature v4 caps presigned URLs at seven days.
const maxPresignTTL = 7 * 24 * time.Hour

type bucketStore struct {
	client *minio.Client
	bucket string
	prefix string
	region string
	ttl    time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	ensured bool
}

// NewBucket builds an S3-compatible store from bucket configuration.
func NewBucket(cfg config.Bucket, logger *slog.Logger) (Store, error) {
	endpoint, secure, err := splitEndpoint(cfg.EndpointURL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, errors.New("bucket name is required")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("build bucket client: %w", err)
	}
	ttl := time.Duration(cfg.URLTTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if ttl > maxPresignTTL {
		ttl = maxPresignTTL
	}
	return &bucketStore{
		client: client,
		bucket: cfg.Name,
		prefix: strings.Trim(strings.TrimSpace(cfg.Prefix), "/"),
		region: cfg.Region,
		ttl:    ttl,
		logger: logging.NewComponentLogger(logger, "objectstore"),
	}, nil
}

func (s *bucketStore) Kind() string { return "bucket" }

func (s *bucketStore) Upload(ctx context.Context, key, filePath string) (string, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return "", err
	}
	object := s.objectKey(key)
	info, err := s.client.FPutObject(ctx, s.bucket, object, filePath, minio.PutObjectOptions{
		ContentType: contentTypeFor(filePath),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", object, err)
	}
	s.logger.Debug("uploaded object",
		logging.String("bucket", s.bucket),
		logging.String("object", object),
		logging.Int64("bytes", info.Size))
	signed, err := s.client.PresignedGetObject(ctx, s.bucket, object, s.ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", object, err)
	}
	return signed.String(), nil
}

func (s *bucketStore) Check(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.bucket); err != nil {
		return fmt.Errorf("bucket %s unreachable: %w", s.bucket, err)
	}
	return nil
}

// ensureBucket creates the bucket on first use. Failures are not cached so a
// transient outage does not poison later uploads.
func (s *bucketStore) ensureBucket(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured {
		return nil
	}
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("create bucket %s: %w", s.bucket, err)
		}
		s.logger.Info("created bucket", logging.String("bucket", s.bucket))
	}
	s.ensured = true
	return nil
}

func (s *bucketStore) objectKey(key string) string {
	key = strings.Trim(strings.TrimSpace(key), "/")
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

func splitEndpoint(raw string) (endpoint string, secure bool, err error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false, errors.New("bucket endpoint URL is required")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", false, fmt.Errorf("parse bucket endpoint URL: %w", err)
	}
	switch parsed.Scheme {
	case "https":
		secure = true
	case "http":
	default:
		return "", false, fmt.Errorf("bucket endpoint scheme %q is not supported (use http or https)", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", false, fmt.Errorf("bucket endpoint URL %q has no host", raw)
	}
	return parsed.Host, secure, nil
}

func contentTypeFor(filePath string) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".flac":
		return "audio/flac"
	case ".m4a":
		return "audio/mp4"
	case ".ogg":
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}
