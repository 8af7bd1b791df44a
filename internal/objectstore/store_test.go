package objectstore_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"unmix/internal/config"
	"unmix/internal/objectstore"
	"unmix/internal/testsupport"
)

func TestLocalUploadCopiesAndMintsFileURL(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	src := filepath.Join(t.TempDir(), "vocals.wav")
	testsupport.WriteFile(t, src, 256)

	store, err := objectstore.NewLocal(root, nil)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	if store.Kind() != "local" {
		t.Fatalf("Kind = %q, want local", store.Kind())
	}
	if err := store.Check(context.Background()); err != nil {
		t.Fatalf("Check: %v", err)
	}

	got, err := store.Upload(context.Background(), "job-1/vocals.wav", src)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	parsed, err := url.Parse(got)
	if err != nil {
		t.Fatalf("parse returned URL: %v", err)
	}
	if parsed.Scheme != "file" {
		t.Fatalf("URL scheme = %q, want file", parsed.Scheme)
	}
	dest := filepath.FromSlash(parsed.Path)
	info, err := os.Stat(dest)
	if err != nil {
		t.Fatalf("stat delivered file: %v", err)
	}
	if info.Size() != 256 {
		t.Fatalf("delivered size = %d, want 256", info.Size())
	}
	if !strings.HasPrefix(dest, root) {
		t.Fatalf("delivered path %q escaped root %q", dest, root)
	}
}

func TestLocalUploadRejectsEscapingKey(t *testing.T) {
	t.Parallel()

	src := filepath.Join(t.TempDir(), "a.wav")
	testsupport.WriteFile(t, src, 16)

	store, err := objectstore.NewLocal(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	if _, err := store.Upload(context.Background(), "../escape.wav", src); err == nil {
		t.Fatal("expected error for escaping key")
	}
	if _, err := store.Upload(context.Background(), "   ", src); err == nil {
		t.Fatal("expected error for blank key")
	}
}

func TestFromConfigSelectsBackend(t *testing.T) {
	t.Parallel()

	cfg := testsupport.NewConfig(t)
	store, err := objectstore.FromConfig(cfg, nil)
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if store.Kind() != "local" {
		t.Fatalf("unconfigured bucket selected %q, want local", store.Kind())
	}

	cfg.Bucket.EndpointURL = "https://s3.example.com"
	cfg.Bucket.Name = "stems"
	cfg.Bucket.AccessKeyID = "ak"
	cfg.Bucket.SecretAccessKey = "sk"
	store, err = objectstore.FromConfig(cfg, nil)
	if err != nil {
		t.Fatalf("FromConfig with bucket: %v", err)
	}
	if store.Kind() != "bucket" {
		t.Fatalf("configured bucket selected %q, want bucket", store.Kind())
	}
}

func TestNewBucketRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	if _, err := objectstore.NewBucket(config.Bucket{EndpointURL: "ftp://s3.example.com", Name: "stems"}, nil); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
	if _, err := objectstore.NewBucket(config.Bucket{EndpointURL: "https://s3.example.com"}, nil); err == nil {
		t.Fatal("expected error for missing bucket name")
	}
}

func TestBucketUploadPutsObjectAndPresigns(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		putPath  string
		putCType string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusOK)
		case http.MethodPut:
			mu.Lock()
			putPath = r.URL.Path
			putCType = r.Header.Get("Content-Type")
			mu.Unlock()
			w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	src := filepath.Join(t.TempDir(), "vocals.wav")
	testsupport.WriteFile(t, src, 64)

	store, err := objectstore.NewBucket(config.Bucket{
		EndpointURL:     server.URL,
		AccessKeyID:     "ak",
		SecretAccessKey: "sk",
		Name:            "stems",
		Region:          "us-east-1",
		Prefix:          "unmix",
		URLTTLHours:     1000,
	}, nil)
	if err != nil {
		t.Fatalf("NewBucket: %v", err)
	}
	if store.Kind() != "bucket" {
		t.Fatalf("Kind = %q, want bucket", store.Kind())
	}
	if err := store.Check(context.Background()); err != nil {
		t.Fatalf("Check: %v", err)
	}

	signed, err := store.Upload(context.Background(), "job-1/vocals.wav", src)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	mu.Lock()
	gotPath, gotCType := putPath, putCType
	mu.Unlock()
	if gotPath != "/stems/unmix/job-1/vocals.wav" {
		t.Fatalf("PUT path = %q, want /stems/unmix/job-1/vocals.wav", gotPath)
	}
	if gotCType != "audio/wav" {
		t.Fatalf("Content-Type = %q, want audio/wav", gotCType)
	}

	parsed, err := url.Parse(signed)
	if err != nil {
		t.Fatalf("parse presigned URL: %v", err)
	}
	if !strings.Contains(parsed.Path, "unmix/job-1/vocals.wav") {
		t.Fatalf("presigned path %q missing object key", parsed.Path)
	}
	query := parsed.Query()
	if query.Get("X-Amz-Signature") == "" {
		t.Fatal("presigned URL missing signature")
	}
	// A thousand-hour TTL clamps to the seven-day signature maximum.
	if got := query.Get("X-Amz-Expires"); got != "604800" {
		t.Fatalf("X-Amz-Expires = %q, want 604800", got)
	}
}
