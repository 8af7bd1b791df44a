package modelcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

func testHTTPClient() *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = 1
	client.RetryWaitMin = time.Millisecond
	client.RetryWaitMax = 5 * time.Millisecond
	return client
}

func TestEnsureDownloadsAndRecordsChecksum(t *testing.T) {
	body := []byte("onnx-weights-payload")
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write(body)
	}))
	defer server.Close()

	dir := t.TempDir()
	cache, err := New(dir, nil, WithHTTPClient(testHTTPClient()), WithMirror(server.URL))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	if err := cache.Ensure(context.Background(), "Kim_Vocal_1.onnx"); err != nil {
		t.Fatalf("Ensure returned error: %v", err)
	}

	installed, err := os.ReadFile(filepath.Join(dir, "Kim_Vocal_1.onnx"))
	if err != nil {
		t.Fatalf("expected installed model: %v", err)
	}
	if string(installed) != string(body) {
		t.Fatal("installed bytes differ from served bytes")
	}
	if !cache.IsCached("Kim_Vocal_1.onnx") {
		t.Fatal("IsCached = false after Ensure")
	}

	sum := sha256.Sum256(body)
	wantDigest := hex.EncodeToString(sum[:])
	statuses, err := cache.List()
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	var found bool
	for _, status := range statuses {
		if status.Filename != "Kim_Vocal_1.onnx" {
			continue
		}
		found = true
		if !status.Cached {
			t.Fatal("expected status.Cached")
		}
		if status.SHA256 != wantDigest {
			t.Fatalf("SHA256 = %s, want %s", status.SHA256, wantDigest)
		}
		if status.OnDiskBytes != int64(len(body)) {
			t.Fatalf("OnDiskBytes = %d, want %d", status.OnDiskBytes, len(body))
		}
	}
	if !found {
		t.Fatal("Kim_Vocal_1.onnx missing from List")
	}

	// Second Ensure is a no-op for cached weights.
	before := hits.Load()
	if err := cache.Ensure(context.Background(), "Kim_Vocal_1.onnx"); err != nil {
		t.Fatalf("second Ensure returned error: %v", err)
	}
	if hits.Load() != before {
		t.Fatalf("expected no additional downloads, hits went %d -> %d", before, hits.Load())
	}
}

func TestEnsureDownloadsMultipleModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("weights for " + filepath.Base(r.URL.Path)))
	}))
	defer server.Close()

	dir := t.TempDir()
	cache, err := New(dir, nil, WithHTTPClient(testHTTPClient()), WithMirror(server.URL))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	names := []string{"Kim_Vocal_1.onnx", "UVR_MDXNET_KARA.onnx", "UVR-De-Echo-Aggressive.pth", "UVR-DeNoise.pth"}
	if err := cache.Ensure(context.Background(), names...); err != nil {
		t.Fatalf("Ensure returned error: %v", err)
	}
	for _, name := range names {
		if !cache.IsCached(name) {
			t.Fatalf("expected %s cached", name)
		}
	}
}

func TestEnsureRejectsUnknownModel(t *testing.T) {
	cache, err := New(t.TempDir(), nil, WithHTTPClient(testHTTPClient()))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	err = cache.Ensure(context.Background(), "definitely_not_a_model.onnx")
	if !errors.Is(err, ErrUnknownModel) {
		t.Fatalf("expected ErrUnknownModel, got %v", err)
	}
}

func TestEnsureSkipsCachedUnregisteredModel(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Custom_Finetune.onnx"), []byte("weights"), 0o644); err != nil {
		t.Fatal(err)
	}
	cache, err := New(dir, nil, WithHTTPClient(testHTTPClient()))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if err := cache.Ensure(context.Background(), "Custom_Finetune.onnx"); err != nil {
		t.Fatalf("expected cached unregistered model to pass, got %v", err)
	}
}

func TestEnsureSurfacesServerFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not here", http.StatusNotFound)
	}))
	defer server.Close()

	cache, err := New(t.TempDir(), nil, WithHTTPClient(testHTTPClient()), WithMirror(server.URL))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	err = cache.Ensure(context.Background(), "UVR-DeNoise.pth")
	if err == nil {
		t.Fatal("expected download failure")
	}
	if !strings.Contains(err.Error(), "UVR-DeNoise.pth") {
		t.Fatalf("expected model name in error, got %v", err)
	}
	if cache.IsCached("UVR-DeNoise.pth") {
		t.Fatal("failed download must not leave a cached file")
	}
}

func TestNewEvictsPartialDownloads(t *testing.T) {
	dir := t.TempDir()
	partial := filepath.Join(dir, "Kim_Vocal_1.onnx.partial")
	if err := os.WriteFile(partial, []byte("half"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(dir, nil, WithHTTPClient(testHTTPClient())); err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if _, err := os.Stat(partial); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected partial eviction, stat err = %v", err)
	}
}

func TestListIncludesUnregisteredWeights(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Custom_Finetune.onnx"), []byte("weights"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0o644); err != nil {
		t.Fatal(err)
	}
	cache, err := New(dir, nil, WithHTTPClient(testHTTPClient()))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	statuses, err := cache.List()
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	var custom *Status
	for i := range statuses {
		if statuses[i].Filename == "Custom_Finetune.onnx" {
			custom = &statuses[i]
		}
		if statuses[i].Filename == "notes.txt" {
			t.Fatal("non-model file leaked into List")
		}
	}
	if custom == nil {
		t.Fatal("unregistered weights missing from List")
	}
	if !custom.Cached || custom.Architecture != "" {
		t.Fatalf("unexpected unregistered status: %+v", custom)
	}
}

func TestRemoveDeletesFileAndState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("weights"))
	}))
	defer server.Close()

	dir := t.TempDir()
	cache, err := New(dir, nil, WithHTTPClient(testHTTPClient()), WithMirror(server.URL))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if err := cache.Ensure(context.Background(), "Kim_Vocal_2.onnx"); err != nil {
		t.Fatalf("Ensure returned error: %v", err)
	}
	if err := cache.Remove("Kim_Vocal_2.onnx"); err != nil {
		t.Fatalf("Remove returned error: %v", err)
	}
	if cache.IsCached("Kim_Vocal_2.onnx") {
		t.Fatal("expected model removed")
	}
	statuses, err := cache.List()
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	for _, status := range statuses {
		if status.Filename == "Kim_Vocal_2.onnx" && status.SHA256 != "" {
			t.Fatal("expected checksum cleared after Remove")
		}
	}
}

func TestIsCachedIgnoresEmptyFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Kim_Vocal_1.onnx"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	cache, err := New(dir, nil, WithHTTPClient(testHTTPClient()))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if cache.IsCached("Kim_Vocal_1.onnx") {
		t.Fatal("zero-byte file must not count as cached")
	}
}

func TestCatalogCoversAdvancedChain(t *testing.T) {
	cache, err := New(t.TempDir(), nil, WithHTTPClient(testHTTPClient()))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	required := []string{
		"Kim_Vocal_1.onnx",
		"UVR_MDXNET_KARA.onnx",
		"UVR-De-Echo-Aggressive.pth",
		"UVR-DeNoise.pth",
	}
	for _, name := range required {
		info, ok := cache.Lookup(name)
		if !ok {
			t.Fatalf("registry missing %s", name)
		}
		if info.URL == "" || info.Architecture == "" || len(info.Stems) != 2 {
			t.Fatalf("incomplete registry entry: %+v", info)
		}
	}
	catalog := cache.Catalog()
	for i := 1; i < len(catalog); i++ {
		if catalog[i-1].Filename > catalog[i].Filename {
			t.Fatal("catalog not sorted by filename")
		}
	}
}

func TestStatePersistsAcrossReopen(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("weights"))
	}))
	defer server.Close()

	dir := t.TempDir()
	cache, err := New(dir, nil, WithHTTPClient(testHTTPClient()), WithMirror(server.URL))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if err := cache.Ensure(context.Background(), "UVR_MDXNET_KARA.onnx"); err != nil {
		t.Fatalf("Ensure returned error: %v", err)
	}

	reopened, err := New(dir, nil, WithHTTPClient(testHTTPClient()), WithMirror(server.URL))
	if err != nil {
		t.Fatalf("reopen returned error: %v", err)
	}
	statuses, err := reopened.List()
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	for _, status := range statuses {
		if status.Filename == "UVR_MDXNET_KARA.onnx" {
			if status.SHA256 == "" {
				t.Fatal("expected checksum to survive reopen")
			}
			return
		}
	}
	t.Fatal("UVR_MDXNET_KARA.onnx missing from List")
}
