package modelcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/errgroup"

	"unmix/internal/logging"
)

// ErrUnknownModel marks requests for model files the registry does not know.
var ErrUnknownModel = errors.New("unknown model")

const (
	stateFileName          = "models.state.json"
	partialSuffix          = ".partial"
	defaultParallel        = 2
	defaultDownloadTimeout = 15 * time.Minute
)

// Status reports one model's registry data plus its cache state.
type Status struct {
	Info
	Cached       bool      `json:"cached"`
	OnDiskBytes  int64     `json:"on_disk_bytes,omitempty"`
	SHA256       string    `json:"sha256,omitempty"`
	DownloadedAt time.Time `json:"downloaded_at,omitzero"`
}

type stateEntry struct {
	Filename     string    `json:"filename"`
	SHA256       string    `json:"sha256"`
	SizeBytes    int64     `json:"size_bytes"`
	SourceURL    string    `json:"source_url"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

// Option configures the cache.
type Option func(*Cache)

// WithHTTPClient injects a custom download client (primarily for tests).
func WithHTTPClient(client *retryablehttp.Client) Option {
	return func(c *Cache) {
		if client != nil {
			c.http = client
		}
	}
}

// WithDownloadTimeout bounds each model download.
func WithDownloadTimeout(timeout time.Duration) Option {
	return func(c *Cache) {
		if timeout > 0 {
			c.downloadTimeout = timeout
		}
	}
}

// WithMirror fetches weights from baseURL/<filename> instead of each
// registry entry's upstream URL. Useful for air-gapped installs that host
// their own copy of the model zoo.
func WithMirror(baseURL string) Option {
	return func(c *Cache) {
		c.mirror = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

// Cache manages the model weights directory.
type Cache struct {
	dir             string
	logger          *slog.Logger
	http            *retryablehttp.Client
	registry        *registry
	downloadTimeout time.Duration
	mirror          string

	mu    sync.Mutex
	state map[string]stateEntry
}

// New opens the cache rooted at dir, evicting any partial downloads a
// previous run left behind.
func New(dir string, logger *slog.Logger, opts ...Option) (*Cache, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("model directory required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "modelcache")

	reg, err := loadRegistry()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create model directory: %w", err)
	}

	client := retryablehttp.NewClient()
	client.Logger = nil

	c := &Cache{
		dir:             dir,
		logger:          logger,
		http:            client,
		registry:        reg,
		downloadTimeout: defaultDownloadTimeout,
		state:           make(map[string]stateEntry),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.loadState(); err != nil {
		logger.Warn("failed to load model cache state",
			logging.String(logging.FieldEventType, "modelcache_state_load_failed"),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "checksums will be recorded fresh on next download"))
	}
	if evicted, err := c.EvictPartials(); err != nil {
		logger.Warn("failed to evict partial downloads",
			logging.String(logging.FieldEventType, "modelcache_evict_failed"),
			logging.Error(err))
	} else if evicted > 0 {
		logger.Info("evicted partial model downloads", logging.Int("count", evicted))
	}
	return c, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// Path returns where a model file lives (or would live) on disk.
func (c *Cache) Path(filename string) string {
	return filepath.Join(c.dir, filepath.Base(strings.TrimSpace(filename)))
}

// Lookup returns registry data for a model filename.
func (c *Cache) Lookup(filename string) (Info, bool) {
	return c.registry.find(filename)
}

// Catalog returns every registry entry sorted by filename.
func (c *Cache) Catalog() []Info {
	return c.registry.all()
}

// IsCached reports whether the model file is fully present.
func (c *Cache) IsCached(filename string) bool {
	info, err := os.Stat(c.Path(filename))
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// Ensure downloads any of the named models that are not already cached.
// Downloads run in parallel; the first failure cancels the rest.
func (c *Cache) Ensure(ctx context.Context, filenames ...string) error {
	unique := make([]string, 0, len(filenames))
	seen := make(map[string]struct{}, len(filenames))
	for _, name := range filenames {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		unique = append(unique, name)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultParallel)
	for _, name := range unique {
		if c.IsCached(name) {
			continue
		}
		info, ok := c.registry.find(name)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownModel, name)
		}
		g.Go(func() error {
			return c.download(gctx, info)
		})
	}
	return g.Wait()
}

func (c *Cache) download(ctx context.Context, info Info) error {
	start := time.Now()
	dlCtx := ctx
	if c.downloadTimeout > 0 {
		var cancel context.CancelFunc
		dlCtx, cancel = context.WithTimeout(ctx, c.downloadTimeout)
		defer cancel()
	}

	sourceURL := info.URL
	if c.mirror != "" {
		sourceURL = c.mirror + "/" + info.Filename
	}
	req, err := retryablehttp.NewRequestWithContext(dlCtx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("build model download request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("download model %s: %w", info.Filename, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download model %s: unexpected status %s", info.Filename, resp.Status)
	}

	target := c.Path(info.Filename)
	partial := target + partialSuffix
	file, err := os.OpenFile(partial, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create partial download: %w", err)
	}

	hasher := sha256.New()
	written, copyErr := io.Copy(io.MultiWriter(file, hasher), resp.Body)
	closeErr := file.Close()
	if copyErr != nil {
		os.Remove(partial)
		return fmt.Errorf("download model %s: %w", info.Filename, copyErr)
	}
	if closeErr != nil {
		os.Remove(partial)
		return fmt.Errorf("finish partial download: %w", closeErr)
	}
	if written == 0 {
		os.Remove(partial)
		return fmt.Errorf("download model %s: empty response body", info.Filename)
	}
	if err := os.Rename(partial, target); err != nil {
		os.Remove(partial)
		return fmt.Errorf("install model %s: %w", info.Filename, err)
	}

	digest := hex.EncodeToString(hasher.Sum(nil))
	c.recordDownload(stateEntry{
		Filename:     info.Filename,
		SHA256:       digest,
		SizeBytes:    written,
		SourceURL:    sourceURL,
		DownloadedAt: time.Now().UTC(),
	})

	c.logger.Info("model downloaded",
		logging.String(logging.FieldModel, info.Filename),
		logging.Int64("size_bytes", written),
		logging.String("sha256", digest),
		logging.Duration("elapsed", time.Since(start)))
	return nil
}

func (c *Cache) recordDownload(entry stateEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state[entry.Filename] = entry
	if err := c.saveStateLocked(); err != nil {
		c.logger.Warn("failed to persist model cache state",
			logging.String(logging.FieldEventType, "modelcache_state_save_failed"),
			logging.Error(err))
	}
}

// List merges the registry with on-disk state. Files present in the
// directory but absent from the registry are reported too, so manually
// installed weights show up in listings.
func (c *Cache) List() ([]Status, error) {
	c.mu.Lock()
	stateCopy := make(map[string]stateEntry, len(c.state))
	for k, v := range c.state {
		stateCopy[k] = v
	}
	c.mu.Unlock()

	known := make(map[string]struct{})
	statuses := make([]Status, 0, len(c.registry.ordered))
	for _, info := range c.registry.all() {
		known[info.Filename] = struct{}{}
		status := Status{Info: info}
		if fi, err := os.Stat(c.Path(info.Filename)); err == nil && fi.Size() > 0 {
			status.Cached = true
			status.OnDiskBytes = fi.Size()
		}
		if entry, ok := stateCopy[info.Filename]; ok && status.Cached {
			status.SHA256 = entry.SHA256
			status.DownloadedAt = entry.DownloadedAt
		}
		statuses = append(statuses, status)
	}

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("scan model directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if name == stateFileName || strings.HasSuffix(name, partialSuffix) {
			continue
		}
		if !isModelFile(name) {
			continue
		}
		if _, ok := known[name]; ok {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		statuses = append(statuses, Status{
			Info:        Info{Filename: name},
			Cached:      true,
			OnDiskBytes: fi.Size(),
		})
	}

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Filename < statuses[j].Filename
	})
	return statuses, nil
}

// Remove deletes a cached model file and its recorded checksum.
func (c *Cache) Remove(filename string) error {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return errors.New("model filename required")
	}
	if err := os.Remove(c.Path(filename)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove model %s: %w", filename, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.state[filename]; ok {
		delete(c.state, filename)
		if err := c.saveStateLocked(); err != nil {
			return fmt.Errorf("persist model cache state: %w", err)
		}
	}
	return nil
}

// EvictPartials removes leftover partial downloads.
func (c *Cache) EvictPartials() (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	evicted := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), partialSuffix) {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, entry.Name())); err != nil {
			return evicted, err
		}
		evicted++
	}
	return evicted, nil
}

func (c *Cache) statePath() string {
	return filepath.Join(c.dir, stateFileName)
}

func (c *Cache) loadState() error {
	data, err := os.ReadFile(c.statePath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read state file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	var entries []stateEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse state file: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = make(map[string]stateEntry, len(entries))
	for _, entry := range entries {
		if strings.TrimSpace(entry.Filename) != "" {
			c.state[entry.Filename] = entry
		}
	}
	return nil
}

func (c *Cache) saveStateLocked() error {
	entries := make([]stateEntry, 0, len(c.state))
	for _, entry := range c.state {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Filename < entries[j].Filename
	})

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	tmpPath := c.statePath() + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := os.Rename(tmpPath, c.statePath()); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp state: %w", err)
	}
	return nil
}

func isModelFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".onnx", ".pth", ".ckpt", ".yaml", ".th":
		return true
	default:
		return false
	}
}
