package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/fsnotify/fsnotify"

	"unmix/internal/api"
	"unmix/internal/config"
	"unmix/internal/logging"
	"unmix/internal/queue"
)

// watchSettleWindow is how long a dropped file must stop growing before it
// is considered fully written and gets enqueued.
const watchSettleWindow = 2 * time.Second

var watchedAudioExtensions = map[string]struct{}{
	".wav":  {},
	".mp3":  {},
	".flac": {},
	".m4a":  {},
	".ogg":  {},
	".opus": {},
	".aiff": {},
	".aif":  {},
}

type pendingFile struct {
	lastEvent time.Time
	lastSize  int64
}

// watchMonitor ingests audio files dropped into the configured watch
// directory. Each settled file becomes a default separation job whose input
// references the source through a file:// URL, riding the same intake path
// as API submissions.
type watchMonitor struct {
	cfg    *config.Config
	store  *queue.Store
	logger *slog.Logger

	watcher *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]pendingFile
	running bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newWatchMonitor(cfg *config.Config, store *queue.Store, logger *slog.Logger) *watchMonitor {
	if cfg == nil || store == nil {
		return nil
	}
	if strings.TrimSpace(cfg.Paths.WatchDir) == "" {
		return nil
	}
	return &watchMonitor{
		cfg:     cfg,
		store:   store,
		logger:  logging.NewComponentLogger(logger, "watch-monitor"),
		pending: make(map[string]pendingFile),
	}
}

func (m *watchMonitor) start(ctx context.Context) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("watch monitor already running")
	}
	m.mu.Unlock()

	dir := m.cfg.Paths.WatchDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create watch dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %q: %w", dir, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.watcher = watcher
	m.cancel = cancel
	m.running = true
	m.mu.Unlock()

	// Files already sitting in the directory are picked up on start so a
	// daemon restart does not strand earlier drops.
	m.scanExisting(dir)

	m.wg.Add(1)
	go m.run(runCtx)

	m.logger.Info("watching for audio drops", logging.String("dir", dir))
	return nil
}

func (m *watchMonitor) stop() {
	if m == nil {
		return
	}
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	watcher := m.watcher
	m.running = false
	m.cancel = nil
	m.watcher = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if watcher != nil {
		_ = watcher.Close()
	}
	m.wg.Wait()
}

func (m *watchMonitor) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			m.noteEvent(event.Name)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("watch error", logging.Error(err))
		case <-ticker.C:
			m.flushSettled(ctx)
		}
	}
}

func (m *watchMonitor) scanExisting(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		m.logger.Warn("initial watch scan failed", logging.Error(err))
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m.noteEvent(filepath.Join(dir, entry.Name()))
	}
}

func (m *watchMonitor) noteEvent(path string) {
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := watchedAudioExtensions[ext]; !ok {
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	m.mu.Lock()
	m.pending[path] = pendingFile{lastEvent: time.Now(), lastSize: info.Size()}
	m.mu.Unlock()
}

// flushSettled enqueues pending files that stopped growing. A file whose
// size changed since the last tick resets its settle clock.
func (m *watchMonitor) flushSettled(ctx context.Context) {
	now := time.Now()

	m.mu.Lock()
	ready := make([]string, 0, len(m.pending))
	for path, state := range m.pending {
		info, err := os.Stat(path)
		if err != nil {
			delete(m.pending, path)
			continue
		}
		if info.Size() != state.lastSize {
			m.pending[path] = pendingFile{lastEvent: now, lastSize: info.Size()}
			continue
		}
		if now.Sub(state.lastEvent) >= watchSettleWindow {
			ready = append(ready, path)
			delete(m.pending, path)
		}
	}
	m.mu.Unlock()

	for _, path := range ready {
		if err := m.enqueue(ctx, path); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			m.logger.Error("failed to enqueue watched file",
				logging.String("path", path),
				logging.Error(err),
			)
		}
	}
}

func (m *watchMonitor) enqueue(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat watched file: %w", err)
	}

	fingerprint := fmt.Sprintf("%s|%d|%d", path, info.Size(), info.ModTime().UnixNano())
	if existing, err := m.store.FindBySourceFingerprint(ctx, fingerprint); err != nil {
		return fmt.Errorf("fingerprint lookup: %w", err)
	} else if existing != nil {
		m.logger.Debug("watched file already queued",
			logging.String("path", path),
			logging.Int64(logging.FieldJobID, existing.ID),
		)
		return nil
	}

	input := api.JobInput{
		Type:     string(queue.JobTypeSeparate),
		AudioURL: "file://" + path,
	}
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("encode watch input: %w", err)
	}

	job, err := m.store.NewJob(ctx, queue.NewJobParams{
		JobType:           queue.JobTypeSeparate,
		Source:            queue.SourceWatch,
		InputJSON:         string(inputJSON),
		SourceFingerprint: fingerprint,
	})
	if err != nil {
		return fmt.Errorf("enqueue watched file: %w", err)
	}

	m.logger.Info("watched file queued",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String(logging.FieldJobUUID, job.UUID),
		logging.String("path", path),
	)
	return nil
}
