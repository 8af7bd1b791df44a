package separator

import (
	"errors"
	"strings"
	"sync"
)

// ErrModelLoad marks engine failures that happened while loading model
// weights, before any audio was processed. The advanced pipeline falls back
// to an alternate vocals model on this error.
var ErrModelLoad = errors.New("model load failed")

// modelLoadMarkers are matched case-insensitively against engine output.
// The engine raises out of load_model before separation starts, so these
// only appear ahead of any progress output.
var modelLoadMarkers = []string{
	"error loading model",
	"failed to load model",
	"unable to load model",
	"model file not found",
	"error downloading model",
}

var errorMarkers = []string{
	"error",
	"traceback",
	"exception",
}

// lineWatcher tracks failure evidence in engine output so exit errors can be
// attributed to a cause. Observe is called from both the stdout and stderr
// scan goroutines.
type lineWatcher struct {
	mu              sync.Mutex
	modelLoadFailed bool
	firstError      string
}

func (w *lineWatcher) observe(line string) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	lowered := strings.ToLower(trimmed)
	for _, marker := range modelLoadMarkers {
		if strings.Contains(lowered, marker) {
			w.modelLoadFailed = true
			if w.firstError == "" {
				w.firstError = trimmed
			}
			return
		}
	}
	if w.firstError != "" {
		return
	}
	for _, marker := range errorMarkers {
		if strings.Contains(lowered, marker) {
			w.firstError = trimmed
			return
		}
	}
}

func (w *lineWatcher) sawModelLoadFailure() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.modelLoadFailed
}

func (w *lineWatcher) detail() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.firstError
}
