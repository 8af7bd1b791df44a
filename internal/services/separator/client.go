package separator

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ProgressUpdate captures engine progress output.
type ProgressUpdate struct {
	Percent float64
	Message string
}

// Request describes a single separation pass.
type Request struct {
	InputPath    string
	Model        string
	OutputDir    string
	OutputFormat string
	// OutputNames optionally renames stems, keyed by stem label.
	OutputNames map[string]string
}

// Stem is one output file produced by a pass. Label is the stem name the
// engine embedded in the filename ("Vocals", "Instrumental", ...) and may be
// empty when the filename carries none.
type Stem struct {
	Label string
	Path  string
}

// Result collects the outputs of one pass in deterministic filename order.
type Result struct {
	Model string
	Stems []Stem
}

// Engine defines the behaviour required by the separation stage.
type Engine interface {
	Separate(ctx context.Context, req Request, progress func(ProgressUpdate)) (*Result, error)
}

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onLine func(string)) error
}

// Settings carries the engine invocation knobs from configuration.
type Settings struct {
	Binary                 string
	ModelDir               string
	NormalizationThreshold float64
	AmplificationThreshold float64
	UseAutocast            bool
	PassTimeout            time.Duration
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// Client wraps audio-separator CLI interactions.
type Client struct {
	settings Settings
	exec     Executor
}

// New constructs an engine client.
func New(settings Settings, opts ...Option) (*Client, error) {
	settings.Binary = strings.TrimSpace(settings.Binary)
	if settings.Binary == "" {
		return nil, errors.New("audio-separator binary required")
	}
	settings.ModelDir = strings.TrimSpace(settings.ModelDir)
	if settings.ModelDir == "" {
		return nil, errors.New("model directory required")
	}
	client := &Client{
		settings: settings,
		exec:     commandExecutor{},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Separate runs one engine pass and returns the stems it produced.
func (c *Client) Separate(ctx context.Context, req Request, progress func(ProgressUpdate)) (*Result, error) {
	if strings.TrimSpace(req.InputPath) == "" {
		return nil, errors.New("input path required")
	}
	if strings.TrimSpace(req.Model) == "" {
		return nil, errors.New("model filename required")
	}
	if strings.TrimSpace(req.OutputDir) == "" {
		return nil, errors.New("output directory required")
	}
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	before, err := snapshotDir(req.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("inspect output directory: %w", err)
	}

	runCtx := ctx
	if c.settings.PassTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.settings.PassTimeout)
		defer cancel()
	}

	args, err := c.buildArgs(req)
	if err != nil {
		return nil, err
	}

	watcher := &lineWatcher{}
	runErr := c.exec.Run(runCtx, c.settings.Binary, args, func(line string) {
		watcher.observe(line)
		if progress == nil {
			return
		}
		if update, ok := parseProgress(line); ok {
			progress(update)
		}
	})
	if runErr != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("separation pass exceeded %s: %w", c.settings.PassTimeout, context.DeadlineExceeded)
		}
		if errors.Is(runCtx.Err(), context.Canceled) {
			return nil, context.Canceled
		}
		if watcher.sawModelLoadFailure() {
			return nil, fmt.Errorf("%w: %s: %s", ErrModelLoad, req.Model, watcher.detail())
		}
		if detail := watcher.detail(); detail != "" {
			return nil, fmt.Errorf("audio-separator: %s: %w", detail, runErr)
		}
		return nil, fmt.Errorf("audio-separator: %w", runErr)
	}

	stems, err := discoverStems(req.OutputDir, before)
	if err != nil {
		return nil, fmt.Errorf("inspect separation outputs: %w", err)
	}
	if len(stems) == 0 {
		return nil, fmt.Errorf("audio-separator produced no output files for model %s", req.Model)
	}
	return &Result{Model: req.Model, Stems: stems}, nil
}

func (c *Client) buildArgs(req Request) ([]string, error) {
	args := []string{
		req.InputPath,
		"--model_filename", req.Model,
		"--model_file_dir", c.settings.ModelDir,
		"--output_dir", req.OutputDir,
	}
	if format := strings.TrimSpace(req.OutputFormat); format != "" {
		args = append(args, "--output_format", format)
	}
	args = append(args,
		"--normalization", strconv.FormatFloat(c.settings.NormalizationThreshold, 'f', -1, 64),
		"--amplification", strconv.FormatFloat(c.settings.AmplificationThreshold, 'f', -1, 64),
	)
	if c.settings.UseAutocast {
		args = append(args, "--use_autocast")
	}
	if len(req.OutputNames) > 0 {
		encoded, err := json.Marshal(req.OutputNames)
		if err != nil {
			return nil, fmt.Errorf("encode custom output names: %w", err)
		}
		args = append(args, "--custom_output_names", string(encoded))
	}
	return args, nil
}

func snapshotDir(dir string) (map[string]struct{}, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]struct{}{}, nil
		}
		return nil, err
	}
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		seen[entry.Name()] = struct{}{}
	}
	return seen, nil
}

// discoverStems lists files the run added to the output directory, ordered
// lexicographically by name so repeated runs yield stable indices.
func discoverStems(dir string, before map[string]struct{}) ([]Stem, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	stems := make([]Stem, 0, 2)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, existed := before[entry.Name()]; existed {
			continue
		}
		stems = append(stems, Stem{
			Label: extractStemLabel(entry.Name()),
			Path:  filepath.Join(dir, entry.Name()),
		})
	}
	sort.Slice(stems, func(i, j int) bool {
		return filepath.Base(stems[i].Path) < filepath.Base(stems[j].Path)
	})
	return stems, nil
}

var stemLabelPattern = regexp.MustCompile(`\(([^)]+)\)`)

// extractStemLabel pulls the stem name out of an engine output filename such
// as "input_(Vocals)_Kim_Vocal_1.wav". The engine puts the stem in the last
// parenthesized group.
func extractStemLabel(name string) string {
	matches := stemLabelPattern.FindAllStringSubmatch(name, -1)
	if len(matches) == 0 {
		return ""
	}
	return strings.TrimSpace(matches[len(matches)-1][1])
}

var percentPattern = regexp.MustCompile(`(\d{1,3}(?:\.\d+)?)%`)

// parseProgress extracts a completion percentage from an engine log line.
// The engine writes tqdm-style bars ("  45%|████  | ...") and INFO lines with
// embedded percentages; the last percent token on the line wins.
func parseProgress(line string) (ProgressUpdate, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return ProgressUpdate{}, false
	}
	matches := percentPattern.FindAllStringSubmatch(line, -1)
	if len(matches) == 0 {
		return ProgressUpdate{}, false
	}
	raw := matches[len(matches)-1][1]
	percent, err := strconv.ParseFloat(raw, 64)
	if err != nil || percent < 0 || percent > 100 {
		return ProgressUpdate{}, false
	}
	return ProgressUpdate{Percent: percent, Message: line}, true
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string, onLine func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	var wg sync.WaitGroup
	var scanErr error
	var once sync.Once

	scan := func(r io.Reader, forward func(string)) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Split(scanEngineLines)
		for scanner.Scan() {
			forward(scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			once.Do(func() {
				scanErr = err
			})
		}
	}

	forward := func(line string) {
		if onLine != nil {
			onLine(line)
			return
		}
		fmt.Fprintln(os.Stderr, line)
	}

	wg.Add(2)
	go scan(stdout, forward)
	go scan(stderr, forward)

	wg.Wait()
	if scanErr != nil {
		_ = cmd.Process.Kill()
		return fmt.Errorf("scan output: %w", scanErr)
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("wait command: %w", err)
	}
	return nil
}

// scanEngineLines splits on \n and bare \r so tqdm progress bars, which
// redraw with carriage returns, surface as individual lines.
func scanEngineLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		advance = i + 1
		if data[i] == '\r' && advance < len(data) && data[advance] == '\n' {
			advance++
		}
		return advance, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
