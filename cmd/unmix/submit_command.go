package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"unmix/internal/api"
	"unmix/internal/fileutil"
	"unmix/internal/queue"
)

const waitPollInterval = 2 * time.Second

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var (
		jobType      string
		model        string
		outputFormat string
		returnType   string
		webhook      string
		customNames  []string
		sync         bool
		wait         bool
		saveDir      string
		asJSON       bool
	)

	cmd := &cobra.Command{
		Use:   "submit <file-or-url>",
		Short: "Submit an audio file or URL for stem separation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := newJobAPIClient(cfg)
			if err != nil {
				return err
			}

			input, err := buildJobInput(args[0], jobType, model, outputFormat, returnType, customNames)
			if err != nil {
				return err
			}
			req := api.RunRequest{Input: input, Webhook: strings.TrimSpace(webhook)}

			out := cmd.OutOrStdout()
			var status api.JobStatus
			if sync {
				status, err = client.RunSync(cmd.Context(), req, cfg.SyncWait())
			} else {
				status, err = client.Run(cmd.Context(), req)
			}
			if err != nil {
				return err
			}

			if !asJSON {
				fmt.Fprintf(out, "Job %s submitted (%s)\n", status.ID, status.Status)
			}

			if wait && !isTerminalWireStatus(status.Status) {
				status, err = waitForJob(cmd.Context(), client, status.ID, out, asJSON)
				if err != nil {
					return err
				}
			}

			if asJSON {
				return writeJSON(out, status)
			}
			if isTerminalWireStatus(status.Status) {
				renderJobOutcome(out, status)
				if saveDir != "" && status.Status == api.WireStatusCompleted {
					return saveJobOutputs(cmd.Context(), out, status, saveDir)
				}
			} else if wait || sync {
				fmt.Fprintf(out, "Job still %s; poll with `unmix job status %s`\n", status.Status, status.ID)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&jobType, "type", "t", "", "Job type: separate or advanced_separate (default separate)")
	cmd.Flags().StringVarP(&model, "model", "m", "", "Separation model filename (daemon default when empty)")
	cmd.Flags().StringVar(&outputFormat, "output-format", "", "Output audio format (wav, flac, mp3)")
	cmd.Flags().StringVar(&returnType, "return-type", "", "How outputs come back: url or base64")
	cmd.Flags().StringVar(&webhook, "webhook", "", "URL to notify when the job reaches a terminal state")
	cmd.Flags().StringSliceVar(&customNames, "name", nil, "Custom output name as stem=name (repeatable)")
	cmd.Flags().BoolVar(&sync, "sync", false, "Submit via /runsync and wait for the in-band result")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Poll until the job reaches a terminal state")
	cmd.Flags().StringVar(&saveDir, "save-dir", "", "Directory to save separated stems into")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the final status envelope as JSON")
	return cmd
}

func buildJobInput(source, jobType, model, outputFormat, returnType string, customNames []string) (api.JobInput, error) {
	input := api.JobInput{
		ModelFilename: strings.TrimSpace(model),
		OutputFormat:  strings.TrimSpace(outputFormat),
		ReturnType:    strings.TrimSpace(returnType),
	}

	if trimmed := strings.TrimSpace(jobType); trimmed != "" {
		parsed, ok := queue.ParseJobType(trimmed)
		if !ok || parsed == queue.JobTypeListModels {
			return api.JobInput{}, fmt.Errorf("invalid job type %q (want separate or advanced_separate)", trimmed)
		}
		input.Type = string(parsed)
	}

	switch rt := input.ReturnType; rt {
	case "", api.ReturnTypeURL, api.ReturnTypeBase64:
	default:
		return api.JobInput{}, fmt.Errorf("invalid return type %q (want url or base64)", rt)
	}

	if len(customNames) > 0 {
		names := make(map[string]string, len(customNames))
		for _, pair := range customNames {
			stem, name, ok := strings.Cut(pair, "=")
			if !ok || strings.TrimSpace(stem) == "" || strings.TrimSpace(name) == "" {
				return api.JobInput{}, fmt.Errorf("invalid --name %q (want stem=name)", pair)
			}
			names[strings.TrimSpace(stem)] = strings.TrimSpace(name)
		}
		input.CustomOutputNames = names
	}

	source = strings.TrimSpace(source)
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		input.AudioURL = source
		return input, nil
	}

	data, err := os.ReadFile(source)
	if err != nil {
		return api.JobInput{}, fmt.Errorf("read audio file: %w", err)
	}
	input.AudioData = base64.StdEncoding.EncodeToString(data)
	return input, nil
}

func waitForJob(ctx context.Context, client *jobAPIClient, uuid string, out io.Writer, quiet bool) (api.JobStatus, error) {
	var bar *progressbar.ProgressBar
	if !quiet {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetWriter(out),
			progressbar.OptionSetDescription("separating"),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionClearOnFinish(),
		)
	}

	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return api.JobStatus{}, ctx.Err()
		case <-ticker.C:
			status, err := client.Status(ctx, uuid)
			if err != nil {
				return api.JobStatus{}, err
			}
			if bar != nil {
				_ = bar.Add(1)
			}
			if isTerminalWireStatus(status.Status) {
				if bar != nil {
					_ = bar.Finish()
					fmt.Fprintln(out)
				}
				return status, nil
			}
		}
	}
}

func isTerminalWireStatus(status string) bool {
	switch status {
	case api.WireStatusCompleted, api.WireStatusFailed, api.WireStatusCancelled, api.WireStatusTimedOut:
		return true
	}
	return false
}

func renderJobOutcome(out io.Writer, status api.JobStatus) {
	switch status.Status {
	case api.WireStatusCompleted:
		fmt.Fprintf(out, "Job %s completed in %s\n", status.ID, (time.Duration(status.ExecutionTime) * time.Millisecond).String())
	case api.WireStatusFailed:
		detail := strings.TrimSpace(status.Error)
		if detail == "" {
			detail = "no error detail"
		}
		fmt.Fprintf(out, "Job %s failed: %s\n", status.ID, detail)
		return
	default:
		fmt.Fprintf(out, "Job %s %s\n", status.ID, strings.ToLower(status.Status))
		return
	}

	result, ok := decodeSeparationResult(status.Output)
	if !ok {
		return
	}
	if result.ModelUsed != "" {
		fmt.Fprintf(out, "Model: %s\n", result.ModelUsed)
	}
	for _, stem := range sortedKeys(result.OutputURLs) {
		fmt.Fprintf(out, "  %s: %s\n", stemDisplayName(stem), result.OutputURLs[stem])
	}
	for _, stem := range sortedKeys(result.OutputFiles) {
		size := base64.StdEncoding.DecodedLen(len(result.OutputFiles[stem]))
		fmt.Fprintf(out, "  %s: %s (base64)\n", stemDisplayName(stem), humanize.Bytes(uint64(size)))
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func decodeSeparationResult(raw json.RawMessage) (api.SeparationResult, bool) {
	if len(raw) == 0 {
		return api.SeparationResult{}, false
	}
	var result api.SeparationResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return api.SeparationResult{}, false
	}
	return result, true
}

func saveJobOutputs(ctx context.Context, out io.Writer, status api.JobStatus, dir string) error {
	result, ok := decodeSeparationResult(status.Output)
	if !ok {
		return errors.New("job completed without a separation result payload")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create save directory: %w", err)
	}

	for _, stem := range sortedKeys(result.OutputFiles) {
		data, err := base64.StdEncoding.DecodeString(result.OutputFiles[stem])
		if err != nil {
			return fmt.Errorf("decode %s output: %w", stem, err)
		}
		dest := filepath.Join(dir, filepath.Base(stem))
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", dest, err)
		}
		fmt.Fprintf(out, "Saved %s (%s)\n", dest, humanize.Bytes(uint64(len(data))))
	}

	httpClient := &http.Client{Timeout: 5 * time.Minute}
	for _, stem := range sortedKeys(result.OutputURLs) {
		rawURL := result.OutputURLs[stem]
		if strings.HasPrefix(rawURL, "file://") {
			src := strings.TrimPrefix(rawURL, "file://")
			dest := filepath.Join(dir, filepath.Base(src))
			if err := fileutil.CopyFile(src, dest); err != nil {
				return fmt.Errorf("copy %s output: %w", stem, err)
			}
			fmt.Fprintf(out, "Saved %s\n", dest)
			continue
		}
		dest := filepath.Join(dir, filepath.Base(strings.SplitN(rawURL, "?", 2)[0]))
		size, err := downloadToFile(ctx, httpClient, rawURL, dest)
		if err != nil {
			return fmt.Errorf("download %s output: %w", stem, err)
		}
		fmt.Fprintf(out, "Saved %s (%s)\n", dest, humanize.Bytes(uint64(size)))
	}
	return nil
}

func downloadToFile(ctx context.Context, client *http.Client, rawURL, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return 0, fmt.Errorf("download returned status %d", resp.StatusCode)
	}
	file, err := os.Create(dest)
	if err != nil {
		return 0, err
	}
	size, err := io.Copy(file, resp.Body)
	if err != nil {
		file.Close()
		return 0, err
	}
	return size, file.Close()
}
