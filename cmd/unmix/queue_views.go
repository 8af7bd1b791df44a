package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"unmix/internal/api"
)

var titleCaser = cases.Title(language.English)

func buildQueueStatusRows(stats map[string]int) [][]string {
	if len(stats) == 0 {
		return nil
	}
	keys := make([]string, 0, len(stats))
	for key := range stats {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, []string{formatStatusLabel(key), fmt.Sprintf("%d", stats[key])})
	}
	return rows
}

func buildQueueListRows(jobs []api.QueueJob) [][]string {
	if len(jobs) == 0 {
		return nil
	}
	sorted := api.SortQueueJobsNewestFirst(jobs)

	rows := make([][]string, 0, len(sorted))
	for _, job := range sorted {
		rows = append(rows, []string{
			fmt.Sprintf("%d", job.ID),
			shortUUID(job.UUID),
			formatStatusLabel(job.JobType),
			formatStatusLabel(job.Status),
			job.Source,
			formatDisplayTime(job.CreatedAt),
		})
	}
	return rows
}

func formatStatusLabel(status string) string {
	status = strings.TrimSpace(status)
	if status == "" {
		return ""
	}
	return titleCaser.String(strings.ReplaceAll(status, "_", " "))
}

func formatDisplayTime(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if t := api.ParseQueueTime(value); !t.IsZero() {
		return t.UTC().Format("2006-01-02 15:04")
	}
	return value
}

func shortUUID(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	if len(value) > 8 {
		return value[:8]
	}
	return value
}

func renderJobDetail(out io.Writer, job *api.QueueJob) {
	write := func(label, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		fmt.Fprintf(out, "%-14s %s\n", label+":", value)
	}

	write("ID", fmt.Sprintf("%d", job.ID))
	write("UUID", job.UUID)
	write("Type", formatStatusLabel(job.JobType))
	write("Status", formatStatusLabel(job.Status))
	write("Wire status", job.WireStatus)
	write("Lane", job.ProcessingLane)
	write("Source", job.Source)
	if job.Progress.Stage != "" || job.Progress.Percent > 0 {
		detail := fmt.Sprintf("%s %.0f%%", formatStatusLabel(job.Progress.Stage), job.Progress.Percent)
		if msg := strings.TrimSpace(job.Progress.Message); msg != "" {
			detail += " (" + msg + ")"
		}
		write("Progress", detail)
	}
	write("Created", formatDisplayTime(job.CreatedAt))
	write("Updated", formatDisplayTime(job.UpdatedAt))
	write("Started", formatDisplayTime(job.StartedAt))
	write("Finished", formatDisplayTime(job.FinishedAt))
	write("Staged file", job.StagedFile)
	if job.DelayMillis > 0 {
		write("Queue delay", (time.Duration(job.DelayMillis) * time.Millisecond).String())
	}
	if job.ExecutionMillis > 0 {
		write("Execution", (time.Duration(job.ExecutionMillis) * time.Millisecond).String())
	}
	if job.CancelRequested {
		write("Cancel", "requested")
	}
	if job.ErrorMessage != "" {
		detail := job.ErrorMessage
		if job.ErrorClass != "" {
			detail = fmt.Sprintf("[%s] %s", job.ErrorClass, detail)
		}
		write("Error", detail)
	}
	if len(job.Result) > 0 {
		write("Result", "available (use --json to inspect)")
	}
}

func stemDisplayName(stem string) string {
	stem = strings.TrimSpace(stem)
	if stem == "" {
		return ""
	}
	return titleCaser.String(strings.ReplaceAll(stem, "_", " "))
}
