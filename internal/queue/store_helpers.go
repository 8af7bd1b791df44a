package queue

import (
	"database/sql"
	"errors"
	"time"
)

const jobColumns = "id, uuid, job_type, source, status, input_json, webhook_url, source_fingerprint, staged_file, manifest_json, result_json, error_message, error_class, progress_stage, progress_percent, progress_message, created_at, updated_at, started_at, finished_at, last_heartbeat, cancel_requested"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id               int64
		jobUUID          string
		jobType          sql.NullString
		source           sql.NullString
		statusStr        string
		inputJSON        sql.NullString
		webhookURL       sql.NullString
		fingerprint      sql.NullString
		stagedFile       sql.NullString
		manifestJSON     sql.NullString
		resultJSON       sql.NullString
		errorMessage     sql.NullString
		errorClass       sql.NullString
		progressStage    sql.NullString
		progressPercent  sql.NullFloat64
		progressMessage  sql.NullString
		createdRaw       sql.NullString
		updatedRaw       sql.NullString
		startedRaw       sql.NullString
		finishedRaw      sql.NullString
		lastHeartbeatRaw sql.NullString
		cancelRequested  sql.NullInt64
	)

	if err := scanner.Scan(
		&id,
		&jobUUID,
		&jobType,
		&source,
		&statusStr,
		&inputJSON,
		&webhookURL,
		&fingerprint,
		&stagedFile,
		&manifestJSON,
		&resultJSON,
		&errorMessage,
		&errorClass,
		&progressStage,
		&progressPercent,
		&progressMessage,
		&createdRaw,
		&updatedRaw,
		&startedRaw,
		&finishedRaw,
		&lastHeartbeatRaw,
		&cancelRequested,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:                id,
		UUID:              jobUUID,
		JobType:           jobType.String,
		Source:            Source(source.String),
		Status:            Status(statusStr),
		InputJSON:         inputJSON.String,
		WebhookURL:        webhookURL.String,
		SourceFingerprint: fingerprint.String,
		StagedFile:        stagedFile.String,
		ManifestJSON:      manifestJSON.String,
		ResultJSON:        resultJSON.String,
		ErrorMessage:      errorMessage.String,
		ErrorClass:        errorClass.String,
		ProgressStage:     progressStage.String,
		ProgressPercent:   progressPercent.Float64,
		ProgressMessage:   progressMessage.String,
	}
	if cancelRequested.Valid {
		job.CancelRequested = cancelRequested.Int64 != 0
	}

	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	if startedRaw.Valid {
		if started, err := parseTimeString(startedRaw.String); err == nil {
			job.StartedAt = &started
		}
	}
	if finishedRaw.Valid {
		if finished, err := parseTimeString(finishedRaw.String); err == nil {
			job.FinishedAt = &finished
		}
	}
	if lastHeartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(lastHeartbeatRaw.String); err == nil {
			job.LastHeartbeat = &heartbeat
		}
	}
	return job, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	v := value.UTC().Format(time.RFC3339Nano)
	return v
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
