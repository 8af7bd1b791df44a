package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"unmix/internal/config"
)

const userAgent = "unmix/0.1.0"

// Event identifies a notification-worthy workflow milestone.
type Event string

const (
	EventJobCompleted Event = "job_completed"
	EventJobFailed    Event = "job_failed"
	EventQueueStarted Event = "queue_started"
	EventQueueDrained Event = "queue_drained"
	EventError        Event = "error"
	EventTest         Event = "test"
)

// Payload carries event-specific fields for message formatting.
type Payload map[string]any

// Service defines the notification surface exposed to workflow components.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := cfg.NotificationTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		filters:  cfg.Notifications,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	filters  config.Notifications
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if !n.enabled(event) {
		return nil
	}
	data, err := formatEvent(event, payload)
	if err != nil {
		return err
	}
	return n.send(ctx, data)
}

// enabled applies the per-event config filters. Tests always go through so an
// operator can verify the topic regardless of filter settings.
func (n *ntfyService) enabled(event Event) bool {
	switch event {
	case EventJobCompleted:
		return n.filters.JobCompleted
	case EventJobFailed:
		return n.filters.JobFailed
	case EventQueueStarted, EventQueueDrained:
		return n.filters.QueueDrained
	case EventError:
		return n.filters.Errors
	default:
		return true
	}
}

func formatEvent(event Event, payload Payload) (message, error) {
	switch event {
	case EventJobCompleted:
		body := fmt.Sprintf("Job %s completed", payloadString(payload, "job"))
		if detail := payloadString(payload, "message"); detail != "" {
			body = fmt.Sprintf("%s: %s", body, detail)
		}
		return message{
			title: "Unmix - Job Complete",
			body:  body,
			tags:  []string{"unmix", "job", "completed"},
		}, nil
	case EventJobFailed:
		return message{
			title:    "Unmix - Job Failed",
			body:     fmt.Sprintf("Job %s failed: %s", payloadString(payload, "job"), payloadErrorText(payload)),
			tags:     []string{"unmix", "job", "failed"},
			priority: "high",
		}, nil
	case EventQueueStarted:
		return message{
			title: "Unmix - Queue Started",
			body:  fmt.Sprintf("Started processing queue with %d job(s)", payloadInt(payload, "count")),
			tags:  []string{"unmix", "queue", "started"},
		}, nil
	case EventQueueDrained:
		return formatQueueDrained(payload), nil
	case EventError:
		body := fmt.Sprintf("Error: %s", payloadErrorText(payload))
		if label := payloadString(payload, "context"); label != "" {
			body = fmt.Sprintf("Error with %s: %s", label, payloadErrorText(payload))
		}
		return message{
			title:    "Unmix - Error",
			body:     body,
			tags:     []string{"unmix", "error", "alert"},
			priority: "high",
		}, nil
	case EventTest:
		return message{
			title:    "Unmix - Test",
			body:     "Notification system test",
			tags:     []string{"unmix", "test"},
			priority: "low",
		}, nil
	default:
		return message{}, fmt.Errorf("unknown notification event %q", event)
	}
}

func formatQueueDrained(payload Payload) message {
	processed := payloadInt(payload, "processed")
	failed := payloadInt(payload, "failed")
	duration := payloadDuration(payload, "duration").Round(time.Second)
	if duration < 0 {
		duration = 0
	}
	durationText := duration.String()

	title := "Unmix - Queue Drained"
	body := fmt.Sprintf("Queue drained: %d job(s) completed in %s", processed, durationText)
	if failed > 0 {
		title = "Unmix - Queue Drained (with errors)"
		body = fmt.Sprintf("Queue drained: %d succeeded, %d failed in %s", processed, failed, durationText)
	}
	return message{
		title: title,
		body:  body,
		tags:  []string{"unmix", "queue", "drained"},
	}
}

func (n *ntfyService) send(ctx context.Context, data message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func payloadString(payload Payload, key string) string {
	if payload == nil {
		return ""
	}
	if value, ok := payload[key].(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func payloadInt(payload Payload, key string) int {
	if payload == nil {
		return 0
	}
	switch value := payload[key].(type) {
	case int:
		return value
	case int64:
		return int(value)
	case float64:
		return int(value)
	default:
		return 0
	}
}

func payloadDuration(payload Payload, key string) time.Duration {
	if payload == nil {
		return 0
	}
	if value, ok := payload[key].(time.Duration); ok {
		return value
	}
	return 0
}

func payloadErrorText(payload Payload) string {
	if payload == nil {
		return "unknown"
	}
	switch value := payload["error"].(type) {
	case error:
		if value != nil {
			return strings.TrimSpace(value.Error())
		}
	case string:
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return "unknown"
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
