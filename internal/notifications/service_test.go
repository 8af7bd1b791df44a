package notifications_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"unmix/internal/notifications"
	"unmix/internal/testsupport"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(cfg)
	if err := svc.Publish(context.Background(), notifications.EventJobCompleted, notifications.Payload{"job": "abc123"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:  "job completed",
			event: notifications.EventJobCompleted,
			payload: notifications.Payload{
				"job":     "9f3b21c4",
				"message": "Delivered 2 stem(s)",
			},
			expectTitle:   "Unmix - Job Complete",
			expectMessage: "Job 9f3b21c4 completed: Delivered 2 stem(s)",
			expectTags:    "unmix,job,completed",
		},
		{
			name:  "job failed",
			event: notifications.EventJobFailed,
			payload: notifications.Payload{
				"job":   "9f3b21c4",
				"error": errors.New("engine output failed validation"),
			},
			expectTitle:    "Unmix - Job Failed",
			expectMessage:  "Job 9f3b21c4 failed: engine output failed validation",
			expectTags:     "unmix,job,failed",
			expectPriority: "high",
		},
		{
			name:          "queue started",
			event:         notifications.EventQueueStarted,
			payload:       notifications.Payload{"count": 3},
			expectTitle:   "Unmix - Queue Started",
			expectMessage: "Started processing queue with 3 job(s)",
			expectTags:    "unmix,queue,started",
		},
		{
			name:  "queue drained",
			event: notifications.EventQueueDrained,
			payload: notifications.Payload{
				"processed": 4,
				"failed":    0,
				"duration":  90 * time.Second,
			},
			expectTitle:   "Unmix - Queue Drained",
			expectMessage: "Queue drained: 4 job(s) completed in 1m30s",
			expectTags:    "unmix,queue,drained",
		},
		{
			name:  "queue drained with failures",
			event: notifications.EventQueueDrained,
			payload: notifications.Payload{
				"processed": 2,
				"failed":    1,
				"duration":  30 * time.Second,
			},
			expectTitle:   "Unmix - Queue Drained (with errors)",
			expectMessage: "Queue drained: 2 succeeded, 1 failed in 30s",
			expectTags:    "unmix,queue,drained",
		},
		{
			name:  "error",
			event: notifications.EventError,
			payload: notifications.Payload{
				"context": "watch ingest",
				"error":   "permission denied",
			},
			expectTitle:    "Unmix - Error",
			expectMessage:  "Error with watch ingest: permission denied",
			expectTags:     "unmix,error,alert",
			expectPriority: "high",
		},
		{
			name:           "test",
			event:          notifications.EventTest,
			payload:        nil,
			expectTitle:    "Unmix - Test",
			expectMessage:  "Notification system test",
			expectTags:     "unmix,test",
			expectPriority: "low",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title    string
				tags     string
				priority string
				body     string
			}

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("unexpected method: %s", r.Method)
				}
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				body, err := io.ReadAll(r.Body)
				if err != nil {
					t.Errorf("read body: %v", err)
				}
				captured.body = string(body)
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := testsupport.NewConfig(t)
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeout = 5

			svc := notifications.NewService(cfg)
			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			if captured.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, captured.title)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, captured.body)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, captured.tags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, captured.priority)
			}
		})
	}
}

func TestNtfyServiceHonorsEventFilters(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected call for filtered event: %s", r.URL.String())
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.JobCompleted = false
	cfg.Notifications.JobFailed = false
	cfg.Notifications.QueueDrained = false
	cfg.Notifications.Errors = false

	svc := notifications.NewService(cfg)
	filtered := []notifications.Event{
		notifications.EventJobCompleted,
		notifications.EventJobFailed,
		notifications.EventQueueStarted,
		notifications.EventQueueDrained,
		notifications.EventError,
	}
	for _, event := range filtered {
		if err := svc.Publish(context.Background(), event, notifications.Payload{"value": "ignored"}); err != nil {
			t.Fatalf("expected no error for filtered event %s, got %v", event, err)
		}
	}
}

func TestNtfyServiceRejectsUnknownEvent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = "http://127.0.0.1:0"

	svc := notifications.NewService(cfg)
	if err := svc.Publish(context.Background(), notifications.Event("bogus"), nil); err == nil {
		t.Fatal("expected error for unknown event")
	}
}

func TestNtfyServiceSurfacesHTTPFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic not found", http.StatusNotFound)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = server.URL

	svc := notifications.NewService(cfg)
	err := svc.Publish(context.Background(), notifications.EventTest, nil)
	if err == nil {
		t.Fatal("expected error from non-2xx response")
	}
}

func TestWebhookSenderPostsEnvelope(t *testing.T) {
	type envelope struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}

	var got envelope
	var contentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode webhook body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := notifications.NewWebhookSender(nil)
	err := sender.Send(context.Background(), server.URL, envelope{ID: "abc", Status: "COMPLETED"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if contentType != "application/json" {
		t.Fatalf("content type = %q", contentType)
	}
	if got.ID != "abc" || got.Status != "COMPLETED" {
		t.Fatalf("server received %+v", got)
	}
}

func TestWebhookSenderSkipsBlankURL(t *testing.T) {
	sender := notifications.NewWebhookSender(nil)
	if err := sender.Send(context.Background(), "   ", map[string]string{"id": "x"}); err != nil {
		t.Fatalf("blank URL should be a no-op, got %v", err)
	}
}

func TestWebhookSenderReportsServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer server.Close()

	sender := notifications.NewWebhookSender(nil)
	if err := sender.Send(context.Background(), server.URL, map[string]string{"id": "x"}); err == nil {
		t.Fatal("expected error from 4xx response")
	}
}
