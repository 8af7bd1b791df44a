package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/hashicorp/go-retryablehttp"

	"unmix/internal/logging"
)

// WebhookSender POSTs per-job status envelopes to the callback URL supplied
// with the job. Transient failures retry with backoff; the envelope type is
// opaque to this package.
type WebhookSender struct {
	client *retryablehttp.Client
	logger *slog.Logger
}

// NewWebhookSender builds a sender with a retrying HTTP client.
func NewWebhookSender(logger *slog.Logger) *WebhookSender {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.HTTPClient.Timeout = 15 * time.Second
	client.Logger = nil
	return &WebhookSender{
		client: client,
		logger: logging.NewComponentLogger(logger, "webhook"),
	}
}

// Send delivers the envelope as JSON. A nil sender or blank URL is a no-op.
func (w *WebhookSender) Send(ctx context.Context, url string, envelope any) error {
	if w == nil || w.client == nil {
		return nil
	}
	url = strings.TrimSpace(url)
	if url == "" {
		return nil
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	w.logger.Debug("webhook delivered", logging.String("url", url))
	return nil
}
