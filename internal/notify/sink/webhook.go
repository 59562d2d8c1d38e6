package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"component-deployer/internal/config"
	"component-deployer/internal/notify"
)

func init() {
	notify.RegisterSink("webhook", func(cfg config.SinkConfig) (notify.Sink, error) {
		if cfg.URL == "" {
			return nil, fmt.Errorf("webhook sink requires url")
		}
		contentType := "application/json"
		if cfg.Format == "" || cfg.Format == notify.FormatMsgpack {
			contentType = "application/msgpack"
		}
		return NewWebhookSink(cfg.URL, ResolveHeaders(cfg.Headers), contentType), nil
	})
}

var webhookHTTPClient = &http.Client{Timeout: 30 * time.Second}

// WebhookSink POSTs each summary to an HTTP endpoint.
type WebhookSink struct {
	url         string
	headers     map[string]string
	contentType string
	client      *http.Client
}

func NewWebhookSink(url string, headers map[string]string, contentType string) *WebhookSink {
	return &WebhookSink{url: url, headers: headers, contentType: contentType, client: webhookHTTPClient}
}

// Publish sends the summary with the topic and key as headers. Any non-2xx
// response is an error.
func (w *WebhookSink) Publish(ctx context.Context, topic, key string, value []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(value))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", w.contentType)
	req.Header.Set("X-Deployer-Topic", topic)
	req.Header.Set("X-Deployer-Key", key)
	req.Header.Set("Idempotency-Key", idempotencyKey(ctx))
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("http call: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024)) // max 64KB
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func (w *WebhookSink) Close() error { return nil }

// idempotencyKey is stable across redeliveries of one message.
func idempotencyKey(ctx context.Context) string {
	if id, ok := notify.MessageID(ctx); ok {
		return "wh_" + id
	}
	return "wh_" + uuid.New().String()
}

// ResolveHeaders replaces {{env.VAR_NAME}} in header values with os env values.
func ResolveHeaders(headers map[string]string) map[string]string {
	resolved := make(map[string]string, len(headers))
	for k, v := range headers {
		resolved[k] = resolveEnvVars(v)
	}
	return resolved
}

func resolveEnvVars(s string) string {
	for {
		start := strings.Index(s, "{{env.")
		if start == -1 {
			return s
		}
		end := strings.Index(s[start:], "}}")
		if end == -1 {
			return s
		}
		end += start
		s = s[:start] + os.Getenv(s[start+6:end]) + s[end+2:]
	}
}
