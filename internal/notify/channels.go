package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"os"
	"strings"
	"time"

	"migration-guard/internal/config"
)

// severityColor maps a severity to the accent color used by rich channels
func severityColor(severity string) string {
	switch severity {
	case SeverityCritical:
		return "#ff0000"
	case SeverityError:
		return "#ff5500"
	case SeverityWarning:
		return "#ff9900"
	default:
		return "#36a64f"
	}
}

func severityIcon(severity string) string {
	switch severity {
	case SeverityCritical:
		return "🚨"
	case SeverityError:
		return "❌"
	case SeverityWarning:
		return "⚠️"
	default:
		return "ℹ️"
	}
}

// EmailChannel delivers notifications over SMTP
type EmailChannel struct {
	cfg config.EmailConfig
}

func NewEmailChannel(cfg config.EmailConfig) *EmailChannel {
	return &EmailChannel{cfg: cfg}
}

func (c *EmailChannel) Type() string { return "email" }

func (c *EmailChannel) Enabled() bool {
	return c.cfg.SMTPHost != "" && len(c.cfg.To) > 0
}

func (c *EmailChannel) Send(_ context.Context, n Notification) error {
	subject := fmt.Sprintf("[%s] %s %s on %s", strings.ToUpper(n.Severity), severityIcon(n.Severity), n.Type, n.System)
	body := fmt.Sprintf("Event: %s\nSeverity: %s\nSystem: %s\nEnvironment: %s\nTime: %s\n\n%s\n",
		n.Type, n.Severity, n.System, n.Environment, n.Timestamp.Format(time.RFC3339), n.Message)

	msg := fmt.Sprintf("To: %s\r\nFrom: %s\r\nSubject: %s\r\n\r\n%s",
		strings.Join(c.cfg.To, ", "), c.cfg.From, subject, body)

	addr := fmt.Sprintf("%s:%d", c.cfg.SMTPHost, c.cfg.SMTPPort)
	var auth smtp.Auth
	if c.cfg.Username != "" {
		auth = smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.SMTPHost)
	}
	if err := smtp.SendMail(addr, auth, c.cfg.From, c.cfg.To, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// WebhookChannel POSTs the notification payload as JSON to a configured URL
type WebhookChannel struct {
	cfg    config.WebhookConfig
	client *http.Client
}

func NewWebhookChannel(cfg config.WebhookConfig) *WebhookChannel {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookChannel{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

func (c *WebhookChannel) Type() string { return "webhook" }

func (c *WebhookChannel) Enabled() bool { return c.cfg.URL != "" }

func (c *WebhookChannel) Send(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// SlackChannel delivers notifications to a Slack incoming webhook
type SlackChannel struct {
	cfg    config.SlackConfig
	client *http.Client
}

func NewSlackChannel(cfg config.SlackConfig) *SlackChannel {
	return &SlackChannel{cfg: cfg, client: &http.Client{Timeout: 10 * time.Second}}
}

func (c *SlackChannel) Type() string { return "slack" }

func (c *SlackChannel) Enabled() bool { return c.cfg.WebhookURL != "" }

func (c *SlackChannel) Send(ctx context.Context, n Notification) error {
	payload := map[string]interface{}{
		"text": fmt.Sprintf("%s %s", severityIcon(n.Severity), n.Type),
		"attachments": []map[string]interface{}{
			{
				"color": severityColor(n.Severity),
				"text":  n.Message,
				"fields": []map[string]interface{}{
					{"title": "Severity", "value": n.Severity, "short": true},
					{"title": "System", "value": n.System, "short": true},
					{"title": "Environment", "value": n.Environment, "short": true},
					{"title": "Time", "value": n.Timestamp.Format(time.RFC3339), "short": true},
				},
			},
		},
	}
	if c.cfg.Channel != "" {
		payload["channel"] = c.cfg.Channel
	}
	if c.cfg.Username != "" {
		payload["username"] = c.cfg.Username
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post slack webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	return nil
}

// FileChannel appends each notification as one JSON line to a local file.
// Useful for air-gapped environments where outbound transports are blocked.
type FileChannel struct {
	cfg config.FileSinkConfig
}

func NewFileChannel(cfg config.FileSinkConfig) *FileChannel {
	return &FileChannel{cfg: cfg}
}

func (c *FileChannel) Type() string { return "file" }

func (c *FileChannel) Enabled() bool { return c.cfg.Path != "" }

func (c *FileChannel) Send(_ context.Context, n Notification) error {
	line, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	f, err := os.OpenFile(c.cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open notification log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write notification log: %w", err)
	}
	return nil
}
