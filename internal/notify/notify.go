package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"migration-guard/internal/config"
	"migration-guard/internal/logging"
)

// Severity levels in escalation order.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Notification is the structured payload handed to every channel. Delivery
// semantics belong to the receiving system; this engine only produces the
// payload.
type Notification struct {
	Type        string    `json:"type"`
	Message     string    `json:"message"`
	Severity    string    `json:"severity"`
	Timestamp   time.Time `json:"timestamp"`
	System      string    `json:"system"`
	Environment string    `json:"environment"`
}

// Channel delivers one notification over one transport
type Channel interface {
	Send(ctx context.Context, n Notification) error
	Type() string
	Enabled() bool
}

// Dispatcher fans a notification out to every configured channel, applying
// the minimum-severity filter and the per-event-type rate limit first
type Dispatcher struct {
	cfg      config.NotificationsConfig
	channels []Channel
	logger   *logging.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
	now      func() time.Time
}

// NewDispatcher builds the dispatcher from configuration
func NewDispatcher(cfg config.NotificationsConfig, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	d := &Dispatcher{cfg: cfg, logger: logger, lastSent: make(map[string]time.Time), now: time.Now}
	if cfg.Email != nil {
		d.channels = append(d.channels, NewEmailChannel(*cfg.Email))
	}
	if cfg.Webhook != nil {
		d.channels = append(d.channels, NewWebhookChannel(*cfg.Webhook))
	}
	if cfg.Slack != nil {
		d.channels = append(d.channels, NewSlackChannel(*cfg.Slack))
	}
	if cfg.File != nil {
		d.channels = append(d.channels, NewFileChannel(*cfg.File))
	}
	return d
}

// NewDispatcherWithChannels builds a dispatcher over explicit channels
func NewDispatcherWithChannels(cfg config.NotificationsConfig, logger *logging.Logger, channels ...Channel) *Dispatcher {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Dispatcher{cfg: cfg, channels: channels, logger: logger, lastSent: make(map[string]time.Time), now: time.Now}
}

// Notify builds the payload and dispatches it. It satisfies the rollback
// orchestrator's Notifier interface.
func (d *Dispatcher) Notify(ctx context.Context, eventType, message, severity string) {
	if err := d.Send(ctx, Notification{
		Type:     eventType,
		Message:  message,
		Severity: severity,
	}); err != nil {
		d.logger.Warnf("Notification %s not delivered: %v", eventType, err)
	}
}

// Send dispatches one notification through all enabled channels. It fails
// only when every channel fails; partial delivery succeeds with warnings.
func (d *Dispatcher) Send(ctx context.Context, n Notification) error {
	if !d.cfg.Enabled {
		return nil
	}

	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}
	if n.System == "" {
		n.System = d.cfg.System
	}
	if n.Environment == "" {
		n.Environment = d.cfg.Environment
	}
	if n.Severity == "" {
		n.Severity = SeverityInfo
	}

	if severityRank(n.Severity) < severityRank(d.cfg.MinSeverity) {
		d.logger.Debugf("Notification %s below minimum severity %s, skipped", n.Type, d.cfg.MinSeverity)
		return nil
	}

	if d.rateLimited(n) {
		d.logger.Debugf("Notification %s rate limited, skipped", n.Type)
		return nil
	}

	var failures []string
	delivered := 0
	for _, ch := range d.channels {
		if !ch.Enabled() {
			continue
		}
		if err := ch.Send(ctx, n); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", ch.Type(), err))
			d.logger.Warnf("Notification channel %s failed: %v", ch.Type(), err)
			continue
		}
		delivered++
	}

	if len(failures) > 0 && delivered == 0 {
		return fmt.Errorf("all notification channels failed: %s", strings.Join(failures, "; "))
	}
	return nil
}

// rateLimited reports whether a repeat of the same event type falls inside
// the configured window. Critical notifications are never suppressed.
func (d *Dispatcher) rateLimited(n Notification) bool {
	if d.cfg.RateLimit <= 0 || n.Severity == SeverityCritical {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if last, ok := d.lastSent[n.Type]; ok && now.Sub(last) < d.cfg.RateLimit {
		return true
	}
	d.lastSent[n.Type] = now
	return false
}

// severityRank orders severities for threshold filtering. Unknown
// severities rank highest so they are never silently filtered.
func severityRank(severity string) int {
	switch severity {
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeverityError:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 4
	}
}
