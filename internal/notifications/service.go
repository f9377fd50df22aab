package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"conveyor/internal/config"
)

const userAgent = "Conveyor/0.1.0"

// Event names a pipeline milestone.
type Event string

const (
	EventScriptReady   Event = "script_ready"
	EventItemFailed    Event = "item_failed"
	EventDaemonStarted Event = "daemon_started"
	EventTest          Event = "test"
)

// Payload carries event values keyed by name.
type Payload map[string]any

// Service publishes pipeline events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds an ntfy-backed service, or a no-op one when no topic is
// configured. Events switched off in config are dropped silently.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventScriptReady:   cfg.Notifications.ScriptReady,
			EventItemFailed:    cfg.Notifications.ItemFailed,
			EventDaemonStarted: true,
			EventTest:          true,
		},
	}
}

// Enabled reports whether svc sends anything at all.
func Enabled(svc Service) bool {
	_, noop := svc.(noopService)
	return svc != nil && !noop
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
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if !n.enabled[event] {
		return nil
	}
	msg, ok := render(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func render(event Event, p Payload) (message, bool) {
	switch event {
	case EventScriptReady:
		title := p.text("title")
		if title == "" {
			title = "untitled"
		}
		body := fmt.Sprintf("Script ready for %s: %s", p.text("owner"), title)
		if decision := p.text("decision"); decision != "" {
			body += fmt.Sprintf("\nGate: %s (score %s)", strings.ToUpper(decision), p.text("score"))
		}
		if id := p.text("scriptId"); id != "" {
			body += "\nScript: " + id
		}
		msg := message{
			title: "Conveyor - Script Ready",
			body:  body,
			tags:  []string{"conveyor", "script", "review"},
		}
		if strings.EqualFold(p.text("decision"), "pass") {
			msg.priority = "high"
		}
		return msg, true
	case EventItemFailed:
		body := fmt.Sprintf("Item %s failed at %s", p.text("itemId"), p.text("stage"))
		if reason := p.text("error"); reason != "" {
			body += ": " + reason
		}
		return message{
			title:    "Conveyor - Item Failed",
			body:     body,
			tags:     []string{"conveyor", "error", "alert"},
			priority: "high",
		}, true
	case EventDaemonStarted:
		return message{
			title:    "Conveyor - Daemon Started",
			body:     fmt.Sprintf("Daemon started with %s worker(s)", p.text("workers")),
			tags:     []string{"conveyor", "daemon"},
			priority: "low",
		}, true
	case EventTest:
		return message{
			title:    "Conveyor - Test",
			body:     "Notification system test",
			tags:     []string{"conveyor", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (p Payload) text(key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return fmt.Sprintf("%.1f", t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func (n *ntfyService) send(ctx context.Context, data message) error {
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

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
