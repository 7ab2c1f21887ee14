// Package alert dispatches status-change events to configured webhooks. The
// engine treats dispatch as best-effort and fire-and-forget: failures are
// logged and never retried by the caller. The short retry budget on the HTTP
// client below is this dispatcher's own policy.
package alert

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Kind identifies the transition an Event describes.
type Kind string

const (
	CheckDown       Kind = "check.down"
	CheckUp         Kind = "check.up"
	MonitorDown     Kind = "monitor.down"
	MonitorDegraded Kind = "monitor.degraded"
	MonitorUp       Kind = "monitor.up"
)

// Event is the payload handed to every configured webhook.
type Event struct {
	Kind       Kind              `json:"kind"`
	EntityID   string            `json:"entity_id"`
	EntityName string            `json:"entity_name"`
	OwnerID    string            `json:"owner_id"`
	Detail     map[string]string `json:"detail,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`

	// EntityWebhook is an additional per-entity target, not part of the
	// payload.
	EntityWebhook string `json:"-"`
}

// Dispatcher fans events out to the global webhook and any per-entity
// webhook.
type Dispatcher struct {
	webhookURL string
	cooldown   time.Duration
	client     *retryablehttp.Client
	lastAlert  map[string]time.Time
	mu         sync.Mutex
	logger     *slog.Logger
}

// New creates a Dispatcher. webhookURL may be empty, in which case only
// per-entity webhooks are used. Pass nil logger to use the default logger.
func New(webhookURL string, cooldown time.Duration, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = 10 * time.Second
	client.Logger = nil

	return &Dispatcher{
		webhookURL: webhookURL,
		cooldown:   cooldown,
		client:     client,
		lastAlert:  make(map[string]time.Time),
		logger:     logger,
	}
}

// Notify sends the event to all targets. It never blocks the caller: sends
// run asynchronously and a repeated alert within the cooldown is suppressed.
func (d *Dispatcher) Notify(event Event) {
	key := event.EntityID + "|" + string(event.Kind)

	d.mu.Lock()
	last, exists := d.lastAlert[key]
	if exists && time.Since(last) < d.cooldown {
		d.mu.Unlock()
		d.logger.Info("alert suppressed by cooldown", "entity", event.EntityID, "kind", event.Kind)
		return
	}
	d.lastAlert[key] = time.Now()
	d.mu.Unlock()

	for _, url := range d.targets(event) {
		go d.send(url, event)
	}
}

func (d *Dispatcher) targets(event Event) []string {
	var targets []string
	if d.webhookURL != "" {
		targets = append(targets, d.webhookURL)
	}
	if event.EntityWebhook != "" && event.EntityWebhook != d.webhookURL {
		targets = append(targets, event.EntityWebhook)
	}
	return targets
}

type webhookPayload struct {
	Event
	Source string `json:"source"`
}

func (d *Dispatcher) send(url string, event Event) {
	body, err := json.Marshal(webhookPayload{Event: event, Source: "cronowl"})
	if err != nil {
		d.logger.Error("marshaling webhook payload", "entity", event.EntityID, "error", err)
		return
	}

	req, err := retryablehttp.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		d.logger.Error("building webhook request", "url", url, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Error("sending webhook", "entity", event.EntityID, "url", url, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		d.logger.Warn("webhook returned non-2xx status",
			"entity", event.EntityID,
			"kind", event.Kind,
			"status", resp.StatusCode,
		)
	}
}
