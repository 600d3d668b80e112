// Package notify delivers selected audit events to outbound webhooks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"caseline/internal/config"
	"caseline/internal/domain"
	"caseline/internal/events"
)

const (
	defaultPoll    = 5 * time.Second
	defaultTimeout = 5 * time.Second
	defaultBatch   = 100
)

// DefaultEvents are delivered to hooks that do not list their own.
var DefaultEvents = []string{events.AlertOpened, events.AlertBreached}

// EventSource is the read side of the events table.
type EventSource interface {
	EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error)
	LatestEventID(ctx context.Context) (int64, error)
}

type Options struct {
	Source  EventSource
	HomeID  string
	Config  config.NotifyConfig
	Client  *http.Client
	Logger  *slog.Logger
	Poll    time.Duration
	Limiter *rate.Limiter
}

// Dispatcher tails the events table and posts matching events to each hook.
// Each hook keeps its own cursor, starting at the newest event when the
// dispatcher first sees it; a failed delivery is retried on the next pass.
type Dispatcher struct {
	source  EventSource
	home    string
	hooks   []config.WebhookConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
	poll    time.Duration

	mu      sync.Mutex
	cursors map[int]int64
}

func New(opts Options) *Dispatcher {
	d := &Dispatcher{
		source:  opts.Source,
		home:    opts.HomeID,
		hooks:   opts.Config.Webhooks,
		client:  opts.Client,
		limiter: opts.Limiter,
		logger:  opts.Logger,
		poll:    opts.Poll,
		cursors: make(map[int]int64),
	}
	if d.client == nil {
		d.client = &http.Client{Timeout: defaultTimeout}
	}
	if d.limiter == nil {
		limit := rate.Inf
		if opts.Config.RatePerSecond > 0 {
			limit = rate.Limit(opts.Config.RatePerSecond)
		}
		burst := opts.Config.Burst
		if burst <= 0 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(limit, burst)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.poll <= 0 {
		d.poll = defaultPoll
	}
	return d
}

// Enabled reports whether any hook would receive deliveries.
func (d *Dispatcher) Enabled() bool {
	for _, h := range d.hooks {
		if hookEnabled(h) {
			return true
		}
	}
	return false
}

// Run dispatches once per poll interval until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.Enabled() {
		return nil
	}
	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()
	for {
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// DispatchOnce makes one delivery pass over every enabled hook.
func (d *Dispatcher) DispatchOnce(ctx context.Context) {
	for i, hook := range d.hooks {
		if !hookEnabled(hook) {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		d.dispatchHook(ctx, i, hook)
	}
}

func hookEnabled(h config.WebhookConfig) bool {
	if h.Enabled != nil && !*h.Enabled {
		return false
	}
	return strings.TrimSpace(h.URL) != ""
}

func (d *Dispatcher) dispatchHook(ctx context.Context, idx int, hook config.WebhookConfig) {
	cursor, ok := d.cursorFor(ctx, idx)
	if !ok {
		return
	}
	evts, err := d.source.EventsAfter(ctx, defaultBatch, cursor)
	if err != nil {
		d.logger.WarnContext(ctx, "webhook fetch events failed", "url", hook.URL, "error", err)
		return
	}
	filter := newEventFilter(hook.Events)
	for _, evt := range evts {
		if !filter.match(evt.Type) {
			d.setCursor(idx, evt.ID)
			continue
		}
		if err := d.limiter.Wait(ctx); err != nil {
			return
		}
		if err := d.post(ctx, hook, evt); err != nil {
			d.logger.WarnContext(ctx, "webhook delivery failed", "url", hook.URL, "event_id", evt.ID, "type", evt.Type, "error", err)
			return
		}
		d.logger.DebugContext(ctx, "webhook delivered", "url", hook.URL, "event_id", evt.ID, "type", evt.Type)
		d.setCursor(idx, evt.ID)
	}
}

func (d *Dispatcher) cursorFor(ctx context.Context, idx int) (int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur, true
	}
	cur, err := d.source.LatestEventID(ctx)
	if err != nil {
		d.logger.WarnContext(ctx, "webhook cursor init failed", "error", err)
		return 0, false
	}
	d.cursors[idx] = cur
	return cur, true
}

func (d *Dispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

// Delivery is the JSON body posted to a webhook.
type Delivery struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	HomeID     string          `json:"home_id,omitempty"`
	CaseID     string          `json:"case_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

func (d *Dispatcher) post(ctx context.Context, hook config.WebhookConfig, evt domain.Event) error {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	data, err := json.Marshal(Delivery{
		ID:         evt.ID,
		Type:       evt.Type,
		HomeID:     d.home,
		CaseID:     evt.CaseID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
	})
	if err != nil {
		return err
	}
	client := d.client
	if hook.TimeoutSeconds > 0 {
		if timeout := time.Duration(hook.TimeoutSeconds) * time.Second; timeout != client.Timeout {
			client = &http.Client{Timeout: timeout, Transport: d.client.Transport}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Caseline-Event", evt.Type)
	req.Header.Set("X-Caseline-Delivery", fmt.Sprintf("%d", evt.ID))
	if d.home != "" {
		req.Header.Set("X-Caseline-Home", d.home)
	}
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Caseline-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type eventFilter struct {
	set map[string]struct{}
}

func newEventFilter(types []string) eventFilter {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		if t = strings.TrimSpace(t); t != "" {
			set[t] = struct{}{}
		}
	}
	if len(set) == 0 {
		for _, t := range DefaultEvents {
			set[t] = struct{}{}
		}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if _, ok := f.set["*"]; ok {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
