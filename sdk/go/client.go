package caselinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Caseline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base
// path, e.g. http://127.0.0.1:8080/v0.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Case represents the API case model (partial).
type Case struct {
	ID           string     `json:"id"`
	Reference    string     `json:"reference,omitempty"`
	DeceasedName string     `json:"deceased_name"`
	Stage        string     `json:"stage"`
	ServiceDate  *time.Time `json:"service_date,omitempty"`
	Location     string     `json:"location,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// BlockingItem is a checklist item or document requirement holding a gate.
type BlockingItem struct {
	ID            string `json:"id"`
	ItemKey       string `json:"item_key,omitempty"`
	DocumentType  string `json:"document_type,omitempty"`
	RequiredStage string `json:"required_stage"`
	Status        string `json:"status"`
}

// Gate is the outcome of evaluating a case against a target stage.
type Gate struct {
	Target            string         `json:"target_stage"`
	Passed            bool           `json:"passed"`
	BlockingChecklist []BlockingItem `json:"blocking_checklist"`
	BlockingDocuments []BlockingItem `json:"blocking_documents"`
	Unmapped          []string       `json:"unmapped,omitempty"`
}

// Transition is the result of a stage change.
type Transition struct {
	Case       Case   `json:"case"`
	From       string `json:"from"`
	Gate       Gate   `json:"gate"`
	Overridden bool   `json:"overridden"`
}

// Alert represents an automation or compliance alert.
type Alert struct {
	ID                string     `json:"id"`
	Source            string     `json:"source"`
	CaseID            *string    `json:"case_id,omitempty"`
	Type              string     `json:"type"`
	DedupKey          string     `json:"dedup_key"`
	Severity          string     `json:"severity"`
	Title             string     `json:"title"`
	Description       string     `json:"description,omitempty"`
	RecommendedAction string     `json:"recommended_action,omitempty"`
	SLADueAt          *time.Time `json:"sla_due_at,omitempty"`
	Status            string     `json:"status"`
	BreachedAt        *time.Time `json:"breached_at,omitempty"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy        *string    `json:"resolved_by,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// SweepReport summarises one sweep.
type SweepReport struct {
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    time.Time      `json:"finished_at"`
	Cases         int            `json:"cases"`
	Evaluated     int            `json:"evaluated"`
	Skipped       int            `json:"skipped"`
	AlertsCreated int            `json:"alerts_created"`
	AuxCreated    int            `json:"aux_alerts_created"`
	Breached      map[string]int `json:"breached"`
	Failures      []struct {
		CaseID string `json:"case_id,omitempty"`
		Phase  string `json:"phase"`
		Error  string `json:"error"`
	} `json:"failures,omitempty"`
	Cancelled bool `json:"cancelled,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	CaseID     string `json:"case_id,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	ActorID    string `json:"actor_id"`
	Stage      string `json:"stage,omitempty"`
	Payload    string `json:"payload_json"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsGateBlocked reports whether err is a transition refused by the
// compliance gate.
func IsGateBlocked(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == "gate_blocked"
}

// CreateCase opens a case in the NEW stage.
func (c *Client) CreateCase(ctx context.Context, deceasedName string, requireDocuments bool) (Case, error) {
	body := map[string]any{
		"deceased_name":     deceasedName,
		"require_documents": requireDocuments,
	}
	var resp Case
	err := c.do(ctx, http.MethodPost, "cases", body, &resp)
	return resp, err
}

// EvaluateGate reports what blocks caseID from entering target.
func (c *Client) EvaluateGate(ctx context.Context, caseID, target string) (Gate, error) {
	var resp struct {
		Gate Gate `json:"gate"`
	}
	endpoint := fmt.Sprintf("cases/%s/gate?target=%s", url.PathEscape(caseID), url.QueryEscape(target))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Gate, err
}

// TransitionStage moves caseID to target. A blocked gate returns an
// APIError for which IsGateBlocked is true.
func (c *Client) TransitionStage(ctx context.Context, caseID, target string) (Transition, error) {
	return c.transition(ctx, caseID, map[string]any{"target": target})
}

// ForceTransition overrides a blocked gate. Only admins may do this.
func (c *Client) ForceTransition(ctx context.Context, caseID, target, reason string) (Transition, error) {
	return c.transition(ctx, caseID, map[string]any{"target": target, "force": true, "reason": reason})
}

func (c *Client) transition(ctx context.Context, caseID string, body map[string]any) (Transition, error) {
	var resp Transition
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("cases/%s/stage", url.PathEscape(caseID)), body, &resp)
	return resp, err
}

// SetChecklistStatus updates a checklist item. reason is required when
// waiving.
func (c *Client) SetChecklistStatus(ctx context.Context, itemID, status, reason string) error {
	body := map[string]any{"status": status, "reason": reason}
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("checklist/%s", url.PathEscape(itemID)), body, nil)
}

// ListOpenAlerts returns open alerts, optionally for one source.
func (c *Client) ListOpenAlerts(ctx context.Context, source string) ([]Alert, error) {
	endpoint := "alerts"
	if source != "" {
		endpoint += "?source=" + url.QueryEscape(source)
	}
	var resp []Alert
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ResolveAlert resolves an open alert. It reports false when the alert
// is unknown or was already resolved.
func (c *Client) ResolveAlert(ctx context.Context, alertID string) (bool, error) {
	var resp struct {
		Resolved bool `json:"resolved"`
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("alerts/%s/resolve", url.PathEscape(alertID)), nil, &resp)
	return resp.Resolved, err
}

// TriggerSweep runs a sweep on the server and waits for its report.
func (c *Client) TriggerSweep(ctx context.Context) (SweepReport, error) {
	var resp SweepReport
	err := c.do(ctx, http.MethodPost, "sweeps", nil, &resp)
	return resp, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Details = env.Error.Details
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
