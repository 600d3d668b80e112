// Package alerts persists candidate alerts and moves them through their
// lifecycle: open, breached, resolved. Alerts are never deleted.
package alerts

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"caseline/internal/domain"
	"caseline/internal/events"
	"caseline/internal/repo"
	"caseline/internal/rules"
)

// PersistenceError wraps a store failure for one alert operation.
type PersistenceError struct {
	Op       string
	CaseID   string
	DedupKey string
	Err      error
}

func (e *PersistenceError) Error() string {
	switch {
	case e.DedupKey != "":
		return fmt.Sprintf("alerts %s %s (case %q): %v", e.Op, e.DedupKey, e.CaseID, e.Err)
	case e.CaseID != "":
		return fmt.Sprintf("alerts %s (case %s): %v", e.Op, e.CaseID, e.Err)
	}
	return fmt.Sprintf("alerts %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

type Manager struct {
	Repo   repo.Repo
	Events events.Writer
	Logger *slog.Logger
	Now    func() time.Time
}

func NewManager(conn *sql.DB, logger *slog.Logger) Manager {
	return Manager{
		Repo:   repo.Repo{DB: conn},
		Events: events.Writer{DB: conn, Logger: logger},
		Logger: logger,
		Now:    time.Now,
	}
}

func (m Manager) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

func (m Manager) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

// Persist opens an alert for each candidate that has no open alert with
// the same dedup key in caseID's scope. Existing open alerts are left
// untouched. An empty caseID persists into the global scope. The alerts
// actually created are returned; on a store failure the ones created
// before it are returned with a *PersistenceError.
func (m Manager) Persist(ctx context.Context, caseID string, cands []rules.Candidate) ([]domain.Alert, error) {
	var created []domain.Alert
	now := m.now()
	for _, c := range cands {
		a := domain.Alert{
			ID:                uuid.NewString(),
			Source:            rules.SourceOf(c.Kind),
			Kind:              c.Kind,
			DedupKey:          c.DedupKey,
			Severity:          c.Severity,
			Title:             c.Title,
			Description:       c.Description,
			RecommendedAction: c.RecommendedAction,
			SLADueAt:          c.SLADueAt,
			Status:            domain.AlertOpen,
			CreatedAt:         now,
		}
		if caseID != "" {
			id := caseID
			a.CaseID = &id
		}
		ok, err := m.Repo.InsertOpenAlert(ctx, m.Repo.DB, a)
		if err != nil {
			return created, &PersistenceError{Op: "persist", CaseID: caseID, DedupKey: c.DedupKey, Err: err}
		}
		if !ok {
			continue
		}
		created = append(created, a)
		m.Events.Log(ctx, events.Entry{
			Type:       events.AlertOpened,
			CaseID:     caseID,
			EntityKind: "alert",
			EntityID:   a.ID,
			Payload: events.Payload{
				"source":    a.Source,
				"type":      a.Kind,
				"dedup_key": a.DedupKey,
				"severity":  a.Severity,
				"title":     a.Title,
			},
		})
	}
	return created, nil
}

// MarkBreached stamps every open alert of source whose SLA has passed and
// that is not already stamped. Running it again changes nothing.
func (m Manager) MarkBreached(ctx context.Context, source domain.AlertSource) (int, error) {
	stamped, err := m.Repo.MarkBreached(ctx, source, m.now())
	if err != nil {
		return 0, &PersistenceError{Op: "mark breached " + string(source), Err: err}
	}
	for _, a := range stamped {
		m.Events.Log(ctx, events.Entry{
			Type:       events.AlertBreached,
			CaseID:     derefString(a.CaseID),
			EntityKind: "alert",
			EntityID:   a.ID,
			Payload:    events.Payload{"source": a.Source, "type": a.Kind, "dedup_key": a.DedupKey, "severity": a.Severity},
		})
	}
	return len(stamped), nil
}

// Resolve closes an open alert. A missing or already resolved alert is not
// an error: it returns nil, nil.
func (m Manager) Resolve(ctx context.Context, alertID, actor string) (*domain.Alert, error) {
	return m.resolve(ctx, alertID, actor, "")
}

func (m Manager) resolve(ctx context.Context, alertID, actor string, source domain.AlertSource) (*domain.Alert, error) {
	if actor == "" {
		actor = events.SystemActor
	}
	ok, err := m.Repo.ResolveAlert(ctx, alertID, actor, source, m.now())
	if err != nil {
		return nil, &PersistenceError{Op: "resolve", Err: err}
	}
	if !ok {
		m.logger().DebugContext(ctx, "resolve skipped", "alert_id", alertID)
		return nil, nil
	}
	a, err := m.Repo.GetAlert(ctx, alertID)
	if err != nil {
		return nil, &PersistenceError{Op: "resolve", Err: err}
	}
	m.Events.Log(ctx, events.Entry{
		Type:       events.AlertResolved,
		CaseID:     derefString(a.CaseID),
		EntityKind: "alert",
		EntityID:   a.ID,
		ActorID:    actor,
		Payload:    events.Payload{"source": a.Source, "type": a.Kind, "dedup_key": a.DedupKey},
	})
	return &a, nil
}

// Get returns repo.ErrNotFound for unknown ids.
func (m Manager) Get(ctx context.Context, alertID string) (domain.Alert, error) {
	return m.Repo.GetAlert(ctx, alertID)
}

type Filter struct {
	Source domain.AlertSource
	CaseID string
	Limit  int
}

// ListOpen returns open alerts, newest first.
func (m Manager) ListOpen(ctx context.Context, f Filter) ([]domain.Alert, error) {
	return m.Repo.ListAlerts(ctx, repo.AlertFilters{Source: f.Source, CaseID: f.CaseID, Status: domain.AlertOpen, Limit: f.Limit})
}

// ListHistory returns every alert ever raised for caseID, newest first.
func (m Manager) ListHistory(ctx context.Context, caseID string) ([]domain.Alert, error) {
	return m.Repo.ListAlerts(ctx, repo.AlertFilters{CaseID: caseID})
}

func (m Manager) ListOpenAutomationAlerts(ctx context.Context) ([]domain.Alert, error) {
	return m.ListOpen(ctx, Filter{Source: domain.SourceAutomation})
}

func (m Manager) ListOpenAutomationAlertsByCase(ctx context.Context, caseID string) ([]domain.Alert, error) {
	return m.ListOpen(ctx, Filter{Source: domain.SourceAutomation, CaseID: caseID})
}

// ResolveAutomationAlert is Resolve restricted to automation alerts.
func (m Manager) ResolveAutomationAlert(ctx context.Context, alertID, actor string) (*domain.Alert, error) {
	return m.resolve(ctx, alertID, actor, domain.SourceAutomation)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
