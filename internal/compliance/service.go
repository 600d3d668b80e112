package compliance

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"caseline/internal/db"
	"caseline/internal/domain"
	"caseline/internal/events"
	"caseline/internal/repo"
	"caseline/internal/stage"
)

type Service struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Logger *slog.Logger
	Now    func() time.Time
}

func NewService(conn *sql.DB, logger *slog.Logger) Service {
	return Service{
		DB:     conn,
		Repo:   repo.Repo{DB: conn},
		Events: events.Writer{DB: conn, Logger: logger},
		Logger: logger,
		Now:    time.Now,
	}
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// EvaluateGate reports whether caseID may enter target. It is advisory and
// never fails because requirements are outstanding.
func (s Service) EvaluateGate(ctx context.Context, caseID string, target stage.Stage) (GateResult, error) {
	return s.EvaluateGateTx(ctx, s.DB, caseID, target)
}

// EvaluateGateTx is EvaluateGate reading through q.
func (s Service) EvaluateGateTx(ctx context.Context, q db.DBTX, caseID string, target stage.Stage) (GateResult, error) {
	if !target.Valid() {
		return GateResult{}, fmt.Errorf("%w: %q", stage.ErrUnknownStage, target)
	}
	if _, err := s.Repo.GetCaseTx(ctx, q, caseID); err != nil {
		return GateResult{}, err
	}
	checklist, err := s.Repo.ListChecklistItems(ctx, q, caseID)
	if err != nil {
		return GateResult{}, fmt.Errorf("load checklist: %w", err)
	}
	docs, err := s.Repo.ListDocumentRequirements(ctx, q, caseID)
	if err != nil {
		return GateResult{}, fmt.Errorf("load document requirements: %w", err)
	}
	res := Evaluate(target, checklist, docs)
	if len(res.Unmapped) > 0 {
		s.logger().WarnContext(ctx, "compliance rows with unmapped stage ignored by gate", "case_id", caseID, "target", target, "rows", res.Unmapped)
	}
	return res, nil
}

// AssertGate is EvaluateGate that fails with *GateBlockedError when the
// gate does not pass.
func (s Service) AssertGate(ctx context.Context, caseID string, target stage.Stage) (GateResult, error) {
	return s.AssertGateTx(ctx, s.DB, caseID, target)
}

func (s Service) AssertGateTx(ctx context.Context, q db.DBTX, caseID string, target stage.Stage) (GateResult, error) {
	res, err := s.EvaluateGateTx(ctx, q, caseID, target)
	if err != nil {
		return res, err
	}
	if !res.Passed {
		return res, &GateBlockedError{CaseID: caseID, Result: res}
	}
	return res, nil
}

type ChecklistUpdate struct {
	ItemID  string
	Status  string
	ActorID string
	Reason  string
}

// SetChecklistStatus moves an item to a new status. Completion and waiver
// audit fields are mutually exclusive; entering one clears the other and
// any other status clears both. Re-applying the current status is a no-op.
func (s Service) SetChecklistStatus(ctx context.Context, u ChecklistUpdate) (domain.ChecklistItem, error) {
	status := domain.ChecklistStatus(normalizeStatus(u.Status))
	if !status.Valid() {
		return domain.ChecklistItem{}, &InvalidStatusError{Entity: "checklist item", Status: u.Status, Allowed: []string{
			string(domain.ChecklistPending), string(domain.ChecklistInProgress), string(domain.ChecklistCompleted), string(domain.ChecklistWaived),
		}}
	}
	reason := strings.TrimSpace(u.Reason)
	if status == domain.ChecklistWaived && reason == "" {
		return domain.ChecklistItem{}, ErrWaiverReasonRequired
	}
	actor := actorOrSystem(u.ActorID)

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ChecklistItem{}, err
	}
	defer tx.Rollback()

	it, err := s.Repo.GetChecklistItemTx(ctx, tx, u.ItemID)
	if err != nil {
		return domain.ChecklistItem{}, err
	}
	if it.Status == status && (status != domain.ChecklistWaived || derefString(it.WaiverReason) == reason) {
		return it, nil
	}
	from := it.Status
	now := s.now()
	it.Status = status
	it.CompletedBy, it.CompletedAt = nil, nil
	it.WaivedBy, it.WaivedAt, it.WaiverReason = nil, nil, nil
	switch status {
	case domain.ChecklistCompleted:
		it.CompletedBy, it.CompletedAt = &actor, &now
	case domain.ChecklistWaived:
		it.WaivedBy, it.WaivedAt, it.WaiverReason = &actor, &now, &reason
	}
	it.UpdatedAt = now
	if err := s.Repo.UpdateChecklistStatusTx(ctx, tx, it); err != nil {
		return domain.ChecklistItem{}, err
	}
	payload := events.Payload{"item_key": it.ItemKey, "from": from, "to": status}
	if reason != "" && status == domain.ChecklistWaived {
		payload["reason"] = reason
	}
	if err := s.Events.Append(ctx, tx, events.Entry{
		Type:       events.ChecklistStatusChange,
		CaseID:     it.CaseID,
		EntityKind: "checklist_item",
		EntityID:   it.ID,
		ActorID:    actor,
		Payload:    payload,
	}); err != nil {
		return domain.ChecklistItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ChecklistItem{}, err
	}
	return it, nil
}

type DocumentUpdate struct {
	RequirementID string
	Status        string
	ActorID       string
	Reason        string
}

// SetDocumentStatus is SetChecklistStatus for document requirements, with
// verified in place of completed.
func (s Service) SetDocumentStatus(ctx context.Context, u DocumentUpdate) (domain.DocumentRequirement, error) {
	status := domain.DocumentStatus(normalizeStatus(u.Status))
	if !status.Valid() {
		return domain.DocumentRequirement{}, &InvalidStatusError{Entity: "document", Status: u.Status, Allowed: []string{
			string(domain.DocumentPending), string(domain.DocumentSubmitted), string(domain.DocumentVerified),
			string(domain.DocumentRejected), string(domain.DocumentWaived),
		}}
	}
	reason := strings.TrimSpace(u.Reason)
	if status == domain.DocumentWaived && reason == "" {
		return domain.DocumentRequirement{}, ErrWaiverReasonRequired
	}
	actor := actorOrSystem(u.ActorID)

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.DocumentRequirement{}, err
	}
	defer tx.Rollback()

	d, err := s.Repo.GetDocumentRequirementTx(ctx, tx, u.RequirementID)
	if err != nil {
		return domain.DocumentRequirement{}, err
	}
	if d.Status == status && (status != domain.DocumentWaived || derefString(d.WaiverReason) == reason) {
		return d, nil
	}
	from := d.Status
	now := s.now()
	d.Status = status
	d.VerifiedBy, d.VerifiedAt = nil, nil
	d.WaivedBy, d.WaivedAt, d.WaiverReason = nil, nil, nil
	switch status {
	case domain.DocumentVerified:
		d.VerifiedBy, d.VerifiedAt = &actor, &now
	case domain.DocumentWaived:
		d.WaivedBy, d.WaivedAt, d.WaiverReason = &actor, &now, &reason
	}
	d.UpdatedAt = now
	if err := s.Repo.UpdateDocumentStatusTx(ctx, tx, d); err != nil {
		return domain.DocumentRequirement{}, err
	}
	payload := events.Payload{"document_type": d.DocumentType, "from": from, "to": status}
	if reason != "" && status == domain.DocumentWaived {
		payload["reason"] = reason
	}
	if err := s.Events.Append(ctx, tx, events.Entry{
		Type:       events.DocumentStatusChange,
		CaseID:     d.CaseID,
		EntityKind: "document_requirement",
		EntityID:   d.ID,
		ActorID:    actor,
		Payload:    payload,
	}); err != nil {
		return domain.DocumentRequirement{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.DocumentRequirement{}, err
	}
	return d, nil
}

func normalizeStatus(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func actorOrSystem(actor string) string {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return events.SystemActor
	}
	return actor
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
