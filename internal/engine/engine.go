package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"caseline/internal/compliance"
	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/domain"
	"caseline/internal/engine/auth"
	"caseline/internal/events"
	"caseline/internal/repo"
	"caseline/internal/stage"
)

type Engine struct {
	DB         *sql.DB
	Repo       repo.Repo
	Events     events.Writer
	Compliance compliance.Service
	Config     *config.Config
	Now        func() time.Time
}

func New(conn *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:         conn,
		Repo:       repo.Repo{DB: conn},
		Events:     events.Writer{DB: conn},
		Compliance: compliance.NewService(conn, nil),
		Config:     cfg,
		Now:        time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

// withTx runs fn in a transaction and commits when it returns nil.
func (e Engine) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// CaseCreateOptions are parameters for opening a case.
type CaseCreateOptions struct {
	ID           string
	Reference    string
	DeceasedName string
	Location     string
	ServiceDate  *time.Time
	ActorID      string
}

// CreateCase opens a case in the initial stage.
func (e Engine) CreateCase(ctx context.Context, opts CaseCreateOptions) (domain.Case, error) {
	name := strings.TrimSpace(opts.DeceasedName)
	if name == "" {
		return domain.Case{}, errors.New("deceased_name is required")
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := e.now()
	c := domain.Case{
		ID:           id,
		Reference:    strings.TrimSpace(opts.Reference),
		DeceasedName: name,
		Stage:        stage.Initial(),
		ServiceDate:  opts.ServiceDate,
		Location:     strings.TrimSpace(opts.Location),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertCase(ctx, tx, c); err != nil {
			return fmt.Errorf("insert case: %w", err)
		}
		return e.Events.Append(ctx, tx, events.Entry{
			Type:       events.CaseCreated,
			CaseID:     c.ID,
			EntityKind: "case",
			EntityID:   c.ID,
			ActorID:    opts.ActorID,
			Stage:      string(c.Stage),
			Payload:    events.Payload{"reference": c.Reference},
		})
	})
	if err != nil {
		return domain.Case{}, err
	}
	return c, nil
}

// TransitionRequest asks to move a case to Target on behalf of a caller
// holding Role.
type TransitionRequest struct {
	CaseID  string
	Target  string
	Role    string
	ActorID string
	// Force lets an admin move past a blocked gate. The override is audited.
	Force  bool
	Reason string
}

// TransitionResult is the moved case and the gate evaluation it passed (or
// was forced past).
type TransitionResult struct {
	Case       domain.Case           `json:"case"`
	From       stage.Stage           `json:"from"`
	Gate       compliance.GateResult `json:"gate"`
	Overridden bool                  `json:"overridden"`
}

// TransitionStage moves a case one step forward. The stage table, the
// caller's role and the compliance gate are all checked inside the same
// transaction that writes the new stage.
func (e Engine) TransitionStage(ctx context.Context, req TransitionRequest) (TransitionResult, error) {
	target, err := stage.Require(req.Target)
	if err != nil {
		return TransitionResult{}, err
	}
	if req.Force {
		if err := auth.EnsureAdmin(req.Role, auth.ActionGateOverride); err != nil {
			return TransitionResult{}, err
		}
		if strings.TrimSpace(req.Reason) == "" {
			return TransitionResult{}, errors.New("override reason is required")
		}
	}
	var res TransitionResult
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		c, err := e.Repo.GetCaseTx(ctx, tx, req.CaseID)
		if err != nil {
			return err
		}
		from := c.Stage
		if err := stage.EnsureTransition(from, target); err != nil {
			return err
		}
		if err := auth.EnsureTransition(req.Role, from); err != nil {
			return err
		}
		gate, err := e.Compliance.AssertGateTx(ctx, tx, c.ID, target)
		var blocked *compliance.GateBlockedError
		switch {
		case err == nil:
		case req.Force && errors.As(err, &blocked):
			res.Overridden = true
			if err := e.Events.Append(ctx, tx, events.Entry{
				Type:       events.GateOverridden,
				CaseID:     c.ID,
				EntityKind: "case",
				EntityID:   c.ID,
				ActorID:    req.ActorID,
				Stage:      string(target),
				Payload: events.Payload{
					"from":               string(from),
					"reason":             strings.TrimSpace(req.Reason),
					"blocking_checklist": gate.BlockingChecklist,
					"blocking_documents": gate.BlockingDocuments,
				},
			}); err != nil {
				return err
			}
		default:
			return err
		}
		now := e.now()
		if err := e.Repo.UpdateCaseStageTx(ctx, tx, c.ID, target, now); err != nil {
			return err
		}
		if err := e.Events.Append(ctx, tx, events.Entry{
			Type:       events.CaseStageChanged,
			CaseID:     c.ID,
			EntityKind: "case",
			EntityID:   c.ID,
			ActorID:    req.ActorID,
			Stage:      string(target),
			Payload:    events.Payload{"from": string(from), "to": string(target), "role": auth.Normalize(req.Role), "overridden": res.Overridden},
		}); err != nil {
			return err
		}
		c.Stage = target
		c.UpdatedAt = now
		res.Case, res.From, res.Gate = c, from, gate
		return nil
	})
	if err != nil {
		return TransitionResult{}, err
	}
	return res, nil
}

// RecordMessage stores a message exchanged with the family.
func (e Engine) RecordMessage(ctx context.Context, m domain.Message, actorID string) (domain.Message, error) {
	switch m.Direction {
	case domain.DirectionInbound, domain.DirectionOutbound:
	default:
		return m, fmt.Errorf("invalid direction %q", m.Direction)
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = e.now()
	}
	err := e.recordForCase(ctx, m.CaseID, func(tx *sql.Tx) error {
		return e.Repo.InsertMessage(ctx, tx, m)
	}, events.Entry{
		Type: events.MessageRecorded, CaseID: m.CaseID, EntityKind: "message", EntityID: m.ID, ActorID: actorID,
		Payload: events.Payload{"direction": m.Direction},
	})
	return m, err
}

// AddTask records an operational task on a case.
func (e Engine) AddTask(ctx context.Context, t domain.CaseTask, actorID string) (domain.CaseTask, error) {
	if strings.TrimSpace(t.Title) == "" {
		return t, errors.New("title is required")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = "open"
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = e.now()
	}
	err := e.recordForCase(ctx, t.CaseID, func(tx *sql.Tx) error {
		return e.Repo.InsertTask(ctx, tx, t)
	}, events.Entry{
		Type: events.TaskCreated, CaseID: t.CaseID, EntityKind: "task", EntityID: t.ID, ActorID: actorID,
		Payload: events.Payload{"title": t.Title},
	})
	return t, err
}

// AddDocument records an uploaded document.
func (e Engine) AddDocument(ctx context.Context, d domain.Document, actorID string) (domain.Document, error) {
	if strings.TrimSpace(d.DocumentType) == "" {
		return d, errors.New("document_type is required")
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = e.now()
	}
	err := e.recordForCase(ctx, d.CaseID, func(tx *sql.Tx) error {
		return e.Repo.InsertDocument(ctx, tx, d)
	}, events.Entry{
		Type: events.DocumentReceived, CaseID: d.CaseID, EntityKind: "document", EntityID: d.ID, ActorID: actorID,
		Payload: events.Payload{"document_type": d.DocumentType},
	})
	return d, err
}

// AddChecklistItem attaches a checklist row to a case in pending status.
func (e Engine) AddChecklistItem(ctx context.Context, it domain.ChecklistItem, actorID string) (domain.ChecklistItem, error) {
	if strings.TrimSpace(it.ItemKey) == "" {
		return it, errors.New("item_key is required")
	}
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	if it.Status == "" {
		it.Status = domain.ChecklistPending
	}
	if !it.Status.Valid() {
		return it, &compliance.InvalidStatusError{Entity: "checklist item", Status: string(it.Status)}
	}
	it.UpdatedAt = e.now()
	err := e.recordForCase(ctx, it.CaseID, func(tx *sql.Tx) error {
		return e.Repo.InsertChecklistItem(ctx, tx, it)
	}, events.Entry{
		Type: events.ChecklistItemAdded, CaseID: it.CaseID, EntityKind: "checklist_item", EntityID: it.ID, ActorID: actorID,
		Payload: events.Payload{"item_key": it.ItemKey, "required_stage": it.RequiredStage},
	})
	return it, err
}

// AddDocumentRequirement attaches a required document row to a case.
func (e Engine) AddDocumentRequirement(ctx context.Context, d domain.DocumentRequirement, actorID string) (domain.DocumentRequirement, error) {
	if strings.TrimSpace(d.DocumentType) == "" {
		return d, errors.New("document_type is required")
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Status == "" {
		d.Status = domain.DocumentPending
	}
	if !d.Status.Valid() {
		return d, &compliance.InvalidStatusError{Entity: "document requirement", Status: string(d.Status)}
	}
	d.UpdatedAt = e.now()
	err := e.recordForCase(ctx, d.CaseID, func(tx *sql.Tx) error {
		return e.Repo.InsertDocumentRequirement(ctx, tx, d)
	}, events.Entry{
		Type: events.RequirementAdded, CaseID: d.CaseID, EntityKind: "document_requirement", EntityID: d.ID, ActorID: actorID,
		Payload: events.Payload{"document_type": d.DocumentType, "required_stage": d.RequiredStage},
	})
	return d, err
}

// RequireConfiguredDocuments adds a pending requirement for every document
// type in the rules config that the case does not track yet.
func (e Engine) RequireConfiguredDocuments(ctx context.Context, caseID, actorID string) ([]domain.DocumentRequirement, error) {
	if e.Config == nil {
		return nil, errors.New("config not loaded")
	}
	existing, err := e.Repo.ListDocumentRequirements(ctx, e.DB, caseID)
	if err != nil {
		return nil, err
	}
	have := map[string]bool{}
	for _, d := range existing {
		have[d.DocumentType] = true
	}
	var added []domain.DocumentRequirement
	for _, rd := range e.Config.Rules.RequiredDocuments {
		if have[rd.Type] {
			continue
		}
		d, err := e.AddDocumentRequirement(ctx, domain.DocumentRequirement{
			CaseID: caseID, DocumentType: rd.Type, RequiredStage: rd.Stage, IsRequired: true,
		}, actorID)
		if err != nil {
			return added, err
		}
		added = append(added, d)
	}
	return added, nil
}

func (e Engine) recordForCase(ctx context.Context, caseID string, insert func(tx *sql.Tx) error, evt events.Entry) error {
	return e.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.Repo.GetCaseTx(ctx, tx, caseID); err != nil {
			return err
		}
		if err := insert(tx); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, evt)
	})
}

// AuxRecord is one row for the cross-case operational domains. Exactly one
// field is set.
type AuxRecord struct {
	Inventory *domain.InventoryItem
	Mortuary  *domain.MortuaryRecord
	Plot      *domain.PlotAssignment
	Equipment *domain.EquipmentAllocation
	WorkOrder *domain.WorkOrder
}

// RecordAux stores an inventory, mortuary, plot, equipment or work order
// row. These rows feed the auxiliary evaluators only.
func (e Engine) RecordAux(ctx context.Context, rec AuxRecord, actorID string) (string, error) {
	var (
		kind, id string
		insert   func(q db.DBTX) error
	)
	switch {
	case rec.Inventory != nil:
		it := *rec.Inventory
		if it.ID == "" {
			it.ID = uuid.NewString()
		}
		if it.UpdatedAt.IsZero() {
			it.UpdatedAt = e.now()
		}
		kind, id = "inventory_item", it.ID
		insert = func(q db.DBTX) error { return e.Repo.UpsertInventoryItem(ctx, q, it) }
	case rec.Mortuary != nil:
		m := *rec.Mortuary
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.CheckedInAt.IsZero() {
			m.CheckedInAt = e.now()
		}
		kind, id = "mortuary_record", m.ID
		insert = func(q db.DBTX) error { return e.Repo.InsertMortuaryRecord(ctx, q, m) }
	case rec.Plot != nil:
		p := *rec.Plot
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if p.AssignedAt.IsZero() {
			p.AssignedAt = e.now()
		}
		kind, id = "plot_assignment", p.ID
		insert = func(q db.DBTX) error { return e.Repo.InsertPlotAssignment(ctx, q, p) }
	case rec.Equipment != nil:
		a := *rec.Equipment
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		if a.Condition == "" {
			a.Condition = domain.ConditionOK
		}
		kind, id = "equipment_allocation", a.ID
		insert = func(q db.DBTX) error { return e.Repo.InsertEquipmentAllocation(ctx, q, a) }
	case rec.WorkOrder != nil:
		w := *rec.WorkOrder
		if w.ID == "" {
			w.ID = uuid.NewString()
		}
		if w.Status == "" {
			w.Status = "open"
		}
		kind, id = "work_order", w.ID
		insert = func(q db.DBTX) error { return e.Repo.InsertWorkOrder(ctx, q, w) }
	default:
		return "", errors.New("aux record is empty")
	}
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		if err := insert(tx); err != nil {
			return fmt.Errorf("insert %s: %w", kind, err)
		}
		return e.Events.Append(ctx, tx, events.Entry{
			Type: events.AuxRecorded, EntityKind: kind, EntityID: id, ActorID: actorID,
		})
	})
	return id, err
}
