package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"caseline/internal/db"
)

const (
	CaseCreated           = "case.created"
	CaseStageChanged      = "case.stage_changed"
	GateOverridden        = "gate.overridden"
	MessageRecorded       = "message.recorded"
	TaskCreated           = "task.created"
	DocumentReceived      = "document.received"
	ChecklistItemAdded    = "checklist.item_added"
	RequirementAdded      = "document.requirement_added"
	AuxRecorded           = "aux.recorded"
	ChecklistStatusChange = "checklist.status_changed"
	DocumentStatusChange  = "document.status_changed"
	AlertOpened           = "alert.opened"
	AlertBreached         = "alert.breached"
	AlertResolved         = "alert.resolved"
	SweepCompleted        = "sweep.completed"
)

// SystemActor is recorded on events emitted by the scheduler.
const SystemActor = "system"

type Payload map[string]any

// Entry is one audit record.
type Entry struct {
	Type       string
	CaseID     string
	EntityKind string
	EntityID   string
	ActorID    string
	Stage      string
	Payload    Payload
}

type Writer struct {
	DB     *sql.DB
	Now    func() time.Time
	Logger *slog.Logger
}

// Append writes e using q, normally the caller's transaction.
func (w Writer) Append(ctx context.Context, q db.DBTX, e Entry) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	payload := e.Payload
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	actor := e.ActorID
	if actor == "" {
		actor = SystemActor
	}
	_, err = q.ExecContext(ctx, `INSERT INTO events(ts,type,case_id,entity_kind,entity_id,actor_id,stage,payload_json) VALUES (?,?,?,?,?,?,?,?)`,
		ts, e.Type, nullable(e.CaseID), e.EntityKind, nullable(e.EntityID), actor, nullable(e.Stage), string(data))
	return err
}

// Log appends e outside any transaction. Failures are logged and dropped;
// the audit trail never fails the operation that produced it.
func (w Writer) Log(ctx context.Context, e Entry) {
	if w.DB == nil {
		return
	}
	if err := w.Append(ctx, w.DB, e); err != nil {
		w.logger().WarnContext(ctx, "event log write failed", "type", e.Type, "case_id", e.CaseID, "entity_id", e.EntityID, "error", err)
	}
}

func (w Writer) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
