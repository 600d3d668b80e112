package domain

import (
	"time"

	"caseline/internal/stage"
)

type Case struct {
	ID           string      `json:"id"`
	Reference    string      `json:"reference,omitempty"`
	DeceasedName string      `json:"deceased_name"`
	Stage        stage.Stage `json:"stage" enum:"NEW,INTAKE,DOCUMENTS,QUOTE,SCHEDULED,SERVICE_DAY,COMPLETED"`
	ServiceDate  *time.Time  `json:"service_date,omitempty" format:"date-time"`
	Location     string      `json:"location,omitempty"`
	CreatedAt    time.Time   `json:"created_at" format:"date-time"`
	UpdatedAt    time.Time   `json:"updated_at" format:"date-time"`
}

const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

type Message struct {
	ID        string    `json:"id"`
	CaseID    string    `json:"case_id"`
	Direction string    `json:"direction" enum:"inbound,outbound"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`
}

type CaseTask struct {
	ID        string     `json:"id"`
	CaseID    string     `json:"case_id"`
	Title     string     `json:"title"`
	Status    string     `json:"status"`
	DueAt     *time.Time `json:"due_at,omitempty" format:"date-time"`
	CreatedAt time.Time  `json:"created_at" format:"date-time"`
}

type Document struct {
	ID           string    `json:"id"`
	CaseID       string    `json:"case_id"`
	DocumentType string    `json:"document_type"`
	FileName     string    `json:"file_name,omitempty"`
	CreatedAt    time.Time `json:"created_at" format:"date-time"`
}

type ChecklistStatus string

const (
	ChecklistPending    ChecklistStatus = "pending"
	ChecklistInProgress ChecklistStatus = "in_progress"
	ChecklistCompleted  ChecklistStatus = "completed"
	ChecklistWaived     ChecklistStatus = "waived"
)

// Valid reports whether s is one of the known checklist statuses.
func (s ChecklistStatus) Valid() bool {
	switch s {
	case ChecklistPending, ChecklistInProgress, ChecklistCompleted, ChecklistWaived:
		return true
	}
	return false
}

type ChecklistItem struct {
	ID            string          `json:"id"`
	CaseID        string          `json:"case_id"`
	Category      string          `json:"category"`
	ItemKey       string          `json:"item_key"`
	Label         string          `json:"label,omitempty"`
	RequiredStage string          `json:"required_stage"`
	IsRequired    bool            `json:"is_required"`
	Status        ChecklistStatus `json:"status" enum:"pending,in_progress,completed,waived"`
	CompletedBy   *string         `json:"completed_by,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty" format:"date-time"`
	WaivedBy      *string         `json:"waived_by,omitempty"`
	WaivedAt      *time.Time      `json:"waived_at,omitempty" format:"date-time"`
	WaiverReason  *string         `json:"waiver_reason,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at" format:"date-time"`
}

type DocumentStatus string

const (
	DocumentPending   DocumentStatus = "pending"
	DocumentSubmitted DocumentStatus = "submitted"
	DocumentVerified  DocumentStatus = "verified"
	DocumentRejected  DocumentStatus = "rejected"
	DocumentWaived    DocumentStatus = "waived"
)

// Valid reports whether s is one of the known document statuses.
func (s DocumentStatus) Valid() bool {
	switch s {
	case DocumentPending, DocumentSubmitted, DocumentVerified, DocumentRejected, DocumentWaived:
		return true
	}
	return false
}

type DocumentRequirement struct {
	ID            string         `json:"id"`
	CaseID        string         `json:"case_id"`
	DocumentType  string         `json:"document_type"`
	RequiredStage string         `json:"required_stage"`
	IsRequired    bool           `json:"is_required"`
	Status        DocumentStatus `json:"status" enum:"pending,submitted,verified,rejected,waived"`
	SLADueAt      *time.Time     `json:"sla_due_at,omitempty" format:"date-time"`
	VerifiedBy    *string        `json:"verified_by,omitempty"`
	VerifiedAt    *time.Time     `json:"verified_at,omitempty" format:"date-time"`
	WaivedBy      *string        `json:"waived_by,omitempty"`
	WaivedAt      *time.Time     `json:"waived_at,omitempty" format:"date-time"`
	WaiverReason  *string        `json:"waiver_reason,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at" format:"date-time"`
}

type AlertSource string

const (
	SourceAutomation AlertSource = "automation"
	SourceCompliance AlertSource = "compliance"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type AlertStatus string

const (
	AlertOpen     AlertStatus = "open"
	AlertResolved AlertStatus = "resolved"
)

// AlertKind identifies the evaluator that produced an alert.
type AlertKind string

const (
	KindStaleCommunication    AlertKind = "STALE_COMMUNICATION"
	KindStageStalled          AlertKind = "STAGE_STALLED"
	KindTransportNotScheduled AlertKind = "TRANSPORT_NOT_SCHEDULED"
	KindMissingDocuments      AlertKind = "MISSING_DOCUMENTS"
	KindMissingDocumentType   AlertKind = "MISSING_DOCUMENT_TYPE"
	KindChecklistPending      AlertKind = "CHECKLIST_PENDING"
	KindLowInventory          AlertKind = "LOW_INVENTORY"
	KindMortuaryOverstay      AlertKind = "MORTUARY_OVERSTAY"
	KindPlotDoubleBooked      AlertKind = "PLOT_DOUBLE_BOOKED"
	KindEquipmentOverdue      AlertKind = "EQUIPMENT_OVERDUE"
	KindEquipmentDamaged      AlertKind = "EQUIPMENT_DAMAGED"
	KindWorkOrderDelayed      AlertKind = "WORK_ORDER_DELAYED"
)

type Alert struct {
	ID                string      `json:"id"`
	Source            AlertSource `json:"source" enum:"automation,compliance"`
	CaseID            *string     `json:"case_id,omitempty"`
	Kind              AlertKind   `json:"type"`
	DedupKey          string      `json:"dedup_key"`
	Severity          Severity    `json:"severity" enum:"low,medium,high"`
	Title             string      `json:"title"`
	Description       string      `json:"description,omitempty"`
	RecommendedAction string      `json:"recommended_action,omitempty"`
	SLADueAt          *time.Time  `json:"sla_due_at,omitempty" format:"date-time"`
	Status            AlertStatus `json:"status" enum:"open,resolved"`
	BreachedAt        *time.Time  `json:"breached_at,omitempty" format:"date-time"`
	ResolvedAt        *time.Time  `json:"resolved_at,omitempty" format:"date-time"`
	ResolvedBy        *string     `json:"resolved_by,omitempty"`
	CreatedAt         time.Time   `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	CaseID     string `json:"case_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Stage      string `json:"stage,omitempty"`
	Payload    string `json:"payload_json"`
}

type InventoryItem struct {
	ID        string    `json:"id"`
	SKU       string    `json:"sku"`
	Name      string    `json:"name"`
	Category  string    `json:"category,omitempty"`
	Quantity  int       `json:"quantity"`
	UpdatedAt time.Time `json:"updated_at" format:"date-time"`
}

type MortuaryRecord struct {
	ID           string     `json:"id"`
	CaseID       *string    `json:"case_id,omitempty"`
	DeceasedName string     `json:"deceased_name"`
	StorageUnit  string     `json:"storage_unit,omitempty"`
	CheckedInAt  time.Time  `json:"checked_in_at" format:"date-time"`
	ReleasedAt   *time.Time `json:"released_at,omitempty" format:"date-time"`
}

type PlotAssignment struct {
	ID         string    `json:"id"`
	PlotID     string    `json:"plot_id"`
	CaseID     string    `json:"case_id"`
	Status     string    `json:"status"`
	AssignedAt time.Time `json:"assigned_at" format:"date-time"`
}

const (
	ConditionOK      = "ok"
	ConditionDamaged = "damaged"
)

type EquipmentAllocation struct {
	ID            string     `json:"id"`
	EquipmentID   string     `json:"equipment_id"`
	EquipmentName string     `json:"equipment_name"`
	CaseID        *string    `json:"case_id,omitempty"`
	DueBackAt     *time.Time `json:"due_back_at,omitempty" format:"date-time"`
	ReturnedAt    *time.Time `json:"returned_at,omitempty" format:"date-time"`
	Condition     string     `json:"condition" enum:"ok,damaged"`
}

type WorkOrder struct {
	ID          string     `json:"id"`
	Vendor      string     `json:"vendor"`
	CaseID      *string    `json:"case_id,omitempty"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	DueAt       *time.Time `json:"due_at,omitempty" format:"date-time"`
	CompletedAt *time.Time `json:"completed_at,omitempty" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Role      string `json:"role"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
