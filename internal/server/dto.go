package server

import (
	"time"

	"caseline/internal/compliance"
	"caseline/internal/domain"
	"caseline/internal/stage"
)

// Request payloads

type CreateCaseRequest struct {
	ID           string     `json:"id,omitempty"`
	Reference    string     `json:"reference,omitempty"`
	DeceasedName string     `json:"deceased_name" minLength:"1"`
	Location     string     `json:"location,omitempty"`
	ServiceDate  *time.Time `json:"service_date,omitempty" format:"date-time"`
	// RequireDocuments attaches the configured required documents as
	// pending requirements.
	RequireDocuments bool `json:"require_documents,omitempty"`
}

type TransitionRequest struct {
	Target string `json:"target" example:"DOCUMENTS"`
	Force  bool   `json:"force,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type StatusUpdateRequest struct {
	Status string `json:"status" example:"completed"`
	Reason string `json:"reason,omitempty"`
}

type MessageRequest struct {
	Direction string `json:"direction" enum:"inbound,outbound"`
	Body      string `json:"body"`
}

type TaskRequest struct {
	Title  string     `json:"title" minLength:"1"`
	Status string     `json:"status,omitempty"`
	DueAt  *time.Time `json:"due_at,omitempty" format:"date-time"`
}

type DocumentRequest struct {
	DocumentType string `json:"document_type" minLength:"1"`
	FileName     string `json:"file_name,omitempty"`
}

type ChecklistItemRequest struct {
	Category      string `json:"category,omitempty"`
	ItemKey       string `json:"item_key" minLength:"1"`
	Label         string `json:"label,omitempty"`
	RequiredStage string `json:"required_stage" example:"INTAKE"`
	IsRequired    *bool  `json:"is_required,omitempty"`
}

type RequirementRequest struct {
	DocumentType  string     `json:"document_type" minLength:"1"`
	RequiredStage string     `json:"required_stage" example:"DOCUMENTS"`
	IsRequired    *bool      `json:"is_required,omitempty"`
	SLADueAt      *time.Time `json:"sla_due_at,omitempty" format:"date-time"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id" minLength:"1"`
	Role    string `json:"role" enum:"admin,director,arranger,coordinator"`
	Name    string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id" minLength:"1"`
	Role    string `json:"role" enum:"admin,director,arranger,coordinator"`
}

// Responses

type StageResponse struct {
	stage.Meta
	Ordinal int           `json:"ordinal"`
	Next    []stage.Stage `json:"next"`
}

type CaseDetailResponse struct {
	Case         domain.Case                  `json:"case"`
	Meta         stage.Meta                   `json:"stage_meta"`
	Next         []stage.Stage                `json:"next"`
	Checklist    []domain.ChecklistItem       `json:"checklist"`
	Requirements []domain.DocumentRequirement `json:"document_requirements"`
	OpenAlerts   []domain.Alert               `json:"open_alerts"`
}

type GateResponse struct {
	CaseID string                `json:"case_id"`
	Gate   compliance.GateResult `json:"gate"`
}

type ResolveAlertResponse struct {
	Resolved bool          `json:"resolved"`
	Alert    *domain.Alert `json:"alert,omitempty"`
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type paginatedCases struct {
	Items      []domain.Case `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type CreateAPIKeyResponse struct {
	Key    string        `json:"key"`
	APIKey domain.APIKey `json:"api_key"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func stageResponse(s stage.Stage) StageResponse {
	return StageResponse{
		Meta:    stage.MetaFor(s),
		Ordinal: stage.Ordinal(s),
		Next:    nonNilSlice(stage.AllowedNext(s)),
	}
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
