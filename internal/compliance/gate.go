// Package compliance decides whether a case's checklist items and document
// requirements allow it to advance to a target stage, and owns the status
// updates that satisfy them.
package compliance

import (
	"fmt"
	"strings"

	"caseline/internal/domain"
	"caseline/internal/stage"
)

// GateResult is computed fresh on every evaluation and never stored.
type GateResult struct {
	Target            stage.Stage                  `json:"target_stage"`
	Passed            bool                         `json:"passed"`
	BlockingChecklist []domain.ChecklistItem       `json:"blocking_checklist"`
	BlockingDocuments []domain.DocumentRequirement `json:"blocking_documents"`
	// Unmapped lists rows whose required stage the registry cannot
	// interpret. They never block.
	Unmapped []string `json:"unmapped,omitempty"`
}

// StageDue reports whether a requirement for required is due once a case
// reaches target. known is false when required is neither ANY nor a
// registered stage; such requirements are never due.
func StageDue(required string, target stage.Stage) (due bool, known bool) {
	if strings.EqualFold(strings.TrimSpace(required), stage.Any) {
		return true, true
	}
	st, ok := stage.Lookup(required)
	if !ok {
		return false, false
	}
	return stage.Ordinal(st) <= stage.Ordinal(target), true
}

// ChecklistSatisfied reports whether the item counts as done.
func ChecklistSatisfied(it domain.ChecklistItem) bool {
	switch it.Status {
	case domain.ChecklistCompleted, domain.ChecklistWaived:
		return true
	}
	return waivedByMetadata(it.Metadata)
}

// DocumentSatisfied reports whether the requirement counts as done.
func DocumentSatisfied(d domain.DocumentRequirement) bool {
	switch d.Status {
	case domain.DocumentVerified, domain.DocumentWaived:
		return true
	}
	return waivedByMetadata(d.Metadata)
}

// waivedByMetadata honours a legacy waived=true flag in row metadata even
// when the status column disagrees.
func waivedByMetadata(m map[string]any) bool {
	v, ok := m["waived"]
	if !ok {
		return false
	}
	switch x := v.(type) {
	case bool:
		return x
	case string:
		return strings.EqualFold(strings.TrimSpace(x), "true")
	}
	return false
}

// Evaluate computes the gate for target over already loaded rows.
func Evaluate(target stage.Stage, checklist []domain.ChecklistItem, documents []domain.DocumentRequirement) GateResult {
	res := GateResult{
		Target:            target,
		BlockingChecklist: []domain.ChecklistItem{},
		BlockingDocuments: []domain.DocumentRequirement{},
	}
	for _, it := range checklist {
		due, known := StageDue(it.RequiredStage, target)
		if !known {
			res.Unmapped = append(res.Unmapped, fmt.Sprintf("checklist:%s:%s", it.ItemKey, it.RequiredStage))
			continue
		}
		if due && it.IsRequired && !ChecklistSatisfied(it) {
			res.BlockingChecklist = append(res.BlockingChecklist, it)
		}
	}
	for _, d := range documents {
		due, known := StageDue(d.RequiredStage, target)
		if !known {
			res.Unmapped = append(res.Unmapped, fmt.Sprintf("document:%s:%s", d.DocumentType, d.RequiredStage))
			continue
		}
		if due && d.IsRequired && !DocumentSatisfied(d) {
			res.BlockingDocuments = append(res.BlockingDocuments, d)
		}
	}
	res.Passed = len(res.BlockingChecklist) == 0 && len(res.BlockingDocuments) == 0
	return res
}
