package rules

import (
	"time"

	"caseline/internal/domain"
)

// KindSpec is the fixed classification of an alert kind.
type KindSpec struct {
	Source   domain.AlertSource
	Severity domain.Severity
	SLA      time.Duration
}

var kinds = map[domain.AlertKind]KindSpec{
	domain.KindStaleCommunication:    {Source: domain.SourceAutomation, Severity: domain.SeverityHigh, SLA: 6 * time.Hour},
	domain.KindStageStalled:          {Source: domain.SourceAutomation, Severity: domain.SeverityMedium, SLA: 24 * time.Hour},
	domain.KindTransportNotScheduled: {Source: domain.SourceAutomation, Severity: domain.SeverityHigh, SLA: 4 * time.Hour},
	domain.KindMissingDocuments:      {Source: domain.SourceAutomation, Severity: domain.SeverityMedium, SLA: 24 * time.Hour},
	domain.KindMissingDocumentType:   {Source: domain.SourceCompliance, Severity: domain.SeverityHigh, SLA: 12 * time.Hour},
	domain.KindChecklistPending:      {Source: domain.SourceCompliance, Severity: domain.SeverityMedium, SLA: 24 * time.Hour},
	domain.KindLowInventory:          {Source: domain.SourceAutomation, Severity: domain.SeverityMedium, SLA: 24 * time.Hour},
	domain.KindMortuaryOverstay:      {Source: domain.SourceAutomation, Severity: domain.SeverityHigh, SLA: 4 * time.Hour},
	domain.KindPlotDoubleBooked:      {Source: domain.SourceAutomation, Severity: domain.SeverityHigh, SLA: 2 * time.Hour},
	domain.KindEquipmentOverdue:      {Source: domain.SourceAutomation, Severity: domain.SeverityHigh, SLA: 2 * time.Hour},
	domain.KindEquipmentDamaged:      {Source: domain.SourceAutomation, Severity: domain.SeverityHigh, SLA: 2 * time.Hour},
	domain.KindWorkOrderDelayed:      {Source: domain.SourceAutomation, Severity: domain.SeverityMedium, SLA: 12 * time.Hour},
}

// Spec returns the classification for k.
func Spec(k domain.AlertKind) (KindSpec, bool) {
	s, ok := kinds[k]
	return s, ok
}

// SourceOf returns the alert source for k, automation when unknown.
func SourceOf(k domain.AlertKind) domain.AlertSource {
	if s, ok := kinds[k]; ok {
		return s.Source
	}
	return domain.SourceAutomation
}

// Kinds lists every known alert kind.
func Kinds() []domain.AlertKind {
	return []domain.AlertKind{
		domain.KindStaleCommunication,
		domain.KindStageStalled,
		domain.KindTransportNotScheduled,
		domain.KindMissingDocuments,
		domain.KindMissingDocumentType,
		domain.KindChecklistPending,
		domain.KindLowInventory,
		domain.KindMortuaryOverstay,
		domain.KindPlotDoubleBooked,
		domain.KindEquipmentOverdue,
		domain.KindEquipmentDamaged,
		domain.KindWorkOrderDelayed,
	}
}
