package rules

import (
	"fmt"
	"strings"
	"time"

	"caseline/internal/compliance"
	"caseline/internal/domain"
	"caseline/internal/events"
	"caseline/internal/stage"
)

// StaleCommunication fires when the family has not written in the
// configured window. The newest inbound message is taken from
// LastInboundAt, so a long outbound thread cannot hide it. With no inbound
// message at all the case creation time is the baseline.
func StaleCommunication(cfg Config, c CaseContext) []Candidate {
	last := c.Case.CreatedAt
	if c.LastInboundAt != nil && c.LastInboundAt.After(last) {
		last = *c.LastInboundAt
	}
	for _, m := range c.Messages {
		if m.Direction == domain.DirectionInbound && m.CreatedAt.After(last) {
			last = m.CreatedAt
		}
	}
	if last.IsZero() || c.Now.Sub(last) < cfg.StaleCommunication {
		return nil
	}
	silent := c.Now.Sub(last).Truncate(time.Hour)
	return []Candidate{{
		Kind:              domain.KindStaleCommunication,
		DedupKey:          string(domain.KindStaleCommunication),
		Title:             "No inbound contact from family",
		Description:       fmt.Sprintf("No inbound message for %s on case %s.", formatHours(silent), caseLabel(c.Case)),
		RecommendedAction: "Call or message the family contact to confirm next steps.",
	}}
}

// StageStall fires when a case has stayed in its stage longer than the
// stage's threshold. The clock starts at the latest stage change, or the
// case's last update when no change was recorded.
func StageStall(cfg Config, c CaseContext) []Candidate {
	st := c.Case.Stage
	if stage.IsTerminal(st) {
		return nil
	}
	since := c.Case.UpdatedAt
	for _, e := range c.Events {
		if e.Type != events.CaseStageChanged {
			continue
		}
		if ts, err := time.Parse(time.RFC3339, e.TS); err == nil {
			since = ts
			break
		}
	}
	threshold := cfg.StallThreshold(st)
	if since.IsZero() || c.Now.Sub(since) <= threshold {
		return nil
	}
	return []Candidate{{
		Kind:              domain.KindStageStalled,
		DedupKey:          fmt.Sprintf("STAGE_STALLED_%s", dedupSuffix(string(st))),
		Title:             fmt.Sprintf("Case stalled in %s", stage.MetaFor(st).Label),
		Description:       fmt.Sprintf("Case %s has been in %s for %s (threshold %s).", caseLabel(c.Case), st, formatHours(c.Now.Sub(since).Truncate(time.Hour)), formatHours(threshold)),
		RecommendedAction: "Review outstanding work and move the case forward or note the blocker.",
	}}
}

// TransportNotScheduled fires for scheduled cases with no transport task.
func TransportNotScheduled(cfg Config, c CaseContext) []Candidate {
	if c.Case.Stage != stage.Scheduled {
		return nil
	}
	for _, t := range c.Tasks {
		if strings.Contains(strings.ToLower(t.Title), cfg.TransportKeyword) {
			return nil
		}
	}
	return []Candidate{{
		Kind:              domain.KindTransportNotScheduled,
		DedupKey:          string(domain.KindTransportNotScheduled),
		Title:             "Transport not booked",
		Description:       fmt.Sprintf("Case %s is scheduled but has no %s task.", caseLabel(c.Case), cfg.TransportKeyword),
		RecommendedAction: "Book the hearse or removal vehicle and add a transport task.",
	}}
}

// MissingDocuments fires once a case is in a document-bearing stage and
// nothing has been uploaded.
func MissingDocuments(cfg Config, c CaseContext) []Candidate {
	if len(c.Documents) > 0 || !containsStage(cfg.DocumentStages, c.Case.Stage) {
		return nil
	}
	return []Candidate{{
		Kind:              domain.KindMissingDocuments,
		DedupKey:          string(domain.KindMissingDocuments),
		Title:             "No documents on file",
		Description:       fmt.Sprintf("Case %s is in %s with no documents uploaded.", caseLabel(c.Case), c.Case.Stage),
		RecommendedAction: "Request the death certificate and authorizations from the family.",
	}}
}

// MissingDocumentTypes fires for each configured document type that is due
// at the case's stage and not verified or waived. A requirement's own SLA
// takes precedence over the kind default.
func MissingDocumentTypes(cfg Config, c CaseContext) []Candidate {
	if !c.Case.Stage.Valid() {
		return nil
	}
	byType := make(map[string]domain.DocumentRequirement, len(c.Requirements))
	for _, r := range c.Requirements {
		byType[r.DocumentType] = r
	}
	uploaded := make(map[string]bool, len(c.Documents))
	for _, d := range c.Documents {
		uploaded[d.DocumentType] = true
	}
	var out []Candidate
	for _, want := range cfg.RequiredDocuments {
		if stage.Ordinal(want.Stage) > stage.Ordinal(c.Case.Stage) {
			continue
		}
		req, tracked := byType[want.Type]
		if tracked && compliance.DocumentSatisfied(req) {
			continue
		}
		label := want.Label
		if label == "" {
			label = want.Type
		}
		state := "has not been received"
		switch {
		case tracked && req.Status == domain.DocumentRejected:
			state = "was rejected"
		case tracked && req.Status == domain.DocumentSubmitted, uploaded[want.Type]:
			state = "is awaiting verification"
		}
		cand := Candidate{
			Kind:              domain.KindMissingDocumentType,
			DedupKey:          "MISSING_" + dedupSuffix(want.Type),
			Severity:          want.Severity,
			Title:             fmt.Sprintf("%s outstanding", label),
			Description:       fmt.Sprintf("%s for case %s %s; required from %s.", label, caseLabel(c.Case), state, want.Stage),
			RecommendedAction: fmt.Sprintf("Obtain and verify the %s, or record a waiver with a reason.", strings.ToLower(label)),
		}
		if tracked && req.SLADueAt != nil {
			due := req.SLADueAt.UTC()
			cand.SLADueAt = &due
		}
		out = append(out, cand)
	}
	return out
}

// ChecklistPending fires for each required item due at the case's current
// stage that is neither completed nor waived. Items whose required stage
// lies ahead of the case are skipped until the case reaches that stage;
// the stage gate, not this rule, reports them.
func ChecklistPending(cfg Config, c CaseContext) []Candidate {
	var out []Candidate
	for _, it := range c.Checklist {
		if !it.IsRequired || compliance.ChecklistSatisfied(it) {
			continue
		}
		if due, _ := compliance.StageDue(it.RequiredStage, c.Case.Stage); !due {
			continue
		}
		label := it.Label
		if label == "" {
			label = it.ItemKey
		}
		out = append(out, Candidate{
			Kind:              domain.KindChecklistPending,
			DedupKey:          "CHECKLIST_" + dedupSuffix(it.ItemKey),
			Title:             fmt.Sprintf("Checklist item pending: %s", label),
			Description:       fmt.Sprintf("Required %s item %q on case %s is %s.", it.Category, label, caseLabel(c.Case), it.Status),
			RecommendedAction: "Complete the item or waive it with a reason.",
		})
	}
	return out
}

func containsStage(list []stage.Stage, s stage.Stage) bool {
	for _, st := range list {
		if st == s {
			return true
		}
	}
	return false
}

func caseLabel(c domain.Case) string {
	if c.Reference != "" {
		return c.Reference
	}
	return c.ID
}

func formatHours(d time.Duration) string {
	return fmt.Sprintf("%dh", int(d.Hours()))
}
