// Package rules holds the alert evaluators. Every evaluator is a pure
// function of a read-only snapshot and returns candidate alerts; persisting
// them is the caller's job.
package rules

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"caseline/internal/config"
	"caseline/internal/domain"
	"caseline/internal/stage"
)

// ContextVersion is bumped whenever CaseContext or AuxContext change shape.
const ContextVersion = 1

// CaseContext is the snapshot case evaluators read.
type CaseContext struct {
	Version int
	Now     time.Time
	Case    domain.Case
	// Messages are newest first and may be truncated.
	Messages []domain.Message
	// LastInboundAt is the newest inbound message regardless of truncation.
	LastInboundAt *time.Time
	// Events are the case's stage-change events, newest first.
	Events       []domain.Event
	Tasks        []domain.CaseTask
	Documents    []domain.Document
	Checklist    []domain.ChecklistItem
	Requirements []domain.DocumentRequirement
}

// AuxContext is the snapshot of the cross-case domains.
type AuxContext struct {
	Version    int
	Now        time.Time
	Inventory  []domain.InventoryItem
	Mortuary   []domain.MortuaryRecord
	Plots      []domain.PlotAssignment
	Equipment  []domain.EquipmentAllocation
	WorkOrders []domain.WorkOrder
}

// Candidate is an alert an evaluator wants open.
type Candidate struct {
	Kind              domain.AlertKind `json:"type"`
	DedupKey          string           `json:"dedup_key"`
	Severity          domain.Severity  `json:"severity"`
	Title             string           `json:"title"`
	Description       string           `json:"description,omitempty"`
	RecommendedAction string           `json:"recommended_action,omitempty"`
	SLADueAt          *time.Time       `json:"sla_due_at,omitempty"`
	// CaseID is set by auxiliary evaluators when the entity belongs to a case.
	CaseID string `json:"case_id,omitempty"`
}

type RequiredDocument struct {
	Type     string
	Label    string
	Stage    stage.Stage
	Severity domain.Severity
}

// Config holds evaluator thresholds.
type Config struct {
	StaleCommunication time.Duration
	StageStall         map[stage.Stage]time.Duration
	DefaultStall       time.Duration
	TransportKeyword   string
	DocumentStages     []stage.Stage
	RequiredDocuments  []RequiredDocument
	LowStockThreshold  int
	MortuaryOverstay   time.Duration
	SLA                map[domain.AlertKind]time.Duration
}

// DefaultConfig mirrors the default caseline.yml.
func DefaultConfig() Config {
	return FromConfig(config.Default("default"))
}

// FromConfig builds evaluator settings from the rules section.
func FromConfig(c *config.Config) Config {
	r := c.Rules
	cfg := Config{
		StaleCommunication: hours(r.StaleCommunicationHours, 72),
		StageStall:         map[stage.Stage]time.Duration{},
		DefaultStall:       hours(r.DefaultStallHours, 96),
		TransportKeyword:   strings.ToLower(strings.TrimSpace(r.TransportKeyword)),
		DocumentStages:     []stage.Stage{stage.Documents, stage.Quote, stage.Scheduled},
		LowStockThreshold:  c.LowStock(),
		MortuaryOverstay:   hours(r.MortuaryOverstayHours, 72),
		SLA:                map[domain.AlertKind]time.Duration{},
	}
	if cfg.TransportKeyword == "" {
		cfg.TransportKeyword = "transport"
	}
	for name, h := range r.StageStallHours {
		if st, ok := stage.Lookup(name); ok {
			cfg.StageStall[st] = hours(h, 0)
		}
	}
	for kind, h := range r.SLAHours {
		cfg.SLA[domain.AlertKind(strings.ToUpper(kind))] = hours(h, 0)
	}
	for _, d := range r.RequiredDocuments {
		cfg.RequiredDocuments = append(cfg.RequiredDocuments, RequiredDocument{
			Type:     d.Type,
			Label:    d.Label,
			Stage:    stage.Parse(d.Stage),
			Severity: domain.Severity(d.Severity),
		})
	}
	return cfg
}

func hours(h, fallback int) time.Duration {
	if h <= 0 {
		h = fallback
	}
	return time.Duration(h) * time.Hour
}

// SLAFor is the default offset for kind, config overrides first.
func (c Config) SLAFor(kind domain.AlertKind) time.Duration {
	if d, ok := c.SLA[kind]; ok && d > 0 {
		return d
	}
	if s, ok := kinds[kind]; ok {
		return s.SLA
	}
	return 24 * time.Hour
}

// StallThreshold is the time a case may sit in st before it is stalled.
func (c Config) StallThreshold(st stage.Stage) time.Duration {
	if d, ok := c.StageStall[st]; ok && d > 0 {
		return d
	}
	return c.DefaultStall
}

// finish fills severity and SLA from the kind table where the evaluator
// left them unset.
func (c Config) finish(now time.Time, cands []Candidate) []Candidate {
	for i := range cands {
		spec, _ := Spec(cands[i].Kind)
		if cands[i].Severity == "" {
			cands[i].Severity = spec.Severity
		}
		if cands[i].SLADueAt == nil {
			due := now.Add(c.SLAFor(cands[i].Kind)).UTC()
			cands[i].SLADueAt = &due
		}
	}
	return cands
}

// EvaluationError reports an evaluator that panicked or failed.
type EvaluationError struct {
	Rule   string
	CaseID string
	Err    error
}

func (e *EvaluationError) Error() string {
	if e.CaseID == "" {
		return fmt.Sprintf("rule %s: %v", e.Rule, e.Err)
	}
	return fmt.Sprintf("rule %s on case %s: %v", e.Rule, e.CaseID, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// CaseRule is one case-scoped evaluator.
type CaseRule struct {
	Name string
	Eval func(Config, CaseContext) []Candidate
}

// AuxRule is one cross-case evaluator.
type AuxRule struct {
	Name string
	Eval func(Config, AuxContext) []Candidate
}

// AutomationRules are the case-scoped operational evaluators.
func AutomationRules() []CaseRule {
	return []CaseRule{
		{Name: "stale_communication", Eval: StaleCommunication},
		{Name: "stage_stall", Eval: StageStall},
		{Name: "transport_not_scheduled", Eval: TransportNotScheduled},
		{Name: "missing_documents", Eval: MissingDocuments},
	}
}

// ComplianceRules are the case-scoped compliance detectors.
func ComplianceRules() []CaseRule {
	return []CaseRule{
		{Name: "missing_document_type", Eval: MissingDocumentTypes},
		{Name: "checklist_pending", Eval: ChecklistPending},
	}
}

// AuxRules are the cross-case evaluators run once per sweep.
func AuxRules() []AuxRule {
	return []AuxRule{
		{Name: "low_inventory", Eval: LowInventory},
		{Name: "mortuary_overstay", Eval: MortuaryOverstay},
		{Name: "plot_double_booked", Eval: PlotDoubleBooked},
		{Name: "equipment_overdue", Eval: EquipmentOverdue},
		{Name: "equipment_damaged", Eval: EquipmentDamaged},
		{Name: "work_order_delayed", Eval: WorkOrderDelayed},
	}
}

// EvaluateCase runs every rule against c and concatenates the results. A
// rule that panics is reported in the returned error; the others still run.
func (c Config) EvaluateCase(rules []CaseRule, cc CaseContext) ([]Candidate, error) {
	var out []Candidate
	var errs []error
	for _, r := range rules {
		cands, err := runCase(c, r, cc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, cands...)
	}
	return c.finish(cc.Now, out), errors.Join(errs...)
}

// EvaluateAux runs every auxiliary rule against a.
func (c Config) EvaluateAux(rules []AuxRule, a AuxContext) ([]Candidate, error) {
	var out []Candidate
	var errs []error
	for _, r := range rules {
		cands, err := runAux(c, r, a)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, cands...)
	}
	return c.finish(a.Now, out), errors.Join(errs...)
}

func runCase(c Config, r CaseRule, cc CaseContext) (cands []Candidate, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &EvaluationError{Rule: r.Name, CaseID: cc.Case.ID, Err: fmt.Errorf("panic: %v\n%s", p, debug.Stack())}
		}
	}()
	return r.Eval(c, cc), nil
}

func runAux(c Config, r AuxRule, a AuxContext) (cands []Candidate, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &EvaluationError{Rule: r.Name, Err: fmt.Errorf("panic: %v\n%s", p, debug.Stack())}
		}
	}()
	return r.Eval(c, a), nil
}

func dedupSuffix(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
