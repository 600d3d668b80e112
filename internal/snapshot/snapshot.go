// Package snapshot assembles the read-only contexts rule evaluators run on.
package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"caseline/internal/events"
	"caseline/internal/repo"
	"caseline/internal/rules"
)

const (
	defaultMessageLimit = 100
	defaultEventLimit   = 20
)

type Assembler struct {
	Repo         repo.Repo
	MessageLimit int
	EventLimit   int
	// LowStockThreshold bounds the inventory rows loaded for the aux pass.
	LowStockThreshold int
}

func New(conn *sql.DB, lowStock int) Assembler {
	return Assembler{Repo: repo.Repo{DB: conn}, LowStockThreshold: lowStock}
}

// BuildCaseContext loads everything case-scoped evaluators read. All reads
// share one read transaction so the snapshot is consistent.
func (a Assembler) BuildCaseContext(ctx context.Context, caseID string, now time.Time) (rules.CaseContext, error) {
	tx, err := a.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return rules.CaseContext{}, err
	}
	defer tx.Rollback()

	c, err := a.Repo.GetCaseTx(ctx, tx, caseID)
	if err != nil {
		return rules.CaseContext{}, fmt.Errorf("case %s: %w", caseID, err)
	}
	cc := rules.CaseContext{Version: rules.ContextVersion, Now: now.UTC(), Case: c}
	if cc.Messages, err = a.Repo.ListMessages(ctx, tx, caseID, limitOr(a.MessageLimit, defaultMessageLimit)); err != nil {
		return rules.CaseContext{}, fmt.Errorf("messages: %w", err)
	}
	if cc.LastInboundAt, err = a.Repo.LatestInboundAt(ctx, tx, caseID); err != nil {
		return rules.CaseContext{}, fmt.Errorf("last inbound: %w", err)
	}
	if cc.Events, err = a.Repo.ListCaseEvents(ctx, tx, caseID, events.CaseStageChanged, limitOr(a.EventLimit, defaultEventLimit)); err != nil {
		return rules.CaseContext{}, fmt.Errorf("events: %w", err)
	}
	if cc.Tasks, err = a.Repo.ListTasks(ctx, tx, caseID); err != nil {
		return rules.CaseContext{}, fmt.Errorf("tasks: %w", err)
	}
	if cc.Documents, err = a.Repo.ListDocuments(ctx, tx, caseID); err != nil {
		return rules.CaseContext{}, fmt.Errorf("documents: %w", err)
	}
	if cc.Checklist, err = a.Repo.ListChecklistItems(ctx, tx, caseID); err != nil {
		return rules.CaseContext{}, fmt.Errorf("checklist: %w", err)
	}
	if cc.Requirements, err = a.Repo.ListDocumentRequirements(ctx, tx, caseID); err != nil {
		return rules.CaseContext{}, fmt.Errorf("document requirements: %w", err)
	}
	return cc, nil
}

// BuildAuxContext loads the cross-case domains.
func (a Assembler) BuildAuxContext(ctx context.Context, now time.Time) (rules.AuxContext, error) {
	ac := rules.AuxContext{Version: rules.ContextVersion, Now: now.UTC()}
	var err error
	if ac.Inventory, err = a.Repo.ListLowStock(ctx, a.LowStockThreshold); err != nil {
		return rules.AuxContext{}, fmt.Errorf("inventory: %w", err)
	}
	if ac.Mortuary, err = a.Repo.ListUnreleasedMortuary(ctx); err != nil {
		return rules.AuxContext{}, fmt.Errorf("mortuary: %w", err)
	}
	if ac.Plots, err = a.Repo.ListActivePlotAssignments(ctx); err != nil {
		return rules.AuxContext{}, fmt.Errorf("plots: %w", err)
	}
	if ac.Equipment, err = a.Repo.ListOutstandingEquipment(ctx); err != nil {
		return rules.AuxContext{}, fmt.Errorf("equipment: %w", err)
	}
	if ac.WorkOrders, err = a.Repo.ListOpenWorkOrders(ctx); err != nil {
		return rules.AuxContext{}, fmt.Errorf("work orders: %w", err)
	}
	return ac, nil
}

func limitOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
