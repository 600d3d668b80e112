package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"caseline/internal/compliance"
	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/engine/auth"
	"caseline/internal/events"
	"caseline/internal/migrate"
	"caseline/internal/repo"
	"caseline/internal/stage"
)

var fixedNow = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	CaseID string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default("home-1"))
	clock := func() time.Time { return fixedNow }
	eng.Now = clock
	eng.Events.Now = clock
	eng.Compliance.Now = clock
	ctx := context.Background()
	c, err := eng.CreateCase(ctx, engine.CaseCreateOptions{DeceasedName: "Jane Roe", ActorID: "tester"})
	if err != nil {
		t.Fatalf("create case: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, CaseID: c.ID}
}

func (env testEnv) move(t *testing.T, target stage.Stage, role string) (engine.TransitionResult, error) {
	t.Helper()
	return env.Engine.TransitionStage(env.Ctx, engine.TransitionRequest{CaseID: env.CaseID, Target: string(target), Role: role, ActorID: "tester"})
}

func stageEvents(t *testing.T, env testEnv, typ string) []domain.Event {
	t.Helper()
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{CaseID: env.CaseID, Type: typ})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	return evts
}

func TestCreateCaseStartsInInitialStage(t *testing.T) {
	env := newTestEnv(t)
	c, err := env.Engine.Repo.GetCase(env.Ctx, env.CaseID)
	if err != nil {
		t.Fatalf("get case: %v", err)
	}
	if c.Stage != stage.New {
		t.Fatalf("expected NEW, got %s", c.Stage)
	}
	if len(stageEvents(t, env, events.CaseCreated)) != 1 {
		t.Fatalf("expected one case.created event")
	}
	if _, err := env.Engine.CreateCase(env.Ctx, engine.CaseCreateOptions{DeceasedName: "  "}); err == nil {
		t.Fatalf("expected name validation error")
	}
}

func TestTransitionWritesStageAndEvent(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.move(t, stage.Intake, stage.RoleArranger)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if res.Case.Stage != stage.Intake || res.From != stage.New || !res.Gate.Passed || res.Overridden {
		t.Fatalf("unexpected result: %+v", res)
	}
	evts := stageEvents(t, env, events.CaseStageChanged)
	if len(evts) != 1 || evts[0].Stage != string(stage.Intake) {
		t.Fatalf("expected one stage change event into INTAKE, got %+v", evts)
	}
}

func TestTransitionRejectsSkipsAndUnknownStages(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.move(t, stage.Quote, stage.RoleAdmin)
	if !errors.Is(err, stage.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	_, err = env.Engine.TransitionStage(env.Ctx, engine.TransitionRequest{CaseID: env.CaseID, Target: "EMBALMING", Role: stage.RoleAdmin})
	if !errors.Is(err, stage.ErrUnknownStage) {
		t.Fatalf("expected unknown stage, got %v", err)
	}
	_, err = env.Engine.TransitionStage(env.Ctx, engine.TransitionRequest{CaseID: "missing", Target: "INTAKE", Role: stage.RoleAdmin})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTransitionChecksRole(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.move(t, stage.Intake, stage.RoleCoordinator); err != nil {
		t.Fatalf("coordinator to intake: %v", err)
	}
	if _, err := env.move(t, stage.Documents, stage.RoleCoordinator); err != nil {
		t.Fatalf("coordinator to documents: %v", err)
	}
	_, err := env.move(t, stage.Quote, stage.RoleCoordinator)
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if fe.Stage != string(stage.Documents) {
		t.Fatalf("forbidden error should name the source stage, got %+v", fe)
	}
}

func TestTransitionBlockedByGateLeavesCaseUnchanged(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.AddChecklistItem(env.Ctx, domain.ChecklistItem{
		CaseID: env.CaseID, Category: "intake", ItemKey: "family_contact", RequiredStage: "INTAKE", IsRequired: true,
	}, "tester"); err != nil {
		t.Fatalf("add checklist item: %v", err)
	}
	_, err := env.move(t, stage.Intake, stage.RoleDirector)
	var blocked *compliance.GateBlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected gate blocked, got %v", err)
	}
	if len(blocked.Result.BlockingChecklist) != 1 {
		t.Fatalf("expected one blocking item, got %+v", blocked.Result)
	}
	c, _ := env.Engine.Repo.GetCase(env.Ctx, env.CaseID)
	if c.Stage != stage.New {
		t.Fatalf("stage changed despite blocked gate: %s", c.Stage)
	}
	if n := len(stageEvents(t, env, events.CaseStageChanged)); n != 0 {
		t.Fatalf("expected no stage events, got %d", n)
	}
}

func TestForcedTransitionIsAdminOnlyAndAudited(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.AddDocumentRequirement(env.Ctx, domain.DocumentRequirement{
		CaseID: env.CaseID, DocumentType: "removal_authorization", RequiredStage: "INTAKE", IsRequired: true,
	}, "tester"); err != nil {
		t.Fatalf("add requirement: %v", err)
	}
	_, err := env.Engine.TransitionStage(env.Ctx, engine.TransitionRequest{
		CaseID: env.CaseID, Target: "INTAKE", Role: stage.RoleDirector, Force: true, Reason: "family on site",
	})
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) || fe.Action != auth.ActionGateOverride {
		t.Fatalf("expected override forbidden for director, got %v", err)
	}
	_, err = env.Engine.TransitionStage(env.Ctx, engine.TransitionRequest{
		CaseID: env.CaseID, Target: "INTAKE", Role: stage.RoleAdmin, Force: true,
	})
	if err == nil {
		t.Fatalf("expected reason required")
	}
	res, err := env.Engine.TransitionStage(env.Ctx, engine.TransitionRequest{
		CaseID: env.CaseID, Target: "INTAKE", Role: stage.RoleAdmin, ActorID: "boss", Force: true, Reason: "family on site",
	})
	if err != nil {
		t.Fatalf("forced transition: %v", err)
	}
	if !res.Overridden || res.Gate.Passed || len(res.Gate.BlockingDocuments) != 1 {
		t.Fatalf("unexpected forced result: %+v", res)
	}
	overrides := stageEvents(t, env, events.GateOverridden)
	if len(overrides) != 1 || overrides[0].ActorID != "boss" {
		t.Fatalf("expected one override event by boss, got %+v", overrides)
	}
}

func TestRecordHelpersRequireCase(t *testing.T) {
	env := newTestEnv(t)
	m, err := env.Engine.RecordMessage(env.Ctx, domain.Message{CaseID: env.CaseID, Direction: domain.DirectionInbound, Body: "when is the service?"}, "tester")
	if err != nil {
		t.Fatalf("record message: %v", err)
	}
	if !m.CreatedAt.Equal(fixedNow) {
		t.Fatalf("expected message stamped with clock, got %s", m.CreatedAt)
	}
	if _, err := env.Engine.RecordMessage(env.Ctx, domain.Message{CaseID: env.CaseID, Direction: "sideways"}, "tester"); err == nil {
		t.Fatalf("expected direction error")
	}
	if _, err := env.Engine.AddTask(env.Ctx, domain.CaseTask{CaseID: "nope", Title: "Schedule transport"}, "tester"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for unknown case, got %v", err)
	}
	if _, err := env.Engine.AddDocument(env.Ctx, domain.Document{CaseID: env.CaseID, DocumentType: "death_certificate"}, "tester"); err != nil {
		t.Fatalf("add document: %v", err)
	}
	docs, err := env.Engine.Repo.ListDocuments(env.Ctx, env.Engine.DB, env.CaseID)
	if err != nil || len(docs) != 1 {
		t.Fatalf("expected one document, got %d (%v)", len(docs), err)
	}
}

func TestRequireConfiguredDocumentsIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	added, err := env.Engine.RequireConfiguredDocuments(env.Ctx, env.CaseID, "tester")
	if err != nil {
		t.Fatalf("require documents: %v", err)
	}
	if len(added) != len(env.Engine.Config.Rules.RequiredDocuments) {
		t.Fatalf("expected %d requirements, got %d", len(env.Engine.Config.Rules.RequiredDocuments), len(added))
	}
	again, err := env.Engine.RequireConfiguredDocuments(env.Ctx, env.CaseID, "tester")
	if err != nil || len(again) != 0 {
		t.Fatalf("second call should add nothing, got %d (%v)", len(again), err)
	}
}

func TestRecordAux(t *testing.T) {
	env := newTestEnv(t)
	id, err := env.Engine.RecordAux(env.Ctx, engine.AuxRecord{Inventory: &domain.InventoryItem{SKU: "URN-1", Name: "Urn", Quantity: 1}}, "tester")
	if err != nil || id == "" {
		t.Fatalf("record inventory: %q %v", id, err)
	}
	low, err := env.Engine.Repo.ListLowStock(env.Ctx, 2)
	if err != nil || len(low) != 1 {
		t.Fatalf("expected one low stock item, got %d (%v)", len(low), err)
	}
	if _, err := env.Engine.RecordAux(env.Ctx, engine.AuxRecord{}, "tester"); err == nil {
		t.Fatalf("expected empty record error")
	}
}
