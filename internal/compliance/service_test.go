package compliance_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseline/internal/compliance"
	"caseline/internal/db"
	"caseline/internal/domain"
	"caseline/internal/migrate"
	"caseline/internal/repo"
	"caseline/internal/stage"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	Svc compliance.Service
	Ctx context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	svc := compliance.NewService(conn, nil)
	svc.Now = func() time.Time { return fixedNow }
	ctx := context.Background()
	require.NoError(t, svc.Repo.InsertCase(ctx, conn, domain.Case{
		ID: "case-1", DeceasedName: "A. Person", Stage: stage.Intake, CreatedAt: fixedNow, UpdatedAt: fixedNow,
	}))
	require.NoError(t, svc.Repo.InsertChecklistItem(ctx, conn, domain.ChecklistItem{
		ID: "item-1", CaseID: "case-1", Category: "intake", ItemKey: "family_contact", RequiredStage: "INTAKE",
		IsRequired: true, Status: domain.ChecklistPending, UpdatedAt: fixedNow,
	}))
	require.NoError(t, svc.Repo.InsertDocumentRequirement(ctx, conn, domain.DocumentRequirement{
		ID: "req-1", CaseID: "case-1", DocumentType: "death_certificate", RequiredStage: "DOCUMENTS",
		IsRequired: true, Status: domain.DocumentPending, UpdatedAt: fixedNow,
	}))
	return testEnv{Svc: svc, Ctx: ctx}
}

func TestSetChecklistStatusMutualExclusion(t *testing.T) {
	env := newTestEnv(t)

	it, err := env.Svc.SetChecklistStatus(env.Ctx, compliance.ChecklistUpdate{ItemID: "item-1", Status: "completed", ActorID: "ana"})
	require.NoError(t, err)
	assert.Equal(t, domain.ChecklistCompleted, it.Status)
	require.NotNil(t, it.CompletedBy)
	assert.Equal(t, "ana", *it.CompletedBy)
	assert.Nil(t, it.WaivedBy)
	assert.Nil(t, it.WaivedAt)
	assert.Nil(t, it.WaiverReason)

	it, err = env.Svc.SetChecklistStatus(env.Ctx, compliance.ChecklistUpdate{ItemID: "item-1", Status: "waived", ActorID: "bo", Reason: "family declined"})
	require.NoError(t, err)
	assert.Nil(t, it.CompletedBy)
	assert.Nil(t, it.CompletedAt)
	require.NotNil(t, it.WaiverReason)
	assert.Equal(t, "family declined", *it.WaiverReason)

	_, err = env.Svc.SetChecklistStatus(env.Ctx, compliance.ChecklistUpdate{ItemID: "item-1", Status: "completed", ActorID: "ana"})
	require.NoError(t, err)

	stored, err := env.Svc.Repo.GetChecklistItemTx(env.Ctx, env.Svc.DB, "item-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ChecklistCompleted, stored.Status)
	assert.NotNil(t, stored.CompletedAt)
	assert.Nil(t, stored.WaivedBy)
	assert.Nil(t, stored.WaivedAt)
	assert.Nil(t, stored.WaiverReason)

	stored, err = env.Svc.SetChecklistStatus(env.Ctx, compliance.ChecklistUpdate{ItemID: "item-1", Status: "pending"})
	require.NoError(t, err)
	assert.Nil(t, stored.CompletedBy)
	assert.Nil(t, stored.WaivedBy)
}

func TestSetChecklistStatusIdempotent(t *testing.T) {
	env := newTestEnv(t)
	first, err := env.Svc.SetChecklistStatus(env.Ctx, compliance.ChecklistUpdate{ItemID: "item-1", Status: "completed", ActorID: "ana"})
	require.NoError(t, err)

	env.Svc.Now = func() time.Time { return fixedNow.Add(time.Hour) }
	second, err := env.Svc.SetChecklistStatus(env.Ctx, compliance.ChecklistUpdate{ItemID: "item-1", Status: "COMPLETED", ActorID: "someone-else"})
	require.NoError(t, err)
	require.NotNil(t, second.CompletedAt)
	assert.True(t, first.CompletedAt.Equal(*second.CompletedAt))
	assert.Equal(t, "ana", *second.CompletedBy)

	evts, err := env.Svc.Repo.ListCaseEvents(env.Ctx, env.Svc.DB, "case-1", "checklist.status_changed", 10)
	require.NoError(t, err)
	assert.Len(t, evts, 1)
}

func TestSetStatusErrors(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.Svc.SetChecklistStatus(env.Ctx, compliance.ChecklistUpdate{ItemID: "item-1", Status: "done"})
	var invalid *compliance.InvalidStatusError
	require.ErrorAs(t, err, &invalid)
	assert.ErrorIs(t, err, compliance.ErrInvalidStatus)

	_, err = env.Svc.SetDocumentStatus(env.Ctx, compliance.DocumentUpdate{RequirementID: "req-1", Status: "approved"})
	assert.ErrorIs(t, err, compliance.ErrInvalidStatus)

	_, err = env.Svc.SetChecklistStatus(env.Ctx, compliance.ChecklistUpdate{ItemID: "item-1", Status: "waived"})
	assert.ErrorIs(t, err, compliance.ErrWaiverReasonRequired)

	_, err = env.Svc.SetChecklistStatus(env.Ctx, compliance.ChecklistUpdate{ItemID: "missing", Status: "completed"})
	assert.True(t, errors.Is(err, repo.ErrNotFound))

	_, err = env.Svc.SetDocumentStatus(env.Ctx, compliance.DocumentUpdate{RequirementID: "missing", Status: "verified"})
	assert.True(t, errors.Is(err, repo.ErrNotFound))
}

func TestSetDocumentStatusMutualExclusion(t *testing.T) {
	env := newTestEnv(t)
	d, err := env.Svc.SetDocumentStatus(env.Ctx, compliance.DocumentUpdate{RequirementID: "req-1", Status: "waived", ActorID: "bo", Reason: "issued abroad"})
	require.NoError(t, err)
	assert.NotNil(t, d.WaivedAt)
	assert.Nil(t, d.VerifiedAt)

	d, err = env.Svc.SetDocumentStatus(env.Ctx, compliance.DocumentUpdate{RequirementID: "req-1", Status: "verified", ActorID: "ana"})
	require.NoError(t, err)
	assert.NotNil(t, d.VerifiedAt)
	assert.Nil(t, d.WaivedBy)
	assert.Nil(t, d.WaivedAt)
	assert.Nil(t, d.WaiverReason)

	d, err = env.Svc.SetDocumentStatus(env.Ctx, compliance.DocumentUpdate{RequirementID: "req-1", Status: "rejected", ActorID: "ana"})
	require.NoError(t, err)
	assert.Nil(t, d.VerifiedBy)
	assert.Nil(t, d.WaivedBy)
}

func TestAssertGate(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.Svc.EvaluateGate(env.Ctx, "case-1", stage.Documents)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Len(t, res.BlockingChecklist, 1)
	assert.Len(t, res.BlockingDocuments, 1)

	_, err = env.Svc.AssertGate(env.Ctx, "case-1", stage.Documents)
	var blocked *compliance.GateBlockedError
	require.ErrorAs(t, err, &blocked)
	assert.ErrorIs(t, err, compliance.ErrGateBlocked)
	assert.Equal(t, stage.Documents, blocked.Result.Target)
	assert.Len(t, blocked.Result.BlockingDocuments, 1)

	_, err = env.Svc.SetChecklistStatus(env.Ctx, compliance.ChecklistUpdate{ItemID: "item-1", Status: "completed", ActorID: "ana"})
	require.NoError(t, err)
	_, err = env.Svc.SetDocumentStatus(env.Ctx, compliance.DocumentUpdate{RequirementID: "req-1", Status: "verified", ActorID: "ana"})
	require.NoError(t, err)
	res, err = env.Svc.AssertGate(env.Ctx, "case-1", stage.Documents)
	require.NoError(t, err)
	assert.True(t, res.Passed)

	_, err = env.Svc.EvaluateGate(env.Ctx, "nope", stage.Documents)
	assert.ErrorIs(t, err, repo.ErrNotFound)
	_, err = env.Svc.EvaluateGate(env.Ctx, "case-1", stage.Stage("LIMBO"))
	assert.ErrorIs(t, err, stage.ErrUnknownStage)
}
