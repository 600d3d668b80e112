package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/migrate"
	"caseline/internal/rules"
	"caseline/internal/stage"
)

func TestBuildContexts(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	ctx := context.Background()
	e := engine.New(conn, config.Default("home"))
	c, err := e.CreateCase(ctx, engine.CaseCreateOptions{DeceasedName: "Pat Doe"})
	require.NoError(t, err)
	_, err = e.RecordMessage(ctx, domain.Message{CaseID: c.ID, Direction: domain.DirectionInbound, Body: "hello"}, "dana")
	require.NoError(t, err)
	_, err = e.AddTask(ctx, domain.CaseTask{CaseID: c.ID, Title: "Book transport"}, "dana")
	require.NoError(t, err)
	_, err = e.RequireConfiguredDocuments(ctx, c.ID, "dana")
	require.NoError(t, err)
	_, err = e.TransitionStage(ctx, engine.TransitionRequest{CaseID: c.ID, Target: "INTAKE", Role: stage.RoleAdmin, ActorID: "dana", Force: true, Reason: "test"})
	require.NoError(t, err)

	_, err = e.RecordAux(ctx, engine.AuxRecord{Inventory: &domain.InventoryItem{SKU: "URN-1", Name: "Urn", Quantity: 1}}, "dana")
	require.NoError(t, err)
	_, err = e.RecordAux(ctx, engine.AuxRecord{Inventory: &domain.InventoryItem{SKU: "CASKET-1", Name: "Casket", Quantity: 9}}, "dana")
	require.NoError(t, err)
	_, err = e.RecordAux(ctx, engine.AuxRecord{Mortuary: &domain.MortuaryRecord{DeceasedName: "Pat Doe", CaseID: &c.ID}}, "dana")
	require.NoError(t, err)

	a := New(conn, 2)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))

	cc, err := a.BuildCaseContext(ctx, c.ID, now)
	require.NoError(t, err)
	assert.Equal(t, rules.ContextVersion, cc.Version)
	assert.Equal(t, time.UTC, cc.Now.Location())
	assert.Equal(t, stage.Intake, cc.Case.Stage)
	assert.Len(t, cc.Messages, 1)
	assert.Len(t, cc.Tasks, 1)
	assert.Len(t, cc.Requirements, 4)
	require.Len(t, cc.Events, 1)
	assert.Equal(t, "case.stage_changed", cc.Events[0].Type)

	_, err = a.BuildCaseContext(ctx, "missing", now)
	assert.Error(t, err)

	ac, err := a.BuildAuxContext(ctx, now)
	require.NoError(t, err)
	require.Len(t, ac.Inventory, 1)
	assert.Equal(t, "URN-1", ac.Inventory[0].SKU)
	require.Len(t, ac.Mortuary, 1)
	assert.Equal(t, c.ID, *ac.Mortuary[0].CaseID)
	assert.Empty(t, ac.Plots)
	assert.Empty(t, ac.Equipment)
	assert.Empty(t, ac.WorkOrders)
}

func TestLastInboundSurvivesMessageLimit(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	e := engine.New(conn, config.Default("home"))
	e.Now = func() time.Time { return now.Add(-200 * time.Hour) }
	c, err := e.CreateCase(ctx, engine.CaseCreateOptions{DeceasedName: "Pat Doe"})
	require.NoError(t, err)

	_, err = e.RecordMessage(ctx, domain.Message{CaseID: c.ID, Direction: domain.DirectionInbound, Body: "any news?", CreatedAt: now.Add(-2 * time.Hour)}, "family")
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		_, err = e.RecordMessage(ctx, domain.Message{CaseID: c.ID, Direction: domain.DirectionOutbound, Body: "update", CreatedAt: now.Add(-time.Hour)}, "dana")
		require.NoError(t, err)
	}

	cc, err := New(conn, 2).BuildCaseContext(ctx, c.ID, now)
	require.NoError(t, err)
	require.Len(t, cc.Messages, 100)
	for _, m := range cc.Messages {
		assert.Equal(t, domain.DirectionOutbound, m.Direction)
	}
	require.NotNil(t, cc.LastInboundAt)
	assert.True(t, cc.LastInboundAt.Equal(now.Add(-2*time.Hour)), "%s", cc.LastInboundAt)
	assert.Empty(t, rules.StaleCommunication(rules.DefaultConfig(), cc))
}

func TestLastInboundNilWithoutInboundMessages(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	ctx := context.Background()
	e := engine.New(conn, config.Default("home"))
	c, err := e.CreateCase(ctx, engine.CaseCreateOptions{DeceasedName: "Sam Roe"})
	require.NoError(t, err)
	_, err = e.RecordMessage(ctx, domain.Message{CaseID: c.ID, Direction: domain.DirectionOutbound, Body: "hello"}, "dana")
	require.NoError(t, err)

	cc, err := New(conn, 2).BuildCaseContext(ctx, c.ID, time.Now())
	require.NoError(t, err)
	assert.Nil(t, cc.LastInboundAt)
}
