package caselinesdk

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseline/internal/app"
	"caseline/internal/domain"
	"caseline/internal/rules"
	"caseline/internal/server"
)

const testSecret = "sdk-secret"

func newClient(t *testing.T) (*Client, *app.Services) {
	t.Helper()
	s, err := app.Open(app.Options{Workspace: t.TempDir()})
	require.NoError(t, err)
	handler, err := server.New(server.Config{
		Engine:   s.Engine,
		Alerts:   s.Alerts,
		Sweeper:  s.Scheduler,
		BasePath: "/v0",
		Auth:     server.AuthConfig{JWTSecret: testSecret},
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		s.Close()
	})
	tok, err := server.SignToken(testSecret, "dana", "admin", time.Hour)
	require.NoError(t, err)
	c := New(srv.URL + "/v0")
	c.BearerToken = tok
	return c, s
}

func TestGateBlocksThenAllowsTransition(t *testing.T) {
	c, s := newClient(t)
	ctx := context.Background()

	cs, err := c.CreateCase(ctx, "Pat Doe", false)
	require.NoError(t, err)
	assert.Equal(t, "NEW", cs.Stage)

	item, err := s.Engine.AddChecklistItem(ctx, domain.ChecklistItem{
		CaseID: cs.ID, ItemKey: "next_of_kin", RequiredStage: "INTAKE", IsRequired: true,
	}, "dana")
	require.NoError(t, err)

	gate, err := c.EvaluateGate(ctx, cs.ID, "INTAKE")
	require.NoError(t, err)
	assert.False(t, gate.Passed)
	require.Len(t, gate.BlockingChecklist, 1)
	assert.Equal(t, item.ID, gate.BlockingChecklist[0].ID)

	_, err = c.TransitionStage(ctx, cs.ID, "INTAKE")
	require.Error(t, err)
	assert.True(t, IsGateBlocked(err))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)

	require.NoError(t, c.SetChecklistStatus(ctx, item.ID, "completed", ""))
	tr, err := c.TransitionStage(ctx, cs.ID, "INTAKE")
	require.NoError(t, err)
	assert.Equal(t, "NEW", tr.From)
	assert.Equal(t, "INTAKE", tr.Case.Stage)
	assert.False(t, tr.Overridden)
}

func TestForceTransition(t *testing.T) {
	c, s := newClient(t)
	ctx := context.Background()
	cs, err := c.CreateCase(ctx, "Sam Roe", false)
	require.NoError(t, err)
	_, err = s.Engine.AddChecklistItem(ctx, domain.ChecklistItem{
		CaseID: cs.ID, ItemKey: "next_of_kin", RequiredStage: "INTAKE", IsRequired: true,
	}, "dana")
	require.NoError(t, err)

	tr, err := c.ForceTransition(ctx, cs.ID, "INTAKE", "family on site")
	require.NoError(t, err)
	assert.True(t, tr.Overridden)
	assert.Equal(t, "INTAKE", tr.Case.Stage)
}

func TestAlertsAndSweep(t *testing.T) {
	c, s := newClient(t)
	ctx := context.Background()
	cs, err := c.CreateCase(ctx, "Lee Poe", false)
	require.NoError(t, err)

	due := time.Now().Add(time.Hour)
	created, err := s.Alerts.Persist(ctx, cs.ID, []rules.Candidate{{
		Kind: domain.KindStaleCommunication, DedupKey: "STALE_COMMUNICATION", Severity: domain.SeverityHigh,
		Title: "No family contact", SLADueAt: &due,
	}})
	require.NoError(t, err)
	require.Len(t, created, 1)

	open, err := c.ListOpenAlerts(ctx, "automation")
	require.NoError(t, err)
	ids := map[string]bool{}
	for _, a := range open {
		ids[a.ID] = true
	}
	assert.True(t, ids[created[0].ID])

	ok, err := c.ResolveAlert(ctx, created[0].ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.ResolveAlert(ctx, created[0].ID)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.ResolveAlert(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	report, err := c.TriggerSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Cases)
	assert.Empty(t, report.Failures)

	page, err := c.EventsPage(ctx, 5, "")
	require.NoError(t, err)
	assert.NotEmpty(t, page.Items)
}

func TestAPIKeyAuth(t *testing.T) {
	c, s := newClient(t)
	key, rec, err := server.NewAPIKey("kim", "coordinator", "sdk")
	require.NoError(t, err)
	require.NoError(t, s.Engine.Repo.InsertAPIKey(context.Background(), nil, rec))

	c.BearerToken = ""
	c.APIKey = key
	_, err = c.CreateCase(context.Background(), "Alex Moe", false)
	require.NoError(t, err)

	_, err = c.TriggerSweep(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
}
