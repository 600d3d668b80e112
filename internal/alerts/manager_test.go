package alerts_test

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseline/internal/alerts"
	"caseline/internal/db"
	"caseline/internal/domain"
	"caseline/internal/events"
	"caseline/internal/migrate"
	"caseline/internal/repo"
	"caseline/internal/rules"
	"caseline/internal/stage"
)

var base = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newManager(t *testing.T) (alerts.Manager, *clock) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	clk := &clock{t: base}
	m := alerts.NewManager(conn, nil)
	m.Now = clk.Now
	m.Events.Now = clk.Now
	for _, id := range []string{"case-1", "case-2"} {
		require.NoError(t, m.Repo.InsertCase(context.Background(), conn, domain.Case{
			ID: id, DeceasedName: id, Stage: stage.Intake, CreatedAt: base, UpdatedAt: base,
		}))
	}
	return m, clk
}

func candidate(kind domain.AlertKind, key string, due time.Time) rules.Candidate {
	return rules.Candidate{Kind: kind, DedupKey: key, Severity: domain.SeverityHigh, Title: key, SLADueAt: &due}
}

func TestPersistDeduplicatesOpenAlerts(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	cands := []rules.Candidate{
		candidate(domain.KindStaleCommunication, "STALE_COMMUNICATION", base.Add(6*time.Hour)),
		candidate(domain.KindChecklistPending, "CHECKLIST_FAMILY_CONTACT", base.Add(24*time.Hour)),
	}

	created, err := m.Persist(ctx, "case-1", cands)
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.Equal(t, domain.SourceAutomation, created[0].Source)
	assert.Equal(t, domain.SourceCompliance, created[1].Source)

	created, err = m.Persist(ctx, "case-1", cands)
	require.NoError(t, err)
	assert.Empty(t, created)

	// same key on another case is a different situation
	created, err = m.Persist(ctx, "case-2", cands[:1])
	require.NoError(t, err)
	assert.Len(t, created, 1)

	open, err := m.ListOpen(ctx, alerts.Filter{CaseID: "case-1"})
	require.NoError(t, err)
	assert.Len(t, open, 2)

	opened, err := m.Repo.LatestEvents(ctx, repo.EventFilters{Type: events.AlertOpened})
	require.NoError(t, err)
	assert.Len(t, opened, 3)
}

func TestPersistConcurrentSweeps(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	cand := []rules.Candidate{candidate(domain.KindStageStalled, "STAGE_STALLED_INTAKE", base.Add(time.Hour))}

	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := m.Persist(ctx, "case-1", cand)
			assert.NoError(t, err)
			mu.Lock()
			total += len(created)
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, total)

	open, err := m.ListOpenAutomationAlertsByCase(ctx, "case-1")
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestResolveThenReopen(t *testing.T) {
	m, clk := newManager(t)
	ctx := context.Background()
	cand := []rules.Candidate{candidate(domain.KindTransportNotScheduled, "TRANSPORT_NOT_SCHEDULED", base.Add(4*time.Hour))}
	created, err := m.Persist(ctx, "case-1", cand)
	require.NoError(t, err)
	require.Len(t, created, 1)

	clk.Advance(time.Hour)
	resolved, err := m.ResolveAutomationAlert(ctx, created[0].ID, "ana")
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, domain.AlertResolved, resolved.Status)
	assert.Equal(t, "ana", *resolved.ResolvedBy)
	assert.Equal(t, base.Add(time.Hour), *resolved.ResolvedAt)

	again, err := m.Resolve(ctx, created[0].ID, "ana")
	require.NoError(t, err)
	assert.Nil(t, again)

	missing, err := m.Resolve(ctx, "no-such-alert", "ana")
	require.NoError(t, err)
	assert.Nil(t, missing)

	// the situation persists, so the next sweep opens a fresh alert
	created, err = m.Persist(ctx, "case-1", cand)
	require.NoError(t, err)
	assert.Len(t, created, 1)

	history, err := m.ListHistory(ctx, "case-1")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestResolveAutomationIgnoresComplianceAlerts(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	created, err := m.Persist(ctx, "case-1", []rules.Candidate{candidate(domain.KindChecklistPending, "CHECKLIST_X", base.Add(time.Hour))})
	require.NoError(t, err)
	require.Len(t, created, 1)

	res, err := m.ResolveAutomationAlert(ctx, created[0].ID, "ana")
	require.NoError(t, err)
	assert.Nil(t, res)

	got, err := m.Get(ctx, created[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AlertOpen, got.Status)

	_, err = m.Get(ctx, "missing")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestMarkBreachedIsIdempotent(t *testing.T) {
	m, clk := newManager(t)
	ctx := context.Background()
	_, err := m.Persist(ctx, "case-1", []rules.Candidate{
		candidate(domain.KindStaleCommunication, "STALE_COMMUNICATION", base.Add(time.Hour)),
		candidate(domain.KindStageStalled, "STAGE_STALLED_INTAKE", base.Add(48*time.Hour)),
		{Kind: domain.KindMissingDocuments, DedupKey: "MISSING_DOCUMENTS", Severity: domain.SeverityMedium, Title: "no sla"},
		candidate(domain.KindChecklistPending, "CHECKLIST_Y", base.Add(time.Hour)),
	})
	require.NoError(t, err)

	clk.Advance(2 * time.Hour)
	n, err := m.MarkBreached(ctx, domain.SourceAutomation)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	first, err := m.ListOpen(ctx, alerts.Filter{Source: domain.SourceAutomation})
	require.NoError(t, err)

	clk.Advance(time.Hour)
	n, err = m.MarkBreached(ctx, domain.SourceAutomation)
	require.NoError(t, err)
	assert.Zero(t, n)

	second, err := m.ListOpen(ctx, alerts.Filter{Source: domain.SourceAutomation})
	require.NoError(t, err)
	assert.Equal(t, breachedKeys(first), breachedKeys(second))
	for _, a := range second {
		if a.DedupKey == "STALE_COMMUNICATION" {
			assert.Equal(t, base.Add(2*time.Hour), *a.BreachedAt)
		}
	}

	// compliance alerts are stamped only by their own pass
	n, err = m.MarkBreached(ctx, domain.SourceCompliance)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func breachedKeys(list []domain.Alert) map[string]time.Time {
	out := map[string]time.Time{}
	for _, a := range list {
		if a.BreachedAt != nil {
			out[a.DedupKey] = *a.BreachedAt
		}
	}
	return out
}

func TestPersistReportsStoreFailure(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	m := alerts.Manager{Repo: repo.Repo{DB: conn}, Now: func() time.Time { return base }}
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO alerts")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO alerts")).WillReturnError(errors.New("disk I/O error"))

	created, err := m.Persist(context.Background(), "case-9", []rules.Candidate{
		candidate(domain.KindStaleCommunication, "STALE_COMMUNICATION", base),
		candidate(domain.KindStageStalled, "STAGE_STALLED_NEW", base),
	})
	assert.Len(t, created, 1)
	var perr *alerts.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "case-9", perr.CaseID)
	assert.Equal(t, "STAGE_STALLED_NEW", perr.DedupKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkBreachedReportsStoreFailure(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	m := alerts.Manager{Repo: repo.Repo{DB: conn}, Now: func() time.Time { return base }}
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE alerts SET breached_at")).WillReturnError(errors.New("database is locked"))

	_, err = m.MarkBreached(context.Background(), domain.SourceAutomation)
	var perr *alerts.PersistenceError
	assert.ErrorAs(t, err, &perr)
	assert.NoError(t, mock.ExpectationsWereMet())
}
