package repo

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"caseline/internal/db"
	"caseline/internal/domain"
)

const alertColumns = `id,source,case_id,alert_type,dedup_key,severity,title,COALESCE(description,''),COALESCE(recommended_action,''),sla_due_at,status,breached_at,resolved_at,resolved_by,created_at`

func scanAlert(row scanner) (domain.Alert, error) {
	var a domain.Alert
	var source, kind, severity, status, created string
	var caseID, slaDue, breached, resolved, resolvedBy sql.NullString
	err := row.Scan(&a.ID, &source, &caseID, &kind, &a.DedupKey, &severity, &a.Title, &a.Description, &a.RecommendedAction,
		&slaDue, &status, &breached, &resolved, &resolvedBy, &created)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.Source = domain.AlertSource(source)
	a.CaseID = stringPtr(caseID)
	a.Kind = domain.AlertKind(kind)
	a.Severity = domain.Severity(severity)
	a.SLADueAt = parseNullTime(slaDue)
	a.Status = domain.AlertStatus(status)
	a.BreachedAt = parseNullTime(breached)
	a.ResolvedAt = parseNullTime(resolved)
	a.ResolvedBy = stringPtr(resolvedBy)
	a.CreatedAt = parseTime(created)
	return a, nil
}

// InsertOpenAlert inserts a as open unless an open alert with the same
// source, scope and dedup key exists. The partial unique index makes the
// check and the insert one statement. It reports whether a row was written.
func (r Repo) InsertOpenAlert(ctx context.Context, q db.DBTX, a domain.Alert) (bool, error) {
	scope := ""
	if a.CaseID != nil {
		scope = *a.CaseID
	}
	res, err := q.ExecContext(ctx, `INSERT INTO alerts(id,source,scope_key,case_id,alert_type,dedup_key,severity,title,description,recommended_action,sla_due_at,status,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,'open',?)
ON CONFLICT(source,scope_key,dedup_key) WHERE status='open' DO NOTHING`,
		a.ID, string(a.Source), scope, nullableStringPtr(a.CaseID), string(a.Kind), a.DedupKey, string(a.Severity), a.Title,
		nullable(a.Description), nullable(a.RecommendedAction), timePtr(a.SLADueAt), formatTime(a.CreatedAt))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkBreached stamps breached_at on open alerts of source whose SLA is
// before now and returns the alerts it stamped.
func (r Repo) MarkBreached(ctx context.Context, source domain.AlertSource, now time.Time) ([]domain.Alert, error) {
	ts := formatTime(now)
	rows, err := r.DB.QueryContext(ctx, `UPDATE alerts SET breached_at=?
WHERE source=? AND status='open' AND sla_due_at IS NOT NULL AND sla_due_at<? AND breached_at IS NULL
RETURNING `+alertColumns, ts, string(source), ts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, wrapScan("alert", err)
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// ResolveAlert closes an open alert. It reports false when the alert is
// missing, already resolved, or belongs to another source.
func (r Repo) ResolveAlert(ctx context.Context, id, actor string, source domain.AlertSource, now time.Time) (bool, error) {
	query := `UPDATE alerts SET status='resolved', resolved_at=?, resolved_by=? WHERE id=? AND status='open'`
	args := []any{formatTime(now), actor, id}
	if source != "" {
		query += ` AND source=?`
		args = append(args, string(source))
	}
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r Repo) GetAlert(ctx context.Context, id string) (domain.Alert, error) {
	return scanAlert(r.DB.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id=?`, id))
}

type AlertFilters struct {
	Source domain.AlertSource
	CaseID string
	Status domain.AlertStatus
	Limit  int
}

// ListAlerts returns alerts newest first.
func (r Repo) ListAlerts(ctx context.Context, f AlertFilters) ([]domain.Alert, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Source != "" {
		clauses = append(clauses, "source=?")
		args = append(args, string(f.Source))
	}
	if f.CaseID != "" {
		clauses = append(clauses, "case_id=?")
		args = append(args, f.CaseID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, wrapScan("alert", err)
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
