package repo

import (
	"context"
	"database/sql"
	"time"

	"caseline/internal/db"
	"caseline/internal/domain"
)

func (r Repo) InsertMessage(ctx context.Context, q db.DBTX, m domain.Message) error {
	_, err := q.ExecContext(ctx, `INSERT INTO messages(id,case_id,direction,body,created_at) VALUES (?,?,?,?,?)`,
		m.ID, m.CaseID, m.Direction, m.Body, formatTime(m.CreatedAt))
	return err
}

// ListMessages returns up to limit of the most recent messages, newest first.
func (r Repo) ListMessages(ctx context.Context, q db.DBTX, caseID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.QueryContext(ctx, `SELECT id,case_id,direction,body,created_at FROM messages WHERE case_id=? ORDER BY created_at DESC, id DESC LIMIT ?`, caseID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Message
	for rows.Next() {
		var m domain.Message
		var created string
		if err := rows.Scan(&m.ID, &m.CaseID, &m.Direction, &m.Body, &created); err != nil {
			return nil, wrapScan("message", err)
		}
		m.CreatedAt = parseTime(created)
		res = append(res, m)
	}
	return res, rows.Err()
}

// LatestInboundAt returns the time of the newest inbound message on a case,
// or nil when the family has never written.
func (r Repo) LatestInboundAt(ctx context.Context, q db.DBTX, caseID string) (*time.Time, error) {
	var last sql.NullString
	err := q.QueryRowContext(ctx, `SELECT MAX(created_at) FROM messages WHERE case_id=? AND direction=?`, caseID, domain.DirectionInbound).Scan(&last)
	if err != nil {
		return nil, err
	}
	return parseNullTime(last), nil
}

func (r Repo) InsertTask(ctx context.Context, q db.DBTX, t domain.CaseTask) error {
	_, err := q.ExecContext(ctx, `INSERT INTO case_tasks(id,case_id,title,status,due_at,created_at) VALUES (?,?,?,?,?,?)`,
		t.ID, t.CaseID, t.Title, t.Status, timePtr(t.DueAt), formatTime(t.CreatedAt))
	return err
}

func (r Repo) ListTasks(ctx context.Context, q db.DBTX, caseID string) ([]domain.CaseTask, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,case_id,title,status,due_at,created_at FROM case_tasks WHERE case_id=? ORDER BY created_at ASC, id ASC`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CaseTask
	for rows.Next() {
		var t domain.CaseTask
		var due sql.NullString
		var created string
		if err := rows.Scan(&t.ID, &t.CaseID, &t.Title, &t.Status, &due, &created); err != nil {
			return nil, wrapScan("task", err)
		}
		t.DueAt = parseNullTime(due)
		t.CreatedAt = parseTime(created)
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) InsertDocument(ctx context.Context, q db.DBTX, d domain.Document) error {
	_, err := q.ExecContext(ctx, `INSERT INTO documents(id,case_id,document_type,file_name,created_at) VALUES (?,?,?,?,?)`,
		d.ID, d.CaseID, d.DocumentType, nullable(d.FileName), formatTime(d.CreatedAt))
	return err
}

func (r Repo) ListDocuments(ctx context.Context, q db.DBTX, caseID string) ([]domain.Document, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,case_id,document_type,COALESCE(file_name,''),created_at FROM documents WHERE case_id=? ORDER BY created_at ASC, id ASC`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Document
	for rows.Next() {
		var d domain.Document
		var created string
		if err := rows.Scan(&d.ID, &d.CaseID, &d.DocumentType, &d.FileName, &created); err != nil {
			return nil, wrapScan("document", err)
		}
		d.CreatedAt = parseTime(created)
		res = append(res, d)
	}
	return res, rows.Err()
}
