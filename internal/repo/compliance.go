package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"caseline/internal/db"
	"caseline/internal/domain"
)

const checklistColumns = `id,case_id,category,item_key,COALESCE(label,''),required_stage,is_required,status,completed_by,completed_at,waived_by,waived_at,waiver_reason,metadata_json,updated_at`

func scanChecklistItem(row scanner) (domain.ChecklistItem, error) {
	var it domain.ChecklistItem
	var required int
	var status, updated string
	var completedBy, completedAt, waivedBy, waivedAt, reason, metadata sql.NullString
	err := row.Scan(&it.ID, &it.CaseID, &it.Category, &it.ItemKey, &it.Label, &it.RequiredStage, &required, &status,
		&completedBy, &completedAt, &waivedBy, &waivedAt, &reason, &metadata, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return it, ErrNotFound
	}
	if err != nil {
		return it, err
	}
	it.IsRequired = required != 0
	it.Status = domain.ChecklistStatus(status)
	it.CompletedBy = stringPtr(completedBy)
	it.CompletedAt = parseNullTime(completedAt)
	it.WaivedBy = stringPtr(waivedBy)
	it.WaivedAt = parseNullTime(waivedAt)
	it.WaiverReason = stringPtr(reason)
	it.Metadata = decodeMetadata(metadata)
	it.UpdatedAt = parseTime(updated)
	return it, nil
}

func (r Repo) InsertChecklistItem(ctx context.Context, q db.DBTX, it domain.ChecklistItem) error {
	meta, err := encodeMetadata(it.Metadata)
	if err != nil {
		return err
	}
	if it.Status == "" {
		it.Status = domain.ChecklistPending
	}
	_, err = q.ExecContext(ctx, `INSERT INTO checklist_items(id,case_id,category,item_key,label,required_stage,is_required,status,completed_by,completed_at,waived_by,waived_at,waiver_reason,metadata_json,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		it.ID, it.CaseID, it.Category, it.ItemKey, nullable(it.Label), it.RequiredStage, boolInt(it.IsRequired), string(it.Status),
		nullableStringPtr(it.CompletedBy), timePtr(it.CompletedAt), nullableStringPtr(it.WaivedBy), timePtr(it.WaivedAt), nullableStringPtr(it.WaiverReason),
		meta, formatTime(it.UpdatedAt))
	return err
}

func (r Repo) GetChecklistItemTx(ctx context.Context, q db.DBTX, id string) (domain.ChecklistItem, error) {
	return scanChecklistItem(q.QueryRowContext(ctx, `SELECT `+checklistColumns+` FROM checklist_items WHERE id=?`, id))
}

func (r Repo) ListChecklistItems(ctx context.Context, q db.DBTX, caseID string) ([]domain.ChecklistItem, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+checklistColumns+` FROM checklist_items WHERE case_id=? ORDER BY category ASC, item_key ASC`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ChecklistItem
	for rows.Next() {
		it, err := scanChecklistItem(rows)
		if err != nil {
			return nil, wrapScan("checklist item", err)
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

// UpdateChecklistStatusTx writes the status and both audit field pairs as given.
func (r Repo) UpdateChecklistStatusTx(ctx context.Context, q db.DBTX, it domain.ChecklistItem) error {
	res, err := q.ExecContext(ctx, `UPDATE checklist_items SET status=?, completed_by=?, completed_at=?, waived_by=?, waived_at=?, waiver_reason=?, updated_at=? WHERE id=?`,
		string(it.Status), nullableStringPtr(it.CompletedBy), timePtr(it.CompletedAt), nullableStringPtr(it.WaivedBy), timePtr(it.WaivedAt),
		nullableStringPtr(it.WaiverReason), formatTime(it.UpdatedAt), it.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const requirementColumns = `id,case_id,document_type,required_stage,is_required,status,sla_due_at,verified_by,verified_at,waived_by,waived_at,waiver_reason,metadata_json,updated_at`

func scanRequirement(row scanner) (domain.DocumentRequirement, error) {
	var d domain.DocumentRequirement
	var required int
	var status, updated string
	var slaDue, verifiedBy, verifiedAt, waivedBy, waivedAt, reason, metadata sql.NullString
	err := row.Scan(&d.ID, &d.CaseID, &d.DocumentType, &d.RequiredStage, &required, &status, &slaDue,
		&verifiedBy, &verifiedAt, &waivedBy, &waivedAt, &reason, &metadata, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	d.IsRequired = required != 0
	d.Status = domain.DocumentStatus(status)
	d.SLADueAt = parseNullTime(slaDue)
	d.VerifiedBy = stringPtr(verifiedBy)
	d.VerifiedAt = parseNullTime(verifiedAt)
	d.WaivedBy = stringPtr(waivedBy)
	d.WaivedAt = parseNullTime(waivedAt)
	d.WaiverReason = stringPtr(reason)
	d.Metadata = decodeMetadata(metadata)
	d.UpdatedAt = parseTime(updated)
	return d, nil
}

func (r Repo) InsertDocumentRequirement(ctx context.Context, q db.DBTX, d domain.DocumentRequirement) error {
	meta, err := encodeMetadata(d.Metadata)
	if err != nil {
		return err
	}
	if d.Status == "" {
		d.Status = domain.DocumentPending
	}
	_, err = q.ExecContext(ctx, `INSERT INTO document_requirements(id,case_id,document_type,required_stage,is_required,status,sla_due_at,verified_by,verified_at,waived_by,waived_at,waiver_reason,metadata_json,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.CaseID, d.DocumentType, d.RequiredStage, boolInt(d.IsRequired), string(d.Status), timePtr(d.SLADueAt),
		nullableStringPtr(d.VerifiedBy), timePtr(d.VerifiedAt), nullableStringPtr(d.WaivedBy), timePtr(d.WaivedAt), nullableStringPtr(d.WaiverReason),
		meta, formatTime(d.UpdatedAt))
	return err
}

func (r Repo) GetDocumentRequirementTx(ctx context.Context, q db.DBTX, id string) (domain.DocumentRequirement, error) {
	return scanRequirement(q.QueryRowContext(ctx, `SELECT `+requirementColumns+` FROM document_requirements WHERE id=?`, id))
}

func (r Repo) ListDocumentRequirements(ctx context.Context, q db.DBTX, caseID string) ([]domain.DocumentRequirement, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+requirementColumns+` FROM document_requirements WHERE case_id=? ORDER BY document_type ASC`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DocumentRequirement
	for rows.Next() {
		d, err := scanRequirement(rows)
		if err != nil {
			return nil, wrapScan("document requirement", err)
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) UpdateDocumentStatusTx(ctx context.Context, q db.DBTX, d domain.DocumentRequirement) error {
	res, err := q.ExecContext(ctx, `UPDATE document_requirements SET status=?, verified_by=?, verified_at=?, waived_by=?, waived_at=?, waiver_reason=?, updated_at=? WHERE id=?`,
		string(d.Status), nullableStringPtr(d.VerifiedBy), timePtr(d.VerifiedAt), nullableStringPtr(d.WaivedBy), timePtr(d.WaivedAt),
		nullableStringPtr(d.WaiverReason), formatTime(d.UpdatedAt), d.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func encodeMetadata(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// decodeMetadata tolerates malformed JSON; metadata is advisory.
func decodeMetadata(ns sql.NullString) map[string]any {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(ns.String), &m); err != nil {
		return nil
	}
	return m
}
