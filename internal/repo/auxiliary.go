package repo

import (
	"context"
	"database/sql"

	"caseline/internal/db"
	"caseline/internal/domain"
)

func (r Repo) UpsertInventoryItem(ctx context.Context, q db.DBTX, it domain.InventoryItem) error {
	_, err := q.ExecContext(ctx, `INSERT INTO inventory_items(id,sku,name,category,quantity,updated_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET sku=excluded.sku, name=excluded.name, category=excluded.category, quantity=excluded.quantity, updated_at=excluded.updated_at`,
		it.ID, it.SKU, it.Name, nullable(it.Category), it.Quantity, formatTime(it.UpdatedAt))
	return err
}

// ListLowStock returns items whose quantity is at or below threshold.
func (r Repo) ListLowStock(ctx context.Context, threshold int) ([]domain.InventoryItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,sku,name,COALESCE(category,''),quantity,updated_at FROM inventory_items WHERE quantity<=? ORDER BY sku ASC`, threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.InventoryItem
	for rows.Next() {
		var it domain.InventoryItem
		var updated string
		if err := rows.Scan(&it.ID, &it.SKU, &it.Name, &it.Category, &it.Quantity, &updated); err != nil {
			return nil, wrapScan("inventory item", err)
		}
		it.UpdatedAt = parseTime(updated)
		res = append(res, it)
	}
	return res, rows.Err()
}

func (r Repo) InsertMortuaryRecord(ctx context.Context, q db.DBTX, m domain.MortuaryRecord) error {
	_, err := q.ExecContext(ctx, `INSERT INTO mortuary_records(id,case_id,deceased_name,storage_unit,checked_in_at,released_at) VALUES (?,?,?,?,?,?)`,
		m.ID, nullableStringPtr(m.CaseID), m.DeceasedName, nullable(m.StorageUnit), formatTime(m.CheckedInAt), timePtr(m.ReleasedAt))
	return err
}

// ListUnreleasedMortuary returns records still in storage.
func (r Repo) ListUnreleasedMortuary(ctx context.Context) ([]domain.MortuaryRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,case_id,deceased_name,COALESCE(storage_unit,''),checked_in_at,released_at FROM mortuary_records WHERE released_at IS NULL ORDER BY checked_in_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.MortuaryRecord
	for rows.Next() {
		var m domain.MortuaryRecord
		var caseID, released sql.NullString
		var checkedIn string
		if err := rows.Scan(&m.ID, &caseID, &m.DeceasedName, &m.StorageUnit, &checkedIn, &released); err != nil {
			return nil, wrapScan("mortuary record", err)
		}
		m.CaseID = stringPtr(caseID)
		m.CheckedInAt = parseTime(checkedIn)
		m.ReleasedAt = parseNullTime(released)
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) InsertPlotAssignment(ctx context.Context, q db.DBTX, p domain.PlotAssignment) error {
	if p.Status == "" {
		p.Status = "active"
	}
	_, err := q.ExecContext(ctx, `INSERT INTO plot_assignments(id,plot_id,case_id,status,assigned_at) VALUES (?,?,?,?,?)`,
		p.ID, p.PlotID, p.CaseID, p.Status, formatTime(p.AssignedAt))
	return err
}

// ListActivePlotAssignments skips cancelled assignments.
func (r Repo) ListActivePlotAssignments(ctx context.Context) ([]domain.PlotAssignment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,plot_id,case_id,status,assigned_at FROM plot_assignments WHERE status<>'cancelled' ORDER BY plot_id ASC, assigned_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PlotAssignment
	for rows.Next() {
		var p domain.PlotAssignment
		var assigned string
		if err := rows.Scan(&p.ID, &p.PlotID, &p.CaseID, &p.Status, &assigned); err != nil {
			return nil, wrapScan("plot assignment", err)
		}
		p.AssignedAt = parseTime(assigned)
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) InsertEquipmentAllocation(ctx context.Context, q db.DBTX, a domain.EquipmentAllocation) error {
	if a.Condition == "" {
		a.Condition = domain.ConditionOK
	}
	_, err := q.ExecContext(ctx, `INSERT INTO equipment_allocations(id,equipment_id,equipment_name,case_id,due_back_at,returned_at,condition) VALUES (?,?,?,?,?,?,?)`,
		a.ID, a.EquipmentID, a.EquipmentName, nullableStringPtr(a.CaseID), timePtr(a.DueBackAt), timePtr(a.ReturnedAt), a.Condition)
	return err
}

// ListOutstandingEquipment returns allocations not yet returned plus any
// reported damaged.
func (r Repo) ListOutstandingEquipment(ctx context.Context) ([]domain.EquipmentAllocation, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,equipment_id,equipment_name,case_id,due_back_at,returned_at,condition FROM equipment_allocations
WHERE returned_at IS NULL OR condition=? ORDER BY id ASC`, domain.ConditionDamaged)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.EquipmentAllocation
	for rows.Next() {
		var a domain.EquipmentAllocation
		var caseID, due, returned sql.NullString
		if err := rows.Scan(&a.ID, &a.EquipmentID, &a.EquipmentName, &caseID, &due, &returned, &a.Condition); err != nil {
			return nil, wrapScan("equipment allocation", err)
		}
		a.CaseID = stringPtr(caseID)
		a.DueBackAt = parseNullTime(due)
		a.ReturnedAt = parseNullTime(returned)
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) InsertWorkOrder(ctx context.Context, q db.DBTX, w domain.WorkOrder) error {
	_, err := q.ExecContext(ctx, `INSERT INTO work_orders(id,vendor,case_id,description,status,due_at,completed_at) VALUES (?,?,?,?,?,?,?)`,
		w.ID, w.Vendor, nullableStringPtr(w.CaseID), w.Description, w.Status, timePtr(w.DueAt), timePtr(w.CompletedAt))
	return err
}

// ListOpenWorkOrders returns work orders not yet completed or cancelled.
func (r Repo) ListOpenWorkOrders(ctx context.Context) ([]domain.WorkOrder, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,vendor,case_id,description,status,due_at,completed_at FROM work_orders
WHERE completed_at IS NULL AND status NOT IN ('completed','cancelled') ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkOrder
	for rows.Next() {
		var w domain.WorkOrder
		var caseID, due, completed sql.NullString
		if err := rows.Scan(&w.ID, &w.Vendor, &caseID, &w.Description, &w.Status, &due, &completed); err != nil {
			return nil, wrapScan("work order", err)
		}
		w.CaseID = stringPtr(caseID)
		w.DueAt = parseNullTime(due)
		w.CompletedAt = parseNullTime(completed)
		res = append(res, w)
	}
	return res, rows.Err()
}
