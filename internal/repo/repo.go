package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"caseline/internal/db"
	"caseline/internal/domain"
	"caseline/internal/stage"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

type scanner interface {
	Scan(dest ...any) error
}

const caseColumns = `id,COALESCE(reference,''),deceased_name,stage,service_date,COALESCE(location,''),created_at,updated_at`

func scanCase(row scanner) (domain.Case, error) {
	var c domain.Case
	var st, created, updated string
	var serviceDate sql.NullString
	err := row.Scan(&c.ID, &c.Reference, &c.DeceasedName, &st, &serviceDate, &c.Location, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	// stored verbatim; evaluators decide how to treat unknown values
	c.Stage = stage.Stage(st)
	c.ServiceDate = parseNullTime(serviceDate)
	c.CreatedAt = parseTime(created)
	c.UpdatedAt = parseTime(updated)
	return c, nil
}

func (r Repo) InsertCase(ctx context.Context, q db.DBTX, c domain.Case) error {
	_, err := q.ExecContext(ctx, `INSERT INTO cases(id,reference,deceased_name,stage,service_date,location,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		c.ID, nullable(c.Reference), c.DeceasedName, string(c.Stage), timePtr(c.ServiceDate), nullable(c.Location), formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
	return err
}

func (r Repo) GetCase(ctx context.Context, id string) (domain.Case, error) {
	return r.GetCaseTx(ctx, r.DB, id)
}

func (r Repo) GetCaseTx(ctx context.Context, q db.DBTX, id string) (domain.Case, error) {
	return scanCase(q.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id=?`, id))
}

type CaseFilters struct {
	Stage  string
	Open   bool
	Limit  int
	Cursor string
}

func (r Repo) ListCases(ctx context.Context, f CaseFilters) ([]domain.Case, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Stage != "" {
		clauses = append(clauses, "stage=?")
		args = append(args, f.Stage)
	}
	if f.Open {
		terminal := stage.TerminalStages()
		if len(terminal) > 0 {
			clauses = append(clauses, "stage NOT IN ("+placeholders(len(terminal))+")")
			for _, s := range terminal {
				args = append(args, string(s))
			}
		}
	}
	if f.Cursor != "" {
		clauses = append(clauses, "id>?")
		args = append(args, f.Cursor)
	}
	query := `SELECT ` + caseColumns + ` FROM cases WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY id ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// ListOpenCases returns every case not in a terminal stage.
func (r Repo) ListOpenCases(ctx context.Context) ([]domain.Case, error) {
	return r.ListCases(ctx, CaseFilters{Open: true})
}

func (r Repo) UpdateCaseStageTx(ctx context.Context, q db.DBTX, id string, st stage.Stage, now time.Time) error {
	res, err := q.ExecContext(ctx, `UPDATE cases SET stage=?, updated_at=? WHERE id=?`, string(st), formatTime(now), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339)
}

func timePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func wrapScan(what string, err error) error {
	return fmt.Errorf("scan %s: %w", what, err)
}
