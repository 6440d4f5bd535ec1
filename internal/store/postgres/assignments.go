package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"telecom-billing/internal/assignments"
	"telecom-billing/internal/resources"
	"telecom-billing/pkg/utils"
)

const assignmentColumns = `id, company_id, resource_id, resource_kind, price_per_min, start_date, end_date, status, created_at, updated_at`

func scanAssignment(row scanner) (assignments.Assignment, error) {
	var (
		a   assignments.Assignment
		end sql.NullTime
	)
	err := row.Scan(&a.ID, &a.CompanyID, &a.ResourceID, &a.ResourceKind, &a.PricePerMin,
		&a.StartDate, &end, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return assignments.Assignment{}, err
	}
	a.EndDate = timePtr(end)
	return a, nil
}

func (s *Store) getAssignment(ctx context.Context, q string, args ...any) (assignments.Assignment, bool, error) {
	var (
		out   assignments.Assignment
		found bool
	)
	err := s.run(ctx, func(ctx context.Context, db utils.DBTX) error {
		a, err := scanAssignment(db.QueryRowContext(ctx, q, args...))
		if errors.Is(err, sql.ErrNoRows) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		out, found = a, true
		return nil
	})
	return out, found, err
}

// InsertAssignment relies on the partial unique index on active assignments
// to reject a second concurrent lease of the same resource.
func (s *Store) InsertAssignment(ctx context.Context, a assignments.Assignment) error {
	const q = `
INSERT INTO assignments (id, company_id, resource_id, resource_kind, price_per_min, start_date, end_date, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`
	return s.run(ctx, func(ctx context.Context, db utils.DBTX) error {
		_, err := db.ExecContext(ctx, q, a.ID, a.CompanyID, a.ResourceID, a.ResourceKind, a.PricePerMin,
			a.StartDate, nullTime(a.EndDate), a.Status, a.CreatedAt, a.UpdatedAt)
		switch {
		case utils.IsUniqueViolation(err):
			return assignments.ErrResourceAlreadyLeased
		case utils.IsForeignKeyViolation(err):
			return resources.ErrResourceNotFound
		}
		return err
	})
}

func (s *Store) GetAssignment(ctx context.Context, id string) (assignments.Assignment, error) {
	a, found, err := s.getAssignment(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE id = $1`, id)
	if err == nil && !found {
		err = assignments.ErrAssignmentNotFound
	}
	return a, err
}

func (s *Store) LockAssignment(ctx context.Context, id string) (assignments.Assignment, error) {
	a, found, err := s.getAssignment(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE id = $1 FOR UPDATE`, id)
	if err == nil && !found {
		err = assignments.ErrAssignmentNotFound
	}
	return a, err
}

func (s *Store) FindActiveAssignment(ctx context.Context, resourceID string) (assignments.Assignment, bool, error) {
	return s.getAssignment(ctx,
		`SELECT `+assignmentColumns+` FROM assignments WHERE resource_id = $1 AND status = 'active'`, resourceID)
}

func (s *Store) FindAssignmentAt(ctx context.Context, resourceID string, at time.Time) (assignments.Assignment, bool, error) {
	const q = `
SELECT ` + assignmentColumns + `
FROM assignments
WHERE resource_id = $1
  AND start_date <= $2
  AND (end_date IS NULL OR end_date >= $2)
ORDER BY start_date DESC
LIMIT 1
`
	return s.getAssignment(ctx, q, resourceID, at)
}

func (s *Store) CloseAssignment(ctx context.Context, id string, endDate, at time.Time) error {
	const q = `UPDATE assignments SET status = 'inactive', end_date = $2, updated_at = $3 WHERE id = $1`
	return s.run(ctx, func(ctx context.Context, db utils.DBTX) error {
		res, err := db.ExecContext(ctx, q, id, endDate, at)
		if utils.IsCheckViolation(err) {
			return assignments.ErrInvertedDateRange
		}
		if err != nil {
			return err
		}
		ok, err := affected(res)
		if err == nil && !ok {
			return assignments.ErrAssignmentNotFound
		}
		return err
	})
}

func (s *Store) UpdateLineEffectiveTo(ctx context.Context, assignmentID string, end, at time.Time) error {
	const q = `
UPDATE invoice_line_items
SET effective_to = $2, updated_at = $3
WHERE assignment_id = $1
  AND effective_from <= $2
  AND effective_to > $2
`
	return s.run(ctx, func(ctx context.Context, db utils.DBTX) error {
		_, err := db.ExecContext(ctx, q, assignmentID, end.UTC(), at)
		return err
	})
}

func (s *Store) UpdateAssignmentRate(ctx context.Context, id string, rate decimal.Decimal, at time.Time) error {
	const q = `UPDATE assignments SET price_per_min = $2, updated_at = $3 WHERE id = $1`
	return s.run(ctx, func(ctx context.Context, db utils.DBTX) error {
		res, err := db.ExecContext(ctx, q, id, rate, at)
		if err != nil {
			return err
		}
		ok, err := affected(res)
		if err == nil && !ok {
			return assignments.ErrAssignmentNotFound
		}
		return err
	})
}

// ListBillableAssignments returns active assignments and inactive ones whose
// end_date is not before asOf.
func (s *Store) ListBillableAssignments(ctx context.Context, asOf time.Time) ([]assignments.Assignment, error) {
	const q = `
SELECT ` + assignmentColumns + `
FROM assignments
WHERE status = 'active'
   OR (status = 'inactive' AND end_date >= $1)
ORDER BY created_at, id
`
	out := []assignments.Assignment{}
	err := s.run(ctx, func(ctx context.Context, db utils.DBTX) error {
		out = out[:0]
		rows, err := db.QueryContext(ctx, q, asOf)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			a, err := scanAssignment(rows)
			if err != nil {
				return err
			}
			out = append(out, a)
		}
		return rows.Err()
	})
	return out, err
}
