package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"telecom-billing/internal/resources"
	"telecom-billing/pkg/utils"
)

const resourceColumns = `id, kind, label, status, created_at, updated_at`

func scanResource(row scanner) (resources.Resource, error) {
	var r resources.Resource
	err := row.Scan(&r.ID, &r.Kind, &r.Label, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return resources.Resource{}, resources.ErrResourceNotFound
	}
	return r, err
}

func (s *Store) InsertResource(ctx context.Context, r resources.Resource) error {
	const q = `
INSERT INTO resources (id, kind, label, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
`
	return s.run(ctx, func(ctx context.Context, db utils.DBTX) error {
		_, err := db.ExecContext(ctx, q, r.ID, r.Kind, r.Label, r.Status, r.CreatedAt, r.UpdatedAt)
		if utils.IsUniqueViolation(err) {
			return resources.ErrDuplicateLabel
		}
		return err
	})
}

func (s *Store) GetResource(ctx context.Context, id string) (resources.Resource, error) {
	const q = `SELECT ` + resourceColumns + ` FROM resources WHERE id = $1`
	var out resources.Resource
	err := s.run(ctx, func(ctx context.Context, db utils.DBTX) (err error) {
		out, err = scanResource(db.QueryRowContext(ctx, q, id))
		return err
	})
	return out, err
}

func (s *Store) FindResourceByLabel(ctx context.Context, kind resources.Kind, label string) (resources.Resource, error) {
	const q = `SELECT ` + resourceColumns + ` FROM resources WHERE kind = $1 AND label = $2`
	var out resources.Resource
	err := s.run(ctx, func(ctx context.Context, db utils.DBTX) (err error) {
		out, err = scanResource(db.QueryRowContext(ctx, q, kind, label))
		return err
	})
	return out, err
}

// LockResource serializes concurrent leases and status changes of one
// resource for the rest of the transaction.
func (s *Store) LockResource(ctx context.Context, id string) (resources.Resource, error) {
	const q = `SELECT ` + resourceColumns + ` FROM resources WHERE id = $1 FOR UPDATE`
	var out resources.Resource
	err := s.run(ctx, func(ctx context.Context, db utils.DBTX) (err error) {
		out, err = scanResource(db.QueryRowContext(ctx, q, id))
		return err
	})
	return out, err
}

func (s *Store) UpdateResourceStatus(ctx context.Context, id string, status resources.Status, at time.Time) error {
	const q = `UPDATE resources SET status = $2, updated_at = $3 WHERE id = $1`
	return s.run(ctx, func(ctx context.Context, db utils.DBTX) error {
		res, err := db.ExecContext(ctx, q, id, status, at)
		if err != nil {
			return err
		}
		ok, err := affected(res)
		if err == nil && !ok {
			return resources.ErrResourceNotFound
		}
		return err
	})
}

func (s *Store) HasActiveAssignment(ctx context.Context, resourceID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM assignments WHERE resource_id = $1 AND status = 'active')`
	var leased bool
	err := s.run(ctx, func(ctx context.Context, db utils.DBTX) error {
		return db.QueryRowContext(ctx, q, resourceID).Scan(&leased)
	})
	return leased, err
}
