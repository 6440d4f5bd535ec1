package postgres

import (
	"context"
	"time"

	"telecom-billing/internal/calls"
	"telecom-billing/internal/reporting"
	"telecom-billing/pkg/utils"
)

func (s *Store) queryCalls(ctx context.Context, q string, args ...any) ([]calls.Call, error) {
	out := []calls.Call{}
	err := s.run(ctx, func(ctx context.Context, db utils.DBTX) error {
		out = out[:0]
		rows, err := db.QueryContext(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			c, err := scanCall(rows)
			if err != nil {
				return err
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	return out, err
}

// ListCalls returns a company's live calls started in [from, to).
func (s *Store) ListCalls(ctx context.Context, companyID string, from, to time.Time) ([]calls.Call, error) {
	return s.queryCalls(ctx, `SELECT `+callColumns+` FROM calls
WHERE company_id = $1 AND started_at >= $2 AND started_at < $3 AND deleted_at IS NULL
ORDER BY started_at`, companyID, from, to)
}

func (s *Store) RecentCalls(ctx context.Context, limit int) ([]calls.Call, error) {
	return s.queryCalls(ctx, `SELECT `+callColumns+` FROM calls
WHERE deleted_at IS NULL ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
}

func (s *Store) CountResources(ctx context.Context) ([]reporting.ResourceCount, error) {
	const q = `SELECT kind, status, COUNT(*) FROM resources GROUP BY kind, status ORDER BY kind, status`
	out := []reporting.ResourceCount{}
	err := s.run(ctx, func(ctx context.Context, db utils.DBTX) error {
		out = out[:0]
		rows, err := db.QueryContext(ctx, q)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var rc reporting.ResourceCount
			if err := rows.Scan(&rc.Kind, &rc.Status, &rc.Count); err != nil {
				return err
			}
			out = append(out, rc)
		}
		return rows.Err()
	})
	return out, err
}

func (s *Store) SumInvoices(ctx context.Context) ([]reporting.InvoiceTotal, error) {
	const q = `SELECT status, COUNT(*), COALESCE(SUM(billed_amount), 0) FROM invoices GROUP BY status ORDER BY status`
	out := []reporting.InvoiceTotal{}
	err := s.run(ctx, func(ctx context.Context, db utils.DBTX) error {
		out = out[:0]
		rows, err := db.QueryContext(ctx, q)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var t reporting.InvoiceTotal
			if err := rows.Scan(&t.Status, &t.Count, &t.BilledAmount); err != nil {
				return err
			}
			out = append(out, t)
		}
		return rows.Err()
	})
	return out, err
}

func (s *Store) CountActiveCompanies(ctx context.Context) (int, error) {
	const q = `SELECT COUNT(DISTINCT company_id) FROM assignments WHERE status = 'active'`
	var n int
	err := s.run(ctx, func(ctx context.Context, db utils.DBTX) error {
		return db.QueryRowContext(ctx, q).Scan(&n)
	})
	return n, err
}

func (s *Store) CountCalls(ctx context.Context) (int64, error) {
	const q = `SELECT COUNT(*) FROM calls WHERE deleted_at IS NULL`
	var n int64
	err := s.run(ctx, func(ctx context.Context, db utils.DBTX) error {
		return db.QueryRowContext(ctx, q).Scan(&n)
	})
	return n, err
}
