package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"telecom-billing/internal/invoicing"
	"telecom-billing/pkg/utils"
)

const invoiceColumns = `id, number, company_id, effective_from, effective_to, total_minutes, billed_amount, status, finalized_at, paid_at, created_at, updated_at`

const lineColumns = `id, invoice_id, company_id, assignment_id, resource_id, resource_kind, effective_from, effective_to, rate_per_min, total_minutes, subtotal, created_at, updated_at`

func scanInvoice(row scanner) (invoicing.Invoice, error) {
	var (
		inv       invoicing.Invoice
		finalized sql.NullTime
		paid      sql.NullTime
	)
	err := row.Scan(&inv.ID, &inv.Number, &inv.CompanyID, &inv.EffectiveFrom, &inv.EffectiveTo,
		&inv.TotalMinutes, &inv.BilledAmount, &inv.Status, &finalized, &paid, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return invoicing.Invoice{}, err
	}
	inv.FinalizedAt = timePtr(finalized)
	inv.PaidAt = timePtr(paid)
	return inv, nil
}

func scanLine(row scanner) (invoicing.LineItem, error) {
	var li invoicing.LineItem
	err := row.Scan(&li.ID, &li.InvoiceID, &li.CompanyID, &li.AssignmentID, &li.ResourceID, &li.ResourceKind,
		&li.EffectiveFrom, &li.EffectiveTo, &li.RatePerMin, &li.TotalMinutes, &li.Subtotal, &li.CreatedAt, &li.UpdatedAt)
	return li, err
}

func (s *Store) queryInvoice(ctx context.Context, q string, args ...any) (invoicing.Invoice, bool, error) {
	var (
		out   invoicing.Invoice
		found bool
	)
	err := s.run(ctx, func(ctx context.Context, db utils.DBTX) error {
		inv, err := scanInvoice(db.QueryRowContext(ctx, q, args...))
		if errors.Is(err, sql.ErrNoRows) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		out, found = inv, true
		return nil
	})
	return out, found, err
}

func (s *Store) queryLines(ctx context.Context, q string, args ...any) ([]invoicing.LineItem, error) {
	out := []invoicing.LineItem{}
	err := s.run(ctx, func(ctx context.Context, db utils.DBTX) error {
		out = out[:0]
		rows, err := db.QueryContext(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			li, err := scanLine(rows)
			if err != nil {
				return err
			}
			out = append(out, li)
		}
		return rows.Err()
	})
	return out, err
}

func (s *Store) FindInvoiceByPeriod(ctx context.Context, companyID string, periodStart time.Time) (invoicing.Invoice, bool, error) {
	return s.queryInvoice(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE company_id = $1 AND effective_from = $2`,
		companyID, periodStart)
}

// InsertInvoice does nothing when the company already has an invoice for the
// period; the caller re-reads the existing one.
func (s *Store) InsertInvoice(ctx context.Context, inv invoicing.Invoice) (bool, error) {
	const q = `
INSERT INTO invoices (id, number, company_id, effective_from, effective_to, total_minutes, billed_amount, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (company_id, effective_from) DO NOTHING
`
	var inserted bool
	err := s.run(ctx, func(ctx context.Context, db utils.DBTX) error {
		res, err := db.ExecContext(ctx, q, inv.ID, inv.Number, inv.CompanyID, inv.EffectiveFrom, inv.EffectiveTo,
			inv.TotalMinutes, inv.BilledAmount, inv.Status, inv.CreatedAt, inv.UpdatedAt)
		if err != nil {
			return err
		}
		inserted, err = affected(res)
		return err
	})
	return inserted, err
}

// NextInvoiceNumber increments the period's counter. The counter row stays
// locked until the transaction ends, and a rollback gives the number back.
func (s *Store) NextInvoiceNumber(ctx context.Context, periodKey string) (int64, error) {
	const q = `
INSERT INTO invoice_sequences (year_month, last_value)
VALUES ($1, 1)
ON CONFLICT (year_month) DO UPDATE SET last_value = invoice_sequences.last_value + 1
RETURNING last_value
`
	var seq int64
	err := s.run(ctx, func(ctx context.Context, db utils.DBTX) error {
		return db.QueryRowContext(ctx, q, periodKey).Scan(&seq)
	})
	return seq, err
}

func (s *Store) FindLineItem(ctx context.Context, assignmentID string, periodStart time.Time) (invoicing.LineItem, bool, error) {
	lines, err := s.queryLines(ctx,
		`SELECT `+lineColumns+` FROM invoice_line_items WHERE assignment_id = $1 AND effective_from = $2`,
		assignmentID, periodStart)
	if err != nil || len(lines) == 0 {
		return invoicing.LineItem{}, false, err
	}
	return lines[0], true, nil
}

func (s *Store) InsertLineItem(ctx context.Context, li invoicing.LineItem) (bool, error) {
	const q = `
INSERT INTO invoice_line_items (id, invoice_id, company_id, assignment_id, resource_id, resource_kind,
    effective_from, effective_to, rate_per_min, total_minutes, subtotal, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (assignment_id, effective_from) DO NOTHING
`
	var inserted bool
	err := s.run(ctx, func(ctx context.Context, db utils.DBTX) error {
		res, err := db.ExecContext(ctx, q, li.ID, li.InvoiceID, li.CompanyID, li.AssignmentID, li.ResourceID, li.ResourceKind,
			li.EffectiveFrom, li.EffectiveTo, li.RatePerMin, li.TotalMinutes, li.Subtotal, li.CreatedAt, li.UpdatedAt)
		if utils.IsForeignKeyViolation(err) {
			return invoicing.ErrInvoiceNotFound
		}
		if err != nil {
			return err
		}
		inserted, err = affected(res)
		return err
	})
	return inserted, err
}

func (s *Store) GetLineItem(ctx context.Context, id string) (invoicing.LineItem, error) {
	lines, err := s.queryLines(ctx, `SELECT `+lineColumns+` FROM invoice_line_items WHERE id = $1`, id)
	if err != nil {
		return invoicing.LineItem{}, err
	}
	if len(lines) == 0 {
		return invoicing.LineItem{}, invoicing.ErrLineItemNotFound
	}
	return lines[0], nil
}

func (s *Store) ListLineItems(ctx context.Context, invoiceID string) ([]invoicing.LineItem, error) {
	return s.queryLines(ctx,
		`SELECT `+lineColumns+` FROM invoice_line_items WHERE invoice_id = $1 ORDER BY created_at, id`, invoiceID)
}

// GetInvoice returns the invoice with its lines.
func (s *Store) GetInvoice(ctx context.Context, id string) (invoicing.Invoice, error) {
	inv, found, err := s.queryInvoice(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
	if err != nil {
		return invoicing.Invoice{}, err
	}
	if !found {
		return invoicing.Invoice{}, invoicing.ErrInvoiceNotFound
	}
	inv.Lines, err = s.ListLineItems(ctx, id)
	if err != nil {
		return invoicing.Invoice{}, err
	}
	return inv, nil
}

func (s *Store) ListInvoices(ctx context.Context, f invoicing.Filter) ([]invoicing.Invoice, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, strings.Replace(cond, "?", "$"+strconv.Itoa(len(args)), 1))
	}
	if f.CompanyID != "" {
		add("company_id = ?", f.CompanyID)
	}
	if f.Status != "" {
		add("status = ?", f.Status)
	}
	if f.PeriodStart != nil {
		add("effective_from = ?", *f.PeriodStart)
	}

	q := `SELECT ` + invoiceColumns + ` FROM invoices`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY effective_from DESC, number`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += ` LIMIT $` + strconv.Itoa(len(args))
	}

	out := []invoicing.Invoice{}
	err := s.run(ctx, func(ctx context.Context, db utils.DBTX) error {
		out = out[:0]
		rows, err := db.QueryContext(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			inv, err := scanInvoice(rows)
			if err != nil {
				return err
			}
			out = append(out, inv)
		}
		return rows.Err()
	})
	return out, err
}

// UpdateInvoiceStatus is a compare-and-swap on the current status. It reports
// false when the stored status is no longer from.
func (s *Store) UpdateInvoiceStatus(ctx context.Context, id string, from, to invoicing.Status, at time.Time) (bool, error) {
	const q = `
UPDATE invoices
SET status = $3,
    updated_at = $4,
    finalized_at = CASE WHEN $3 = 'finalized' THEN $4 ELSE finalized_at END,
    paid_at = CASE WHEN $3 = 'paid' THEN $4 ELSE paid_at END
WHERE id = $1 AND status = $2
`
	var swapped bool
	err := s.run(ctx, func(ctx context.Context, db utils.DBTX) error {
		res, err := db.ExecContext(ctx, q, id, from, to, at)
		if err != nil {
			return err
		}
		swapped, err = affected(res)
		return err
	})
	return swapped, err
}

// LockInvoice takes the invoice row lock that serializes recomputations.
func (s *Store) LockInvoice(ctx context.Context, id string) (invoicing.Invoice, error) {
	inv, found, err := s.queryInvoice(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, id)
	if err == nil && !found {
		err = invoicing.ErrInvoiceNotFound
	}
	return inv, err
}

func (s *Store) ListInvoiceIDs(ctx context.Context, periodStart time.Time, status invoicing.Status) ([]string, error) {
	const q = `SELECT id FROM invoices WHERE effective_from = $1 AND status = $2 ORDER BY id`
	out := []string{}
	err := s.run(ctx, func(ctx context.Context, db utils.DBTX) error {
		out = out[:0]
		rows, err := db.QueryContext(ctx, q, periodStart, status)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			out = append(out, id)
		}
		return rows.Err()
	})
	return out, err
}
