package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"telecom-billing/internal/calls"
	"telecom-billing/internal/invoicing"
	"telecom-billing/internal/usage"
	"telecom-billing/pkg/utils"
)

const callColumns = `id, company_id, invoice_id, line_item_id, resource_id, session_id, user_phone, duration,
    disposition, started_at, call_audio_url, call_transcription, scheduled_callback, ai_feedback, ai_rating,
    company_feedback, company_rating, created_at, updated_at, deleted_at`

func scanCall(row scanner) (calls.Call, error) {
	var (
		c         calls.Call
		session   sql.NullString
		callback  sql.NullTime
		aiRating  sql.NullInt32
		coRating  sql.NullInt32
		deletedAt sql.NullTime
	)
	err := row.Scan(&c.ID, &c.CompanyID, &c.InvoiceID, &c.LineItemID, &c.ResourceID, &session, &c.UserPhone,
		&c.DurationSeconds, &c.Disposition, &c.StartedAt, &c.AudioURL, &c.Transcription, &callback,
		&c.AIFeedback, &aiRating, &c.CompanyFeedback, &coRating, &c.CreatedAt, &c.UpdatedAt, &deletedAt)
	if err != nil {
		return calls.Call{}, err
	}
	c.SessionID = session.String
	c.ScheduledCallback = timePtr(callback)
	c.AIRating = intPtr(aiRating)
	c.CompanyRating = intPtr(coRating)
	c.DeletedAt = timePtr(deletedAt)
	return c, nil
}

func (s *Store) queryCall(ctx context.Context, q string, args ...any) (calls.Call, bool, error) {
	var (
		out   calls.Call
		found bool
	)
	err := s.run(ctx, func(ctx context.Context, db utils.DBTX) error {
		c, err := scanCall(db.QueryRowContext(ctx, q, args...))
		if errors.Is(err, sql.ErrNoRows) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		out, found = c, true
		return nil
	})
	return out, found, err
}

// InsertCall reports false when a call with the same session id exists.
func (s *Store) InsertCall(ctx context.Context, c calls.Call) (bool, error) {
	const q = `
INSERT INTO calls (id, company_id, invoice_id, line_item_id, resource_id, session_id, user_phone, duration,
    disposition, started_at, call_audio_url, call_transcription, scheduled_callback, ai_feedback, ai_rating,
    company_feedback, company_rating, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
ON CONFLICT (session_id) WHERE session_id IS NOT NULL DO NOTHING
`
	var inserted bool
	err := s.run(ctx, func(ctx context.Context, db utils.DBTX) error {
		res, err := db.ExecContext(ctx, q, c.ID, c.CompanyID, c.InvoiceID, c.LineItemID, c.ResourceID,
			nullString(c.SessionID), c.UserPhone, c.DurationSeconds, c.Disposition, c.StartedAt, c.AudioURL,
			c.Transcription, nullTime(c.ScheduledCallback), c.AIFeedback, nullInt(c.AIRating),
			c.CompanyFeedback, nullInt(c.CompanyRating), c.CreatedAt, c.UpdatedAt)
		if utils.IsForeignKeyViolation(err) {
			return invoicing.ErrLineItemNotFound
		}
		if err != nil {
			return err
		}
		inserted, err = affected(res)
		return err
	})
	return inserted, err
}

func (s *Store) FindCallBySession(ctx context.Context, sessionID string) (calls.Call, bool, error) {
	return s.queryCall(ctx, `SELECT `+callColumns+` FROM calls WHERE session_id = $1`, sessionID)
}

func (s *Store) GetCall(ctx context.Context, id string) (calls.Call, error) {
	c, found, err := s.queryCall(ctx, `SELECT `+callColumns+` FROM calls WHERE id = $1 AND deleted_at IS NULL`, id)
	if err == nil && !found {
		err = calls.ErrCallNotFound
	}
	return c, err
}

func (s *Store) LockCall(ctx context.Context, id string) (calls.Call, error) {
	c, found, err := s.queryCall(ctx, `SELECT `+callColumns+` FROM calls WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, id)
	if err == nil && !found {
		err = calls.ErrCallNotFound
	}
	return c, err
}

func (s *Store) updateCall(ctx context.Context, q string, args ...any) error {
	return s.run(ctx, func(ctx context.Context, db utils.DBTX) error {
		res, err := db.ExecContext(ctx, q, args...)
		if err != nil {
			return err
		}
		ok, err := affected(res)
		if err == nil && !ok {
			return calls.ErrCallNotFound
		}
		return err
	})
}

func (s *Store) UpdateCallDuration(ctx context.Context, id string, seconds int, at time.Time) error {
	return s.updateCall(ctx,
		`UPDATE calls SET duration = $2, updated_at = $3 WHERE id = $1 AND deleted_at IS NULL`,
		id, seconds, at)
}

func (s *Store) UpdateCallFeedback(ctx context.Context, id string, f calls.Feedback, at time.Time) error {
	const q = `
UPDATE calls
SET scheduled_callback = $2, ai_feedback = $3, ai_rating = $4, company_feedback = $5, company_rating = $6, updated_at = $7
WHERE id = $1 AND deleted_at IS NULL
`
	return s.updateCall(ctx, q, id, nullTime(f.ScheduledCallback), f.AIFeedback, nullInt(f.AIRating),
		f.CompanyFeedback, nullInt(f.CompanyRating), at)
}

func (s *Store) SoftDeleteCall(ctx context.Context, id string, at time.Time) error {
	return s.updateCall(ctx,
		`UPDATE calls SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`,
		id, at)
}

// ListCallDurations returns the live calls of an invoice.
func (s *Store) ListCallDurations(ctx context.Context, invoiceID string) ([]usage.CallDuration, error) {
	const q = `SELECT line_item_id, duration FROM calls WHERE invoice_id = $1 AND deleted_at IS NULL`
	out := []usage.CallDuration{}
	err := s.run(ctx, func(ctx context.Context, db utils.DBTX) error {
		out = out[:0]
		rows, err := db.QueryContext(ctx, q, invoiceID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var cd usage.CallDuration
			if err := rows.Scan(&cd.LineItemID, &cd.Seconds); err != nil {
				return err
			}
			out = append(out, cd)
		}
		return rows.Err()
	})
	return out, err
}

func (s *Store) UpdateLineTotals(ctx context.Context, lineID string, minutes int64, subtotal decimal.Decimal, at time.Time) error {
	const q = `UPDATE invoice_line_items SET total_minutes = $2, subtotal = $3, updated_at = $4 WHERE id = $1`
	return s.run(ctx, func(ctx context.Context, db utils.DBTX) error {
		res, err := db.ExecContext(ctx, q, lineID, minutes, subtotal, at)
		if err != nil {
			return err
		}
		ok, err := affected(res)
		if err == nil && !ok {
			return invoicing.ErrLineItemNotFound
		}
		return err
	})
}

func (s *Store) UpdateInvoiceTotals(ctx context.Context, invoiceID string, minutes int64, amount decimal.Decimal, at time.Time) error {
	const q = `UPDATE invoices SET total_minutes = $2, billed_amount = $3, updated_at = $4 WHERE id = $1`
	return s.run(ctx, func(ctx context.Context, db utils.DBTX) error {
		res, err := db.ExecContext(ctx, q, invoiceID, minutes, amount, at)
		if err != nil {
			return err
		}
		ok, err := affected(res)
		if err == nil && !ok {
			return invoicing.ErrInvoiceNotFound
		}
		return err
	})
}
