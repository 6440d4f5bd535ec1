package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telecom-billing/internal/apperr"
	"telecom-billing/internal/assignments"
	"telecom-billing/internal/calls"
	"telecom-billing/internal/invoicing"
	"telecom-billing/internal/resources"
	"telecom-billing/pkg/utils"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, Options{
		QueryTimeout: time.Second,
		Retry:        utils.RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
	}), mock
}

var (
	periodStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	periodEnd   = time.Date(2024, 3, 31, 23, 59, 59, 999999999, time.UTC)
)

func TestInsertAssignment_ActiveIndexViolation(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO assignments")).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "assignments_one_active_per_resource"})

	err := s.InsertAssignment(context.Background(), assignments.Assignment{ID: "a1", ResourceID: "r1", PricePerMin: decimal.Zero})
	assert.ErrorIs(t, err, assignments.ErrResourceAlreadyLeased)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertResource_DuplicateLabel(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO resources")).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := s.InsertResource(context.Background(), resources.Resource{ID: "r1", Kind: resources.KindDID, Label: "+1555"})
	assert.ErrorIs(t, err, resources.ErrDuplicateLabel)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAssignment_NotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM assignments WHERE id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.GetAssignment(context.Background(), "missing")
	assert.ErrorIs(t, err, assignments.ErrAssignmentNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindAssignmentAt_ScansOpenEnd(t *testing.T) {
	s, mock := newMock(t)
	at := time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY start_date DESC")).
		WithArgs("r1", at).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "company_id", "resource_id", "resource_kind", "price_per_min", "start_date", "end_date", "status", "created_at", "updated_at",
		}).AddRow("a1", "c1", "r1", "did", "0.0500", start, nil, "active", start, start))

	a, found, err := s.FindAssignmentAt(context.Background(), "r1", at)
	require.NoError(t, err)
	require.True(t, found)
	assert.Nil(t, a.EndDate)
	assert.Equal(t, resources.KindDID, a.ResourceKind)
	assert.True(t, a.PricePerMin.Equal(decimal.RequireFromString("0.05")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertInvoice_ConflictIsNotAnError(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (company_id, effective_from) DO NOTHING")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := s.InsertInvoice(context.Background(), invoicing.Invoice{ID: "i1", CompanyID: "c1", BilledAmount: decimal.Zero})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNextInvoiceNumber(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO invoice_sequences")).
		WithArgs("2024-03").
		WillReturnRows(sqlmock.NewRows([]string{"last_value"}).AddRow(int64(7)))

	seq, err := s.NextInvoiceNumber(context.Background(), "2024-03")
	require.NoError(t, err)
	assert.EqualValues(t, 7, seq)
}

func TestGetInvoice_LoadsLines(t *testing.T) {
	s, mock := newMock(t)
	created := periodStart.Add(time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta("FROM invoices WHERE id = $1")).
		WithArgs("i1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "number", "company_id", "effective_from", "effective_to", "total_minutes", "billed_amount",
			"status", "finalized_at", "paid_at", "created_at", "updated_at",
		}).AddRow("i1", "INV-202403-000001", "c1", periodStart, periodEnd, int64(13), "0.65", "finalized", created, nil, created, created))
	mock.ExpectQuery(regexp.QuoteMeta("FROM invoice_line_items WHERE invoice_id = $1")).
		WithArgs("i1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "invoice_id", "company_id", "assignment_id", "resource_id", "resource_kind", "effective_from",
			"effective_to", "rate_per_min", "total_minutes", "subtotal", "created_at", "updated_at",
		}).AddRow("l1", "i1", "c1", "a1", "r1", "agent", periodStart, periodEnd, "0.0500", int64(13), "0.65", created, created))

	inv, err := s.GetInvoice(context.Background(), "i1")
	require.NoError(t, err)
	assert.Equal(t, invoicing.StatusFinalized, inv.Status)
	require.NotNil(t, inv.FinalizedAt)
	assert.Nil(t, inv.PaidAt)
	assert.Equal(t, "0.65", inv.BilledAmount.StringFixed(2))
	require.Len(t, inv.Lines, 1)
	assert.Equal(t, resources.KindAgent, inv.Lines[0].ResourceKind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListInvoices_BuildsFilter(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM invoices WHERE company_id = $1 AND status = $2 ORDER BY effective_from DESC, number LIMIT $3")).
		WithArgs("c1", "draft", int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	out, err := s.ListInvoices(context.Background(), invoicing.Filter{CompanyID: "c1", Status: invoicing.StatusDraft, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateInvoiceStatus_CompareAndSwap(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND status = $2")).
		WithArgs("i1", "draft", "finalized", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := s.UpdateInvoiceStatus(context.Background(), "i1", invoicing.StatusDraft, invoicing.StatusFinalized, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertCall(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (session_id) WHERE session_id IS NOT NULL DO NOTHING")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO calls")).
		WillReturnError(&pgconn.PgError{Code: "23503"})

	inserted, err := s.InsertCall(context.Background(), calls.Call{ID: "k1", SessionID: "CA1"})
	require.NoError(t, err)
	assert.False(t, inserted)

	_, err = s.InsertCall(context.Background(), calls.Call{ID: "k2", LineItemID: "missing"})
	assert.ErrorIs(t, err, invoicing.ErrLineItemNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSoftDeleteCall_Missing(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("SET deleted_at = $2")).
		WithArgs("k1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.SoftDeleteCall(context.Background(), "k1", time.Now())
	assert.ErrorIs(t, err, calls.ErrCallNotFound)
}

func TestWithinTx_RetriesTransientFailure(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE invoices SET total_minutes")).
		WillReturnError(&pgconn.PgError{Code: "40001"})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE invoices SET total_minutes")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	runs := 0
	err := s.WithinTx(context.Background(), func(ctx context.Context) error {
		runs++
		return s.UpdateInvoiceTotals(ctx, "i1", 13, decimal.RequireFromString("0.65"), time.Now())
	})
	require.NoError(t, err)
	assert.Equal(t, 2, runs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTx_DomainErrorRollsBackWithoutRetry(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	runs := 0
	err := s.WithinTx(context.Background(), func(ctx context.Context) error {
		runs++
		return invoicing.ErrInvoiceNotDraft
	})
	assert.ErrorIs(t, err, invoicing.ErrInvoiceNotDraft)
	assert.Equal(t, 1, runs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_ExhaustedRetriesAreTransient(t *testing.T) {
	s, mock := newMock(t)
	for i := 0; i < 3; i++ {
		mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
			WillReturnError(&pgconn.PgError{Code: "40P01"})
	}

	_, err := s.HasActiveAssignment(context.Background(), "r1")
	assert.True(t, apperr.IsTransient(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify(nil))
	assert.Equal(t, calls.ErrCallNotFound, classify(calls.ErrCallNotFound))

	plain := errors.New("syntax error")
	assert.Equal(t, plain, classify(plain))
	assert.True(t, apperr.IsTransient(classify(&pgconn.PgError{Code: "08006"})))
	assert.False(t, apperr.IsTransient(classify(&pgconn.PgError{Code: "23505"})))
	assert.True(t, apperr.IsValidation(classify(&pgconn.PgError{Code: "23514"})))
}

func TestCloseAssignment_EndBeforeStartIsValidation(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE assignments SET status = 'inactive'")).
		WillReturnError(&pgconn.PgError{Code: "23514", ConstraintName: "assignments_check"})

	err := s.CloseAssignment(context.Background(), "a1", periodStart, periodStart)
	assert.ErrorIs(t, err, assignments.ErrInvertedDateRange)
	assert.True(t, apperr.IsValidation(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateLineEffectiveTo_TrimsOpenLines(t *testing.T) {
	s, mock := newMock(t)
	end := time.Date(2024, 3, 10, 17, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("AND effective_from <= $2")).
		WithArgs("a1", end, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.UpdateLineEffectiveTo(context.Background(), "a1", end, end))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSumInvoices(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM invoices GROUP BY status")).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count", "sum"}).
			AddRow("draft", int64(2), "1.30").
			AddRow("paid", int64(1), "0.65"))

	out, err := s.SumInvoices(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, invoicing.StatusPaid, out[1].Status)
	assert.Equal(t, 1, out[1].Count)
	assert.Equal(t, "1.30", out[0].BilledAmount.StringFixed(2))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListCalls_ScopedToCompany(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE company_id = $1 AND started_at >= $2 AND started_at < $3 AND deleted_at IS NULL")).
		WithArgs("c1", periodStart, periodEnd).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	out, err := s.ListCalls(context.Background(), "c1", periodStart, periodEnd)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.NoError(t, mock.ExpectationsWereMet())
}
