package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telecom-billing/internal/assignments"
	"telecom-billing/internal/calls"
	"telecom-billing/internal/invoicing"
	"telecom-billing/internal/resources"
)

func TestWithinTx_RollbackRestoresState(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(ctx context.Context) error {
		require.NoError(t, s.InsertResource(ctx, resources.Resource{ID: "r1", Kind: resources.KindDID}))
		_, err := s.NextInvoiceNumber(ctx, "2024-03")
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetResource(ctx, "r1")
	assert.ErrorIs(t, err, resources.ErrResourceNotFound)
	seq, err := s.NextInvoiceNumber(ctx, "2024-03")
	require.NoError(t, err)
	assert.EqualValues(t, 1, seq)
}

func TestWithinTx_NestedJoinsOuter(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.WithinTx(ctx, func(ctx context.Context) error {
		return s.WithinTx(ctx, func(ctx context.Context) error {
			return s.InsertResource(ctx, resources.Resource{ID: "r1"})
		})
	})
	require.NoError(t, err)
	_, err = s.GetResource(ctx, "r1")
	assert.NoError(t, err)
}

func TestInsertAssignment_OneActivePerResource(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := assignments.Assignment{ID: "a1", ResourceID: "r1", PricePerMin: decimal.Zero, Status: assignments.StatusActive}
	require.NoError(t, s.InsertAssignment(ctx, a))

	a.ID = "a2"
	assert.ErrorIs(t, s.InsertAssignment(ctx, a), assignments.ErrResourceAlreadyLeased)

	a.Status = assignments.StatusInactive
	assert.NoError(t, s.InsertAssignment(ctx, a))
}

func TestInsertCall_SessionUnique(t *testing.T) {
	s := New()
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	ok, err := s.InsertInvoice(ctx, invoicing.Invoice{ID: "i1", CompanyID: "c1", EffectiveFrom: start})
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.InsertInvoice(ctx, invoicing.Invoice{ID: "i2", CompanyID: "c1", EffectiveFrom: start})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.InsertLineItem(ctx, invoicing.LineItem{ID: "l1", InvoiceID: "i1", AssignmentID: "a1", EffectiveFrom: start})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.InsertCall(ctx, calls.Call{ID: "k1", InvoiceID: "i1", LineItemID: "l1", SessionID: "CA1"})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.InsertCall(ctx, calls.Call{ID: "k2", InvoiceID: "i1", LineItemID: "l1", SessionID: "CA1"})
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.InsertCall(ctx, calls.Call{ID: "k3", LineItemID: "missing"})
	assert.ErrorIs(t, err, invoicing.ErrLineItemNotFound)

	require.NoError(t, s.SoftDeleteCall(ctx, "k1", time.Now()))
	durations, err := s.ListCallDurations(ctx, "i1")
	require.NoError(t, err)
	assert.Empty(t, durations)
}

func TestCloseAssignment_RejectsEndBeforeStart(t *testing.T) {
	s := New()
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.InsertAssignment(ctx, assignments.Assignment{ID: "a1", ResourceID: "r1", StartDate: start, Status: assignments.StatusActive}))

	err := s.CloseAssignment(ctx, "a1", start.Add(-time.Hour), start)
	assert.ErrorIs(t, err, assignments.ErrInvertedDateRange)
	require.NoError(t, s.CloseAssignment(ctx, "a1", start, start))
}

func TestUpdateLineEffectiveTo_OnlyTrimsLinesRunningPastEnd(t *testing.T) {
	s := New()
	ctx := context.Background()
	feb := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	_, err := s.InsertInvoice(ctx, invoicing.Invoice{ID: "i1", CompanyID: "c1", EffectiveFrom: feb})
	require.NoError(t, err)
	_, err = s.InsertInvoice(ctx, invoicing.Invoice{ID: "i2", CompanyID: "c1", EffectiveFrom: mar})
	require.NoError(t, err)
	_, err = s.InsertLineItem(ctx, invoicing.LineItem{ID: "l-feb", InvoiceID: "i1", AssignmentID: "a1", EffectiveFrom: feb, EffectiveTo: mar.Add(-time.Nanosecond)})
	require.NoError(t, err)
	_, err = s.InsertLineItem(ctx, invoicing.LineItem{ID: "l-mar", InvoiceID: "i2", AssignmentID: "a1", EffectiveFrom: mar, EffectiveTo: mar.AddDate(0, 1, 0).Add(-time.Nanosecond)})
	require.NoError(t, err)

	require.NoError(t, s.UpdateLineEffectiveTo(ctx, "a1", end, end))

	febLine, err := s.GetLineItem(ctx, "l-feb")
	require.NoError(t, err)
	assert.True(t, febLine.EffectiveTo.Equal(mar.Add(-time.Nanosecond)))
	marLine, err := s.GetLineItem(ctx, "l-mar")
	require.NoError(t, err)
	assert.True(t, marLine.EffectiveTo.Equal(end))
}
