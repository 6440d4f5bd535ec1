package calls_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telecom-billing/internal/apperr"
	"telecom-billing/internal/assignments"
	"telecom-billing/internal/audit"
	"telecom-billing/internal/calls"
	"telecom-billing/internal/invoicing"
	"telecom-billing/internal/period"
	"telecom-billing/internal/resources"
	"telecom-billing/internal/store/memory"
	"telecom-billing/internal/usage"
)

var (
	jan   = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	march = time.Date(2024, 3, 14, 9, 30, 0, 0, time.UTC)
	rate  = decimal.RequireFromString("0.0500")
)

type fixture struct {
	store    *memory.Store
	service  *calls.Service
	workflow *invoicing.Workflow
	resource resources.Resource
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	auditSvc := audit.NewService(st)
	mgr := resources.NewManager(st, auditSvc)
	reg := assignments.NewRegistry(st, st, mgr, auditSvc)
	gen := invoicing.NewGenerator(st, reg, period.NewResolver(time.UTC), nil, auditSvc, invoicing.GeneratorConfig{})

	r, err := mgr.Register(ctx, resources.KindDID, "+15557770000")
	require.NoError(t, err)
	_, err = reg.Lease(ctx, assignments.LeaseRequest{CompanyID: "c1", ResourceID: r.ID, PricePerMin: rate, StartDate: jan})
	require.NoError(t, err)

	return fixture{
		store:    st,
		service:  calls.NewService(st, usage.NewAggregator(st), reg, gen),
		workflow: invoicing.NewWorkflow(st, auditSvc),
		resource: r,
	}
}

func (f fixture) record(t *testing.T, session string, seconds int) calls.Outcome {
	t.Helper()
	out, err := f.service.Record(context.Background(), calls.RecordRequest{
		ResourceID:      f.resource.ID,
		SessionID:       session,
		DurationSeconds: seconds,
		StartedAt:       march,
	})
	require.NoError(t, err)
	return out
}

func TestRecord_ByResourceRecomputesInvoice(t *testing.T) {
	f := newFixture(t)

	first := f.record(t, "CA1", 65)
	f.record(t, "CA2", 30)
	last := f.record(t, "CA3", 600)

	assert.Equal(t, "c1", first.Call.CompanyID)
	assert.Equal(t, first.Call.InvoiceID, last.Call.InvoiceID)
	assert.Equal(t, first.Call.LineItemID, last.Call.LineItemID)
	require.NotNil(t, last.Totals)
	assert.EqualValues(t, 13, last.Totals.TotalMinutes)
	assert.Equal(t, "0.65", last.Totals.BilledAmount.StringFixed(2))

	inv, err := f.workflow.Get(context.Background(), last.Call.InvoiceID)
	require.NoError(t, err)
	assert.Equal(t, invoicing.StatusDraft, inv.Status)
	assert.EqualValues(t, 13, inv.TotalMinutes)
	require.Len(t, inv.Lines, 1)
	assert.True(t, inv.Lines[0].Subtotal.Equal(decimal.RequireFromString("0.65")))
}

func TestRecord_DuplicateSessionIsNoop(t *testing.T) {
	f := newFixture(t)
	first := f.record(t, "CA-dup", 65)

	again := f.record(t, "CA-dup", 900)
	assert.True(t, again.Duplicate)
	assert.Nil(t, again.Totals)
	assert.Equal(t, first.Call.ID, again.Call.ID)
	assert.Equal(t, 65, again.Call.DurationSeconds)

	inv, err := f.workflow.Get(context.Background(), first.Call.InvoiceID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, inv.TotalMinutes)
}

func TestRecord_ByLineItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seed := f.record(t, "", 10)

	out, err := f.service.Record(ctx, calls.RecordRequest{LineItemID: seed.Call.LineItemID, DurationSeconds: 120})
	require.NoError(t, err)
	assert.EqualValues(t, 3, out.Totals.TotalMinutes)

	_, err = f.service.Record(ctx, calls.RecordRequest{LineItemID: seed.Call.LineItemID, ResourceID: "other", DurationSeconds: 1})
	assert.True(t, apperr.IsValidation(err))

	_, err = f.service.Record(ctx, calls.RecordRequest{LineItemID: "missing", DurationSeconds: 1})
	assert.ErrorIs(t, err, invoicing.ErrLineItemNotFound)
}

func TestRecord_ByLineItemRejectsCallOutsideWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seed := f.record(t, "", 10)

	may := time.Date(2024, 5, 3, 12, 0, 0, 0, time.UTC)
	_, err := f.service.Record(ctx, calls.RecordRequest{LineItemID: seed.Call.LineItemID, DurationSeconds: 60, StartedAt: may})
	assert.ErrorIs(t, err, calls.ErrOutsideLineWindow)
	assert.True(t, apperr.IsValidation(err))

	lateMarch := time.Date(2024, 3, 31, 23, 0, 0, 0, time.UTC)
	out, err := f.service.Record(ctx, calls.RecordRequest{LineItemID: seed.Call.LineItemID, DurationSeconds: 60, StartedAt: lateMarch})
	require.NoError(t, err)
	assert.EqualValues(t, 2, out.Totals.TotalMinutes)
}

func TestRecord_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bad := 6

	cases := []struct {
		name string
		req  calls.RecordRequest
		want error
	}{
		{"negative duration", calls.RecordRequest{ResourceID: f.resource.ID, DurationSeconds: -1}, calls.ErrInvalidDuration},
		{"unknown disposition", calls.RecordRequest{ResourceID: f.resource.ID, Disposition: "MAYBE"}, calls.ErrInvalidDisposition},
		{"no target", calls.RecordRequest{DurationSeconds: 5}, calls.ErrMissingTarget},
		{"rating out of range", calls.RecordRequest{ResourceID: f.resource.ID, Feedback: calls.Feedback{AIRating: &bad}}, calls.ErrInvalidRating},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.service.Record(ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
			assert.True(t, apperr.IsValidation(err))
		})
	}

	_, err := f.service.Record(ctx, calls.RecordRequest{ResourceID: f.resource.ID, StartedAt: jan.AddDate(0, -1, 0)})
	assert.ErrorIs(t, err, assignments.ErrAssignmentNotFound)
}

func TestRecord_RejectedOnFinalizedInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.record(t, "CA1", 65)
	_, err := f.workflow.Finalize(ctx, first.Call.InvoiceID)
	require.NoError(t, err)

	_, err = f.service.Record(ctx, calls.RecordRequest{ResourceID: f.resource.ID, SessionID: "CA2", DurationSeconds: 30, StartedAt: march})
	assert.ErrorIs(t, err, invoicing.ErrInvoiceNotDraft)

	_, found, err := f.store.FindCallBySession(ctx, "CA2")
	require.NoError(t, err)
	assert.False(t, found)

	_, err = f.service.CorrectDuration(ctx, first.Call.ID, 10)
	assert.ErrorIs(t, err, invoicing.ErrInvoiceNotDraft)
	stored, err := f.service.Get(ctx, first.Call.ID)
	require.NoError(t, err)
	assert.Equal(t, 65, stored.DurationSeconds)
}

func TestRecord_RollsBackWhenRecomputeFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	boom := errors.New("write failed")
	f.store.InjectFault(func(op, _ string) error {
		if op == "UpdateInvoiceTotals" {
			return boom
		}
		return nil
	})

	_, err := f.service.Record(ctx, calls.RecordRequest{ResourceID: f.resource.ID, SessionID: "CA1", DurationSeconds: 65, StartedAt: march})
	assert.ErrorIs(t, err, boom)

	_, found, err := f.store.FindCallBySession(ctx, "CA1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCorrectDurationAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.record(t, "CA1", 65)
	f.record(t, "CA2", 30)
	long := f.record(t, "CA3", 600)

	out, err := f.service.CorrectDuration(ctx, long.Call.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, out.Call.DurationSeconds)
	assert.EqualValues(t, 3, out.Totals.TotalMinutes)
	assert.Equal(t, "0.15", out.Totals.BilledAmount.StringFixed(2))

	_, err = f.service.CorrectDuration(ctx, long.Call.ID, -5)
	assert.ErrorIs(t, err, calls.ErrInvalidDuration)

	totals, err := f.service.Delete(ctx, long.Call.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, totals.TotalMinutes)

	_, err = f.service.Get(ctx, long.Call.ID)
	assert.ErrorIs(t, err, calls.ErrCallNotFound)
	_, err = f.service.Delete(ctx, long.Call.ID)
	assert.ErrorIs(t, err, calls.ErrCallNotFound)
}

func TestUpdateFeedback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.record(t, "CA1", 65).Call
	_, err := f.workflow.Finalize(ctx, c.InvoiceID)
	require.NoError(t, err)

	four := 4
	updated, err := f.service.UpdateFeedback(ctx, "c1", c.ID, calls.Feedback{CompanyFeedback: "good lead", CompanyRating: &four})
	require.NoError(t, err)
	assert.Equal(t, "good lead", updated.CompanyFeedback)

	stored, err := f.service.Get(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.CompanyRating)
	assert.Equal(t, 4, *stored.CompanyRating)
	assert.Equal(t, 65, stored.DurationSeconds)

	_, err = f.service.UpdateFeedback(ctx, "c2", c.ID, calls.Feedback{AIFeedback: "x"})
	assert.ErrorIs(t, err, calls.ErrCallNotFound)

	zero := 0
	_, err = f.service.UpdateFeedback(ctx, "", c.ID, calls.Feedback{AIRating: &zero})
	assert.ErrorIs(t, err, calls.ErrInvalidRating)
}

func TestParseDisposition(t *testing.T) {
	d, ok := calls.ParseDisposition(" sale ")
	assert.True(t, ok)
	assert.Equal(t, calls.DispositionSale, d)

	_, ok = calls.ParseDisposition("")
	assert.True(t, ok)
	_, ok = calls.ParseDisposition("BUSY")
	assert.False(t, ok)
}
