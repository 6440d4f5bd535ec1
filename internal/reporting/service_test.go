package reporting_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telecom-billing/internal/assignments"
	"telecom-billing/internal/audit"
	"telecom-billing/internal/calls"
	"telecom-billing/internal/invoicing"
	"telecom-billing/internal/period"
	"telecom-billing/internal/reporting"
	"telecom-billing/internal/resources"
	"telecom-billing/internal/store/memory"
	"telecom-billing/internal/usage"
)

var (
	jan    = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	march  = time.Date(2024, 3, 14, 9, 30, 0, 0, time.UTC)
	rate   = decimal.RequireFromString("0.0500")
	marchR = reporting.TimeRange{
		From: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
	}
)

type fixture struct {
	store    *memory.Store
	calls    *calls.Service
	workflow *invoicing.Workflow
	dids     map[string]resources.Resource
}

// newFixture leases one DID to each of c1 and c2 and keeps a spare agent.
func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	auditSvc := audit.NewService(st)
	mgr := resources.NewManager(st, auditSvc)
	reg := assignments.NewRegistry(st, st, mgr, auditSvc)
	gen := invoicing.NewGenerator(st, reg, period.NewResolver(time.UTC), nil, auditSvc, invoicing.GeneratorConfig{})

	f := fixture{
		store:    st,
		calls:    calls.NewService(st, usage.NewAggregator(st), reg, gen),
		workflow: invoicing.NewWorkflow(st, auditSvc),
		dids:     map[string]resources.Resource{},
	}
	for _, company := range []string{"c1", "c2"} {
		r, err := mgr.Register(ctx, resources.KindDID, "+1555000"+company)
		require.NoError(t, err)
		_, err = reg.Lease(ctx, assignments.LeaseRequest{CompanyID: company, ResourceID: r.ID, PricePerMin: rate, StartDate: jan})
		require.NoError(t, err)
		f.dids[company] = r
	}
	_, err := mgr.Register(ctx, resources.KindAgent, "agent-7")
	require.NoError(t, err)
	return f
}

func (f fixture) record(t *testing.T, company string, seconds int, disp string, at time.Time, rating *int) calls.Call {
	t.Helper()
	out, err := f.calls.Record(context.Background(), calls.RecordRequest{
		ResourceID:      f.dids[company].ID,
		DurationSeconds: seconds,
		Disposition:     disp,
		StartedAt:       at,
		Feedback:        calls.Feedback{CompanyRating: rating},
	})
	require.NoError(t, err)
	return out.Call
}

func intp(v int) *int { return &v }

func TestCallsSummary(t *testing.T) {
	f := newFixture(t)
	f.record(t, "c1", 65, "SALE", march, intp(5))
	f.record(t, "c1", 30, "NI", march, intp(3))
	f.record(t, "c1", 600, "", march, nil)
	deleted := f.record(t, "c1", 120, "SALE", march, nil)
	f.record(t, "c1", 45, "SALE", time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC), nil)
	f.record(t, "c2", 50, "SALE", march, nil)
	_, err := f.calls.Delete(context.Background(), deleted.ID)
	require.NoError(t, err)

	svc := reporting.NewService(f.store)
	out, err := svc.CallsSummary(context.Background(), reporting.CallsSummaryRequest{CompanyID: "c1", Range: marchR})
	require.NoError(t, err)

	assert.Equal(t, 3, out.TotalCalls)
	assert.Equal(t, 695, out.TotalDurationSeconds)
	assert.Equal(t, 231, out.AverageDurationSeconds)
	assert.EqualValues(t, 13, out.BillableMinutes)
	assert.Equal(t, 1, out.Conversions)
	assert.Equal(t, 1, out.ByDisposition[calls.DispositionSale])
	assert.Equal(t, 1, out.ByDisposition[calls.DispositionNotInterested])
	assert.Equal(t, 1, out.ByDisposition[""])
	assert.InDelta(t, 1.0/3.0, out.ConversionRate, 1e-9)
	assert.Equal(t, 2, out.RatedCalls)
	assert.InDelta(t, 4.0, out.AverageCompanyRating, 1e-9)
}

func TestCallsSummary_InvalidRequest(t *testing.T) {
	svc := reporting.NewService(memory.New())
	ctx := context.Background()

	_, err := svc.CallsSummary(ctx, reporting.CallsSummaryRequest{Range: marchR})
	assert.ErrorIs(t, err, reporting.ErrInvalidRequest)

	_, err = svc.CallsSummary(ctx, reporting.CallsSummaryRequest{CompanyID: "c1", Range: reporting.TimeRange{From: marchR.To, To: marchR.From}})
	assert.ErrorIs(t, err, reporting.ErrInvalidRequest)
}

func TestDashboard(t *testing.T) {
	f := newFixture(t)
	c1 := f.record(t, "c1", 65, "SALE", march, nil)
	c2 := f.record(t, "c2", 600, "", march, nil)

	ctx := context.Background()
	_, err := f.workflow.Finalize(ctx, c1.InvoiceID)
	require.NoError(t, err)
	_, err = f.workflow.MarkSent(ctx, c1.InvoiceID)
	require.NoError(t, err)
	_, err = f.workflow.MarkPaid(ctx, c1.InvoiceID)
	require.NoError(t, err)
	_, err = f.workflow.Finalize(ctx, c2.InvoiceID)
	require.NoError(t, err)

	d, err := reporting.NewService(f.store).Dashboard(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, d.ActiveCompanies)
	assert.Equal(t, 2, d.Resources[resources.KindDID][resources.StatusAssigned])
	assert.Equal(t, 1, d.Resources[resources.KindAgent][resources.StatusAvailable])
	assert.Equal(t, "0.10", d.TotalRevenue.StringFixed(2))
	assert.Equal(t, "0.50", d.Outstanding.StringFixed(2))
	assert.Equal(t, 1, d.Invoices[invoicing.StatusPaid].Count)
	assert.EqualValues(t, 2, d.TotalCalls)
	assert.Len(t, d.RecentCalls, 2)
}
