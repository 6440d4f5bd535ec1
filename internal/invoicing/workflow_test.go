package invoicing_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telecom-billing/internal/apperr"
	"telecom-billing/internal/assignments"
	"telecom-billing/internal/invoicing"
)

func draftInvoice(t *testing.T, f fixture, companyID string) invoicing.Invoice {
	t.Helper()
	f.seed(t, assignments.Assignment{ID: "a-" + companyID, CompanyID: companyID})
	report, err := f.generator.GenerateForPeriod(context.Background(), march)
	require.NoError(t, err)
	for _, inv := range report.Invoices {
		if inv.CompanyID == companyID {
			return inv
		}
	}
	t.Fatalf("no invoice generated for %s", companyID)
	return invoicing.Invoice{}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to invoicing.Status
		ok       bool
	}{
		{invoicing.StatusDraft, invoicing.StatusFinalized, true},
		{invoicing.StatusDraft, invoicing.StatusPaid, false},
		{invoicing.StatusFinalized, invoicing.StatusSent, true},
		{invoicing.StatusFinalized, invoicing.StatusDraft, false},
		{invoicing.StatusSent, invoicing.StatusOverdue, true},
		{invoicing.StatusOverdue, invoicing.StatusPaid, true},
		{invoicing.StatusPaid, invoicing.StatusCancelled, false},
		{invoicing.StatusCancelled, invoicing.StatusDraft, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, invoicing.CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestWorkflow_Lifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	inv := draftInvoice(t, f, "c1")

	fin, err := f.workflow.Finalize(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicing.StatusFinalized, fin.Status)
	require.NotNil(t, fin.FinalizedAt)

	_, err = f.workflow.MarkSent(ctx, inv.ID)
	require.NoError(t, err)
	_, err = f.workflow.MarkOverdue(ctx, inv.ID)
	require.NoError(t, err)
	paid, err := f.workflow.MarkPaid(ctx, inv.ID)
	require.NoError(t, err)
	require.NotNil(t, paid.PaidAt)

	stored, err := f.workflow.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicing.StatusPaid, stored.Status)
	assert.NotNil(t, stored.FinalizedAt)
	assert.Len(t, stored.Lines, 1)

	_, err = f.workflow.Cancel(ctx, inv.ID)
	assert.True(t, apperr.IsValidation(err))
}

func TestWorkflow_RejectsUnknownStatusAndInvoice(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	inv := draftInvoice(t, f, "c1")

	_, err := f.workflow.Transition(ctx, inv.ID, "archived")
	assert.ErrorIs(t, err, invoicing.ErrInvalidStatus)

	_, err = f.workflow.Finalize(ctx, "missing")
	assert.ErrorIs(t, err, invoicing.ErrInvoiceNotFound)

	_, err = f.workflow.List(ctx, invoicing.Filter{Status: "archived"})
	assert.ErrorIs(t, err, invoicing.ErrInvalidStatus)
}

func TestWorkflow_CompanyScoping(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	inv := draftInvoice(t, f, "c1")

	got, err := f.workflow.GetForCompany(ctx, "c1", inv.ID)
	require.NoError(t, err)
	assert.Equal(t, inv.Number, got.Number)

	_, err = f.workflow.GetForCompany(ctx, "c2", inv.ID)
	assert.ErrorIs(t, err, invoicing.ErrInvoiceNotFound)

	list, err := f.workflow.List(ctx, invoicing.Filter{CompanyID: "c2"})
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = f.workflow.List(ctx, invoicing.Filter{CompanyID: "c1", Status: invoicing.StatusDraft})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
