package invoicing

import (
	"context"
	"time"

	"telecom-billing/internal/apperr"
	"telecom-billing/internal/audit"
)

// transitions lists the allowed status moves. Totals are frozen once an
// invoice leaves draft.
var transitions = map[Status][]Status{
	StatusDraft:     {StatusFinalized, StatusCancelled},
	StatusFinalized: {StatusSent, StatusCancelled},
	StatusSent:      {StatusPaid, StatusOverdue, StatusCancelled},
	StatusOverdue:   {StatusPaid, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Workflow applies explicit status updates and serves invoice reads.
type Workflow struct {
	repo  Repository
	audit *audit.Service
	clock func() time.Time
}

func NewWorkflow(repo Repository, auditSvc *audit.Service) *Workflow {
	return &Workflow{repo: repo, audit: auditSvc, clock: time.Now}
}

// Transition moves the invoice to status to. The update is a compare-and-swap
// on the status read inside the same transaction.
func (w *Workflow) Transition(ctx context.Context, id string, to Status) (Invoice, error) {
	if !to.Valid() {
		return Invoice{}, ErrInvalidStatus
	}

	var (
		inv  Invoice
		from Status
	)
	err := w.repo.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := w.repo.GetInvoice(ctx, id)
		if err != nil {
			return err
		}
		from = cur.Status
		if !CanTransition(cur.Status, to) {
			return apperr.Validation("invoicing: cannot move invoice from %s to %s", cur.Status, to)
		}

		now := w.clock().UTC()
		ok, err := w.repo.UpdateInvoiceStatus(ctx, id, cur.Status, to, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrStatusChanged
		}

		cur.Status = to
		cur.UpdatedAt = now
		switch to {
		case StatusFinalized:
			cur.FinalizedAt = &now
		case StatusPaid:
			cur.PaidAt = &now
		}
		inv = cur
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}

	w.audit.Record(ctx, audit.Event{
		CompanyID:   inv.CompanyID,
		Type:        audit.EventInvoiceStatusChanged,
		SubjectType: "invoice",
		SubjectID:   inv.ID,
		Message:     string(from) + " -> " + string(to),
	})
	return inv, nil
}

func (w *Workflow) Finalize(ctx context.Context, id string) (Invoice, error) {
	return w.Transition(ctx, id, StatusFinalized)
}

func (w *Workflow) MarkSent(ctx context.Context, id string) (Invoice, error) {
	return w.Transition(ctx, id, StatusSent)
}

func (w *Workflow) MarkPaid(ctx context.Context, id string) (Invoice, error) {
	return w.Transition(ctx, id, StatusPaid)
}

func (w *Workflow) MarkOverdue(ctx context.Context, id string) (Invoice, error) {
	return w.Transition(ctx, id, StatusOverdue)
}

func (w *Workflow) Cancel(ctx context.Context, id string) (Invoice, error) {
	return w.Transition(ctx, id, StatusCancelled)
}

// Get returns the invoice with its line items.
func (w *Workflow) Get(ctx context.Context, id string) (Invoice, error) {
	return w.repo.GetInvoice(ctx, id)
}

// GetForCompany hides invoices of other companies behind ErrInvoiceNotFound.
func (w *Workflow) GetForCompany(ctx context.Context, companyID, id string) (Invoice, error) {
	inv, err := w.repo.GetInvoice(ctx, id)
	if err != nil {
		return Invoice{}, err
	}
	if inv.CompanyID != companyID {
		return Invoice{}, ErrInvoiceNotFound
	}
	return inv, nil
}

func (w *Workflow) List(ctx context.Context, f Filter) ([]Invoice, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, ErrInvalidStatus
	}
	return w.repo.ListInvoices(ctx, f)
}
