package invoicing

import (
	"context"
	"time"

	"telecom-billing/internal/apperr"
)

var (
	ErrInvoiceNotFound      = apperr.New(apperr.KindNotFound, "invoicing: invoice not found")
	ErrLineItemNotFound     = apperr.New(apperr.KindNotFound, "invoicing: line item not found")
	ErrInvoiceNotDraft      = apperr.New(apperr.KindConflict, "invoicing: invoice is no longer a draft")
	ErrStatusChanged        = apperr.New(apperr.KindConflict, "invoicing: invoice status changed concurrently")
	ErrGenerationInProgress = apperr.New(apperr.KindConflict, "invoicing: generation already running for this period")
	ErrInvalidStatus        = apperr.New(apperr.KindValidation, "invoicing: unknown invoice status")
)

// Repository is the persistence contract.
//
// InsertInvoice and InsertLineItem insert only when the row's uniqueness key
// is free ((company_id, effective_from) and (assignment_id, effective_from)
// respectively) and report whether they did. A taken key is an idempotency
// hit, not an error.
type Repository interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error

	FindInvoiceByPeriod(ctx context.Context, companyID string, periodStart time.Time) (Invoice, bool, error)
	InsertInvoice(ctx context.Context, inv Invoice) (bool, error)
	NextInvoiceNumber(ctx context.Context, periodKey string) (int64, error)

	FindLineItem(ctx context.Context, assignmentID string, periodStart time.Time) (LineItem, bool, error)
	InsertLineItem(ctx context.Context, li LineItem) (bool, error)

	GetInvoice(ctx context.Context, id string) (Invoice, error)
	ListInvoices(ctx context.Context, f Filter) ([]Invoice, error)
	UpdateInvoiceStatus(ctx context.Context, id string, from, to Status, at time.Time) (bool, error)
}
