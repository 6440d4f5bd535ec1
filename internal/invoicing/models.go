package invoicing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"telecom-billing/internal/resources"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusFinalized Status = "finalized"
	StatusSent      Status = "sent"
	StatusPaid      Status = "paid"
	StatusOverdue   Status = "overdue"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusFinalized, StatusSent, StatusPaid, StatusOverdue, StatusCancelled:
		return true
	}
	return false
}

// Invoice is one company's bill for one calendar-month period.
//
// TotalMinutes and BilledAmount are derived: they always equal the sum over
// Lines and are written only by usage recomputation.
type Invoice struct {
	ID        string `json:"id" db:"id"`
	Number    string `json:"number" db:"number"`
	CompanyID string `json:"company_id" db:"company_id"`

	EffectiveFrom time.Time `json:"effective_from" db:"effective_from"`
	EffectiveTo   time.Time `json:"effective_to" db:"effective_to"`

	TotalMinutes int64           `json:"total_minutes_consumption" db:"total_minutes"`
	BilledAmount decimal.Decimal `json:"billed_amount" db:"billed_amount"`
	Status       Status          `json:"status" db:"status"`

	FinalizedAt *time.Time `json:"finalized_at,omitempty" db:"finalized_at"`
	PaidAt      *time.Time `json:"paid_at,omitempty" db:"paid_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`

	Lines []LineItem `json:"lines,omitempty" db:"-"`
}

// LineItem bills one assignment for one period. RatePerMin is frozen from the
// assignment when the line is created.
type LineItem struct {
	ID           string         `json:"id" db:"id"`
	InvoiceID    string         `json:"invoice_id" db:"invoice_id"`
	CompanyID    string         `json:"company_id" db:"company_id"`
	AssignmentID string         `json:"assignment_id" db:"assignment_id"`
	ResourceID   string         `json:"resource_id" db:"resource_id"`
	ResourceKind resources.Kind `json:"resource_kind" db:"resource_kind"`

	EffectiveFrom time.Time `json:"effective_from" db:"effective_from"`
	EffectiveTo   time.Time `json:"effective_to" db:"effective_to"`

	RatePerMin   decimal.Decimal `json:"rate_per_min" db:"rate_per_min"`
	TotalMinutes int64           `json:"total_minutes" db:"total_minutes"`
	Subtotal     decimal.Decimal `json:"subtotal" db:"subtotal"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	CompanyID   string
	Status      Status
	PeriodStart *time.Time
	Limit       int
}

// FormatNumber renders the human invoice number for a period sequence value.
func FormatNumber(periodKey string, seq int64) string {
	ym := periodKey[:4] + periodKey[5:]
	return fmt.Sprintf("INV-%s-%06d", ym, seq)
}
