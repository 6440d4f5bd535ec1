package assignments

import (
	"time"

	"github.com/shopspring/decimal"

	"telecom-billing/internal/resources"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Assignment is a lease of one DID or agent to one company at a per-minute
// rate. At most one active assignment exists per resource.
type Assignment struct {
	ID           string          `json:"id" db:"id"`
	CompanyID    string          `json:"company_id" db:"company_id"`
	ResourceID   string          `json:"resource_id" db:"resource_id"`
	ResourceKind resources.Kind  `json:"resource_kind" db:"resource_kind"`
	PricePerMin  decimal.Decimal `json:"price_per_min" db:"price_per_min"`

	StartDate time.Time  `json:"start_date" db:"start_date"`
	EndDate   *time.Time `json:"end_date,omitempty" db:"end_date"`
	Status    Status     `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Billable reports whether the assignment counts toward a period that
// starts at asOf: active, or closed no earlier than asOf.
func (a Assignment) Billable(asOf time.Time) bool {
	if a.Status == StatusActive {
		return true
	}
	return a.EndDate != nil && !a.EndDate.Before(asOf)
}

// Overlaps reports whether the lease window intersects [from, to]. An
// active lease whose scheduled end_date has passed does not overlap later
// periods.
func (a Assignment) Overlaps(from, to time.Time) bool {
	if a.StartDate.After(to) {
		return false
	}
	return a.EndDate == nil || !a.EndDate.Before(from)
}

// CoversAt reports whether the lease window includes t.
func (a Assignment) CoversAt(t time.Time) bool {
	if t.Before(a.StartDate) {
		return false
	}
	return a.EndDate == nil || !t.After(*a.EndDate)
}

type LeaseRequest struct {
	CompanyID   string
	ResourceID  string
	PricePerMin decimal.Decimal
	StartDate   time.Time
	EndDate     *time.Time
}
