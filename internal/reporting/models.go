package reporting

import (
	"time"

	"github.com/shopspring/decimal"

	"telecom-billing/internal/calls"
	"telecom-billing/internal/invoicing"
	"telecom-billing/internal/resources"
)

// TimeRange is half-open: [From, To).
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call metrics of one company.
// Company isolation: CompanyID is required.
type CallsSummaryRequest struct {
	CompanyID string    `json:"company_id"`
	Range     TimeRange `json:"range"`
}

type CallsSummary struct {
	CompanyID string    `json:"company_id"`
	Range     TimeRange `json:"range"`

	TotalCalls             int   `json:"total_calls"`
	TotalDurationSeconds   int   `json:"total_duration_seconds"`
	AverageDurationSeconds int   `json:"average_duration_seconds"`
	BillableMinutes        int64 `json:"billable_minutes"`
	RecordedCalls          int   `json:"recorded_calls"`

	// ByDisposition counts calls per outcome code; "" holds unclassified calls.
	ByDisposition  map[calls.Disposition]int `json:"by_disposition"`
	Conversions    int                       `json:"conversions"`
	ConversionRate float64                   `json:"conversion_rate"`

	RatedCalls           int     `json:"rated_calls"`
	AverageCompanyRating float64 `json:"average_company_rating"`
}

type ResourceCount struct {
	Kind   resources.Kind   `json:"kind"`
	Status resources.Status `json:"status"`
	Count  int              `json:"count"`
}

type InvoiceTotal struct {
	Status       invoicing.Status `json:"status"`
	Count        int              `json:"count"`
	BilledAmount decimal.Decimal  `json:"billed_amount"`
}

// Dashboard is the platform-wide admin overview.
type Dashboard struct {
	ActiveCompanies int `json:"active_companies"`

	Resources map[resources.Kind]map[resources.Status]int `json:"resources"`
	Invoices  map[invoicing.Status]InvoiceTotal           `json:"invoices"`

	// TotalRevenue sums paid invoices; Outstanding sums finalized, sent and
	// overdue ones.
	TotalRevenue decimal.Decimal `json:"total_revenue"`
	Outstanding  decimal.Decimal `json:"outstanding"`

	TotalCalls  int64        `json:"total_calls"`
	RecentCalls []calls.Call `json:"recent_calls"`
}
