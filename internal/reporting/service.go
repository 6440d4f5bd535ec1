// Package reporting derives read-only dashboards from billing data. Nothing
// here writes.
package reporting

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"telecom-billing/internal/apperr"
	"telecom-billing/internal/calls"
	"telecom-billing/internal/invoicing"
	"telecom-billing/internal/pricing"
	"telecom-billing/internal/resources"
)

var ErrInvalidRequest = apperr.New(apperr.KindValidation, "reporting: invalid request")

const recentCallsLimit = 5

// Repository abstracts data access for reporting.
//
// ListCalls must filter by company and skip soft-deleted calls.
type Repository interface {
	ListCalls(ctx context.Context, companyID string, from, to time.Time) ([]calls.Call, error)
	CountResources(ctx context.Context) ([]ResourceCount, error)
	SumInvoices(ctx context.Context) ([]InvoiceTotal, error)
	CountActiveCompanies(ctx context.Context) (int, error)
	CountCalls(ctx context.Context) (int64, error)
	RecentCalls(ctx context.Context, limit int) ([]calls.Call, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.CompanyID == "" {
		return CallsSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListCalls(ctx, req.CompanyID, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{
		CompanyID:     req.CompanyID,
		Range:         req.Range,
		ByDisposition: map[calls.Disposition]int{},
	}
	ratingSum := 0
	for _, c := range rows {
		out.TotalCalls++
		out.TotalDurationSeconds += c.DurationSeconds
		out.BillableMinutes += pricing.BillableMinutes(c.DurationSeconds)
		if c.AudioURL != "" {
			out.RecordedCalls++
		}
		out.ByDisposition[c.Disposition]++
		if c.Disposition == calls.DispositionSale {
			out.Conversions++
		}
		if c.CompanyRating != nil {
			out.RatedCalls++
			ratingSum += *c.CompanyRating
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
		out.ConversionRate = float64(out.Conversions) / float64(out.TotalCalls)
	}
	if out.RatedCalls > 0 {
		out.AverageCompanyRating = float64(ratingSum) / float64(out.RatedCalls)
	}
	return out, nil
}

func (s *Service) Dashboard(ctx context.Context) (Dashboard, error) {
	if s.repo == nil {
		return Dashboard{}, errors.New("reporting: repository not configured")
	}

	out := Dashboard{
		Resources:    map[resources.Kind]map[resources.Status]int{},
		Invoices:     map[invoicing.Status]InvoiceTotal{},
		TotalRevenue: decimal.Zero,
		Outstanding:  decimal.Zero,
	}

	counts, err := s.repo.CountResources(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	for _, rc := range counts {
		if out.Resources[rc.Kind] == nil {
			out.Resources[rc.Kind] = map[resources.Status]int{}
		}
		out.Resources[rc.Kind][rc.Status] += rc.Count
	}

	totals, err := s.repo.SumInvoices(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	for _, t := range totals {
		out.Invoices[t.Status] = t
		switch t.Status {
		case invoicing.StatusPaid:
			out.TotalRevenue = out.TotalRevenue.Add(t.BilledAmount)
		case invoicing.StatusFinalized, invoicing.StatusSent, invoicing.StatusOverdue:
			out.Outstanding = out.Outstanding.Add(t.BilledAmount)
		}
	}

	if out.ActiveCompanies, err = s.repo.CountActiveCompanies(ctx); err != nil {
		return Dashboard{}, err
	}
	if out.TotalCalls, err = s.repo.CountCalls(ctx); err != nil {
		return Dashboard{}, err
	}
	if out.RecentCalls, err = s.repo.RecentCalls(ctx, recentCallsLimit); err != nil {
		return Dashboard{}, err
	}
	return out, nil
}
