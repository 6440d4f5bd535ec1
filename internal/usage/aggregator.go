// Package usage derives invoice totals from the calls linked to them.
//
// Totals are recomputed from scratch on every call mutation; nothing patches
// them incrementally.
package usage

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"telecom-billing/internal/invoicing"
	"telecom-billing/internal/metrics"
	"telecom-billing/internal/period"
	"telecom-billing/internal/pricing"
	"telecom-billing/pkg/logger"
)

// CallDuration is the billing-relevant projection of a live call.
type CallDuration struct {
	LineItemID string
	Seconds    int
}

// Repository is the persistence contract. LockInvoice takes a row lock held
// until the surrounding transaction ends.
type Repository interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error

	LockInvoice(ctx context.Context, id string) (invoicing.Invoice, error)
	ListLineItems(ctx context.Context, invoiceID string) ([]invoicing.LineItem, error)
	ListCallDurations(ctx context.Context, invoiceID string) ([]CallDuration, error)
	UpdateLineTotals(ctx context.Context, lineID string, minutes int64, subtotal decimal.Decimal, at time.Time) error
	UpdateInvoiceTotals(ctx context.Context, invoiceID string, minutes int64, amount decimal.Decimal, at time.Time) error
	ListInvoiceIDs(ctx context.Context, periodStart time.Time, status invoicing.Status) ([]string, error)
}

type LineTotals struct {
	LineItemID   string          `json:"line_item_id"`
	Calls        int             `json:"calls"`
	TotalMinutes int64           `json:"total_minutes"`
	Subtotal     decimal.Decimal `json:"subtotal"`
}

// Result is the outcome of one recomputation. Changed is true when stored
// totals differed from the recomputed ones.
type Result struct {
	InvoiceID    string          `json:"invoice_id"`
	TotalMinutes int64           `json:"total_minutes_consumption"`
	BilledAmount decimal.Decimal `json:"billed_amount"`
	Lines        []LineTotals    `json:"lines"`
	Changed      bool            `json:"changed"`
}

type Aggregator struct {
	repo  Repository
	clock func() time.Time
}

func NewAggregator(repo Repository) *Aggregator {
	return &Aggregator{repo: repo, clock: time.Now}
}

// Recompute sums the calls of every line of invoiceID and writes line and
// invoice totals. It joins the caller's transaction when ctx carries one, so
// call ingestion recomputes atomically with its own mutation.
func (a *Aggregator) Recompute(ctx context.Context, invoiceID string) (Result, error) {
	started := time.Now()

	var res Result
	err := a.repo.WithinTx(ctx, func(ctx context.Context) error {
		inv, err := a.repo.LockInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status != invoicing.StatusDraft {
			return invoicing.ErrInvoiceNotDraft
		}

		lines, err := a.repo.ListLineItems(ctx, invoiceID)
		if err != nil {
			return err
		}
		calls, err := a.repo.ListCallDurations(ctx, invoiceID)
		if err != nil {
			return err
		}

		res = Compute(invoiceID, lines, calls)

		now := a.clock().UTC()
		stored := make(map[string]invoicing.LineItem, len(lines))
		for _, li := range lines {
			stored[li.ID] = li
		}
		for _, lt := range res.Lines {
			li := stored[lt.LineItemID]
			if li.TotalMinutes == lt.TotalMinutes && li.Subtotal.Equal(lt.Subtotal) {
				continue
			}
			res.Changed = true
			if err := a.repo.UpdateLineTotals(ctx, lt.LineItemID, lt.TotalMinutes, lt.Subtotal, now); err != nil {
				return err
			}
		}
		if inv.TotalMinutes != res.TotalMinutes || !inv.BilledAmount.Equal(res.BilledAmount) {
			res.Changed = true
			return a.repo.UpdateInvoiceTotals(ctx, invoiceID, res.TotalMinutes, res.BilledAmount, now)
		}
		return nil
	})

	metrics.RecomputeDuration.Observe(time.Since(started).Seconds())
	switch {
	case err != nil:
		metrics.RecomputesTotal.WithLabelValues("error").Inc()
		return Result{}, err
	case res.Changed:
		metrics.RecomputesTotal.WithLabelValues("changed").Inc()
	default:
		metrics.RecomputesTotal.WithLabelValues("unchanged").Inc()
	}
	return res, nil
}

// Compute is the pure totals rule: per line, minutes are the sum of each
// call's ceiling minutes and the subtotal is minutes at the line's frozen
// rate rounded to cents; the invoice is the sum of its lines.
//
// The ceiling applies per call, not to the summed seconds: two 61s calls
// bill 4 minutes where ceil(122/60) would give 3. 65s+30s+600s is 13
// minutes (0.65 at 0.05/min) only under this rule.
func Compute(invoiceID string, lines []invoicing.LineItem, calls []CallDuration) Result {
	byLine := make(map[string][]int, len(lines))
	for _, c := range calls {
		byLine[c.LineItemID] = append(byLine[c.LineItemID], c.Seconds)
	}

	res := Result{InvoiceID: invoiceID, BilledAmount: decimal.Zero, Lines: make([]LineTotals, 0, len(lines))}
	subtotals := make([]decimal.Decimal, 0, len(lines))
	for _, li := range lines {
		durations := byLine[li.ID]
		minutes := pricing.MinutesForCalls(durations)
		subtotal := pricing.Charge(minutes, li.RatePerMin)

		res.Lines = append(res.Lines, LineTotals{
			LineItemID:   li.ID,
			Calls:        len(durations),
			TotalMinutes: minutes,
			Subtotal:     subtotal,
		})
		res.TotalMinutes += minutes
		subtotals = append(subtotals, subtotal)
	}
	res.BilledAmount = pricing.Sum(subtotals...)
	sort.Slice(res.Lines, func(i, j int) bool { return res.Lines[i].LineItemID < res.Lines[j].LineItemID })
	return res
}

// ReconcileFailure records one invoice reconciliation could not recompute.
type ReconcileFailure struct {
	InvoiceID string `json:"invoice_id"`
	Error     string `json:"error"`
}

type ReconcileReport struct {
	Period   period.Period      `json:"period"`
	Checked  int                `json:"checked"`
	Drifted  int                `json:"drifted"`
	Failures []ReconcileFailure `json:"failures,omitempty"`
}

// ReconcileDrafts recomputes every draft invoice of p and counts those whose
// stored totals had drifted. Per-invoice failures are collected, not returned.
func (a *Aggregator) ReconcileDrafts(ctx context.Context, p period.Period) (ReconcileReport, error) {
	ids, err := a.repo.ListInvoiceIDs(ctx, p.Start, invoicing.StatusDraft)
	if err != nil {
		return ReconcileReport{}, err
	}

	log := logger.From(ctx).With("period", p.Key())
	report := ReconcileReport{Period: p}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res, err := a.Recompute(ctx, id)
		report.Checked++
		if err != nil {
			log.Error("reconcile invoice failed", "invoice_id", id, "error", err.Error())
			report.Failures = append(report.Failures, ReconcileFailure{InvoiceID: id, Error: err.Error()})
			continue
		}
		if res.Changed {
			report.Drifted++
			log.Warn("invoice totals drifted", "invoice_id", id,
				"total_minutes", res.TotalMinutes,
				"billed_amount", res.BilledAmount.StringFixed(pricing.AmountScale),
			)
		}
	}
	return report, nil
}
