package invoicing

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"telecom-billing/internal/apperr"
	"telecom-billing/internal/assignments"
	"telecom-billing/internal/audit"
	"telecom-billing/internal/metrics"
	"telecom-billing/internal/period"
	"telecom-billing/pkg/logger"
)

// AssignmentSource lists the assignments billable for a period.
type AssignmentSource interface {
	ActiveAssignments(ctx context.Context, asOf time.Time) ([]assignments.Assignment, error)
}

// Locker is a single-holder lock with expiry, e.g. utils.RedisLocker.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error)
}

type GeneratorConfig struct {
	Concurrency int
	LockTTL     time.Duration
}

func (c GeneratorConfig) withDefaults() GeneratorConfig {
	out := c
	if out.Concurrency <= 0 {
		out.Concurrency = 4
	}
	if out.LockTTL <= 0 {
		out.LockTTL = 10 * time.Minute
	}
	return out
}

// Failure records one assignment the generator could not bill.
type Failure struct {
	AssignmentID string `json:"assignment_id"`
	CompanyID    string `json:"company_id"`
	Error        string `json:"error"`
	Err          error  `json:"-"`
}

// Report is the outcome of one generator run. Invoices holds only invoices
// created by this run; an idempotent re-run returns none.
type Report struct {
	Period   period.Period `json:"period"`
	Invoices []Invoice     `json:"invoices"`
	Lines    []LineItem    `json:"lines"`
	Skipped  int           `json:"skipped"`
	Failures []Failure     `json:"failures,omitempty"`
}

// Err joins the per-assignment failures, or returns nil.
func (r Report) Err() error {
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, f.Err)
	}
	return errors.Join(errs...)
}

type Generator struct {
	repo     Repository
	source   AssignmentSource
	resolver period.Resolver
	locker   Locker
	audit    *audit.Service
	cfg      GeneratorConfig
	clock    func() time.Time
}

// NewGenerator wires a generator. locker may be nil for single-instance
// deployments.
func NewGenerator(repo Repository, source AssignmentSource, resolver period.Resolver, locker Locker, auditSvc *audit.Service, cfg GeneratorConfig) *Generator {
	return &Generator{
		repo:     repo,
		source:   source,
		resolver: resolver,
		locker:   locker,
		audit:    auditSvc,
		cfg:      cfg.withDefaults(),
		clock:    time.Now,
	}
}

type lineOutcome struct {
	line           LineItem
	invoice        Invoice
	invoiceCreated bool
	created        bool
}

// GenerateForPeriod creates the missing draft invoices and line items for the
// period containing ref. Assignments are processed independently on a
// bounded worker pool; a failure on one is reported and the rest continue.
func (g *Generator) GenerateForPeriod(ctx context.Context, ref time.Time) (Report, error) {
	started := time.Now()
	p := g.resolver.For(ref)
	log := logger.From(ctx).With("period", p.Key())

	if g.locker != nil {
		release, ok, err := g.locker.Acquire(ctx, "generate:"+p.Key(), g.cfg.LockTTL)
		if err != nil {
			return Report{}, apperr.Wrap(apperr.KindTransient, "invoicing: acquire run lock", err)
		}
		if !ok {
			return Report{}, ErrGenerationInProgress
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				log.Warn("release run lock failed", "error", err.Error())
			}
		}()
	}

	list, err := g.source.ActiveAssignments(ctx, p.Start)
	if err != nil {
		return Report{}, err
	}

	report := Report{Period: p, Invoices: []Invoice{}, Lines: []LineItem{}}
	created := make(map[string]Invoice)

	var (
		mu sync.Mutex
		eg errgroup.Group
	)
	eg.SetLimit(g.cfg.Concurrency)

	for _, a := range list {
		if ctx.Err() != nil {
			break
		}
		a := a
		eg.Go(func() error {
			out, err := g.ensureLine(ctx, a, p)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				log.Error("generate line failed",
					"assignment_id", a.ID,
					"company_id", a.CompanyID,
					"error", err.Error(),
				)
				metrics.GenerationFailuresTotal.Inc()
				report.Failures = append(report.Failures, Failure{
					AssignmentID: a.ID,
					CompanyID:    a.CompanyID,
					Error:        err.Error(),
					Err:          err,
				})
			case !out.created:
				report.Skipped++
			default:
				report.Lines = append(report.Lines, out.line)
				if out.invoiceCreated {
					created[out.invoice.ID] = out.invoice
				}
			}
			return nil
		})
	}
	_ = eg.Wait()

	if err := ctx.Err(); err != nil {
		return report, err
	}

	report.Invoices = assemble(created, report.Lines)
	sort.Slice(report.Lines, func(i, j int) bool { return report.Lines[i].AssignmentID < report.Lines[j].AssignmentID })
	sort.Slice(report.Failures, func(i, j int) bool { return report.Failures[i].AssignmentID < report.Failures[j].AssignmentID })

	metrics.GeneratedTotal.WithLabelValues("invoice").Add(float64(len(report.Invoices)))
	metrics.GeneratedTotal.WithLabelValues("line").Add(float64(len(report.Lines)))
	metrics.GenerationDuration.Observe(time.Since(started).Seconds())

	log.Info("invoice generation finished",
		"assignments", len(list),
		"invoices_created", len(report.Invoices),
		"lines_created", len(report.Lines),
		"skipped", report.Skipped,
		"failures", len(report.Failures),
	)
	if len(report.Invoices) > 0 || len(report.Lines) > 0 {
		g.audit.Record(ctx, audit.Event{
			Type:        audit.EventInvoicesGenerated,
			SubjectType: "period",
			SubjectID:   p.Key(),
			Metadata: audit.Metadata(map[string]any{
				"invoices": len(report.Invoices),
				"lines":    len(report.Lines),
				"failures": len(report.Failures),
			}),
		})
	}
	return report, nil
}

// EnsureLine returns the line billing a for the period containing at,
// creating it (and the company invoice) when missing.
func (g *Generator) EnsureLine(ctx context.Context, a assignments.Assignment, at time.Time) (LineItem, error) {
	p := g.resolver.For(at)
	if !a.Billable(p.Start) || !a.Overlaps(p.Start, p.End) {
		return LineItem{}, apperr.New(apperr.KindValidation, "invoicing: assignment is not billable in "+p.Key())
	}
	out, err := g.ensureLine(ctx, a, p)
	if err != nil {
		return LineItem{}, err
	}
	return out.line, nil
}

// ensureLine skips assignments whose window misses the period; they count
// as Skipped.
func (g *Generator) ensureLine(ctx context.Context, a assignments.Assignment, p period.Period) (lineOutcome, error) {
	if !a.Overlaps(p.Start, p.End) {
		return lineOutcome{}, nil
	}

	var out lineOutcome
	err := g.repo.WithinTx(ctx, func(ctx context.Context) error {
		out = lineOutcome{}

		if li, found, err := g.repo.FindLineItem(ctx, a.ID, p.Start); err != nil {
			return err
		} else if found {
			out.line = li
			return nil
		}

		inv, invCreated, err := g.ensureInvoice(ctx, a.CompanyID, p)
		if err != nil {
			return err
		}
		if inv.Status != StatusDraft {
			return ErrInvoiceNotDraft
		}

		now := g.clock().UTC()
		li := LineItem{
			ID:            uuid.NewString(),
			InvoiceID:     inv.ID,
			CompanyID:     a.CompanyID,
			AssignmentID:  a.ID,
			ResourceID:    a.ResourceID,
			ResourceKind:  a.ResourceKind,
			EffectiveFrom: p.Start,
			EffectiveTo:   effectiveTo(a, p),
			RatePerMin:    a.PricePerMin,
			TotalMinutes:  0,
			Subtotal:      decimal.Zero,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		inserted, err := g.repo.InsertLineItem(ctx, li)
		if err != nil {
			return err
		}
		if !inserted {
			existing, found, err := g.repo.FindLineItem(ctx, a.ID, p.Start)
			if err != nil {
				return err
			}
			if !found {
				return apperr.New(apperr.KindTransient, "invoicing: line item vanished after conflict")
			}
			out.line = existing
			return nil
		}

		out = lineOutcome{line: li, invoice: inv, invoiceCreated: invCreated, created: true}
		return nil
	})
	return out, err
}

func (g *Generator) ensureInvoice(ctx context.Context, companyID string, p period.Period) (Invoice, bool, error) {
	inv, found, err := g.repo.FindInvoiceByPeriod(ctx, companyID, p.Start)
	if err != nil || found {
		return inv, false, err
	}

	seq, err := g.repo.NextInvoiceNumber(ctx, p.Key())
	if err != nil {
		return Invoice{}, false, err
	}
	now := g.clock().UTC()
	inv = Invoice{
		ID:            uuid.NewString(),
		Number:        FormatNumber(p.Key(), seq),
		CompanyID:     companyID,
		EffectiveFrom: p.Start,
		EffectiveTo:   p.End,
		TotalMinutes:  0,
		BilledAmount:  decimal.Zero,
		Status:        StatusDraft,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	inserted, err := g.repo.InsertInvoice(ctx, inv)
	if err != nil {
		return Invoice{}, false, err
	}
	if inserted {
		return inv, true, nil
	}

	inv, found, err = g.repo.FindInvoiceByPeriod(ctx, companyID, p.Start)
	if err != nil {
		return Invoice{}, false, err
	}
	if !found {
		return Invoice{}, false, apperr.New(apperr.KindTransient, "invoicing: invoice vanished after conflict")
	}
	return inv, false, nil
}

// effectiveTo never extends past the lease end.
func effectiveTo(a assignments.Assignment, p period.Period) time.Time {
	if a.EndDate != nil && a.EndDate.Before(p.End) {
		return *a.EndDate
	}
	return p.End
}

func assemble(created map[string]Invoice, lines []LineItem) []Invoice {
	out := make([]Invoice, 0, len(created))
	for _, inv := range created {
		for _, li := range lines {
			if li.InvoiceID == inv.ID {
				inv.Lines = append(inv.Lines, li)
			}
		}
		sort.Slice(inv.Lines, func(i, j int) bool { return inv.Lines[i].AssignmentID < inv.Lines[j].AssignmentID })
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompanyID < out[j].CompanyID })
	return out
}
