// Package assignments tracks which resource is leased to which company, at
// what rate and over what window.
package assignments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"telecom-billing/internal/apperr"
	"telecom-billing/internal/audit"
	"telecom-billing/internal/metrics"
	"telecom-billing/internal/pricing"
	"telecom-billing/internal/resources"
)

var (
	ErrAssignmentNotFound       = apperr.New(apperr.KindNotFound, "assignments: assignment not found")
	ErrResourceAlreadyLeased    = apperr.New(apperr.KindConflict, "assignments: resource already has an active assignment")
	ErrResourceUnderMaintenance = apperr.New(apperr.KindConflict, "assignments: resource is under maintenance")
	ErrAssignmentInactive       = apperr.New(apperr.KindConflict, "assignments: assignment is inactive")
	ErrInvalidLease             = apperr.New(apperr.KindValidation, "assignments: company_id and resource_id are required")
	ErrInvertedDateRange        = apperr.New(apperr.KindValidation, "assignments: end_date before start_date")
)

// Repository is the persistence contract.
//
// InsertAssignment must return an error matching ErrResourceAlreadyLeased
// when the store's active-per-resource uniqueness rule rejects the row.
type Repository interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error

	InsertAssignment(ctx context.Context, a Assignment) error
	GetAssignment(ctx context.Context, id string) (Assignment, error)
	LockAssignment(ctx context.Context, id string) (Assignment, error)
	FindActiveAssignment(ctx context.Context, resourceID string) (Assignment, bool, error)
	FindAssignmentAt(ctx context.Context, resourceID string, at time.Time) (Assignment, bool, error)
	CloseAssignment(ctx context.Context, id string, endDate, at time.Time) error
	// UpdateLineEffectiveTo pulls effective_to of the assignment's invoice
	// lines back to end where the line opened on or before end and
	// currently runs past it.
	UpdateLineEffectiveTo(ctx context.Context, assignmentID string, end, at time.Time) error
	UpdateAssignmentRate(ctx context.Context, id string, rate decimal.Decimal, at time.Time) error
	ListBillableAssignments(ctx context.Context, asOf time.Time) ([]Assignment, error)
}

// Lifecycle is the slice of resources.Manager the registry drives.
type Lifecycle interface {
	Get(ctx context.Context, id string) (resources.Resource, error)
	MarkAssigned(ctx context.Context, id string) error
	MarkAvailable(ctx context.Context, id string) error
}

type Registry struct {
	repo      Repository
	resources resourceLocker
	lifecycle Lifecycle
	audit     *audit.Service
	clock     func() time.Time
}

// resourceLocker is satisfied by resources.Repository.
type resourceLocker interface {
	LockResource(ctx context.Context, id string) (resources.Resource, error)
}

func NewRegistry(repo Repository, resourceRepo resourceLocker, lifecycle Lifecycle, auditSvc *audit.Service) *Registry {
	return &Registry{
		repo:      repo,
		resources: resourceRepo,
		lifecycle: lifecycle,
		audit:     auditSvc,
		clock:     time.Now,
	}
}

// Lease creates an active assignment and marks the resource assigned.
//
// The resource row lock serializes concurrent leases of one resource; the
// store's unique index on active assignments is the final arbiter.
func (r *Registry) Lease(ctx context.Context, req LeaseRequest) (Assignment, error) {
	if req.CompanyID == "" || req.ResourceID == "" {
		return Assignment{}, ErrInvalidLease
	}
	if err := pricing.ValidateRate(req.PricePerMin); err != nil {
		return Assignment{}, err
	}

	now := r.clock().UTC()
	start := req.StartDate
	if start.IsZero() {
		start = now
	}
	if req.EndDate != nil && req.EndDate.Before(start) {
		return Assignment{}, ErrInvertedDateRange
	}

	a := Assignment{
		ID:          uuid.NewString(),
		CompanyID:   req.CompanyID,
		ResourceID:  req.ResourceID,
		PricePerMin: req.PricePerMin,
		StartDate:   start,
		EndDate:     req.EndDate,
		Status:      StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := r.repo.WithinTx(ctx, func(ctx context.Context) error {
		res, err := r.resources.LockResource(ctx, req.ResourceID)
		if err != nil {
			return err
		}
		a.ResourceKind = res.Kind

		if err := resources.CanLease(res); err != nil {
			if errors.Is(err, resources.ErrResourceUnderMaintenance) {
				return ErrResourceUnderMaintenance
			}
			return ErrResourceAlreadyLeased
		}
		if _, found, err := r.repo.FindActiveAssignment(ctx, req.ResourceID); err != nil {
			return err
		} else if found {
			return ErrResourceAlreadyLeased
		}
		if err := r.repo.InsertAssignment(ctx, a); err != nil {
			return err
		}
		return r.lifecycle.MarkAssigned(ctx, req.ResourceID)
	})
	if err != nil {
		if errors.Is(err, ErrResourceAlreadyLeased) {
			metrics.LeaseConflictsTotal.Inc()
		}
		return Assignment{}, err
	}

	r.audit.Record(ctx, audit.Event{
		CompanyID:   a.CompanyID,
		Type:        audit.EventAssignmentLeased,
		SubjectType: "assignment",
		SubjectID:   a.ID,
		Metadata: audit.Metadata(map[string]any{
			"resource_id":   a.ResourceID,
			"price_per_min": a.PricePerMin.StringFixed(pricing.RateScale),
		}),
	})
	return a, nil
}

// Release closes the assignment and frees the resource. Releasing an
// inactive assignment returns it unchanged.
//
// The end date is now, an earlier scheduled end_date, or start_date for a
// lease released before it began. Open invoice lines are trimmed to it.
func (r *Registry) Release(ctx context.Context, id string) (Assignment, error) {
	var (
		out     Assignment
		changed bool
	)
	err := r.repo.WithinTx(ctx, func(ctx context.Context) error {
		a, err := r.repo.LockAssignment(ctx, id)
		if err != nil {
			return err
		}
		out = a
		if a.Status == StatusInactive {
			return nil
		}

		now := r.clock().UTC()
		end := now
		if a.EndDate != nil && a.EndDate.Before(now) {
			end = *a.EndDate
		}
		if end.Before(a.StartDate) {
			end = a.StartDate
		}
		if err := r.repo.CloseAssignment(ctx, id, end, now); err != nil {
			return err
		}
		if err := r.repo.UpdateLineEffectiveTo(ctx, id, end, now); err != nil {
			return err
		}
		out.Status = StatusInactive
		out.EndDate = &end
		out.UpdatedAt = now
		changed = true

		res, err := r.lifecycle.Get(ctx, a.ResourceID)
		if err != nil {
			return err
		}
		if res.Status == resources.StatusMaintenance {
			return nil
		}
		return r.lifecycle.MarkAvailable(ctx, a.ResourceID)
	})
	if err != nil {
		return Assignment{}, err
	}

	if changed {
		r.audit.Record(ctx, audit.Event{
			CompanyID:   out.CompanyID,
			Type:        audit.EventAssignmentReleased,
			SubjectType: "assignment",
			SubjectID:   out.ID,
			Metadata:    audit.Metadata(map[string]any{"resource_id": out.ResourceID}),
		})
	}
	return out, nil
}

// ActiveAssignments returns assignments billable for a period starting at
// asOf: status active, or inactive with end_date >= asOf.
func (r *Registry) ActiveAssignments(ctx context.Context, asOf time.Time) ([]Assignment, error) {
	return r.repo.ListBillableAssignments(ctx, asOf)
}

// CurrentRate is the live per-minute rate of an assignment. Existing invoice
// lines keep the rate frozen when they were created.
func (r *Registry) CurrentRate(ctx context.Context, id string) (decimal.Decimal, error) {
	a, err := r.repo.GetAssignment(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	return a.PricePerMin, nil
}

func (r *Registry) Get(ctx context.Context, id string) (Assignment, error) {
	return r.repo.GetAssignment(ctx, id)
}

// FindForResourceAt returns the assignment whose window covers at.
func (r *Registry) FindForResourceAt(ctx context.Context, resourceID string, at time.Time) (Assignment, error) {
	a, found, err := r.repo.FindAssignmentAt(ctx, resourceID, at)
	if err != nil {
		return Assignment{}, err
	}
	if !found {
		return Assignment{}, ErrAssignmentNotFound
	}
	return a, nil
}

// Reprice changes the live rate of an active assignment.
func (r *Registry) Reprice(ctx context.Context, id string, rate decimal.Decimal) (Assignment, error) {
	if err := pricing.ValidateRate(rate); err != nil {
		return Assignment{}, err
	}

	var out Assignment
	err := r.repo.WithinTx(ctx, func(ctx context.Context) error {
		a, err := r.repo.LockAssignment(ctx, id)
		if err != nil {
			return err
		}
		if a.Status != StatusActive {
			return ErrAssignmentInactive
		}
		now := r.clock().UTC()
		if err := r.repo.UpdateAssignmentRate(ctx, id, rate, now); err != nil {
			return err
		}
		a.PricePerMin = rate
		a.UpdatedAt = now
		out = a
		return nil
	})
	if err != nil {
		return Assignment{}, err
	}

	r.audit.Record(ctx, audit.Event{
		CompanyID:   out.CompanyID,
		Type:        audit.EventAssignmentRepriced,
		SubjectType: "assignment",
		SubjectID:   out.ID,
		Metadata:    audit.Metadata(map[string]any{"price_per_min": rate.StringFixed(pricing.RateScale)}),
	})
	return out, nil
}
