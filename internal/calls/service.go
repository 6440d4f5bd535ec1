// Package calls applies call mutations and keeps the parent invoice totals
// consistent by recomputing them in the same transaction.
package calls

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"telecom-billing/internal/apperr"
	"telecom-billing/internal/assignments"
	"telecom-billing/internal/invoicing"
	"telecom-billing/internal/metrics"
	"telecom-billing/internal/usage"
)

var (
	ErrCallNotFound       = apperr.New(apperr.KindNotFound, "calls: call not found")
	ErrInvalidDuration    = apperr.New(apperr.KindValidation, "calls: duration must be >= 0 seconds")
	ErrInvalidDisposition = apperr.New(apperr.KindValidation, "calls: unknown disposition")
	ErrInvalidRating      = apperr.New(apperr.KindValidation, "calls: rating must be between 1 and 5")
	ErrMissingTarget      = apperr.New(apperr.KindValidation, "calls: line_item_id or resource_id is required")
	ErrOutsideLineWindow  = apperr.New(apperr.KindValidation, "calls: started_at is outside the line item's effective window")
)

// Repository is the persistence contract. GetCall and LockCall never return
// soft-deleted calls.
type Repository interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error

	InsertCall(ctx context.Context, c Call) (bool, error)
	FindCallBySession(ctx context.Context, sessionID string) (Call, bool, error)
	GetCall(ctx context.Context, id string) (Call, error)
	LockCall(ctx context.Context, id string) (Call, error)
	UpdateCallDuration(ctx context.Context, id string, seconds int, at time.Time) error
	UpdateCallFeedback(ctx context.Context, id string, f Feedback, at time.Time) error
	SoftDeleteCall(ctx context.Context, id string, at time.Time) error
	GetLineItem(ctx context.Context, id string) (invoicing.LineItem, error)
}

type Recomputer interface {
	Recompute(ctx context.Context, invoiceID string) (usage.Result, error)
}

type AssignmentFinder interface {
	FindForResourceAt(ctx context.Context, resourceID string, at time.Time) (assignments.Assignment, error)
}

type LineProvisioner interface {
	EnsureLine(ctx context.Context, a assignments.Assignment, at time.Time) (invoicing.LineItem, error)
}

type Service struct {
	repo        Repository
	recomputer  Recomputer
	assignments AssignmentFinder
	lines       LineProvisioner
	clock       func() time.Time
}

func NewService(repo Repository, recomputer Recomputer, finder AssignmentFinder, lines LineProvisioner) *Service {
	return &Service{
		repo:        repo,
		recomputer:  recomputer,
		assignments: finder,
		lines:       lines,
		clock:       time.Now,
	}
}

// RecordRequest targets either an explicit line item or the resource that
// carried the call; in the latter case the line is resolved from the
// assignment covering StartedAt. With an explicit line, a given StartedAt
// must fall within the line's [EffectiveFrom, EffectiveTo]; an omitted one
// is not checked.
type RecordRequest struct {
	LineItemID      string
	ResourceID      string
	SessionID       string
	UserPhone       string
	DurationSeconds int
	Disposition     string
	StartedAt       time.Time
	AudioURL        string
	Transcription   string
	Feedback        Feedback
}

// Outcome pairs the stored call with the recomputed invoice totals.
// Duplicate is set when SessionID matched an existing call.
type Outcome struct {
	Call      Call          `json:"call"`
	Totals    *usage.Result `json:"totals,omitempty"`
	Duplicate bool          `json:"duplicate"`
}

func (s *Service) Record(ctx context.Context, req RecordRequest) (Outcome, error) {
	if req.DurationSeconds < 0 {
		return Outcome{}, ErrInvalidDuration
	}
	disp, ok := ParseDisposition(req.Disposition)
	if !ok {
		return Outcome{}, ErrInvalidDisposition
	}
	if req.LineItemID == "" && req.ResourceID == "" {
		return Outcome{}, ErrMissingTarget
	}
	if err := validateFeedback(req.Feedback); err != nil {
		return Outcome{}, err
	}

	now := s.clock().UTC()
	startedAt := req.StartedAt
	if startedAt.IsZero() {
		startedAt = now
	}
	sessionID := strings.TrimSpace(req.SessionID)

	var out Outcome
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		out = Outcome{}

		if sessionID != "" {
			existing, found, err := s.repo.FindCallBySession(ctx, sessionID)
			if err != nil {
				return err
			}
			if found {
				out = Outcome{Call: existing, Duplicate: true}
				return nil
			}
		}

		line, err := s.resolveLine(ctx, req, startedAt)
		if err != nil {
			return err
		}

		c := Call{
			ID:              uuid.NewString(),
			CompanyID:       line.CompanyID,
			InvoiceID:       line.InvoiceID,
			LineItemID:      line.ID,
			ResourceID:      line.ResourceID,
			SessionID:       sessionID,
			UserPhone:       req.UserPhone,
			DurationSeconds: req.DurationSeconds,
			Disposition:     disp,
			StartedAt:       startedAt,
			AudioURL:        req.AudioURL,
			Transcription:   req.Transcription,
			Feedback:        req.Feedback,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		inserted, err := s.repo.InsertCall(ctx, c)
		if err != nil {
			return err
		}
		if !inserted {
			existing, found, err := s.repo.FindCallBySession(ctx, sessionID)
			if err != nil {
				return err
			}
			if !found {
				return apperr.New(apperr.KindTransient, "calls: call vanished after conflict")
			}
			out = Outcome{Call: existing, Duplicate: true}
			return nil
		}

		totals, err := s.recomputer.Recompute(ctx, c.InvoiceID)
		if err != nil {
			return err
		}
		out = Outcome{Call: c, Totals: &totals}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}

	if out.Duplicate {
		metrics.CallsIngestedTotal.WithLabelValues("duplicate").Inc()
	} else {
		metrics.CallsIngestedTotal.WithLabelValues("record").Inc()
	}
	return out, nil
}

func (s *Service) resolveLine(ctx context.Context, req RecordRequest, at time.Time) (invoicing.LineItem, error) {
	if req.LineItemID != "" {
		line, err := s.repo.GetLineItem(ctx, req.LineItemID)
		if err != nil {
			return invoicing.LineItem{}, err
		}
		if req.ResourceID != "" && req.ResourceID != line.ResourceID {
			return invoicing.LineItem{}, apperr.New(apperr.KindValidation, "calls: resource_id does not match line item")
		}
		if !req.StartedAt.IsZero() && (at.Before(line.EffectiveFrom) || at.After(line.EffectiveTo)) {
			return invoicing.LineItem{}, ErrOutsideLineWindow
		}
		return line, nil
	}

	a, err := s.assignments.FindForResourceAt(ctx, req.ResourceID, at)
	if err != nil {
		return invoicing.LineItem{}, err
	}
	return s.lines.EnsureLine(ctx, a, at)
}

// CorrectDuration updates a call's duration and recomputes its invoice.
func (s *Service) CorrectDuration(ctx context.Context, id string, seconds int) (Outcome, error) {
	if seconds < 0 {
		return Outcome{}, ErrInvalidDuration
	}

	var out Outcome
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		c, err := s.repo.LockCall(ctx, id)
		if err != nil {
			return err
		}
		now := s.clock().UTC()
		if err := s.repo.UpdateCallDuration(ctx, id, seconds, now); err != nil {
			return err
		}
		totals, err := s.recomputer.Recompute(ctx, c.InvoiceID)
		if err != nil {
			return err
		}
		c.DurationSeconds = seconds
		c.UpdatedAt = now
		out = Outcome{Call: c, Totals: &totals}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	metrics.CallsIngestedTotal.WithLabelValues("correct").Inc()
	return out, nil
}

// Delete soft-deletes the call and recomputes its invoice.
func (s *Service) Delete(ctx context.Context, id string) (usage.Result, error) {
	var totals usage.Result
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		c, err := s.repo.LockCall(ctx, id)
		if err != nil {
			return err
		}
		if err := s.repo.SoftDeleteCall(ctx, id, s.clock().UTC()); err != nil {
			return err
		}
		totals, err = s.recomputer.Recompute(ctx, c.InvoiceID)
		return err
	})
	if err != nil {
		return usage.Result{}, err
	}
	metrics.CallsIngestedTotal.WithLabelValues("delete").Inc()
	return totals, nil
}

func (s *Service) Get(ctx context.Context, id string) (Call, error) {
	return s.repo.GetCall(ctx, id)
}

// UpdateFeedback edits feedback fields only. A non-empty companyID scopes the
// call to that company. Totals are untouched, so finalized invoices accept it.
func (s *Service) UpdateFeedback(ctx context.Context, companyID, id string, f Feedback) (Call, error) {
	if err := validateFeedback(f); err != nil {
		return Call{}, err
	}

	var out Call
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		c, err := s.repo.LockCall(ctx, id)
		if err != nil {
			return err
		}
		if companyID != "" && c.CompanyID != companyID {
			return ErrCallNotFound
		}
		now := s.clock().UTC()
		if err := s.repo.UpdateCallFeedback(ctx, id, f, now); err != nil {
			return err
		}
		c.Feedback = f
		c.UpdatedAt = now
		out = c
		return nil
	})
	return out, err
}

func validateFeedback(f Feedback) error {
	for _, r := range []*int{f.AIRating, f.CompanyRating} {
		if r != nil && (*r < 1 || *r > 5) {
			return ErrInvalidRating
		}
	}
	return nil
}
