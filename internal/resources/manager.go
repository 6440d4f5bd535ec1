// Package resources owns the availability status of DIDs and agents.
package resources

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"telecom-billing/internal/apperr"
	"telecom-billing/internal/audit"
)

var (
	ErrResourceNotFound         = apperr.New(apperr.KindNotFound, "resources: resource not found")
	ErrResourceUnderMaintenance = apperr.New(apperr.KindConflict, "resources: resource is under maintenance")
	ErrResourceNotAvailable     = apperr.New(apperr.KindConflict, "resources: resource is not available")
	ErrResourceLeased           = apperr.New(apperr.KindConflict, "resources: resource has an active assignment")
	ErrInvalidResource          = apperr.New(apperr.KindValidation, "resources: invalid resource")
	ErrDuplicateLabel           = apperr.New(apperr.KindConflict, "resources: label already registered")
)

// Repository is the persistence contract. Lock* methods take a row lock
// held until the surrounding transaction ends.
type Repository interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error

	InsertResource(ctx context.Context, r Resource) error
	GetResource(ctx context.Context, id string) (Resource, error)
	FindResourceByLabel(ctx context.Context, kind Kind, label string) (Resource, error)
	LockResource(ctx context.Context, id string) (Resource, error)
	UpdateResourceStatus(ctx context.Context, id string, status Status, at time.Time) error
	HasActiveAssignment(ctx context.Context, resourceID string) (bool, error)
}

// Manager flips resource status. Every method joins the caller's
// transaction when ctx carries one.
type Manager struct {
	repo  Repository
	audit *audit.Service
	clock func() time.Time
}

func NewManager(repo Repository, auditSvc *audit.Service) *Manager {
	return &Manager{repo: repo, audit: auditSvc, clock: time.Now}
}

// Register provisions a new resource in available status.
func (m *Manager) Register(ctx context.Context, kind Kind, label string) (Resource, error) {
	label = strings.TrimSpace(label)
	if !kind.Valid() || label == "" {
		return Resource{}, ErrInvalidResource
	}
	now := m.clock().UTC()
	r := Resource{
		ID:        uuid.NewString(),
		Kind:      kind,
		Label:     label,
		Status:    StatusAvailable,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.repo.InsertResource(ctx, r); err != nil {
		return Resource{}, err
	}
	return r, nil
}

func (m *Manager) Get(ctx context.Context, id string) (Resource, error) {
	return m.repo.GetResource(ctx, id)
}

// FindByLabel resolves a resource by its external label, e.g. the E.164
// number of a DID.
func (m *Manager) FindByLabel(ctx context.Context, kind Kind, label string) (Resource, error) {
	label = strings.TrimSpace(label)
	if !kind.Valid() || label == "" {
		return Resource{}, ErrInvalidResource
	}
	return m.repo.FindResourceByLabel(ctx, kind, label)
}

// CanLease reports whether r may receive a new assignment.
func CanLease(r Resource) error {
	switch r.Status {
	case StatusAvailable:
		return nil
	case StatusMaintenance:
		return ErrResourceUnderMaintenance
	default:
		return ErrResourceNotAvailable
	}
}

// MarkAssigned requires the resource to be available.
func (m *Manager) MarkAssigned(ctx context.Context, id string) error {
	return m.transition(ctx, id, StatusAssigned, false, func(ctx context.Context, r Resource) error {
		return CanLease(r)
	})
}

// MarkAvailable and MarkMaintenance are idempotent and refuse while an
// active assignment still holds the resource.
func (m *Manager) MarkAvailable(ctx context.Context, id string) error {
	return m.transition(ctx, id, StatusAvailable, true, m.requireUnleased)
}

func (m *Manager) MarkMaintenance(ctx context.Context, id string) error {
	return m.transition(ctx, id, StatusMaintenance, true, m.requireUnleased)
}

func (m *Manager) requireUnleased(ctx context.Context, r Resource) error {
	leased, err := m.repo.HasActiveAssignment(ctx, r.ID)
	if err != nil {
		return err
	}
	if leased {
		return ErrResourceLeased
	}
	return nil
}

func (m *Manager) transition(ctx context.Context, id string, to Status, idempotent bool, guard func(context.Context, Resource) error) error {
	if id == "" {
		return ErrInvalidResource
	}

	var from Status
	err := m.repo.WithinTx(ctx, func(ctx context.Context) error {
		r, err := m.repo.LockResource(ctx, id)
		if err != nil {
			return err
		}
		from = r.Status
		if idempotent && r.Status == to {
			return nil
		}
		if err := guard(ctx, r); err != nil {
			return err
		}
		return m.repo.UpdateResourceStatus(ctx, id, to, m.clock().UTC())
	})
	if err != nil || from == to {
		return err
	}

	m.audit.Record(ctx, audit.Event{
		Type:        audit.EventResourceStatusChanged,
		SubjectType: "resource",
		SubjectID:   id,
		Message:     string(from) + " -> " + string(to),
	})
	return nil
}
