package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"telecom-billing/internal/auth"
	"telecom-billing/pkg/logger"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
type Repository interface {
	AppendAuditEvent(ctx context.Context, e Event) error
}

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" || e.SubjectType == "" || e.SubjectID == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	if e.ActorUserID == "" {
		e.ActorUserID, _ = auth.UserID(ctx)
	}
	if e.ActorRole == "" {
		e.ActorRole, _ = auth.Role(ctx)
	}
	if e.RequestID == "" {
		e.RequestID = logger.RequestID(ctx)
	}
	return s.repo.AppendAuditEvent(ctx, e)
}

// Record appends e and logs instead of failing. A nil Service is a no-op.
func (s *Service) Record(ctx context.Context, e Event) {
	if s == nil {
		return
	}
	if err := s.Append(ctx, e); err != nil {
		logger.From(ctx).Warn("audit append failed",
			"type", string(e.Type),
			"subject_id", e.SubjectID,
			"error", err.Error(),
		)
	}
}

// Metadata marshals kv into the event metadata column; errors yield "".
func Metadata(kv map[string]any) string {
	if len(kv) == 0 {
		return ""
	}
	b, err := json.Marshal(kv)
	if err != nil {
		return ""
	}
	return string(b)
}
