package postgres

import (
	"context"

	"telecom-billing/internal/audit"
)

// AppendAuditEvent writes on its own connection, outside any caller
// transaction, so a failed append never aborts a billing transaction.
func (s *Store) AppendAuditEvent(ctx context.Context, e audit.Event) error {
	const q = `
INSERT INTO audit_events (id, company_id, type, actor_user_id, actor_role, subject_type, subject_id, message, metadata, request_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.QueryTimeout)
	defer cancel()
	_, err := s.db.ExecContext(ctx, q, e.ID, e.CompanyID, e.Type, e.ActorUserID, e.ActorRole,
		e.SubjectType, e.SubjectID, e.Message, e.Metadata, e.RequestID, e.CreatedAt)
	return classify(err)
}
