package audit

import "time"

// Event is an immutable, append-only activity record.
//
// Invariants:
//   - Events are never updated or deleted.
//   - company_id is set whenever the subject belongs to a company; resource
//     provisioning events are platform-level and carry none.
//   - actor capture is best-effort; do not block billing flows on audit failures.
type Event struct {
	ID        string    `json:"id" db:"id"`
	CompanyID string    `json:"company_id,omitempty" db:"company_id"`
	Type      EventType `json:"type" db:"type"`

	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`

	SubjectType string `json:"subject_type" db:"subject_type"`
	SubjectID   string `json:"subject_id" db:"subject_id"`

	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	// RequestID ties the event to the API request log line.
	RequestID string `json:"request_id,omitempty" db:"request_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventAssignmentLeased      EventType = "assignment.leased"
	EventAssignmentReleased    EventType = "assignment.released"
	EventAssignmentRepriced    EventType = "assignment.repriced"
	EventResourceStatusChanged EventType = "resource.status_changed"
	EventInvoiceStatusChanged  EventType = "invoice.status_changed"
	EventInvoicesGenerated     EventType = "invoices.generated"
)
