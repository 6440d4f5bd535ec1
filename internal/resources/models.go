package resources

import "time"

// Kind distinguishes the two leasable resource types.
type Kind string

const (
	KindDID   Kind = "did"
	KindAgent Kind = "agent"
)

func (k Kind) Valid() bool { return k == KindDID || k == KindAgent }

type Status string

const (
	StatusAvailable   Status = "available"
	StatusAssigned    Status = "assigned"
	StatusMaintenance Status = "maintenance"
)

// Resource is a DID or an AI voice agent that can be leased to a company.
type Resource struct {
	ID     string `json:"id" db:"id"`
	Kind   Kind   `json:"kind" db:"kind"`
	Label  string `json:"label" db:"label"`
	Status Status `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
