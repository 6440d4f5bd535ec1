package calls

import (
	"strings"
	"time"
)

// Call is one completed call billed against an invoice line.
//
// Duration and LineItemID are the billing-relevant fields; changing either
// recomputes the parent invoice. Feedback fields are editable at any time.
type Call struct {
	ID         string `json:"id" db:"id"`
	CompanyID  string `json:"company_id" db:"company_id"`
	InvoiceID  string `json:"invoice_id" db:"invoice_id"`
	LineItemID string `json:"line_item_id" db:"line_item_id"`
	ResourceID string `json:"resource_id" db:"resource_id"`

	// SessionID is the provider's call id (e.g. Twilio CallSid); unique when set.
	SessionID string `json:"session_id,omitempty" db:"session_id"`
	UserPhone string `json:"user_phone,omitempty" db:"user_phone"`

	// DurationSeconds is the call duration in seconds.
	DurationSeconds int         `json:"duration" db:"duration"`
	Disposition     Disposition `json:"disposition,omitempty" db:"disposition"`
	StartedAt       time.Time   `json:"started_at" db:"started_at"`

	AudioURL      string `json:"call_audio_url,omitempty" db:"call_audio_url"`
	Transcription string `json:"call_transcription,omitempty" db:"call_transcription"`

	Feedback

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt *time.Time `json:"-" db:"deleted_at"`
}

// Feedback holds the non-billing annotations of a call.
type Feedback struct {
	ScheduledCallback *time.Time `json:"scheduled_callback,omitempty" db:"scheduled_callback"`
	AIFeedback        string     `json:"ai_feedback,omitempty" db:"ai_feedback"`
	AIRating          *int       `json:"ai_rating,omitempty" db:"ai_rating"`
	CompanyFeedback   string     `json:"company_feedback,omitempty" db:"company_feedback"`
	CompanyRating     *int       `json:"company_rating,omitempty" db:"company_rating"`
}

// Disposition is the categorical outcome code of a call.
type Disposition string

const (
	DispositionCallback      Disposition = "CALLBK"
	DispositionCallbackHold  Disposition = "CBHOLD"
	DispositionSale          Disposition = "SALE"
	DispositionDeclined      Disposition = "DEC"
	DispositionDoNotCall     Disposition = "DNC"
	DispositionNotInterested Disposition = "NI"
	DispositionNotPresent    Disposition = "NP"
	DispositionWrongNumber   Disposition = "WRONG"
	DispositionNoContact     Disposition = "NC"
	DispositionSurveyExt     Disposition = "SVYEXT"
	DispositionTimeout       Disposition = "TIME"
	DispositionFax           Disposition = "FAX"
)

var dispositions = map[Disposition]struct{}{
	DispositionCallback: {}, DispositionCallbackHold: {}, DispositionSale: {},
	DispositionDeclined: {}, DispositionDoNotCall: {}, DispositionNotInterested: {},
	DispositionNotPresent: {}, DispositionWrongNumber: {}, DispositionNoContact: {},
	DispositionSurveyExt: {}, DispositionTimeout: {}, DispositionFax: {},
}

// ParseDisposition normalizes case; the empty string is allowed.
func ParseDisposition(s string) (Disposition, bool) {
	d := Disposition(strings.ToUpper(strings.TrimSpace(s)))
	if d == "" {
		return "", true
	}
	_, ok := dispositions[d]
	return d, ok
}
