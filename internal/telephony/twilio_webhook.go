package telephony

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const providerTwilio = "twilio"

// TwilioStatusForm captures the call status callback fields we bill from.
// Twilio sends application/x-www-form-urlencoded by default.
// Ref: https://www.twilio.com/docs/voice/api/call-resource#statuscallback
type TwilioStatusForm struct {
	CallSid      string
	AccountSid   string
	From         string
	To           string
	Direction    string
	CallStatus   string
	CallDuration int
	Timestamp    time.Time
	RecordingURL string
}

// ParseTwilioStatusCallback reads the posted form. CallDuration and
// Timestamp are optional on non-final statuses.
func ParseTwilioStatusCallback(r *http.Request) (TwilioStatusForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioStatusForm{}, err
	}
	f := TwilioStatusForm{
		CallSid:      strings.TrimSpace(r.PostFormValue("CallSid")),
		AccountSid:   strings.TrimSpace(r.PostFormValue("AccountSid")),
		From:         normalizePhone(r.PostFormValue("From")),
		To:           normalizePhone(r.PostFormValue("To")),
		Direction:    strings.TrimSpace(r.PostFormValue("Direction")),
		CallStatus:   strings.ToLower(strings.TrimSpace(r.PostFormValue("CallStatus"))),
		RecordingURL: strings.TrimSpace(r.PostFormValue("RecordingUrl")),
	}
	if v := strings.TrimSpace(r.PostFormValue("CallDuration")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return TwilioStatusForm{}, fmt.Errorf("CallDuration must be an integer, got %q", v)
		}
		f.CallDuration = n
	}
	if v := strings.TrimSpace(r.PostFormValue("Timestamp")); v != "" {
		ts, err := time.Parse(time.RFC1123Z, v)
		if err != nil {
			return TwilioStatusForm{}, fmt.Errorf("Timestamp must be RFC 1123, got %q", v)
		}
		f.Timestamp = ts.UTC()
	}
	return f, nil
}

func normalizePhone(s string) string {
	s = strings.TrimSpace(s)
	// Twilio sometimes sends "anonymous" or empty; keep as-is.
	return s
}

// Completed reports the only status that carries a final duration.
func (f TwilioStatusForm) Completed() bool {
	return f.CallStatus == "completed"
}

// Outbound calls are placed from our DID, inbound ones are dialed to it.
func (f TwilioStatusForm) outbound() bool {
	return strings.HasPrefix(strings.ToLower(f.Direction), "outbound")
}

// ToCompletedCall derives the start time from the callback timestamp, which
// Twilio stamps when the call ends. receivedAt stands in when it is absent.
func (f TwilioStatusForm) ToCompletedCall(receivedAt time.Time) CompletedCall {
	ended := f.Timestamp
	if ended.IsZero() {
		ended = receivedAt.UTC()
	}
	did, other := f.To, f.From
	if f.outbound() {
		did, other = f.From, f.To
	}
	return CompletedCall{
		Provider:        providerTwilio,
		ProviderCallID:  f.CallSid,
		DID:             did,
		Counterparty:    other,
		DurationSeconds: f.CallDuration,
		StartedAt:       ended.Add(-time.Duration(f.CallDuration) * time.Second),
		RecordingURL:    f.RecordingURL,
	}
}
