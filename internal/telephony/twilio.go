package telephony

import (
	"net/http"
	"strings"

	"github.com/twilio/twilio-go/client"
)

const twilioSignatureHeader = "X-Twilio-Signature"

// TwilioSignatureVerifier checks X-Twilio-Signature against the public URL
// Twilio posted to. The request form must already be parsed.
type TwilioSignatureVerifier struct {
	validator client.RequestValidator
	baseURL   string
}

// NewTwilioSignatureVerifier takes the account auth token and the public
// scheme://host the webhook is reachable on.
func NewTwilioSignatureVerifier(authToken, baseURL string) *TwilioSignatureVerifier {
	return &TwilioSignatureVerifier{
		validator: client.NewRequestValidator(authToken),
		baseURL:   strings.TrimRight(baseURL, "/"),
	}
}

func (v *TwilioSignatureVerifier) Verify(r *http.Request) bool {
	sig := r.Header.Get(twilioSignatureHeader)
	if sig == "" {
		return false
	}
	params := make(map[string]string, len(r.PostForm))
	for k, vals := range r.PostForm {
		if len(vals) > 0 {
			params[k] = vals[0]
		}
	}
	return v.validator.Validate(v.publicURL(r), params, sig)
}

func (v *TwilioSignatureVerifier) publicURL(r *http.Request) string {
	if v.baseURL != "" {
		return v.baseURL + r.URL.RequestURI()
	}
	scheme := "https"
	if r.TLS == nil && r.Header.Get("X-Forwarded-Proto") == "" {
		scheme = "http"
	} else if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = p
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
