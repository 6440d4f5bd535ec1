// Package telephony turns provider call-status callbacks into billed calls.
//
// Provider adapters (Twilio today) only parse and authenticate; the mapping
// from a dialed number to a leased DID and the call write live in Ingestor.
package telephony

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"telecom-billing/internal/apperr"
	"telecom-billing/internal/calls"
	"telecom-billing/internal/metrics"
	"telecom-billing/internal/resources"
)

var (
	ErrUnknownNumber   = apperr.New(apperr.KindNotFound, "telephony: number is not a registered DID")
	ErrMissingCallID   = apperr.New(apperr.KindValidation, "telephony: provider call id is required")
	ErrInvalidDuration = apperr.New(apperr.KindValidation, "telephony: call duration must be >= 0 seconds")
)

// CompletedCall is the provider-neutral view of a finished call.
type CompletedCall struct {
	Provider       string
	ProviderCallID string

	// DID is the number we own; Counterparty is the customer's number.
	DID          string
	Counterparty string

	DurationSeconds int
	StartedAt       time.Time
	RecordingURL    string
}

type DIDLookup interface {
	FindByLabel(ctx context.Context, kind resources.Kind, label string) (resources.Resource, error)
}

type CallRecorder interface {
	Record(ctx context.Context, req calls.RecordRequest) (calls.Outcome, error)
}

// Ingestor records completed provider calls against the DID that carried them.
type Ingestor struct {
	dids  DIDLookup
	calls CallRecorder
}

func NewIngestor(dids DIDLookup, recorder CallRecorder) *Ingestor {
	return &Ingestor{dids: dids, calls: recorder}
}

// Ingest is idempotent on ProviderCallID: a replayed callback returns the
// stored call with Duplicate set.
func (i *Ingestor) Ingest(ctx context.Context, c CompletedCall) (calls.Outcome, error) {
	if strings.TrimSpace(c.ProviderCallID) == "" {
		return calls.Outcome{}, ErrMissingCallID
	}
	if c.DurationSeconds < 0 {
		return calls.Outcome{}, ErrInvalidDuration
	}

	did, err := i.dids.FindByLabel(ctx, resources.KindDID, c.DID)
	if errors.Is(err, resources.ErrResourceNotFound) || errors.Is(err, resources.ErrInvalidResource) {
		return calls.Outcome{}, fmt.Errorf("%w: %q", ErrUnknownNumber, c.DID)
	}
	if err != nil {
		return calls.Outcome{}, err
	}

	out, err := i.calls.Record(ctx, calls.RecordRequest{
		ResourceID:      did.ID,
		SessionID:       c.ProviderCallID,
		UserPhone:       c.Counterparty,
		DurationSeconds: c.DurationSeconds,
		StartedAt:       c.StartedAt,
		AudioURL:        c.RecordingURL,
	})
	if err != nil {
		return calls.Outcome{}, err
	}
	if out.Duplicate {
		metrics.WebhookEventsTotal.WithLabelValues(c.Provider, "duplicate").Inc()
	} else {
		metrics.WebhookEventsTotal.WithLabelValues(c.Provider, "recorded").Inc()
	}
	return out, nil
}
