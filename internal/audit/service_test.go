package audit_test

import (
	"context"
	"errors"
	"testing"

	"telecom-billing/internal/audit"
	"telecom-billing/internal/auth"
	"telecom-billing/internal/store/memory"
	"telecom-billing/pkg/logger"
)

func TestService_AppendRequiresTypeAndSubject(t *testing.T) {
	svc := audit.NewService(memory.New())

	if err := svc.Append(context.Background(), audit.Event{SubjectType: "assignment", SubjectID: "a1"}); !errors.Is(err, audit.ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
	if err := svc.Append(context.Background(), audit.Event{Type: audit.EventAssignmentLeased}); !errors.Is(err, audit.ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}

func TestService_AppendFillsActorAndRequestFromContext(t *testing.T) {
	st := memory.New()
	svc := audit.NewService(st)
	ctx := auth.WithIdentity(context.Background(), "admin-7", "", "admin")
	ctx = logger.WithRequestID(ctx, "rid-9")

	err := svc.Append(ctx, audit.Event{
		CompanyID:   "c1",
		Type:        audit.EventAssignmentLeased,
		SubjectType: "assignment",
		SubjectID:   "a1",
		Metadata:    audit.Metadata(map[string]any{"resource_id": "r1"}),
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := st.AuditEvents()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	ev := evs[0]
	if ev.ActorUserID != "admin-7" || ev.ActorRole != "admin" {
		t.Fatalf("expected actor captured, got %+v", ev)
	}
	if ev.RequestID != "rid-9" {
		t.Fatalf("expected request id captured, got %q", ev.RequestID)
	}
	if ev.ID == "" || ev.CreatedAt.IsZero() {
		t.Fatalf("expected id and created_at filled")
	}
	if ev.Metadata != `{"resource_id":"r1"}` {
		t.Fatalf("unexpected metadata %q", ev.Metadata)
	}
}

func TestService_ExplicitActorWins(t *testing.T) {
	st := memory.New()
	svc := audit.NewService(st)
	ctx := auth.WithIdentity(context.Background(), "admin-7", "", "admin")

	svc.Record(ctx, audit.Event{
		Type:        audit.EventInvoicesGenerated,
		SubjectType: "period",
		SubjectID:   "2024-02",
		ActorUserID: "invoicer",
	})
	evs := st.AuditEvents()
	if len(evs) != 1 || evs[0].ActorUserID != "invoicer" || evs[0].ActorRole != "admin" {
		t.Fatalf("unexpected events: %+v", evs)
	}
}

func TestService_RecordSwallowsErrors(t *testing.T) {
	var nilSvc *audit.Service
	nilSvc.Record(context.Background(), audit.Event{})

	svc := audit.NewService(nil)
	svc.Record(context.Background(), audit.Event{Type: audit.EventInvoicesGenerated, SubjectType: "period", SubjectID: "2024-02"})
}
