package memory

import (
	"context"
	"sort"
	"time"

	"telecom-billing/internal/assignments"
	"telecom-billing/internal/calls"
	"telecom-billing/internal/invoicing"
	"telecom-billing/internal/reporting"
	"telecom-billing/internal/resources"
)

/* ===================== REPORTING ===================== */

func (s *Store) ListCalls(ctx context.Context, companyID string, from, to time.Time) ([]calls.Call, error) {
	defer s.lock(ctx)()
	out := []calls.Call{}
	for _, c := range s.data.calls {
		if c.CompanyID != companyID || c.DeletedAt != nil {
			continue
		}
		if c.StartedAt.Before(from) || !c.StartedAt.Before(to) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *Store) CountResources(ctx context.Context) ([]reporting.ResourceCount, error) {
	defer s.lock(ctx)()
	type key struct {
		kind   resources.Kind
		status resources.Status
	}
	counts := map[key]int{}
	for _, r := range s.data.resources {
		counts[key{r.Kind, r.Status}]++
	}
	out := make([]reporting.ResourceCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, reporting.ResourceCount{Kind: k.kind, Status: k.status, Count: n})
	}
	return out, nil
}

func (s *Store) SumInvoices(ctx context.Context) ([]reporting.InvoiceTotal, error) {
	defer s.lock(ctx)()
	totals := map[invoicing.Status]reporting.InvoiceTotal{}
	for _, inv := range s.data.invoices {
		t := totals[inv.Status]
		t.Status = inv.Status
		t.Count++
		t.BilledAmount = t.BilledAmount.Add(inv.BilledAmount)
		totals[inv.Status] = t
	}
	out := make([]reporting.InvoiceTotal, 0, len(totals))
	for _, t := range totals {
		out = append(out, t)
	}
	return out, nil
}

func (s *Store) CountActiveCompanies(ctx context.Context) (int, error) {
	defer s.lock(ctx)()
	seen := map[string]struct{}{}
	for _, a := range s.data.assignments {
		if a.Status == assignments.StatusActive {
			seen[a.CompanyID] = struct{}{}
		}
	}
	return len(seen), nil
}

func (s *Store) CountCalls(ctx context.Context) (int64, error) {
	defer s.lock(ctx)()
	var n int64
	for _, c := range s.data.calls {
		if c.DeletedAt == nil {
			n++
		}
	}
	return n, nil
}

func (s *Store) RecentCalls(ctx context.Context, limit int) ([]calls.Call, error) {
	defer s.lock(ctx)()
	out := []calls.Call{}
	for _, c := range s.data.calls {
		if c.DeletedAt == nil {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
