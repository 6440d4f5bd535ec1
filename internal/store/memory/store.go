// Package memory is an in-process store implementing every repository
// contract of the billing packages. A transaction holds the store mutex and
// snapshots state, so rollback restores it exactly. It backs tests and local
// runs without Postgres.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"telecom-billing/internal/assignments"
	"telecom-billing/internal/audit"
	"telecom-billing/internal/calls"
	"telecom-billing/internal/invoicing"
	"telecom-billing/internal/resources"
	"telecom-billing/internal/usage"
)

type state struct {
	resources   map[string]resources.Resource
	assignments map[string]assignments.Assignment
	invoices    map[string]invoicing.Invoice
	lines       map[string]invoicing.LineItem
	calls       map[string]calls.Call
	sequences   map[string]int64
	events      []audit.Event
}

func newState() state {
	return state{
		resources:   map[string]resources.Resource{},
		assignments: map[string]assignments.Assignment{},
		invoices:    map[string]invoicing.Invoice{},
		lines:       map[string]invoicing.LineItem{},
		calls:       map[string]calls.Call{},
		sequences:   map[string]int64{},
	}
}

func (s state) clone() state {
	out := newState()
	for k, v := range s.resources {
		out.resources[k] = v
	}
	for k, v := range s.assignments {
		out.assignments[k] = v
	}
	for k, v := range s.invoices {
		out.invoices[k] = v
	}
	for k, v := range s.lines {
		out.lines[k] = v
	}
	for k, v := range s.calls {
		out.calls[k] = v
	}
	for k, v := range s.sequences {
		out.sequences[k] = v
	}
	out.events = append([]audit.Event(nil), s.events...)
	return out
}

// Fault lets tests fail a store operation. op is the method name, key the
// primary identifier it was called with.
type Fault func(op, key string) error

type Store struct {
	mu    sync.Mutex
	data  state
	fault Fault
}

func New() *Store {
	return &Store{data: newState()}
}

// InjectFault installs f; nil removes it.
func (s *Store) InjectFault(f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = f
}

type txKey struct{}

func inTx(ctx context.Context) bool {
	return ctx.Value(txKey{}) != nil
}

// WithinTx runs fn holding the store lock; an error restores the snapshot
// taken on entry. Nested calls join the outer transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.data.clone()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.data = snap
		return err
	}
	return nil
}

// lock takes the mutex for calls made outside WithinTx.
func (s *Store) lock(ctx context.Context) func() {
	if inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) check(op, key string) error {
	if s.fault == nil {
		return nil
	}
	return s.fault(op, key)
}

/* ===================== RESOURCES ===================== */

// PutResource seeds a resource directly, bypassing the lifecycle manager.
func (s *Store) PutResource(r resources.Resource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.resources[r.ID] = r
}

func (s *Store) InsertResource(ctx context.Context, r resources.Resource) error {
	defer s.lock(ctx)()
	if err := s.check("InsertResource", r.ID); err != nil {
		return err
	}
	for _, existing := range s.data.resources {
		if existing.Kind == r.Kind && existing.Label == r.Label {
			return resources.ErrDuplicateLabel
		}
	}
	s.data.resources[r.ID] = r
	return nil
}

func (s *Store) GetResource(ctx context.Context, id string) (resources.Resource, error) {
	defer s.lock(ctx)()
	r, ok := s.data.resources[id]
	if !ok {
		return resources.Resource{}, resources.ErrResourceNotFound
	}
	return r, nil
}

func (s *Store) FindResourceByLabel(ctx context.Context, kind resources.Kind, label string) (resources.Resource, error) {
	defer s.lock(ctx)()
	for _, r := range s.data.resources {
		if r.Kind == kind && r.Label == label {
			return r, nil
		}
	}
	return resources.Resource{}, resources.ErrResourceNotFound
}

func (s *Store) LockResource(ctx context.Context, id string) (resources.Resource, error) {
	return s.GetResource(ctx, id)
}

func (s *Store) UpdateResourceStatus(ctx context.Context, id string, status resources.Status, at time.Time) error {
	defer s.lock(ctx)()
	if err := s.check("UpdateResourceStatus", id); err != nil {
		return err
	}
	r, ok := s.data.resources[id]
	if !ok {
		return resources.ErrResourceNotFound
	}
	r.Status = status
	r.UpdatedAt = at
	s.data.resources[id] = r
	return nil
}

func (s *Store) HasActiveAssignment(ctx context.Context, resourceID string) (bool, error) {
	defer s.lock(ctx)()
	_, found := s.activeAssignment(resourceID)
	return found, nil
}

/* ===================== ASSIGNMENTS ===================== */

func (s *Store) activeAssignment(resourceID string) (assignments.Assignment, bool) {
	for _, a := range s.data.assignments {
		if a.ResourceID == resourceID && a.Status == assignments.StatusActive {
			return a, true
		}
	}
	return assignments.Assignment{}, false
}

func (s *Store) InsertAssignment(ctx context.Context, a assignments.Assignment) error {
	defer s.lock(ctx)()
	if err := s.check("InsertAssignment", a.ResourceID); err != nil {
		return err
	}
	if a.Status == assignments.StatusActive {
		if _, found := s.activeAssignment(a.ResourceID); found {
			return assignments.ErrResourceAlreadyLeased
		}
	}
	s.data.assignments[a.ID] = a
	return nil
}

func (s *Store) GetAssignment(ctx context.Context, id string) (assignments.Assignment, error) {
	defer s.lock(ctx)()
	a, ok := s.data.assignments[id]
	if !ok {
		return assignments.Assignment{}, assignments.ErrAssignmentNotFound
	}
	return a, nil
}

func (s *Store) LockAssignment(ctx context.Context, id string) (assignments.Assignment, error) {
	return s.GetAssignment(ctx, id)
}

func (s *Store) FindActiveAssignment(ctx context.Context, resourceID string) (assignments.Assignment, bool, error) {
	defer s.lock(ctx)()
	a, found := s.activeAssignment(resourceID)
	return a, found, nil
}

func (s *Store) FindAssignmentAt(ctx context.Context, resourceID string, at time.Time) (assignments.Assignment, bool, error) {
	defer s.lock(ctx)()
	var (
		best  assignments.Assignment
		found bool
	)
	for _, a := range s.data.assignments {
		if a.ResourceID != resourceID || !a.CoversAt(at) {
			continue
		}
		if !found || a.StartDate.After(best.StartDate) {
			best, found = a, true
		}
	}
	return best, found, nil
}

func (s *Store) CloseAssignment(ctx context.Context, id string, endDate, at time.Time) error {
	defer s.lock(ctx)()
	if err := s.check("CloseAssignment", id); err != nil {
		return err
	}
	a, ok := s.data.assignments[id]
	if !ok {
		return assignments.ErrAssignmentNotFound
	}
	if endDate.Before(a.StartDate) {
		return assignments.ErrInvertedDateRange
	}
	a.Status = assignments.StatusInactive
	a.EndDate = &endDate
	a.UpdatedAt = at
	s.data.assignments[id] = a
	return nil
}

func (s *Store) UpdateLineEffectiveTo(ctx context.Context, assignmentID string, end, at time.Time) error {
	defer s.lock(ctx)()
	if err := s.check("UpdateLineEffectiveTo", assignmentID); err != nil {
		return err
	}
	for id, li := range s.data.lines {
		if li.AssignmentID != assignmentID || li.EffectiveFrom.After(end) || !li.EffectiveTo.After(end) {
			continue
		}
		li.EffectiveTo = end
		li.UpdatedAt = at
		s.data.lines[id] = li
	}
	return nil
}

func (s *Store) UpdateAssignmentRate(ctx context.Context, id string, rate decimal.Decimal, at time.Time) error {
	defer s.lock(ctx)()
	a, ok := s.data.assignments[id]
	if !ok {
		return assignments.ErrAssignmentNotFound
	}
	a.PricePerMin = rate
	a.UpdatedAt = at
	s.data.assignments[id] = a
	return nil
}

func (s *Store) ListBillableAssignments(ctx context.Context, asOf time.Time) ([]assignments.Assignment, error) {
	defer s.lock(ctx)()
	if err := s.check("ListBillableAssignments", ""); err != nil {
		return nil, err
	}
	out := []assignments.Assignment{}
	for _, a := range s.data.assignments {
		if a.Billable(asOf) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

/* ===================== INVOICES ===================== */

func (s *Store) FindInvoiceByPeriod(ctx context.Context, companyID string, periodStart time.Time) (invoicing.Invoice, bool, error) {
	defer s.lock(ctx)()
	inv, found := s.invoiceByPeriod(companyID, periodStart)
	return inv, found, nil
}

func (s *Store) invoiceByPeriod(companyID string, periodStart time.Time) (invoicing.Invoice, bool) {
	for _, inv := range s.data.invoices {
		if inv.CompanyID == companyID && inv.EffectiveFrom.Equal(periodStart) {
			return inv, true
		}
	}
	return invoicing.Invoice{}, false
}

func (s *Store) InsertInvoice(ctx context.Context, inv invoicing.Invoice) (bool, error) {
	defer s.lock(ctx)()
	if err := s.check("InsertInvoice", inv.CompanyID); err != nil {
		return false, err
	}
	if _, found := s.invoiceByPeriod(inv.CompanyID, inv.EffectiveFrom); found {
		return false, nil
	}
	inv.Lines = nil
	s.data.invoices[inv.ID] = inv
	return true, nil
}

func (s *Store) NextInvoiceNumber(ctx context.Context, periodKey string) (int64, error) {
	defer s.lock(ctx)()
	s.data.sequences[periodKey]++
	return s.data.sequences[periodKey], nil
}

func (s *Store) FindLineItem(ctx context.Context, assignmentID string, periodStart time.Time) (invoicing.LineItem, bool, error) {
	defer s.lock(ctx)()
	li, found := s.lineByPeriod(assignmentID, periodStart)
	return li, found, nil
}

func (s *Store) lineByPeriod(assignmentID string, periodStart time.Time) (invoicing.LineItem, bool) {
	for _, li := range s.data.lines {
		if li.AssignmentID == assignmentID && li.EffectiveFrom.Equal(periodStart) {
			return li, true
		}
	}
	return invoicing.LineItem{}, false
}

func (s *Store) InsertLineItem(ctx context.Context, li invoicing.LineItem) (bool, error) {
	defer s.lock(ctx)()
	if err := s.check("InsertLineItem", li.AssignmentID); err != nil {
		return false, err
	}
	if _, found := s.lineByPeriod(li.AssignmentID, li.EffectiveFrom); found {
		return false, nil
	}
	if _, ok := s.data.invoices[li.InvoiceID]; !ok {
		return false, invoicing.ErrInvoiceNotFound
	}
	s.data.lines[li.ID] = li
	return true, nil
}

func (s *Store) GetInvoice(ctx context.Context, id string) (invoicing.Invoice, error) {
	defer s.lock(ctx)()
	inv, ok := s.data.invoices[id]
	if !ok {
		return invoicing.Invoice{}, invoicing.ErrInvoiceNotFound
	}
	inv.Lines = s.linesOf(id)
	return inv, nil
}

func (s *Store) linesOf(invoiceID string) []invoicing.LineItem {
	out := []invoicing.LineItem{}
	for _, li := range s.data.lines {
		if li.InvoiceID == invoiceID {
			out = append(out, li)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) ListInvoices(ctx context.Context, f invoicing.Filter) ([]invoicing.Invoice, error) {
	defer s.lock(ctx)()
	out := []invoicing.Invoice{}
	for _, inv := range s.data.invoices {
		if f.CompanyID != "" && inv.CompanyID != f.CompanyID {
			continue
		}
		if f.Status != "" && inv.Status != f.Status {
			continue
		}
		if f.PeriodStart != nil && !inv.EffectiveFrom.Equal(*f.PeriodStart) {
			continue
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EffectiveFrom.Equal(out[j].EffectiveFrom) {
			return out[i].EffectiveFrom.After(out[j].EffectiveFrom)
		}
		return out[i].Number < out[j].Number
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) UpdateInvoiceStatus(ctx context.Context, id string, from, to invoicing.Status, at time.Time) (bool, error) {
	defer s.lock(ctx)()
	inv, ok := s.data.invoices[id]
	if !ok {
		return false, invoicing.ErrInvoiceNotFound
	}
	if inv.Status != from {
		return false, nil
	}
	inv.Status = to
	inv.UpdatedAt = at
	switch to {
	case invoicing.StatusFinalized:
		inv.FinalizedAt = &at
	case invoicing.StatusPaid:
		inv.PaidAt = &at
	}
	s.data.invoices[id] = inv
	return true, nil
}

/* ===================== USAGE ===================== */

func (s *Store) LockInvoice(ctx context.Context, id string) (invoicing.Invoice, error) {
	defer s.lock(ctx)()
	inv, ok := s.data.invoices[id]
	if !ok {
		return invoicing.Invoice{}, invoicing.ErrInvoiceNotFound
	}
	return inv, nil
}

func (s *Store) ListLineItems(ctx context.Context, invoiceID string) ([]invoicing.LineItem, error) {
	defer s.lock(ctx)()
	return s.linesOf(invoiceID), nil
}

func (s *Store) ListCallDurations(ctx context.Context, invoiceID string) ([]usage.CallDuration, error) {
	defer s.lock(ctx)()
	if err := s.check("ListCallDurations", invoiceID); err != nil {
		return nil, err
	}
	out := []usage.CallDuration{}
	for _, c := range s.data.calls {
		if c.InvoiceID == invoiceID && c.DeletedAt == nil {
			out = append(out, usage.CallDuration{LineItemID: c.LineItemID, Seconds: c.DurationSeconds})
		}
	}
	return out, nil
}

func (s *Store) UpdateLineTotals(ctx context.Context, lineID string, minutes int64, subtotal decimal.Decimal, at time.Time) error {
	defer s.lock(ctx)()
	li, ok := s.data.lines[lineID]
	if !ok {
		return invoicing.ErrLineItemNotFound
	}
	li.TotalMinutes = minutes
	li.Subtotal = subtotal
	li.UpdatedAt = at
	s.data.lines[lineID] = li
	return nil
}

func (s *Store) UpdateInvoiceTotals(ctx context.Context, invoiceID string, minutes int64, amount decimal.Decimal, at time.Time) error {
	defer s.lock(ctx)()
	if err := s.check("UpdateInvoiceTotals", invoiceID); err != nil {
		return err
	}
	inv, ok := s.data.invoices[invoiceID]
	if !ok {
		return invoicing.ErrInvoiceNotFound
	}
	inv.TotalMinutes = minutes
	inv.BilledAmount = amount
	inv.UpdatedAt = at
	s.data.invoices[invoiceID] = inv
	return nil
}

func (s *Store) ListInvoiceIDs(ctx context.Context, periodStart time.Time, status invoicing.Status) ([]string, error) {
	defer s.lock(ctx)()
	out := []string{}
	for _, inv := range s.data.invoices {
		if inv.EffectiveFrom.Equal(periodStart) && inv.Status == status {
			out = append(out, inv.ID)
		}
	}
	sort.Strings(out)
	return out, nil
}

// SetInvoiceTotals overwrites stored totals, simulating drift.
func (s *Store) SetInvoiceTotals(id string, minutes int64, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv := s.data.invoices[id]
	inv.TotalMinutes = minutes
	inv.BilledAmount = amount
	s.data.invoices[id] = inv
}

/* ===================== CALLS ===================== */

func (s *Store) InsertCall(ctx context.Context, c calls.Call) (bool, error) {
	defer s.lock(ctx)()
	if err := s.check("InsertCall", c.SessionID); err != nil {
		return false, err
	}
	if c.SessionID != "" {
		for _, existing := range s.data.calls {
			if existing.SessionID == c.SessionID {
				return false, nil
			}
		}
	}
	if _, ok := s.data.lines[c.LineItemID]; !ok {
		return false, invoicing.ErrLineItemNotFound
	}
	s.data.calls[c.ID] = c
	return true, nil
}

func (s *Store) FindCallBySession(ctx context.Context, sessionID string) (calls.Call, bool, error) {
	defer s.lock(ctx)()
	for _, c := range s.data.calls {
		if c.SessionID == sessionID {
			return c, true, nil
		}
	}
	return calls.Call{}, false, nil
}

func (s *Store) GetCall(ctx context.Context, id string) (calls.Call, error) {
	defer s.lock(ctx)()
	c, ok := s.data.calls[id]
	if !ok || c.DeletedAt != nil {
		return calls.Call{}, calls.ErrCallNotFound
	}
	return c, nil
}

func (s *Store) LockCall(ctx context.Context, id string) (calls.Call, error) {
	return s.GetCall(ctx, id)
}

func (s *Store) updateCall(id string, fn func(*calls.Call)) error {
	c, ok := s.data.calls[id]
	if !ok || c.DeletedAt != nil {
		return calls.ErrCallNotFound
	}
	fn(&c)
	s.data.calls[id] = c
	return nil
}

func (s *Store) UpdateCallDuration(ctx context.Context, id string, seconds int, at time.Time) error {
	defer s.lock(ctx)()
	return s.updateCall(id, func(c *calls.Call) {
		c.DurationSeconds = seconds
		c.UpdatedAt = at
	})
}

func (s *Store) UpdateCallFeedback(ctx context.Context, id string, f calls.Feedback, at time.Time) error {
	defer s.lock(ctx)()
	return s.updateCall(id, func(c *calls.Call) {
		c.Feedback = f
		c.UpdatedAt = at
	})
}

func (s *Store) SoftDeleteCall(ctx context.Context, id string, at time.Time) error {
	defer s.lock(ctx)()
	return s.updateCall(id, func(c *calls.Call) {
		c.DeletedAt = &at
		c.UpdatedAt = at
	})
}

func (s *Store) GetLineItem(ctx context.Context, id string) (invoicing.LineItem, error) {
	defer s.lock(ctx)()
	li, ok := s.data.lines[id]
	if !ok {
		return invoicing.LineItem{}, invoicing.ErrLineItemNotFound
	}
	return li, nil
}

/* ===================== AUDIT ===================== */

func (s *Store) AppendAuditEvent(ctx context.Context, e audit.Event) error {
	defer s.lock(ctx)()
	s.data.events = append(s.data.events, e)
	return nil
}

func (s *Store) AuditEvents() []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Event(nil), s.data.events...)
}
