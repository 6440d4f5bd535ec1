// Package period resolves calendar-month billing periods in a fixed billing
// timezone.
package period

import (
	"fmt"
	"time"
)

// Period is an inclusive [Start, End] window. End is the last representable
// instant before the next period starts.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && !t.After(p.End)
}

// Key is the YYYY-MM label used for locks, invoice numbers and logs.
func (p Period) Key() string {
	return p.Start.Format("2006-01")
}

func (p Period) Next() Period {
	return monthOf(p.Start.AddDate(0, 1, 0))
}

func (p Period) Previous() Period {
	return monthOf(p.Start.AddDate(0, -1, 0))
}

func (p Period) String() string {
	return fmt.Sprintf("%s [%s, %s]", p.Key(), p.Start.Format(time.RFC3339), p.End.Format(time.RFC3339Nano))
}

// Resolver maps reference instants onto billing periods.
type Resolver struct {
	loc *time.Location
}

// NewResolver returns a resolver for loc. A nil loc means UTC.
func NewResolver(loc *time.Location) Resolver {
	if loc == nil {
		loc = time.UTC
	}
	return Resolver{loc: loc}
}

func (r Resolver) Location() *time.Location {
	if r.loc == nil {
		return time.UTC
	}
	return r.loc
}

// For returns the calendar month containing ref.
func (r Resolver) For(ref time.Time) Period {
	return monthOf(ref.In(r.Location()))
}

// ParseMonth parses "YYYY-MM" into the period for that month.
func (r Resolver) ParseMonth(s string) (Period, error) {
	t, err := time.ParseInLocation("2006-01", s, r.Location())
	if err != nil {
		return Period{}, fmt.Errorf("period: invalid month %q: want YYYY-MM", s)
	}
	return monthOf(t), nil
}

func monthOf(t time.Time) Period {
	y, m, _ := t.Date()
	start := time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
	next := time.Date(y, m+1, 1, 0, 0, 0, 0, t.Location())
	return Period{Start: start, End: next.Add(-time.Nanosecond)}
}
