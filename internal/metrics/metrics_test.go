package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(RecomputesTotal.WithLabelValues("unchanged"))
	RecomputesTotal.WithLabelValues("unchanged").Inc()
	if got := testutil.ToFloat64(RecomputesTotal.WithLabelValues("unchanged")); got != before+1 {
		t.Fatalf("expected %v, got %v", before+1, got)
	}

	before = testutil.ToFloat64(LeaseConflictsTotal)
	LeaseConflictsTotal.Inc()
	if got := testutil.ToFloat64(LeaseConflictsTotal); got != before+1 {
		t.Fatalf("expected %v, got %v", before+1, got)
	}
}
