package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordersCountOutcomes(t *testing.T) {
	m := New()
	m.ObserveResolution("hit", time.Millisecond)
	m.ObserveResolution("hit", time.Millisecond)
	m.ObserveResolution("refreshed", 40*time.Millisecond)
	m.ObserveSubmission("succeeded", 200*time.Millisecond)
	m.ObserveGuardAction("added")
	m.SetActiveForms(3)

	if got := testutil.ToFloat64(m.ResolutionOutcome.WithLabelValues("hit")); got != 2 {
		t.Fatalf("expected 2 hits, got %v", got)
	}
	if got := testutil.ToFloat64(m.SubmissionOutcome.WithLabelValues("succeeded")); got != 1 {
		t.Fatalf("expected 1 success, got %v", got)
	}
	if got := testutil.ToFloat64(m.GuardActions.WithLabelValues("added")); got != 1 {
		t.Fatalf("expected 1 guard action, got %v", got)
	}
	if got := testutil.ToFloat64(m.ActiveForms); got != 3 {
		t.Fatalf("expected 3 active forms, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveResolution("hit", time.Millisecond)
	m.ObserveSubmission("transient", time.Second)
	m.ObserveGuardAction("removed")
	m.SetActiveForms(1)
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ObserveSubmission("pricing", time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `bfl_cart_submissions_total{outcome="pricing"} 1`) {
		t.Fatalf("expected submission counter in exposition, got:\n%s", body)
	}
}
