package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSetQueueDepthRecordsGaugeValue(t *testing.T) {
	c := New()
	c.SetQueueDepth("claude", 3)
	if got := testutil.ToFloat64(c.queueDepth.WithLabelValues("claude")); got != 3 {
		t.Errorf("expected queue depth 3, got %v", got)
	}
}

func TestSetProviderHealthRecordsOneOrZero(t *testing.T) {
	c := New()
	c.SetProviderHealth("claude", true)
	if got := testutil.ToFloat64(c.providerHealth.WithLabelValues("claude")); got != 1 {
		t.Errorf("expected health 1 for healthy, got %v", got)
	}

	c.SetProviderHealth("claude", false)
	if got := testutil.ToFloat64(c.providerHealth.WithLabelValues("claude")); got != 0 {
		t.Errorf("expected health 0 for unhealthy, got %v", got)
	}
}

func TestObserveDispatchIncrementsRequestsTotal(t *testing.T) {
	c := New()
	c.ObserveDispatch("claude", "completed", 250*time.Millisecond)
	if got := testutil.ToFloat64(c.requestsTotal.WithLabelValues("claude", "completed")); got != 1 {
		t.Errorf("expected requests_total 1, got %v", got)
	}
}

func TestRecordErrorIncrementsErrorsTotal(t *testing.T) {
	c := New()
	c.RecordError("claude", "timeout")
	c.RecordError("claude", "timeout")
	if got := testutil.ToFloat64(c.errorsTotal.WithLabelValues("claude", "timeout")); got != 2 {
		t.Errorf("expected errors_total 2, got %v", got)
	}
}

func TestObserveDiscussionRoundIncrementsRoundsTotal(t *testing.T) {
	c := New()
	c.ObserveDiscussionRound("propose", "success", time.Second)
	if got := testutil.ToFloat64(c.discussionRoundsTotal.WithLabelValues("propose", "success")); got != 1 {
		t.Errorf("expected discussion_rounds_total 1, got %v", got)
	}
}

func TestHandlerServesPrometheusExposition(t *testing.T) {
	c := New()
	c.SetQueueDepth("claude", 1)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "gateway_queue_depth") {
		t.Errorf("expected gateway_queue_depth in exposition output, got:\n%s", w.Body.String())
	}
}
