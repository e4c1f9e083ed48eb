package core

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewRequestMetrics_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRequestMetrics("finpulse", reg)

	m.RecordRequest(http.MethodGet, "/v1/rules", "200", 25*time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	found := map[string]bool{}
	for _, mf := range families {
		found[mf.GetName()] = true
	}
	for _, want := range []string{"finpulse_http_requests_total", "finpulse_http_request_duration_seconds"} {
		if !found[want] {
			t.Errorf("expected metric family %s, got %v", want, found)
		}
	}
}

func TestRequestMetrics_CountsByLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRequestMetrics("finpulse", reg)

	m.RecordRequest(http.MethodGet, "/v1/rules", "200", time.Millisecond)
	m.RecordRequest(http.MethodGet, "/v1/rules", "200", time.Millisecond)
	m.RecordRequest(http.MethodPost, "/v1/rules", "201", time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	var getCount, postCount float64
	for _, mf := range families {
		if mf.GetName() != "finpulse_http_requests_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			switch labels["method"] {
			case http.MethodGet:
				getCount = metric.GetCounter().GetValue()
			case http.MethodPost:
				postCount = metric.GetCounter().GetValue()
			}
			if labels["endpoint"] != "/v1/rules" {
				t.Errorf("expected endpoint label /v1/rules, got %q", labels["endpoint"])
			}
		}
	}
	if getCount != 2 {
		t.Errorf("expected GET count 2, got %v", getCount)
	}
	if postCount != 1 {
		t.Errorf("expected POST count 1, got %v", postCount)
	}
}

func TestMetricsHandler_ServesRegisteredMetrics(t *testing.T) {
	reg := NewMetricsRegistry()
	m := NewRequestMetrics("finpulse", reg)
	m.RecordRequest(http.MethodGet, "/v1/rules", "200", time.Millisecond)

	handler := MetricsHandler(reg)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 from metrics handler, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "finpulse_http_requests_total") {
		t.Errorf("expected request counter in exposition output")
	}
	// NewMetricsRegistry ships with the Go runtime collectors.
	if !strings.Contains(body, "go_goroutines") {
		t.Errorf("expected Go runtime metrics in exposition output")
	}
}
