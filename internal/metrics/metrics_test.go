package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsExposition(t *testing.T) {
	m := New()
	m.ObserveAnalyze("dual", 1500*time.Millisecond, nil)
	m.ObserveAnalyze("single", time.Second, errors.New("boom"))
	m.ObserveSave(nil)
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	m.ObserveRequest("analyze", 502)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		`visualdict_analyses_total{mode="dual",outcome="ok"} 1`,
		`visualdict_analyses_total{mode="single",outcome="error"} 1`,
		`visualdict_dictionary_saves_total{outcome="ok"} 1`,
		`visualdict_sessions_active 1`,
		`visualdict_http_requests_total{code="502",route="analyze"} 1`,
		`visualdict_analyze_duration_seconds_count{mode="dual"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("Missing %q in exposition", want)
		}
	}
}

func TestRegistryGathers(t *testing.T) {
	m := New()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(families) == 0 {
		t.Error("Expected runtime collectors to report")
	}
}
