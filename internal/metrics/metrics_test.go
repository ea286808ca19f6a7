package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordTurn(t *testing.T) {
	m := New("test", nil)
	m.RecordTurn("start_class", "ok", 2*time.Second)
	m.RecordTurn("start_class", "ok", time.Second)
	m.RecordTurn("submit_text", "model_error", time.Second)

	if got := testutil.ToFloat64(m.TurnsTotal.WithLabelValues("start_class", "ok")); got != 2 {
		t.Fatalf("expected 2 ok starts, got %v", got)
	}
	if got := testutil.ToFloat64(m.TurnsTotal.WithLabelValues("submit_text", "model_error")); got != 1 {
		t.Fatalf("expected 1 failed submit, got %v", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordTurn("start_class", "ok", time.Second)
	m.RecordSpeech("ok")
	m.RecordRateLimit("class_http")
}

func TestHandlerExposesClassroomGauge(t *testing.T) {
	m := New("test", func() int { return 3 })
	m.RecordSpeech("error")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	if !strings.Contains(string(body), "test_classrooms_active 3") {
		t.Fatalf("expected classroom gauge in output:\n%s", body)
	}
	if !strings.Contains(string(body), `test_speech_total{status="error"} 1`) {
		t.Fatalf("expected speech counter in output:\n%s", body)
	}
}
