package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordWritesCounter(t *testing.T) {
	RegisterDefault()
	before := testutil.ToFloat64(RecordWrites.WithLabelValues("trucks", "create", "ok"))
	RecordWrites.WithLabelValues("trucks", "create", Result(nil)).Inc()
	if got := testutil.ToFloat64(RecordWrites.WithLabelValues("trucks", "create", "ok")); got != before+1 {
		t.Fatalf("counter = %v, want %v", got, before+1)
	}
	if Result(errors.New("x")) != "error" {
		t.Fatal("non-nil error must map to error")
	}
}

func TestHandlerExposesRegistry(t *testing.T) {
	Completions.WithLabelValues("trips", "atomic", "ok").Inc()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "frota_completions_total") {
		t.Fatalf("metrics output missing completions counter")
	}
}
