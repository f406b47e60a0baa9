package trace

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"frota/internal/log"
	"frota/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTraced(t *testing.T, h http.HandlerFunc) (http.Handler, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	cfg := log.DefaultConfig()
	cfg.Format = "json"
	cfg.Output = &buf
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/trucks/{id}", h)
	m := NewMiddleware(func(*http.Request) string { return "10.0.0.1" }, log.New(cfg))
	return m.Middleware(mux), &buf
}

func TestMiddlewareAssignsRequestID(t *testing.T) {
	var seen string
	h, _ := newTraced(t, func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/trucks/1", nil))
	if !strings.HasPrefix(seen, "req_") {
		t.Fatalf("request id = %q", seen)
	}
	if rec.Header().Get(RequestIDHeader) != seen {
		t.Errorf("header %q, context %q", rec.Header().Get(RequestIDHeader), seen)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/trucks/1", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "abc-123" {
		t.Errorf("caller request id not reused, got %q", seen)
	}
}

func TestMiddlewareLogsAndCounts(t *testing.T) {
	h, buf := newTraced(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "missing", http.StatusNotFound)
	})
	counter := metrics.HTTPRequests.WithLabelValues(http.MethodGet, "GET /api/v1/trucks/{id}", "404")
	before := testutil.ToFloat64(counter)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/trucks/9", nil))

	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("counter moved by %v", got)
	}
	out := buf.String()
	for _, want := range []string{`"msg":"HTTP request completed"`, `"status_code":404`, `"level":"WARN"`, `"route":"GET /api/v1/trucks/{id}"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %s:\n%s", want, out)
		}
	}
}

func TestResponseWriterKeepsFirstStatus(t *testing.T) {
	rw := &responseWriter{ResponseWriter: httptest.NewRecorder(), statusCode: http.StatusOK}
	rw.WriteHeader(http.StatusCreated)
	rw.WriteHeader(http.StatusInternalServerError)
	if rw.statusCode != http.StatusCreated {
		t.Errorf("status = %d", rw.statusCode)
	}
}

func TestGenerateRequestIDUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := GenerateRequestID()
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}
