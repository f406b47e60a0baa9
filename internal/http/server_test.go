package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"frota/internal/aggregate"
	"frota/internal/core"
	"frota/internal/live"
	"frota/internal/middleware/ratelimit"
	"frota/internal/services"
	"frota/internal/store"
	"frota/internal/store/memory"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T, sessions bool) (*Server, *memory.Store) {
	t.Helper()
	st := memory.New()
	fleet := services.NewFleetService(st, nil, nil)
	var reg *live.Registry
	if sessions {
		reg = live.NewRegistry(st, 4, time.Minute, nil)
		t.Cleanup(reg.Close)
	}
	srv := NewServer(Config{
		Addr:      ":0",
		JWTSecret: testSecret,
		RateLimit: ratelimit.Config{RequestsPerSecond: 1000, Burst: 1000},
	}, fleet, reg, nil)
	t.Cleanup(func() { srv.limiter.Stop() })
	return srv, st
}

func token(t *testing.T, srv *Server, account string) string {
	t.Helper()
	tok, err := srv.Authenticator().IssueToken(account, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func do(t *testing.T, srv *Server, method, path, tok, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

const (
	truckBody  = `{"plate":"abc1d23","brand":"Volvo","model":"FH 540","year":2021,"status":"active","mileage":150000}`
	driverBody = `{"name":"João Silva","cpf":"12345678901","cnhNumber":"123","cnhCategory":"E","cnhExpiry":"2027-01-01","status":"active"}`
)

func TestHealthAndMetricsAreOpen(t *testing.T) {
	srv, _ := newTestServer(t, false)
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rr := do(t, srv, http.MethodGet, path, "", "")
		if rr.Code != http.StatusOK {
			t.Errorf("%s status=%d", path, rr.Code)
		}
	}
	rr := do(t, srv, http.MethodGet, "/healthz", "", "")
	if rr.Header().Get("X-Request-ID") == "" || rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Errorf("middleware headers missing: %v", rr.Header())
	}
}

type unreachableStore struct{ store.Store }

func (unreachableStore) Ping(context.Context) error {
	return core.NewStoreError("ping", "", errors.New("connection refused"))
}

func TestReady(t *testing.T) {
	tests := []struct {
		name       string
		store      store.Store
		wantCode   int
		wantStatus string
	}{
		{"store answers", memory.New(), http.StatusOK, "ready"},
		{"store unreachable", unreachableStore{memory.New()}, http.StatusServiceUnavailable, "not_ready"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(Config{
				Addr:      ":0",
				JWTSecret: testSecret,
				RateLimit: ratelimit.Config{RequestsPerSecond: 1000, Burst: 1000},
			}, services.NewFleetService(tt.store, nil, nil), nil, nil)
			t.Cleanup(func() { srv.limiter.Stop() })

			rr := do(t, srv, http.MethodGet, "/readyz", "", "")
			if rr.Code != tt.wantCode {
				t.Fatalf("status=%d, want %d: %s", rr.Code, tt.wantCode, rr.Body)
			}
			body := decode[struct {
				Status string            `json:"status"`
				Checks map[string]string `json:"checks"`
			}](t, rr)
			if body.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tt.wantStatus)
			}
			if tt.wantCode == http.StatusOK && body.Checks["store"] != "ok" {
				t.Errorf("store check = %q", body.Checks["store"])
			}
		})
	}
}

func TestAuthRequired(t *testing.T) {
	srv, _ := newTestServer(t, false)

	noSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	otherSecret, _ := NewAuthenticator("other", "").IssueToken("acct", time.Hour)
	expired, _ := srv.Authenticator().IssueToken("acct", -time.Minute)

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"garbage", "not.a.jwt", http.StatusUnauthorized},
		{"wrong secret", otherSecret, http.StatusUnauthorized},
		{"expired", expired, http.StatusUnauthorized},
		{"no subject", noSubject, http.StatusUnauthorized},
		{"valid", token(t, srv, "acct"), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodGet, "/api/v1/trucks", tt.token, "")
			if rr.Code != tt.want {
				t.Fatalf("status=%d want %d body=%s", rr.Code, tt.want, rr.Body.String())
			}
			if tt.want == http.StatusUnauthorized {
				if body := decode[map[string]string](t, rr); body["error"] == "" {
					t.Errorf("error body missing: %s", rr.Body.String())
				}
			}
		})
	}
}

func TestTruckCRUD(t *testing.T) {
	srv, _ := newTestServer(t, false)
	tok := token(t, srv, "acct")

	rr := do(t, srv, http.MethodPost, "/api/v1/trucks", tok, truckBody)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", rr.Code, rr.Body.String())
	}
	truck := decode[core.Truck](t, rr)
	if truck.ID == "" || truck.Plate != "ABC1D23" {
		t.Fatalf("unexpected truck %+v", truck)
	}

	rr = do(t, srv, http.MethodGet, "/api/v1/trucks", tok, "")
	if list := decode[[]core.Truck](t, rr); len(list) != 1 {
		t.Fatalf("list = %d trucks", len(list))
	}

	rr = do(t, srv, http.MethodPatch, "/api/v1/trucks/"+truck.ID, tok, `{"mileage":151000,"color":"branco"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("patch status=%d body=%s", rr.Code, rr.Body.String())
	}
	if got := decode[core.Truck](t, rr); got.Mileage != 151000 || got.Color != "branco" || got.Brand != "Volvo" {
		t.Errorf("patch result %+v", got)
	}

	rr = do(t, srv, http.MethodDelete, "/api/v1/trucks/"+truck.ID, tok, "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d", rr.Code)
	}
	rr = do(t, srv, http.MethodGet, "/api/v1/trucks/"+truck.ID, tok, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("get after delete status=%d", rr.Code)
	}
}

func TestAccountIsolation(t *testing.T) {
	srv, _ := newTestServer(t, false)
	if rr := do(t, srv, http.MethodPost, "/api/v1/trucks", token(t, srv, "a"), truckBody); rr.Code != http.StatusCreated {
		t.Fatalf("create status=%d", rr.Code)
	}
	rr := do(t, srv, http.MethodGet, "/api/v1/trucks", token(t, srv, "b"), "")
	if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Fatalf("other account sees %s", rr.Body.String())
	}
}

func TestTripLifecycleOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t, false)
	tok := token(t, srv, "acct")

	truck := decode[core.Truck](t, do(t, srv, http.MethodPost, "/api/v1/trucks", tok, truckBody))
	driver := decode[core.Driver](t, do(t, srv, http.MethodPost, "/api/v1/drivers", tok, driverBody))

	tripBody := `{"truckId":"` + truck.ID + `","driverId":"` + driver.ID +
		`","startLocation":"Campinas","startKm":150000,"startDate":"2024-06-14","startTime":"08:00"}`
	rr := do(t, srv, http.MethodPost, "/api/v1/trips", tok, tripBody)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create trip status=%d body=%s", rr.Code, rr.Body.String())
	}
	trip := decode[core.Trip](t, rr)

	rr = do(t, srv, http.MethodPost, "/api/v1/trips/"+trip.ID+"/complete", tok, `{"endKm":149000}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("backwards reading status=%d", rr.Code)
	}

	complete := `{"endLocation":"Santos","endKm":150500,"endDate":"2024-06-15","endTime":"18:00","fuelLiters":"200"}`
	rr = do(t, srv, http.MethodPost, "/api/v1/trips/"+trip.ID+"/complete", tok, complete)
	if rr.Code != http.StatusOK {
		t.Fatalf("complete status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = do(t, srv, http.MethodPost, "/api/v1/trips/"+trip.ID+"/complete", tok, complete)
	if rr.Code != http.StatusConflict {
		t.Fatalf("second completion status=%d", rr.Code)
	}

	view := decode[services.TripView](t, do(t, srv, http.MethodGet, "/api/v1/trips/"+trip.ID+"/metrics", tok, ""))
	if view.Metrics.KmTraveled != 500 || view.Metrics.FuelConsumption.String() != "0.4" {
		t.Errorf("metrics %+v", view.Metrics)
	}
	if got := decode[core.Truck](t, do(t, srv, http.MethodGet, "/api/v1/trucks/"+truck.ID, tok, "")); got.Mileage != 150500 {
		t.Errorf("truck mileage %d", got.Mileage)
	}

	rr = do(t, srv, http.MethodGet, "/api/v1/trips?truckId=other", tok, "")
	if strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Errorf("filtered list %s", rr.Body.String())
	}
}

func TestErrorMapping(t *testing.T) {
	srv, _ := newTestServer(t, false)
	tok := token(t, srv, "acct")
	if rr := do(t, srv, http.MethodPost, "/api/v1/drivers", tok, driverBody); rr.Code != http.StatusCreated {
		t.Fatalf("seed driver status=%d", rr.Code)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"malformed json", http.MethodPost, "/api/v1/trucks", `{"plate":`, http.StatusBadRequest},
		{"empty body", http.MethodPost, "/api/v1/trucks", "", http.StatusBadRequest},
		{"failed validation", http.MethodPost, "/api/v1/trucks", `{"plate":"x"}`, http.StatusBadRequest},
		{"duplicate cpf", http.MethodPost, "/api/v1/drivers", driverBody, http.StatusConflict},
		{"unknown id", http.MethodGet, "/api/v1/rentals/missing", "", http.StatusNotFound},
		{"complete unknown", http.MethodPost, "/api/v1/rentals/missing/complete", `{"finalHours":"10"}`, http.StatusNotFound},
		{"empty patch", http.MethodPatch, "/api/v1/trucks/x", `{}`, http.StatusBadRequest},
		{"unknown report", http.MethodGet, "/api/v1/reports/nope", "", http.StatusBadRequest},
		{"bad report format", http.MethodGet, "/api/v1/reports/fleet?format=pdf", "", http.StatusBadRequest},
		{"clear without confirm", http.MethodDelete, "/api/v1/backup", "", http.StatusBadRequest},
		{"wrong method", http.MethodPut, "/api/v1/trucks", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, tt.method, tt.path, tok, tt.body)
			if rr.Code != tt.want {
				t.Fatalf("status=%d want %d body=%s", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
}

func TestDashboardAndReports(t *testing.T) {
	srv, _ := newTestServer(t, false)
	tok := token(t, srv, "acct")
	do(t, srv, http.MethodPost, "/api/v1/trucks", tok, truckBody)
	today := time.Now().UTC().Format("2006-01-02")
	tx := `{"type":"receita","description":"Frete SP","amount":"5000","date":"` + today + `","category":"Frete"}`
	if rr := do(t, srv, http.MethodPost, "/api/v1/transactions", tok, tx); rr.Code != http.StatusCreated {
		t.Fatalf("create tx status=%d body=%s", rr.Code, rr.Body.String())
	}

	d := decode[aggregate.Dashboard](t, do(t, srv, http.MethodGet, "/api/v1/dashboard?period=30d", tok, ""))
	if d.Trucks != 1 || d.Totals.Revenue.String() != "5000" {
		t.Errorf("dashboard %+v", d)
	}

	series := decode[services.FinanceSeries](t, do(t, srv, http.MethodGet, "/api/v1/finance/series?period=6m", tok, ""))
	if len(series.Monthly) != 6 {
		t.Errorf("monthly buckets = %d", len(series.Monthly))
	}

	month := decode[aggregate.Totals](t, do(t, srv, http.MethodGet, "/api/v1/finance/month", tok, ""))
	if month.Revenue.String() != "5000" {
		t.Errorf("month totals %+v", month)
	}

	cats := decode[map[string][]string](t, do(t, srv, http.MethodGet, "/api/v1/categories", tok, ""))
	if len(cats["receita"]) != 4 || len(cats["despesa"]) != 9 {
		t.Errorf("categories %v", cats)
	}

	rr := do(t, srv, http.MethodGet, "/api/v1/reports/fleet?format=csv", tok, "")
	if rr.Code != http.StatusOK || !strings.HasPrefix(rr.Header().Get("Content-Type"), "text/csv") {
		t.Fatalf("csv status=%d type=%s", rr.Code, rr.Header().Get("Content-Type"))
	}
	if !strings.Contains(rr.Body.String(), "ABC1D23") || !strings.Contains(rr.Body.String(), ";") {
		t.Errorf("csv body %s", rr.Body.String())
	}

	rr = do(t, srv, http.MethodGet, "/api/v1/reports/finance", tok, "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"kind":"finance"`) {
		t.Errorf("json report status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestBackupOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t, false)
	tok := token(t, srv, "acct")
	truck := decode[core.Truck](t, do(t, srv, http.MethodPost, "/api/v1/trucks", tok, truckBody))

	rr := do(t, srv, http.MethodGet, "/api/v1/backup?format=yaml", tok, "")
	if rr.Code != http.StatusOK || rr.Header().Get("Content-Type") != "application/yaml" {
		t.Fatalf("export status=%d type=%s", rr.Code, rr.Header().Get("Content-Type"))
	}
	if !strings.Contains(rr.Header().Get("Content-Disposition"), ".yaml") {
		t.Errorf("disposition %q", rr.Header().Get("Content-Disposition"))
	}
	yamlBackup := rr.Body.String()

	rr = do(t, srv, http.MethodDelete, "/api/v1/backup?confirm=true", tok, "")
	if got := decode[map[string]int](t, rr); got["deleted"] != 1 {
		t.Fatalf("clear result %v", got)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/backup", strings.NewReader(yamlBackup))
	req.Header.Set("Content-Type", "application/yaml")
	req.Header.Set("Authorization", "Bearer "+tok)
	rr = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	if got := decode[map[string]int](t, rr); got["imported"] != 1 {
		t.Fatalf("import result %v (%s)", got, rr.Body.String())
	}

	if got := decode[core.Truck](t, do(t, srv, http.MethodGet, "/api/v1/trucks/"+truck.ID, tok, "")); got.Plate != "ABC1D23" {
		t.Errorf("restored truck %+v", got)
	}

	rr = do(t, srv, http.MethodPost, "/api/v1/backup", tok, `{"version":99,"records":{}}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("future version status=%d", rr.Code)
	}
}

func TestLiveDisabled(t *testing.T) {
	srv, _ := newTestServer(t, false)
	rr := do(t, srv, http.MethodGet, "/api/v1/live", token(t, srv, "acct"), "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestLiveWebsocket(t *testing.T) {
	srv, _ := newTestServer(t, true)
	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()
	tok := token(t, srv, "acct")

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/live?access_token=" + tok
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first liveFrame
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("first frame: %v", err)
	}
	if first.Type != "dashboard" || first.Dashboard.Trucks != 0 {
		t.Fatalf("first frame %+v", first)
	}

	if rr := do(t, srv, http.MethodPost, "/api/v1/trucks", tok, truckBody); rr.Code != http.StatusCreated {
		t.Fatalf("create status=%d", rr.Code)
	}
	for {
		var frame liveFrame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("waiting for update: %v", err)
		}
		if frame.Dashboard.Trucks == 1 {
			if frame.Version <= first.Version {
				t.Errorf("version did not advance: %d -> %d", first.Version, frame.Version)
			}
			break
		}
	}

	if err := conn.WriteJSON(liveRequest{Type: "filter", TruckID: "none"}); err != nil {
		t.Fatalf("send filter: %v", err)
	}
	var filtered liveFrame
	if err := conn.ReadJSON(&filtered); err != nil {
		t.Fatalf("filtered frame: %v", err)
	}
	if filtered.Type != "dashboard" {
		t.Errorf("filtered frame %+v", filtered)
	}
}
