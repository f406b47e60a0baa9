package http

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"frota/internal/core"
	"frota/internal/filter"
)

func TestParseCriteria(t *testing.T) {
	tests := []struct {
		name  string
		query url.Values
		want  filter.Criteria
	}{
		{
			name:  "all values provided",
			query: url.Values{"period": {"30d"}, "truckId": {"t1"}, "driverId": {"d1"}, "tripId": {"tr1"}, "rentalId": {"r1"}},
			want:  filter.Criteria{Period: filter.Last30Days, TruckID: "t1", DriverID: "d1", TripID: "tr1", RentalID: "r1"},
		},
		{
			name:  "empty query reads as all",
			query: url.Values{},
			want:  filter.Criteria{Period: filter.AllTime},
		},
		{
			name:  "unknown period reads as all",
			query: url.Values{"period": {"2w"}},
			want:  filter.Criteria{Period: filter.AllTime},
		},
		{
			name:  "values are trimmed and control characters dropped",
			query: url.Values{"truckId": {"  t1\x00 "}},
			want:  filter.Criteria{Period: filter.AllTime, TruckID: "t1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseCriteria(tt.query); got != tt.want {
				t.Errorf("ParseCriteria() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid object", `{"plate":"ABC1D23"}`, false},
		{"empty body", "", true},
		{"whitespace only", "  \n", true},
		{"malformed", `{"plate":`, true},
		{"wrong type", `{"plate":12}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var v core.Truck
			err := DecodeJSON(httptest.NewRecorder(), req, &v)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, core.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestDecodePatch(t *testing.T) {
	req := httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(`{"hours":1500.75,"model":"  320D\u0001 "}`))
	patch, err := DecodePatch(httptest.NewRecorder(), req)
	if err != nil {
		t.Fatal(err)
	}
	if got := patch["hours"]; got == nil || got.(interface{ String() string }).String() != "1500.75" {
		t.Errorf("hours = %#v, want literal 1500.75", got)
	}
	if patch["model"] != "320D" {
		t.Errorf("model = %q", patch["model"])
	}

	for _, body := range []string{"", "{}", "[1,2]", "null"} {
		req := httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(body))
		if _, err := DecodePatch(httptest.NewRecorder(), req); !errors.Is(err, core.ErrValidation) {
			t.Errorf("body %q: expected validation error, got %v", body, err)
		}
	}
}

func TestDecodeJSONRejectsLargeBodies(t *testing.T) {
	big := `{"plate":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(big))
	var v core.Truck
	if err := DecodeJSON(httptest.NewRecorder(), req, &v); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestWantsFormat(t *testing.T) {
	tests := []struct {
		name   string
		target string
		accept string
		want   string
	}{
		{"default", "/", "", "json"},
		{"query", "/?format=CSV", "", "csv"},
		{"accept header", "/", "text/csv", "csv"},
		{"unknown query", "/?format=pdf", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			req.Header.Set("Accept", tt.accept)
			if got := wantsFormat(req, "json", "csv"); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
